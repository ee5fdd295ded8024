package rest

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/telehealth/internal/common"
	"github.com/dmitrijs2005/telehealth/internal/server/auth"
	"github.com/dmitrijs2005/telehealth/internal/server/models"
	"github.com/dmitrijs2005/telehealth/internal/server/services"
	"github.com/labstack/echo/v4"
)

type recordHandler struct {
	svc RecordService
}

func (h *recordHandler) register(g *echo.Group) {
	g.POST("/upload", h.upload)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PATCH("/:id", h.update)
	g.GET("/:id/versions", h.versions)
	g.GET("/:recordId/versions/:versionId", h.versionContent)
	g.DELETE("/:id", h.delete)
}

func identity(c echo.Context) (auth.Identity, error) {
	id, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return auth.Identity{}, common.ErrorUnauthorized
	}
	return id, nil
}

// readFile returns the "file" form part, or nil when the request has none.
func readFile(c echo.Context) (*services.FileUpload, error) {
	fh, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: malformed file part: %v", common.ErrorValidation, err)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening uploaded file: %v", common.ErrorInternal, err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("%w: reading uploaded file: %v", common.ErrorInternal, err)
	}

	mimeType := fh.Header.Get(echo.HeaderContentType)
	if mimeType == "" {
		mimeType = echo.MIMEOctetStream
	}
	return &services.FileUpload{Name: fh.Filename, MimeType: mimeType, Data: data}, nil
}

// formValue reports whether the form carries key at all.
func formValue(c echo.Context, key string) (string, bool, error) {
	params, err := c.FormParams()
	if err != nil {
		return "", false, err
	}
	v, ok := params[key]
	if !ok || len(v) == 0 {
		return "", false, nil
	}
	return v[0], true, nil
}

// pagination reads page and limit, defaulting absent ones.
func pagination(c echo.Context) (models.Pagination, error) {
	p := models.DefaultPagination()
	for key, dst := range map[string]*int{"page": &p.Page, "limit": &p.Limit} {
		raw := c.QueryParam(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return p, fmt.Errorf("%w: %s must be an integer", common.ErrorValidation, key)
		}
		*dst = n
	}
	return p, nil
}

func (h *recordHandler) upload(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	file, err := readFile(c)
	if err != nil {
		return err
	}

	in := services.UploadInput{
		Type:        models.RecordType(c.FormValue("type")),
		Description: c.FormValue("description"),
		PatientID:   c.FormValue("patientId"),
	}

	rec, err := h.svc.UploadRecord(c.Request().Context(), file, in, id.UserID, id.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *recordHandler) list(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	p, err := pagination(c)
	if err != nil {
		return err
	}

	page, err := h.svc.FindAllForUser(c.Request().Context(), id.UserID, id.Role, p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (h *recordHandler) get(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	rc, err := h.svc.GetRecord(c.Request().Context(), c.Param("id"), id.UserID, id.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rc)
}

func (h *recordHandler) update(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	file, err := readFile(c)
	if err != nil {
		return err
	}

	var in services.UpdateInput
	if v, ok, err := formValue(c, "type"); err != nil {
		return fmt.Errorf("%w: %v", common.ErrorValidation, err)
	} else if ok {
		t := models.RecordType(v)
		in.Type = &t
	}
	if v, ok, _ := formValue(c, "description"); ok {
		in.Description = &v
	}
	in.ChangeReason, _, _ = formValue(c, "changeReason")

	rec, err := h.svc.UpdateRecord(c.Request().Context(), c.Param("id"), file, in, id.UserID, id.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *recordHandler) versions(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	p, err := pagination(c)
	if err != nil {
		return err
	}

	page, err := h.svc.GetRecordVersions(c.Request().Context(), c.Param("id"), id.UserID, id.Role, p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (h *recordHandler) versionContent(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	vc, err := h.svc.GetVersionContent(c.Request().Context(), c.Param("recordId"), c.Param("versionId"), id.UserID, id.Role)
	if err != nil {
		return err
	}

	mimeType := vc.File.MimeType
	if mimeType == "" {
		mimeType = echo.MIMEOctetStream
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": vc.File.Name}))
	return c.Blob(http.StatusOK, mimeType, vc.File.Data)
}

func (h *recordHandler) delete(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	if err := h.svc.DeleteRecord(c.Request().Context(), c.Param("id"), id.UserID, id.Role); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
