// Package rest exposes the medical record service over HTTP with echo.
package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/telehealth/internal/logging"
	"github.com/dmitrijs2005/telehealth/internal/server/models"
	"github.com/dmitrijs2005/telehealth/internal/server/services"
	"github.com/labstack/echo/v4"
)

// RecordService is the subset of services.RecordService the handlers use.
type RecordService interface {
	UploadRecord(ctx context.Context, file *services.FileUpload, in services.UploadInput, userID string, role models.Role) (*models.MedicalRecord, error)
	FindAllForUser(ctx context.Context, userID string, role models.Role, p models.Pagination) (*models.Page[*models.MedicalRecord], error)
	GetRecord(ctx context.Context, id, userID string, role models.Role) (*services.RecordContent, error)
	UpdateRecord(ctx context.Context, id string, file *services.FileUpload, in services.UpdateInput, userID string, role models.Role) (*models.MedicalRecord, error)
	GetRecordVersions(ctx context.Context, id, userID string, role models.Role, p models.Pagination) (*models.Page[*models.MedicalRecordVersion], error)
	GetVersionContent(ctx context.Context, recordID, versionID, userID string, role models.Role) (*services.VersionContent, error)
	DeleteRecord(ctx context.Context, id, userID string, role models.Role) error
}

type Config struct {
	Address       string
	JWTSecret     []byte
	MaxUploadSize int64
}

type HTTPServer struct {
	address string
	echo    *echo.Echo
	logger  logging.Logger
}

func NewHTTPServer(cfg Config, svc RecordService, l logging.Logger) *HTTPServer {
	logger := l.With("module", "http_server")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(recovery(logger))
	e.Use(requestID())
	e.Use(requestLogger(logger))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	var limit int64
	if cfg.MaxUploadSize > 0 {
		// multipart framing adds a little on top of the file itself
		limit = cfg.MaxUploadSize + 1<<20
	}

	h := &recordHandler{svc: svc}
	g := e.Group("/api/medical-records", authenticate(cfg.JWTSecret), bodyLimit(limit))
	h.register(g)

	return &HTTPServer{address: cfg.Address, echo: e, logger: logger}
}

// Handler returns the router, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := s.echo.Start(s.address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
