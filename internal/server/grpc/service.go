package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/telehealth/internal/common"
	"github.com/dmitrijs2005/telehealth/internal/server/auth"
	"github.com/dmitrijs2005/telehealth/internal/server/models"
	"github.com/dmitrijs2005/telehealth/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "telehealth.records.MedicalRecordService"

// RecordService is the subset of services.RecordService exposed over gRPC.
type RecordService interface {
	UploadRecord(ctx context.Context, file *services.FileUpload, in services.UploadInput, userID string, role models.Role) (*models.MedicalRecord, error)
	FindAllForUser(ctx context.Context, userID string, role models.Role, p models.Pagination) (*models.Page[*models.MedicalRecord], error)
	GetRecord(ctx context.Context, id, userID string, role models.Role) (*services.RecordContent, error)
	UpdateRecord(ctx context.Context, id string, file *services.FileUpload, in services.UpdateInput, userID string, role models.Role) (*models.MedicalRecord, error)
	GetRecordVersions(ctx context.Context, id, userID string, role models.Role, p models.Pagination) (*models.Page[*models.MedicalRecordVersion], error)
	GetVersionContent(ctx context.Context, recordID, versionID, userID string, role models.Role) (*services.VersionContent, error)
	DeleteRecord(ctx context.Context, id, userID string, role models.Role) error
}

type File struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

func (f *File) upload() *services.FileUpload {
	if f == nil {
		return nil
	}
	return &services.FileUpload{Name: f.Name, MimeType: f.MimeType, Data: f.Data}
}

type UploadRecordRequest struct {
	File        *File  `json:"file"`
	Type        string `json:"type"`
	Description string `json:"description"`
	PatientID   string `json:"patientId"`
}

type ListRecordsRequest struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type GetRecordRequest struct {
	ID string `json:"id"`
}

type UpdateRecordRequest struct {
	ID           string  `json:"id"`
	File         *File   `json:"file,omitempty"`
	Type         *string `json:"type,omitempty"`
	Description  *string `json:"description,omitempty"`
	ChangeReason string  `json:"changeReason"`
}

type GetRecordVersionsRequest struct {
	ID    string `json:"id"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

type GetVersionContentRequest struct {
	RecordID  string `json:"recordId"`
	VersionID string `json:"versionId"`
}

type DeleteRecordRequest struct {
	ID string `json:"id"`
}

type DeleteRecordResponse struct{}

// pagination fills zero page or limit with the defaults, since JSON
// requests cannot tell an omitted field from zero.
func pagination(page, limit int) models.Pagination {
	p := models.DefaultPagination()
	if page != 0 {
		p.Page = page
	}
	if limit != 0 {
		p.Limit = limit
	}
	return p
}

// toStatus maps service errors onto gRPC status codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrorValidation):
		code = codes.InvalidArgument
	case errors.Is(err, common.ErrorUnauthorized):
		code = codes.Unauthenticated
	case errors.Is(err, common.ErrorForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, common.ErrorNotFound):
		code = codes.NotFound
	case errors.Is(err, common.ErrVersionConflict):
		code = codes.Aborted
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

func caller(ctx context.Context) (auth.Identity, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return auth.Identity{}, status.Error(codes.Unauthenticated, "missing token")
	}
	return id, nil
}

func (s *GRPCServer) UploadRecord(ctx context.Context, req *UploadRecordRequest) (*models.MedicalRecord, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	in := services.UploadInput{Type: models.RecordType(req.Type), Description: req.Description, PatientID: req.PatientID}
	rec, err := s.records.UploadRecord(ctx, req.File.upload(), in, id.UserID, id.Role)
	return rec, toStatus(err)
}

func (s *GRPCServer) ListRecords(ctx context.Context, req *ListRecordsRequest) (*models.Page[*models.MedicalRecord], error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	page, err := s.records.FindAllForUser(ctx, id.UserID, id.Role, pagination(req.Page, req.Limit))
	return page, toStatus(err)
}

func (s *GRPCServer) GetRecord(ctx context.Context, req *GetRecordRequest) (*services.RecordContent, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	rc, err := s.records.GetRecord(ctx, req.ID, id.UserID, id.Role)
	return rc, toStatus(err)
}

func (s *GRPCServer) UpdateRecord(ctx context.Context, req *UpdateRecordRequest) (*models.MedicalRecord, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	in := services.UpdateInput{Description: req.Description, ChangeReason: req.ChangeReason}
	if req.Type != nil {
		t := models.RecordType(*req.Type)
		in.Type = &t
	}
	rec, err := s.records.UpdateRecord(ctx, req.ID, req.File.upload(), in, id.UserID, id.Role)
	return rec, toStatus(err)
}

func (s *GRPCServer) GetRecordVersions(ctx context.Context, req *GetRecordVersionsRequest) (*models.Page[*models.MedicalRecordVersion], error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	page, err := s.records.GetRecordVersions(ctx, req.ID, id.UserID, id.Role, pagination(req.Page, req.Limit))
	return page, toStatus(err)
}

func (s *GRPCServer) GetVersionContent(ctx context.Context, req *GetVersionContentRequest) (*services.VersionContent, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	vc, err := s.records.GetVersionContent(ctx, req.RecordID, req.VersionID, id.UserID, id.Role)
	return vc, toStatus(err)
}

func (s *GRPCServer) DeleteRecord(ctx context.Context, req *DeleteRecordRequest) (*DeleteRecordResponse, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.records.DeleteRecord(ctx, req.ID, id.UserID, id.Role); err != nil {
		return nil, toStatus(err)
	}
	return &DeleteRecordResponse{}, nil
}

// unary adapts a typed method to grpc.MethodDesc, the way generated code does.
func unary[Req any, Resp any](name string, call func(*GRPCServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*GRPCServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary("UploadRecord", (*GRPCServer).UploadRecord),
		unary("ListRecords", (*GRPCServer).ListRecords),
		unary("GetRecord", (*GRPCServer).GetRecord),
		unary("UpdateRecord", (*GRPCServer).UpdateRecord),
		unary("GetRecordVersions", (*GRPCServer).GetRecordVersions),
		unary("GetVersionContent", (*GRPCServer).GetVersionContent),
		unary("DeleteRecord", (*GRPCServer).DeleteRecord),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "telehealth/records.json",
}
