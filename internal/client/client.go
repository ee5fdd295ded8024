// Package client is a Go client for MedicalRecordService over gRPC.
//
// Calls are authenticated with a bearer token sent as access_token
// metadata. Errors come back as the common package sentinels, so callers
// can use errors.Is exactly as they would against the service itself.
package client

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/telehealth/internal/common"
	gs "github.com/dmitrijs2005/telehealth/internal/server/grpc"
	"github.com/dmitrijs2005/telehealth/internal/server/models"
	"github.com/dmitrijs2005/telehealth/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type GRPCClient struct {
	conn        *grpc.ClientConn
	accessToken string
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if s.accessToken != "" {
		ctx = withAccessToken(ctx, s.accessToken)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// New dials endpoint without TLS. Extra dial options are appended, e.g. a
// custom dialer in tests.
func New(endpoint, accessToken string, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{accessToken: accessToken}

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(gs.CodecName)),
	}, opts...)

	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

// SetAccessToken replaces the token used by later calls.
func (s *GRPCClient) SetAccessToken(token string) {
	s.accessToken = token
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

func (s *GRPCClient) invoke(ctx context.Context, method string, req, reply any) error {
	return s.mapError(s.conn.Invoke(ctx, "/"+gs.ServiceName+"/"+method, req, reply))
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	var sentinel error
	switch st.Code() {
	case codes.InvalidArgument:
		sentinel = common.ErrorValidation
	case codes.Unauthenticated:
		sentinel = common.ErrorUnauthorized
	case codes.PermissionDenied:
		sentinel = common.ErrorForbidden
	case codes.NotFound:
		sentinel = common.ErrorNotFound
	case codes.Aborted:
		sentinel = common.ErrVersionConflict
	case codes.Unavailable, codes.DeadlineExceeded:
		sentinel = ErrUnavailable
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}

func (s *GRPCClient) UploadRecord(ctx context.Context, file *gs.File, recordType models.RecordType, description, patientID string) (*models.MedicalRecord, error) {
	req := &gs.UploadRecordRequest{File: file, Type: string(recordType), Description: description, PatientID: patientID}
	var rec models.MedicalRecord
	if err := s.invoke(ctx, "UploadRecord", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GRPCClient) ListRecords(ctx context.Context, page, limit int) (*models.Page[*models.MedicalRecord], error) {
	var out models.Page[*models.MedicalRecord]
	if err := s.invoke(ctx, "ListRecords", &gs.ListRecordsRequest{Page: page, Limit: limit}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *GRPCClient) GetRecord(ctx context.Context, id string) (*services.RecordContent, error) {
	var out services.RecordContent
	if err := s.invoke(ctx, "GetRecord", &gs.GetRecordRequest{ID: id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *GRPCClient) UpdateRecord(ctx context.Context, req *gs.UpdateRecordRequest) (*models.MedicalRecord, error) {
	var rec models.MedicalRecord
	if err := s.invoke(ctx, "UpdateRecord", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GRPCClient) GetRecordVersions(ctx context.Context, id string, page, limit int) (*models.Page[*models.MedicalRecordVersion], error) {
	var out models.Page[*models.MedicalRecordVersion]
	req := &gs.GetRecordVersionsRequest{ID: id, Page: page, Limit: limit}
	if err := s.invoke(ctx, "GetRecordVersions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *GRPCClient) GetVersionContent(ctx context.Context, recordID, versionID string) (*services.VersionContent, error) {
	var out services.VersionContent
	req := &gs.GetVersionContentRequest{RecordID: recordID, VersionID: versionID}
	if err := s.invoke(ctx, "GetVersionContent", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *GRPCClient) DeleteRecord(ctx context.Context, id string) error {
	return s.invoke(ctx, "DeleteRecord", &gs.DeleteRecordRequest{ID: id}, &gs.DeleteRecordResponse{})
}
