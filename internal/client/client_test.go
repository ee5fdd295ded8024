package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/telehealth/internal/common"
	"github.com/dmitrijs2005/telehealth/internal/logging"
	"github.com/dmitrijs2005/telehealth/internal/server/auth"
	gs "github.com/dmitrijs2005/telehealth/internal/server/grpc"
	"github.com/dmitrijs2005/telehealth/internal/server/models"
	"github.com/dmitrijs2005/telehealth/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const secret = "secret"

// memRecords keeps records in memory and enforces patient ownership.
type memRecords struct {
	gs.RecordService
	recs map[string]*services.RecordContent
}

func (m *memRecords) UploadRecord(ctx context.Context, f *services.FileUpload, in services.UploadInput, userID string, role models.Role) (*models.MedicalRecord, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: file is required", common.ErrorValidation)
	}
	rec := &models.MedicalRecord{
		ID:             fmt.Sprintf("r%d", len(m.recs)+1),
		Patient:        &models.UserRef{ID: userID},
		Type:           in.Type,
		FileName:       f.Name,
		CurrentVersion: 1,
	}
	m.recs[rec.ID] = &services.RecordContent{Record: rec, File: &services.FileContent{Name: f.Name, Data: f.Data}}
	return rec, nil
}

func (m *memRecords) GetRecord(ctx context.Context, id, userID string, role models.Role) (*services.RecordContent, error) {
	rc, ok := m.recs[id]
	if !ok {
		return nil, fmt.Errorf("%w: medical record %s", common.ErrorNotFound, id)
	}
	if rc.Record.PatientID() != userID {
		return nil, common.ErrorForbidden
	}
	return rc, nil
}

func (m *memRecords) DeleteRecord(ctx context.Context, id, userID string, role models.Role) error {
	if _, err := m.GetRecord(ctx, id, userID, role); err != nil {
		return err
	}
	delete(m.recs, id)
	return nil
}

func newClient(t *testing.T, userID string) *GRPCClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	srv := gs.NewGRPCServer("bufnet", logging.New("slog", io.Discard), &memRecords{recs: map[string]*services.RecordContent{}}, secret)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	token, err := auth.GenerateToken(userID, models.RolePatient, []byte(secret), time.Minute)
	require.NoError(t, err)

	c, err := New("passthrough:///bufnet", token,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }))
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Close()
		cancel()
		<-done
	})
	return c
}

func TestClient_UploadGetDelete(t *testing.T) {
	c := newClient(t, "p1")
	ctx := context.Background()

	rec, err := c.UploadRecord(ctx, &gs.File{Name: "a.txt", Data: []byte("hello")}, models.RecordTypeOther, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.CurrentVersion)

	rc, err := c.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(rc.File.Data))

	require.NoError(t, c.DeleteRecord(ctx, rec.ID))

	_, err = c.GetRecord(ctx, rec.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestClient_ErrorMapping(t *testing.T) {
	c := newClient(t, "p1")
	ctx := context.Background()

	_, err := c.UploadRecord(ctx, nil, models.RecordTypeOther, "", "")
	assert.ErrorIs(t, err, common.ErrorValidation)

	rec, err := c.UploadRecord(ctx, &gs.File{Name: "a", Data: []byte("x")}, models.RecordTypeOther, "", "")
	require.NoError(t, err)

	c.SetAccessToken("")
	_, err = c.GetRecord(ctx, rec.ID)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	other, err := auth.GenerateToken("p2", models.RolePatient, []byte(secret), time.Minute)
	require.NoError(t, err)
	c.SetAccessToken(other)
	_, err = c.GetRecord(ctx, rec.ID)
	assert.ErrorIs(t, err, common.ErrorForbidden)
}
