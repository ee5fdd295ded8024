package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/telehealth/internal/blobstore"
	"github.com/dmitrijs2005/telehealth/internal/common"
	"github.com/dmitrijs2005/telehealth/internal/dbx"
	"github.com/dmitrijs2005/telehealth/internal/server/models"
	"github.com/dmitrijs2005/telehealth/internal/server/repositories/records"
	"github.com/dmitrijs2005/telehealth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/telehealth/internal/server/repositories/users"
	"github.com/dmitrijs2005/telehealth/internal/server/repositories/versions"
)

// -------- test fakes --------

type memUsers struct {
	users.Repository
	byID map[string]*models.User
}

func (r *memUsers) Create(ctx context.Context, u *models.User) (*models.User, error) {
	cp := *u
	cp.CreatedAt = time.Now()
	r.byID[u.ID] = &cp
	return &cp, nil
}

func (r *memUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", common.ErrorNotFound, id)
	}
	cp := *u
	return &cp, nil
}

type memRecords struct {
	records.Repository
	mu        sync.Mutex
	byID      map[string]*models.MedicalRecord
	seq       int
	createErr error
	// conflict forces the next Update to lose the version race.
	conflict bool
}

func (r *memRecords) Create(ctx context.Context, rec *models.MedicalRecord) (*models.MedicalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.seq++
	cp := *rec
	cp.CreatedAt = time.Unix(int64(r.seq), 0)
	cp.UpdatedAt = cp.CreatedAt
	r.byID[rec.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memRecords) GetByID(ctx context.Context, id string) (*models.MedicalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: medical record %s", common.ErrorNotFound, id)
	}
	cp := *rec
	return &cp, nil
}

func (r *memRecords) GetByIDForUpdate(ctx context.Context, id string) (*models.MedicalRecord, error) {
	return r.GetByID(ctx, id)
}

func (r *memRecords) Update(ctx context.Context, rec *models.MedicalRecord, expected int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[rec.ID]
	if !ok || cur.CurrentVersion != expected || r.conflict {
		r.conflict = false
		return common.ErrVersionConflict
	}
	cp := *rec
	r.byID[rec.ID] = &cp
	return nil
}

func (r *memRecords) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("%w: medical record %s", common.ErrorNotFound, id)
	}
	delete(r.byID, id)
	return nil
}

func (r *memRecords) ListForUser(ctx context.Context, userID string, role models.Role, p models.Pagination) ([]*models.MedicalRecord, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*models.MedicalRecord
	for _, rec := range r.byID {
		switch {
		case role == models.RoleAdmin,
			role == models.RolePatient && rec.PatientID() == userID,
			role == models.RoleDoctor && rec.DoctorID() == userID:
			cp := *rec
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	lo := min(p.Offset(), total)
	hi := min(lo+p.Limit, total)
	return all[lo:hi], total, nil
}

func (r *memRecords) ReferencedKeys(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	for _, rec := range r.byID {
		keys = append(keys, rec.FileKey)
	}
	return keys, nil
}

type memVersions struct {
	versions.Repository
	list []*models.MedicalRecordVersion
}

func (r *memVersions) Create(ctx context.Context, v *models.MedicalRecordVersion) (*models.MedicalRecordVersion, error) {
	for _, x := range r.list {
		if x.RecordID == v.RecordID && x.VersionNumber == v.VersionNumber {
			return nil, common.ErrVersionConflict
		}
	}
	cp := *v
	cp.CreatedAt = time.Now()
	r.list = append(r.list, &cp)
	out := cp
	return &out, nil
}

func (r *memVersions) GetByID(ctx context.Context, recordID, versionID string) (*models.MedicalRecordVersion, error) {
	for _, v := range r.list {
		if v.ID == versionID && v.RecordID == recordID {
			cp := *v
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: version %s", common.ErrorNotFound, versionID)
}

func (r *memVersions) ListByRecord(ctx context.Context, recordID string, p models.Pagination) ([]*models.MedicalRecordVersion, int, error) {
	var out []*models.MedicalRecordVersion
	for _, v := range r.list {
		if v.RecordID == recordID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber > out[j].VersionNumber })
	total := len(out)
	lo := min(p.Offset(), total)
	hi := min(lo+p.Limit, total)
	return out[lo:hi], total, nil
}

func (r *memVersions) KeysByRecord(ctx context.Context, recordID string) ([]string, error) {
	var keys []string
	for _, v := range r.list {
		if v.RecordID == recordID {
			keys = append(keys, v.FileKey)
		}
	}
	return keys, nil
}

// dropRecord mimics the ON DELETE CASCADE from records to versions.
func (r *memVersions) dropRecord(recordID string) {
	kept := r.list[:0]
	for _, v := range r.list {
		if v.RecordID != recordID {
			kept = append(kept, v)
		}
	}
	r.list = kept
}

type cascadeRecords struct {
	*memRecords
	versions *memVersions
}

func (r cascadeRecords) Delete(ctx context.Context, id string) error {
	if err := r.memRecords.Delete(ctx, id); err != nil {
		return err
	}
	r.versions.dropRecord(id)
	return nil
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	u *memUsers
	r *memRecords
	v *memVersions
}

func newFakeRepoManager() *fakeRepoManager {
	r := &memRecords{byID: map[string]*models.MedicalRecord{}}
	return &fakeRepoManager{
		u: &memUsers{byID: map[string]*models.User{}},
		r: r,
		v: &memVersions{},
	}
}

func (m *fakeRepoManager) Users(db dbx.DBTX) users.Repository { return m.u }
func (m *fakeRepoManager) Records(db dbx.DBTX) records.Repository {
	return cascadeRecords{memRecords: m.r, versions: m.v}
}
func (m *fakeRepoManager) Versions(db dbx.DBTX) versions.Repository { return m.v }

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]blobstore.Metadata
	mod     map[string]time.Time
	putErr  error
	deleted []string
}

func newMemStore() *memStore {
	return &memStore{
		objects: map[string][]byte{},
		meta:    map[string]blobstore.Metadata{},
		mod:     map[string]time.Time{},
	}
}

func (s *memStore) Put(ctx context.Context, key string, data []byte, meta blobstore.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.objects[key] = append([]byte(nil), data...)
	s.meta[key] = meta
	s.mod[key] = time.Now()
	return nil
}

func (s *memStore) Get(ctx context.Context, key string) ([]byte, blobstore.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, blobstore.Metadata{}, fmt.Errorf("%w: object %s", common.ErrorNotFound, key)
	}
	return append([]byte(nil), data...), s.meta[key], nil
}

func (s *memStore) Delete(ctx context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	delete(s.meta, key)
	delete(s.mod, key)
	s.deleted = append(s.deleted, key)
}

func (s *memStore) List(ctx context.Context) ([]blobstore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]blobstore.ObjectInfo, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, blobstore.ObjectInfo{Key: k, Modified: s.mod[k]})
	}
	return out, nil
}

// -------- helpers --------

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}
