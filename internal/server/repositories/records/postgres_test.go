package records

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/telehealth/internal/common"
	"github.com/dmitrijs2005/telehealth/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordCols = []string{"id", "patient_id", "patient_name", "doctor_id", "doctor_name", "type", "file_name",
	"file_key", "mime_type", "description", "is_encrypted", "current_version", "created_at", "updated_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

func TestCreate_WithAndWithoutDoctor(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	rec := &models.MedicalRecord{
		ID: "r1", Patient: &models.UserRef{ID: "p1"}, Doctor: &models.UserRef{ID: "d1"},
		Type: models.RecordTypeLabReport, FileName: "cbc.pdf", FileKey: "k1", MimeType: "application/pdf",
		Description: "blood", IsEncrypted: true, CurrentVersion: 1,
	}
	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+medical_records`).
		WithArgs("r1", "p1", sql.NullString{String: "d1", Valid: true}, "lab_report", "cbc.pdf", "k1",
			"application/pdf", "blood", true, 1).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	got, err := repo.Create(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, now, got.CreatedAt)

	self := &models.MedicalRecord{ID: "r2", Patient: &models.UserRef{ID: "p1"}, Type: models.RecordTypeOther, CurrentVersion: 1}
	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+medical_records`).
		WithArgs("r2", "p1", sql.NullString{}, "other", "", "", "", "", false, 1).
		WillReturnError(errors.New("fk violation"))

	_, err = repo.Create(context.Background(), self)
	assert.ErrorContains(t, err, "db error: fk violation")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`(?s)FROM\s+medical_records\s+r.*WHERE\s+r\.id\s*=\s*\$1$`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(recordCols).
			AddRow("r1", "p1", "Ann", "d1", "Dr. Who", "prescription", "rx.pdf", "k1", "application/pdf", "", true, 3, now, now))

	rec, err := repo.GetByID(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", rec.Patient.Name)
	require.NotNil(t, rec.Doctor)
	assert.Equal(t, "d1", rec.Doctor.ID)
	assert.Equal(t, models.RecordTypePrescription, rec.Type)
	assert.Equal(t, 3, rec.CurrentVersion)

	mock.ExpectQuery(`(?s)FROM\s+medical_records`).
		WithArgs("r2").
		WillReturnRows(sqlmock.NewRows(recordCols).
			AddRow("r2", "p1", "Ann", nil, nil, "other", "x.txt", "k2", "text/plain", "", true, 1, now, now))

	rec, err = repo.GetByID(context.Background(), "r2")
	require.NoError(t, err)
	assert.Nil(t, rec.Doctor)

	mock.ExpectQuery(`(?s)FROM\s+medical_records`).WithArgs("nope").WillReturnError(sql.ErrNoRows)
	_, err = repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetByIDForUpdate_LocksRow(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`(?s)WHERE\s+r\.id\s*=\s*\$1\s+FOR\s+UPDATE\s+OF\s+r$`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(recordCols).
			AddRow("r1", "p1", "Ann", nil, nil, "other", "x.txt", "k1", "text/plain", "", true, 1, now, now))

	_, err := repo.GetByIDForUpdate(context.Background(), "r1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_OptimisticCheck(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	rec := &models.MedicalRecord{ID: "r1", Type: models.RecordTypeOther, FileName: "b.txt", FileKey: "k2",
		MimeType: "text/plain", Description: "new", IsEncrypted: true, CurrentVersion: 3}

	q := `(?s)^UPDATE\s+medical_records\s+SET.*is_encrypted\s*=\s*\$7.*WHERE\s+id\s*=\s*\$1\s+AND\s+current_version\s*=\s*\$9`
	mock.ExpectQuery(q).
		WithArgs("r1", "other", "b.txt", "k2", "text/plain", "new", true, 3, 2).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))
	require.NoError(t, repo.Update(context.Background(), rec, 2))

	mock.ExpectQuery(q).
		WithArgs("r1", "other", "b.txt", "k2", "text/plain", "new", true, 3, 2).
		WillReturnError(sql.ErrNoRows)
	assert.ErrorIs(t, repo.Update(context.Background(), rec, 2), common.ErrVersionConflict)

	mock.ExpectQuery(q).WillReturnError(errors.New("conn reset"))
	err := repo.Update(context.Background(), rec, 2)
	assert.ErrorContains(t, err, "db error")
	assert.NotErrorIs(t, err, common.ErrVersionConflict)
}

func TestDelete(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	q := `^DELETE\s+FROM\s+medical_records\s+WHERE\s+id\s*=\s*\$1$`

	mock.ExpectExec(q).WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), "r1"))

	mock.ExpectExec(q).WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Delete(context.Background(), "r1"), common.ErrorNotFound)

	mock.ExpectExec(q).WithArgs("r1").WillReturnError(errors.New("boom"))
	assert.ErrorContains(t, repo.Delete(context.Background(), "r1"), "db error")
}

func TestListForUser_RoleFilters(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		role      models.Role
		countQ    string
		listQ     string
		countArgs []driver.Value
	}{
		{"patient", models.RolePatient, `COUNT\(\*\)\s+FROM\s+medical_records\s+r\s+WHERE\s+r\.patient_id\s*=\s*\$1`,
			`WHERE\s+r\.patient_id\s*=\s*\$1\s+ORDER\s+BY\s+r\.created_at\s+DESC,\s*r\.id\s+LIMIT\s+\$2\s+OFFSET\s+\$3`, []driver.Value{"u1"}},
		{"doctor", models.RoleDoctor, `COUNT\(\*\)\s+FROM\s+medical_records\s+r\s+WHERE\s+r\.doctor_id\s*=\s*\$1`,
			`WHERE\s+r\.doctor_id\s*=\s*\$1\s+ORDER\s+BY\s+r\.created_at\s+DESC,\s*r\.id\s+LIMIT\s+\$2\s+OFFSET\s+\$3`, []driver.Value{"u1"}},
		{"admin", models.RoleAdmin, `COUNT\(\*\)\s+FROM\s+medical_records\s+r\s*$`,
			`LEFT\s+JOIN\s+users\s+d\s+ON\s+d\.id\s*=\s*r\.doctor_id\s+ORDER\s+BY\s+r\.created_at\s+DESC,\s*r\.id\s+LIMIT\s+\$1\s+OFFSET\s+\$2`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newRepoWithMock(t)

			count := mock.ExpectQuery(tt.countQ)
			if tt.countArgs != nil {
				count.WithArgs(tt.countArgs...)
			}
			count.WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(15))

			listArgs := append(append([]driver.Value{}, tt.countArgs...), 10, 10)
			mock.ExpectQuery(tt.listQ).
				WithArgs(listArgs...).
				WillReturnRows(sqlmock.NewRows(recordCols).
					AddRow("r11", "p1", "Ann", nil, nil, "other", "a", "k", "text/plain", "", true, 1, now, now))

			got, total, err := repo.ListForUser(context.Background(), "u1", tt.role, models.Pagination{Page: 2, Limit: 10})
			require.NoError(t, err)
			assert.Equal(t, 15, total)
			assert.Len(t, got, 1)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestListForUser_CountError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`COUNT`).WillReturnError(errors.New("boom"))

	_, _, err := repo.ListForUser(context.Background(), "u1", models.RolePatient, models.DefaultPagination())
	assert.ErrorContains(t, err, "db error")
}

func TestReferencedKeys(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`(?s)SELECT\s+file_key\s+FROM\s+medical_records\s+UNION\s+SELECT\s+file_key\s+FROM\s+medical_record_versions`).
		WillReturnRows(sqlmock.NewRows([]string{"file_key"}).AddRow("k1").AddRow("k2"))

	keys, err := repo.ReferencedKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, keys)
}
