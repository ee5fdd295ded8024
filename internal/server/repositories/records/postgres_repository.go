package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/telehealth/internal/common"
	"github.com/dmitrijs2005/telehealth/internal/dbx"
	"github.com/dmitrijs2005/telehealth/internal/server/models"
)

const selectRecord = `SELECT r.id, r.patient_id, p.name, r.doctor_id, d.name, r.type, r.file_name, r.file_key,
		r.mime_type, r.description, r.is_encrypted, r.current_version, r.created_at, r.updated_at
	FROM medical_records r
	JOIN users p ON p.id = r.patient_id
	LEFT JOIN users d ON d.id = r.doctor_id
	`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.MedicalRecord, error) {
	rec := &models.MedicalRecord{Patient: &models.UserRef{}}
	var (
		doctorID, doctorName sql.NullString
		recType              string
	)

	err := s.Scan(&rec.ID, &rec.Patient.ID, &rec.Patient.Name, &doctorID, &doctorName, &recType,
		&rec.FileName, &rec.FileKey, &rec.MimeType, &rec.Description, &rec.IsEncrypted,
		&rec.CurrentVersion, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.Type = models.RecordType(recType)
	if doctorID.Valid {
		rec.Doctor = &models.UserRef{ID: doctorID.String, Name: doctorName.String}
	}
	return rec, nil
}

func (r *PostgresRepository) Create(ctx context.Context, rec *models.MedicalRecord) (*models.MedicalRecord, error) {

	query :=
		`INSERT INTO medical_records (id, patient_id, doctor_id, type, file_name, file_key, mime_type,
			description, is_encrypted, current_version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at, updated_at
		 `

	var doctorID sql.NullString
	if rec.Doctor != nil {
		doctorID = sql.NullString{String: rec.Doctor.ID, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query, rec.ID, rec.PatientID(), doctorID, string(rec.Type),
		rec.FileName, rec.FileKey, rec.MimeType, rec.Description, rec.IsEncrypted, rec.CurrentVersion).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return rec, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.MedicalRecord, error) {
	return r.get(ctx, selectRecord+`WHERE r.id = $1`, id)
}

func (r *PostgresRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.MedicalRecord, error) {
	return r.get(ctx, selectRecord+`WHERE r.id = $1 FOR UPDATE OF r`, id)
}

func (r *PostgresRepository) get(ctx context.Context, query, id string) (*models.MedicalRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: medical record %s", common.ErrorNotFound, id)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Update(ctx context.Context, rec *models.MedicalRecord, expectedVersion int) error {

	query :=
		`UPDATE medical_records
		 SET type = $2, file_name = $3, file_key = $4, mime_type = $5, description = $6,
			is_encrypted = $7, current_version = $8, updated_at = now()
		 WHERE id = $1 AND current_version = $9
		 RETURNING updated_at
		 `

	err := r.db.QueryRowContext(ctx, query, rec.ID, string(rec.Type), rec.FileName, rec.FileKey,
		rec.MimeType, rec.Description, rec.IsEncrypted, rec.CurrentVersion, expectedVersion).Scan(&rec.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: medical record %s is no longer at version %d", common.ErrVersionConflict, rec.ID, expectedVersion)
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM medical_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: medical record %s", common.ErrorNotFound, id)
	}

	return nil
}

func ownerFilter(userID string, role models.Role) (string, []any) {
	switch role {
	case models.RoleAdmin:
		return "", nil
	case models.RoleDoctor:
		return `WHERE r.doctor_id = $1 `, []any{userID}
	default:
		return `WHERE r.patient_id = $1 `, []any{userID}
	}
}

func (r *PostgresRepository) ListForUser(ctx context.Context, userID string, role models.Role, p models.Pagination) ([]*models.MedicalRecord, int, error) {
	where, args := ownerFilter(userID, role)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM medical_records r `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	n := len(args)
	query := selectRecord + where + fmt.Sprintf(`ORDER BY r.created_at DESC, r.id LIMIT $%d OFFSET $%d`, n+1, n+2)
	args = append(args, p.Limit, p.Offset())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.MedicalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("db error: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	return out, total, nil
}

func (r *PostgresRepository) ReferencedKeys(ctx context.Context) ([]string, error) {

	query :=
		`SELECT file_key FROM medical_records
		 UNION
		 SELECT file_key FROM medical_record_versions
		 `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return keys, nil
}
