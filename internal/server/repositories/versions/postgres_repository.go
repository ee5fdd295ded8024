package versions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/telehealth/internal/common"
	"github.com/dmitrijs2005/telehealth/internal/dbx"
	"github.com/dmitrijs2005/telehealth/internal/server/models"
)

const selectVersion = `SELECT v.id, v.medical_record_id, v.file_name, v.file_key, v.mime_type, v.description,
		v.is_encrypted, v.modified_by_id, u.name, v.change_reason, v.version_number, v.created_at
	FROM medical_record_versions v
	JOIN users u ON u.id = v.modified_by_id
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

func scanVersion(s scanner) (*models.MedicalRecordVersion, error) {
	v := &models.MedicalRecordVersion{ModifiedBy: &models.UserRef{}}
	err := s.Scan(&v.ID, &v.RecordID, &v.FileName, &v.FileKey, &v.MimeType, &v.Description,
		&v.IsEncrypted, &v.ModifiedBy.ID, &v.ModifiedBy.Name, &v.ChangeReason, &v.VersionNumber, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *PostgresRepository) Create(ctx context.Context, v *models.MedicalRecordVersion) (*models.MedicalRecordVersion, error) {

	query :=
		`INSERT INTO medical_record_versions (id, medical_record_id, file_name, file_key, mime_type,
			description, is_encrypted, modified_by_id, change_reason, version_number)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at
		 `

	err := r.db.QueryRowContext(ctx, query, v.ID, v.RecordID, v.FileName, v.FileKey, v.MimeType,
		v.Description, v.IsEncrypted, v.ModifiedBy.ID, v.ChangeReason, v.VersionNumber).Scan(&v.CreatedAt)

	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: version %d of record %s already exists", common.ErrVersionConflict, v.VersionNumber, v.RecordID)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return v, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, recordID, versionID string) (*models.MedicalRecordVersion, error) {
	v, err := scanVersion(r.db.QueryRowContext(ctx,
		selectVersion+`WHERE v.id = $1 AND v.medical_record_id = $2`, versionID, recordID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: version %s of record %s", common.ErrorNotFound, versionID, recordID)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) ListByRecord(ctx context.Context, recordID string, p models.Pagination) ([]*models.MedicalRecordVersion, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM medical_record_versions WHERE medical_record_id = $1`, recordID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		selectVersion+`WHERE v.medical_record_id = $1 ORDER BY v.version_number DESC LIMIT $2 OFFSET $3`,
		recordID, p.Limit, p.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.MedicalRecordVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("db error: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	return out, total, nil
}

func (r *PostgresRepository) KeysByRecord(ctx context.Context, recordID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT file_key FROM medical_record_versions WHERE medical_record_id = $1`, recordID)
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
