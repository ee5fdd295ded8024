// Package versions persists the immutable history of medical records.
package versions

import (
	"context"

	"github.com/dmitrijs2005/telehealth/internal/server/models"
)

type Repository interface {
	// Create inserts a snapshot. A duplicate version number for the same
	// record fails with common.ErrVersionConflict.
	Create(ctx context.Context, v *models.MedicalRecordVersion) (*models.MedicalRecordVersion, error)
	GetByID(ctx context.Context, recordID, versionID string) (*models.MedicalRecordVersion, error)
	ListByRecord(ctx context.Context, recordID string, p models.Pagination) ([]*models.MedicalRecordVersion, int, error)
	KeysByRecord(ctx context.Context, recordID string) ([]string, error)
}
