// Package records persists medical record heads.
package records

import (
	"context"

	"github.com/dmitrijs2005/telehealth/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, rec *models.MedicalRecord) (*models.MedicalRecord, error)
	GetByID(ctx context.Context, id string) (*models.MedicalRecord, error)
	// GetByIDForUpdate loads the record and row-locks it until the
	// surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*models.MedicalRecord, error)
	// Update writes rec if its stored current_version still equals
	// expectedVersion, otherwise it fails with common.ErrVersionConflict.
	Update(ctx context.Context, rec *models.MedicalRecord, expectedVersion int) error
	Delete(ctx context.Context, id string) error
	ListForUser(ctx context.Context, userID string, role models.Role, p models.Pagination) ([]*models.MedicalRecord, int, error)
	// ReferencedKeys returns every storage key a record or version points at.
	ReferencedKeys(ctx context.Context) ([]string, error)
}
