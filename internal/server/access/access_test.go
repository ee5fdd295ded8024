package access

import (
	"testing"

	"github.com/dmitrijs2005/telehealth/internal/common"
	"github.com/dmitrijs2005/telehealth/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanAccess(t *testing.T) {
	withDoctor := &models.MedicalRecord{Patient: &models.UserRef{ID: "p1"}, Doctor: &models.UserRef{ID: "d1"}}
	selfUpload := &models.MedicalRecord{Patient: &models.UserRef{ID: "p1"}}

	tests := []struct {
		name string
		rec  *models.MedicalRecord
		user string
		role models.Role
		want bool
	}{
		{"owning patient", withDoctor, "p1", models.RolePatient, true},
		{"other patient", withDoctor, "p2", models.RolePatient, false},
		{"assigned doctor", withDoctor, "d1", models.RoleDoctor, true},
		{"other doctor", withDoctor, "d2", models.RoleDoctor, false},
		{"doctor id but patient role", withDoctor, "d1", models.RolePatient, false},
		{"doctor on self upload", selfUpload, "d1", models.RoleDoctor, false},
		{"admin not involved", withDoctor, "a1", models.RoleAdmin, false},
		{"empty user", selfUpload, "", models.RoleDoctor, false},
		{"nil record", nil, "p1", models.RolePatient, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanAccess(tt.rec, tt.user, tt.role))
		})
	}
}

func TestCheck(t *testing.T) {
	rec := &models.MedicalRecord{Patient: &models.UserRef{ID: "p1"}}
	assert.NoError(t, Check(rec, "p1", models.RolePatient))
	assert.ErrorIs(t, Check(rec, "p2", models.RolePatient), common.ErrorForbidden)
}

func TestResolveUploadPatient(t *testing.T) {
	got, err := ResolveUploadPatient(models.RoleDoctor, "d1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got)

	_, err = ResolveUploadPatient(models.RoleDoctor, "d1", "")
	assert.ErrorIs(t, err, common.ErrorValidation)

	got, err = ResolveUploadPatient(models.RolePatient, "p1", "")
	require.NoError(t, err)
	assert.Equal(t, "p1", got)

	got, err = ResolveUploadPatient(models.RolePatient, "p1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got)

	_, err = ResolveUploadPatient(models.RolePatient, "p1", "p2")
	assert.ErrorIs(t, err, common.ErrorValidation)

	_, err = ResolveUploadPatient(models.RoleAdmin, "a1", "p1")
	assert.ErrorIs(t, err, common.ErrorForbidden)
}
