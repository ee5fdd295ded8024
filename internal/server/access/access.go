// Package access decides who may see or change a medical record.
package access

import (
	"fmt"

	"github.com/dmitrijs2005/telehealth/internal/common"
	"github.com/dmitrijs2005/telehealth/internal/server/models"
)

// CanAccess reports whether the caller may read, update, or delete rec:
// the record's patient, or a doctor assigned to it.
func CanAccess(rec *models.MedicalRecord, userID string, role models.Role) bool {
	if rec == nil || userID == "" {
		return false
	}
	if rec.PatientID() == userID {
		return true
	}
	return role == models.RoleDoctor && rec.DoctorID() == userID
}

// Check is CanAccess returning common.ErrorForbidden on denial.
func Check(rec *models.MedicalRecord, userID string, role models.Role) error {
	if !CanAccess(rec, userID, role) {
		return fmt.Errorf("%w: no access to this medical record", common.ErrorForbidden)
	}
	return nil
}

// ResolveUploadPatient returns the patient a new record belongs to.
// Doctors must name the patient; patients upload for themselves only.
func ResolveUploadPatient(role models.Role, userID, patientID string) (string, error) {
	switch role {
	case models.RoleDoctor:
		if patientID == "" {
			return "", fmt.Errorf("%w: patientId is required when a doctor uploads", common.ErrorValidation)
		}
		return patientID, nil
	case models.RolePatient:
		if patientID != "" && patientID != userID {
			return "", fmt.Errorf("%w: patients can only upload their own records", common.ErrorValidation)
		}
		return userID, nil
	default:
		return "", fmt.Errorf("%w: role %q cannot upload records", common.ErrorForbidden, role)
	}
}
