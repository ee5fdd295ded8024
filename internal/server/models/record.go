package models

import "time"

// RecordType classifies a medical record.
type RecordType string

const (
	RecordTypePrescription   RecordType = "prescription"
	RecordTypeLabReport      RecordType = "lab_report"
	RecordTypeMedicalHistory RecordType = "medical_history"
	RecordTypeOther          RecordType = "other"
)

func (t RecordType) Valid() bool {
	switch t {
	case RecordTypePrescription, RecordTypeLabReport, RecordTypeMedicalHistory, RecordTypeOther:
		return true
	}
	return false
}

// MedicalRecord is the live head of a record's history. FileKey always
// names the ciphertext of the current version.
type MedicalRecord struct {
	ID             string     `json:"id"`
	Patient        *UserRef   `json:"patient"`
	Doctor         *UserRef   `json:"doctor,omitempty"`
	Type           RecordType `json:"type"`
	FileName       string     `json:"fileName"`
	FileKey        string     `json:"fileKey"`
	MimeType       string     `json:"mimeType"`
	Description    string     `json:"description,omitempty"`
	IsEncrypted    bool       `json:"isEncrypted"`
	CurrentVersion int        `json:"currentVersion"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// DoctorID returns the assigned doctor's id or "" when there is none.
func (r *MedicalRecord) DoctorID() string {
	if r.Doctor == nil {
		return ""
	}
	return r.Doctor.ID
}

// PatientID returns the owning patient's id.
func (r *MedicalRecord) PatientID() string {
	if r.Patient == nil {
		return ""
	}
	return r.Patient.ID
}

// MedicalRecordVersion is an immutable snapshot of a record taken right
// before an update replaced it.
type MedicalRecordVersion struct {
	ID            string    `json:"id"`
	RecordID      string    `json:"recordId"`
	FileName      string    `json:"fileName"`
	FileKey       string    `json:"fileKey"`
	MimeType      string    `json:"mimeType"`
	Description   string    `json:"description,omitempty"`
	IsEncrypted   bool      `json:"isEncrypted"`
	ModifiedBy    *UserRef  `json:"modifiedBy"`
	ChangeReason  string    `json:"changeReason"`
	VersionNumber int       `json:"versionNumber"`
	CreatedAt     time.Time `json:"createdAt"`
}

// SnapshotVersion captures r as it is now, attributed to modifiedBy.
func SnapshotVersion(r *MedicalRecord, modifiedBy *UserRef, reason string) *MedicalRecordVersion {
	return &MedicalRecordVersion{
		RecordID:      r.ID,
		FileName:      r.FileName,
		FileKey:       r.FileKey,
		MimeType:      r.MimeType,
		Description:   r.Description,
		IsEncrypted:   r.IsEncrypted,
		ModifiedBy:    modifiedBy,
		ChangeReason:  reason,
		VersionNumber: r.CurrentVersion,
	}
}
