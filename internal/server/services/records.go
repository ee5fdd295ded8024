// Package services contains server-side business logic. RecordService
// coordinates the cipher, the blob store, and the repositories for every
// medical-record operation; it is the only component that touches all three.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/telehealth/internal/blobstore"
	"github.com/dmitrijs2005/telehealth/internal/common"
	"github.com/dmitrijs2005/telehealth/internal/dbx"
	"github.com/dmitrijs2005/telehealth/internal/logging"
	"github.com/dmitrijs2005/telehealth/internal/server/access"
	"github.com/dmitrijs2005/telehealth/internal/server/models"
	"github.com/dmitrijs2005/telehealth/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"github.com/hengadev/errsx"
)

// Cipher is the encryption contract RecordService depends on.
type Cipher interface {
	Encrypt(plaintext []byte) (ciphertext, iv []byte, err error)
	Decrypt(ciphertext, iv []byte) ([]byte, error)
}

// FileUpload is a file received from a client.
type FileUpload struct {
	Name     string
	MimeType string
	Data     []byte
}

// FileContent is a decrypted file ready to be returned to a client.
type FileContent struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type UploadInput struct {
	Type        models.RecordType
	Description string
	PatientID   string
}

// UpdateInput carries optional changes. Nil pointers and empty values leave
// fields as they are.
type UpdateInput struct {
	Type         *models.RecordType
	Description  *string
	ChangeReason string
}

func (in *UpdateInput) normalize() {
	if in.Type != nil && *in.Type == "" {
		in.Type = nil
	}
	if in.Description != nil && *in.Description == "" {
		in.Description = nil
	}
}

type RecordContent struct {
	Record *models.MedicalRecord `json:"record"`
	File   *FileContent          `json:"file"`
}

type VersionContent struct {
	Version *models.MedicalRecordVersion `json:"version"`
	File    *FileContent                 `json:"file"`
}

// RecordOptions tunes RecordService behavior.
type RecordOptions struct {
	MaxUploadSize int64
	// PruneSupersededBlobs deletes the previous ciphertext once an update
	// that replaces the file has committed. Content of the versions that
	// referenced it becomes unreadable. Servers enable it unless
	// configured to retain history files.
	PruneSupersededBlobs bool
}

type RecordService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cipher      Cipher
	store       blobstore.Store
	opts        RecordOptions
	logger      logging.Logger
	newID       func() string
}

func NewRecordService(db *sql.DB, m repomanager.RepositoryManager, c Cipher, s blobstore.Store,
	opts RecordOptions, l logging.Logger) *RecordService {
	return &RecordService{
		db:          db,
		repomanager: m,
		cipher:      c,
		store:       s,
		opts:        opts,
		logger:      l.With("module", "record_service"),
		newID:       uuid.NewString,
	}
}

var errFileUnavailable = fmt.Errorf("%w: file not found or corrupted", common.ErrorNotFound)

// storageKey builds a fresh, never reused key for a file named name.
func (s *RecordService) storageKey(name string) string {
	base := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return '_'
		}
		return r
	}, filepath.Base(strings.ReplaceAll(name, `\`, "/")))

	if base == "" || base == "." || base == ".." {
		base = "file"
	}
	if strings.HasSuffix(base, blobstore.MetadataSuffix) {
		base += "_"
	}
	return s.newID() + "-" + base
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (s *RecordService) validateFile(errs *errsx.Map, f *FileUpload, required bool) {
	switch {
	case f == nil:
		if required {
			errs.Set("file", "file is required")
		}
	case len(f.Data) == 0:
		errs.Set("file", "file is empty")
	case s.opts.MaxUploadSize > 0 && int64(len(f.Data)) > s.opts.MaxUploadSize:
		errs.Set("file", fmt.Sprintf("file exceeds %d bytes", s.opts.MaxUploadSize))
	}
}

func validationError(errs errsx.Map) error {
	if errs.IsEmpty() {
		return nil
	}
	return fmt.Errorf("%w: %v", common.ErrorValidation, errs.AsError())
}

// encryptAndStore writes f under a fresh key and returns the key.
func (s *RecordService) encryptAndStore(ctx context.Context, f *FileUpload) (string, error) {
	ciphertext, iv, err := s.cipher.Encrypt(f.Data)
	if err != nil {
		return "", fmt.Errorf("%w: encrypt: %v", common.ErrorInternal, err)
	}

	key := s.storageKey(f.Name)
	if err := s.store.Put(ctx, key, ciphertext, blobstore.Metadata{IV: iv}); err != nil {
		if !errors.Is(err, common.ErrorStorage) {
			err = fmt.Errorf("%w: %v", common.ErrorStorage, err)
		}
		return "", err
	}
	return key, nil
}

// readFile loads and decrypts key. Every failure is reported as not found.
func (s *RecordService) readFile(ctx context.Context, key, name, mimeType string) (*FileContent, error) {
	ciphertext, meta, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn(ctx, "stored file unavailable", "key", key, "error", err)
		return nil, errFileUnavailable
	}

	plain, err := s.cipher.Decrypt(ciphertext, meta.IV)
	if err != nil {
		s.logger.Error(ctx, "stored file failed to decrypt", "key", key, "error", err)
		return nil, errFileUnavailable
	}

	return &FileContent{Name: name, MimeType: mimeType, Data: plain}, nil
}

// loadAccessible fetches a record through db and checks the caller may use it.
func (s *RecordService) loadAccessible(ctx context.Context, db dbx.DBTX, id, userID string, role models.Role, forUpdate bool) (*models.MedicalRecord, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: medical record %s", common.ErrorNotFound, id)
	}

	repo := s.repomanager.Records(db)
	var (
		rec *models.MedicalRecord
		err error
	)
	if forUpdate {
		rec, err = repo.GetByIDForUpdate(ctx, id)
	} else {
		rec, err = repo.GetByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	if err := access.Check(rec, userID, role); err != nil {
		return nil, err
	}
	return rec, nil
}

// UploadRecord encrypts and stores a new file and creates its record at
// version 1. Doctors upload on behalf of a patient; patients for themselves.
func (s *RecordService) UploadRecord(ctx context.Context, file *FileUpload, in UploadInput, userID string, role models.Role) (*models.MedicalRecord, error) {
	var errs errsx.Map
	s.validateFile(&errs, file, true)
	if !in.Type.Valid() {
		errs.Set("type", fmt.Sprintf("unknown record type %q", in.Type))
	}
	if err := validationError(errs); err != nil {
		return nil, err
	}

	patientID, err := access.ResolveUploadPatient(role, userID, in.PatientID)
	if err != nil {
		return nil, err
	}

	users := s.repomanager.Users(s.db)
	actor, err := users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	patient := actor
	if patientID != userID {
		if !validID(patientID) {
			return nil, fmt.Errorf("%w: patient %s", common.ErrorNotFound, patientID)
		}
		if patient, err = users.GetByID(ctx, patientID); err != nil {
			return nil, err
		}
	}
	if patient.Role != models.RolePatient {
		return nil, fmt.Errorf("%w: user %s is not a patient", common.ErrorValidation, patient.ID)
	}

	key, err := s.encryptAndStore(ctx, file)
	if err != nil {
		return nil, err
	}

	rec := &models.MedicalRecord{
		ID:             s.newID(),
		Patient:        patient.Ref(),
		Type:           in.Type,
		FileName:       file.Name,
		FileKey:        key,
		MimeType:       file.MimeType,
		Description:    in.Description,
		IsEncrypted:    true,
		CurrentVersion: 1,
	}
	if role == models.RoleDoctor {
		rec.Doctor = actor.Ref()
	}

	rec, err = s.repomanager.Records(s.db).Create(ctx, rec)
	if err != nil {
		s.logger.Warn(ctx, "record insert failed, stored file is orphaned", "key", key, "error", err)
		return nil, err
	}

	s.logger.Info(ctx, "medical record uploaded", "record_id", rec.ID, "user_id", userID, "size", len(file.Data))
	return rec, nil
}

// FindAllForUser lists the records visible to the caller, newest first:
// a patient's own records, a doctor's assigned records, or all for admins.
func (s *RecordService) FindAllForUser(ctx context.Context, userID string, role models.Role, p models.Pagination) (*models.Page[*models.MedicalRecord], error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	items, total, err := s.repomanager.Records(s.db).ListForUser(ctx, userID, role, p)
	if err != nil {
		return nil, err
	}

	return models.NewPage(items, total, p), nil
}

// GetRecord returns the record with its decrypted current file.
func (s *RecordService) GetRecord(ctx context.Context, id, userID string, role models.Role) (*RecordContent, error) {
	rec, err := s.loadAccessible(ctx, s.db, id, userID, role, false)
	if err != nil {
		return nil, err
	}

	file, err := s.readFile(ctx, rec.FileKey, rec.FileName, rec.MimeType)
	if err != nil {
		return nil, err
	}

	return &RecordContent{Record: rec, File: file}, nil
}

// UpdateRecord snapshots the current state as a new version and applies
// the changes. A replacement file is stored before the transaction opens;
// the version insert and record update commit together or not at all.
func (s *RecordService) UpdateRecord(ctx context.Context, id string, file *FileUpload, in UpdateInput, userID string, role models.Role) (*models.MedicalRecord, error) {
	in.normalize()

	var errs errsx.Map
	if strings.TrimSpace(in.ChangeReason) == "" {
		errs.Set("changeReason", "change reason is required")
	}
	if in.Type != nil && !in.Type.Valid() {
		errs.Set("type", fmt.Sprintf("unknown record type %q", *in.Type))
	}
	s.validateFile(&errs, file, false)
	if err := validationError(errs); err != nil {
		return nil, err
	}

	if _, err := s.loadAccessible(ctx, s.db, id, userID, role, false); err != nil {
		return nil, err
	}

	actor, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var newKey string
	if file != nil {
		if newKey, err = s.encryptAndStore(ctx, file); err != nil {
			return nil, err
		}
	}

	var (
		updated    *models.MedicalRecord
		superseded string
	)
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		rec, err := s.loadAccessible(ctx, tx, id, userID, role, true)
		if err != nil {
			return err
		}
		expected := rec.CurrentVersion

		v := models.SnapshotVersion(rec, actor.Ref(), strings.TrimSpace(in.ChangeReason))
		v.ID = s.newID()
		if _, err := s.repomanager.Versions(tx).Create(ctx, v); err != nil {
			return err
		}

		if in.Type != nil {
			rec.Type = *in.Type
		}
		if in.Description != nil {
			rec.Description = *in.Description
		}
		if file != nil {
			superseded = rec.FileKey
			rec.FileName = file.Name
			rec.FileKey = newKey
			rec.MimeType = file.MimeType
			rec.IsEncrypted = true
		}
		rec.CurrentVersion = expected + 1

		if err := s.repomanager.Records(tx).Update(ctx, rec, expected); err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		if newKey != "" {
			s.logger.Warn(ctx, "update rolled back, stored file is orphaned", "record_id", id, "key", newKey, "error", err)
		}
		return nil, err
	}

	if superseded != "" && s.opts.PruneSupersededBlobs {
		s.store.Delete(ctx, superseded)
	}

	s.logger.Info(ctx, "medical record updated", "record_id", id, "user_id", userID, "version", updated.CurrentVersion)
	return updated, nil
}

// GetRecordVersions lists the record's history, newest version first.
func (s *RecordService) GetRecordVersions(ctx context.Context, id, userID string, role models.Role, p models.Pagination) (*models.Page[*models.MedicalRecordVersion], error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.loadAccessible(ctx, s.db, id, userID, role, false); err != nil {
		return nil, err
	}

	items, total, err := s.repomanager.Versions(s.db).ListByRecord(ctx, id, p)
	if err != nil {
		return nil, err
	}

	return models.NewPage(items, total, p), nil
}

// GetVersionContent returns a historical version with its decrypted file.
func (s *RecordService) GetVersionContent(ctx context.Context, recordID, versionID, userID string, role models.Role) (*VersionContent, error) {
	if _, err := s.loadAccessible(ctx, s.db, recordID, userID, role, false); err != nil {
		return nil, err
	}

	if !validID(versionID) {
		return nil, fmt.Errorf("%w: version %s", common.ErrorNotFound, versionID)
	}

	v, err := s.repomanager.Versions(s.db).GetByID(ctx, recordID, versionID)
	if err != nil {
		return nil, err
	}

	file, err := s.readFile(ctx, v.FileKey, v.FileName, v.MimeType)
	if err != nil {
		return nil, err
	}

	return &VersionContent{Version: v, File: file}, nil
}

// DeleteRecord removes the record and its history, then deletes every
// stored file they referenced. File cleanup never fails the call.
func (s *RecordService) DeleteRecord(ctx context.Context, id, userID string, role models.Role) error {
	if _, err := s.loadAccessible(ctx, s.db, id, userID, role, false); err != nil {
		return err
	}

	var keys []string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		rec, err := s.loadAccessible(ctx, tx, id, userID, role, true)
		if err != nil {
			return err
		}

		versionKeys, err := s.repomanager.Versions(tx).KeysByRecord(ctx, id)
		if err != nil {
			return err
		}

		if err := s.repomanager.Records(tx).Delete(ctx, id); err != nil {
			return err
		}

		keys = append([]string{rec.FileKey}, versionKeys...)
		return nil
	})
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok || k == "" {
			continue
		}
		seen[k] = struct{}{}
		s.store.Delete(ctx, k)
	}

	s.logger.Info(ctx, "medical record deleted", "record_id", id, "user_id", userID, "files", len(seen))
	return nil
}
