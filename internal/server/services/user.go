package services

import (
	"context"
	"database/sql"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/dmitrijs2005/telehealth/internal/common"
	"github.com/dmitrijs2005/telehealth/internal/dbx"
	"github.com/dmitrijs2005/telehealth/internal/server/auth"
	"github.com/dmitrijs2005/telehealth/internal/server/config"
	"github.com/dmitrijs2005/telehealth/internal/server/models"
	"github.com/dmitrijs2005/telehealth/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"github.com/hengadev/errsx"
)

// UserService provisions accounts and mints access tokens for them.
// Authentication itself happens upstream; tokens only carry identity
// and role.
type UserService struct {
	db                          *sql.DB
	repomanager                 repomanager.RepositoryManager
	jwtSecret                   []byte
	accessTokenValidityDuration time.Duration
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *UserService {
	return &UserService{
		db:                          db,
		repomanager:                 m,
		jwtSecret:                   []byte(cfg.SecretKey),
		accessTokenValidityDuration: cfg.AccessTokenValidityDuration,
	}
}

// Register creates a user with the given role.
func (s *UserService) Register(ctx context.Context, name, email string, role models.Role) (*models.User, error) {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)

	var errs errsx.Map
	if name == "" {
		errs.Set("name", "name is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		errs.Set("email", "invalid email address")
	}
	if !role.Valid() {
		errs.Set("role", fmt.Sprintf("unknown role %q", role))
	}
	if err := validationError(errs); err != nil {
		return nil, err
	}

	u, err := s.repomanager.Users(s.db).Create(ctx, &models.User{Name: name, Email: email, Role: role})
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: email %s already registered", common.ErrorValidation, email)
		}
		return nil, fmt.Errorf("error creating user: %v", err)
	}
	return u, nil
}

// IssueToken returns a signed access token for an existing user.
func (s *UserService) IssueToken(ctx context.Context, userID string) (string, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return "", fmt.Errorf("%w: user %s", common.ErrorNotFound, userID)
	}

	u, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return "", err
	}

	token, err := auth.GenerateToken(u.ID, u.Role, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return "", common.ErrorInternal
	}
	return token, nil
}
