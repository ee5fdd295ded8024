package auth

import (
	"context"

	"github.com/dmitrijs2005/telehealth/internal/server/models"
)

type ctxKey string

const identityKey ctxKey = "identity"

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID string
	Role   models.Role
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.UserID != ""
}
