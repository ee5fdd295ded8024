package auth

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/telehealth/internal/server/models"
	"github.com/stretchr/testify/assert"
)

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{UserID: "u1", Role: models.RoleDoctor})
	id, ok := IdentityFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, Identity{UserID: "u1", Role: models.RoleDoctor}, id)

	_, ok = IdentityFromContext(WithIdentity(context.Background(), Identity{}))
	assert.False(t, ok)
}
