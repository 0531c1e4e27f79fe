package shared

import (
	"context"

	"github.com/google/uuid"
)

// Identity is the authenticated caller scope: every ledger operation runs
// inside one organization on behalf of one user.
type Identity struct {
	OrganizationID uuid.UUID
	UserID         uuid.UUID
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok && id.OrganizationID != uuid.Nil && id.UserID != uuid.Nil
}
