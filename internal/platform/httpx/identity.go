package httpx

import (
	"net/http"

	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Identity returns the caller scope attached by the identity middleware.
func Identity(r *http.Request) (internalShared.Identity, error) {
	id, ok := internalShared.IdentityFromContext(r.Context())
	if !ok {
		return internalShared.Identity{}, ErrUnauthorized
	}
	return id, nil
}
