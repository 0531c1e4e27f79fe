package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	ledger "github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// IdempotencyStore persists processed request keys per module.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = fmt.Errorf("%w: idempotent request already processed", ledger.ErrConflict)

// CheckAndInsert claims key for module, failing with ErrIdempotencyConflict
// when it was claimed before.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return ledger.Invalid("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, s.now().UTC())
	if _, ok := db.ConstraintViolation(err, db.CodeUniqueViolation); ok {
		return ErrIdempotencyConflict
	}
	return err
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete releases a key, typically after the guarded work failed.
func (s *IdempotencyStore) Delete(ctx context.Context, key, module string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1 AND module=$2`, key, module)
	return err
}
