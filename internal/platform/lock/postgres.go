package lock

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	tryLeaseSQL    = `SELECT pg_try_advisory_lock($1::int, $2::int)`
	unlockLeaseSQL = `SELECT pg_advisory_unlock($1::int, $2::int)`
)

// PostgresLocker uses session-level advisory locks. The lease pins one pooled
// connection until released because the lock belongs to that session.
type PostgresLocker struct {
	pool *pgxpool.Pool
}

// NewPostgresLocker constructs a PostgresLocker.
func NewPostgresLocker(pool *pgxpool.Pool) *PostgresLocker {
	return &PostgresLocker{pool: pool}
}

// TryAcquire runs pg_try_advisory_lock(ClassLease, Key(name)) on a dedicated
// connection.
func (l *PostgresLocker) TryAcquire(ctx context.Context, name string) (Lease, bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("lock: acquire conn: %w", err)
	}
	key := Key(name)
	var ok bool
	if err := conn.QueryRow(ctx, tryLeaseSQL, ClassLease, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("lock: try advisory lock %s: %w", name, err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return &postgresLease{conn: conn, key: key, name: name}, true, nil
}

type postgresLease struct {
	conn *pgxpool.Conn
	key  int32
	name string
}

func (l *postgresLease) Release(ctx context.Context) error {
	defer l.conn.Release()
	var released bool
	if err := l.conn.QueryRow(ctx, unlockLeaseSQL, ClassLease, l.key).Scan(&released); err != nil {
		return fmt.Errorf("lock: advisory unlock %s: %w", l.name, err)
	}
	if !released {
		return ErrNotHeld
	}
	return nil
}
