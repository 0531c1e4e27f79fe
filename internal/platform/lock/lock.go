// Package lock provides named, non-blocking mutual-exclusion leases derived
// from string keys. Backends: Postgres session advisory locks, Redis leases
// and an in-process table.
package lock

import (
	"context"
	"errors"
	"hash/fnv"
)

// ErrNotHeld is returned when releasing a lease that is no longer owned.
var ErrNotHeld = errors.New("lock: lease not held")

// Lease is a held lock. Release must be called exactly once.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out leases without blocking. ok is false when another holder
// owns the name.
type Locker interface {
	TryAcquire(ctx context.Context, name string) (lease Lease, ok bool, err error)
}

// Advisory lock classes. Postgres keys are (class, key) pairs so leases and
// transaction locks never share a keyspace.
const (
	ClassLease      int32 = 1
	ClassAccrualRun int32 = 2
)

// Key maps a lock name to the signed 32-bit FNV-1a value used as the advisory
// lock key.
func Key(name string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int32(h.Sum32())
}
