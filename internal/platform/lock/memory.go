package lock

import (
	"context"
	"sync"
)

// MemoryLocker is an in-process lease table keyed by Key(name). It only
// coordinates goroutines of a single process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[int32]struct{}
}

// NewMemoryLocker constructs an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[int32]struct{})}
}

// TryAcquire claims the slot for name when free.
func (l *MemoryLocker) TryAcquire(_ context.Context, name string) (Lease, bool, error) {
	key := Key(name)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	return &memoryLease{locker: l, key: key}, true, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    int32
	once   sync.Once
}

func (l *memoryLease) Release(context.Context) error {
	err := ErrNotHeld
	l.once.Do(func() {
		l.locker.mu.Lock()
		delete(l.locker.held, l.key)
		l.locker.mu.Unlock()
		err = nil
	})
	return err
}
