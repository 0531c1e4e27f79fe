package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/lock"
)

func TestNewLockerSelectsBackend(t *testing.T) {
	locker, err := NewLocker(&Config{LockBackend: LockBackendMemory}, nil, nil)
	require.NoError(t, err)
	require.IsType(t, &lock.MemoryLocker{}, locker)

	_, err = NewLocker(&Config{LockBackend: LockBackendRedis}, nil, nil)
	require.Error(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker, err = NewLocker(&Config{LockBackend: LockBackendRedis}, nil, client)
	require.NoError(t, err)
	lease, ok, err := locker.TryAcquire(context.Background(), "scheduled_task:accruals.run_due_daily")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, lease.Release(context.Background()))

	require.NoError(t, PingRedis(client).Ping(context.Background()))
	mr.Close()
	require.Error(t, PingRedis(client).Ping(context.Background()))
}
