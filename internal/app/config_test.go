package app

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("LOCK_BACKEND", "Redis ")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, LockBackendRedis, cfg.LockBackend)
	require.Equal(t, 5*time.Second, cfg.SchedulerPollInterval)
	require.Equal(t, 5, cfg.SchedulerBatchSize)
	require.Equal(t, 5, cfg.SchedulerMaxAttempts)
	require.Equal(t, "00:15", cfg.AccrualDailyAt)
	require.Equal(t, "23:30", cfg.AccrualPeriodEndAt)
	require.Equal(t, "00:30", cfg.AccrualReversalsAt)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigReadsEnvFileWithoutOverriding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.env")
	require.NoError(t, os.WriteFile(path, []byte("SCHEDULER_BATCH_SIZE=9\nACCRUAL_DAILY_AT=01:00\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Setenv("LOCK_BACKEND", "memory")
	t.Setenv("ACCRUAL_DAILY_AT", "02:45")
	os.Unsetenv("SCHEDULER_BATCH_SIZE")
	t.Cleanup(func() { os.Unsetenv("SCHEDULER_BATCH_SIZE") })

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 9, cfg.SchedulerBatchSize)
	require.Equal(t, "02:45", cfg.AccrualDailyAt)
}

func TestLoadConfigRejectsUnknownLockBackend(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("LOCK_BACKEND", "zookeeper")

	_, err := LoadConfig()
	require.ErrorContains(t, err, "LOCK_BACKEND")
}

func TestNewLoggerHonoursFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&Config{AppEnv: "production", LogFormat: "json"}, &buf).Info("ready")
	require.True(t, strings.HasPrefix(buf.String(), "{"))
	require.Contains(t, buf.String(), `"env":"production"`)

	buf.Reset()
	newLogger(&Config{AppEnv: "development"}, &buf).Debug("verbose")
	require.Contains(t, buf.String(), "level=DEBUG")
}

func TestInTestModeFollowsEnvironment(t *testing.T) {
	t.Setenv("ODYSSEY_TEST_MODE", "true")
	require.True(t, InTestMode())

	t.Setenv("ODYSSEY_TEST_MODE", "0")
	require.False(t, InTestMode())

	t.Setenv("ODYSSEY_TEST_MODE", "garbage")
	require.False(t, InTestMode())
}

func TestConnectionOptions(t *testing.T) {
	cfg := &Config{
		PGDSN:         "postgres://x@localhost/db",
		PGMaxConns:    4,
		RedisAddr:     "redis:6379",
		RedisPassword: "secret",
		RedisDB:       2,
	}

	pg := cfg.Postgres("worker")
	require.Equal(t, "odyssey-worker", pg.AppName)
	require.Equal(t, int32(4), pg.MaxConns)
	require.Equal(t, cfg.PGDSN, pg.DSN)

	require.Equal(t, "secret", cfg.Redis().Password)
	queue := cfg.Queue()
	require.Equal(t, "redis:6379", queue.Addr)
	require.Equal(t, 2, queue.DB)
}
