package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

// ensureTestMode keeps tests off shared infrastructure: no scheduler loop and
// an in-process lock backend unless a test opts in.
func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
		if os.Getenv("LOCK_BACKEND") == "" {
			_ = os.Setenv("LOCK_BACKEND", "memory")
		}
		if os.Getenv("SCHEDULER_ENABLED") == "" {
			_ = os.Setenv("SCHEDULER_ENABLED", "false")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
