package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const renewTimeout = 5 * time.Second

// DefaultLeaseTTL bounds how long a crashed holder keeps a Redis lease.
const DefaultLeaseTTL = 10 * time.Minute

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker stores leases as SET NX PX keys holding a random token. A held
// lease is renewed every ttl/3 until released, so the ttl only bounds how long
// a crashed holder blocks others.
type RedisLocker struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	renewEvery time.Duration
}

// NewRedisLocker constructs a RedisLocker. A zero ttl uses DefaultLeaseTTL.
func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if prefix == "" {
		prefix = "odyssey:lock:"
	}
	renew := ttl / 3
	if renew <= 0 {
		renew = ttl
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, renewEvery: renew}
}

// WithRenewInterval overrides how often held leases are extended.
func (l *RedisLocker) WithRenewInterval(d time.Duration) *RedisLocker {
	if d > 0 {
		l.renewEvery = d
	}
	return l
}

// TryAcquire sets the lease key if absent.
func (l *RedisLocker) TryAcquire(ctx context.Context, name string) (Lease, bool, error) {
	key := fmt.Sprintf("%s%d", l.prefix, Key(name))
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock: redis setnx %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	lease := &redisLease{client: l.client, key: key, token: token, stop: make(chan struct{}), done: make(chan struct{})}
	go lease.keepAlive(l.ttl, l.renewEvery)
	return lease, true, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// keepAlive extends the key while this lease still owns it. It exits on
// Release or once the key has been lost to expiry.
func (l *redisLease) keepAlive(ttl, every time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), renewTimeout)
			n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("lock: redis unlock: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
