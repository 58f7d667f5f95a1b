// Package lock provides short-lived named leases so that only one worker
// replica advances a community at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agora/governance/internal/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned when releasing a lease that expired or was taken
// over by another owner.
var ErrNotHeld = errors.New("lock not held")

type Locker interface {
	// TryAcquire returns ok=false without error when someone else holds key.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (lease *Lease, ok bool, err error)
}

type Lease struct {
	Key   string
	Token string

	release func(ctx context.Context) error
}

func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.release == nil {
		return nil
	}
	return l.release(ctx)
}

// RoundKey names the lease the round worker takes for a community.
func RoundKey(communityID int64) string {
	return fmt.Sprintf("round:%d", communityID)
}

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(redisURL string) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisLockerWithClient(client), nil
}

func NewRedisLockerWithClient(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "governor:"}
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + name
}

func (l *RedisLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	key := l.key(name)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{
		Key:   name,
		Token: token,
		release: func(ctx context.Context) error {
			n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
			if err != nil {
				return fmt.Errorf("release lock %s: %w", key, err)
			}
			if n == 0 {
				return ErrNotHeld
			}
			return nil
		},
	}, true, nil
}

func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// LocalLocker is an in-process Locker for single-replica deployments.
type LocalLocker struct {
	mu     sync.Mutex
	clock  clock.Clock
	leases map[string]localLease
}

type localLease struct {
	token   string
	expires time.Time
}

func NewLocalLocker(c clock.Clock) *LocalLocker {
	if c == nil {
		c = clock.System{}
	}
	return &LocalLocker{clock: c, leases: map[string]localLease{}}
}

func (l *LocalLocker) TryAcquire(_ context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if held, ok := l.leases[name]; ok && now.Before(held.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.leases[name] = localLease{token: token, expires: now.Add(ttl)}
	return &Lease{
		Key:   name,
		Token: token,
		release: func(context.Context) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			held, ok := l.leases[name]
			if !ok || held.token != token || !l.clock.Now().Before(held.expires) {
				return ErrNotHeld
			}
			delete(l.leases, name)
			return nil
		},
	}, true, nil
}
