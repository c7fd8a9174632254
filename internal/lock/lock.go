// Package lock implements a Redis-backed distributed mutex guarding
// internal/config.Store.RefreshAll across replicas that share one repo
// tree: without it, N replicas each reacting to the same SIGHUP would
// hammer the same config files concurrently for no benefit. Grounded on
// the teacher's direct go-redis/v9 dependency (no committed lock file
// of its own — this is new domain logic written in the teacher's
// interface-wrapped-client style) and tested against the teacher's own
// miniredis double.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Unlock when the caller's token no longer
// matches the key's current holder (it expired and was reacquired by
// someone else).
var ErrNotHeld = errors.New("lock: not held by this token")

// releaseScript deletes key only if its value still matches the caller's
// token, so an expired-then-reacquired lock is never released out from
// under its new holder.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Client is the subset of *redis.Client this package needs, kept as an
// interface so callers can substitute a miniredis-backed client in
// tests without a network dependency.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Mutex is one named distributed lock.
type Mutex struct {
	client Client
	key    string
	ttl    time.Duration
}

// New constructs a Mutex over key with the given lease TTL. The lease is
// never renewed: it lapses after ttl whether or not Unlock was called, and
// calling Lock again while holding it waits for that lapse.
func New(client Client, key string, ttl time.Duration) *Mutex {
	return &Mutex{client: client, key: key, ttl: ttl}
}

// TryLock attempts to acquire the mutex once, non-blocking. It returns a
// token that must be passed to Unlock, and ok=false if someone else
// currently holds it.
func (m *Mutex) TryLock(ctx context.Context) (token string, ok bool, err error) {
	token = uuid.NewString()
	acquired, err := m.client.SetNX(ctx, m.key, token, m.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("lock: SETNX %s: %w", m.key, err)
	}
	return token, acquired, nil
}

// Lock blocks, polling every retryInterval, until the mutex is acquired
// or ctx is cancelled.
func (m *Mutex) Lock(ctx context.Context, retryInterval time.Duration) (token string, err error) {
	for {
		token, ok, err := m.TryLock(ctx)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Unlock releases the mutex, but only if token still matches the
// current holder.
func (m *Mutex) Unlock(ctx context.Context, token string) error {
	res, err := m.client.Eval(ctx, releaseScript, []string{m.key}, token).Result()
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", m.key, err)
	}
	n, _ := res.(int64)
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// WithLock acquires the mutex, runs fn, and always attempts to release
// it afterwards — the shape internal/config's RefreshAll caller uses to
// bracket a reload.
func WithLock(ctx context.Context, m *Mutex, retryInterval time.Duration, fn func()) error {
	token, err := m.Lock(ctx, retryInterval)
	if err != nil {
		return err
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Unlock(unlockCtx, token)
	}()
	fn()
	return nil
}
