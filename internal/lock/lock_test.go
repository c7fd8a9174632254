package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestTryLockExclusive(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	a := New(client, "refresh-all", time.Minute)
	b := New(client, "refresh-all", time.Minute)

	token, ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	require.False(t, ok, "second holder must not acquire an already-held lock")

	require.NoError(t, a.Unlock(ctx, token))

	_, ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok, "lock is acquirable again after release")
}

func TestUnlockRejectsStaleToken(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	m := New(client, "refresh-all", time.Minute)

	_, ok, err := m.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	err = m.Unlock(ctx, "not-the-real-token")
	require.ErrorIs(t, err, ErrNotHeld)
}

func TestWithLockRunsExactlyOnce(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	m := New(client, "refresh-all", time.Minute)

	calls := 0
	err := WithLock(ctx, m, 10*time.Millisecond, func() { calls++ })
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	token, ok, err := New(client, "refresh-all", time.Minute).TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok, "WithLock released the mutex after fn returned")
	require.NoError(t, New(client, "refresh-all", time.Minute).Unlock(ctx, token))
}
