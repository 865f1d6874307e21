// internal/lock/lock_test.go
package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewManager(rdb), mr
}

func TestAcquireRelease(t *testing.T) {
	m, mr := setup(t)
	ctx := context.Background()

	token, err := m.Acquire(ctx, "lowcard:lock:room1", 30*time.Second)
	require.NoError(t, err)
	require.Len(t, token, 16, "token should be 16 hex chars")
	assert.True(t, mr.Exists("lowcard:lock:room1"))

	released, err := m.Release(ctx, "lowcard:lock:room1", token)
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("lowcard:lock:room1"), "release with matching token should free the slot")
}

func TestAcquireContention(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()

	first, err := m.Acquire(ctx, "lowcard:joinlock:room1", 15*time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := m.Acquire(ctx, "lowcard:joinlock:room1", 15*time.Second)
	require.NoError(t, err)
	assert.Empty(t, second, "second acquire should fail while lock is held")
}

func TestReleaseWrongTokenKeepsLock(t *testing.T) {
	// Two-party race: A acquires, its TTL expires, B acquires. A's deferred
	// release must not delete B's lock.
	m, mr := setup(t)
	ctx := context.Background()

	tokenA, err := m.Acquire(ctx, "lowcard:drawlock:room1", time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, tokenA)

	mr.FastForward(2 * time.Second)

	tokenB, err := m.Acquire(ctx, "lowcard:drawlock:room1", 15*time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, tokenB)

	released, err := m.Release(ctx, "lowcard:drawlock:room1", tokenA)
	require.NoError(t, err)
	assert.False(t, released, "stale holder must not release the new lock")
	assert.True(t, mr.Exists("lowcard:drawlock:room1"))

	released, err = m.Release(ctx, "lowcard:drawlock:room1", tokenB)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestAcquireWithRetrySucceedsAfterExpiry(t *testing.T) {
	m, mr := setup(t)
	ctx := context.Background()

	tokenA, err := m.Acquire(ctx, "lowcard:joinlock:room1", 50*time.Millisecond)
	require.NoError(t, err)
	require.NotEmpty(t, tokenA)

	done := make(chan string, 1)
	go func() {
		token, _ := m.AcquireWithRetry(ctx, "lowcard:joinlock:room1", 15*time.Second, 5, 100*time.Millisecond)
		done <- token
	}()

	// Let a retry cycle pass, then expire the first holder.
	time.Sleep(150 * time.Millisecond)
	mr.FastForward(time.Second)

	select {
	case token := <-done:
		assert.NotEmpty(t, token, "retry should acquire once the first holder expired")
	case <-time.After(2 * time.Second):
		t.Fatal("AcquireWithRetry did not return")
	}
}

func TestAcquireWithRetryExhausted(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()

	tokenA, err := m.Acquire(ctx, "lowcard:joinlock:room1", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, tokenA)

	token, err := m.AcquireWithRetry(ctx, "lowcard:joinlock:room1", 15*time.Second, 3, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, token)
}
