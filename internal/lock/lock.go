// internal/lock/lock.go
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a lock key only when it still holds the caller's
// token. Without the token check, a holder whose TTL already expired could
// delete a lock that a second party has since acquired.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Manager provides named mutexes over the keyed store. Every state-mutating
// operation on a game holds the appropriate lock for the whole mutation,
// because two replicas (or the timer poller racing a user command) can
// otherwise interleave reads and writes of the game snapshot.
type Manager struct {
	rdb *redis.Client
}

// NewManager builds a lock manager over the shared Redis client.
func NewManager(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb}
}

// Acquire attempts an atomic set-if-absent with TTL. On success it returns a
// random 16-hex token bound to the acquisition; on contention it returns "".
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	ok, err := m.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// AcquireWithRetry tries Acquire up to attempts times with a fixed delay
// between tries. It returns "" when every attempt found the lock held.
func (m *Manager) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, attempts int, delay time.Duration) (string, error) {
	for i := 0; i < attempts; i++ {
		token, err := m.Acquire(ctx, key, ttl)
		if err != nil {
			return "", err
		}
		if token != "" {
			return token, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", nil
}

// Release deletes the lock only if it still holds token. It reports whether
// the lock was actually released.
func (m *Manager) Release(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, m.rdb, []string{key}, token).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return n == 1, nil
}

func newToken() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
