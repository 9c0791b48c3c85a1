package redis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/execution"
)

// unlockLua deletes a lock key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager takes all-or-nothing locks on pool and token resources so that
// two engine processes never execute overlapping routes.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c, unlockSc: redis.NewScript(unlockLua)}
}

var _ execution.Locker = (*LockManager)(nil)

// Acquire locks every key with SETNX under one token. If any key is held
// elsewhere the keys taken so far are released and domain.ErrResourceBusy is
// returned. The returned unlock is safe to call more than once.
func (lm *LockManager) Acquire(ctx context.Context, keys []string, ttl time.Duration) (func(), error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	token := uuid.New().String()
	held := make([]string, 0, len(sorted))

	for _, k := range sorted {
		lk := lm.c.key("lock", k)
		ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
		if err != nil {
			lm.release(held, token)
			return nil, fmt.Errorf("redis: acquire lock %s: %w", k, err)
		}
		if !ok {
			lm.release(held, token)
			return nil, domain.ErrResourceBusy
		}
		held = append(held, lk)
	}

	var once sync.Once
	return func() { once.Do(func() { lm.release(held, token) }) }, nil
}

func (lm *LockManager) release(lockKeys []string, token string) {
	if len(lockKeys) == 0 {
		return
	}
	// the caller's context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, lk := range lockKeys {
		_ = lm.unlockSc.Run(ctx, lm.c.rdb, []string{lk}, token).Err()
	}
}
