package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// workerLockKey is the single lock token guarding queue draining.
const workerLockKey = "simplify:worker:lock"

// releaseLockScript deletes the lock only when the caller still holds it.
// Compare-and-delete must be atomic, so it runs as a Lua script.
const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// extendLockScript refreshes the TTL only when the caller still holds the lock.
const extendLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// WorkerLockRepo implements the cross-process worker mutex on Redis.
// The lock is an expiring token: acquisition is SET NX with a TTL equal to
// the staleness window, so a crashed holder is reclaimed automatically once
// the TTL lapses. Release and heartbeat verify the holder token to avoid
// deleting or extending a lock reclaimed by another process.
type WorkerLockRepo struct {
	client redis.UniversalClient
}

// NewWorkerLockRepo creates a new WorkerLockRepo with the given Redis client.
func NewWorkerLockRepo(client redis.UniversalClient) *WorkerLockRepo {
	return &WorkerLockRepo{client: client}
}

// Acquire attempts to take the worker lock with the given holder token and TTL.
// Returns true when the lock was taken, false when another holder owns it.
func (r *WorkerLockRepo) Acquire(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	if holder == "" {
		return false, errors.New("holder token cannot be empty")
	}
	if ttl <= 0 {
		ttl = time.Second
	}

	// SET with NX + TTL is atomic; SETNX followed by EXPIRE is not.
	cmd := r.client.SetArgs(ctx, workerLockKey, holder, redis.SetArgs{Mode: "NX", TTL: ttl})
	if _, err := cmd.Result(); err != nil {
		// NX not met (key exists) surfaces as redis.Nil; that is "not acquired", not an error.
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis SET NX: %w", err)
	}
	return true, nil
}

// Extend refreshes the lock TTL while the caller still holds it.
// Returns false when the lock has been lost.
func (r *WorkerLockRepo) Extend(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	if holder == "" {
		return false, errors.New("holder token cannot be empty")
	}

	res, err := r.client.Eval(ctx, extendLockScript, []string{workerLockKey}, holder, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extend worker lock: %w", err)
	}
	return res == 1, nil
}

// Release drops the lock when the caller still holds it.
// Returns false when the lock was already held by someone else or expired.
func (r *WorkerLockRepo) Release(ctx context.Context, holder string) (bool, error) {
	if holder == "" {
		return false, errors.New("holder token cannot be empty")
	}

	res, err := r.client.Eval(ctx, releaseLockScript, []string{workerLockKey}, holder).Int64()
	if err != nil {
		return false, fmt.Errorf("release worker lock: %w", err)
	}
	return res == 1, nil
}

// Holder returns the current lock holder token, empty when unlocked.
func (r *WorkerLockRepo) Holder(ctx context.Context) (string, error) {
	res, err := r.client.Get(ctx, workerLockKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get worker lock holder: %w", err)
	}
	return res, nil
}
