package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	ErrLockFailed = errors.New("failed to acquire distributed lock")
)

// DistributedLock is a Redis SetNX lock with an owner token. The expiration
// bounds how long a crashed holder can block others; Unlock verifies the
// token so an expired holder cannot delete its successor's lock.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock attempts a non-blocking acquire.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock retries the acquire up to maxRetries times.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock if this instance still holds it. The check and the
// delete run in one Lua script so an expired lock taken over by another
// holder is never deleted.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewSweepLock guards the timeout sweep so only one instance expires
// transfers at a time.
func NewSweepLock(client *redis.Client, owner string) *DistributedLock {
	return NewDistributedLock(client, "ledger:lock:sweep", owner, 60*time.Second)
}

// NewSettlementLock serializes settlement preparation per model.
func NewSettlementLock(client *redis.Client, model, owner string) *DistributedLock {
	key := fmt.Sprintf("ledger:lock:settlement:%s", model)
	return NewDistributedLock(client, key, owner, 60*time.Second)
}
