package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// sendLockTTL bounds how long a crashed dispatcher can hold a
	// subscriber's lock before it expires on its own.
	sendLockTTL = 30 * time.Second

	// sendLockRetryInterval is the poll interval while waiting for a
	// contended lock.
	sendLockRetryInterval = 50 * time.Millisecond

	// sendLockWait caps how long an acquirer waits before giving up.
	sendLockWait = 5 * time.Second
)

// ErrLockNotAcquired indicates the per-subscriber send lock could not
// be obtained within the wait window.
var ErrLockNotAcquired = errors.New("send lock not acquired")

// SendLocker serializes per-subscriber bookkeeping updates across
// concurrent dispatch runs using Redis SET NX with a TTL. Locks are
// advisory: callers decide whether to proceed when acquisition fails.
type SendLocker struct {
	client *Client
	logger *zap.Logger
}

// NewSendLocker creates a per-subscriber send locker.
func NewSendLocker(client *Client, logger *zap.Logger) *SendLocker {
	return &SendLocker{client: client, logger: logger}
}

func sendLockKey(subscriberID uuid.UUID) string {
	return fmt.Sprintf("herald:sendlock:%s", subscriberID)
}

// Acquire obtains the lock for subscriberID, polling until it is free
// or the wait window expires. The returned release function deletes
// the holder's token; releasing an expired or stolen lock is a no-op.
func (l *SendLocker) Acquire(ctx context.Context, subscriberID uuid.UUID) (func(), error) {
	key := sendLockKey(subscriberID)
	token := uuid.NewString()

	deadline := time.Now().Add(sendLockWait)
	for {
		set, err := l.client.rdb.SetNX(ctx, key, token, sendLockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx failed: %w", err)
		}
		if set {
			return func() { l.release(key, token) }, nil
		}
		if time.Now().After(deadline) {
			l.logger.Warn("send lock contended past wait window",
				zap.String("subscriber_id", subscriberID.String()),
			)
			return nil, ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sendLockRetryInterval):
		}
	}
}

// release deletes the lock only if this holder's token is still the
// value, so an expired lock reacquired by another run is left intact.
func (l *SendLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	const script = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`
	if err := l.client.rdb.Eval(ctx, script, []string{key}, token).Err(); err != nil {
		l.logger.Warn("send lock release failed", zap.Error(err), zap.String("key", key))
	}
}
