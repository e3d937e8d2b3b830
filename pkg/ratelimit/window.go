package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const counterKeyPrefix = "rate_limit:"

// windowScript increments the fixed-window counter and installs the window
// TTL atomically. The TTL re-check is not redundant: a client that crashed
// between INCR and EXPIRE leaves a counter with no expiry, and every later
// call repairs it here.
const windowScript = `local current = redis.call('INCR', KEYS[1])
if current == 1 or redis.call('TTL', KEYS[1]) < 0 then
    redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return current`

// scriptExecutor is the slice of redis.Cmdable the counter needs. Satisfied
// by *redis.Client and by in-process fakes in tests.
type scriptExecutor interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// WindowCounter enforces a cluster-wide fixed-window limit with a single
// round trip per decision. Window boundaries admit up to 2x the limit across
// an edge; that is the accepted cost of keeping one integer per key.
type WindowCounter struct {
	redis scriptExecutor
}

func NewWindowCounter(client scriptExecutor) *WindowCounter {
	return &WindowCounter{redis: client}
}

// TryAcquire counts one event against the window for key and reports whether
// it fit under the limit. Any transport error is returned as-is for the
// caller to degrade on; a deny is not an error.
func (c *WindowCounter) TryAcquire(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	seconds := int64(window / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	storeKey := counterKeyPrefix + key
	current, err := c.redis.Eval(ctx, windowScript, []string{storeKey}, seconds).Int64()
	if err != nil {
		return false, fmt.Errorf("distributed rate limit check for %q failed: %w", key, err)
	}
	return current <= limit, nil
}
