package ratelimit_test

import (
	"sync"
	"testing"
	"time"

	"github.com/limitgate/limitgate/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1740730536, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTokenBucket_BurstThenDeny(t *testing.T) {
	clock := newFakeClock()
	bucket := ratelimit.NewTokenBucket(5, clock.Now)

	for i := 0; i < 5; i++ {
		assert.True(t, bucket.TryAcquire(1), "stored permit %d should be granted", i+1)
	}

	// The bucket is drained; one more request is still granted on credit,
	// pushing the next free instant into the future.
	assert.True(t, bucket.TryAcquire(1))
	assert.False(t, bucket.TryAcquire(1))
	assert.False(t, bucket.TryAcquire(1))

	// The borrowed permit at rate 5 costs 200ms.
	clock.Advance(199 * time.Millisecond)
	assert.False(t, bucket.TryAcquire(1))
	clock.Advance(time.Millisecond)
	assert.True(t, bucket.TryAcquire(1))
}

func TestTokenBucket_RefillsAfterIdle(t *testing.T) {
	clock := newFakeClock()
	bucket := ratelimit.NewTokenBucket(2, clock.Now)

	assert.True(t, bucket.TryAcquire(2))
	assert.True(t, bucket.TryAcquire(1)) // borrowed
	assert.False(t, bucket.TryAcquire(1))

	// A long idle period repays the debt and refills to the burst ceiling.
	clock.Advance(time.Hour)
	assert.True(t, bucket.TryAcquire(2))
	assert.True(t, bucket.TryAcquire(1))
	assert.False(t, bucket.TryAcquire(1))
}

func TestTokenBucket_OverdraftDelaysNextCall(t *testing.T) {
	clock := newFakeClock()
	bucket := ratelimit.NewTokenBucket(1, clock.Now)

	// Requesting 10 permits at 1/s succeeds once: 1 stored + 9 borrowed.
	assert.True(t, bucket.TryAcquire(10))

	// The 9 borrowed permits are repaid over 9 seconds. Denials along the
	// way must not extend the debt.
	assert.False(t, bucket.TryAcquire(1))
	clock.Advance(8900 * time.Millisecond)
	assert.False(t, bucket.TryAcquire(1))
	clock.Advance(100 * time.Millisecond)
	assert.True(t, bucket.TryAcquire(1))
}

func TestTokenBucket_SteadyStateNeverDenies(t *testing.T) {
	clock := newFakeClock()
	bucket := ratelimit.NewTokenBucket(10, clock.Now)

	// Drain the stored burst so each subsequent grant lives off refill.
	assert.True(t, bucket.TryAcquire(10))

	for i := 0; i < 100; i++ {
		clock.Advance(100 * time.Millisecond)
		assert.True(t, bucket.TryAcquire(1), "call %d at the sustained rate should be granted", i)
	}
}

func TestTokenBucket_SetRateResyncsAtOldRate(t *testing.T) {
	clock := newFakeClock()
	bucket := ratelimit.NewTokenBucket(2, clock.Now)

	assert.True(t, bucket.TryAcquire(2))

	// One idle second at the old rate accrues 2 permits, not 4. A naive
	// switch that credits the idle time at the new rate would grant five
	// immediate permits here instead of three.
	clock.Advance(time.Second)
	bucket.SetRate(4)
	assert.Equal(t, 4.0, bucket.Rate())

	granted := 0
	for bucket.TryAcquire(1) {
		granted++
	}
	assert.Equal(t, 3, granted) // 2 stored + 1 borrowed
}

func TestTokenBucket_SetRateIgnoresNonPositive(t *testing.T) {
	bucket := ratelimit.NewTokenBucket(2, newFakeClock().Now)
	bucket.SetRate(0)
	assert.Equal(t, 2.0, bucket.Rate())
	bucket.SetRate(-1)
	assert.Equal(t, 2.0, bucket.Rate())
}

func TestTokenBucket_ConcurrentAcquire(t *testing.T) {
	clock := newFakeClock()
	bucket := ratelimit.NewTokenBucket(50, clock.Now)

	var wg sync.WaitGroup
	results := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- bucket.TryAcquire(1)
		}()
	}
	wg.Wait()
	close(results)

	granted := 0
	for allowed := range results {
		if allowed {
			granted++
		}
	}
	// 50 stored plus the single overdraft grant.
	assert.Equal(t, 51, granted)
}
