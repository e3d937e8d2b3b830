package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a single-key token bucket with lazy refill. Capacity accrues
// continuously up to one second of burst; a request larger than the stored
// permits is still granted once, pushing nextFree into the future so that the
// following request pays for the overdraft.
type TokenBucket struct {
	mu sync.Mutex

	ratePerSecond    float64
	maxStoredPermits float64
	storedPermits    float64
	nextFree         time.Time

	timeProvider func() time.Time
}

func NewTokenBucket(ratePerSecond float64, timeProvider func() time.Time) *TokenBucket {
	if timeProvider == nil {
		timeProvider = time.Now
	}
	now := timeProvider()
	return &TokenBucket{
		ratePerSecond:    ratePerSecond,
		maxStoredPermits: ratePerSecond,
		storedPermits:    ratePerSecond,
		nextFree:         now,
		timeProvider:     timeProvider,
	}
}

// TryAcquire attempts to take the requested number of permits without
// blocking. It returns false while an earlier overdraft is still being repaid
// and mutates no state on denial.
func (b *TokenBucket) TryAcquire(requested float64) bool {
	if requested <= 0 {
		requested = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.timeProvider()
	b.resync(now)

	if b.nextFree.After(now) {
		return false
	}

	taken := requested
	if taken > b.storedPermits {
		taken = b.storedPermits
	}
	b.storedPermits -= taken

	if fresh := requested - taken; fresh > 0 {
		wait := time.Duration(fresh / b.ratePerSecond * float64(time.Second))
		b.nextFree = b.nextFree.Add(wait)
	}
	return true
}

// SetRate changes the refill rate. The bucket is resynced at the old rate
// first so that permits accrued before the change are accounted correctly.
func (b *TokenBucket) SetRate(ratePerSecond float64) {
	if ratePerSecond <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.resync(b.timeProvider())

	b.ratePerSecond = ratePerSecond
	b.maxStoredPermits = ratePerSecond
	if b.storedPermits > b.maxStoredPermits {
		b.storedPermits = b.maxStoredPermits
	}
}

// Rate returns the current refill rate in permits per second.
func (b *TokenBucket) Rate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ratePerSecond
}

// resync credits permits accrued since nextFree. Callers must hold b.mu.
func (b *TokenBucket) resync(now time.Time) {
	if !now.After(b.nextFree) {
		return
	}
	elapsed := now.Sub(b.nextFree).Seconds()
	b.storedPermits += elapsed * b.ratePerSecond
	if b.storedPermits > b.maxStoredPermits {
		b.storedPermits = b.maxStoredPermits
	}
	b.nextFree = now
}
