package ratelimit

import (
	"container/list"
	"sync"
	"time"

	"github.com/limitgate/limitgate/pkg/infra/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRegistryCapacity = 50000
	DefaultIdleTTL          = 10 * time.Minute

	sweepInterval = time.Minute
)

type registryEntry struct {
	key      string
	bucket   *TokenBucket
	lastUsed time.Time
	elem     *list.Element
}

// LimiterRegistry owns every TokenBucket in the process, one per limiting
// key. Creation is atomic per key; buckets unused for longer than the idle
// TTL are evicted, as are the least recently used entries once the capacity
// ceiling is exceeded. Recreating an evicted bucket resets its burst state,
// which is fine: an idle key had no pending debt.
type LimiterRegistry struct {
	mu       sync.Mutex
	entries  map[string]*registryEntry
	lru      *list.List
	capacity int
	idleTTL  time.Duration

	logger       *logrus.Logger
	timeProvider func() time.Time
	stop         chan struct{}
	stopOnce     sync.Once
}

type RegistryOpts struct {
	Capacity     int
	IdleTTL      time.Duration
	TimeProvider func() time.Time
}

func NewLimiterRegistry(logger *logrus.Logger, opts *RegistryOpts) *LimiterRegistry {
	capacity := DefaultRegistryCapacity
	idleTTL := DefaultIdleTTL
	timeProvider := time.Now
	if opts != nil {
		if opts.Capacity > 0 {
			capacity = opts.Capacity
		}
		if opts.IdleTTL > 0 {
			idleTTL = opts.IdleTTL
		}
		if opts.TimeProvider != nil {
			timeProvider = opts.TimeProvider
		}
	}

	r := &LimiterRegistry{
		entries:      make(map[string]*registryEntry),
		lru:          list.New(),
		capacity:     capacity,
		idleTTL:      idleTTL,
		logger:       logger,
		timeProvider: timeProvider,
		stop:         make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// GetOrCreate returns the bucket for key, creating it with the given rate on
// first use. Exactly one bucket exists per key even under concurrent first
// access. An existing bucket whose configured rate drifted from the resolved
// rate is updated in place.
func (r *LimiterRegistry) GetOrCreate(key string, ratePerSecond float64) *TokenBucket {
	now := r.timeProvider()

	r.mu.Lock()
	if entry, ok := r.entries[key]; ok {
		entry.lastUsed = now
		r.lru.MoveToFront(entry.elem)
		bucket := entry.bucket
		r.mu.Unlock()

		if bucket.Rate() != ratePerSecond {
			bucket.SetRate(ratePerSecond)
		}
		return bucket
	}

	entry := &registryEntry{
		key:      key,
		bucket:   NewTokenBucket(ratePerSecond, r.timeProvider),
		lastUsed: now,
	}
	entry.elem = r.lru.PushFront(entry)
	r.entries[key] = entry

	for len(r.entries) > r.capacity {
		r.evictOldestLocked()
	}
	prometheus.RegistrySize.Set(float64(len(r.entries)))
	r.mu.Unlock()

	return entry.bucket
}

// Len reports the number of live buckets.
func (r *LimiterRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops the background idle sweep.
func (r *LimiterRegistry) Close() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
}

func (r *LimiterRegistry) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.evictIdle()
		case <-r.stop:
			return
		}
	}
}

func (r *LimiterRegistry) evictIdle() {
	deadline := r.timeProvider().Add(-r.idleTTL)
	evicted := 0

	r.mu.Lock()
	for elem := r.lru.Back(); elem != nil; {
		entry, ok := elem.Value.(*registryEntry)
		if !ok || entry.lastUsed.After(deadline) {
			break
		}
		prev := elem.Prev()
		r.removeLocked(entry)
		evicted++
		elem = prev
	}
	remaining := len(r.entries)
	prometheus.RegistrySize.Set(float64(remaining))
	r.mu.Unlock()

	if evicted > 0 {
		r.logger.WithFields(logrus.Fields{
			"evicted":   evicted,
			"remaining": remaining,
		}).Debug("evicted idle rate limiters")
	}
}

func (r *LimiterRegistry) evictOldestLocked() {
	elem := r.lru.Back()
	if elem == nil {
		return
	}
	entry, ok := elem.Value.(*registryEntry)
	if !ok {
		r.lru.Remove(elem)
		return
	}
	r.removeLocked(entry)
	r.logger.WithField("key", entry.key).Debug("rate limiter registry full, evicted least recently used key")
}

func (r *LimiterRegistry) removeLocked(entry *registryEntry) {
	r.lru.Remove(entry.elem)
	delete(r.entries, entry.key)
}
