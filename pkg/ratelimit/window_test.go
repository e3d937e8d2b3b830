package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWindowStore honors the counter script's contract in memory: the whole
// increment-and-expire step is atomic. It stands in for Redis where the mock
// client cannot, e.g. under real goroutine contention.
type fakeWindowStore struct {
	mu     sync.Mutex
	counts map[string]int64
	ttls   map[string]int64
}

func newFakeWindowStore() *fakeWindowStore {
	return &fakeWindowStore{
		counts: make(map[string]int64),
		ttls:   make(map[string]int64),
	}
}

func (s *fakeWindowStore) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keys[0]
	s.counts[key]++
	current := s.counts[key]
	if current == 1 || s.ttls[key] < 0 {
		if seconds, ok := args[0].(int64); ok {
			s.ttls[key] = seconds
		}
	}
	return redis.NewCmdResult(current, nil)
}

// expireKey simulates the TTL elapsing.
func (s *fakeWindowStore) expireKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts, key)
	delete(s.ttls, key)
}

// dropTTL simulates a crash between INCR and EXPIRE: the counter survives
// with no expiry.
func (s *fakeWindowStore) dropTTL(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttls[key] = -1
}

func (s *fakeWindowStore) ttl(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttls[key]
}

func TestWindowCounter_FixedWindowLimit(t *testing.T) {
	store := newFakeWindowStore()
	counter := NewWindowCounter(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := counter.TryAcquire(ctx, "api", 3, 10*time.Second)
		require.NoError(t, err)
		assert.True(t, allowed, "call %d should fit in the window", i+1)
	}

	allowed, err := counter.TryAcquire(ctx, "api", 3, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, allowed)

	// Window elapses, counter resets via TTL.
	store.expireKey("rate_limit:api")
	allowed, err = counter.TryAcquire(ctx, "api", 3, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestWindowCounter_SelfHealsZombieKey(t *testing.T) {
	store := newFakeWindowStore()
	counter := NewWindowCounter(store)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := counter.TryAcquire(ctx, "api", 3, 10*time.Second)
		require.NoError(t, err)
	}

	store.dropTTL("rate_limit:api")

	allowed, err := counter.TryAcquire(ctx, "api", 3, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, allowed, "repairing the TTL must not change the decision")
	assert.Equal(t, int64(10), store.ttl("rate_limit:api"), "TTL should be reinstalled")
}

func TestWindowCounter_ConcurrentAcquireIsAtomic(t *testing.T) {
	store := newFakeWindowStore()
	counter := NewWindowCounter(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, err := counter.TryAcquire(ctx, "contended", 10, 10*time.Second)
			assert.NoError(t, err)
			results <- allowed
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
	assert.Equal(t, 10, granted)
}

func TestWindowCounter_RedisScriptExecution(t *testing.T) {
	client, mock := redismock.NewClientMock()
	counter := NewWindowCounter(client)
	ctx := context.Background()

	mock.ExpectEval(windowScript, []string{"rate_limit:api"}, int64(10)).SetVal(int64(3))
	allowed, err := counter.TryAcquire(ctx, "api", 3, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, allowed)

	mock.ExpectEval(windowScript, []string{"rate_limit:api"}, int64(10)).SetVal(int64(4))
	allowed, err = counter.TryAcquire(ctx, "api", 3, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, allowed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWindowCounter_SubSecondWindowClampsToOneSecond(t *testing.T) {
	client, mock := redismock.NewClientMock()
	counter := NewWindowCounter(client)

	mock.ExpectEval(windowScript, []string{"rate_limit:api"}, int64(1)).SetVal(int64(1))
	allowed, err := counter.TryAcquire(context.Background(), "api", 3, 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWindowCounter_TransportErrorIsReturned(t *testing.T) {
	client, mock := redismock.NewClientMock()
	counter := NewWindowCounter(client)

	mock.ExpectEval(windowScript, []string{"rate_limit:api"}, int64(10)).
		SetErr(errors.New("connection refused"))

	allowed, err := counter.TryAcquire(context.Background(), "api", 3, 10*time.Second)
	assert.Error(t, err)
	assert.False(t, allowed)
}
