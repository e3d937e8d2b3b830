package breaker

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreaker guards the Redis round trip of the distributed rate limit
// tier. Once the store has failed repeatedly the breaker opens and callers
// stop paying a timeout per request; an open breaker error is handled the
// same way as a connectivity error.
type CircuitBreaker interface {
	Execute(fn func() error) error
}

type circuitBreakerWrapper struct {
	breaker *gobreaker.CircuitBreaker
}

func NewCircuitBreaker(name string, timeout time.Duration, maxFailures uint32) CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
	return &circuitBreakerWrapper{
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (g *circuitBreakerWrapper) Execute(fn func() error) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("breaker (%s): %w", g.breaker.Name(), err)
	}
	return nil
}

// NoopCircuitBreaker executes every call directly. Used when breaker
// protection is disabled in config.
type NoopCircuitBreaker struct{}

func (NoopCircuitBreaker) Execute(fn func() error) error {
	return fn()
}
