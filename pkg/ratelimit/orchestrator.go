package ratelimit

import (
	"context"
	"errors"

	"github.com/limitgate/limitgate/pkg/infra/breaker"
	"github.com/limitgate/limitgate/pkg/infra/prometheus"
	"github.com/sirupsen/logrus"
)

// Denial causes carried inside RateLimitError. Callers only see the typed
// error; these distinguish the tiers in logs and tests.
var (
	ErrLocalLimitExceeded       = errors.New("local rate limit exceeded")
	ErrDistributedLimitExceeded = errors.New("distributed rate limit exceeded")
	ErrFallbackLimitExceeded    = errors.New("fallback rate limit exceeded")
)

// Request carries the routing context a decision is made against.
type Request struct {
	// RoutePattern is the normalized route the request matched, e.g.
	// "/users/:id". May be empty for unrouted traffic.
	RoutePattern string
	// Path is the raw request path.
	Path string
}

// Orchestrator is the policy layer of the engine. Every call runs the local
// token bucket; policies tiered as local_and_distributed additionally consult
// the cluster-wide window counter, degrading to a reduced local limit when
// the shared store is unreachable. A denial at any enforced tier
// short-circuits the rest.
type Orchestrator struct {
	registry *LimiterRegistry
	window   *WindowCounter
	fallback *FallbackController
	keys     *KeyResolver
	rates    *RateResolver
	breaker  breaker.CircuitBreaker
	logger   *logrus.Logger
}

func NewOrchestrator(
	registry *LimiterRegistry,
	window *WindowCounter,
	fallback *FallbackController,
	keys *KeyResolver,
	rates *RateResolver,
	cb breaker.CircuitBreaker,
	logger *logrus.Logger,
) *Orchestrator {
	if cb == nil {
		cb = breaker.NoopCircuitBreaker{}
	}
	return &Orchestrator{
		registry: registry,
		window:   window,
		fallback: fallback,
		keys:     keys,
		rates:    rates,
		breaker:  cb,
		logger:   logger,
	}
}

// Acquire makes the accept/reject decision for one call under the given
// policy. It returns nil when the call may proceed and *RateLimitError when
// any enforced tier denied it. It never blocks on the local tier and never
// surfaces an infrastructure fault of the distributed tier.
func (o *Orchestrator) Acquire(ctx context.Context, policy Policy, req Request) error {
	key := o.keys.Resolve(policy.Key, req.RoutePattern, req.Path)
	rate := o.rates.Resolve(policy.RateSpec)

	bucket := o.registry.GetOrCreate(key, rate)
	allowed := bucket.TryAcquire(1)
	prometheus.RecordDecision(prometheus.TierLocal, allowed)
	if !allowed {
		return newRateLimitError(policy.Message, ErrLocalLimitExceeded)
	}

	if policy.Tier != TierLocalAndDistributed {
		return nil
	}

	if o.window == nil {
		return o.degrade(policy, key, errors.New("distributed tier not configured"))
	}

	err := o.breaker.Execute(func() error {
		var acquireErr error
		allowed, acquireErr = o.window.TryAcquire(ctx, key, policy.DistributedLimit, policy.DistributedWindow)
		return acquireErr
	})
	if err != nil {
		return o.degrade(policy, key, err)
	}

	prometheus.RecordDecision(prometheus.TierDistributed, allowed)
	if !allowed {
		return newRateLimitError(policy.Message, ErrDistributedLimitExceeded)
	}
	return nil
}

// degrade converts a distributed-tier fault into a local decision at a
// reduced rate. The caller never observes the fault itself.
func (o *Orchestrator) degrade(policy Policy, key string, cause error) error {
	o.logger.WithFields(logrus.Fields{
		"key":   key,
		"error": cause.Error(),
	}).Warn("distributed rate limit tier unavailable, degrading to local fallback")
	prometheus.FallbackActivations.Inc()

	allowed := o.fallback.Allow(key, policy.DistributedLimit, policy.DistributedWindow)
	prometheus.RecordDecision(prometheus.TierFallback, allowed)
	if !allowed {
		return newRateLimitError(policy.Message, ErrFallbackLimitExceeded)
	}
	return nil
}
