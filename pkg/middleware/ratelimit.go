package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/limitgate/limitgate/pkg/common"
	"github.com/limitgate/limitgate/pkg/ratelimit"
	"github.com/sirupsen/logrus"
)

type rateLimitMiddleware struct {
	orchestrator *ratelimit.Orchestrator
	policy       ratelimit.Policy
	logger       *logrus.Logger
}

// NewRateLimitMiddleware guards a route with the given policy. A denial is
// converted to 429 with a Retry-After header; allowed requests pass through
// unchanged.
func NewRateLimitMiddleware(
	orchestrator *ratelimit.Orchestrator,
	policy ratelimit.Policy,
	logger *logrus.Logger,
) Middleware {
	return &rateLimitMiddleware{
		orchestrator: orchestrator,
		policy:       policy,
		logger:       logger,
	}
}

// NewGlobalIngressMiddleware builds the outermost protection layer: every
// inbound request is counted against the single well-known ingress key on
// both tiers, ahead of any per-route policy.
func NewGlobalIngressMiddleware(
	orchestrator *ratelimit.Orchestrator,
	rateSpec string,
	limit int64,
	window time.Duration,
	logger *logrus.Logger,
) Middleware {
	return &rateLimitMiddleware{
		orchestrator: orchestrator,
		policy: ratelimit.Policy{
			Key:               common.GlobalIngressKey,
			RateSpec:          rateSpec,
			Tier:              ratelimit.TierLocalAndDistributed,
			DistributedLimit:  limit,
			DistributedWindow: window,
			Message:           "service is handling too many requests, please retry later",
		},
		logger: logger,
	}
}

func (m *rateLimitMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		req := ratelimit.Request{
			RoutePattern: c.Route().Path,
			Path:         c.Path(),
		}

		err := m.orchestrator.Acquire(c.UserContext(), m.policy, req)
		if err == nil {
			return c.Next()
		}

		var limitErr *ratelimit.RateLimitError
		if !errors.As(err, &limitErr) {
			return err
		}

		m.logger.WithFields(logrus.Fields{
			"path":       c.Path(),
			"request_id": c.Locals(common.RequestIDContextKey),
		}).Debug("request rejected by rate limiter")

		c.Set(common.RetryAfterHeader, m.retryAfter())
		return c.Status(limitErr.StatusCode).JSON(fiber.Map{
			"error": limitErr.Message,
		})
	}
}

func (m *rateLimitMiddleware) retryAfter() string {
	if m.policy.DistributedWindow > 0 {
		return strconv.FormatInt(int64(m.policy.DistributedWindow/time.Second), 10)
	}
	return "1"
}
