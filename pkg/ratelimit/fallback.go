package ratelimit

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	fallbackKeyPrefix = "fallback:"

	DefaultFallbackRatio = 0.5
	MinFallbackRate      = 0.1
)

// FallbackController absorbs distributed-tier outages. Instead of failing
// open or closed it enforces a reduced local rate derived from the
// distributed policy, under a key namespace isolated from the primary local
// bucket. Its decision path is purely in-memory and cannot fail.
type FallbackController struct {
	registry *LimiterRegistry
	ratio    float64
	minRate  float64
	logger   *logrus.Logger
}

func NewFallbackController(registry *LimiterRegistry, ratio float64, logger *logrus.Logger) *FallbackController {
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultFallbackRatio
	}
	return &FallbackController{
		registry: registry,
		ratio:    ratio,
		minRate:  MinFallbackRate,
		logger:   logger,
	}
}

// Allow enforces the degraded local limit for key while the distributed tier
// is unreachable.
func (f *FallbackController) Allow(key string, limit int64, window time.Duration) bool {
	rate := f.FallbackRate(limit, window)
	allowed := f.registry.GetOrCreate(fallbackKeyPrefix+key, rate).TryAcquire(1)

	f.logger.WithFields(logrus.Fields{
		"key":           key,
		"fallback_rate": rate,
		"allowed":       allowed,
	}).Debug("distributed tier unavailable, applied local fallback limit")

	return allowed
}

// FallbackRate derives the degraded permits-per-second rate from the
// distributed policy, floored at a minimum positive rate.
func (f *FallbackController) FallbackRate(limit int64, window time.Duration) float64 {
	seconds := window.Seconds()
	if seconds <= 0 {
		seconds = 1
	}
	rate := float64(limit) / seconds * f.ratio
	if rate < f.minRate {
		rate = f.minRate
	}
	return rate
}
