package ratelimit

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const unknownKey = "unknown"

// KeyResolver derives the limiting key for a call. Precedence: explicit
// policy key, then the normalized route pattern, then the raw request path,
// then "unknown".
type KeyResolver struct {
	logger  *logrus.Logger
	flagged sync.Map
}

func NewKeyResolver(logger *logrus.Logger) *KeyResolver {
	return &KeyResolver{logger: logger}
}

func (r *KeyResolver) Resolve(policyKey, routePattern, rawPath string) string {
	if key := strings.TrimSpace(policyKey); key != "" {
		return key
	}
	if routePattern != "" {
		r.flagUnresolvedPattern(routePattern)
		return routePattern
	}
	if rawPath != "" {
		return rawPath
	}
	return unknownKey
}

// flagUnresolvedPattern warns once per pattern that still carries path
// variable placeholders. Such a pattern merges every concrete resource that
// matches it into a single limiter, which is usually a configuration mistake.
func (r *KeyResolver) flagUnresolvedPattern(pattern string) {
	if !strings.Contains(pattern, ":") && !strings.Contains(pattern, "*") {
		return
	}
	if _, seen := r.flagged.LoadOrStore(pattern, struct{}{}); seen {
		return
	}
	r.logger.WithField("pattern", pattern).
		Warn("rate limit key contains unresolved path variables, all matching resources share one limiter")
}
