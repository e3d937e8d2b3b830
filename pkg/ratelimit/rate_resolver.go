package ratelimit

import (
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultRate is applied when a rate spec cannot be resolved.
const DefaultRate = 100

// ConfigLookup is the read-only configuration view used for indirect rate
// specs. *viper.Viper satisfies it.
type ConfigLookup interface {
	IsSet(key string) bool
	GetString(key string) string
}

// RateResolver turns a policy rate spec into a permits-per-second value. A
// spec is either a literal number ("250") or a config reference
// ("${rate_limit.search_qps}"). Unresolvable specs fall back to DefaultRate
// with a single warning per distinct spec, so a bad reference does not flood
// the log at request rate.
type RateResolver struct {
	lookup ConfigLookup
	logger *logrus.Logger
	warned sync.Map
}

func NewRateResolver(lookup ConfigLookup, logger *logrus.Logger) *RateResolver {
	return &RateResolver{lookup: lookup, logger: logger}
}

func (r *RateResolver) Resolve(spec string) float64 {
	spec = strings.TrimSpace(spec)

	if ref, ok := configReference(spec); ok {
		return r.resolveReference(spec, ref)
	}

	rate, err := strconv.ParseFloat(spec, 64)
	if err != nil || rate <= 0 {
		r.warnOnce(spec, "rate spec is not a positive number, using default")
		return DefaultRate
	}
	return rate
}

func (r *RateResolver) resolveReference(spec, ref string) float64 {
	if r.lookup == nil || !r.lookup.IsSet(ref) {
		r.warnOnce(spec, "rate spec references a missing config key, using default")
		return DefaultRate
	}
	rate, err := strconv.ParseFloat(strings.TrimSpace(r.lookup.GetString(ref)), 64)
	if err != nil || rate <= 0 {
		r.warnOnce(spec, "rate spec references a non-numeric config value, using default")
		return DefaultRate
	}
	return rate
}

func (r *RateResolver) warnOnce(spec, msg string) {
	if _, seen := r.warned.LoadOrStore(spec, struct{}{}); seen {
		return
	}
	r.logger.WithFields(logrus.Fields{
		"spec":    spec,
		"default": DefaultRate,
	}).Warn(msg)
}

func configReference(spec string) (string, bool) {
	if strings.HasPrefix(spec, "${") && strings.HasSuffix(spec, "}") {
		return strings.TrimSpace(spec[2 : len(spec)-1]), true
	}
	return "", false
}
