package ratelimit

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Tier selects which enforcement levels a policy evaluates.
type Tier string

const (
	TierLocalOnly           Tier = "local"
	TierLocalAndDistributed Tier = "local_and_distributed"
)

const DefaultDenialMessage = "rate limit exceeded"

// Policy is the immutable per-call-site rate limiting configuration.
type Policy struct {
	// Key overrides the resolved limiting key when non-empty.
	Key string `mapstructure:"key"`

	// RateSpec is either a literal permits-per-second value ("200") or an
	// indirect config reference ("${rate_limit.search_qps}").
	RateSpec string `mapstructure:"rate"`

	Tier Tier `mapstructure:"tier"`

	// DistributedLimit / DistributedWindow configure the cluster-wide fixed
	// window. Only consulted for TierLocalAndDistributed.
	DistributedLimit  int64         `mapstructure:"distributed_limit"`
	DistributedWindow time.Duration `mapstructure:"distributed_window"`

	// Message is returned to the caller on denial.
	Message string `mapstructure:"message"`
}

// DecodePolicy builds a Policy from a settings block, typically the decoded
// yaml of a route configuration.
func DecodePolicy(settings map[string]interface{}) (Policy, error) {
	var policy Policy
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     &policy,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return Policy{}, fmt.Errorf("failed to build policy decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return Policy{}, fmt.Errorf("invalid rate limit policy: %w", err)
	}
	if policy.Tier == "" {
		policy.Tier = TierLocalOnly
	}
	if policy.Message == "" {
		policy.Message = DefaultDenialMessage
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

func (p Policy) Validate() error {
	switch p.Tier {
	case TierLocalOnly, TierLocalAndDistributed:
	default:
		return fmt.Errorf("rate limit policy has unknown tier %q", p.Tier)
	}
	if strings.TrimSpace(p.RateSpec) == "" {
		return fmt.Errorf("rate limit policy requires a 'rate' value")
	}
	if p.Tier == TierLocalAndDistributed {
		if p.DistributedLimit <= 0 {
			return fmt.Errorf("rate limit policy requires a positive 'distributed_limit'")
		}
		if p.DistributedWindow <= 0 {
			return fmt.Errorf("rate limit policy requires a positive 'distributed_window'")
		}
	}
	return nil
}
