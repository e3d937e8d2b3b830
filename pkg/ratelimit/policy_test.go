package ratelimit_test

import (
	"testing"
	"time"

	"github.com/limitgate/limitgate/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePolicy(t *testing.T) {
	policy, err := ratelimit.DecodePolicy(map[string]interface{}{
		"key":                "search",
		"rate":               "${rate_limit.search_qps}",
		"tier":               "local_and_distributed",
		"distributed_limit":  100,
		"distributed_window": "10s",
		"message":            "search is rate limited",
	})
	require.NoError(t, err)

	assert.Equal(t, "search", policy.Key)
	assert.Equal(t, "${rate_limit.search_qps}", policy.RateSpec)
	assert.Equal(t, ratelimit.TierLocalAndDistributed, policy.Tier)
	assert.Equal(t, int64(100), policy.DistributedLimit)
	assert.Equal(t, 10*time.Second, policy.DistributedWindow)
	assert.Equal(t, "search is rate limited", policy.Message)
}

func TestDecodePolicy_Defaults(t *testing.T) {
	policy, err := ratelimit.DecodePolicy(map[string]interface{}{
		"rate": "50",
	})
	require.NoError(t, err)

	assert.Equal(t, ratelimit.TierLocalOnly, policy.Tier)
	assert.Equal(t, ratelimit.DefaultDenialMessage, policy.Message)
}

func TestDecodePolicy_Invalid(t *testing.T) {
	cases := []struct {
		name     string
		settings map[string]interface{}
	}{
		{
			name:     "missing rate",
			settings: map[string]interface{}{"tier": "local"},
		},
		{
			name: "unknown tier",
			settings: map[string]interface{}{
				"rate": "50",
				"tier": "regional",
			},
		},
		{
			name: "distributed tier without limit",
			settings: map[string]interface{}{
				"rate":               "50",
				"tier":               "local_and_distributed",
				"distributed_window": "10s",
			},
		},
		{
			name: "distributed tier without window",
			settings: map[string]interface{}{
				"rate":              "50",
				"tier":              "local_and_distributed",
				"distributed_limit": 100,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ratelimit.DecodePolicy(tc.settings)
			assert.Error(t, err)
		})
	}
}
