package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpc-gateway/middleware/ratelimit/domain"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "/rpc", cfg.Server.RPCPath)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, domain.Quota{Points: 5, Window: time.Minute}, cfg.RateLimit.Quotas[domain.TierCriticalExpensive])
	assert.Equal(t, domain.Quota{Points: 15, Window: time.Minute}, cfg.RateLimit.Quotas[domain.TierCriticalCheap])
	assert.Equal(t, domain.Quota{Points: 10, Window: time.Minute}, cfg.RateLimit.Quotas[domain.TierNonCritical])
	assert.Equal(t, domain.Quota{Points: 10, Window: time.Minute}, cfg.RateLimit.Anonymous)
	assert.Empty(t, cfg.RateLimit.Fallback)
	assert.Equal(t, StoreMemory, cfg.RateLimit.Store)
	assert.Equal(t, "X-Actor-ID", cfg.Identity.ActorHeader)
	assert.Equal(t, 16, cfg.Transport.MaxInFlight)
	assert.Equal(t, 1024, cfg.Shared.CacheSize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Overrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RATE_LIMIT_CRITICAL_EXPENSIVE_POINTS", "2")
	t.Setenv("RATE_LIMIT_CRITICAL_EXPENSIVE_DURATION", "30")
	t.Setenv("RATE_LIMIT_ANONYMOUS_DURATION", "2m")
	t.Setenv("RATE_LIMIT_FALLBACK_TIER", "NON_CRITICAL")
	t.Setenv("RATE_LIMIT_OPERATIONS", "ping:non_critical, wipe:critical_expensive")
	t.Setenv("RATE_LIMIT_STORE", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.Quota{Points: 2, Window: 30 * time.Second}, cfg.RateLimit.Quotas[domain.TierCriticalExpensive])
	assert.Equal(t, 2*time.Minute, cfg.RateLimit.Anonymous.Window)
	assert.Equal(t, domain.TierNonCritical, cfg.RateLimit.Fallback)
	assert.Equal(t, map[string]domain.Tier{
		"ping": domain.TierNonCritical,
		"wipe": domain.TierCriticalExpensive,
	}, cfg.RateLimit.Operations)
	assert.Equal(t, StoreRedis, cfg.RateLimit.Store)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]map[string]string{
		"invalid points":      {"RATE_LIMIT_NON_CRITICAL_POINTS": "ten"},
		"zero points":         {"RATE_LIMIT_NON_CRITICAL_POINTS": "0"},
		"invalid duration":    {"RATE_LIMIT_CRITICAL_CHEAP_DURATION": "soon"},
		"sub-ms duration":     {"RATE_LIMIT_NON_CRITICAL_DURATION": "500us"},
		"zero idle ttl":       {"RATE_LIMIT_IDLE_TTL": "0"},
		"unknown fallback":    {"RATE_LIMIT_FALLBACK_TIER": "gold"},
		"malformed operation": {"RATE_LIMIT_OPERATIONS": "ping"},
		"unknown store":       {"RATE_LIMIT_STORE": "etcd"},
		"redis without addr":  {"RATE_LIMIT_STORE": "redis"},
		"invalid bool":        {"RATE_LIMIT_ENABLED": "maybe"},
		"negative in flight":  {"MAX_IN_FLIGHT": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			chdir(t, t.TempDir())
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestRateLimitConfig_ServiceMergesOperations(t *testing.T) {
	rl := RateLimitConfig{
		Quotas:     map[domain.Tier]domain.Quota{domain.TierNonCritical: {Points: 1, Window: time.Second}},
		Anonymous:  domain.Quota{Points: 1, Window: time.Second},
		Operations: map[string]domain.Tier{"a": domain.TierNonCritical},
	}
	base := map[string]domain.Tier{"a": domain.TierCriticalExpensive, "b": domain.TierCriticalCheap}

	sc := rl.Service(base)

	assert.Equal(t, domain.TierNonCritical, sc.Table["a"])
	assert.Equal(t, domain.TierCriticalCheap, sc.Table["b"])
	assert.Equal(t, domain.TierCriticalExpensive, base["a"], "base table must not be mutated")
}
