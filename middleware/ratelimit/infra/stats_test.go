package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpc-gateway/middleware/ratelimit/domain"
)

func TestMemoryStatsStore_Counts(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "user:a:critical_cheap", Tier: domain.TierCriticalCheap, Operation: "getNote", Allowed: true}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "user:a:critical_cheap", Tier: domain.TierCriticalCheap, Operation: "getNote", Allowed: false}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "anonymous", Tier: domain.TierAnonymous, Operation: "mystery", Allowed: true, Fallback: true}))

	assert.Equal(t, Counters{Allowed: 2, Denied: 1}, s.Total())
	assert.Equal(t, Counters{Allowed: 1, Denied: 1}, s.ByOperation()["getNote"])
	assert.Equal(t, Counters{Allowed: 1}, s.ByTier()[domain.TierAnonymous])
	assert.Equal(t, Counters{Allowed: 1, Denied: 1}, s.ByKey()["user:a:critical_cheap"])
	assert.Equal(t, int64(1), s.Fallbacks())
}

func TestMemoryStatsStore_KeysNotTrackedByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	_ = s.Record(context.Background(), domain.StatsEvent{Key: "k", Allowed: true})
	assert.Empty(t, s.ByKey())
}

func TestRedisStatsStore_WritesHashes(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStatsStore(rdb,
		WithStatsPrefix("stats"),
		WithStatsTTL(time.Hour),
		WithStatsTrackKeys(true),
	)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	ctx := context.Background()
	require.NoError(t, s.Record(ctx, domain.StatsEvent{
		Key: "user:a:critical_expensive", Tier: domain.TierCriticalExpensive,
		Operation: "createNote", Allowed: true, At: at,
	}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{
		Key: "user:a:critical_expensive", Tier: domain.TierCriticalExpensive,
		Operation: "createNote", Allowed: false, Fallback: true, At: at,
	}))

	assert.Equal(t, "1", mr.HGet("stats:total", "allowed"))
	assert.Equal(t, "1", mr.HGet("stats:total", "denied"))
	assert.Equal(t, "1", mr.HGet("stats:total", "fallback"))
	assert.Equal(t, "1", mr.HGet("stats:operation", "createNote:denied"))
	assert.Equal(t, "1", mr.HGet("stats:tier", "critical_expensive:allowed"))
	assert.Equal(t, "1", mr.HGet("stats:tier", "critical_expensive:denied"))
	assert.Equal(t, "1", mr.HGet("stats:minute:202601020304", "allowed"))
	assert.Equal(t, time.Hour, mr.TTL("stats:minute:202601020304"))
	assert.Equal(t, "1", mr.HGet("stats:key:user:a:critical_expensive", "allowed"))
	assert.Equal(t, time.Hour, mr.TTL("stats:key:user:a:critical_expensive"))
	assert.Zero(t, mr.TTL("stats:total"), "cumulative hashes never expire")

	byOp, err := s.ByOperation(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]Counters{"createNote": {Allowed: 1, Denied: 1}}, byOp)
}

func TestRedisStatsStore_BucketNone(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStatsStore(rdb, WithStatsBucket(" NONE "))

	require.NoError(t, s.Record(context.Background(), domain.StatsEvent{Allowed: true}))

	assert.Equal(t, "1", mr.HGet("ratelimit:stats:total", "allowed"))
	for _, k := range mr.Keys() {
		assert.NotContains(t, k, ":minute:")
	}
}

func TestRedisStatsStore_NilClientIsNoop(t *testing.T) {
	var s *RedisStatsStore
	assert.NoError(t, s.Record(context.Background(), domain.StatsEvent{}))
}
