package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rpc-gateway/middleware/ratelimit/application"
	"rpc-gateway/middleware/ratelimit/domain"
	"rpc-gateway/middleware/ratelimit/infra"
	"rpc-gateway/rpc"
)

func newTestRegistry(t *testing.T, mock *clock.Mock, opts ...RegistryOption) *Registry {
	t.Helper()
	cfg := application.DefaultConfig()
	cfg.Table = map[string]domain.Tier{"createNote": domain.TierCriticalExpensive}
	svc, err := application.NewService(infra.NewMemoryWindowStore(infra.WithClock(mock)), cfg)
	require.NoError(t, err)
	return NewRegistry(svc, append([]RegistryOption{WithClock(mock)}, opts...)...)
}

func TestRegistry_SameActorSameLimiter(t *testing.T) {
	r := newTestRegistry(t, clock.NewMock())

	a1 := r.For(rpc.NewActor("alice"))
	a2 := r.For(rpc.NewActor("alice"))
	b := r.For(rpc.NewActor("bob"))

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
	assert.Equal(t, "alice", a1.Actor().ID)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_AnonymousSharesOneInstance(t *testing.T) {
	r := newTestRegistry(t, clock.NewMock())

	assert.Same(t, r.For(rpc.Anonymous), r.For(rpc.NewActor("  ")))
	assert.Zero(t, r.Len())
}

func TestRegistry_LimitersOfSameActorShareCounters(t *testing.T) {
	r := newTestRegistry(t, clock.NewMock())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		dec, err := r.For(rpc.NewActor("alice")).Consume(ctx, "createNote")
		require.NoError(t, err)
		require.True(t, dec.Allowed)
	}
	dec, err := r.For(rpc.NewActor("alice")).Consume(ctx, "createNote")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
}

func TestRegistry_ReapRemovesIdleActors(t *testing.T) {
	mock := clock.NewMock()
	r := newTestRegistry(t, mock, WithIdleTTL(time.Minute), WithCleanupEvery(0))

	old := r.For(rpc.NewActor("alice"))
	mock.Add(30 * time.Second)
	r.For(rpc.NewActor("bob"))
	mock.Add(45 * time.Second)

	assert.Equal(t, 1, r.Reap())
	assert.Equal(t, 1, r.Len())
	assert.NotSame(t, old, r.For(rpc.NewActor("alice")))
}

func TestRegistry_ReapedHandleStillWorks(t *testing.T) {
	mock := clock.NewMock()
	r := newTestRegistry(t, mock, WithIdleTTL(time.Second), WithCleanupEvery(0))
	ctx := context.Background()

	held := r.For(rpc.NewActor("alice"))
	for i := 0; i < 5; i++ {
		_, _ = held.Consume(ctx, "createNote")
	}
	mock.Add(2 * time.Second)
	require.Equal(t, 1, r.Reap())

	dec, err := held.Consume(ctx, "createNote")
	require.NoError(t, err)
	assert.False(t, dec.Allowed, "counters live in the window store, not in the handle")

	dec, err = r.For(rpc.NewActor("alice")).Consume(ctx, "createNote")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
}

func TestRegistry_JanitorStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mock := clock.NewMock()
	r := newTestRegistry(t, mock, WithIdleTTL(time.Second), WithCleanupEvery(time.Minute))
	r.For(rpc.NewActor("alice"))

	ctx, cancel := context.WithCancel(context.Background())
	r.StartJanitor(ctx)

	mock.Add(time.Minute)
	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, time.Millisecond)

	cancel()
}
