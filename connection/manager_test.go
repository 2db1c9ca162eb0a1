package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"rpc-gateway/middleware/guard"
	"rpc-gateway/middleware/ratelimit"
	"rpc-gateway/middleware/ratelimit/application"
	"rpc-gateway/middleware/ratelimit/domain"
	"rpc-gateway/middleware/ratelimit/infra"
	"rpc-gateway/rpc"
)

type fakeHandler struct {
	mu       sync.Mutex
	session  rpc.Session
	inits    int
	disposes int
	initErr  error
}

func (h *fakeHandler) Init(_ context.Context, s rpc.Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inits++
	h.session = s
	return h.initErr
}

func (h *fakeHandler) Dispose() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disposes++
	return nil
}

func (h *fakeHandler) Methods() rpc.Methods {
	return rpc.Methods{
		"createNote": func(context.Context, []any) (any, error) { return "ok", nil },
		"whoAmI": func(context.Context, []any) (any, error) {
			return h.session.Actor.String(), nil
		},
		"canRead": func(ctx context.Context, args []any) (any, error) {
			return h.session.Guard.CanAccess(ctx, rpc.Resource{Kind: "note", ID: "n1", Owner: args[0].(string)})
		},
	}
}

func (h *fakeHandler) disposeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposes
}

type countingRecorder struct {
	created, closed atomic.Int32
}

func (r *countingRecorder) CallAttempted(string) {}
func (r *countingRecorder) CallRejected(string, rpc.Code) {}
func (r *countingRecorder) UnclassifiedOperation(string) {}
func (r *countingRecorder) ConnectionCreated() { r.created.Inc() }
func (r *countingRecorder) ConnectionClosed() { r.closed.Inc() }

type fixture struct {
	m        *Manager
	handlers []*fakeHandler
	rec      *countingRecorder
	clock    *clock.Mock
	mu       sync.Mutex
}

func newFixture(t *testing.T, withLimits bool) *fixture {
	t.Helper()
	f := &fixture{rec: &countingRecorder{}, clock: clock.NewMock()}

	var limiters *ratelimit.Registry
	if withLimits {
		cfg := application.DefaultConfig()
		cfg.Table = map[string]domain.Tier{
			"createNote": domain.TierCriticalExpensive,
			"whoAmI":     domain.TierNonCritical,
			"canRead":    domain.TierCriticalCheap,
		}
		svc, err := application.NewService(infra.NewMemoryWindowStore(infra.WithClock(f.clock)), cfg)
		require.NoError(t, err)
		limiters = ratelimit.NewRegistry(svc, ratelimit.WithClock(f.clock))
	}

	m, err := NewManager(Options{
		Factory: func() rpc.Handler {
			h := &fakeHandler{}
			f.mu.Lock()
			f.handlers = append(f.handlers, h)
			f.mu.Unlock()
			return h
		},
		Limiters: limiters,
		Metrics:  f.rec,
	})
	require.NoError(t, err)
	f.m = m
	return f
}

func TestManager_OpenRegistersAndNotifies(t *testing.T) {
	f := newFixture(t, false)
	var created []rpc.Handler
	f.m.OnCreated(func(h rpc.Handler) { created = append(created, h) })

	meta := map[string]string{"region": "eu"}
	c, err := f.m.Open(context.Background(), Upstream{ActorID: "alice", Metadata: meta})
	require.NoError(t, err)
	meta["region"] = "mutated"

	assert.Equal(t, 1, f.m.Count())
	got, ok := f.m.Get(c.ID())
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, "alice", c.Actor().ID)
	assert.Equal(t, "eu", c.Metadata("region"))
	assert.Equal(t, "eu", f.handlers[0].session.Metadata["region"])
	assert.Equal(t, c.ID(), f.handlers[0].session.ConnectionID)
	assert.Equal(t, []rpc.Handler{f.handlers[0]}, created)
	assert.Equal(t, int32(1), f.rec.created.Load())
	assert.Nil(t, c.Limiter())
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	closed := atomic.NewInt32(0)
	f.m.OnClosed(func(rpc.Handler) { closed.Inc() })

	c, err := f.m.Open(context.Background(), Upstream{ActorID: "alice"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Close()
		}()
	}
	wg.Wait()
	require.NoError(t, f.m.Close(c))

	assert.True(t, c.Closed())
	assert.Zero(t, f.m.Count())
	assert.Equal(t, int32(1), closed.Load())
	assert.Equal(t, 1, f.handlers[0].disposeCount())
	assert.Equal(t, int32(1), f.rec.closed.Load())
}

func TestManager_UnsubscribeRemovesOnlyThatSubscription(t *testing.T) {
	f := newFixture(t, false)
	calls := atomic.NewInt32(0)
	observer := func(rpc.Handler) { calls.Inc() }

	unsubscribe := f.m.OnCreated(observer)
	f.m.OnCreated(observer)
	unsubscribe()
	unsubscribe()

	_, err := f.m.Open(context.Background(), Upstream{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestManager_InitFailureDisposesAndSkipsRegistration(t *testing.T) {
	boom := errors.New("backend unavailable")
	var handler *fakeHandler
	m, err := NewManager(Options{Factory: func() rpc.Handler {
		handler = &fakeHandler{initErr: boom}
		return handler
	}})
	require.NoError(t, err)
	notified := false
	m.OnCreated(func(rpc.Handler) { notified = true })

	_, err = m.Open(context.Background(), Upstream{ActorID: "alice"})

	assert.ErrorIs(t, err, boom)
	assert.Zero(t, m.Count())
	assert.Equal(t, 1, handler.disposeCount())
	assert.False(t, notified)
}

func TestManager_FactoryReturningNil(t *testing.T) {
	m, err := NewManager(Options{Factory: func() rpc.Handler { return nil }})
	require.NoError(t, err)

	_, err = m.Open(context.Background(), Upstream{})
	assert.Error(t, err)
	assert.Zero(t, m.Count())
}

func TestNewManager_RequiresFactory(t *testing.T) {
	_, err := NewManager(Options{})
	assert.Error(t, err)
}

func TestManager_SameActorSharesQuotaAcrossConnections(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	c1, err := f.m.Open(ctx, Upstream{ActorID: "alice"})
	require.NoError(t, err)
	c2, err := f.m.Open(ctx, Upstream{ActorID: "alice"})
	require.NoError(t, err)
	assert.Same(t, c1.Limiter(), c2.Limiter())

	for i := 0; i < 5; i++ {
		c := c1
		if i%2 == 1 {
			c = c2
		}
		_, err := c.Invoke(ctx, "createNote", nil)
		require.NoError(t, err, "call %d", i+1)
	}

	f.clock.Add(time.Second)
	_, err = c2.Invoke(ctx, "createNote", nil)
	rej, ok := rpc.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, rpc.CodeTooManyRequests, rej.Code())
	assert.Equal(t, 59, rej.Details()[rpc.RetryAfterDetail])

	res, err := c1.Invoke(ctx, "whoAmI", nil)
	require.NoError(t, err, "other tiers are unaffected")
	assert.Equal(t, "alice", res)

	c3, err := f.m.Open(ctx, Upstream{ActorID: "bob"})
	require.NoError(t, err)
	_, err = c3.Invoke(ctx, "createNote", nil)
	assert.NoError(t, err)
}

func TestManager_AnonymousConnectionsShareOnePool(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	a1, err := f.m.Open(ctx, Upstream{})
	require.NoError(t, err)
	a2, err := f.m.Open(ctx, Upstream{ActorID: "   "})
	require.NoError(t, err)
	assert.True(t, a2.Actor().IsAnonymous())

	for i := 0; i < 10; i++ {
		c := a1
		if i >= 5 {
			c = a2
		}
		_, err := c.Invoke(ctx, "whoAmI", nil)
		require.NoError(t, err)
	}
	_, err = a1.Invoke(ctx, "createNote", nil)
	assert.Equal(t, rpc.CodeTooManyRequests, rpc.CodeOf(err))
}

func TestManager_DefaultResourceGuards(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	alice, err := f.m.Open(ctx, Upstream{ActorID: "alice"})
	require.NoError(t, err)
	anon, err := f.m.Open(ctx, Upstream{})
	require.NoError(t, err)

	ok, err := alice.Invoke(ctx, "canRead", []any{"alice"})
	require.NoError(t, err)
	assert.Equal(t, true, ok)

	ok, err = alice.Invoke(ctx, "canRead", []any{"bob"})
	require.NoError(t, err)
	assert.Equal(t, false, ok)

	ok, err = anon.Invoke(ctx, "canRead", []any{""})
	require.NoError(t, err)
	assert.Equal(t, false, ok, "anonymous gets deny-all")
}

func TestManager_ExplicitGuardsTakePrecedence(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	c, err := f.m.Open(ctx, Upstream{
		ActorID: "alice",
		Guards:  &guard.Set{Function: guard.DenyOperations("createNote")},
	})
	require.NoError(t, err)

	_, err = c.Invoke(ctx, "createNote", nil)
	assert.Equal(t, rpc.CodePermissionDenied, rpc.CodeOf(err))

	ok, err := c.Invoke(ctx, "canRead", []any{"alice"})
	require.NoError(t, err)
	assert.Equal(t, true, ok, "resource guard still defaults to owner")
}

func TestManager_ShutdownClosesEverything(t *testing.T) {
	f := newFixture(t, false)
	closed := atomic.NewInt32(0)
	f.m.OnClosed(func(rpc.Handler) { closed.Inc() })

	for i := 0; i < 3; i++ {
		_, err := f.m.Open(context.Background(), Upstream{})
		require.NoError(t, err)
	}

	require.NoError(t, f.m.Shutdown(context.Background()))
	assert.Zero(t, f.m.Count())
	assert.Equal(t, int32(3), closed.Load())
}
