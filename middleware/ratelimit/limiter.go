package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"rpc-gateway/middleware/ratelimit/application"
	"rpc-gateway/middleware/ratelimit/domain"
	"rpc-gateway/rpc"
)

// Limiter é a instância de rate limit de um ator. Todas as conexões do mesmo ator
// compartilham os mesmos contadores.
type Limiter struct {
	actor    rpc.Actor
	svc      *application.Service
	clock    clock.Clock
	lastUsed *atomic.Int64
}

func (l *Limiter) Actor() rpc.Actor { return l.actor }

// Consume classifica a operação e gasta um ponto da janela (ator, tier).
func (l *Limiter) Consume(ctx context.Context, operation string) (domain.Decision, error) {
	l.lastUsed.Store(l.clock.Now().UnixNano())
	return l.svc.Consume(ctx, l.actor.ID, operation)
}

// Registry guarda uma instância de Limiter por ator, criada sob demanda.
//
// Instâncias ociosas há mais de idleTTL são removidas por Reap. Uma instância removida
// continua válida para quem ainda a segura: os contadores ficam no WindowStore.
type Registry struct {
	svc          *application.Service
	clock        clock.Clock
	idleTTL      time.Duration
	cleanupEvery time.Duration

	mu        sync.Mutex
	actors    map[string]*Limiter
	anonymous *Limiter
}

type RegistryOption func(*Registry)

func WithIdleTTL(d time.Duration) RegistryOption {
	return func(r *Registry) { r.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) RegistryOption {
	return func(r *Registry) { r.cleanupEvery = d }
}

func WithClock(c clock.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

func NewRegistry(svc *application.Service, opts ...RegistryOption) *Registry {
	r := &Registry{
		svc:          svc,
		clock:        clock.New(),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		actors:       make(map[string]*Limiter),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.anonymous = r.newLimiter(rpc.Anonymous)
	return r
}

func (r *Registry) newLimiter(actor rpc.Actor) *Limiter {
	return &Limiter{
		actor:    actor,
		svc:      r.svc,
		clock:    r.clock,
		lastUsed: atomic.NewInt64(r.clock.Now().UnixNano()),
	}
}

// For devolve o Limiter do ator. Anônimos compartilham uma única instância.
func (r *Registry) For(actor rpc.Actor) *Limiter {
	if actor.IsAnonymous() {
		return r.anonymous
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.actors[actor.ID]; ok {
		l.lastUsed.Store(r.clock.Now().UnixNano())
		return l
	}
	l := r.newLimiter(actor)
	r.actors[actor.ID] = l
	return l
}

// Len é o número de atores autenticados em cache.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// Reap remove as instâncias ociosas e retorna quantas saíram.
func (r *Registry) Reap() int {
	cutoff := r.clock.Now().Add(-r.idleTTL).UnixNano()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, l := range r.actors {
		if l.lastUsed.Load() < cutoff {
			delete(r.actors, id)
			removed++
		}
	}
	return removed
}

// StartJanitor roda Reap periodicamente até o contexto encerrar.
func (r *Registry) StartJanitor(ctx context.Context) {
	if r.cleanupEvery <= 0 {
		return
	}

	t := r.clock.Ticker(r.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.Reap()
			}
		}
	}()
}
