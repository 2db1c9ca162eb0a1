package infra

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"rpc-gateway/middleware/ratelimit/domain"
)

// MemoryWindowStore é uma implementação de infra baseada em janela fixa em memória,
// com cache por chave e limpeza periódica das chaves ociosas.
//
// Serve para uma única instância do gateway; com várias réplicas use RedisWindowStore.
type MemoryWindowStore struct {
	mu           sync.Mutex
	entries      map[domain.Key]*window
	clock        clock.Clock
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type window struct {
	mu      sync.Mutex
	used    int
	resetAt time.Time
	// removed marca a janela já tirada do mapa por Cleanup.
	removed bool

	// lastSeen é protegido pelo mu do store.
	lastSeen time.Time
}

var _ domain.WindowStore = (*MemoryWindowStore)(nil)

type MemoryWindowOption func(*MemoryWindowStore)

func WithIdleTTL(d time.Duration) MemoryWindowOption {
	return func(s *MemoryWindowStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) MemoryWindowOption {
	return func(s *MemoryWindowStore) { s.cleanupEvery = d }
}

// WithClock troca o relógio (testes usam clock.NewMock()).
func WithClock(c clock.Clock) MemoryWindowOption {
	return func(s *MemoryWindowStore) { s.clock = c }
}

func NewMemoryWindowStore(opts ...MemoryWindowOption) *MemoryWindowStore {
	s := &MemoryWindowStore{
		entries:      make(map[domain.Key]*window),
		clock:        clock.New(),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryWindowStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// Take implementa domain.WindowStore.
//
// A janela começa no primeiro consumo e recarrega inteira quando expira.
func (s *MemoryWindowStore) Take(_ context.Context, key domain.Key, quota domain.Quota) (domain.Decision, error) {
	if !quota.Valid() {
		return domain.Decision{}, errInvalidQuota(key, quota)
	}

	now := s.clock.Now()
	for {
		if dec, ok := s.take(s.get(key, now), now, quota); ok {
			return dec, nil
		}
	}
}

// take consome da janela w; false quando Cleanup removeu w entre get e o lock.
func (s *MemoryWindowStore) take(w *window, now time.Time, quota domain.Quota) (domain.Decision, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.removed {
		return domain.Decision{}, false
	}
	if !now.Before(w.resetAt) {
		w.used = 0
		w.resetAt = now.Add(quota.Window)
	}

	if w.used < quota.Points {
		w.used++
		return domain.Decision{Allowed: true, Remaining: quota.Points - w.used}, true
	}
	return domain.Decision{Allowed: false, RetryAfter: w.resetAt.Sub(now)}, true
}

func (s *MemoryWindowStore) get(key domain.Key, now time.Time) *window {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.entries[key]; ok {
		w.lastSeen = now
		return w
	}

	w := &window{lastSeen: now}
	s.entries[key] = w
	return w
}

// Len é o número de janelas em cache.
func (s *MemoryWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup remove janelas ociosas há mais de idleTTL e já expiradas.
// Uma janela ainda aberta nunca é removida, senão o contador zeraria antes da hora.
func (s *MemoryWindowStore) Cleanup() int {
	now := s.clock.Now()
	cutoff := now.Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, w := range s.entries {
		if !w.lastSeen.Before(cutoff) {
			continue
		}
		w.mu.Lock()
		expired := !now.Before(w.resetAt)
		if expired {
			w.removed = true
		}
		w.mu.Unlock()
		if expired {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryWindowStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := s.clock.Ticker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
