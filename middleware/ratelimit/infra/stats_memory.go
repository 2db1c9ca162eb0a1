package infra

import (
	"context"
	"sync"

	"rpc-gateway/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64
	Denied  int64
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu          sync.Mutex
	total       Counters
	byOperation map[string]Counters
	byTier      map[domain.Tier]Counters
	byKey       map[domain.Key]Counters
	fallbacks   int64

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byOperation: make(map[string]Counters),
		byTier:      make(map[domain.Tier]Counters),
		byKey:       make(map[domain.Key]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bump := func(c Counters) Counters {
		if ev.Allowed {
			c.Allowed++
		} else {
			c.Denied++
		}
		return c
	}

	s.total = bump(s.total)
	s.byOperation[ev.Operation] = bump(s.byOperation[ev.Operation])
	s.byTier[ev.Tier] = bump(s.byTier[ev.Tier])
	if s.trackKeys {
		s.byKey[ev.Key] = bump(s.byKey[ev.Key])
	}
	if ev.Fallback {
		s.fallbacks++
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Fallbacks conta as decisões de operações fora da tabela de classificação.
func (s *MemoryStatsStore) Fallbacks() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallbacks
}

func (s *MemoryStatsStore) ByOperation() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byOperation)
}

func (s *MemoryStatsStore) ByTier() map[domain.Tier]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byTier)
}

func (s *MemoryStatsStore) ByKey() map[domain.Key]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byKey)
}

func copyCounters[K comparable](in map[K]Counters) map[K]Counters {
	out := make(map[K]Counters, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
