package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"rpc-gateway/rpc"
)

// SharingLookup consulta a relação de compartilhamento mantida fora deste serviço.
type SharingLookup interface {
	IsShared(ctx context.Context, actorID string, res rpc.Resource) (bool, error)
}

// SharingLookupFunc adapta uma função em SharingLookup.
type SharingLookupFunc func(ctx context.Context, actorID string, res rpc.Resource) (bool, error)

func (f SharingLookupFunc) IsShared(ctx context.Context, actorID string, res rpc.Resource) (bool, error) {
	return f(ctx, actorID, res)
}

// SharedCache guarda as respostas positivas de SharingLookup por (ator, recurso) e deduplica
// consultas concorrentes. Um único cache atende todas as conexões do processo.
type SharedCache struct {
	lookup SharingLookup
	cache  *expirable.LRU[string, bool]
	group  singleflight.Group
}

type SharedCacheOption func(*sharedCacheConfig)

type sharedCacheConfig struct {
	size int
	ttl  time.Duration
}

func WithCacheSize(n int) SharedCacheOption {
	return func(c *sharedCacheConfig) { c.size = n }
}

// WithCacheTTL define por quanto tempo uma resposta vale. Revogações de
// compartilhamento demoram até ttl para valer.
func WithCacheTTL(d time.Duration) SharedCacheOption {
	return func(c *sharedCacheConfig) { c.ttl = d }
}

func NewSharedCache(lookup SharingLookup, opts ...SharedCacheOption) *SharedCache {
	cfg := sharedCacheConfig{size: 1024, ttl: 30 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &SharedCache{lookup: lookup}
	if cfg.size > 0 && cfg.ttl > 0 {
		c.cache = expirable.NewLRU[string, bool](cfg.size, nil, cfg.ttl)
	}
	return c
}

func (c *SharedCache) isShared(ctx context.Context, actorID string, res rpc.Resource) (bool, error) {
	key := actorID + "\x00" + res.Kind + "\x00" + res.ID
	if c.cache != nil {
		if ok, hit := c.cache.Get(key); hit {
			return ok, nil
		}
	}

	// a consulta é compartilhada: o cancelamento de quem a iniciou não vale para os demais.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		ok, err := c.lookup.IsShared(flightCtx, actorID, res)
		if err != nil {
			return false, fmt.Errorf("sharing lookup %s/%s: %w", res.Kind, res.ID, err)
		}
		// só respostas positivas: um compartilhamento novo vale na hora.
		if ok && c.cache != nil {
			c.cache.Add(key, true)
		}
		return ok, nil
	})

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return false, r.Err
		}
		return r.Val.(bool), nil
	}
}

// Shared libera o recurso quando a relação de compartilhamento permite.
// Anônimos nunca recebem acesso compartilhado.
func Shared(actor rpc.Actor, cache *SharedCache) ResourceGuard {
	return ResourceGuardFunc(func(ctx context.Context, res rpc.Resource) (bool, error) {
		if actor.IsAnonymous() || cache == nil {
			return false, nil
		}
		return cache.isShared(ctx, actor.ID, res)
	})
}

// ForActor monta o guard de recursos padrão: Owner+Shared para atores conhecidos,
// DenyAll para anônimos.
func ForActor(actor rpc.Actor, cache *SharedCache) ResourceGuard {
	if actor.IsAnonymous() {
		return DenyAll
	}
	return AnyOf(Owner(actor), Shared(actor, cache))
}
