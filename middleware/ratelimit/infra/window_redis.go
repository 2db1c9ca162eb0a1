package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"rpc-gateway/middleware/ratelimit/domain"
)

// takeScript incrementa o contador e abre a janela no primeiro consumo.
// Retorna {consumidos, pttl}. Rodar como script garante atomicidade entre réplicas.
var takeScript = redis.NewScript(`
local used = redis.call('INCR', KEYS[1])
if used == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {used, ttl}
`)

// RedisWindowStore guarda as janelas fixas no Redis, para que várias instâncias do
// gateway compartilhem a mesma cota por ator.
//
// As chaves expiram sozinhas no fim da janela; não há janitor.
type RedisWindowStore struct {
	rdb    *redis.Client
	prefix string
}

var _ domain.WindowStore = (*RedisWindowStore)(nil)

type RedisWindowOption func(*RedisWindowStore)

func WithWindowPrefix(prefix string) RedisWindowOption {
	return func(s *RedisWindowStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func NewRedisWindowStore(rdb *redis.Client, opts ...RedisWindowOption) *RedisWindowStore {
	s := &RedisWindowStore{
		rdb:    rdb,
		prefix: "ratelimit",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Take implementa domain.WindowStore.
func (s *RedisWindowStore) Take(ctx context.Context, key domain.Key, quota domain.Quota) (domain.Decision, error) {
	if !quota.Valid() {
		return domain.Decision{}, errInvalidQuota(key, quota)
	}

	res, err := takeScript.Run(ctx, s.rdb, []string{s.prefix + ":" + string(key)}, quota.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return domain.Decision{}, fmt.Errorf("redis take %q: %w", key, err)
	}
	if len(res) != 2 {
		return domain.Decision{}, fmt.Errorf("redis take %q: unexpected reply %v", key, res)
	}

	used, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if used <= quota.Points {
		return domain.Decision{Allowed: true, Remaining: quota.Points - used}, nil
	}
	return domain.Decision{Allowed: false, RetryAfter: ttl}, nil
}
