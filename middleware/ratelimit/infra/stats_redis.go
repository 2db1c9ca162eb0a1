package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"rpc-gateway/middleware/ratelimit/domain"
)

// RedisStatsStore agrega as decisões do rate limit em hashes do Redis:
//
//	<prefix>:total               allowed | denied | fallback
//	<prefix>:operation           <op>:allowed | <op>:denied
//	<prefix>:tier                <tier>:allowed | <tier>:denied
//	<prefix>:minute:<yyyymmddhhmm>  allowed | denied          (expira em ttl)
//	<prefix>:key:<chave>         allowed | denied          (opcional, expira em ttl)
type RedisStatsStore struct {
	rdb *redis.Client

	prefix string
	// ttl vale só para as séries por minuto e por chave.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type hincr struct {
	key, field string
	expires    bool
}

func (s *RedisStatsStore) increments(ev domain.StatsEvent) []hincr {
	outcome := "denied"
	if ev.Allowed {
		outcome = "allowed"
	}

	out := []hincr{{key: s.prefix + ":total", field: outcome}}
	if ev.Fallback {
		out = append(out, hincr{key: s.prefix + ":total", field: "fallback"})
	}
	if op := strings.TrimSpace(ev.Operation); op != "" {
		out = append(out, hincr{key: s.prefix + ":operation", field: op + ":" + outcome})
	}
	if ev.Tier != "" {
		out = append(out, hincr{key: s.prefix + ":tier", field: string(ev.Tier) + ":" + outcome})
	}
	if s.bucket == "minute" {
		at := ev.At
		if at.IsZero() {
			at = time.Now()
		}
		out = append(out, hincr{key: s.prefix + ":minute:" + at.UTC().Format("200601021504"), field: outcome, expires: true})
	}
	if k := strings.TrimSpace(string(ev.Key)); s.trackKeys && k != "" {
		out = append(out, hincr{key: s.prefix + ":key:" + k, field: outcome, expires: true})
	}
	return out
}

// Record implementa domain.StatsStore num único pipeline.
func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	pipe := s.rdb.Pipeline()
	for _, inc := range s.increments(ev) {
		pipe.HIncrBy(ctx, inc.key, inc.field, 1)
		if inc.expires && s.ttl > 0 {
			pipe.Expire(ctx, inc.key, s.ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

// ByOperation lê os contadores cumulativos por operação.
func (s *RedisStatsStore) ByOperation(ctx context.Context) (map[string]Counters, error) {
	raw, err := s.rdb.HGetAll(ctx, s.prefix+":operation").Result()
	if err != nil {
		return nil, fmt.Errorf("read operation stats: %w", err)
	}

	out := make(map[string]Counters, len(raw)/2)
	for field, v := range raw {
		i := strings.LastIndexByte(field, ':')
		if i <= 0 {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("operation stats field %q: %w", field, err)
		}
		op, c := field[:i], out[field[:i]]
		switch field[i+1:] {
		case "allowed":
			c.Allowed = n
		case "denied":
			c.Denied = n
		default:
			continue
		}
		out[op] = c
	}
	return out, nil
}
