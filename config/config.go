// Package config centraliza o carregamento de configurações do gateway a partir de env
// (e de um .env opcional).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"rpc-gateway/middleware/ratelimit/application"
	"rpc-gateway/middleware/ratelimit/domain"
)

// Tipos de store de contadores.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	Server    ServerConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Stats     StatsConfig
	Identity  IdentityConfig
	Transport TransportConfig
	Shared    SharedConfig
	Log       LogConfig
}

type ServerConfig struct {
	ListenAddr string
	RPCPath    string
}

type RateLimitConfig struct {
	Enabled         bool
	Quotas          map[domain.Tier]domain.Quota
	Anonymous       domain.Quota
	AnonymousTiered bool
	// Fallback vazio = tier mais restritivo.
	Fallback domain.Tier
	// Operations sobrepõe a tabela padrão do handler.
	Operations   map[string]domain.Tier
	Store        string
	Prefix       string
	IdleTTL      time.Duration
	CleanupEvery time.Duration
}

// Service monta a configuração do application.Service mesclando Operations sobre base.
func (c RateLimitConfig) Service(base map[string]domain.Tier) application.Config {
	table := make(map[string]domain.Tier, len(base)+len(c.Operations))
	for op, t := range base {
		table[op] = t
	}
	for op, t := range c.Operations {
		table[op] = t
	}
	quotas := make(map[domain.Tier]domain.Quota, len(c.Quotas))
	for t, q := range c.Quotas {
		quotas[t] = q
	}
	return application.Config{
		Quotas:          quotas,
		Anonymous:       c.Anonymous,
		AnonymousTiered: c.AnonymousTiered,
		Table:           table,
		Fallback:        c.Fallback,
	}
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StatsConfig struct {
	Enabled   bool
	Prefix    string
	TTL       time.Duration
	Bucket    string
	TrackKeys bool
}

type IdentityConfig struct {
	ActorHeader  string
	RegionHeader string
}

type TransportConfig struct {
	MaxInFlight     int
	InFlightTimeout time.Duration
	AcceptRPS       float64
	AcceptBurst     int
}

type SharedConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

// Load lê a configuração do ambiente. Números inválidos são erro, não default silencioso.
func Load() (Config, error) {
	_ = godotenv.Load()

	var (
		cfg Config
		err error
	)
	cfg.Server = ServerConfig{
		ListenAddr: getenvDefault("LISTEN_ADDR", ":8080"),
		RPCPath:    getenvDefault("RPC_PATH", "/rpc"),
	}
	if cfg.RateLimit, err = loadRateLimit(); err != nil {
		return Config{}, err
	}
	if cfg.Redis, err = loadRedis(); err != nil {
		return Config{}, err
	}
	if cfg.Stats, err = loadStats(); err != nil {
		return Config{}, err
	}
	cfg.Identity = IdentityConfig{
		ActorHeader:  getenvDefault("ACTOR_HEADER", "X-Actor-ID"),
		RegionHeader: getenvDefault("REGION_HEADER", "X-Client-Region"),
	}
	if cfg.Transport, err = loadTransport(); err != nil {
		return Config{}, err
	}
	if cfg.Shared, err = loadShared(); err != nil {
		return Config{}, err
	}
	cfg.Log = LogConfig{
		Level:  getenvDefault("LOG_LEVEL", "info"),
		Format: getenvDefault("LOG_FORMAT", "json"),
		File:   os.Getenv("LOG_FILE"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if !strings.HasPrefix(c.Server.RPCPath, "/") {
		return errors.New("RPC_PATH must start with /")
	}
	switch c.RateLimit.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			return errors.New("REDIS_ADDR is required when RATE_LIMIT_STORE=redis")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_STORE must be %q or %q, got %q", StoreMemory, StoreRedis, c.RateLimit.Store)
	}
	if c.RateLimit.IdleTTL <= 0 {
		return errors.New("RATE_LIMIT_IDLE_TTL must be > 0")
	}
	if c.Transport.MaxInFlight < 0 {
		return errors.New("MAX_IN_FLIGHT must be >= 0")
	}
	if c.Transport.AcceptRPS < 0 {
		return errors.New("ACCEPT_RPS must be >= 0")
	}
	if c.Transport.AcceptRPS > 0 && c.Transport.AcceptBurst <= 0 {
		return errors.New("ACCEPT_BURST must be > 0")
	}
	if c.Shared.CacheSize <= 0 {
		return errors.New("SHARED_CACHE_SIZE must be > 0")
	}
	return nil
}

func loadRateLimit() (RateLimitConfig, error) {
	var (
		rl  RateLimitConfig
		err error
	)
	if rl.Enabled, err = getenvBool("RATE_LIMIT_ENABLED", true); err != nil {
		return rl, err
	}

	defaults := application.DefaultConfig()
	rl.Quotas = make(map[domain.Tier]domain.Quota, len(defaults.Quotas))
	for _, tier := range []domain.Tier{domain.TierCriticalExpensive, domain.TierCriticalCheap, domain.TierNonCritical} {
		q, err := getenvQuota(envPrefix(tier), defaults.Quotas[tier])
		if err != nil {
			return rl, err
		}
		rl.Quotas[tier] = q
	}
	if rl.Anonymous, err = getenvQuota(envPrefix(domain.TierAnonymous), defaults.Anonymous); err != nil {
		return rl, err
	}
	if rl.AnonymousTiered, err = getenvBool("RATE_LIMIT_ANONYMOUS_TIERED", false); err != nil {
		return rl, err
	}

	if v := getenvDefault("RATE_LIMIT_FALLBACK_TIER", ""); v != "" {
		if rl.Fallback, err = parseTier(v); err != nil {
			return rl, fmt.Errorf("invalid RATE_LIMIT_FALLBACK_TIER: %w", err)
		}
	}
	if rl.Operations, err = parseOperations(os.Getenv("RATE_LIMIT_OPERATIONS")); err != nil {
		return rl, err
	}

	rl.Store = strings.ToLower(getenvDefault("RATE_LIMIT_STORE", StoreMemory))
	rl.Prefix = getenvDefault("RATE_LIMIT_PREFIX", "ratelimit")
	if rl.IdleTTL, err = getenvDuration("RATE_LIMIT_IDLE_TTL", 15*time.Minute); err != nil {
		return rl, err
	}
	if rl.CleanupEvery, err = getenvDuration("RATE_LIMIT_CLEANUP_EVERY", 2*time.Minute); err != nil {
		return rl, err
	}
	return rl, nil
}

func loadRedis() (RedisConfig, error) {
	db, err := getenvInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	return RedisConfig{
		Addr:     getenvDefault("REDIS_ADDR", ""),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}, nil
}

func loadStats() (StatsConfig, error) {
	var (
		st  StatsConfig
		err error
	)
	if st.Enabled, err = getenvBool("RATE_STATS_ENABLED", false); err != nil {
		return st, err
	}
	st.Prefix = getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats")
	if st.TTL, err = getenvDuration("RATE_STATS_TTL", 24*time.Hour); err != nil {
		return st, err
	}
	st.Bucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	if st.TrackKeys, err = getenvBool("RATE_STATS_TRACK_KEYS", false); err != nil {
		return st, err
	}
	return st, nil
}

func loadTransport() (TransportConfig, error) {
	var (
		tc  TransportConfig
		err error
	)
	if tc.MaxInFlight, err = getenvInt("MAX_IN_FLIGHT", 16); err != nil {
		return tc, err
	}
	if tc.InFlightTimeout, err = getenvDuration("IN_FLIGHT_TIMEOUT", 0); err != nil {
		return tc, err
	}
	if tc.AcceptRPS, err = getenvFloat("ACCEPT_RPS", 50); err != nil {
		return tc, err
	}
	if tc.AcceptBurst, err = getenvInt("ACCEPT_BURST", 100); err != nil {
		return tc, err
	}
	return tc, nil
}

func loadShared() (SharedConfig, error) {
	var (
		sc  SharedConfig
		err error
	)
	if sc.CacheSize, err = getenvInt("SHARED_CACHE_SIZE", 1024); err != nil {
		return sc, err
	}
	if sc.CacheTTL, err = getenvDuration("SHARED_CACHE_TTL", 30*time.Second); err != nil {
		return sc, err
	}
	return sc, nil
}

// envPrefix: critical_expensive -> RATE_LIMIT_CRITICAL_EXPENSIVE
func envPrefix(t domain.Tier) string {
	return "RATE_LIMIT_" + strings.ToUpper(string(t))
}

func getenvQuota(prefix string, def domain.Quota) (domain.Quota, error) {
	points, err := getenvInt(prefix+"_POINTS", def.Points)
	if err != nil {
		return domain.Quota{}, err
	}
	window, err := getenvDuration(prefix+"_DURATION", def.Window)
	if err != nil {
		return domain.Quota{}, err
	}
	q := domain.Quota{Points: points, Window: window}
	if !q.Valid() {
		return domain.Quota{}, fmt.Errorf("%s_POINTS must be > 0 and %s_DURATION >= %s", prefix, prefix, domain.MinWindow)
	}
	return q, nil
}

func parseTier(v string) (domain.Tier, error) {
	t := domain.Tier(strings.ToLower(strings.TrimSpace(v)))
	for _, known := range domain.Tiers {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown tier %q", v)
}

// parseOperations lê "op:tier,op:tier".
func parseOperations(raw string) (map[string]domain.Tier, error) {
	out := map[string]domain.Tier{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		op, tier, ok := strings.Cut(item, ":")
		op = strings.TrimSpace(op)
		if !ok || op == "" {
			return nil, fmt.Errorf("RATE_LIMIT_OPERATIONS entry must follow OPERATION:TIER: %s", item)
		}
		t, err := parseTier(tier)
		if err != nil {
			return nil, fmt.Errorf("invalid tier for operation %s: %w", op, err)
		}
		out[op] = t
	}
	return out, nil
}

func getenvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) (int, error) {
	v := getenvDefault(k, "")
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", k, err)
	}
	return i, nil
}

func getenvFloat(k string, def float64) (float64, error) {
	v := getenvDefault(k, "")
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", k, err)
	}
	return f, nil
}

func getenvBool(k string, def bool) (bool, error) {
	v := getenvDefault(k, "")
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", k, err)
	}
	return b, nil
}

// getenvDuration aceita duração Go ("90s", "1m") ou segundos inteiros ("60").
func getenvDuration(k string, def time.Duration) (time.Duration, error) {
	v := getenvDefault(k, "")
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", k, err)
	}
	return d, nil
}
