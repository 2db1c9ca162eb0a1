package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"rpc-gateway/config"
	"rpc-gateway/connection"
	"rpc-gateway/logging"
	"rpc-gateway/metrics"
	"rpc-gateway/middleware/guard"
	"rpc-gateway/middleware/ratelimit"
	"rpc-gateway/middleware/ratelimit/application"
	"rpc-gateway/middleware/ratelimit/domain"
	"rpc-gateway/middleware/ratelimit/infra"
	"rpc-gateway/notes"
	"rpc-gateway/rpc"
	"rpc-gateway/transport/websocket"
)

func newLogger(lc fx.Lifecycle, cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() { _ = logger.Sync() }))
	return logger, nil
}

func newPrometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// classification é a tabela efetiva: a do serviço de notas com os overrides do env.
func classification(cfg config.Config) application.Config {
	return cfg.RateLimit.Service(notes.Classification())
}

func newRecorder(reg *prometheus.Registry, cfg config.Config) metrics.Recorder {
	table := classification(cfg).Table
	ops := make([]string, 0, len(table))
	for op := range table {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return metrics.NewPrometheus(reg, metrics.WithKnownOperations(ops...))
}

// newRedisClient devolve nil quando nada usa redis.
func newRedisClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*redis.Client, error) {
	if cfg.RateLimit.Store != config.StoreRedis {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))

	lc.Append(fx.StopHook(rdb.Close))
	return rdb, nil
}

func newWindowStore(cfg config.Config, rdb *redis.Client) domain.WindowStore {
	if rdb != nil {
		return infra.NewRedisWindowStore(rdb, infra.WithWindowPrefix(cfg.RateLimit.Prefix))
	}
	return infra.NewMemoryWindowStore(
		infra.WithIdleTTL(cfg.RateLimit.IdleTTL),
		infra.WithCleanupEvery(cfg.RateLimit.CleanupEvery),
	)
}

// newStatsStore devolve nil com stats desligado.
func newStatsStore(cfg config.Config, rdb *redis.Client) domain.StatsStore {
	if !cfg.Stats.Enabled {
		return nil
	}
	if rdb != nil {
		return infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL),
			infra.WithStatsBucket(cfg.Stats.Bucket),
			infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
		)
	}
	return infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.Stats.TrackKeys))
}

func newNotesStore() *notes.Store { return notes.NewStore() }

func newRateLimitService(
	cfg config.Config,
	store domain.WindowStore,
	stats domain.StatsStore,
	rec metrics.Recorder,
	logger *zap.Logger,
) (*application.Service, error) {
	opts := []application.Option{
		application.WithLogger(logger.Named("ratelimit")),
		application.WithFallbackHook(rec.UnclassifiedOperation),
	}
	if stats != nil {
		opts = append(opts, application.WithStats(stats))
	}
	svc, err := application.NewService(store, classification(cfg), opts...)
	if err != nil {
		return nil, fmt.Errorf("rate limit service: %w", err)
	}
	return svc, nil
}

// newLimiterRegistry devolve nil com rate limit desligado.
func newLimiterRegistry(cfg config.Config, svc *application.Service) *ratelimit.Registry {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	return ratelimit.NewRegistry(svc,
		ratelimit.WithIdleTTL(cfg.RateLimit.IdleTTL),
		ratelimit.WithCleanupEvery(cfg.RateLimit.CleanupEvery),
	)
}

func newSharedCache(cfg config.Config, store *notes.Store) *guard.SharedCache {
	return guard.NewSharedCache(store,
		guard.WithCacheSize(cfg.Shared.CacheSize),
		guard.WithCacheTTL(cfg.Shared.CacheTTL),
	)
}

func newManager(
	store *notes.Store,
	limiters *ratelimit.Registry,
	shared *guard.SharedCache,
	rec metrics.Recorder,
	logger *zap.Logger,
) (*connection.Manager, error) {
	m, err := connection.NewManager(connection.Options{
		Factory:  notes.Factory(store),
		Limiters: limiters,
		Shared:   shared,
		Metrics:  rec,
		Logger:   logger.Named("connection"),
	})
	if err != nil {
		return nil, err
	}
	log := logger.Named("connection")
	m.OnClosed(func(rpc.Handler) {
		log.Debug("handler disposed", zap.Int("live", m.Count()))
	})
	return m, nil
}

func newWebsocketServer(cfg config.Config, m *connection.Manager, logger *zap.Logger) (*websocket.Server, error) {
	var accept *rate.Limiter
	if cfg.Transport.AcceptRPS > 0 {
		accept = rate.NewLimiter(rate.Limit(cfg.Transport.AcceptRPS), cfg.Transport.AcceptBurst)
	}
	return websocket.NewServer(websocket.Options{
		Manager:         m,
		Identity:        websocket.HeaderIdentity(cfg.Identity.ActorHeader, cfg.Identity.RegionHeader),
		MaxInFlight:     cfg.Transport.MaxInFlight,
		InFlightTimeout: cfg.Transport.InFlightTimeout,
		AcceptLimiter:   accept,
		Logger:          logger.Named("websocket"),
	})
}

func newRouter(
	cfg config.Config,
	ws *websocket.Server,
	m *connection.Manager,
	reg *prometheus.Registry,
	stats domain.StatsStore,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get(cfg.Server.RPCPath, ws.ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"connections": m.Count(),
			"sockets":     ws.Sessions(),
		})
	})
	if stats != nil {
		r.Get("/stats", statsHandler(stats))
	}
	return r
}

// statsHandler expõe os contadores de decisão do rate limit.
func statsHandler(stats domain.StatsStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body any
		switch s := stats.(type) {
		case *infra.MemoryStatsStore:
			body = map[string]any{
				"total":       s.Total(),
				"fallbacks":   s.Fallbacks(),
				"byOperation": s.ByOperation(),
				"byTier":      s.ByTier(),
			}
		case *infra.RedisStatsStore:
			byOp, err := s.ByOperation(r.Context())
			if err != nil {
				http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
				return
			}
			body = map[string]any{"byOperation": byOp}
		default:
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}

func newHTTPServer(cfg config.Config, h http.Handler) *http.Server {
	// Sem ReadTimeout/WriteTimeout: os prazos continuam valendo no socket após o upgrade.
	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
}

func startJanitors(lc fx.Lifecycle, store domain.WindowStore, limiters *ratelimit.Registry) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if mem, ok := store.(*infra.MemoryWindowStore); ok {
				mem.StartJanitor(ctx)
			}
			if limiters != nil {
				limiters.StartJanitor(ctx)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func startHTTPServer(
	lc fx.Lifecycle,
	cfg config.Config,
	srv *http.Server,
	ws *websocket.Server,
	m *connection.Manager,
	svc *application.Service,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", zap.Error(err))
				}
			}()
			logger.Info("gateway listening",
				zap.String("addr", ln.Addr().String()),
				zap.String("rpc_path", cfg.Server.RPCPath),
				zap.Bool("rate_limit", cfg.RateLimit.Enabled),
				zap.String("store", cfg.RateLimit.Store),
				zap.String("fallback_tier", string(svc.Fallback())),
				zap.Int("max_in_flight", cfg.Transport.MaxInFlight),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := srv.Shutdown(ctx)
			err = multierr.Append(err, ws.Close())
			return multierr.Append(err, m.Shutdown(ctx))
		},
	})
}
