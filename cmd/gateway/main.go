package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"rpc-gateway/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	fx.New(
		module(cfg),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
	).Run()
}

func module(cfg config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			newLogger,
			newPrometheusRegistry,
			newRecorder,
			newRedisClient,
			newWindowStore,
			newStatsStore,
			newNotesStore,
			newRateLimitService,
			newLimiterRegistry,
			newSharedCache,
			newManager,
			newWebsocketServer,
			newRouter,
			newHTTPServer,
		),
		fx.Invoke(startJanitors, startHTTPServer),
	)
}
