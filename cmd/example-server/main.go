package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"rpc-gateway/connection"
	"rpc-gateway/middleware/guard"
	"rpc-gateway/middleware/ratelimit"
	"rpc-gateway/middleware/ratelimit/application"
	"rpc-gateway/middleware/ratelimit/infra"
	"rpc-gateway/notes"
	"rpc-gateway/rpc"
)

func main() {
	// Exemplo: usando o pipeline direto no processo, sem listener de rede.
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	windows := infra.NewMemoryWindowStore()
	windows.StartJanitor(ctx)

	cfg := application.DefaultConfig()
	cfg.Table = notes.Classification()
	svc, err := application.NewService(windows, cfg, application.WithLogger(logger))
	if err != nil {
		logger.Fatal("rate limit service", zap.Error(err))
	}
	limiters := ratelimit.NewRegistry(svc)
	limiters.StartJanitor(ctx)

	store := notes.NewStore()
	m, err := connection.NewManager(connection.Options{
		Factory:  notes.Factory(store),
		Limiters: limiters,
		Shared:   guard.NewSharedCache(store),
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("connection manager", zap.Error(err))
	}
	m.OnCreated(func(rpc.Handler) { logger.Info("observer: created", zap.Int("live", m.Count())) })
	m.OnClosed(func(rpc.Handler) { logger.Info("observer: closed", zap.Int("live", m.Count())) })

	alice, err := m.Open(ctx, connection.Upstream{ActorID: "alice"})
	if err != nil {
		logger.Fatal("open alice", zap.Error(err))
	}
	bob, err := m.Open(ctx, connection.Upstream{ActorID: "bob"})
	if err != nil {
		logger.Fatal("open bob", zap.Error(err))
	}

	// critical_expensive: 5 pontos por minuto, a sexta chamada é rejeitada.
	var first notes.Note
	for i := 0; i < 6; i++ {
		res, err := alice.Invoke(ctx, notes.OpCreate, []any{"nota", "conteúdo"})
		if err != nil {
			logRejection(logger, "alice createNote", err)
			continue
		}
		if i == 0 {
			first = res.(notes.Note)
		}
	}

	// bob só enxerga a nota depois que alice compartilha.
	_, err = bob.Invoke(ctx, notes.OpGet, []any{first.ID})
	logRejection(logger, "bob getNote before share", err)

	m2, err := m.Open(ctx, connection.Upstream{ActorID: "alice"})
	if err != nil {
		logger.Fatal("open alice again", zap.Error(err))
	}
	_, err = m2.Invoke(ctx, notes.OpShare, []any{first.ID, "bob"})
	logRejection(logger, "alice shareNote (same pool, already exhausted)", err)

	anon, err := m.Open(ctx, connection.Upstream{})
	if err != nil {
		logger.Fatal("open anonymous", zap.Error(err))
	}
	res, err := anon.Invoke(ctx, notes.OpWhoAmI, nil)
	if err == nil {
		logger.Info("anonymous whoAmI", zap.Any("result", res))
	}
	logRejection(logger, "anonymous oneway", anon.InvokeOneway(ctx, notes.OpWhoAmI, nil))

	if err := m.Shutdown(ctx); err != nil {
		logger.Error("shutdown", zap.Error(err))
		os.Exit(1)
	}
}

func logRejection(logger *zap.Logger, what string, err error) {
	if err == nil {
		return
	}
	var rej *rpc.Rejection
	if errors.As(err, &rej) {
		logger.Info(what, zap.String("code", string(rej.Code())), zap.String("message", rej.Message()), zap.Any("details", rej.Details()))
		return
	}
	logger.Error(what, zap.Error(err))
}
