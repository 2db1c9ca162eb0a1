package application

import (
	"context"
	"time"

	"rpc-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService concentra a regra de aquisição/liberação de vagas de chamadas em
// voo de uma conexão, com timeout, sem saber nada sobre o transporte.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
// - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `AcquireTimeout > 0`, espera até o timeout.
// Retorna (release, ok). Se ok=false, nenhuma vaga foi adquirida.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}

	if s.AcquireTimeout <= 0 {
		return s.Pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
	defer cancel()
	return s.Pool.Acquire(acqCtx)
}

// Go adquire uma vaga e executa fn numa goroutine nova, liberando a vaga ao final.
// Retorna false (sem executar fn) se não houve vaga dentro do prazo.
func (s ConcurrencyService) Go(ctx context.Context, fn func()) bool {
	release, ok := s.Acquire(ctx)
	if !ok {
		return false
	}
	go func() {
		defer release()
		fn()
	}()
	return true
}

// InFlight é o número de vagas ocupadas; 0 quando não há pool.
func (s ConcurrencyService) InFlight() int {
	if s.Pool == nil {
		return 0
	}
	return s.Pool.InUse()
}
