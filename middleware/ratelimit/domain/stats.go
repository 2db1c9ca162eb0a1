package domain

import (
	"context"
	"time"
)

// StatsEvent representa um evento de decisão do rate limit.
//
// Observação: cuidado com cardinalidade (ex.: salvar Key/Operation sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Key     Key
	Tier    Tier
	Allowed bool

	Operation string
	// Fallback indica que a operação não estava na tabela de classificação.
	Fallback bool

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do rate limit.
//
// Implementações podem armazenar em Redis, memória, etc.
// O limiter trata erro como best-effort (não derruba a chamada).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
