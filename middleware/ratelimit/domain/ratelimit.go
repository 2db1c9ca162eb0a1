package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de transporte.

import (
	"context"
	"math"
	"time"
)

// Key identifica um contador: ator + tier (ex: "user:alice:critical_cheap").
type Key string

// Tier agrupa operações pela mesma política de cota.
type Tier string

const (
	TierCriticalExpensive Tier = "critical_expensive"
	TierCriticalCheap     Tier = "critical_cheap"
	TierNonCritical       Tier = "non_critical"

	// TierAnonymous é o pool único dos atores anônimos quando ele não é dividido por tier.
	TierAnonymous Tier = "anonymous"
)

// Tiers lista os tiers de atores autenticados, do mais caro ao menos crítico.
var Tiers = []Tier{TierCriticalExpensive, TierCriticalCheap, TierNonCritical}

// Quota é a janela fixa: Points disponíveis a cada Window.
type Quota struct {
	Points int
	Window time.Duration
}

// MinWindow é a menor janela aceita; o Redis expira chaves em milissegundos.
const MinWindow = time.Millisecond

func (q Quota) Valid() bool { return q.Points > 0 && q.Window >= MinWindow }

// PerSecond é a vazão sustentada da cota; usada para comparar tiers.
func (q Quota) PerSecond() float64 {
	if !q.Valid() {
		return 0
	}
	return float64(q.Points) / q.Window.Seconds()
}

// WindowStore consome pontos de janelas fixas por chave.
//
// Take deve ser linearizável por chave: chamadas concorrentes para a mesma chave
// nunca admitem mais do que Quota.Points por janela.
// Um erro significa "store quebrado", nunca "cota esgotada".
type WindowStore interface {
	Take(ctx context.Context, key Key, quota Quota) (Decision, error)
}

type Decision struct {
	Allowed bool
	// Remaining é o saldo da janela após este consumo.
	Remaining int
	// RetryAfter é o tempo até a próxima recarga quando bloqueado.
	// Se 0, não há recomendação.
	RetryAfter time.Duration

	// Tier e Fallback são preenchidos pela camada application.
	Tier     Tier
	Fallback bool
}

// RetryAfterSeconds arredonda RetryAfter para o segundo mais próximo, com mínimo 1.
func (d Decision) RetryAfterSeconds() int {
	secs := int(math.Round(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
