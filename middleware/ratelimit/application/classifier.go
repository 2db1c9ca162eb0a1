package application

import (
	"fmt"
	"sort"

	"rpc-gateway/middleware/ratelimit/domain"
)

// Classifier mapeia operação -> tier a partir de uma tabela estática.
type Classifier struct {
	table    map[string]domain.Tier
	fallback domain.Tier
}

// NewClassifier copia a tabela; operações ausentes caem em fallback.
func NewClassifier(table map[string]domain.Tier, fallback domain.Tier) Classifier {
	t := make(map[string]domain.Tier, len(table))
	for op, tier := range table {
		t[op] = tier
	}
	return Classifier{table: t, fallback: fallback}
}

// Classify devolve o tier da operação; ok=false indica que o fallback foi usado.
func (c Classifier) Classify(operation string) (tier domain.Tier, ok bool) {
	if tier, ok := c.table[operation]; ok {
		return tier, true
	}
	return c.fallback, false
}

func (c Classifier) Fallback() domain.Tier { return c.fallback }

func (c Classifier) validate(quotas map[domain.Tier]domain.Quota) error {
	if _, ok := quotas[c.fallback]; !ok {
		return fmt.Errorf("fallback tier %q has no quota", c.fallback)
	}
	for op, tier := range c.table {
		if _, ok := quotas[tier]; !ok {
			return fmt.Errorf("operation %q uses tier %q which has no quota", op, tier)
		}
	}
	return nil
}

// MostRestrictive escolhe o tier com menor vazão sustentada (pontos por segundo).
// Empates ficam com o menor número de pontos e, depois, com a ordem de domain.Tiers.
func MostRestrictive(quotas map[domain.Tier]domain.Quota) domain.Tier {
	var (
		best  domain.Tier
		bestQ domain.Quota
		found bool
	)
	consider := func(t domain.Tier, q domain.Quota) {
		if !q.Valid() {
			return
		}
		switch {
		case !found,
			q.PerSecond() < bestQ.PerSecond(),
			q.PerSecond() == bestQ.PerSecond() && q.Points < bestQ.Points:
			best, bestQ, found = t, q, true
		}
	}
	for _, t := range domain.Tiers {
		if q, ok := quotas[t]; ok {
			consider(t, q)
		}
	}
	extra := make([]domain.Tier, 0, len(quotas))
	for t := range quotas {
		if !isKnownTier(t) {
			extra = append(extra, t)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	for _, t := range extra {
		consider(t, quotas[t])
	}
	return best
}

func isKnownTier(t domain.Tier) bool {
	for _, known := range domain.Tiers {
		if t == known {
			return true
		}
	}
	return false
}
