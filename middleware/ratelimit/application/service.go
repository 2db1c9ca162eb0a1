package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"rpc-gateway/middleware/ratelimit/domain"
)

// Config reúne as cotas e a tabela de classificação usadas pelo Service.
type Config struct {
	// Quotas por tier para atores autenticados.
	Quotas map[domain.Tier]domain.Quota
	// Anonymous é o pool único de todos os atores anônimos.
	Anonymous domain.Quota
	// AnonymousTiered divide o pool anônimo por tier (com as cotas de Quotas).
	AnonymousTiered bool

	Table map[string]domain.Tier
	// Fallback é o tier das operações fora de Table. Vazio = o mais restritivo.
	Fallback domain.Tier
}

// DefaultConfig traz as cotas padrão: 5/60s, 15/60s, 10/60s e 10/60s para anônimos.
func DefaultConfig() Config {
	return Config{
		Quotas: map[domain.Tier]domain.Quota{
			domain.TierCriticalExpensive: {Points: 5, Window: time.Minute},
			domain.TierCriticalCheap:     {Points: 15, Window: time.Minute},
			domain.TierNonCritical:       {Points: 10, Window: time.Minute},
		},
		Anonymous: domain.Quota{Points: 10, Window: time.Minute},
		Table:     map[string]domain.Tier{},
	}
}

// Service concentra a regra de aplicação do rate limit por tier.
//
// Ele não sabe nada sobre o transporte, apenas retorna uma decisão.
type Service struct {
	store      domain.WindowStore
	stats      domain.StatsStore
	classifier Classifier
	cfg        Config
	logger     *zap.Logger
	onFallback func(operation string)
	// warnings de operação não classificada são amostrados; o hook conta todas.
	fallbackLog *rate.Sometimes
	now         func() time.Time
}

type Option func(*Service)

func WithStats(stats domain.StatsStore) Option {
	return func(s *Service) { s.stats = stats }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithFallbackHook é chamado a cada operação não classificada (ex.: incrementar métrica).
func WithFallbackHook(fn func(operation string)) Option {
	return func(s *Service) { s.onFallback = fn }
}

// NewService valida a configuração e cria o serviço.
func NewService(store domain.WindowStore, cfg Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("window store is required")
	}
	if len(cfg.Quotas) == 0 {
		return nil, errors.New("at least one tier quota is required")
	}
	for tier, q := range cfg.Quotas {
		if !q.Valid() {
			return nil, fmt.Errorf("tier %q must have positive points and window", tier)
		}
	}
	if !cfg.Anonymous.Valid() {
		return nil, errors.New("anonymous quota must have positive points and window")
	}
	if cfg.Fallback == "" {
		cfg.Fallback = MostRestrictive(cfg.Quotas)
	}

	classifier := NewClassifier(cfg.Table, cfg.Fallback)
	if err := classifier.validate(cfg.Quotas); err != nil {
		return nil, err
	}

	s := &Service{
		store:       store,
		classifier:  classifier,
		cfg:         cfg,
		logger:      zap.NewNop(),
		fallbackLog: &rate.Sometimes{First: 10, Interval: 10 * time.Second},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Fallback é o tier efetivo para operações não classificadas.
func (s *Service) Fallback() domain.Tier { return s.classifier.Fallback() }

// Consume gasta um ponto do tier da operação para o ator.
// actorID vazio é o ator anônimo.
//
// Erro significa falha do store (não rejeição) e deve ser propagado.
func (s *Service) Consume(ctx context.Context, actorID, operation string) (domain.Decision, error) {
	tier, classified := s.classifier.Classify(operation)
	if !classified {
		s.fallbackLog.Do(func() {
			s.logger.Warn("operation not in classification table, using fallback tier",
				zap.String("operation", operation),
				zap.String("tier", string(tier)),
			)
		})
		if s.onFallback != nil {
			s.onFallback(operation)
		}
	}

	key, quota, tier := s.resolve(actorID, tier)

	dec, err := s.store.Take(ctx, key, quota)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("take %s: %w", key, err)
	}
	dec.Tier = tier
	dec.Fallback = !classified

	if s.stats != nil {
		ev := domain.StatsEvent{
			Key:       key,
			Tier:      tier,
			Allowed:   dec.Allowed,
			Operation: operation,
			Fallback:  !classified,
			At:        s.now(),
		}
		if err := s.stats.Record(ctx, ev); err != nil {
			s.logger.Debug("rate limit stats not recorded", zap.Error(err))
		}
	}
	return dec, nil
}

func (s *Service) resolve(actorID string, tier domain.Tier) (domain.Key, domain.Quota, domain.Tier) {
	if actorID == "" {
		if s.cfg.AnonymousTiered {
			return domain.Key("anonymous:" + string(tier)), s.cfg.Quotas[tier], tier
		}
		return domain.Key("anonymous"), s.cfg.Anonymous, domain.TierAnonymous
	}
	return domain.Key("user:" + actorID + ":" + string(tier)), s.cfg.Quotas[tier], tier
}
