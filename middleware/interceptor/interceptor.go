// Package interceptor implementa o pipeline por chamada de uma conexão:
// sessão -> métrica -> rate limit -> guard de função -> despacho -> tradução do resultado.
//
// A ordem é estrita. O rate limit vem antes do guard para que chamadas negadas também
// gastem cota; sondar operações proibidas não escapa do throttling.
package interceptor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"rpc-gateway/metrics"
	"rpc-gateway/middleware/guard"
	"rpc-gateway/middleware/ratelimit/domain"
	"rpc-gateway/rpc"
)

// RateLimiter é o que o pipeline precisa do rate limit: um consumo por chamada.
type RateLimiter interface {
	Consume(ctx context.Context, operation string) (domain.Decision, error)
}

// ErrRateLimiter embrulha falhas do próprio limiter (não rejeições de cota).
var ErrRateLimiter = errors.New("rate limiter failure")

type Options struct {
	// Limiter nil desliga o rate limit.
	Limiter RateLimiter
	// Guard nil vale guard.AllowAll.
	Guard   guard.FunctionGuard
	Methods rpc.Methods
	Metrics metrics.Recorder
	Logger  *zap.Logger
	// Session, se presente, é renovada uma vez por requisição.
	Session rpc.SessionExtender
}

// Interceptor envolve a tabela de despacho de um handler.
// É seguro para chamadas concorrentes se os Methods também forem.
type Interceptor struct {
	limiter RateLimiter
	guard   guard.FunctionGuard
	methods rpc.Methods
	metrics metrics.Recorder
	logger  *zap.Logger
	session rpc.SessionExtender
}

func New(opts Options) (*Interceptor, error) {
	if opts.Methods == nil {
		return nil, errors.New("dispatch table is required")
	}
	if opts.Guard == nil {
		opts.Guard = guard.AllowAll
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Interceptor{
		limiter: opts.Limiter,
		guard:   opts.Guard,
		methods: opts.Methods,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		session: opts.Session,
	}, nil
}

// Invoke executa o pipeline para uma chamada request/response.
//
// Retorna o resultado do método sem alteração, uma *rpc.Rejection, ou um erro que
// embrulha ErrRateLimiter quando o limiter está quebrado.
func (i *Interceptor) Invoke(ctx context.Context, operation string, args []any) (any, error) {
	if i.session != nil {
		i.session.Extend(ctx)
	}
	i.metrics.CallAttempted(operation)
	log := i.logger.With(zap.String("operation", operation))

	if i.limiter != nil {
		dec, err := i.limiter.Consume(ctx, operation)
		if err != nil {
			log.Error("rate limiter failed", zap.Error(err))
			i.metrics.CallRejected(operation, rpc.CodeInternal)
			return nil, fmt.Errorf("%w: %s: %w", ErrRateLimiter, operation, err)
		}
		if !dec.Allowed {
			rej := rpc.TooManyRequests(dec.RetryAfterSeconds())
			log.Info("rate limit exceeded",
				zap.String("tier", string(dec.Tier)),
				zap.Int("retry_after", dec.RetryAfterSeconds()),
			)
			i.metrics.CallRejected(operation, rej.Code())
			return nil, rej
		}
	}

	if !i.guard.CanAccess(operation) {
		log.Error("permission denied")
		rej := rpc.PermissionDenied("operation %q is not allowed", operation)
		i.metrics.CallRejected(operation, rej.Code())
		return nil, rej
	}

	method, ok := i.methods[operation]
	if !ok {
		log.Warn("unknown operation")
		rej := rpc.InvalidRequest("unknown operation %q", operation)
		i.metrics.CallRejected(operation, rej.Code())
		return nil, rej
	}

	res, err := dispatch(ctx, method, args)
	if err == nil {
		return res, nil
	}

	if rej, ok := rpc.AsRejection(err); ok {
		log.Info("handler rejected call", zap.String("code", string(rej.Code())), zap.Error(err))
		i.metrics.CallRejected(operation, rej.Code())
		return nil, err
	}

	log.Error("handler failed", zap.Error(err))
	i.metrics.CallRejected(operation, rpc.CodeInternal)
	return nil, rpc.Internal()
}

// InvokeOneway sempre rejeita: este canal é só request/response.
// Nada é contado nem consumido e o handler não é tocado.
func (i *Interceptor) InvokeOneway(_ context.Context, operation string, _ []any) error {
	i.logger.Warn("one-way message rejected", zap.String("operation", operation))
	return rpc.InvalidRequest("one-way messages are not supported")
}

// dispatch converte panic do método em erro comum.
func dispatch(ctx context.Context, m rpc.Method, args []any) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in method: %v", r)
		}
	}()
	return m(ctx, args)
}
