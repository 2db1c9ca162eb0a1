package guard

import (
	"context"

	"go.uber.org/multierr"

	"rpc-gateway/rpc"
)

// ResourceGuard decide se o ator da conexão pode tocar um recurso.
// Pode depender de consulta assíncrona (ex.: registros de compartilhamento).
type ResourceGuard = rpc.ResourceGuard

// ResourceGuardFunc adapta uma função em ResourceGuard.
type ResourceGuardFunc func(ctx context.Context, res rpc.Resource) (bool, error)

func (f ResourceGuardFunc) CanAccess(ctx context.Context, res rpc.Resource) (bool, error) {
	return f(ctx, res)
}

// DenyAll nega todo acesso. Usado para anônimos sem guard explícito.
var DenyAll ResourceGuard = ResourceGuardFunc(func(context.Context, rpc.Resource) (bool, error) {
	return false, nil
})

// Owner libera o recurso cujo dono é o próprio ator. Anônimos nunca são donos.
func Owner(actor rpc.Actor) ResourceGuard {
	return ResourceGuardFunc(func(_ context.Context, res rpc.Resource) (bool, error) {
		return !actor.IsAnonymous() && res.Owner == actor.ID, nil
	})
}

type anyOf []ResourceGuard

// AnyOf compõe guards com OU em curto-circuito: o primeiro que libera vence.
//
// Erros de membros não impedem os seguintes de serem avaliados; só são devolvidos
// (agregados) quando nenhum membro liberou.
func AnyOf(guards ...ResourceGuard) ResourceGuard {
	out := make(anyOf, 0, len(guards))
	for _, g := range guards {
		if g != nil {
			out = append(out, g)
		}
	}
	return out
}

func (a anyOf) CanAccess(ctx context.Context, res rpc.Resource) (bool, error) {
	var errs error
	for _, g := range a {
		ok, err := g.CanAccess(ctx, res)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, errs
}

// Set é o par de guards ligado a uma conexão.
type Set struct {
	Function FunctionGuard
	Resource ResourceGuard
}

// WithDefaults preenche o que faltar: AllowAll para funções e, para recursos,
// fallback (normalmente Owner+Shared ou DenyAll, conforme o ator).
func (s Set) WithDefaults(fallback ResourceGuard) Set {
	if s.Function == nil {
		s.Function = AllowAll
	}
	if s.Resource == nil {
		s.Resource = fallback
	}
	return s
}
