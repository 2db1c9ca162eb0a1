package domain

import "context"

// SlotPool limita quantas chamadas de uma mesma conexão ficam em voo ao mesmo tempo
// quando o transporte permite pipelining.
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	// InUse é o número de vagas ocupadas agora.
	InUse() int
}
