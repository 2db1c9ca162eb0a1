package rpc

import "context"

// Method é uma operação invocável remotamente.
type Method func(ctx context.Context, args []any) (any, error)

// Methods é a tabela de despacho explícita de um handler: o conjunto fechado de
// operações que um chamador pode invocar.
type Methods map[string]Method

// Names lista as operações da tabela (ordem indefinida).
func (m Methods) Names() []string {
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	return out
}

// ResourceGuard é a visão que um handler tem do guard de recursos da conexão.
// A implementação concreta fica em middleware/guard.
type ResourceGuard interface {
	CanAccess(ctx context.Context, res Resource) (bool, error)
}

// Resource descreve algo protegido por ownership ou compartilhamento.
type Resource struct {
	Kind  string
	ID    string
	Owner string
}

// Session é o contexto entregue ao handler privado de uma conexão na inicialização.
type Session struct {
	ConnectionID string
	Actor        Actor
	Guard        ResourceGuard
	// Metadata vem do upstream (ex.: região do cliente).
	Metadata map[string]string
}

// Handler é o objeto de negócio instanciado por conexão.
//
// Init é chamado uma vez antes de qualquer chamada; Dispose uma vez no fechamento.
// Uma instância nunca é compartilhada entre conexões.
type Handler interface {
	Init(ctx context.Context, s Session) error
	Methods() Methods
	Dispose() error
}

// HandlerFactory cria um handler novo para cada conexão.
type HandlerFactory func() Handler

// SessionExtender renova a sessão do upstream; chamado uma vez por requisição.
type SessionExtender interface {
	Extend(ctx context.Context)
}

// SessionExtenderFunc adapta uma função em SessionExtender.
type SessionExtenderFunc func(ctx context.Context)

func (f SessionExtenderFunc) Extend(ctx context.Context) { f(ctx) }
