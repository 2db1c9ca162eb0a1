package connection

import (
	"context"

	"go.uber.org/atomic"

	"rpc-gateway/middleware/guard"
	"rpc-gateway/middleware/interceptor"
	"rpc-gateway/middleware/ratelimit"
	"rpc-gateway/rpc"
)

// Connection é uma sessão de transporte aceita, com handler exclusivo.
type Connection struct {
	id          string
	actor       rpc.Actor
	guards      guard.Set
	limiter     *ratelimit.Limiter
	handler     rpc.Handler
	interceptor *interceptor.Interceptor
	metadata    map[string]string

	manager *Manager
	closed  *atomic.Bool
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Actor() rpc.Actor { return c.actor }

func (c *Connection) Guards() guard.Set { return c.guards }

// Limiter é nil quando o rate limit está desligado.
func (c *Connection) Limiter() *ratelimit.Limiter { return c.limiter }

func (c *Connection) Handler() rpc.Handler { return c.handler }

func (c *Connection) Metadata(key string) string { return c.metadata[key] }

// Invoke passa a chamada pelo pipeline da conexão.
func (c *Connection) Invoke(ctx context.Context, operation string, args []any) (any, error) {
	return c.interceptor.Invoke(ctx, operation, args)
}

// InvokeOneway sempre devolve uma rejeição INVALID_REQUEST.
func (c *Connection) InvokeOneway(ctx context.Context, operation string, args []any) error {
	return c.interceptor.InvokeOneway(ctx, operation, args)
}

// Closed indica se Close já foi chamado.
func (c *Connection) Closed() bool { return c.closed.Load() }

// Close encerra a conexão. Chamadas repetidas são no-op e devolvem nil.
//
// Chamadas já despachadas ao handler não são abortadas.
func (c *Connection) Close() error {
	return c.manager.Close(c)
}
