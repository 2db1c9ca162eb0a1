package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"rpc-gateway/metrics"
	"rpc-gateway/middleware/guard"
	"rpc-gateway/middleware/interceptor"
	"rpc-gateway/middleware/ratelimit"
	"rpc-gateway/rpc"
)

// Upstream é o que o transporte (já autenticado) sabe sobre a conexão nova.
type Upstream struct {
	// ActorID vazio significa anônimo.
	ActorID string
	// Guards explícitos têm precedência sobre os padrões do ator.
	Guards *guard.Set
	// Metadata contextual, repassada ao handler (ex.: região do cliente).
	Metadata map[string]string
	// Session, se presente, é renovada uma vez por chamada.
	Session rpc.SessionExtender
}

type Options struct {
	Factory rpc.HandlerFactory
	// Limiters nil desliga o rate limit.
	Limiters *ratelimit.Registry
	// Shared alimenta o guard de compartilhamento dos atores conhecidos.
	Shared  *guard.SharedCache
	Metrics metrics.Recorder
	Logger  *zap.Logger
	// NewID gera o identificador da conexão; padrão uuid.NewString.
	NewID func() string
}

// Manager mantém o conjunto de conexões vivas.
type Manager struct {
	factory  rpc.HandlerFactory
	limiters *ratelimit.Registry
	shared   *guard.SharedCache
	metrics  metrics.Recorder
	logger   *zap.Logger
	newID    func() string

	mu   sync.Mutex
	live map[string]*Connection

	created observerList
	closed  observerList
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Factory == nil {
		return nil, errors.New("handler factory is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Manager{
		factory:  opts.Factory,
		limiters: opts.Limiters,
		shared:   opts.Shared,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		newID:    opts.NewID,
		live:     make(map[string]*Connection),
	}, nil
}

// Open cria e registra uma conexão. Se o handler falhar no Init, ele é descartado e
// nada é registrado.
func (m *Manager) Open(ctx context.Context, up Upstream) (*Connection, error) {
	actor := rpc.NewActor(up.ActorID)

	var guards guard.Set
	if up.Guards != nil {
		guards = *up.Guards
	}
	guards = guards.WithDefaults(guard.ForActor(actor, m.shared))

	id := m.newID()
	log := m.logger.With(zap.String("connection_id", id), zap.Stringer("actor", actor))

	c := &Connection{
		id:       id,
		actor:    actor,
		guards:   guards,
		handler:  m.factory(),
		metadata: copyMetadata(up.Metadata),
		manager:  m,
		closed:   atomic.NewBool(false),
	}
	if c.handler == nil {
		return nil, errors.New("handler factory returned nil")
	}

	var limiter interceptor.RateLimiter
	if m.limiters != nil {
		c.limiter = m.limiters.For(actor)
		limiter = c.limiter
	}

	session := rpc.Session{
		ConnectionID: id,
		Actor:        actor,
		Guard:        guards.Resource,
		Metadata:     copyMetadata(up.Metadata),
	}
	if err := c.handler.Init(ctx, session); err != nil {
		if derr := c.handler.Dispose(); derr != nil {
			err = multierr.Append(err, derr)
		}
		return nil, fmt.Errorf("init handler: %w", err)
	}

	icp, err := interceptor.New(interceptor.Options{
		Limiter: limiter,
		Guard:   guards.Function,
		Methods: c.handler.Methods(),
		Metrics: m.metrics,
		Logger:  log,
		Session: up.Session,
	})
	if err != nil {
		_ = c.handler.Dispose()
		return nil, fmt.Errorf("build interceptor: %w", err)
	}
	c.interceptor = icp

	m.mu.Lock()
	m.live[id] = c
	m.mu.Unlock()

	m.metrics.ConnectionCreated()
	log.Info("connection created")
	m.created.notify(c.handler)
	return c, nil
}

// Close encerra a conexão uma única vez: descarta o handler, remove do conjunto vivo e
// notifica os observadores. Chamadas seguintes não fazem nada.
func (m *Manager) Close(c *Connection) error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := c.handler.Dispose()

	m.mu.Lock()
	_, present := m.live[c.id]
	if present {
		delete(m.live, c.id)
	}
	m.mu.Unlock()

	if !present {
		return err
	}

	m.metrics.ConnectionClosed()
	log := m.logger.With(zap.String("connection_id", c.id), zap.Stringer("actor", c.actor))
	if err != nil {
		log.Warn("connection closed, handler dispose failed", zap.Error(err))
	} else {
		log.Info("connection closed")
	}
	m.closed.notify(c.handler)
	return err
}

// Count é o número de conexões vivas.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Get busca uma conexão viva pelo id.
func (m *Manager) Get(id string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.live[id]
	return c, ok
}

// OnCreated inscreve fn nas criações; a função devolvida cancela só esta inscrição.
func (m *Manager) OnCreated(fn Observer) (unsubscribe func()) {
	return m.created.add(fn)
}

// OnClosed inscreve fn nos fechamentos; a função devolvida cancela só esta inscrição.
func (m *Manager) OnClosed(fn Observer) (unsubscribe func()) {
	return m.closed.add(fn)
}

// Shutdown fecha todas as conexões vivas e agrega os erros de Dispose.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.live))
	for _, c := range m.live {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	var errs error
	for _, c := range conns {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		errs = multierr.Append(errs, m.Close(c))
	}
	return errs
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
