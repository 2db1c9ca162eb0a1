package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"rpc-gateway/connection"
	"rpc-gateway/middleware/ratelimit/application"
	"rpc-gateway/middleware/ratelimit/infra"
	"rpc-gateway/rpc"
)

type Options struct {
	Manager  *connection.Manager
	Identity IdentityFunc
	// MaxInFlight limita chamadas simultâneas por conexão; <= 0 não limita.
	MaxInFlight int
	// InFlightTimeout é a espera por uma vaga; <= 0 espera indefinidamente.
	InFlightTimeout time.Duration
	// AcceptLimiter limita a taxa de upgrades; nil não limita.
	AcceptLimiter  *rate.Limiter
	MaxMessageSize int64
	WriteTimeout   time.Duration
	Upgrader       *websocket.Upgrader
	Logger         *zap.Logger
}

// Server aceita conexões websocket e as liga ao Connection Manager.
type Server struct {
	manager         *connection.Manager
	identity        IdentityFunc
	maxInFlight     int
	inFlightTimeout time.Duration
	accept          *rate.Limiter
	maxMessageSize  int64
	writeTimeout    time.Duration
	upgrader        *websocket.Upgrader
	logger          *zap.Logger

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
}

func NewServer(opts Options) (*Server, error) {
	if opts.Manager == nil {
		return nil, errors.New("connection manager is required")
	}
	if opts.Identity == nil {
		opts.Identity = func(*http.Request) connection.Upstream { return connection.Upstream{} }
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 1 << 20
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Upgrader == nil {
		opts.Upgrader = &websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		manager:         opts.Manager,
		identity:        opts.Identity,
		maxInFlight:     opts.MaxInFlight,
		inFlightTimeout: opts.InFlightTimeout,
		accept:          opts.AcceptLimiter,
		maxMessageSize:  opts.MaxMessageSize,
		writeTimeout:    opts.WriteTimeout,
		upgrader:        opts.Upgrader,
		logger:          opts.Logger,
		sessions:        make(map[*session]struct{}),
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.accept != nil && !s.accept.Allow() {
		w.Header().Set("Retry-After", "1")
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}

	up := s.identity(r)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()
	ws.SetReadLimit(s.maxMessageSize)

	ctx := r.Context()
	conn, err := s.manager.Open(ctx, up)
	if err != nil {
		s.logger.Error("open connection failed", zap.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "internal error"),
			time.Now().Add(s.writeTimeout))
		return
	}

	sess := &session{
		server: s,
		ws:     ws,
		conn:   conn,
		slots:  s.slots(),
	}
	if !s.track(sess) {
		_ = conn.Close()
		return
	}
	defer s.untrack(sess)
	sess.serve(ctx)
}

func (s *Server) track(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// Sessions é o número de sockets abertos.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close envia close frame e derruba todos os sockets abertos; upgrades seguintes
// são recusados. O laço de leitura de cada sessão fecha a conexão no Manager.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.shutdown()
	}
	return nil
}

func (s *Server) slots() application.ConcurrencyService {
	if s.maxInFlight <= 0 {
		return application.ConcurrencyService{}
	}
	return application.ConcurrencyService{
		Pool:           infra.NewChanPool(s.maxInFlight),
		AcquireTimeout: s.inFlightTimeout,
	}
}

// session é o laço de leitura de uma conexão websocket.
type session struct {
	server *Server
	ws     *websocket.Conn
	conn   *connection.Connection
	slots  application.ConcurrencyService

	writeMu  sync.Mutex
	inFlight sync.WaitGroup
}

func (s *session) serve(ctx context.Context) {
	log := s.server.logger.With(zap.String("connection_id", s.conn.ID()))
	// Dispose é sempre o último evento do handler: espera as chamadas em voo antes.
	defer func() {
		s.inFlight.Wait()
		if err := s.conn.Close(); err != nil {
			log.Warn("close connection", zap.Error(err))
		}
	}()

	for {
		msgType, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.handleMessage(ctx, data)
	}
}

func (s *session) handleMessage(ctx context.Context, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.write(Response{JSONRPC: jsonrpcVersion, ID: nullID, Error: &ErrorObject{Code: CodeParseError, Message: "parse error"}})
		return
	}
	if req.JSONRPC != jsonrpcVersion || req.Method == "" {
		s.write(errorResponse(req.ID, rpc.InvalidRequest("malformed JSON-RPC 2.0 request")))
		return
	}

	args, err := decodeParams(req.Params)
	if err != nil {
		s.write(errorResponse(req.ID, err))
		return
	}

	if req.isNotification() {
		s.write(errorResponse(nil, s.conn.InvokeOneway(ctx, req.Method, args)))
		return
	}

	s.inFlight.Add(1)
	started := s.slots.Go(ctx, func() {
		defer s.inFlight.Done()
		res, err := s.conn.Invoke(ctx, req.Method, args)
		if err != nil {
			s.write(errorResponse(req.ID, err))
			return
		}
		s.write(resultResponse(req.ID, res))
	})
	if !started {
		s.inFlight.Done()
		s.write(errorResponse(req.ID, rpc.TooManyRequests(1).WithDetail("reason", "too many calls in flight")))
	}
}

func (s *session) shutdown() {
	s.writeMu.Lock()
	_ = s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(s.server.writeTimeout))
	s.writeMu.Unlock()
	_ = s.ws.Close()
}

func (s *session) write(resp Response) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.ws.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
	if err := s.ws.WriteJSON(resp); err != nil {
		s.server.logger.Debug("write response failed",
			zap.String("connection_id", s.conn.ID()), zap.Error(err))
	}
}
