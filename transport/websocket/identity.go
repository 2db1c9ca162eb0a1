package websocket

import (
	"net/http"
	"strings"

	"rpc-gateway/connection"
	"rpc-gateway/rpc"
)

// IdentityFunc extrai do request HTTP de upgrade o que o upstream já autenticou.
type IdentityFunc func(r *http.Request) connection.Upstream

// RegionMetadata é a chave de metadata com a região do cliente.
const RegionMetadata = "region"

type IdentityOption func(*identityConfig)

type identityConfig struct {
	session func(r *http.Request, up connection.Upstream) rpc.SessionExtender
}

// WithSessionExtender liga à conexão a sessão do upstream, renovada uma vez por chamada.
// fn recebe o request de upgrade já com o ator resolvido; nil deixa a conexão sem renovação.
func WithSessionExtender(fn func(r *http.Request, up connection.Upstream) rpc.SessionExtender) IdentityOption {
	return func(c *identityConfig) { c.session = fn }
}

// HeaderIdentity confia nos headers injetados pelo proxy autenticador à frente do
// gateway. Sem o header de ator a conexão é anônima.
func HeaderIdentity(actorHeader, regionHeader string, opts ...IdentityOption) IdentityFunc {
	var cfg identityConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(r *http.Request) connection.Upstream {
		up := connection.Upstream{Metadata: map[string]string{}}
		if actorHeader != "" {
			up.ActorID = strings.TrimSpace(r.Header.Get(actorHeader))
		}
		if regionHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(regionHeader)); v != "" {
				up.Metadata[RegionMetadata] = v
			}
		}
		if cfg.session != nil {
			if ext := cfg.session(r, up); ext != nil {
				up.Session = ext
			}
		}
		return up
	}
}
