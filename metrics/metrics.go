// Package metrics contém os sinks de observabilidade do gateway: contadores de
// conexões criadas/fechadas e de chamadas por operação.
//
// O núcleo só escreve nesses sinks; quem expõe (promhttp) é o binário.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rpc-gateway/rpc"
)

// Recorder é o sink de métricas usado pelo pipeline e pelo Connection Manager.
type Recorder interface {
	CallAttempted(operation string)
	CallRejected(operation string, code rpc.Code)
	UnclassifiedOperation(operation string)
	ConnectionCreated()
	ConnectionClosed()
}

// Nop descarta tudo.
var Nop Recorder = nop{}

type nop struct{}

func (nop) CallAttempted(string) {}
func (nop) CallRejected(string, rpc.Code) {}
func (nop) UnclassifiedOperation(string) {}
func (nop) ConnectionCreated() {}
func (nop) ConnectionClosed() {}

// otherOperation substitui nomes fora do conjunto conhecido, para que um cliente não
// consiga explodir a cardinalidade mandando operações inventadas.
const otherOperation = "_other"

// Prometheus implementa Recorder com contadores registrados num prometheus.Registerer.
type Prometheus struct {
	calls        *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	unclassified prometheus.Counter
	created      prometheus.Counter
	closed       prometheus.Counter
	live         prometheus.Gauge

	known map[string]struct{}
}

type Option func(*Prometheus)

// WithKnownOperations restringe o label "operation" às operações informadas.
// Sem esta opção todo nome é aceito.
func WithKnownOperations(ops ...string) Option {
	return func(p *Prometheus) {
		p.known = make(map[string]struct{}, len(ops))
		for _, op := range ops {
			p.known[op] = struct{}{}
		}
	}
}

func NewPrometheus(reg prometheus.Registerer, opts ...Option) *Prometheus {
	f := promauto.With(reg)
	p := &Prometheus{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpcgw",
			Subsystem: "calls",
			Name:      "attempted_total",
			Help:      "Inbound calls that entered the interception pipeline.",
		}, []string{"operation"}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpcgw",
			Subsystem: "calls",
			Name:      "rejected_total",
			Help:      "Inbound calls answered with a rejection, by code.",
		}, []string{"operation", "code"}),
		unclassified: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rpcgw",
			Subsystem: "ratelimit",
			Name:      "unclassified_total",
			Help:      "Calls whose operation fell back to the fallback tier.",
		}),
		created: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rpcgw",
			Subsystem: "connections",
			Name:      "created_total",
			Help:      "Connections registered.",
		}),
		closed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rpcgw",
			Subsystem: "connections",
			Name:      "closed_total",
			Help:      "Connections removed.",
		}),
		live: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rpcgw",
			Subsystem: "connections",
			Name:      "live",
			Help:      "Connections currently registered.",
		}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Prometheus) label(op string) string {
	if p.known == nil {
		return op
	}
	if _, ok := p.known[op]; ok {
		return op
	}
	return otherOperation
}

func (p *Prometheus) CallAttempted(operation string) {
	p.calls.WithLabelValues(p.label(operation)).Inc()
}

func (p *Prometheus) CallRejected(operation string, code rpc.Code) {
	p.rejections.WithLabelValues(p.label(operation), string(code)).Inc()
}

func (p *Prometheus) UnclassifiedOperation(string) { p.unclassified.Inc() }

func (p *Prometheus) ConnectionCreated() {
	p.created.Inc()
	p.live.Inc()
}

func (p *Prometheus) ConnectionClosed() {
	p.closed.Inc()
	p.live.Dec()
}
