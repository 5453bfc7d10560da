package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chat turn outcomes.
const (
	TurnComplete   = "complete"
	TurnIncomplete = "incomplete"
	TurnError      = "error"
	TurnRejected   = "rejected"
)

// Metrics groups the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	chatTurns    *prometheus.CounterVec
	trashItems   *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	streamTokens prometheus.Counter
}

// New registers the collectors on a fresh registry, alongside the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		chatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homora_chat_turns_total",
			Help: "Chat turns by outcome.",
		}, []string{"outcome"}),
		trashItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homora_trash_items_total",
			Help: "Per-item trash actions by action and outcome.",
		}, []string{"action", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homora_cache_requests_total",
			Help: "Query cache lookups by result.",
		}, []string{"result"}),
		streamTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homora_stream_tokens_total",
			Help: "Token events received from chat streams.",
		}),
	}
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.chatTurns,
		m.trashItems,
		m.cacheLookups,
		m.streamTokens,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ChatTurn(outcome string) {
	if m == nil {
		return
	}
	m.chatTurns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StreamToken() {
	if m == nil {
		return
	}
	m.streamTokens.Inc()
}

func (m *Metrics) TrashItem(action string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.trashItems.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
