package infrastructure

import (
	"net/http"

	"project_chatflow/internal/entities"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts session lifecycle events per tenant
type Metrics struct {
	registry *prometheus.Registry

	Sessions      *prometheus.CounterVec
	NodesExecuted *prometheus.CounterVec
	SendFailures  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatflow_sessions_total",
			Help: "Workflow sessions by lifecycle transition",
		}, []string{"tenant", "status"}),
		NodesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatflow_nodes_executed_total",
			Help: "Executed workflow nodes by type",
		}, []string{"tenant", "type"}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatflow_send_failures_total",
			Help: "Outbound sends that failed and stalled a session",
		}, []string{"tenant"}),
	}
	m.registry.MustRegister(m.Sessions, m.NodesExecuted, m.SendFailures)
	return m
}

// Observe records one session event; it is the event bus subscriber
func (m *Metrics) Observe(event entities.SessionEvent) {
	tenant := event.TenantID
	switch event.Kind {
	case entities.EventSessionStarted:
		m.Sessions.WithLabelValues(tenant, "started").Inc()
	case entities.EventSessionCompleted:
		m.Sessions.WithLabelValues(tenant, string(entities.SessionCompleted)).Inc()
	case entities.EventSessionDropped:
		m.Sessions.WithLabelValues(tenant, string(entities.SessionDropped)).Inc()
	case entities.EventSessionErrored:
		m.Sessions.WithLabelValues(tenant, string(entities.SessionError)).Inc()
	case entities.EventNodeExecuted:
		m.NodesExecuted.WithLabelValues(tenant, event.NodeType).Inc()
	case entities.EventSendFailed:
		m.SendFailures.WithLabelValues(tenant).Inc()
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
