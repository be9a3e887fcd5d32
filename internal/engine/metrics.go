package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/xela07ax/spaceai-governance/internal/domain"
)

type Metrics struct {
	// Latency: полный прогон пайплайна (гейты + исполнение)
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее кол-во запросов
	TotalRequests *prometheus.CounterVec

	// Errors: классификация отказов по таксономии
	ErrorTotal *prometheus.CounterVec

	// Отказы гейтов (security, compliance, capacity, intercept)
	GateRejections *prometheus.CounterVec

	ActiveRequests prometheus.Gauge

	// Длительность вызовов capability через агентов
	CapabilityDuration *prometheus.HistogramVec

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge

	// Шина: доставлено / сброшено по переполнению inbox
	BusEvents *prometheus.CounterVec

	AdminCommands *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "governance_request_duration_seconds",
			Help:    "Histogram of pipeline latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind", "outcome"}),

		TotalRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_requests_total",
			Help: "Total number of processed requests.",
		}, []string{"kind"}),

		ErrorTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_errors_total",
			Help: "Total number of failed requests by error kind.",
		}, []string{"type"}),

		GateRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_gate_rejections_total",
			Help: "Requests rejected before execution, by gate.",
		}, []string{"gate"}),

		ActiveRequests: f.NewGauge(prometheus.GaugeOpts{
			Name: "governance_active_requests",
			Help: "Requests currently inside the pipeline.",
		}),

		CapabilityDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "governance_capability_duration_seconds",
			Help:    "Capability invocation latency by agent.",
			Buckets: prometheus.DefBuckets,
		}, []string{"capability_id", "agent", "status"}),

		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "governance_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open).",
		}, []string{"capability_id"}),

		AuditBufferFill: f.NewGauge(prometheus.GaugeOpts{
			Name: "governance_audit_buffer_utilization",
			Help: "Current number of records in audit buffer.",
		}),

		BusEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_bus_events_total",
			Help: "Cross-agent events by delivery outcome.",
		}, []string{"event", "target", "outcome"}),

		AdminCommands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_admin_commands_total",
			Help: "Administrative commands by outcome.",
		}, []string{"command", "status"}),
	}
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// CapabilityExecuted наблюдатель движка исполнения
func (m *Metrics) CapabilityExecuted(capID string, agent domain.AgentID, success bool, d time.Duration) {
	m.CapabilityDuration.WithLabelValues(capID, string(agent), statusLabel(success)).Observe(d.Seconds())
}

// EventDelivered / EventDropped наблюдатель шины
func (m *Metrics) EventDelivered(name domain.EventName, target domain.AgentID) {
	m.BusEvents.WithLabelValues(string(name), string(target), "delivered").Inc()
}

func (m *Metrics) EventDropped(name domain.EventName, target domain.AgentID) {
	m.BusEvents.WithLabelValues(string(name), string(target), "dropped").Inc()
}

// BreakerChanged подписка на ReliabilityWrapper
func (m *Metrics) BreakerChanged(capID string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitBreakerState.WithLabelValues(capID).Set(v)
}

// AdminCommand наблюдатель админ-плоскости
func (m *Metrics) AdminCommand(command string, ok bool) {
	m.AdminCommands.WithLabelValues(command, statusLabel(ok)).Inc()
}
