package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the gateway. One
// instance registers against one registry; NewMetrics with the default
// registerer is the production path, a fresh registry the test path.
type Metrics struct {
	// ToolExecutions counts finished invocations.
	// Labels: source_type (openapi|mcp|builtin), status (completed|failed).
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures invocation latency in seconds.
	// Labels: source_type.
	ToolExecutionDuration *prometheus.HistogramVec

	// TokenRequests counts credential resolutions.
	// Labels: service (exchange|client_credentials|external_idp),
	// outcome (hit|miss|error).
	TokenRequests *prometheus.CounterVec

	// CircuitTransitions counts breaker state changes.
	// Labels: circuit_type, to, reason.
	CircuitTransitions *prometheus.CounterVec

	// InventoryRefreshes counts reconciliation rounds.
	// Labels: source_type, outcome (changed|unchanged|failed).
	InventoryRefreshes *prometheus.CounterVec

	// RunDuration measures one LLM run end to end in seconds.
	// Labels: provider.
	RunDuration *prometheus.HistogramVec

	// ActiveConnections gauges open WebSocket conversations.
	ActiveConnections prometheus.Gauge
}

// NewMetrics builds and registers the instrument set. A nil registerer
// uses the process-default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "tool_executions_total",
			Help:      "Finished tool invocations by source type and status.",
		}, []string{"source_type", "status"}),

		ToolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "toolgate",
			Name:      "tool_execution_duration_seconds",
			Help:      "Tool invocation latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source_type"}),

		TokenRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "token_requests_total",
			Help:      "Credential resolutions by token service and cache outcome.",
		}, []string{"service", "outcome"}),

		CircuitTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "circuit_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"circuit_type", "to", "reason"}),

		InventoryRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "inventory_refreshes_total",
			Help:      "Source reconciliation rounds by outcome.",
		}, []string{"source_type", "outcome"}),

		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "toolgate",
			Name:      "run_duration_seconds",
			Help:      "LLM run latency, tool round trips included.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"model"}),

		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "toolgate",
			Name:      "active_connections",
			Help:      "Open WebSocket conversation connections.",
		}),
	}

	reg.MustRegister(
		m.ToolExecutions,
		m.ToolExecutionDuration,
		m.TokenRequests,
		m.CircuitTransitions,
		m.InventoryRefreshes,
		m.RunDuration,
		m.ActiveConnections,
	)
	return m
}

// ObserveToolExecution records one finished invocation.
func (m *Metrics) ObserveToolExecution(sourceType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(sourceType, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(sourceType).Observe(d.Seconds())
}

// ObserveTokenRequest records one credential resolution.
func (m *Metrics) ObserveTokenRequest(service, outcome string) {
	if m == nil {
		return
	}
	m.TokenRequests.WithLabelValues(service, outcome).Inc()
}

// ObserveCircuitTransition records one breaker state change.
func (m *Metrics) ObserveCircuitTransition(circuitType, to, reason string) {
	if m == nil {
		return
	}
	m.CircuitTransitions.WithLabelValues(circuitType, to, reason).Inc()
}

// ObserveInventoryRefresh records one reconciliation round.
func (m *Metrics) ObserveInventoryRefresh(sourceType, outcome string) {
	if m == nil {
		return
	}
	m.InventoryRefreshes.WithLabelValues(sourceType, outcome).Inc()
}

// ObserveRun records one finished LLM run.
func (m *Metrics) ObserveRun(model string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(model).Observe(d.Seconds())
}

// ConnectionOpened increments the open-connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionClosed decrements the open-connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}
