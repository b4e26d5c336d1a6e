package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("counter labels %v: %v", labels, err)
	}
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestObserveToolExecution(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveToolExecution("openapi", "completed", 120*time.Millisecond)
	m.ObserveToolExecution("openapi", "completed", 80*time.Millisecond)
	m.ObserveToolExecution("builtin", "failed", 5*time.Millisecond)

	if got := counterValue(t, m.ToolExecutions, "openapi", "completed"); got != 2 {
		t.Errorf("openapi completed = %v, want 2", got)
	}
	if got := counterValue(t, m.ToolExecutions, "builtin", "failed"); got != 1 {
		t.Errorf("builtin failed = %v, want 1", got)
	}
}

func TestObserveCircuitTransition(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveCircuitTransition("tool_call", "open", "failure_threshold_reached")
	m.ObserveCircuitTransition("tool_call", "open", "failure_threshold_reached")

	got := counterValue(t, m.CircuitTransitions, "tool_call", "open", "failure_threshold_reached")
	if got != 2 {
		t.Errorf("transitions = %v, want 2", got)
	}
}

func TestConnectionGauge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	var dm dto.Metric
	if err := m.ActiveConnections.Write(&dm); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if got := dm.GetGauge().GetValue(); got != 1 {
		t.Errorf("active connections = %v, want 1", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveToolExecution("openapi", "completed", time.Second)
	m.ObserveTokenRequest("exchange", "hit")
	m.ObserveCircuitTransition("tool_call", "closed", "manual_reset")
	m.ObserveInventoryRefresh("mcp", "changed")
	m.ObserveRun("anthropic", time.Second)
	m.ConnectionOpened()
	m.ConnectionClosed()
}
