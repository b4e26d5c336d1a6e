package infra

import (
	"context"
	"sync"
	"time"
)

// HealthStatus is the aggregate or per-probe health position.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// HealthCheck probes one dependency. Critical failures take the whole
// report down; non-critical failures only degrade it.
type HealthCheck struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Probe    func(ctx context.Context) error
}

// HealthResult is the outcome of one probe.
type HealthResult struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
	LatencyMS int64        `json:"latency_ms"`
}

// HealthReport aggregates every registered probe.
type HealthReport struct {
	Status HealthStatus   `json:"status"`
	Checks []HealthResult `json:"checks,omitempty"`
}

// Healthy reports whether the service should keep receiving traffic.
// Degraded still counts as healthy.
func (r HealthReport) Healthy() bool {
	return r.Status != HealthDown
}

// HealthRegistry holds the service's dependency probes. An empty
// registry reports ok, so a bare gateway stays healthy.
type HealthRegistry struct {
	mu     sync.RWMutex
	checks []HealthCheck
}

const defaultProbeTimeout = 5 * time.Second

// NewHealthRegistry creates an empty registry.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{}
}

// Register adds a probe. Registration order is report order.
func (r *HealthRegistry) Register(check HealthCheck) {
	if check.Timeout <= 0 {
		check.Timeout = defaultProbeTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, check)
}

// RegisterFunc adds a critical probe with the default timeout.
func (r *HealthRegistry) RegisterFunc(name string, probe func(ctx context.Context) error) {
	r.Register(HealthCheck{Name: name, Critical: true, Probe: probe})
}

// CheckAll runs every probe with its own timeout and aggregates the
// results. A probe that outlives its timeout is reported down with a
// timeout error; the probe goroutine is abandoned to its context.
func (r *HealthRegistry) CheckAll(ctx context.Context) HealthReport {
	r.mu.RLock()
	checks := make([]HealthCheck, len(r.checks))
	copy(checks, r.checks)
	r.mu.RUnlock()

	report := HealthReport{Status: HealthOK}
	for _, check := range checks {
		result := runProbe(ctx, check)
		report.Checks = append(report.Checks, result)
		if result.Status == HealthOK {
			continue
		}
		if check.Critical {
			report.Status = HealthDown
		} else if report.Status == HealthOK {
			report.Status = HealthDegraded
		}
	}
	return report
}

func runProbe(ctx context.Context, check HealthCheck) HealthResult {
	probeCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- check.Probe(probeCtx)
	}()

	result := HealthResult{Name: check.Name, Status: HealthOK}
	select {
	case err := <-errCh:
		if err != nil {
			result.Status = HealthDown
			result.Error = err.Error()
		}
	case <-probeCtx.Done():
		result.Status = HealthDown
		result.Error = probeCtx.Err().Error()
	}
	result.LatencyMS = time.Since(start).Milliseconds()
	return result
}
