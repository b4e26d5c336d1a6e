// Package backoff computes growing wait intervals for retries and
// async-poll loops.
package backoff

import (
	"math"
	"math/rand"
	"time"

	"github.com/tesserahq/toolgate/pkg/models"
)

// Policy describes an exponential backoff curve.
type Policy struct {
	// InitialMs is the first interval in milliseconds.
	InitialMs float64
	// MaxMs caps the interval.
	MaxMs float64
	// Factor multiplies the interval on each attempt.
	Factor float64
	// Jitter in [0,1] randomizes the interval upward by that fraction.
	Jitter float64
}

// Compute returns the interval for attempt (1-indexed):
// min(maxMs, initialMs*factor^(attempt-1)*(1 + jitter*random)).
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand is Compute with an injected random value in [0.0, 1.0),
// for deterministic tests.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// DefaultPolicy suits transient-failure retries against provider and
// token endpoints. Initial: 100ms, Max: 30s, Factor: 2, Jitter: 10%.
func DefaultPolicy() Policy {
	return Policy{
		InitialMs: 100,
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.1,
	}
}

// FromPoll builds the deterministic curve an async-poll loop follows:
// poll_interval growing by backoff_multiplier up to max_interval, no
// jitter so attempt timing stays predictable against the upstream.
func FromPoll(poll *models.PollConfig) Policy {
	p := Policy{}
	if poll != nil {
		p.InitialMs = poll.PollIntervalSeconds * 1000
		p.MaxMs = poll.MaxIntervalSeconds * 1000
		p.Factor = poll.BackoffMultiplier
	}
	if p.InitialMs <= 0 {
		p.InitialMs = 2000
	}
	if p.Factor <= 0 {
		p.Factor = 1
	}
	if p.MaxMs <= 0 {
		p.MaxMs = 60000
	}
	if p.MaxMs < p.InitialMs {
		p.MaxMs = p.InitialMs
	}
	return p
}
