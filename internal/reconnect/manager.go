// Package reconnect drives repeated provider connect calls with bounded
// exponential backoff. Gateway handshakes are flaky during QR-pairing
// windows; retrying with capped delays keeps the total wait interactive
// (about 20s on defaults) without hammering the vendor.
package reconnect

import (
	"context"
	"log/slog"
	"time"

	"wa-gateway/internal/metrics"
	"wa-gateway/internal/provider"
)

// Policy configures the retry loop. It is supplied once at construction and
// never mutated.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Jitter       time.Duration
}

// DefaultPolicy returns the stock policy: 5 attempts, 0.8s initial delay,
// 10s cap, 0.2s jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 800 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Jitter:       200 * time.Millisecond,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Manager orchestrates connect retries for any provider adapter.
type Manager struct {
	policy  Policy
	logger  *slog.Logger
	metrics *metrics.Metrics

	// wait is swapped in tests to observe the delay sequence.
	wait func(ctx context.Context, d time.Duration) bool
}

// New creates a retry manager with the given policy.
func New(policy Policy, logger *slog.Logger, metricRegistry *metrics.Metrics) *Manager {
	return &Manager{
		policy:  policy.normalized(),
		logger:  logger.With("component", "reconnect"),
		metrics: metricRegistry,
		wait:    sleep,
	}
}

// Connect calls the provider's connect capability until it succeeds, a
// fatal error is seen, or attempts are exhausted. Attempts are strictly
// sequential; the delay before attempt n+1 is the current backoff plus half
// the jitter magnitude, with the backoff doubling up to the cap. The offset
// is deliberately deterministic so retry timing is reproducible.
func (m *Manager) Connect(ctx context.Context, p provider.Provider, pc provider.Context, ref provider.ConnectionRef) (map[string]any, error) {
	logger := pc.Logger()
	delay := m.policy.InitialDelay

	for attempt := 1; ; attempt++ {
		result, err := p.Connect(ctx, pc, ref)
		if err == nil {
			m.countAttempt(ref.Provider, "success")
			return result, nil
		}

		final := attempt >= m.policy.MaxAttempts
		perr, typed := provider.AsError(err)

		switch {
		case typed && !perr.Transient:
			m.countAttempt(ref.Provider, "fatal")
			logger.Error("connect failed", "attempt", attempt, "error", err)
			return nil, err
		case final && typed:
			m.countAttempt(ref.Provider, "exhausted")
			logger.Error("connect attempts exhausted", "attempts", attempt, "error", err)
			return nil, err
		case final:
			// Untyped failure on the last attempt: surface it as a
			// typed error still marked transient so callers can see
			// a retry might have helped.
			m.countAttempt(ref.Provider, "exhausted")
			logger.Error("connect attempts exhausted", "attempts", attempt, "error", err)
			return nil, provider.NewError(ref.Provider, "connect", "unexpected failure while connecting", true, err)
		}

		wait := delay + m.policy.Jitter/2
		m.countAttempt(ref.Provider, "retry")
		logger.Warn("connect failed, retrying",
			"attempt", attempt,
			"max_attempts", m.policy.MaxAttempts,
			"wait", wait,
			"error", err,
		)

		if !m.wait(ctx, wait) {
			return nil, ctx.Err()
		}

		delay *= 2
		if delay > m.policy.MaxDelay {
			delay = m.policy.MaxDelay
		}
	}
}

func (m *Manager) countAttempt(providerID, outcome string) {
	if m.metrics != nil {
		m.metrics.ConnectAttempts.WithLabelValues(providerID, outcome).Inc()
	}
}

// sleep waits without occupying a thread; it returns false when the context
// is cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
