package engine

import (
	"context"
	"time"

	"price-alerts/internal/resilience"
	"price-alerts/internal/store"
)

// breakerSource is implemented by price sources guarded by a circuit breaker.
type breakerSource interface {
	Breaker() *resilience.CircuitBreaker
}

// RegisterHealthChecks adds checks for the store, the price source and the
// scheduler loop to m.
func (e *Engine) RegisterHealthChecks(m *resilience.HealthMonitor) {
	if p, ok := e.store.(store.Pinger); ok {
		m.RegisterComponent("store", resilience.PingCheck(p.Ping, time.Second))
	}
	if b, ok := e.source.(breakerSource); ok {
		m.RegisterComponent("price_source", resilience.BreakerCheck(b.Breaker()))
	}

	// A tick can legitimately take up to FetchTimeout plus DeliveryTimeout.
	maxAge := 2*e.opts.Interval + e.opts.FetchTimeout + e.opts.DeliveryTimeout
	m.RegisterComponent("scheduler", resilience.FreshnessCheck(func() (time.Time, bool) {
		r, ok := e.LastTick()
		return r.StartedAt, ok
	}, e.opts.Now, maxAge))

	m.RegisterComponent("persistence", func(ctx context.Context) resilience.ComponentHealth {
		if e.Dirty() {
			return resilience.ComponentHealth{
				Status:  resilience.HealthStatusDegraded,
				Message: "unsaved changes, last save failed",
			}
		}
		return resilience.ComponentHealth{Status: resilience.HealthStatusHealthy, Message: "in sync"}
	})
}
