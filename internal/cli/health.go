package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"price-alerts/internal/engine"
	"price-alerts/internal/resilience"
)

// startHealth serves the health endpoints while ctx is alive. The returned
// function stops the monitor and shuts the listener down.
func (a *App) startHealth(ctx context.Context, eng *engine.Engine) func() {
	cfg := resilience.DefaultHealthMonitorConfig()
	if a.Config.Health.CheckInterval > 0 {
		cfg.CheckInterval = a.Config.Health.CheckInterval
	}

	monitor := resilience.NewHealthMonitor(cfg)
	eng.RegisterHealthChecks(monitor)
	monitor.SetAlertCallback(func(alert resilience.HealthAlert) {
		a.Logger.Warn().
			Str("component", alert.Component).
			Str("status", string(alert.Status)).
			Msg(alert.Message)
	})
	monitor.Start(ctx)

	srv := &http.Server{
		Addr:              a.Config.Health.Listen,
		Handler:           monitor.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Str("listen", srv.Addr).Msg("Health endpoint stopped")
		}
	}()
	a.Logger.Info().Str("listen", srv.Addr).Msg("Serving health endpoints")

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("Health endpoint shutdown")
		}
		monitor.Stop()
	}
}
