package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func healthy(ctx context.Context) ComponentHealth {
	return ComponentHealth{Status: HealthStatusHealthy, Message: "ok"}
}

func TestRunChecksAggregatesWorstStatus(t *testing.T) {
	m := NewHealthMonitor(HealthMonitorConfig{CheckTimeout: time.Second})
	m.RegisterComponent("store", healthy)
	m.RegisterComponent("price_source", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: HealthStatusDegraded, Message: "half-open"}
	})

	m.RunChecks(context.Background())

	health := m.GetHealth()
	require.Equal(t, HealthStatusDegraded, health.Status)
	require.False(t, m.IsHealthy())

	names := make([]string, 0, len(health.Components))
	for _, c := range health.Components {
		names = append(names, c.Name)
	}
	require.Equal(t, []string{"goroutines", "price_source", "store"}, names)

	store, ok := m.GetComponentHealth("store")
	require.True(t, ok)
	require.Equal(t, HealthStatusHealthy, store.Status)
	require.False(t, store.LastCheck.IsZero())
}

func TestPanickingCheckIsUnhealthy(t *testing.T) {
	m := NewHealthMonitor(HealthMonitorConfig{})
	m.RegisterComponent("broken", func(ctx context.Context) ComponentHealth {
		panic("boom")
	})

	m.RunChecks(context.Background())

	h, ok := m.GetComponentHealth("broken")
	require.True(t, ok)
	require.Equal(t, HealthStatusUnhealthy, h.Status)
	require.Contains(t, h.Message, "boom")
	require.Equal(t, HealthStatusUnhealthy, m.GetHealth().Status)
}

func TestAlertRaisedOnlyOnTransition(t *testing.T) {
	var (
		mu     sync.Mutex
		alerts []HealthAlert
		down   = true
	)
	m := NewHealthMonitor(HealthMonitorConfig{})
	m.SetAlertCallback(func(a HealthAlert) {
		mu.Lock()
		alerts = append(alerts, a)
		mu.Unlock()
	})
	m.RegisterComponent("store", func(ctx context.Context) ComponentHealth {
		if down {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: "disk full"}
		}
		return ComponentHealth{Status: HealthStatusHealthy}
	})

	m.RunChecks(context.Background())
	m.RunChecks(context.Background())
	require.Len(t, alerts, 1)
	require.Equal(t, "store", alerts[0].Component)
	require.Equal(t, "disk full", alerts[0].Message)

	down = false
	m.RunChecks(context.Background())
	down = true
	m.RunChecks(context.Background())
	require.Len(t, alerts, 2)
}

func TestStartStop(t *testing.T) {
	m := NewHealthMonitor(HealthMonitorConfig{CheckInterval: time.Hour})
	m.RegisterComponent("store", healthy)

	m.Start(context.Background())
	require.Eventually(t, func() bool {
		_, ok := m.GetComponentHealth("store")
		return ok
	}, time.Second, 10*time.Millisecond)
	m.Stop()
	m.Stop()
}

func TestHTTPHandlers(t *testing.T) {
	m := NewHealthMonitor(HealthMonitorConfig{})
	down := false
	m.RegisterComponent("store", func(ctx context.Context) ComponentHealth {
		if down {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: "gone"}
		}
		return ComponentHealth{Status: HealthStatusHealthy}
	})
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	get := func(path string) (int, map[string]any) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	code, _ := get("/livez")
	require.Equal(t, http.StatusOK, code)

	// Nothing has been checked yet.
	code, body := get("/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "not_ready", body["status"])

	m.RunChecks(context.Background())
	code, body = get("/readyz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ready", body["status"])

	down = true
	m.RunChecks(context.Background())
	code, body = get("/healthz")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, string(HealthStatusUnhealthy), body["status"])
	require.NotEmpty(t, body["components"])
}

func TestPingCheck(t *testing.T) {
	ctx := context.Background()

	h := PingCheck(func(ctx context.Context) error { return nil }, time.Second)(ctx)
	require.Equal(t, HealthStatusHealthy, h.Status)

	h = PingCheck(func(ctx context.Context) error { return errors.New("refused") }, time.Second)(ctx)
	require.Equal(t, HealthStatusUnhealthy, h.Status)
	require.Contains(t, h.Message, "refused")

	h = PingCheck(func(ctx context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}, time.Millisecond)(ctx)
	require.Equal(t, HealthStatusDegraded, h.Status)
}

func TestBreakerCheckFollowsState(t *testing.T) {
	cb, now := newTestBreaker()
	check := BreakerCheck(cb)
	ctx := context.Background()

	require.Equal(t, HealthStatusHealthy, check(ctx).Status)

	_ = cb.Execute(func() error { return errUpstream })
	_ = cb.Execute(func() error { return errUpstream })
	h := check(ctx)
	require.Equal(t, HealthStatusUnhealthy, h.Status)
	require.Equal(t, int64(2), h.Details["total_failures"])

	*now = now.Add(2 * time.Minute)
	var probing ComponentHealth
	require.NoError(t, cb.Execute(func() error {
		probing = check(ctx)
		return nil
	}))
	require.Equal(t, HealthStatusDegraded, probing.Status)
	require.Equal(t, HealthStatusHealthy, check(ctx).Status)
}

func TestFreshnessCheck(t *testing.T) {
	ctx := context.Background()
	var (
		last time.Time
		seen bool
	)
	check := FreshnessCheck(func() (time.Time, bool) { return last, seen }, nil, time.Minute)

	require.Equal(t, HealthStatusUnknown, check(ctx).Status)

	last, seen = time.Now().Add(-10*time.Second), true
	require.Equal(t, HealthStatusHealthy, check(ctx).Status)

	last = time.Now().Add(-5 * time.Minute)
	require.Equal(t, HealthStatusUnhealthy, check(ctx).Status)
}
