package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
)

func (s HealthStatus) rank() int {
	switch s {
	case HealthStatusHealthy:
		return 0
	case HealthStatusDegraded:
		return 1
	case HealthStatusUnhealthy:
		return 3
	default:
		return 2
	}
}

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string                 `json:"name"`
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message"`
	LastCheck time.Time              `json:"last_check"`
	Latency   time.Duration          `json:"latency"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthCheck represents a health check function.
type HealthCheck func(ctx context.Context) ComponentHealth

// HealthAlert is raised when a component turns unhealthy.
type HealthAlert struct {
	Component string
	Status    HealthStatus
	Message   string
	Timestamp time.Time
}

// HealthMonitorConfig holds health monitor configuration.
type HealthMonitorConfig struct {
	CheckInterval      time.Duration
	CheckTimeout       time.Duration
	GoroutineThreshold int
}

// DefaultHealthMonitorConfig returns default configuration.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		CheckInterval:      30 * time.Second,
		CheckTimeout:       10 * time.Second,
		GoroutineThreshold: 1000,
	}
}

// HealthMonitor periodically runs registered checks and serves the cached
// result over HTTP.
type HealthMonitor struct {
	mu sync.RWMutex

	cfg        HealthMonitorConfig
	startTime  time.Time
	components map[string]HealthCheck
	results    map[string]ComponentHealth
	overall    HealthStatus
	onAlert    func(HealthAlert)

	totalChecks  int64
	failedChecks int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthMonitor creates a new health monitor.
func NewHealthMonitor(cfg HealthMonitorConfig) *HealthMonitor {
	d := DefaultHealthMonitorConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = d.CheckInterval
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = d.CheckTimeout
	}
	if cfg.GoroutineThreshold <= 0 {
		cfg.GoroutineThreshold = d.GoroutineThreshold
	}
	return &HealthMonitor{
		cfg:        cfg,
		startTime:  time.Now(),
		components: make(map[string]HealthCheck),
		results:    make(map[string]ComponentHealth),
		overall:    HealthStatusUnknown,
	}
}

// RegisterComponent registers a health check for a component.
func (m *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = check
}

// SetAlertCallback sets the callback for health alerts.
func (m *HealthMonitor) SetAlertCallback(callback func(HealthAlert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAlert = callback
}

// Start runs the checks immediately and then every CheckInterval until Stop
// or ctx is cancelled.
func (m *HealthMonitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()

		m.RunChecks(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RunChecks(ctx)
			}
		}
	}()
}

// Stop stops the monitoring loop and waits for it to exit.
func (m *HealthMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// RunChecks runs every registered check concurrently and records the results.
func (m *HealthMonitor) RunChecks(ctx context.Context) {
	m.mu.RLock()
	components := make(map[string]HealthCheck, len(m.components))
	for k, v := range m.components {
		components[k] = v
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	var (
		wg      conc.WaitGroup
		resMu   sync.Mutex
		results = make([]ComponentHealth, 0, len(components)+1)
	)
	record := func(h ComponentHealth) {
		resMu.Lock()
		results = append(results, h)
		resMu.Unlock()
	}

	for name, check := range components {
		wg.Go(func() {
			start := time.Now()
			var health ComponentHealth
			var pc panics.Catcher
			pc.Try(func() { health = check(ctx) })
			if r := pc.Recovered(); r != nil {
				health = ComponentHealth{
					Status:  HealthStatusUnhealthy,
					Message: fmt.Sprintf("check panicked: %v", r.Value),
				}
			}
			health.Name = name
			health.LastCheck = time.Now()
			if health.Latency == 0 {
				health.Latency = time.Since(start)
			}
			record(health)
		})
	}
	wg.Go(func() { record(m.checkGoroutines()) })
	wg.Wait()

	m.mu.Lock()
	m.totalChecks++
	overall := HealthStatusHealthy
	var alerts []HealthAlert
	for _, h := range results {
		prev, seen := m.results[h.Name]
		m.results[h.Name] = h
		if h.Status.rank() > overall.rank() {
			overall = h.Status
		}
		if h.Status == HealthStatusUnhealthy {
			m.failedChecks++
			if !seen || prev.Status != HealthStatusUnhealthy {
				alerts = append(alerts, HealthAlert{
					Component: h.Name,
					Status:    h.Status,
					Message:   h.Message,
					Timestamp: h.LastCheck,
				})
			}
		}
	}
	m.overall = overall
	onAlert := m.onAlert
	m.mu.Unlock()

	if onAlert != nil {
		for _, a := range alerts {
			onAlert(a)
		}
	}
}

func (m *HealthMonitor) checkGoroutines() ComponentHealth {
	n := runtime.NumGoroutine()
	health := ComponentHealth{
		Name:      "goroutines",
		Status:    HealthStatusHealthy,
		Message:   fmt.Sprintf("Goroutine count: %d", n),
		LastCheck: time.Now(),
		Details:   map[string]interface{}{"count": n},
	}
	// Fetches that ignore their timeout leak goroutines; a steady climb shows here.
	if n > m.cfg.GoroutineThreshold {
		health.Status = HealthStatusDegraded
		health.Message = fmt.Sprintf("High goroutine count: %d", n)
	}
	return health
}

// SystemHealth represents overall system health.
type SystemHealth struct {
	Status        HealthStatus      `json:"status"`
	Uptime        string            `json:"uptime"`
	StartTime     time.Time         `json:"start_time"`
	Components    []ComponentHealth `json:"components"`
	MemoryAllocMB uint64            `json:"memory_alloc_mb"`
	TotalChecks   int64             `json:"total_checks"`
	FailedChecks  int64             `json:"failed_checks"`
}

// GetHealth returns the most recent results.
func (m *HealthMonitor) GetHealth() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	components := make([]ComponentHealth, 0, len(m.results))
	for _, h := range m.results {
		components = append(components, h)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return SystemHealth{
		Status:        m.overall,
		Uptime:        time.Since(m.startTime).Round(time.Second).String(),
		StartTime:     m.startTime,
		Components:    components,
		MemoryAllocMB: memStats.Alloc / 1024 / 1024,
		TotalChecks:   m.totalChecks,
		FailedChecks:  m.failedChecks,
	}
}

// GetComponentHealth returns health for a specific component.
func (m *HealthMonitor) GetComponentHealth(name string) (ComponentHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.results[name]
	return h, ok
}

// IsHealthy returns true if the system is healthy.
func (m *HealthMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overall == HealthStatusHealthy
}

// Handler serves /healthz (full report), /livez and /readyz.
func (m *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", m.HealthHTTPHandler())
	mux.HandleFunc("/livez", m.LivenessHTTPHandler())
	mux.HandleFunc("/readyz", m.ReadinessHTTPHandler())
	return mux
}

// HealthHTTPHandler returns an HTTP handler for health checks.
func (m *HealthMonitor) HealthHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := m.GetHealth()
		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(health)
	}
}

// LivenessHTTPHandler returns an HTTP handler for liveness checks.
func (m *HealthMonitor) LivenessHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"alive"}`))
	}
}

// ReadinessHTTPHandler returns an HTTP handler for readiness checks.
func (m *HealthMonitor) ReadinessHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := m.GetHealth().Status
		w.Header().Set("Content-Type", "application/json")
		if status == HealthStatusHealthy || status == HealthStatusDegraded {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ready"}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not_ready"}`))
	}
}

// PingCheck reports a dependency unhealthy when ping fails and degraded when
// it is slower than slow.
func PingCheck(ping func(ctx context.Context) error, slow time.Duration) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := ping(ctx)
		h := ComponentHealth{Latency: time.Since(start)}

		switch {
		case err != nil:
			h.Status = HealthStatusUnhealthy
			h.Message = fmt.Sprintf("ping failed: %v", err)
		case slow > 0 && h.Latency > slow:
			h.Status = HealthStatusDegraded
			h.Message = fmt.Sprintf("slow: %v", h.Latency)
		default:
			h.Status = HealthStatusHealthy
			h.Message = fmt.Sprintf("ok: %v", h.Latency)
		}
		return h
	}
}

// BreakerCheck maps a circuit breaker's state onto health: open is unhealthy,
// half-open is degraded.
func BreakerCheck(cb *CircuitBreaker) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		stats := cb.Stats()
		h := ComponentHealth{
			Details: map[string]interface{}{
				"state":          string(stats.State),
				"total_requests": stats.TotalRequests,
				"total_failures": stats.TotalFailures,
			},
		}
		switch stats.State {
		case CircuitOpen:
			h.Status = HealthStatusUnhealthy
			h.Message = "circuit open, requests are being rejected"
		case CircuitHalfOpen:
			h.Status = HealthStatusDegraded
			h.Message = "circuit half-open, probing upstream"
		default:
			h.Status = HealthStatusHealthy
			h.Message = "circuit closed"
		}
		return h
	}
}

// FreshnessCheck reports unhealthy when last() is older than maxAge, and
// unknown before the first observation. A nil now uses time.Now.
func FreshnessCheck(last func() (time.Time, bool), now func() time.Time, maxAge time.Duration) HealthCheck {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) ComponentHealth {
		at, ok := last()
		if !ok {
			return ComponentHealth{Status: HealthStatusUnknown, Message: "no activity yet"}
		}
		age := now().Sub(at)
		h := ComponentHealth{Details: map[string]interface{}{"last": at, "age": age.Round(time.Second).String()}}
		if age > maxAge {
			h.Status = HealthStatusUnhealthy
			h.Message = fmt.Sprintf("last activity %v ago", age.Round(time.Second))
			return h
		}
		h.Status = HealthStatusHealthy
		h.Message = "running"
		return h
	}
}
