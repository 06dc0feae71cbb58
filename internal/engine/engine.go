// Package engine runs the alert scheduler: it polls prices, evaluates pending
// alerts, fires matches exactly once and keeps the store in step.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"price-alerts/internal/config"
	apperrors "price-alerts/internal/errors"
	"price-alerts/internal/evaluator"
	"price-alerts/internal/logging"
	"price-alerts/internal/models"
	"price-alerts/internal/notify"
	"price-alerts/internal/pricing"
	"price-alerts/internal/registry"
	"price-alerts/internal/store"
)

// Options tunes the scheduler.
type Options struct {
	Interval             time.Duration
	FetchTimeout         time.Duration
	DeliveryTimeout      time.Duration
	MaxConcurrentFetches int
	Evaluator            evaluator.Evaluator
	// SourceName labels quotes in tick reports.
	SourceName string

	Now   func() time.Time
	NewID func() string
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Interval:             60 * time.Second,
		FetchTimeout:         10 * time.Second,
		DeliveryTimeout:      15 * time.Second,
		MaxConcurrentFetches: 8,
		Evaluator:            evaluator.Default,
		Now:                  time.Now,
		NewID:                uuid.NewString,
	}
}

// OptionsFromConfig converts the engine section of the configuration.
func OptionsFromConfig(cfg config.EngineConfig) Options {
	opts := DefaultOptions()
	if cfg.Interval > 0 {
		opts.Interval = cfg.Interval
	}
	if cfg.FetchTimeout > 0 {
		opts.FetchTimeout = cfg.FetchTimeout
	}
	if cfg.DeliveryTimeout > 0 {
		opts.DeliveryTimeout = cfg.DeliveryTimeout
	}
	if cfg.MaxConcurrentFetches > 0 {
		opts.MaxConcurrentFetches = cfg.MaxConcurrentFetches
	}
	opts.Evaluator = evaluator.New(cfg.EqualityTolerance, cfg.EqualityAbsTolerance)
	return opts
}

func (o *Options) fillDefaults() {
	d := DefaultOptions()
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = d.FetchTimeout
	}
	if o.DeliveryTimeout <= 0 {
		o.DeliveryTimeout = d.DeliveryTimeout
	}
	if o.MaxConcurrentFetches <= 0 {
		o.MaxConcurrentFetches = d.MaxConcurrentFetches
	}
	if o.Evaluator.RelTolerance <= 0 || o.Evaluator.AbsTolerance <= 0 {
		o.Evaluator = evaluator.New(o.Evaluator.RelTolerance, o.Evaluator.AbsTolerance)
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	if o.NewID == nil {
		o.NewID = d.NewID
	}
}

// Engine owns the registry and coordinates the store, price source and
// dispatcher around it.
type Engine struct {
	registry   *registry.Registry
	store      store.Store
	source     pricing.Source
	dispatcher notify.Dispatcher
	opts       Options
	logger     zerolog.Logger

	tickMu sync.Mutex // ticks never overlap
	saveMu sync.Mutex

	// mutations counts registry changes; savedAt is the count last persisted.
	mutations atomic.Uint64
	savedAt   atomic.Uint64

	lastMu   sync.RWMutex
	lastTick *TickReport
}

// New creates an engine. Call Load before serving requests.
func New(st store.Store, src pricing.Source, d notify.Dispatcher, opts Options, logger zerolog.Logger) *Engine {
	opts.fillDefaults()
	if d == nil {
		d = notify.NoOpDispatcher{}
	}
	return &Engine{
		registry:   registry.New(),
		store:      st,
		source:     src,
		dispatcher: d,
		opts:       opts,
		logger:     logging.WithComponent(logger, "engine"),
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Load restores the registry from the store. A corrupt snapshot is set aside
// when the store supports it and the engine starts empty.
func (e *Engine) Load(ctx context.Context) error {
	alerts, err := e.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, apperrors.ErrStoreCorrupt) {
			return fmt.Errorf("loading alerts: %w", err)
		}
		event := e.logger.Error().Err(err).Str("kind", "store_corrupt")
		if q, ok := e.store.(store.Quarantiner); ok {
			if moved, qerr := q.Quarantine(ctx); qerr == nil {
				event = event.Str("quarantined", moved)
			} else {
				event = event.AnErr("quarantine_error", qerr)
			}
		}
		event.Msg("Alert store is corrupt, starting with an empty registry")
		e.registry.Restore(nil)
		return nil
	}

	e.registry.Restore(alerts)
	stats := e.registry.Stats()
	e.logger.Info().
		Int("total", stats.Total).
		Int("pending", stats.Pending).
		Msg("Alerts loaded")
	return nil
}

// CreateRequest carries the user-supplied parameters of a new alert.
type CreateRequest struct {
	Owner       string
	Destination string
	Asset       string
	Quote       string
	Operator    string
	Threshold   float64
	Note        string
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9._-]{0,31}$`)

const maxNoteLength = 256

// Validate checks and canonicalises the request.
func (r CreateRequest) Validate() (models.Alert, error) {
	owner := strings.TrimSpace(r.Owner)
	if owner == "" {
		return models.Alert{}, apperrors.NewValidationError("owner", r.Owner, "owner is required")
	}

	asset := models.CanonicalSymbol(r.Asset)
	if !symbolPattern.MatchString(asset) {
		return models.Alert{}, apperrors.NewValidationError("asset", r.Asset, "asset must be a non-empty symbol")
	}
	quote := models.CanonicalSymbol(r.Quote)
	if !symbolPattern.MatchString(quote) {
		return models.Alert{}, apperrors.NewValidationError("quote", r.Quote, "quote currency must be a non-empty symbol")
	}

	op, ok := models.ParseOperator(r.Operator)
	if !ok {
		return models.Alert{}, apperrors.NewValidationError("operator", r.Operator, "operator must be one of >=, <=, >, <, ==")
	}

	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) || r.Threshold <= 0 {
		return models.Alert{}, apperrors.NewValidationError("threshold", r.Threshold, "threshold must be a finite number greater than zero")
	}

	note := strings.TrimSpace(r.Note)
	if len(note) > maxNoteLength {
		return models.Alert{}, apperrors.NewValidationError("note", len(note), fmt.Sprintf("note must be at most %d characters", maxNoteLength))
	}

	return models.Alert{
		Owner:         owner,
		Destination:   strings.TrimSpace(r.Destination),
		Asset:         asset,
		QuoteCurrency: quote,
		Operator:      op,
		Threshold:     r.Threshold,
		Status:        models.AlertPending,
		Note:          note,
	}, nil
}

// CreateAlert validates req, registers the alert and persists it. A failed
// save is logged and retried on the next mutation; the alert stays registered.
func (e *Engine) CreateAlert(ctx context.Context, req CreateRequest) (models.Alert, error) {
	a, err := req.Validate()
	if err != nil {
		return models.Alert{}, err
	}
	a.ID = e.opts.NewID()
	a.CreatedAt = e.opts.Now().UTC()

	if err := e.registry.Add(a); err != nil {
		return models.Alert{}, err
	}
	e.mutations.Add(1)

	log := logging.WithAlert(e.logger, a.ID)
	log.Info().
		Str("owner", a.Owner).
		Str("pair", a.Pair().String()).
		Str("operator", string(a.Operator)).
		Float64("threshold", a.Threshold).
		Msg("Alert created")

	_ = e.persist(ctx, "create")
	return a, nil
}

// CancelAlert cancels a pending alert owned by owner. Cancelling an alert that
// already fired or was cancelled succeeds without change.
func (e *Engine) CancelAlert(ctx context.Context, id, owner string) error {
	changed, err := e.registry.Cancel(id, owner, e.opts.Now().UTC())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	e.mutations.Add(1)
	log := logging.WithAlert(e.logger, id)
	log.Info().Str("owner", owner).Msg("Alert cancelled")

	_ = e.persist(ctx, "cancel")
	return nil
}

// ListAlerts returns alerts for owner, or for everyone when owner is empty.
func (e *Engine) ListAlerts(owner string, includeTerminal bool) []models.Alert {
	if owner != "" {
		return e.registry.ForOwner(owner, includeTerminal)
	}
	all := e.registry.All()
	if includeTerminal {
		return all
	}
	out := all[:0]
	for _, a := range all {
		if !a.Status.IsTerminal() {
			out = append(out, a)
		}
	}
	return out
}

// GetAlert returns one alert.
func (e *Engine) GetAlert(id string) (models.Alert, error) {
	a, ok := e.registry.Get(id)
	if !ok {
		return models.Alert{}, apperrors.NewNotFoundError(id)
	}
	return a, nil
}

// Purge drops fired and cancelled alerts that finished more than olderThan
// ago and persists the result.
func (e *Engine) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	removed := e.registry.Purge(e.opts.Now().Add(-olderThan))
	if removed == 0 {
		return 0, nil
	}
	e.mutations.Add(1)
	e.logger.Info().Int("removed", removed).Dur("older_than", olderThan).Msg("Purged terminal alerts")
	return removed, e.persist(ctx, "purge")
}

// Stats summarises the registry.
func (e *Engine) Stats() models.AlertStats {
	return e.registry.Stats()
}

// LastTick returns the report of the most recent tick, if any.
func (e *Engine) LastTick() (TickReport, bool) {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()
	if e.lastTick == nil {
		return TickReport{}, false
	}
	return *e.lastTick, true
}

// Dirty reports whether in-memory changes are not yet persisted.
func (e *Engine) Dirty() bool {
	return e.mutations.Load() != e.savedAt.Load()
}

// Flush persists pending changes, if any.
func (e *Engine) Flush(ctx context.Context) error {
	if !e.Dirty() {
		return nil
	}
	return e.persist(ctx, "flush")
}

// persist writes the full registry. It ignores cancellation of ctx so that a
// fire or cancel observed during shutdown still reaches the store.
func (e *Engine) persist(ctx context.Context, reason string) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	gen := e.mutations.Load()
	if gen == e.savedAt.Load() {
		return nil
	}
	snapshot := e.registry.All()

	if err := e.store.Save(context.WithoutCancel(ctx), snapshot); err != nil {
		e.logger.Error().
			Err(err).
			Str("kind", "store_io").
			Str("reason", reason).
			Msg("Saving alerts failed, will retry on next change")
		return err
	}
	e.savedAt.Store(gen)
	e.logger.Debug().Str("reason", reason).Int("alerts", len(snapshot)).Msg("Alerts saved")
	return nil
}

// Close flushes unsaved changes and releases the store and dispatcher.
func (e *Engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := e.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if c, ok := e.dispatcher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
