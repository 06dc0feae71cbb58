package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	apperrors "price-alerts/internal/errors"
	"price-alerts/internal/logging"
	"price-alerts/internal/models"
	"price-alerts/internal/pricing"
)

// PairFailure records a pair whose price could not be used this tick.
type PairFailure struct {
	Pair models.Pair         `json:"pair"`
	Kind apperrors.FetchKind `json:"kind"`
	// Alerts is the number of pending alerts left waiting on the pair.
	Alerts int    `json:"alerts"`
	Error  string `json:"error"`
}

// TickReport summarises one evaluation pass.
type TickReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Pending  int `json:"pending"`
	Pairs    int `json:"pairs"`
	Fetched  int `json:"fetched"`
	Deferred int `json:"deferred"` // transient failures, retried next tick
	Skipped  int `json:"skipped"`  // pairs the source does not know

	Quotes   []models.Quote      `json:"quotes,omitempty"`
	Failures []PairFailure       `json:"failures,omitempty"`
	Fired    []models.FiredEvent `json:"fired,omitempty"`

	Delivered        int `json:"delivered"`
	DeliveryFailures int `json:"delivery_failures"`

	SaveError string `json:"save_error,omitempty"`
	Panic     string `json:"panic,omitempty"`
}

type fetchResult struct {
	quote models.Quote
	err   error
}

// Tick runs one pass: fetch each distinct pair once, evaluate every pending
// alert against its pair's price, persist newly fired alerts and deliver
// their notifications. Ticks are serialised.
func (e *Engine) Tick(ctx context.Context) TickReport {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	report := TickReport{StartedAt: e.opts.Now().UTC()}
	start := time.Now()

	pending := e.registry.PendingSnapshot()
	report.Pending = len(pending)

	// Group by pair, keeping first-seen order so fetch and fire order are stable.
	var pairs []models.Pair
	groups := make(map[models.Pair][]models.Alert)
	for _, a := range pending {
		p := a.Pair()
		if _, ok := groups[p]; !ok {
			pairs = append(pairs, p)
		}
		groups[p] = append(groups[p], a)
	}
	report.Pairs = len(pairs)

	results := e.fetchAll(ctx, pairs)

	now := e.opts.Now().UTC()
	for i, p := range pairs {
		res := results[i]
		alerts := groups[p]

		if res.err != nil {
			kind := pricing.Classify(res.err)
			report.Failures = append(report.Failures, PairFailure{
				Pair:   p,
				Kind:   kind,
				Alerts: len(alerts),
				Error:  res.err.Error(),
			})
			ids := make([]string, len(alerts))
			for j, a := range alerts {
				ids[j] = a.ID
			}
			if !kind.Transient() {
				report.Skipped++
				log := logging.WithPair(e.logger, p.Asset, p.QuoteCurrency)
				log.Debug().
					Err(res.err).
					Strs("alert_ids", ids).
					Msg("Pair not listed by price source, skipping")
			} else {
				report.Deferred++
				logging.LogFetchFailure(e.logger, p.Asset, p.QuoteCurrency, string(kind), ids, res.err)
			}
			continue
		}

		report.Fetched++
		report.Quotes = append(report.Quotes, res.quote)

		for _, a := range alerts {
			if !e.opts.Evaluator.Evaluate(a, res.quote.Price) {
				continue
			}
			if !e.registry.MarkFired(a.ID, res.quote.Price, now) {
				// Cancelled or fired since the snapshot was taken.
				continue
			}
			report.Fired = append(report.Fired, models.NewFiredEvent(a, res.quote.Price, now))
		}
	}

	if len(report.Fired) > 0 {
		e.mutations.Add(1)
	}
	// Save before delivery: a crash after this point loses a notification
	// rather than sending it twice.
	if e.Dirty() {
		if err := e.persist(ctx, "tick"); err != nil {
			report.SaveError = err.Error()
		}
	}

	report.Delivered, report.DeliveryFailures = e.deliverAll(ctx, report.Fired)
	report.Duration = time.Since(start)

	e.logger.Debug().
		Int("pending", report.Pending).
		Int("pairs", report.Pairs).
		Int("fetched", report.Fetched).
		Int("deferred", report.Deferred).
		Int("skipped", report.Skipped).
		Int("fired", len(report.Fired)).
		Dur("duration", report.Duration).
		Msg("Tick complete")

	e.setLastTick(report)
	return report
}

// fetchAll fetches every pair concurrently, one request per pair. Result i
// belongs to pairs[i].
func (e *Engine) fetchAll(ctx context.Context, pairs []models.Pair) []fetchResult {
	results := make([]fetchResult, len(pairs))
	if len(pairs) == 0 {
		return results
	}

	p := pool.New().WithMaxGoroutines(e.opts.MaxConcurrentFetches)
	for i, pair := range pairs {
		p.Go(func() {
			var pc panics.Catcher
			pc.Try(func() {
				results[i] = e.fetchOne(ctx, pair)
			})
			if r := pc.Recovered(); r != nil {
				e.logger.Error().
					Str("pair", pair.String()).
					Str("panic", fmt.Sprint(r.Value)).
					Bytes("stack", r.Stack).
					Msg("Price fetch panicked")
				results[i] = fetchResult{err: apperrors.NewPriceFetchError(
					apperrors.FetchUpstream, pair.Asset, pair.QuoteCurrency, r.AsError())}
			}
		})
	}
	p.Wait()
	return results
}

// fetchOne bounds a single lookup by the fetch timeout, even when the source
// ignores its context.
func (e *Engine) fetchOne(ctx context.Context, pair models.Pair) fetchResult {
	ctx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	defer cancel()

	type outcome struct {
		price float64
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		var pc panics.Catcher
		var o outcome
		pc.Try(func() {
			o.price, o.err = e.source.GetPrice(ctx, pair.Asset, pair.QuoteCurrency)
		})
		if r := pc.Recovered(); r != nil {
			o.err = apperrors.NewPriceFetchError(apperrors.FetchUpstream, pair.Asset, pair.QuoteCurrency, r.AsError())
		}
		done <- o
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		return fetchResult{err: apperrors.NewPriceFetchError(
			apperrors.FetchNetwork, pair.Asset, pair.QuoteCurrency,
			fmt.Errorf("fetch %w after %s: %w", apperrors.ErrTimeout, e.opts.FetchTimeout, ctx.Err()))}
	}

	if o.err != nil {
		return fetchResult{err: pricing.AsFetchError(o.err, pair.Asset, pair.QuoteCurrency)}
	}
	if math.IsNaN(o.price) || math.IsInf(o.price, 0) || o.price <= 0 {
		return fetchResult{err: apperrors.NewPriceFetchError(
			apperrors.FetchUpstream, pair.Asset, pair.QuoteCurrency,
			fmt.Errorf("unusable price %v", o.price))}
	}

	return fetchResult{quote: models.Quote{
		Pair:      pair,
		Price:     o.price,
		Source:    e.opts.SourceName,
		Timestamp: e.opts.Now().UTC(),
	}}
}

// deliverAll hands each fired event to the dispatcher. Deliveries outlive a
// cancelled tick context, bounded by the delivery timeout.
func (e *Engine) deliverAll(ctx context.Context, events []models.FiredEvent) (delivered, failed int) {
	if len(events) == 0 {
		return 0, 0
	}

	ok := make([]bool, len(events))
	base := context.WithoutCancel(ctx)

	var wg conc.WaitGroup
	for i, ev := range events {
		wg.Go(func() {
			dctx, cancel := context.WithTimeout(base, e.opts.DeliveryTimeout)
			defer cancel()

			var pc panics.Catcher
			var err error
			pc.Try(func() {
				err = e.dispatcher.Deliver(dctx, ev)
			})
			if r := pc.Recovered(); r != nil {
				err = r.AsError()
			}

			log := logging.WithAlert(e.logger, ev.AlertID)
			if err != nil {
				log.Error().
					Err(err).
					Str("kind", "delivery").
					Str("owner", ev.Owner).
					Str("destination", ev.Destination).
					Msg("Notification delivery failed, alert stays fired")
				return
			}
			ok[i] = true
			log.Info().Str("owner", ev.Owner).Msg("Notification delivered")
		})
	}
	wg.Wait()

	for _, v := range ok {
		if v {
			delivered++
		} else {
			failed++
		}
	}
	return delivered, failed
}

func (e *Engine) setLastTick(r TickReport) {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	e.lastTick = &r
}

// safeTick runs Tick, turning a panic into a logged error so the loop survives.
func (e *Engine) safeTick(ctx context.Context) (report TickReport) {
	var pc panics.Catcher
	pc.Try(func() {
		report = e.Tick(ctx)
	})
	if r := pc.Recovered(); r != nil {
		e.logger.Error().
			Str("panic", fmt.Sprint(r.Value)).
			Bytes("stack", r.Stack).
			Msg("Tick panicked, continuing with next interval")
		report.Panic = fmt.Sprint(r.Value)
	}
	return report
}

// Run ticks immediately and then every Interval until ctx is cancelled. The
// tick in flight at cancellation completes; unsaved changes are flushed
// before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().
		Dur("interval", e.opts.Interval).
		Dur("fetch_timeout", e.opts.FetchTimeout).
		Int("max_concurrent_fetches", e.opts.MaxConcurrentFetches).
		Msg("Scheduler started")

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	e.safeTick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Scheduler stopping")
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := e.Flush(flushCtx); err != nil {
				return fmt.Errorf("final save: %w", err)
			}
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			e.safeTick(ctx)
		}
	}
}
