// Package registry holds the in-memory set of alerts shared by the scheduler
// and the command surface.
package registry

import (
	"sync"
	"time"

	apperrors "price-alerts/internal/errors"
	"price-alerts/internal/models"
)

// Registry is a concurrency-safe alert set. Every method returns copies; the
// caller never holds a reference into registry state.
type Registry struct {
	mu     sync.RWMutex
	alerts map[string]*models.Alert
	order  []string // creation order
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		alerts: make(map[string]*models.Alert),
	}
}

// Restore replaces the registry contents with alerts loaded from the store.
// Later duplicates of an id are dropped.
func (r *Registry) Restore(alerts []models.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.alerts = make(map[string]*models.Alert, len(alerts))
	r.order = r.order[:0]
	for _, a := range alerts {
		if _, exists := r.alerts[a.ID]; exists {
			continue
		}
		c := a.Clone()
		r.alerts[a.ID] = &c
		r.order = append(r.order, a.ID)
	}
}

// Add registers a new alert.
func (r *Registry) Add(a models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.alerts[a.ID]; exists {
		return apperrors.NewDuplicateIDError(a.ID)
	}
	c := a.Clone()
	r.alerts[a.ID] = &c
	r.order = append(r.order, a.ID)
	return nil
}

// Cancel moves a pending alert to cancelled. Only the owner may cancel.
// Cancelling an alert that is already terminal succeeds without change and
// reports false.
func (r *Registry) Cancel(id, owner string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.alerts[id]
	if !ok {
		return false, apperrors.NewNotFoundError(id)
	}
	if a.Owner != owner {
		return false, apperrors.NewNotOwnerError(id)
	}
	if a.Status.IsTerminal() {
		return false, nil
	}
	a.Status = models.AlertCancelled
	t := at
	a.CancelledAt = &t
	return true, nil
}

// PendingSnapshot returns copies of all pending alerts in creation order.
func (r *Registry) PendingSnapshot() []models.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Alert
	for _, id := range r.order {
		if a := r.alerts[id]; a.Status == models.AlertPending {
			out = append(out, a.Clone())
		}
	}
	return out
}

// MarkFired transitions a pending alert to fired. It reports true only for the
// call that performed the transition, so an alert fires at most once even when
// racing with Cancel or another tick.
func (r *Registry) MarkFired(id string, price float64, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.alerts[id]
	if !ok || a.Status != models.AlertPending {
		return false
	}
	a.Status = models.AlertFired
	t := at
	a.FiredAt = &t
	a.FiredPrice = price
	return true
}

// Get returns a copy of one alert.
func (r *Registry) Get(id string) (models.Alert, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.alerts[id]
	if !ok {
		return models.Alert{}, false
	}
	return a.Clone(), true
}

// All returns copies of every alert in creation order.
func (r *Registry) All() []models.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Alert, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.alerts[id].Clone())
	}
	return out
}

// ForOwner returns the owner's alerts. Terminal alerts are included only when
// includeTerminal is set.
func (r *Registry) ForOwner(owner string, includeTerminal bool) []models.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Alert
	for _, id := range r.order {
		a := r.alerts[id]
		if a.Owner != owner {
			continue
		}
		if !includeTerminal && a.Status.IsTerminal() {
			continue
		}
		out = append(out, a.Clone())
	}
	return out
}

// Purge removes terminal alerts that reached their final state before cutoff
// and returns how many were removed.
func (r *Registry) Purge(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.order[:0]
	removed := 0
	for _, id := range r.order {
		a := r.alerts[id]
		if finished, ok := terminalAt(a); ok && finished.Before(cutoff) {
			delete(r.alerts, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return removed
}

func terminalAt(a *models.Alert) (time.Time, bool) {
	switch {
	case a.Status == models.AlertFired && a.FiredAt != nil:
		return *a.FiredAt, true
	case a.Status == models.AlertCancelled && a.CancelledAt != nil:
		return *a.CancelledAt, true
	case a.Status.IsTerminal():
		return a.CreatedAt, true
	}
	return time.Time{}, false
}

// Len returns the number of alerts held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Stats summarises the registry by status and asset.
func (r *Registry) Stats() models.AlertStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := models.AlertStats{ByAsset: make(map[string]int)}
	for _, id := range r.order {
		a := r.alerts[id]
		stats.Total++
		switch a.Status {
		case models.AlertPending:
			stats.Pending++
			stats.ByAsset[a.Asset]++
		case models.AlertFired:
			stats.Fired++
		case models.AlertCancelled:
			stats.Cancelled++
		}
	}
	return stats
}
