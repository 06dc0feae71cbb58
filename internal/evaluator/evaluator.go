// Package evaluator decides whether an observed price satisfies an alert.
package evaluator

import (
	"math"

	"price-alerts/internal/models"
)

const (
	// DefaultRelTolerance is the relative band used by the equality operator.
	DefaultRelTolerance = 1e-4
	// DefaultAbsTolerance keeps the band non-zero for tiny thresholds.
	DefaultAbsTolerance = 1e-9
)

// Evaluator is a pure condition checker.
type Evaluator struct {
	RelTolerance float64
	AbsTolerance float64
}

// New returns an evaluator with the given tolerances. Non-positive values fall
// back to the defaults.
func New(rel, abs float64) Evaluator {
	if rel <= 0 {
		rel = DefaultRelTolerance
	}
	if abs <= 0 {
		abs = DefaultAbsTolerance
	}
	return Evaluator{RelTolerance: rel, AbsTolerance: abs}
}

// Default uses the package tolerances.
var Default = New(DefaultRelTolerance, DefaultAbsTolerance)

// Evaluate reports whether price satisfies the alert's condition. Prices that
// are not finite and positive never match.
func (e Evaluator) Evaluate(a models.Alert, price float64) bool {
	return e.Compare(a.Operator, price, a.Threshold)
}

// Compare applies op between price and threshold.
func (e Evaluator) Compare(op models.Operator, price, threshold float64) bool {
	if !usable(price) || !usable(threshold) {
		return false
	}

	switch op {
	case models.OpGreaterEqual:
		return price >= threshold
	case models.OpLessEqual:
		return price <= threshold
	case models.OpGreater:
		return price > threshold
	case models.OpLess:
		return price < threshold
	case models.OpEqual:
		return math.Abs(price-threshold) <= e.band(threshold)
	default:
		return false
	}
}

// band is the equality half-width around threshold.
func (e Evaluator) band(threshold float64) float64 {
	return math.Max(e.AbsTolerance, e.RelTolerance*math.Abs(threshold))
}

func usable(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Evaluate checks a using the default tolerances.
func Evaluate(a models.Alert, price float64) bool {
	return Default.Evaluate(a, price)
}
