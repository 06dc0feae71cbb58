package evaluator

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"price-alerts/internal/models"
)

// Property: evaluation is deterministic and the strict/inclusive operators
// agree with each other away from the threshold.
func TestProperty_OperatorConsistency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property(">= and < are complementary for usable prices", prop.ForAll(
		func(threshold, price float64) bool {
			gte := Evaluate(alertWith(models.OpGreaterEqual, threshold), price)
			lt := Evaluate(alertWith(models.OpLess, threshold), price)
			return gte != lt
		},
		gen.Float64Range(0.0001, 1e7),
		gen.Float64Range(0.0001, 1e7),
	))

	properties.Property("<= and > are complementary for usable prices", prop.ForAll(
		func(threshold, price float64) bool {
			lte := Evaluate(alertWith(models.OpLessEqual, threshold), price)
			gt := Evaluate(alertWith(models.OpGreater, threshold), price)
			return lte != gt
		},
		gen.Float64Range(0.0001, 1e7),
		gen.Float64Range(0.0001, 1e7),
	))

	properties.Property("a threshold always equals itself", prop.ForAll(
		func(threshold float64) bool {
			return Evaluate(alertWith(models.OpEqual, threshold), threshold)
		},
		gen.Float64Range(1e-12, 1e9),
	))

	properties.TestingRun(t)
}
