package engine

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"price-alerts/internal/models"
)

func TestProperty_EachAlertNotifiedAtMostOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("fires on the first crossing and never again", prop.ForAll(
		func(prices []float64) bool {
			f := newFixture(t, &memStore{}, newSource(sequence(prices...)))
			a := f.create(t, "BTC", ">=", 50000)

			for range prices {
				f.engine.Tick(context.Background())
			}

			var first float64
			for _, p := range prices {
				if p >= 50000 {
					first = p
					break
				}
			}

			events := f.dispatcher.Events()
			got, _ := f.engine.GetAlert(a.ID)
			if first == 0 {
				return len(events) == 0 && got.Status == models.AlertPending
			}
			return len(events) == 1 && got.Status == models.AlertFired && got.FiredPrice == first
		},
		gen.SliceOfN(12, gen.Float64Range(40000, 60000)),
	))

	properties.TestingRun(t)
}
