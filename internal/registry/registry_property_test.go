package registry

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: an alert transitions to fired at most once no matter how many
// times MarkFired is called.
func TestProperty_FiresAtMostOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("MarkFired succeeds exactly once per pending alert", prop.ForAll(
		func(alerts int, calls int) bool {
			r := New()
			for i := 0; i < alerts; i++ {
				if err := r.Add(newAlert(fmt.Sprintf("a%d", i), "u", "BTC")); err != nil {
					return false
				}
			}
			wins := make(map[string]int)
			for c := 0; c < calls; c++ {
				for _, a := range r.All() {
					if r.MarkFired(a.ID, float64(c), t0) {
						wins[a.ID]++
					}
				}
			}
			for i := 0; i < alerts; i++ {
				if wins[fmt.Sprintf("a%d", i)] != 1 {
					return false
				}
			}
			return len(r.PendingSnapshot()) == 0
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}
