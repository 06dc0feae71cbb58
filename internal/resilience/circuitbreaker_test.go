package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")
var errUnknownSymbol = errors.New("unknown symbol")

func newTestBreaker() (*CircuitBreaker, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		IsFailure:        func(err error) bool { return !errors.Is(err, errUnknownSymbol) },
	})
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker()

	require.ErrorIs(t, cb.Execute(func() error { return errUpstream }), errUpstream)
	require.Equal(t, CircuitClosed, cb.State())
	require.ErrorIs(t, cb.Execute(func() error { return errUpstream }), errUpstream)
	require.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.False(t, called)
	require.Equal(t, int64(1), cb.Stats().TotalRejected)
}

func TestCircuitHalfOpenRecovers(t *testing.T) {
	cb, now := newTestBreaker()
	_ = cb.Execute(func() error { return errUpstream })
	_ = cb.Execute(func() error { return errUpstream })
	require.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(2 * time.Minute)
	v, err := ExecuteWithResult(cb, func() (float64, error) { return 1.5, nil })
	require.NoError(t, err)
	require.Equal(t, 1.5, v)
	require.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitIgnoresNonFailures(t *testing.T) {
	cb, _ := newTestBreaker()
	for i := 0; i < 5; i++ {
		require.ErrorIs(t, cb.Execute(func() error { return errUnknownSymbol }), errUnknownSymbol)
	}
	require.Equal(t, CircuitClosed, cb.State())
	require.Equal(t, int64(0), cb.Stats().TotalFailures)
}

func TestCircuitReset(t *testing.T) {
	cb, _ := newTestBreaker()
	_ = cb.Execute(func() error { return errUpstream })
	_ = cb.Execute(func() error { return errUpstream })
	cb.Reset()
	require.Equal(t, CircuitClosed, cb.State())
	require.InDelta(t, 100.0, cb.Stats().FailureRate(), 0.001)
}
