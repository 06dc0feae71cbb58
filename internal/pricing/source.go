// Package pricing adapts external price providers to a single lookup call
// with classified failures.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"price-alerts/internal/config"
	apperrors "price-alerts/internal/errors"
	"price-alerts/internal/resilience"
)

// Source returns the current price of asset quoted in quote. Failures are
// *errors.PriceFetchError values carrying a FetchKind.
type Source interface {
	GetPrice(ctx context.Context, asset, quote string) (float64, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, asset, quote string) (float64, error)

// GetPrice calls f.
func (f SourceFunc) GetPrice(ctx context.Context, asset, quote string) (float64, error) {
	return f(ctx, asset, quote)
}

// New builds the provider selected by cfg.Provider.
func New(cfg config.PricingConfig, logger zerolog.Logger) (Source, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "coingecko":
		return NewCoinGeckoSource(cfg.CoinGecko, logger), nil
	case "binance":
		return NewBinanceSource(cfg.Binance, logger), nil
	default:
		return nil, fmt.Errorf("unknown price provider %q", cfg.Provider)
	}
}

// Classify maps any error returned while fetching a price to a fetch kind.
// Errors that carry no classification are treated as network errors so the
// pair is retried next tick.
func Classify(err error) apperrors.FetchKind {
	if err == nil {
		return ""
	}
	var pfe *apperrors.PriceFetchError
	if errors.As(err, &pfe) {
		return pfe.Kind
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return apperrors.FetchUpstream
	}
	// Timeouts, cancellations and transport failures all land here.
	return apperrors.FetchNetwork
}

// AsFetchError returns err as a *PriceFetchError for the pair, classifying it
// when it is not one already.
func AsFetchError(err error, asset, quote string) *apperrors.PriceFetchError {
	var pfe *apperrors.PriceFetchError
	if errors.As(err, &pfe) {
		return pfe
	}
	return apperrors.NewPriceFetchError(Classify(err), asset, quote, err)
}
