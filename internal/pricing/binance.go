package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog"

	"price-alerts/internal/config"
	apperrors "price-alerts/internal/errors"
	"price-alerts/internal/logging"
)

// Binance REST error codes that change the fetch classification.
const (
	binanceInvalidSymbol   = -1121
	binanceTooManyRequests = -1003
)

// BinanceSource reads spot last-trade prices from the Binance REST API.
type BinanceSource struct {
	client       *binance.Client
	quoteAliases map[string]string
	logger       zerolog.Logger
}

// NewBinanceSource creates a Binance-backed price source. Public price
// endpoints work without credentials.
func NewBinanceSource(cfg config.BinanceConfig, logger zerolog.Logger) *BinanceSource {
	aliases := map[string]string{"USD": "USDT"}
	for from, to := range cfg.QuoteAliases {
		aliases[strings.ToUpper(strings.TrimSpace(from))] = strings.ToUpper(strings.TrimSpace(to))
	}
	return &BinanceSource{
		client:       binance.NewClient(cfg.APIKey, cfg.APISecret),
		quoteAliases: aliases,
		logger:       logging.WithComponent(logger, "binance"),
	}
}

// SetBaseURL points the client at another endpoint (testnet, mirrors).
func (s *BinanceSource) SetBaseURL(u string) {
	s.client.BaseURL = strings.TrimRight(u, "/")
}

// Symbol returns the exchange symbol for a pair, e.g. BTC/USD -> BTCUSDT.
func (s *BinanceSource) Symbol(asset, quote string) string {
	q := strings.ToUpper(strings.TrimSpace(quote))
	if alias, ok := s.quoteAliases[q]; ok {
		q = alias
	}
	return strings.ToUpper(strings.TrimSpace(asset)) + q
}

// GetPrice returns the latest traded price for the pair.
func (s *BinanceSource) GetPrice(ctx context.Context, asset, quote string) (float64, error) {
	symbol := s.Symbol(asset, quote)

	start := time.Now()
	prices, err := s.client.NewListPricesService().Symbol(symbol).Do(ctx)
	logging.LogAPICall(s.logger, http.MethodGet, "/api/v3/ticker/price", time.Since(start), err)
	if err != nil {
		return 0, apperrors.NewPriceFetchError(classifyBinanceError(err), asset, quote, err)
	}

	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return 0, apperrors.NewPriceFetchError(apperrors.FetchUpstream, asset, quote,
				fmt.Errorf("invalid price %q: %w", p.Price, err))
		}
		if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
			return 0, apperrors.NewPriceFetchError(apperrors.FetchUpstream, asset, quote,
				fmt.Errorf("unusable price %v", price))
		}
		return price, nil
	}
	return 0, apperrors.NewPriceFetchError(apperrors.FetchNotFound, asset, quote, errNoPrice)
}

func classifyBinanceError(err error) apperrors.FetchKind {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case binanceInvalidSymbol:
			return apperrors.FetchNotFound
		case binanceTooManyRequests:
			return apperrors.FetchRateLimited
		}
		return apperrors.FetchUpstream
	}
	return Classify(err)
}

var _ Source = (*BinanceSource)(nil)
