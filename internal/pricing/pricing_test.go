package pricing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"price-alerts/internal/config"
	apperrors "price-alerts/internal/errors"
	"price-alerts/internal/resilience"
)

func newTestCoinGecko(t *testing.T, handler http.HandlerFunc) (*CoinGeckoSource, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	src := NewCoinGeckoSource(config.CoinGeckoConfig{
		BaseURL:  srv.URL,
		Timeout:  2 * time.Second,
		CacheTTL: time.Minute,
		IDs:      map[string]string{"PEPE": "pepe"},
	}, zerolog.Nop())
	return src, &hits
}

func requireKind(t *testing.T, err error, kind apperrors.FetchKind) {
	t.Helper()
	var pfe *apperrors.PriceFetchError
	require.ErrorAs(t, err, &pfe)
	require.Equal(t, kind, pfe.Kind)
}

func TestCoinGeckoGetPrice(t *testing.T) {
	src, hits := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/simple/price", r.URL.Path)
		require.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		require.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		fmt.Fprint(w, `{"bitcoin":{"usd":70250.5}}`)
	})

	price, err := src.GetPrice(context.Background(), "BTC", "USD")
	require.NoError(t, err)
	require.Equal(t, 70250.5, price)

	// Second lookup is served from cache.
	price, err = src.GetPrice(context.Background(), "btc", "usd")
	require.NoError(t, err)
	require.Equal(t, 70250.5, price)
	require.Equal(t, int32(1), hits.Load())
}

func TestCoinGeckoCoinID(t *testing.T) {
	src, _ := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {})
	require.Equal(t, "ethereum", src.CoinID("ETH"))
	require.Equal(t, "pepe", src.CoinID("pepe"))
	require.Equal(t, "avalanche-2", src.CoinID("avalanche-2"))
}

func TestCoinGeckoErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		headers map[string]string
		want    apperrors.FetchKind
	}{
		{"unknown coin", http.StatusOK, `{}`, nil, apperrors.FetchNotFound},
		{"unknown quote", http.StatusOK, `{"bitcoin":{}}`, nil, apperrors.FetchNotFound},
		{"404", http.StatusNotFound, `{"error":"coin not found"}`, nil, apperrors.FetchNotFound},
		{"rate limited", http.StatusTooManyRequests, ``, map[string]string{"Retry-After": "30"}, apperrors.FetchRateLimited},
		{"server error", http.StatusBadGateway, `bad gateway`, nil, apperrors.FetchUpstream},
		{"bad json", http.StatusOK, `{"bitcoin":`, nil, apperrors.FetchUpstream},
		{"zero price", http.StatusOK, `{"bitcoin":{"usd":0}}`, nil, apperrors.FetchUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, _ := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := src.GetPrice(context.Background(), "BTC", "USD")
			requireKind(t, err, tt.want)
		})
	}
}

func TestCoinGeckoRateLimitCarriesRetryAfter(t *testing.T) {
	src, hits := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := src.GetPrice(context.Background(), "ETH", "USD")
	var pfe *apperrors.PriceFetchError
	require.ErrorAs(t, err, &pfe)
	require.Equal(t, 12*time.Second, pfe.RetryAfter)
	require.True(t, pfe.Kind.Transient())
	// Rate limits are not retried within the same tick.
	require.Equal(t, int32(1), hits.Load())
}

func TestCoinGeckoNetworkErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Drop the connection without a response.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		fmt.Fprint(w, `{"solana":{"eur":150.25}}`)
	}))
	defer srv.Close()

	src := NewCoinGeckoSource(config.CoinGeckoConfig{
		BaseURL:    srv.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 1,
	}, zerolog.Nop())
	src.retry.InitialDelay = time.Millisecond

	price, err := src.GetPrice(context.Background(), "SOL", "EUR")
	require.NoError(t, err)
	require.Equal(t, 150.25, price)
	require.Equal(t, int32(2), calls.Load())
}

func TestCoinGeckoTimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	src, _ := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := src.GetPrice(ctx, "BTC", "USD")
	requireKind(t, err, apperrors.FetchNetwork)
}

func TestCoinGeckoNotFoundDoesNotTripBreaker(t *testing.T) {
	src, _ := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	for i := 0; i < 10; i++ {
		_, err := src.GetPrice(context.Background(), fmt.Sprintf("COIN%d", i), "USD")
		requireKind(t, err, apperrors.FetchNotFound)
	}
	require.Equal(t, resilience.CircuitClosed, src.Breaker().State())
}

func TestBinanceSymbol(t *testing.T) {
	src := NewBinanceSource(config.BinanceConfig{QuoteAliases: map[string]string{"eur": "EUR"}}, zerolog.Nop())
	require.Equal(t, "BTCUSDT", src.Symbol("btc", "usd"))
	require.Equal(t, "ETHEUR", src.Symbol("ETH", "EUR"))
	require.Equal(t, "SOLBTC", src.Symbol("SOL", "BTC"))
}

func TestBinanceGetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"symbol":"BTCUSDT","price":"70250.50000000"}]`)
	}))
	defer srv.Close()

	src := NewBinanceSource(config.BinanceConfig{}, zerolog.Nop())
	src.SetBaseURL(srv.URL)

	price, err := src.GetPrice(context.Background(), "BTC", "USD")
	require.NoError(t, err)
	require.Equal(t, 70250.5, price)
}

func TestClassifyBinanceError(t *testing.T) {
	require.Equal(t, apperrors.FetchNotFound, classifyBinanceError(&common.APIError{Code: -1121, Message: "Invalid symbol."}))
	require.Equal(t, apperrors.FetchRateLimited, classifyBinanceError(&common.APIError{Code: -1003, Message: "Too many requests"}))
	require.Equal(t, apperrors.FetchUpstream, classifyBinanceError(&common.APIError{Code: -1000, Message: "Unknown"}))
	require.Equal(t, apperrors.FetchNetwork, classifyBinanceError(errors.New("connection reset")))
}

func TestClassify(t *testing.T) {
	require.Equal(t, apperrors.FetchKind(""), Classify(nil))
	require.Equal(t, apperrors.FetchNetwork, Classify(context.DeadlineExceeded))
	require.Equal(t, apperrors.FetchUpstream, Classify(resilience.ErrCircuitOpen))
	require.Equal(t, apperrors.FetchNotFound,
		Classify(fmt.Errorf("wrapped: %w", apperrors.NewPriceFetchError(apperrors.FetchNotFound, "X", "USD", nil))))
}

func TestNewSelectsProvider(t *testing.T) {
	src, err := New(config.PricingConfig{Provider: "binance"}, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &BinanceSource{}, src)

	src, err = New(config.PricingConfig{}, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &CoinGeckoSource{}, src)

	_, err = New(config.PricingConfig{Provider: "kraken"}, zerolog.Nop())
	require.Error(t, err)
}

func TestSourceFunc(t *testing.T) {
	var s Source = SourceFunc(func(ctx context.Context, asset, quote string) (float64, error) {
		return 42, nil
	})
	p, err := s.GetPrice(context.Background(), "BTC", "USD")
	require.NoError(t, err)
	require.Equal(t, 42.0, p)
}
