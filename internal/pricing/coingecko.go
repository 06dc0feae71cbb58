package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"price-alerts/internal/config"
	apperrors "price-alerts/internal/errors"
	"price-alerts/internal/logging"
	"price-alerts/internal/resilience"
	"price-alerts/pkg/utils"
)

const defaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// DefaultCoinIDs maps common tickers to CoinGecko coin ids.
var DefaultCoinIDs = map[string]string{
	"btc":   "bitcoin",
	"eth":   "ethereum",
	"usdt":  "tether",
	"bnb":   "binancecoin",
	"ada":   "cardano",
	"xrp":   "ripple",
	"doge":  "dogecoin",
	"dot":   "polkadot",
	"matic": "matic-network",
	"sol":   "solana",
	"ltc":   "litecoin",
	"shib":  "shiba-inu",
	"trx":   "tron",
	"uni":   "uniswap",
	"link":  "chainlink",
}

// CoinGeckoSource fetches spot prices from the CoinGecko /simple/price endpoint.
type CoinGeckoSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
	ids     map[string]string

	cache   *cache.Cache
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	retry   utils.RetryConfig

	logger zerolog.Logger
}

// NewCoinGeckoSource creates a CoinGecko-backed price source.
func NewCoinGeckoSource(cfg config.CoinGeckoConfig, logger zerolog.Logger) *CoinGeckoSource {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultCoinGeckoURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	ids := make(map[string]string, len(DefaultCoinIDs)+len(cfg.IDs))
	for sym, id := range DefaultCoinIDs {
		ids[sym] = id
	}
	for sym, id := range cfg.IDs {
		ids[strings.ToLower(strings.TrimSpace(sym))] = strings.ToLower(strings.TrimSpace(id))
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxRetries + 1
	retry.Retryable = func(err error) bool {
		return apperrors.FetchKindOf(err) == apperrors.FetchNetwork
	}

	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.IsFailure = func(err error) bool {
		switch apperrors.FetchKindOf(err) {
		case apperrors.FetchNetwork, apperrors.FetchUpstream:
			return true
		}
		return false
	}

	return &CoinGeckoSource{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		ids:     ids,
		cache:   cache.New(ttl, 2*ttl),
		limiter: rate.NewLimiter(limit, 1),
		breaker: resilience.NewCircuitBreaker("coingecko", breakerCfg),
		retry:   retry,
		logger:  logging.WithComponent(logger, "coingecko"),
	}
}

// CoinID resolves a ticker to the CoinGecko id. Unknown tickers are assumed to
// already be ids.
func (s *CoinGeckoSource) CoinID(asset string) string {
	sym := strings.ToLower(strings.TrimSpace(asset))
	if id, ok := s.ids[sym]; ok {
		return id
	}
	return sym
}

// GetPrice returns the latest price, served from cache when fresh.
func (s *CoinGeckoSource) GetPrice(ctx context.Context, asset, quote string) (float64, error) {
	id := s.CoinID(asset)
	vs := strings.ToLower(strings.TrimSpace(quote))
	key := "simple:" + id + ":" + vs

	if v, found := s.cache.Get(key); found {
		return v.(float64), nil
	}

	price, err := resilience.ExecuteWithResult(s.breaker, func() (float64, error) {
		return utils.RetryWithResult(ctx, s.retry, func() (float64, error) {
			return s.fetch(ctx, asset, quote, id, vs)
		})
	})
	if err != nil {
		return 0, AsFetchError(err, asset, quote)
	}

	s.cache.Set(key, price, cache.DefaultExpiration)
	return price, nil
}

// Breaker exposes the circuit breaker state for diagnostics.
func (s *CoinGeckoSource) Breaker() *resilience.CircuitBreaker {
	return s.breaker
}

func (s *CoinGeckoSource) fetch(ctx context.Context, asset, quote, id, vs string) (float64, error) {
	fail := func(kind apperrors.FetchKind, err error) (float64, error) {
		return 0, apperrors.NewPriceFetchError(kind, asset, quote, err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fail(apperrors.FetchNetwork, err)
	}

	params := url.Values{}
	params.Set("ids", id)
	params.Set("vs_currencies", vs)
	endpoint := s.baseURL + "/simple/price?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fail(apperrors.FetchUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", s.apiKey)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	logging.LogAPICall(s.logger, http.MethodGet, "/simple/price", time.Since(start), err)
	if err != nil {
		return fail(apperrors.FetchNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fail(apperrors.FetchNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		pfe := apperrors.NewPriceFetchError(apperrors.FetchRateLimited, asset, quote,
			fmt.Errorf("rate limited by coingecko"))
		pfe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return 0, pfe
	case resp.StatusCode == http.StatusNotFound:
		return fail(apperrors.FetchNotFound, fmt.Errorf("coin %q not found", id))
	case resp.StatusCode != http.StatusOK:
		return fail(apperrors.FetchUpstream, fmt.Errorf("coingecko returned %d: %s", resp.StatusCode, truncate(body, 200)))
	}

	var payload map[string]map[string]float64
	if err := json.Unmarshal(body, &payload); err != nil {
		return fail(apperrors.FetchUpstream, fmt.Errorf("invalid response: %w", err))
	}
	quotes, ok := payload[id]
	if !ok {
		return fail(apperrors.FetchNotFound, fmt.Errorf("coin %q not found", id))
	}
	price, ok := quotes[vs]
	if !ok {
		return fail(apperrors.FetchNotFound, fmt.Errorf("no %s quote for %q", vs, id))
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return fail(apperrors.FetchUpstream, fmt.Errorf("unusable price %v", price))
	}
	return price, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

var _ Source = (*CoinGeckoSource)(nil)

// errNoPrice is returned by providers that answer without a usable price.
var errNoPrice = errors.New("no price in response")
