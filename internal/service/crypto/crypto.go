// Package crypto implements a market-data backend service over the
// CoinLore tickers API. One upstream request returns the full ticker list,
// so the parsed list is held in a short-lived TTL cache to keep request
// bursts from hammering the upstream.
package crypto

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/apiary/apiary/internal/apierrors"
	"github.com/apiary/apiary/internal/service"
)

const (
	Name = "crypto"

	// DefaultBaseURL is the CoinLore tickers endpoint.
	DefaultBaseURL = "https://api.coinlore.net/api/tickers/"

	defaultSymbol = "BTC"
	tickerTTL     = 30 * time.Second
	cacheKey      = "tickers"
)

type ticker struct {
	Symbol           string `json:"symbol"`
	Name             string `json:"name"`
	Rank             any    `json:"rank"`
	PriceUSD         any    `json:"price_usd"`
	PercentChange24h any    `json:"percent_change_24h"`
	PercentChange1h  any    `json:"percent_change_1h"`
	PercentChange7d  any    `json:"percent_change_7d"`
	MarketCapUSD     any    `json:"market_cap_usd"`
	Volume24         any    `json:"volume24"`
	PriceBTC         any    `json:"price_btc"`
	CSupply          any    `json:"csupply"`
	TSupply          any    `json:"tsupply"`
	MSupply          any    `json:"msupply"`
}

type tickersResponse struct {
	Data []ticker `json:"data"`
}

// cache is shared across request-scoped instances; the upstream dataset is
// global, not per-request state.
var cache = ttlcache.New[string, []ticker](
	ttlcache.WithTTL[string, []ticker](tickerTTL),
	ttlcache.WithDisableTouchOnHit[string, []ticker](),
)

func init() {
	go cache.Start()
}

type cryptoService struct {
	client  *http.Client
	baseURL string
}

// New returns a crypto service bound to the shared transport handle.
func New(client *http.Client) service.Service {
	return &cryptoService{client: client, baseURL: DefaultBaseURL}
}

// NewWithBaseURL is used by tests to point the service at a fake upstream.
func NewWithBaseURL(client *http.Client, baseURL string) service.Service {
	return &cryptoService{client: client, baseURL: baseURL}
}

func (s *cryptoService) Call(ctx context.Context, params map[string]any) (map[string]any, error) {
	symbol := defaultSymbol
	if raw, ok := params["symbol"]; ok && raw != nil {
		if provided := strings.TrimSpace(fmt.Sprint(raw)); provided != "" {
			symbol = provided
		}
	}

	tickers, err := s.fetchTickers(ctx)
	if err != nil {
		return nil, err
	}

	symbolUpper := strings.ToUpper(symbol)
	for _, t := range tickers {
		if strings.ToUpper(t.Symbol) == symbolUpper {
			return map[string]any{
				"symbol":             t.Symbol,
				"name":               t.Name,
				"rank":               safeInt(t.Rank),
				"price_usd":          safeFloat(t.PriceUSD),
				"percent_change_24h": safeFloat(t.PercentChange24h),
				"percent_change_1h":  safeFloat(t.PercentChange1h),
				"percent_change_7d":  safeFloat(t.PercentChange7d),
				"market_cap_usd":     safeFloat(t.MarketCapUSD),
				"volume24":           safeFloat(t.Volume24),
				"price_btc":          safeFloat(t.PriceBTC),
				"csupply":            t.CSupply,
				"tsupply":            t.TSupply,
				"msupply":            t.MSupply,
			}, nil
		}
	}

	return nil, apierrors.NewValidation(
		fmt.Sprintf("Symbol '%s' not found in cryptocurrency data. Please check the symbol and try again.", symbol),
		http.StatusNotFound, nil)
}

// Cleanup is a no-op: the transport handle is shared with the caller, not
// owned by this instance.
func (s *cryptoService) Cleanup() error {
	return nil
}

func (s *cryptoService) fetchTickers(ctx context.Context) ([]ticker, error) {
	if item := cache.Get(s.baseURL + cacheKey); item != nil {
		return item.Value(), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apierrors.NewValidation(
			fmt.Sprintf("Failed to fetch cryptocurrency data from CoinLore API: %v", err),
			http.StatusBadGateway, nil)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apierrors.NewValidation(
			fmt.Sprintf("Failed to fetch cryptocurrency data from CoinLore API: HTTP %d - %s", resp.StatusCode, string(body)),
			resp.StatusCode, nil)
	}

	var parsed tickersResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apierrors.NewValidation(
			fmt.Sprintf("Failed to decode CoinLore API response: %v", err),
			http.StatusBadGateway, nil)
	}
	if len(parsed.Data) == 0 {
		return nil, apierrors.NewValidation("CoinLore API returned empty data", http.StatusInternalServerError, nil)
	}

	cache.Set(s.baseURL+cacheKey, parsed.Data, ttlcache.DefaultTTL)
	return parsed.Data, nil
}

// safeFloat coerces upstream values (strings, numbers, null) to float64,
// returning 0 on anything unparseable.
func safeFloat(v any) float64 {
	switch value := v.(type) {
	case nil:
		return 0
	case float64:
		return value
	case string:
		if value == "" {
			return 0
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// safeInt coerces via float first so string numbers like "1.00" parse.
func safeInt(v any) int {
	return int(safeFloat(v))
}
