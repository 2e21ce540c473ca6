// Package market provides a client for the coin market-data service.
// Lookups are keyed by a video's coin address and are allowed to fail: callers
// treat every error from this package as MarketLookupUnavailable.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	errordefs "github.com/vidverse/vidverse-go/internal/errors"
	"github.com/vidverse/vidverse-go/internal/metrics"
	"github.com/vidverse/vidverse-go/internal/model"
)

// DefaultBaseURL is the public coin data API.
const DefaultBaseURL = "https://api-sdk.zora.engineering"

// Lookup resolves market statistics for a coin.
type Lookup interface {
	Coin(ctx context.Context, coin common.Address) (model.MarketStats, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, coin common.Address) (model.MarketStats, error)

// Coin implements Lookup.
func (f LookupFunc) Coin(ctx context.Context, coin common.Address) (model.MarketStats, error) {
	return f(ctx, coin)
}

// Unavailable is a Lookup that always fails. It backs deployments without a market API.
var Unavailable Lookup = LookupFunc(func(ctx context.Context, coin common.Address) (model.MarketStats, error) {
	return model.MarketStats{}, errordefs.MarketUnavailable("market data is not configured", nil)
})

// Client for the coin market-data service.
type Client struct {
	base    string       // Base URL of the market service
	apiKey  string       // Optional API key
	chainID int64        // Chain the coins live on
	hc      *http.Client // HTTP client with custom configuration
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[common.Address]cacheEntry
	now   func() time.Time
}

type cacheEntry struct {
	stats   model.MarketStats
	expires time.Time
}

// New creates a market client. A ttl of zero disables caching.
// It configures short timeouts since lookups must never hold up a read.
func New(baseURL, apiKey string, chainID int64, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
	}
	return &Client{
		base:    strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		chainID: chainID,
		hc:      &http.Client{Transport: transport, Timeout: 5 * time.Second},
		ttl:     ttl,
		metrics: m,
		logger:  logger.With("component", "market"),
		cache:   make(map[common.Address]cacheEntry),
		now:     time.Now,
	}
}

// coinResponse is the service's answer for a single coin.
type coinResponse struct {
	Zora20Token *struct {
		Name            string     `json:"name"`
		Symbol          string     `json:"symbol"`
		Address         string     `json:"address"`
		CreatedAt       string     `json:"createdAt"`
		TotalSupply     flexNumber `json:"totalSupply"`
		TotalVolume     flexNumber `json:"totalVolume"`
		Volume24h       flexNumber `json:"volume24h"`
		MarketCap       flexNumber `json:"marketCap"`
		UniqueHolders   flexNumber `json:"uniqueHolders"`
		CreatorEarnings []struct {
			AmountUsd flexNumber `json:"amountUsd"`
		} `json:"creatorEarnings"`
	} `json:"zora20Token"`
}

// Coin implements Lookup.
func (c *Client) Coin(ctx context.Context, coin common.Address) (model.MarketStats, error) {
	if coin == (common.Address{}) {
		c.metrics.ObserveMarketLookup("unavailable")
		return model.MarketStats{}, errordefs.MarketUnavailable("video has no coin", nil)
	}
	if stats, ok := c.cached(coin); ok {
		c.metrics.ObserveMarketLookup("cached")
		return stats, nil
	}

	stats, err := c.fetch(ctx, coin)
	if err != nil {
		c.metrics.ObserveMarketLookup("unavailable")
		c.logger.Debug("market lookup failed", "coin", coin.Hex(), "error", err)
		return model.MarketStats{}, errordefs.MarketUnavailable("market lookup failed", err)
	}
	c.metrics.ObserveMarketLookup("ok")

	if c.ttl > 0 {
		c.mu.Lock()
		c.cache[coin] = cacheEntry{stats: stats, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return stats, nil
}

func (c *Client) cached(coin common.Address) (model.MarketStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[coin]
	if !ok {
		return model.MarketStats{}, false
	}
	if c.now().After(e.expires) {
		delete(c.cache, coin)
		return model.MarketStats{}, false
	}
	return e.stats, true
}

func (c *Client) fetch(ctx context.Context, coin common.Address) (model.MarketStats, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return model.MarketStats{}, err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/coin"
	q := u.Query()
	q.Set("address", coin.Hex())
	q.Set("chain", strconv.FormatInt(c.chainID, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.MarketStats{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return model.MarketStats{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return model.MarketStats{}, fmt.Errorf("coin lookup failed: %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var body coinResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.MarketStats{}, fmt.Errorf("decode coin response: %w", err)
	}
	tok := body.Zora20Token
	if tok == nil {
		return model.MarketStats{}, fmt.Errorf("coin %s is not indexed", coin.Hex())
	}

	stats := model.MarketStats{
		MarketCap:     float64(tok.MarketCap),
		Volume24h:     float64(tok.Volume24h),
		TotalVolume:   float64(tok.TotalVolume),
		UniqueHolders: int64(tok.UniqueHolders),
		TotalSupply:   float64(tok.TotalSupply),
		CreatedAt:     tok.CreatedAt,
		Symbol:        tok.Symbol,
		Name:          tok.Name,
	}
	if len(tok.CreatorEarnings) > 0 {
		stats.CreatorEarnings = float64(tok.CreatorEarnings[0].AmountUsd)
	}
	return stats, nil
}

// flexNumber decodes a JSON number or a numeric string. Empty and null decode to zero.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*n = flexNumber(f)
	return nil
}
