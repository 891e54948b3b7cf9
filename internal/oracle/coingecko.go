// Package oracle quotes the reference token against a fiat currency.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dexHistory/internal/retry"
)

const (
	// DefaultBaseURL is the public CoinGecko API.
	DefaultBaseURL = "https://api.coingecko.com/api/v3"

	// liveWindow is how close to now a timestamp must be to use the spot price.
	liveWindow = time.Minute
	dayLayout  = "02-01-2006"
)

// Config selects the coin and currency to quote.
type Config struct {
	BaseURL      string
	CoinID       string
	Currency     string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// CoinGecko quotes the spot price for recent timestamps and the daily
// historical price otherwise. Historical prices are fetched once per UTC day.
type CoinGecko struct {
	cfg    Config
	client *http.Client
	memory *MemoryCache
	shared DayCache
	logger *zap.Logger
	now    func() time.Time
}

// NewCoinGecko builds a client. shared is an optional cache consulted after
// the in-process one, typically a RedisCache.
func NewCoinGecko(cfg Config, shared DayCache, logger *zap.Logger) (*CoinGecko, error) {
	if strings.TrimSpace(cfg.CoinID) == "" {
		return nil, fmt.Errorf("coin id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.Currency = strings.ToLower(cfg.Currency)

	return &CoinGecko{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		memory: NewMemoryCache(),
		shared: shared,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Price returns the reference price at the given time.
func (c *CoinGecko) Price(ctx context.Context, at time.Time) (decimal.Decimal, error) {
	if at.After(c.now().Add(-liveWindow)) {
		return c.spot(ctx)
	}
	return c.historical(ctx, at)
}

func (c *CoinGecko) spot(ctx context.Context) (decimal.Decimal, error) {
	var body map[string]map[string]decimal.Decimal
	query := url.Values{"ids": {c.cfg.CoinID}, "vs_currencies": {c.cfg.Currency}}
	if err := c.get(ctx, "/simple/price", query, &body); err != nil {
		return decimal.Zero, fmt.Errorf("spot price: %w", err)
	}
	price, ok := body[c.cfg.CoinID][c.cfg.Currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("spot price: no %s quote for %s", c.cfg.Currency, c.cfg.CoinID)
	}
	return price, nil
}

func (c *CoinGecko) historical(ctx context.Context, at time.Time) (decimal.Decimal, error) {
	day := at.UTC().Format(dayLayout)
	if price, ok, _ := c.memory.Get(ctx, day); ok {
		return price, nil
	}
	if c.shared != nil {
		price, ok, err := c.shared.Get(ctx, day)
		if err != nil {
			c.logger.Warn("price cache read failed", zap.String("day", day), zap.Error(err))
		} else if ok {
			_ = c.memory.Set(ctx, day, price)
			return price, nil
		}
	}

	var body struct {
		MarketData struct {
			CurrentPrice map[string]decimal.Decimal `json:"current_price"`
		} `json:"market_data"`
	}
	path := "/coins/" + url.PathEscape(c.cfg.CoinID) + "/history"
	if err := c.get(ctx, path, url.Values{"date": {day}}, &body); err != nil {
		return decimal.Zero, fmt.Errorf("history price %s: %w", day, err)
	}
	price, ok := body.MarketData.CurrentPrice[c.cfg.Currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("history price %s: no %s quote", day, c.cfg.Currency)
	}

	c.logger.Info("reference price fetched", zap.String("day", day), zap.String("price", price.String()))
	_ = c.memory.Set(ctx, day, price)
	if c.shared != nil {
		if err := c.shared.Set(ctx, day, price); err != nil {
			c.logger.Warn("price cache write failed", zap.String("day", day), zap.Error(err))
		}
	}
	return price, nil
}

func (c *CoinGecko) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.cfg.BaseURL + path + "?" + query.Encode()
	return retry.Do(ctx, c.cfg.MaxRetries, c.cfg.RetryBackoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("x-cg-demo-api-key", c.cfg.APIKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	})
}
