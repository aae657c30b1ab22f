// Package rates converts foreign amounts into the home currency using
// a remote rate provider with cached and static fallbacks.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mizutani/kakeibot/internal/common"
	"github.com/mizutani/kakeibot/internal/model"
	"github.com/mizutani/kakeibot/internal/service"
)

// DefaultCacheTTL is how long a fetched rate is considered fresh. A
// stale cached rate still beats the static table when the provider is
// down.
const DefaultCacheTTL = time.Hour

// staticRates is the last-resort table of JPY per one unit, refreshed
// by hand when it drifts badly. Conversions served from here are
// approximate, which the confirmation step lets the user catch.
var staticRates = map[string]decimal.Decimal{
	"USD": decimal.NewFromInt(150),
	"EUR": decimal.NewFromInt(162),
	"GBP": decimal.NewFromInt(190),
	"KRW": decimal.NewFromFloat(0.11),
	"CNY": decimal.NewFromFloat(21),
	"TWD": decimal.NewFromFloat(4.7),
}

type cachedRate struct {
	fetchedAt time.Time
	rate      decimal.Decimal
}

// Converter implements service.CurrencyConverter.
type Converter struct {
	client   *http.Client
	clock    service.Clock
	cache    map[string]cachedRate
	endpoint string
	ttl      time.Duration
	mu       sync.Mutex
}

// New creates a converter against the given rate provider endpoint.
// An empty endpoint serves cached/static rates only.
func New(endpoint string, client *http.Client, clock service.Clock) *Converter {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Converter{
		client:   client,
		clock:    clock,
		cache:    make(map[string]cachedRate),
		endpoint: endpoint,
		ttl:      DefaultCacheTTL,
	}
}

// ToHomeCurrency converts amount from currencyCode into the home
// currency. There is no retry loop here: one fetch attempt, then the
// cache, then the static table, then common.ErrRateUnavailable.
func (c *Converter) ToHomeCurrency(ctx context.Context, amount decimal.Decimal, currencyCode string) (service.Conversion, error) {
	if currencyCode == model.HomeCurrency.Code {
		return service.Conversion{Amount: amount, Rate: decimal.NewFromInt(1)}, nil
	}

	rate, err := c.rateFor(ctx, currencyCode)
	if err != nil {
		return service.Conversion{}, err
	}

	return service.Conversion{
		Amount: amount.Mul(rate).Round(0),
		Rate:   rate,
	}, nil
}

func (c *Converter) rateFor(ctx context.Context, currencyCode string) (decimal.Decimal, error) {
	now := c.clock.Now()

	c.mu.Lock()
	cached, hasCached := c.cache[currencyCode]
	c.mu.Unlock()

	if hasCached && now.Sub(cached.fetchedAt) < c.ttl {
		return cached.rate, nil
	}

	if c.endpoint != "" {
		rate, err := c.fetch(ctx, currencyCode)
		if err == nil {
			c.mu.Lock()
			c.cache[currencyCode] = cachedRate{rate: rate, fetchedAt: now}
			c.mu.Unlock()
			return rate, nil
		}
		slog.Warn("rate fetch failed, falling back",
			"currency", currencyCode, "error", err)
	}

	if hasCached {
		return cached.rate, nil
	}
	if rate, ok := staticRates[currencyCode]; ok {
		return rate, nil
	}
	return decimal.Decimal{}, fmt.Errorf("%w: %s", common.ErrRateUnavailable, currencyCode)
}

type rateResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

func (c *Converter) fetch(ctx context.Context, currencyCode string) (decimal.Decimal, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing rate endpoint: %w", err)
	}
	q := u.Query()
	q.Set("base", currencyCode)
	q.Set("target", model.HomeCurrency.Code)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return decimal.Decimal{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("rate provider returned %d", resp.StatusCode)
	}

	var body rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decoding rate response: %w", err)
	}
	if body.Rate.LessThanOrEqual(decimal.Zero) {
		return decimal.Decimal{}, fmt.Errorf("rate provider returned non-positive rate %s", body.Rate)
	}
	return body.Rate, nil
}
