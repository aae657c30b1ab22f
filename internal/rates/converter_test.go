package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mizutani/kakeibot/internal/common"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestConverter_HomeCurrencyIsIdentity(t *testing.T) {
	c := New("", nil, newClock())

	conv, err := c.ToHomeCurrency(context.Background(), decimal.NewFromInt(3280), "JPY")
	require.NoError(t, err)
	assert.True(t, conv.Amount.Equal(decimal.NewFromInt(3280)))
	assert.True(t, conv.Rate.Equal(decimal.NewFromInt(1)))
}

func TestConverter_FetchesAndCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "USD", r.URL.Query().Get("base"))
		assert.Equal(t, "JPY", r.URL.Query().Get("target"))
		_, _ = w.Write([]byte(`{"rate": "155.5"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), newClock())

	conv, err := c.ToHomeCurrency(context.Background(), decimal.NewFromInt(10), "USD")
	require.NoError(t, err)
	assert.True(t, conv.Amount.Equal(decimal.NewFromInt(1555)))

	// Second call inside the cache TTL must not hit the provider.
	_, err = c.ToHomeCurrency(context.Background(), decimal.NewFromInt(20), "USD")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestConverter_FallsBackToStaleCache(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"rate": "150"}`))
	}))
	defer srv.Close()

	clock := newClock()
	c := New(srv.URL, srv.Client(), clock)

	_, err := c.ToHomeCurrency(context.Background(), decimal.NewFromInt(1), "USD")
	require.NoError(t, err)

	healthy = false
	clock.now = clock.now.Add(2 * time.Hour)

	conv, err := c.ToHomeCurrency(context.Background(), decimal.NewFromInt(2), "USD")
	require.NoError(t, err, "a stale cached rate still serves when the provider is down")
	assert.True(t, conv.Amount.Equal(decimal.NewFromInt(300)))
}

func TestConverter_FallsBackToStaticTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), newClock())

	conv, err := c.ToHomeCurrency(context.Background(), decimal.NewFromInt(10), "USD")
	require.NoError(t, err)
	assert.True(t, conv.Amount.Equal(decimal.NewFromInt(1500)), "static table rate is 150 JPY/USD")
}

func TestConverter_UnknownCurrency(t *testing.T) {
	c := New("", nil, newClock())

	_, err := c.ToHomeCurrency(context.Background(), decimal.NewFromInt(10), "XXX")
	assert.ErrorIs(t, err, common.ErrRateUnavailable)
}

func TestConverter_RejectsNonPositiveRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"rate": "0"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), newClock())

	// The bogus fetched rate is discarded in favor of the static table.
	conv, err := c.ToHomeCurrency(context.Background(), decimal.NewFromInt(10), "USD")
	require.NoError(t, err)
	assert.True(t, conv.Amount.Equal(decimal.NewFromInt(1500)))
}
