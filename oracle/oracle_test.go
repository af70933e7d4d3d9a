package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/hedgeerrors"
)

type fakeSource struct {
	price decimal.Decimal
	ts    time.Time
	err   error
}

func (s *fakeSource) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	return s.price, s.ts, s.err
}

func testConfig() Config {
	return Config{FreshnessMax: 5 * time.Second, SpreadSanityUpperBound: decimal.NewFromFloat(1)}
}

func TestGetValidatedQuote_HappyPath(t *testing.T) {
	now := time.Now()
	a := &fakeSource{price: decimal.NewFromInt(60000), ts: now}
	b := &fakeSource{price: decimal.NewFromInt(60010), ts: now}
	o := New("BTCUSDT", "BTCUSDT", a, b, testConfig())

	q, err := o.GetValidatedQuote(context.Background(), "BTC")

	require.NoError(t, err)
	assert.True(t, q.Mid.Equal(decimal.NewFromInt(60005)))
	assert.True(t, q.SpreadPct.GreaterThan(decimal.Zero))
}

func TestGetValidatedQuote_VenueAUnavailable(t *testing.T) {
	now := time.Now()
	a := &fakeSource{err: errors.New("timeout")}
	b := &fakeSource{price: decimal.NewFromInt(60000), ts: now}
	o := New("BTCUSDT", "BTCUSDT", a, b, testConfig())

	_, err := o.GetValidatedQuote(context.Background(), "BTC")

	var priceErr *hedgeerrors.PriceDataError
	require.ErrorAs(t, err, &priceErr)
}

func TestGetValidatedQuote_StaleVenueBRejected(t *testing.T) {
	now := time.Now()
	a := &fakeSource{price: decimal.NewFromInt(60000), ts: now}
	b := &fakeSource{price: decimal.NewFromInt(60000), ts: now.Add(-time.Minute)}
	o := New("BTCUSDT", "BTCUSDT", a, b, testConfig())

	_, err := o.GetValidatedQuote(context.Background(), "BTC")

	var priceErr *hedgeerrors.PriceDataError
	require.ErrorAs(t, err, &priceErr)
	assert.Contains(t, priceErr.Reason, "stale")
}

func TestGetValidatedQuote_ZeroPriceRejected(t *testing.T) {
	now := time.Now()
	a := &fakeSource{price: decimal.Zero, ts: now}
	b := &fakeSource{price: decimal.NewFromInt(60000), ts: now}
	o := New("BTCUSDT", "BTCUSDT", a, b, testConfig())

	_, err := o.GetValidatedQuote(context.Background(), "BTC")

	var priceErr *hedgeerrors.PriceDataError
	require.ErrorAs(t, err, &priceErr)
	assert.Contains(t, priceErr.Reason, "missing")
}

func TestGetValidatedQuote_SpreadExceedsSanityBound(t *testing.T) {
	now := time.Now()
	a := &fakeSource{price: decimal.NewFromInt(60000), ts: now}
	b := &fakeSource{price: decimal.NewFromInt(65000), ts: now}
	o := New("BTCUSDT", "BTCUSDT", a, b, testConfig())

	_, err := o.GetValidatedQuote(context.Background(), "BTC")

	var priceErr *hedgeerrors.PriceDataError
	require.ErrorAs(t, err, &priceErr)
	assert.Contains(t, priceErr.Reason, "sanity bound")
}
