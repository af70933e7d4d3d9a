// Package oracle implements the validated cross-venue quote spec.md
// §4.3/§6 require: get_validated_quote(symbol) with freshness and
// spread checks. The pack has no direct price-cache analogue in a
// complete teacher-eligible repo (the teacher's own price feeds are
// market-data caches with no cross-venue spread assertion), so this is
// new surface built in the teacher's plain struct-plus-method register
// rather than copied from one file.
package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/hedgeerrors"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
)

// PriceSource is implemented by each venue's lightweight quote fetcher.
// It is intentionally narrower than venue.Gateway: the oracle only
// needs a current top-of-book price and its timestamp.
type PriceSource interface {
	LatestPrice(ctx context.Context, symbol string) (price decimal.Decimal, ts time.Time, err error)
}

// Oracle is the interface placement/management depend on.
type Oracle interface {
	GetValidatedQuote(ctx context.Context, symbol string) (model.Quote, error)
}

// Config holds the freshness and spread bounds from spec.md §6.
type Config struct {
	FreshnessMax           time.Duration
	SpreadSanityUpperBound decimal.Decimal
}

// CrossVenueOracle combines two PriceSources into validated quotes.
type CrossVenueOracle struct {
	venueA string
	venueB string
	a      PriceSource
	b      PriceSource
	cfg    Config
}

// New builds a CrossVenueOracle over the two venues' price sources.
func New(venueASymbol, venueBSymbol string, a, b PriceSource, cfg Config) *CrossVenueOracle {
	return &CrossVenueOracle{venueA: venueASymbol, venueB: venueBSymbol, a: a, b: b, cfg: cfg}
}

// GetValidatedQuote fetches both venues' prices and fails with a
// PriceDataError if either side is stale or missing (spec.md §6).
func (o *CrossVenueOracle) GetValidatedQuote(ctx context.Context, symbol string) (model.Quote, error) {
	priceA, tsA, err := o.a.LatestPrice(ctx, o.venueA)
	if err != nil {
		return model.Quote{}, &hedgeerrors.PriceDataError{Symbol: symbol, Reason: fmt.Sprintf("venue-a quote unavailable: %v", err)}
	}
	priceB, tsB, err := o.b.LatestPrice(ctx, o.venueB)
	if err != nil {
		return model.Quote{}, &hedgeerrors.PriceDataError{Symbol: symbol, Reason: fmt.Sprintf("venue-b quote unavailable: %v", err)}
	}

	now := time.Now()
	if now.Sub(tsA) > o.cfg.FreshnessMax {
		return model.Quote{}, &hedgeerrors.PriceDataError{Symbol: symbol, Reason: "venue-a quote stale"}
	}
	if now.Sub(tsB) > o.cfg.FreshnessMax {
		return model.Quote{}, &hedgeerrors.PriceDataError{Symbol: symbol, Reason: "venue-b quote stale"}
	}
	if priceA.IsZero() || priceB.IsZero() {
		return model.Quote{}, &hedgeerrors.PriceDataError{Symbol: symbol, Reason: "quote missing"}
	}

	mid := priceA.Add(priceB).Div(decimal.NewFromInt(2))
	spreadPct := priceA.Sub(priceB).Abs().Div(mid).Mul(decimal.NewFromInt(100))

	if spreadPct.GreaterThan(o.cfg.SpreadSanityUpperBound) {
		return model.Quote{}, &hedgeerrors.PriceDataError{Symbol: symbol, Reason: fmt.Sprintf("spread %s%% exceeds sanity bound %s%%", spreadPct.String(), o.cfg.SpreadSanityUpperBound.String())}
	}

	return model.Quote{
		Symbol:     symbol,
		PriceA:     priceA,
		PriceB:     priceB,
		Mid:        mid,
		SpreadPct:  spreadPct,
		TimestampA: tsA,
		TimestampB: tsB,
	}, nil
}
