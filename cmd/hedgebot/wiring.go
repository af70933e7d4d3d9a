package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/dbstore"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/oracle"
)

// loadSymbolSpecs reads the static per-asset configuration rows the
// operator seeds via cmd/migrate (spec.md §2's symbol spec).
func loadSymbolSpecs(ctx context.Context, db *dbstore.DB) (map[string]model.SymbolSpec, error) {
	rows, err := db.Conn.QueryContext(ctx, `
		SELECT asset, venue_a_symbol, venue_b_symbol, quantity_precision, price_precision,
			tick_size, min_order_quantity, venue_a_maker_fee_rate, venue_b_maker_fee_rate
		FROM symbol_specs
	`)
	if err != nil {
		return nil, fmt.Errorf("load symbol specs: %w", err)
	}
	defer rows.Close()

	specs := make(map[string]model.SymbolSpec)
	for rows.Next() {
		var s model.SymbolSpec
		if err := rows.Scan(&s.Asset, &s.VenueASymbol, &s.VenueBSymbol, &s.QuantityPrecision, &s.PricePrecision,
			&s.TickSize, &s.MinOrderQuantity, &s.VenueAMakerFeeRate, &s.VenueBMakerFeeRate); err != nil {
			return nil, fmt.Errorf("scan symbol spec: %w", err)
		}
		specs[s.Asset] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read symbol specs: %w", err)
	}
	return specs, nil
}

// priceSource narrows a venue gateway down to the oracle's LatestPrice
// surface; both venue.coindcx.Client and venue.bybit.Client satisfy it.
type priceSource interface {
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error)
}

// symbolOracle dispatches each GetValidatedQuote call to the
// CrossVenueOracle built for that asset, since oracle.CrossVenueOracle
// is pinned to one pair of venue symbols at construction time while the
// CLI only learns the requested asset at prompt time (spec.md §6).
type symbolOracle struct {
	oracles map[string]*oracle.CrossVenueOracle
}

// newSymbolOracle builds one CrossVenueOracle per configured symbol.
func newSymbolOracle(specs map[string]model.SymbolSpec, venueA, venueB priceSource, freshness time.Duration, spreadSanityUpperBound decimal.Decimal) oracle.Oracle {
	cfg := oracle.Config{FreshnessMax: freshness, SpreadSanityUpperBound: spreadSanityUpperBound}
	oracles := make(map[string]*oracle.CrossVenueOracle, len(specs))
	for asset, spec := range specs {
		oracles[asset] = oracle.New(spec.VenueASymbol, spec.VenueBSymbol, venueA, venueB, cfg)
	}
	return &symbolOracle{oracles: oracles}
}

func (s *symbolOracle) GetValidatedQuote(ctx context.Context, symbol string) (model.Quote, error) {
	o, ok := s.oracles[symbol]
	if !ok {
		return model.Quote{}, fmt.Errorf("no oracle configured for symbol %q", symbol)
	}
	return o.GetValidatedQuote(ctx, symbol)
}
