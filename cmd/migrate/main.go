// Command migrate applies the schema (via dbstore.Open) and seeds the
// symbol_specs table operators edit to add or adjust a tradable asset.
// Grounded on the teacher's scripts/db_setup.go table-inspection and
// seed-then-verify style, generalized from the teacher's fixed trading
// schema to this repo's symbol_specs upsert.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/dbstore"
)

// defaultSpecs seeds the two symbols spec.md's worked examples use.
// Operators extend this list (or edit the row directly) as new assets
// are onboarded; migrate never overwrites an existing row.
var defaultSpecs = []symbolSeed{
	{
		Asset: "BTC", VenueASymbol: "BTCUSDT", VenueBSymbol: "BTCUSDT",
		QuantityPrecision: 6, PricePrecision: 1,
		TickSize: decimal.NewFromFloat(0.1), MinOrderQuantity: decimal.NewFromFloat(0.00002),
		VenueAMakerFeeRate: decimal.NewFromFloat(0.0005), VenueBMakerFeeRate: decimal.NewFromFloat(0.0001),
	},
	{
		Asset: "ETH", VenueASymbol: "ETHUSDT", VenueBSymbol: "ETHUSDT",
		QuantityPrecision: 5, PricePrecision: 2,
		TickSize: decimal.NewFromFloat(0.01), MinOrderQuantity: decimal.NewFromFloat(0.0003),
		VenueAMakerFeeRate: decimal.NewFromFloat(0.0005), VenueBMakerFeeRate: decimal.NewFromFloat(0.0001),
	},
}

type symbolSeed struct {
	Asset                                  string
	VenueASymbol, VenueBSymbol             string
	QuantityPrecision, PricePrecision      int32
	TickSize, MinOrderQuantity             decimal.Decimal
	VenueAMakerFeeRate, VenueBMakerFeeRate decimal.Decimal
}

func main() {
	godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		fmt.Println("DATABASE_URL not set")
		os.Exit(1)
	}

	fmt.Println("connecting and applying schema...")
	db, err := dbstore.Open(databaseURL)
	if err != nil {
		fmt.Printf("migration failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Conn.Close()
	fmt.Println("schema applied")

	ctx := context.Background()
	for _, s := range defaultSpecs {
		res, err := db.Conn.ExecContext(ctx, `
			INSERT INTO symbol_specs (asset, venue_a_symbol, venue_b_symbol, quantity_precision, price_precision,
				tick_size, min_order_quantity, venue_a_maker_fee_rate, venue_b_maker_fee_rate)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (asset) DO NOTHING
		`, s.Asset, s.VenueASymbol, s.VenueBSymbol, s.QuantityPrecision, s.PricePrecision,
			s.TickSize, s.MinOrderQuantity, s.VenueAMakerFeeRate, s.VenueBMakerFeeRate)
		if err != nil {
			fmt.Printf("seed %s failed: %v\n", s.Asset, err)
			continue
		}
		if rows, _ := res.RowsAffected(); rows > 0 {
			fmt.Printf("seeded %s\n", s.Asset)
		} else {
			fmt.Printf("%s already present, left unchanged\n", s.Asset)
		}
	}

	fmt.Println("\nconfigured symbols:")
	rows, err := db.Conn.QueryContext(ctx, `SELECT asset, venue_a_symbol, venue_b_symbol, min_order_quantity FROM symbol_specs ORDER BY asset`)
	if err != nil {
		fmt.Printf("list symbols failed: %v\n", err)
		os.Exit(1)
	}
	defer rows.Close()
	for rows.Next() {
		var asset, a, b string
		var minQty decimal.Decimal
		if err := rows.Scan(&asset, &a, &b, &minQty); err != nil {
			fmt.Printf("scan failed: %v\n", err)
			continue
		}
		fmt.Printf("  %-6s venue-a=%-12s venue-b=%-12s min_qty=%s\n", asset, a, b, minQty.String())
	}
}
