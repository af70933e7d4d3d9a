// Package chunker splits a user-requested quantity into fixed-size
// chunks at the venue minimum order size (spec.md §4.4).
package chunker

import (
	"github.com/shopspring/decimal"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/hedgeerrors"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
)

// Remainder describes a non-exact split: the user's quantity does not
// divide evenly into min_quantity chunks.
type Remainder struct {
	FloorTotal decimal.Decimal // floor * min_quantity
	CeilTotal  decimal.Decimal // (floor+1) * min_quantity
}

// Result is the chunker's output: either an exact split (Remainder is
// the zero value) or a remainder the caller must resolve before
// chunks can be produced.
type Result struct {
	Chunks    []decimal.Decimal
	Remainder *Remainder
}

// Split divides quantity into chunks of spec.MinOrderQuantity. A
// quantity below the minimum is a ValidationError with no venue calls
// made (spec.md §8 boundary behavior). A non-exact multiple returns a
// Remainder for the caller (the orchestrator/CLI) to resolve via the
// accept-lower/accept-upper/re-enter/cancel dialogue (spec.md §4.4,
// §6); no fee pre-compensation is applied — chunk quantities are
// exactly the user's request (spec.md §4.4, §9).
func Split(spec model.SymbolSpec, quantity decimal.Decimal) (Result, error) {
	min := spec.MinOrderQuantity
	if quantity.LessThan(min) {
		return Result{}, &hedgeerrors.ValidationError{
			Field:  "quantity",
			Reason: "below minimum order quantity " + min.String(),
		}
	}

	floor := quantity.Div(min).Floor()
	floorInt := floor.IntPart()

	floorTotal := min.Mul(floor)
	remainder := quantity.Sub(floorTotal)

	if !remainder.IsZero() {
		ceilTotal := min.Mul(floor.Add(decimal.NewFromInt(1)))
		return Result{
			Remainder: &Remainder{
				FloorTotal: spec.RoundQuantity(floorTotal),
				CeilTotal:  spec.RoundQuantity(ceilTotal),
			},
		}, nil
	}

	chunks := make([]decimal.Decimal, floorInt)
	for i := range chunks {
		chunks[i] = spec.RoundQuantity(min)
	}
	return Result{Chunks: chunks}, nil
}
