// Package hedgeerrors defines the typed error taxonomy the orchestrator
// branches on (spec.md §7). OrderError and NakedPositionError carry an
// underlying cause that callers can unwrap to the transport error; the
// orchestrator uses errors.As to decide abort behavior.
package hedgeerrors

import (
	"fmt"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
)

// SpreadError indicates the spread exceeded the configured max during
// placement or modification. The trade aborts; on modification both
// legs are cancelled first.
type SpreadError struct {
	Symbol    string
	SpreadPct string
	MaxPct    string
	During    string // "placement" or "modification"
}

func (e *SpreadError) Error() string {
	return fmt.Sprintf("spread %s%% exceeds max %s%% for %s during %s", e.SpreadPct, e.MaxPct, e.Symbol, e.During)
}

// OrderError indicates a placement, amend, cancel, or market submission
// failed. Sub-kinds distinguish which leg and whether rollback succeeded.
type OrderError struct {
	ChunkGroup        string
	Sequence          int
	Venue             model.Venue
	Op                string // "submit", "confirm", "cancel", "rollback-cancel", "market"
	RollbackOK        bool
	RollbackAttempted bool
	Cause             error
}

func (e *OrderError) Error() string {
	if e.RollbackAttempted {
		return fmt.Sprintf("order %s failed on %s/%d/%s (rollback ok=%v): %v", e.Op, e.ChunkGroup, e.Sequence, e.Venue, e.RollbackOK, e.Cause)
	}
	return fmt.Sprintf("order %s failed on %s/%d/%s: %v", e.Op, e.ChunkGroup, e.Sequence, e.Venue, e.Cause)
}

func (e *OrderError) Unwrap() error { return e.Cause }

// NakedPositionError indicates the unfilled leg could not be closed
// within the bounded attempts plus market fallback. Requires operator
// intervention.
type NakedPositionError struct {
	ChunkGroup     string
	Sequence       int
	Venue          model.Venue
	Quantity       string
	ElapsedSeconds float64
	Cause          error
}

func (e *NakedPositionError) Error() string {
	return fmt.Sprintf("naked position unresolved on %s/%d/%s qty=%s elapsed=%.1fs: %v",
		e.ChunkGroup, e.Sequence, e.Venue, e.Quantity, e.ElapsedSeconds, e.Cause)
}

func (e *NakedPositionError) Unwrap() error { return e.Cause }

// PriceDataError indicates a stale or missing quote. Retried at the
// next cycle during Phase 1; fatal at placement time.
type PriceDataError struct {
	Symbol string
	Reason string
}

func (e *PriceDataError) Error() string {
	return fmt.Sprintf("price data error for %s: %s", e.Symbol, e.Reason)
}

// ValidationError indicates malformed or out-of-bounds user input.
// Surfaces to the CLI for re-prompting.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// StoreError indicates a row expected to exist was missing after
// retries — durability or transaction violation. Fatal.
type StoreError struct {
	ChunkGroup string
	Sequence   int
	Venue      model.Venue
	Reason     string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error on %s/%d/%s: %s", e.ChunkGroup, e.Sequence, e.Venue, e.Reason)
}
