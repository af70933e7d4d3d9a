// Package model holds the data types shared across the hedge engine's
// packages. It exists to avoid import cycles the way the teacher's
// types package does for Position/Trade.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies one side of a hedge pair.
type Venue string

const (
	VenueA Venue = "coindcx" // spot
	VenueB Venue = "bybit"   // perpetual
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes limit vs market submissions.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// QuantityUnit disambiguates what a market order's quantity field means
// on venues where it could be either the base asset or quote notional.
type QuantityUnit string

const (
	QuantityUnitBase  QuantityUnit = "base"
	QuantityUnitQuote QuantityUnit = "quote"
)

// OrderStatus is the lifecycle status of one venue order.
type OrderStatus string

const (
	StatusPlaced    OrderStatus = "PLACED"
	StatusOpen      OrderStatus = "OPEN"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// IsTerminal reports whether the status will never change again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// EventType enumerates lifecycle_log event kinds (spec.md §3).
type EventType string

const (
	EventPlaced         EventType = "PLACED"
	EventModified       EventType = "MODIFIED"
	EventReplaced       EventType = "REPLACED"
	EventCancelled      EventType = "CANCELLED"
	EventFilled         EventType = "FILLED"
	EventRejected       EventType = "REJECTED"
	EventMarketFallback EventType = "MARKET_FALLBACK"
)

// TopUpStatus is the terminal state of a reconciliation top-up.
type TopUpStatus string

const (
	TopUpCompleted           TopUpStatus = "COMPLETED"
	TopUpSkippedBelowMinimum TopUpStatus = "SKIPPED_BELOW_MINIMUM"
	TopUpFailed              TopUpStatus = "FAILED"
)

// SymbolSpec is the static per-asset configuration (spec.md §3).
type SymbolSpec struct {
	Asset              string
	VenueASymbol       string // CoinDCX market identifier
	VenueBSymbol       string // Bybit contract identifier
	QuantityPrecision  int32
	PricePrecision     int32
	TickSize           decimal.Decimal
	MinOrderQuantity   decimal.Decimal
	VenueAMakerFeeRate decimal.Decimal
	VenueBMakerFeeRate decimal.Decimal
}

// RoundQuantity rounds q to the symbol's quantity precision.
func (s SymbolSpec) RoundQuantity(q decimal.Decimal) decimal.Decimal {
	return q.Round(s.QuantityPrecision)
}

// RoundPrice rounds p to the symbol's price precision.
func (s SymbolSpec) RoundPrice(p decimal.Decimal) decimal.Decimal {
	return p.Round(s.PricePrecision)
}

// ChunkGroup identifies one user trade. Created once; never mutated.
type ChunkGroup struct {
	ID          string
	Asset       string
	TotalChunks int
	StartTime   time.Time
}

// Chunk is one placement pair's position within a chunk group.
type Chunk struct {
	ChunkGroup string
	Sequence   int
	Quantity   decimal.Decimal
}

// OrderKey is the order store's primary key (spec.md §3 invariant 1-2).
type OrderKey struct {
	ChunkGroup string
	Sequence   int
	Venue      Venue
}

// OrderRow is the order store's current-state row for one (chunk_group,
// sequence, venue).
type OrderRow struct {
	Key OrderKey

	Side             Side
	OrderedQuantity  decimal.Decimal
	LimitPrice       decimal.Decimal
	VenueOrderID     string
	Status           OrderStatus
	Type             OrderType
	ExecutedQuantity decimal.Decimal
	ExecutedFee      decimal.Decimal // base asset for Venue-A, quote for Venue-B
	NetReceived      decimal.Decimal // executed - fee

	// Partial-completion fields: set only when a prior partial fill's
	// remainder was completed by a follow-up market order.
	PartialExecutedQuantity decimal.Decimal
	PartialExecutedFee      decimal.Decimal
	IsPartialCompletion     bool

	UpdatedAt time.Time
}

// LifecycleEvent is one append-only row in lifecycle_log.
type LifecycleEvent struct {
	ChunkGroup string
	Sequence   int
	Venue      Venue
	OrderID    string
	EventType  EventType
	Details    string
	Timestamp  time.Time
}

// VenueEvent is one append-only row of a venue's raw event stream, with
// parsed fields extracted for query convenience.
type VenueEvent struct {
	Venue            Venue
	EventID          string
	OrderID          string
	RawPayload       string
	Status           OrderStatus
	ExecutedQuantity decimal.Decimal
	ExecutedFee      decimal.Decimal
	Price            decimal.Decimal
	RejectReason     string
	ChunkGroup       string // empty if unknown at ingestion time
	Sequence         int
	SequenceKnown    bool
	Timestamp        time.Time
}

// FeeTotals is the result of eventlog.ChunkTotalFees.
type FeeTotals struct {
	FeeInBase           decimal.Decimal
	FeeInQuote          decimal.Decimal
	IsPartialCompletion bool
}

// Reconciliation is one per-chunk-group reconciliation record.
type Reconciliation struct {
	ChunkGroup             string
	Symbol                 string
	TotalChunks            int
	CompletedChunks        int
	CumulativeOrderedQtyA  decimal.Decimal
	CumulativeFeeA         decimal.Decimal
	CumulativeNetReceivedA decimal.Decimal
	TopUpOrderID           string
	TopUpStatus            TopUpStatus
	Notes                  string
}

// Quote is a validated cross-venue price snapshot.
type Quote struct {
	Symbol     string
	PriceA     decimal.Decimal
	PriceB     decimal.Decimal
	Mid        decimal.Decimal
	SpreadPct  decimal.Decimal
	TimestampA time.Time
	TimestampB time.Time
}
