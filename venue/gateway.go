// Package venue defines the uniform gateway capability set spec.md §4.1
// and §6 require of both Venue-A (spot) and Venue-B (perpetual)
// clients, grounded on the teacher's exec.Client (submit/cancel/balance)
// and internal/binance.Client (stream plumbing) shape.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
)

// SubmitRequest describes a single order submission.
type SubmitRequest struct {
	Symbol       string
	Side         model.Side
	Type         model.OrderType
	Quantity     decimal.Decimal
	Price        decimal.Decimal // zero for market orders
	PostOnly     bool
	QuantityUnit model.QuantityUnit
}

// OpenOrder is a row from a venue's open-orders endpoint, used only as
// the hybrid-confirmation REST fallback.
type OpenOrder struct {
	OrderID  string
	Symbol   string
	Side     model.Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Status   model.OrderStatus
}

// HistoryRecord is a row from a venue's order-history endpoint, used by
// the Fee Reconciler to confirm that its top-up order filled.
type HistoryRecord struct {
	OrderID          string
	Status           model.OrderStatus
	ExecutedQuantity decimal.Decimal
	ExecutedFee      decimal.Decimal
	AvgPrice         decimal.Decimal
}

// StreamEvent is one normalized event off a venue's order stream.
type StreamEvent struct {
	Venue            model.Venue
	EventID          string
	OrderID          string
	Status           model.OrderStatus
	ExecutedQuantity decimal.Decimal
	ExecutedFee      decimal.Decimal
	Price            decimal.Decimal
	RejectReason     string
	RawPayload       string
	Timestamp        time.Time
}

// AmendUnsupportedError is the typed translation of a venue's
// "edit not supported" response. The management loop and the resolver
// fall back to cancel+replace on any Amend error, this one included
// (spec.md §4.1).
type AmendUnsupportedError struct {
	Venue model.Venue
}

func (e *AmendUnsupportedError) Error() string {
	return string(e.Venue) + ": amend not supported, use cancel+replace"
}

// Gateway is the capability set every venue client implements.
type Gateway interface {
	Name() model.Venue

	// AmendSupported reports whether Amend can be used in the venue's
	// current margin mode; false means the caller must cancel+replace.
	AmendSupported() bool

	// SupportsPostOnly reports whether Submit honors PostOnly.
	SupportsPostOnly() bool

	Submit(ctx context.Context, req SubmitRequest) (orderID string, err error)
	Amend(ctx context.Context, orderID string, newPrice decimal.Decimal) error
	Cancel(ctx context.Context, orderID string) error

	OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	OrderHistory(ctx context.Context, orderID string) (*HistoryRecord, error)

	// Subscribe returns a channel of stream events. The channel is
	// closed when ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan StreamEvent, error)
}
