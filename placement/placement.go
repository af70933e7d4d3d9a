// Package placement implements the Placement Engine (spec.md §4.5):
// quote+spread gating, maker price computation, the hybrid
// confirmation protocol, the post-only retry ladder, and rollback on
// Venue-B failure. Grounded on the teacher's exec.Client submit/verify
// shape, generalized to the two-leg paired order this system places.
package placement

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/alert"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/eventlog"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/hedgeerrors"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/oracle"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/orderstore"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/venue"
)

const (
	confirmPollInterval  = 100 * time.Millisecond
	confirmStreamBudget  = 2 * time.Second
	confirmAcceptAfter   = 500 * time.Millisecond
	confirmTotalBudget   = 2500 * time.Millisecond
	postOnlyMaxTicks     = 4
	postOnlyRejectReason = "post-only would take liquidity"
)

// Engine places one chunk's paired order.
type Engine struct {
	venueA orderVenue
	venueB orderVenue
	quotes oracle.Oracle
	log    eventlog.Log
	store  orderstore.Store
	alert  alert.Alerter

	maxSpreadPct decimal.Decimal
}

// orderVenue narrows venue.Gateway to what placement needs, so tests
// can fake submit/confirm behavior without a full Gateway.
type orderVenue interface {
	venue.Gateway
}

// New builds a placement Engine for one symbol pair.
func New(venueA, venueB venue.Gateway, quotes oracle.Oracle, log eventlog.Log, store orderstore.Store, alerter alert.Alerter, maxSpreadPct decimal.Decimal) *Engine {
	return &Engine{venueA: venueA, venueB: venueB, quotes: quotes, log: log, store: store, alert: alerter, maxSpreadPct: maxSpreadPct}
}

// Result is the outcome of a successful chunk placement.
type Result struct {
	OrderIDA string
	OrderIDB string
}

// Place executes spec.md §4.5 steps 1-6 for one chunk.
func (e *Engine) Place(ctx context.Context, spec model.SymbolSpec, chunkGroup string, sequence int, quantity decimal.Decimal) (Result, error) {
	quote, err := e.quotes.GetValidatedQuote(ctx, spec.Asset)
	if err != nil {
		return Result{}, err
	}
	if quote.SpreadPct.GreaterThan(e.maxSpreadPct) {
		return Result{}, &hedgeerrors.SpreadError{Symbol: spec.Asset, SpreadPct: quote.SpreadPct.String(), MaxPct: e.maxSpreadPct.String(), During: "placement"}
	}

	orderIDA, err := e.placeVenueALeg(ctx, spec, chunkGroup, sequence, quantity, quote)
	if err != nil {
		return Result{}, err
	}

	orderIDB, err := e.placeVenueBLeg(ctx, spec, chunkGroup, sequence, quantity, quote)
	if err != nil {
		// Rollback protection: Venue-A must not carry an unhedged
		// position if Venue-B's leg never gets placed.
		if cancelErr := e.venueA.Cancel(ctx, orderIDA); cancelErr != nil {
			e.alert.Critical(ctx, fmt.Sprintf(
				"rollback failed: chunk %s/%d venue-a order %s could not be cancelled after venue-b placement failure: %v (original: %v)",
				chunkGroup, sequence, orderIDA, cancelErr, err))
			return Result{}, &hedgeerrors.OrderError{ChunkGroup: chunkGroup, Sequence: sequence, Venue: model.VenueA, Op: "rollback-cancel", RollbackOK: false, RollbackAttempted: true, Cause: err}
		}
		return Result{}, &hedgeerrors.OrderError{ChunkGroup: chunkGroup, Sequence: sequence, Venue: model.VenueB, Op: "submit", RollbackOK: true, RollbackAttempted: true, Cause: err}
	}

	now := time.Now()
	rowA := model.OrderRow{
		Key:             model.OrderKey{ChunkGroup: chunkGroup, Sequence: sequence, Venue: model.VenueA},
		Side:            model.SideBuy,
		OrderedQuantity: quantity,
		LimitPrice:      makerPrice(quote.Mid, spec.TickSize, model.SideBuy, 1),
		VenueOrderID:    orderIDA,
		Status:          model.StatusPlaced,
		Type:            model.OrderTypeLimit,
		UpdatedAt:       now,
	}
	rowB := model.OrderRow{
		Key:             model.OrderKey{ChunkGroup: chunkGroup, Sequence: sequence, Venue: model.VenueB},
		Side:            model.SideSell,
		OrderedQuantity: quantity,
		LimitPrice:      makerPrice(quote.Mid, spec.TickSize, model.SideSell, 1),
		VenueOrderID:    orderIDB,
		Status:          model.StatusPlaced,
		Type:            model.OrderTypeLimit,
		UpdatedAt:       now,
	}
	if err := e.store.Upsert(ctx, rowA); err != nil {
		return Result{}, err
	}
	if err := e.store.Upsert(ctx, rowB); err != nil {
		return Result{}, err
	}
	_ = e.log.RecordLifecycle(ctx, model.LifecycleEvent{ChunkGroup: chunkGroup, Sequence: sequence, Venue: model.VenueA, OrderID: orderIDA, EventType: model.EventPlaced, Timestamp: now})
	_ = e.log.RecordLifecycle(ctx, model.LifecycleEvent{ChunkGroup: chunkGroup, Sequence: sequence, Venue: model.VenueB, OrderID: orderIDB, EventType: model.EventPlaced, Timestamp: now})

	return Result{OrderIDA: orderIDA, OrderIDB: orderIDB}, nil
}

// makerPrice computes mid ∓ ticks*tickSize rounded toward the maker
// side: buys sit below mid, sells sit above (spec.md §4.5 step 2).
func makerPrice(mid, tick decimal.Decimal, side model.Side, ticks int) decimal.Decimal {
	delta := tick.Mul(decimal.NewFromInt(int64(ticks)))
	if side == model.SideBuy {
		return mid.Sub(delta)
	}
	return mid.Add(delta)
}

// placeVenueALeg submits the post-only buy leg and drives the
// post-only reject retry ladder (spec.md §4.5 steps 3-4).
func (e *Engine) placeVenueALeg(ctx context.Context, spec model.SymbolSpec, chunkGroup string, sequence int, quantity decimal.Decimal, quote model.Quote) (string, error) {
	ticks := 1
	for {
		price := spec.RoundPrice(makerPrice(quote.Mid, spec.TickSize, model.SideBuy, ticks))
		orderID, err := e.venueA.Submit(ctx, venue.SubmitRequest{
			Symbol:   spec.VenueASymbol,
			Side:     model.SideBuy,
			Type:     model.OrderTypeLimit,
			Quantity: spec.RoundQuantity(quantity),
			Price:    price,
			PostOnly: true,
		})
		if err != nil {
			return "", &hedgeerrors.OrderError{ChunkGroup: chunkGroup, Sequence: sequence, Venue: model.VenueA, Op: "submit", Cause: err}
		}

		rejectReason, rejected, err := e.confirm(ctx, model.VenueA, orderID, spec.VenueASymbol)
		if err != nil {
			return "", &hedgeerrors.OrderError{ChunkGroup: chunkGroup, Sequence: sequence, Venue: model.VenueA, Op: "confirm", Cause: err}
		}
		if !rejected {
			return orderID, nil
		}
		if rejectReason != postOnlyRejectReason {
			return "", &hedgeerrors.OrderError{ChunkGroup: chunkGroup, Sequence: sequence, Venue: model.VenueA, Op: "submit", Cause: fmt.Errorf("rejected: %s", rejectReason)}
		}

		log.Debug().Str("chunk_group", chunkGroup).Int("sequence", sequence).Int("ticks", ticks).
			Msg("post-only rejected, widening and retrying")

		ticks++
		if ticks > postOnlyMaxTicks {
			// No global cap on pre-fill retries (spec.md §4.5 step 4):
			// refresh the LTP and restart the 4-tick cycle.
			freshQuote, err := e.quotes.GetValidatedQuote(ctx, spec.Asset)
			if err != nil {
				return "", err
			}
			quote = freshQuote
			ticks = 1
		}
	}
}

// placeVenueBLeg submits the non-post-only sell leg with the same
// confirmation discipline, without a tick-widening ladder (Venue-B is
// not post-only, so there is no "would take liquidity" rejection).
func (e *Engine) placeVenueBLeg(ctx context.Context, spec model.SymbolSpec, chunkGroup string, sequence int, quantity decimal.Decimal, quote model.Quote) (string, error) {
	price := spec.RoundPrice(makerPrice(quote.Mid, spec.TickSize, model.SideSell, 1))
	orderID, err := e.venueB.Submit(ctx, venue.SubmitRequest{
		Symbol:   spec.VenueBSymbol,
		Side:     model.SideSell,
		Type:     model.OrderTypeLimit,
		Quantity: spec.RoundQuantity(quantity),
		Price:    price,
	})
	if err != nil {
		return "", err
	}

	rejectReason, rejected, err := e.confirm(ctx, model.VenueB, orderID, spec.VenueBSymbol)
	if err != nil {
		return "", err
	}
	if rejected {
		return "", fmt.Errorf("rejected: %s", rejectReason)
	}
	return orderID, nil
}

// confirm implements the hybrid confirmation protocol (spec.md §4.5
// step 3): poll the event log up to 2s at 100ms intervals. A REJECTED
// event returns its reason; any other event with a status counts as
// accepted at once, and an event seen without a status counts as
// accepted once 500ms have passed. If the full 2s budget elapses with no
// stream event at all, a single REST open-orders lookup decides; that
// lookup gets the remaining 0.5s, so total latency is bounded at 2.5s.
func (e *Engine) confirm(ctx context.Context, v model.Venue, orderID, symbol string) (rejectReason string, rejected bool, err error) {
	deadline := time.Now().Add(confirmStreamBudget)
	sawAnyEvent := false
	acceptedAt := time.Now().Add(confirmAcceptAfter)

	for time.Now().Before(deadline) {
		ev, found, err := e.log.LatestEventForOrder(ctx, v, orderID)
		if err != nil {
			return "", false, err
		}
		if found {
			sawAnyEvent = true
			if ev.Status == model.StatusRejected {
				return ev.RejectReason, true, nil
			}
			if ev.Status != "" {
				return "", false, nil
			}
		}
		if sawAnyEvent && time.Now().After(acceptedAt) {
			// An event but no terminal status by 500ms, and no
			// rejection: treat as accepted (spec.md §4.5 step 3).
			return "", false, nil
		}
		time.Sleep(confirmPollInterval)
	}

	if sawAnyEvent {
		return "", false, nil
	}

	gw := e.gatewayFor(v)
	restCtx, cancel := context.WithTimeout(ctx, confirmTotalBudget-confirmStreamBudget)
	defer cancel()
	open, err := gw.OpenOrders(restCtx, symbol)
	if err != nil {
		return "", false, fmt.Errorf("rest fallback open orders: %w", err)
	}
	for _, o := range open {
		if o.OrderID == orderID {
			return "", false, nil
		}
	}
	return "not found in open orders after confirmation window", true, nil
}

func (e *Engine) gatewayFor(v model.Venue) venue.Gateway {
	if v == model.VenueA {
		return e.venueA
	}
	return e.venueB
}
