// Package management implements the Active-Management Loop (Phase 1,
// spec.md §4.6): re-prices both open legs every modification interval
// until one fills, watching spread and cancellation on every tick.
// Grounded on the teacher's trading.Engine poll-tick shape, generalized
// from single-leg position monitoring to the paired order's six-step
// decision matrix.
package management

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/eventlog"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/hedgeerrors"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/oracle"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/orderstore"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/venue"
)

// Outcome reports which leg, if any, needs Phase 2 handling.
type Outcome struct {
	BothFilled bool
	// FilledVenue/UnfilledVenue are set when exactly one leg filled:
	// the orchestrator hands the unfilled leg to the resolver.
	FilledVenue   model.Venue
	UnfilledVenue model.Venue
}

// Loop runs Phase 1 for one chunk's paired order.
type Loop struct {
	venueA venue.Gateway
	venueB venue.Gateway
	quotes oracle.Oracle
	log    eventlog.Log
	store  orderstore.Store

	pollInterval   time.Duration
	modifyInterval time.Duration
	maxSpreadPct   decimal.Decimal
}

// New builds a management Loop.
func New(venueA, venueB venue.Gateway, quotes oracle.Oracle, log eventlog.Log, store orderstore.Store, pollInterval, modifyInterval time.Duration, maxSpreadPct decimal.Decimal) *Loop {
	return &Loop{venueA: venueA, venueB: venueB, quotes: quotes, log: log, store: store, pollInterval: pollInterval, modifyInterval: modifyInterval, maxSpreadPct: maxSpreadPct}
}

// Run drives the loop until one leg fills or an abort condition
// raises a typed error (spec.md §4.6). It has no upper time bound.
func (l *Loop) Run(ctx context.Context, spec model.SymbolSpec, chunkGroup string, sequence int) (Outcome, error) {
	keyA := model.OrderKey{ChunkGroup: chunkGroup, Sequence: sequence, Venue: model.VenueA}
	keyB := model.OrderKey{ChunkGroup: chunkGroup, Sequence: sequence, Venue: model.VenueB}

	lastCycle := time.Now()
	for {
		// Polling sub-interval: the same completion checks run so a
		// mid-cycle fill exits promptly (spec.md §4.6).
		outcome, done, err := l.checkCompletion(ctx, keyA, keyB)
		if err != nil {
			return Outcome{}, err
		}
		if done {
			return outcome, nil
		}

		if time.Since(lastCycle) >= l.modifyInterval {
			outcome, done, err := l.modificationCycle(ctx, spec, chunkGroup, sequence, keyA, keyB)
			if err != nil {
				return Outcome{}, err
			}
			if done {
				return outcome, nil
			}
			lastCycle = time.Now()
		}

		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

func (l *Loop) checkCompletion(ctx context.Context, keyA, keyB model.OrderKey) (Outcome, bool, error) {
	statusA, err := l.store.Status(ctx, keyA)
	if err != nil {
		return Outcome{}, false, err
	}
	statusB, err := l.store.Status(ctx, keyB)
	if err != nil {
		return Outcome{}, false, err
	}

	if statusA == model.StatusFilled && statusB == model.StatusFilled {
		return Outcome{BothFilled: true}, true, nil
	}
	if statusA == model.StatusFilled {
		return Outcome{FilledVenue: model.VenueA, UnfilledVenue: model.VenueB}, true, nil
	}
	if statusB == model.StatusFilled {
		return Outcome{FilledVenue: model.VenueB, UnfilledVenue: model.VenueA}, true, nil
	}
	return Outcome{}, false, nil
}

// modificationCycle implements spec.md §4.6 steps 1-6.
func (l *Loop) modificationCycle(ctx context.Context, spec model.SymbolSpec, chunkGroup string, sequence int, keyA, keyB model.OrderKey) (Outcome, bool, error) {
	outcome, done, err := l.checkCompletion(ctx, keyA, keyB)
	if err != nil || done {
		return outcome, done, err
	}

	statusA, err := l.store.Status(ctx, keyA)
	if err != nil {
		return Outcome{}, false, err
	}
	statusB, err := l.store.Status(ctx, keyB)
	if err != nil {
		return Outcome{}, false, err
	}

	if statusA == model.StatusRejected || statusB == model.StatusRejected {
		if err := l.replaceRejected(ctx, spec, chunkGroup, sequence, keyA, statusA, keyB, statusB); err != nil {
			return Outcome{}, false, err
		}
		return Outcome{}, false, nil
	}

	if statusA == model.StatusCancelled && statusB == model.StatusOpen {
		return l.abortOnCancellation(ctx, keyB, model.VenueA)
	}
	if statusB == model.StatusCancelled && statusA == model.StatusOpen {
		return l.abortOnCancellation(ctx, keyA, model.VenueB)
	}

	quote, err := l.quotes.GetValidatedQuote(ctx, spec.Asset)
	if err != nil {
		// PriceData errors are retried at the next cycle (spec.md §7),
		// not fatal inside Phase 1.
		log.Warn().Err(err).Str("chunk_group", chunkGroup).Int("sequence", sequence).Msg("quote refresh failed, retrying next cycle")
		return Outcome{}, false, nil
	}
	if quote.SpreadPct.GreaterThan(l.maxSpreadPct) {
		l.cancelBoth(ctx, keyA, keyB)
		return Outcome{}, true, &hedgeerrors.SpreadError{Symbol: spec.Asset, SpreadPct: quote.SpreadPct.String(), MaxPct: l.maxSpreadPct.String(), During: "modification"}
	}

	l.repriceBoth(ctx, spec, chunkGroup, sequence, keyA, keyB, quote)
	return Outcome{}, false, nil
}

func (l *Loop) abortOnCancellation(ctx context.Context, survivorKey model.OrderKey, cancelledVenue model.Venue) (Outcome, bool, error) {
	survivorRow, err := l.store.Get(ctx, survivorKey)
	if err == nil && survivorRow != nil && survivorRow.VenueOrderID != "" {
		gw := l.gatewayFor(survivorKey.Venue)
		if cancelErr := gw.Cancel(ctx, survivorRow.VenueOrderID); cancelErr != nil {
			log.Warn().Err(cancelErr).Interface("key", survivorKey).Msg("survivor cancel failed during abort")
		}
	}
	return Outcome{}, true, &hedgeerrors.OrderError{
		ChunkGroup: survivorKey.ChunkGroup, Sequence: survivorKey.Sequence, Venue: cancelledVenue,
		Op: "cancel", RollbackOK: true, RollbackAttempted: true,
	}
}

func (l *Loop) cancelBoth(ctx context.Context, keyA, keyB model.OrderKey) {
	for _, key := range []model.OrderKey{keyA, keyB} {
		row, err := l.store.Get(ctx, key)
		if err != nil || row == nil || row.VenueOrderID == "" {
			continue
		}
		if err := l.gatewayFor(key.Venue).Cancel(ctx, row.VenueOrderID); err != nil {
			log.Warn().Err(err).Interface("key", key).Msg("cancel on spread abort failed")
		}
	}
}

func (l *Loop) repriceBoth(ctx context.Context, spec model.SymbolSpec, chunkGroup string, sequence int, keyA, keyB model.OrderKey, quote model.Quote) {
	l.repriceLeg(ctx, spec, keyA, quote, model.SideBuy)
	l.repriceLeg(ctx, spec, keyB, quote, model.SideSell)
}

func (l *Loop) repriceLeg(ctx context.Context, spec model.SymbolSpec, key model.OrderKey, quote model.Quote, side model.Side) {
	row, err := l.store.Get(ctx, key)
	if err != nil || row == nil || row.VenueOrderID == "" {
		return
	}
	newPrice := spec.RoundPrice(makerPrice(quote.Mid, spec.TickSize, side, 1))
	gw := l.gatewayFor(key.Venue)

	if gw.AmendSupported() {
		if err := gw.Amend(ctx, row.VenueOrderID, newPrice); err == nil {
			row.LimitPrice = newPrice
			_ = l.store.Upsert(ctx, *row)
			_ = l.log.RecordLifecycle(ctx, model.LifecycleEvent{ChunkGroup: key.ChunkGroup, Sequence: key.Sequence, Venue: key.Venue, OrderID: row.VenueOrderID, EventType: model.EventModified, Timestamp: time.Now()})
			return
		}
		log.Debug().Interface("key", key).Msg("amend failed or unsupported, falling back to cancel+replace")
	}

	l.cancelReplace(ctx, spec, key, *row, newPrice, side)
}

func (l *Loop) cancelReplace(ctx context.Context, spec model.SymbolSpec, key model.OrderKey, row model.OrderRow, newPrice decimal.Decimal, side model.Side) {
	gw := l.gatewayFor(key.Venue)
	if err := gw.Cancel(ctx, row.VenueOrderID); err != nil {
		log.Warn().Err(err).Interface("key", key).Msg("cancel for replace failed")
		return
	}
	symbol := spec.VenueASymbol
	if key.Venue == model.VenueB {
		symbol = spec.VenueBSymbol
	}
	newID, err := gw.Submit(ctx, venue.SubmitRequest{
		Symbol: symbol, Side: side, Type: model.OrderTypeLimit,
		Quantity: row.OrderedQuantity, Price: newPrice, PostOnly: gw.SupportsPostOnly(),
	})
	if err != nil {
		log.Warn().Err(err).Interface("key", key).Msg("replace submit failed")
		return
	}
	row.VenueOrderID = newID
	row.LimitPrice = newPrice
	row.Status = model.StatusPlaced
	_ = l.store.Upsert(ctx, row)
	_ = l.log.RecordLifecycle(ctx, model.LifecycleEvent{ChunkGroup: key.ChunkGroup, Sequence: key.Sequence, Venue: key.Venue, OrderID: newID, EventType: model.EventReplaced, Timestamp: time.Now()})
}

func (l *Loop) replaceRejected(ctx context.Context, spec model.SymbolSpec, chunkGroup string, sequence int, keyA model.OrderKey, statusA model.OrderStatus, keyB model.OrderKey, statusB model.OrderStatus) error {
	quote, err := l.quotes.GetValidatedQuote(ctx, spec.Asset)
	if err != nil {
		return nil
	}
	if statusA == model.StatusRejected {
		if row, _ := l.store.Get(ctx, keyA); row != nil {
			price := spec.RoundPrice(makerPrice(quote.Mid, spec.TickSize, model.SideBuy, 1))
			l.submitFresh(ctx, spec, keyA, *row, price, model.SideBuy)
		}
	}
	if statusB == model.StatusRejected {
		if row, _ := l.store.Get(ctx, keyB); row != nil {
			price := spec.RoundPrice(makerPrice(quote.Mid, spec.TickSize, model.SideSell, 1))
			l.submitFresh(ctx, spec, keyB, *row, price, model.SideSell)
		}
	}
	return nil
}

// submitFresh places a new limit order for a leg that is already
// terminal on the venue side (REJECTED), so there is nothing to cancel
// first — mirroring resolver.Resolver.submitFresh's handling of the
// same terminal statuses (spec.md §4.6 step 4).
func (l *Loop) submitFresh(ctx context.Context, spec model.SymbolSpec, key model.OrderKey, row model.OrderRow, price decimal.Decimal, side model.Side) {
	gw := l.gatewayFor(key.Venue)
	symbol := spec.VenueASymbol
	if key.Venue == model.VenueB {
		symbol = spec.VenueBSymbol
	}
	newID, err := gw.Submit(ctx, venue.SubmitRequest{
		Symbol: symbol, Side: side, Type: model.OrderTypeLimit,
		Quantity: row.OrderedQuantity, Price: price, PostOnly: gw.SupportsPostOnly(),
	})
	if err != nil {
		log.Warn().Err(err).Interface("key", key).Msg("replace-rejected submit failed")
		return
	}
	row.VenueOrderID = newID
	row.LimitPrice = price
	row.Status = model.StatusPlaced
	_ = l.store.Upsert(ctx, row)
	_ = l.log.RecordLifecycle(ctx, model.LifecycleEvent{ChunkGroup: key.ChunkGroup, Sequence: key.Sequence, Venue: key.Venue, OrderID: newID, EventType: model.EventPlaced, Timestamp: time.Now()})
}

func (l *Loop) gatewayFor(v model.Venue) venue.Gateway {
	if v == model.VenueA {
		return l.venueA
	}
	return l.venueB
}

func makerPrice(mid, tick decimal.Decimal, side model.Side, ticks int) decimal.Decimal {
	delta := tick.Mul(decimal.NewFromInt(int64(ticks)))
	if side == model.SideBuy {
		return mid.Sub(delta)
	}
	return mid.Add(delta)
}
