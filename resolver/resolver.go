// Package resolver implements the Naked-Position Resolver (Phase 2,
// spec.md §4.7): bounded repricing attempts on the lagging leg, then a
// market-order fallback that upserts before awaiting the stream to
// avoid the update-before-insert race described in spec.md §5.
package resolver

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

const (
	attemptCount              = 2
	defaultAttemptSleep       = 5 * time.Second
	defaultFinalGraceSleep    = 5 * time.Second
	notFoundRetries           = 10
	defaultNotFoundRetryDelay = 500 * time.Millisecond
	defaultMarketFillWait     = 30 * time.Second
	defaultMarketFillPoll     = 500 * time.Millisecond
)

// Resolver closes the lagging leg of a chunk after Phase 1 exits with
// exactly one side filled. The sleep/poll durations are struct fields
// (not consts) so unit tests can drive the state machine without
// waiting on spec.md §4.7's real-world timings.
type Resolver struct {
	quotes oracle.Oracle
	log    eventlog.Log
	store  orderstore.Store

	attemptSleep       time.Duration
	finalGraceSleep    time.Duration
	notFoundRetryDelay time.Duration
	marketFillWait     time.Duration
	marketFillPoll     time.Duration
}

// New builds a Resolver using spec.md §4.7's real timings.
func New(quotes oracle.Oracle, log eventlog.Log, store orderstore.Store) *Resolver {
	return &Resolver{
		quotes: quotes, log: log, store: store,
		attemptSleep: defaultAttemptSleep, finalGraceSleep: defaultFinalGraceSleep,
		notFoundRetryDelay: defaultNotFoundRetryDelay, marketFillWait: defaultMarketFillWait, marketFillPoll: defaultMarketFillPoll,
	}
}

// sideFor returns the order side implied by a venue in this system's
// fixed buy-spot/sell-perp pairing.
func sideFor(v model.Venue) model.Side {
	if v == model.VenueA {
		return model.SideBuy
	}
	return model.SideSell
}

// Resolve drives spec.md §4.7's bounded-attempts-then-market-fallback
// protocol for the unfilled leg identified by key, using gw as its
// venue gateway.
func (r *Resolver) Resolve(ctx context.Context, gw venue.Gateway, spec model.SymbolSpec, key model.OrderKey) error {
	side := sideFor(key.Venue)
	symbol := spec.VenueASymbol
	if key.Venue == model.VenueB {
		symbol = spec.VenueBSymbol
	}

	for attempt := 1; attempt <= attemptCount; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.attemptSleep):
		}

		status, err := r.store.Status(ctx, key)
		if err != nil {
			return err
		}
		if status == model.StatusFilled {
			return nil
		}

		row, err := r.store.Get(ctx, key)
		if err != nil {
			return err
		}
		if row == nil {
			continue
		}

		quote, err := r.quotes.GetValidatedQuote(ctx, spec.Asset)
		if err != nil {
			log.Warn().Err(err).Msg("naked resolver quote refresh failed, retrying next attempt")
			continue
		}

		if status == model.StatusRejected || status == model.StatusCancelled {
			// Safer 2-tick price for higher fill probability than the
			// Phase-1 1-tick price (spec.md §4.7).
			price := spec.RoundPrice(makerPrice(quote.Mid, spec.TickSize, side, 2))
			r.submitFresh(ctx, gw, symbol, spec, key, side, row.OrderedQuantity, price)
			continue
		}

		// OPEN: amend (or cancel+replace) to mid ± 1 tick.
		price := spec.RoundPrice(makerPrice(quote.Mid, spec.TickSize, side, 1))
		r.repriceOpen(ctx, gw, symbol, spec, key, side, *row, price)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.finalGraceSleep):
	}

	status, err := r.store.Status(ctx, key)
	if err != nil {
		return err
	}
	if status == model.StatusFilled {
		return nil
	}

	return r.marketFallback(ctx, gw, symbol, spec, key, side)
}

func (r *Resolver) submitFresh(ctx context.Context, gw venue.Gateway, symbol string, spec model.SymbolSpec, key model.OrderKey, side model.Side, quantity, price decimal.Decimal) {
	orderID, err := gw.Submit(ctx, venue.SubmitRequest{Symbol: symbol, Side: side, Type: model.OrderTypeLimit, Quantity: quantity, Price: price, PostOnly: gw.SupportsPostOnly()})
	if err != nil {
		log.Warn().Err(err).Interface("key", key).Msg("naked resolver fresh limit submit failed")
		return
	}
	row := model.OrderRow{Key: key, Side: side, OrderedQuantity: quantity, LimitPrice: price, VenueOrderID: orderID, Status: model.StatusPlaced, Type: model.OrderTypeLimit, UpdatedAt: time.Now()}
	if err := r.store.Upsert(ctx, row); err != nil {
		log.Warn().Err(err).Interface("key", key).Msg("naked resolver upsert failed")
	}
}

func (r *Resolver) repriceOpen(ctx context.Context, gw venue.Gateway, symbol string, spec model.SymbolSpec, key model.OrderKey, side model.Side, row model.OrderRow, newPrice decimal.Decimal) {
	if row.VenueOrderID == "" {
		return
	}
	if gw.AmendSupported() {
		if err := gw.Amend(ctx, row.VenueOrderID, newPrice); err == nil {
			row.LimitPrice = newPrice
			_ = r.store.Upsert(ctx, row)
			return
		}
	}
	if err := gw.Cancel(ctx, row.VenueOrderID); err != nil {
		log.Warn().Err(err).Interface("key", key).Msg("naked resolver cancel for reprice failed")
		return
	}
	newID, err := gw.Submit(ctx, venue.SubmitRequest{Symbol: symbol, Side: side, Type: model.OrderTypeLimit, Quantity: row.OrderedQuantity, Price: newPrice, PostOnly: gw.SupportsPostOnly()})
	if err != nil {
		log.Warn().Err(err).Interface("key", key).Msg("naked resolver replace submit failed")
		return
	}
	row.VenueOrderID = newID
	row.LimitPrice = newPrice
	row.Status = model.StatusPlaced
	_ = r.store.Upsert(ctx, row)
}

// marketFallback implements spec.md §4.7's final step: cancel the
// limit, handle a just-in-time fill discovered during cancellation,
// else submit a market order and wait for it to fill.
func (r *Resolver) marketFallback(ctx context.Context, gw venue.Gateway, symbol string, spec model.SymbolSpec, key model.OrderKey, side model.Side) error {
	row, err := r.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if row == nil {
		return &hedgeerrors.StoreError{ChunkGroup: key.ChunkGroup, Sequence: key.Sequence, Venue: key.Venue, Reason: "missing from store at market fallback"}
	}

	cancelErr := gw.Cancel(ctx, row.VenueOrderID)
	if cancelErr != nil {
		filled, err := r.recheckAfterCancelFailure(ctx, key)
		if err != nil {
			return err
		}
		if filled {
			return nil
		}
	}

	remaining := row.OrderedQuantity.Sub(row.ExecutedQuantity)
	if remaining.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	orderID, err := gw.Submit(ctx, venue.SubmitRequest{
		Symbol: symbol, Side: side, Type: model.OrderTypeMarket,
		Quantity: remaining, QuantityUnit: model.QuantityUnitBase,
	})
	if err != nil {
		return &hedgeerrors.OrderError{ChunkGroup: key.ChunkGroup, Sequence: key.Sequence, Venue: key.Venue, Op: "market", Cause: err}
	}

	// Upsert and commit before awaiting the stream, so the stream
	// handler's update finds a row already present (spec.md §5).
	marketRow := model.OrderRow{
		Key: key, Side: side, OrderedQuantity: remaining, VenueOrderID: orderID,
		Status: model.StatusPlaced, Type: model.OrderTypeMarket, UpdatedAt: time.Now(),
		PartialExecutedQuantity: row.ExecutedQuantity, PartialExecutedFee: row.ExecutedFee, IsPartialCompletion: true,
	}
	if err := r.store.Upsert(ctx, marketRow); err != nil {
		return err
	}
	_ = r.log.RecordLifecycle(ctx, model.LifecycleEvent{ChunkGroup: key.ChunkGroup, Sequence: key.Sequence, Venue: key.Venue, OrderID: orderID, EventType: model.EventMarketFallback, Timestamp: time.Now()})

	start := time.Now()
	for time.Since(start) < r.marketFillWait {
		status, err := r.store.Status(ctx, key)
		if err != nil {
			return err
		}
		if status == model.StatusFilled {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.marketFillPoll):
		}
	}

	return &hedgeerrors.NakedPositionError{ChunkGroup: key.ChunkGroup, Sequence: key.Sequence, Venue: key.Venue, Quantity: remaining.String(), ElapsedSeconds: time.Since(start).Seconds()}
}

// recheckAfterCancelFailure re-polls status aggressively when Cancel
// reports the order missing or not-open, since a just-in-time fill is
// the most likely cause (spec.md §4.7). If status cannot be verified
// after retries, it assumes FILLED rather than risk a double-fill.
func (r *Resolver) recheckAfterCancelFailure(ctx context.Context, key model.OrderKey) (bool, error) {
	for i := 0; i < notFoundRetries; i++ {
		status, err := r.store.Status(ctx, key)
		if err == nil {
			if status == model.StatusFilled {
				return true, nil
			}
			if status.IsTerminal() {
				return false, nil
			}
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(r.notFoundRetryDelay):
		}
	}
	log.Warn().Interface("key", key).Msg("status unverifiable after cancel failure, assuming filled to avoid double-fill")
	return true, nil
}

func makerPrice(mid, tick decimal.Decimal, side model.Side, ticks int) decimal.Decimal {
	delta := tick.Mul(decimal.NewFromInt(int64(ticks)))
	if side == model.SideBuy {
		return mid.Sub(delta)
	}
	return mid.Add(delta)
}
