// Package reconcile implements the Fee Reconciler (spec.md §4.8):
// per-chunk-group cumulative fee tracking and the single end-of-trade
// top-up decision. Grounded on the teacher's storage.Database
// aggregate-then-upsert pattern (UpdateDailyStats), generalized from a
// daily P/L rollup to a per-trade fee rollup.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/alert"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/dbstore"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/eventlog"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/oracle"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/venue"
)

// residualUSDThreshold is the "negligible" cutoff from spec.md §4.8.
var residualUSDThreshold = decimal.NewFromInt(1)

// RecordStore narrows reconcile's persistence needs to four operations,
// the way orderstore.Store and eventlog.Log narrow theirs, so tests (or
// the orchestrator's own tests) can substitute an in-memory fake
// instead of a live Postgres connection.
type RecordStore interface {
	StartRecord(ctx context.Context, chunkGroup, symbol string, totalChunks int) error
	AccountChunk(ctx context.Context, chunkGroup string, orderedQty, fee decimal.Decimal) error
	GetRecord(ctx context.Context, chunkGroup string) (model.Reconciliation, error)
	SaveRecord(ctx context.Context, rec model.Reconciliation) (model.Reconciliation, error)
}

// Reconciler tracks one chunk group's cumulative fee state and issues
// its top-up order at trade close.
type Reconciler struct {
	store  RecordStore
	log    eventlog.Log
	quotes oracle.Oracle
	alert  alert.Alerter
	venueA venue.Gateway

	topUpFillWait time.Duration
	topUpFillPoll time.Duration
}

// New builds a Reconciler backed by Postgres.
func New(db *dbstore.DB, log eventlog.Log, quotes oracle.Oracle, alerter alert.Alerter, venueA venue.Gateway) *Reconciler {
	return NewWithStore(&postgresRecordStore{db: db}, log, quotes, alerter, venueA)
}

// NewWithStore builds a Reconciler against an arbitrary RecordStore,
// letting the orchestrator's own tests substitute an in-memory fake
// instead of a live Postgres connection.
func NewWithStore(store RecordStore, log eventlog.Log, quotes oracle.Oracle, alerter alert.Alerter, venueA venue.Gateway) *Reconciler {
	return &Reconciler{
		store: store, log: log, quotes: quotes, alert: alerter, venueA: venueA,
		topUpFillWait: 30 * time.Second, topUpFillPoll: 500 * time.Millisecond,
	}
}

// Start creates the reconciliation record for a new trade.
func (r *Reconciler) Start(ctx context.Context, chunkGroup, symbol string, totalChunks int) error {
	return r.store.StartRecord(ctx, chunkGroup, symbol, totalChunks)
}

// AccountChunk folds one completed chunk's fees into the cumulative
// totals (spec.md §4.8).
func (r *Reconciler) AccountChunk(ctx context.Context, chunkGroup string, sequence int, orderedQuantityA decimal.Decimal) error {
	fees, err := r.log.ChunkTotalFees(ctx, chunkGroup, sequence, model.VenueA)
	if err != nil {
		return fmt.Errorf("chunk total fees: %w", err)
	}
	return r.store.AccountChunk(ctx, chunkGroup, orderedQuantityA, fees.FeeInBase)
}

// Finalize runs the end-of-trade top-up decision (spec.md §4.8).
func (r *Reconciler) Finalize(ctx context.Context, chunkGroup string, spec model.SymbolSpec) (model.Reconciliation, error) {
	rec, err := r.get(ctx, chunkGroup)
	if err != nil {
		return model.Reconciliation{}, err
	}

	shortfall := rec.CumulativeFeeA.Round(spec.QuantityPrecision)

	if shortfall.GreaterThanOrEqual(spec.MinOrderQuantity) {
		return r.topUp(ctx, rec, spec, shortfall)
	}

	quote, err := r.quotes.GetValidatedQuote(ctx, spec.Asset)
	if err != nil {
		// Reconciliation proceeds even if a final quote can't be had;
		// residual sizing just can't be estimated in USD.
		rec.TopUpStatus = model.TopUpSkippedBelowMinimum
		rec.Notes = "negligible shortfall; quote unavailable to size residual"
		return r.save(ctx, rec)
	}

	residualUSD := shortfall.Mul(quote.Mid)
	if residualUSD.LessThan(residualUSDThreshold) {
		rec.TopUpStatus = model.TopUpSkippedBelowMinimum
		rec.Notes = "negligible"
	} else {
		rec.TopUpStatus = model.TopUpSkippedBelowMinimum
		rec.Notes = fmt.Sprintf("residual %s USD below min order quantity; operator attention advised", residualUSD.StringFixed(2))
		r.alert.Notice(ctx, fmt.Sprintf("chunk group %s: %s", chunkGroup, rec.Notes))
	}
	return r.save(ctx, rec)
}

func (r *Reconciler) topUp(ctx context.Context, rec model.Reconciliation, spec model.SymbolSpec, shortfall decimal.Decimal) (model.Reconciliation, error) {
	orderID, err := r.venueA.Submit(ctx, venue.SubmitRequest{
		Symbol: spec.VenueASymbol, Side: model.SideBuy, Type: model.OrderTypeMarket,
		Quantity: shortfall, QuantityUnit: model.QuantityUnitBase,
	})
	if err != nil {
		rec.TopUpStatus = model.TopUpFailed
		rec.Notes = fmt.Sprintf("top-up submit failed: %v", err)
		r.alert.Critical(ctx, fmt.Sprintf("chunk group %s: fee top-up failed: %v", rec.ChunkGroup, err))
		return r.save(ctx, rec)
	}

	record, err := r.waitForFill(ctx, spec.VenueASymbol, orderID)
	if err != nil || record == nil || record.Status != model.StatusFilled {
		rec.TopUpOrderID = orderID
		rec.TopUpStatus = model.TopUpFailed
		rec.Notes = "top-up order did not confirm filled"
		r.alert.Critical(ctx, fmt.Sprintf("chunk group %s: fee top-up order %s did not confirm filled", rec.ChunkGroup, orderID))
		return r.save(ctx, rec)
	}

	rec.TopUpOrderID = orderID
	rec.TopUpStatus = model.TopUpCompleted
	rec.Notes = fmt.Sprintf("top-up filled at avg price %s", record.AvgPrice.String())
	return r.save(ctx, rec)
}

func (r *Reconciler) waitForFill(ctx context.Context, symbol, orderID string) (*venue.HistoryRecord, error) {
	deadline := time.Now().Add(r.topUpFillWait)
	for time.Now().Before(deadline) {
		record, err := r.venueA.OrderHistory(ctx, orderID)
		if err == nil && record != nil && record.Status == model.StatusFilled {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.topUpFillPoll):
		}
	}
	return r.venueA.OrderHistory(ctx, orderID)
}

func (r *Reconciler) get(ctx context.Context, chunkGroup string) (model.Reconciliation, error) {
	return r.store.GetRecord(ctx, chunkGroup)
}

func (r *Reconciler) save(ctx context.Context, rec model.Reconciliation) (model.Reconciliation, error) {
	saved, err := r.store.SaveRecord(ctx, rec)
	if err != nil {
		log.Warn().Err(err).Str("chunk_group", rec.ChunkGroup).Msg("reconciliation save failed")
	}
	return saved, err
}
