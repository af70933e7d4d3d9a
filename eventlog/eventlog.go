// Package eventlog implements the append-only venue event log and
// lifecycle log (spec.md §4.2), grounded on the teacher's
// storage.Database raw-SQL insert style (LogTrade).
package eventlog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/dbstore"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
)

// Log is the interface the rest of the engine depends on, so
// placement/management/resolver tests can substitute an in-memory fake
// instead of a real Postgres connection.
type Log interface {
	// RecordVenueEvent writes one append-only row. Must never be
	// blocked by business logic (spec.md §4.2): callers run this
	// synchronously on the ingestion path before any order-store or
	// lifecycle update.
	RecordVenueEvent(ctx context.Context, ev model.VenueEvent) error

	// RecordLifecycle appends one lifecycle_log row. Failure here is a
	// logged warning, never a blocking error (spec.md §7).
	RecordLifecycle(ctx context.Context, ev model.LifecycleEvent) error

	// LatestLifecycleStatus returns the most recent event type recorded
	// for an order id, used by the Order Store's dual-source status
	// check.
	LatestLifecycleStatus(ctx context.Context, chunkGroup string, sequence int, venue model.Venue) (model.EventType, bool, error)

	// ChunkTotalFees sums partial + completion fees for one (chunk
	// group, sequence, venue), per spec.md §4.2.
	ChunkTotalFees(ctx context.Context, chunkGroup string, sequence int, venue model.Venue) (model.FeeTotals, error)

	// LatestEventForOrder returns the most recent raw venue event for
	// one order id, regardless of chunk context. The placement engine's
	// hybrid confirmation protocol polls this to detect an early
	// REJECTED before the order row has been upserted (spec.md §4.5).
	LatestEventForOrder(ctx context.Context, venue model.Venue, orderID string) (model.VenueEvent, bool, error)
}

// PostgresLog is the Postgres-backed implementation.
type PostgresLog struct {
	db *dbstore.DB
}

// New wraps a dbstore.DB as a Log.
func New(db *dbstore.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

func (l *PostgresLog) RecordVenueEvent(ctx context.Context, ev model.VenueEvent) error {
	_, err := l.db.Conn.ExecContext(ctx, `
		INSERT INTO venue_events
			(venue, event_id, order_id, raw_payload, status, executed_quantity, executed_fee, price, reject_reason, chunk_group, sequence, sequence_known)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (venue, event_id) DO NOTHING
	`, string(ev.Venue), ev.EventID, ev.OrderID, ev.RawPayload, string(ev.Status),
		ev.ExecutedQuantity, ev.ExecutedFee, ev.Price, ev.RejectReason, ev.ChunkGroup, ev.Sequence, ev.SequenceKnown)
	if err != nil {
		return fmt.Errorf("record venue event: %w", err)
	}
	return nil
}

func (l *PostgresLog) LatestEventForOrder(ctx context.Context, venue model.Venue, orderID string) (model.VenueEvent, bool, error) {
	var ev model.VenueEvent
	ev.Venue = venue
	ev.OrderID = orderID
	var status string
	err := l.db.Conn.QueryRowContext(ctx, `
		SELECT status, executed_quantity, executed_fee, price, reject_reason, chunk_group, sequence, sequence_known, created_at
		FROM venue_events
		WHERE venue = $1 AND order_id = $2
		ORDER BY id DESC LIMIT 1
	`, string(venue), orderID).Scan(&status, &ev.ExecutedQuantity, &ev.ExecutedFee, &ev.Price, &ev.RejectReason, &ev.ChunkGroup, &ev.Sequence, &ev.SequenceKnown, &ev.Timestamp)
	if err == sql.ErrNoRows {
		return model.VenueEvent{}, false, nil
	}
	if err != nil {
		return model.VenueEvent{}, false, fmt.Errorf("latest event for order: %w", err)
	}
	ev.Status = model.OrderStatus(status)
	return ev, true, nil
}

func (l *PostgresLog) RecordLifecycle(ctx context.Context, ev model.LifecycleEvent) error {
	_, err := l.db.Conn.ExecContext(ctx, `
		INSERT INTO lifecycle_log (chunk_group, sequence, venue, order_id, event_type, details)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, ev.ChunkGroup, ev.Sequence, string(ev.Venue), ev.OrderID, string(ev.EventType), ev.Details)
	if err != nil {
		log.Warn().Err(err).
			Str("chunk_group", ev.ChunkGroup).
			Int("sequence", ev.Sequence).
			Str("venue", string(ev.Venue)).
			Str("event_type", string(ev.EventType)).
			Msg("lifecycle log write failed, continuing")
	}
	return err
}

func (l *PostgresLog) LatestLifecycleStatus(ctx context.Context, chunkGroup string, sequence int, venue model.Venue) (model.EventType, bool, error) {
	var eventType string
	err := l.db.Conn.QueryRowContext(ctx, `
		SELECT event_type FROM lifecycle_log
		WHERE chunk_group = $1 AND sequence = $2 AND venue = $3
		ORDER BY id DESC LIMIT 1
	`, chunkGroup, sequence, string(venue)).Scan(&eventType)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("latest lifecycle status: %w", err)
	}
	return model.EventType(eventType), true, nil
}

// ChunkTotalFees reads the latest cumulative fee per distinct order id
// for the chunk leg and sums across order ids, never across raw events.
// Venue streams report cumulative executed fee on every transition
// (spec.md §6), so a non-terminal row (e.g. PartiallyFilled) and the
// terminal row that follows it (Filled) for the *same* order id are two
// readings of the same running total — summing them double-counts. A
// (chunk_group, sequence, venue) gains a new order id each time its leg
// is cancel+replaced or completed by a follow-up market order; each id
// carries its own running total, so summing across ids is correct,
// mirroring the preserved-partial-fee accounting in
// orderstore.Store's IsPartialCompletion rows.
func (l *PostgresLog) ChunkTotalFees(ctx context.Context, chunkGroup string, sequence int, venue model.Venue) (model.FeeTotals, error) {
	rows, err := l.db.Conn.QueryContext(ctx, `
		SELECT order_id, executed_fee FROM venue_events
		WHERE chunk_group = $1 AND sequence = $2 AND venue = $3 AND sequence_known = TRUE
		ORDER BY id ASC
	`, chunkGroup, sequence, string(venue))
	if err != nil {
		return model.FeeTotals{}, fmt.Errorf("chunk total fees: %w", err)
	}
	defer rows.Close()

	var events []feeEvent
	for rows.Next() {
		var ev feeEvent
		if err := rows.Scan(&ev.orderID, &ev.fee); err != nil {
			return model.FeeTotals{}, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return model.FeeTotals{}, err
	}

	return aggregateChunkFees(venue, events), nil
}

// feeEvent is one (order_id, cumulative executed fee) reading from
// venue_events, in the order the rows were written.
type feeEvent struct {
	orderID string
	fee     decimal.Decimal
}

// aggregateChunkFees reduces a chunk leg's raw event rows to the latest
// cumulative fee per distinct order id, then sums across order ids. It
// is split out from ChunkTotalFees so the fix can be exercised without a
// database.
func aggregateChunkFees(venue model.Venue, events []feeEvent) model.FeeTotals {
	latestByOrder := make(map[string]decimal.Decimal)
	var order []string
	for _, ev := range events {
		if _, seen := latestByOrder[ev.orderID]; !seen {
			order = append(order, ev.orderID)
		}
		// Later rows for the same order id carry the running cumulative
		// total, so the last one in event order wins.
		latestByOrder[ev.orderID] = ev.fee
	}

	var feeInBase, feeInQuote decimal.Decimal
	for _, orderID := range order {
		fee := latestByOrder[orderID]
		if venue == model.VenueA {
			feeInBase = feeInBase.Add(fee)
		} else {
			feeInQuote = feeInQuote.Add(fee)
		}
	}

	// A chunk whose limit order partially filled and was completed by a
	// follow-up market order produces fee-bearing events under two
	// distinct order ids for the same (chunk_group, sequence, venue);
	// ChunkTotalFees sums the latest reading from each, as spec.md §4.2
	// requires.
	isPartial := len(order) > 1

	return model.FeeTotals{
		FeeInBase:           feeInBase,
		FeeInQuote:          feeInQuote,
		IsPartialCompletion: isPartial,
	}
}
