// Package orderstore implements the current-state order view (spec.md
// §4.3), grounded on the teacher's storage.Database ON-CONFLICT upsert
// idiom (UpdateDailyStats).
package orderstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/dbstore"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/eventlog"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/hedgeerrors"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
)

// statusRetries/statusRetryDelay bound the dual-source verification
// retry described in spec.md §4.3 step 3.
const (
	statusRetries    = 5
	statusRetryDelay = 100 * time.Millisecond
)

// Store is the interface placement/management/resolver depend on.
type Store interface {
	Upsert(ctx context.Context, row model.OrderRow) error
	Status(ctx context.Context, key model.OrderKey) (model.OrderStatus, error)
	Get(ctx context.Context, key model.OrderKey) (*model.OrderRow, error)

	// LookupByVenueOrderID reverse-maps a raw venue order id to its
	// chunk key, for the ingestion task to resolve chunk context on
	// stream events that only carry a venue order id.
	LookupByVenueOrderID(ctx context.Context, venue model.Venue, venueOrderID string) (model.OrderKey, bool, error)
}

// PostgresStore is the Postgres-backed implementation.
type PostgresStore struct {
	db  *dbstore.DB
	log eventlog.Log
}

// New wraps a dbstore.DB and the event log it cross-checks against.
func New(db *dbstore.DB, log eventlog.Log) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

// Upsert replaces order_id, price, quantity, status, type on conflict,
// and preserves partial-completion fields unless the incoming row
// explicitly sets IsPartialCompletion (spec.md §4.3).
func (s *PostgresStore) Upsert(ctx context.Context, row model.OrderRow) error {
	query := `
		INSERT INTO orders (
			chunk_group, sequence, venue, side, ordered_quantity, limit_price,
			venue_order_id, status, type, executed_quantity, executed_fee, net_received,
			partial_executed_quantity, partial_executed_fee, is_partial_completion, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW())
		ON CONFLICT (chunk_group, sequence, venue) DO UPDATE SET
			venue_order_id = EXCLUDED.venue_order_id,
			limit_price = EXCLUDED.limit_price,
			ordered_quantity = EXCLUDED.ordered_quantity,
			status = EXCLUDED.status,
			type = EXCLUDED.type,
			executed_quantity = EXCLUDED.executed_quantity,
			executed_fee = EXCLUDED.executed_fee,
			net_received = EXCLUDED.net_received,
			partial_executed_quantity = CASE WHEN EXCLUDED.is_partial_completion
				THEN EXCLUDED.partial_executed_quantity ELSE orders.partial_executed_quantity END,
			partial_executed_fee = CASE WHEN EXCLUDED.is_partial_completion
				THEN EXCLUDED.partial_executed_fee ELSE orders.partial_executed_fee END,
			is_partial_completion = orders.is_partial_completion OR EXCLUDED.is_partial_completion,
			updated_at = NOW()
	`
	_, err := s.db.Conn.ExecContext(ctx, query,
		row.Key.ChunkGroup, row.Key.Sequence, string(row.Key.Venue),
		string(row.Side), row.OrderedQuantity, row.LimitPrice,
		row.VenueOrderID, string(row.Status), string(row.Type),
		row.ExecutedQuantity, row.ExecutedFee, row.NetReceived,
		row.PartialExecutedQuantity, row.PartialExecutedFee, row.IsPartialCompletion,
	)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key model.OrderKey) (*model.OrderRow, error) {
	row := s.db.Conn.QueryRowContext(ctx, `
		SELECT side, ordered_quantity, limit_price, venue_order_id, status, type,
			executed_quantity, executed_fee, net_received,
			partial_executed_quantity, partial_executed_fee, is_partial_completion, updated_at
		FROM orders WHERE chunk_group = $1 AND sequence = $2 AND venue = $3
	`, key.ChunkGroup, key.Sequence, string(key.Venue))

	var r model.OrderRow
	r.Key = key
	var side, status, typ string
	err := row.Scan(&side, &r.OrderedQuantity, &r.LimitPrice, &r.VenueOrderID, &status, &typ,
		&r.ExecutedQuantity, &r.ExecutedFee, &r.NetReceived,
		&r.PartialExecutedQuantity, &r.PartialExecutedFee, &r.IsPartialCompletion, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	r.Side = model.Side(side)
	r.Status = model.OrderStatus(status)
	r.Type = model.OrderType(typ)
	return &r, nil
}

// LookupByVenueOrderID scans the current-state table for a venue order
// id. Orders are few per process lifetime (one per chunk per venue),
// so a plain indexed lookup is sufficient without a secondary cache.
func (s *PostgresStore) LookupByVenueOrderID(ctx context.Context, venue model.Venue, venueOrderID string) (model.OrderKey, bool, error) {
	var key model.OrderKey
	key.Venue = venue
	err := s.db.Conn.QueryRowContext(ctx, `
		SELECT chunk_group, sequence FROM orders
		WHERE venue = $1 AND venue_order_id = $2
	`, string(venue), venueOrderID).Scan(&key.ChunkGroup, &key.Sequence)
	if err == sql.ErrNoRows {
		return model.OrderKey{}, false, nil
	}
	if err != nil {
		return model.OrderKey{}, false, fmt.Errorf("lookup by venue order id: %w", err)
	}
	return key, true, nil
}

// Status implements the dual-source verification decision matrix from
// spec.md §4.3:
//  1. read current row state
//  2. read latest lifecycle event type
//  3. decide:
//     - both terminal and agree -> return status
//     - row OPEN/PLACED but log says FILLED -> retry, then trust log
//     - row absent but log FILLED -> FILLED (load-bearing, prevents a
//     duplicate market order racing the row write)
//     - row absent, log PLACED -> retry, then "missing from store"
//  4. never falls back to a venue REST call; the database is the only
//     source of truth for status.
func (s *PostgresStore) Status(ctx context.Context, key model.OrderKey) (model.OrderStatus, error) {
	for attempt := 0; attempt < statusRetries; attempt++ {
		row, err := s.Get(ctx, key)
		if err != nil {
			return "", err
		}

		lifecycleType, hasLifecycle, err := s.log.LatestLifecycleStatus(ctx, key.ChunkGroup, key.Sequence, key.Venue)
		if err != nil {
			return "", err
		}

		if row == nil {
			if hasLifecycle && lifecycleType == model.EventFilled {
				return model.StatusFilled, nil
			}
			if hasLifecycle && lifecycleType == model.EventPlaced {
				if attempt < statusRetries-1 {
					time.Sleep(statusRetryDelay)
					continue
				}
				return "", &hedgeerrors.StoreError{ChunkGroup: key.ChunkGroup, Sequence: key.Sequence, Venue: key.Venue, Reason: "missing from store"}
			}
			if attempt < statusRetries-1 {
				time.Sleep(statusRetryDelay)
				continue
			}
			return "", &hedgeerrors.StoreError{ChunkGroup: key.ChunkGroup, Sequence: key.Sequence, Venue: key.Venue, Reason: "missing from store"}
		}

		if row.Status.IsTerminal() {
			return row.Status, nil
		}

		// Row is OPEN/PLACED. If the lifecycle log already says FILLED,
		// that's the authoritative signal (the row update may simply
		// not have landed yet).
		if hasLifecycle && lifecycleType == model.EventFilled {
			if attempt < statusRetries-1 {
				time.Sleep(statusRetryDelay)
				continue
			}
			return model.StatusFilled, nil
		}

		return row.Status, nil
	}
	return "", &hedgeerrors.StoreError{ChunkGroup: key.ChunkGroup, Sequence: key.Sequence, Venue: key.Venue, Reason: "missing from store"}
}
