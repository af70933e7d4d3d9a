// Package dbstore owns the Postgres connection and schema migration
// shared by orderstore, eventlog and reconcile, following the
// teacher's storage.Database pattern of raw database/sql plus a
// plain migrate() method rather than an ORM.
package dbstore

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"
)

// DB wraps a *sql.DB. orderstore, eventlog and reconcile all take a
// *DB so they share one connection pool and one migration pass.
type DB struct {
	Conn *sql.DB
}

// Open connects to Postgres and runs the schema migration. The orders
// table is truncated here on every process start, per spec.md §3 ("The
// orders table is truncated on process start; the immutable event log
// is preserved for audit").
func Open(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	d := &DB{Conn: conn}
	if err := d.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := d.truncateOrders(); err != nil {
		return nil, fmt.Errorf("truncate orders: %w", err)
	}

	log.Info().Msg("database connected")
	return d, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS symbol_specs (
	asset TEXT PRIMARY KEY,
	venue_a_symbol TEXT NOT NULL,
	venue_b_symbol TEXT NOT NULL,
	quantity_precision INT NOT NULL,
	price_precision INT NOT NULL,
	tick_size NUMERIC(24,12) NOT NULL,
	min_order_quantity NUMERIC(24,12) NOT NULL,
	venue_a_maker_fee_rate NUMERIC(10,6) NOT NULL,
	venue_b_maker_fee_rate NUMERIC(10,6) NOT NULL
);

CREATE TABLE IF NOT EXISTS chunk_groups (
	id TEXT PRIMARY KEY,
	asset TEXT NOT NULL,
	total_chunks INT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS orders (
	chunk_group TEXT NOT NULL,
	sequence INT NOT NULL,
	venue TEXT NOT NULL,
	side TEXT NOT NULL,
	ordered_quantity NUMERIC(24,12) NOT NULL,
	limit_price NUMERIC(24,12) NOT NULL,
	venue_order_id TEXT NOT NULL,
	status TEXT NOT NULL,
	type TEXT NOT NULL,
	executed_quantity NUMERIC(24,12) NOT NULL DEFAULT 0,
	executed_fee NUMERIC(24,12) NOT NULL DEFAULT 0,
	net_received NUMERIC(24,12) NOT NULL DEFAULT 0,
	partial_executed_quantity NUMERIC(24,12) NOT NULL DEFAULT 0,
	partial_executed_fee NUMERIC(24,12) NOT NULL DEFAULT 0,
	is_partial_completion BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (chunk_group, sequence, venue)
);
CREATE INDEX IF NOT EXISTS idx_orders_venue_order_id ON orders(venue, venue_order_id);

CREATE TABLE IF NOT EXISTS lifecycle_log (
	id BIGSERIAL PRIMARY KEY,
	chunk_group TEXT NOT NULL,
	sequence INT NOT NULL,
	venue TEXT NOT NULL,
	order_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_lifecycle_key ON lifecycle_log(chunk_group, sequence, venue);

CREATE TABLE IF NOT EXISTS venue_events (
	id BIGSERIAL PRIMARY KEY,
	venue TEXT NOT NULL,
	event_id TEXT NOT NULL,
	order_id TEXT NOT NULL,
	raw_payload TEXT NOT NULL,
	status TEXT NOT NULL,
	executed_quantity NUMERIC(24,12) NOT NULL DEFAULT 0,
	executed_fee NUMERIC(24,12) NOT NULL DEFAULT 0,
	price NUMERIC(24,12) NOT NULL DEFAULT 0,
	reject_reason TEXT NOT NULL DEFAULT '',
	chunk_group TEXT NOT NULL DEFAULT '',
	sequence INT NOT NULL DEFAULT 0,
	sequence_known BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE(venue, event_id)
);
CREATE INDEX IF NOT EXISTS idx_venue_events_chunk ON venue_events(chunk_group, sequence, venue);
CREATE INDEX IF NOT EXISTS idx_venue_events_order ON venue_events(venue, order_id);

CREATE TABLE IF NOT EXISTS reconciliations (
	chunk_group TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	total_chunks INT NOT NULL,
	completed_chunks INT NOT NULL DEFAULT 0,
	cumulative_ordered_qty_a NUMERIC(24,12) NOT NULL DEFAULT 0,
	cumulative_fee_a NUMERIC(24,12) NOT NULL DEFAULT 0,
	cumulative_net_received_a NUMERIC(24,12) NOT NULL DEFAULT 0,
	top_up_order_id TEXT NOT NULL DEFAULT '',
	top_up_status TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT ''
);
`

func (d *DB) migrate() error {
	_, err := d.Conn.Exec(schema)
	return err
}

// truncateOrders implements spec.md §3/§9's explicit restart semantics:
// the orders table truncates at startup; lifecycle_log and venue_events
// never do.
func (d *DB) truncateOrders() error {
	_, err := d.Conn.Exec(`TRUNCATE TABLE orders`)
	return err
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	return d.Conn.Close()
}
