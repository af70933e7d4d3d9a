package reconcile

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/dbstore"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
)

// postgresRecordStore is the real RecordStore, grounded on the
// teacher's storage.Database raw-SQL upsert idiom.
type postgresRecordStore struct {
	db *dbstore.DB
}

func (s *postgresRecordStore) StartRecord(ctx context.Context, chunkGroup, symbol string, totalChunks int) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		INSERT INTO reconciliations (chunk_group, symbol, total_chunks)
		VALUES ($1, $2, $3)
		ON CONFLICT (chunk_group) DO NOTHING
	`, chunkGroup, symbol, totalChunks)
	if err != nil {
		return fmt.Errorf("start reconciliation: %w", err)
	}
	return nil
}

func (s *postgresRecordStore) AccountChunk(ctx context.Context, chunkGroup string, orderedQty, fee decimal.Decimal) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		UPDATE reconciliations SET
			completed_chunks = completed_chunks + 1,
			cumulative_ordered_qty_a = cumulative_ordered_qty_a + $2,
			cumulative_fee_a = cumulative_fee_a + $3,
			cumulative_net_received_a = cumulative_net_received_a + ($2 - $3)
		WHERE chunk_group = $1
	`, chunkGroup, orderedQty, fee)
	if err != nil {
		return fmt.Errorf("account chunk: %w", err)
	}
	return nil
}

func (s *postgresRecordStore) GetRecord(ctx context.Context, chunkGroup string) (model.Reconciliation, error) {
	var rec model.Reconciliation
	rec.ChunkGroup = chunkGroup
	var topUpStatus string
	err := s.db.Conn.QueryRowContext(ctx, `
		SELECT symbol, total_chunks, completed_chunks, cumulative_ordered_qty_a,
			cumulative_fee_a, cumulative_net_received_a, top_up_order_id, top_up_status, notes
		FROM reconciliations WHERE chunk_group = $1
	`, chunkGroup).Scan(&rec.Symbol, &rec.TotalChunks, &rec.CompletedChunks,
		&rec.CumulativeOrderedQtyA, &rec.CumulativeFeeA, &rec.CumulativeNetReceivedA,
		&rec.TopUpOrderID, &topUpStatus, &rec.Notes)
	if err != nil {
		return model.Reconciliation{}, fmt.Errorf("get reconciliation: %w", err)
	}
	rec.TopUpStatus = model.TopUpStatus(topUpStatus)
	return rec, nil
}

func (s *postgresRecordStore) SaveRecord(ctx context.Context, rec model.Reconciliation) (model.Reconciliation, error) {
	_, err := s.db.Conn.ExecContext(ctx, `
		UPDATE reconciliations SET top_up_order_id = $2, top_up_status = $3, notes = $4
		WHERE chunk_group = $1
	`, rec.ChunkGroup, rec.TopUpOrderID, string(rec.TopUpStatus), rec.Notes)
	if err != nil {
		return rec, err
	}
	return rec, nil
}
