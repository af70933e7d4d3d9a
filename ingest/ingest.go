// Package ingest runs one background task per venue that drains its
// Gateway's event stream into the append-only venue event log and,
// best effort, the current-state order store and lifecycle log
// (spec.md §4.2, §5). Grounded on the teacher's
// internal/binance.MultiClient consume-loop shape, generalized from a
// single price cache to the dual-write fan-out spec.md describes.
package ingest

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/eventlog"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/orderstore"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/venue"
)

// Task drains one venue's Gateway.Subscribe channel for the lifetime
// of ctx.
type Task struct {
	gw    venue.Gateway
	log   eventlog.Log
	store orderstore.Store
}

// New builds an ingestion task for one venue gateway.
func New(gw venue.Gateway, log eventlog.Log, store orderstore.Store) *Task {
	return &Task{gw: gw, log: log, store: store}
}

// Run subscribes and processes events until ctx is cancelled or the
// gateway's stream channel closes. It reconnects are the gateway's
// responsibility (each Gateway.Subscribe implementation owns its own
// dial/reconnect loop); Run only consumes the normalized channel.
func (t *Task) Run(ctx context.Context) error {
	events, err := t.gw.Subscribe(ctx)
	if err != nil {
		return err
	}

	venueName := t.gw.Name()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			t.handle(ctx, venueName, ev)
		}
	}
}

// handle looks up the event's chunk key, writes the raw event
// unconditionally (a failed lookup only drops the chunk context), then
// attempts the best-effort order-store/lifecycle-log update. The raw write must
// never be skipped or delayed by the best-effort path (spec.md §4.2:
// "every event is written to venue_events regardless of state").
func (t *Task) handle(ctx context.Context, venueName model.Venue, ev venue.StreamEvent) {
	key, known, err := t.store.LookupByVenueOrderID(ctx, venueName, ev.OrderID)
	if err != nil {
		log.Warn().Err(err).Str("venue", string(venueName)).Str("order_id", ev.OrderID).
			Msg("chunk key lookup failed, recording event without chunk context")
		known = false
	}

	raw := model.VenueEvent{
		Venue:            venueName,
		EventID:          ev.EventID,
		OrderID:          ev.OrderID,
		RawPayload:       ev.RawPayload,
		Status:           ev.Status,
		ExecutedQuantity: ev.ExecutedQuantity,
		ExecutedFee:      ev.ExecutedFee,
		Price:            ev.Price,
		RejectReason:     ev.RejectReason,
		Timestamp:        ev.Timestamp,
	}
	if known {
		raw.ChunkGroup = key.ChunkGroup
		raw.Sequence = key.Sequence
		raw.SequenceKnown = true
	}

	if err := t.log.RecordVenueEvent(ctx, raw); err != nil {
		log.Warn().Err(err).Str("venue", string(venueName)).Str("order_id", ev.OrderID).
			Msg("record venue event failed, continuing")
	}

	if !known {
		// Chunk context not yet resolvable (order row not upserted),
		// e.g. an early REJECTED arriving before placement commits the
		// row. The placement engine's hybrid confirmation reads this
		// event back via eventlog.LatestEventForOrder, so no further
		// action is needed here.
		return
	}

	t.updateBestEffort(ctx, key, ev)
}

func (t *Task) updateBestEffort(ctx context.Context, key model.OrderKey, ev venue.StreamEvent) {
	row, err := t.store.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Interface("key", key).Msg("order store read failed during ingest, continuing")
		return
	}
	if row == nil {
		log.Warn().Interface("key", key).Msg("order row not found during ingest, continuing")
		return
	}

	row.Status = ev.Status
	row.ExecutedQuantity = ev.ExecutedQuantity
	row.ExecutedFee = ev.ExecutedFee
	row.NetReceived = ev.ExecutedQuantity.Sub(ev.ExecutedFee)
	if err := t.store.Upsert(ctx, *row); err != nil {
		log.Warn().Err(err).Interface("key", key).Msg("order store update failed during ingest, continuing")
		return
	}

	eventType := streamStatusToLifecycle(ev.Status)
	if eventType == "" {
		return
	}
	lifecycleErr := t.log.RecordLifecycle(ctx, model.LifecycleEvent{
		ChunkGroup: key.ChunkGroup,
		Sequence:   key.Sequence,
		Venue:      key.Venue,
		OrderID:    ev.OrderID,
		EventType:  eventType,
		Details:    ev.RejectReason,
		Timestamp:  ev.Timestamp,
	})
	if lifecycleErr != nil {
		log.Warn().Err(lifecycleErr).Interface("key", key).Msg("lifecycle log write failed during ingest, continuing")
	}
}

func streamStatusToLifecycle(status model.OrderStatus) model.EventType {
	switch status {
	case model.StatusFilled:
		return model.EventFilled
	case model.StatusCancelled:
		return model.EventCancelled
	case model.StatusRejected:
		return model.EventRejected
	default:
		return ""
	}
}
