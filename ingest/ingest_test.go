package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/venue"
)

type fakeGateway struct {
	name   model.Venue
	events chan venue.StreamEvent
	subErr error
}

func (g *fakeGateway) Name() model.Venue      { return g.name }
func (g *fakeGateway) AmendSupported() bool   { return true }
func (g *fakeGateway) SupportsPostOnly() bool { return false }
func (g *fakeGateway) Submit(ctx context.Context, req venue.SubmitRequest) (string, error) {
	return "", nil
}
func (g *fakeGateway) Amend(ctx context.Context, orderID string, newPrice decimal.Decimal) error {
	return nil
}
func (g *fakeGateway) Cancel(ctx context.Context, orderID string) error { return nil }
func (g *fakeGateway) OpenOrders(ctx context.Context, symbol string) ([]venue.OpenOrder, error) {
	return nil, nil
}
func (g *fakeGateway) OrderHistory(ctx context.Context, orderID string) (*venue.HistoryRecord, error) {
	return nil, nil
}
func (g *fakeGateway) Subscribe(ctx context.Context) (<-chan venue.StreamEvent, error) {
	if g.subErr != nil {
		return nil, g.subErr
	}
	return g.events, nil
}

type fakeLog struct {
	events    []model.VenueEvent
	lifecycle []model.LifecycleEvent
}

func (l *fakeLog) RecordVenueEvent(ctx context.Context, ev model.VenueEvent) error {
	l.events = append(l.events, ev)
	return nil
}
func (l *fakeLog) RecordLifecycle(ctx context.Context, ev model.LifecycleEvent) error {
	l.lifecycle = append(l.lifecycle, ev)
	return nil
}
func (l *fakeLog) LatestLifecycleStatus(ctx context.Context, chunkGroup string, sequence int, v model.Venue) (model.EventType, bool, error) {
	return "", false, nil
}
func (l *fakeLog) ChunkTotalFees(ctx context.Context, chunkGroup string, sequence int, v model.Venue) (model.FeeTotals, error) {
	return model.FeeTotals{}, nil
}
func (l *fakeLog) LatestEventForOrder(ctx context.Context, v model.Venue, orderID string) (model.VenueEvent, bool, error) {
	return model.VenueEvent{}, false, nil
}

type fakeStore struct {
	keys    map[string]model.OrderKey
	rows    map[model.OrderKey]*model.OrderRow
	upserts []model.OrderRow
}

func newFakeStore() *fakeStore {
	return &fakeStore{keys: make(map[string]model.OrderKey), rows: make(map[model.OrderKey]*model.OrderRow)}
}

func (s *fakeStore) Upsert(ctx context.Context, row model.OrderRow) error {
	s.upserts = append(s.upserts, row)
	r := row
	s.rows[row.Key] = &r
	return nil
}
func (s *fakeStore) Status(ctx context.Context, key model.OrderKey) (model.OrderStatus, error) {
	if r, ok := s.rows[key]; ok {
		return r.Status, nil
	}
	return "", nil
}
func (s *fakeStore) Get(ctx context.Context, key model.OrderKey) (*model.OrderRow, error) {
	return s.rows[key], nil
}
func (s *fakeStore) LookupByVenueOrderID(ctx context.Context, v model.Venue, venueOrderID string) (model.OrderKey, bool, error) {
	key, ok := s.keys[venueOrderID]
	return key, ok, nil
}

func TestHandle_KnownOrderUpdatesStoreAndLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	key := model.OrderKey{ChunkGroup: "cg", Sequence: 1, Venue: model.VenueA}
	store.keys["order-1"] = key
	store.rows[key] = &model.OrderRow{Key: key, VenueOrderID: "order-1"}
	log := &fakeLog{}

	task := New(&fakeGateway{name: model.VenueA}, log, store)
	task.handle(ctx, model.VenueA, venue.StreamEvent{
		OrderID: "order-1", Status: model.StatusFilled,
		ExecutedQuantity: decimal.NewFromFloat(0.01), ExecutedFee: decimal.NewFromFloat(0.0001),
	})

	require.Len(t, log.events, 1)
	assert.Equal(t, "cg", log.events[0].ChunkGroup)
	assert.True(t, log.events[0].SequenceKnown)

	require.Len(t, store.upserts, 1)
	assert.Equal(t, model.StatusFilled, store.upserts[0].Status)
	assert.True(t, store.upserts[0].NetReceived.Equal(decimal.NewFromFloat(0.01).Sub(decimal.NewFromFloat(0.0001))))

	require.Len(t, log.lifecycle, 1)
	assert.Equal(t, model.EventFilled, log.lifecycle[0].EventType)
}

func TestHandle_UnknownOrderStillRecordsRawEvent(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	log := &fakeLog{}

	task := New(&fakeGateway{name: model.VenueB}, log, store)
	task.handle(ctx, model.VenueB, venue.StreamEvent{OrderID: "unknown-order", Status: model.StatusRejected})

	require.Len(t, log.events, 1)
	assert.False(t, log.events[0].SequenceKnown)
	assert.Empty(t, store.upserts)
	assert.Empty(t, log.lifecycle)
}

func TestRun_SubscribeErrorPropagates(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{name: model.VenueA, subErr: errors.New("dial failed")}
	task := New(gw, &fakeLog{}, newFakeStore())

	err := task.Run(ctx)

	require.Error(t, err)
}

func TestRun_ChannelCloseEndsCleanly(t *testing.T) {
	ctx := context.Background()
	events := make(chan venue.StreamEvent)
	close(events)
	gw := &fakeGateway{name: model.VenueA, events: events}
	task := New(gw, &fakeLog{}, newFakeStore())

	err := task.Run(ctx)

	require.NoError(t, err)
}

func TestRun_ContextCancelReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	events := make(chan venue.StreamEvent)
	gw := &fakeGateway{name: model.VenueA, events: events}
	task := New(gw, &fakeLog{}, newFakeStore())

	err := task.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
}
