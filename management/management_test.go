package management

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/hedgeerrors"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/venue"
)

type fakeGateway struct {
	name          model.Venue
	amendSupport  bool
	cancelled     []string
	submitResults []string
	submitCalls   int
}

func (g *fakeGateway) Name() model.Venue      { return g.name }
func (g *fakeGateway) AmendSupported() bool   { return g.amendSupport }
func (g *fakeGateway) SupportsPostOnly() bool { return false }
func (g *fakeGateway) Submit(ctx context.Context, req venue.SubmitRequest) (string, error) {
	id := "replaced"
	if g.submitCalls < len(g.submitResults) {
		id = g.submitResults[g.submitCalls]
	}
	g.submitCalls++
	return id, nil
}
func (g *fakeGateway) Amend(ctx context.Context, orderID string, newPrice decimal.Decimal) error {
	return nil
}
func (g *fakeGateway) Cancel(ctx context.Context, orderID string) error {
	g.cancelled = append(g.cancelled, orderID)
	return nil
}
func (g *fakeGateway) OpenOrders(ctx context.Context, symbol string) ([]venue.OpenOrder, error) {
	return nil, nil
}
func (g *fakeGateway) OrderHistory(ctx context.Context, orderID string) (*venue.HistoryRecord, error) {
	return nil, nil
}
func (g *fakeGateway) Subscribe(ctx context.Context) (<-chan venue.StreamEvent, error) {
	return nil, nil
}

type fakeOracle struct {
	quote model.Quote
	err   error
}

func (o *fakeOracle) GetValidatedQuote(ctx context.Context, symbol string) (model.Quote, error) {
	return o.quote, o.err
}

type fakeLog struct{}

func (l *fakeLog) RecordVenueEvent(ctx context.Context, ev model.VenueEvent) error { return nil }
func (l *fakeLog) RecordLifecycle(ctx context.Context, ev model.LifecycleEvent) error {
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
	statuses map[model.OrderKey]model.OrderStatus
	rows     map[model.OrderKey]*model.OrderRow
	upserts  []model.OrderRow
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: make(map[model.OrderKey]model.OrderStatus), rows: make(map[model.OrderKey]*model.OrderRow)}
}

func (s *fakeStore) Upsert(ctx context.Context, row model.OrderRow) error {
	s.upserts = append(s.upserts, row)
	r := row
	s.rows[row.Key] = &r
	return nil
}
func (s *fakeStore) Status(ctx context.Context, key model.OrderKey) (model.OrderStatus, error) {
	return s.statuses[key], nil
}
func (s *fakeStore) Get(ctx context.Context, key model.OrderKey) (*model.OrderRow, error) {
	return s.rows[key], nil
}
func (s *fakeStore) LookupByVenueOrderID(ctx context.Context, v model.Venue, venueOrderID string) (model.OrderKey, bool, error) {
	return model.OrderKey{}, false, nil
}

func testSpec() model.SymbolSpec {
	return model.SymbolSpec{
		Asset: "BTC", VenueASymbol: "BTCUSDT", VenueBSymbol: "BTCUSDT",
		QuantityPrecision: 6, PricePrecision: 1,
		TickSize: decimal.NewFromFloat(0.1), MinOrderQuantity: decimal.NewFromFloat(0.0001),
	}
}

func TestRun_BothFilledCompletesImmediately(t *testing.T) {
	ctx := context.Background()
	keyA := model.OrderKey{ChunkGroup: "cg", Sequence: 0, Venue: model.VenueA}
	keyB := model.OrderKey{ChunkGroup: "cg", Sequence: 0, Venue: model.VenueB}
	store := newFakeStore()
	store.statuses[keyA] = model.StatusFilled
	store.statuses[keyB] = model.StatusFilled

	l := New(&fakeGateway{name: model.VenueA}, &fakeGateway{name: model.VenueB}, &fakeOracle{}, &fakeLog{}, store, time.Millisecond, time.Hour, decimal.NewFromFloat(0.1))
	outcome, err := l.Run(ctx, testSpec(), "cg", 0)

	require.NoError(t, err)
	assert.True(t, outcome.BothFilled)
}

func TestRun_OneFilledHandsOffToPhase2(t *testing.T) {
	ctx := context.Background()
	keyA := model.OrderKey{ChunkGroup: "cg", Sequence: 0, Venue: model.VenueA}
	keyB := model.OrderKey{ChunkGroup: "cg", Sequence: 0, Venue: model.VenueB}
	store := newFakeStore()
	store.statuses[keyA] = model.StatusFilled
	store.statuses[keyB] = model.StatusOpen

	l := New(&fakeGateway{name: model.VenueA}, &fakeGateway{name: model.VenueB}, &fakeOracle{}, &fakeLog{}, store, time.Millisecond, time.Hour, decimal.NewFromFloat(0.1))
	outcome, err := l.Run(ctx, testSpec(), "cg", 0)

	require.NoError(t, err)
	assert.False(t, outcome.BothFilled)
	assert.Equal(t, model.VenueA, outcome.FilledVenue)
	assert.Equal(t, model.VenueB, outcome.UnfilledVenue)
}

func TestModificationCycle_RejectedReplacesAtNewPrice(t *testing.T) {
	ctx := context.Background()
	keyA := model.OrderKey{ChunkGroup: "cg", Sequence: 0, Venue: model.VenueA}
	keyB := model.OrderKey{ChunkGroup: "cg", Sequence: 0, Venue: model.VenueB}
	store := newFakeStore()
	store.statuses[keyA] = model.StatusRejected
	store.statuses[keyB] = model.StatusOpen
	store.rows[keyA] = &model.OrderRow{Key: keyA, Side: model.SideBuy, OrderedQuantity: decimal.NewFromFloat(0.01), VenueOrderID: "a-old"}

	venueA := &fakeGateway{name: model.VenueA, submitResults: []string{"a-new"}}
	quotes := &fakeOracle{quote: model.Quote{Symbol: "BTC", Mid: decimal.NewFromInt(60000)}}

	l := New(venueA, &fakeGateway{name: model.VenueB}, quotes, &fakeLog{}, store, time.Millisecond, time.Millisecond, decimal.NewFromFloat(0.1))
	outcome, done, err := l.modificationCycle(ctx, testSpec(), "cg", 0, keyA, keyB)

	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, Outcome{}, outcome)
	// A REJECTED order is already terminal on the venue side; replacing
	// it must submit fresh directly, never call Cancel (spec.md §4.6
	// step 4).
	assert.Empty(t, venueA.cancelled)
	assert.Equal(t, 1, venueA.submitCalls)
}

func TestModificationCycle_CancelledWhileOpenAborts(t *testing.T) {
	ctx := context.Background()
	keyA := model.OrderKey{ChunkGroup: "cg", Sequence: 0, Venue: model.VenueA}
	keyB := model.OrderKey{ChunkGroup: "cg", Sequence: 0, Venue: model.VenueB}
	store := newFakeStore()
	store.statuses[keyA] = model.StatusCancelled
	store.statuses[keyB] = model.StatusOpen
	store.rows[keyB] = &model.OrderRow{Key: keyB, Side: model.SideSell, VenueOrderID: "b-open"}

	venueB := &fakeGateway{name: model.VenueB}
	l := New(&fakeGateway{name: model.VenueA}, venueB, &fakeOracle{}, &fakeLog{}, store, time.Millisecond, time.Millisecond, decimal.NewFromFloat(0.1))
	_, done, err := l.modificationCycle(ctx, testSpec(), "cg", 0, keyA, keyB)

	assert.True(t, done)
	var orderErr *hedgeerrors.OrderError
	require.ErrorAs(t, err, &orderErr)
	assert.Equal(t, model.VenueA, orderErr.Venue)
	assert.Equal(t, []string{"b-open"}, venueB.cancelled)
}

func TestModificationCycle_SpreadAbortCancelsBoth(t *testing.T) {
	ctx := context.Background()
	keyA := model.OrderKey{ChunkGroup: "cg", Sequence: 0, Venue: model.VenueA}
	keyB := model.OrderKey{ChunkGroup: "cg", Sequence: 0, Venue: model.VenueB}
	store := newFakeStore()
	store.statuses[keyA] = model.StatusOpen
	store.statuses[keyB] = model.StatusOpen
	store.rows[keyA] = &model.OrderRow{Key: keyA, VenueOrderID: "a-open"}
	store.rows[keyB] = &model.OrderRow{Key: keyB, VenueOrderID: "b-open"}

	venueA := &fakeGateway{name: model.VenueA}
	venueB := &fakeGateway{name: model.VenueB}
	quotes := &fakeOracle{quote: model.Quote{Symbol: "BTC", Mid: decimal.NewFromInt(60000), SpreadPct: decimal.NewFromFloat(0.5)}}

	l := New(venueA, venueB, quotes, &fakeLog{}, store, time.Millisecond, time.Millisecond, decimal.NewFromFloat(0.1))
	_, done, err := l.modificationCycle(ctx, testSpec(), "cg", 0, keyA, keyB)

	assert.True(t, done)
	var spreadErr *hedgeerrors.SpreadError
	require.ErrorAs(t, err, &spreadErr)
	assert.Equal(t, []string{"a-open"}, venueA.cancelled)
	assert.Equal(t, []string{"b-open"}, venueB.cancelled)
}
