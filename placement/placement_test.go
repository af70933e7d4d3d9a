package placement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/hedgeerrors"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/venue"
)

type fakeGateway struct {
	name          model.Venue
	postOnly      bool
	submitErr     error
	submitResults []string // order IDs returned in sequence
	submitCalls   []venue.SubmitRequest
	cancelErr     error
	cancelled     []string
	openOrders    []venue.OpenOrder
	mu            sync.Mutex
}

func (g *fakeGateway) Name() model.Venue      { return g.name }
func (g *fakeGateway) AmendSupported() bool   { return true }
func (g *fakeGateway) SupportsPostOnly() bool { return g.postOnly }

func (g *fakeGateway) Submit(ctx context.Context, req venue.SubmitRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitCalls = append(g.submitCalls, req)
	if g.submitErr != nil {
		return "", g.submitErr
	}
	idx := len(g.submitCalls) - 1
	if idx < len(g.submitResults) {
		return g.submitResults[idx], nil
	}
	return g.submitResults[len(g.submitResults)-1], nil
}

func (g *fakeGateway) Amend(ctx context.Context, orderID string, newPrice decimal.Decimal) error {
	return nil
}

func (g *fakeGateway) Cancel(ctx context.Context, orderID string) error {
	g.cancelled = append(g.cancelled, orderID)
	return g.cancelErr
}

func (g *fakeGateway) OpenOrders(ctx context.Context, symbol string) ([]venue.OpenOrder, error) {
	return g.openOrders, nil
}

func (g *fakeGateway) OrderHistory(ctx context.Context, orderID string) (*venue.HistoryRecord, error) {
	return nil, nil
}

func (g *fakeGateway) Subscribe(ctx context.Context) (<-chan venue.StreamEvent, error) {
	return nil, nil
}

type fakeOracle struct {
	quotes []model.Quote // successive calls pop from the front; last repeats
	idx    int
	err    error
}

func (o *fakeOracle) GetValidatedQuote(ctx context.Context, symbol string) (model.Quote, error) {
	if o.err != nil {
		return model.Quote{}, o.err
	}
	q := o.quotes[o.idx]
	if o.idx < len(o.quotes)-1 {
		o.idx++
	}
	return q, nil
}

// eventForOrder is keyed by order id so confirm() can be driven
// per-submission without guessing call order.
type fakeLog struct {
	mu     sync.Mutex
	events map[string]model.VenueEvent
}

func newFakeLog() *fakeLog { return &fakeLog{events: make(map[string]model.VenueEvent)} }

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
	l.mu.Lock()
	defer l.mu.Unlock()
	ev, ok := l.events[orderID]
	return ev, ok, nil
}
func (l *fakeLog) set(orderID string, ev model.VenueEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[orderID] = ev
}

type fakeStore struct {
	rows []model.OrderRow
}

func (s *fakeStore) Upsert(ctx context.Context, row model.OrderRow) error {
	s.rows = append(s.rows, row)
	return nil
}
func (s *fakeStore) Status(ctx context.Context, key model.OrderKey) (model.OrderStatus, error) {
	return model.StatusPlaced, nil
}
func (s *fakeStore) Get(ctx context.Context, key model.OrderKey) (*model.OrderRow, error) {
	return nil, nil
}
func (s *fakeStore) LookupByVenueOrderID(ctx context.Context, v model.Venue, venueOrderID string) (model.OrderKey, bool, error) {
	return model.OrderKey{}, false, nil
}

type fakeAlerter struct {
	criticals []string
}

func (a *fakeAlerter) Critical(ctx context.Context, message string) {
	a.criticals = append(a.criticals, message)
}
func (a *fakeAlerter) Notice(ctx context.Context, message string) {}

func testSpec() model.SymbolSpec {
	return model.SymbolSpec{
		Asset: "BTC", VenueASymbol: "BTCUSDT", VenueBSymbol: "BTCUSDT",
		QuantityPrecision: 6, PricePrecision: 1,
		TickSize: decimal.NewFromFloat(0.1), MinOrderQuantity: decimal.NewFromFloat(0.0001),
	}
}

func acceptedEvent() model.VenueEvent {
	return model.VenueEvent{Status: model.StatusPlaced}
}

func TestPlace_HappyPath(t *testing.T) {
	ctx := context.Background()
	log := newFakeLog()
	log.set("a-1", acceptedEvent())
	log.set("b-1", acceptedEvent())

	venueA := &fakeGateway{name: model.VenueA, postOnly: true, submitResults: []string{"a-1"}}
	venueB := &fakeGateway{name: model.VenueB, submitResults: []string{"b-1"}}
	quotes := &fakeOracle{quotes: []model.Quote{{Symbol: "BTC", Mid: decimal.NewFromInt(60000), SpreadPct: decimal.NewFromFloat(0.01)}}}
	store := &fakeStore{}
	alerter := &fakeAlerter{}

	e := New(venueA, venueB, quotes, log, store, alerter, decimal.NewFromFloat(0.1))
	result, err := e.Place(ctx, testSpec(), "cg-1", 0, decimal.NewFromFloat(0.01))

	require.NoError(t, err)
	assert.Equal(t, "a-1", result.OrderIDA)
	assert.Equal(t, "b-1", result.OrderIDB)
	assert.Len(t, store.rows, 2)
}

func TestPlace_SpreadAbortBeforeAnySubmit(t *testing.T) {
	ctx := context.Background()
	venueA := &fakeGateway{name: model.VenueA, postOnly: true}
	venueB := &fakeGateway{name: model.VenueB}
	quotes := &fakeOracle{quotes: []model.Quote{{Symbol: "BTC", Mid: decimal.NewFromInt(60000), SpreadPct: decimal.NewFromFloat(0.5)}}}
	e := New(venueA, venueB, quotes, newFakeLog(), &fakeStore{}, &fakeAlerter{}, decimal.NewFromFloat(0.1))

	_, err := e.Place(ctx, testSpec(), "cg-2", 0, decimal.NewFromFloat(0.01))

	var spreadErr *hedgeerrors.SpreadError
	require.ErrorAs(t, err, &spreadErr)
	assert.Empty(t, venueA.submitCalls)
	assert.Empty(t, venueB.submitCalls)
}

func TestPlace_PostOnlyRetryLadderWidensThenSucceeds(t *testing.T) {
	ctx := context.Background()
	log := newFakeLog()
	log.set("a-reject-1", model.VenueEvent{Status: model.StatusRejected, RejectReason: postOnlyRejectReason})
	log.set("a-reject-2", model.VenueEvent{Status: model.StatusRejected, RejectReason: postOnlyRejectReason})
	log.set("a-ok", acceptedEvent())
	log.set("b-1", acceptedEvent())

	venueA := &fakeGateway{name: model.VenueA, postOnly: true, submitResults: []string{"a-reject-1", "a-reject-2", "a-ok"}}
	venueB := &fakeGateway{name: model.VenueB, submitResults: []string{"b-1"}}
	quotes := &fakeOracle{quotes: []model.Quote{{Symbol: "BTC", Mid: decimal.NewFromInt(60000), SpreadPct: decimal.NewFromFloat(0.01)}}}
	store := &fakeStore{}

	e := New(venueA, venueB, quotes, log, store, &fakeAlerter{}, decimal.NewFromFloat(0.1))
	result, err := e.Place(ctx, testSpec(), "cg-3", 0, decimal.NewFromFloat(0.01))

	require.NoError(t, err)
	assert.Equal(t, "a-ok", result.OrderIDA)
	require.Len(t, venueA.submitCalls, 3)
	// Ticks widen 1 -> 2 -> 3 across the three submissions.
	assert.True(t, venueA.submitCalls[0].Price.GreaterThan(venueA.submitCalls[1].Price))
	assert.True(t, venueA.submitCalls[1].Price.GreaterThan(venueA.submitCalls[2].Price))
}

func TestPlace_RollbackSucceedsOnVenueBFailure(t *testing.T) {
	ctx := context.Background()
	log := newFakeLog()
	log.set("a-1", acceptedEvent())

	venueA := &fakeGateway{name: model.VenueA, postOnly: true, submitResults: []string{"a-1"}}
	venueB := &fakeGateway{name: model.VenueB, submitErr: errors.New("venue-b rejected")}
	quotes := &fakeOracle{quotes: []model.Quote{{Symbol: "BTC", Mid: decimal.NewFromInt(60000), SpreadPct: decimal.NewFromFloat(0.01)}}}
	alerter := &fakeAlerter{}

	e := New(venueA, venueB, quotes, log, &fakeStore{}, alerter, decimal.NewFromFloat(0.1))
	_, err := e.Place(ctx, testSpec(), "cg-4", 0, decimal.NewFromFloat(0.01))

	var orderErr *hedgeerrors.OrderError
	require.ErrorAs(t, err, &orderErr)
	assert.True(t, orderErr.RollbackOK)
	assert.Equal(t, []string{"a-1"}, venueA.cancelled)
	assert.Empty(t, alerter.criticals)
}

func TestPlace_RollbackFailsEscalatesToCritical(t *testing.T) {
	ctx := context.Background()
	log := newFakeLog()
	log.set("a-1", acceptedEvent())

	venueA := &fakeGateway{name: model.VenueA, postOnly: true, submitResults: []string{"a-1"}, cancelErr: errors.New("cancel failed, already filled")}
	venueB := &fakeGateway{name: model.VenueB, submitErr: errors.New("venue-b rejected")}
	quotes := &fakeOracle{quotes: []model.Quote{{Symbol: "BTC", Mid: decimal.NewFromInt(60000), SpreadPct: decimal.NewFromFloat(0.01)}}}
	alerter := &fakeAlerter{}

	e := New(venueA, venueB, quotes, log, &fakeStore{}, alerter, decimal.NewFromFloat(0.1))
	_, err := e.Place(ctx, testSpec(), "cg-5", 0, decimal.NewFromFloat(0.01))

	var orderErr *hedgeerrors.OrderError
	require.ErrorAs(t, err, &orderErr)
	assert.False(t, orderErr.RollbackOK)
	assert.Len(t, alerter.criticals, 1)
}
