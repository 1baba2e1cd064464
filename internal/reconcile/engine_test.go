package reconcile

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/exchange"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/pkg/exception"
)

type fakeSnapshots struct {
	mu         sync.Mutex
	openOrders []exchange.OpenOrder
	ordersErr  error
	state      exchange.UserState
	stateErr   error
	fills      []exchange.UserFill
	fillsErr   error
}

func (f *fakeSnapshots) AllMids(ctx context.Context) (exchange.Mids, error) { return nil, nil }

func (f *fakeSnapshots) OrderBook(ctx context.Context, symbol string) (exchange.OrderBook, error) {
	return exchange.OrderBook{}, nil
}

func (f *fakeSnapshots) Candles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	return nil, nil
}

func (f *fakeSnapshots) Meta(ctx context.Context) ([]exchange.AssetMeta, error) { return nil, nil }

func (f *fakeSnapshots) UserState(ctx context.Context, userID string) (exchange.UserState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.stateErr
}

func (f *fakeSnapshots) OpenOrders(ctx context.Context, userID string) ([]exchange.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openOrders, f.ordersErr
}

func (f *fakeSnapshots) UserFills(ctx context.Context, userID string) ([]exchange.UserFill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fills, f.fillsErr
}

func (f *fakeSnapshots) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{}, nil
}

func (f *fakeSnapshots) CancelOrder(ctx context.Context, userID, symbol, exchangeOrderID string) error {
	return nil
}

func (f *fakeSnapshots) Subscribe(ctx context.Context, feed exchange.Feed, sink exchange.EventSink) (exchange.Unsubscribe, error) {
	return func() {}, nil
}

type fakeOrderLedger struct {
	mu       sync.Mutex
	open     []model.Order
	resolved map[string]enum.OrderStatus
}

func newFakeOrderLedger(open ...model.Order) *fakeOrderLedger {
	return &fakeOrderLedger{open: open, resolved: make(map[string]enum.OrderStatus)}
}

func (l *fakeOrderLedger) GetOpenOrders(ctx context.Context, userID string) ([]model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Order(nil), l.open...), nil
}

func (l *fakeOrderLedger) Resolve(ctx context.Context, orderID string, status enum.OrderStatus, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolved[orderID] = status
	return nil
}

type fakePositionLedger struct {
	mu     sync.Mutex
	open   []model.Position
	closed []string
}

func (l *fakePositionLedger) ListOpenPositions(ctx context.Context, userID string) ([]model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Position(nil), l.open...), nil
}

func (l *fakePositionLedger) MarkClosed(ctx context.Context, userID, symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = append(l.closed, symbol)
	return nil
}

type memDiscrepancies struct {
	mu   sync.Mutex
	rows []model.DiscrepancyRecord
}

func (s *memDiscrepancies) CreateDiscrepancy(ctx context.Context, r *model.DiscrepancyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, *r)
	return nil
}

func (s *memDiscrepancies) byCheck(check enum.DiscrepancyCheck) []model.DiscrepancyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DiscrepancyRecord
	for _, r := range s.rows {
		if r.CheckType == check {
			out = append(out, r)
		}
	}
	return out
}

func openOrder(id, exchangeID string) model.Order {
	return model.Order{
		ID:              id,
		ExchangeOrderID: exchangeID,
		UserID:          "u1",
		Symbol:          "BTC",
		Side:            enum.OrderSideBuy,
		Type:            enum.OrderTypeLimit,
		Price:           decimal.NewFromInt(64000),
		Size:            decimal.NewFromInt(1),
		Status:          enum.OrderStatusOpen,
	}
}

func openPosition(symbol, size string) model.Position {
	return model.Position{
		UserID: "u1",
		Symbol: symbol,
		Side:   enum.PositionSideLong,
		Size:   decimal.RequireFromString(size),
	}
}

func TestOrderMissingRemoteResolvedFilled(t *testing.T) {
	venue := &fakeSnapshots{
		fills: []exchange.UserFill{{ExchangeOrderID: "101", TradeID: "t1"}},
	}
	orders := newFakeOrderLedger(openOrder("o1", "101"))
	positions := &fakePositionLedger{}
	store := &memDiscrepancies{}

	e := NewEngine(venue, orders, positions, store, Config{}, nil, obs.NewStats())

	report, err := e.ReconcileUser(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrderDiscrepancies)
	assert.Zero(t, report.Critical)

	orders.mu.Lock()
	assert.Equal(t, enum.OrderStatusFilled, orders.resolved["o1"], "fills history confirms the fill")
	orders.mu.Unlock()

	records := store.byCheck(enum.CheckOrderMissingRemote)
	require.Len(t, records, 1)
	assert.Equal(t, "o1", records[0].EntityID)
	assert.Equal(t, "absent", records[0].APIStatus)
}

func TestOrderMissingRemoteWithoutFillsResolvedCancelled(t *testing.T) {
	venue := &fakeSnapshots{} // no fills history at all
	orders := newFakeOrderLedger(openOrder("o1", "101"))
	store := &memDiscrepancies{}

	e := NewEngine(venue, orders, &fakePositionLedger{}, store, Config{}, nil, obs.NewStats())

	_, err := e.ReconcileUser(t.Context(), "u1")
	require.NoError(t, err)

	orders.mu.Lock()
	assert.Equal(t, enum.OrderStatusCancelled, orders.resolved["o1"])
	orders.mu.Unlock()
}

func TestOrderMissingRemoteFillsQueryFailureDefaultsFilled(t *testing.T) {
	venue := &fakeSnapshots{fillsErr: &exception.StatusError{Code: 503}}
	orders := newFakeOrderLedger(openOrder("o1", "101"))

	e := NewEngine(venue, orders, &fakePositionLedger{}, &memDiscrepancies{}, Config{}, nil, obs.NewStats())

	_, err := e.ReconcileUser(t.Context(), "u1")
	require.NoError(t, err)

	orders.mu.Lock()
	assert.Equal(t, enum.OrderStatusFilled, orders.resolved["o1"], "conservative default when history is unavailable")
	orders.mu.Unlock()
}

func TestOrderStillOpenRemotelyUntouched(t *testing.T) {
	venue := &fakeSnapshots{
		openOrders: []exchange.OpenOrder{{ExchangeOrderID: "101", Symbol: "BTC"}},
	}
	orders := newFakeOrderLedger(openOrder("o1", "101"))
	store := &memDiscrepancies{}

	e := NewEngine(venue, orders, &fakePositionLedger{}, store, Config{}, nil, obs.NewStats())

	report, err := e.ReconcileUser(t.Context(), "u1")
	require.NoError(t, err)
	assert.Zero(t, report.OrderDiscrepancies)

	orders.mu.Lock()
	assert.Empty(t, orders.resolved)
	orders.mu.Unlock()
}

func TestUnknownRemoteOrderCriticalLogOnly(t *testing.T) {
	venue := &fakeSnapshots{
		openOrders: []exchange.OpenOrder{{ExchangeOrderID: "999", Symbol: "ETH", Side: enum.OrderSideSell, Size: decimal.NewFromInt(2)}},
	}
	orders := newFakeOrderLedger()
	store := &memDiscrepancies{}

	e := NewEngine(venue, orders, &fakePositionLedger{}, store, Config{}, nil, obs.NewStats())

	report, err := e.ReconcileUser(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Critical)

	records := store.byCheck(enum.CheckOrderUnknownLocal)
	require.Len(t, records, 1)
	assert.Equal(t, "999", records[0].EntityID)

	orders.mu.Lock()
	assert.Empty(t, orders.resolved, "critical findings are never auto-resolved")
	orders.mu.Unlock()
}

func TestPositionAbsentRemotelyAutoClosed(t *testing.T) {
	venue := &fakeSnapshots{}
	positions := &fakePositionLedger{open: []model.Position{openPosition("BTC", "0.5")}}
	store := &memDiscrepancies{}

	e := NewEngine(venue, newFakeOrderLedger(), positions, store, Config{}, nil, obs.NewStats())

	report, err := e.ReconcileUser(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.PositionDiscrepancies)

	positions.mu.Lock()
	assert.Equal(t, []string{"BTC"}, positions.closed)
	positions.mu.Unlock()

	require.Len(t, store.byCheck(enum.CheckPositionMissingRemote), 1)
}

func TestPositionSizeMismatchLogOnly(t *testing.T) {
	venue := &fakeSnapshots{state: exchange.UserState{
		Positions: []exchange.PositionSnapshot{{
			Symbol: "BTC",
			Side:   enum.PositionSideLong,
			Size:   decimal.RequireFromString("1.0"),
		}},
	}}
	positions := &fakePositionLedger{open: []model.Position{openPosition("BTC", "1.1")}}
	store := &memDiscrepancies{}

	e := NewEngine(venue, newFakeOrderLedger(), positions, store, Config{}, nil, obs.NewStats())

	report, err := e.ReconcileUser(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.PositionDiscrepancies)

	positions.mu.Lock()
	assert.Empty(t, positions.closed, "size mismatch is never auto-corrected")
	positions.mu.Unlock()

	require.Len(t, store.byCheck(enum.CheckPositionSizeMismatch), 1)
}

func TestPositionWithinToleranceClean(t *testing.T) {
	venue := &fakeSnapshots{state: exchange.UserState{
		Positions: []exchange.PositionSnapshot{{
			Symbol: "BTC",
			Side:   enum.PositionSideLong,
			Size:   decimal.RequireFromString("1.00005"),
		}},
	}}
	positions := &fakePositionLedger{open: []model.Position{openPosition("BTC", "1.0")}}
	store := &memDiscrepancies{}

	e := NewEngine(venue, newFakeOrderLedger(), positions, store, Config{}, nil, obs.NewStats())

	report, err := e.ReconcileUser(t.Context(), "u1")
	require.NoError(t, err)
	assert.Zero(t, report.PositionDiscrepancies)
}

func TestUnknownRemotePositionCritical(t *testing.T) {
	venue := &fakeSnapshots{state: exchange.UserState{
		Positions: []exchange.PositionSnapshot{{
			Symbol: "SOL",
			Side:   enum.PositionSideShort,
			Size:   decimal.NewFromInt(10),
		}},
	}}
	positions := &fakePositionLedger{}
	store := &memDiscrepancies{}

	e := NewEngine(venue, newFakeOrderLedger(), positions, store, Config{}, nil, obs.NewStats())

	report, err := e.ReconcileUser(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Critical)
	require.Len(t, store.byCheck(enum.CheckPositionUnknownLocal), 1)

	positions.mu.Lock()
	assert.Empty(t, positions.closed)
	positions.mu.Unlock()
}

func TestSnapshotFailureSkipsCycle(t *testing.T) {
	stats := obs.NewStats()
	venue := &fakeSnapshots{ordersErr: &exception.StatusError{Code: 502}}
	orders := newFakeOrderLedger(openOrder("o1", "101"))
	positions := &fakePositionLedger{open: []model.Position{openPosition("BTC", "1.0")}}
	store := &memDiscrepancies{}

	e := NewEngine(venue, orders, positions, store, Config{}, nil, stats)

	_, err := e.ReconcileUser(t.Context(), "u1")
	require.Error(t, err)

	orders.mu.Lock()
	assert.Empty(t, orders.resolved, "snapshot failure must not touch the ledger")
	orders.mu.Unlock()

	positions.mu.Lock()
	assert.Empty(t, positions.closed)
	positions.mu.Unlock()

	store.mu.Lock()
	assert.Empty(t, store.rows)
	store.mu.Unlock()

	assert.Equal(t, uint64(1), stats.Snapshot().ReconcileSkips)
}
