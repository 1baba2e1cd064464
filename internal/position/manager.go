package position

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/exchange"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/order"
)

// OrderPlacer is the slice of the order engine the manager needs for
// reduce-only closes.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, p order.PlaceParams) order.Result
}

// Publisher relays position lifecycle events to the external sink.
type Publisher interface {
	Publish(topic string, payload any)
}

// Config tunes the per-user polling loops and the asset meta cache.
type Config struct {
	PollInterval        time.Duration
	MetaRefreshInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.MetaRefreshInterval <= 0 {
		c.MetaRefreshInterval = time.Hour
	}
	return c
}

// Manager owns every write to the position ledger. It mirrors the exchange's
// authoritative snapshot into local rows and submits reduce-only closes
// through the order engine.
type Manager struct {
	cfg    Config
	ex     exchange.Exchange
	store  Store
	orders OrderPlacer
	sink   Publisher
	stats  *obs.Stats

	metaMu     sync.Mutex
	mmr        map[string]decimal.Decimal
	metaLoaded time.Time

	pollMu  sync.Mutex
	pollers map[string]chan struct{}
}

// NewManager builds a position manager. sink may be nil.
func NewManager(ex exchange.Exchange, store Store, orders OrderPlacer, cfg Config, sink Publisher, stats *obs.Stats) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		ex:      ex,
		store:   store,
		orders:  orders,
		sink:    sink,
		stats:   stats,
		pollers: make(map[string]chan struct{}),
	}
}

func (m *Manager) publish(topic string, payload any) {
	if m.sink != nil {
		m.sink.Publish(topic, payload)
	}
}

// maintenanceRate returns the asset's maintenance margin rate from a cached
// copy of the exchange meta, refreshed after MetaRefreshInterval. The fetch
// runs outside the lock; a failed refresh keeps serving the stale map. Zero
// when the asset is unknown.
func (m *Manager) maintenanceRate(ctx context.Context, symbol string) decimal.Decimal {
	m.metaMu.Lock()
	if m.mmr != nil && time.Since(m.metaLoaded) < m.cfg.MetaRefreshInterval {
		rate := m.mmr[symbol]
		m.metaMu.Unlock()
		return rate
	}
	stale := m.mmr
	m.metaMu.Unlock()

	metas, err := m.ex.Meta(ctx)
	if err != nil {
		logs.Warnf("fetch exchange meta, err: %+v", err)
		return stale[symbol]
	}

	fresh := make(map[string]decimal.Decimal, len(metas))
	for _, meta := range metas {
		fresh[meta.Symbol] = meta.MaintenanceMarginRate
	}

	m.metaMu.Lock()
	m.mmr = fresh
	m.metaLoaded = time.Now()
	m.metaMu.Unlock()

	return fresh[symbol]
}

// SyncPositions mirrors the exchange snapshot for the user: upserts every
// reported position and closes local rows whose symbol the exchange no
// longer reports.
func (m *Manager) SyncPositions(ctx context.Context, userID string) error {
	state, err := m.ex.UserState(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "fetch user state").With("user", userID)
	}

	reported := make(map[string]struct{}, len(state.Positions))
	for _, snap := range state.Positions {
		reported[snap.Symbol] = struct{}{}

		row := m.buildRow(ctx, userID, snap)
		if err := m.store.UpsertOpenPosition(ctx, row); err != nil {
			return errors.Wrap(err, "upsert position").With("symbol", snap.Symbol)
		}

		m.stats.IncPositionSynced()
		m.publish("position.updated", row)
	}

	local, err := m.store.ListOpenPositions(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "list open positions")
	}

	for i := range local {
		if _, ok := reported[local[i].Symbol]; ok {
			continue
		}
		if err := m.MarkClosed(ctx, userID, local[i].Symbol); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) buildRow(ctx context.Context, userID string, snap exchange.PositionSnapshot) *model.Position {
	row := &model.Position{
		UserID:        userID,
		Symbol:        snap.Symbol,
		Side:          snap.Side,
		Size:          snap.Size,
		EntryPrice:    snap.EntryPrice,
		MarkPrice:     snap.MarkPrice,
		Leverage:      snap.Leverage,
		UnrealizedPnl: snap.UnrealizedPnl,
		MarginUsed:    snap.MarginUsed,
	}

	if row.UnrealizedPnl.IsZero() {
		row.UnrealizedPnl = unrealizedPnl(snap)
	}
	row.LiquidationPrice = liquidationPrice(snap, m.maintenanceRate(ctx, snap.Symbol))

	return row
}

// unrealizedPnl is the fallback when the exchange omits its own PnL figure:
// (mark - entry) * size for long, mirrored for short.
func unrealizedPnl(snap exchange.PositionSnapshot) decimal.Decimal {
	diff := snap.MarkPrice.Sub(snap.EntryPrice)
	if snap.Side == enum.PositionSideShort {
		diff = diff.Neg()
	}
	return diff.Mul(snap.Size)
}

// liquidationPrice is the simplified estimate
// entry * (1 -+ 1/leverage +- maintenanceMarginRate), sign per side.
func liquidationPrice(snap exchange.PositionSnapshot, mmr decimal.Decimal) decimal.Decimal {
	if !snap.Leverage.IsPositive() {
		return decimal.Zero
	}

	one := decimal.NewFromInt(1)
	invLev := one.Div(snap.Leverage)

	var factor decimal.Decimal
	if snap.Side == enum.PositionSideLong {
		factor = one.Sub(invLev).Add(mmr)
	} else {
		factor = one.Add(invLev).Sub(mmr)
	}
	return snap.EntryPrice.Mul(factor)
}

// MarkClosed stamps the open row closed and emits the closed event. Also the
// entry point for the reconciler, which never writes position rows itself.
func (m *Manager) MarkClosed(ctx context.Context, userID, symbol string) error {
	if err := m.store.CloseOpenPosition(ctx, userID, symbol); err != nil {
		return errors.Wrap(err, "close position").With("symbol", symbol)
	}

	m.stats.IncPositionClosed()
	m.publish("position.closed", map[string]string{"userId": userID, "symbol": symbol})
	return nil
}

// ClosePosition submits a reduce-only market order on the opposite side for
// the full open size. Reduce-only keeps a race with exchange-side fills from
// flipping the position.
func (m *Manager) ClosePosition(ctx context.Context, userID, symbol string) order.Result {
	pos, err := m.store.GetOpenPosition(ctx, userID, symbol)
	if err != nil {
		return order.Result{
			ErrKind: order.ErrKindValidation,
			Message: "no open position for " + symbol,
		}
	}

	return m.orders.PlaceOrder(ctx, order.PlaceParams{
		UserID:     userID,
		Symbol:     symbol,
		Side:       pos.Side.CloseSide(),
		Type:       enum.OrderTypeMarket,
		Size:       pos.Size,
		ReduceOnly: true,
	})
}

// ListOpenPositions is a pure ledger read.
func (m *Manager) ListOpenPositions(ctx context.Context, userID string) ([]model.Position, error) {
	return m.store.ListOpenPositions(ctx, userID)
}

// StartPolling launches the per-user sync loop. Idempotent per user.
func (m *Manager) StartPolling(ctx context.Context, userID string) {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	if _, ok := m.pollers[userID]; ok {
		return
	}

	stop := make(chan struct{})
	m.pollers[userID] = stop

	go m.poll(ctx, userID, stop)
}

// StopPolling stops the user's loop after any in-flight sync finishes.
func (m *Manager) StopPolling(userID string) {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	if stop, ok := m.pollers[userID]; ok {
		close(stop)
		delete(m.pollers, userID)
	}
}

// StopAll tears down every polling loop.
func (m *Manager) StopAll() {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	for userID, stop := range m.pollers {
		close(stop)
		delete(m.pollers, userID)
	}
}

func (m *Manager) poll(ctx context.Context, userID string, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := m.SyncPositions(ctx, userID); err != nil {
				logs.Warnf("sync positions for %s, err: %+v", userID, err)
			}
		}
	}
}
