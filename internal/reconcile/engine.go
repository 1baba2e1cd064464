package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/exchange"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
)

// OrderLedger is the slice of the order engine the reconciler needs. The
// reconciler never writes order rows itself; it asks the owning engine.
type OrderLedger interface {
	GetOpenOrders(ctx context.Context, userID string) ([]model.Order, error)
	Resolve(ctx context.Context, orderID string, status enum.OrderStatus, reason string) error
}

// PositionLedger is the slice of the position manager the reconciler needs.
type PositionLedger interface {
	ListOpenPositions(ctx context.Context, userID string) ([]model.Position, error)
	MarkClosed(ctx context.Context, userID, symbol string) error
}

// Store persists discrepancy records, the only table the reconciler owns.
type Store interface {
	CreateDiscrepancy(ctx context.Context, r *model.DiscrepancyRecord) error
}

// Publisher relays discrepancy events to the external sink.
type Publisher interface {
	Publish(topic string, payload any)
}

// Config tunes the reconciliation cycle.
type Config struct {
	Interval time.Duration

	// SizeTolerance is the relative position-size drift above which a
	// mismatch is recorded, default 0.1%.
	SizeTolerance decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if !c.SizeTolerance.IsPositive() {
		c.SizeTolerance = decimal.RequireFromString("0.001")
	}
	return c
}

// Report summarizes one reconciliation cycle.
type Report struct {
	UserID                string    `json:"userId"`
	OrdersChecked         int       `json:"ordersChecked"`
	PositionsChecked      int       `json:"positionsChecked"`
	OrderDiscrepancies    int       `json:"orderDiscrepancies"`
	PositionDiscrepancies int       `json:"positionDiscrepancies"`
	Critical              int       `json:"critical"`
	StartedAt             time.Time `json:"startedAt"`
	FinishedAt            time.Time `json:"finishedAt"`
}

// Engine compares the local ledger against the exchange's authoritative
// snapshots and repairs drift through the owning components. Both snapshots
// are fetched up-front; a fetch failure skips the whole cycle so an exchange
// outage can never corrupt the ledger.
type Engine struct {
	cfg       Config
	ex        exchange.Exchange
	orders    OrderLedger
	positions PositionLedger
	store     Store
	sink      Publisher
	stats     *obs.Stats

	runMu   sync.Mutex
	runners map[string]chan struct{}
}

// NewEngine builds a reconciliation engine. sink may be nil.
func NewEngine(ex exchange.Exchange, orders OrderLedger, positions PositionLedger, store Store, cfg Config, sink Publisher, stats *obs.Stats) *Engine {
	return &Engine{
		cfg:       cfg.withDefaults(),
		ex:        ex,
		orders:    orders,
		positions: positions,
		store:     store,
		sink:      sink,
		stats:     stats,
		runners:   make(map[string]chan struct{}),
	}
}

func (e *Engine) record(ctx context.Context, r *model.DiscrepancyRecord) {
	e.stats.IncDiscrepancy()

	if err := e.store.CreateDiscrepancy(ctx, r); err != nil {
		logs.Errorf("persist discrepancy %s %s, err: %+v", r.CheckType, r.EntityID, err)
	}
	if e.sink != nil {
		e.sink.Publish("reconcile.discrepancy", r)
	}
}

// ReconcileUser runs both checks for one user and returns the cycle report.
func (e *Engine) ReconcileUser(ctx context.Context, userID string) (Report, error) {
	report := Report{UserID: userID, StartedAt: time.Now()}

	remoteOrders, err := e.ex.OpenOrders(ctx, userID)
	if err != nil {
		e.stats.IncReconcileSkip()
		return report, errors.Wrap(err, "fetch open orders snapshot")
	}

	state, err := e.ex.UserState(ctx, userID)
	if err != nil {
		e.stats.IncReconcileSkip()
		return report, errors.Wrap(err, "fetch user state snapshot")
	}

	e.stats.IncReconcileRun()

	e.reconcileOrders(ctx, userID, remoteOrders, &report)
	e.reconcilePositions(ctx, userID, state.Positions, &report)

	report.FinishedAt = time.Now()
	logs.Infof("reconciled user %s: %d order, %d position discrepancies, %d critical",
		userID, report.OrderDiscrepancies, report.PositionDiscrepancies, report.Critical)
	return report, nil
}

func (e *Engine) reconcileOrders(ctx context.Context, userID string, remote []exchange.OpenOrder, report *Report) {
	local, err := e.orders.GetOpenOrders(ctx, userID)
	if err != nil {
		logs.Errorf("list local open orders for %s, err: %+v", userID, err)
		return
	}

	report.OrdersChecked = len(local)

	remoteIDs := make(map[string]struct{}, len(remote))
	for _, o := range remote {
		remoteIDs[o.ExchangeOrderID] = struct{}{}
	}

	localIDs := make(map[string]struct{}, len(local))
	var (
		fills        []exchange.UserFill
		fillsErr     error
		fillsFetched bool
	)

	for i := range local {
		o := &local[i]
		if o.ExchangeOrderID == "" {
			continue
		}
		localIDs[o.ExchangeOrderID] = struct{}{}

		if _, ok := remoteIDs[o.ExchangeOrderID]; ok {
			continue
		}

		// The exchange no longer reports the order as open. Fills history
		// decides filled vs cancelled; when it cannot be fetched, resolve
		// filled as the conservative default.
		status := enum.OrderStatusFilled
		if !fillsFetched {
			fillsFetched = true
			fills, fillsErr = e.ex.UserFills(ctx, userID)
			if fillsErr != nil {
				logs.Warnf("fetch fills history for %s, err: %+v", userID, fillsErr)
			}
		}
		if fillsErr == nil && !hasFillFor(fills, o.ExchangeOrderID) {
			status = enum.OrderStatusCancelled
		}

		e.record(ctx, &model.DiscrepancyRecord{
			CheckType:  enum.CheckOrderMissingRemote,
			EntityType: enum.DiscrepancyEntityOrder,
			EntityID:   o.ID,
			DBStatus:   string(o.Status),
			APIStatus:  "absent",
			Details:    fmt.Sprintf("exchange order %s missing from open orders, resolved %s", o.ExchangeOrderID, status),
		})
		report.OrderDiscrepancies++

		if err := e.orders.Resolve(ctx, o.ID, status, "missing from exchange open orders"); err != nil {
			logs.Errorf("resolve order %s, err: %+v", o.ID, err)
		}
	}

	for _, o := range remote {
		if _, ok := localIDs[o.ExchangeOrderID]; ok {
			continue
		}

		// Data-loss risk: the exchange holds an order we never recorded.
		// Logged and recorded, never auto-resolved.
		logs.Errorf("critical: exchange order %s (%s %s) has no local record",
			o.ExchangeOrderID, o.Symbol, o.Side)
		e.record(ctx, &model.DiscrepancyRecord{
			CheckType:  enum.CheckOrderUnknownLocal,
			EntityType: enum.DiscrepancyEntityOrder,
			EntityID:   o.ExchangeOrderID,
			DBStatus:   "absent",
			APIStatus:  "open",
			Details:    fmt.Sprintf("remote open order %s %s size %s unknown locally", o.Symbol, o.Side, o.Size),
		})
		report.OrderDiscrepancies++
		report.Critical++
	}
}

func hasFillFor(fills []exchange.UserFill, exchangeOrderID string) bool {
	for _, f := range fills {
		if f.ExchangeOrderID == exchangeOrderID {
			return true
		}
	}
	return false
}

func (e *Engine) reconcilePositions(ctx context.Context, userID string, remote []exchange.PositionSnapshot, report *Report) {
	local, err := e.positions.ListOpenPositions(ctx, userID)
	if err != nil {
		logs.Errorf("list local open positions for %s, err: %+v", userID, err)
		return
	}

	report.PositionsChecked = len(local)

	remoteBySymbol := make(map[string]exchange.PositionSnapshot, len(remote))
	for _, p := range remote {
		remoteBySymbol[p.Symbol] = p
	}

	localSymbols := make(map[string]struct{}, len(local))
	for i := range local {
		p := &local[i]
		localSymbols[p.Symbol] = struct{}{}

		snap, ok := remoteBySymbol[p.Symbol]
		if !ok {
			e.record(ctx, &model.DiscrepancyRecord{
				CheckType:  enum.CheckPositionMissingRemote,
				EntityType: enum.DiscrepancyEntityPosition,
				EntityID:   p.Symbol,
				DBStatus:   "open",
				APIStatus:  "absent",
				Details:    fmt.Sprintf("user %s position %s size %s absent remotely, auto-closed", userID, p.Symbol, p.Size),
			})
			report.PositionDiscrepancies++

			if err := e.positions.MarkClosed(ctx, userID, p.Symbol); err != nil {
				logs.Errorf("close position %s/%s, err: %+v", userID, p.Symbol, err)
			}
			continue
		}

		if sizeDrift(p.Size, snap.Size).GreaterThan(e.cfg.SizeTolerance) {
			// Logged only; the next sync tick adopts the remote size.
			e.record(ctx, &model.DiscrepancyRecord{
				CheckType:  enum.CheckPositionSizeMismatch,
				EntityType: enum.DiscrepancyEntityPosition,
				EntityID:   p.Symbol,
				DBStatus:   p.Size.String(),
				APIStatus:  snap.Size.String(),
				Details:    fmt.Sprintf("user %s position %s size drift beyond tolerance", userID, p.Symbol),
			})
			report.PositionDiscrepancies++
		}
	}

	for _, snap := range remote {
		if _, ok := localSymbols[snap.Symbol]; ok {
			continue
		}

		logs.Errorf("critical: exchange position %s size %s for user %s has no local record",
			snap.Symbol, snap.Size, userID)
		e.record(ctx, &model.DiscrepancyRecord{
			CheckType:  enum.CheckPositionUnknownLocal,
			EntityType: enum.DiscrepancyEntityPosition,
			EntityID:   snap.Symbol,
			DBStatus:   "absent",
			APIStatus:  "open",
			Details:    fmt.Sprintf("remote position %s %s size %s unknown locally", snap.Symbol, snap.Side, snap.Size),
		})
		report.PositionDiscrepancies++
		report.Critical++
	}
}

// sizeDrift returns |local-remote| / remote; full drift when remote is zero.
func sizeDrift(local, remote decimal.Decimal) decimal.Decimal {
	if remote.IsZero() {
		return decimal.NewFromInt(1)
	}
	return local.Sub(remote).Abs().Div(remote.Abs())
}

// Start launches the per-user reconciliation timer. Idempotent per user.
func (e *Engine) Start(ctx context.Context, userID string) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if _, ok := e.runners[userID]; ok {
		return
	}

	stop := make(chan struct{})
	e.runners[userID] = stop

	go e.run(ctx, userID, stop)
}

// Stop halts the user's timer after any in-flight cycle finishes.
func (e *Engine) Stop(userID string) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if stop, ok := e.runners[userID]; ok {
		close(stop)
		delete(e.runners, userID)
	}
}

// StopAll tears down every timer.
func (e *Engine) StopAll() {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	for userID, stop := range e.runners {
		close(stop)
		delete(e.runners, userID)
	}
}

func (e *Engine) run(ctx context.Context, userID string, stop <-chan struct{}) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if _, err := e.ReconcileUser(ctx, userID); err != nil {
				logs.Warnf("reconcile user %s, err: %+v", userID, err)
			}
		}
	}
}
