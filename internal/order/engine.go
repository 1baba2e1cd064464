package order

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/exchange"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/resilience"
	"main/pkg/exception"
)

// fillEpsilon bounds the remaining size below which an order counts as
// completely filled.
var fillEpsilon = decimal.New(1, -9)

// marketSlippage pads the mid price when turning a market order into an
// aggressive IOC limit.
var marketSlippage = decimal.RequireFromString("0.05")

// ErrKind classifies a failed result for callers that branch on failure class.
type ErrKind string

const (
	ErrKindValidation  ErrKind = "validation"
	ErrKindTransport   ErrKind = "transport"
	ErrKindCircuitOpen ErrKind = "circuit_open"
	ErrKindTimeout     ErrKind = "retry_timeout"
	ErrKindInternal    ErrKind = "internal"
)

// Result is the typed outcome of a mutating order operation. Business
// validation failures land here, never in an error return.
type Result struct {
	OK              bool             `json:"ok"`
	OrderID         string           `json:"orderId,omitempty"`
	ExchangeOrderID string           `json:"exchangeOrderId,omitempty"`
	Status          enum.OrderStatus `json:"status,omitempty"`
	ErrKind         ErrKind          `json:"errKind,omitempty"`
	Message         string           `json:"message,omitempty"`
}

// PlaceParams is the placement input surface.
type PlaceParams struct {
	UserID      string
	Symbol      string
	Side        enum.OrderSide
	Type        enum.OrderType
	Price       decimal.Decimal
	Size        decimal.Decimal
	TimeInForce enum.TimeInForce
	ReduceOnly  bool
	PostOnly    bool
}

// Publisher relays order lifecycle events to the external sink.
type Publisher interface {
	Publish(topic string, payload any)
}

// Engine owns every write to the order and fill ledger. Fills for one order
// are applied under that order's mutex so filled size can only move forward.
type Engine struct {
	ex    exchange.Exchange
	store Store
	sink  Publisher
	stats *obs.Stats

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine builds an order engine. sink may be nil.
func NewEngine(ex exchange.Exchange, store Store, sink Publisher, stats *obs.Stats) *Engine {
	return &Engine{
		ex:    ex,
		store: store,
		sink:  sink,
		stats: stats,
		locks: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) orderLock(orderID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[orderID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[orderID] = l
	}
	return l
}

func (e *Engine) publish(topic string, payload any) {
	if e.sink != nil {
		e.sink.Publish(topic, payload)
	}
}

func failValidation(message string) Result {
	return Result{ErrKind: ErrKindValidation, Message: message}
}

func failFrom(err error) Result {
	return Result{ErrKind: classify(err), Message: err.Error()}
}

func classify(err error) ErrKind {
	switch {
	case exception.IsValidation(err):
		return ErrKindValidation
	case errors.Is(err, resilience.ErrCircuitOpen):
		return ErrKindCircuitOpen
	case errors.Is(err, resilience.ErrRetryTimeout):
		return ErrKindTimeout
	default:
		return ErrKindTransport
	}
}

func validatePlace(p PlaceParams) string {
	switch {
	case p.UserID == "":
		return "userId is required"
	case p.Symbol == "":
		return "symbol is required"
	case !p.Side.IsAvailable():
		return "unknown side " + string(p.Side)
	case !p.Type.IsAvailable():
		return "unknown type " + string(p.Type)
	case !p.TimeInForce.IsAvailable():
		return "unknown time in force " + string(p.TimeInForce)
	case !p.Size.IsPositive():
		return "size must be positive"
	case p.Type == enum.OrderTypeLimit && !p.Price.IsPositive():
		return "price is required for limit orders"
	default:
		return ""
	}
}

// PlaceOrder validates, persists the local row, submits to the exchange, and
// stamps the exchange id on acknowledgment. The row is written before the
// exchange call so a crash between submit and ack cannot lose the order.
func (e *Engine) PlaceOrder(ctx context.Context, p PlaceParams) Result {
	if msg := validatePlace(p); msg != "" {
		e.stats.IncOrderFailed()
		return failValidation(msg)
	}

	price := p.Price
	if p.Type == enum.OrderTypeMarket && !price.IsPositive() {
		mid, err := e.marketPrice(ctx, p.Symbol, p.Side)
		if err != nil {
			e.stats.IncOrderFailed()
			return failFrom(err)
		}
		price = mid
	}

	o := &model.Order{
		ID:          uuid.NewString(),
		UserID:      p.UserID,
		Symbol:      p.Symbol,
		Side:        p.Side,
		Type:        p.Type,
		Price:       price,
		Size:        p.Size,
		Status:      enum.OrderStatusPending,
		TimeInForce: p.TimeInForce,
		ReduceOnly:  p.ReduceOnly,
		PostOnly:    p.PostOnly,
	}

	if err := e.store.CreateOrder(ctx, o); err != nil {
		e.stats.IncOrderFailed()
		return Result{ErrKind: ErrKindInternal, Message: err.Error()}
	}

	ack, err := e.ex.PlaceOrder(ctx, exchange.OrderRequest{
		UserID:        p.UserID,
		ClientOrderID: o.ID,
		Symbol:        p.Symbol,
		Side:          p.Side,
		Type:          p.Type,
		Price:         price,
		Size:          p.Size,
		TimeInForce:   p.TimeInForce,
		ReduceOnly:    p.ReduceOnly,
		PostOnly:      p.PostOnly,
	})
	if err != nil {
		o.Status = enum.OrderStatusFailed
		if uerr := e.store.UpdateOrder(ctx, o); uerr != nil {
			logs.Errorf("mark order %s failed, err: %+v", o.ID, uerr)
		}

		e.stats.IncOrderFailed()
		res := failFrom(err)
		res.OrderID = o.ID
		res.Status = enum.OrderStatusFailed
		return res
	}

	o.ExchangeOrderID = ack.ExchangeOrderID
	o.Status = enum.OrderStatusOpen
	if err := e.store.UpdateOrder(ctx, o); err != nil {
		// The order is live on the exchange; losing the ack update is
		// recoverable by reconciliation, losing the order is not.
		logs.Errorf("stamp exchange id on order %s, err: %+v", o.ID, err)
	}

	e.stats.IncOrderPlaced()
	e.publish("order.placed", o)

	return Result{
		OK:              true,
		OrderID:         o.ID,
		ExchangeOrderID: o.ExchangeOrderID,
		Status:          o.Status,
	}
}

// marketPrice derives an aggressive limit price from the current mid so a
// market order crosses the book immediately.
func (e *Engine) marketPrice(ctx context.Context, symbol string, side enum.OrderSide) (decimal.Decimal, error) {
	mids, err := e.ex.AllMids(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "fetch mids for market order")
	}

	mid, ok := mids[symbol]
	if !ok || !mid.IsPositive() {
		return decimal.Zero, exception.Validationf("symbol", "no mid price for %q", symbol)
	}

	pad := mid.Mul(marketSlippage)
	if side == enum.OrderSideBuy {
		return mid.Add(pad), nil
	}
	return mid.Sub(pad), nil
}

// CancelOrder cancels by internal id. An order whose exchange id is still
// unknown is refused rather than queued.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) Result {
	l := e.orderLock(orderID)
	l.Lock()
	defer l.Unlock()

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, exception.ErrOrderNotFound) {
			return failValidation("unknown order " + orderID)
		}
		return Result{ErrKind: ErrKindInternal, Message: err.Error()}
	}

	if o.Status.IsTerminal() {
		res := failValidation(exception.ErrOrderTerminal.Error())
		res.OrderID = o.ID
		res.Status = o.Status
		return res
	}

	if o.ExchangeOrderID == "" {
		res := failValidation(exception.ErrOrderNotAcknowledged.Error())
		res.OrderID = o.ID
		res.Status = o.Status
		return res
	}

	if err := e.ex.CancelOrder(ctx, o.UserID, o.Symbol, o.ExchangeOrderID); err != nil {
		res := failFrom(err)
		res.OrderID = o.ID
		res.Status = o.Status
		return res
	}

	now := time.Now()
	o.Status = enum.OrderStatusCancelled
	o.CancelledAt = &now
	if err := e.store.UpdateOrder(ctx, o); err != nil {
		return Result{OrderID: o.ID, ErrKind: ErrKindInternal, Message: err.Error()}
	}

	e.stats.IncOrderCancelled()
	e.publish("order.cancelled", o)

	return Result{
		OK:              true,
		OrderID:         o.ID,
		ExchangeOrderID: o.ExchangeOrderID,
		Status:          o.Status,
	}
}

// CancelAllOrders cancels every open order of the user, one result each.
func (e *Engine) CancelAllOrders(ctx context.Context, userID string) ([]Result, error) {
	open, err := e.store.ListOpenOrders(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list open orders")
	}

	results := make([]Result, 0, len(open))
	for i := range open {
		results = append(results, e.CancelOrder(ctx, open[i].ID))
	}
	return results, nil
}

// ApplyFill applies one user fill to the ledger. Idempotent on trade id;
// filled size only moves forward and the average fill price is a running
// weighted mean over all fills.
func (e *Engine) ApplyFill(ctx context.Context, f exchange.UserFill) error {
	o, err := e.store.GetOrderByExchangeID(ctx, f.ExchangeOrderID)
	if err != nil {
		if errors.Is(err, exception.ErrOrderNotFound) {
			return errors.Wrap(exception.ErrFillUnknownOrder, f.ExchangeOrderID)
		}
		return errors.Wrap(err, "resolve fill order")
	}

	l := e.orderLock(o.ID)
	l.Lock()
	defer l.Unlock()

	// Re-read under the order lock; another fill may have advanced it.
	o, err = e.store.GetOrder(ctx, o.ID)
	if err != nil {
		return errors.Wrap(err, "reload order")
	}

	if !o.Status.AcceptsFills() {
		return errors.Wrap(exception.ErrOrderTerminal, o.ID).With("status", o.Status)
	}

	fill := &model.Fill{
		OrderID:   o.ID,
		TradeID:   f.TradeID,
		Side:      f.Side,
		Price:     f.Price,
		Size:      f.Size,
		Fee:       f.Fee,
		FeeAsset:  f.FeeAsset,
		IsMaker:   f.IsMaker,
		Timestamp: f.Time,
	}

	if err := e.store.CreateFill(ctx, fill); err != nil {
		if errors.Is(err, exception.ErrFillDuplicate) {
			e.stats.IncFillDuplicate()
			return nil
		}
		// A fill that cannot be persisted must surface; dropping it would
		// understate filled size forever.
		return errors.Wrap(err, "persist fill").With("tradeId", f.TradeID)
	}

	// The order row never overshoots: filledSize + remainingSize == size
	// must hold even when the venue reports a larger execution than the
	// ledger still expects. The raw fill stays on record above.
	applied := f.Size
	if remaining := o.RemainingSize(); applied.GreaterThan(remaining) {
		logs.Warnf("fill %s size %s exceeds remaining %s on order %s, clamping",
			f.TradeID, f.Size, remaining, o.ID)
		applied = remaining
	}

	prevFilled := o.FilledSize
	o.FilledSize = prevFilled.Add(applied)
	if o.FilledSize.IsPositive() {
		notional := o.AvgFillPrice.Mul(prevFilled).Add(f.Price.Mul(applied))
		o.AvgFillPrice = notional.Div(o.FilledSize)
	}

	if o.RemainingSize().LessThanOrEqual(fillEpsilon) {
		now := time.Now()
		o.Status = enum.OrderStatusFilled
		o.FilledAt = &now
	} else {
		o.Status = enum.OrderStatusPartiallyFilled
	}

	if err := e.store.UpdateOrder(ctx, o); err != nil {
		return errors.Wrap(err, "update order after fill")
	}

	e.stats.IncFillApplied()
	e.publish("order.fill", o)
	return nil
}

// HandleEvent consumes gateway user events, feeding fills and venue-side
// cancellations into the ledger. Wired as a gateway listener.
func (e *Engine) HandleEvent(ev exchange.Event) {
	if ev.User == nil {
		return
	}

	ctx := context.Background()
	for _, f := range ev.User.Fills {
		if err := e.ApplyFill(ctx, f); err != nil {
			switch {
			case errors.Is(err, exception.ErrFillUnknownOrder):
				logs.Warnf("fill for unknown order, trade %s exchange order %s", f.TradeID, f.ExchangeOrderID)
			case errors.Is(err, exception.ErrOrderTerminal):
				logs.Warnf("fill for terminal order, trade %s", f.TradeID)
			default:
				logs.Errorf("apply fill %s, err: %+v", f.TradeID, err)
			}
		}
	}

	for _, u := range ev.User.OrderUpdates {
		if u.Status != "canceled" && u.Status != "cancelled" {
			continue
		}
		if err := e.resolveByExchangeID(ctx, u.ExchangeOrderID, enum.OrderStatusCancelled); err != nil {
			logs.Warnf("apply cancel update for exchange order %s, err: %+v", u.ExchangeOrderID, err)
		}
	}
}

func (e *Engine) resolveByExchangeID(ctx context.Context, exchangeOrderID string, status enum.OrderStatus) error {
	o, err := e.store.GetOrderByExchangeID(ctx, exchangeOrderID)
	if err != nil {
		return err
	}
	return e.Resolve(ctx, o.ID, status, "exchange status update")
}

// Resolve force-stamps a terminal status, used by the reconciler and by
// venue-side status updates. A no-op when the order is already terminal.
func (e *Engine) Resolve(ctx context.Context, orderID string, status enum.OrderStatus, reason string) error {
	if !status.IsTerminal() {
		return errors.Wrap(exception.ErrInvalidArgument, "resolve requires a terminal status").With("status", status)
	}

	l := e.orderLock(orderID)
	l.Lock()
	defer l.Unlock()

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if o.Status.IsTerminal() {
		return nil
	}

	now := time.Now()
	o.Status = status
	switch status {
	case enum.OrderStatusFilled:
		// Conservative resolution: account the whole size as filled so the
		// status/remaining-size invariant holds.
		o.FilledSize = o.Size
		if o.AvgFillPrice.IsZero() {
			o.AvgFillPrice = o.Price
		}
		o.FilledAt = &now
	case enum.OrderStatusCancelled:
		o.CancelledAt = &now
	}

	if err := e.store.UpdateOrder(ctx, o); err != nil {
		return errors.Wrap(err, "resolve order").With("reason", reason)
	}

	logs.Infof("resolved order %s to %s, reason: %s", o.ID, status, reason)
	e.publish("order.resolved", o)
	return nil
}

// Queries are pure ledger reads.

func (e *Engine) GetOrderByID(ctx context.Context, orderID string) (*model.Order, error) {
	return e.store.GetOrder(ctx, orderID)
}

func (e *Engine) GetUserOrders(ctx context.Context, userID string) ([]model.Order, error) {
	return e.store.ListUserOrders(ctx, userID)
}

func (e *Engine) GetOpenOrders(ctx context.Context, userID string) ([]model.Order, error) {
	return e.store.ListOpenOrders(ctx, userID)
}

func (e *Engine) GetOrderFills(ctx context.Context, orderID string) ([]model.Fill, error) {
	return e.store.ListOrderFills(ctx, orderID)
}
