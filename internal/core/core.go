/*
Core is the single entry point the application layer talks to.

# Module
  - gateway: multiplexed market & user data subscriptions with TTL cache
  - order engine: order placement, cancellation and fill application
  - position manager: exchange-authoritative position mirror
  - reconciler: periodic ledger-vs-exchange drift repair

# Source
 1. REST snapshots and websocket pushes from the exchange client
 2. ledger rows from the postgres repository

# Produce
  - domain events on the in-memory bus (order.*, position.*, reconcile.*, gateway.*)
*/
package core

import (
	"context"

	"main/internal/exchange"
	"main/internal/gateway"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/order"
	"main/internal/position"
	"main/internal/reconcile"
)

// Core bundles the domain engines behind one façade. All methods are safe for
// concurrent use.
type Core struct {
	client     *exchange.Client
	gateway    *gateway.Gateway
	orders     *order.Engine
	positions  *position.Manager
	reconciler *reconcile.Engine
	stats      *obs.Stats
}

// New wires the pre-built components together.
func New(client *exchange.Client, gw *gateway.Gateway, orders *order.Engine, positions *position.Manager, reconciler *reconcile.Engine, stats *obs.Stats) *Core {
	return &Core{
		client:     client,
		gateway:    gw,
		orders:     orders,
		positions:  positions,
		reconciler: reconciler,
		stats:      stats,
	}
}

// SubscribeOrderbook streams level-2 book updates for the symbol.
func (c *Core) SubscribeOrderbook(ctx context.Context, symbol string, fn gateway.Listener) (exchange.Unsubscribe, error) {
	return c.gateway.Subscribe(ctx, exchange.Feed{Kind: enum.FeedOrderBook, Symbol: symbol}, fn)
}

// SubscribeTrades streams public trades for the symbol.
func (c *Core) SubscribeTrades(ctx context.Context, symbol string, fn gateway.Listener) (exchange.Unsubscribe, error) {
	return c.gateway.Subscribe(ctx, exchange.Feed{Kind: enum.FeedTrades, Symbol: symbol}, fn)
}

// SubscribeCandles streams candle updates for the symbol and interval.
func (c *Core) SubscribeCandles(ctx context.Context, symbol, interval string, fn gateway.Listener) (exchange.Unsubscribe, error) {
	return c.gateway.Subscribe(ctx, exchange.Feed{Kind: enum.FeedCandles, Symbol: symbol, Interval: interval}, fn)
}

// SubscribeAllMids streams the venue-wide mid-price map.
func (c *Core) SubscribeAllMids(ctx context.Context, fn gateway.Listener) (exchange.Unsubscribe, error) {
	return c.gateway.Subscribe(ctx, exchange.Feed{Kind: enum.FeedAllMids}, fn)
}

// SubscribeUserEvents streams the user's fills and order updates. The order
// engine sees every event before the caller so the ledger is never behind
// the notification.
func (c *Core) SubscribeUserEvents(ctx context.Context, userID string, fn gateway.Listener) (exchange.Unsubscribe, error) {
	feed := exchange.Feed{Kind: enum.FeedUserEvents, UserID: userID}
	return c.gateway.Subscribe(ctx, feed, func(ev exchange.Event) {
		c.orders.HandleEvent(ev)
		if fn != nil {
			fn(ev)
		}
	})
}

// Orderbook returns the cached book snapshot for the symbol.
func (c *Core) Orderbook(symbol string) (exchange.OrderBook, bool) { return c.gateway.Orderbook(symbol) }

// Trades returns the cached recent trades for the symbol.
func (c *Core) Trades(symbol string) ([]exchange.Trade, bool) { return c.gateway.Trades(symbol) }

// Candles returns the cached candle ring for the symbol and interval.
func (c *Core) Candles(symbol, interval string) ([]exchange.Candle, bool) {
	return c.gateway.Candles(symbol, interval)
}

// Mids returns the cached mid-price map.
func (c *Core) Mids() (exchange.Mids, bool) { return c.gateway.Mids() }

// FeedState reports the connection state of one feed.
func (c *Core) FeedState(feed exchange.Feed) enum.ConnState { return c.gateway.State(feed) }

// PlaceOrder validates and submits an order, recording it locally first.
func (c *Core) PlaceOrder(ctx context.Context, p order.PlaceParams) order.Result {
	return c.orders.PlaceOrder(ctx, p)
}

// CancelOrder cancels one local order on the exchange.
func (c *Core) CancelOrder(ctx context.Context, orderID string) order.Result {
	return c.orders.CancelOrder(ctx, orderID)
}

// CancelAllOrders cancels every open order for the user.
func (c *Core) CancelAllOrders(ctx context.Context, userID string) ([]order.Result, error) {
	return c.orders.CancelAllOrders(ctx, userID)
}

// GetOrderByID returns one order row.
func (c *Core) GetOrderByID(ctx context.Context, orderID string) (*model.Order, error) {
	return c.orders.GetOrderByID(ctx, orderID)
}

// GetUserOrders returns every order for the user, newest first.
func (c *Core) GetUserOrders(ctx context.Context, userID string) ([]model.Order, error) {
	return c.orders.GetUserOrders(ctx, userID)
}

// GetUserOpenOrders returns the user's non-terminal orders.
func (c *Core) GetUserOpenOrders(ctx context.Context, userID string) ([]model.Order, error) {
	return c.orders.GetOpenOrders(ctx, userID)
}

// GetOrderFills returns the order's execution records.
func (c *Core) GetOrderFills(ctx context.Context, orderID string) ([]model.Fill, error) {
	return c.orders.GetOrderFills(ctx, orderID)
}

// SyncPositions mirrors the exchange position snapshot into the ledger.
func (c *Core) SyncPositions(ctx context.Context, userID string) error {
	return c.positions.SyncPositions(ctx, userID)
}

// ListOpenPositions returns the user's open position rows.
func (c *Core) ListOpenPositions(ctx context.Context, userID string) ([]model.Position, error) {
	return c.positions.ListOpenPositions(ctx, userID)
}

// ClosePosition submits a reduce-only market order closing the full position.
func (c *Core) ClosePosition(ctx context.Context, userID, symbol string) order.Result {
	return c.positions.ClosePosition(ctx, userID, symbol)
}

// StartPositionPolling launches the periodic position sync for the user.
func (c *Core) StartPositionPolling(ctx context.Context, userID string) {
	c.positions.StartPolling(ctx, userID)
}

// StopPositionPolling halts the user's position sync loop.
func (c *Core) StopPositionPolling(userID string) { c.positions.StopPolling(userID) }

// ReconcileUser runs one reconciliation cycle immediately.
func (c *Core) ReconcileUser(ctx context.Context, userID string) (reconcile.Report, error) {
	return c.reconciler.ReconcileUser(ctx, userID)
}

// StartReconciliation launches the periodic reconciliation timer for the user.
func (c *Core) StartReconciliation(ctx context.Context, userID string) {
	c.reconciler.Start(ctx, userID)
}

// StopReconciliation halts the user's reconciliation timer.
func (c *Core) StopReconciliation(userID string) { c.reconciler.Stop(userID) }

// Stats is the point-in-time operational view.
type Stats struct {
	Counters obs.Snapshot         `json:"counters"`
	Client   exchange.ClientStats `json:"client"`
}

// GetStats snapshots every counter plus the resilience layer.
func (c *Core) GetStats() Stats {
	return Stats{
		Counters: c.stats.Snapshot(),
		Client:   c.client.Stats(),
	}
}

// ResetBreakers forces every exchange breaker closed.
func (c *Core) ResetBreakers() { c.client.ResetBreakers() }

// Close stops background loops. Safe to call once during shutdown.
func (c *Core) Close() {
	c.reconciler.StopAll()
	c.positions.StopAll()
	c.gateway.Close()
}
