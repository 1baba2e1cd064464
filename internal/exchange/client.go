package exchange

import (
	"context"

	"main/internal/obs"
	"main/internal/resilience"
)

// Breaker names, one per protected call-site concern.
const (
	BreakerMarket  = "market"
	BreakerAccount = "account"
	BreakerOrder   = "order"
)

// ClientConfig tunes the resilience wrapping around a raw transport.
type ClientConfig struct {
	Retry   resilience.RetryConfig
	Breaker resilience.BreakerConfig
}

// Client wraps a Transport so every outbound call passes through
// retry(breaker(call)). Market data, account snapshots and order mutations
// each get their own breaker so an outage on one concern does not fail fast
// the others.
type Client struct {
	raw   Transport
	retry *resilience.Retry

	market  *resilience.Breaker
	account *resilience.Breaker
	order   *resilience.Breaker
}

var _ Exchange = (*Client)(nil)

// NewClient builds the resilient façade over a raw transport.
func NewClient(raw Transport, cfg ClientConfig, stats *obs.Stats) *Client {
	return &Client{
		raw:     raw,
		retry:   resilience.NewRetry(cfg.Retry, stats),
		market:  resilience.NewBreaker(BreakerMarket, cfg.Breaker, stats),
		account: resilience.NewBreaker(BreakerAccount, cfg.Breaker, stats),
		order:   resilience.NewBreaker(BreakerOrder, cfg.Breaker, stats),
	}
}

func (c *Client) AllMids(ctx context.Context) (Mids, error) {
	return resilience.Call(ctx, c.market, c.retry, "all_mids", c.raw.AllMids)
}

func (c *Client) OrderBook(ctx context.Context, symbol string) (OrderBook, error) {
	return resilience.Call(ctx, c.market, c.retry, "order_book", func(ctx context.Context) (OrderBook, error) {
		return c.raw.OrderBook(ctx, symbol)
	})
}

func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	return resilience.Call(ctx, c.market, c.retry, "candles", func(ctx context.Context) ([]Candle, error) {
		return c.raw.Candles(ctx, symbol, interval, limit)
	})
}

func (c *Client) Meta(ctx context.Context) ([]AssetMeta, error) {
	return resilience.Call(ctx, c.market, c.retry, "meta", c.raw.Meta)
}

func (c *Client) UserState(ctx context.Context, userID string) (UserState, error) {
	return resilience.Call(ctx, c.account, c.retry, "user_state", func(ctx context.Context) (UserState, error) {
		return c.raw.UserState(ctx, userID)
	})
}

func (c *Client) OpenOrders(ctx context.Context, userID string) ([]OpenOrder, error) {
	return resilience.Call(ctx, c.account, c.retry, "open_orders", func(ctx context.Context) ([]OpenOrder, error) {
		return c.raw.OpenOrders(ctx, userID)
	})
}

func (c *Client) UserFills(ctx context.Context, userID string) ([]UserFill, error) {
	return resilience.Call(ctx, c.account, c.retry, "user_fills", func(ctx context.Context) ([]UserFill, error) {
		return c.raw.UserFills(ctx, userID)
	})
}

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	return resilience.Call(ctx, c.order, c.retry, "place_order", func(ctx context.Context) (OrderAck, error) {
		return c.raw.PlaceOrder(ctx, req)
	})
}

func (c *Client) CancelOrder(ctx context.Context, userID, symbol, exchangeOrderID string) error {
	return resilience.CallVoid(ctx, c.order, c.retry, "cancel_order", func(ctx context.Context) error {
		return c.raw.CancelOrder(ctx, userID, symbol, exchangeOrderID)
	})
}

// Subscribe opens the push subscription through the market breaker so a
// flapping upstream fails fast instead of hammering the handshake.
func (c *Client) Subscribe(ctx context.Context, feed Feed, sink EventSink) (Unsubscribe, error) {
	return resilience.Call(ctx, c.market, c.retry, "subscribe", func(ctx context.Context) (Unsubscribe, error) {
		return c.raw.Subscribe(ctx, feed, sink)
	})
}

// ClientStats exposes resilience counters for GetStats.
type ClientStats struct {
	Retry    resilience.RetryStats
	Breakers map[string]resilience.BreakerStats
}

// Stats returns the retry and per-breaker snapshots.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Retry: c.retry.Stats(),
		Breakers: map[string]resilience.BreakerStats{
			BreakerMarket:  c.market.Stats(),
			BreakerAccount: c.account.Stats(),
			BreakerOrder:   c.order.Stats(),
		},
	}
}

// ResetBreakers forces every breaker closed. Operational escape hatch.
func (c *Client) ResetBreakers() {
	c.market.Reset()
	c.account.Reset()
	c.order.Reset()
}
