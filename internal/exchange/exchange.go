package exchange

import "context"

// Unsubscribe tears down one push subscription.
type Unsubscribe func()

// EventSink receives normalized push events for one subscription.
// OnEvent calls for one feed are delivered sequentially, in arrival order.
// OnDown fires once when the upstream connection is lost; the subscription
// is dead afterwards and must be re-established by the owner.
type EventSink interface {
	OnEvent(Event)
	OnDown(err error)
}

// Transport is the raw wire surface a venue implementation provides.
// Calls are single attempts; resilience wrapping happens in Client.
type Transport interface {
	AllMids(ctx context.Context) (Mids, error)
	OrderBook(ctx context.Context, symbol string) (OrderBook, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	Meta(ctx context.Context) ([]AssetMeta, error)

	UserState(ctx context.Context, userID string) (UserState, error)
	OpenOrders(ctx context.Context, userID string) ([]OpenOrder, error)
	UserFills(ctx context.Context, userID string) ([]UserFill, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, userID, symbol, exchangeOrderID string) error

	Subscribe(ctx context.Context, feed Feed, sink EventSink) (Unsubscribe, error)
}

// Exchange is the typed façade consumed by the gateway, order engine,
// position manager and reconciler. Client is the production implementation;
// tests provide fakes.
type Exchange interface {
	Transport
}
