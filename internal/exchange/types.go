package exchange

import (
	"time"

	"github.com/shopspring/decimal"

	"main/internal/model/enum"
)

// Normalized exchange payloads. Wire shapes are decoded exactly once at the
// transport boundary; nothing above this package branches on raw JSON.

// Mids maps symbol to mid price.
type Mids map[string]decimal.Decimal

// BookLevel is one side-agnostic price level.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook is an L2 snapshot.
type OrderBook struct {
	Symbol string      `json:"symbol"`
	Bids   []BookLevel `json:"bids"`
	Asks   []BookLevel `json:"asks"`
	Time   time.Time   `json:"time"`
}

// Trade is a public trade print.
type Trade struct {
	TradeID string          `json:"tradeId"`
	Symbol  string          `json:"symbol"`
	Side    enum.OrderSide  `json:"side"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	Time    time.Time       `json:"time"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Symbol    string          `json:"symbol"`
	Interval  string          `json:"interval"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	OpenTime  time.Time       `json:"openTime"`
	CloseTime time.Time       `json:"closeTime"`
}

// AssetMeta carries per-asset contract parameters.
type AssetMeta struct {
	Symbol                string          `json:"symbol"`
	MaxLeverage           int             `json:"maxLeverage"`
	MaintenanceMarginRate decimal.Decimal `json:"maintenanceMarginRate"`
	SizeDecimals          int32           `json:"sizeDecimals"`
}

// PositionSnapshot is one open position as the exchange reports it.
type PositionSnapshot struct {
	Symbol        string            `json:"symbol"`
	Side          enum.PositionSide `json:"side"`
	Size          decimal.Decimal   `json:"size"`
	EntryPrice    decimal.Decimal   `json:"entryPrice"`
	MarkPrice     decimal.Decimal   `json:"markPrice"`
	Leverage      decimal.Decimal   `json:"leverage"`
	UnrealizedPnl decimal.Decimal   `json:"unrealizedPnl"`
	MarginUsed    decimal.Decimal   `json:"marginUsed"`
}

// UserState is the authoritative account snapshot.
type UserState struct {
	Positions       []PositionSnapshot `json:"positions"`
	AccountValue    decimal.Decimal    `json:"accountValue"`
	TotalMarginUsed decimal.Decimal    `json:"totalMarginUsed"`
}

// OpenOrder is one resting order as the exchange reports it.
type OpenOrder struct {
	ExchangeOrderID string          `json:"exchangeOrderId"`
	Symbol          string          `json:"symbol"`
	Side            enum.OrderSide  `json:"side"`
	Price           decimal.Decimal `json:"price"`
	Size            decimal.Decimal `json:"size"`
	FilledSize      decimal.Decimal `json:"filledSize"`
	Time            time.Time       `json:"time"`
}

// UserFill is one execution belonging to the user.
type UserFill struct {
	ExchangeOrderID string          `json:"exchangeOrderId"`
	TradeID         string          `json:"tradeId"`
	Symbol          string          `json:"symbol"`
	Side            enum.OrderSide  `json:"side"`
	Price           decimal.Decimal `json:"price"`
	Size            decimal.Decimal `json:"size"`
	Fee             decimal.Decimal `json:"fee"`
	FeeAsset        string          `json:"feeAsset"`
	IsMaker         bool            `json:"isMaker"`
	Time            time.Time       `json:"time"`
}

// OrderStatusUpdate is a push notification about one of the user's orders.
type OrderStatusUpdate struct {
	ExchangeOrderID string          `json:"exchangeOrderId"`
	Symbol          string          `json:"symbol"`
	Status          string          `json:"status"`
	FilledSize      decimal.Decimal `json:"filledSize"`
	Time            time.Time       `json:"time"`
}

// UserEvent bundles fills and order updates from the user push feed.
// Delivery is at-least-once and possibly gappy; consumers dedupe by trade id.
type UserEvent struct {
	UserID       string              `json:"userId"`
	Fills        []UserFill          `json:"fills"`
	OrderUpdates []OrderStatusUpdate `json:"orderUpdates"`
	Time         time.Time           `json:"time"`
}

// OrderRequest is a placement request.
type OrderRequest struct {
	UserID        string           `json:"userId"`
	ClientOrderID string           `json:"clientOrderId"`
	Symbol        string           `json:"symbol"`
	Side          enum.OrderSide   `json:"side"`
	Type          enum.OrderType   `json:"type"`
	Price         decimal.Decimal  `json:"price"`
	Size          decimal.Decimal  `json:"size"`
	TimeInForce   enum.TimeInForce `json:"timeInForce"`
	ReduceOnly    bool             `json:"reduceOnly"`
	PostOnly      bool             `json:"postOnly"`
}

// OrderAck is the exchange's placement response.
type OrderAck struct {
	ExchangeOrderID string          `json:"exchangeOrderId"`
	Resting         bool            `json:"resting"`
	FilledSize      decimal.Decimal `json:"filledSize"`
	AvgPrice        decimal.Decimal `json:"avgPrice"`
}

// Feed identifies a push subscription.
type Feed struct {
	Kind     enum.FeedKind
	Symbol   string
	Interval string
	UserID   string
}

// Key returns a stable map key for the feed identity.
func (f Feed) Key() string {
	return string(f.Kind) + "|" + f.Symbol + "|" + f.Interval + "|" + f.UserID
}

// Event is the normalized push payload, a tagged union keyed by Kind.
// Exactly one of the payload fields is set.
type Event struct {
	Kind     enum.FeedKind `json:"kind"`
	Symbol   string        `json:"symbol,omitempty"`
	Interval string        `json:"interval,omitempty"`
	UserID   string        `json:"userId,omitempty"`
	Seq      uint64        `json:"seq"`
	Time     time.Time     `json:"time"`

	Book   *OrderBook `json:"book,omitempty"`
	Trades []Trade    `json:"trades,omitempty"`
	Candle *Candle    `json:"candle,omitempty"`
	Mids   Mids       `json:"mids,omitempty"`
	User   *UserEvent `json:"user,omitempty"`
}
