package enum

// OrderSide is the taker direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

func (s OrderSide) IsAvailable() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Opposite returns the other side, used for reduce-only closes.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType distinguishes resting and immediate execution.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

func (t OrderType) IsAvailable() bool {
	return t == OrderTypeLimit || t == OrderTypeMarket
}

// OrderStatus is the lifecycle state of a local order row.
//
// pending -> open -> partially_filled -> filled
// pending/open -> cancelled
// pending -> failed
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusFailed          OrderStatus = "failed"
)

// IsTerminal reports whether the status accepts no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// AcceptsFills reports whether a fill may still be applied in this status.
func (s OrderStatus) AcceptsFills() bool {
	switch s {
	case OrderStatusPending, OrderStatusOpen, OrderStatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// TimeInForce is the order lifetime policy.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceALO TimeInForce = "alo"
)

func (t TimeInForce) IsAvailable() bool {
	switch t {
	case TimeInForceGTC, TimeInForceIOC, TimeInForceALO, "":
		return true
	default:
		return false
	}
}
