package enum

// FeedKind identifies a gateway subscription / push feed.
type FeedKind string

const (
	FeedOrderBook  FeedKind = "orderbook"
	FeedTrades     FeedKind = "trades"
	FeedCandles    FeedKind = "candles"
	FeedAllMids    FeedKind = "allmids"
	FeedUserEvents FeedKind = "userevents"
)

func (k FeedKind) IsAvailable() bool {
	switch k {
	case FeedOrderBook, FeedTrades, FeedCandles, FeedAllMids, FeedUserEvents:
		return true
	default:
		return false
	}
}

// ConnState is the per-subscription upstream connection state.
type ConnState uint8

const (
	ConnStateConnected ConnState = iota
	ConnStateReconnecting
	ConnStateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case ConnStateConnected:
		return "connected"
	case ConnStateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}
