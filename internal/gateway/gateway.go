package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/exchange"
	"main/internal/model/enum"
	"main/internal/obs"
)

// Publisher is the external event sink capability. Topic naming and wire
// framing belong to the collaborator behind it.
type Publisher interface {
	Publish(topic string, payload any)
}

// Listener receives normalized events for one downstream subscriber.
type Listener func(exchange.Event)

// TerminalFunc fires when a feed exhausts its reconnect attempts, so
// dependents can downgrade to polling.
type TerminalFunc func(feed exchange.Feed, err error)

// Config tunes the cache and the reconnect policy.
type Config struct {
	Cache   CacheConfig
	Backoff Backoff

	MaxReconnectAttempts int
}

func (c Config) withDefaults() Config {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff()
	}
	return c
}

// Gateway multiplexes downstream listeners onto exactly one upstream push
// subscription per feed, caches the latest values, and survives upstream
// drops with backoff reconnects.
type Gateway struct {
	ctx   context.Context
	cfg   Config
	ex    exchange.Exchange
	cache *Cache
	sink  Publisher
	stats *obs.Stats

	onTerminal TerminalFunc

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	feed exchange.Feed

	mu             sync.Mutex
	refs           int
	nextID         int
	listeners      map[int]Listener
	cancelUpstream exchange.Unsubscribe
	state          enum.ConnState
	gone           bool
}

// New builds a gateway. sink and onTerminal may be nil.
func New(ctx context.Context, ex exchange.Exchange, cfg Config, sink Publisher, onTerminal TerminalFunc, stats *obs.Stats) *Gateway {
	cfg = cfg.withDefaults()
	return &Gateway{
		ctx:        ctx,
		cfg:        cfg,
		ex:         ex,
		cache:      NewCache(cfg.Cache, stats),
		sink:       sink,
		stats:      stats,
		onTerminal: onTerminal,
		subs:       make(map[string]*subscription),
	}
}

// Run drives the background cache sweep until ctx ends.
func (g *Gateway) Run(ctx context.Context) {
	g.cache.Run(ctx)
}

// Close tears down every upstream subscription. Listeners are dropped.
func (g *Gateway) Close() {
	g.mu.Lock()
	subs := make([]*subscription, 0, len(g.subs))
	for _, s := range g.subs {
		subs = append(subs, s)
	}
	g.subs = make(map[string]*subscription)
	g.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		cancel := s.cancelUpstream
		s.cancelUpstream = nil
		s.gone = true
		s.state = enum.ConnStateDisconnected
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
	}
}

// Subscribe registers a listener for the feed. The first listener opens the
// upstream subscription and seeds snapshot-style caches; later listeners only
// bump the reference count. The returned func detaches this listener and, at
// reference count zero, tears the upstream down and evicts the cache.
func (g *Gateway) Subscribe(ctx context.Context, feed exchange.Feed, fn Listener) (exchange.Unsubscribe, error) {
	key := feed.Key()

	g.mu.Lock()
	s, ok := g.subs[key]
	if !ok {
		s = &subscription{
			feed:      feed,
			listeners: make(map[int]Listener),
			state:     enum.ConnStateDisconnected,
		}
		g.subs[key] = s
	}
	g.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		cancel, err := g.ex.Subscribe(ctx, feed, &feedSink{g: g, s: s})
		if err != nil {
			g.mu.Lock()
			if g.subs[key] == s {
				delete(g.subs, key)
			}
			g.mu.Unlock()
			return nil, err
		}

		s.cancelUpstream = cancel
		s.state = enum.ConnStateConnected
		g.seed(ctx, feed)
	}

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.refs++

	return g.detach(key, s, id), nil
}

func (g *Gateway) detach(key string, s *subscription, id int) exchange.Unsubscribe {
	return func() {
		s.mu.Lock()
		if _, ok := s.listeners[id]; !ok {
			s.mu.Unlock()
			return
		}

		delete(s.listeners, id)
		s.refs--
		last := s.refs == 0
		cancel := s.cancelUpstream
		if last {
			s.gone = true
			s.cancelUpstream = nil
			s.state = enum.ConnStateDisconnected
		}
		s.mu.Unlock()

		if !last {
			return
		}

		g.mu.Lock()
		if g.subs[key] == s {
			delete(g.subs, key)
		}
		g.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		g.cache.Evict(s.feed)
	}
}

// seed warms the cache so late subscribers see data before the first push.
// Failures degrade to an empty cache, never to a failed subscribe.
func (g *Gateway) seed(ctx context.Context, feed exchange.Feed) {
	switch feed.Kind {
	case enum.FeedOrderBook:
		book, err := g.ex.OrderBook(ctx, feed.Symbol)
		if err != nil {
			logs.Warnf("seed orderbook cache %s, err: %+v", feed.Symbol, err)
			return
		}
		g.cache.StoreBook(book)
	case enum.FeedCandles:
		candles, err := g.ex.Candles(ctx, feed.Symbol, feed.Interval, g.cache.cfg.RingSize)
		if err != nil {
			logs.Warnf("seed candle cache %s %s, err: %+v", feed.Symbol, feed.Interval, err)
			return
		}
		g.cache.SeedCandles(feed.Symbol, feed.Interval, candles)
	case enum.FeedAllMids:
		mids, err := g.ex.AllMids(ctx)
		if err != nil {
			logs.Warnf("seed mids cache, err: %+v", err)
			return
		}
		g.cache.StoreMids(mids)
	}
}

type feedSink struct {
	g *Gateway
	s *subscription
}

func (fs *feedSink) OnEvent(ev exchange.Event) {
	fs.g.deliver(fs.s, ev)
}

func (fs *feedSink) OnDown(err error) {
	fs.g.handleDown(fs.s, err)
}

func (g *Gateway) deliver(s *subscription, ev exchange.Event) {
	g.stats.IncGatewayEvent()

	switch ev.Kind {
	case enum.FeedOrderBook:
		if ev.Book != nil {
			g.cache.StoreBook(*ev.Book)
		}
	case enum.FeedTrades:
		g.cache.AppendTrades(ev.Symbol, ev.Trades)
	case enum.FeedCandles:
		if ev.Candle != nil {
			g.cache.AppendCandle(ev.Symbol, ev.Interval, *ev.Candle)
		}
	case enum.FeedAllMids:
		if ev.Mids != nil {
			g.cache.StoreMids(ev.Mids)
		}
	}

	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}

	if g.sink != nil {
		g.sink.Publish(topicFor(s.feed), ev)
	}
}

func topicFor(feed exchange.Feed) string {
	topic := "gateway." + string(feed.Kind)
	if feed.Symbol != "" {
		topic += "." + feed.Symbol
	}
	if feed.Interval != "" {
		topic += "." + feed.Interval
	}
	if feed.UserID != "" {
		topic += "." + feed.UserID
	}
	return topic
}

func (g *Gateway) handleDown(s *subscription, err error) {
	g.stats.IncGatewayFeedDown()

	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		return
	}
	s.state = enum.ConnStateReconnecting
	s.cancelUpstream = nil
	s.mu.Unlock()

	logs.Warnf("feed down %s, err: %+v", s.feed.Key(), err)
	go g.reconnect(s, err)
}

// reconnect redials the feed with exponential backoff up to the attempt cap.
// Success resubscribes and reseeds; exhaustion surfaces the terminal callback.
func (g *Gateway) reconnect(s *subscription, cause error) {
	for attempt := 1; attempt <= g.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-g.ctx.Done():
			return
		case <-time.After(g.cfg.Backoff.Next(attempt)):
		}

		s.mu.Lock()
		if s.gone {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		cancel, err := g.ex.Subscribe(g.ctx, s.feed, &feedSink{g: g, s: s})
		if err != nil {
			cause = err
			logs.Warnf("reconnect %s attempt %d, err: %+v", s.feed.Key(), attempt, err)
			continue
		}

		s.mu.Lock()
		if s.gone {
			s.mu.Unlock()
			cancel()
			return
		}
		s.cancelUpstream = cancel
		s.state = enum.ConnStateConnected
		s.mu.Unlock()

		g.stats.IncGatewayReconnect()
		g.seed(g.ctx, s.feed)
		logs.Infof("reconnected %s after %d attempts", s.feed.Key(), attempt)
		return
	}

	s.mu.Lock()
	s.state = enum.ConnStateDisconnected
	s.mu.Unlock()

	logs.Errorf("feed %s terminally down after %d attempts, err: %+v",
		s.feed.Key(), g.cfg.MaxReconnectAttempts, cause)

	if g.onTerminal != nil {
		g.onTerminal(s.feed, cause)
	}
}

// State reports the feed's connection state; disconnected when unknown.
func (g *Gateway) State(feed exchange.Feed) enum.ConnState {
	g.mu.Lock()
	s := g.subs[feed.Key()]
	g.mu.Unlock()

	if s == nil {
		return enum.ConnStateDisconnected
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Refs reports the feed's downstream listener count.
func (g *Gateway) Refs(feed exchange.Feed) int {
	g.mu.Lock()
	s := g.subs[feed.Key()]
	g.mu.Unlock()

	if s == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Cache reads, never touching the network.

func (g *Gateway) Orderbook(symbol string) (exchange.OrderBook, bool) {
	return g.cache.Book(symbol)
}

func (g *Gateway) Trades(symbol string) ([]exchange.Trade, bool) {
	return g.cache.Trades(symbol)
}

func (g *Gateway) Candles(symbol, interval string) ([]exchange.Candle, bool) {
	return g.cache.Candles(symbol, interval)
}

func (g *Gateway) Mids() (exchange.Mids, bool) {
	return g.cache.Mids()
}
