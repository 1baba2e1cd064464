package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/exchange"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/pkg/exception"
)

// fakeExchange records subscribe/unsubscribe traffic and hands the test the
// event sink so pushes can be injected directly.
type fakeExchange struct {
	mu           sync.Mutex
	subscribes   int
	unsubscribes int
	snapshots    int
	failNext     int
	sink         exchange.EventSink

	book exchange.OrderBook
}

func (f *fakeExchange) AllMids(ctx context.Context) (exchange.Mids, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	return exchange.Mids{"BTC": decimal.NewFromInt(64000)}, nil
}

func (f *fakeExchange) OrderBook(ctx context.Context, symbol string) (exchange.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	return f.book, nil
}

func (f *fakeExchange) Candles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	return []exchange.Candle{{Symbol: symbol, Interval: interval}}, nil
}

func (f *fakeExchange) Meta(ctx context.Context) ([]exchange.AssetMeta, error) {
	return nil, nil
}

func (f *fakeExchange) UserState(ctx context.Context, userID string) (exchange.UserState, error) {
	return exchange.UserState{}, nil
}

func (f *fakeExchange) OpenOrders(ctx context.Context, userID string) ([]exchange.OpenOrder, error) {
	return nil, nil
}

func (f *fakeExchange) UserFills(ctx context.Context, userID string) ([]exchange.UserFill, error) {
	return nil, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, userID, symbol, exchangeOrderID string) error {
	return nil
}

func (f *fakeExchange) Subscribe(ctx context.Context, feed exchange.Feed, sink exchange.EventSink) (exchange.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNext > 0 {
		f.failNext--
		return nil, exception.ErrConnectionClose
	}

	f.subscribes++
	f.sink = sink
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribes++
	}, nil
}

func (f *fakeExchange) counts() (subs, unsubs, snaps int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.unsubscribes, f.snapshots
}

func (f *fakeExchange) push(ev exchange.Event) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink.OnEvent(ev)
}

func (f *fakeExchange) down(err error) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink.OnDown(err)
}

func bookFeed(symbol string) exchange.Feed {
	return exchange.Feed{Kind: enum.FeedOrderBook, Symbol: symbol}
}

func newTestGateway(t *testing.T, fake *fakeExchange, cfg Config) *Gateway {
	t.Helper()
	return New(t.Context(), fake, cfg, nil, nil, obs.NewStats())
}

func TestSubscribeRefCounting(t *testing.T) {
	fake := &fakeExchange{}
	g := newTestGateway(t, fake, Config{})

	feed := bookFeed("BTC")
	unsub1, err := g.Subscribe(t.Context(), feed, func(exchange.Event) {})
	require.NoError(t, err)
	unsub2, err := g.Subscribe(t.Context(), feed, func(exchange.Event) {})
	require.NoError(t, err)

	subs, unsubs, _ := fake.counts()
	assert.Equal(t, 1, subs, "one upstream subscription for two listeners")
	assert.Equal(t, 0, unsubs)
	assert.Equal(t, 2, g.Refs(feed))

	unsub1()
	_, unsubs, _ = fake.counts()
	assert.Equal(t, 0, unsubs, "upstream must stay open while referenced")
	assert.Equal(t, 1, g.Refs(feed))

	unsub2()
	_, unsubs, _ = fake.counts()
	assert.Equal(t, 1, unsubs, "last unsubscribe tears upstream down")
	assert.Equal(t, 0, g.Refs(feed))

	// Idempotent.
	unsub2()
	_, unsubs, _ = fake.counts()
	assert.Equal(t, 1, unsubs)
}

func TestSubscribeSeedsBookCache(t *testing.T) {
	fake := &fakeExchange{book: exchange.OrderBook{
		Symbol: "BTC",
		Bids:   []exchange.BookLevel{{Price: decimal.NewFromInt(64000), Size: decimal.NewFromInt(1)}},
	}}
	g := newTestGateway(t, fake, Config{})

	_, err := g.Subscribe(t.Context(), bookFeed("BTC"), func(exchange.Event) {})
	require.NoError(t, err)

	book, ok := g.Orderbook("BTC")
	require.True(t, ok, "first subscriber must see the seeded snapshot")
	assert.Equal(t, "BTC", book.Symbol)
}

func TestCacheTTLExpiryWithoutNetwork(t *testing.T) {
	fake := &fakeExchange{book: exchange.OrderBook{Symbol: "BTC"}}
	g := newTestGateway(t, fake, Config{Cache: CacheConfig{BookTTL: 30 * time.Millisecond}})

	_, err := g.Subscribe(t.Context(), bookFeed("BTC"), func(exchange.Event) {})
	require.NoError(t, err)

	_, _, snapsBefore := fake.counts()

	_, ok := g.Orderbook("BTC")
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)

	_, ok = g.Orderbook("BTC")
	assert.False(t, ok, "entry must expire after TTL")

	_, _, snapsAfter := fake.counts()
	assert.Equal(t, snapsBefore, snapsAfter, "cache reads must never reach the network")
}

func TestDeliverFansOutAndUpdatesCache(t *testing.T) {
	fake := &fakeExchange{book: exchange.OrderBook{Symbol: "BTC"}}
	g := newTestGateway(t, fake, Config{})

	var (
		mu       sync.Mutex
		received []uint64
	)
	listener := func(ev exchange.Event) {
		mu.Lock()
		received = append(received, ev.Seq)
		mu.Unlock()
	}

	_, err := g.Subscribe(t.Context(), bookFeed("BTC"), listener)
	require.NoError(t, err)
	_, err = g.Subscribe(t.Context(), bookFeed("BTC"), listener)
	require.NoError(t, err)

	pushed := exchange.OrderBook{
		Symbol: "BTC",
		Asks:   []exchange.BookLevel{{Price: decimal.NewFromInt(64001), Size: decimal.NewFromInt(2)}},
	}
	fake.push(exchange.Event{Kind: enum.FeedOrderBook, Symbol: "BTC", Seq: 7, Book: &pushed})

	mu.Lock()
	assert.Equal(t, []uint64{7, 7}, received, "both listeners see the event")
	mu.Unlock()

	book, ok := g.Orderbook("BTC")
	require.True(t, ok)
	require.Len(t, book.Asks, 1)
}

func TestReconnectAfterDrop(t *testing.T) {
	fake := &fakeExchange{book: exchange.OrderBook{Symbol: "BTC"}}
	g := newTestGateway(t, fake, Config{
		Backoff:              Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
		MaxReconnectAttempts: 5,
	})

	feed := bookFeed("BTC")
	_, err := g.Subscribe(t.Context(), feed, func(exchange.Event) {})
	require.NoError(t, err)

	fake.mu.Lock()
	fake.failNext = 1 // first redial fails, second succeeds
	fake.mu.Unlock()

	fake.down(exception.ErrConnectionClose)

	require.Eventually(t, func() bool {
		return g.State(feed) == enum.ConnStateConnected
	}, time.Second, 5*time.Millisecond)

	subs, _, _ := fake.counts()
	assert.Equal(t, 2, subs, "initial subscribe plus one successful redial")
}

func TestTerminalCallbackAfterAttemptCap(t *testing.T) {
	fake := &fakeExchange{book: exchange.OrderBook{Symbol: "BTC"}}

	terminal := make(chan exchange.Feed, 1)
	g := New(t.Context(), fake, Config{
		Backoff:              Backoff{Min: time.Millisecond, Max: time.Millisecond, Factor: 2},
		MaxReconnectAttempts: 2,
	}, nil, func(feed exchange.Feed, err error) {
		terminal <- feed
	}, obs.NewStats())

	feed := bookFeed("BTC")
	_, err := g.Subscribe(t.Context(), feed, func(exchange.Event) {})
	require.NoError(t, err)

	fake.mu.Lock()
	fake.failNext = 10 // every redial fails
	fake.mu.Unlock()

	fake.down(exception.ErrConnectionClose)

	select {
	case got := <-terminal:
		assert.Equal(t, feed.Key(), got.Key())
	case <-time.After(time.Second):
		t.Fatal("terminal callback never fired")
	}

	assert.Equal(t, enum.ConnStateDisconnected, g.State(feed))
}

func TestTradesRingBounded(t *testing.T) {
	fake := &fakeExchange{}
	g := newTestGateway(t, fake, Config{Cache: CacheConfig{RingSize: 3}})

	feed := exchange.Feed{Kind: enum.FeedTrades, Symbol: "ETH"}
	_, err := g.Subscribe(t.Context(), feed, func(exchange.Event) {})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		fake.push(exchange.Event{
			Kind:   enum.FeedTrades,
			Symbol: "ETH",
			Trades: []exchange.Trade{{TradeID: string(rune('a' + i)), Symbol: "ETH"}},
		})
	}

	trades, ok := g.Trades("ETH")
	require.True(t, ok)
	require.Len(t, trades, 3, "ring keeps only the newest entries")
	assert.Equal(t, "c", trades[0].TradeID)
	assert.Equal(t, "e", trades[2].TradeID)
}
