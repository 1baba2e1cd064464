package gateway

import (
	"context"
	"sync"
	"time"

	"main/internal/exchange"
	"main/internal/model/enum"
	"main/internal/obs"
)

// CacheConfig holds per-kind TTLs and the ring bound for append-only kinds.
type CacheConfig struct {
	BookTTL    time.Duration
	TradesTTL  time.Duration
	MidsTTL    time.Duration
	CandlesTTL time.Duration

	RingSize      int
	SweepInterval time.Duration
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.BookTTL <= 0 {
		c.BookTTL = 2 * time.Second
	}
	if c.TradesTTL <= 0 {
		c.TradesTTL = 10 * time.Second
	}
	if c.MidsTTL <= 0 {
		c.MidsTTL = 3 * time.Second
	}
	if c.CandlesTTL <= 0 {
		c.CandlesTTL = time.Minute
	}
	if c.RingSize <= 0 {
		c.RingSize = 100
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	return c
}

type bookEntry struct {
	book      exchange.OrderBook
	expiresAt time.Time
}

type midsEntry struct {
	mids      exchange.Mids
	expiresAt time.Time
}

type ringEntry[T any] struct {
	rows      []T
	expiresAt time.Time
}

// Cache is the gateway's TTL store for the latest pushed values. Reads are
// lazy-expiring and never reach the network; a background sweep reclaims
// memory but is not correctness-bearing. Locks are per data kind so one
// kind's churn never blocks another.
type Cache struct {
	cfg   CacheConfig
	stats *obs.Stats

	booksMu sync.RWMutex
	books   map[string]bookEntry

	midsMu sync.RWMutex
	mids   midsEntry

	tradesMu sync.RWMutex
	trades   map[string]*ringEntry[exchange.Trade]

	candlesMu sync.RWMutex
	candles   map[string]*ringEntry[exchange.Candle]
}

func NewCache(cfg CacheConfig, stats *obs.Stats) *Cache {
	return &Cache{
		cfg:     cfg.withDefaults(),
		stats:   stats,
		books:   make(map[string]bookEntry),
		trades:  make(map[string]*ringEntry[exchange.Trade]),
		candles: make(map[string]*ringEntry[exchange.Candle]),
	}
}

// Run sweeps expired entries until the context ends.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(time.Now())
		}
	}
}

func (c *Cache) StoreBook(book exchange.OrderBook) {
	c.booksMu.Lock()
	defer c.booksMu.Unlock()

	c.books[book.Symbol] = bookEntry{book: book, expiresAt: time.Now().Add(c.cfg.BookTTL)}
}

func (c *Cache) Book(symbol string) (exchange.OrderBook, bool) {
	c.booksMu.RLock()
	entry, ok := c.books[symbol]
	c.booksMu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		c.stats.IncCacheMiss()
		return exchange.OrderBook{}, false
	}

	c.stats.IncCacheHit()
	return entry.book, true
}

func (c *Cache) StoreMids(mids exchange.Mids) {
	c.midsMu.Lock()
	defer c.midsMu.Unlock()

	c.mids = midsEntry{mids: mids, expiresAt: time.Now().Add(c.cfg.MidsTTL)}
}

func (c *Cache) Mids() (exchange.Mids, bool) {
	c.midsMu.RLock()
	entry := c.mids
	c.midsMu.RUnlock()

	if entry.mids == nil || time.Now().After(entry.expiresAt) {
		c.stats.IncCacheMiss()
		return nil, false
	}

	c.stats.IncCacheHit()
	return entry.mids, true
}

func (c *Cache) AppendTrades(symbol string, trades []exchange.Trade) {
	if len(trades) == 0 {
		return
	}

	c.tradesMu.Lock()
	defer c.tradesMu.Unlock()

	entry := c.trades[symbol]
	if entry == nil {
		entry = &ringEntry[exchange.Trade]{}
		c.trades[symbol] = entry
	}

	entry.rows = appendBounded(entry.rows, trades, c.cfg.RingSize)
	entry.expiresAt = time.Now().Add(c.cfg.TradesTTL)
}

func (c *Cache) Trades(symbol string) ([]exchange.Trade, bool) {
	c.tradesMu.RLock()
	entry := c.trades[symbol]
	var (
		rows      []exchange.Trade
		expiresAt time.Time
	)
	if entry != nil {
		rows = append(rows, entry.rows...)
		expiresAt = entry.expiresAt
	}
	c.tradesMu.RUnlock()

	if entry == nil || time.Now().After(expiresAt) {
		c.stats.IncCacheMiss()
		return nil, false
	}

	c.stats.IncCacheHit()
	return rows, true
}

func candleKey(symbol, interval string) string {
	return symbol + "|" + interval
}

// SeedCandles replaces the ring wholesale, used for the first-subscriber
// snapshot fetch.
func (c *Cache) SeedCandles(symbol, interval string, candles []exchange.Candle) {
	c.candlesMu.Lock()
	defer c.candlesMu.Unlock()

	rows := appendBounded(nil, candles, c.cfg.RingSize)
	c.candles[candleKey(symbol, interval)] = &ringEntry[exchange.Candle]{
		rows:      rows,
		expiresAt: time.Now().Add(c.cfg.CandlesTTL),
	}
}

func (c *Cache) AppendCandle(symbol, interval string, candle exchange.Candle) {
	c.candlesMu.Lock()
	defer c.candlesMu.Unlock()

	key := candleKey(symbol, interval)
	entry := c.candles[key]
	if entry == nil {
		entry = &ringEntry[exchange.Candle]{}
		c.candles[key] = entry
	}

	// A push for an already-cached open time updates the bar in place.
	replaced := false
	for i := range entry.rows {
		if entry.rows[i].OpenTime.Equal(candle.OpenTime) {
			entry.rows[i] = candle
			replaced = true
			break
		}
	}
	if !replaced {
		entry.rows = appendBounded(entry.rows, []exchange.Candle{candle}, c.cfg.RingSize)
	}
	entry.expiresAt = time.Now().Add(c.cfg.CandlesTTL)
}

func (c *Cache) Candles(symbol, interval string) ([]exchange.Candle, bool) {
	c.candlesMu.RLock()
	entry := c.candles[candleKey(symbol, interval)]
	var (
		rows      []exchange.Candle
		expiresAt time.Time
	)
	if entry != nil {
		rows = append(rows, entry.rows...)
		expiresAt = entry.expiresAt
	}
	c.candlesMu.RUnlock()

	if entry == nil || time.Now().After(expiresAt) {
		c.stats.IncCacheMiss()
		return nil, false
	}

	c.stats.IncCacheHit()
	return rows, true
}

// Evict drops whatever the given feed cached, called on last unsubscribe.
func (c *Cache) Evict(feed exchange.Feed) {
	switch feed.Kind {
	case enum.FeedOrderBook:
		c.booksMu.Lock()
		delete(c.books, feed.Symbol)
		c.booksMu.Unlock()
	case enum.FeedTrades:
		c.tradesMu.Lock()
		delete(c.trades, feed.Symbol)
		c.tradesMu.Unlock()
	case enum.FeedCandles:
		c.candlesMu.Lock()
		delete(c.candles, candleKey(feed.Symbol, feed.Interval))
		c.candlesMu.Unlock()
	case enum.FeedAllMids:
		c.midsMu.Lock()
		c.mids = midsEntry{}
		c.midsMu.Unlock()
	}

	c.stats.IncCacheEviction()
}

// Sweep removes entries already past their TTL.
func (c *Cache) Sweep(now time.Time) {
	c.booksMu.Lock()
	for symbol, entry := range c.books {
		if now.After(entry.expiresAt) {
			delete(c.books, symbol)
			c.stats.IncCacheEviction()
		}
	}
	c.booksMu.Unlock()

	c.tradesMu.Lock()
	for symbol, entry := range c.trades {
		if now.After(entry.expiresAt) {
			delete(c.trades, symbol)
			c.stats.IncCacheEviction()
		}
	}
	c.tradesMu.Unlock()

	c.candlesMu.Lock()
	for key, entry := range c.candles {
		if now.After(entry.expiresAt) {
			delete(c.candles, key)
			c.stats.IncCacheEviction()
		}
	}
	c.candlesMu.Unlock()

	c.midsMu.Lock()
	if c.mids.mids != nil && now.After(c.mids.expiresAt) {
		c.mids = midsEntry{}
		c.stats.IncCacheEviction()
	}
	c.midsMu.Unlock()
}

func appendBounded[T any](rows, add []T, bound int) []T {
	rows = append(rows, add...)
	if len(rows) > bound {
		rows = rows[len(rows)-bound:]
	}
	return rows
}
