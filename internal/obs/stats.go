package obs

import "sync/atomic"

// Stats collects lightweight process-wide counters backing GetStats().
// Components increment their own counters; Snapshot is the only read path.
type Stats struct {
	retryAttempts  uint64
	retryExhausted uint64
	retryTimeouts  uint64

	breakerOpens     uint64
	breakerFastFails uint64

	cacheHits      uint64
	cacheMisses    uint64
	cacheEvictions uint64

	gatewayEvents     uint64
	gatewayReconnects uint64
	gatewayFeedsDown  uint64

	busPublished uint64
	busDrops     uint64
	busClosed    uint64

	ordersPlaced    uint64
	ordersFailed    uint64
	ordersCancelled uint64
	fillsApplied    uint64
	fillsDuplicate  uint64

	positionsSynced uint64
	positionsClosed uint64

	reconcileRuns  uint64
	reconcileSkips uint64
	discrepancies  uint64
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	RetryAttempts  uint64 `json:"retryAttempts"`
	RetryExhausted uint64 `json:"retryExhausted"`
	RetryTimeouts  uint64 `json:"retryTimeouts"`

	BreakerOpens     uint64 `json:"breakerOpens"`
	BreakerFastFails uint64 `json:"breakerFastFails"`

	CacheHits      uint64 `json:"cacheHits"`
	CacheMisses    uint64 `json:"cacheMisses"`
	CacheEvictions uint64 `json:"cacheEvictions"`

	GatewayEvents     uint64 `json:"gatewayEvents"`
	GatewayReconnects uint64 `json:"gatewayReconnects"`
	GatewayFeedsDown  uint64 `json:"gatewayFeedsDown"`

	BusPublished uint64 `json:"busPublished"`
	BusDrops     uint64 `json:"busDrops"`
	BusClosed    uint64 `json:"busClosed"`

	OrdersPlaced    uint64 `json:"ordersPlaced"`
	OrdersFailed    uint64 `json:"ordersFailed"`
	OrdersCancelled uint64 `json:"ordersCancelled"`
	FillsApplied    uint64 `json:"fillsApplied"`
	FillsDuplicate  uint64 `json:"fillsDuplicate"`

	PositionsSynced uint64 `json:"positionsSynced"`
	PositionsClosed uint64 `json:"positionsClosed"`

	ReconcileRuns  uint64 `json:"reconcileRuns"`
	ReconcileSkips uint64 `json:"reconcileSkips"`
	Discrepancies  uint64 `json:"discrepancies"`
}

// NewStats allocates a stats container.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) inc(p *uint64) {
	if s == nil {
		return
	}
	atomic.AddUint64(p, 1)
}

func (s *Stats) IncRetryAttempt() { s.inc(&s.retryAttempts) }
func (s *Stats) IncRetryExhausted() { s.inc(&s.retryExhausted) }
func (s *Stats) IncRetryTimeout() { s.inc(&s.retryTimeouts) }
func (s *Stats) IncBreakerOpen() { s.inc(&s.breakerOpens) }
func (s *Stats) IncBreakerFastFail() { s.inc(&s.breakerFastFails) }
func (s *Stats) IncCacheHit() { s.inc(&s.cacheHits) }
func (s *Stats) IncCacheMiss() { s.inc(&s.cacheMisses) }
func (s *Stats) IncCacheEviction() { s.inc(&s.cacheEvictions) }
func (s *Stats) IncGatewayEvent() { s.inc(&s.gatewayEvents) }
func (s *Stats) IncGatewayReconnect() { s.inc(&s.gatewayReconnects) }
func (s *Stats) IncGatewayFeedDown() { s.inc(&s.gatewayFeedsDown) }
func (s *Stats) IncBusPublished() { s.inc(&s.busPublished) }
func (s *Stats) IncBusDrop() { s.inc(&s.busDrops) }
func (s *Stats) IncBusClosed() { s.inc(&s.busClosed) }
func (s *Stats) IncOrderPlaced() { s.inc(&s.ordersPlaced) }
func (s *Stats) IncOrderFailed() { s.inc(&s.ordersFailed) }
func (s *Stats) IncOrderCancelled() { s.inc(&s.ordersCancelled) }
func (s *Stats) IncFillApplied() { s.inc(&s.fillsApplied) }
func (s *Stats) IncFillDuplicate() { s.inc(&s.fillsDuplicate) }
func (s *Stats) IncPositionSynced() { s.inc(&s.positionsSynced) }
func (s *Stats) IncPositionClosed() { s.inc(&s.positionsClosed) }
func (s *Stats) IncReconcileRun() { s.inc(&s.reconcileRuns) }
func (s *Stats) IncReconcileSkip() { s.inc(&s.reconcileSkips) }
func (s *Stats) IncDiscrepancy() { s.inc(&s.discrepancies) }

// Snapshot returns a copy of the current counter values.
func (s *Stats) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return Snapshot{
		RetryAttempts:  atomic.LoadUint64(&s.retryAttempts),
		RetryExhausted: atomic.LoadUint64(&s.retryExhausted),
		RetryTimeouts:  atomic.LoadUint64(&s.retryTimeouts),

		BreakerOpens:     atomic.LoadUint64(&s.breakerOpens),
		BreakerFastFails: atomic.LoadUint64(&s.breakerFastFails),

		CacheHits:      atomic.LoadUint64(&s.cacheHits),
		CacheMisses:    atomic.LoadUint64(&s.cacheMisses),
		CacheEvictions: atomic.LoadUint64(&s.cacheEvictions),

		GatewayEvents:     atomic.LoadUint64(&s.gatewayEvents),
		GatewayReconnects: atomic.LoadUint64(&s.gatewayReconnects),
		GatewayFeedsDown:  atomic.LoadUint64(&s.gatewayFeedsDown),

		BusPublished: atomic.LoadUint64(&s.busPublished),
		BusDrops:     atomic.LoadUint64(&s.busDrops),
		BusClosed:    atomic.LoadUint64(&s.busClosed),

		OrdersPlaced:    atomic.LoadUint64(&s.ordersPlaced),
		OrdersFailed:    atomic.LoadUint64(&s.ordersFailed),
		OrdersCancelled: atomic.LoadUint64(&s.ordersCancelled),
		FillsApplied:    atomic.LoadUint64(&s.fillsApplied),
		FillsDuplicate:  atomic.LoadUint64(&s.fillsDuplicate),

		PositionsSynced: atomic.LoadUint64(&s.positionsSynced),
		PositionsClosed: atomic.LoadUint64(&s.positionsClosed),

		ReconcileRuns:  atomic.LoadUint64(&s.reconcileRuns),
		ReconcileSkips: atomic.LoadUint64(&s.reconcileSkips),
		Discrepancies:  atomic.LoadUint64(&s.discrepancies),
	}
}
