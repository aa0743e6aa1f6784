// Package book maintains authoritative in-memory order books per asset.
//
// Each OrderBook mirrors one asset's CLOB book from two sources: full
// snapshots (which reset state) and incremental price_change deltas (applied
// only after a snapshot has initialized the book). Price levels live in a
// map keyed by price with a parallel sorted price slice per side — bids
// descending, asks ascending — kept in order with binary insertion.
package book

import (
	"math"
	"sort"
	"sync"
	"time"

	"polywatch/pkg/types"
)

// OrderBook is the local mirror of one asset's book. Concurrency-safe; all
// writes arrive through the Manager.
type OrderBook struct {
	mu      sync.RWMutex
	assetID string

	bids map[float64]float64
	asks map[float64]float64

	bidPrices []float64 // strictly descending
	askPrices []float64 // strictly ascending

	lastTimestamp time.Time
	hash          string
	initialized   bool
}

// NewOrderBook creates an empty, uninitialized book.
func NewOrderBook(assetID string) *OrderBook {
	return &OrderBook{
		assetID: assetID,
		bids:    make(map[float64]float64),
		asks:    make(map[float64]float64),
	}
}

// AssetID returns the asset this book mirrors.
func (b *OrderBook) AssetID() string { return b.assetID }

// Initialized reports whether a snapshot has been applied.
func (b *OrderBook) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// InitializeFromSnapshot resets the book to the snapshot's contents. Levels
// with non-positive price or size are dropped.
func (b *OrderBook) InitializeFromSnapshot(bids, asks []types.WireLevel, ts time.Time, hash string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = make(map[float64]float64, len(bids))
	b.asks = make(map[float64]float64, len(asks))

	for _, l := range bids {
		price, size := l.Float()
		if price > 0 && size > 0 {
			b.bids[price] = size
		}
	}
	for _, l := range asks {
		price, size := l.Float()
		if price > 0 && size > 0 {
			b.asks[price] = size
		}
	}

	b.bidPrices = sortedKeys(b.bids, true)
	b.askPrices = sortedKeys(b.asks, false)
	b.lastTimestamp = ts
	b.hash = hash
	b.initialized = true
}

func sortedKeys(m map[float64]float64, descending bool) []float64 {
	keys := make([]float64, 0, len(m))
	for p := range m {
		keys = append(keys, p)
	}
	if descending {
		sort.Sort(sort.Reverse(sort.Float64Slice(keys)))
	} else {
		sort.Float64s(keys)
	}
	return keys
}

// ApplyPriceChange applies one delta. Size zero removes the level; a new
// price is binary-inserted in order; an existing price has its size
// overwritten. Non-finite prices are dropped.
func (b *OrderBook) ApplyPriceChange(price, size float64, side types.Side) {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	levels := b.asks
	descending := false
	if side == types.BUY {
		levels = b.bids
		descending = true
	}

	if size <= 0 {
		if _, ok := levels[price]; ok {
			delete(levels, price)
			if descending {
				b.bidPrices = removePrice(b.bidPrices, price, descending)
			} else {
				b.askPrices = removePrice(b.askPrices, price, descending)
			}
		}
	} else {
		if _, ok := levels[price]; !ok {
			if descending {
				b.bidPrices = insertPrice(b.bidPrices, price, descending)
			} else {
				b.askPrices = insertPrice(b.askPrices, price, descending)
			}
		}
		levels[price] = size
		b.uncrossLocked(price, side)
	}

	b.lastTimestamp = time.Now()
}

// uncrossLocked drops opposing levels a new delta crossed. The feed delivers
// deltas per side with no ordering guarantee between them, so a bid arriving
// at or above a resting ask means that ask is stale; removing it keeps the
// spread non-negative whenever both sides are populated.
func (b *OrderBook) uncrossLocked(price float64, side types.Side) {
	if side == types.BUY {
		for len(b.askPrices) > 0 && b.askPrices[0] <= price {
			delete(b.asks, b.askPrices[0])
			b.askPrices = b.askPrices[1:]
		}
		return
	}
	for len(b.bidPrices) > 0 && b.bidPrices[0] >= price {
		delete(b.bids, b.bidPrices[0])
		b.bidPrices = b.bidPrices[1:]
	}
}

// searchPrice returns the insertion index for price keeping the slice ordered.
func searchPrice(prices []float64, price float64, descending bool) int {
	if descending {
		return sort.Search(len(prices), func(i int) bool { return prices[i] <= price })
	}
	return sort.SearchFloat64s(prices, price)
}

func insertPrice(prices []float64, price float64, descending bool) []float64 {
	i := searchPrice(prices, price, descending)
	prices = append(prices, 0)
	copy(prices[i+1:], prices[i:])
	prices[i] = price
	return prices
}

func removePrice(prices []float64, price float64, descending bool) []float64 {
	i := searchPrice(prices, price, descending)
	if i < len(prices) && prices[i] == price {
		return append(prices[:i], prices[i+1:]...)
	}
	return prices
}

// BestBid returns the highest bid level, or false on an empty side.
func (b *OrderBook) BestBid() (types.Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bidPrices) == 0 {
		return types.Level{}, false
	}
	p := b.bidPrices[0]
	return types.Level{Price: p, Size: b.bids[p]}, true
}

// BestAsk returns the lowest ask level, or false on an empty side.
func (b *OrderBook) BestAsk() (types.Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.askPrices) == 0 {
		return types.Level{}, false
	}
	p := b.askPrices[0]
	return types.Level{Price: p, Size: b.asks[p]}, true
}

// SpreadInfo is the derived top-of-book view.
type SpreadInfo struct {
	Spread        float64 `json:"spread"`
	MidPrice      float64 `json:"midPrice"`
	SpreadPercent float64 `json:"spreadPercent"`
}

// Spread computes spread, mid price, and spread percent. A one-sided book
// reports the present side as the mid; an empty book reports all zeros.
func (b *OrderBook) Spread() SpreadInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.spreadLocked()
}

func (b *OrderBook) spreadLocked() SpreadInfo {
	hasBid := len(b.bidPrices) > 0
	hasAsk := len(b.askPrices) > 0

	var info SpreadInfo
	switch {
	case hasBid && hasAsk:
		bid, ask := b.bidPrices[0], b.askPrices[0]
		info.Spread = ask - bid
		info.MidPrice = (bid + ask) / 2
	case hasBid:
		info.MidPrice = b.bidPrices[0]
	case hasAsk:
		info.MidPrice = b.askPrices[0]
	}
	if info.MidPrice > 0 {
		info.SpreadPercent = info.Spread / info.MidPrice * 100
	}
	return info
}

// Depth returns up to n levels from each side, best first.
func (b *OrderBook) Depth(n int) (bids, asks []types.Level) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.levelsLocked(n)
}

// Snapshot is the full materialized book.
type Snapshot struct {
	AssetID   string        `json:"assetId"`
	Bids      []types.Level `json:"bids"`
	Asks      []types.Level `json:"asks"`
	Timestamp time.Time     `json:"timestamp"`
	Hash      string        `json:"hash"`
}

// FullBook materializes every level plus the last timestamp and hash.
func (b *OrderBook) FullBook() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bids, asks := b.levelsLocked(0)
	return Snapshot{
		AssetID:   b.assetID,
		Bids:      bids,
		Asks:      asks,
		Timestamp: b.lastTimestamp,
		Hash:      b.hash,
	}
}

// levelsLocked returns up to n levels per side (all when n <= 0).
func (b *OrderBook) levelsLocked(n int) (bids, asks []types.Level) {
	nb, na := len(b.bidPrices), len(b.askPrices)
	if n > 0 {
		nb = min(n, nb)
		na = min(n, na)
	}
	bids = make([]types.Level, nb)
	for i := 0; i < nb; i++ {
		p := b.bidPrices[i]
		bids[i] = types.Level{Price: p, Size: b.bids[p]}
	}
	asks = make([]types.Level, na)
	for i := 0; i < na; i++ {
		p := b.askPrices[i]
		asks[i] = types.Level{Price: p, Size: b.asks[p]}
	}
	return bids, asks
}

// DepthTotals sums the sizes on each side.
func (b *OrderBook) DepthTotals() (bidTotal, askTotal float64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.depthTotalsLocked()
}

func (b *OrderBook) depthTotalsLocked() (bidTotal, askTotal float64) {
	for _, s := range b.bids {
		bidTotal += s
	}
	for _, s := range b.asks {
		askTotal += s
	}
	return bidTotal, askTotal
}

// Imbalance returns (bidTotal − askTotal) / (bidTotal + askTotal) in [-1, 1],
// zero on an empty book.
func (b *OrderBook) Imbalance() float64 {
	bid, ask := b.DepthTotals()
	total := bid + ask
	if total == 0 {
		return 0
	}
	return (bid - ask) / total
}

// Stats aggregates counts, totals, and derived values.
type Stats struct {
	AssetID       string     `json:"assetId"`
	BidLevels     int        `json:"bidLevels"`
	AskLevels     int        `json:"askLevels"`
	BidTotal      float64    `json:"bidTotal"`
	AskTotal      float64    `json:"askTotal"`
	Spread        SpreadInfo `json:"spread"`
	Imbalance     float64    `json:"imbalance"`
	LastTimestamp time.Time  `json:"lastTimestamp"`
	Initialized   bool       `json:"initialized"`
}

// Stats computes the aggregate view in one pass.
func (b *OrderBook) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bid, ask := b.depthTotalsLocked()
	var imbalance float64
	if total := bid + ask; total > 0 {
		imbalance = (bid - ask) / total
	}
	return Stats{
		AssetID:       b.assetID,
		BidLevels:     len(b.bidPrices),
		AskLevels:     len(b.askPrices),
		BidTotal:      bid,
		AskTotal:      ask,
		Spread:        b.spreadLocked(),
		Imbalance:     imbalance,
		LastTimestamp: b.lastTimestamp,
		Initialized:   b.initialized,
	}
}
