// Package liquidity tracks order-book depth over time and classifies
// liquidity drops and trends. Snapshots land in the store's bounded
// per-asset ring (capacity 100, oldest evicted).
package liquidity

import (
	"log/slog"
	"time"

	"polywatch/internal/store"
	"polywatch/pkg/types"
)

// DefaultDropThreshold is the percent decrease treated as a liquidity drop.
const DefaultDropThreshold = 20.0

// Trend classifies liquidity movement across recent snapshots.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendStable     Trend = "stable"
	TrendDecreasing Trend = "decreasing"
)

// Change is the depth difference between the two latest snapshots.
type Change struct {
	BidDelta      float64 `json:"bidDelta"`
	AskDelta      float64 `json:"askDelta"`
	TotalDelta    float64 `json:"totalDelta"`
	ChangePercent float64 `json:"changePercent"`
	CurrentTotal  float64 `json:"currentTotal"`
	PreviousTotal float64 `json:"previousTotal"`
}

// Tracker records depth snapshots and answers change/trend queries.
type Tracker struct {
	store  *store.Store
	logger *slog.Logger
}

// NewTracker creates a tracker on top of the store's snapshot rings.
func NewTracker(st *store.Store, logger *slog.Logger) *Tracker {
	return &Tracker{store: st, logger: logger.With("component", "liquidity")}
}

// Record derives a depth snapshot from the given levels and appends it to
// the asset's ring. Non-positive levels are filtered out.
func (t *Tracker) Record(assetID string, bids, asks []types.Level) types.BookSnapshot {
	snap := types.BookSnapshot{
		AssetID:    assetID,
		RecordedAt: time.Now(),
	}

	for _, l := range bids {
		if l.Price <= 0 || l.Size <= 0 {
			continue
		}
		snap.Bids = append(snap.Bids, l)
		snap.BidDepth += l.Size
	}
	for _, l := range asks {
		if l.Price <= 0 || l.Size <= 0 {
			continue
		}
		snap.Asks = append(snap.Asks, l)
		snap.AskDepth += l.Size
	}

	snap.TotalDepth = snap.BidDepth + snap.AskDepth
	snap.BidLevels = len(snap.Bids)
	snap.AskLevels = len(snap.Asks)
	if len(snap.Bids) > 0 {
		snap.BestBid = snap.Bids[0].Price
	}
	if len(snap.Asks) > 0 {
		snap.BestAsk = snap.Asks[0].Price
	}
	switch {
	case snap.BestBid > 0 && snap.BestAsk > 0:
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	case snap.BestBid > 0:
		snap.MidPrice = snap.BestBid
	case snap.BestAsk > 0:
		snap.MidPrice = snap.BestAsk
	}

	t.store.RecordBookSnapshot(snap)
	return snap
}

// Change compares the two most recent snapshots. Requires at least two;
// returns false otherwise.
func (t *Tracker) Change(assetID string) (Change, bool) {
	snaps := t.store.BookSnapshots(assetID)
	if len(snaps) < 2 {
		return Change{}, false
	}

	curr := snaps[len(snaps)-1]
	prev := snaps[len(snaps)-2]

	c := Change{
		BidDelta:      curr.BidDepth - prev.BidDepth,
		AskDelta:      curr.AskDepth - prev.AskDepth,
		TotalDelta:    curr.TotalDepth - prev.TotalDepth,
		CurrentTotal:  curr.TotalDepth,
		PreviousTotal: prev.TotalDepth,
	}
	if prev.TotalDepth > 0 {
		c.ChangePercent = c.TotalDelta / prev.TotalDepth * 100
	}
	return c, true
}

// DetectDrop reports whether total depth fell by more than threshold percent
// between the two latest snapshots. A non-positive threshold uses the default.
func (t *Tracker) DetectDrop(assetID string, threshold float64) (Change, bool) {
	if threshold <= 0 {
		threshold = DefaultDropThreshold
	}
	c, ok := t.Change(assetID)
	if !ok {
		return Change{}, false
	}
	return c, c.ChangePercent < -threshold
}

// TrendOver splits the last count snapshots chronologically in half and
// compares mean depth, with a ±10% stability band.
func (t *Tracker) TrendOver(assetID string, count int) Trend {
	snaps := t.store.BookSnapshots(assetID)
	if count > 0 && len(snaps) > count {
		snaps = snaps[len(snaps)-count:]
	}
	if len(snaps) < 2 {
		return TrendStable
	}

	half := len(snaps) / 2
	older := meanDepth(snaps[:half])
	newer := meanDepth(snaps[half:])
	if older == 0 {
		if newer > 0 {
			return TrendIncreasing
		}
		return TrendStable
	}

	ratio := newer / older
	switch {
	case ratio > 1.10:
		return TrendIncreasing
	case ratio < 0.90:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func meanDepth(snaps []types.BookSnapshot) float64 {
	if len(snaps) == 0 {
		return 0
	}
	var sum float64
	for _, s := range snaps {
		sum += s.TotalDepth
	}
	return sum / float64(len(snaps))
}
