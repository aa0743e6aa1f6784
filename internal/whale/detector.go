// Package whale detects trades that are large both in absolute notional and
// relative to resting book depth, and folds them into a decaying per-asset
// probability adjustment.
package whale

import (
	"log/slog"

	"github.com/google/uuid"

	"polywatch/internal/book"
	"polywatch/internal/store"
	"polywatch/pkg/types"
)

// DetectorConfig sets the absolute and relative size thresholds.
type DetectorConfig struct {
	MinNotionalUSD        float64 `mapstructure:"minNotionalUsd"`
	DepthThresholdPercent float64 `mapstructure:"depthThresholdPercent"`
}

// DefaultDetectorConfig returns the standard whale thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MinNotionalUSD:        1000,
		DepthThresholdPercent: 5,
	}
}

// Detector screens trades against the live order book.
type Detector struct {
	cfg    DetectorConfig
	books  *book.Manager
	store  *store.Store
	logger *slog.Logger
}

// NewDetector wires a detector to the book manager and store.
func NewDetector(books *book.Manager, st *store.Store, cfg DetectorConfig, logger *slog.Logger) *Detector {
	if cfg.MinNotionalUSD <= 0 {
		cfg = DefaultDetectorConfig()
	}
	return &Detector{cfg: cfg, books: books, store: st, logger: logger.With("component", "whale")}
}

// AnalyzeTrade returns a whale record when the trade clears both thresholds:
// notional at least MinNotionalUSD and size at least DepthThresholdPercent of
// the depth on the side it consumes. Requires an initialized book.
func (d *Detector) AnalyzeTrade(trade types.Trade) (types.WhaleTrade, bool) {
	b, ok := d.books.Book(trade.AssetID)
	if !ok || !b.Initialized() {
		return types.WhaleTrade{}, false
	}

	notional := trade.Notional()
	if notional < d.cfg.MinNotionalUSD {
		return types.WhaleTrade{}, false
	}

	bidTotal, askTotal := b.DepthTotals()
	relevantDepth := askTotal
	if trade.Side == types.SELL {
		relevantDepth = bidTotal
	}
	if relevantDepth <= 0 {
		return types.WhaleTrade{}, false
	}

	depthPercent := trade.Size / relevantDepth * 100
	if depthPercent < d.cfg.DepthThresholdPercent {
		return types.WhaleTrade{}, false
	}

	spread := b.Spread()
	w := types.WhaleTrade{
		ID:            uuid.NewString(),
		AssetID:       trade.AssetID,
		Price:         trade.Price,
		Size:          trade.Size,
		Side:          trade.Side,
		Notional:      notional,
		DepthPercent:  depthPercent,
		BookDepth:     relevantDepth,
		Spread:        spread.Spread,
		SpreadPercent: spread.SpreadPercent,
		MidPrice:      spread.MidPrice,
		Imbalance:     b.Imbalance(),
		Timestamp:     trade.Timestamp,
	}

	d.store.AddWhaleTrade(w)
	d.logger.Info("whale trade detected",
		"asset", trade.AssetID,
		"side", trade.Side,
		"notional", notional,
		"depthPercent", depthPercent)
	return w, true
}
