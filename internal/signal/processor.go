// Package signal holds the detection processors and the registry that
// dispatches them over trades and market snapshots.
package signal

import (
	"fmt"
	"math"

	"polywatch/internal/book"
	"polywatch/pkg/types"
)

// Kind partitions processors by what input they can run on.
type Kind int

const (
	// KindTrade processors need a live trade and run only in the real-time
	// pipeline.
	KindTrade Kind = iota
	// KindMarket processors need only (event, market) and run in both the
	// real-time and batch pipelines.
	KindMarket
	// KindBatch processors run only during batch market scans.
	KindBatch
)

// Input is the full context handed to a processor. Trade and Book are nil
// for batch invocations.
type Input struct {
	Event  types.Event
	Market types.Market
	Trade  *types.Trade
	Book   *book.OrderBook
}

// Result is a processor's verdict for one input.
type Result struct {
	Detected   bool            `json:"detected"`
	Confidence float64         `json:"confidence"`
	Direction  types.Direction `json:"direction,omitempty"`
	Severity   types.Severity  `json:"severity,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// Processor is one detection strategy. Implementations must be safe for
// concurrent use; the stream processor fans trades out across workers.
type Processor interface {
	Name() string
	Kind() Kind
	Weight() float64
	Process(in Input) (Result, error)
}

// Adjustment converts a detection into a signed probability delta:
// confidence x weight x direction sign (+1 YES, -1 NO, 0 otherwise).
func Adjustment(r Result, weight float64) float64 {
	return r.Confidence * weight * r.Direction.Multiplier()
}

// sideDirection maps an executed trade side onto an outcome direction: buys
// push the YES probability, sells push NO.
// severityEps absorbs float noise at severity boundaries so a mathematically
// exact threshold value stays on its specified side.
const severityEps = 1e-9

func sideDirection(side types.Side) types.Direction {
	switch side {
	case types.BUY:
		return types.DirectionYes
	case types.SELL:
		return types.DirectionNo
	default:
		return ""
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// jsonFloat makes a metadata value safe to persist. encoding/json rejects
// non-finite floats, and one such value would wedge every later write of the
// patterns file.
func jsonFloat(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return fmt.Sprintf("%v", v)
	}
	return v
}
