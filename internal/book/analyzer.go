// analyzer.go derives trading-pressure metrics from an order book: weighted
// momentum, simulated liquidity impact of a market order, and resting orders
// large relative to total depth.
package book

import (
	"math"
	"sort"

	"polywatch/pkg/types"
)

// Analysis is the summary view of one book.
type Analysis struct {
	BestBid       float64 `json:"bestBid"`
	BestAsk       float64 `json:"bestAsk"`
	MidPrice      float64 `json:"midPrice"`
	Spread        float64 `json:"spread"`
	SpreadPercent float64 `json:"spreadPercent"`
	BidDepth      float64 `json:"bidDepth"`
	AskDepth      float64 `json:"askDepth"`
	TotalDepth    float64 `json:"totalDepth"`
	Imbalance     float64 `json:"imbalance"`
	Momentum      float64 `json:"momentum"`
}

// Analyze computes the full metric set. Momentum weights each level by its
// size discounted by distance from mid — size × 1/(1 + |price−mid|/mid) —
// so near-the-money liquidity dominates. Result in [-1, 1].
func Analyze(b *OrderBook) Analysis {
	bids, asks := b.Depth(0)
	spread := b.Spread()

	a := Analysis{
		MidPrice:      spread.MidPrice,
		Spread:        spread.Spread,
		SpreadPercent: spread.SpreadPercent,
	}
	if len(bids) > 0 {
		a.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		a.BestAsk = asks[0].Price
	}

	var weightedBid, weightedAsk float64
	for _, l := range bids {
		a.BidDepth += l.Size
		weightedBid += levelWeight(l, spread.MidPrice)
	}
	for _, l := range asks {
		a.AskDepth += l.Size
		weightedAsk += levelWeight(l, spread.MidPrice)
	}
	a.TotalDepth = a.BidDepth + a.AskDepth

	if a.TotalDepth > 0 {
		a.Imbalance = (a.BidDepth - a.AskDepth) / a.TotalDepth
	}
	if total := weightedBid + weightedAsk; total > 0 {
		a.Momentum = (weightedBid - weightedAsk) / total
	}
	return a
}

func levelWeight(l types.Level, mid float64) float64 {
	if mid <= 0 {
		return l.Size
	}
	return l.Size / (1 + math.Abs(l.Price-mid)/mid)
}

// Impact is the result of simulating a market order against resting levels.
type Impact struct {
	ImpactPercent  float64 `json:"impactPercent"`
	Slippage       float64 `json:"slippage"`
	LevelsConsumed int     `json:"levelsConsumed"`
	AvgFillPrice   float64 `json:"avgFillPrice"`
}

// LiquidityImpact walks the book the way a market order of tradeSize would:
// asks ascending for a buy, bids descending for a sell. ImpactPercent is the
// move from the first to the last touched price; Slippage is the move from
// the first price to the volume-weighted fill. An empty side reports total
// impact.
func LiquidityImpact(b *OrderBook, tradeSize float64, side types.Side) Impact {
	var levels []types.Level
	if side == types.BUY {
		_, levels = b.Depth(0)
	} else {
		levels, _ = b.Depth(0)
	}

	if len(levels) == 0 || tradeSize <= 0 {
		return Impact{ImpactPercent: 100, Slippage: 100}
	}

	startPrice := levels[0].Price
	remaining := tradeSize
	var filledNotional, filledSize float64
	var lastPrice float64
	consumed := 0

	for _, l := range levels {
		if remaining <= 0 {
			break
		}
		fill := math.Min(remaining, l.Size)
		filledNotional += fill * l.Price
		filledSize += fill
		remaining -= fill
		lastPrice = l.Price
		consumed++
	}

	if filledSize == 0 || startPrice == 0 {
		return Impact{ImpactPercent: 100, Slippage: 100}
	}

	avgFill := filledNotional / filledSize
	return Impact{
		ImpactPercent:  math.Abs(lastPrice-startPrice) / startPrice * 100,
		Slippage:       math.Abs(avgFill-startPrice) / startPrice * 100,
		LevelsConsumed: consumed,
		AvgFillPrice:   avgFill,
	}
}

// LargeOrder is a resting level whose size clears the detection threshold.
type LargeOrder struct {
	Price          float64    `json:"price"`
	Size           float64    `json:"size"`
	Side           types.Side `json:"side"`
	PercentOfDepth float64    `json:"percentOfDepth"`
}

// LargeOrders returns every level with size ≥ threshold, tagged with its side
// and share of total depth, sorted by size descending.
func LargeOrders(b *OrderBook, threshold float64) []LargeOrder {
	bids, asks := b.Depth(0)

	var total float64
	for _, l := range bids {
		total += l.Size
	}
	for _, l := range asks {
		total += l.Size
	}

	var out []LargeOrder
	collect := func(levels []types.Level, side types.Side) {
		for _, l := range levels {
			if l.Size < threshold {
				continue
			}
			o := LargeOrder{Price: l.Price, Size: l.Size, Side: side}
			if total > 0 {
				o.PercentOfDepth = l.Size / total * 100
			}
			out = append(out, o)
		}
	}
	collect(bids, types.BUY)
	collect(asks, types.SELL)

	sort.Slice(out, func(i, j int) bool { return out[i].Size > out[j].Size })
	return out
}
