package signal

import (
	"math"

	"polywatch/pkg/types"
)

// Batch processors run during periodic market scans. They look only at the
// market snapshot, carry no direction, and therefore contribute no
// probability adjustment — their value is the persisted record.

// VolumeSpike flags markets whose 24h volume is large relative to resting
// liquidity.
type VolumeSpike struct {
	weight    float64
	threshold float64
}

// NewVolumeSpike builds the detector; ratio threshold defaults to 3x.
func NewVolumeSpike(weight, threshold float64) *VolumeSpike {
	if weight <= 0 {
		weight = 0.1
	}
	if threshold <= 0 {
		threshold = 3
	}
	return &VolumeSpike{weight: weight, threshold: threshold}
}

func (p *VolumeSpike) Name() string    { return "volume-spike" }
func (p *VolumeSpike) Kind() Kind      { return KindBatch }
func (p *VolumeSpike) Weight() float64 { return p.weight }

func (p *VolumeSpike) Process(in Input) (Result, error) {
	if in.Market.Liquidity <= 0 || in.Market.Volume24h <= 0 {
		return Result{}, nil
	}
	ratio := in.Market.Volume24h / in.Market.Liquidity
	if ratio <= p.threshold {
		return Result{}, nil
	}

	severity := types.SeverityMedium
	if ratio > 2*p.threshold {
		severity = types.SeverityHigh
	}
	return Result{
		Detected:   true,
		Confidence: math.Min(ratio/(5*p.threshold), 1),
		Severity:   severity,
		Metadata: map[string]any{
			"volume24h":   in.Market.Volume24h,
			"liquidity":   in.Market.Liquidity,
			"volumeRatio": ratio,
		},
	}, nil
}

// ProbabilityExtreme flags markets trading very close to 0 or 1, where late
// large flow is most informative.
type ProbabilityExtreme struct {
	weight float64
	band   float64
}

// NewProbabilityExtreme builds the detector; band defaults to 0.05.
func NewProbabilityExtreme(weight, band float64) *ProbabilityExtreme {
	if weight <= 0 {
		weight = 0.1
	}
	if band <= 0 {
		band = 0.05
	}
	return &ProbabilityExtreme{weight: weight, band: band}
}

func (p *ProbabilityExtreme) Name() string    { return "probability-extreme" }
func (p *ProbabilityExtreme) Kind() Kind      { return KindBatch }
func (p *ProbabilityExtreme) Weight() float64 { return p.weight }

func (p *ProbabilityExtreme) Process(in Input) (Result, error) {
	price := in.Market.LastTradePrice
	if price <= 0 && in.Market.BestBid > 0 && in.Market.BestAsk > 0 {
		price = (in.Market.BestBid + in.Market.BestAsk) / 2
	}
	if price <= 0 || price >= 1 {
		return Result{}, nil
	}

	distance := math.Min(price, 1-price)
	if distance >= p.band {
		return Result{}, nil
	}

	return Result{
		Detected:   true,
		Confidence: clamp01(1 - distance/p.band),
		Severity:   types.SeverityLow,
		Metadata: map[string]any{
			"price":    price,
			"distance": distance,
		},
	}, nil
}

// HighLiquidity flags markets deep enough that the realtime detectors are
// worth their cost; the scan uses it to prioritize subscriptions.
type HighLiquidity struct {
	weight    float64
	threshold float64
}

// NewHighLiquidity builds the detector; liquidity threshold defaults to 50k.
func NewHighLiquidity(weight, threshold float64) *HighLiquidity {
	if weight <= 0 {
		weight = 0.05
	}
	if threshold <= 0 {
		threshold = 50_000
	}
	return &HighLiquidity{weight: weight, threshold: threshold}
}

func (p *HighLiquidity) Name() string    { return "high-liquidity" }
func (p *HighLiquidity) Kind() Kind      { return KindBatch }
func (p *HighLiquidity) Weight() float64 { return p.weight }

func (p *HighLiquidity) Process(in Input) (Result, error) {
	if in.Market.Liquidity < p.threshold {
		return Result{}, nil
	}
	return Result{
		Detected:   true,
		Confidence: math.Min(in.Market.Liquidity/(10*p.threshold), 1),
		Severity:   types.SeverityLow,
		Metadata: map[string]any{
			"liquidity": in.Market.Liquidity,
		},
	}, nil
}
