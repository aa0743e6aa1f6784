package signal

import (
	"math"

	"polywatch/internal/book"
	"polywatch/pkg/types"
)

// LiquidityImpactConfig tunes the liquidity-impact detector.
type LiquidityImpactConfig struct {
	Weight    float64 `mapstructure:"weight"`
	Threshold float64 `mapstructure:"threshold"`
}

// DefaultLiquidityImpactConfig returns the standard thresholds.
func DefaultLiquidityImpactConfig() LiquidityImpactConfig {
	return LiquidityImpactConfig{Weight: 0.12, Threshold: 0.02}
}

// LiquidityImpact measures how deep into the book a trade would walk and
// flags trades that move price beyond the threshold fraction.
type LiquidityImpact struct {
	cfg LiquidityImpactConfig
}

// NewLiquidityImpact builds the detector.
func NewLiquidityImpact(cfg LiquidityImpactConfig) *LiquidityImpact {
	if cfg.Weight <= 0 {
		cfg = DefaultLiquidityImpactConfig()
	}
	return &LiquidityImpact{cfg: cfg}
}

func (p *LiquidityImpact) Name() string    { return "liquidity-impact" }
func (p *LiquidityImpact) Kind() Kind      { return KindTrade }
func (p *LiquidityImpact) Weight() float64 { return p.cfg.Weight }

func (p *LiquidityImpact) Process(in Input) (Result, error) {
	if in.Trade == nil || in.Book == nil {
		return Result{}, nil
	}

	impact := book.LiquidityImpact(in.Book, in.Trade.Size, in.Trade.Side)
	if impact.ImpactPercent/100 <= p.cfg.Threshold {
		return Result{}, nil
	}

	severity := types.SeverityMedium
	if impact.ImpactPercent > 5+severityEps {
		severity = types.SeverityHigh
	}

	return Result{
		Detected:   true,
		Confidence: math.Min(impact.ImpactPercent/10, 1),
		Direction:  sideDirection(in.Trade.Side),
		Severity:   severity,
		Metadata: map[string]any{
			"impactPercent":  impact.ImpactPercent,
			"slippage":       impact.Slippage,
			"levelsConsumed": impact.LevelsConsumed,
			"avgFillPrice":   impact.AvgFillPrice,
			"tradeSize":      in.Trade.Size,
		},
	}, nil
}
