package signal

import (
	"math"
	"time"

	"polywatch/internal/store"
	"polywatch/pkg/types"
)

// TimingPatternConfig tunes the timing-concentration detector.
type TimingPatternConfig struct {
	Weight                 float64 `mapstructure:"weight"`
	WindowHours            float64 `mapstructure:"windowHours"`
	ConcentrationThreshold float64 `mapstructure:"concentrationThreshold"`
}

// DefaultTimingPatternConfig returns the standard thresholds.
func DefaultTimingPatternConfig() TimingPatternConfig {
	return TimingPatternConfig{Weight: 0.14, WindowHours: 48, ConcentrationThreshold: 2}
}

// TimingPattern flags markets whose trade rate in the last 6 hours jumps
// relative to the preceding 18 hours, but only close to resolution.
type TimingPattern struct {
	cfg   TimingPatternConfig
	store *store.Store

	now func() time.Time // stubbed in tests
}

// NewTimingPattern builds the detector on top of stored trade history.
func NewTimingPattern(st *store.Store, cfg TimingPatternConfig) *TimingPattern {
	if cfg.Weight <= 0 {
		cfg = DefaultTimingPatternConfig()
	}
	return &TimingPattern{cfg: cfg, store: st, now: time.Now}
}

func (p *TimingPattern) Name() string    { return "timing-pattern" }
func (p *TimingPattern) Kind() Kind      { return KindMarket }
func (p *TimingPattern) Weight() float64 { return p.cfg.Weight }

func (p *TimingPattern) Process(in Input) (Result, error) {
	resolution := in.Market.ResolvesAt()
	if resolution.IsZero() || in.Market.TokenID == "" {
		return Result{}, nil
	}

	now := p.now()
	hoursToResolution := resolution.Sub(now).Hours()
	if hoursToResolution > p.cfg.WindowHours {
		return Result{}, nil
	}

	trades := p.store.TradesByAsset(in.Market.TokenID)
	recentCutoff := now.Add(-6 * time.Hour)
	baselineCutoff := now.Add(-24 * time.Hour)

	var recent, baseline int
	var yesVolume, noVolume float64
	for _, t := range trades {
		switch {
		case t.Timestamp.After(recentCutoff):
			recent++
			if t.Side == types.SELL {
				noVolume += t.Size
			} else {
				yesVolume += t.Size
			}
		case t.Timestamp.After(baselineCutoff):
			baseline++
		}
	}

	var ratio float64
	switch {
	case baseline > 0:
		ratio = (float64(recent) / 6) / (float64(baseline) / 18)
	case recent > 0:
		ratio = math.Inf(1)
	}
	if ratio <= p.cfg.ConcentrationThreshold {
		return Result{}, nil
	}

	dominant := types.DirectionYes
	if noVolume > yesVolume {
		dominant = types.DirectionNo
	}

	severity := types.SeverityMedium
	if ratio > 4 {
		severity = types.SeverityHigh
	}

	return Result{
		Detected:   true,
		Confidence: math.Min(ratio/5, 1),
		Direction:  dominant,
		Severity:   severity,
		Metadata: map[string]any{
			"tradesLast6h":       recent,
			"tradesPrev18h":      baseline,
			"concentrationRatio": jsonFloat(ratio),
			"dominantSide":       dominant,
			"hoursToResolution":  hoursToResolution,
		},
	}, nil
}
