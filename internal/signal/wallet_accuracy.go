package signal

import (
	"math"

	"polywatch/internal/wallet"
	"polywatch/pkg/types"
)

// WalletAccuracyConfig tunes the wallet-accuracy detector.
type WalletAccuracyConfig struct {
	Weight               float64 `mapstructure:"weight"`
	MinWinRate           float64 `mapstructure:"minWinRate"`
	MinResolvedPositions int     `mapstructure:"minResolvedPositions"`
}

// DefaultWalletAccuracyConfig returns the standard thresholds.
func DefaultWalletAccuracyConfig() WalletAccuracyConfig {
	return WalletAccuracyConfig{Weight: 0.18, MinWinRate: 0.7, MinResolvedPositions: 20}
}

// WalletAccuracy flags trades placed by wallets whose resolved-position win
// rate is statistically unlikely to be luck.
type WalletAccuracy struct {
	cfg     WalletAccuracyConfig
	wallets *wallet.Tracker
}

// NewWalletAccuracy builds the detector on top of the wallet tracker.
func NewWalletAccuracy(w *wallet.Tracker, cfg WalletAccuracyConfig) *WalletAccuracy {
	if cfg.Weight <= 0 {
		cfg = DefaultWalletAccuracyConfig()
	}
	return &WalletAccuracy{cfg: cfg, wallets: w}
}

func (p *WalletAccuracy) Name() string    { return "wallet-accuracy" }
func (p *WalletAccuracy) Kind() Kind      { return KindTrade }
func (p *WalletAccuracy) Weight() float64 { return p.cfg.Weight }

func (p *WalletAccuracy) Process(in Input) (Result, error) {
	if in.Trade == nil {
		return Result{}, nil
	}
	address := in.Trade.Maker
	if address == "" {
		address = in.Trade.Taker
	}
	if address == "" {
		return Result{}, nil
	}

	profile, ok := p.wallets.Profile(address)
	if !ok {
		return Result{}, nil
	}
	if profile.WinRate <= p.cfg.MinWinRate || profile.ResolvedPositions < p.cfg.MinResolvedPositions {
		return Result{}, nil
	}

	// z-score of the win rate against a fair coin.
	z := (profile.WinRate - 0.5) / math.Sqrt(0.25/float64(profile.ResolvedPositions))

	severity := types.SeverityMedium
	if profile.WinRate > 0.85 || z > 3+severityEps {
		severity = types.SeverityHigh
	}

	return Result{
		Detected:   true,
		Confidence: math.Min(z/3, 1),
		Direction:  sideDirection(in.Trade.Side),
		Severity:   severity,
		Metadata: map[string]any{
			"address":           address,
			"winRate":           profile.WinRate,
			"resolvedPositions": profile.ResolvedPositions,
			"zScore":            z,
		},
	}, nil
}
