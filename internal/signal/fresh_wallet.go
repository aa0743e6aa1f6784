package signal

import (
	"time"

	"polywatch/internal/wallet"
	"polywatch/pkg/types"
)

// FreshWalletConfig tunes the fresh-wallet detector.
type FreshWalletConfig struct {
	Weight       float64 `mapstructure:"weight"`
	MaxAgeDays   float64 `mapstructure:"maxAgeDays"`
	MaxTrades    int     `mapstructure:"maxTrades"`
	MinTradeSize float64 `mapstructure:"minTradeSize"`
}

// DefaultFreshWalletConfig returns the standard thresholds.
func DefaultFreshWalletConfig() FreshWalletConfig {
	return FreshWalletConfig{Weight: 0.15, MaxAgeDays: 7, MaxTrades: 10, MinTradeSize: 0.02}
}

// FreshWallet flags large trades from young or barely used wallets. Trade
// size is measured as a fraction of the market's liquidity.
type FreshWallet struct {
	cfg     FreshWalletConfig
	wallets *wallet.Tracker
}

// NewFreshWallet builds the detector on top of the wallet tracker.
func NewFreshWallet(w *wallet.Tracker, cfg FreshWalletConfig) *FreshWallet {
	if cfg.Weight <= 0 {
		cfg = DefaultFreshWalletConfig()
	}
	return &FreshWallet{cfg: cfg, wallets: w}
}

func (p *FreshWallet) Name() string    { return "fresh-wallet" }
func (p *FreshWallet) Kind() Kind      { return KindTrade }
func (p *FreshWallet) Weight() float64 { return p.cfg.Weight }

func (p *FreshWallet) Process(in Input) (Result, error) {
	if in.Trade == nil || in.Market.Liquidity <= 0 {
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
	now := time.Now()
	if !p.wallets.IsFresh(&profile, now) {
		return Result{}, nil
	}

	liquidityPercent := in.Trade.Size / in.Market.Liquidity
	if liquidityPercent < p.cfg.MinTradeSize {
		return Result{}, nil
	}

	ageDays := profile.AgeDays(now)
	ageScore := clamp01(1 - ageDays/p.cfg.MaxAgeDays)
	tradeScore := clamp01(1 - float64(profile.TotalTrades)/float64(p.cfg.MaxTrades))
	freshnessScore := (ageScore + tradeScore) / 2
	sizeScore := clamp01((liquidityPercent - p.cfg.MinTradeSize) / (9 * p.cfg.MinTradeSize))

	severity := types.SeverityMedium
	if (ageDays < 1 || profile.TotalTrades < 3) && liquidityPercent > 5*p.cfg.MinTradeSize {
		severity = types.SeverityHigh
	}

	return Result{
		Detected:   true,
		Confidence: 0.6*freshnessScore + 0.4*sizeScore,
		Direction:  sideDirection(in.Trade.Side),
		Severity:   severity,
		Metadata: map[string]any{
			"address":          address,
			"walletAgeDays":    ageDays,
			"totalTrades":      profile.TotalTrades,
			"tradeSize":        in.Trade.Size,
			"liquidityPercent": liquidityPercent,
		},
	}, nil
}
