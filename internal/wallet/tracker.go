// Package wallet maintains per-address trading profiles, suspicion flags and
// risk scores, and analyzes funding relationships between wallets.
package wallet

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"polywatch/internal/store"
	"polywatch/pkg/types"
)

// Flag names attached to wallet profiles.
const (
	FlagHighWinRate          = "high_win_rate"
	FlagFreshWalletLarge     = "fresh_wallet_large_trade"
	FlagUnusualTradeSize     = "unusual_trade_size"
	FlagSniperClusterMember  = "sniper_cluster_member"
	FlagUnusualTiming        = "unusual_timing"
	FlagLiquidityImpact      = "liquidity_impact"
	FlagCoordinatedTrading   = "coordinated_trading"
	FlagRapidPositionClose   = "rapid_position_close"
	defaultFlagRiskWeight    = 3.0
)

var flagRiskWeights = map[string]float64{
	FlagHighWinRate:         10,
	FlagFreshWalletLarge:    8,
	FlagSniperClusterMember: 8,
	FlagUnusualTiming:       6,
	FlagLiquidityImpact:     6,
	FlagCoordinatedTrading:  10,
	FlagRapidPositionClose:  5,
}

var ErrNoAddress = errors.New("wallet: trade has no maker or taker address")

// normalizeAddress canonicalizes wallet identifiers. Well-formed hex
// addresses go through common.Address so prefixed, unprefixed and mixed-case
// spellings of one account share a single profile; anything else is keyed
// lowercased as-is.
func normalizeAddress(raw string) string {
	if raw == "" {
		return ""
	}
	if common.IsHexAddress(raw) {
		return strings.ToLower(common.HexToAddress(raw).Hex())
	}
	return strings.ToLower(raw)
}

// Config controls freshness, accuracy and capacity thresholds.
type Config struct {
	MaxAgeDays           float64 `mapstructure:"maxAgeDays"`
	MaxTrades            int     `mapstructure:"maxTrades"`
	MinTradeSize         float64 `mapstructure:"minTradeSize"`
	MinWinRate           float64 `mapstructure:"minWinRate"`
	MinResolvedPositions int     `mapstructure:"minResolvedPositions"`
	MaxTrackedWallets    int     `mapstructure:"maxTrackedWallets"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MaxAgeDays:           7,
		MaxTrades:            10,
		MinTradeSize:         0.02,
		MinWinRate:           0.7,
		MinResolvedPositions: 20,
		MaxTrackedWallets:    10_000,
	}
}

// Tracker accumulates wallet profiles from the trade stream.
type Tracker struct {
	cfg    Config
	store  *store.Store
	logger *slog.Logger
}

// NewTracker wires a tracker to the store.
func NewTracker(st *store.Store, cfg Config, logger *slog.Logger) *Tracker {
	if cfg.MaxAgeDays <= 0 {
		cfg = DefaultConfig()
	}
	return &Tracker{cfg: cfg, store: st, logger: logger.With("component", "wallet")}
}

// TrackTrade folds one trade into the owning wallet's profile, runs the
// per-trade suspicion checks, recomputes the risk score and appends the trade
// to history. The profile owner is the maker, falling back to the taker.
func (t *Tracker) TrackTrade(trade types.Trade) (types.WalletProfile, error) {
	address := normalizeAddress(trade.Maker)
	if address == "" {
		address = normalizeAddress(trade.Taker)
	}
	if address == "" {
		return types.WalletProfile{}, ErrNoAddress
	}

	now := time.Now()
	profile, ok := t.store.WalletProfile(address)
	if !ok {
		if t.cfg.MaxTrackedWallets > 0 && t.store.WalletCount() >= t.cfg.MaxTrackedWallets {
			return types.WalletProfile{}, fmt.Errorf("wallet: tracked-wallet capacity %d reached, dropping %s", t.cfg.MaxTrackedWallets, address)
		}
		profile = types.WalletProfile{
			Address:      address,
			FirstTradeAt: trade.Timestamp,
			CreatedAt:    now,
		}
	}

	size := trade.Size
	profile.TotalTrades++
	profile.TotalVolume += size
	profile.LastTradeAt = trade.Timestamp
	if profile.FirstTradeAt.IsZero() || trade.Timestamp.Before(profile.FirstTradeAt) {
		profile.FirstTradeAt = trade.Timestamp
	}
	profile.AvgTradeSize = profile.TotalVolume / float64(profile.TotalTrades)
	if size > profile.MaxTradeSize {
		profile.MaxTradeSize = size
	}
	profile.UpdatedAt = now

	t.checkSuspicious(&profile, trade, now)
	profile.RiskScore = t.riskScore(&profile, now)

	t.store.SaveWalletProfile(profile)
	t.store.AppendTrade(trade)
	return profile, nil
}

// IsFresh reports whether the profile counts as a fresh wallet: younger than
// MaxAgeDays or with fewer than MaxTrades trades.
func (t *Tracker) IsFresh(p *types.WalletProfile, now time.Time) bool {
	return p.AgeDays(now) < t.cfg.MaxAgeDays || p.TotalTrades < t.cfg.MaxTrades
}

// UpdateWalletOnResolution folds one resolved position into the profile's
// accuracy stats. Flags the wallet once it clears the high-win-rate bar.
func (t *Tracker) UpdateWalletOnResolution(address string, won bool, profit float64) (types.WalletProfile, error) {
	address = normalizeAddress(address)
	if address == "" {
		return types.WalletProfile{}, ErrNoAddress
	}

	now := time.Now()
	profile, ok := t.store.WalletProfile(address)
	if !ok {
		profile = types.WalletProfile{Address: address, CreatedAt: now}
	}

	profile.ResolvedPositions++
	if won {
		profile.Wins++
	} else {
		profile.Losses++
	}
	profile.WinRate = float64(profile.Wins) / float64(profile.ResolvedPositions)
	profile.AvgProfit += (profit - profile.AvgProfit) / float64(profile.ResolvedPositions)
	profile.UpdatedAt = now

	if profile.ResolvedPositions >= t.cfg.MinResolvedPositions &&
		profile.WinRate >= t.cfg.MinWinRate &&
		!profile.HasFlag(FlagHighWinRate) {
		profile.SuspiciousFlags = append(profile.SuspiciousFlags, types.SuspiciousFlag{
			Flag:    FlagHighWinRate,
			AddedAt: now,
			Metadata: map[string]any{
				"winRate":           profile.WinRate,
				"resolvedPositions": profile.ResolvedPositions,
			},
		})
		t.logger.Info("wallet flagged",
			"address", address,
			"flag", FlagHighWinRate,
			"winRate", profile.WinRate,
			"resolved", profile.ResolvedPositions)
	}

	profile.RiskScore = t.riskScore(&profile, now)
	t.store.SaveWalletProfile(profile)
	return profile, nil
}

// AddFlag attaches a named flag to a wallet if not already present and
// refreshes the risk score. Used by signal processors that implicate wallets.
func (t *Tracker) AddFlag(address, flag string, metadata map[string]any) {
	address = normalizeAddress(address)
	profile, ok := t.store.WalletProfile(address)
	if !ok || profile.HasFlag(flag) {
		return
	}
	now := time.Now()
	profile.SuspiciousFlags = append(profile.SuspiciousFlags, types.SuspiciousFlag{
		Flag:     flag,
		AddedAt:  now,
		Metadata: metadata,
	})
	profile.RiskScore = t.riskScore(&profile, now)
	profile.UpdatedAt = now
	t.store.SaveWalletProfile(profile)
}

// Profile returns the stored profile for an address.
func (t *Tracker) Profile(address string) (types.WalletProfile, bool) {
	return t.store.WalletProfile(normalizeAddress(address))
}

// RefreshProfiles recomputes risk scores across all tracked wallets. Meant to
// run periodically so age-dependent components decay as wallets mature.
func (t *Tracker) RefreshProfiles() int {
	now := time.Now()
	profiles := t.store.WalletProfiles()
	for _, p := range profiles {
		score := t.riskScore(&p, now)
		if score != p.RiskScore {
			p.RiskScore = score
			p.UpdatedAt = now
			t.store.SaveWalletProfile(p)
		}
	}
	return len(profiles)
}

func (t *Tracker) checkSuspicious(p *types.WalletProfile, trade types.Trade, now time.Time) {
	if t.IsFresh(p, now) && trade.Size >= t.cfg.MinTradeSize && !p.HasFlag(FlagFreshWalletLarge) {
		p.SuspiciousFlags = append(p.SuspiciousFlags, types.SuspiciousFlag{
			Flag:    FlagFreshWalletLarge,
			AddedAt: now,
			Metadata: map[string]any{
				"tradeSize":   trade.Size,
				"ageDays":     p.AgeDays(now),
				"totalTrades": p.TotalTrades,
			},
		})
	}
	if p.AvgTradeSize > 0 && trade.Size > 5*p.AvgTradeSize && !p.HasFlag(FlagUnusualTradeSize) {
		p.SuspiciousFlags = append(p.SuspiciousFlags, types.SuspiciousFlag{
			Flag:    FlagUnusualTradeSize,
			AddedAt: now,
			Metadata: map[string]any{
				"tradeSize":    trade.Size,
				"avgTradeSize": p.AvgTradeSize,
			},
		})
	}
}

// riskScore is additive over accuracy, freshness-vs-size, trade-size
// dispersion and accumulated flags, capped to [0, 100].
func (t *Tracker) riskScore(p *types.WalletProfile, now time.Time) float64 {
	var score float64

	if p.ResolvedPositions >= t.cfg.MinResolvedPositions {
		switch {
		case p.WinRate >= 0.9:
			score += 30
		case p.WinRate >= t.cfg.MinWinRate:
			span := 0.9 - t.cfg.MinWinRate
			score += 15 + (p.WinRate-t.cfg.MinWinRate)/span*15
		}
	}

	if t.IsFresh(p, now) && p.AvgTradeSize >= t.cfg.MinTradeSize {
		ratio := p.AvgTradeSize / t.cfg.MinTradeSize
		if ratio > 5 {
			ratio = 5
		}
		score += 5 * ratio
	}

	if p.AvgTradeSize > 0 {
		dispersion := p.MaxTradeSize / p.AvgTradeSize
		switch {
		case dispersion > 10:
			score += 20
		case dispersion > 5:
			score += 10
		case dispersion > 3:
			score += 5
		}
	}

	for _, f := range p.SuspiciousFlags {
		if w, ok := flagRiskWeights[f.Flag]; ok {
			score += w
		} else {
			score += defaultFlagRiskWeight
		}
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}
