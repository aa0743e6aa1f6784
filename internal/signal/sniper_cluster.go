package signal

import (
	"math"
	"sort"
	"strings"
	"time"

	"polywatch/internal/store"
	"polywatch/internal/wallet"
	"polywatch/pkg/types"
)

// SniperClusterConfig tunes the coordinated-entry detector.
type SniperClusterConfig struct {
	Weight        float64 `mapstructure:"weight"`
	WindowMinutes int     `mapstructure:"windowMinutes"`
	MinWallets    int     `mapstructure:"minWallets"`
}

// DefaultSniperClusterConfig returns the standard thresholds.
func DefaultSniperClusterConfig() SniperClusterConfig {
	return SniperClusterConfig{Weight: 0.16, WindowMinutes: 5, MinWallets: 3}
}

// SniperCluster flags bursts of same-direction entries from distinct wallets
// inside a short window, weighted by how connected the wallets look.
type SniperCluster struct {
	cfg     SniperClusterConfig
	store   *store.Store
	funding *wallet.FundingAnalyzer
}

// NewSniperCluster builds the detector on stored history plus funding links.
func NewSniperCluster(st *store.Store, funding *wallet.FundingAnalyzer, cfg SniperClusterConfig) *SniperCluster {
	if cfg.Weight <= 0 {
		cfg = DefaultSniperClusterConfig()
	}
	return &SniperCluster{cfg: cfg, store: st, funding: funding}
}

func (p *SniperCluster) Name() string    { return "sniper-cluster" }
func (p *SniperCluster) Kind() Kind      { return KindMarket }
func (p *SniperCluster) Weight() float64 { return p.cfg.Weight }

type clusterCandidate struct {
	direction types.Direction
	wallets   []string
	volume    float64
	windowMs  int64
}

func (p *SniperCluster) Process(in Input) (Result, error) {
	if in.Market.TokenID == "" {
		return Result{}, nil
	}

	trades := p.store.TradesByAsset(in.Market.TokenID)
	if len(trades) == 0 {
		return Result{}, nil
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].Timestamp.Before(trades[j].Timestamp) })

	window := time.Duration(p.cfg.WindowMinutes) * time.Minute
	var candidates []clusterCandidate

	start := 0
	for i := 1; i <= len(trades); i++ {
		if i < len(trades) && trades[i].Timestamp.Sub(trades[start].Timestamp) <= window {
			continue
		}
		candidates = append(candidates, p.windowClusters(trades[start:i], window)...)
		start = i
	}

	best, confidence, ok := p.pickBest(candidates)
	if !ok {
		return Result{}, nil
	}

	size := len(best.wallets)
	severity := types.SeverityMedium
	if size >= 5 {
		severity = types.SeverityHigh
	}

	return Result{
		Detected:   true,
		Confidence: confidence,
		Direction:  best.direction,
		Severity:   severity,
		Metadata: map[string]any{
			"clusterSize": size,
			"wallets":     best.wallets,
			"totalVolume": best.volume,
			"direction":   best.direction,
			"windowMs":    best.windowMs,
		},
	}, nil
}

// windowClusters groups one time window's trades by direction and keeps the
// directions with enough distinct wallets.
func (p *SniperCluster) windowClusters(trades []types.Trade, window time.Duration) []clusterCandidate {
	type group struct {
		wallets map[string]struct{}
		volume  float64
	}
	groups := map[types.Direction]*group{}

	for _, t := range trades {
		address := strings.ToLower(t.Maker)
		if address == "" {
			address = strings.ToLower(t.Taker)
		}
		if address == "" {
			continue
		}
		dir := sideDirection(t.Side)
		g := groups[dir]
		if g == nil {
			g = &group{wallets: make(map[string]struct{})}
			groups[dir] = g
		}
		g.wallets[address] = struct{}{}
		g.volume += t.Size
	}

	var out []clusterCandidate
	for dir, g := range groups {
		if len(g.wallets) < p.cfg.MinWallets {
			continue
		}
		wallets := make([]string, 0, len(g.wallets))
		for w := range g.wallets {
			wallets = append(wallets, w)
		}
		sort.Strings(wallets)
		out = append(out, clusterCandidate{
			direction: dir,
			wallets:   wallets,
			volume:    g.volume,
			windowMs:  window.Milliseconds(),
		})
	}
	return out
}

// pickBest scores every candidate by wallet count times its confidence and
// returns the winner along with that confidence.
func (p *SniperCluster) pickBest(candidates []clusterCandidate) (clusterCandidate, float64, bool) {
	if len(candidates) == 0 {
		return clusterCandidate{}, 0, false
	}
	var best clusterCandidate
	var bestConf float64
	bestScore := -1.0
	for _, c := range candidates {
		conf := p.clusterConfidence(c.wallets)
		if score := float64(len(c.wallets)) * conf; score > bestScore {
			best, bestConf, bestScore = c, conf, score
		}
	}
	return best, bestConf, true
}

// clusterConfidence blends cluster size with the strongest funding link
// between the seed wallet and the rest.
func (p *SniperCluster) clusterConfidence(wallets []string) float64 {
	var connection float64
	for _, other := range wallets[1:] {
		if c := p.funding.ConnectionConfidence(wallets[0], other); c > connection {
			connection = c
		}
	}
	sizeConfidence := math.Min(float64(len(wallets))/10, 0.7)
	return math.Min(sizeConfidence+0.3*connection, 1)
}
