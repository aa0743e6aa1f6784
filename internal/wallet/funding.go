package wallet

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"polywatch/internal/store"
	"polywatch/pkg/types"
)

// clusterInclusionThreshold is the minimum pairwise confidence for cluster
// membership.
const clusterInclusionThreshold = 0.5

// ClusterMember is one wallet linked to a cluster seed.
type ClusterMember struct {
	Address    string  `json:"address"`
	Confidence float64 `json:"confidence"`
}

// Cluster is a seed wallet plus every wallet connected to it above the
// inclusion threshold.
type Cluster struct {
	Seed    string          `json:"seed"`
	Members []ClusterMember `json:"members"`
}

// FundingAnalyzer indexes externally supplied funding events and estimates
// how strongly pairs of wallets are connected. It never reads the chain
// itself; collaborators push events in via RecordFunding.
type FundingAnalyzer struct {
	mu        sync.RWMutex
	byAddress map[string][]types.FundingEvent
	bySource  map[string]map[string]struct{}

	store  *store.Store
	logger *slog.Logger
}

// NewFundingAnalyzer creates an analyzer backed by the store's trade history
// for market-overlap checks.
func NewFundingAnalyzer(st *store.Store, logger *slog.Logger) *FundingAnalyzer {
	return &FundingAnalyzer{
		byAddress: make(map[string][]types.FundingEvent),
		bySource:  make(map[string]map[string]struct{}),
		store:     st,
		logger:    logger.With("component", "funding"),
	}
}

// RecordFunding indexes one funding event by recipient and by source.
func (a *FundingAnalyzer) RecordFunding(e types.FundingEvent) {
	e.Address = normalizeAddress(e.Address)
	e.Source = normalizeAddress(e.Source)
	if e.Address == "" || e.Source == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.byAddress[e.Address] = append(a.byAddress[e.Address], e)
	if a.bySource[e.Source] == nil {
		a.bySource[e.Source] = make(map[string]struct{})
	}
	a.bySource[e.Source][e.Address] = struct{}{}
}

// Events returns the funding events recorded for an address.
func (a *FundingAnalyzer) Events(address string) []types.FundingEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	evts := a.byAddress[normalizeAddress(address)]
	out := make([]types.FundingEvent, len(evts))
	copy(out, evts)
	return out
}

// PrimarySource returns the source that funded the address with the largest
// summed amount.
func (a *FundingAnalyzer) PrimarySource(address string) (string, float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	totals := make(map[string]float64)
	for _, e := range a.byAddress[normalizeAddress(address)] {
		totals[e.Source] += e.Amount
	}
	var best string
	var bestAmt float64
	for src, amt := range totals {
		if amt > bestAmt || (amt == bestAmt && src < best) {
			best, bestAmt = src, amt
		}
	}
	return best, bestAmt, best != ""
}

// ConnectedWallets returns the union of wallets sharing the primary funding
// source, wallets with overlapping markets and close funding timing, and
// round-trip partners.
func (a *FundingAnalyzer) ConnectedWallets(address string) []string {
	address = normalizeAddress(address)
	connected := make(map[string]struct{})

	if src, _, ok := a.PrimarySource(address); ok {
		a.mu.RLock()
		for recipient := range a.bySource[src] {
			if recipient != address {
				connected[recipient] = struct{}{}
			}
		}
		a.mu.RUnlock()
	}

	seedMarkets := a.marketsOf(address)
	a.mu.RLock()
	candidates := make([]string, 0, len(a.byAddress))
	for other := range a.byAddress {
		if other != address {
			candidates = append(candidates, other)
		}
	}
	a.mu.RUnlock()

	for _, other := range candidates {
		if _, ok := connected[other]; ok {
			continue
		}
		if len(seedMarkets) > 0 && a.commonMarkets(seedMarkets, other) >= 2 && a.fundedWithin(address, other, time.Hour) {
			connected[other] = struct{}{}
			continue
		}
		if a.isRoundTrip(address, other) {
			connected[other] = struct{}{}
		}
	}

	out := make([]string, 0, len(connected))
	for w := range connected {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// ConnectionConfidence scores how strongly two wallets appear related, in
// [0, 1]. Sniper-cluster detection uses this to weight cluster candidates.
func (a *FundingAnalyzer) ConnectionConfidence(seed, other string) float64 {
	seed = normalizeAddress(seed)
	other = normalizeAddress(other)
	if seed == "" || other == "" || seed == other {
		return 0
	}

	var conf float64
	shared := a.sharedSources(seed, other)
	if len(shared) > 0 {
		conf += 0.4
		if a.fundedWithinFrom(seed, other, shared, time.Hour) {
			conf += 0.3
		}
	}

	seedMarkets := a.marketsOf(seed)
	if len(seedMarkets) > 0 {
		if common := a.commonMarkets(seedMarkets, other); common >= 2 {
			conf += 0.2 * float64(common) / float64(len(seedMarkets))
		}
	}

	if a.isRoundTrip(seed, other) {
		conf += 0.1
	}

	return math.Min(conf, 1)
}

// BuildCluster scores every known wallet against the seed and keeps those at
// or above the inclusion threshold, sorted by confidence descending.
func (a *FundingAnalyzer) BuildCluster(seed string) Cluster {
	seed = normalizeAddress(seed)

	a.mu.RLock()
	candidates := make([]string, 0, len(a.byAddress))
	for other := range a.byAddress {
		if other != seed {
			candidates = append(candidates, other)
		}
	}
	a.mu.RUnlock()

	cluster := Cluster{Seed: seed}
	for _, other := range candidates {
		if conf := a.ConnectionConfidence(seed, other); conf >= clusterInclusionThreshold {
			cluster.Members = append(cluster.Members, ClusterMember{Address: other, Confidence: conf})
		}
	}
	sort.Slice(cluster.Members, func(i, j int) bool {
		if cluster.Members[i].Confidence != cluster.Members[j].Confidence {
			return cluster.Members[i].Confidence > cluster.Members[j].Confidence
		}
		return cluster.Members[i].Address < cluster.Members[j].Address
	})
	return cluster
}

func (a *FundingAnalyzer) sharedSources(x, y string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, e := range a.byAddress[x] {
		seen[e.Source] = struct{}{}
	}
	var shared []string
	dup := make(map[string]struct{})
	for _, e := range a.byAddress[y] {
		if _, ok := seen[e.Source]; !ok {
			continue
		}
		if _, ok := dup[e.Source]; ok {
			continue
		}
		dup[e.Source] = struct{}{}
		shared = append(shared, e.Source)
	}
	return shared
}

// fundedWithin reports whether the two addresses received funding from any
// shared source within the given window of each other.
func (a *FundingAnalyzer) fundedWithin(x, y string, window time.Duration) bool {
	return a.fundedWithinFrom(x, y, a.sharedSources(x, y), window)
}

func (a *FundingAnalyzer) fundedWithinFrom(x, y string, sources []string, window time.Duration) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, src := range sources {
		for _, ex := range a.byAddress[x] {
			if ex.Source != src {
				continue
			}
			for _, ey := range a.byAddress[y] {
				if ey.Source != src {
					continue
				}
				delta := ex.Timestamp.Sub(ey.Timestamp)
				if delta < 0 {
					delta = -delta
				}
				if delta <= window {
					return true
				}
			}
		}
	}
	return false
}

// isRoundTrip reports whether each address has been a funding source for the
// other.
func (a *FundingAnalyzer) isRoundTrip(x, y string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	xFundedY := false
	for _, e := range a.byAddress[y] {
		if e.Source == x {
			xFundedY = true
			break
		}
	}
	if !xFundedY {
		return false
	}
	for _, e := range a.byAddress[x] {
		if e.Source == y {
			return true
		}
	}
	return false
}

func (a *FundingAnalyzer) marketsOf(address string) map[string]struct{} {
	markets := make(map[string]struct{})
	for _, t := range a.store.TradesByWallet(address) {
		if t.AssetID != "" {
			markets[t.AssetID] = struct{}{}
		}
	}
	return markets
}

func (a *FundingAnalyzer) commonMarkets(seedMarkets map[string]struct{}, other string) int {
	counted := make(map[string]struct{})
	for _, t := range a.store.TradesByWallet(other) {
		if _, ok := seedMarkets[t.AssetID]; !ok {
			continue
		}
		counted[t.AssetID] = struct{}{}
	}
	return len(counted)
}
