package whale

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"polywatch/pkg/types"
)

// AdjusterConfig tunes blending weight and decay of whale signals.
type AdjusterConfig struct {
	WhaleWeight   float64       `mapstructure:"whaleWeight"`
	DecayHalfLife time.Duration `mapstructure:"decayHalfLifeMs"`
	MaxSignalAge  time.Duration `mapstructure:"maxSignalAgeMs"`
}

// DefaultAdjusterConfig returns the standard decay parameters.
func DefaultAdjusterConfig() AdjusterConfig {
	return AdjusterConfig{
		WhaleWeight:   0.15,
		DecayHalfLife: 5 * time.Minute,
		MaxSignalAge:  30 * time.Minute,
	}
}

// Activity is a read-model of the current whale signal for an asset.
type Activity struct {
	Direction         float64   `json:"direction"`
	EffectiveStrength float64   `json:"effectiveStrength"`
	Trades            int       `json:"trades"`
	TotalNotional     float64   `json:"totalNotional"`
	NetDirection      float64   `json:"netDirection"`
	AgeMs             int64     `json:"ageMs"`
	LastTrade         time.Time `json:"lastTrade"`
}

type signal struct {
	direction     float64 // [-1, +1]
	strength      float64 // [0, 1]
	timestamp     time.Time
	trades        int
	totalNotional float64
	netDirection  float64
}

// Adjuster maintains one decaying whale signal per asset and shifts
// probability estimates by at most WhaleWeight.
type Adjuster struct {
	mu      sync.Mutex
	cfg     AdjusterConfig
	signals map[string]*signal
	logger  *slog.Logger

	now func() time.Time // stubbed in tests
}

// NewAdjuster creates an adjuster with the given decay parameters.
func NewAdjuster(cfg AdjusterConfig, logger *slog.Logger) *Adjuster {
	if cfg.WhaleWeight <= 0 {
		cfg = DefaultAdjusterConfig()
	}
	return &Adjuster{
		cfg:     cfg,
		signals: make(map[string]*signal),
		logger:  logger.With("component", "adjuster"),
		now:     time.Now,
	}
}

// RecordWhaleTrade folds one whale trade into the asset's signal. An existing
// signal first decays by age, then blends with the new observation; the
// timestamp resets to now.
func (a *Adjuster) RecordWhaleTrade(w types.WhaleTrade) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recordLocked(w, a.now())
}

// recordLocked folds a trade observed at the given instant. Replay passes the
// record's own timestamp so decay and expiry keep measuring from the original
// event, not from process start.
func (a *Adjuster) recordLocked(w types.WhaleTrade, now time.Time) {
	direction := 1.0
	if w.Side == types.SELL {
		direction = -1.0
	}
	strength := math.Min(w.DepthPercent/20, 1)

	existing, ok := a.signals[w.AssetID]
	if !ok {
		a.signals[w.AssetID] = &signal{
			direction:     direction,
			strength:      strength,
			timestamp:     now,
			trades:        1,
			totalNotional: w.Notional,
			netDirection:  direction,
		}
		return
	}

	age := now.Sub(existing.timestamp)
	decayed := existing.strength * decayFactor(age, a.cfg.DecayHalfLife)
	carried := decayed * 0.5

	denom := carried + strength
	if denom > 0 {
		existing.direction = (existing.direction*carried + direction*strength) / denom
	} else {
		existing.direction = direction
	}
	existing.strength = math.Min(carried+strength, 1)
	existing.timestamp = now
	existing.trades++
	existing.totalNotional += w.Notional
	existing.netDirection += direction
}

// AdjustedProbability shifts base by the decayed whale signal, clamped to
// [0.01, 0.99]. Without a live signal the base passes through unchanged;
// expired signals are evicted on access.
func (a *Adjuster) AdjustedProbability(assetID string, base float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	sig, ok := a.signals[assetID]
	if !ok {
		return base
	}

	age := a.now().Sub(sig.timestamp)
	if age > a.cfg.MaxSignalAge {
		delete(a.signals, assetID)
		return base
	}

	adjustment := sig.direction * sig.strength * decayFactor(age, a.cfg.DecayHalfLife) * a.cfg.WhaleWeight
	return clamp(base+adjustment, 0.01, 0.99)
}

// WhaleActivity returns the decayed view of an asset's signal, or false if
// absent or expired.
func (a *Adjuster) WhaleActivity(assetID string) (Activity, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sig, ok := a.signals[assetID]
	if !ok {
		return Activity{}, false
	}
	age := a.now().Sub(sig.timestamp)
	if age > a.cfg.MaxSignalAge {
		delete(a.signals, assetID)
		return Activity{}, false
	}

	return Activity{
		Direction:         sig.direction,
		EffectiveStrength: sig.strength * decayFactor(age, a.cfg.DecayHalfLife),
		Trades:            sig.trades,
		TotalNotional:     sig.totalNotional,
		NetDirection:      sig.netDirection,
		AgeMs:             age.Milliseconds(),
		LastTrade:         sig.timestamp,
	}, true
}

// Cleanup evicts every expired signal and returns how many were dropped.
func (a *Adjuster) Cleanup() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	dropped := 0
	for assetID, sig := range a.signals {
		if now.Sub(sig.timestamp) > a.cfg.MaxSignalAge {
			delete(a.signals, assetID)
			dropped++
		}
	}
	return dropped
}

// LoadFromHistory replays persisted whale trades younger than MaxSignalAge,
// oldest first, to rebuild signals after a restart.
func (a *Adjuster) LoadFromHistory(records []types.WhaleTrade) int {
	now := a.now()
	loaded := 0
	for _, w := range records {
		if now.Sub(w.Timestamp) > a.cfg.MaxSignalAge {
			continue
		}
		a.mu.Lock()
		a.recordLocked(w, w.Timestamp)
		a.mu.Unlock()
		loaded++
	}
	if loaded > 0 {
		a.logger.Info("replayed whale history", "records", loaded)
	}
	return loaded
}

func decayFactor(age, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Seconds()/halfLife.Seconds())
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
