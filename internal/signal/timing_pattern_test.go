package signal

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"polywatch/internal/store"
	"polywatch/pkg/types"
)

func newTimingPattern(t *testing.T, st *store.Store, now time.Time) *TimingPattern {
	t.Helper()
	p := NewTimingPattern(st, DefaultTimingPatternConfig())
	p.now = func() time.Time { return now }
	return p
}

func addTrades(st *store.Store, asset string, side types.Side, n int, at time.Time) {
	for i := 0; i < n; i++ {
		st.AppendTrade(types.Trade{
			ID: fmt.Sprintf("%s-%d-%d", asset, at.Unix(), i), AssetID: asset,
			Price: 0.6, Size: 10, Side: side, Timestamp: at,
		})
	}
}

func TestTimingPatternDetectsBurstNearResolution(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	p := newTimingPattern(t, st, now)

	// 24 trades in the last 6h against 6 in the prior 18h:
	// ratio = (24/6) / (6/18) = 12.
	addTrades(st, "tok", types.BUY, 24, now.Add(-time.Hour))
	addTrades(st, "tok", types.BUY, 6, now.Add(-12*time.Hour))

	market := types.Market{TokenID: "tok", EndDate: now.Add(24 * time.Hour)}
	res, err := p.Process(Input{Market: market})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.Detected {
		t.Fatal("12x concentration should detect")
	}
	if ratio := res.Metadata["concentrationRatio"].(float64); math.Abs(ratio-12) > 1e-9 {
		t.Errorf("ratio = %v, want 12", ratio)
	}
	if res.Severity != types.SeverityHigh {
		t.Errorf("severity = %v, want HIGH above ratio 4", res.Severity)
	}
	if res.Confidence != 1 {
		t.Errorf("confidence = %v, want capped 1", res.Confidence)
	}
	if res.Direction != types.DirectionYes {
		t.Errorf("direction = %v, want YES for buy-dominated burst", res.Direction)
	}
}

func TestTimingPatternEmptyBaseline(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	p := newTimingPattern(t, st, now)

	// All activity in the recent window against an empty baseline.
	addTrades(st, "tok", types.SELL, 3, now.Add(-time.Hour))

	market := types.Market{TokenID: "tok", EndDate: now.Add(10 * time.Hour)}
	res, err := p.Process(Input{Market: market})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.Detected {
		t.Fatal("burst without baseline should detect")
	}
	if res.Confidence != 1 {
		t.Errorf("confidence = %v, want 1 for an unbounded ratio", res.Confidence)
	}
	if res.Direction != types.DirectionNo {
		t.Errorf("direction = %v, want NO for sell-dominated burst", res.Direction)
	}

	// The unbounded ratio must not leak a non-finite float into metadata:
	// one +Inf would make every later patterns-file write fail to marshal.
	if ratio, ok := res.Metadata["concentrationRatio"].(string); !ok || ratio != "+Inf" {
		t.Errorf("ratio metadata = %v, want the string +Inf", res.Metadata["concentrationRatio"])
	}
	if _, err := json.Marshal(res.Metadata); err != nil {
		t.Errorf("metadata must stay marshal-safe: %v", err)
	}
}

func TestTimingPatternFarFromResolution(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	p := newTimingPattern(t, st, now)

	addTrades(st, "tok", types.BUY, 50, now.Add(-time.Hour))
	market := types.Market{TokenID: "tok", EndDate: now.Add(100 * time.Hour)}
	if res, _ := p.Process(Input{Market: market}); res.Detected {
		t.Error("market 100h from resolution should not detect")
	}
}

func TestTimingPatternSteadyFlow(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	p := newTimingPattern(t, st, now)

	// Uniform rate: 6 recent, 18 baseline → ratio 1.
	addTrades(st, "tok", types.BUY, 6, now.Add(-time.Hour))
	addTrades(st, "tok", types.BUY, 18, now.Add(-12*time.Hour))

	market := types.Market{TokenID: "tok", EndDate: now.Add(24 * time.Hour)}
	if res, _ := p.Process(Input{Market: market}); res.Detected {
		t.Error("steady flow should not detect")
	}
}

func TestTimingPatternNeedsDeadlineAndToken(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	p := newTimingPattern(t, st, now)

	if res, _ := p.Process(Input{Market: types.Market{TokenID: "tok"}}); res.Detected {
		t.Error("market without a deadline should not detect")
	}
	if res, _ := p.Process(Input{Market: types.Market{EndDate: now.Add(time.Hour)}}); res.Detected {
		t.Error("market without a token should not detect")
	}
}
