package signal

import (
	"math"
	"testing"
	"time"

	"polywatch/pkg/types"
)

func TestWalletAccuracyDetectsSharpWallet(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	tracker := testWalletTracker(t, st)
	st.SaveWalletProfile(types.WalletProfile{
		Address:           "0xaa",
		FirstTradeAt:      time.Now().Add(-90 * 24 * time.Hour),
		ResolvedPositions: 25,
		Wins:              20,
		WinRate:           0.8,
	})

	p := NewWalletAccuracy(tracker, DefaultWalletAccuracyConfig())
	trade := types.Trade{ID: "t1", Side: types.SELL, Maker: "0xaa"}
	res, err := p.Process(Input{Trade: &trade})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.Detected {
		t.Fatal("0.8 win rate over 25 resolved should detect")
	}
	z := (0.8 - 0.5) / math.Sqrt(0.25/25)
	if math.Abs(res.Confidence-math.Min(z/3, 1)) > 1e-9 {
		t.Errorf("confidence = %v, want %v", res.Confidence, math.Min(z/3, 1))
	}
	if res.Severity != types.SeverityMedium {
		t.Errorf("severity = %v, want MEDIUM at 0.8 win rate", res.Severity)
	}
	if res.Direction != types.DirectionNo {
		t.Errorf("direction = %v, want NO for a sell", res.Direction)
	}
}

func TestWalletAccuracyHighSeverity(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	tracker := testWalletTracker(t, st)
	st.SaveWalletProfile(types.WalletProfile{
		Address:           "0xaa",
		ResolvedPositions: 30,
		WinRate:           0.9,
	})

	p := NewWalletAccuracy(tracker, DefaultWalletAccuracyConfig())
	trade := types.Trade{ID: "t1", Side: types.BUY, Maker: "0xaa"}
	res, _ := p.Process(Input{Trade: &trade})
	if !res.Detected || res.Severity != types.SeverityHigh {
		t.Errorf("detected/severity = %v/%v, want true/HIGH", res.Detected, res.Severity)
	}
}

func TestWalletAccuracyThresholds(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	tracker := testWalletTracker(t, st)
	p := NewWalletAccuracy(tracker, DefaultWalletAccuracyConfig())

	// Win rate exactly at the minimum is not enough; the bar is strict.
	st.SaveWalletProfile(types.WalletProfile{Address: "0xaa", ResolvedPositions: 25, WinRate: 0.7})
	trade := types.Trade{ID: "t1", Maker: "0xaa"}
	if res, _ := p.Process(Input{Trade: &trade}); res.Detected {
		t.Error("win rate equal to the minimum should not detect")
	}

	// High win rate over too few resolutions.
	st.SaveWalletProfile(types.WalletProfile{Address: "0xbb", ResolvedPositions: 10, WinRate: 0.9})
	trade = types.Trade{ID: "t2", Maker: "0xbb"}
	if res, _ := p.Process(Input{Trade: &trade}); res.Detected {
		t.Error("10 resolved positions should not detect")
	}
}
