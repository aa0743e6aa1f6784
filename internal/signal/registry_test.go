package signal

import (
	"errors"
	"math"
	"testing"

	"polywatch/pkg/types"
)

// stubProcessor is a canned-result processor for registry tests.
type stubProcessor struct {
	name   string
	kind   Kind
	weight float64
	result Result
	err    error
	panics bool
	calls  int
}

func (s *stubProcessor) Name() string    { return s.name }
func (s *stubProcessor) Kind() Kind      { return s.kind }
func (s *stubProcessor) Weight() float64 { return s.weight }

func (s *stubProcessor) Process(in Input) (Result, error) {
	s.calls++
	if s.panics {
		panic("boom")
	}
	return s.result, s.err
}

func TestProcessRealTimeTradeSkipsBatchProcessors(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testStore(t), testLogger())
	tradeProc := &stubProcessor{name: "trade-proc", kind: KindTrade, weight: 0.1,
		result: Result{Detected: true, Confidence: 0.5, Direction: types.DirectionYes, Severity: types.SeverityMedium}}
	marketProc := &stubProcessor{name: "market-proc", kind: KindMarket, weight: 0.1,
		result: Result{Detected: true, Confidence: 0.5, Direction: types.DirectionNo, Severity: types.SeverityLow}}
	batchProc := &stubProcessor{name: "batch-proc", kind: KindBatch, weight: 0.1}
	r.Register(tradeProc)
	r.Register(marketProc)
	r.Register(batchProc)

	signals := r.ProcessRealTimeTrade(
		types.Event{ID: "e1"}, types.Market{TokenID: "tok"},
		types.Trade{ID: "t1"}, nil)

	if len(signals) != 2 {
		t.Fatalf("signals = %d, want 2", len(signals))
	}
	if batchProc.calls != 0 {
		t.Error("batch processor should not run on trades")
	}
	for _, sig := range signals {
		if sig.TradeID != "t1" || sig.EventID != "e1" {
			t.Errorf("signal = %+v", sig)
		}
	}
}

func TestProcessEventSkipsTradeProcessors(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testStore(t), testLogger())
	tradeProc := &stubProcessor{name: "trade-proc", kind: KindTrade, weight: 0.1}
	batchProc := &stubProcessor{name: "batch-proc", kind: KindBatch, weight: 0.1,
		result: Result{Detected: true, Confidence: 0.4, Severity: types.SeverityLow}}
	r.Register(tradeProc)
	r.Register(batchProc)

	signals := r.ProcessEvent(types.Event{ID: "e1"}, types.Market{TokenID: "tok"})
	if len(signals) != 1 || signals[0].SignalType != "batch-proc" {
		t.Errorf("signals = %+v", signals)
	}
	if tradeProc.calls != 0 {
		t.Error("trade processor should not run in batch scans")
	}
}

func TestRegistryIsolatesPanicsAndErrors(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testStore(t), testLogger())
	r.Register(&stubProcessor{name: "panicky", kind: KindMarket, weight: 0.1, panics: true})
	r.Register(&stubProcessor{name: "broken", kind: KindMarket, weight: 0.1, err: errors.New("db gone")})
	healthy := &stubProcessor{name: "healthy", kind: KindMarket, weight: 0.1,
		result: Result{Detected: true, Confidence: 0.5, Severity: types.SeverityLow}}
	r.Register(healthy)

	signals := r.ProcessEvent(types.Event{ID: "e1"}, types.Market{})
	if len(signals) != 1 || signals[0].SignalType != "healthy" {
		t.Errorf("signals = %+v, want only the healthy detection", signals)
	}
}

func TestSignalAdjustmentSign(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testStore(t), testLogger())
	r.Register(&stubProcessor{name: "yes-proc", kind: KindMarket, weight: 0.2,
		result: Result{Detected: true, Confidence: 0.5, Direction: types.DirectionYes, Severity: types.SeverityMedium}})
	r.Register(&stubProcessor{name: "no-proc", kind: KindMarket, weight: 0.2,
		result: Result{Detected: true, Confidence: 0.5, Direction: types.DirectionNo, Severity: types.SeverityMedium}})

	signals := r.ProcessEvent(types.Event{ID: "e1"}, types.Market{})
	if len(signals) != 2 {
		t.Fatalf("signals = %d, want 2", len(signals))
	}
	byType := map[string]types.Signal{}
	for _, sig := range signals {
		byType[sig.SignalType] = sig
	}
	if got := byType["yes-proc"].Adjustment; math.Abs(got-0.1) > 1e-9 {
		t.Errorf("yes adjustment = %v, want +0.1", got)
	}
	if got := byType["no-proc"].Adjustment; math.Abs(got+0.1) > 1e-9 {
		t.Errorf("no adjustment = %v, want -0.1", got)
	}
}

func TestSignalsSummary(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	r := NewRegistry(st, testLogger())
	r.Register(&stubProcessor{name: "yes-proc", kind: KindMarket, weight: 0.2,
		result: Result{Detected: true, Confidence: 0.5, Direction: types.DirectionYes, Severity: types.SeverityMedium}})

	r.ProcessEvent(types.Event{ID: "e1"}, types.Market{})
	r.ProcessEvent(types.Event{ID: "e1"}, types.Market{})

	summary := r.SignalsSummary("e1")
	if summary.Count != 2 || len(summary.Signals) != 2 {
		t.Errorf("count = %d, signals = %d, want 2/2", summary.Count, len(summary.Signals))
	}
	if math.Abs(summary.TotalAdjustment-0.2) > 1e-9 {
		t.Errorf("total adjustment = %v, want 0.2", summary.TotalAdjustment)
	}

	empty := r.SignalsSummary("missing")
	if empty.Count != 0 || empty.TotalAdjustment != 0 {
		t.Errorf("empty summary = %+v", empty)
	}
}

func TestProcessorsListsNames(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testStore(t), testLogger())
	r.Register(&stubProcessor{name: "a", kind: KindTrade})
	r.Register(&stubProcessor{name: "b", kind: KindBatch})
	names := r.Processors()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("names = %v", names)
	}
}
