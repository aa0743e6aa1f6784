package stream

import (
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polywatch/internal/book"
	"polywatch/internal/feed"
	"polywatch/internal/liquidity"
	"polywatch/internal/markets"
	"polywatch/internal/signal"
	"polywatch/internal/store"
	"polywatch/internal/wallet"
	"polywatch/internal/whale"
	"polywatch/pkg/types"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// bigTrade is a stub processor that flags trades of size 100 or more.
type bigTrade struct{}

func (bigTrade) Name() string    { return "big-trade" }
func (bigTrade) Kind() signal.Kind { return signal.KindTrade }
func (bigTrade) Weight() float64 { return 0.1 }

func (bigTrade) Process(in signal.Input) (signal.Result, error) {
	if in.Trade == nil || in.Trade.Size < 100 {
		return signal.Result{}, nil
	}
	return signal.Result{
		Detected:   true,
		Confidence: 0.8,
		Direction:  types.DirectionYes,
		Severity:   types.SeverityMedium,
	}, nil
}

func newTestProcessor(t *testing.T, opts Options) (*Processor, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	logger := testLogger()

	books := book.NewManager(logger)
	liq := liquidity.NewTracker(st, logger)
	wallets := wallet.NewTracker(st, wallet.DefaultConfig(), logger)
	whales := whale.NewDetector(books, st, whale.DefaultDetectorConfig(), logger)
	adjuster := whale.NewAdjuster(whale.DefaultAdjusterConfig(), logger)

	registry := signal.NewRegistry(st, logger)
	registry.Register(bigTrade{})

	p := New(Deps{
		Feed:      feed.NewClient("ws://127.0.0.1:1/ws", feed.Options{}, logger),
		Books:     books,
		Liquidity: liq,
		LiqProc:   signal.NewLiquidityImpact(signal.DefaultLiquidityImpactConfig()),
		Wallets:   wallets,
		Whales:    whales,
		Adjuster:  adjuster,
		Registry:  registry,
		Store:     st,
		Fetcher:   markets.NewFetcher(markets.Config{BaseURL: "http://127.0.0.1:1"}, st, logger),
	}, opts, logger)
	return p, st
}

func wireLevel(t *testing.T, price string, size int64) types.WireLevel {
	t.Helper()
	return types.WireLevel{
		Price: decimal.RequireFromString(price),
		Size:  decimal.NewFromInt(size),
	}
}

func seedBook(t *testing.T, p *Processor, assetID string, bids, asks []types.WireLevel) {
	t.Helper()
	p.books.HandleBookSnapshot(types.BookMessage{
		EventType:    "book",
		AssetAliases: types.AssetAliases{AssetID: assetID},
		Bids:         bids,
		Asks:         asks,
		Timestamp:    decimal.NewFromInt(time.Now().UnixMilli()),
		Hash:         "h1",
	})
}

func TestProcessTradePipeline(t *testing.T) {
	t.Parallel()
	p, st := newTestProcessor(t, Options{Enabled: true})

	p.markets["asset-1"] = types.Market{
		ID:       "mkt-1",
		TokenID:  "asset-1",
		EventID:  "evt-1",
		Question: "Will it settle yes?",
	}
	seedBook(t, p, "asset-1",
		[]types.WireLevel{wireLevel(t, "0.60", 1200), wireLevel(t, "0.58", 800)},
		[]types.WireLevel{wireLevel(t, "0.62", 900), wireLevel(t, "0.64", 600)})

	p.processTrade(types.TradeMessage{
		EventType:    "last_trade_price",
		AssetAliases: types.AssetAliases{AssetID: "asset-1"},
		TradeID:      "t1",
		Side:         "BUY",
		Price:        decimal.RequireFromString("0.62"),
		Size:         decimal.NewFromInt(2000),
		Maker:        "0xAA",
		Timestamp:    decimal.NewFromInt(time.Now().UnixMilli()),
	})

	if got := p.processedTrades.Load(); got != 1 {
		t.Fatalf("processedTrades = %d, want 1", got)
	}
	if _, ok := st.WalletProfile("0xaa"); !ok {
		t.Error("expected a wallet profile for the maker")
	}
	if whales := st.WhaleTrades(); len(whales) != 1 {
		t.Errorf("whale trades = %d, want 1", len(whales))
	}
	if _, ok := p.adjuster.WhaleActivity("asset-1"); !ok {
		t.Error("expected whale activity after a qualifying trade")
	}
	if got := p.detectedSignals.Load(); got != 1 {
		t.Errorf("detectedSignals = %d, want 1", got)
	}

	patterns := st.Patterns()
	if len(patterns) != 1 {
		t.Fatalf("patterns = %d, want 1", len(patterns))
	}
	if patterns[0].Type != "big-trade" || patterns[0].AssetID != "asset-1" {
		t.Errorf("pattern = %s/%s, want big-trade/asset-1", patterns[0].Type, patterns[0].AssetID)
	}
}

func TestProcessTradeEmptyAsset(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t, Options{Enabled: true})

	p.processTrade(types.TradeMessage{
		EventType: "last_trade_price",
		TradeID:   "t1",
		Side:      "BUY",
		Price:     decimal.RequireFromString("0.5"),
		Size:      decimal.NewFromInt(10),
	})

	if got := p.processedTrades.Load(); got != 0 {
		t.Errorf("processedTrades = %d, want 0", got)
	}
}

func TestProcessOrderBookUpdateDetectsDrop(t *testing.T) {
	t.Parallel()
	p, st := newTestProcessor(t, Options{Enabled: true, LiquidityDropThreshold: 20})

	seedBook(t, p, "asset-2",
		[]types.WireLevel{wireLevel(t, "0.60", 1000), wireLevel(t, "0.55", 1000)},
		[]types.WireLevel{wireLevel(t, "0.62", 1000)})
	p.processOrderBookUpdate("asset-2")

	if got := p.detectedSignals.Load(); got != 0 {
		t.Fatalf("signals after first snapshot = %d, want 0", got)
	}

	// Depth collapses from 3000 to 700. The synthetic sell sized by the
	// delta walks both remaining bid levels, a 16.7% move.
	seedBook(t, p, "asset-2",
		[]types.WireLevel{wireLevel(t, "0.60", 100), wireLevel(t, "0.50", 100)},
		[]types.WireLevel{wireLevel(t, "0.62", 500)})
	p.processOrderBookUpdate("asset-2")

	if got := p.detectedSignals.Load(); got != 1 {
		t.Fatalf("detectedSignals = %d, want 1", got)
	}

	sigs := st.SignalsByEvent("asset-2")
	if len(sigs) != 1 {
		t.Fatalf("signals by event = %d, want 1", len(sigs))
	}
	sig := sigs[0]
	if sig.SignalType != "liquidity-change" {
		t.Errorf("signal type = %q, want liquidity-change", sig.SignalType)
	}
	if sig.Severity != types.SeverityHigh {
		t.Errorf("severity = %s, want HIGH", sig.Severity)
	}
	if sig.Direction != types.DirectionNo {
		t.Errorf("direction = %s, want NO", sig.Direction)
	}
	if math.Abs(sig.Confidence-1) > 1e-9 {
		t.Errorf("confidence = %v, want 1", sig.Confidence)
	}

	patterns := st.Patterns()
	if len(patterns) != 1 || patterns[0].Type != "liquidity-change" {
		t.Fatalf("patterns = %+v, want one liquidity-change", patterns)
	}
}

func TestProcessOrderBookUpdateUnknownAsset(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t, Options{Enabled: true})

	p.processOrderBookUpdate("nobody")

	if got := p.detectedSignals.Load(); got != 0 {
		t.Errorf("detectedSignals = %d, want 0", got)
	}
}

func TestSubmitPreservesPerAssetOrder(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t, Options{Enabled: true, Workers: 4})

	p.workers = make([]chan task, 4)
	for i := range p.workers {
		ch := make(chan task, taskBufferSize)
		p.workers[i] = ch
		p.wg.Add(1)
		go p.worker(ch)
	}

	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		p.submit("asset-x", func() { order <- i })
	}
	for _, ch := range p.workers {
		close(ch)
	}
	p.wg.Wait()

	for want := 0; want < 3; want++ {
		if got := <-order; got != want {
			t.Fatalf("task %d ran out of order (got %d)", want, got)
		}
	}
}

func TestApplyWatchlist(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t, Options{Enabled: true, Workers: 2})

	p.workers = make([]chan task, 2)
	for i := range p.workers {
		ch := make(chan task, taskBufferSize)
		p.workers[i] = ch
		p.wg.Add(1)
		go p.worker(ch)
	}
	defer func() {
		for _, ch := range p.workers {
			close(ch)
		}
		p.wg.Wait()
	}()

	p.applyWatchlist([]types.Market{
		{ID: "m1", TokenID: "tok-1", EventID: "e1"},
		{ID: "m2", TokenID: "", EventID: "e2"}, // no token: skipped
		{ID: "m3", TokenID: "tok-3", EventID: "e3"},
	})
	p.applyWatchlist([]types.Market{
		{ID: "m1", TokenID: "tok-1", EventID: "e1", Question: "updated"},
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.markets) != 2 {
		t.Fatalf("tracked markets = %d, want 2", len(p.markets))
	}
	if p.markets["tok-1"].Question != "updated" {
		t.Error("rediscovered market should refresh its context")
	}
}

func TestContextFallbacks(t *testing.T) {
	t.Parallel()
	p, st := newTestProcessor(t, Options{Enabled: true})

	st.UpsertEvent(types.Event{ID: "evt-9", Title: "Known event"})
	p.markets["tok-9"] = types.Market{ID: "m9", TokenID: "tok-9", EventID: "evt-9"}

	market, event := p.context("tok-9")
	if market.ID != "m9" || event.Title != "Known event" {
		t.Errorf("known asset context = %s/%s", market.ID, event.Title)
	}

	market, event = p.context("mystery")
	if market.TokenID != "mystery" || event.ID != "mystery" {
		t.Errorf("unknown asset should get a synthetic context, got %s/%s", market.TokenID, event.ID)
	}
}

func TestStatusIdle(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t, Options{Enabled: true})

	s := p.Status()
	if s.Running {
		t.Error("processor should not report running before Start")
	}
	if s.ProcessedTrades != 0 || s.DetectedSignals != 0 || s.UptimeMs != 0 {
		t.Errorf("idle status = %+v, want zero counters", s)
	}
}

func TestGroupByAsset(t *testing.T) {
	t.Parallel()

	batch := []types.PriceChangeMessage{
		{AssetAliases: types.AssetAliases{AssetID: "a"}},
		{AssetAliases: types.AssetAliases{AssetID: "b"}},
		{AssetAliases: types.AssetAliases{AssetID: "a"}},
	}
	grouped := groupByAsset(batch)
	if len(grouped) != 2 {
		t.Fatalf("groups = %d, want 2", len(grouped))
	}
	if len(grouped["a"]) != 2 || len(grouped["b"]) != 1 {
		t.Errorf("group sizes = %d/%d, want 2/1", len(grouped["a"]), len(grouped["b"]))
	}
}

func TestPatternFromSignal(t *testing.T) {
	t.Parallel()

	detected := time.Now()
	sig := types.Signal{
		EventID:    "evt-1",
		SignalType: "sniper-cluster",
		Severity:   types.SeverityHigh,
		Confidence: 0.9,
		Direction:  types.DirectionYes,
		TradeID:    "t7",
		Metadata:   map[string]any{"clusterSize": 5},
		DetectedAt: detected,
	}

	pat := patternFromSignal(sig, "asset-7")
	if pat.ID == "" {
		t.Error("pattern should get its own id")
	}
	if pat.Type != "sniper-cluster" || pat.EventID != "evt-1" || pat.AssetID != "asset-7" {
		t.Errorf("pattern identity = %s/%s/%s", pat.Type, pat.EventID, pat.AssetID)
	}
	if pat.Confidence != 0.9 || pat.Direction != types.DirectionYes || pat.Severity != types.SeverityHigh {
		t.Errorf("pattern scoring = %+v", pat)
	}
	if pat.TradeID != "t7" || !pat.DetectedAt.Equal(detected) {
		t.Errorf("pattern provenance = %s/%s", pat.TradeID, pat.DetectedAt)
	}
	if pat.Metadata["clusterSize"] != 5 {
		t.Errorf("metadata not carried: %+v", pat.Metadata)
	}
}
