// Package stream wires the realtime feed into the books, wallet tracker,
// whale detection and signal processors. Messages for the same asset are
// processed in feed order; different assets run in parallel on a small
// worker pool keyed by consistent hashing of the asset ID.
package stream

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"polywatch/internal/book"
	"polywatch/internal/clob"
	"polywatch/internal/feed"
	"polywatch/internal/liquidity"
	"polywatch/internal/markets"
	"polywatch/internal/signal"
	"polywatch/internal/store"
	"polywatch/internal/wallet"
	"polywatch/internal/whale"
	"polywatch/pkg/types"
)

const (
	defaultWorkers     = 8
	taskBufferSize     = 64
	priceMoveLogLimit  = 0.05 // fraction of previous price
	cleanupInterval    = 5 * time.Minute
	backfillTradeLimit = 500
)

// Status is a point-in-time snapshot of the processor.
type Status struct {
	Running         bool      `json:"running"`
	ProcessedTrades int64     `json:"processedTrades"`
	DetectedSignals int64     `json:"detectedSignals"`
	Subscriptions   int       `json:"subscriptions"`
	StartTime       time.Time `json:"startTime"`
	UptimeMs        int64     `json:"uptimeMs"`
}

// Options carries the stream-level knobs.
type Options struct {
	Enabled                bool
	Workers                int
	ProfileRefreshInterval time.Duration
	LiquidityDropThreshold float64
}

type task func()

// Processor is the stateful orchestrator over all realtime collaborators.
type Processor struct {
	opts      Options
	feed      *feed.Client
	books     *book.Manager
	liquidity *liquidity.Tracker
	liqProc   *signal.LiquidityImpact
	wallets   *wallet.Tracker
	whales    *whale.Detector
	adjuster  *whale.Adjuster
	registry  *signal.Registry
	store     *store.Store
	fetcher   *markets.Fetcher
	clob      *clob.Client
	logger    *slog.Logger

	runCtx context.Context

	workers []chan task
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	mu         sync.Mutex
	running    bool
	markets    map[string]types.Market // tokenID -> market context
	lastPrices map[string]float64

	processedTrades atomic.Int64
	detectedSignals atomic.Int64
	startTime       time.Time
}

// Deps bundles the collaborators a Processor needs.
type Deps struct {
	Feed      *feed.Client
	Books     *book.Manager
	Liquidity *liquidity.Tracker
	LiqProc   *signal.LiquidityImpact
	Wallets   *wallet.Tracker
	Whales    *whale.Detector
	Adjuster  *whale.Adjuster
	Registry  *signal.Registry
	Store     *store.Store
	Fetcher   *markets.Fetcher
	Clob      *clob.Client
}

// New creates a stream processor. It does nothing until Start.
func New(deps Deps, opts Options, logger *slog.Logger) *Processor {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.LiquidityDropThreshold <= 0 {
		opts.LiquidityDropThreshold = liquidity.DefaultDropThreshold
	}
	return &Processor{
		opts:       opts,
		feed:       deps.Feed,
		books:      deps.Books,
		liquidity:  deps.Liquidity,
		liqProc:    deps.LiqProc,
		wallets:    deps.Wallets,
		whales:     deps.Whales,
		adjuster:   deps.Adjuster,
		registry:   deps.Registry,
		store:      deps.Store,
		fetcher:    deps.Fetcher,
		clob:       deps.Clob,
		logger:     logger.With("component", "stream"),
		markets:    make(map[string]types.Market),
		lastPrices: make(map[string]float64),
	}
}

// Start spins up the worker pool, the discovery loop and the feed
// connection. Feed failures are logged; the host process stays up and the
// client keeps reconnecting on its own.
func (p *Processor) Start(ctx context.Context) error {
	if !p.opts.Enabled {
		p.logger.Info("realtime processing disabled")
		return nil
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.startTime = time.Now()
	p.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.runCtx = runCtx

	if loaded := p.adjuster.LoadFromHistory(p.store.WhaleTrades()); loaded > 0 {
		p.logger.Info("whale signals restored", "count", loaded)
	}

	p.workers = make([]chan task, p.opts.Workers)
	for i := range p.workers {
		ch := make(chan task, taskBufferSize)
		p.workers[i] = ch
		p.wg.Add(1)
		go p.worker(ch)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.fetcher.Run(runCtx)
	}()

	p.wg.Add(1)
	go p.eventLoop(runCtx)

	if err := p.feed.Connect(runCtx); err != nil {
		p.logger.Error("feed connect failed", "error", err)
	}
	return nil
}

// Stop tears the processor down and waits for in-flight work.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.feed.Disconnect()
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("stream processor stopped",
		"processedTrades", p.processedTrades.Load(),
		"detectedSignals", p.detectedSignals.Load())
}

// Status reports counters and uptime.
func (p *Processor) Status() Status {
	p.mu.Lock()
	running := p.running
	start := p.startTime
	subs := len(p.markets)
	p.mu.Unlock()

	s := Status{
		Running:         running,
		ProcessedTrades: p.processedTrades.Load(),
		DetectedSignals: p.detectedSignals.Load(),
		Subscriptions:   subs,
		StartTime:       start,
	}
	if running {
		s.UptimeMs = time.Since(start).Milliseconds()
	}
	return s
}

func (p *Processor) worker(ch chan task) {
	defer p.wg.Done()
	for fn := range ch {
		fn()
	}
}

// submit routes work for one asset to a fixed worker so per-asset order is
// preserved.
func (p *Processor) submit(assetID string, fn task) {
	h := fnv.New32a()
	h.Write([]byte(assetID))
	p.workers[int(h.Sum32())%len(p.workers)] <- fn
}

func (p *Processor) eventLoop(ctx context.Context) {
	defer p.wg.Done()
	defer func() {
		for _, ch := range p.workers {
			close(ch)
		}
	}()

	refresh := time.NewTicker(p.profileRefreshInterval())
	defer refresh.Stop()
	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-p.feed.Books():
			assetID := msg.Asset()
			p.submit(assetID, func() {
				p.books.HandleBookSnapshot(msg)
				p.processOrderBookUpdate(assetID)
			})

		case batch := <-p.feed.PriceChanges():
			for assetID, changes := range groupByAsset(batch) {
				p.submit(assetID, func() {
					p.books.HandlePriceChange(changes)
					p.processOrderBookUpdate(assetID)
				})
			}

		case msg := <-p.feed.Trades():
			assetID := msg.Asset()
			p.submit(assetID, func() { p.processTrade(msg) })

		case ev := <-p.feed.ConnEvents():
			switch ev.Kind {
			case feed.ConnConnected:
				p.logger.Info("feed connected")
			case feed.ConnDisconnected:
				p.logger.Warn("feed disconnected, clearing books", "error", ev.Err)
				p.books.Reset()
			case feed.ConnTerminal:
				p.logger.Error("feed gave up reconnecting", "error", ev.Err)
			}

		case err := <-p.feed.Errors():
			p.logger.Warn("feed error", "error", err)

		case result := <-p.fetcher.Results():
			p.applyWatchlist(result.Markets)

		case <-refresh.C:
			n := p.wallets.RefreshProfiles()
			p.logger.Debug("wallet profiles refreshed", "count", n)

		case <-cleanup.C:
			if dropped := p.adjuster.Cleanup(); dropped > 0 {
				p.logger.Debug("expired whale signals dropped", "count", dropped)
			}
		}
	}
}

// applyWatchlist records market context and subscribes to newly discovered
// assets. Subscribe is idempotent per asset and kind.
func (p *Processor) applyWatchlist(list []types.Market) {
	p.mu.Lock()
	fresh := make([]string, 0, len(list))
	for _, m := range list {
		if m.TokenID == "" {
			continue
		}
		if _, known := p.markets[m.TokenID]; !known {
			fresh = append(fresh, m.TokenID)
		}
		p.markets[m.TokenID] = m
	}
	p.mu.Unlock()

	for _, assetID := range fresh {
		if err := p.feed.Subscribe(assetID); err != nil {
			p.logger.Warn("subscribe failed", "asset", assetID, "error", err)
		}
		id := assetID
		p.submit(id, func() { p.backfill(id) })
	}
	if len(fresh) > 0 {
		p.logger.Info("watchlist updated", "new", len(fresh), "total", len(list))
	}
}

// backfill primes a newly watched asset over REST: an initial book snapshot
// so whale detection works before the first feed frame, and recent trade
// history so wallet profiles and the timing/sniper processors have context.
// Runs on the asset's worker, so feed frames for the asset stay ordered
// around it.
func (p *Processor) backfill(assetID string) {
	if p.clob == nil {
		return
	}
	ctx := p.runCtx

	if b, ok := p.books.Book(assetID); !ok || !b.Initialized() {
		resp, err := p.clob.GetOrderBook(ctx, assetID)
		if err != nil {
			p.logger.Debug("book backfill failed", "asset", assetID, "error", err)
		} else {
			ts, _ := decimal.NewFromString(resp.Timestamp)
			p.books.HandleBookSnapshot(types.BookMessage{
				AssetAliases: types.AssetAliases{AssetID: assetID},
				Bids:         resp.Bids,
				Asks:         resp.Asks,
				Timestamp:    ts,
				Hash:         resp.Hash,
			})
		}
	}

	trades, err := p.clob.GetTrades(ctx, clob.TradeQuery{Market: assetID, Limit: backfillTradeLimit})
	if err != nil {
		p.logger.Debug("trade backfill failed", "asset", assetID, "error", err)
		return
	}
	for _, t := range trades {
		if _, err := p.wallets.TrackTrade(t); err != nil {
			p.store.AppendTrade(t)
		}
	}
	if len(trades) > 0 {
		p.logger.Debug("trade history backfilled", "asset", assetID, "trades", len(trades))
	}
}

// processTrade runs the full per-trade pipeline. Each stage is isolated: a
// failure is logged and the rest still runs, and the trade counter
// increments only after every processor has seen the trade.
func (p *Processor) processTrade(msg types.TradeMessage) {
	trade := msg.Normalize(time.Now())
	if trade.AssetID == "" {
		return
	}

	if _, err := p.wallets.TrackTrade(trade); err != nil {
		p.logger.Debug("wallet tracking skipped", "error", err)
		p.store.AppendTrade(trade)
	}

	if w, ok := p.whales.AnalyzeTrade(trade); ok {
		p.adjuster.RecordWhaleTrade(w)
	}

	p.logPriceMove(trade)

	market, event := p.context(trade.AssetID)
	b, _ := p.books.Book(trade.AssetID)

	signals := p.registry.ProcessRealTimeTrade(event, market, trade, b)
	for _, sig := range signals {
		p.detectedSignals.Add(1)
		p.store.AddPattern(patternFromSignal(sig, trade.AssetID))
		p.logger.Info("signal detected",
			"type", sig.SignalType,
			"asset", trade.AssetID,
			"severity", sig.Severity,
			"confidence", sig.Confidence)
	}

	p.processedTrades.Add(1)
}

// processOrderBookUpdate snapshots depth and, on a liquidity drop, runs the
// liquidity-impact processor against a synthetic trade sized by the change.
func (p *Processor) processOrderBookUpdate(assetID string) {
	b, ok := p.books.Book(assetID)
	if !ok || !b.Initialized() {
		return
	}

	full := b.FullBook()
	p.liquidity.Record(assetID, full.Bids, full.Asks)

	change, dropped := p.liquidity.DetectDrop(assetID, p.opts.LiquidityDropThreshold)
	if !dropped {
		return
	}

	side := types.BUY
	if change.TotalDelta < 0 {
		side = types.SELL
	}
	synthetic := types.Trade{
		ID:        uuid.NewString(),
		AssetID:   assetID,
		Price:     b.Spread().MidPrice,
		Size:      math.Abs(change.TotalDelta),
		Side:      side,
		Timestamp: time.Now(),
	}

	market, event := p.context(assetID)
	res, err := p.liqProc.Process(signal.Input{
		Event:  event,
		Market: market,
		Trade:  &synthetic,
		Book:   b,
	})
	if err != nil || !res.Detected {
		return
	}

	sig := types.Signal{
		ID:         uuid.NewString(),
		EventID:    event.ID,
		SignalType: "liquidity-change",
		Severity:   res.Severity,
		Confidence: res.Confidence,
		Direction:  res.Direction,
		Weight:     p.liqProc.Weight(),
		Adjustment: signal.Adjustment(res, p.liqProc.Weight()),
		Metadata:   res.Metadata,
		DetectedAt: time.Now(),
	}
	p.store.SaveSignal(sig)
	p.store.AddPattern(patternFromSignal(sig, assetID))
	p.detectedSignals.Add(1)
	p.logger.Info("liquidity change detected",
		"asset", assetID,
		"changePercent", change.ChangePercent,
		"severity", res.Severity)
}

// logPriceMove emits a monitoring log when a trade moves price more than 5%
// against the last one seen for the asset.
func (p *Processor) logPriceMove(trade types.Trade) {
	if trade.Price <= 0 {
		return
	}
	p.mu.Lock()
	prev := p.lastPrices[trade.AssetID]
	p.lastPrices[trade.AssetID] = trade.Price
	p.mu.Unlock()

	if prev <= 0 {
		return
	}
	if delta := math.Abs(trade.Price-prev) / prev; delta > priceMoveLogLimit {
		p.logger.Warn("significant price move",
			"asset", trade.AssetID,
			"from", prev,
			"to", trade.Price,
			"movePercent", delta*100)
	}
}

// context resolves the market and event a trade belongs to. Unknown assets
// get a synthetic context so processors that only need the trade still run.
func (p *Processor) context(assetID string) (types.Market, types.Event) {
	p.mu.Lock()
	market, ok := p.markets[assetID]
	p.mu.Unlock()
	if !ok {
		market = types.Market{ID: assetID, TokenID: assetID, EventID: assetID}
	}

	event, ok := p.store.Event(market.EventID)
	if !ok {
		event = types.Event{ID: market.EventID, Title: market.Question, Slug: market.Slug}
	}
	return market, event
}

func (p *Processor) profileRefreshInterval() time.Duration {
	if p.opts.ProfileRefreshInterval <= 0 {
		return time.Hour
	}
	return p.opts.ProfileRefreshInterval
}

func groupByAsset(batch []types.PriceChangeMessage) map[string][]types.PriceChangeMessage {
	grouped := make(map[string][]types.PriceChangeMessage)
	for _, pc := range batch {
		grouped[pc.Asset()] = append(grouped[pc.Asset()], pc)
	}
	return grouped
}

func patternFromSignal(sig types.Signal, assetID string) types.Pattern {
	return types.Pattern{
		ID:         uuid.NewString(),
		Type:       sig.SignalType,
		EventID:    sig.EventID,
		AssetID:    assetID,
		Confidence: sig.Confidence,
		Direction:  sig.Direction,
		Severity:   sig.Severity,
		Metadata:   sig.Metadata,
		TradeID:    sig.TradeID,
		DetectedAt: sig.DetectedAt,
	}
}
