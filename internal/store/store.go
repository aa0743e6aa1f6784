// Package store provides the in-memory storage layer with bounded
// collections and JSON-file durability for detected patterns and whale
// trades.
//
// All collections are mutex-protected and appear linearizable to callers;
// a writer sees its own write on the next read. The two durable collections
// mirror every mutation to disk with atomic file replacement (write to .tmp,
// then rename). Persistence is best-effort: disk failures are logged and
// never propagate to the caller, and in-memory state keeps accumulating if
// the disk goes away.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"polywatch/pkg/types"
)

const (
	// MaxTradeHistory caps the global trade log (FIFO eviction).
	MaxTradeHistory = 100_000
	// MaxWhaleTrades caps the whale-trade log (FIFO eviction).
	MaxWhaleTrades = 10_000
	// MaxBookSnapshots caps each asset's liquidity snapshot ring.
	MaxBookSnapshots = 100

	patternsFile    = "detected-patterns.json"
	whaleTradesFile = "whale-trades.json"
)

// Store is the process-wide storage layer.
type Store struct {
	mu sync.RWMutex

	events      map[string]types.Event
	predictions map[string]types.Prediction
	signals     map[string]types.Signal

	articles        map[string]types.Article
	articlesByEvent map[string][]string // eventID → article IDs
	articlesBySlug  map[string]string   // slug → article ID

	walletProfiles map[string]types.WalletProfile

	tradeHistory     []types.Trade
	detectedPatterns []types.Pattern
	whaleTrades      []types.WhaleTrade

	bookSnapshots map[string][]types.BookSnapshot

	dataDir string
	// fileMu serializes whole-file replacement per durable collection.
	fileMu sync.Mutex
	logger *slog.Logger
}

// Open creates a store backed by dataDir and loads both durable collections.
// A missing file is an empty collection.
func Open(dataDir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{
		events:          make(map[string]types.Event),
		predictions:     make(map[string]types.Prediction),
		signals:         make(map[string]types.Signal),
		articles:        make(map[string]types.Article),
		articlesByEvent: make(map[string][]string),
		articlesBySlug:  make(map[string]string),
		walletProfiles:  make(map[string]types.WalletProfile),
		bookSnapshots:   make(map[string][]types.BookSnapshot),
		dataDir:         dataDir,
		logger:          logger.With("component", "store"),
	}

	if err := loadJSON(filepath.Join(dataDir, patternsFile), &s.detectedPatterns); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(dataDir, whaleTradesFile), &s.whaleTrades); err != nil {
		return nil, err
	}
	return s, nil
}

func loadJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}

// persist writes a collection with atomic replacement. Failures are logged,
// never returned.
func (s *Store) persist(name string, v any) {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("marshal for persistence failed", "file", name, "error", err)
		return
	}
	path := filepath.Join(s.dataDir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		s.logger.Error("persist failed", "file", name, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		s.logger.Error("persist rename failed", "file", name, "error", err)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Events, predictions, signals
// ————————————————————————————————————————————————————————————————————————

// UpsertEvent stores an event by ID.
func (s *Store) UpsertEvent(e types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e
}

// Event returns an event by ID.
func (s *Store) Event(id string) (types.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	return e, ok
}

// ListEvents returns every stored event.
func (s *Store) ListEvents() []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	return out
}

// UpsertPrediction stores a prediction by ID.
func (s *Store) UpsertPrediction(p types.Prediction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictions[p.ID] = p
}

// PredictionsByEvent returns all predictions for an event.
func (s *Store) PredictionsByEvent(eventID string) []types.Prediction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Prediction
	for _, p := range s.predictions {
		if p.EventID == eventID {
			out = append(out, p)
		}
	}
	return out
}

// SaveSignal stores a signal by ID.
func (s *Store) SaveSignal(sig types.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[sig.ID] = sig
}

// SignalsByEvent returns all signals recorded for an event.
func (s *Store) SignalsByEvent(eventID string) []types.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Signal
	for _, sig := range s.signals {
		if sig.EventID == eventID {
			out = append(out, sig)
		}
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Articles (secondary-indexed by event and slug)
// ————————————————————————————————————————————————————————————————————————

// UpsertArticle stores an article and maintains the event and slug indexes.
func (s *Store) UpsertArticle(a types.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.articles[a.ID]; ok {
		if old.Slug != a.Slug {
			delete(s.articlesBySlug, old.Slug)
		}
		if old.EventID != a.EventID {
			s.articlesByEvent[old.EventID] = removeID(s.articlesByEvent[old.EventID], a.ID)
		}
	}

	s.articles[a.ID] = a
	if a.Slug != "" {
		s.articlesBySlug[a.Slug] = a.ID
	}
	if a.EventID != "" && !containsID(s.articlesByEvent[a.EventID], a.ID) {
		s.articlesByEvent[a.EventID] = append(s.articlesByEvent[a.EventID], a.ID)
	}
}

// Article returns an article by ID.
func (s *Store) Article(id string) (types.Article, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.articles[id]
	return a, ok
}

// ArticlesByEvent returns the articles attached to an event, O(1) index lookup.
func (s *Store) ArticlesByEvent(eventID string) []types.Article {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.articlesByEvent[eventID]
	out := make([]types.Article, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.articles[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

// ArticleBySlug returns an article by slug, O(1) index lookup.
func (s *Store) ArticleBySlug(slug string) (types.Article, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.articlesBySlug[slug]
	if !ok {
		return types.Article{}, false
	}
	a, ok := s.articles[id]
	return a, ok
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Wallet profiles
// ————————————————————————————————————————————————————————————————————————

// WalletProfile returns the profile for an address (case-insensitive).
func (s *Store) WalletProfile(address string) (types.WalletProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.walletProfiles[strings.ToLower(address)]
	return p, ok
}

// SaveWalletProfile stores a profile keyed by lowercased address.
func (s *Store) SaveWalletProfile(p types.WalletProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.walletProfiles[strings.ToLower(p.Address)] = p
}

// WalletProfiles returns a snapshot of every tracked profile.
func (s *Store) WalletProfiles() []types.WalletProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.WalletProfile, 0, len(s.walletProfiles))
	for _, p := range s.walletProfiles {
		out = append(out, p)
	}
	return out
}

// WalletCount returns the number of tracked wallets.
func (s *Store) WalletCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.walletProfiles)
}

// ————————————————————————————————————————————————————————————————————————
// Trade history (bounded, FIFO)
// ————————————————————————————————————————————————————————————————————————

// AppendTrade records a trade, evicting the oldest entry at capacity.
func (s *Store) AppendTrade(t types.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradeHistory = append(s.tradeHistory, t)
	if len(s.tradeHistory) > MaxTradeHistory {
		s.tradeHistory = s.tradeHistory[len(s.tradeHistory)-MaxTradeHistory:]
	}
}

// TradeHistoryLen returns the current history length.
func (s *Store) TradeHistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tradeHistory)
}

// TradesByAsset returns all recorded trades for an asset, oldest first.
func (s *Store) TradesByAsset(assetID string) []types.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Trade
	for _, t := range s.tradeHistory {
		if t.AssetID == assetID {
			out = append(out, t)
		}
	}
	return out
}

// TradesByWallet returns all trades where the address was maker or taker.
func (s *Store) TradesByWallet(address string) []types.Trade {
	addr := strings.ToLower(address)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Trade
	for _, t := range s.tradeHistory {
		if t.Maker == addr || t.Taker == addr {
			out = append(out, t)
		}
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Durable collections
// ————————————————————————————————————————————————————————————————————————

// AddPattern appends a detected pattern and mirrors the collection to disk.
func (s *Store) AddPattern(p types.Pattern) {
	s.mu.Lock()
	s.detectedPatterns = append(s.detectedPatterns, p)
	snapshot := make([]types.Pattern, len(s.detectedPatterns))
	copy(snapshot, s.detectedPatterns)
	s.mu.Unlock()

	s.persist(patternsFile, snapshot)
}

// Patterns returns a copy of all detected patterns.
func (s *Store) Patterns() []types.Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Pattern, len(s.detectedPatterns))
	copy(out, s.detectedPatterns)
	return out
}

// AddWhaleTrade appends a whale trade (FIFO-capped) and mirrors to disk.
func (s *Store) AddWhaleTrade(w types.WhaleTrade) {
	s.mu.Lock()
	s.whaleTrades = append(s.whaleTrades, w)
	if len(s.whaleTrades) > MaxWhaleTrades {
		s.whaleTrades = s.whaleTrades[len(s.whaleTrades)-MaxWhaleTrades:]
	}
	snapshot := make([]types.WhaleTrade, len(s.whaleTrades))
	copy(snapshot, s.whaleTrades)
	s.mu.Unlock()

	s.persist(whaleTradesFile, snapshot)
}

// WhaleTrades returns a copy of the whale-trade log, oldest first.
func (s *Store) WhaleTrades() []types.WhaleTrade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.WhaleTrade, len(s.whaleTrades))
	copy(out, s.whaleTrades)
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Order book snapshots (per-asset ring)
// ————————————————————————————————————————————————————————————————————————

// RecordBookSnapshot appends a liquidity snapshot to the asset's ring,
// evicting the oldest past capacity.
func (s *Store) RecordBookSnapshot(snap types.BookSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring := append(s.bookSnapshots[snap.AssetID], snap)
	if len(ring) > MaxBookSnapshots {
		ring = ring[len(ring)-MaxBookSnapshots:]
	}
	s.bookSnapshots[snap.AssetID] = ring
}

// BookSnapshots returns a copy of the asset's snapshot ring, oldest first.
func (s *Store) BookSnapshots(assetID string) []types.BookSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring := s.bookSnapshots[assetID]
	out := make([]types.BookSnapshot, len(ring))
	copy(out, ring)
	return out
}
