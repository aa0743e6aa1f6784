package book

import (
	"log/slog"
	"sync"

	"polywatch/pkg/types"
)

// Update notifies consumers that an asset's book changed. Initialized is true
// when this update brought the book from empty to initialized.
type Update struct {
	AssetID     string
	Initialized bool
}

// Manager owns every per-asset OrderBook. Books are created lazily on first
// mention of an asset; deltas that arrive before the first snapshot are
// discarded, since the next snapshot resets state anyway.
type Manager struct {
	mu    sync.RWMutex
	books map[string]*OrderBook

	updates chan Update
	logger  *slog.Logger
}

// NewManager creates an empty book manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		books:   make(map[string]*OrderBook),
		updates: make(chan Update, 256),
		logger:  logger.With("component", "books"),
	}
}

// Updates returns the channel of book-change notifications. Notifications
// fire after state has been updated; a full channel drops rather than blocks.
func (m *Manager) Updates() <-chan Update { return m.updates }

// Book returns the book for an asset, if one exists.
func (m *Manager) Book(assetID string) (*OrderBook, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[assetID]
	return b, ok
}

// Assets lists every asset with a book.
func (m *Manager) Assets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.books))
	for id := range m.books {
		out = append(out, id)
	}
	return out
}

// Reset drops all books. Called when the feed disconnects — fresh snapshots
// are required after a reconnect.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.books = make(map[string]*OrderBook)
	m.mu.Unlock()
	m.logger.Info("order books cleared")
}

func (m *Manager) getOrCreate(assetID string) *OrderBook {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[assetID]
	if !ok {
		b = NewOrderBook(assetID)
		m.books[assetID] = b
	}
	return b
}

// HandleBookSnapshot applies a full snapshot frame. Frames without a
// resolvable asset ID are logged and dropped.
func (m *Manager) HandleBookSnapshot(msg types.BookMessage) {
	assetID := msg.Asset()
	if assetID == "" {
		m.logger.Warn("book snapshot without asset id, dropping")
		return
	}

	b := m.getOrCreate(assetID)
	wasInitialized := b.Initialized()
	b.InitializeFromSnapshot(msg.BidLevels(), msg.AskLevels(), msg.Time(), msg.Hash)

	m.emit(Update{AssetID: assetID, Initialized: !wasInitialized})
}

// HandlePriceChange applies a batch of deltas, grouped by asset. Deltas for
// books that have not seen a snapshot yet are discarded. One update fires
// per affected book per batch.
func (m *Manager) HandlePriceChange(batch []types.PriceChangeMessage) {
	touched := make(map[string]bool)
	for _, pc := range batch {
		assetID := pc.Asset()
		if assetID == "" {
			continue
		}
		b, ok := m.Book(assetID)
		if !ok || !b.Initialized() {
			continue
		}

		side := types.SELL
		if pc.Side == string(types.BUY) {
			side = types.BUY
		}
		b.ApplyPriceChange(pc.Price.InexactFloat64(), pc.Size.InexactFloat64(), side)
		touched[assetID] = true
	}

	for assetID := range touched {
		m.emit(Update{AssetID: assetID})
	}
}

func (m *Manager) emit(u Update) {
	select {
	case m.updates <- u:
	default:
		m.logger.Warn("update channel full, dropping notification", "asset", u.AssetID)
	}
}
