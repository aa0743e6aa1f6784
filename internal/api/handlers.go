package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"polywatch/internal/book"
	"polywatch/internal/signal"
	"polywatch/internal/store"
	"polywatch/internal/stream"
	"polywatch/internal/whale"
)

// Handlers holds the read-only views over the core.
type Handlers struct {
	store     *store.Store
	books     *book.Manager
	adjuster  *whale.Adjuster
	processor *stream.Processor
	logger    *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(st *store.Store, books *book.Manager, adjuster *whale.Adjuster, processor *stream.Processor, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:     st,
		books:     books,
		adjuster:  adjuster,
		processor: processor,
		logger:    logger.With("component", "api-handlers"),
	}
}

// HandleHealth returns a simple liveness response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"})
}

// HandleStatus returns the stream processor's counters and uptime.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.processor.Status())
}

// HandleEvents lists tracked events.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.store.ListEvents())
}

// HandleBook returns the mirrored book for one asset: stats, best levels and
// analyzer output.
func (h *Handlers) HandleBook(w http.ResponseWriter, r *http.Request) {
	assetID := r.PathValue("asset")
	b, ok := h.books.Book(assetID)
	if !ok {
		http.Error(w, "unknown asset", http.StatusNotFound)
		return
	}

	depth := 10
	if d := r.URL.Query().Get("depth"); d != "" {
		if n, err := strconv.Atoi(d); err == nil && n > 0 {
			depth = n
		}
	}
	bids, asks := b.Depth(depth)

	h.writeJSON(w, map[string]any{
		"stats":    b.Stats(),
		"bids":     bids,
		"asks":     asks,
		"analysis": book.Analyze(b),
	})
}

// HandleSignals returns signals for an event with their summed adjustment.
func (h *Handlers) HandleSignals(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event")
	signals := h.store.SignalsByEvent(eventID)

	summary := signal.Summary{EventID: eventID, Count: len(signals), Signals: signals}
	for _, s := range signals {
		summary.TotalAdjustment += s.Adjustment
	}
	h.writeJSON(w, summary)
}

// HandlePatterns returns every persisted detection.
func (h *Handlers) HandlePatterns(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.store.Patterns())
}

// HandleWhales returns the persisted whale trades.
func (h *Handlers) HandleWhales(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.store.WhaleTrades())
}

// HandleWhaleActivity returns the decayed whale signal for one asset,
// optionally with a probability adjusted from a base query parameter.
func (h *Handlers) HandleWhaleActivity(w http.ResponseWriter, r *http.Request) {
	assetID := r.PathValue("asset")
	activity, ok := h.adjuster.WhaleActivity(assetID)
	if !ok {
		http.Error(w, "no whale activity", http.StatusNotFound)
		return
	}

	resp := map[string]any{"activity": activity}
	if base := r.URL.Query().Get("base"); base != "" {
		if p, err := strconv.ParseFloat(base, 64); err == nil {
			resp["adjustedProbability"] = h.adjuster.AdjustedProbability(assetID, p)
		}
	}
	h.writeJSON(w, resp)
}

// HandleWallet returns one wallet profile.
func (h *Handlers) HandleWallet(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	profile, ok := h.store.WalletProfile(address)
	if !ok {
		http.Error(w, "unknown wallet", http.StatusNotFound)
		return
	}
	h.writeJSON(w, profile)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
