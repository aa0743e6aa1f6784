package signal

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"polywatch/internal/book"
	"polywatch/internal/store"
	"polywatch/pkg/types"
)

// Summary aggregates the stored signals for one event.
type Summary struct {
	EventID         string         `json:"eventId"`
	Count           int            `json:"count"`
	Signals         []types.Signal `json:"signals"`
	TotalAdjustment float64        `json:"totalAdjustment"`
}

// Registry owns the processor list and dispatches inputs across it. A
// processor failure is logged and skipped; it never halts the pipeline.
type Registry struct {
	processors []Processor
	store      *store.Store
	logger     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(st *store.Store, logger *slog.Logger) *Registry {
	return &Registry{store: st, logger: logger.With("component", "registry")}
}

// Register appends a processor. Not safe to call after dispatch starts.
func (r *Registry) Register(p Processor) {
	r.processors = append(r.processors, p)
}

// Processors returns the registered processor names in order.
func (r *Registry) Processors() []string {
	names := make([]string, len(r.processors))
	for i, p := range r.processors {
		names[i] = p.Name()
	}
	return names
}

// ProcessEvent runs the batch-compatible processors (market and batch kinds)
// over one market snapshot and persists each detection.
func (r *Registry) ProcessEvent(event types.Event, market types.Market) []types.Signal {
	in := Input{Event: event, Market: market}

	var signals []types.Signal
	for _, p := range r.processors {
		if p.Kind() == KindTrade {
			continue
		}
		if sig, ok := r.run(p, in); ok {
			signals = append(signals, sig)
		}
	}
	return signals
}

// ProcessRealTimeTrade runs the real-time processors (trade and market kinds)
// over one trade with its book context and persists each detection.
func (r *Registry) ProcessRealTimeTrade(event types.Event, market types.Market, trade types.Trade, b *book.OrderBook) []types.Signal {
	in := Input{Event: event, Market: market, Trade: &trade, Book: b}

	var signals []types.Signal
	for _, p := range r.processors {
		if p.Kind() == KindBatch {
			continue
		}
		if sig, ok := r.run(p, in); ok {
			signals = append(signals, sig)
		}
	}
	return signals
}

// SignalsSummary returns the stored signals for an event with their summed
// adjustment.
func (r *Registry) SignalsSummary(eventID string) Summary {
	signals := r.store.SignalsByEvent(eventID)
	s := Summary{EventID: eventID, Count: len(signals), Signals: signals}
	for _, sig := range signals {
		s.TotalAdjustment += sig.Adjustment
	}
	return s
}

// run invokes one processor, isolating errors and panics, and persists a
// detection as a Signal record.
func (r *Registry) run(p Processor, in Input) (sig types.Signal, ok bool) {
	res, err := r.invoke(p, in)
	if err != nil {
		r.logger.Error("processor failed",
			"processor", p.Name(),
			"event", in.Event.ID,
			"error", err)
		return types.Signal{}, false
	}
	if !res.Detected {
		return types.Signal{}, false
	}

	sig = types.Signal{
		ID:         uuid.NewString(),
		EventID:    in.Event.ID,
		SignalType: p.Name(),
		Severity:   res.Severity,
		Confidence: res.Confidence,
		Direction:  res.Direction,
		Weight:     p.Weight(),
		Adjustment: Adjustment(res, p.Weight()),
		Metadata:   res.Metadata,
		DetectedAt: time.Now(),
	}
	if in.Trade != nil {
		sig.TradeID = in.Trade.ID
	}
	r.store.SaveSignal(sig)
	return sig, true
}

func (r *Registry) invoke(p Processor, in Input) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("processor %s panicked: %v", p.Name(), rec)
		}
	}()
	return p.Process(in)
}
