// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the surveillance engine — trades,
// order book levels, wallet profiles, detected patterns, and WebSocket message
// payloads. It has no dependencies on internal packages, so it can be imported
// by any layer.
package types

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a trade: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Direction is the outcome a signal points at. YES and NO carry a sign for
// probability adjustments (+1 / -1); BUY and SELL are directional but neutral
// for adjustment purposes. The empty string means no direction.
type Direction string

const (
	DirectionYes  Direction = "YES"
	DirectionNo   Direction = "NO"
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Multiplier returns the sign applied to probability adjustments: +1 for YES,
// -1 for NO, 0 for everything else.
func (d Direction) Multiplier() float64 {
	switch d {
	case DirectionYes:
		return 1
	case DirectionNo:
		return -1
	default:
		return 0
	}
}

// Severity ranks how serious a detection is.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// ————————————————————————————————————————————————————————————————————————
// Canonical model
// ————————————————————————————————————————————————————————————————————————

// Trade is the canonical, normalized trade record. Feed and REST payloads
// arrive with synonym field names; the ingress layer resolves them before a
// Trade reaches any consumer, so everything past the boundary is strict.
type Trade struct {
	ID        string    `json:"id"`
	AssetID   string    `json:"assetId"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Side      Side      `json:"side"`
	Maker     string    `json:"maker,omitempty"`
	Taker     string    `json:"taker,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notional returns the USD value of the trade.
func (t Trade) Notional() float64 { return t.Price * t.Size }

// Level is a single bid or ask level with parsed numerics.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Event is a prediction-market event (a question) grouping one or more markets.
type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	EndDate   time.Time `json:"endDate,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Market is one tradable binary market within an event. TokenID identifies the
// YES-outcome asset on the CLOB; the NO token is tracked separately when needed.
type Market struct {
	ID             string    `json:"id"`
	EventID        string    `json:"eventId"`
	Question       string    `json:"question"`
	Slug           string    `json:"slug"`
	TokenID        string    `json:"tokenId"`
	NoTokenID      string    `json:"noTokenId,omitempty"`
	Liquidity      float64   `json:"liquidity"`
	Volume24h      float64   `json:"volume24h"`
	BestBid        float64   `json:"bestBid"`
	BestAsk        float64   `json:"bestAsk"`
	LastTradePrice float64   `json:"lastTradePrice"`
	EndDate        time.Time `json:"endDate,omitempty"`
	ResolutionDate time.Time `json:"resolutionDate,omitempty"`
	Active         bool      `json:"active"`
	Closed         bool      `json:"closed"`
}

// ResolvesAt returns the market's resolution time: EndDate if set, otherwise
// ResolutionDate. The zero time means the market carries no deadline.
func (m Market) ResolvesAt() time.Time {
	if !m.EndDate.IsZero() {
		return m.EndDate
	}
	return m.ResolutionDate
}

// ————————————————————————————————————————————————————————————————————————
// Wallet tracking
// ————————————————————————————————————————————————————————————————————————

// SuspiciousFlag marks one suspicious behavior observed on a wallet.
// Flags are unique by name within a profile.
type SuspiciousFlag struct {
	Flag     string         `json:"flag"`
	AddedAt  time.Time      `json:"addedAt"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// WalletProfile is the accumulated trading history and risk assessment for one
// wallet address. Addresses are stored lowercased.
type WalletProfile struct {
	Address           string           `json:"address"`
	FirstTradeAt      time.Time        `json:"firstTradeAt"`
	LastTradeAt       time.Time        `json:"lastTradeAt"`
	TotalTrades       int              `json:"totalTrades"`
	TotalVolume       float64          `json:"totalVolume"`
	AvgTradeSize      float64          `json:"avgTradeSize"`
	MaxTradeSize      float64          `json:"maxTradeSize"`
	ResolvedPositions int              `json:"resolvedPositions"`
	Wins              int              `json:"wins"`
	Losses            int              `json:"losses"`
	WinRate           float64          `json:"winRate"`
	AvgProfit         float64          `json:"avgProfit"`
	RiskScore         float64          `json:"riskScore"`
	SuspiciousFlags   []SuspiciousFlag `json:"suspiciousFlags,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// HasFlag reports whether the profile already carries the named flag.
func (p *WalletProfile) HasFlag(name string) bool {
	for _, f := range p.SuspiciousFlags {
		if f.Flag == name {
			return true
		}
	}
	return false
}

// AgeDays returns the wallet age in days measured from its first trade.
func (p *WalletProfile) AgeDays(now time.Time) float64 {
	if p.FirstTradeAt.IsZero() {
		return 0
	}
	return now.Sub(p.FirstTradeAt).Hours() / 24
}

// FundingEvent records an inbound transfer that funded a wallet. Events are
// supplied by external collaborators; the engine only indexes them.
type FundingEvent struct {
	Address   string    `json:"address"`
	Source    string    `json:"source"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// Detections
// ————————————————————————————————————————————————————————————————————————

// Pattern is a durable record of one detected suspicious pattern.
// Persisted to disk as JSON.
type Pattern struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	EventID    string         `json:"eventId,omitempty"`
	AssetID    string         `json:"assetId,omitempty"`
	Confidence float64        `json:"confidence"`
	Direction  Direction      `json:"direction,omitempty"`
	Severity   Severity       `json:"severity"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	TradeID    string         `json:"tradeId,omitempty"`
	DetectedAt time.Time      `json:"detectedAt"`
}

// WhaleTrade is a trade that cleared both the absolute notional threshold and
// the relative book-depth threshold, enriched with book context at detection
// time. Persisted to disk as JSON.
type WhaleTrade struct {
	ID            string    `json:"id"`
	AssetID       string    `json:"assetId"`
	Price         float64   `json:"price"`
	Size          float64   `json:"size"`
	Side          Side      `json:"side"`
	Notional      float64   `json:"notional"`
	DepthPercent  float64   `json:"depthPercent"`
	BookDepth     float64   `json:"bookDepth"`
	Spread        float64   `json:"spread"`
	SpreadPercent float64   `json:"spreadPercent"`
	MidPrice      float64   `json:"midPrice"`
	Imbalance     float64   `json:"imbalance"`
	Timestamp     time.Time `json:"timestamp"`
}

// Signal is a persisted detection produced by a signal processor via the
// registry. Adjustment = Confidence × Weight × Direction.Multiplier().
type Signal struct {
	ID         string         `json:"id"`
	EventID    string         `json:"eventId"`
	SignalType string         `json:"signalType"`
	Severity   Severity       `json:"severity"`
	Confidence float64        `json:"confidence"`
	Direction  Direction      `json:"direction,omitempty"`
	Weight     float64        `json:"weight"`
	Adjustment float64        `json:"adjustment"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	TradeID    string         `json:"tradeId,omitempty"`
	DetectedAt time.Time      `json:"detectedAt"`
}

// Article is generated commentary attached to an event. Generation happens
// outside the core; the store only indexes articles by event and slug.
type Article struct {
	ID        string    `json:"id"`
	EventID   string    `json:"eventId"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Prediction is a stored probability estimate for an event.
type Prediction struct {
	ID          string    `json:"id"`
	EventID     string    `json:"eventId"`
	Probability float64   `json:"probability"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BookSnapshot is a liquidity-tracking record of one order book at an instant.
// Kept in a bounded per-asset ring buffer.
type BookSnapshot struct {
	AssetID    string    `json:"assetId"`
	Bids       []Level   `json:"bids"`
	Asks       []Level   `json:"asks"`
	BidDepth   float64   `json:"bidDepth"`
	AskDepth   float64   `json:"askDepth"`
	TotalDepth float64   `json:"totalDepth"`
	BestBid    float64   `json:"bestBid"`
	BestAsk    float64   `json:"bestAsk"`
	MidPrice   float64   `json:"midPrice"`
	BidLevels  int       `json:"bidLevels"`
	AskLevels  int       `json:"askLevels"`
	RecordedAt time.Time `json:"recordedAt"`
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket wire messages
// ————————————————————————————————————————————————————————————————————————
// These structs map to the JSON frames sent over the market-data WebSocket.
// The feed is tolerant on the wire — prices and sizes may be strings or
// numbers, levels may be objects or [price, size] tuples, and several field
// names have synonyms — so wire types absorb all shapes and expose accessors
// that resolve them. decimal.Decimal unmarshals both quoted and bare numbers.

// WireLevel is a book level as it appears on the wire: either
// {"price": ..., "size": ...} or a [price, size] tuple.
type WireLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// UnmarshalJSON accepts both the object and the tuple encoding.
func (l *WireLevel) UnmarshalJSON(data []byte) error {
	type plain WireLevel
	var obj plain
	if err := json.Unmarshal(data, &obj); err == nil {
		*l = WireLevel(obj)
		return nil
	}
	var tup []decimal.Decimal
	if err := json.Unmarshal(data, &tup); err != nil {
		return err
	}
	if len(tup) >= 2 {
		l.Price = tup[0]
		l.Size = tup[1]
	}
	return nil
}

// Float returns the parsed price and size.
func (l WireLevel) Float() (price, size float64) {
	return l.Price.InexactFloat64(), l.Size.InexactFloat64()
}

// AssetAliases holds every synonym the feed uses for the asset identifier.
type AssetAliases struct {
	AssetID    string `json:"asset_id"`
	AssetIDAlt string `json:"assetId"`
	Market     string `json:"market"`
	TokenID    string `json:"token_id"`
	TokenIDAlt string `json:"tokenId"`
}

// Resolve returns the first non-empty alias.
func (a AssetAliases) Resolve() string {
	for _, s := range []string{a.AssetID, a.AssetIDAlt, a.Market, a.TokenID, a.TokenIDAlt} {
		if s != "" {
			return s
		}
	}
	return ""
}

// BookMessage is a full order book snapshot frame.
type BookMessage struct {
	EventType string `json:"event_type"`
	Type      string `json:"type"`
	AssetAliases
	Bids      []WireLevel     `json:"bids"`
	Asks      []WireLevel     `json:"asks"`
	Buys      []WireLevel     `json:"buys"`  // alternate side naming
	Sells     []WireLevel     `json:"sells"` // alternate side naming
	Timestamp decimal.Decimal `json:"timestamp"`
	Hash      string          `json:"hash"`
}

// Asset returns the normalized asset identifier, or "" if absent.
func (m BookMessage) Asset() string { return m.AssetAliases.Resolve() }

// BidLevels returns whichever bid-side field the frame used.
func (m BookMessage) BidLevels() []WireLevel {
	if len(m.Bids) > 0 {
		return m.Bids
	}
	return m.Buys
}

// AskLevels returns whichever ask-side field the frame used.
func (m BookMessage) AskLevels() []WireLevel {
	if len(m.Asks) > 0 {
		return m.Asks
	}
	return m.Sells
}

// Time converts the frame's epoch-milliseconds timestamp; zero if absent.
func (m BookMessage) Time() time.Time {
	ms := m.Timestamp.IntPart()
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// PriceChangeMessage is one incremental book delta. Frames may carry a single
// object or an array of them.
type PriceChangeMessage struct {
	EventType string `json:"event_type"`
	Type      string `json:"type"`
	AssetAliases
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Side  string          `json:"side"`
}

// Asset returns the normalized asset identifier, or "" if absent.
func (m PriceChangeMessage) Asset() string { return m.AssetAliases.Resolve() }

// TradeMessage is a last_trade_price frame carrying an executed trade.
// Every numeric and identity field tolerates the feed's synonym names.
type TradeMessage struct {
	EventType string `json:"event_type"`
	Type      string `json:"type"`
	AssetAliases
	ID       string `json:"id"`
	TradeID  string `json:"trade_id"`
	Side     string `json:"side"`
	IsBuy    *bool  `json:"is_buy"`
	IsBuyAlt *bool  `json:"isBuy"`

	Price    decimal.Decimal `json:"price"`
	LastPx   decimal.Decimal `json:"last_price"`
	LastPxC  decimal.Decimal `json:"lastPrice"`
	Size     decimal.Decimal `json:"size"`
	Amount   decimal.Decimal `json:"amount"`
	Quantity decimal.Decimal `json:"quantity"`

	Maker    string `json:"maker"`
	MakerAlt string `json:"maker_address"`
	Taker    string `json:"taker"`
	TakerAlt string `json:"taker_address"`

	Timestamp  decimal.Decimal `json:"timestamp"`
	CreatedAt  string          `json:"created_at"`
	CreatedAtC string          `json:"createdAt"`
}

// Asset returns the normalized asset identifier, or "" if absent.
func (m TradeMessage) Asset() string { return m.AssetAliases.Resolve() }
