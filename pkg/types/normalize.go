package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// firstPositive returns the first decimal with a positive value, as float64.
func firstPositive(vals ...decimal.Decimal) float64 {
	for _, v := range vals {
		if v.IsPositive() {
			return v.InexactFloat64()
		}
	}
	return 0
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Normalize resolves the message's synonym fields into a canonical Trade.
// The fallback timestamp is used when the message carries none. Addresses
// are lowercased here so nothing past the boundary needs to care.
func (m TradeMessage) Normalize(fallback time.Time) Trade {
	t := Trade{
		ID:      firstString(m.ID, m.TradeID),
		AssetID: m.Asset(),
		Price:   firstPositive(m.Price, m.LastPx, m.LastPxC),
		Size:    firstPositive(m.Size, m.Amount, m.Quantity),
		Maker:   strings.ToLower(firstString(m.Maker, m.MakerAlt)),
		Taker:   strings.ToLower(firstString(m.Taker, m.TakerAlt)),
	}

	switch strings.ToUpper(m.Side) {
	case "BUY":
		t.Side = BUY
	case "SELL":
		t.Side = SELL
	default:
		if b := m.isBuy(); b != nil {
			if *b {
				t.Side = BUY
			} else {
				t.Side = SELL
			}
		}
	}

	t.Timestamp = m.tradeTime()
	if t.Timestamp.IsZero() {
		t.Timestamp = fallback
	}
	return t
}

func (m TradeMessage) isBuy() *bool {
	if m.IsBuy != nil {
		return m.IsBuy
	}
	return m.IsBuyAlt
}

// tradeTime resolves the timestamp aliases. Numeric values above 1e12 are
// epoch milliseconds, smaller positive values epoch seconds; created_at
// variants are RFC 3339.
func (m TradeMessage) tradeTime() time.Time {
	if v := m.Timestamp.IntPart(); v > 0 {
		if v > 1_000_000_000_000 {
			return time.UnixMilli(v)
		}
		return time.Unix(v, 0)
	}
	for _, s := range []string{m.CreatedAt, m.CreatedAtC} {
		if s == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}
