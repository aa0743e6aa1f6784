package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestWireLevelUnmarshalObject(t *testing.T) {
	t.Parallel()
	var l WireLevel
	if err := json.Unmarshal([]byte(`{"price":"0.61","size":1500}`), &l); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	price, size := l.Float()
	if price != 0.61 || size != 1500 {
		t.Errorf("level = %v/%v, want 0.61/1500", price, size)
	}
}

func TestWireLevelUnmarshalTuple(t *testing.T) {
	t.Parallel()
	var l WireLevel
	if err := json.Unmarshal([]byte(`["0.59", "2000"]`), &l); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	price, size := l.Float()
	if price != 0.59 || size != 2000 {
		t.Errorf("level = %v/%v, want 0.59/2000", price, size)
	}
}

func TestAssetAliasResolution(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"asset_id", `{"asset_id":"t1"}`, "t1"},
		{"assetId", `{"assetId":"t2"}`, "t2"},
		{"market", `{"market":"t3"}`, "t3"},
		{"token_id", `{"token_id":"t4"}`, "t4"},
		{"tokenId", `{"tokenId":"t5"}`, "t5"},
		{"first wins", `{"asset_id":"a","market":"b"}`, "a"},
		{"absent", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var a AssetAliases
			if err := json.Unmarshal([]byte(tt.raw), &a); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := a.Resolve(); got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTradeMessageNormalizeAliases(t *testing.T) {
	t.Parallel()
	raw := `{
		"event_type": "last_trade_price",
		"market": "token-1",
		"trade_id": "t-9",
		"last_price": "0.42",
		"amount": "350",
		"isBuy": true,
		"maker_address": "0xABCDEF",
		"taker_address": "0x123456",
		"timestamp": 1700000000000
	}`
	var msg TradeMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	trade := msg.Normalize(time.Now())
	if trade.ID != "t-9" {
		t.Errorf("id = %q, want t-9", trade.ID)
	}
	if trade.AssetID != "token-1" {
		t.Errorf("asset = %q, want token-1", trade.AssetID)
	}
	if trade.Price != 0.42 || trade.Size != 350 {
		t.Errorf("price/size = %v/%v, want 0.42/350", trade.Price, trade.Size)
	}
	if trade.Side != BUY {
		t.Errorf("side = %q, want BUY", trade.Side)
	}
	if trade.Maker != "0xabcdef" || trade.Taker != "0x123456" {
		t.Errorf("addresses not lowercased: %q / %q", trade.Maker, trade.Taker)
	}
	if want := time.UnixMilli(1700000000000); !trade.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", trade.Timestamp, want)
	}
}

func TestTradeMessageNormalizeEpochSeconds(t *testing.T) {
	t.Parallel()
	raw := `{"asset_id":"a","price":"0.5","size":"10","side":"sell","timestamp":1700000000}`
	var msg TradeMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	trade := msg.Normalize(time.Now())
	if trade.Side != SELL {
		t.Errorf("side = %q, want SELL", trade.Side)
	}
	if want := time.Unix(1700000000, 0); !trade.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", trade.Timestamp, want)
	}
}

func TestTradeMessageNormalizeCreatedAt(t *testing.T) {
	t.Parallel()
	raw := `{"asset_id":"a","price":"0.5","size":"10","side":"buy","created_at":"2026-03-01T12:00:00Z"}`
	var msg TradeMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	trade := msg.Normalize(time.Now())
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !trade.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", trade.Timestamp, want)
	}
}

func TestTradeMessageNormalizeFallbackTime(t *testing.T) {
	t.Parallel()
	fallback := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var msg TradeMessage
	if err := json.Unmarshal([]byte(`{"asset_id":"a","price":0.5,"size":1}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	trade := msg.Normalize(fallback)
	if !trade.Timestamp.Equal(fallback) {
		t.Errorf("timestamp = %v, want fallback %v", trade.Timestamp, fallback)
	}
}

func TestBookMessageSideAliases(t *testing.T) {
	t.Parallel()
	raw := `{"event_type":"book","asset_id":"a","buys":[["0.6","100"]],"sells":[["0.7","200"]],"timestamp":"1700000000000"}`
	var msg BookMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(msg.BidLevels()) != 1 || len(msg.AskLevels()) != 1 {
		t.Fatalf("levels = %d/%d, want 1/1", len(msg.BidLevels()), len(msg.AskLevels()))
	}
	if msg.Time().IsZero() {
		t.Error("expected a parsed timestamp")
	}
}

func TestDirectionMultiplier(t *testing.T) {
	t.Parallel()
	tests := []struct {
		dir  Direction
		want float64
	}{
		{DirectionYes, 1},
		{DirectionNo, -1},
		{DirectionBuy, 0},
		{DirectionSell, 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := tt.dir.Multiplier(); got != tt.want {
			t.Errorf("Multiplier(%q) = %v, want %v", tt.dir, got, tt.want)
		}
	}
}

func TestWalletProfileHelpers(t *testing.T) {
	t.Parallel()
	now := time.Now()
	p := WalletProfile{
		Address:      "0xabc",
		FirstTradeAt: now.Add(-48 * time.Hour),
		SuspiciousFlags: []SuspiciousFlag{
			{Flag: "high_win_rate", AddedAt: now},
		},
	}

	if !p.HasFlag("high_win_rate") {
		t.Error("HasFlag should find existing flag")
	}
	if p.HasFlag("unusual_timing") {
		t.Error("HasFlag should not find absent flag")
	}
	if age := p.AgeDays(now); age < 1.99 || age > 2.01 {
		t.Errorf("AgeDays = %v, want ~2", age)
	}
}
