package markets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"polywatch/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func gammaMarket(id string, liquidity float64) GammaMarket {
	return GammaMarket{
		ID:           id,
		Question:     "Will " + id + " happen?",
		ConditionID:  "cond-" + id,
		Slug:         "slug-" + id,
		Active:       true,
		EndDate:      "2026-06-01T00:00:00Z",
		Liquidity:    strconv.FormatFloat(liquidity, 'f', -1, 64),
		Volume24hr:   liquidity * 2,
		ClobTokenIds: fmt.Sprintf(`["%s-yes","%s-no"]`, id, id),
	}
}

func serveMarkets(t *testing.T, pages ...[]GammaMarket) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			t.Errorf("path = %q, want /markets", r.URL.Path)
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		page := offset / 100
		w.Header().Set("Content-Type", "application/json")
		if page >= len(pages) {
			w.Write([]byte("[]"))
			return
		}
		json.NewEncoder(w).Encode(pages[page])
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchActiveMarketsFiltersAndSorts(t *testing.T) {
	t.Parallel()
	closed := gammaMarket("closed", 90_000)
	closed.Closed = true
	inactive := gammaMarket("inactive", 90_000)
	inactive.Active = false
	noTokens := gammaMarket("no-tokens", 90_000)
	noTokens.ClobTokenIds = ""

	srv := serveMarkets(t, []GammaMarket{
		gammaMarket("small", 500),
		gammaMarket("mid", 20_000),
		gammaMarket("big", 80_000),
		closed, inactive, noTokens,
	})

	f := NewFetcher(Config{BaseURL: srv.URL, MinLiquidity: 1000, MaxMarkets: 50}, testStore(t), testLogger())
	markets, err := f.FetchActiveMarkets(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("markets = %d, want 2", len(markets))
	}
	if markets[0].ID != "big" || markets[1].ID != "mid" {
		t.Errorf("order = %s, %s, want big, mid", markets[0].ID, markets[1].ID)
	}
	if markets[0].TokenID != "big-yes" || markets[0].NoTokenID != "big-no" {
		t.Errorf("tokens = %q/%q", markets[0].TokenID, markets[0].NoTokenID)
	}
	if markets[0].EventID != "cond-big" {
		t.Errorf("eventID = %q, want cond-big", markets[0].EventID)
	}
	if markets[0].EndDate.IsZero() {
		t.Error("endDate should parse")
	}
}

func TestFetchActiveMarketsCapsCount(t *testing.T) {
	t.Parallel()
	var page []GammaMarket
	for i := 0; i < 10; i++ {
		page = append(page, gammaMarket(fmt.Sprintf("m%d", i), float64(1000*(i+1))))
	}
	srv := serveMarkets(t, page)

	f := NewFetcher(Config{BaseURL: srv.URL, MaxMarkets: 3}, testStore(t), testLogger())
	markets, err := f.FetchActiveMarkets(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(markets) != 3 {
		t.Fatalf("markets = %d, want 3", len(markets))
	}
	if markets[0].ID != "m9" {
		t.Errorf("top market = %s, want m9", markets[0].ID)
	}
}

func TestFetchActiveMarketsPaginates(t *testing.T) {
	t.Parallel()
	var first []GammaMarket
	for i := 0; i < 100; i++ {
		first = append(first, gammaMarket(fmt.Sprintf("p0-%d", i), 5000))
	}
	second := []GammaMarket{gammaMarket("p1-0", 5000)}
	srv := serveMarkets(t, first, second)

	f := NewFetcher(Config{BaseURL: srv.URL, MaxMarkets: 500}, testStore(t), testLogger())
	markets, err := f.FetchActiveMarkets(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(markets) != 101 {
		t.Errorf("markets = %d, want 101 across two pages", len(markets))
	}
}

func TestPollPublishesWatchlistAndUpsertsEvents(t *testing.T) {
	t.Parallel()
	srv := serveMarkets(t, []GammaMarket{gammaMarket("m1", 50_000)})
	st := testStore(t)
	f := NewFetcher(Config{BaseURL: srv.URL}, st, testLogger())

	f.poll(context.Background())

	select {
	case result := <-f.Results():
		if len(result.Markets) != 1 || result.Markets[0].ID != "m1" {
			t.Errorf("result = %+v", result.Markets)
		}
	case <-time.After(time.Second):
		t.Fatal("no watchlist published")
	}

	event, ok := st.Event("cond-m1")
	if !ok || event.Title != "Will m1 happen?" {
		t.Errorf("event = %+v, ok = %v", event, ok)
	}
}

func TestPollReplacesStaleResult(t *testing.T) {
	t.Parallel()
	srv := serveMarkets(t, []GammaMarket{gammaMarket("m1", 50_000)})
	f := NewFetcher(Config{BaseURL: srv.URL}, testStore(t), testLogger())

	// Two polls with nobody reading: the channel holds only the newest.
	f.poll(context.Background())
	f.poll(context.Background())

	got := <-f.Results()
	if len(got.Markets) != 1 {
		t.Errorf("markets = %d, want 1", len(got.Markets))
	}
	select {
	case <-f.Results():
		t.Error("channel should hold a single result")
	default:
	}
}

func TestFetchErrorSurfaces(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(Config{BaseURL: srv.URL}, testStore(t), testLogger())
	if _, err := f.FetchActiveMarkets(context.Background()); err == nil {
		t.Error("non-200 should surface an error")
	}
}
