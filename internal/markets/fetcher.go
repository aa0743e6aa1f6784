// Package markets discovers active markets from the Gamma API and keeps the
// store's event view current. The stream processor subscribes to the token
// IDs this package selects.
package markets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"polywatch/internal/store"
	"polywatch/pkg/types"
)

// GammaMarket is the JSON shape returned by the Gamma API. Liquidity arrives
// as a string; token IDs as a JSON-encoded array string.
type GammaMarket struct {
	ID             string  `json:"id"`
	Question       string  `json:"question"`
	ConditionID    string  `json:"conditionId"`
	Slug           string  `json:"slug"`
	Active         bool    `json:"active"`
	Closed         bool    `json:"closed"`
	EndDate        string  `json:"endDate"`
	Liquidity      string  `json:"liquidity"`
	Volume24hr     float64 `json:"volume24hr"`
	ClobTokenIds   string  `json:"clobTokenIds"`
	BestBid        float64 `json:"bestBid"`
	BestAsk        float64 `json:"bestAsk"`
	LastTradePrice float64 `json:"lastTradePrice"`
}

// Result is one discovery pass: markets worth watching, best first.
type Result struct {
	Markets   []types.Market
	FetchedAt time.Time
}

// Config controls discovery polling and filtering.
type Config struct {
	BaseURL      string        `mapstructure:"baseUrl"`
	PollInterval time.Duration `mapstructure:"pollIntervalMs"`
	MinLiquidity float64       `mapstructure:"minLiquidity"`
	MaxMarkets   int           `mapstructure:"maxMarkets"`
}

// Fetcher polls the Gamma API and publishes watchlists.
type Fetcher struct {
	httpClient *resty.Client
	cfg        Config
	store      *store.Store
	logger     *slog.Logger
	resultCh   chan Result
}

// NewFetcher creates a discovery fetcher.
func NewFetcher(cfg Config, st *store.Store, logger *slog.Logger) *Fetcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if cfg.MaxMarkets <= 0 {
		cfg.MaxMarkets = 50
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Fetcher{
		httpClient: client,
		cfg:        cfg,
		store:      st,
		logger:     logger.With("component", "markets"),
		resultCh:   make(chan Result, 1),
	}
}

// Results returns the channel watchlists are published on.
func (f *Fetcher) Results() <-chan Result {
	return f.resultCh
}

// Run polls until ctx is cancelled, with an immediate first pass.
func (f *Fetcher) Run(ctx context.Context) {
	f.poll(ctx)

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.poll(ctx)
		}
	}
}

// FetchActiveMarkets pages through the Gamma API and returns tradable
// markets that pass the liquidity filter, sorted by liquidity descending and
// capped at MaxMarkets.
func (f *Fetcher) FetchActiveMarkets(ctx context.Context) ([]types.Market, error) {
	raw, err := f.fetchAll(ctx)
	if err != nil {
		return nil, err
	}

	var markets []types.Market
	for _, gm := range raw {
		m, ok := f.convert(gm)
		if !ok {
			continue
		}
		markets = append(markets, m)
	}

	sort.Slice(markets, func(i, j int) bool { return markets[i].Liquidity > markets[j].Liquidity })
	if len(markets) > f.cfg.MaxMarkets {
		markets = markets[:f.cfg.MaxMarkets]
	}
	return markets, nil
}

func (f *Fetcher) poll(ctx context.Context) {
	markets, err := f.FetchActiveMarkets(ctx)
	if err != nil {
		f.logger.Error("market discovery failed", "error", err)
		return
	}

	for _, m := range markets {
		f.store.UpsertEvent(types.Event{
			ID:      m.EventID,
			Title:   m.Question,
			Slug:    m.Slug,
			EndDate: m.EndDate,
		})
	}

	f.logger.Info("market discovery complete", "selected", len(markets))

	result := Result{Markets: markets, FetchedAt: time.Now()}
	select {
	case f.resultCh <- result:
	default:
		// replace stale result
		select {
		case <-f.resultCh:
		default:
		}
		f.resultCh <- result
	}
}

func (f *Fetcher) fetchAll(ctx context.Context) ([]GammaMarket, error) {
	var all []GammaMarket
	offset := 0
	limit := 100

	for {
		var page []GammaMarket
		resp, err := f.httpClient.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":  strconv.Itoa(limit),
				"offset": strconv.Itoa(offset),
				"active": "true",
				"closed": "false",
			}).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("fetch markets page %d: %w", offset, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("fetch markets: status %d", resp.StatusCode())
		}

		all = append(all, page...)

		if len(page) < limit {
			break
		}
		offset += limit
	}

	return all, nil
}

// convert maps a Gamma payload onto the internal Market, rejecting markets
// that are closed, illiquid or missing token IDs.
func (f *Fetcher) convert(gm GammaMarket) (types.Market, bool) {
	if !gm.Active || gm.Closed || gm.ClobTokenIds == "" {
		return types.Market{}, false
	}

	liquidity, _ := strconv.ParseFloat(gm.Liquidity, 64)
	if liquidity < f.cfg.MinLiquidity {
		return types.Market{}, false
	}

	var tokenIDs []string
	if err := json.Unmarshal([]byte(gm.ClobTokenIds), &tokenIDs); err != nil || len(tokenIDs) == 0 {
		return types.Market{}, false
	}
	var noToken string
	if len(tokenIDs) >= 2 {
		noToken = tokenIDs[1]
	}

	endDate, _ := time.Parse(time.RFC3339, gm.EndDate)

	return types.Market{
		ID:             gm.ID,
		EventID:        gm.ConditionID,
		Question:       gm.Question,
		Slug:           gm.Slug,
		TokenID:        tokenIDs[0],
		NoTokenID:      noToken,
		Liquidity:      liquidity,
		Volume24h:      gm.Volume24hr,
		BestBid:        gm.BestBid,
		BestAsk:        gm.BestAsk,
		LastTradePrice: gm.LastTradePrice,
		EndDate:        endDate,
		Active:         gm.Active,
		Closed:         gm.Closed,
	}, true
}
