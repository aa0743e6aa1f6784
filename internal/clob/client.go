// Package clob implements the rate-limited CLOB REST client.
//
// Every read goes through a named token bucket before touching the network:
//   - GetOrderBook → book bucket   (GET /book)
//   - GetTrades    → trades bucket (GET /trades)
//   - GetPrice     → general bucket (GET /price)
//   - GetMidpoint  → general bucket (GET /midpoint)
//
// HTTP 429 responses are retried with exponential backoff (1s doubling to
// 32s, six attempts); other non-2xx responses surface immediately as an
// HTTPError carrying status and body.
package clob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"polywatch/pkg/types"
)

const (
	maxAttempts    = 6
	initialBackoff = time.Second
	maxBackoff     = 32 * time.Second
)

// ErrRateLimited is returned when the API keeps answering 429 after all
// retry attempts are spent.
var ErrRateLimited = errors.New("clob: rate limited")

// HTTPError is a non-2xx, non-429 response from the API.
type HTTPError struct {
	Status int
	Body   string
	Path   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("clob: %s: status %d: %s", e.Path, e.Status, e.Body)
}

// BookResponse is the REST response from GET /book.
type BookResponse struct {
	Market    string            `json:"market"`
	AssetID   string            `json:"asset_id"`
	Bids      []types.WireLevel `json:"bids"`
	Asks      []types.WireLevel `json:"asks"`
	Hash      string            `json:"hash"`
	Timestamp string            `json:"timestamp"`
}

// TradeQuery filters GET /trades. Zero values are omitted.
type TradeQuery struct {
	Maker  string
	Market string
	Limit  int
	Before int64
	After  int64
}

// Client is the rate-limited CLOB REST client.
type Client struct {
	http   *resty.Client
	rl     *Limiter
	logger *slog.Logger
}

// NewClient creates a client against the given base URL.
func NewClient(baseURL string, limits RateLimits, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{
		http:   httpClient,
		rl:     NewLimiter(limits),
		logger: logger.With("component", "clob"),
	}
}

// Limiter exposes the client's buckets, shared with any other caller that
// needs to respect the same budget.
func (c *Client) Limiter() *Limiter { return c.rl }

// GetOrderBook fetches the order book for a single asset. An optional level
// caps the returned depth.
func (c *Client) GetOrderBook(ctx context.Context, assetID string, level ...int) (*BookResponse, error) {
	query := map[string]string{"token_id": assetID}
	if len(level) > 0 && level[0] > 0 {
		query["level"] = strconv.Itoa(level[0])
	}

	var result BookResponse
	if err := c.get(ctx, c.rl.Book, "/book", query, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTrades fetches executed trades matching the query, normalized to the
// canonical Trade shape.
func (c *Client) GetTrades(ctx context.Context, q TradeQuery) ([]types.Trade, error) {
	query := map[string]string{}
	if q.Maker != "" {
		query["maker"] = q.Maker
	}
	if q.Market != "" {
		query["market"] = q.Market
	}
	if q.Limit > 0 {
		query["limit"] = strconv.Itoa(q.Limit)
	}
	if q.Before > 0 {
		query["before"] = strconv.FormatInt(q.Before, 10)
	}
	if q.After > 0 {
		query["after"] = strconv.FormatInt(q.After, 10)
	}

	var raw []types.TradeMessage
	if err := c.get(ctx, c.rl.Trades, "/trades", query, &raw); err != nil {
		return nil, err
	}

	now := time.Now()
	trades := make([]types.Trade, 0, len(raw))
	for _, m := range raw {
		trades = append(trades, m.Normalize(now))
	}
	return trades, nil
}

// GetPrice fetches the current price for one side of an asset's book.
func (c *Client) GetPrice(ctx context.Context, assetID string, side ...types.Side) (float64, error) {
	query := map[string]string{"token_id": assetID}
	if len(side) > 0 && side[0] != "" {
		query["side"] = string(side[0])
	}

	var result struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := c.get(ctx, c.rl.General, "/price", query, &result); err != nil {
		return 0, err
	}
	return result.Price.InexactFloat64(), nil
}

// GetMidpoint fetches the midpoint price for an asset.
func (c *Client) GetMidpoint(ctx context.Context, assetID string) (float64, error) {
	var result struct {
		Mid decimal.Decimal `json:"mid"`
	}
	if err := c.get(ctx, c.rl.General, "/midpoint", map[string]string{"token_id": assetID}, &result); err != nil {
		return 0, err
	}
	return result.Mid.InexactFloat64(), nil
}

// get acquires a token from the bucket, issues the request, and handles 429
// backoff. Non-429 failures are not retried.
func (c *Client) get(ctx context.Context, bucket *Bucket, path string, query map[string]string, out any) error {
	if err := bucket.Acquire(ctx); err != nil {
		return err
	}

	delay := initialBackoff
	for attempt := 0; ; attempt++ {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(query).
			SetResult(out).
			Get(path)
		if err != nil {
			return fmt.Errorf("get %s: %w", path, err)
		}

		code := resp.StatusCode()
		switch {
		case code >= 200 && code < 300:
			return nil
		case code == http.StatusTooManyRequests:
			if attempt >= maxAttempts-1 {
				return fmt.Errorf("get %s after %d attempts: %w", path, maxAttempts, ErrRateLimited)
			}
			c.logger.Warn("rate limited, backing off", "path", path, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxBackoff {
				delay = maxBackoff
			}
		default:
			return &HTTPError{Status: code, Body: resp.String(), Path: path}
		}
	}
}
