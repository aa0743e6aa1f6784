// Package feed implements the resilient market-data subscription client.
//
// A single WebSocket connection multiplexes per-asset subscriptions for the
// event kinds the feed publishes (book, price_change, last_trade_price,
// tick_size_change). The client owns the connection lifecycle:
//
//   - Disconnected → Connecting → Connected, driven by Connect/Disconnect
//     and transport closes.
//   - Unintentional closes schedule reconnects with exponential backoff plus
//     jitter, capped at a configurable attempt count; on exhaustion a
//     terminal error is emitted and the client stays Disconnected.
//   - All tracked subscriptions are re-sent after every reconnect.
//   - A heartbeat ping frame is sent on an interval; the peer's pong is
//     ignored (the transport close is authoritative for liveness).
//
// Inbound frames are classified by their type/event_type field and fanned out
// on typed buffered channels; consumers that fall behind lose frames rather
// than stalling the read loop. Non-JSON payloads (the feed emits plain-text
// control strings) are dropped silently.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polywatch/pkg/types"
)

// Kind is a feed event kind an asset can be subscribed to.
type Kind string

const (
	KindBook           Kind = "book"
	KindPriceChange    Kind = "price_change"
	KindLastTradePrice Kind = "last_trade_price"
	KindTickSizeChange Kind = "tick_size_change"
)

// AllKinds lists every subscribable kind.
func AllKinds() []Kind {
	return []Kind{KindBook, KindPriceChange, KindLastTradePrice, KindTickSizeChange}
}

// State is the connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnEventKind tags connection lifecycle notifications.
type ConnEventKind string

const (
	ConnConnected    ConnEventKind = "connected"
	ConnDisconnected ConnEventKind = "disconnected"
	ConnTerminal     ConnEventKind = "terminal"
)

// ConnEvent is a connection lifecycle notification.
type ConnEvent struct {
	Kind ConnEventKind
	Err  error
}

// ErrEmptyAsset is returned by Subscribe/Unsubscribe for a blank asset ID.
var ErrEmptyAsset = errors.New("feed: empty asset id")

// ErrNotConnected is returned when a write is attempted with no transport.
var ErrNotConnected = errors.New("feed: not connected")

const (
	writeTimeout     = 10 * time.Second
	eventBufferSize  = 256
	tradeBufferSize  = 128
	jitterMax        = time.Second
	maxDelayMultiple = 10 // reconnect delay cap = maxDelayMultiple × base delay
)

// Options tunes the client. Zero values fall back to defaults.
type Options struct {
	ReconnectAttempts int           // default 10
	ReconnectDelay    time.Duration // base backoff delay, default 5s
	HeartbeatInterval time.Duration // ping cadence, default 30s
}

func (o Options) withDefaults() Options {
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = 10
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	return o
}

// subscribeFrame is the outbound wire format for subscribe/unsubscribe.
type subscribeFrame struct {
	Type     string   `json:"type"`
	Action   string   `json:"action"`
	AssetIDs []string `json:"assets_ids"`
}

// pingFrame is the heartbeat payload.
type pingFrame struct {
	Type string `json:"type"`
}

// Client maintains the persistent subscription connection.
type Client struct {
	url  string
	opts Options

	mu          sync.Mutex
	conn        *websocket.Conn
	state       State
	intentional bool
	attempts    int
	subs        map[string]map[Kind]struct{}
	reconnectT  *time.Timer
	sessCancel  context.CancelFunc // stops read + heartbeat for the current conn

	bookCh     chan types.BookMessage
	priceCh    chan []types.PriceChangeMessage
	tradeCh    chan types.TradeMessage
	tickCh     chan json.RawMessage
	messageCh  chan json.RawMessage
	errCh      chan error
	connEvents chan ConnEvent

	logger *slog.Logger
}

// NewClient creates a subscription client for the given WebSocket URL.
func NewClient(url string, opts Options, logger *slog.Logger) *Client {
	return &Client{
		url:        url,
		opts:       opts.withDefaults(),
		subs:       make(map[string]map[Kind]struct{}),
		bookCh:     make(chan types.BookMessage, eventBufferSize),
		priceCh:    make(chan []types.PriceChangeMessage, eventBufferSize),
		tradeCh:    make(chan types.TradeMessage, tradeBufferSize),
		tickCh:     make(chan json.RawMessage, tradeBufferSize),
		messageCh:  make(chan json.RawMessage, tradeBufferSize),
		errCh:      make(chan error, 16),
		connEvents: make(chan ConnEvent, 16),
		logger:     logger.With("component", "feed"),
	}
}

// Books returns the channel of full book snapshots.
func (c *Client) Books() <-chan types.BookMessage { return c.bookCh }

// PriceChanges returns the channel of incremental book deltas, batched as
// they arrived on the wire.
func (c *Client) PriceChanges() <-chan []types.PriceChangeMessage { return c.priceCh }

// Trades returns the channel of last_trade_price messages.
func (c *Client) Trades() <-chan types.TradeMessage { return c.tradeCh }

// TickSizeChanges returns the channel of raw tick_size_change frames.
func (c *Client) TickSizeChanges() <-chan json.RawMessage { return c.tickCh }

// Messages returns the channel of frames with an unknown kind.
func (c *Client) Messages() <-chan json.RawMessage { return c.messageCh }

// Errors returns the channel of protocol and terminal errors. The client
// never blocks on it; an undrained channel simply drops errors.
func (c *Client) Errors() <-chan error { return c.errCh }

// ConnEvents returns connection lifecycle notifications.
func (c *Client) ConnEvents() <-chan ConnEvent { return c.connEvents }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the feed. On success the client is Connected, the heartbeat
// is running, and all tracked subscriptions have been re-sent. A dial error
// fails the call and leaves the client Disconnected without scheduling
// reconnects.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return fmt.Errorf("feed: connect in state %s", c.state)
	}
	c.state = Connecting
	c.intentional = false
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		return err
	}
	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
	return nil
}

// Disconnect marks the close as intentional, stops the heartbeat and any
// pending reconnect, and closes the transport. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	if c.reconnectT != nil {
		c.reconnectT.Stop()
		c.reconnectT = nil
	}
	if c.sessCancel != nil {
		c.sessCancel()
		c.sessCancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Subscribe tracks the asset's kinds and, when connected, transmits one
// subscribe frame per kind not already tracked. Re-subscribing already
// tracked kinds is a no-op.
func (c *Client) Subscribe(assetID string, kinds ...Kind) error {
	if assetID == "" {
		return ErrEmptyAsset
	}
	if len(kinds) == 0 {
		kinds = AllKinds()
	}

	c.mu.Lock()
	existing := c.subs[assetID]
	if existing == nil {
		existing = make(map[Kind]struct{})
		c.subs[assetID] = existing
	}
	var added []Kind
	for _, k := range kinds {
		if _, ok := existing[k]; !ok {
			existing[k] = struct{}{}
			added = append(added, k)
		}
	}
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected || len(added) == 0 {
		return nil
	}
	for _, k := range added {
		if err := c.writeJSON(subscribeFrame{Type: string(k), Action: "subscribe", AssetIDs: []string{assetID}}); err != nil {
			return fmt.Errorf("subscribe %s/%s: %w", assetID, k, err)
		}
	}
	return nil
}

// Unsubscribe sends an unsubscribe frame per tracked kind and clears the
// asset's entry. Unknown assets are a no-op.
func (c *Client) Unsubscribe(assetID string) error {
	if assetID == "" {
		return ErrEmptyAsset
	}

	c.mu.Lock()
	kinds := c.subs[assetID]
	delete(c.subs, assetID)
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	for k := range kinds {
		if err := c.writeJSON(subscribeFrame{Type: string(k), Action: "unsubscribe", AssetIDs: []string{assetID}}); err != nil {
			return fmt.Errorf("unsubscribe %s/%s: %w", assetID, k, err)
		}
	}
	return nil
}

// Subscriptions returns a copy of the tracked subscription set.
func (c *Client) Subscriptions() map[string][]Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]Kind, len(c.subs))
	for asset, kinds := range c.subs {
		for k := range kinds {
			out[asset] = append(out[asset], k)
		}
	}
	return out
}

// dial opens the transport, transitions to Connected, starts the session
// goroutines, and replays tracked subscriptions.
func (c *Client) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.sessCancel = cancel
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.heartbeatLoop(sessCtx)

	c.emitConn(ConnEvent{Kind: ConnConnected})
	c.logger.Info("feed connected", "url", c.url)

	if err := c.resubscribeAll(); err != nil {
		c.logger.Warn("resubscribe failed", "error", err)
	}
	return nil
}

// resubscribeAll re-sends every tracked subscription frame.
func (c *Client) resubscribeAll() error {
	c.mu.Lock()
	frames := make([]subscribeFrame, 0, len(c.subs))
	for asset, kinds := range c.subs {
		for k := range kinds {
			frames = append(frames, subscribeFrame{Type: string(k), Action: "subscribe", AssetIDs: []string{asset}})
		}
	}
	c.mu.Unlock()

	for _, f := range frames {
		if err := c.writeJSON(f); err != nil {
			return err
		}
	}
	return nil
}

// readLoop drains the connection until it closes, then hands off to the
// disconnect path.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.dispatch(msg)
	}
}

// handleClose transitions to Disconnected and schedules a reconnect unless
// the close was caller-initiated.
func (c *Client) handleClose(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer session owns the state; this close belongs to a stale conn.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = Disconnected
	if c.sessCancel != nil {
		c.sessCancel()
		c.sessCancel = nil
	}
	intentional := c.intentional
	c.mu.Unlock()

	conn.Close()

	if intentional {
		return
	}

	c.emitConn(ConnEvent{Kind: ConnDisconnected, Err: cause})
	c.logger.Warn("feed disconnected", "error", cause)
	c.scheduleReconnect()
}

// scheduleReconnect arms a one-shot reconnect attempt with exponential
// backoff and jitter, or emits a terminal error when attempts are exhausted.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.opts.ReconnectAttempts {
		c.mu.Unlock()
		err := fmt.Errorf("feed: reconnect attempts exhausted after %d tries", c.opts.ReconnectAttempts)
		c.emitErr(err)
		c.emitConn(ConnEvent{Kind: ConnTerminal, Err: err})
		return
	}
	attempt := c.attempts
	c.attempts++

	delay := c.opts.ReconnectDelay * (1 << attempt)
	delay += time.Duration(rand.Int63n(int64(jitterMax)))
	if limit := maxDelayMultiple * c.opts.ReconnectDelay; delay > limit {
		delay = limit
	}

	c.reconnectT = time.AfterFunc(delay, c.reconnect)
	c.mu.Unlock()

	c.logger.Info("reconnect scheduled", "attempt", attempt+1, "delay", delay)
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if c.intentional || c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.state = Connecting
	c.mu.Unlock()

	if err := c.dial(context.Background()); err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		c.logger.Warn("reconnect failed", "error", err)
		c.scheduleReconnect()
		return
	}

	// A successful reconnect restores a healthy session; the next outage
	// gets the full attempt budget again.
	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
}

// heartbeatLoop sends a ping frame on the configured interval until the
// session context ends.
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeJSON(pingFrame{Type: "ping"}); err != nil {
				c.logger.Warn("heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// dispatch classifies one inbound frame. Payloads that are not JSON-shaped
// are control strings ("INVALID OPERATION" and friends) and are dropped.
func (c *Client) dispatch(data []byte) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || (data[0] != '{' && data[0] != '[') {
		c.logger.Debug("dropping non-json frame", "data", string(data))
		return
	}

	if data[0] == '[' {
		c.dispatchArray(data)
		return
	}
	c.dispatchObject(data)
}

// dispatchArray handles frames that arrive as arrays. A homogeneous array of
// price_change objects is delivered as one batch; anything else is dispatched
// element by element.
func (c *Client) dispatchArray(data []byte) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		c.emitErr(fmt.Errorf("feed: malformed array frame: %w", err))
		return
	}
	if len(elems) == 0 {
		return
	}

	if frameKind(elems[0]) == string(KindPriceChange) {
		var batch []types.PriceChangeMessage
		if err := json.Unmarshal(data, &batch); err != nil {
			c.emitErr(fmt.Errorf("feed: malformed price_change batch: %w", err))
			return
		}
		c.sendPriceChanges(batch)
		return
	}
	for _, e := range elems {
		c.dispatchObject(e)
	}
}

func frameKind(data []byte) string {
	var env struct {
		Type      string `json:"type"`
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return ""
	}
	if env.EventType != "" {
		return env.EventType
	}
	return env.Type
}

func (c *Client) dispatchObject(data []byte) {
	kind := frameKind(data)
	switch kind {
	case string(KindBook):
		var msg types.BookMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.emitErr(fmt.Errorf("feed: malformed book frame: %w", err))
			return
		}
		select {
		case c.bookCh <- msg:
		default:
			c.logger.Warn("book channel full, dropping frame", "asset", msg.Asset())
		}

	case string(KindPriceChange):
		var msg types.PriceChangeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.emitErr(fmt.Errorf("feed: malformed price_change frame: %w", err))
			return
		}
		c.sendPriceChanges([]types.PriceChangeMessage{msg})

	case string(KindLastTradePrice):
		var msg types.TradeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.emitErr(fmt.Errorf("feed: malformed last_trade_price frame: %w", err))
			return
		}
		select {
		case c.tradeCh <- msg:
		default:
			c.logger.Warn("trade channel full, dropping frame", "asset", msg.Asset())
		}

	case string(KindTickSizeChange):
		c.sendRaw(c.tickCh, data)

	case "pong":
		// Heartbeat response; the transport is authoritative for liveness.

	case "":
		c.emitErr(errors.New("feed: frame without type"))

	default:
		c.sendRaw(c.messageCh, data)
	}
}

func (c *Client) sendPriceChanges(batch []types.PriceChangeMessage) {
	select {
	case c.priceCh <- batch:
	default:
		c.logger.Warn("price_change channel full, dropping batch", "size", len(batch))
	}
}

func (c *Client) sendRaw(ch chan json.RawMessage, data []byte) {
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	select {
	case ch <- raw:
	default:
		c.logger.Warn("raw channel full, dropping frame")
	}
}

func (c *Client) emitErr(err error) {
	select {
	case c.errCh <- err:
	default:
		c.logger.Debug("error channel full", "error", err)
	}
}

func (c *Client) emitConn(evt ConnEvent) {
	select {
	case c.connEvents <- evt:
	default:
	}
}
