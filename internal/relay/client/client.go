// Package client connects to a relay over WebSocket and keeps the
// connection alive: it reconnects with exponential backoff, replays the
// desired subscriptions after every reconnect, and hands decoded auction
// events to the application.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	errspkg "github.com/drblury/bidrelay/internal/relay/errors"
	"github.com/drblury/bidrelay/internal/relay/jsoncodec"
	"github.com/drblury/bidrelay/internal/relay/logging"
	"github.com/drblury/bidrelay/internal/relay/wire"
)

// State is the client's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Backoff defaults.
const (
	DefaultBackoffBase = 3 * time.Second
	DefaultBackoffMax  = 30 * time.Second
)

// Backoff returns the delay before reconnect attempt n (1-based):
// base doubled per attempt, capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// Conn is one established WebSocket session.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(payload []byte) error
	Close() error
}

// Dialer establishes sessions. The zero-value client uses gorilla's dialer;
// tests substitute an in-memory one.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *wsSession) ReadMessage() ([]byte, error) {
	_, raw, err := s.conn.ReadMessage()
	return raw, err
}

func (s *wsSession) WriteMessage(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSession) Close() error { return s.conn.Close() }

type wsDialer struct {
	dialer *websocket.Dialer
}

// NewWebSocketDialer returns the production dialer.
func NewWebSocketDialer() Dialer {
	return &wsDialer{dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second}}
}

func (d *wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsSession{conn: conn}, nil
}

// Options configures a Client.
type Options struct {
	// URL is the relay's WebSocket endpoint, for example
	// ws://localhost:3001/ws.
	URL string

	// Dialer defaults to the gorilla WebSocket dialer when nil.
	Dialer Dialer

	Logger logging.ServiceLogger

	// BackoffBase and BackoffMax bound the reconnect delay. Zero selects
	// the defaults.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// OnEvent receives every auction event, after duplicate bids are
	// dropped.
	OnEvent func(env wire.Envelope)

	// OnStateChange observes connection state transitions.
	OnStateChange func(state State)
}

type desiredSubscription struct {
	eventType string
	auctionID string
	serverID  string
}

// Client maintains one relay connection across failures.
type Client struct {
	url     string
	dialer  Dialer
	logger  logging.ServiceLogger
	base    time.Duration
	max     time.Duration
	onEvent func(wire.Envelope)
	onState func(State)

	sleep func(ctx context.Context, d time.Duration) bool

	mu      sync.Mutex
	state   State
	attempt int
	conn    Conn
	desired []*desiredSubscription
	cancel  context.CancelFunc
	done    chan struct{}

	seenBids *bidDeduper
}

// New builds a disconnected Client. Call Connect to start it.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errspkg.ErrRelayURLRequired
	}
	if opts.Logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = NewWebSocketDialer()
	}
	base := opts.BackoffBase
	if base == 0 {
		base = DefaultBackoffBase
	}
	max := opts.BackoffMax
	if max == 0 {
		max = DefaultBackoffMax
	}

	return &Client{
		url:      opts.URL,
		dialer:   dialer,
		logger:   opts.Logger,
		base:     base,
		max:      max,
		onEvent:  opts.OnEvent,
		onState:  opts.OnStateChange,
		sleep:    sleepCtx,
		state:    StateDisconnected,
		seenBids: newBidDeduper(defaultDedupeWindow),
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop. Calling it while the client is
// already connecting or connected is a no-op.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateDisconnected || c.cancel != nil {
		c.mu.Unlock()
		c.logger.Debug("Connect ignored, client already active", nil)
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(runCtx)
	}()
}

// Close stops the connection loop and closes the current session.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	done := c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}

// Subscribe records a desired subscription and, when connected, sends it
// immediately. Desired subscriptions are replayed after every reconnect.
func (c *Client) Subscribe(eventType, auctionID string) error {
	sub := &desiredSubscription{eventType: eventType, auctionID: auctionID}

	c.mu.Lock()
	c.desired = append(c.desired, sub)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.sendSubscribe(conn, sub)
}

// Unsubscribe drops the desired subscription and, when the server has
// confirmed it, tells the relay to remove it.
func (c *Client) Unsubscribe(eventType, auctionID string) error {
	c.mu.Lock()
	var serverID string
	for i, sub := range c.desired {
		if sub.eventType == eventType && sub.auctionID == auctionID {
			serverID = sub.serverID
			c.desired = append(c.desired[:i], c.desired[i+1:]...)
			break
		}
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || serverID == "" {
		return nil
	}
	payload, err := jsoncodec.Marshal(wire.UnsubscribeCommand{
		Type:           wire.TypeUnsubscribe,
		SubscriptionID: serverID,
	})
	if err != nil {
		return err
	}
	return conn.WriteMessage(payload)
}

func (c *Client) sendSubscribe(conn Conn, sub *desiredSubscription) error {
	payload, err := jsoncodec.Marshal(wire.SubscribeCommand{
		Type:      wire.TypeSubscribe,
		EventType: sub.eventType,
		AuctionID: sub.auctionID,
	})
	if err != nil {
		return err
	}
	return conn.WriteMessage(payload)
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	onState := c.onState
	c.mu.Unlock()

	if changed && onState != nil {
		onState(state)
	}
}

// run is the connection loop: dial, replay subscriptions, read until the
// session breaks, back off, repeat.
func (c *Client) run(ctx context.Context) {
	defer c.setState(StateDisconnected)

	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting)
		conn, err := c.dialer.Dial(ctx, c.url)
		if err != nil {
			c.mu.Lock()
			c.attempt++
			attempt := c.attempt
			c.mu.Unlock()

			delay := Backoff(c.base, c.max, attempt)
			c.logger.Info("Reconnect attempt failed", logging.LogFields{
				"attempt":  attempt,
				"retry_in": delay.String(),
			})
			c.setState(StateDisconnected)
			if !c.sleep(ctx, delay) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.attempt = 0
		desired := make([]*desiredSubscription, len(c.desired))
		copy(desired, c.desired)
		c.mu.Unlock()

		c.setState(StateConnected)
		c.logger.Info("Connected to relay", logging.LogFields{"url": c.url})

		for _, sub := range desired {
			if err := c.sendSubscribe(conn, sub); err != nil {
				c.logger.Error("Failed to replay subscription", err, logging.LogFields{
					"event_type": sub.eventType,
					"auction_id": sub.auctionID,
				})
			}
		}

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		c.attempt++
		attempt := c.attempt
		c.mu.Unlock()
		if !c.sleep(ctx, Backoff(c.base, c.max, attempt)) {
			return
		}
	}
}

func (c *Client) readLoop(conn Conn) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug("Session ended", logging.LogFields{"url": c.url})
			return
		}
		c.handleFrame(raw)
	}
}

func (c *Client) handleFrame(raw []byte) {
	var header struct {
		Type string `json:"type"`
	}
	if err := jsoncodec.Unmarshal(raw, &header); err != nil {
		c.logger.Debug("Discarding malformed frame", nil)
		return
	}

	switch header.Type {
	case wire.TypeHeartbeat, wire.TypeRelayHeartbeat:
		// Liveness noise, nothing to surface.

	case wire.TypeConnectionEstablished:
		var frame wire.ConnectionEstablished
		if err := jsoncodec.Unmarshal(raw, &frame); err == nil {
			c.logger.Debug("Relay greeted connection", logging.LogFields{
				"connection_id": frame.ConnectionID,
			})
		}

	case wire.TypeSubscriptionConfirmed:
		var frame wire.SubscriptionConfirmed
		if err := jsoncodec.Unmarshal(raw, &frame); err != nil {
			return
		}
		c.mu.Lock()
		for _, sub := range c.desired {
			if sub.eventType == frame.EventType && sub.auctionID == frame.AuctionID {
				sub.serverID = frame.SubscriptionID
				break
			}
		}
		c.mu.Unlock()

	case wire.TypeAuctionEvent:
		var env wire.Envelope
		if err := jsoncodec.Unmarshal(raw, &env); err != nil {
			c.logger.Debug("Discarding malformed event", nil)
			return
		}
		if env.EventType == "BID_PLACED" && c.seenBids.seen(env) {
			c.logger.Debug("Dropping duplicate bid", logging.LogFields{
				"auction_id": env.AuctionID,
			})
			return
		}
		if c.onEvent != nil {
			c.onEvent(env)
		}

	case wire.TypeError:
		var frame wire.ErrorFrame
		if err := jsoncodec.Unmarshal(raw, &frame); err == nil {
			c.logger.Error("Relay reported error", nil, logging.LogFields{
				"message": frame.Message,
			})
		}
	}
}
