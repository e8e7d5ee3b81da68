package chatwoot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Cable commands
// ============================================================================

// cableCommand is the client-to-server frame shape. Identifier and Data are
// JSON documents encoded as strings, a quirk of the cable protocol.
type cableCommand struct {
	Command    string `json:"command"`
	Identifier string `json:"identifier"`
	Data       string `json:"data,omitempty"`
}

const cableChannel = "RoomChannel"

func cableIdentifier(token string) (string, error) {
	b, err := json.Marshal(map[string]string{
		"channel":      cableChannel,
		"pubsub_token": token,
	})
	if err != nil {
		return "", fmt.Errorf("encode channel identifier: %w", err)
	}
	return string(b), nil
}

func subscribeChannel(ctx context.Context, ws *websocket.Conn, token string) error {
	ident, err := cableIdentifier(token)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(cableCommand{Command: "subscribe", Identifier: ident})
	if err != nil {
		return fmt.Errorf("encode subscribe command: %w", err)
	}
	if err := ws.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("send subscribe command: %w", err)
	}
	return nil
}

// ============================================================================
// Reconnector
// ============================================================================

// reconnector tracks exponential backoff between dial attempts. A connection
// that stayed up for a while resets the attempt counter, so a long-lived
// channel that drops once does not start at the deep end of the curve.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector() *reconnector {
	return &reconnector{
		baseDelay:   1 * time.Second,
		maxDelay:    30 * time.Second,
		maxAttempts: 10,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// Subscription
// ============================================================================

// subscriptionBuffer absorbs short bursts so the read pump is not held up by
// a handler that is momentarily busy.
const subscriptionBuffer = 16

// Subscription is one consumer's view of the connection's frame stream.
// Frames arrive in order; Cancel detaches the subscription and is safe to
// call more than once.
type Subscription struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func newSubscription() *Subscription {
	return &Subscription{
		frames: make(chan []byte, subscriptionBuffer),
		done:   make(chan struct{}),
	}
}

// Frames is the stream of raw text frames. It is not closed on Cancel; select
// against Done to stop consuming.
func (s *Subscription) Frames() <-chan []byte {
	return s.frames
}

// Done is closed when the subscription is canceled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) Cancel() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) canceled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ============================================================================
// Connection
// ============================================================================

// Connection is a live cable channel keyed by one pubsub token. It fans
// every inbound frame out to all active subscriptions and transparently
// redials with backoff when the socket drops; subscribers never observe the
// reconnect, except as a gap in frames.
type Connection struct {
	url   string
	token string
	log   *slog.Logger

	mu     sync.Mutex
	ws     *websocket.Conn
	subs   map[*Subscription]struct{}
	closed bool
	cancel context.CancelFunc
	recon  *reconnector
}

var _ Conn = (*Connection)(nil)

// dialConnection opens the socket, subscribes to the contact's channel and
// starts the read pump. ctx bounds only the initial dial; the pump runs until
// Close.
func dialConnection(ctx context.Context, url, token string, log *slog.Logger) (*Connection, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	if err := subscribeChannel(ctx, ws, token); err != nil {
		ws.Close(websocket.StatusNormalClosure, "")
		return nil, err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		url:    url,
		token:  token,
		log:    log,
		ws:     ws,
		subs:   make(map[*Subscription]struct{}),
		cancel: cancel,
		recon:  newReconnector(),
	}
	c.recon.markConnected()

	go c.readPump(pumpCtx)
	return c, nil
}

// Subscribe attaches a new consumer to the frame stream. Subscribing to a
// closed connection yields an already-canceled subscription.
func (c *Connection) Subscribe() *Subscription {
	sub := newSubscription()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Cancel()
		return sub
	}
	c.subs[sub] = struct{}{}
	c.mu.Unlock()
	return sub
}

// Close tears the socket down, cancels every subscription and stops the read
// pump. Idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.ws = nil
	subs := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.subs = make(map[*Subscription]struct{})
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	for _, s := range subs {
		s.Cancel()
	}
	if ws != nil {
		if err := ws.Close(websocket.StatusNormalClosure, "client close"); err != nil {
			return fmt.Errorf("close websocket: %w", err)
		}
	}
	return nil
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) socket() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws
}

// sendAction writes a cable "message" command carrying the action payload.
func (c *Connection) sendAction(ctx context.Context, token string, action ActionType) error {
	ident, err := cableIdentifier(token)
	if err != nil {
		return err
	}
	data, err := json.Marshal(map[string]string{"action": string(action)})
	if err != nil {
		return fmt.Errorf("encode action %s: %w", action, err)
	}
	payload, err := json.Marshal(cableCommand{
		Command:    "message",
		Identifier: ident,
		Data:       string(data),
	})
	if err != nil {
		return fmt.Errorf("encode action command: %w", err)
	}

	ws := c.socket()
	if ws == nil {
		return errors.New("connection closed")
	}
	if err := ws.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("send action %s: %w", action, err)
	}
	return nil
}

func (c *Connection) readPump(ctx context.Context) {
	for {
		ws := c.socket()
		if ws == nil {
			return
		}
		_, data, err := ws.Read(ctx)
		if err != nil {
			if c.isClosed() || ctx.Err() != nil {
				return
			}
			if !c.redial(ctx, err) {
				c.log.Error("realtime channel lost, giving up", "error", err)
				c.Close()
				return
			}
			continue
		}
		c.broadcast(data)
	}
}

// redial re-establishes the socket with backoff after an unexpected read
// failure. Returns false once the attempt limit is exhausted or the
// connection was closed in the meantime.
func (c *Connection) redial(ctx context.Context, cause error) bool {
	for c.recon.shouldReconnect() {
		delay := c.recon.nextDelay()
		c.log.Warn("realtime channel dropped, reconnecting",
			"error", cause, "attempt", c.recon.attempt, "delay", delay)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		if c.isClosed() {
			return false
		}

		ws, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			cause = err
			continue
		}
		if err := subscribeChannel(ctx, ws, c.token); err != nil {
			ws.Close(websocket.StatusNormalClosure, "")
			cause = err
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			ws.Close(websocket.StatusNormalClosure, "")
			return false
		}
		c.ws = ws
		c.mu.Unlock()
		c.recon.markConnected()
		c.log.Info("realtime channel reconnected")
		return true
	}
	return false
}

// broadcast hands one frame to every live subscription, in subscription
// order. Canceled subscriptions are dropped lazily here.
func (c *Connection) broadcast(data []byte) {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		if sub.canceled() {
			c.dropSubscription(sub)
			continue
		}
		select {
		case sub.frames <- data:
		case <-sub.done:
			c.dropSubscription(sub)
		}
	}
}

func (c *Connection) dropSubscription(sub *Subscription) {
	c.mu.Lock()
	delete(c.subs, sub)
	c.mu.Unlock()
}
