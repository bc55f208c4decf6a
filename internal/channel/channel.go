// Package channel maintains the authenticated push channel from the server
// of record.
//
// The Channel dials one websocket, decodes each text frame into an event
// envelope and dispatches it to subscribers. When the connection drops it
// redials with exponential backoff, up to a bounded number of consecutive
// failures. State transitions are reported to callbacks without
// interpretation: resync-on-reconnect is the subscriber's policy.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/roach88/stockline/internal/inventory"
	"github.com/roach88/stockline/internal/reconcile"
)

// State is a connection state.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
	StateExhausted    State = "exhausted"
)

// StateChange is reported to OnState callbacks.
type StateChange struct {
	State   State
	Reason  string
	Attempt int
	Err     error
}

// Handler receives one event. It runs on the channel's read goroutine and
// must not block.
type Handler func(reconcile.Envelope)

// Defaults for Config.
const (
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 8
)

// ErrAlreadyConnected is returned by Connect on a running channel.
var ErrAlreadyConnected = errors.New("channel already connected")

// Config configures a Channel.
type Config struct {
	URL string

	// Token is consulted before every dial. An empty token dials without
	// an Authorization header.
	Token func() string

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	Dialer Dialer
	Now    func() time.Time
}

// Channel is an auto-reconnecting push channel.
// Thread-safety: all methods are safe for concurrent use.
type Channel struct {
	cfg Config

	mu      sync.Mutex
	typed   map[reconcile.EventType][]subscription
	all     []subscription
	states  []func(StateChange)
	nextID  int
	cancel  context.CancelFunc
	done    chan struct{}
	current State
}

type subscription struct {
	id int
	fn Handler
}

// New creates a disconnected channel.
func New(cfg Config) *Channel {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Token == nil {
		cfg.Token = func() string { return "" }
	}
	return &Channel{
		cfg:     cfg,
		typed:   make(map[reconcile.EventType][]subscription),
		current: StateDisconnected,
	}
}

// Subscribe registers fn for one event type.
func (c *Channel) Subscribe(t reconcile.EventType, fn Handler) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.typed[t] = append(c.typed[t], subscription{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.typed[t] = without(c.typed[t], id)
	}
}

// SubscribeAll registers fn for every event.
func (c *Channel) SubscribeAll(fn Handler) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.all = append(c.all, subscription{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.all = without(c.all, id)
	}
}

// OnState registers a state transition callback.
func (c *Channel) OnState(fn func(StateChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, fn)
}

// State returns the last reported state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Connect starts the connection loop in the background.
// The loop stops on Disconnect, on ctx cancellation, or on exhaustion.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		select {
		case <-c.done:
		default:
			return ErrAlreadyConnected
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
	return nil
}

// Disconnect stops the loop, cancels any pending reconnection timer and
// closes the socket. It returns once the loop has exited.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the connection loop exits.
func (c *Channel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	failures := 0
	for {
		c.emit(StateChange{State: StateConnecting, Attempt: failures + 1})

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.emit(StateChange{State: StateDisconnected, Reason: "client disconnect"})
				return
			}
			failures++
			c.emit(StateChange{State: StateError, Attempt: failures, Err: err})
			if failures >= c.cfg.MaxAttempts {
				c.emit(StateChange{
					State:   StateExhausted,
					Attempt: failures,
					Err:     inventory.NewChannelError("connect", fmt.Sprintf("gave up after %d attempts", failures), err),
				})
				return
			}
			if !c.sleep(ctx, c.Backoff(failures)) {
				c.emit(StateChange{State: StateDisconnected, Reason: "client disconnect"})
				return
			}
			continue
		}

		failures = 0
		c.emit(StateChange{State: StateConnected})

		reason := c.read(ctx, conn)
		if ctx.Err() != nil {
			c.emit(StateChange{State: StateDisconnected, Reason: "client disconnect"})
			return
		}
		c.emit(StateChange{State: StateDisconnected, Reason: reason})

		if !c.sleep(ctx, c.cfg.BaseDelay) {
			return
		}
	}
}

// Backoff returns the delay before the attempt following n consecutive
// failures: BaseDelay·2^(n-1), capped at MaxDelay.
func (c *Channel) Backoff(n int) time.Duration {
	d := c.cfg.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	return d
}

// sleep waits d. Returns false if ctx ended first; the timer is stopped.
func (c *Channel) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channel) dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	if tok := c.cfg.Token(); tok != "" {
		if err := c.checkExpiry(tok); err != nil {
			return nil, err
		}
		header.Set("Authorization", "Bearer "+tok)
	}

	conn, err := c.cfg.Dialer.Dial(ctx, c.cfg.URL, header)
	if err != nil {
		return nil, inventory.NewChannelError("dial", "connection failed", err)
	}
	return conn, nil
}

// checkExpiry rejects a JWT whose exp claim has passed. The signature is
// not verified; that is the server's job. Opaque tokens pass.
func (c *Channel) checkExpiry(tok string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		slog.Debug("channel token is not a JWT, skipping expiry check")
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !c.cfg.Now().Before(exp.Time) {
		return inventory.NewChannelError("auth", fmt.Sprintf("token expired at %s", exp.Time.UTC().Format(time.RFC3339)), nil)
	}
	return nil
}

// read dispatches frames until the connection fails or ctx ends.
// Returns the disconnect reason.
func (c *Channel) read(ctx context.Context, conn Conn) string {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
	}()

	for {
		mt, frame, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return fmt.Sprintf("closed by server: %d %s", ce.Code, ce.Text)
			}
			return err.Error()
		}
		if mt != websocket.TextMessage {
			continue
		}

		env, err := reconcile.DecodeEnvelope(frame)
		if err != nil {
			slog.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.dispatch(env)
	}
}

// dispatch calls typed subscribers, then catch-all ones, in registration order.
func (c *Channel) dispatch(env reconcile.Envelope) {
	c.mu.Lock()
	subs := make([]subscription, 0, len(c.typed[env.Event])+len(c.all))
	subs = append(subs, c.typed[env.Event]...)
	subs = append(subs, c.all...)
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(env)
	}
}

func (c *Channel) emit(sc StateChange) {
	c.mu.Lock()
	c.current = sc.State
	callbacks := make([]func(StateChange), len(c.states))
	copy(callbacks, c.states)
	c.mu.Unlock()

	attrs := []any{"state", sc.State}
	if sc.Reason != "" {
		attrs = append(attrs, "reason", sc.Reason)
	}
	if sc.Attempt > 0 {
		attrs = append(attrs, "attempt", sc.Attempt)
	}
	if sc.Err != nil {
		attrs = append(attrs, "error", sc.Err)
	}
	if sc.State == StateExhausted {
		slog.Error("channel state", attrs...)
	} else {
		slog.Debug("channel state", attrs...)
	}

	for _, fn := range callbacks {
		fn(sc)
	}
}

func without(subs []subscription, id int) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}
