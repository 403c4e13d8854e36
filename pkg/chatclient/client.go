// Package chatclient is the client side of the chat relay: it keeps one
// websocket connection open for a logged-in account and re-establishes it
// after it drops.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"chat-relay/internal/models"
	"chat-relay/pkg/logger"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateLoggedOut:
		return "logged out"
	default:
		return "unknown"
	}
}

const DefaultRetryDelay = time.Second

var (
	ErrNotConnected = errors.New("not connected")
	ErrLoggedOut    = errors.New("logged out")
)

// Conn is one live connection to the server.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(payload []byte) error
	Close() error
}

// Dialer performs the handshake with the given credential.
type Dialer interface {
	Dial(ctx context.Context, credential string) (Conn, error)
}

// CredentialSource returns the current session credential. It is consulted
// on every connection attempt.
type CredentialSource func(ctx context.Context) (string, error)

type Options struct {
	// RetryDelay is the fixed wait before a reconnection attempt.
	RetryDelay time.Duration
	// MaxAttempts bounds consecutive failed handshakes; zero retries forever.
	MaxAttempts int

	OnPresence    func(models.PresenceSnapshot)
	OnMessage     func(models.Message)
	OnError       func(models.ErrorFrame)
	OnStateChange func(State)
}

// Client owns the connect/retry state machine. At most one reconnection
// timer is pending at any time, and every transition bumps a generation
// counter so that superseded timers and read loops become no-ops.
type Client struct {
	dialer      Dialer
	credentials CredentialSource
	opts        Options

	mu         sync.Mutex
	state      State
	conn       Conn
	timer      *time.Timer
	generation uint64
	failures   int
	ctx        context.Context
	stopWatch  func() bool
}

func New(dialer Dialer, credentials CredentialSource, opts Options) *Client {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &Client{
		dialer:      dialer,
		credentials: credentials,
		opts:        opts,
		state:       StateDisconnected,
		ctx:         context.Background(),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start makes the first connection attempt. A failed attempt is retried in
// the background; its error is still returned. Cancelling ctx logs out.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateLoggedOut {
		c.mu.Unlock()
		return ErrLoggedOut
	}
	c.ctx = ctx
	if c.stopWatch != nil {
		c.stopWatch()
	}
	c.stopWatch = context.AfterFunc(ctx, c.Logout)
	c.mu.Unlock()

	return c.connect()
}

// Reconnect attempts a connection now if the client is disconnected,
// superseding any scheduled attempt.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case StateDisconnected:
		return c.connect()
	case StateLoggedOut:
		return ErrLoggedOut
	default:
		return nil
	}
}

// Logout closes the connection and stops all reconnection. It is terminal.
func (c *Client) Logout() {
	c.mu.Lock()
	if c.state == StateLoggedOut {
		c.mu.Unlock()
		return
	}
	c.generation++
	c.stopTimer()
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateLoggedOut
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	logger.Info("Logged out, reconnection disabled")
	c.notify(StateLoggedOut)
}

// Send writes a message frame on the current connection.
func (c *Client) Send(frame models.InboundFrame) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state == StateLoggedOut {
		return ErrLoggedOut
	}
	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(payload)
}

func (c *Client) connect() error {
	c.mu.Lock()
	if c.state == StateLoggedOut || c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.generation++
	gen := c.generation
	c.stopTimer()
	c.state = StateConnecting
	ctx := c.ctx
	c.mu.Unlock()
	c.notify(StateConnecting)

	conn, err := c.handshake(ctx)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return ErrLoggedOut
	}
	if err != nil {
		c.state = StateDisconnected
		c.failures++
		c.scheduleLocked()
		c.mu.Unlock()
		logger.Warn("Connection attempt failed: %v", err)
		c.notify(StateDisconnected)
		return err
	}
	c.state = StateConnected
	c.conn = conn
	c.failures = 0
	c.stopTimer()
	c.mu.Unlock()

	logger.Info("Connected")
	c.notify(StateConnected)
	go c.readLoop(conn, gen)
	return nil
}

func (c *Client) handshake(ctx context.Context) (Conn, error) {
	credential, err := c.credentials(ctx)
	if err != nil {
		return nil, err
	}
	return c.dialer.Dial(ctx, credential)
}

func (c *Client) readLoop(conn Conn, gen uint64) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			c.dropped(gen, err)
			return
		}
		c.dispatch(raw)
	}
}

// dropped handles the end of the connection of generation gen. Closes that
// follow a logout or a newer connection are ignored.
func (c *Client) dropped(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.generation || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.scheduleLocked()
	c.mu.Unlock()

	conn.Close()
	logger.Warn("Connection lost: %v", cause)
	c.notify(StateDisconnected)
}

// scheduleLocked arms the single reconnection timer unless the retry budget
// is spent. c.mu must be held.
func (c *Client) scheduleLocked() {
	c.stopTimer()
	if c.opts.MaxAttempts > 0 && c.failures >= c.opts.MaxAttempts {
		logger.Error("Giving up after %d failed connection attempts", c.failures)
		return
	}

	gen := c.generation
	c.timer = time.AfterFunc(c.opts.RetryDelay, func() { c.retry(gen) })
	logger.Debug("Reconnecting in %s", c.opts.RetryDelay)
}

func (c *Client) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	c.connect()
}

func (c *Client) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) notify(state State) {
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(state)
	}
}

func (c *Client) dispatch(raw []byte) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		logger.Warn("Ignoring malformed frame: %v", err)
		return
	}

	switch {
	case keys["online"] != nil:
		var frame models.PresenceFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Warn("Ignoring malformed presence frame: %v", err)
			return
		}
		snapshot := make(models.PresenceSnapshot, len(frame.Online))
		for _, u := range frame.Online {
			snapshot[u.UserID] = u.DisplayName
		}
		if c.opts.OnPresence != nil {
			c.opts.OnPresence(snapshot)
		}
	case keys["error"] != nil:
		var frame models.ErrorFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return
		}
		if c.opts.OnError != nil {
			c.opts.OnError(frame)
		}
	default:
		var msg models.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn("Ignoring malformed message frame: %v", err)
			return
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(msg)
		}
	}
}
