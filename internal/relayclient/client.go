package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lumavoice/aura/domain/entities"
)

const (
	// Time allowed to write a frame to the relay.
	writeWait = 10 * time.Second

	// Time allowed for the relay to confirm the upstream session after
	// the socket opens.
	defaultReadyTimeout = 15 * time.Second

	defaultHandshakeTimeout = 10 * time.Second
)

var (
	// ErrConnect indicates the socket failed or closed before the relay
	// signaled upstream readiness.
	ErrConnect = errors.New("relay connect failed")

	// ErrUpstream indicates the relay explicitly reported a vendor-side
	// error. Not retried automatically: it usually means a configuration
	// problem such as invalid credentials.
	ErrUpstream = errors.New("upstream transcription error")

	// ErrRetriesExhausted indicates the reconnect budget is spent.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

// Config holds the externally supplied relay connection settings.
type Config struct {
	URL   string
	Token string

	// MaxAttempts caps automatic reconnects after abnormal closure.
	MaxAttempts int

	// BaseDelay is multiplied by the attempt number for linear backoff.
	BaseDelay time.Duration

	HandshakeTimeout time.Duration
	ReadyTimeout     time.Duration
}

type dialFunc func(ctx context.Context, url string, header http.Header) (*websocket.Conn, *http.Response, error)

// Client maintains a single duplex connection to the relay, forwards
// audio frames while connected, and reconnects with linear backoff on
// abnormal closure. At most one connection is active at a time.
type Client struct {
	cfg      Config
	handlers Handlers
	logger   *zap.Logger

	dial dialFunc

	mu    sync.Mutex
	state ConnectionState
	conn  *websocket.Conn

	// generation invalidates scheduled reconnects and stale read loops
	// after an explicit Disconnect.
	generation int
	attempt    int

	reconnectTimer *time.Timer
	// lastScheduledDelay is recorded for observability and tests.
	lastScheduledDelay time.Duration

	framesSent int64
}

// NewClient creates a relay client. Callbacks in handlers may be nil.
func NewClient(cfg Config, handlers Handlers, logger *zap.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}

	c := &Client{
		cfg:      cfg,
		handlers: handlers,
		logger:   logger,
		state:    StateIdle,
	}
	c.dial = func(ctx context.Context, url string, header http.Header) (*websocket.Conn, *http.Response, error) {
		dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
		return dialer.DialContext(ctx, url, header)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the relay connection and blocks until the relay confirms
// the upstream transcription session is ready, not merely until the
// socket opens. Calling Connect while connecting or connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	gen := c.generation
	c.mu.Unlock()

	return c.establish(ctx, gen)
}

// establish dials and waits for the relay's ready signal. It is shared
// by Connect and the reconnect path.
func (c *Client) establish(ctx context.Context, gen int) error {
	c.setState(gen, StateConnecting)

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, _, err := c.dial(ctx, c.cfg.URL, header)
	if err != nil {
		c.setState(gen, StateError)
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	ready := make(chan error, 1)

	c.mu.Lock()
	if gen != c.generation {
		// Disconnect raced the dial; drop the fresh socket.
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("%w: connection no longer wanted", ErrConnect)
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn, gen, ready)

	select {
	case err := <-ready:
		if err != nil {
			conn.Close()
			c.setState(gen, StateError)
			return fmt.Errorf("%w: %v", ErrConnect, err)
		}
	case <-ctx.Done():
		conn.Close()
		c.setState(gen, StateError)
		return fmt.Errorf("%w: %v", ErrConnect, ctx.Err())
	case <-time.After(c.cfg.ReadyTimeout):
		conn.Close()
		c.setState(gen, StateError)
		return fmt.Errorf("%w: timed out waiting for upstream ready", ErrConnect)
	}

	c.mu.Lock()
	c.attempt = 0
	c.mu.Unlock()
	c.setState(gen, StateConnected)
	c.logger.Info("Relay connection established", zap.String("url", c.cfg.URL))
	return nil
}

// SendAudio forwards one audio frame to the relay. It is a no-op unless
// the client is connected; frames are dropped, never queued, so a stalled
// connection cannot block capture.
func (c *Client) SendAudio(frame []byte) {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		c.logger.Debug("Dropping audio frame while not connected", zap.Int("size", len(frame)))
		return
	}
	conn := c.conn
	c.framesSent++
	c.mu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		// The read loop observes the closure and drives reconnection.
		c.logger.Warn("Failed to send audio frame", zap.Error(err))
	}
}

// FramesSent reports how many frames have been handed to the transport.
func (c *Client) FramesSent() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framesSent
}

// Disconnect closes the connection with a normal-closure code, cancels
// any pending reconnect, and returns the client to Idle. Safe to call
// from any state, including mid-connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.generation++
	c.attempt = 0
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	changed := c.state != StateIdle
	c.state = StateIdle
	handler := c.handlers.OnStateChange
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
	if changed && handler != nil {
		handler(StateIdle)
	}
	c.logger.Info("Relay disconnected")
}

// readLoop consumes relay messages until the connection drops. All
// event callbacks fire from here, one at a time.
func (c *Client) readLoop(conn *websocket.Conn, gen int, ready chan<- error) {
	sawReady := false

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !sawReady {
				ready <- err
				return
			}
			c.handleClosure(gen, err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed messages are skipped, never fatal.
			c.logger.Warn("Skipping malformed relay message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "connected":
			if !sawReady {
				sawReady = true
				ready <- nil
			}

		case "transcript":
			if c.handlers.OnTranscript != nil {
				c.handlers.OnTranscript(entities.TranscriptEvent{
					Text:       msg.Transcript,
					IsFinal:    msg.IsFinal,
					Confidence: msg.Confidence,
					Timestamp:  time.Now().UTC(),
				})
			}

		case "speechstarted":
			if c.handlers.OnSpeechStarted != nil {
				c.handlers.OnSpeechStarted()
			}

		case "speechended":
			if c.handlers.OnSpeechEnded != nil {
				c.handlers.OnSpeechEnded()
			}

		case "error":
			// Vendor-side failure. Surface immediately and end the
			// session rather than burning the retry budget on what is
			// almost certainly a configuration problem.
			c.logger.Error("Relay reported upstream error", zap.String("message", msg.Message))
			c.mu.Lock()
			stale := gen != c.generation
			c.mu.Unlock()
			if stale {
				return
			}
			c.setState(gen, StateError)
			if c.handlers.OnError != nil {
				c.handlers.OnError(fmt.Errorf("%w: %s", ErrUpstream, msg.Message))
			}
			conn.Close()
			return

		default:
			c.logger.Debug("Ignoring unknown relay message type", zap.String("type", msg.Type))
		}
	}
}

// handleClosure classifies a dropped connection and schedules a
// reconnect when the retry budget allows.
func (c *Client) handleClosure(gen int, err error) {
	c.mu.Lock()
	if gen != c.generation || c.state == StateIdle || c.state == StateError {
		// Explicit disconnect or terminal error already handled.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.logger.Info("Relay closed connection normally")
		c.setState(gen, StateDisconnected)
		return
	}

	if websocket.IsCloseError(err, websocket.CloseAbnormalClosure) {
		c.logger.Warn("Relay connection terminated abnormally", zap.Error(err))
	} else {
		c.logger.Info("Relay connection lost", zap.Error(err))
	}

	c.setState(gen, StateDisconnected)
	c.scheduleReconnect(gen)
}

// scheduleReconnect arms a linear-backoff retry: delay = BaseDelay *
// attempt, with the attempt counter incremented first. When the budget
// is spent the client parks in the terminal Error state.
func (c *Client) scheduleReconnect(gen int) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}

	if c.attempt >= c.cfg.MaxAttempts {
		c.mu.Unlock()
		c.logger.Error("Reconnect attempts exhausted",
			zap.Int("max_attempts", c.cfg.MaxAttempts))
		c.setState(gen, StateError)
		if c.handlers.OnError != nil {
			c.handlers.OnError(ErrRetriesExhausted)
		}
		return
	}

	c.attempt++
	delay := c.cfg.BaseDelay * time.Duration(c.attempt)
	c.lastScheduledDelay = delay
	attempt := c.attempt

	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		stale := gen != c.generation
		c.reconnectTimer = nil
		c.mu.Unlock()
		if stale {
			// Disconnect won the race; stay down.
			return
		}
		c.logger.Info("Attempting relay reconnect",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxAttempts))
		if err := c.establish(context.Background(), gen); err != nil {
			c.logger.Warn("Reconnect attempt failed", zap.Error(err))
			c.scheduleReconnect(gen)
		}
	})
	c.mu.Unlock()

	c.logger.Info("Scheduled relay reconnect",
		zap.Duration("delay", delay),
		zap.Int("attempt", attempt))
}

// setState transitions the state machine and notifies the state callback
// outside the lock. Stale generations are ignored.
func (c *Client) setState(gen int, state ConnectionState) {
	c.mu.Lock()
	if gen != c.generation || c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	handler := c.handlers.OnStateChange
	c.mu.Unlock()

	if handler != nil {
		handler(state)
	}
}
