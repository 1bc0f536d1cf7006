package usecase

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lumavoice/aura/domain/entities"
	"github.com/lumavoice/aura/domain/repositories"
	"github.com/lumavoice/aura/internal/relayclient"
)

// AudioEngine is the capture surface the session controller drives.
// *capture.Engine satisfies it.
type AudioEngine interface {
	StartRecording() error
	StopRecording()
	IsRecording() bool
	StartStreaming(onFrame func(frame []byte)) error
	StopStreaming()
	Close()
}

// Relay is the streaming connection the session controller owns.
// *relayclient.Client satisfies it.
type Relay interface {
	Connect(ctx context.Context) error
	SendAudio(frame []byte)
	Disconnect()
}

// RelayFactory builds the relay connection around the controller's
// event handlers. Production code wraps relayclient.NewClient; tests
// substitute a fake.
type RelayFactory func(handlers relayclient.Handlers) Relay

// Callbacks is the visualization-facing event surface. Every callback
// is optional.
type Callbacks struct {
	OnStateChange func(state relayclient.ConnectionState)
	OnInterim     func(text string)
	OnFinal       func(text string)
	OnSentiment   func(result *entities.SentimentResult)
	OnSpeechStart func()
	OnSpeechEnd   func()
	OnError       func(err error)
}

// SessionController owns one microphone handle and one relay
// connection and aggregates transcripts for a single live session.
// Interim results occupy a single replaceable slot; finalized
// sentences are appended to an immutable ordered log and handed to the
// sentiment analyzer.
type SessionController struct {
	engine   AudioEngine
	relay    Relay
	analyzer repositories.SentimentAnalyzer
	cb       Callbacks
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
	interim string
	finals  []string

	sessionCtx context.Context
	cancel     context.CancelFunc

	// pending tracks in-flight sentiment requests so Stop can wait for
	// them in tests and teardown.
	pending sync.WaitGroup
}

// NewSessionController wires the capture engine and a fresh relay
// connection into one session. The analyzer may be nil, in which case
// finalized sentences are logged but not analyzed.
func NewSessionController(
	engine AudioEngine,
	factory RelayFactory,
	analyzer repositories.SentimentAnalyzer,
	cb Callbacks,
	logger *zap.Logger,
) *SessionController {
	c := &SessionController{
		engine:   engine,
		analyzer: analyzer,
		cb:       cb,
		logger:   logger,
	}
	c.relay = factory(relayclient.Handlers{
		OnStateChange:   c.handleStateChange,
		OnTranscript:    c.handleTranscript,
		OnSpeechStarted: cb.OnSpeechStart,
		OnSpeechEnded:   cb.OnSpeechEnd,
		OnError:         c.handleRelayError,
	})
	return c
}

// Start connects the relay and then starts capture. Capture never
// starts on a failed connect; the connect error is returned as-is.
// Calling Start on a running session is a no-op.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.relay.Connect(ctx); err != nil {
		return err
	}

	if err := c.engine.StartRecording(); err != nil {
		c.relay.Disconnect()
		return err
	}
	if err := c.engine.StartStreaming(c.relay.SendAudio); err != nil {
		c.engine.StopRecording()
		c.relay.Disconnect()
		return err
	}

	c.mu.Lock()
	c.started = true
	c.sessionCtx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	c.logger.Info("Session started")
	return nil
}

// Stop halts streaming, then capture, then the relay connection. It is
// safe from any state, including before Start and mid-connect.
func (c *SessionController) Stop() {
	c.mu.Lock()
	wasStarted := c.started
	c.started = false
	c.interim = ""
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	c.engine.StopStreaming()
	c.engine.StopRecording()
	c.relay.Disconnect()

	if cancel != nil {
		cancel()
	}
	c.pending.Wait()

	if wasStarted {
		c.logger.Info("Session stopped")
	}
}

// Close ends the session and releases the audio device.
func (c *SessionController) Close() {
	c.Stop()
	c.engine.Close()
}

// Interim returns the latest provisional recognition result, or ""
// when the last transcript event was final.
func (c *SessionController) Interim() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interim
}

// Finals returns a copy of the ordered final-transcript log.
func (c *SessionController) Finals() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.finals))
	copy(out, c.finals)
	return out
}

func (c *SessionController) handleStateChange(state relayclient.ConnectionState) {
	if c.cb.OnStateChange != nil {
		c.cb.OnStateChange(state)
	}
}

func (c *SessionController) handleTranscript(event entities.TranscriptEvent) {
	if !event.IsFinal {
		c.mu.Lock()
		c.interim = event.Text
		c.mu.Unlock()
		if c.cb.OnInterim != nil {
			c.cb.OnInterim(event.Text)
		}
		return
	}

	text := strings.TrimSpace(event.Text)
	c.mu.Lock()
	c.interim = ""
	if text != "" {
		c.finals = append(c.finals, text)
	}
	ctx := c.sessionCtx
	c.mu.Unlock()

	if text == "" {
		return
	}
	if c.cb.OnFinal != nil {
		c.cb.OnFinal(text)
	}
	if c.analyzer == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// Analysis runs off the read loop so a slow collaborator never
	// stalls transcription.
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		c.analyzeFinal(ctx, text)
	}()
}

func (c *SessionController) analyzeFinal(ctx context.Context, text string) {
	result, err := c.analyzer.Analyze(ctx, text)
	if err != nil {
		c.logger.Warn("Sentiment analysis failed",
			zap.String("text", text),
			zap.Error(err))
		return
	}
	if c.cb.OnSentiment != nil {
		c.cb.OnSentiment(result)
	}
}

func (c *SessionController) handleRelayError(err error) {
	c.logger.Error("Relay error", zap.Error(err))
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
}
