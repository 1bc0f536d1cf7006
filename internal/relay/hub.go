package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lumavoice/aura/domain/entities"
	"github.com/lumavoice/aura/domain/repositories"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browser origins are enforced at the HTTP layer via CORS.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub maintains the set of connected capture clients and bridges each
// one to its own upstream transcription stream.
type Hub struct {
	// Registered clients keyed by connection ID.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	mu sync.RWMutex

	stt         repositories.SpeechToText
	analyzer    repositories.SentimentAnalyzer
	sessionRepo repositories.SessionRepository

	defaults repositories.AudioConfig

	logger *zap.Logger
}

// NewHub creates a relay hub. analyzer and sessionRepo may be nil: the
// relay still streams transcripts, it just skips line annotation and
// persistence.
func NewHub(
	stt repositories.SpeechToText,
	analyzer repositories.SentimentAnalyzer,
	sessionRepo repositories.SessionRepository,
	defaults repositories.AudioConfig,
	logger *zap.Logger,
) *Hub {
	if defaults.SampleRate == 0 {
		defaults.SampleRate = 16000
	}
	if defaults.Channels == 0 {
		defaults.Channels = 1
	}
	if defaults.Encoding == "" {
		defaults.Encoding = "linear16"
	}
	if defaults.Language == "" {
		defaults.Language = "en-US"
	}

	return &Hub{
		clients:     make(map[string]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		stt:         stt,
		analyzer:    analyzer,
		sessionRepo: sessionRepo,
		defaults:    defaults,
		logger:      logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Client registered",
				zap.String("connectionID", client.id),
				zap.String("clientID", client.clientID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered",
				zap.String("connectionID", client.id),
				zap.String("clientID", client.clientID))
		}
	}
}

// ClientCount reports the number of live relay connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between one websocket connection and its
// upstream transcription stream.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Connection ID, unique per socket.
	id string

	// Authenticated client identity from the access token.
	clientID string

	logger *zap.Logger

	// Upstream transcription session state.
	stream  repositories.TranscriptionStream
	session *entities.Session

	chunkCount int

	mutex sync.Mutex
}

// HandleRelay upgrades the request, opens the upstream transcription
// stream, and confirms readiness to the client. Audio may only start
// flowing after the connected message.
func HandleRelay(hub *Hub, c echo.Context, clientID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan WriteData, 256),
		id:       uuid.NewString(),
		clientID: clientID,
		logger:   logger,
	}

	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.start()

	return nil
}

// start opens the vendor stream, then hands the socket to the read pump.
func (c *Client) start() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	stream, err := c.hub.stt.OpenStream(ctx, c.hub.defaults)
	cancel()
	if err != nil {
		c.logger.Error("Failed to open transcription stream",
			zap.String("clientID", c.clientID),
			zap.Error(err))
		// Written directly so the error reaches the client before the
		// socket closes.
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.TextMessage, ErrorMessage("transcription service unavailable").encode())
		c.conn.Close()
		c.hub.unregister <- c
		return
	}

	c.mutex.Lock()
	c.stream = stream
	c.mutex.Unlock()

	go c.writePump()
	go c.pumpTranscription(stream)

	c.enqueue(ConnectedMessage())
	c.logger.Info("Upstream transcription session ready",
		zap.String("clientID", c.clientID))

	c.readPump()
}

// readPump pumps messages from the websocket connection upstream.
func (c *Client) readPump() {
	defer func() {
		c.closeStream()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket closed abnormally", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processControlMessage(message)
		case websocket.BinaryMessage:
			c.processAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processControlMessage handles inbound text frames. Only config
// overrides are recognized; anything else is logged and dropped.
func (c *Client) processControlMessage(message []byte) {
	msg, err := ParseClientMessage(message)
	if err != nil {
		c.logger.Warn("Dropping invalid control message", zap.Error(err))
		return
	}

	switch msg.Type {
	case "config":
		// The upstream session is already open with server defaults;
		// late overrides would mean tearing it down mid-stream.
		c.logger.Info("Ignoring config override after session start",
			zap.Int("sample_rate", msg.SampleRate),
			zap.String("language", msg.Language))
	default:
		c.logger.Warn("Unknown control message type", zap.String("type", msg.Type))
	}
}

// processAudioChunk forwards binary audio upstream.
func (c *Client) processAudioChunk(data []byte) {
	c.mutex.Lock()
	stream := c.stream
	c.chunkCount++
	count := c.chunkCount
	c.mutex.Unlock()

	if stream == nil {
		c.logger.Warn("Received audio before upstream session ready",
			zap.String("clientID", c.clientID))
		return
	}

	if err := stream.Send(data); err != nil {
		c.logger.Error("Failed to forward audio upstream",
			zap.String("clientID", c.clientID),
			zap.Error(err))
		return
	}

	c.logger.Debug("Forwarded audio chunk",
		zap.Int("size", len(data)),
		zap.Int("totalChunks", count))
}

// pumpTranscription translates upstream events into wire messages and
// persists finalized lines. Runs until the vendor stream ends.
func (c *Client) pumpTranscription(stream repositories.TranscriptionStream) {
	for ev := range stream.Events() {
		switch ev.Kind {
		case repositories.StreamEventTranscript:
			c.enqueue(TranscriptMessage(ev.Text, ev.IsFinal, ev.Confidence))
			if ev.IsFinal {
				c.persistLine(ev)
			}

		case repositories.StreamEventSpeechStarted:
			c.enqueue(SpeechStartedMessage())

		case repositories.StreamEventSpeechEnded:
			c.enqueue(SpeechEndedMessage())

		case repositories.StreamEventError:
			c.logger.Error("Upstream transcription error",
				zap.String("clientID", c.clientID),
				zap.String("detail", ev.Err))
			c.enqueue(ErrorMessage("upstream connection error"))
		}
	}
}

// persistLine appends a finalized sentence to the client's session,
// annotated with sentiment when an analyzer is wired in. Persistence is
// best effort and never blocks the transcript path.
func (c *Client) persistLine(ev repositories.StreamEvent) {
	if c.hub.sessionRepo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := c.currentSession(ctx)
	if err != nil {
		c.logger.Error("Failed to resolve session for transcript line",
			zap.String("clientID", c.clientID),
			zap.Error(err))
		return
	}

	var metadata entities.TranscriptLineMetadata
	if c.hub.analyzer != nil {
		if result, err := c.hub.analyzer.Analyze(ctx, ev.Text); err == nil && result != nil {
			emotion, _ := result.Emotions.Dominant()
			metadata.Emotion = &emotion
			metadata.SentimentScore = &result.Sentiment.Score
		}
	}

	line := entities.TranscriptLine{
		Timestamp:  time.Now(),
		Text:       ev.Text,
		Confidence: ev.Confidence,
		Metadata:   metadata,
	}
	if err := c.hub.sessionRepo.AppendLine(ctx, session.ID.Hex(), line); err != nil {
		c.logger.Error("Failed to persist transcript line",
			zap.String("sessionID", session.ID.Hex()),
			zap.Error(err))
	}
}

// currentSession returns the client's active session, resuming a recent
// one or creating a fresh one per the 30-minute rule.
func (c *Client) currentSession(ctx context.Context) (*entities.Session, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.session != nil && !c.session.IsExpired() && !c.session.ShouldStartNewSession() {
		return c.session, nil
	}

	last, err := c.hub.sessionRepo.GetLastByClientID(ctx, c.clientID)
	if err != nil {
		return nil, err
	}
	if last != nil && !last.IsExpired() && !last.ShouldStartNewSession() {
		c.session = last
		return last, nil
	}

	session := entities.NewSession(c.clientID)
	session.Metadata.Language = c.hub.defaults.Language
	session.Metadata.Encoding = c.hub.defaults.Encoding
	if err := c.hub.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}
	c.session = session
	c.logger.Info("Started new transcript session",
		zap.String("clientID", c.clientID),
		zap.String("sessionID", session.ID.Hex()))
	return session, nil
}

// closeStream tears down the upstream session once.
func (c *Client) closeStream() {
	c.mutex.Lock()
	stream := c.stream
	c.stream = nil
	c.mutex.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			c.logger.Warn("Failed to close transcription stream", zap.Error(err))
		}
	}
}

// enqueue queues a wire message without blocking the caller; a stuck
// client loses messages rather than stalling the event pump.
func (c *Client) enqueue(msg ServerMessage) {
	defer func() {
		// Sending on the closed channel after unregister is harmless
		// to ignore.
		recover()
	}()
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: msg.encode()}:
	default:
		c.logger.Warn("Client send buffer full, dropping message",
			zap.String("type", string(msg.Type)))
	}
}
