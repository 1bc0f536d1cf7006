package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lumavoice/aura/domain/repositories"
)

const (
	deepgramHost  = "wss://api.deepgram.com/v1/listen"
	deepgramModel = "nova-2"

	// Silence window after which the vendor finalizes an utterance.
	deepgramEndpointingMs = 300

	dgWriteWait = 10 * time.Second
)

// DeepgramSpeechToText opens live transcription sessions against the
// Deepgram streaming API.
type DeepgramSpeechToText struct {
	apiKey string
	logger *zap.Logger

	// host is overridable for tests.
	host string
}

func NewDeepgramSpeechToText(apiKey string, logger *zap.Logger) *DeepgramSpeechToText {
	return &DeepgramSpeechToText{apiKey: apiKey, logger: logger, host: deepgramHost}
}

// OpenStream dials the live endpoint with interim results, VAD events,
// and smart formatting enabled, and starts the event pump.
func (d *DeepgramSpeechToText) OpenStream(ctx context.Context, config repositories.AudioConfig) (repositories.TranscriptionStream, error) {
	params := url.Values{}
	params.Set("model", deepgramModel)
	params.Set("language", config.Language)
	params.Set("punctuate", "true")
	params.Set("interim_results", "true")
	params.Set("endpointing", strconv.Itoa(deepgramEndpointingMs))
	params.Set("vad_events", "true")
	params.Set("smart_format", "true")
	params.Set("encoding", config.Encoding)
	params.Set("sample_rate", strconv.Itoa(config.SampleRate))
	params.Set("channels", strconv.Itoa(config.Channels))

	header := map[string][]string{
		"Authorization": {"Token " + d.apiKey},
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, d.host+"?"+params.Encode(), header)
	if err != nil {
		return nil, fmt.Errorf("dialing deepgram: %w", err)
	}

	s := &deepgramStream{
		conn:   conn,
		logger: d.logger,
		events: make(chan repositories.StreamEvent, 32),
	}
	go s.pump()
	return s, nil
}

type deepgramStream struct {
	conn   *websocket.Conn
	logger *zap.Logger
	events chan repositories.StreamEvent

	mu     sync.Mutex
	closed bool
}

// deepgramMessage covers the subset of vendor message fields we consume.
type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *deepgramStream) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("transcription stream is closed")
	}
	s.conn.SetWriteDeadline(time.Now().Add(dgWriteWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *deepgramStream) Events() <-chan repositories.StreamEvent {
	return s.events
}

// Close asks the vendor to flush any pending finals before the socket
// goes away.
func (s *deepgramStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.conn.SetWriteDeadline(time.Now().Add(dgWriteWait))
	s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	s.mu.Unlock()

	return s.conn.Close()
}

// pump translates vendor messages into StreamEvents until the socket
// drops, then closes the events channel.
func (s *deepgramStream) pump() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.emit(repositories.StreamEvent{
					Kind: repositories.StreamEventError,
					Err:  err.Error(),
				})
			}
			return
		}

		var msg deepgramMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Skipping malformed vendor message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "Results":
			if len(msg.Channel.Alternatives) == 0 {
				continue
			}
			alt := msg.Channel.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}
			s.emit(repositories.StreamEvent{
				Kind:       repositories.StreamEventTranscript,
				Text:       alt.Transcript,
				IsFinal:    msg.IsFinal,
				Confidence: alt.Confidence,
			})

		case "SpeechStarted":
			s.emit(repositories.StreamEvent{Kind: repositories.StreamEventSpeechStarted})

		case "UtteranceEnd":
			s.emit(repositories.StreamEvent{Kind: repositories.StreamEventSpeechEnded})

		case "Metadata":
			// Session bookkeeping, nothing to forward.

		default:
			s.logger.Debug("Ignoring vendor message", zap.String("type", msg.Type))
		}
	}
}

// emit drops events rather than block the pump when the consumer lags.
func (s *deepgramStream) emit(ev repositories.StreamEvent) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("Dropping transcription event, consumer too slow",
			zap.String("kind", string(ev.Kind)))
	}
}
