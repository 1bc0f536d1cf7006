package relay

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType defines the type of relay WebSocket message
type MessageType string

// Messages the relay sends to capture clients.
const (
	MessageTypeConnected     MessageType = "connected"
	MessageTypeTranscript    MessageType = "transcript"
	MessageTypeSpeechStarted MessageType = "speechstarted"
	MessageTypeSpeechEnded   MessageType = "speechended"
	MessageTypeError         MessageType = "error"
)

// ServerMessage is the tagged union sent downstream as a JSON text
// frame. Transcript fields are only populated for transcript messages;
// Message carries human-readable detail for connected and error.
type ServerMessage struct {
	Type       MessageType `json:"type"`
	Transcript string      `json:"transcript,omitempty"`
	IsFinal    bool        `json:"is_final,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Message    string      `json:"message,omitempty"`
	Timestamp  string      `json:"timestamp,omitempty"`
}

func (m ServerMessage) encode() []byte {
	data, _ := json.Marshal(m)
	return data
}

// ConnectedMessage signals that the upstream transcription session is
// ready and the client may start sending audio.
func ConnectedMessage() ServerMessage {
	return ServerMessage{
		Type:      MessageTypeConnected,
		Message:   "Connected to transcription service",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// TranscriptMessage wraps one vendor transcript event.
func TranscriptMessage(text string, isFinal bool, confidence float64) ServerMessage {
	return ServerMessage{
		Type:       MessageTypeTranscript,
		Transcript: text,
		IsFinal:    isFinal,
		Confidence: confidence,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}

// SpeechStartedMessage signals voice activity onset.
func SpeechStartedMessage() ServerMessage {
	return ServerMessage{
		Type:      MessageTypeSpeechStarted,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// SpeechEndedMessage signals the end of an utterance.
func SpeechEndedMessage() ServerMessage {
	return ServerMessage{
		Type:      MessageTypeSpeechEnded,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ErrorMessage reports an upstream or relay failure to the client.
func ErrorMessage(detail string) ServerMessage {
	return ServerMessage{
		Type:      MessageTypeError,
		Message:   detail,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ClientMessage is the only text message clients may send: an optional
// audio configuration override, accepted before audio starts flowing.
type ClientMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Language   string `json:"language,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
}

// ParseClientMessage decodes and validates an inbound text frame.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message missing type field")
	}
	if msg.Type == "config" {
		if msg.SampleRate != 0 && (msg.SampleRate < 8000 || msg.SampleRate > 48000) {
			return nil, fmt.Errorf("sample_rate must be between 8000 and 48000")
		}
		switch msg.Encoding {
		case "", "linear16", "ogg_opus":
		default:
			return nil, fmt.Errorf("encoding must be linear16 or ogg_opus")
		}
	}
	return &msg, nil
}
