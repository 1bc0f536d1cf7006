package relayclient

import (
	"github.com/lumavoice/aura/domain/entities"
)

// ConnectionState is the relay client's lifecycle state. It drives UI
// status and gates audio forwarding.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
	StateDisconnected ConnectionState = "disconnected"
)

// Handlers is the callback registry for relay events. Each callback is
// optional and is invoked at most once per event occurrence, serialized
// from the client's read loop. No ordering is guaranteed across distinct
// event kinds.
type Handlers struct {
	OnStateChange   func(state ConnectionState)
	OnTranscript    func(event entities.TranscriptEvent)
	OnSpeechStarted func()
	OnSpeechEnded   func()
	OnError         func(err error)
}

// serverMessage is the tagged union the relay sends as JSON text frames.
type serverMessage struct {
	Type       string  `json:"type"`
	Transcript string  `json:"transcript,omitempty"`
	IsFinal    bool    `json:"is_final,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Message    string  `json:"message,omitempty"`
}
