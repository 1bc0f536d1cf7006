package repositories

import "context"

// SpeechToText abstracts streaming speech recognition services
type SpeechToText interface {
	// OpenStream initializes a streaming transcription session with the vendor
	OpenStream(ctx context.Context, config AudioConfig) (TranscriptionStream, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// TranscriptionStream is one live transcription session. Send forwards
// audio bytes, Events delivers vendor events in arrival order, and Close
// tears the session down. Events is closed when the stream ends.
type TranscriptionStream interface {
	Send(data []byte) error
	Events() <-chan StreamEvent
	Close() error
}

// StreamEventKind tags the variants of StreamEvent.
type StreamEventKind string

const (
	StreamEventTranscript    StreamEventKind = "transcript"
	StreamEventSpeechStarted StreamEventKind = "speechstarted"
	StreamEventSpeechEnded   StreamEventKind = "speechended"
	StreamEventError         StreamEventKind = "error"
)

// StreamEvent is a single event from the transcription vendor.
type StreamEvent struct {
	Kind       StreamEventKind
	Text       string
	IsFinal    bool
	Confidence float64
	Err        string
}
