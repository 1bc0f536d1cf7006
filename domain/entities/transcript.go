package entities

import "time"

// TranscriptEvent is a single recognition result relayed from the
// transcription vendor. Interim events supersede each other; a final
// event closes a sentence and will not change further.
type TranscriptEvent struct {
	Text       string    `json:"text"`
	IsFinal    bool      `json:"is_final"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}
