package entities

import (
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SessionStatus represents the status of a transcript session
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusExpired    SessionStatus = "expired"
	SessionStatusTerminated SessionStatus = "terminated"
)

// TranscriptLineMetadata contains analysis metadata attached to a line
type TranscriptLineMetadata struct {
	Emotion        *string  `json:"emotion,omitempty" bson:"emotion,omitempty"`
	SentimentScore *float64 `json:"sentiment_score,omitempty" bson:"sentiment_score,omitempty"`
}

// TranscriptLine is one finalized sentence within a session.
// Lines are append-only and never mutated once stored.
type TranscriptLine struct {
	Timestamp  time.Time              `json:"timestamp" bson:"timestamp"`
	Text       string                 `json:"text" bson:"text"`
	Confidence float64                `json:"confidence" bson:"confidence"`
	Metadata   TranscriptLineMetadata `json:"metadata" bson:"metadata"`
}

// SessionMetadata contains session-level metadata
type SessionMetadata struct {
	Language string `json:"language" bson:"language"`
	Encoding string `json:"encoding" bson:"encoding"`
}

// Session represents one client's transcript log between connect and disconnect
type Session struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ClientID     string             `json:"client_id" bson:"client_id"`
	CreatedAt    time.Time          `json:"created_at" bson:"created_at"`
	LastActiveAt time.Time          `json:"last_active_at" bson:"last_active_at"`
	LastLineAt   *time.Time         `json:"last_line_at" bson:"last_line_at"`
	ExpiresAt    time.Time          `json:"expires_at" bson:"expires_at"`
	Status       SessionStatus      `json:"status" bson:"status"`
	Lines        []TranscriptLine   `json:"lines" bson:"lines"`
	Metadata     SessionMetadata    `json:"metadata" bson:"metadata"`
}

// NewSession creates a new transcript session for a client
func NewSession(clientID string) *Session {
	now := time.Now()
	return &Session{
		ID:           primitive.NewObjectID(),
		ClientID:     clientID,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(24 * time.Hour), // Default 24 hour expiration
		Status:       SessionStatusActive,
		Lines:        make([]TranscriptLine, 0),
		Metadata: SessionMetadata{
			Language: "en-US",
			Encoding: "linear16",
		},
	}
}

// AppendLine appends a finalized transcript line to the session.
// Empty or whitespace-only text is dropped and reported via the return value.
func (s *Session) AppendLine(text string, confidence float64, metadata TranscriptLineMetadata) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	now := time.Now()
	s.Lines = append(s.Lines, TranscriptLine{
		Timestamp:  now,
		Text:       trimmed,
		Confidence: confidence,
		Metadata:   metadata,
	})
	s.LastLineAt = &now
	s.UpdateLastActive()
	return true
}

// UpdateLastActive updates the last active timestamp and extends expiration
func (s *Session) UpdateLastActive() {
	s.LastActiveAt = time.Now()
	// Extend expiration by 24 hours from last activity
	s.ExpiresAt = s.LastActiveAt.Add(24 * time.Hour)
}

// IsExpired checks if the session has expired
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt) || s.Status != SessionStatusActive
}

// ShouldStartNewSession checks if a new session should be created based on the 30-minute rule
func (s *Session) ShouldStartNewSession() bool {
	if s.LastLineAt == nil {
		return false // No lines yet, can continue this session
	}

	// Start a new session if the last line was more than 30 minutes ago
	return time.Since(*s.LastLineAt) > 30*time.Minute
}

// Terminate marks the session as terminated
func (s *Session) Terminate() {
	s.Status = SessionStatusTerminated
	s.UpdateLastActive()
}

// Expire marks the session as expired
func (s *Session) Expire() {
	s.Status = SessionStatusExpired
}

// Transcript returns the full finalized transcript, one line per sentence.
func (s *Session) Transcript() []string {
	out := make([]string, 0, len(s.Lines))
	for _, line := range s.Lines {
		out = append(out, line.Text)
	}
	return out
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.ClientID == "" {
		return errors.New("client_id is required")
	}

	if s.Status != SessionStatusActive && s.Status != SessionStatusExpired && s.Status != SessionStatusTerminated {
		return errors.New("invalid session status")
	}

	return nil
}
