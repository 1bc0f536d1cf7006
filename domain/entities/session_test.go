package entities

import (
	"testing"
	"time"
)

func TestSessionCreation(t *testing.T) {
	clientID := "test-client-123"
	session := NewSession(clientID)

	if session.ClientID != clientID {
		t.Errorf("Expected client ID %s, got %s", clientID, session.ClientID)
	}

	if session.Status != SessionStatusActive {
		t.Errorf("Expected status %s, got %s", SessionStatusActive, session.Status)
	}

	if len(session.Lines) != 0 {
		t.Errorf("Expected empty transcript, got %d lines", len(session.Lines))
	}

	if session.Metadata.Language != "en-US" {
		t.Errorf("Expected language en-US, got %s", session.Metadata.Language)
	}
}

func TestAppendLine(t *testing.T) {
	session := NewSession("test-client")

	content := "I am thrilled about this"
	if !session.AppendLine(content, 0.92, TranscriptLineMetadata{}) {
		t.Fatal("Expected line to be appended")
	}

	if len(session.Lines) != 1 {
		t.Errorf("Expected 1 line, got %d", len(session.Lines))
	}

	if session.Lines[0].Text != content {
		t.Errorf("Expected text %q, got %q", content, session.Lines[0].Text)
	}

	if session.Lines[0].Confidence != 0.92 {
		t.Errorf("Expected confidence 0.92, got %f", session.Lines[0].Confidence)
	}

	if session.LastLineAt == nil {
		t.Error("Expected LastLineAt to be set")
	}
}

func TestAppendLineTrimsAndDropsEmpty(t *testing.T) {
	session := NewSession("test-client")

	if session.AppendLine("   ", 0.5, TranscriptLineMetadata{}) {
		t.Error("Whitespace-only text should not be appended")
	}
	if len(session.Lines) != 0 {
		t.Errorf("Expected 0 lines, got %d", len(session.Lines))
	}

	if !session.AppendLine("  hello world  ", 0.8, TranscriptLineMetadata{}) {
		t.Fatal("Expected trimmed line to be appended")
	}
	if session.Lines[0].Text != "hello world" {
		t.Errorf("Expected trimmed text %q, got %q", "hello world", session.Lines[0].Text)
	}
}

func TestSessionExpiration(t *testing.T) {
	session := NewSession("test-client")

	// Should not be expired initially
	if session.IsExpired() {
		t.Error("Session should not be expired initially")
	}

	// Manually set expiration to past
	session.ExpiresAt = time.Now().Add(-1 * time.Hour)
	if !session.IsExpired() {
		t.Error("Session should be expired when ExpiresAt is in the past")
	}

	// Test with terminated status
	session.ExpiresAt = time.Now().Add(1 * time.Hour)
	session.Status = SessionStatusTerminated
	if !session.IsExpired() {
		t.Error("Session should be expired when status is terminated")
	}
}

func TestShouldStartNewSession(t *testing.T) {
	session := NewSession("test-client")

	// Should not start a new session when no lines exist
	if session.ShouldStartNewSession() {
		t.Error("Should not start new session when no lines exist")
	}

	// Add recent line (within 30 minutes)
	session.AppendLine("hello", 0.9, TranscriptLineMetadata{})
	if session.ShouldStartNewSession() {
		t.Error("Should not start new session when last line is recent")
	}

	// Simulate old line (more than 30 minutes ago)
	oldTime := time.Now().Add(-31 * time.Minute)
	session.LastLineAt = &oldTime
	if !session.ShouldStartNewSession() {
		t.Error("Should start new session when last line is old")
	}
}

func TestSessionValidation(t *testing.T) {
	// Valid session
	session := NewSession("test-client")
	if err := session.Validate(); err != nil {
		t.Errorf("Valid session should not have validation errors, got: %v", err)
	}

	// Invalid client ID
	session.ClientID = ""
	if err := session.Validate(); err == nil {
		t.Error("Session with empty client ID should have validation error")
	}

	// Invalid status
	session.ClientID = "test-client"
	session.Status = SessionStatus("invalid")
	if err := session.Validate(); err == nil {
		t.Error("Session with invalid status should have validation error")
	}
}

func TestTranscript(t *testing.T) {
	session := NewSession("test-client")
	session.AppendLine("first sentence", 0.9, TranscriptLineMetadata{})
	session.AppendLine("second sentence", 0.8, TranscriptLineMetadata{})

	transcript := session.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("Expected 2 transcript lines, got %d", len(transcript))
	}
	if transcript[0] != "first sentence" || transcript[1] != "second sentence" {
		t.Errorf("Transcript order not preserved: %v", transcript)
	}
}

func TestUpdateLastActive(t *testing.T) {
	session := NewSession("test-client")
	originalLastActive := session.LastActiveAt
	originalExpiresAt := session.ExpiresAt

	// Wait a bit to ensure time difference
	time.Sleep(10 * time.Millisecond)

	session.UpdateLastActive()

	if !session.LastActiveAt.After(originalLastActive) {
		t.Error("LastActiveAt should be updated to a later time")
	}

	if !session.ExpiresAt.After(originalExpiresAt) {
		t.Error("ExpiresAt should be extended")
	}

	// Check that expiration is 24 hours from last active
	expectedExpiration := session.LastActiveAt.Add(24 * time.Hour)
	if session.ExpiresAt.Sub(expectedExpiration).Abs() > time.Second {
		t.Error("ExpiresAt should be 24 hours from LastActiveAt")
	}
}
