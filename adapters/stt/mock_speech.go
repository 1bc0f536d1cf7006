package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lumavoice/aura/domain/repositories"
)

// MockSpeechToText is an offline stand-in for a transcription vendor.
// Every ~2 seconds of received audio yields one canned final transcript,
// preceded by an interim and a speech-started event, so the relay and
// clients can be exercised end to end without credentials.
type MockSpeechToText struct {
	logger *zap.Logger
}

func NewMockSpeechToText(logger *zap.Logger) repositories.SpeechToText {
	return &MockSpeechToText{logger: logger}
}

func (s *MockSpeechToText) OpenStream(ctx context.Context, config repositories.AudioConfig) (repositories.TranscriptionStream, error) {
	s.logger.Info("Opening mock transcription stream",
		zap.Int("sample_rate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	// 2 seconds of s16 mono audio at the configured rate.
	threshold := config.SampleRate * 2 * 2
	if threshold <= 0 {
		threshold = 64000
	}

	return &mockStream{
		logger:    s.logger,
		events:    make(chan repositories.StreamEvent, 32),
		threshold: threshold,
	}, nil
}

type mockStream struct {
	logger    *zap.Logger
	events    chan repositories.StreamEvent
	threshold int

	mu        sync.Mutex
	closed    bool
	pending   int
	utterance int
}

var mockTranscripts = []string{
	"Hello, this is a test transcription.",
	"The quick brown fox jumps over the lazy dog.",
	"Audio levels look good from here.",
	"Thanks for listening, that's all for now.",
}

func (m *mockStream) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("transcription stream is closed")
	}

	m.pending += len(data)
	if m.pending < m.threshold {
		return nil
	}
	m.pending = 0

	text := mockTranscripts[m.utterance%len(mockTranscripts)]
	m.utterance++

	m.emit(repositories.StreamEvent{Kind: repositories.StreamEventSpeechStarted})
	m.emit(repositories.StreamEvent{
		Kind:       repositories.StreamEventTranscript,
		Text:       strings.ToLower(text),
		IsFinal:    false,
		Confidence: 0.5,
	})
	m.emit(repositories.StreamEvent{
		Kind:       repositories.StreamEventTranscript,
		Text:       text,
		IsFinal:    true,
		Confidence: 0.98,
	})
	m.emit(repositories.StreamEvent{Kind: repositories.StreamEventSpeechEnded})
	return nil
}

func (m *mockStream) Events() <-chan repositories.StreamEvent {
	return m.events
}

func (m *mockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.events)
	return nil
}

func (m *mockStream) emit(ev repositories.StreamEvent) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("Dropping mock transcription event")
	}
}
