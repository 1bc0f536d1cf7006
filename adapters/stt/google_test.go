package stt_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/lumavoice/aura/adapters/stt"
	"github.com/lumavoice/aura/domain/repositories"
)

var (
	_ repositories.SpeechToText = &stt.GoogleSpeechToText{}
	_ repositories.SpeechToText = &stt.DeepgramSpeechToText{}
)

func TestMockStreamEmitsFinalsPerAudioWindow(t *testing.T) {
	svc := stt.NewMockSpeechToText(zap.NewNop())
	stream, err := svc.OpenStream(context.Background(), repositories.AudioConfig{
		SampleRate: 16000,
		Channels:   1,
		Encoding:   "linear16",
		Language:   "en-US",
	})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer stream.Close()

	// Under the 2-second threshold: no events yet.
	if err := stream.Send(make([]byte, 16000)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case ev := <-stream.Events():
		t.Fatalf("unexpected event before threshold: %+v", ev)
	default:
	}

	// Crossing the threshold yields started, interim, final, ended.
	if err := stream.Send(make([]byte, 64000)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	wantKinds := []repositories.StreamEventKind{
		repositories.StreamEventSpeechStarted,
		repositories.StreamEventTranscript,
		repositories.StreamEventTranscript,
		repositories.StreamEventSpeechEnded,
	}
	var got []repositories.StreamEvent
	for range wantKinds {
		got = append(got, <-stream.Events())
	}
	for i, want := range wantKinds {
		if got[i].Kind != want {
			t.Errorf("event %d kind = %q, want %q", i, got[i].Kind, want)
		}
	}
	if got[1].IsFinal {
		t.Error("first transcript should be interim")
	}
	if !got[2].IsFinal {
		t.Error("second transcript should be final")
	}
	if got[2].Text == "" || got[2].Confidence <= got[1].Confidence {
		t.Errorf("final transcript should carry higher confidence: %+v vs %+v", got[2], got[1])
	}
}

func TestMockStreamCloseEndsEvents(t *testing.T) {
	svc := stt.NewMockSpeechToText(zap.NewNop())
	stream, err := svc.OpenStream(context.Background(), repositories.AudioConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close should be a no-op: %v", err)
	}
	if _, ok := <-stream.Events(); ok {
		t.Error("events channel should be closed after Close")
	}
	if err := stream.Send([]byte{1, 2, 3}); err == nil {
		t.Error("Send after Close should fail")
	}
}
