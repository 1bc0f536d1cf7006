package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lumavoice/aura/domain/repositories"
)

// vendorStub fakes the Deepgram live endpoint.
func vendorStub(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		handler(conn, r)
	}))
}

func openTestStream(t *testing.T, server *httptest.Server) repositories.TranscriptionStream {
	t.Helper()
	svc := NewDeepgramSpeechToText("test-key", zap.NewNop())
	svc.host = "ws" + strings.TrimPrefix(server.URL, "http")

	stream, err := svc.OpenStream(context.Background(), repositories.AudioConfig{
		SampleRate: 16000,
		Channels:   1,
		Encoding:   "linear16",
		Language:   "en-US",
	})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	return stream
}

func TestOpenStreamSendsCredentialsAndParams(t *testing.T) {
	params := make(chan map[string]string, 1)
	auth := make(chan string, 1)
	server := vendorStub(t, func(conn *websocket.Conn, r *http.Request) {
		q := map[string]string{}
		for k, v := range r.URL.Query() {
			q[k] = v[0]
		}
		params <- q
		auth <- r.Header.Get("Authorization")
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	stream := openTestStream(t, server)
	defer stream.Close()

	if got := <-auth; got != "Token test-key" {
		t.Errorf("Authorization = %q, want token header", got)
	}
	q := <-params
	want := map[string]string{
		"model":           "nova-2",
		"language":        "en-US",
		"punctuate":       "true",
		"interim_results": "true",
		"endpointing":     "300",
		"vad_events":      "true",
		"smart_format":    "true",
		"encoding":        "linear16",
		"sample_rate":     "16000",
		"channels":        "1",
	}
	for k, v := range want {
		if q[k] != v {
			t.Errorf("query param %s = %q, want %q", k, q[k], v)
		}
	}
}

func TestVendorMessagesMapToStreamEvents(t *testing.T) {
	server := vendorStub(t, func(conn *websocket.Conn, r *http.Request) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"SpeechStarted"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hello wor","confidence":0.7}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Hello world.","confidence":0.97}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"UtteranceEnd"}`))
		// Empty transcripts and metadata are filtered out.
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"","confidence":0}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	stream := openTestStream(t, server)
	defer stream.Close()

	want := []repositories.StreamEvent{
		{Kind: repositories.StreamEventSpeechStarted},
		{Kind: repositories.StreamEventTranscript, Text: "hello wor", IsFinal: false, Confidence: 0.7},
		{Kind: repositories.StreamEventTranscript, Text: "Hello world.", IsFinal: true, Confidence: 0.97},
		{Kind: repositories.StreamEventSpeechEnded},
	}
	for i, w := range want {
		select {
		case got := <-stream.Events():
			if got != w {
				t.Errorf("event %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	// The filtered messages produce nothing further.
	select {
	case ev := <-stream.Events():
		t.Errorf("unexpected event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendForwardsBinaryAudio(t *testing.T) {
	frames := make(chan []byte, 1)
	server := vendorStub(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				frames <- data
			}
		}
	})
	defer server.Close()

	stream := openTestStream(t, server)
	defer stream.Close()

	payload := []byte{0x01, 0x02, 0x03, 0x04}
	if err := stream.Send(payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case got := <-frames:
		if len(got) != len(payload) {
			t.Errorf("frame length = %d, want %d", len(got), len(payload))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audio frame never arrived")
	}
}

func TestCloseRequestsStreamFlush(t *testing.T) {
	closeMsgs := make(chan string, 1)
	server := vendorStub(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage {
				closeMsgs <- string(data)
			}
		}
	})
	defer server.Close()

	stream := openTestStream(t, server)
	if err := stream.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case msg := <-closeMsgs:
		if !strings.Contains(msg, "CloseStream") {
			t.Errorf("expected CloseStream control message, got %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CloseStream never sent")
	}

	if err := stream.Send([]byte{1}); err == nil {
		t.Error("Send after Close should fail")
	}

	// Events channel drains and closes after the socket drops.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-stream.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed")
		}
	}
}
