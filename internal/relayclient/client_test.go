package relayclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lumavoice/aura/domain/entities"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// relayStub is a scriptable in-process relay endpoint.
type relayStub struct {
	t *testing.T

	mu    sync.Mutex
	conns []*websocket.Conn

	// onConnect runs for each accepted connection.
	onConnect func(conn *websocket.Conn, attempt int)

	attempts int
	server   *httptest.Server
}

func newRelayStub(t *testing.T, onConnect func(conn *websocket.Conn, attempt int)) *relayStub {
	s := &relayStub{t: t, onConnect: onConnect}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		s.mu.Lock()
		s.attempts++
		attempt := s.attempts
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.onConnect(conn, attempt)
	}))
	return s
}

func (s *relayStub) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *relayStub) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *relayStub) close() {
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.server.Close()
}

func sendReady(conn *websocket.Conn) {
	conn.WriteJSON(map[string]string{"type": "connected", "message": "Connected to transcription service"})
}

// stateRecorder collects state transitions for assertions.
type stateRecorder struct {
	mu     sync.Mutex
	states []ConnectionState
}

func (r *stateRecorder) record(s ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) snapshot() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnectionState, len(r.states))
	copy(out, r.states)
	return out
}

func (r *stateRecorder) waitFor(t *testing.T, want ConnectionState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, s := range r.snapshot() {
			if s == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state %q not observed within %v, saw %v", want, timeout, r.snapshot())
}

func TestConnectWaitsForReadyMessage(t *testing.T) {
	release := make(chan struct{})
	stub := newRelayStub(t, func(conn *websocket.Conn, attempt int) {
		<-release
		sendReady(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer stub.close()

	rec := &stateRecorder{}
	client := NewClient(Config{URL: stub.url(), ReadyTimeout: 2 * time.Second},
		Handlers{OnStateChange: rec.record}, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		done <- client.Connect(context.Background())
	}()

	// Socket is open but the relay has not confirmed upstream readiness,
	// so Connect must still be blocked.
	select {
	case err := <-done:
		t.Fatalf("Connect returned before ready message: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	if got := client.State(); got != StateConnecting {
		t.Errorf("expected state connecting before ready, got %q", got)
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after ready message")
	}
	if got := client.State(); got != StateConnected {
		t.Errorf("expected state connected, got %q", got)
	}

	client.Disconnect()
}

func TestConnectTimesOutWithoutReady(t *testing.T) {
	stub := newRelayStub(t, func(conn *websocket.Conn, attempt int) {
		// Never send the ready message.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer stub.close()

	client := NewClient(Config{URL: stub.url(), ReadyTimeout: 100 * time.Millisecond},
		Handlers{}, zap.NewNop())

	err := client.Connect(context.Background())
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
	if got := client.State(); got != StateError {
		t.Errorf("expected state error after ready timeout, got %q", got)
	}
}

func TestConnectSendsBearerToken(t *testing.T) {
	var gotAuth string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sendReady(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client := NewClient(Config{
		URL:   "ws" + strings.TrimPrefix(server.URL, "http"),
		Token: "test-token",
	}, Handlers{}, zap.NewNop())

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	if gotAuth != "Bearer test-token" {
		t.Errorf("expected bearer token header, got %q", gotAuth)
	}
}

func TestTranscriptAndSpeechEventsDispatch(t *testing.T) {
	stub := newRelayStub(t, func(conn *websocket.Conn, attempt int) {
		sendReady(conn)
		conn.WriteJSON(map[string]interface{}{"type": "speechstarted"})
		conn.WriteJSON(map[string]interface{}{
			"type": "transcript", "transcript": "hello there", "is_final": false, "confidence": 0.82,
		})
		conn.WriteJSON(map[string]interface{}{
			"type": "transcript", "transcript": "hello there", "is_final": true, "confidence": 0.95,
		})
		conn.WriteJSON(map[string]interface{}{"type": "speechended"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer stub.close()

	type event struct {
		kind  string
		text  string
		final bool
	}
	events := make(chan event, 8)

	client := NewClient(Config{URL: stub.url()}, Handlers{
		OnTranscript: func(e entities.TranscriptEvent) {
			events <- event{kind: "transcript", text: e.Text, final: e.IsFinal}
		},
		OnSpeechStarted: func() { events <- event{kind: "start"} },
		OnSpeechEnded:   func() { events <- event{kind: "end"} },
	}, zap.NewNop())

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	want := []event{
		{kind: "start"},
		{kind: "transcript", text: "hello there", final: false},
		{kind: "transcript", text: "hello there", final: true},
		{kind: "end"},
	}
	for i, w := range want {
		select {
		case got := <-events:
			if got != w {
				t.Errorf("event %d: got %+v, want %+v", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d (%+v)", i, w)
		}
	}
}

func TestMalformedMessagesAreSkipped(t *testing.T) {
	stub := newRelayStub(t, func(conn *websocket.Conn, attempt int) {
		sendReady(conn)
		conn.WriteMessage(websocket.TextMessage, []byte("not json at all"))
		conn.WriteJSON(map[string]interface{}{"type": "mystery_event"})
		conn.WriteJSON(map[string]interface{}{
			"type": "transcript", "transcript": "still alive", "is_final": true, "confidence": 0.9,
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer stub.close()

	transcripts := make(chan string, 1)
	client := NewClient(Config{URL: stub.url()}, Handlers{
		OnTranscript: func(e entities.TranscriptEvent) { transcripts <- e.Text },
	}, zap.NewNop())

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	select {
	case text := <-transcripts:
		if text != "still alive" {
			t.Errorf("got transcript %q, want %q", text, "still alive")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transcript never arrived after malformed messages")
	}
	if got := client.State(); got != StateConnected {
		t.Errorf("client should survive malformed messages, state = %q", got)
	}
}

func TestUpstreamErrorIsTerminal(t *testing.T) {
	stub := newRelayStub(t, func(conn *websocket.Conn, attempt int) {
		sendReady(conn)
		conn.WriteJSON(map[string]string{"type": "error", "message": "upstream connection error"})
	})
	defer stub.close()

	errs := make(chan error, 1)
	rec := &stateRecorder{}
	client := NewClient(Config{URL: stub.url(), BaseDelay: 10 * time.Millisecond}, Handlers{
		OnStateChange: rec.record,
		OnError:       func(err error) { errs <- err },
	}, zap.NewNop())

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case err := <-errs:
		if !errors.Is(err, ErrUpstream) {
			t.Errorf("expected ErrUpstream, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error callback never fired")
	}

	rec.waitFor(t, StateError, time.Second)

	// Terminal: no reconnects follow an upstream error.
	time.Sleep(100 * time.Millisecond)
	if n := stub.connectCount(); n != 1 {
		t.Errorf("expected no reconnect after upstream error, got %d connections", n)
	}
}

func TestReconnectWithLinearBackoff(t *testing.T) {
	stub := newRelayStub(t, func(conn *websocket.Conn, attempt int) {
		if attempt == 2 {
			// Fail the retry before ready so a successful connect does
			// not reset the attempt counter mid-test.
			conn.Close()
			return
		}
		sendReady(conn)
		if attempt < 3 {
			// Tear the socket down without a close handshake.
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer stub.close()

	rec := &stateRecorder{}
	client := NewClient(Config{
		URL:         stub.url(),
		MaxAttempts: 3,
		BaseDelay:   20 * time.Millisecond,
	}, Handlers{OnStateChange: rec.record}, zap.NewNop())

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("initial Connect failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for stub.connectCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := stub.connectCount(); n < 3 {
		t.Fatalf("expected at least 3 connection attempts, got %d", n)
	}

	rec.waitFor(t, StateConnected, 2*time.Second)

	// Two retries were scheduled before the third connection stuck; the
	// last one ran at delay = base * attempt.
	client.mu.Lock()
	delay := client.lastScheduledDelay
	client.mu.Unlock()
	if want := 2 * 20 * time.Millisecond; delay != want {
		t.Errorf("last scheduled delay = %v, want %v", delay, want)
	}

	client.Disconnect()
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	stub := newRelayStub(t, func(conn *websocket.Conn, attempt int) {
		if attempt > 1 {
			// Fail retries before ready so the budget is consumed
			// instead of being reset by a successful connect.
			conn.Close()
			return
		}
		sendReady(conn)
		conn.Close()
	})
	defer stub.close()

	errs := make(chan error, 4)
	rec := &stateRecorder{}
	client := NewClient(Config{
		URL:         stub.url(),
		MaxAttempts: 2,
		BaseDelay:   10 * time.Millisecond,
	}, Handlers{
		OnStateChange: rec.record,
		OnError:       func(err error) { errs <- err },
	}, zap.NewNop())

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("initial Connect failed: %v", err)
	}

	select {
	case err := <-errs:
		if !errors.Is(err, ErrRetriesExhausted) {
			t.Errorf("expected ErrRetriesExhausted, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retries never exhausted")
	}
	rec.waitFor(t, StateError, time.Second)

	// The final retry before exhaustion was scheduled at base * max.
	client.mu.Lock()
	delay := client.lastScheduledDelay
	client.mu.Unlock()
	if want := 2 * 10 * time.Millisecond; delay != want {
		t.Errorf("last scheduled delay = %v, want %v", delay, want)
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	stub := newRelayStub(t, func(conn *websocket.Conn, attempt int) {
		sendReady(conn)
		conn.Close()
	})
	defer stub.close()

	client := NewClient(Config{
		URL:         stub.url(),
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
	}, Handlers{}, zap.NewNop())

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Wait for the drop to be noticed, then disconnect while the
	// reconnect timer is still pending.
	time.Sleep(50 * time.Millisecond)
	client.Disconnect()

	before := stub.connectCount()
	time.Sleep(500 * time.Millisecond)
	if after := stub.connectCount(); after != before {
		t.Errorf("reconnect fired after Disconnect: %d -> %d connections", before, after)
	}
	if got := client.State(); got != StateIdle {
		t.Errorf("expected idle after Disconnect, got %q", got)
	}
}

func TestSendAudioDroppedWhenNotConnected(t *testing.T) {
	client := NewClient(Config{URL: "ws://127.0.0.1:1/ws"}, Handlers{}, zap.NewNop())

	client.SendAudio([]byte{0x01, 0x02})
	if n := client.FramesSent(); n != 0 {
		t.Errorf("frames sent while idle: %d", n)
	}
}

func TestSendAudioForwardsBinaryFrames(t *testing.T) {
	frames := make(chan []byte, 4)
	stub := newRelayStub(t, func(conn *websocket.Conn, attempt int) {
		sendReady(conn)
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
	defer stub.close()

	client := NewClient(Config{URL: stub.url()}, Handlers{}, zap.NewNop())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	payload := []byte{0x00, 0x10, 0x20, 0x30}
	client.SendAudio(payload)

	select {
	case got := <-frames:
		if len(got) != len(payload) {
			t.Errorf("frame size mismatch: got %d, want %d", len(got), len(payload))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("binary frame never reached relay")
	}
	if n := client.FramesSent(); n != 1 {
		t.Errorf("FramesSent = %d, want 1", n)
	}
}

func TestConnectIsIdempotentWhileConnected(t *testing.T) {
	stub := newRelayStub(t, func(conn *websocket.Conn, attempt int) {
		sendReady(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer stub.close()

	client := NewClient(Config{URL: stub.url()}, Handlers{}, zap.NewNop())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect should be a no-op, got %v", err)
	}
	if n := stub.connectCount(); n != 1 {
		t.Errorf("expected a single connection, got %d", n)
	}
}
