package relay

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestConnectedMessageShape(t *testing.T) {
	data := ConnectedMessage().encode()

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("connected message is not valid JSON: %v", err)
	}
	if decoded["type"] != "connected" {
		t.Errorf("type = %v, want connected", decoded["type"])
	}
	if decoded["message"] == "" {
		t.Error("connected message should carry a human-readable note")
	}
	if _, ok := decoded["transcript"]; ok {
		t.Error("connected message should omit transcript fields")
	}
}

func TestTranscriptMessageShape(t *testing.T) {
	cases := []struct {
		name       string
		text       string
		isFinal    bool
		confidence float64
	}{
		{"interim", "hello wor", false, 0.72},
		{"final", "Hello world.", true, 0.97},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := TranscriptMessage(tc.text, tc.isFinal, tc.confidence).encode()

			var decoded struct {
				Type       string  `json:"type"`
				Transcript string  `json:"transcript"`
				IsFinal    bool    `json:"is_final"`
				Confidence float64 `json:"confidence"`
			}
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if decoded.Type != "transcript" {
				t.Errorf("type = %q", decoded.Type)
			}
			if decoded.Transcript != tc.text {
				t.Errorf("transcript = %q, want %q", decoded.Transcript, tc.text)
			}
			if decoded.IsFinal != tc.isFinal {
				t.Errorf("is_final = %v, want %v", decoded.IsFinal, tc.isFinal)
			}
			if decoded.Confidence != tc.confidence {
				t.Errorf("confidence = %v, want %v", decoded.Confidence, tc.confidence)
			}
		})
	}
}

func TestSpeechEventMessages(t *testing.T) {
	if !strings.Contains(string(SpeechStartedMessage().encode()), `"type":"speechstarted"`) {
		t.Error("speech started message has wrong type tag")
	}
	if !strings.Contains(string(SpeechEndedMessage().encode()), `"type":"speechended"`) {
		t.Error("speech ended message has wrong type tag")
	}
}

func TestErrorMessageCarriesDetail(t *testing.T) {
	data := ErrorMessage("upstream connection error").encode()

	var decoded ServerMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Type != MessageTypeError {
		t.Errorf("type = %q", decoded.Type)
	}
	if decoded.Message != "upstream connection error" {
		t.Errorf("message = %q", decoded.Message)
	}
}

func TestParseClientMessage(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid config", `{"type":"config","sample_rate":16000,"language":"en-US","encoding":"linear16"}`, false},
		{"config without overrides", `{"type":"config"}`, false},
		{"opus encoding", `{"type":"config","encoding":"ogg_opus"}`, false},
		{"unknown type passes through", `{"type":"whatever"}`, false},
		{"missing type", `{"sample_rate":16000}`, true},
		{"sample rate too low", `{"type":"config","sample_rate":4000}`, true},
		{"sample rate too high", `{"type":"config","sample_rate":96000}`, true},
		{"bad encoding", `{"type":"config","encoding":"mp3"}`, true},
		{"not json", `not json`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseClientMessage([]byte(tc.input))
			if tc.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
