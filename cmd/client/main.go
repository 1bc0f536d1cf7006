package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumavoice/aura/adapters/sentiment"
	"github.com/lumavoice/aura/domain/entities"
	"github.com/lumavoice/aura/internal/capture"
	"github.com/lumavoice/aura/internal/config"
	"github.com/lumavoice/aura/internal/relayclient"
	"github.com/lumavoice/aura/usecase"
)

type authRequest struct {
	AccessKey string `json:"access_key"`
	ClientID  string `json:"client_id,omitempty"`
}

type authResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ClientID  string    `json:"client_id"`
}

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	settings := config.Load()
	if err := settings.ValidateClient(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	token, clientID, err := authenticate(settings)
	if err != nil {
		logger.Fatal("Authentication failed", zap.Error(err))
	}
	logger.Info("Authenticated", zap.String("client_id", clientID))

	engine := capture.NewEngine(capture.DefaultConfig(), logger)
	analyzer := sentiment.NewHTTPAnalyzer(settings.ServerURL,
		time.Duration(settings.RequestTimeoutSeconds)*time.Second, logger)

	factory := func(h relayclient.Handlers) usecase.Relay {
		return relayclient.NewClient(relayclient.Config{
			URL:         settings.RelayURL,
			Token:       token,
			MaxAttempts: settings.ReconnectMaxAttempts,
			BaseDelay:   time.Duration(settings.ReconnectBaseDelayMs) * time.Millisecond,
		}, h, logger)
	}

	controller := usecase.NewSessionController(engine, factory, analyzer, usecase.Callbacks{
		OnStateChange: func(state relayclient.ConnectionState) {
			fmt.Printf("\r\033[K[%s]\n", state)
		},
		OnInterim: func(text string) {
			fmt.Printf("\r\033[K… %s", text)
		},
		OnFinal: func(text string) {
			fmt.Printf("\r\033[K✓ %s\n", text)
		},
		OnSentiment: func(result *entities.SentimentResult) {
			emotion, score := result.Emotions.Dominant()
			fmt.Printf("  %s %.2f  score=%+.2f  keywords=%s\n",
				emotion, score, result.Sentiment.Score,
				strings.Join(result.Keywords, ", "))
		},
		OnError: func(err error) {
			fmt.Printf("\r\033[K! %v\n", err)
		},
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = controller.Start(ctx)
	cancel()
	if err != nil {
		logger.Fatal("Failed to start session", zap.Error(err))
	}
	defer controller.Close()

	fmt.Println("Recording. Press Ctrl-C to stop.")
	go levelMeter(engine)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt

	fmt.Println("\nStopping...")
	controller.Stop()

	finals := controller.Finals()
	fmt.Printf("Session transcript (%d lines):\n", len(finals))
	for _, line := range finals {
		fmt.Println("  " + line)
	}
}

func authenticate(settings *config.Settings) (string, string, error) {
	body, err := json.Marshal(authRequest{AccessKey: settings.AccessKey})
	if err != nil {
		return "", "", err
	}

	resp, err := http.Post(settings.ServerURL+"/api/auth", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("authentication failed: %s", string(data))
	}

	var auth authResponse
	if err := json.Unmarshal(data, &auth); err != nil {
		return "", "", err
	}
	return auth.Token, auth.ClientID, nil
}

// levelMeter prints a coarse input level bar while recording, in place
// of the browser visualization.
func levelMeter(engine *capture.Engine) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		if !engine.IsRecording() {
			continue
		}
		width := int(engine.Level() * 30)
		fmt.Printf("\r\033[K[%-30s]", strings.Repeat("█", width))
	}
}
