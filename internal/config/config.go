package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Settings holds all externally supplied configuration for both the
// relay server and the capture client. Values come from environment
// variables, optionally loaded from a .env file.
type Settings struct {
	// Server
	Port        string
	CORSOrigins []string

	// Relay access control
	JWTSecret string
	AccessKey string

	// Upstream transcription
	STTProvider    string // "deepgram" or "google"
	DeepgramAPIKey string
	Language       string
	SampleRate     int

	// Sentiment analysis
	GeminiAPIKey          string
	GeminiModel           string
	MaxTokens             int
	Temperature           float64
	MaxConcurrentRequests int
	RequestTimeoutSeconds int

	// Session persistence (optional)
	MongoURI      string
	MongoDatabase string

	// Capture client
	RelayURL             string
	ServerURL            string
	ReconnectMaxAttempts int
	ReconnectBaseDelayMs int
}

// Load reads settings from the environment. A missing .env file is not
// an error; explicit environment variables always win.
func Load() *Settings {
	_ = godotenv.Load()

	return &Settings{
		Port:        getEnv("PORT", "8000"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"), ","),

		JWTSecret: getEnv("JWT_SECRET", ""),
		AccessKey: getEnv("ACCESS_KEY", ""),

		STTProvider:    getEnv("STT_PROVIDER", "deepgram"),
		DeepgramAPIKey: getEnv("DEEPGRAM_API_KEY", ""),
		Language:       getEnv("LANGUAGE", "en-US"),
		SampleRate:     getEnvInt("SAMPLE_RATE", 16000),

		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		MaxTokens:             getEnvInt("MAX_TOKENS", 300),
		Temperature:           getEnvFloat("TEMPERATURE", 0.3),
		MaxConcurrentRequests: getEnvInt("MAX_CONCURRENT_REQUESTS", 10),
		RequestTimeoutSeconds: getEnvInt("REQUEST_TIMEOUT_SECONDS", 30),

		MongoURI:      getEnv("MONGODB_URI", ""),
		MongoDatabase: getEnv("MONGODB_DATABASE", "aura"),

		RelayURL:             getEnv("RELAY_URL", "ws://localhost:8000/ws"),
		ServerURL:            getEnv("SERVER_URL", "http://localhost:8000"),
		ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 3),
		ReconnectBaseDelayMs: getEnvInt("RECONNECT_BASE_DELAY_MS", 1000),
	}
}

// ValidateServer checks the settings the relay server cannot run without.
func (s *Settings) ValidateServer() error {
	if s.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch s.STTProvider {
	case "deepgram":
		if s.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when STT_PROVIDER=deepgram")
		}
	case "google":
		// Google credentials resolve through GOOGLE_APPLICATION_CREDENTIALS.
	default:
		return fmt.Errorf("unknown STT_PROVIDER: %s", s.STTProvider)
	}

	if s.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required for sentiment analysis")
	}

	return nil
}

// ValidateClient checks the settings the capture client cannot run without.
func (s *Settings) ValidateClient() error {
	if s.RelayURL == "" {
		return fmt.Errorf("RELAY_URL is required")
	}
	if s.ReconnectMaxAttempts < 1 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be at least 1")
	}
	if s.ReconnectBaseDelayMs < 1 {
		return fmt.Errorf("RECONNECT_BASE_DELAY_MS must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
