package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	adaptermongo "github.com/lumavoice/aura/adapters/mongo"
	"github.com/lumavoice/aura/adapters/sentiment"
	"github.com/lumavoice/aura/adapters/stt"
	"github.com/lumavoice/aura/domain/repositories"
	"github.com/lumavoice/aura/internal/api"
	"github.com/lumavoice/aura/internal/auth"
	"github.com/lumavoice/aura/internal/config"
	"github.com/lumavoice/aura/internal/relay"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	settings := config.Load()
	if err := settings.ValidateServer(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: settings.CORSOrigins,
	}))

	// Upstream transcription provider
	var speechToText repositories.SpeechToText
	switch settings.STTProvider {
	case "deepgram":
		speechToText = stt.NewDeepgramSpeechToText(settings.DeepgramAPIKey, logger)
	case "google":
		speechToText = stt.NewGoogleSpeechToText(logger)
	default:
		logger.Fatal("Unknown STT provider", zap.String("provider", settings.STTProvider))
	}

	// Sentiment analyzer
	analyzer, err := sentiment.NewGeminiAnalyzer(sentiment.Config{
		APIKey:         settings.GeminiAPIKey,
		Model:          settings.GeminiModel,
		MaxTokens:      settings.MaxTokens,
		Temperature:    settings.Temperature,
		TimeoutSeconds: settings.RequestTimeoutSeconds,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize sentiment analyzer", zap.Error(err))
	}

	// Session persistence is optional: without Mongo the relay still
	// streams transcripts, it just keeps nothing.
	var sessionRepo repositories.SessionRepository
	var cleanup *relay.SessionCleanupService
	if settings.MongoURI != "" {
		mongoClient, err := adaptermongo.NewClient(settings.MongoURI, settings.MongoDatabase, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mongoClient.Close(ctx)
		}()

		sessionRepo = adaptermongo.NewSessionRepository(mongoClient.Database)
		cleanup = relay.NewSessionCleanupService(sessionRepo, logger)
		cleanup.Start()
		defer cleanup.Stop()
	} else {
		logger.Warn("MONGODB_URI not set, session persistence disabled")
	}

	// Relay hub
	hub := relay.NewHub(speechToText, analyzer, sessionRepo, repositories.AudioConfig{
		SampleRate: settings.SampleRate,
		Language:   settings.Language,
	}, logger)
	go hub.Run()

	// API routes
	server := api.NewServer(hub, analyzer, auth.NewAuthenticator(settings.JWTSecret), settings, logger)
	server.InitRoutes(e)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + settings.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Relay server started",
		zap.String("port", settings.Port),
		zap.String("stt_provider", settings.STTProvider),
		zap.String("model", settings.GeminiModel))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
