package api

import (
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lumavoice/aura/domain/repositories"
	"github.com/lumavoice/aura/internal/auth"
	"github.com/lumavoice/aura/internal/config"
	"github.com/lumavoice/aura/internal/relay"
)

// Server wires the HTTP surface: auth, sentence analysis, status, and
// the relay WebSocket upgrade.
type Server struct {
	hub           *relay.Hub
	analyzer      repositories.SentimentAnalyzer
	authenticator *auth.Authenticator
	settings      *config.Settings
	logger        *zap.Logger

	// inFlight tracks concurrent analysis requests against the cap.
	inFlight int64
}

// NewServer creates the API server over its collaborators.
func NewServer(
	hub *relay.Hub,
	analyzer repositories.SentimentAnalyzer,
	authenticator *auth.Authenticator,
	settings *config.Settings,
	logger *zap.Logger,
) *Server {
	return &Server{
		hub:           hub,
		analyzer:      analyzer,
		authenticator: authenticator,
		settings:      settings,
		logger:        logger,
	}
}

// InitRoutes initializes all API routes
func (s *Server) InitRoutes(e *echo.Echo) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "aura-server",
		})
	})

	api := e.Group("/api")
	api.POST("/auth", s.clientAuth)
	api.POST("/process_text", s.processText)
	api.GET("/status", s.status)
	api.GET("/models", s.models)

	// WebSocket endpoint with JWT validation
	e.GET("/ws", s.relayWithAuth)
}

// clientAuth exchanges the shared access key for a relay token.
func (s *Server) clientAuth(c echo.Context) error {
	var req AuthRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Error("Failed to bind auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.AccessKey == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Access key is required",
		})
	}

	if s.settings.AccessKey == "" || req.AccessKey != s.settings.AccessKey {
		s.logger.Warn("Client authentication failed")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid access key",
		})
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	token, expiresAt, err := s.authenticator.GenerateClientToken(clientID)
	if err != nil {
		s.logger.Error("Failed to generate client token",
			zap.String("client_id", clientID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	s.logger.Info("Client authenticated", zap.String("client_id", clientID))
	return c.JSON(http.StatusOK, AuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		ClientID:  clientID,
	})
}

// processText analyzes one sentence. Load is capped with a simple
// concurrent-request counter; callers beyond the cap get 429.
func (s *Server) processText(c echo.Context) error {
	var req ProcessTextRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_text",
			Message: "Text must not be empty",
		})
	}
	if len(req.Text) > 1000 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_text",
			Message: "Text must be at most 1000 characters",
		})
	}

	max := int64(s.settings.MaxConcurrentRequests)
	if atomic.AddInt64(&s.inFlight, 1) > max {
		atomic.AddInt64(&s.inFlight, -1)
		s.logger.Warn("Rate limit reached", zap.Int64("max", max))
		return c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error:   "too_many_requests",
			Message: "Too many concurrent requests. Please try again.",
		})
	}
	defer atomic.AddInt64(&s.inFlight, -1)

	s.logger.Info("Processing text", zap.String("preview", preview(text, 50)))

	result, err := s.analyzer.Analyze(c.Request().Context(), text)
	if err != nil {
		// Analyzer implementations degrade internally; an error here
		// means even degradation failed.
		s.logger.Error("Sentiment analysis failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "analysis_failed",
			Message: "Failed to analyze text",
		})
	}

	if result.IsFallback {
		s.logger.Warn("Returning fallback analysis")
	}
	return c.JSON(http.StatusOK, result)
}

// status reports backend load and configuration.
func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:                "operational",
		ConcurrentRequests:    int(atomic.LoadInt64(&s.inFlight)),
		MaxConcurrentRequests: s.settings.MaxConcurrentRequests,
		ActiveRelayClients:    s.hub.ClientCount(),
		AIProvider:            "google",
		Model:                 s.settings.GeminiModel,
		Features: map[string]bool{
			"sentiment_analysis": true,
			"keyword_extraction": true,
			"emotion_detection":  true,
		},
		Endpoints: map[string]string{
			"health":       "/health",
			"status":       "/api/status",
			"process_text": "/api/process_text",
			"models":       "/api/models",
			"relay":        "/ws",
		},
	})
}

// models lists the sentiment models the backend can be configured with.
func (s *Server) models(c echo.Context) error {
	return c.JSON(http.StatusOK, ModelsResponse{
		CurrentModel: s.settings.GeminiModel,
		AvailableModels: []ModelInfo{
			{
				ID:          "gemini-2.0-flash",
				Name:        "Gemini 2.0 Flash",
				Description: "Low-latency default for per-sentence analysis",
				Speed:       "fast",
				Quality:     "excellent",
			},
			{
				ID:          "gemini-1.5-pro",
				Name:        "Gemini 1.5 Pro",
				Description: "Most capable model for nuanced analysis",
				Speed:       "slower",
				Quality:     "highest",
			},
			{
				ID:          "gemini-1.5-flash",
				Name:        "Gemini 1.5 Flash",
				Description: "Cheapest option for high-volume sessions",
				Speed:       "fastest",
				Quality:     "good",
			},
		},
	})
}

// relayWithAuth gates the relay WebSocket behind a valid client token.
func (s *Server) relayWithAuth(c echo.Context) error {
	var token string
	authHeader := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	}
	if token == "" {
		// Browser WebSocket clients cannot set headers.
		token = c.QueryParam("token")
	}

	if token == "" {
		s.logger.Warn("Relay connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required in Authorization header",
		})
	}

	claims, err := s.authenticator.ValidateToken(token)
	if err != nil {
		s.logger.Warn("Relay connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	if claims.Role != "client" {
		s.logger.Warn("Relay connection rejected: invalid role",
			zap.String("role", claims.Role))
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "invalid_role",
			Message: "Only client tokens are allowed for relay connections",
		})
	}

	if claims.ClientID == "" {
		s.logger.Error("Relay connection rejected: missing client ID in token")
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_token_claims",
			Message: "Client ID not found in token",
		})
	}

	s.logger.Info("Relay connection authenticated",
		zap.String("client_id", claims.ClientID))
	return relay.HandleRelay(s.hub, c, claims.ClientID, s.logger)
}

func preview(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
