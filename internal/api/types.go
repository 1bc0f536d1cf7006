package api

import "time"

// AuthRequest is the payload for exchanging an access key for a token.
type AuthRequest struct {
	AccessKey string `json:"access_key" validate:"required"`
	ClientID  string `json:"client_id,omitempty"`
}

// AuthResponse carries the issued relay access token.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ClientID  string    `json:"client_id"`
}

// ProcessTextRequest is the payload for sentence analysis.
type ProcessTextRequest struct {
	Text string `json:"text" validate:"required,min=1,max=1000"`
}

// StatusResponse describes the sentiment backend's current load and
// configuration.
type StatusResponse struct {
	Status                string            `json:"status"`
	ConcurrentRequests    int               `json:"concurrent_requests"`
	MaxConcurrentRequests int               `json:"max_concurrent_requests"`
	ActiveRelayClients    int               `json:"active_relay_clients"`
	AIProvider            string            `json:"ai_provider"`
	Model                 string            `json:"model"`
	Features              map[string]bool   `json:"features"`
	Endpoints             map[string]string `json:"endpoints,omitempty"`
}

// ModelInfo describes one selectable analysis model.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Speed       string `json:"speed"`
	Quality     string `json:"quality"`
}

// ModelsResponse lists the active model and the supported catalog.
type ModelsResponse struct {
	CurrentModel    string      `json:"current_model"`
	AvailableModels []ModelInfo `json:"available_models"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
