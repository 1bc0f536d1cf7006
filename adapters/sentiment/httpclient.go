package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumavoice/aura/domain/entities"
)

// HTTPAnalyzer calls the backend's text-processing endpoint instead of
// a vendor directly. The capture client uses this so API credentials
// stay on the server.
type HTTPAnalyzer struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPAnalyzer(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPAnalyzer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAnalyzer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type processTextRequest struct {
	Text string `json:"text"`
}

// Analyze posts the sentence to the backend and decodes the result.
// Unlike the vendor adapters this surfaces transport errors: the caller
// decides whether to degrade.
func (h *HTTPAnalyzer) Analyze(ctx context.Context, text string) (*entities.SentimentResult, error) {
	body, err := json.Marshal(processTextRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.baseURL+"/api/process_text", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling process_text: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("process_text returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var result entities.SentimentResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	result.Clamp()
	return &result, nil
}
