package sentiment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/lumavoice/aura/domain/entities"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultMaxTokens      = 300
	defaultTemperature    = 0.3
	defaultTimeoutSeconds = 30
	maxAttempts           = 3
)

// Config holds the Gemini analyzer settings.
type Config struct {
	APIKey         string
	Model          string
	MaxTokens      int
	Temperature    float64
	TimeoutSeconds int
}

// GeminiAnalyzer scores sentences for sentiment, emotions, and keywords
// using the Gemini API. Failures degrade to a neutral fallback result
// rather than an error, so a flaky vendor never stalls the transcript
// pipeline.
type GeminiAnalyzer struct {
	client      *genai.Client
	logger      *zap.Logger
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
}

// NewGeminiAnalyzer creates an analyzer, applying defaults for any
// unset tuning knob.
func NewGeminiAnalyzer(cfg Config, logger *zap.Logger) (*GeminiAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = defaultTimeoutSeconds
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &GeminiAnalyzer{
		client:      client,
		logger:      logger,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
	}, nil
}

const analysisPrompt = `Analyze this text for sentiment and emotions:
%q

Return a JSON object with:
1. sentiment type (positive/negative/neutral/mixed) and score (-1 to 1)
2. keywords (important words from the text)
3. emotion scores (0 to 1) for joy, sadness, anger, fear, surprise, disgust

Example format:
{"sentiment": {"type": "positive", "score": 0.8, "intensity": 0.7}, "keywords": ["excited", "amazing"], "emotions": {"joy": 0.8, "sadness": 0.0, "anger": 0.0, "fear": 0.0, "surprise": 0.3, "disgust": 0.0}}

JSON Response:`

// Analyze scores one sentence. It retries transient vendor failures,
// then falls back to a neutral result; the returned error is always nil
// by design of the pipeline, but kept in the signature for alternate
// implementations.
func (g *GeminiAnalyzer) Analyze(ctx context.Context, text string) (*entities.SentimentResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf(analysisPrompt, text), genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.temperature),
		MaxOutputTokens: int32(g.maxTokens),
	}

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		response, err = g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err == nil {
			break
		}
		g.logger.Warn("Sentiment analysis attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if attempt < maxAttempts-1 {
			select {
			case <-time.After(time.Duration(attempt+1) * time.Second):
			case <-ctx.Done():
				err = ctx.Err()
				attempt = maxAttempts // give up
			}
		}
	}
	if err != nil {
		g.logger.Error("Sentiment analysis failed, returning fallback", zap.Error(err))
		return fallbackResult(), nil
	}

	raw := responseText(response)
	if raw == "" {
		g.logger.Warn("Empty sentiment response, returning fallback")
		return fallbackResult(), nil
	}

	result := parseResponse(raw, text, g.logger)
	result.ProcessingTimeMs = time.Since(start).Milliseconds()

	g.logger.Info("Sentence analyzed",
		zap.String("type", string(result.Sentiment.Type)),
		zap.Float64("score", result.Sentiment.Score),
		zap.Int64("processing_time_ms", result.ProcessingTimeMs),
		zap.Bool("is_fallback", result.IsFallback))
	return result, nil
}

func responseText(response *genai.GenerateContentResponse) string {
	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}
	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}
	return text
}

// fallbackResult is the neutral degradation shape clients can always
// render.
func fallbackResult() *entities.SentimentResult {
	return &entities.SentimentResult{
		Sentiment: entities.Sentiment{
			Type:      entities.SentimentNeutral,
			Score:     0,
			Intensity: 0.5,
		},
		Keywords:   []string{"analysis", "pending"},
		Emotions:   entities.EmotionScores{},
		Timestamp:  time.Now().UnixMilli(),
		IsFallback: true,
	}
}
