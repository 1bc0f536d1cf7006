package sentiment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lumavoice/aura/domain/entities"
)

// MockAnalyzer scores text with the offline word-count heuristic. Used
// when no API key is configured and in tests.
type MockAnalyzer struct {
	logger *zap.Logger
}

func NewMockAnalyzer(logger *zap.Logger) *MockAnalyzer {
	return &MockAnalyzer{logger: logger}
}

func (m *MockAnalyzer) Analyze(ctx context.Context, text string) (*entities.SentimentResult, error) {
	start := time.Now()
	result := heuristicResult(text)
	result.IsFallback = false
	result.ProcessingTimeMs = time.Since(start).Milliseconds()

	m.logger.Debug("Mock sentiment analysis",
		zap.String("type", string(result.Sentiment.Type)),
		zap.Float64("score", result.Sentiment.Score))
	return result, nil
}
