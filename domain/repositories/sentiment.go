package repositories

import (
	"context"

	"github.com/lumavoice/aura/domain/entities"
)

// SentimentAnalyzer abstracts the external text-analysis collaborator.
// Implementations must return a usable (possibly fallback) result or an
// error; callers treat failures as non-fatal to the transcription flow.
type SentimentAnalyzer interface {
	// Analyze extracts sentiment, emotion scores and keywords from one
	// finalized sentence.
	Analyze(ctx context.Context, text string) (*entities.SentimentResult, error)
}
