package sentiment

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumavoice/aura/domain/entities"
)

// modelResponse mirrors the JSON shape the prompt asks for. Keywords is
// raw JSON because models sometimes return a comma-joined string instead
// of an array.
type modelResponse struct {
	Sentiment struct {
		Type      string   `json:"type"`
		Score     float64  `json:"score"`
		Intensity *float64 `json:"intensity"`
	} `json:"sentiment"`
	Keywords json.RawMessage        `json:"keywords"`
	Emotions entities.EmotionScores `json:"emotions"`
}

// parseResponse turns a raw model reply into a validated result. The
// reply may be bare JSON or wrapped in markdown fences; anything
// unparseable degrades to a keyword-heuristic fallback over the original
// sentence.
func parseResponse(raw, sourceText string, logger *zap.Logger) *entities.SentimentResult {
	jsonStr := extractJSON(raw)

	var parsed modelResponse
	if jsonStr == "" || json.Unmarshal([]byte(jsonStr), &parsed) != nil {
		logger.Warn("Could not parse sentiment response, using heuristic fallback",
			zap.String("preview", preview(raw, 120)))
		return heuristicResult(sourceText)
	}

	intensity := 0.5
	if parsed.Sentiment.Intensity != nil {
		intensity = *parsed.Sentiment.Intensity
	} else if parsed.Sentiment.Score != 0 {
		intensity = abs(parsed.Sentiment.Score)
	}

	result := &entities.SentimentResult{
		Sentiment: entities.Sentiment{
			Type:      entities.SentimentType(parsed.Sentiment.Type),
			Score:     parsed.Sentiment.Score,
			Intensity: intensity,
		},
		Keywords:  parseKeywords(parsed.Keywords),
		Emotions:  parsed.Emotions,
		Timestamp: time.Now().UnixMilli(),
	}
	result.Clamp()
	return result
}

// extractJSON finds the JSON payload in a model reply: first a bare
// object, then a ```json fence, then a generic fence.
func extractJSON(raw string) string {
	cleaned := strings.TrimSpace(raw)

	if start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}"); start >= 0 && end > start {
		candidate := cleaned[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate
		}
	}

	for _, fence := range []string{"```json", "```"} {
		if idx := strings.Index(cleaned, fence); idx >= 0 {
			rest := cleaned[idx+len(fence):]
			if end := strings.Index(rest, "```"); end > 0 {
				candidate := strings.TrimSpace(rest[:end])
				if json.Valid([]byte(candidate)) {
					return candidate
				}
			}
		}
	}
	return ""
}

// parseKeywords accepts either a JSON array or a comma-joined string.
func parseKeywords(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var joined string
		if err := json.Unmarshal(raw, &joined); err != nil {
			return nil
		}
		list = strings.Split(joined, ",")
	}

	var cleaned []string
	for _, kw := range list {
		kw = strings.Trim(strings.TrimSpace(kw), `"'`)
		if len(kw) > 1 {
			cleaned = append(cleaned, kw)
		}
		if len(cleaned) == entities.MaxKeywords {
			break
		}
	}
	return cleaned
}

var (
	positiveWords = []string{"thrilled", "excited", "happy", "great", "amazing", "wonderful", "excellent", "fantastic", "love", "incredible"}
	negativeWords = []string{"sad", "angry", "frustrated", "terrible", "awful", "hate", "horrible", "bad", "disappointed"}
	wordPattern   = regexp.MustCompile(`[A-Za-z]+`)
)

// heuristicResult scores a sentence by counting charged words. Last
// resort when the model reply is unusable.
func heuristicResult(text string) *entities.SentimentResult {
	lower := strings.ToLower(text)

	var positives, negatives int
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			positives++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			negatives++
		}
	}

	sentimentType := entities.SentimentNeutral
	score := 0.0
	switch {
	case positives > negatives:
		sentimentType = entities.SentimentPositive
		score = min(1.0, float64(positives)*0.3)
	case negatives > positives:
		sentimentType = entities.SentimentNegative
		score = max(-1.0, -float64(negatives)*0.3)
	}

	var keywords []string
	for _, w := range wordPattern.FindAllString(preview(text, 100), -1) {
		if len(w) > 4 {
			keywords = append(keywords, w)
		}
		if len(keywords) == 5 {
			break
		}
	}

	emotions := entities.EmotionScores{Surprise: 0.1}
	if score > 0 {
		emotions.Joy = score
	} else if score < 0 {
		emotions.Sadness = abs(score)
	}

	return &entities.SentimentResult{
		Sentiment: entities.Sentiment{
			Type:      sentimentType,
			Score:     score,
			Intensity: abs(score),
		},
		Keywords:   keywords,
		Emotions:   emotions,
		Timestamp:  time.Now().UnixMilli(),
		IsFallback: true,
	}
}

func preview(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
