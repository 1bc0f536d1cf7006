package entities

// SentimentType classifies the overall polarity of a sentence.
type SentimentType string

const (
	SentimentPositive SentimentType = "positive"
	SentimentNegative SentimentType = "negative"
	SentimentNeutral  SentimentType = "neutral"
	SentimentMixed    SentimentType = "mixed"
)

// MaxKeywords bounds the keyword list returned to visualization clients.
const MaxKeywords = 10

// Sentiment is the polarity portion of an analysis result.
// Score uses the signed convention: -1 (most negative) to 1 (most positive).
type Sentiment struct {
	Type      SentimentType `json:"type"`
	Score     float64       `json:"score"`
	Intensity float64       `json:"intensity"`
}

// EmotionScores holds per-emotion intensities, each in [0,1].
type EmotionScores struct {
	Joy      float64 `json:"joy"`
	Sadness  float64 `json:"sadness"`
	Anger    float64 `json:"anger"`
	Fear     float64 `json:"fear"`
	Surprise float64 `json:"surprise"`
	Disgust  float64 `json:"disgust"`
}

// Dominant returns the name and score of the strongest emotion.
// Ties resolve in declaration order; all-zero scores report "neutral".
func (e EmotionScores) Dominant() (string, float64) {
	names := []string{"joy", "sadness", "anger", "fear", "surprise", "disgust"}
	values := []float64{e.Joy, e.Sadness, e.Anger, e.Fear, e.Surprise, e.Disgust}

	best := -1
	for i, v := range values {
		if v > 0 && (best < 0 || v > values[best]) {
			best = i
		}
	}
	if best < 0 {
		return "neutral", 0
	}
	return names[best], values[best]
}

// SentimentResult is the full analysis for one finalized sentence.
// It is produced per sentence and handed to visualization callbacks;
// it is never mutated after creation.
type SentimentResult struct {
	Sentiment        Sentiment     `json:"sentiment"`
	Keywords         []string      `json:"keywords"`
	Emotions         EmotionScores `json:"emotions"`
	Timestamp        int64         `json:"timestamp"`
	ProcessingTimeMs int64         `json:"processing_time_ms,omitempty"`
	IsFallback       bool          `json:"is_fallback,omitempty"`
}

// Clamp forces every numeric field into its documented range and trims
// the keyword list to MaxKeywords. Vendor models occasionally return
// out-of-range values.
func (r *SentimentResult) Clamp() {
	r.Sentiment.Score = clamp(r.Sentiment.Score, -1, 1)
	r.Sentiment.Intensity = clamp(r.Sentiment.Intensity, 0, 1)

	r.Emotions.Joy = clamp(r.Emotions.Joy, 0, 1)
	r.Emotions.Sadness = clamp(r.Emotions.Sadness, 0, 1)
	r.Emotions.Anger = clamp(r.Emotions.Anger, 0, 1)
	r.Emotions.Fear = clamp(r.Emotions.Fear, 0, 1)
	r.Emotions.Surprise = clamp(r.Emotions.Surprise, 0, 1)
	r.Emotions.Disgust = clamp(r.Emotions.Disgust, 0, 1)

	switch r.Sentiment.Type {
	case SentimentPositive, SentimentNegative, SentimentNeutral, SentimentMixed:
	default:
		r.Sentiment.Type = SentimentNeutral
	}

	if len(r.Keywords) > MaxKeywords {
		r.Keywords = r.Keywords[:MaxKeywords]
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
