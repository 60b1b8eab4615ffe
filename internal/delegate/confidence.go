package delegate

import "regexp"

// ConfidenceScorer estimates how certain a delegate's output is.
// The keyword heuristic below is approximate; keeping it behind an
// interface lets a calibrated scorer replace it without touching callers.
type ConfidenceScorer interface {
	// Score returns a confidence estimate in [0,1] for the given output.
	Score(text string) float64
}

// DefaultConfidence is returned when the output carries no certainty language.
const DefaultConfidence = 0.5

var (
	strongRe  = regexp.MustCompile(`(?i)\b(definitely|certainly|absolutely|clearly|strongly)\b`)
	likelyRe  = regexp.MustCompile(`(?i)\b(likely|probably|appears|seems|looks)\b`)
	hedgedRe  = regexp.MustCompile(`(?i)\b(maybe|might|could|possibly|perhaps|unsure)\b`)
	puzzledRe = regexp.MustCompile(`(?i)\b(difficult to say|hard to tell|cannot determine|need more)\b`)
)

// KeywordScorer maps certainty vocabulary to fixed confidence tiers:
// strong assertion 0.9, probable 0.7, hedged 0.4, explicitly stuck 0.2.
type KeywordScorer struct{}

// Score implements ConfidenceScorer.
func (KeywordScorer) Score(text string) float64 {
	switch {
	case strongRe.MatchString(text):
		return 0.9
	case likelyRe.MatchString(text):
		return 0.7
	case hedgedRe.MatchString(text):
		return 0.4
	case puzzledRe.MatchString(text):
		return 0.2
	default:
		return DefaultConfidence
	}
}

// Verify KeywordScorer implements ConfidenceScorer at compile time.
var _ ConfidenceScorer = KeywordScorer{}
