// Package scoring combines stage signals into a confidence score and maps the
// score to a dispatch decision. Both halves are pure functions of their
// inputs so they can be tuned and tested from literal values.
package scoring

import (
	"fmt"

	"github.com/sells-group/dispatch-cli/internal/config"
)

// Signals are the three stage outputs the calculator consumes.
type Signals struct {
	ASRConfidence     float64 // transcription confidence in [0,1]
	EntityMatchScore  float64 // mandatory-field coverage in [0,1]
	RetrievalHitScore float64 // 0.0 miss .. 1.0 strong hit
}

// Calculator computes the weighted confidence score. Weights come from
// configuration and are validated to sum to 1 at startup.
type Calculator struct {
	w1, w2, w3 float64
}

// NewCalculator builds a calculator from the scoring config.
func NewCalculator(cfg config.ScoringConfig) *Calculator {
	return &Calculator{w1: cfg.ASRWeight, w2: cfg.EntityWeight, w3: cfg.RetrievalWeight}
}

// Score returns w1*asr + w2*entity + w3*retrieval clamped to [0,1].
func (c *Calculator) Score(s Signals) float64 {
	score := c.w1*clamp01(s.ASRConfidence) +
		c.w2*clamp01(s.EntityMatchScore) +
		c.w3*clamp01(s.RetrievalHitScore)
	return clamp01(score)
}

// Breakdown renders the per-signal contributions for the reasoning trace.
func (c *Calculator) Breakdown(s Signals) string {
	return fmt.Sprintf("asr=%.2f(w%.2f) entity=%.2f(w%.2f) retrieval=%.2f(w%.2f)",
		clamp01(s.ASRConfidence), c.w1,
		clamp01(s.EntityMatchScore), c.w2,
		clamp01(s.RetrievalHitScore), c.w3)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
