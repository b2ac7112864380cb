package graph

import (
	"math"
	"time"
)

// Weights tunes the adjusted-similarity boosts and penalties. The boost
// stage only runs when the base cosine similarity clears InitialThreshold.
type Weights struct {
	InitialThreshold float64
	ThemeBoost       float64
	ThemePenalty     float64
	CognitionBoost   float64
	EmotionBoost     float64
	RecencyBoost     float64
	OlderPenalty     float64
	RecentWindow     time.Duration
	OlderWindow      time.Duration
}

// DefaultWeights returns the production scoring parameters.
func DefaultWeights() Weights {
	return Weights{
		InitialThreshold: 0.70,
		ThemeBoost:       0.10,
		ThemePenalty:     0.10,
		CognitionBoost:   0.10,
		EmotionBoost:     0.05,
		RecencyBoost:     0.05,
		OlderPenalty:     0.05,
		RecentWindow:     7 * 24 * time.Hour,
		OlderWindow:      30 * 24 * time.Hour,
	}
}

// Scorer computes base and attribute/temporal-adjusted similarity between
// two fragments. Pure value type, no side effects.
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer with the given weights.
func NewScorer(w Weights) Scorer {
	return Scorer{weights: w}
}

// Base returns the cosine similarity of the two embeddings, or 0 when
// either vector is missing, mismatched in length, or zero-norm.
func (s Scorer) Base(a, b []float32) float64 {
	return CosineSimilarity(a, b)
}

// Adjusted applies attribute and temporal boosts/penalties to a base
// similarity. Below the initial threshold the base score is returned
// unchanged.
func (s Scorer) Adjusted(base float64, src, cand *Fragment) float64 {
	w := s.weights
	if base < w.InitialThreshold {
		return base
	}

	adjusted := base

	if src.Theme != "" && cand.Theme != "" {
		if src.Theme == cand.Theme {
			adjusted += w.ThemeBoost
		} else {
			adjusted -= w.ThemePenalty
		}
	}

	// Cognition and emotion boost on match only, no mismatch penalty.
	if src.CognitionType != "" && src.CognitionType == cand.CognitionType {
		adjusted += w.CognitionBoost
	}
	if src.Emotion != "" && src.Emotion == cand.Emotion {
		adjusted += w.EmotionBoost
	}

	if !src.CreatedAt.IsZero() && !cand.CreatedAt.IsZero() {
		gap := src.CreatedAt.Sub(cand.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap < w.RecentWindow {
			adjusted += w.RecencyBoost
		} else if gap > w.OlderWindow {
			adjusted -= w.OlderPenalty
		}
	}

	return adjusted
}

// Score returns both the base and adjusted similarity for a pair.
func (s Scorer) Score(src, cand *Fragment) (base, adjusted float64) {
	base = s.Base(src.Embedding, cand.Embedding)
	return base, s.Adjusted(base, src, cand)
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns 0 for missing, mismatched, or zero-norm input.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
