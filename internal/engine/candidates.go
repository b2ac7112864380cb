// Package engine implements the graph-construction and reflection
// pipeline: candidate selection, edge synthesis, per-owner batching,
// chain walking, reflection synthesis and scheduling. Components hold no
// state beyond a single call; all graph access goes through the store
// collaborators by id.
package engine

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/smriti/thoughtgraph/internal/graph"
	"github.com/smriti/thoughtgraph/internal/store"
)

// SelectorConfig bounds the candidate search window.
type SelectorConfig struct {
	MaxDays        int
	MaxSessions    int
	MaxCandidates  int
	FinalThreshold float64
	Weights        graph.Weights
}

// DefaultSelectorConfig returns the production selection parameters.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		MaxDays:        30,
		MaxSessions:    25,
		MaxCandidates:  12,
		FinalThreshold: 0.84,
		Weights:        graph.DefaultWeights(),
	}
}

// ScoredCandidate is a prior fragment that cleared both similarity
// thresholds against the source.
type ScoredCandidate struct {
	Fragment *graph.Fragment
	Base     float64
	Adjusted float64
}

// CandidateSelector finds plausible prior fragments for a source within
// its owner's recent session window. Edges run past to future, so only
// processed fragments created strictly before the source qualify.
type CandidateSelector struct {
	fragments store.FragmentStore
	scorer    graph.Scorer
	config    SelectorConfig
	logger    *zap.Logger
}

// NewCandidateSelector creates a selector over the given fragment store.
func NewCandidateSelector(fragments store.FragmentStore, config SelectorConfig, logger *zap.Logger) *CandidateSelector {
	return &CandidateSelector{
		fragments: fragments,
		scorer:    graph.NewScorer(config.Weights),
		config:    config,
		logger:    logger.Named("candidates"),
	}
}

// Select returns up to MaxCandidates scored candidates, ordered by
// adjusted similarity then base similarity, both descending. A source
// without an embedding, an empty session window, or a store failure all
// degrade to an empty list.
func (s *CandidateSelector) Select(ctx context.Context, source *graph.Fragment) []ScoredCandidate {
	if !source.HasEmbedding() {
		s.logger.Debug("Source has no embedding, skipping candidate search",
			zap.String("fragment_id", source.ID.String()))
		return nil
	}

	cutoff := source.CreatedAt.Add(-time.Duration(s.config.MaxDays) * 24 * time.Hour)
	sessions, err := s.fragments.RecentSessions(ctx, source.OwnerID, cutoff, s.config.MaxSessions)
	if err != nil {
		s.logger.Warn("Failed to resolve recent sessions",
			zap.String("owner_id", source.OwnerID.String()), zap.Error(err))
		return nil
	}
	if len(sessions) == 0 {
		return nil
	}

	processed := true
	hasEmbedding := true
	pool, err := s.fragments.ListFragments(ctx, store.FragmentQuery{
		OwnerID:       source.OwnerID,
		SessionIDs:    sessions,
		Processed:     &processed,
		HasEmbedding:  &hasEmbedding,
		CreatedBefore: &source.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("Failed to list candidate pool",
			zap.String("owner_id", source.OwnerID.String()), zap.Error(err))
		return nil
	}

	candidates := make([]ScoredCandidate, 0, len(pool))
	for _, cand := range pool {
		if cand.ID == source.ID {
			continue
		}
		base, adjusted := s.scorer.Score(source, cand)
		if base < s.config.Weights.InitialThreshold || adjusted < s.config.FinalThreshold {
			continue
		}
		candidates = append(candidates, ScoredCandidate{Fragment: cand, Base: base, Adjusted: adjusted})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Adjusted != candidates[j].Adjusted {
			return candidates[i].Adjusted > candidates[j].Adjusted
		}
		return candidates[i].Base > candidates[j].Base
	})

	if len(candidates) > s.config.MaxCandidates {
		candidates = candidates[:s.config.MaxCandidates]
	}
	return candidates
}
