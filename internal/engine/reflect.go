package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smriti/thoughtgraph/internal/graph"
	"github.com/smriti/thoughtgraph/internal/oracle"
	"github.com/smriti/thoughtgraph/internal/store"
)

// ErrChainTooShort is returned when a chain cannot carry a reflection.
var ErrChainTooShort = errors.New("engine: chain too short for reflection")

// ReflectionSynthesizer turns an ordered chain into a persisted
// reflection via the narrative oracle, retrying transient failures per
// its policy.
type ReflectionSynthesizer struct {
	store    store.Store
	narrator oracle.NarrativeProvider
	retry    oracle.RetryPolicy
	logger   *zap.Logger
}

// NewReflectionSynthesizer creates a synthesizer with the given retry
// policy.
func NewReflectionSynthesizer(st store.Store, narrator oracle.NarrativeProvider, retry oracle.RetryPolicy, logger *zap.Logger) *ReflectionSynthesizer {
	return &ReflectionSynthesizer{
		store:    st,
		narrator: narrator,
		retry:    retry,
		logger:   logger.Named("reflect"),
	}
}

// Synthesize invokes the narrative oracle over the chain and persists
// the resulting reflection. Edges connecting consecutive chain members
// are collected in both directions and referenced on the reflection.
// Oracle failure after the retry budget is reported as an error; nothing
// is persisted in that case.
func (s *ReflectionSynthesizer) Synthesize(ctx context.Context, ownerID uuid.UUID, chain []*graph.Fragment) (*graph.Reflection, error) {
	if len(chain) < 2 {
		return nil, ErrChainTooShort
	}

	edges, relations := s.collectEdges(ctx, chain)

	var result *oracle.NarrativeResult
	err := s.retry.Do(ctx, s.logger, func(ctx context.Context) error {
		var narrErr error
		result, narrErr = s.narrator.Narrate(ctx, oracle.NarrativeRequest{
			Fragments: chain,
			Relations: relations,
		})
		return narrErr
	})
	if err != nil {
		return nil, fmt.Errorf("narrative synthesis failed: %w", err)
	}

	confidence := result.Confidence
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	reflection := &graph.Reflection{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		Text:       result.Text,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}
	for _, f := range chain {
		reflection.FragmentIDs = append(reflection.FragmentIDs, f.ID)
	}
	for _, e := range edges {
		reflection.EdgeIDs = append(reflection.EdgeIDs, e.ID)
	}

	if err := s.store.CreateReflection(ctx, reflection); err != nil {
		return nil, fmt.Errorf("failed to persist reflection: %w", err)
	}

	s.logger.Info("Reflection created",
		zap.String("reflection_id", reflection.ID.String()),
		zap.String("owner_id", ownerID.String()),
		zap.Int("chain_length", len(chain)),
		zap.Float64("confidence", confidence))
	return reflection, nil
}

// collectEdges gathers the edges directly connecting consecutive chain
// members, checking both directions per pair. Lookup failures drop the
// pair, never the synthesis.
func (s *ReflectionSynthesizer) collectEdges(ctx context.Context, chain []*graph.Fragment) ([]*graph.Edge, []graph.RelationType) {
	var edges []*graph.Edge
	var relations []graph.RelationType

	for i := 0; i < len(chain)-1; i++ {
		for _, pair := range [][2]uuid.UUID{
			{chain[i].ID, chain[i+1].ID},
			{chain[i+1].ID, chain[i].ID},
		} {
			found, err := s.store.EdgesBetween(ctx, pair[0], pair[1])
			if err != nil {
				s.logger.Warn("Failed pairwise edge lookup", zap.Error(err))
				continue
			}
			for _, e := range found {
				edges = append(edges, e)
				relations = append(relations, e.Relation)
			}
		}
	}
	return edges, relations
}
