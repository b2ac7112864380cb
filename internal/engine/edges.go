package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smriti/thoughtgraph/internal/graph"
	"github.com/smriti/thoughtgraph/internal/oracle"
	"github.com/smriti/thoughtgraph/internal/store"
)

// SynthesizerConfig bounds edge materialization.
type SynthesizerConfig struct {
	MinStrength     float64
	MaxEdgesPerNode int
}

// DefaultSynthesizerConfig returns the production edge parameters.
func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{
		MinStrength:     0.7,
		MaxEdgesPerNode: 8,
	}
}

// EdgeSynthesizer classifies a source fragment against its candidates
// and materializes the accepted relations as edges. It owns the
// fragment-processed lifecycle: the flag flips exactly once, here.
type EdgeSynthesizer struct {
	store      store.Store
	selector   *CandidateSelector
	classifier oracle.ClassificationProvider
	config     SynthesizerConfig
	logger     *zap.Logger
}

// NewEdgeSynthesizer creates a synthesizer over the given store and
// classification oracle.
func NewEdgeSynthesizer(st store.Store, selector *CandidateSelector, classifier oracle.ClassificationProvider, config SynthesizerConfig, logger *zap.Logger) *EdgeSynthesizer {
	return &EdgeSynthesizer{
		store:      st,
		selector:   selector,
		classifier: classifier,
		config:     config,
		logger:     logger.Named("edges"),
	}
}

// ProcessFragment runs the full per-fragment pipeline: incident-edge cap
// check, candidate selection, oracle classification, edge persistence.
// Returns the number of edges created.
//
// Oracle failure is distinct from zero results: on failure the fragment
// is left unprocessed so a later batch retries it; on success, even with
// no proposals, the fragment is marked processed.
func (s *EdgeSynthesizer) ProcessFragment(ctx context.Context, source *graph.Fragment) (int, error) {
	incident, err := s.store.CountEdgesByFragment(ctx, source.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to count incident edges: %w", err)
	}
	if incident >= s.config.MaxEdgesPerNode {
		s.logger.Debug("Fragment at edge cap, marking processed without search",
			zap.String("fragment_id", source.ID.String()),
			zap.Int("incident_edges", incident))
		return 0, s.store.MarkFragmentProcessed(ctx, source.ID)
	}

	candidates := s.selector.Select(ctx, source)
	if len(candidates) == 0 {
		return 0, s.store.MarkFragmentProcessed(ctx, source.ID)
	}

	fragments := make([]*graph.Fragment, len(candidates))
	for i, c := range candidates {
		fragments[i] = c.Fragment
	}

	proposals, err := s.classifier.Classify(ctx, source, fragments)
	if err != nil {
		// Left unprocessed on purpose; the next batch retries.
		return 0, fmt.Errorf("classification failed for fragment %s: %w", source.ID, err)
	}

	created := s.materialize(ctx, source, fragments, proposals, incident)

	if err := s.store.MarkFragmentProcessed(ctx, source.ID); err != nil {
		return created, fmt.Errorf("failed to mark fragment processed: %w", err)
	}
	return created, nil
}

// materialize resolves, validates, deduplicates and persists the
// proposed edges. One bad proposal never aborts the rest.
func (s *EdgeSynthesizer) materialize(ctx context.Context, source *graph.Fragment, candidates []*graph.Fragment, proposals []oracle.RelationProposal, incident int) int {
	created := 0
	for _, p := range proposals {
		if incident+created >= s.config.MaxEdgesPerNode {
			s.logger.Debug("Edge cap reached during materialization",
				zap.String("fragment_id", source.ID.String()))
			break
		}

		cand := s.resolve(p, candidates)
		if cand == nil {
			s.logger.Warn("Dropping unresolvable proposal",
				zap.String("fragment_id", source.ID.String()),
				zap.String("raw_id", p.RawID))
			continue
		}
		if !graph.ValidRelation(p.Relation) {
			s.logger.Warn("Dropping proposal with unknown relation type",
				zap.String("relation", string(p.Relation)))
			continue
		}
		if p.Strength < s.config.MinStrength || p.Strength > 1 {
			continue
		}

		candIncident, err := s.store.CountEdgesByFragment(ctx, cand.ID)
		if err != nil {
			s.logger.Warn("Failed to count candidate edges", zap.Error(err))
			continue
		}
		if candIncident >= s.config.MaxEdgesPerNode {
			continue
		}

		// Edges run past to future: candidate predates source.
		exists, err := s.store.EdgeExists(ctx, cand.ID, source.ID)
		if err != nil {
			s.logger.Warn("Failed edge existence check", zap.Error(err))
			continue
		}
		if exists {
			continue
		}

		sessionRel := p.SessionRelation
		if sessionRel == "" {
			sessionRel = graph.IntraSession
			if cand.SessionID != source.SessionID {
				sessionRel = graph.CrossSession
			}
		}

		edge := &graph.Edge{
			ID:              uuid.New(),
			SourceID:        cand.ID,
			TargetID:        source.ID,
			OwnerID:         source.OwnerID,
			Relation:        p.Relation,
			Strength:        p.Strength,
			SessionRelation: sessionRel,
			Explanation:     p.Explanation,
			CreatedAt:       time.Now().UTC(),
		}
		if err := s.store.CreateEdge(ctx, edge); err != nil {
			s.logger.Warn("Failed to persist edge",
				zap.String("source_id", edge.SourceID.String()),
				zap.String("target_id", edge.TargetID.String()),
				zap.Error(err))
			continue
		}
		created++
	}
	return created
}

// resolve maps a proposal back to one of the offered candidates. The
// oracle's identifier field is not contractually fixed, so resolution
// tries, in order: explicit id, 1-based candidate index (including
// index-bearing strings like "Candidate 3"), literal text containment.
func (s *EdgeSynthesizer) resolve(p oracle.RelationProposal, candidates []*graph.Fragment) *graph.Fragment {
	if p.RawID != "" {
		for _, c := range candidates {
			if c.ID.String() == p.RawID {
				return c
			}
		}
	}

	for _, hint := range []string{p.CandidateIndex, p.RawID} {
		if idx, ok := parseIndex(hint); ok && idx >= 1 && idx <= len(candidates) {
			return candidates[idx-1]
		}
	}

	if p.Text != "" {
		needle := strings.ToLower(p.Text)
		for _, c := range candidates {
			if c.Text == "" {
				continue
			}
			hay := strings.ToLower(c.Text)
			if strings.Contains(hay, needle) || strings.Contains(needle, hay) {
				return c
			}
		}
	}
	return nil
}

// parseIndex extracts a 1-based integer from hints like "3" or
// "Candidate 3".
func parseIndex(hint string) (int, bool) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(hint); err == nil {
		return n, true
	}
	fields := strings.Fields(hint)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.Trim(fields[len(fields)-1], "#.:)"))
	if err != nil {
		return 0, false
	}
	return n, true
}
