package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smriti/thoughtgraph/internal/graph"
	"github.com/smriti/thoughtgraph/internal/store"
)

// SchedulerConfig bounds reflection scheduling.
type SchedulerConfig struct {
	MaxAttempts int
}

// DefaultSchedulerConfig returns the production scheduling bounds.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{MaxAttempts: 10}
}

// ScheduleResult summarizes a scheduling run. Claimed is false when the
// owner's claim was held elsewhere and the run did nothing.
type ScheduleResult struct {
	Reflection *graph.Reflection
	Attempts   int
	Claimed    bool
}

// ReflectionScheduler picks the highest-priority unprocessed edges,
// drives chain building and synthesis, and guarantees bounded-time
// termination. Priority is the edge's combined score: strength plus a
// recency-decay bonus. Runs for the same owner are serialized through
// an OwnerLock so concurrent invocations cannot consume the same seed
// edge twice.
type ReflectionScheduler struct {
	store       store.Store
	walker      *ChainWalker
	synthesizer *ReflectionSynthesizer
	lock        OwnerLock
	config      SchedulerConfig
	logger      *zap.Logger
}

// NewReflectionScheduler creates a scheduler over the given
// collaborators.
func NewReflectionScheduler(st store.Store, walker *ChainWalker, synthesizer *ReflectionSynthesizer, lock OwnerLock, config SchedulerConfig, logger *zap.Logger) *ReflectionScheduler {
	return &ReflectionScheduler{
		store:       st,
		walker:      walker,
		synthesizer: synthesizer,
		lock:        lock,
		config:      config,
		logger:      logger.Named("scheduler"),
	}
}

// minChainLength is 3, relaxed to 2 for an owner's very first
// reflection so new users see a result sooner. Direct runs only; the
// multi-owner sweep always requires the full 3.
func (s *ReflectionScheduler) minChainLength(ctx context.Context, ownerID uuid.UUID) int {
	count, err := s.store.CountReflectionsByOwner(ctx, ownerID)
	if err != nil {
		s.logger.Warn("Failed to count reflections, using strict chain minimum",
			zap.String("owner_id", ownerID.String()), zap.Error(err))
		return 3
	}
	if count == 0 {
		return 2
	}
	return 3
}

// RunOwner attempts to create at most one reflection for the owner.
// Each attempt consumes the current max-combined-score unprocessed edge:
// the seed is marked processed whether or not synthesis succeeds, so the
// loop always terminates within MaxAttempts. A nil reflection with a nil
// error means no pattern was found. If the owner's claim is already held
// the run returns a zero result with Claimed false.
func (s *ReflectionScheduler) RunOwner(ctx context.Context, ownerID uuid.UUID) (*ScheduleResult, error) {
	result := &ScheduleResult{}

	acquired, err := s.lock.TryAcquire(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire owner claim: %w", err)
	}
	if !acquired {
		s.logger.Info("Owner claim held elsewhere, skipping reflection run",
			zap.String("owner_id", ownerID.String()))
		return result, nil
	}
	defer func() {
		if err := s.lock.Release(ctx, ownerID); err != nil {
			s.logger.Warn("Failed to release owner claim",
				zap.String("owner_id", ownerID.String()), zap.Error(err))
		}
	}()
	result.Claimed = true

	minLen := s.minChainLength(ctx, ownerID)

	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		edges, err := s.store.EdgesByOwner(ctx, ownerID, true)
		if err != nil {
			return result, fmt.Errorf("failed to fetch unprocessed edges: %w", err)
		}
		if len(edges) == 0 {
			return result, nil
		}
		result.Attempts++

		seed := maxCombinedScore(edges, time.Now().UTC())
		reflection := s.attempt(ctx, ownerID, seed, minLen)
		if reflection != nil {
			result.Reflection = reflection
			return result, nil
		}
	}
	return result, nil
}

// attempt walks the seed, synthesizes if the chain is long enough, and
// always consumes the seed. Returns nil when no reflection was created.
func (s *ReflectionScheduler) attempt(ctx context.Context, ownerID uuid.UUID, seed *graph.Edge, minLen int) *graph.Reflection {
	defer func() {
		if err := s.store.MarkEdgeProcessed(ctx, seed.ID); err != nil {
			s.logger.Warn("Failed to mark seed edge processed",
				zap.String("edge_id", seed.ID.String()), zap.Error(err))
		}
	}()

	chain, err := s.walker.Walk(ctx, seed)
	if err != nil {
		s.logger.Warn("Chain walk failed",
			zap.String("edge_id", seed.ID.String()), zap.Error(err))
		return nil
	}
	if len(chain) < minLen {
		s.logger.Debug("Chain too short, no pattern found",
			zap.String("edge_id", seed.ID.String()),
			zap.Int("chain_length", len(chain)))
		return nil
	}

	reflection, err := s.synthesizer.Synthesize(ctx, ownerID, chain)
	if err != nil {
		s.logger.Warn("Reflection synthesis failed",
			zap.String("edge_id", seed.ID.String()), zap.Error(err))
		return nil
	}
	return reflection
}

// SweepResult summarizes a multi-owner sweep.
type SweepResult struct {
	OwnersSwept        int
	ReflectionsCreated int
	EdgesConsumed      int
}

// Sweep enforces the one-reflection-per-sweep-per-owner policy: per
// owner, only the single strongest unprocessed edge by combined score is
// attempted; every other unprocessed edge of that owner is immediately
// marked processed-but-unused. Each owner is handled under its claim;
// owners held elsewhere are left untouched for a later sweep. One
// failing owner never aborts the sweep.
func (s *ReflectionScheduler) Sweep(ctx context.Context) (*SweepResult, error) {
	edges, err := s.store.UnprocessedEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unprocessed edges: %w", err)
	}

	byOwner := make(map[uuid.UUID][]*graph.Edge)
	for _, e := range edges {
		ownerID := e.OwnerID
		if ownerID == uuid.Nil {
			src, err := s.store.GetFragment(ctx, e.SourceID)
			if err != nil {
				s.logger.Warn("Failed to resolve edge owner, skipping",
					zap.String("edge_id", e.ID.String()), zap.Error(err))
				continue
			}
			ownerID = src.OwnerID
		}
		byOwner[ownerID] = append(byOwner[ownerID], e)
	}

	result := &SweepResult{}
	now := time.Now().UTC()
	for ownerID, ownerEdges := range byOwner {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		acquired, err := s.lock.TryAcquire(ctx, ownerID)
		if err != nil {
			s.logger.Warn("Failed to acquire owner claim",
				zap.String("owner_id", ownerID.String()), zap.Error(err))
			continue
		}
		if !acquired {
			s.logger.Info("Owner claim held elsewhere, skipping owner",
				zap.String("owner_id", ownerID.String()))
			continue
		}

		best := maxCombinedScore(ownerEdges, now)

		rest := make([]uuid.UUID, 0, len(ownerEdges)-1)
		for _, e := range ownerEdges {
			if e.ID != best.ID {
				rest = append(rest, e.ID)
			}
		}
		if len(rest) > 0 {
			if err := s.store.MarkEdgesProcessed(ctx, rest); err != nil {
				s.logger.Warn("Failed to consume non-selected edges",
					zap.String("owner_id", ownerID.String()), zap.Error(err))
			}
		}
		result.EdgesConsumed += len(rest) + 1
		result.OwnersSwept++

		// No first-reflection leniency here: the sweep always requires
		// the full 3-fragment chain.
		if s.attempt(ctx, ownerID, best, 3) != nil {
			result.ReflectionsCreated++
		}

		if err := s.lock.Release(ctx, ownerID); err != nil {
			s.logger.Warn("Failed to release owner claim",
				zap.String("owner_id", ownerID.String()), zap.Error(err))
		}
	}

	s.logger.Info("Reflection sweep complete",
		zap.Int("owners", result.OwnersSwept),
		zap.Int("reflections", result.ReflectionsCreated),
		zap.Int("edges_consumed", result.EdgesConsumed))
	return result, nil
}

// MarkChainLinkedEdges consumes every unprocessed edge whose target
// fragment is itself the source of another unprocessed edge of the same
// owner. Those edges are reachable through chain traversal and should
// not seed reflections of their own. Returns the number consumed.
func (s *ReflectionScheduler) MarkChainLinkedEdges(ctx context.Context, ownerID uuid.UUID) (int, error) {
	edges, err := s.store.EdgesByOwner(ctx, ownerID, true)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch unprocessed edges: %w", err)
	}

	sources := make(map[uuid.UUID]bool, len(edges))
	for _, e := range edges {
		sources[e.SourceID] = true
	}

	var linked []uuid.UUID
	for _, e := range edges {
		if sources[e.TargetID] {
			linked = append(linked, e.ID)
		}
	}
	if len(linked) == 0 {
		return 0, nil
	}

	if err := s.store.MarkEdgesProcessed(ctx, linked); err != nil {
		return 0, fmt.Errorf("failed to mark chain-linked edges: %w", err)
	}
	s.logger.Debug("Chain-linked edges consumed",
		zap.String("owner_id", ownerID.String()),
		zap.Int("count", len(linked)))
	return len(linked), nil
}

// maxCombinedScore returns the edge with the highest combined score.
// Edges is never empty.
func maxCombinedScore(edges []*graph.Edge, now time.Time) *graph.Edge {
	best := edges[0]
	bestScore := best.CombinedScore(now)
	for _, e := range edges[1:] {
		if score := e.CombinedScore(now); score > bestScore {
			best = e
			bestScore = score
		}
	}
	return best
}
