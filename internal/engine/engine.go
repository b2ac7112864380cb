package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smriti/thoughtgraph/internal/graph"
	"github.com/smriti/thoughtgraph/internal/oracle"
	"github.com/smriti/thoughtgraph/internal/store"
)

// Config aggregates the per-component parameters.
type Config struct {
	Selector    SelectorConfig
	Synthesizer SynthesizerConfig
	Batch       BatchConfig
	Walker      WalkerConfig
	Scheduler   SchedulerConfig
	Backfill    BackfillConfig
	Retry       oracle.RetryPolicy
}

// DefaultConfig returns the production engine parameters.
func DefaultConfig() Config {
	return Config{
		Selector:    DefaultSelectorConfig(),
		Synthesizer: DefaultSynthesizerConfig(),
		Batch:       DefaultBatchConfig(),
		Walker:      DefaultWalkerConfig(),
		Scheduler:   DefaultSchedulerConfig(),
		Backfill:    DefaultBackfillConfig(),
		Retry:       oracle.DefaultNarrativeRetry(),
	}
}

// Engine wires the pipeline components over one store and one set of
// oracle providers. It is the single entry point used by the HTTP
// service and the background worker.
type Engine struct {
	store        store.Store
	backfill     *EmbeddingBackfill
	orchestrator *BatchOrchestrator
	scheduler    *ReflectionScheduler
	logger       *zap.Logger
}

// Providers bundles the injected oracle capabilities.
type Providers struct {
	Embedder   oracle.EmbeddingProvider
	Classifier oracle.ClassificationProvider
	Narrator   oracle.NarrativeProvider
}

// New assembles the full pipeline. A nil selector defaults to uniform
// random edge selection; a nil lock defaults to an in-process one.
func New(st store.Store, providers Providers, lock OwnerLock, selector Selector, config Config, logger *zap.Logger) *Engine {
	if lock == nil {
		lock = NewLocalLock()
	}

	candidates := NewCandidateSelector(st, config.Selector, logger)
	edges := NewEdgeSynthesizer(st, candidates, providers.Classifier, config.Synthesizer, logger)
	walker := NewChainWalker(st, selector, config.Walker, logger)
	reflections := NewReflectionSynthesizer(st, providers.Narrator, config.Retry, logger)

	return &Engine{
		store:        st,
		backfill:     NewEmbeddingBackfill(st, providers.Embedder, config.Backfill, logger),
		orchestrator: NewBatchOrchestrator(st, edges, lock, config.Batch, logger),
		scheduler:    NewReflectionScheduler(st, walker, reflections, lock, config.Scheduler, logger),
		logger:       logger.Named("engine"),
	}
}

// BackfillEmbeddings embeds the owner's unembedded fragments.
func (e *Engine) BackfillEmbeddings(ctx context.Context, ownerID uuid.UUID) (int, error) {
	return e.backfill.Run(ctx, ownerID)
}

// ProcessBatch runs one edge-synthesis batch for the owner. Pass
// uuid.Nil as sessionID to cover all sessions.
func (e *Engine) ProcessBatch(ctx context.Context, ownerID, sessionID uuid.UUID) (*BatchResult, error) {
	return e.orchestrator.Run(ctx, ownerID, sessionID)
}

// GenerateReflection consumes chain-linked edges and then attempts one
// reflection for the owner.
func (e *Engine) GenerateReflection(ctx context.Context, ownerID uuid.UUID) (*ScheduleResult, error) {
	if _, err := e.scheduler.MarkChainLinkedEdges(ctx, ownerID); err != nil {
		e.logger.Warn("Chain-link sweep failed",
			zap.String("owner_id", ownerID.String()), zap.Error(err))
	}
	return e.scheduler.RunOwner(ctx, ownerID)
}

// Sweep runs the multi-owner reflection sweep.
func (e *Engine) Sweep(ctx context.Context) (*SweepResult, error) {
	return e.scheduler.Sweep(ctx)
}

// OwnerStats is a snapshot of an owner's graph used by the stats
// endpoint.
type OwnerStats struct {
	UnprocessedFragments int               `json:"unprocessed_fragments"`
	UnprocessedEdges     int               `json:"unprocessed_edges"`
	Reflections          int               `json:"reflections"`
	RelationCounts       map[string]int    `json:"relation_counts"`
	LatestReflection     *graph.Reflection `json:"latest_reflection,omitempty"`
}

// Stats reports the owner's pending work and reflection history.
func (e *Engine) Stats(ctx context.Context, ownerID uuid.UUID) (*OwnerStats, error) {
	unprocessed := false
	fragments, err := e.store.ListFragments(ctx, store.FragmentQuery{
		OwnerID:   ownerID,
		Processed: &unprocessed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list fragments: %w", err)
	}

	edges, err := e.store.EdgesByOwner(ctx, ownerID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}

	reflections, err := e.store.ReflectionsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reflections: %w", err)
	}

	stats := &OwnerStats{
		UnprocessedFragments: len(fragments),
		UnprocessedEdges:     len(edges),
		Reflections:          len(reflections),
		RelationCounts:       make(map[string]int),
	}
	for _, edge := range edges {
		stats.RelationCounts[string(edge.Relation)]++
	}
	for _, r := range reflections {
		if stats.LatestReflection == nil || r.CreatedAt.After(stats.LatestReflection.CreatedAt) {
			stats.LatestReflection = r
		}
	}
	return stats, nil
}
