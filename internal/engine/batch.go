package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smriti/thoughtgraph/internal/store"
)

// BatchConfig bounds a single orchestrator run.
type BatchConfig struct {
	BatchSize int
}

// DefaultBatchConfig returns the production batch size.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{BatchSize: 50}
}

// BatchResult summarizes one orchestrator run.
type BatchResult struct {
	FragmentsProcessed int
	EdgesCreated       int
	Elapsed            time.Duration
	Claimed            bool
}

// BatchOrchestrator drives per-owner batches of unprocessed fragments
// through candidate selection and edge synthesis. Runs for the same
// owner are serialized through an OwnerLock so concurrent invocations
// cannot double-create edges.
type BatchOrchestrator struct {
	fragments   store.FragmentStore
	synthesizer *EdgeSynthesizer
	lock        OwnerLock
	config      BatchConfig
	logger      *zap.Logger
}

// NewBatchOrchestrator creates an orchestrator over the given
// collaborators.
func NewBatchOrchestrator(fragments store.FragmentStore, synthesizer *EdgeSynthesizer, lock OwnerLock, config BatchConfig, logger *zap.Logger) *BatchOrchestrator {
	return &BatchOrchestrator{
		fragments:   fragments,
		synthesizer: synthesizer,
		lock:        lock,
		config:      config,
		logger:      logger.Named("batch"),
	}
}

// Run processes up to BatchSize unprocessed fragments for the owner,
// oldest first, optionally scoped to a single session (uuid.Nil means
// all sessions). Idempotent: a run over a fully processed set performs
// zero writes. If the owner's claim is already held the run returns a
// zero result with Claimed false.
func (o *BatchOrchestrator) Run(ctx context.Context, ownerID, sessionID uuid.UUID) (*BatchResult, error) {
	start := time.Now()

	acquired, err := o.lock.TryAcquire(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire owner claim: %w", err)
	}
	if !acquired {
		o.logger.Info("Owner claim held elsewhere, skipping batch",
			zap.String("owner_id", ownerID.String()))
		return &BatchResult{Elapsed: time.Since(start)}, nil
	}
	defer func() {
		if err := o.lock.Release(ctx, ownerID); err != nil {
			o.logger.Warn("Failed to release owner claim",
				zap.String("owner_id", ownerID.String()), zap.Error(err))
		}
	}()

	unprocessed := false
	query := store.FragmentQuery{
		OwnerID:     ownerID,
		Processed:   &unprocessed,
		OldestFirst: true,
		Limit:       o.config.BatchSize,
	}
	if sessionID != uuid.Nil {
		query.SessionIDs = []uuid.UUID{sessionID}
	}

	batch, err := o.fragments.ListFragments(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unprocessed fragments: %w", err)
	}

	result := &BatchResult{Claimed: true}
	for _, fragment := range batch {
		select {
		case <-ctx.Done():
			result.Elapsed = time.Since(start)
			return result, ctx.Err()
		default:
		}

		edges, err := o.synthesizer.ProcessFragment(ctx, fragment)
		if err != nil {
			// Per-item isolation: the fragment stays unprocessed and is
			// retried on a later batch.
			o.logger.Warn("Fragment processing failed",
				zap.String("fragment_id", fragment.ID.String()),
				zap.Error(err))
			continue
		}
		result.FragmentsProcessed++
		result.EdgesCreated += edges
	}

	result.Elapsed = time.Since(start)
	o.logger.Info("Batch complete",
		zap.String("owner_id", ownerID.String()),
		zap.Int("fragments_processed", result.FragmentsProcessed),
		zap.Int("edges_created", result.EdgesCreated),
		zap.Duration("elapsed", result.Elapsed))
	return result, nil
}
