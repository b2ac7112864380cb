package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smriti/thoughtgraph/internal/graph"
	"github.com/smriti/thoughtgraph/internal/oracle"
	"github.com/smriti/thoughtgraph/internal/store"
)

// BackfillConfig bounds one embedding backfill pass.
type BackfillConfig struct {
	BatchSize int
}

// DefaultBackfillConfig returns the production backfill batch size.
func DefaultBackfillConfig() BackfillConfig {
	return BackfillConfig{BatchSize: 64}
}

// EmbeddingBackfill attaches embeddings to fragments that do not have
// one yet. It never touches the processed flag; edge synthesis picks the
// fragments up on a later batch once embedded.
type EmbeddingBackfill struct {
	fragments store.FragmentStore
	embedder  oracle.EmbeddingProvider
	config    BackfillConfig
	logger    *zap.Logger
}

// NewEmbeddingBackfill creates a backfill pass over the given store and
// embedding oracle.
func NewEmbeddingBackfill(fragments store.FragmentStore, embedder oracle.EmbeddingProvider, config BackfillConfig, logger *zap.Logger) *EmbeddingBackfill {
	return &EmbeddingBackfill{
		fragments: fragments,
		embedder:  embedder,
		config:    config,
		logger:    logger.Named("backfill"),
	}
}

// Run embeds up to BatchSize of the owner's unembedded fragments, oldest
// first, and persists the vectors. Fragments with empty or whitespace
// text are skipped, not fatal. Returns the number embedded.
func (b *EmbeddingBackfill) Run(ctx context.Context, ownerID uuid.UUID) (int, error) {
	hasEmbedding := false
	batch, err := b.fragments.ListFragments(ctx, store.FragmentQuery{
		OwnerID:      ownerID,
		HasEmbedding: &hasEmbedding,
		OldestFirst:  true,
		Limit:        b.config.BatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch unembedded fragments: %w", err)
	}

	pending := make([]*graph.Fragment, 0, len(batch))
	texts := make([]string, 0, len(batch))
	for _, f := range batch {
		if strings.TrimSpace(f.Text) == "" {
			continue
		}
		pending = append(pending, f)
		texts = append(texts, f.Text)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	vectors, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("batch embedding failed: %w", err)
	}

	embedded := 0
	for i, f := range pending {
		if len(vectors[i]) == 0 {
			continue
		}
		if err := b.fragments.SetEmbedding(ctx, f.ID, vectors[i]); err != nil {
			b.logger.Warn("Failed to persist embedding",
				zap.String("fragment_id", f.ID.String()), zap.Error(err))
			continue
		}
		embedded++
	}

	b.logger.Debug("Embedding backfill complete",
		zap.String("owner_id", ownerID.String()),
		zap.Int("embedded", embedded))
	return embedded, nil
}
