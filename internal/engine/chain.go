package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smriti/thoughtgraph/internal/graph"
	"github.com/smriti/thoughtgraph/internal/store"
)

// Selector picks the next backward edge during a chain walk. Returns an
// index into edges, which is always non-empty.
type Selector interface {
	Pick(now time.Time, edges []*graph.Edge) int
}

// RandomSelector draws uniformly among the available edges. This is the
// default policy: the walk deliberately ignores edge scores so chains
// vary between runs.
type RandomSelector struct {
	rng *rand.Rand
}

// NewRandomSelector creates a uniform selector. A nil rng is replaced
// with a time-seeded source; tests pass a fixed seed.
func NewRandomSelector(rng *rand.Rand) *RandomSelector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RandomSelector{rng: rng}
}

func (s *RandomSelector) Pick(_ time.Time, edges []*graph.Edge) int {
	return s.rng.Intn(len(edges))
}

// WeightedSelector draws proportionally to each edge's combined score,
// biasing walks toward strong recent edges.
type WeightedSelector struct {
	rng *rand.Rand
}

// NewWeightedSelector creates a combined-score-weighted selector.
func NewWeightedSelector(rng *rand.Rand) *WeightedSelector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &WeightedSelector{rng: rng}
}

func (s *WeightedSelector) Pick(now time.Time, edges []*graph.Edge) int {
	total := 0.0
	for _, e := range edges {
		total += e.CombinedScore(now)
	}
	if total <= 0 {
		return s.rng.Intn(len(edges))
	}
	draw := s.rng.Float64() * total
	for i, e := range edges {
		draw -= e.CombinedScore(now)
		if draw <= 0 {
			return i
		}
	}
	return len(edges) - 1
}

// WalkerConfig bounds the backward walk.
type WalkerConfig struct {
	MaxChainLength int
	MaxNodeAgeDays int
}

// DefaultWalkerConfig returns the production walk bounds.
func DefaultWalkerConfig() WalkerConfig {
	return WalkerConfig{
		MaxChainLength: 20,
		MaxNodeAgeDays: 90,
	}
}

// ChainWalker builds an ordered chain of connected fragments by walking
// backward from a seed edge through the owner's incoming edges. The walk
// is cycle-safe: a visited fragment is never added twice.
type ChainWalker struct {
	store    store.Store
	selector Selector
	config   WalkerConfig
	logger   *zap.Logger
}

// NewChainWalker creates a walker with the given edge-selection policy.
// A nil selector defaults to uniform random.
func NewChainWalker(st store.Store, selector Selector, config WalkerConfig, logger *zap.Logger) *ChainWalker {
	if selector == nil {
		selector = NewRandomSelector(nil)
	}
	return &ChainWalker{
		store:    st,
		selector: selector,
		config:   config,
		logger:   logger.Named("chain"),
	}
}

// Walk extends the seed edge backward and returns the chain sorted
// ascending by fragment creation time. Callers treat a short chain as
// "no reflection possible"; Walk itself only enforces the walk bounds.
func (w *ChainWalker) Walk(ctx context.Context, seed *graph.Edge) ([]*graph.Fragment, error) {
	source, err := w.store.GetFragment(ctx, seed.SourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve seed source: %w", err)
	}
	target, err := w.store.GetFragment(ctx, seed.TargetID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve seed target: %w", err)
	}

	ownerID := seed.OwnerID
	if ownerID == uuid.Nil {
		ownerID = source.OwnerID
	}

	// Index every edge of the owner by target id so the walk can look up
	// incoming edges without per-step store queries.
	ownerEdges, err := w.store.EdgesByOwner(ctx, ownerID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to index owner edges: %w", err)
	}
	incoming := make(map[uuid.UUID][]*graph.Edge, len(ownerEdges))
	for _, e := range ownerEdges {
		incoming[e.TargetID] = append(incoming[e.TargetID], e)
	}

	now := time.Now().UTC()
	maxAge := time.Duration(w.config.MaxNodeAgeDays) * 24 * time.Hour

	visited := map[uuid.UUID]bool{source.ID: true, target.ID: true}
	chain := []*graph.Fragment{source, target}
	frontier := source

	for len(chain) < w.config.MaxChainLength {
		if now.Sub(frontier.CreatedAt) > maxAge {
			break
		}

		next := w.draw(now, incoming[frontier.ID], visited)
		if next == nil {
			break
		}

		fragment, err := w.store.GetFragment(ctx, next.SourceID)
		if err != nil {
			w.logger.Warn("Failed to resolve chain fragment, stopping walk",
				zap.String("fragment_id", next.SourceID.String()),
				zap.Error(err))
			break
		}

		visited[fragment.ID] = true
		chain = append([]*graph.Fragment{fragment}, chain...)
		frontier = fragment
	}

	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].CreatedAt.Before(chain[j].CreatedAt)
	})
	return chain, nil
}

// draw picks among the incoming edges, redrawing when the chosen edge's
// source was already visited. Returns nil when no unvisited edge
// remains.
func (w *ChainWalker) draw(now time.Time, edges []*graph.Edge, visited map[uuid.UUID]bool) *graph.Edge {
	remaining := make([]*graph.Edge, len(edges))
	copy(remaining, edges)

	for len(remaining) > 0 {
		i := w.selector.Pick(now, remaining)
		edge := remaining[i]
		if !visited[edge.SourceID] {
			return edge
		}
		remaining = append(remaining[:i], remaining[i+1:]...)
	}
	return nil
}
