// Package store defines the persistence contracts consumed by the engine
// and provides bbolt-backed and in-memory implementations. Components
// receive and return ids, resolving full records on demand; no long-lived
// in-memory object graph is assumed.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/smriti/thoughtgraph/internal/graph"
)

// ErrNotFound is returned for lookups of ids that do not exist.
var ErrNotFound = errors.New("store: not found")

// EdgeDirection selects which incident edges of a fragment to list.
type EdgeDirection int

const (
	Incoming EdgeDirection = iota
	Outgoing
	BothDirections
)

// FragmentQuery filters ListFragments. Nil pointer fields are ignored.
type FragmentQuery struct {
	OwnerID       uuid.UUID
	SessionIDs    []uuid.UUID
	Processed     *bool
	HasEmbedding  *bool
	CreatedBefore *time.Time
	CreatedAfter  *time.Time
	OldestFirst   bool
	Limit         int
}

// FragmentStore is the fragment persistence collaborator.
type FragmentStore interface {
	PutFragment(ctx context.Context, f *graph.Fragment) error
	GetFragment(ctx context.Context, id uuid.UUID) (*graph.Fragment, error)
	ListFragments(ctx context.Context, q FragmentQuery) ([]*graph.Fragment, error)

	// RecentSessions returns the owner's most recently active session ids
	// with fragment activity after the cutoff, most recent first, capped
	// at max.
	RecentSessions(ctx context.Context, ownerID uuid.UUID, after time.Time, max int) ([]uuid.UUID, error)

	SetEmbedding(ctx context.Context, id uuid.UUID, vec []float32) error

	// MarkFragmentProcessed flips the processed flag to true. Idempotent;
	// the flag never reverts.
	MarkFragmentProcessed(ctx context.Context, id uuid.UUID) error
}

// EdgeStore is the edge persistence collaborator.
type EdgeStore interface {
	CreateEdge(ctx context.Context, e *graph.Edge) error
	GetEdge(ctx context.Context, id uuid.UUID) (*graph.Edge, error)
	EdgeExists(ctx context.Context, sourceID, targetID uuid.UUID) (bool, error)
	EdgesBetween(ctx context.Context, sourceID, targetID uuid.UUID) ([]*graph.Edge, error)
	EdgesByFragment(ctx context.Context, fragmentID uuid.UUID, dir EdgeDirection) ([]*graph.Edge, error)
	CountEdgesByFragment(ctx context.Context, fragmentID uuid.UUID) (int, error)

	// EdgesByOwner returns the owner's edges, optionally restricted to
	// unprocessed ones.
	EdgesByOwner(ctx context.Context, ownerID uuid.UUID, unprocessedOnly bool) ([]*graph.Edge, error)

	// UnprocessedEdges returns unprocessed edges across all owners, for
	// the multi-owner sweep.
	UnprocessedEdges(ctx context.Context) ([]*graph.Edge, error)

	MarkEdgeProcessed(ctx context.Context, id uuid.UUID) error
	MarkEdgesProcessed(ctx context.Context, ids []uuid.UUID) error
}

// ReflectionStore is the reflection persistence collaborator.
type ReflectionStore interface {
	CreateReflection(ctx context.Context, r *graph.Reflection) error
	GetReflection(ctx context.Context, id uuid.UUID) (*graph.Reflection, error)
	ReflectionsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*graph.Reflection, error)
	CountReflectionsByOwner(ctx context.Context, ownerID uuid.UUID) (int, error)
	MarkViewed(ctx context.Context, id uuid.UUID) error

	// SetFeedback records integer feedback in {-1, 0, 1}.
	SetFeedback(ctx context.Context, id uuid.UUID, feedback int) error
}

// Store bundles all persistence collaborators.
type Store interface {
	FragmentStore
	EdgeStore
	ReflectionStore
}

// ErrInvalidFeedback is returned for feedback values outside {-1, 0, 1}.
var ErrInvalidFeedback = errors.New("store: feedback must be -1, 0 or 1")
