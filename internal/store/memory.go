package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smriti/thoughtgraph/internal/graph"
)

// Memory is an in-memory Store for tests and single-process development.
// It tracks a write counter so idempotency tests can assert zero writes.
type Memory struct {
	mu          sync.RWMutex
	fragments   map[uuid.UUID]*graph.Fragment
	edges       map[uuid.UUID]*graph.Edge
	reflections map[uuid.UUID]*graph.Reflection
	writes      int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		fragments:   make(map[uuid.UUID]*graph.Fragment),
		edges:       make(map[uuid.UUID]*graph.Edge),
		reflections: make(map[uuid.UUID]*graph.Reflection),
	}
}

// WriteCount returns the number of mutating operations that changed state.
func (m *Memory) WriteCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func copyFragment(f *graph.Fragment) *graph.Fragment {
	c := *f
	if f.Embedding != nil {
		c.Embedding = append([]float32(nil), f.Embedding...)
	}
	return &c
}

func copyEdge(e *graph.Edge) *graph.Edge {
	c := *e
	return &c
}

func copyReflection(r *graph.Reflection) *graph.Reflection {
	c := *r
	c.FragmentIDs = append([]uuid.UUID(nil), r.FragmentIDs...)
	if r.EdgeIDs != nil {
		c.EdgeIDs = append([]uuid.UUID(nil), r.EdgeIDs...)
	}
	return &c
}

// PutFragment stores a fragment, assigning an id if absent.
func (m *Memory) PutFragment(_ context.Context, f *graph.Fragment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	m.fragments[f.ID] = copyFragment(f)
	m.writes++
	return nil
}

func (m *Memory) GetFragment(_ context.Context, id uuid.UUID) (*graph.Fragment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fragments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyFragment(f), nil
}

func (m *Memory) ListFragments(_ context.Context, q FragmentQuery) ([]*graph.Fragment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessionSet := make(map[uuid.UUID]bool, len(q.SessionIDs))
	for _, id := range q.SessionIDs {
		sessionSet[id] = true
	}

	var out []*graph.Fragment
	for _, f := range m.fragments {
		if f.OwnerID != q.OwnerID {
			continue
		}
		if len(sessionSet) > 0 && !sessionSet[f.SessionID] {
			continue
		}
		if q.Processed != nil && f.Processed != *q.Processed {
			continue
		}
		if q.HasEmbedding != nil && f.HasEmbedding() != *q.HasEmbedding {
			continue
		}
		if q.CreatedBefore != nil && !f.CreatedAt.Before(*q.CreatedBefore) {
			continue
		}
		if q.CreatedAfter != nil && !f.CreatedAt.After(*q.CreatedAfter) {
			continue
		}
		out = append(out, copyFragment(f))
	}

	sort.Slice(out, func(i, j int) bool {
		if q.OldestFirst {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) RecentSessions(_ context.Context, ownerID uuid.UUID, after time.Time, max int) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latest := make(map[uuid.UUID]time.Time)
	for _, f := range m.fragments {
		if f.OwnerID != ownerID || !f.CreatedAt.After(after) {
			continue
		}
		if t, ok := latest[f.SessionID]; !ok || f.CreatedAt.After(t) {
			latest[f.SessionID] = f.CreatedAt
		}
	}

	sessions := make([]uuid.UUID, 0, len(latest))
	for id := range latest {
		sessions = append(sessions, id)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return latest[sessions[i]].After(latest[sessions[j]])
	})

	if max > 0 && len(sessions) > max {
		sessions = sessions[:max]
	}
	return sessions, nil
}

func (m *Memory) SetEmbedding(_ context.Context, id uuid.UUID, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fragments[id]
	if !ok {
		return ErrNotFound
	}
	f.Embedding = append([]float32(nil), vec...)
	m.writes++
	return nil
}

func (m *Memory) MarkFragmentProcessed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fragments[id]
	if !ok {
		return ErrNotFound
	}
	if !f.Processed {
		f.Processed = true
		m.writes++
	}
	return nil
}

func (m *Memory) CreateEdge(_ context.Context, e *graph.Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.edges[e.ID] = copyEdge(e)
	m.writes++
	return nil
}

func (m *Memory) GetEdge(_ context.Context, id uuid.UUID) (*graph.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.edges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEdge(e), nil
}

func (m *Memory) EdgeExists(_ context.Context, sourceID, targetID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.edges {
		if e.SourceID == sourceID && e.TargetID == targetID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) EdgesBetween(_ context.Context, sourceID, targetID uuid.UUID) ([]*graph.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*graph.Edge
	for _, e := range m.edges {
		if e.SourceID == sourceID && e.TargetID == targetID {
			out = append(out, copyEdge(e))
		}
	}
	sortEdges(out)
	return out, nil
}

func (m *Memory) EdgesByFragment(_ context.Context, fragmentID uuid.UUID, dir EdgeDirection) ([]*graph.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*graph.Edge
	for _, e := range m.edges {
		in := e.TargetID == fragmentID
		outgoing := e.SourceID == fragmentID
		switch dir {
		case Incoming:
			if !in {
				continue
			}
		case Outgoing:
			if !outgoing {
				continue
			}
		default:
			if !in && !outgoing {
				continue
			}
		}
		out = append(out, copyEdge(e))
	}
	sortEdges(out)
	return out, nil
}

func (m *Memory) CountEdgesByFragment(ctx context.Context, fragmentID uuid.UUID) (int, error) {
	edges, err := m.EdgesByFragment(ctx, fragmentID, BothDirections)
	if err != nil {
		return 0, err
	}
	return len(edges), nil
}

func (m *Memory) EdgesByOwner(_ context.Context, ownerID uuid.UUID, unprocessedOnly bool) ([]*graph.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*graph.Edge
	for _, e := range m.edges {
		if e.OwnerID != ownerID {
			continue
		}
		if unprocessedOnly && e.Processed {
			continue
		}
		out = append(out, copyEdge(e))
	}
	sortEdges(out)
	return out, nil
}

func (m *Memory) UnprocessedEdges(_ context.Context) ([]*graph.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*graph.Edge
	for _, e := range m.edges {
		if !e.Processed {
			out = append(out, copyEdge(e))
		}
	}
	sortEdges(out)
	return out, nil
}

func (m *Memory) MarkEdgeProcessed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.edges[id]
	if !ok {
		return ErrNotFound
	}
	if !e.Processed {
		e.Processed = true
		m.writes++
	}
	return nil
}

func (m *Memory) MarkEdgesProcessed(ctx context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		if err := m.MarkEdgeProcessed(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) CreateReflection(_ context.Context, r *graph.Reflection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	m.reflections[r.ID] = copyReflection(r)
	m.writes++
	return nil
}

func (m *Memory) GetReflection(_ context.Context, id uuid.UUID) (*graph.Reflection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reflections[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyReflection(r), nil
}

func (m *Memory) ReflectionsByOwner(_ context.Context, ownerID uuid.UUID) ([]*graph.Reflection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*graph.Reflection
	for _, r := range m.reflections {
		if r.OwnerID == ownerID {
			out = append(out, copyReflection(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CountReflectionsByOwner(ctx context.Context, ownerID uuid.UUID) (int, error) {
	rs, err := m.ReflectionsByOwner(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	return len(rs), nil
}

func (m *Memory) MarkViewed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reflections[id]
	if !ok {
		return ErrNotFound
	}
	if !r.Viewed {
		r.Viewed = true
		m.writes++
	}
	return nil
}

func (m *Memory) SetFeedback(_ context.Context, id uuid.UUID, feedback int) error {
	if feedback < -1 || feedback > 1 {
		return ErrInvalidFeedback
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reflections[id]
	if !ok {
		return ErrNotFound
	}
	r.Feedback = feedback
	m.writes++
	return nil
}

func sortEdges(edges []*graph.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if !edges[i].CreatedAt.Equal(edges[j].CreatedAt) {
			return edges[i].CreatedAt.Before(edges[j].CreatedAt)
		}
		return edges[i].ID.String() < edges[j].ID.String()
	})
}
