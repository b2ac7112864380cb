package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/smriti/thoughtgraph/internal/graph"
)

// runStoreSuite exercises every Store contract against an
// implementation.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Run("FragmentLifecycle", func(t *testing.T) { testFragmentLifecycle(t, open(t)) })
	t.Run("ListFragments", func(t *testing.T) { testListFragments(t, open(t)) })
	t.Run("RecentSessions", func(t *testing.T) { testRecentSessions(t, open(t)) })
	t.Run("Edges", func(t *testing.T) { testEdges(t, open(t)) })
	t.Run("Reflections", func(t *testing.T) { testReflections(t, open(t)) })
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(*testing.T) Store { return NewMemory() })
}

func TestBoltStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := OpenBolt(filepath.Join(t.TempDir(), "graph.db"), zaptest.NewLogger(t))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func putFragment(t *testing.T, st Store, owner, session uuid.UUID, text string, createdAt time.Time, processed bool, embedding []float32) *graph.Fragment {
	t.Helper()
	f := &graph.Fragment{
		ID:        uuid.New(),
		OwnerID:   owner,
		SessionID: session,
		Text:      text,
		Embedding: embedding,
		CreatedAt: createdAt,
		Processed: processed,
	}
	require.NoError(t, st.PutFragment(context.Background(), f))
	return f
}

func testFragmentLifecycle(t *testing.T, st Store) {
	ctx := context.Background()
	owner := uuid.New()

	_, err := st.GetFragment(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	f := putFragment(t, st, owner, uuid.New(), "a thought", time.Now(), false, nil)

	got, err := st.GetFragment(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "a thought", got.Text)
	assert.False(t, got.Processed)
	assert.False(t, got.HasEmbedding())

	vec := []float32{0.1, 0.2, 0.3}
	require.NoError(t, st.SetEmbedding(ctx, f.ID, vec))
	got, err = st.GetFragment(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, vec, got.Embedding)

	require.NoError(t, st.MarkFragmentProcessed(ctx, f.ID))
	require.NoError(t, st.MarkFragmentProcessed(ctx, f.ID), "idempotent")
	got, err = st.GetFragment(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)

	assert.ErrorIs(t, st.SetEmbedding(ctx, uuid.New(), vec), ErrNotFound)
	assert.ErrorIs(t, st.MarkFragmentProcessed(ctx, uuid.New()), ErrNotFound)
}

func testListFragments(t *testing.T, st Store) {
	ctx := context.Background()
	owner := uuid.New()
	other := uuid.New()
	sessionA := uuid.New()
	sessionB := uuid.New()
	now := time.Now()

	oldest := putFragment(t, st, owner, sessionA, "oldest", now.Add(-3*time.Hour), true, []float32{1})
	middle := putFragment(t, st, owner, sessionA, "middle", now.Add(-2*time.Hour), false, nil)
	newest := putFragment(t, st, owner, sessionB, "newest", now.Add(-time.Hour), false, []float32{1})
	putFragment(t, st, other, sessionA, "other owner", now, false, nil)

	all, err := st.ListFragments(ctx, FragmentQuery{OwnerID: owner, OldestFirst: true})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, oldest.ID, all[0].ID)
	assert.Equal(t, newest.ID, all[2].ID)

	newestFirst, err := st.ListFragments(ctx, FragmentQuery{OwnerID: owner})
	require.NoError(t, err)
	assert.Equal(t, newest.ID, newestFirst[0].ID)

	unprocessed := false
	pending, err := st.ListFragments(ctx, FragmentQuery{OwnerID: owner, Processed: &unprocessed, OldestFirst: true})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, middle.ID, pending[0].ID)

	embedded := true
	withVec, err := st.ListFragments(ctx, FragmentQuery{OwnerID: owner, HasEmbedding: &embedded})
	require.NoError(t, err)
	assert.Len(t, withVec, 2)

	scoped, err := st.ListFragments(ctx, FragmentQuery{OwnerID: owner, SessionIDs: []uuid.UUID{sessionB}})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, newest.ID, scoped[0].ID)

	cutoff := now.Add(-90 * time.Minute)
	before, err := st.ListFragments(ctx, FragmentQuery{OwnerID: owner, CreatedBefore: &cutoff})
	require.NoError(t, err)
	assert.Len(t, before, 2)
	after, err := st.ListFragments(ctx, FragmentQuery{OwnerID: owner, CreatedAfter: &cutoff})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, newest.ID, after[0].ID)

	limited, err := st.ListFragments(ctx, FragmentQuery{OwnerID: owner, OldestFirst: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, oldest.ID, limited[0].ID)
}

func testRecentSessions(t *testing.T, st Store) {
	ctx := context.Background()
	owner := uuid.New()
	now := time.Now()
	stale := uuid.New()
	older := uuid.New()
	fresh := uuid.New()

	putFragment(t, st, owner, stale, "stale", now.Add(-60*24*time.Hour), true, nil)
	putFragment(t, st, owner, older, "older", now.Add(-5*24*time.Hour), true, nil)
	putFragment(t, st, owner, fresh, "fresh", now.Add(-time.Hour), true, nil)
	putFragment(t, st, owner, fresh, "fresher", now, true, nil)

	sessions, err := st.RecentSessions(ctx, owner, now.Add(-30*24*time.Hour), 25)
	require.NoError(t, err)
	require.Len(t, sessions, 2, "stale session excluded")
	assert.Equal(t, fresh, sessions[0], "most recent first")
	assert.Equal(t, older, sessions[1])

	capped, err := st.RecentSessions(ctx, owner, now.Add(-30*24*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, fresh, capped[0])
}

func testEdges(t *testing.T, st Store) {
	ctx := context.Background()
	owner := uuid.New()
	now := time.Now()
	session := uuid.New()

	a := putFragment(t, st, owner, session, "a", now.Add(-3*time.Hour), true, nil)
	b := putFragment(t, st, owner, session, "b", now.Add(-2*time.Hour), true, nil)
	c := putFragment(t, st, owner, session, "c", now.Add(-time.Hour), true, nil)

	_, err := st.GetEdge(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	ab := &graph.Edge{
		ID: uuid.New(), SourceID: a.ID, TargetID: b.ID, OwnerID: owner,
		Relation: graph.RelationThoughtProgression, Strength: 0.8,
		SessionRelation: graph.IntraSession, CreatedAt: now.Add(-time.Hour),
	}
	bc := &graph.Edge{
		ID: uuid.New(), SourceID: b.ID, TargetID: c.ID, OwnerID: owner,
		Relation: graph.RelationEmotionShift, Strength: 0.9,
		SessionRelation: graph.IntraSession, CreatedAt: now,
	}
	require.NoError(t, st.CreateEdge(ctx, ab))
	require.NoError(t, st.CreateEdge(ctx, bc))

	exists, err := st.EdgeExists(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = st.EdgeExists(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.False(t, exists, "direction matters")

	between, err := st.EdgesBetween(ctx, a.ID, b.ID)
	require.NoError(t, err)
	require.Len(t, between, 1)
	assert.Equal(t, ab.ID, between[0].ID)

	incoming, err := st.EdgesByFragment(ctx, b.ID, Incoming)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, ab.ID, incoming[0].ID)

	outgoing, err := st.EdgesByFragment(ctx, b.ID, Outgoing)
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	assert.Equal(t, bc.ID, outgoing[0].ID)

	both, err := st.EdgesByFragment(ctx, b.ID, BothDirections)
	require.NoError(t, err)
	assert.Len(t, both, 2)

	count, err := st.CountEdgesByFragment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	byOwner, err := st.EdgesByOwner(ctx, owner, false)
	require.NoError(t, err)
	assert.Len(t, byOwner, 2)

	require.NoError(t, st.MarkEdgeProcessed(ctx, ab.ID))
	pending, err := st.EdgesByOwner(ctx, owner, true)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, bc.ID, pending[0].ID)

	global, err := st.UnprocessedEdges(ctx)
	require.NoError(t, err)
	require.Len(t, global, 1)
	assert.Equal(t, bc.ID, global[0].ID)

	require.NoError(t, st.MarkEdgesProcessed(ctx, []uuid.UUID{bc.ID}))
	global, err = st.UnprocessedEdges(ctx)
	require.NoError(t, err)
	assert.Empty(t, global)
}

func testReflections(t *testing.T, st Store) {
	ctx := context.Background()
	owner := uuid.New()

	count, err := st.CountReflectionsByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, count)

	r := &graph.Reflection{
		ID:          uuid.New(),
		OwnerID:     owner,
		FragmentIDs: []uuid.UUID{uuid.New(), uuid.New(), uuid.New()},
		EdgeIDs:     []uuid.UUID{uuid.New()},
		Text:        "a recurring pattern",
		Confidence:  0.8,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, st.CreateReflection(ctx, r))

	got, err := st.GetReflection(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Text, got.Text)
	assert.Len(t, got.FragmentIDs, 3)

	byOwner, err := st.ReflectionsByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, byOwner, 1)

	count, err = st.CountReflectionsByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, st.MarkViewed(ctx, r.ID))
	got, err = st.GetReflection(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.Viewed)

	assert.ErrorIs(t, st.SetFeedback(ctx, r.ID, 5), ErrInvalidFeedback)
	require.NoError(t, st.SetFeedback(ctx, r.ID, -1))
	got, err = st.GetReflection(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, got.Feedback)

	assert.ErrorIs(t, st.MarkViewed(ctx, uuid.New()), ErrNotFound)
}
