package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/smriti/thoughtgraph/internal/graph"
	"github.com/smriti/thoughtgraph/internal/oracle"
	"github.com/smriti/thoughtgraph/internal/store"
)

func newSynthesizer(t *testing.T, st store.Store, classifier oracle.ClassificationProvider) *EdgeSynthesizer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	selector := NewCandidateSelector(st, DefaultSelectorConfig(), logger)
	return NewEdgeSynthesizer(st, selector, classifier, DefaultSynthesizerConfig(), logger)
}

// seedPair stores a source and one viable candidate in the same session.
func seedPair(t *testing.T, st store.Store, owner uuid.UUID) (source, cand *graph.Fragment) {
	session := uuid.New()
	source = seedFragment(t, st, owner, fragmentOpts{
		text: "today I pushed through the deadline", embedding: unit2(1, 0), session: session,
	})
	cand = seedFragment(t, st, owner, fragmentOpts{
		text: "deadlines always spin me up", embedding: unit2(1, 0),
		age: day, processed: true, session: session,
	})
	return source, cand
}

func TestProcessFragmentCreatesEdge(t *testing.T) {
	st := store.NewMemory()
	owner := uuid.New()
	source, cand := seedPair(t, st, owner)

	classifier := &stubClassifier{proposals: []oracle.RelationProposal{{
		RawID:       cand.ID.String(),
		Relation:    graph.RelationRecurrenceTheme,
		Strength:    0.85,
		Explanation: "same pressure pattern",
	}}}

	created, err := newSynthesizer(t, st, classifier).ProcessFragment(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	edges, err := st.EdgesByOwner(context.Background(), owner, false)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	// Edge runs past to future: candidate is the source side.
	assert.Equal(t, cand.ID, edges[0].SourceID)
	assert.Equal(t, source.ID, edges[0].TargetID)
	assert.Equal(t, graph.IntraSession, edges[0].SessionRelation)

	updated, err := st.GetFragment(context.Background(), source.ID)
	require.NoError(t, err)
	assert.True(t, updated.Processed)
}

func TestProcessFragmentResolutionFallbacks(t *testing.T) {
	cases := []struct {
		name     string
		proposal func(cand *graph.Fragment) oracle.RelationProposal
	}{
		{"candidate index", func(*graph.Fragment) oracle.RelationProposal {
			return oracle.RelationProposal{CandidateIndex: "1", Relation: graph.RelationEmotionShift, Strength: 0.8}
		}},
		{"index-bearing string", func(*graph.Fragment) oracle.RelationProposal {
			return oracle.RelationProposal{RawID: "Candidate 1", Relation: graph.RelationEmotionShift, Strength: 0.8}
		}},
		{"text containment", func(cand *graph.Fragment) oracle.RelationProposal {
			return oracle.RelationProposal{Text: cand.Text, Relation: graph.RelationEmotionShift, Strength: 0.8}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := store.NewMemory()
			owner := uuid.New()
			source, cand := seedPair(t, st, owner)

			classifier := &stubClassifier{proposals: []oracle.RelationProposal{tc.proposal(cand)}}
			created, err := newSynthesizer(t, st, classifier).ProcessFragment(context.Background(), source)
			require.NoError(t, err)
			assert.Equal(t, 1, created)
		})
	}
}

func TestProcessFragmentDropsBadProposals(t *testing.T) {
	st := store.NewMemory()
	owner := uuid.New()
	source, cand := seedPair(t, st, owner)

	classifier := &stubClassifier{proposals: []oracle.RelationProposal{
		{RawID: uuid.NewString(), Relation: graph.RelationEmotionShift, Strength: 0.9},      // unresolvable
		{RawID: cand.ID.String(), Relation: "made_up_relation", Strength: 0.9},              // unknown relation
		{RawID: cand.ID.String(), Relation: graph.RelationEmotionShift, Strength: 0.65},     // below cutoff
		{RawID: cand.ID.String(), Relation: graph.RelationEmotionShift, Strength: 85},       // out of range
		{RawID: cand.ID.String(), Relation: graph.RelationContradictionLoop, Strength: 0.9}, // kept
	}}

	created, err := newSynthesizer(t, st, classifier).ProcessFragment(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
}

func TestProcessFragmentSkipsDuplicateDirection(t *testing.T) {
	st := store.NewMemory()
	owner := uuid.New()
	source, cand := seedPair(t, st, owner)
	seedEdge(t, st, owner, cand, source, 0.9, 0)

	classifier := &stubClassifier{proposals: []oracle.RelationProposal{{
		RawID: cand.ID.String(), Relation: graph.RelationEmotionShift, Strength: 0.9,
	}}}

	created, err := newSynthesizer(t, st, classifier).ProcessFragment(context.Background(), source)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestProcessFragmentNoCandidatesIsTerminal(t *testing.T) {
	st := store.NewMemory()
	owner := uuid.New()
	source := seedFragment(t, st, owner, fragmentOpts{text: "lonely thought", embedding: unit2(1, 0)})

	classifier := &stubClassifier{}
	created, err := newSynthesizer(t, st, classifier).ProcessFragment(context.Background(), source)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Zero(t, classifier.calls, "oracle must not be called without candidates")

	updated, err := st.GetFragment(context.Background(), source.ID)
	require.NoError(t, err)
	assert.True(t, updated.Processed)
}

func TestProcessFragmentOracleFailureLeavesUnprocessed(t *testing.T) {
	st := store.NewMemory()
	owner := uuid.New()
	source, _ := seedPair(t, st, owner)

	classifier := &stubClassifier{err: errors.New("oracle down")}
	_, err := newSynthesizer(t, st, classifier).ProcessFragment(context.Background(), source)
	require.Error(t, err)

	updated, err := st.GetFragment(context.Background(), source.ID)
	require.NoError(t, err)
	assert.False(t, updated.Processed, "fragment must stay retryable after oracle failure")
}

func TestProcessFragmentEdgeCap(t *testing.T) {
	st := store.NewMemory()
	owner := uuid.New()
	source, cand := seedPair(t, st, owner)

	// Saturate the source with incident edges.
	for i := 0; i < DefaultSynthesizerConfig().MaxEdgesPerNode; i++ {
		filler := seedFragment(t, st, owner, fragmentOpts{
			text: "filler", age: time.Duration(i+2) * day, processed: true,
		})
		seedEdge(t, st, owner, filler, source, 0.8, 0)
	}

	classifier := &stubClassifier{proposals: []oracle.RelationProposal{{
		RawID: cand.ID.String(), Relation: graph.RelationEmotionShift, Strength: 0.9,
	}}}

	created, err := newSynthesizer(t, st, classifier).ProcessFragment(context.Background(), source)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Zero(t, classifier.calls, "saturated fragment skips the candidate search")

	count, err := st.CountEdgesByFragment(context.Background(), source.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultSynthesizerConfig().MaxEdgesPerNode, count)

	updated, err := st.GetFragment(context.Background(), source.ID)
	require.NoError(t, err)
	assert.True(t, updated.Processed)
}
