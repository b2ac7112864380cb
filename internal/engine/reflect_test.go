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

func fastRetry() oracle.RetryPolicy {
	return oracle.RetryPolicy{MaxAttempts: 3, Step: time.Millisecond}
}

func TestSynthesizePersistsReflection(t *testing.T) {
	st := store.NewMemory()
	owner := uuid.New()
	fragments, _ := seedLine(t, st, owner)

	narrator := &stubNarrator{result: &oracle.NarrativeResult{Text: "you circle back to deadlines", Confidence: 0.7}}
	synth := NewReflectionSynthesizer(st, narrator, fastRetry(), zaptest.NewLogger(t))

	reflection, err := synth.Synthesize(context.Background(), owner, fragments)
	require.NoError(t, err)
	require.NotNil(t, reflection)
	assert.Equal(t, "you circle back to deadlines", reflection.Text)
	assert.Len(t, reflection.FragmentIDs, 4)
	// Three consecutive pairs, one edge each.
	assert.Len(t, reflection.EdgeIDs, 3)

	stored, err := st.GetReflection(context.Background(), reflection.ID)
	require.NoError(t, err)
	assert.Equal(t, owner, stored.OwnerID)
	assert.False(t, stored.Viewed)
	assert.Zero(t, stored.Feedback)
}

func TestSynthesizeRetriesTransientFailure(t *testing.T) {
	st := store.NewMemory()
	owner := uuid.New()
	fragments, _ := seedLine(t, st, owner)

	narrator := &stubNarrator{failures: 2, err: errors.New("oracle flapping")}
	synth := NewReflectionSynthesizer(st, narrator, fastRetry(), zaptest.NewLogger(t))

	reflection, err := synth.Synthesize(context.Background(), owner, fragments)
	require.NoError(t, err)
	require.NotNil(t, reflection)
	assert.Equal(t, 3, narrator.calls)
}

func TestSynthesizeExhaustedRetryPersistsNothing(t *testing.T) {
	st := store.NewMemory()
	owner := uuid.New()
	fragments, _ := seedLine(t, st, owner)

	narrator := &stubNarrator{failures: 10, err: errors.New("oracle down")}
	synth := NewReflectionSynthesizer(st, narrator, fastRetry(), zaptest.NewLogger(t))

	_, err := synth.Synthesize(context.Background(), owner, fragments)
	require.Error(t, err)
	assert.Equal(t, 3, narrator.calls)

	reflections, err := st.ReflectionsByOwner(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, reflections)
}

func TestSynthesizeClampsConfidence(t *testing.T) {
	st := store.NewMemory()
	owner := uuid.New()
	fragments, _ := seedLine(t, st, owner)

	narrator := &stubNarrator{result: &oracle.NarrativeResult{Text: "sure of it", Confidence: 1.7}}
	synth := NewReflectionSynthesizer(st, narrator, fastRetry(), zaptest.NewLogger(t))

	reflection, err := synth.Synthesize(context.Background(), owner, fragments)
	require.NoError(t, err)
	assert.Equal(t, 1.0, reflection.Confidence)
}

func TestSynthesizeRejectsTinyChain(t *testing.T) {
	st := store.NewMemory()
	owner := uuid.New()
	f := seedFragment(t, st, owner, fragmentOpts{text: "alone"})

	synth := NewReflectionSynthesizer(st, &stubNarrator{}, fastRetry(), zaptest.NewLogger(t))
	_, err := synth.Synthesize(context.Background(), owner, []*graph.Fragment{f})
	assert.ErrorIs(t, err, ErrChainTooShort)
}
