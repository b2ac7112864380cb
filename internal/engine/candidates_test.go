package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/smriti/thoughtgraph/internal/store"
)

func newSelector(t *testing.T, st store.Store) *CandidateSelector {
	t.Helper()
	return NewCandidateSelector(st, DefaultSelectorConfig(), zaptest.NewLogger(t))
}

func TestSelectThemeBoostInclusion(t *testing.T) {
	st := store.NewMemory()
	owner := uuid.New()
	session := uuid.New()

	// Base cosine against (1,0) is exactly 0.8 for (0.8, 0.6).
	source := seedFragment(t, st, owner, fragmentOpts{
		text: "source", theme: "work", embedding: unit2(1, 0), session: session,
	})
	match := seedFragment(t, st, owner, fragmentOpts{
		text: "match", theme: "work", embedding: unit2(0.8, 0.6),
		age: 10 * day, processed: true, session: session,
	})
	seedFragment(t, st, owner, fragmentOpts{
		text: "mismatch", theme: "family", embedding: unit2(0.8, 0.6),
		age: 10 * day, processed: true, session: session,
	})

	got := newSelector(t, st).Select(context.Background(), source)

	// Matching theme: 0.80 + 0.10 = 0.90, included. Mismatched themes on
	// both sides: 0.80 - 0.10 = 0.70, below the 0.84 final threshold.
	require.Len(t, got, 1)
	assert.Equal(t, match.ID, got[0].Fragment.ID)
	assert.InDelta(t, 0.80, got[0].Base, 1e-6)
	assert.InDelta(t, 0.90, got[0].Adjusted, 1e-6)
}

func TestSelectBelowInitialThresholdExcluded(t *testing.T) {
	st := store.NewMemory()
	owner := uuid.New()
	session := uuid.New()

	source := seedFragment(t, st, owner, fragmentOpts{
		text: "source", theme: "work", embedding: unit2(1, 0), session: session,
	})
	// Base 0.6 < 0.70: boosts must not rescue it even with every
	// attribute matching.
	seedFragment(t, st, owner, fragmentOpts{
		text: "weak", theme: "work", emotion: "calm", cognition: "insight",
		embedding: unit2(0.6, 0.8), age: day, processed: true, session: session,
	})

	got := newSelector(t, st).Select(context.Background(), source)
	assert.Empty(t, got)
}

func TestSelectOrderingAndCap(t *testing.T) {
	st := store.NewMemory()
	owner := uuid.New()
	session := uuid.New()
	cfg := DefaultSelectorConfig()
	cfg.MaxCandidates = 2

	source := seedFragment(t, st, owner, fragmentOpts{
		text: "source", theme: "work", embedding: unit2(1, 0), session: session,
	})
	seedFragment(t, st, owner, fragmentOpts{
		text: "low", theme: "work", embedding: unit2(0.8, 0.6),
		age: day, processed: true, session: session,
	})
	high := seedFragment(t, st, owner, fragmentOpts{
		text: "high", theme: "work", embedding: unit2(0.9, float32(0.43588989)),
		age: day, processed: true, session: session,
	})
	seedFragment(t, st, owner, fragmentOpts{
		text: "third", theme: "work", embedding: unit2(0.85, float32(0.52678269)),
		age: day, processed: true, session: session,
	})

	selector := NewCandidateSelector(st, cfg, zaptest.NewLogger(t))
	got := selector.Select(context.Background(), source)

	require.Len(t, got, 2)
	assert.Equal(t, high.ID, got[0].Fragment.ID)
	assert.Greater(t, got[0].Adjusted, got[1].Adjusted)
}

func TestSelectTemporalDirection(t *testing.T) {
	st := store.NewMemory()
	owner := uuid.New()
	session := uuid.New()

	source := seedFragment(t, st, owner, fragmentOpts{
		text: "source", embedding: unit2(1, 0), age: 5 * day, session: session,
	})
	// Identical embedding but created after the source: edges run past
	// to future, so it can never be a candidate.
	seedFragment(t, st, owner, fragmentOpts{
		text: "later", embedding: unit2(1, 0), age: day, processed: true, session: session,
	})
	// Unprocessed prior fragment is excluded too.
	seedFragment(t, st, owner, fragmentOpts{
		text: "unprocessed", embedding: unit2(1, 0), age: 10 * day, session: session,
	})

	got := newSelector(t, st).Select(context.Background(), source)
	assert.Empty(t, got)
}

func TestSelectSourceWithoutEmbedding(t *testing.T) {
	st := store.NewMemory()
	owner := uuid.New()

	source := seedFragment(t, st, owner, fragmentOpts{text: "no vector"})
	got := newSelector(t, st).Select(context.Background(), source)
	assert.Empty(t, got)
}

func TestSelectWindowCutoff(t *testing.T) {
	st := store.NewMemory()
	owner := uuid.New()
	session := uuid.New()

	source := seedFragment(t, st, owner, fragmentOpts{
		text: "source", embedding: unit2(1, 0), session: session,
	})
	// The stale fragment lives in a session whose last activity predates
	// the MAX_DAYS cutoff, so it never enters the candidate pool.
	seedFragment(t, st, owner, fragmentOpts{
		text: "stale", embedding: unit2(1, 0), age: 60 * day, processed: true,
	})

	got := newSelector(t, st).Select(context.Background(), source)
	assert.Empty(t, got)
}
