package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/smriti/thoughtgraph/internal/graph"
	"github.com/smriti/thoughtgraph/internal/oracle"
	"github.com/smriti/thoughtgraph/internal/store"
)

// stubClassifier returns a canned classification response.
type stubClassifier struct {
	proposals []oracle.RelationProposal
	err       error
	calls     int
}

func (s *stubClassifier) Classify(context.Context, *graph.Fragment, []*graph.Fragment) ([]oracle.RelationProposal, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.proposals, nil
}

// stubNarrator returns a canned narrative, optionally failing a number
// of times first.
type stubNarrator struct {
	result   *oracle.NarrativeResult
	failures int
	err      error
	calls    int
}

func (s *stubNarrator) Narrate(context.Context, oracle.NarrativeRequest) (*oracle.NarrativeResult, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, s.err
	}
	if s.result == nil {
		return &oracle.NarrativeResult{Text: "a pattern", Confidence: 0.8}, nil
	}
	return s.result, nil
}

// stubEmbedder returns a fixed vector per text.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return s.vectors[text], nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.vectors[t]
	}
	return out, nil
}

type fragmentOpts struct {
	text      string
	theme     string
	emotion   string
	cognition string
	embedding []float32
	age       time.Duration
	processed bool
	session   uuid.UUID
}

func seedFragment(t *testing.T, st store.Store, owner uuid.UUID, opts fragmentOpts) *graph.Fragment {
	t.Helper()
	session := opts.session
	if session == uuid.Nil {
		session = uuid.New()
	}
	f := &graph.Fragment{
		ID:            uuid.New(),
		OwnerID:       owner,
		SessionID:     session,
		Text:          opts.text,
		Theme:         opts.theme,
		Emotion:       opts.emotion,
		CognitionType: opts.cognition,
		Embedding:     opts.embedding,
		CreatedAt:     time.Now().Add(-opts.age),
		Processed:     opts.processed,
	}
	require.NoError(t, st.PutFragment(context.Background(), f))
	return f
}

func seedEdge(t *testing.T, st store.Store, owner uuid.UUID, source, target *graph.Fragment, strength float64, age time.Duration) *graph.Edge {
	t.Helper()
	e := &graph.Edge{
		ID:        uuid.New(),
		SourceID:  source.ID,
		TargetID:  target.ID,
		OwnerID:   owner,
		Relation:  graph.RelationThoughtProgression,
		Strength:  strength,
		CreatedAt: time.Now().Add(-age),
	}
	require.NoError(t, st.CreateEdge(context.Background(), e))
	return e
}

const day = 24 * time.Hour

// unit2 returns a 2d unit-ish vector; cosine against (1,0) equals x for
// x^2+y^2=1.
func unit2(x, y float32) []float32 {
	return []float32{x, y}
}
