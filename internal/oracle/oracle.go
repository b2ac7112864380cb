// Package oracle defines the capability interfaces for the external AI
// oracles (embedding, relation classification, narrative generation) and
// an HTTP client implementation against the AI services endpoint. The
// interfaces are injected into engine components so tests can substitute
// deterministic doubles.
package oracle

import (
	"context"

	"github.com/smriti/thoughtgraph/internal/graph"
)

// EmbeddingProvider turns text into a fixed-length embedding vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// RelationProposal is one proposed edge from the classification oracle.
// The oracle's output shape is not contractually fixed: RawID,
// CandidateIndex and Text are resolution hints the synthesizer tries in
// order; any of them may be empty.
type RelationProposal struct {
	RawID           string
	CandidateIndex  string
	Text            string
	Relation        graph.RelationType
	Strength        float64
	Explanation     string
	SessionRelation graph.SessionRelation
}

// ClassificationProvider classifies the relation between a source fragment
// and each ranked candidate in a single call.
type ClassificationProvider interface {
	Classify(ctx context.Context, source *graph.Fragment, candidates []*graph.Fragment) ([]RelationProposal, error)
}

// NarrativeRequest carries an ordered chain and its connecting relation
// types to the narrative oracle.
type NarrativeRequest struct {
	Fragments []*graph.Fragment
	Relations []graph.RelationType
}

// NarrativeResult is the narrative oracle's reflection output.
type NarrativeResult struct {
	Text       string
	Confidence float64
}

// NarrativeProvider synthesizes a reflection narrative over a chain.
type NarrativeProvider interface {
	Narrate(ctx context.Context, req NarrativeRequest) (*NarrativeResult, error)
}
