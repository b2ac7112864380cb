// Package graph provides the thought-fragment graph schema for the engine.
// Fragments are atomic units of journaled thought; edges are directed,
// typed, weighted relations that always point from an earlier fragment to
// a later one.
package graph

import (
	"time"

	"github.com/google/uuid"
)

// RelationType classifies the psychological connection between two fragments
type RelationType string

const (
	RelationThoughtProgression RelationType = "thought_progression"
	RelationEmotionShift       RelationType = "emotion_shift"
	RelationBeliefMutation     RelationType = "belief_mutation"
	RelationContradictionLoop  RelationType = "contradiction_loop"
	RelationMixedTransition    RelationType = "mixed_transition"
	RelationAvoidanceDrift     RelationType = "avoidance_drift"
	RelationRecurrenceTheme    RelationType = "recurrence_theme"
	RelationRecurrenceEmotion  RelationType = "recurrence_emotion"
	RelationRecurrenceBelief   RelationType = "recurrence_belief"
)

// RelationDescriptions maps each relation type to the short description used
// in classification prompts.
var RelationDescriptions = map[RelationType]string{
	RelationThoughtProgression: "One thought logically follows another.",
	RelationEmotionShift:       "A significant change in emotional tone.",
	RelationBeliefMutation:     "A belief that has changed shape over time.",
	RelationContradictionLoop:  "Inconsistent or opposing positions on the same topic.",
	RelationMixedTransition:    "A shift spanning both theme and emotional tone.",
	RelationAvoidanceDrift:     "Attention drifting away from an uncomfortable topic.",
	RelationRecurrenceTheme:    "Recurring theme across different contexts.",
	RelationRecurrenceEmotion:  "Recurring emotional tone across different contexts.",
	RelationRecurrenceBelief:   "Recurring belief across different contexts.",
}

// ValidRelation reports whether t is one of the closed relation types.
func ValidRelation(t RelationType) bool {
	_, ok := RelationDescriptions[t]
	return ok
}

// SessionRelation marks whether an edge connects fragments of the same
// journaling session or spans sessions.
type SessionRelation string

const (
	IntraSession SessionRelation = "intra_session"
	CrossSession SessionRelation = "cross_session"
)

// AttrGeneric is the fallback value for attributes the extraction pass could
// not classify. It still participates in attribute matching.
const AttrGeneric = "generic"

// Fragment is an atomic cognitive/emotional unit extracted from a session
// transcript. The embedding is attached later by the embedding backfill
// pass; the Processed flag flips false -> true exactly once, by the edge
// synthesizer, and never reverts.
type Fragment struct {
	ID            uuid.UUID `json:"id"`
	OwnerID       uuid.UUID `json:"owner_id"`
	SessionID     uuid.UUID `json:"session_id"`
	Text          string    `json:"text"`
	Emotion       string    `json:"emotion,omitempty"`
	Theme         string    `json:"theme,omitempty"`
	CognitionType string    `json:"cognition_type,omitempty"`
	Embedding     []float32 `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	Processed     bool      `json:"processed"`
}

// HasEmbedding reports whether an embedding has been attached.
func (f *Fragment) HasEmbedding() bool {
	return len(f.Embedding) > 0
}

// Edge is a directed relation between two fragments. The target is always
// chronologically later than the source. The Processed flag is set by the
// reflection pipeline once the edge has been consumed as a chain seed or by
// the chain-link sweep; it is orthogonal to Fragment.Processed.
type Edge struct {
	ID              uuid.UUID       `json:"id"`
	SourceID        uuid.UUID       `json:"source_id"`
	TargetID        uuid.UUID       `json:"target_id"`
	OwnerID         uuid.UUID       `json:"owner_id"`
	Relation        RelationType    `json:"relation"`
	Strength        float64         `json:"strength"`
	SessionRelation SessionRelation `json:"session_relation"`
	Explanation     string          `json:"explanation,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Processed       bool            `json:"processed"`
}

// CombinedScore is the edge's strength plus a recency-decay bonus. The
// scheduler uses it to prioritize which edge seeds the next reflection.
func (e *Edge) CombinedScore(now time.Time) float64 {
	days := now.Sub(e.CreatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	decay := 1.0 / (1.0 + days/7.0)
	return e.Strength + 0.3*decay
}

// Reflection is a synthesized narrative derived from a chain of fragments
// and the edges connecting them. Created only on narrative oracle success;
// mutated afterwards only by viewed/feedback updates.
type Reflection struct {
	ID          uuid.UUID   `json:"id"`
	OwnerID     uuid.UUID   `json:"owner_id"`
	FragmentIDs []uuid.UUID `json:"fragment_ids"`
	EdgeIDs     []uuid.UUID `json:"edge_ids,omitempty"`
	Text        string      `json:"text"`
	Confidence  float64     `json:"confidence"`
	CreatedAt   time.Time   `json:"created_at"`
	Viewed      bool        `json:"viewed"`
	Feedback    int         `json:"feedback"`
}
