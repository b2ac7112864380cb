package oracle

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smriti/thoughtgraph/internal/graph"
	"github.com/smriti/thoughtgraph/internal/jsonx"
)

// Key fallbacks for the classification oracle's loosely structured
// output. Tried in order; first hit wins.
var (
	idKeys          = []string{"from_node_id", "from_fragment_id", "candidate_node_id", "candidate_id", "source_id", "node_id", "fragment_id", "id"}
	indexKeys       = []string{"candidate_index", "index", "candidate_number", "candidate"}
	relationKeys    = []string{"edge_type", "connection_type", "relation_type", "relation", "type"}
	strengthKeys    = []string{"match_strength", "strength", "confidence", "score"}
	explanationKeys = []string{"explanation", "reasoning", "reason", "description", "details", "justification", "rationale", "note", "notes"}
	listKeys        = []string{"edges", "connections", "relations", "proposals", "results", "matches"}
)

// ParseProposals decodes a classification response without assuming a
// fixed shape. The payload may be a bare array, an object holding the
// array under one of several known keys, or an object whose first
// array-of-objects value is the proposal list. Entries that are not
// objects are skipped.
func ParseProposals(data []byte) ([]RelationProposal, error) {
	var root interface{}
	if err := jsonx.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}

	items, err := proposalList(root)
	if err != nil {
		return nil, err
	}

	proposals := make([]RelationProposal, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		proposals = append(proposals, parseProposal(obj))
	}
	return proposals, nil
}

func proposalList(root interface{}) ([]interface{}, error) {
	switch v := root.(type) {
	case []interface{}:
		return v, nil
	case map[string]interface{}:
		for _, key := range listKeys {
			if arr, ok := v[key].([]interface{}); ok {
				return arr, nil
			}
		}
		// Last resort: any value that is an array of objects.
		for _, val := range v {
			arr, ok := val.([]interface{})
			if !ok || len(arr) == 0 {
				continue
			}
			if _, ok := arr[0].(map[string]interface{}); ok {
				return arr, nil
			}
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected response shape %T", root)
	}
}

func parseProposal(obj map[string]interface{}) RelationProposal {
	p := RelationProposal{
		RawID:          firstString(obj, idKeys),
		CandidateIndex: firstString(obj, indexKeys),
		Text:           stringValue(obj["text"]),
		Explanation:    firstString(obj, explanationKeys),
		Strength:       firstNumber(obj, strengthKeys),
	}

	rel := graph.RelationType(strings.TrimSpace(strings.ToLower(firstString(obj, relationKeys))))
	if rel == "" {
		rel = graph.RelationThoughtProgression
	}
	p.Relation = rel

	switch strings.TrimSpace(strings.ToLower(stringValue(obj["session_relation"]))) {
	case string(graph.CrossSession):
		p.SessionRelation = graph.CrossSession
	case string(graph.IntraSession):
		p.SessionRelation = graph.IntraSession
	}
	return p
}

func firstString(obj map[string]interface{}, keys []string) string {
	for _, key := range keys {
		if s := stringValue(obj[key]); s != "" {
			return s
		}
	}
	return ""
}

func firstNumber(obj map[string]interface{}, keys []string) float64 {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case float64:
			return v
		case string:
			if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return n
			}
		}
	}
	return 0
}

func stringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
