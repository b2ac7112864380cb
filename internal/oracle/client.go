package oracle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/smriti/thoughtgraph/internal/graph"
	"github.com/smriti/thoughtgraph/internal/jsonx"
)

const embedCacheSize = 1024

// Client implements all three provider interfaces over the AI services
// HTTP endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *lru.Cache[string, []float32]
	logger  *zap.Logger
}

// NewClient creates a client for the AI services at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cache, err := lru.New[string, []float32](embedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		cache:   cache,
		logger:  logger.Named("oracle"),
	}, nil
}

func (c *Client) post(ctx context.Context, path string, reqBody interface{}) ([]byte, error) {
	data, err := jsonx.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ai service returned %d for %s", resp.StatusCode, path)
	}
	return io.ReadAll(resp.Body)
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed generates an embedding vector for the given text. Results are
// cached; repeated fragments are common during backfill.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.cache.Get(text); ok {
		return vec, nil
	}

	body, err := c.post(ctx, "/embed", embedRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	var result embedResponse
	if err := jsonx.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode embedding: %w", err)
	}

	c.cache.Add(text, result.Embedding)
	return result.Embedding, nil
}

type embedBatchRequest struct {
	Texts []string `json:"texts"`
}

type embedBatchResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedBatch generates embeddings for multiple texts in one call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := c.post(ctx, "/embed-batch", embedBatchRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("batch embedding request failed: %w", err)
	}

	var result embedBatchResponse
	if err := jsonx.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode batch embeddings: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	return result.Embeddings, nil
}

// fragmentSummary is the wire form of a fragment sent to the
// classification oracle.
type fragmentSummary struct {
	ID            string `json:"id"`
	SessionID     string `json:"session_id"`
	Text          string `json:"text"`
	Theme         string `json:"theme"`
	CognitionType string `json:"cognition_type"`
	Emotion       string `json:"emotion"`
}

func summarize(f *graph.Fragment) fragmentSummary {
	s := fragmentSummary{
		ID:            f.ID.String(),
		SessionID:     f.SessionID.String(),
		Text:          f.Text,
		Theme:         f.Theme,
		CognitionType: f.CognitionType,
		Emotion:       f.Emotion,
	}
	if s.Theme == "" {
		s.Theme = graph.AttrGeneric
	}
	if s.CognitionType == "" {
		s.CognitionType = graph.AttrGeneric
	}
	if s.Emotion == "" {
		s.Emotion = graph.AttrGeneric
	}
	return s
}

type classifyRequest struct {
	Source        fragmentSummary   `json:"source"`
	Candidates    []fragmentSummary `json:"candidates"`
	RelationTypes map[string]string `json:"relation_types"`
}

// Classify asks the oracle to propose typed relations between the source
// and each candidate. The response shape is parsed defensively.
func (c *Client) Classify(ctx context.Context, source *graph.Fragment, candidates []*graph.Fragment) ([]RelationProposal, error) {
	req := classifyRequest{
		Source:        summarize(source),
		Candidates:    make([]fragmentSummary, len(candidates)),
		RelationTypes: make(map[string]string, len(graph.RelationDescriptions)),
	}
	for i, cand := range candidates {
		req.Candidates[i] = summarize(cand)
	}
	for t, desc := range graph.RelationDescriptions {
		req.RelationTypes[string(t)] = desc
	}

	body, err := c.post(ctx, "/classify-relations", req)
	if err != nil {
		return nil, fmt.Errorf("classification request failed: %w", err)
	}

	proposals, err := ParseProposals(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse classification response: %w", err)
	}

	c.logger.Debug("Classification oracle responded",
		zap.String("source", source.ID.String()),
		zap.Int("candidates", len(candidates)),
		zap.Int("proposals", len(proposals)))
	return proposals, nil
}

type narrateRequest struct {
	ThoughtSequence string   `json:"thought_sequence"`
	RelationTypes   []string `json:"relation_types"`
	Themes          []string `json:"themes"`
	Emotions        []string `json:"emotions"`
}

type narrateResponse struct {
	GeneratedText   string  `json:"generated_text"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// Narrate asks the oracle for a reflection over the chain.
func (c *Client) Narrate(ctx context.Context, nreq NarrativeRequest) (*NarrativeResult, error) {
	req := narrateRequest{
		ThoughtSequence: renderSequence(nreq.Fragments),
		RelationTypes:   make([]string, 0, len(nreq.Relations)),
	}
	for _, r := range nreq.Relations {
		req.RelationTypes = append(req.RelationTypes, string(r))
	}
	for _, f := range nreq.Fragments {
		if f.Theme != "" {
			req.Themes = append(req.Themes, f.Theme)
		}
		if f.Emotion != "" {
			req.Emotions = append(req.Emotions, f.Emotion)
		}
	}

	body, err := c.post(ctx, "/generate-reflection", req)
	if err != nil {
		return nil, fmt.Errorf("narrative request failed: %w", err)
	}

	var result narrateResponse
	if err := jsonx.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode reflection: %w", err)
	}
	return &NarrativeResult{Text: result.GeneratedText, Confidence: result.ConfidenceScore}, nil
}

// renderSequence joins the chain texts into the "a -> b -> c" form the
// narrative oracle expects.
func renderSequence(fragments []*graph.Fragment) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	for i, f := range fragments {
		if i > 0 {
			buf.WriteString(" -> ")
		}
		buf.WriteString(f.Text)
	}
	return buf.String()
}
