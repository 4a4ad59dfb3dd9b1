package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"mercator-hq/triton/pkg/tools"
)

// Embedder turns text into a vector. The zero-candidate and disabled cases
// are handled by the caller; embedders only embed.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// OllamaEmbedder calls an Ollama-compatible /api/embeddings endpoint.
type OllamaEmbedder struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	http    *http.Client
}

// NewOllamaEmbedder creates an embedder. Defaults: local Ollama,
// nomic-embed-text, 10 second timeout.
func NewOllamaEmbedder(baseURL, model string, timeout time.Duration) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	if model == "" {
		model = "nomic-embed-text:latest"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OllamaEmbedder{
		BaseURL: baseURL,
		Model:   model,
		Timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(map[string]any{"model": e.Model, "prompt": text})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding endpoint returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding: %w", err)
	}
	return parsed.Embedding, nil
}

// cosine computes cosine similarity; mismatched or zero vectors score 0.
func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SemanticRouter scores user input against tool descriptions by embedding
// similarity. Tool embeddings are computed lazily and cached for the process
// lifetime; descriptions do not change at runtime.
type SemanticRouter struct {
	registry *tools.Registry
	embedder Embedder
	enabled  bool

	mu         sync.Mutex
	embeddings map[string][]float64
}

// NewSemanticRouter creates a semantic router. A nil embedder disables it.
func NewSemanticRouter(registry *tools.Registry, embedder Embedder, enabled bool) *SemanticRouter {
	return &SemanticRouter{
		registry:   registry,
		embedder:   embedder,
		enabled:    enabled && embedder != nil,
		embeddings: make(map[string][]float64),
	}
}

// Enabled reports whether the semantic tier participates in routing.
func (s *SemanticRouter) Enabled() bool {
	return s.enabled
}

// Rank embeds the input and returns all tools scored by similarity,
// descending. Disabled routers and empty inputs return no candidates.
func (s *SemanticRouter) Rank(ctx context.Context, input string) ([]Candidate, error) {
	if !s.enabled || strings.TrimSpace(input) == "" {
		return nil, nil
	}
	inputVec, err := s.embedder.Embed(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(inputVec) == 0 {
		return nil, nil
	}

	var candidates []Candidate
	for _, spec := range s.registry.List() {
		toolVec, err := s.toolEmbedding(ctx, spec)
		if err != nil || len(toolVec) == 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			Tool:  spec.Name,
			Score: cosine(inputVec, toolVec),
		})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	return candidates, nil
}

func (s *SemanticRouter) toolEmbedding(ctx context.Context, spec tools.ToolSpec) ([]float64, error) {
	s.mu.Lock()
	cached, ok := s.embeddings[spec.Name]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	prompt := strings.TrimSpace(spec.Name + ": " + spec.Description)
	vec, err := s.embedder.Embed(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if len(vec) > 0 {
		s.mu.Lock()
		s.embeddings[spec.Name] = vec
		s.mu.Unlock()
	}
	return vec, nil
}
