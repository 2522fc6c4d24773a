// Package ollama implements the capability.Embedder contract against a local
// Ollama server's native /api/embed endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/codegraph/querycore/pkg/capability"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

var _ capability.Embedder = (*Embedder)(nil)

// Embedder implements capability.Embedder using a local Ollama server.
//
// Dimension resolution happens in this order:
//  1. Value supplied via WithDimension (highest priority).
//  2. Look-up in the built-in knownDimensions table for recognised model names.
//  3. Auto-detection: a single probe embed is issued on the first Dimension
//     call and the length of the returned vector is cached for the lifetime
//     of the Embedder.
//
// Embedder is safe for concurrent use.
type Embedder struct {
	baseURL    string
	model      string
	httpClient *http.Client

	dimension  int
	detectOnce sync.Once
}

type config struct {
	timeout   time.Duration
	dimension int
}

// Option is a functional option for New.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. A zero or negative value
// means no timeout (the default).
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimension pre-sets the embedding dimension, bypassing the look-up
// table and avoiding the probe request that Dimension() would otherwise
// issue for unknown models on first call.
func WithDimension(dims int) Option {
	return func(c *config) { c.dimension = dims }
}

// New constructs an [Embedder]. baseURL defaults to [DefaultBaseURL] when
// empty. model must not be empty.
func New(baseURL string, model string, opts ...Option) (*Embedder, error) {
	if model == "" {
		return nil, fmt.Errorf("embedder/ollama: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	e := &Embedder{
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		dimension:  cfg.dimension,
	}
	if e.dimension == 0 {
		e.dimension = knownDimensions(model)
	}
	return e, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed implements [capability.Embedder]. The text is forwarded verbatim;
// any model-specific prompt prefix (e.g. nomic-embed-text's "query: ") is
// the caller's responsibility.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.callEmbed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedder/ollama: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedder/ollama: embed: empty response")
	}
	return vecs[0], nil
}

// Dimension implements [capability.Embedder]. See the Embedder doc comment
// for the resolution order.
func (e *Embedder) Dimension() int {
	if e.dimension != 0 {
		return e.dimension
	}
	e.detectOnce.Do(func() {
		vecs, err := e.callEmbed(context.Background(), []string{"probe"})
		if err == nil && len(vecs) > 0 {
			e.dimension = len(vecs[0])
		}
	})
	return e.dimension
}

// Metric implements [capability.Embedder]. Ollama's commonly deployed
// embedding models (nomic-embed-text, mxbai-embed-large, all-minilm) are
// published for cosine similarity.
func (e *Embedder) Metric() string {
	return "cosine"
}

func (e *Embedder) callEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return result.Embeddings, nil
}

// knownDimensions returns the well-known output dimension for recognised
// Ollama embedding model names. Returns 0 for unknown models, which
// triggers auto-detection on the first Dimension() call.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	default:
		return 0
	}
}
