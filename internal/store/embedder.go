package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/folder-mcp/folder-mcp-daemon/internal/outcome"
)

// EmbedderConfig selects and configures an embedding provider.
type EmbedderConfig struct {
	Provider   string // openai, ollama
	Model      string
	APIKey     string
	Endpoint   string
	Dimensions int
}

// Embedder is the capability the lifecycle service calls during indexing
// (§6). ValidateModel is called once at folder construction so an unknown
// model identifier fails fast instead of on the first embed call.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([]Embedding, error)
	ValidateModel(id string) (bool, string)
	Dimensions() int
}

// NewEmbedder instantiates a provider per cfg.Provider, grounded on the
// teacher's provider_factory dispatch.
func NewEmbedder(cfg EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai", "":
		return newOpenAIEmbedder(cfg)
	case "ollama":
		return newOllamaEmbedder(cfg)
	default:
		return nil, outcome.Validation("unknown embedder provider %q", cfg.Provider)
	}
}

const (
	defaultOpenAIModel    = "text-embedding-3-large"
	defaultOpenAIEndpoint = "https://api.openai.com/v1/embeddings"
)

var openAIKnownModels = map[string]bool{
	"text-embedding-3-large": true,
	"text-embedding-3-small": true,
	"text-embedding-ada-002": true,
}

type openAIEmbedder struct {
	model      string
	apiKey     string
	endpoint   string
	dims       int
	httpClient *http.Client
}

func newOpenAIEmbedder(cfg EmbedderConfig) (Embedder, error) {
	if cfg.APIKey == "" {
		return nil, outcome.Validation("openai embedder requires an api key")
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	return &openAIEmbedder{model: model, apiKey: cfg.APIKey, endpoint: endpoint, dims: cfg.Dimensions, httpClient: http.DefaultClient}, nil
}

func (p *openAIEmbedder) Dimensions() int { return p.dims }

func (p *openAIEmbedder) ValidateModel(id string) (bool, string) {
	if id == "" {
		// An empty identifier selects the embedder's default model.
		id = p.model
	}
	if !openAIKnownModels[id] && !strings.HasPrefix(id, "text-embedding-") {
		return false, fmt.Sprintf("unrecognised openai embedding model %q", id)
	}
	return true, ""
}

func (p *openAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([]Embedding, error) {
	if len(texts) == 0 {
		return nil, outcome.Validation("no texts to embed")
	}

	payload := map[string]any{"model": p.model, "input": texts}
	if p.dims > 0 {
		payload["dimensions"] = p.dims
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, outcome.Validation("marshal embed request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, outcome.TransientIO(err, "build openai embed request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, outcome.TransientIO(err, "call openai embeddings endpoint")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, outcome.ModelUnavailable("openai model %q unavailable: %s", p.model, string(msg))
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, outcome.TransientIO(nil, "openai embeddings status %d: %s", resp.StatusCode, string(msg))
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, outcome.TransientIO(err, "decode openai embeddings response")
	}
	if len(parsed.Data) != len(texts) {
		return nil, outcome.TransientIO(nil, "embedding count mismatch: want %d got %d", len(texts), len(parsed.Data))
	}

	res := make([]Embedding, len(parsed.Data))
	for i, item := range parsed.Data {
		res[i] = Embedding(item.Embedding)
		if p.dims == 0 {
			p.dims = len(item.Embedding)
		}
	}
	return res, nil
}

const defaultOllamaEndpoint = "http://localhost:11434/api/embeddings"

type ollamaEmbedder struct {
	model      string
	endpoint   string
	dims       int
	httpClient *http.Client
}

func newOllamaEmbedder(cfg EmbedderConfig) (Embedder, error) {
	if cfg.Model == "" {
		return nil, outcome.Validation("ollama embedder requires a model")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	return &ollamaEmbedder{model: cfg.Model, endpoint: endpoint, dims: cfg.Dimensions, httpClient: http.DefaultClient}, nil
}

func (p *ollamaEmbedder) Dimensions() int { return p.dims }

func (p *ollamaEmbedder) ValidateModel(id string) (bool, string) {
	if strings.TrimSpace(id) == "" {
		return false, "model identifier is empty"
	}
	return true, ""
}

func (p *ollamaEmbedder) EmbedTexts(ctx context.Context, texts []string) ([]Embedding, error) {
	if len(texts) == 0 {
		return nil, outcome.Validation("no texts to embed")
	}
	results := make([]Embedding, 0, len(texts))
	for _, t := range texts {
		emb, err := p.embedOne(ctx, t)
		if err != nil {
			return nil, err
		}
		results = append(results, emb)
	}
	return results, nil
}

func (p *ollamaEmbedder) embedOne(ctx context.Context, text string) (Embedding, error) {
	body, err := json.Marshal(map[string]any{"model": p.model, "prompt": text})
	if err != nil {
		return nil, outcome.Validation("marshal ollama embed request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, outcome.TransientIO(err, "build ollama embed request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, outcome.TransientIO(err, "call ollama embeddings endpoint")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, outcome.ModelUnavailable("ollama model %q unavailable: %s", p.model, string(msg))
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, outcome.TransientIO(nil, "ollama embeddings status %d: %s", resp.StatusCode, string(msg))
	}

	var parsed struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, outcome.TransientIO(err, "decode ollama embeddings response")
	}
	if p.dims == 0 {
		p.dims = len(parsed.Embedding)
	}
	return Embedding(parsed.Embedding), nil
}
