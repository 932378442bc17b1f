package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini-backed embedder.
type GeminiConfig struct {
	APIKey     string
	Model      string
	Dimensions int
}

// DefaultGeminiConfig returns the standard embedding settings.
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		Model:      "gemini-embedding-001",
		Dimensions: 768,
	}
}

// GeminiEmbedder implements Embedder using the Gemini embedding API.
type GeminiEmbedder struct {
	client *genai.Client
	cfg    GeminiConfig
}

// NewGeminiEmbedder creates an embedder. An empty APIKey falls back to
// the SDK's GEMINI_API_KEY environment handling.
func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig) (*GeminiEmbedder, error) {
	def := DefaultGeminiConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = def.Dimensions
	}

	clientCfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if cfg.APIKey != "" {
		clientCfg.APIKey = cfg.APIKey
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiEmbedder{client: client, cfg: cfg}, nil
}

// Embed implements Embedder.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	dims := int32(e.cfg.Dimensions)
	resp, err := e.client.Models.EmbedContent(ctx, e.cfg.Model,
		genai.Text(text),
		&genai.EmbedContentConfig{OutputDimensionality: &dims})
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embed content: empty embedding response")
	}
	vec := resp.Embeddings[0].Values
	if len(vec) != e.cfg.Dimensions {
		return nil, fmt.Errorf("embed content: got %d dimensions, expected %d", len(vec), e.cfg.Dimensions)
	}
	return vec, nil
}

// Dimensions implements Embedder.
func (e *GeminiEmbedder) Dimensions() int { return e.cfg.Dimensions }
