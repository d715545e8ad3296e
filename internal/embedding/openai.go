package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
)

const (
	OpenAIDefaultModel     = "text-embedding-3-small"
	OpenAIDefaultDimension = 1536
	OpenAIMaxInputTokens   = 8191
	openAIHTTPTimeout      = 30 * time.Second
	openAIMaxRetries       = 2
)

// OpenAIConfig configures the OpenAI-compatible embedder.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // optional, for proxies such as LiteLLM
	Model      string
	Dimensions int
	MaxTokens  int
}

// OpenAIEmbedder calls the embeddings endpoint of an OpenAI-compatible API.
type OpenAIEmbedder struct {
	client     openai.Client
	truncator  *Truncator
	modelName  string
	dimensions int
}

// Compile-time check that OpenAIEmbedder implements Embedder.
var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder. APIKey is required.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai embedder")
	}
	if cfg.Model == "" {
		cfg.Model = OpenAIDefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = OpenAIDefaultDimension
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = OpenAIMaxInputTokens
	}

	truncator, err := NewTruncator(cfg.MaxTokens)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(openAIMaxRetries),
		option.WithRequestTimeout(openAIHTTPTimeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIEmbedder{
		client:     openai.NewClient(opts...),
		truncator:  truncator,
		modelName:  cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }
func (e *OpenAIEmbedder) Version() string { return e.modelName }

// Embed returns the embedding of text. Empty text is rejected; callers skip
// empty comments before scoring.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("embed: empty text")
	}

	input, truncated, err := e.truncator.Truncate(text)
	if err != nil {
		return nil, fmt.Errorf("truncate input: %w", err)
	}
	if truncated {
		log.Debug().
			Int("maxTokens", e.truncator.MaxTokens()).
			Int("bytes", len(text)).
			Msg("Embedding input truncated")
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(input)},
		Model:          e.modelName,
		Dimensions:     openai.Int(int64(e.dimensions)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request (model=%s): %w", e.modelName, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding API returned no results for model %s", e.modelName)
	}

	raw := resp.Data[0].Embedding
	if len(raw) != e.dimensions {
		return nil, fmt.Errorf("embedding API returned %d dimensions, want %d (model=%s)",
			len(raw), e.dimensions, e.modelName)
	}
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}
