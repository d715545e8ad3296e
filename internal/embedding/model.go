// Package embedding provides text embedding generation for comment scoring.
package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Embedder turns normalized text into a fixed-length vector.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// Version returns a short model identifier for logs and health output.
	Version() string
}

// Truncator caps text at a token budget before it reaches the embedding API.
// Inputs above the model's context window are rejected upstream, so long
// comment threads are cut at the budget instead of failing.
type Truncator struct {
	codec     tokenizer.Codec
	maxTokens int
	mu        sync.Mutex
}

// NewTruncator builds a cl100k_base truncator with the given budget.
func NewTruncator(maxTokens int) (*Truncator, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("max tokens must be positive, got %d", maxTokens)
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &Truncator{codec: codec, maxTokens: maxTokens}, nil
}

// Truncate returns text unchanged when it fits the budget, otherwise the
// decoded prefix of maxTokens tokens. The second return reports truncation.
func (t *Truncator) Truncate(text string) (string, bool, error) {
	// Fast path: a token is never shorter than one byte.
	if len(text) <= t.maxTokens {
		return text, false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return "", false, fmt.Errorf("encode: %w", err)
	}
	if len(ids) <= t.maxTokens {
		return text, false, nil
	}
	out, err := t.codec.Decode(ids[:t.maxTokens])
	if err != nil {
		return "", false, fmt.Errorf("decode: %w", err)
	}
	return out, true, nil
}

// MaxTokens returns the configured budget.
func (t *Truncator) MaxTokens() int { return t.maxTokens }
