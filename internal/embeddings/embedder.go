package embeddings

import (
	"context"
	"fmt"
)

// Embedder defines the interface for generating text embeddings.
type Embedder interface {
	// Embed generates embeddings for one or more texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the number of dimensions in the embedding vectors.
	Dimensions() int

	// Name returns the name/identifier of the embedding model.
	Name() string
}

// QueryEmbedder is implemented by embedders that use a distinct task type
// for search queries than for indexed documents.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingError reports a provider failure during vectorization.
type EmbeddingError struct {
	Model  string
	Reason string
	Err    error
}

func (e *EmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding with %s: %s: %v", e.Model, e.Reason, e.Err)
	}
	return fmt.Sprintf("embedding with %s: %s", e.Model, e.Reason)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// EmbedQuery embeds a single search query, preferring the embedder's query
// mode when it has one.
func EmbedQuery(ctx context.Context, e Embedder, text string) ([]float32, error) {
	if qe, ok := e.(QueryEmbedder); ok {
		vec, err := qe.EmbedQuery(ctx, text)
		if err != nil {
			return nil, wrap(e, "embedding query", err)
		}
		return vec, nil
	}

	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, wrap(e, "embedding query", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, &EmbeddingError{Model: e.Name(), Reason: "provider returned no vector for query"}
	}
	return vecs[0], nil
}

func wrap(e Embedder, reason string, err error) error {
	if err == nil {
		return nil
	}
	return &EmbeddingError{Model: e.Name(), Reason: reason, Err: err}
}
