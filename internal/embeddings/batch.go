package embeddings

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

const defaultBatchSize = 100

// BatchOptions controls how EmbedDocuments fans out work to the provider.
type BatchOptions struct {
	BatchSize   int
	Concurrency int
	// OnProgress is called after every finished batch. Calls are serialized.
	OnProgress func(done, total int)
}

// EmbedDocuments embeds texts in batches with bounded concurrency. The
// result is index-aligned with texts. Any failed batch cancels the rest.
func EmbedDocuments(ctx context.Context, e Embedder, texts []string, opts BatchOptions) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	out := make([][]float32, len(texts))
	total := len(texts)

	var (
		progressMu sync.Mutex
		done       int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for start := 0; start < total; start += batchSize {
		lo, hi := start, min(start+batchSize, total)
		g.Go(func() error {
			vecs, err := e.Embed(gctx, texts[lo:hi])
			if err != nil {
				return wrap(e, fmt.Sprintf("embedding texts %d-%d", lo, hi-1), err)
			}
			if len(vecs) != hi-lo {
				return &EmbeddingError{
					Model:  e.Name(),
					Reason: fmt.Sprintf("provider returned %d vectors for %d texts", len(vecs), hi-lo),
				}
			}
			for i, v := range vecs {
				if len(v) == 0 {
					return &EmbeddingError{Model: e.Name(), Reason: fmt.Sprintf("empty vector for text %d", lo+i)}
				}
				out[lo+i] = v
			}

			if opts.OnProgress != nil {
				progressMu.Lock()
				done += hi - lo
				opts.OnProgress(done, total)
				progressMu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
