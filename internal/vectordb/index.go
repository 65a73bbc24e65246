package vectordb

import (
	"context"
	"fmt"

	"github.com/ziadkadry99/insightpdf/internal/chunker"
)

// Index stores chunk vectors for exactly one document at a time.
type Index interface {
	// Reset discards every stored entry. It succeeds when nothing exists yet.
	Reset(ctx context.Context) error

	// Insert adds index-aligned chunk/vector pairs to the current snapshot.
	Insert(ctx context.Context, chunks []chunker.Chunk, vectors [][]float32) error

	// Replace swaps the whole snapshot for the given pairs. Concurrent
	// searches see either the old snapshot or the new one, never a mix.
	Replace(ctx context.Context, chunks []chunker.Chunk, vectors [][]float32) error

	// Search returns up to k entries ordered by descending similarity, ties
	// in insertion order. An empty index yields an empty result.
	Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)

	Close() error
}

// SearchResult pairs a chunk with its similarity to the query.
type SearchResult struct {
	Chunk      chunker.Chunk
	Similarity float32
}

// IndexWriteError reports a shape mismatch or a storage failure.
type IndexWriteError struct {
	Op     string
	Reason string
	Err    error
}

func (e *IndexWriteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("index %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("index %s: %s", e.Op, e.Reason)
}

func (e *IndexWriteError) Unwrap() error { return e.Err }

// validatePairs checks that chunks and vectors line up and that every vector
// has the same non-zero dimension. It returns that dimension.
func validatePairs(op string, chunks []chunker.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, &IndexWriteError{
			Op:     op,
			Reason: fmt.Sprintf("%d chunks but %d vectors", len(chunks), len(vectors)),
		}
	}
	dims := 0
	for i, v := range vectors {
		if len(v) == 0 {
			return 0, &IndexWriteError{Op: op, Reason: fmt.Sprintf("vector %d is empty", i)}
		}
		if dims == 0 {
			dims = len(v)
		} else if len(v) != dims {
			return 0, &IndexWriteError{
				Op:     op,
				Reason: fmt.Sprintf("vector %d has %d dimensions, expected %d", i, len(v), dims),
			}
		}
	}
	return dims, nil
}
