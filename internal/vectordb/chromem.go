package vectordb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/ziadkadry99/insightpdf/internal/chunker"
)

const (
	// DefaultCollection is the chromem collection holding the document's chunks.
	DefaultCollection = "pdf_chunks"

	snapshotFile = "chromem.gob.gz"
	stagingFile  = "chromem.staging.gob.gz"

	metaPage     = "page"
	metaSequence = "sequence"
)

var errPrecomputedOnly = errors.New("chromem index stores precomputed embeddings only")

// noEmbed is installed as the collection's embedding func so that chromem
// never falls back to its default OpenAI embedder.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errPrecomputedOnly
}

// ChromemIndex implements Index on an in-memory chromem-go collection with
// a gob+gzip snapshot on disk. Writers build the next collection off-lock and
// swap it in under the write lock once the snapshot is durable.
type ChromemIndex struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	dir        string
	dims       int
}

// NewChromemIndex opens the index persisted under dir, or an empty one when
// no snapshot exists. An empty dir keeps the index in memory only.
func NewChromemIndex(dir, collection string) (*ChromemIndex, error) {
	if collection == "" {
		collection = DefaultCollection
	}

	db, col, err := newCollection(collection)
	if err != nil {
		return nil, err
	}

	idx := &ChromemIndex{db: db, collection: col, name: collection, dir: dir}
	if dir != "" {
		if err := idx.load(); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func newCollection(name string) (*chromem.DB, *chromem.Collection, error) {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(name, nil, noEmbed)
	if err != nil {
		return nil, nil, fmt.Errorf("create collection: %w", err)
	}
	return db, col, nil
}

func (i *ChromemIndex) snapshotPath() string { return filepath.Join(i.dir, snapshotFile) }

func (i *ChromemIndex) load() error {
	path := i.snapshotPath()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("accessing snapshot %s: %w", path, err)
	}

	db := chromem.NewDB()
	if err := db.ImportFromFile(path, ""); err != nil {
		return fmt.Errorf("import from file %s: %w", path, err)
	}

	col := db.GetCollection(i.name, noEmbed)
	if col == nil {
		var err error
		if col, err = db.GetOrCreateCollection(i.name, nil, noEmbed); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}

	i.db, i.collection = db, col
	if col.Count() > 0 {
		// Chunk 0 always exists after a full replace.
		if doc, err := col.GetByID(context.Background(), chunkID(0)); err == nil {
			i.dims = len(doc.Embedding)
		}
	}
	return nil
}

// persist atomically writes db as the on-disk snapshot. Callers hold mu.
func (i *ChromemIndex) persist(db *chromem.DB) error {
	if i.dir == "" {
		return nil
	}
	if err := os.MkdirAll(i.dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	staging := filepath.Join(i.dir, stagingFile)
	if err := db.ExportToFile(staging, true, ""); err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("export to file: %w", err)
	}
	if err := os.Rename(staging, i.snapshotPath()); err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("promoting snapshot: %w", err)
	}
	return nil
}

func (i *ChromemIndex) Reset(ctx context.Context) error {
	db, col, err := newCollection(i.name)
	if err != nil {
		return &IndexWriteError{Op: "reset", Reason: "creating collection", Err: err}
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.dir != "" {
		if err := os.Remove(i.snapshotPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &IndexWriteError{Op: "reset", Reason: "removing snapshot", Err: err}
		}
	}
	i.db, i.collection, i.dims = db, col, 0
	return nil
}

func (i *ChromemIndex) Insert(ctx context.Context, chunks []chunker.Chunk, vectors [][]float32) error {
	dims, err := validatePairs("insert", chunks, vectors)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.dims != 0 && i.collection.Count() > 0 && dims != i.dims {
		return &IndexWriteError{
			Op:     "insert",
			Reason: fmt.Sprintf("vectors have %d dimensions, index has %d", dims, i.dims),
		}
	}

	docs := toDocuments(chunks, vectors)
	if id, ok := i.duplicateID(ctx, docs); ok {
		return &IndexWriteError{Op: "insert", Reason: fmt.Sprintf("chunk %s already exists", id)}
	}
	if err := i.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		i.rollback(docs)
		return &IndexWriteError{Op: "insert", Reason: "adding documents", Err: err}
	}
	if err := i.persist(i.db); err != nil {
		i.rollback(docs)
		return &IndexWriteError{Op: "insert", Reason: "writing snapshot", Err: err}
	}

	i.dims = dims
	return nil
}

// duplicateID returns an ID that docs repeat or that is already stored.
// chromem overwrites on ID collision, so such an insert would silently
// replace chunks and a rollback would then delete the originals.
func (i *ChromemIndex) duplicateID(ctx context.Context, docs []chromem.Document) (string, bool) {
	seen := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		if _, ok := seen[d.ID]; ok {
			return d.ID, true
		}
		seen[d.ID] = struct{}{}
		if _, err := i.collection.GetByID(ctx, d.ID); err == nil {
			return d.ID, true
		}
	}
	return "", false
}

func (i *ChromemIndex) rollback(docs []chromem.Document) {
	ids := make([]string, len(docs))
	for n, d := range docs {
		ids[n] = d.ID
	}
	_ = i.collection.Delete(context.Background(), nil, nil, ids...)
}

func (i *ChromemIndex) Replace(ctx context.Context, chunks []chunker.Chunk, vectors [][]float32) error {
	dims, err := validatePairs("replace", chunks, vectors)
	if err != nil {
		return err
	}

	db, col, err := newCollection(i.name)
	if err != nil {
		return &IndexWriteError{Op: "replace", Reason: "creating collection", Err: err}
	}
	if len(chunks) > 0 {
		if err := col.AddDocuments(ctx, toDocuments(chunks, vectors), runtime.NumCPU()); err != nil {
			return &IndexWriteError{Op: "replace", Reason: "staging documents", Err: err}
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	// A caller that gave up while staging keeps the previous snapshot.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := i.persist(db); err != nil {
		return &IndexWriteError{Op: "replace", Reason: "writing snapshot", Err: err}
	}

	i.db, i.collection, i.dims = db, col, dims
	return nil
}

func (i *ChromemIndex) Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return []SearchResult{}, nil
	}
	if len(vector) == 0 {
		return nil, errors.New("search: empty query vector")
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	count := i.collection.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	if i.dims != 0 && len(vector) != i.dims {
		return nil, fmt.Errorf("search: query has %d dimensions, index has %d", len(vector), i.dims)
	}

	// Every entry is scored so that ties at the k boundary resolve by
	// sequence rather than by chromem's internal ordering.
	results, err := i.collection.QueryEmbedding(ctx, vector, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]SearchResult, len(results))
	for n, r := range results {
		out[n] = SearchResult{Chunk: fromMetadata(r.Content, r.Metadata), Similarity: r.Similarity}
	}
	sortResults(out)

	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (i *ChromemIndex) Count(ctx context.Context) (int, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.collection.Count(), nil
}

// Dimensions returns the vector size of the stored snapshot, 0 when unknown.
func (i *ChromemIndex) Dimensions() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.dims
}

func (i *ChromemIndex) Close() error { return nil }

func chunkID(seq int) string { return "chunk-" + strconv.Itoa(seq) }

func toDocuments(chunks []chunker.Chunk, vectors [][]float32) []chromem.Document {
	docs := make([]chromem.Document, len(chunks))
	for n, c := range chunks {
		emb := make([]float32, len(vectors[n]))
		copy(emb, vectors[n])
		docs[n] = chromem.Document{
			ID:        chunkID(c.Sequence),
			Content:   c.Text,
			Embedding: emb,
			Metadata: map[string]string{
				metaPage:     strconv.Itoa(c.SourcePage),
				metaSequence: strconv.Itoa(c.Sequence),
			},
		}
	}
	return docs
}

func fromMetadata(content string, m map[string]string) chunker.Chunk {
	page, _ := strconv.Atoi(m[metaPage])
	seq, _ := strconv.Atoi(m[metaSequence])
	return chunker.Chunk{Text: content, SourcePage: page, Sequence: seq}
}

func sortResults(rs []SearchResult) {
	sort.SliceStable(rs, func(a, b int) bool {
		if rs[a].Similarity != rs[b].Similarity {
			return rs[a].Similarity > rs[b].Similarity
		}
		return rs[a].Chunk.Sequence < rs[b].Chunk.Sequence
	})
}
