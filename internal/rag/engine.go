package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ziadkadry99/insightpdf/internal/chunker"
	"github.com/ziadkadry99/insightpdf/internal/embeddings"
	"github.com/ziadkadry99/insightpdf/internal/extract"
	"github.com/ziadkadry99/insightpdf/internal/llm"
	"github.com/ziadkadry99/insightpdf/internal/vectordb"
)

// State describes whether a document is currently indexed.
type State string

const (
	StateEmpty   State = "EMPTY"
	StateIndexed State = "INDEXED"
)

// DefaultTopK is the number of chunks retrieved per question.
const DefaultTopK = 3

// Recorder keeps an audit trail of ingestions. Failures to record are
// logged and never fail the ingestion itself.
type Recorder interface {
	Begin(ctx context.Context, filename, sha256 string, size int64) (string, error)
	Succeed(ctx context.Context, id string, pages, chunks int) error
	Fail(ctx context.Context, id, reason string) error
}

// Options tunes retrieval and generation.
type Options struct {
	TopK          int
	MinSimilarity float32
	Fallback      string
	Generation    Generation
	Batch         embeddings.BatchOptions
	History       HistoryBudget
}

// DefaultOptions returns the settings the service ships with.
func DefaultOptions() Options {
	return Options{
		TopK:       DefaultTopK,
		Fallback:   DefaultFallbackAnswer,
		Generation: Generation{Temperature: 0, MaxTokens: 1024},
		Batch:      embeddings.BatchOptions{BatchSize: 100, Concurrency: 4},
		History:    HistoryBudget{MaxTurns: 20, MaxTokens: 4000},
	}
}

// Config wires an Engine. Embedder, Index and Primary are required.
type Config struct {
	Extractor extract.Extractor
	Splitter  *chunker.Splitter
	Embedder  embeddings.Embedder
	Index     vectordb.Index
	Primary   llm.Provider
	Secondary ProviderFactory
	Recorder  Recorder
	Logger    zerolog.Logger
	Options   Options
}

// Engine is the RAG orchestrator. One Engine serves every request; it holds
// no per-request state.
type Engine struct {
	extractor      extract.Extractor
	splitter       *chunker.Splitter
	embedder       embeddings.Embedder
	index          vectordb.Index
	failover       *Failover
	contextualizer Contextualizer
	synthesizer    Synthesizer
	recorder       Recorder
	opts           Options
	logger         zerolog.Logger
}

// NewEngine validates cfg and builds an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Embedder == nil {
		return nil, errors.New("rag: embedder is required")
	}
	if cfg.Index == nil {
		return nil, errors.New("rag: index is required")
	}
	if cfg.Primary == nil {
		return nil, errors.New("rag: primary provider is required")
	}
	if cfg.Extractor == nil {
		cfg.Extractor = extract.NewPDFExtractor()
	}
	if cfg.Splitter == nil {
		cfg.Splitter = chunker.Default()
	}

	opts := cfg.Options
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.Fallback == "" {
		opts.Fallback = DefaultFallbackAnswer
	}

	return &Engine{
		extractor:      cfg.Extractor,
		splitter:       cfg.Splitter,
		embedder:       cfg.Embedder,
		index:          cfg.Index,
		failover:       NewFailover(cfg.Primary, cfg.Secondary, cfg.Logger),
		contextualizer: Contextualizer{Generation: opts.Generation},
		synthesizer:    Synthesizer{Generation: opts.Generation, Fallback: opts.Fallback},
		recorder:       cfg.Recorder,
		opts:           opts,
		logger:         cfg.Logger,
	}, nil
}

// Fallback returns the configured "not in the document" answer.
func (e *Engine) Fallback() string { return e.opts.Fallback }

// IngestResult summarizes a successful ingestion.
type IngestResult struct {
	ID         string
	ChunkCount int
	PageCount  int
	Duration   time.Duration
}

type ingestSettings struct {
	filename   string
	onProgress func(done, total int)
}

// IngestOption customizes a single Ingest call.
type IngestOption func(*ingestSettings)

// WithFilename records the uploaded file name in the audit trail.
func WithFilename(name string) IngestOption {
	return func(s *ingestSettings) { s.filename = name }
}

// WithProgress reports embedding progress as chunks complete.
func WithProgress(fn func(done, total int)) IngestOption {
	return func(s *ingestSettings) { s.onProgress = fn }
}

// Ingest replaces the indexed document with data. All extraction, chunking
// and embedding happens before the index is touched, so a failure at any
// step leaves the previous document searchable.
func (e *Engine) Ingest(ctx context.Context, data []byte, opts ...IngestOption) (*IngestResult, error) {
	settings := ingestSettings{filename: "document.pdf"}
	for _, o := range opts {
		o(&settings)
	}

	started := time.Now()
	log := e.logger.With().Str("filename", settings.filename).Int("bytes", len(data)).Logger()
	recordID := e.recordBegin(ctx, log, settings.filename, data)

	fail := func(reason string, err error) (*IngestResult, error) {
		ierr := &IngestionError{Reason: reason, Err: err}
		log.Error().Err(ierr).Msg("ingestion failed")
		e.recordFail(ctx, log, recordID, ierr.Error())
		return nil, ierr
	}

	pages, err := e.extractor.Extract(ctx, data)
	if err != nil {
		return fail("extracting text", err)
	}
	if len(pages) == 0 {
		return fail("document has no pages", nil)
	}

	chunks := e.splitter.Split(pages)
	if len(chunks) == 0 {
		return fail("document contains no extractable text", nil)
	}
	log.Info().Int("pages", len(pages)).Int("chunks", len(chunks)).Msg("document split")

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	batch := e.opts.Batch
	batch.OnProgress = settings.onProgress
	vectors, err := embeddings.EmbedDocuments(ctx, e.embedder, texts, batch)
	if err != nil {
		return fail("embedding chunks", err)
	}

	if err := e.index.Replace(ctx, chunks, vectors); err != nil {
		return fail("writing index", err)
	}

	res := &IngestResult{
		ID:         recordID,
		ChunkCount: len(chunks),
		PageCount:  len(pages),
		Duration:   time.Since(started),
	}
	if e.recorder != nil && recordID != "" {
		if err := e.recorder.Succeed(ctx, recordID, res.PageCount, res.ChunkCount); err != nil {
			log.Warn().Err(err).Msg("recording ingestion result")
		}
	}
	log.Info().Int("chunks", res.ChunkCount).Dur("took", res.Duration).Msg("document indexed")
	return res, nil
}

func (e *Engine) recordBegin(ctx context.Context, log zerolog.Logger, filename string, data []byte) string {
	if e.recorder == nil {
		return ""
	}
	sum := sha256.Sum256(data)
	id, err := e.recorder.Begin(ctx, filename, hex.EncodeToString(sum[:]), int64(len(data)))
	if err != nil {
		log.Warn().Err(err).Msg("recording ingestion start")
		return ""
	}
	return id
}

func (e *Engine) recordFail(ctx context.Context, log zerolog.Logger, id, reason string) {
	if e.recorder == nil || id == "" {
		return
	}
	// The request context may be the reason for the failure.
	if err := e.recorder.Fail(context.WithoutCancel(ctx), id, reason); err != nil {
		log.Warn().Err(err).Msg("recording ingestion failure")
	}
}

// Answer is the response to a question. SourcePages are 1-indexed.
type Answer struct {
	Text               string
	SourcePages        []int
	Question           string
	StandaloneQuestion string
	Model              string
	Context            []vectordb.SearchResult
}

// Answer contextualizes question against history, retrieves supporting
// chunks and synthesizes a grounded answer. A question the document cannot
// answer yields the fallback text with no source pages.
func (e *Engine) Answer(ctx context.Context, question string, history []Turn) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, &SynthesisError{Reason: "question is empty"}
	}
	history = e.opts.History.Trim(history)

	var answer *Answer
	err := e.failover.Do(ctx, func(ctx context.Context, p llm.Provider) error {
		a, err := e.answerWith(ctx, p, question, history)
		if err != nil {
			return err
		}
		answer = a
		return nil
	})
	if err != nil {
		return nil, &SynthesisError{Reason: "answering question", Err: err}
	}
	return answer, nil
}

func (e *Engine) answerWith(ctx context.Context, p llm.Provider, question string, history []Turn) (*Answer, error) {
	standalone, err := e.contextualizer.Contextualize(ctx, p, question, history)
	if err != nil {
		return nil, err
	}

	results, err := e.retrieve(ctx, standalone)
	if err != nil {
		return nil, err
	}

	chunks := make([]chunker.Chunk, len(results))
	for i, r := range results {
		chunks[i] = r.Chunk
	}

	syn, err := e.synthesizer.Synthesize(ctx, p, standalone, chunks, history)
	if err != nil {
		return nil, err
	}

	pages := make([]int, len(syn.SourcePages))
	for i, pg := range syn.SourcePages {
		pages[i] = pg + 1
	}

	model := syn.Model
	if model == "" {
		model = llm.Model(p)
	}
	e.logger.Debug().
		Str("provider", p.Name()).
		Str("model", model).
		Int("retrieved", len(results)).
		Ints("source_pages", pages).
		Int("input_tokens", syn.InputTokens).
		Int("output_tokens", syn.OutputTokens).
		Float64("est_cost_usd", llm.EstimateCost(model, syn.InputTokens, syn.OutputTokens)).
		Msg("question answered")

	return &Answer{
		Text:               syn.Answer,
		SourcePages:        pages,
		Question:           question,
		StandaloneQuestion: standalone,
		Model:              model,
		Context:            results,
	}, nil
}

// retrieve embeds the query and returns the top chunks above the
// similarity floor.
func (e *Engine) retrieve(ctx context.Context, query string) ([]vectordb.SearchResult, error) {
	vec, err := embeddings.EmbedQuery(ctx, e.embedder, query)
	if err != nil {
		return nil, err
	}
	results, err := e.index.Search(ctx, vec, e.opts.TopK)
	if err != nil {
		return nil, err
	}
	if e.opts.MinSimilarity <= 0 {
		return results, nil
	}

	kept := results[:0]
	for _, r := range results {
		if r.Similarity >= e.opts.MinSimilarity {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// Status reports the current index state.
type Status struct {
	State      State
	ChunkCount int
}

// Status derives the state from the index, so it survives restarts.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	n, err := e.index.Count(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{State: StateEmpty, ChunkCount: n}
	if n > 0 {
		st.State = StateIndexed
	}
	return st, nil
}

// Reset discards the indexed document.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.index.Reset(ctx); err != nil {
		return err
	}
	e.logger.Info().Msg("index reset")
	return nil
}
