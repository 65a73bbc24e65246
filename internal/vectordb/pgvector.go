package vectordb

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/ziadkadry99/insightpdf/internal/chunker"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// PgvectorIndex implements Index on a PostgreSQL table with the pgvector
// extension. Every write runs in one transaction holding an exclusive table
// lock, so writers are serialized and readers keep seeing the previous rows
// until it commits.
type PgvectorIndex struct {
	pool  *pgxpool.Pool
	table string
}

// NewPgvectorIndex connects to dsn and creates the chunk table if needed.
func NewPgvectorIndex(ctx context.Context, dsn, table string) (*PgvectorIndex, error) {
	if table == "" {
		table = DefaultCollection
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	idx := &PgvectorIndex{pool: pool, table: table}
	if err := idx.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return idx, nil
}

func (p *PgvectorIndex) ident() string {
	return pgx.Identifier{p.table}.Sanitize()
}

func (p *PgvectorIndex) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			sequence INTEGER NOT NULL,
			page INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector NOT NULL
		)`, p.ident()),
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *PgvectorIndex) Reset(ctx context.Context) error {
	return p.inTx(ctx, "reset", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "DELETE FROM "+p.ident())
		return err
	})
}

func (p *PgvectorIndex) Insert(ctx context.Context, chunks []chunker.Chunk, vectors [][]float32) error {
	if _, err := validatePairs("insert", chunks, vectors); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	return p.inTx(ctx, "insert", func(tx pgx.Tx) error {
		return p.insertRows(ctx, tx, chunks, vectors)
	})
}

func (p *PgvectorIndex) Replace(ctx context.Context, chunks []chunker.Chunk, vectors [][]float32) error {
	if _, err := validatePairs("replace", chunks, vectors); err != nil {
		return err
	}
	return p.inTx(ctx, "replace", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM "+p.ident()); err != nil {
			return err
		}
		return p.insertRows(ctx, tx, chunks, vectors)
	})
}

func (p *PgvectorIndex) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return &IndexWriteError{Op: op, Reason: "beginning transaction", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Writers run one at a time; EXCLUSIVE still admits readers.
	if _, err := tx.Exec(ctx, "LOCK TABLE "+p.ident()+" IN EXCLUSIVE MODE"); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &IndexWriteError{Op: op, Reason: "locking table", Err: err}
	}

	if err := fn(tx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &IndexWriteError{Op: op, Reason: "writing rows", Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &IndexWriteError{Op: op, Reason: "committing", Err: err}
	}
	return nil
}

func (p *PgvectorIndex) insertRows(ctx context.Context, tx pgx.Tx, chunks []chunker.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, sequence, page, content, embedding) VALUES ($1, $2, $3, $4, $5)`, p.ident())

	batch := &pgx.Batch{}
	for n, c := range chunks {
		batch.Queue(query, uuid.New(), c.Sequence, c.SourcePage, c.Text, pgvector.NewVector(vectors[n]))
	}
	return tx.SendBatch(ctx, batch).Close()
}

func (p *PgvectorIndex) Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return []SearchResult{}, nil
	}
	if len(vector) == 0 {
		return nil, errors.New("search: empty query vector")
	}

	query := fmt.Sprintf(`
		SELECT sequence, page, content, 1 - (embedding <=> $1) AS similarity
		FROM %s
		ORDER BY embedding <=> $1, sequence
		LIMIT $2`, p.ident())

	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector query: %w", err)
	}
	defer rows.Close()

	out := []SearchResult{}
	for rows.Next() {
		var (
			r   SearchResult
			sim float64
		)
		if err := rows.Scan(&r.Chunk.Sequence, &r.Chunk.SourcePage, &r.Chunk.Text, &sim); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.Similarity = float32(sim)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}
	return out, nil
}

func (p *PgvectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM "+p.ident()).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rows: %w", err)
	}
	return n, nil
}

func (p *PgvectorIndex) Close() error {
	p.pool.Close()
	return nil
}
