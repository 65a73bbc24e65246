package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IngestionStatus is the lifecycle state of an ingestion record.
type IngestionStatus string

const (
	StatusRunning   IngestionStatus = "running"
	StatusSucceeded IngestionStatus = "succeeded"
	StatusFailed    IngestionStatus = "failed"
)

// timeLayout is fixed-width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Ingestion is the audit record of one document upload.
type Ingestion struct {
	ID         string          `json:"id"`
	Filename   string          `json:"filename"`
	SHA256     string          `json:"sha256"`
	SizeBytes  int64           `json:"size_bytes"`
	PageCount  int             `json:"page_count"`
	ChunkCount int             `json:"chunk_count"`
	Status     IngestionStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// IngestionStore records ingestion attempts.
type IngestionStore struct {
	db  *DB
	now func() time.Time
}

// NewIngestionStore creates a store backed by the given database.
func NewIngestionStore(database *DB) *IngestionStore {
	return &IngestionStore{db: database, now: time.Now}
}

func (s *IngestionStore) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

// Begin inserts a running record and returns its ID.
func (s *IngestionStore) Begin(ctx context.Context, filename, sha256 string, size int64) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestions (id, filename, sha256, size_bytes, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, filename, sha256, size, string(StatusRunning), s.timestamp(),
	)
	if err != nil {
		return "", fmt.Errorf("inserting ingestion: %w", err)
	}
	return id, nil
}

// Succeed marks a record as finished with its page and chunk counts.
func (s *IngestionStore) Succeed(ctx context.Context, id string, pages, chunks int) error {
	return s.finish(ctx, `
		UPDATE ingestions SET status = ?, page_count = ?, chunk_count = ?, finished_at = ?
		WHERE id = ?`,
		string(StatusSucceeded), pages, chunks, s.timestamp(), id,
	)
}

// Fail marks a record as failed with the given reason.
func (s *IngestionStore) Fail(ctx context.Context, id, reason string) error {
	return s.finish(ctx, `
		UPDATE ingestions SET status = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		string(StatusFailed), reason, s.timestamp(), id,
	)
}

func (s *IngestionStore) finish(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating ingestion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating ingestion: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("ingestion %v: %w", args[len(args)-1], ErrNotFound)
	}
	return nil
}

const ingestionColumns = `id, filename, sha256, size_bytes, page_count, chunk_count, status, error, started_at, finished_at`

// Get returns one record by ID.
func (s *IngestionStore) Get(ctx context.Context, id string) (*Ingestion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ingestionColumns+` FROM ingestions WHERE id = ?`, id)
	ing, err := scanIngestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ingestion %s: %w", id, ErrNotFound)
	}
	return ing, err
}

// Latest returns the most recent successful ingestion, which describes the
// document currently indexed. It returns ErrNotFound when there is none.
func (s *IngestionStore) Latest(ctx context.Context) (*Ingestion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ingestionColumns+` FROM ingestions
		WHERE status = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1`, string(StatusSucceeded))
	ing, err := scanIngestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ing, err
}

// List returns up to limit records, newest first.
func (s *IngestionStore) List(ctx context.Context, limit int) ([]Ingestion, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ingestionColumns+` FROM ingestions
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying ingestions: %w", err)
	}
	defer rows.Close()

	var out []Ingestion
	for rows.Next() {
		ing, err := scanIngestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ing)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIngestion(sc scanner) (*Ingestion, error) {
	var (
		ing      Ingestion
		status   string
		started  string
		finished sql.NullString
	)
	err := sc.Scan(
		&ing.ID, &ing.Filename, &ing.SHA256, &ing.SizeBytes,
		&ing.PageCount, &ing.ChunkCount, &status, &ing.Error,
		&started, &finished,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning ingestion: %w", err)
	}

	ing.Status = IngestionStatus(status)
	if t, parseErr := time.Parse(timeLayout, started); parseErr == nil {
		ing.StartedAt = t
	}
	if finished.Valid {
		if t, parseErr := time.Parse(timeLayout, finished.String); parseErr == nil {
			ing.FinishedAt = &t
		}
	}
	return &ing, nil
}
