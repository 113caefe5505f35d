// Package runlog keeps a SQLite history of sync runs so failures can be
// inspected after the process exits.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/divyekant/llm-bucket/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	total       INTEGER NOT NULL,
	failed      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS run_sources (
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position      INTEGER NOT NULL,
	key           TEXT NOT NULL,
	source        TEXT NOT NULL,
	kind          TEXT NOT NULL,
	success       INTEGER NOT NULL,
	stage         TEXT,
	error_kind    TEXT,
	error         TEXT,
	artifact_path TEXT,
	revision      TEXT,
	files         INTEGER NOT NULL DEFAULT 0,
	uploaded      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, position)
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);
`

// timeFormat has fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one recorded sync.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Failed     int       `json:"failed"`
}

// SourceRow is one source's outcome within a run.
type SourceRow struct {
	Position     int    `json:"position"`
	Key          string `json:"key"`
	Source       string `json:"source"`
	Kind         string `json:"kind"`
	Success      bool   `json:"success"`
	Stage        string `json:"stage,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Error        string `json:"error,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	Revision     string `json:"revision,omitempty"`
	Files        int    `json:"files"`
	Uploaded     bool   `json:"uploaded"`
}

// Store is a run history database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("runlog: create directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("runlog: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("runlog: create schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Record stores a run report.
func (s *Store) Record(ctx context.Context, r *pipeline.RunReport) error {
	if r == nil {
		return errors.New("runlog: nil report")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("runlog: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, total, failed)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID.String(),
		r.StartedAt.UTC().Format(timeFormat),
		r.FinishedAt.UTC().Format(timeFormat),
		len(r.Sources),
		len(r.Failures()))
	if err != nil {
		return fmt.Errorf("runlog: insert run: %w", err)
	}

	for i, src := range r.Sources {
		var stage, kind, msg any
		if f := src.Result.Failure; f != nil {
			stage, kind, msg = f.Stage.String(), f.ErrorKind, f.Message
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_sources (run_id, position, key, source, kind, success, stage, error_kind, error, artifact_path, revision, files, uploaded)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID.String(), i, src.Key, src.Source, string(src.Kind),
			boolToInt(src.Result.Success()), stage, kind, msg,
			nullString(src.Result.ArtifactPath), nullString(src.Revision),
			src.Files, boolToInt(src.Uploaded))
		if err != nil {
			return fmt.Errorf("runlog: insert source %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("runlog: commit: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, total, failed
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("runlog: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Total, &r.Failed); err != nil {
			return nil, fmt.Errorf("runlog: scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runlog: iterate runs: %w", err)
	}
	return runs, nil
}

// Sources returns the per-source rows of a run in configuration order.
func (s *Store) Sources(ctx context.Context, runID string) ([]SourceRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, key, source, kind, success, stage, error_kind, error, artifact_path, revision, files, uploaded
		FROM run_sources
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("runlog: query sources: %w", err)
	}
	defer rows.Close()

	var out []SourceRow
	for rows.Next() {
		var (
			row                                  SourceRow
			success, uploaded                    int
			stage, kind, msg, artifact, revision sql.NullString
		)
		if err := rows.Scan(&row.Position, &row.Key, &row.Source, &row.Kind, &success,
			&stage, &kind, &msg, &artifact, &revision, &row.Files, &uploaded); err != nil {
			return nil, fmt.Errorf("runlog: scan source: %w", err)
		}
		row.Success = success == 1
		row.Uploaded = uploaded == 1
		row.Stage = stage.String
		row.ErrorKind = kind.String
		row.Error = msg.String
		row.ArtifactPath = artifact.String
		row.Revision = revision.String
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runlog: iterate sources: %w", err)
	}
	return out, nil
}

// Prune deletes all but the keep most recent runs.
func (s *Store) Prune(ctx context.Context, keep int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC LIMIT ?)
	`, keep)
	if err != nil {
		return fmt.Errorf("runlog: prune: %w", err)
	}
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
