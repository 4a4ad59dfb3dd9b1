package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "instance/trace.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage creates a new SQLite storage backend. It creates the
// parent directory and database schema as needed and enables WAL mode if
// configured.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "trace.storage.sqlite")

	if dir := filepath.Dir(config.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create trace db directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace db: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &SQLiteStorage{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("trace storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)

	return s, nil
}

// initialize sets up the database schema and pragmas.
func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		if _, err := s.db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
			return fmt.Errorf("failed to set synchronous mode: %w", err)
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return nil
}

// CreateTrace persists a new open trace.
func (s *SQLiteStorage) CreateTrace(ctx context.Context, rec TraceRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO traces (id, created_at, status, metadata_json) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.CreatedAt.UTC(), rec.Status, string(rec.MetadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trace: %w", err)
	}
	return nil
}

// GetTrace returns a trace by id.
func (s *SQLiteStorage) GetTrace(ctx context.Context, traceID string) (TraceRecord, error) {
	var rec TraceRecord
	var metadata string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, status, metadata_json FROM traces WHERE id = ?`,
		traceID,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.Status, &metadata)
	if err == sql.ErrNoRows {
		return TraceRecord{}, ErrTraceNotFound
	}
	if err != nil {
		return TraceRecord{}, fmt.Errorf("failed to query trace: %w", err)
	}
	rec.MetadataJSON = []byte(metadata)
	return rec, nil
}

// SetTraceStatus updates the terminal status of a trace.
func (s *SQLiteStorage) SetTraceStatus(ctx context.Context, traceID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE traces SET status = ? WHERE id = ?`, status, traceID,
	)
	if err != nil {
		return fmt.Errorf("failed to update trace status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTraceNotFound
	}
	return nil
}

// AppendStep persists a step. The (trace_id, position) primary key rejects
// duplicate positions, which surfaces ledger serialization bugs as errors
// instead of silent overwrites.
func (s *SQLiteStorage) AppendStep(ctx context.Context, rec StepRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trace_steps (trace_id, position, step_type, step_json, created_at, event_hash, chain_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, rec.Position, rec.StepType, string(rec.PayloadJSON),
		rec.CreatedAt.UTC(), rec.EventHash, rec.ChainHash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trace step: %w", err)
	}
	return nil
}

// LastStep returns the highest-position step of a trace.
func (s *SQLiteStorage) LastStep(ctx context.Context, traceID string) (StepRecord, bool, error) {
	rec, err := s.scanStep(s.db.QueryRowContext(ctx,
		`SELECT trace_id, position, step_type, step_json, created_at, event_hash, chain_hash
		 FROM trace_steps WHERE trace_id = ? ORDER BY position DESC LIMIT 1`,
		traceID,
	))
	if err == sql.ErrNoRows {
		return StepRecord{}, false, nil
	}
	if err != nil {
		return StepRecord{}, false, fmt.Errorf("failed to query last step: %w", err)
	}
	return rec, true, nil
}

// ListSteps returns all steps of a trace ordered by position.
func (s *SQLiteStorage) ListSteps(ctx context.Context, traceID string) ([]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trace_id, position, step_type, step_json, created_at, event_hash, chain_hash
		 FROM trace_steps WHERE trace_id = ? ORDER BY position ASC`,
		traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()
	return collectSteps(rows)
}

// RecentSteps returns up to limit steps across traces, newest first.
func (s *SQLiteStorage) RecentSteps(ctx context.Context, limit int, stepTypes []string) ([]StepRecord, error) {
	query := `SELECT trace_id, position, step_type, step_json, created_at, event_hash, chain_hash
		 FROM trace_steps`
	args := make([]any, 0, len(stepTypes)+1)
	if len(stepTypes) > 0 {
		placeholders := strings.Repeat("?,", len(stepTypes))
		query += ` WHERE step_type IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, t := range stepTypes {
			args = append(args, t)
		}
	}
	query += ` ORDER BY created_at DESC, position DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent steps: %w", err)
	}
	defer rows.Close()
	return collectSteps(rows)
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStorage) scanStep(row rowScanner) (StepRecord, error) {
	var rec StepRecord
	var payload string
	err := row.Scan(&rec.TraceID, &rec.Position, &rec.StepType, &payload,
		&rec.CreatedAt, &rec.EventHash, &rec.ChainHash)
	if err != nil {
		return StepRecord{}, err
	}
	rec.PayloadJSON = []byte(payload)
	return rec, nil
}

func collectSteps(rows *sql.Rows) ([]StepRecord, error) {
	var steps []StepRecord
	for rows.Next() {
		var rec StepRecord
		var payload string
		if err := rows.Scan(&rec.TraceID, &rec.Position, &rec.StepType, &payload,
			&rec.CreatedAt, &rec.EventHash, &rec.ChainHash); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		rec.PayloadJSON = []byte(payload)
		steps = append(steps, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}
	return steps, nil
}
