package intent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// HITL request states.
const (
	HITLQueued   = "queued"
	HITLApproved = "approved"
	HITLRejected = "rejected"
	HITLExpired  = "expired"
)

// HITLRequest is one queued human review item.
type HITLRequest struct {
	ID        string         `json:"request_id"`
	CreatedAt time.Time      `json:"created_at"`
	Status    string         `json:"status"`
	Payload   map[string]any `json:"payload"`
}

// HITLQueue persists human review requests for ambiguous or high-risk
// intents.
type HITLQueue struct {
	db      *sql.DB
	enabled bool
	logger  *slog.Logger
}

// HITLConfig configures the review queue.
type HITLConfig struct {
	// Enabled toggles enqueueing; when off, Enqueue is a no-op.
	Enabled bool

	// Path is the SQLite database file path.
	Path string
}

// NewHITLQueue opens (and if needed creates) the queue database.
func NewHITLQueue(cfg HITLConfig) (*HITLQueue, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("hitl queue path cannot be empty")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create hitl directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open hitl queue: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	q := &HITLQueue{
		db:      db,
		enabled: cfg.Enabled,
		logger:  slog.Default().With("component", "intent.hitl"),
	}
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS hitl_queue (
		request_id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		payload_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_hitl_status ON hitl_queue(status);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize hitl schema: %w", err)
	}
	return q, nil
}

// Enqueue inserts a queued review request. Returns nil when disabled.
func (q *HITLQueue) Enqueue(ctx context.Context, payload map[string]any) (*HITLRequest, error) {
	if !q.enabled {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode hitl payload: %w", err)
	}
	req := &HITLRequest{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Status:    HITLQueued,
		Payload:   payload,
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO hitl_queue (request_id, created_at, status, payload_json) VALUES (?, ?, ?, ?)`,
		req.ID, req.CreatedAt, req.Status, string(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue hitl request: %w", err)
	}
	q.logger.InfoContext(ctx, "hitl request queued", "request_id", req.ID)
	return req, nil
}

// Get returns a request by id.
func (q *HITLQueue) Get(ctx context.Context, id string) (*HITLRequest, error) {
	var req HITLRequest
	var payloadJSON string
	err := q.db.QueryRowContext(ctx,
		`SELECT request_id, created_at, status, payload_json FROM hitl_queue WHERE request_id = ?`,
		id,
	).Scan(&req.ID, &req.CreatedAt, &req.Status, &payloadJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("hitl request %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query hitl request: %w", err)
	}
	if err := json.Unmarshal([]byte(payloadJSON), &req.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode hitl payload: %w", err)
	}
	return &req, nil
}

// Resolve transitions a queued request to approved or rejected.
func (q *HITLQueue) Resolve(ctx context.Context, id, status string) error {
	if status != HITLApproved && status != HITLRejected {
		return fmt.Errorf("invalid hitl resolution %q", status)
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE hitl_queue SET status = ? WHERE request_id = ? AND status = ?`,
		status, id, HITLQueued,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve hitl request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("hitl request %s is not queued", id)
	}
	q.logger.InfoContext(ctx, "hitl request resolved", "request_id", id, "status", status)
	return nil
}

// ListPending returns queued requests oldest first, up to limit.
func (q *HITLQueue) ListPending(ctx context.Context, limit int) ([]HITLRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT request_id, created_at, status, payload_json FROM hitl_queue
		 WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		HITLQueued, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list hitl requests: %w", err)
	}
	defer rows.Close()

	var out []HITLRequest
	for rows.Next() {
		var req HITLRequest
		var payloadJSON string
		if err := rows.Scan(&req.ID, &req.CreatedAt, &req.Status, &payloadJSON); err != nil {
			return nil, fmt.Errorf("failed to scan hitl request: %w", err)
		}
		if err := json.Unmarshal([]byte(payloadJSON), &req.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode hitl payload: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Close closes the queue database.
func (q *HITLQueue) Close() error {
	return q.db.Close()
}
