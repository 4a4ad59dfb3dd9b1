package approval

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// StoreConfig configures the approval store.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string

	// TTL is the default approval lifetime. Default: 15 minutes
	TTL time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// Store persists approvals in SQLite. Validation and consumption run inside
// a single transaction so a token observed as pending cannot be consumed
// twice.
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewStore opens (and if needed creates) the approval database.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("approval db path cannot be empty")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create approval db directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.Path, int(cfg.BusyTimeout.Milliseconds()))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open approval db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports a single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:     db,
		ttl:    cfg.TTL,
		logger: slog.Default().With("component", "approval.store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize approval schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS tool_approvals (
		approval_id TEXT PRIMARY KEY,
		tool_name TEXT NOT NULL,
		args_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		consumed_at TIMESTAMP,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_approvals_status ON tool_approvals(status, expires_at);
	`)
	return err
}

// Issue grants a pending approval for one tool call. ttl <= 0 selects the
// store default.
func (s *Store) Issue(ctx context.Context, toolName string, args map[string]any, ttl time.Duration) (Approval, error) {
	argsHash, err := HashArgs(args)
	if err != nil {
		return Approval{}, err
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now()
	a := Approval{
		ID:        uuid.NewString(),
		ToolName:  toolName,
		ArgsHash:  argsHash,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Status:    StatusPending,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tool_approvals (approval_id, tool_name, args_hash, created_at, expires_at, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.ToolName, a.ArgsHash, a.CreatedAt, a.ExpiresAt, a.Status,
	)
	if err != nil {
		return Approval{}, fmt.Errorf("failed to insert approval: %w", err)
	}

	s.logger.InfoContext(ctx, "approval issued",
		"approval_id", a.ID,
		"tool", toolName,
		"expires_at", a.ExpiresAt,
	)
	return a, nil
}

// ValidateAndConsume atomically checks a token against a tool call and marks
// it consumed on success. All checks and the state transition happen inside
// one transaction; a concurrent duplicate gets already_consumed.
func (s *Store) ValidateAndConsume(ctx context.Context, approvalID, toolName string, args map[string]any) (Result, error) {
	if approvalID == "" {
		return Result{Reason: ReasonMissingApproval}, nil
	}
	argsHash, err := HashArgs(args)
	if err != nil {
		return Result{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to begin approval tx: %w", err)
	}
	defer tx.Rollback()

	var a Approval
	var consumedAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT approval_id, tool_name, args_hash, created_at, expires_at, consumed_at, status
		 FROM tool_approvals WHERE approval_id = ?`,
		approvalID,
	).Scan(&a.ID, &a.ToolName, &a.ArgsHash, &a.CreatedAt, &a.ExpiresAt, &consumedAt, &a.Status)
	if err == sql.ErrNoRows {
		return Result{Reason: ReasonUnknownApproval}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to query approval: %w", err)
	}
	if consumedAt.Valid {
		t := consumedAt.Time
		a.ConsumedAt = &t
	}

	if a.Status != StatusPending {
		return Result{Reason: ReasonAlreadyConsumed, Approval: &a}, nil
	}
	if a.ToolName != toolName {
		return Result{Reason: ReasonToolMismatch, Approval: &a}, nil
	}
	if a.ArgsHash != argsHash {
		return Result{Reason: ReasonArgsHashMismatch, Approval: &a}, nil
	}

	now := s.now()
	if !a.ExpiresAt.After(now) {
		return Result{Reason: ReasonExpired, Approval: &a}, nil
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE tool_approvals SET status = ?, consumed_at = ?
		 WHERE approval_id = ? AND status = ?`,
		StatusConsumed, now, approvalID, StatusPending,
	)
	if err != nil {
		return Result{}, fmt.Errorf("failed to consume approval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Result{Reason: ReasonAlreadyConsumed, Approval: &a}, nil
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("failed to commit approval consume: %w", err)
	}

	a.Status = StatusConsumed
	a.ConsumedAt = &now
	s.logger.InfoContext(ctx, "approval consumed",
		"approval_id", a.ID,
		"tool", toolName,
	)
	return Result{OK: true, Reason: ReasonApproved, Approval: &a}, nil
}

// GarbageCollect marks expired pending approvals and returns the count.
// Expiry is also enforced lazily at consume time, so this only tidies the
// table for operators.
func (s *Store) GarbageCollect(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_approvals SET status = ? WHERE status = ? AND expires_at <= ?`,
		StatusExpired, StatusPending, s.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to garbage collect approvals: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.InfoContext(ctx, "expired approvals reaped", "count", n)
	}
	return int(n), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
