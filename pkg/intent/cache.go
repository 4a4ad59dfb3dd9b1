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

	_ "modernc.org/sqlite" // SQLite driver
)

// CacheConfig configures the intent decision cache.
type CacheConfig struct {
	// Enabled toggles the cache; when off, Get always misses.
	Enabled bool

	// Path is the SQLite database file path.
	Path string

	// TTL is the entry lifetime. Default: 10 minutes
	TTL time.Duration
}

// Cache persists accepted tier-2 decisions keyed by (policy_hash,
// signature). Entries made under a superseded policy hash can never hit, so
// a policy change invalidates the cache by construction; FlushExcept just
// reclaims the space.
type Cache struct {
	db      *sql.DB
	enabled bool
	ttl     time.Duration
	logger  *slog.Logger

	now func() time.Time
}

// NewCache opens (and if needed creates) the cache database.
func NewCache(cfg CacheConfig) (*Cache, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("intent cache path cannot be empty")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open intent cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &Cache{
		db:      db,
		enabled: cfg.Enabled,
		ttl:     cfg.TTL,
		logger:  slog.Default().With("component", "intent.cache"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS intent_cache (
		policy_hash TEXT NOT NULL,
		signature TEXT NOT NULL,
		decision_json TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		PRIMARY KEY (policy_hash, signature)
	);
	CREATE INDEX IF NOT EXISTS idx_intent_cache_expires ON intent_cache(expires_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize intent cache schema: %w", err)
	}
	return c, nil
}

// Get returns a TTL-valid cached decision, or ok=false.
func (c *Cache) Get(ctx context.Context, policyHash, signature string) (Decision, bool, error) {
	if !c.enabled || policyHash == "" {
		return Decision{}, false, nil
	}
	var decisionJSON string
	err := c.db.QueryRowContext(ctx,
		`SELECT decision_json FROM intent_cache
		 WHERE policy_hash = ? AND signature = ? AND expires_at > ?`,
		policyHash, signature, c.now(),
	).Scan(&decisionJSON)
	if err == sql.ErrNoRows {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, fmt.Errorf("failed to query intent cache: %w", err)
	}
	var d Decision
	if err := json.Unmarshal([]byte(decisionJSON), &d); err != nil {
		return Decision{}, false, fmt.Errorf("failed to decode cached decision: %w", err)
	}
	return d, true, nil
}

// Set stores a decision for the TTL window, replacing any previous entry for
// the same key.
func (c *Cache) Set(ctx context.Context, policyHash, signature string, d Decision) error {
	if !c.enabled || policyHash == "" {
		return nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}
	now := c.now()
	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO intent_cache (policy_hash, signature, decision_json, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		policyHash, signature, string(raw), now, now.Add(c.ttl),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}
	return nil
}

// FlushExcept deletes entries made under any policy hash other than the
// given one. Wired as a policy reload subscriber.
func (c *Cache) FlushExcept(ctx context.Context, policyHash string) (int, error) {
	if !c.enabled {
		return 0, nil
	}
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM intent_cache WHERE policy_hash != ?`, policyHash,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to flush intent cache: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		c.logger.InfoContext(ctx, "intent cache flushed for policy change",
			"policy_hash", policyHash,
			"evicted", n,
		)
	}
	return int(n), nil
}

// PruneExpired deletes TTL-expired entries and returns the count.
func (c *Cache) PruneExpired(ctx context.Context) (int, error) {
	if !c.enabled {
		return 0, nil
	}
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM intent_cache WHERE expires_at <= ?`, c.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune intent cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	return c.db.Close()
}
