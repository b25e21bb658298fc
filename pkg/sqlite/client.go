// Package sqlite wraps an embedded SQLite database opened through the pure
// Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Option func(*Config)

type Config struct {
	Path        string
	BusyTimeout time.Duration
	WAL         bool
}

// WithBusyTimeout sets how long writers wait on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.BusyTimeout = d
	}
}

// WithWAL toggles write-ahead logging.
func WithWAL(enabled bool) Option {
	return func(c *Config) {
		c.WAL = enabled
	}
}

type Client struct {
	db   *sql.DB
	path string
}

// Open creates parent directories as needed. Use ":memory:" for tests.
func Open(path string, opts ...Option) (*Client, error) {
	cfg := &Config{Path: path, BusyTimeout: 5 * time.Second, WAL: true}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds())}
	if cfg.WAL && cfg.Path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", p, err)
		}
	}
	return &Client{db: db, path: cfg.Path}, nil
}

func (c *Client) DB() *sql.DB  { return c.db }
func (c *Client) Path() string { return c.path }

func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// InitSchema runs idempotent DDL statements in order.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
