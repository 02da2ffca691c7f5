package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/lumenpath/funnel-analytics-service/internal/config"
)

// Client wraps the SQLite connection shared by the funnel and experiment
// repositories.
type Client struct {
	db  *sql.DB
	log *zap.Logger
}

// NewClient opens a SQLite database with the given configuration. WAL mode
// keeps analytics reads from blocking ledger writes.
func NewClient(ctx context.Context, cfg *config.SQLite, log *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := filepath.Clean(cfg.Path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	log.Info("Opening SQLite database", zap.String("path", cfg.Path))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	log.Info("SQLite connection established")

	return &Client{db: db, log: log}, nil
}

// DB returns the underlying database handle.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping checks if the database connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the SQLite connection.
func (c *Client) Close() error {
	c.log.Info("Closing SQLite connection")
	if err := c.db.Close(); err != nil {
		c.log.Error("Error closing SQLite connection", zap.Error(err))
		return err
	}
	return nil
}

// InitSchema creates all tables and indexes if they don't exist.
func (c *Client) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stage_definitions (
			slug TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			position INTEGER NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS leads (
			lead_id TEXT PRIMARY KEY,
			current_stage TEXT NOT NULL REFERENCES stage_definitions(slug),
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stage_transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			lead_id TEXT NOT NULL,
			from_stage TEXT,
			to_stage TEXT NOT NULL REFERENCES stage_definitions(slug),
			actor_id TEXT NOT NULL,
			reason TEXT,
			occurred_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_lead ON stage_transitions(lead_id, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS experiments (
			test_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('draft','active','paused','completed')),
			target_personas TEXT NOT NULL DEFAULT '[]',
			target_stages TEXT NOT NULL DEFAULT '[]',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS variants (
			variant_id TEXT PRIMARY KEY,
			test_id TEXT NOT NULL REFERENCES experiments(test_id),
			name TEXT NOT NULL,
			traffic_weight REAL NOT NULL CHECK (traffic_weight >= 0),
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_variants_test ON variants(test_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS assignments (
			test_id TEXT NOT NULL REFERENCES experiments(test_id),
			variant_id TEXT NOT NULL REFERENCES variants(variant_id),
			session_id TEXT NOT NULL,
			user_id TEXT,
			persona TEXT,
			funnel_stage TEXT,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (test_id, session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS experiment_events (
			event_id TEXT PRIMARY KEY,
			test_id TEXT NOT NULL,
			variant_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			event_type TEXT NOT NULL CHECK (event_type IN ('exposure','conversion','custom')),
			occurred_at INTEGER NOT NULL,
			processed_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_test_variant ON experiment_events(test_id, variant_id, event_type)`,
	}

	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	c.log.Info("SQLite schema initialized")
	return nil
}
