// Package sqlite provides the relational persistence layer for the valuation
// pipeline: assets, OHLCV bars, the instrument directory, FX rates, and the
// per-user statistic series, all backed by a single embedded database file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Profile tunes the PRAGMA set applied to the connection for the workload
// a given table set sees. Grounded on the ledger/cache/standard profile
// split used for the embedded audit-trail store this pipeline descends from.
type Profile string

const (
	// ProfileLedger favors durability: OHLCV bars and statistics are an
	// append-mostly audit trail of valuations and should survive a crash.
	ProfileLedger Profile = "ledger"
	// ProfileCache favors throughput for data that is cheaply re-fetched
	// (the instrument directory, FX rates).
	ProfileCache Profile = "cache"
)

// DB wraps a *sql.DB with the PRAGMA configuration this pipeline requires:
// WAL journaling, foreign keys, and a profile-appropriate synchronous level.
type DB struct {
	conn    *sql.DB
	path    string
	profile Profile
}

// Config configures a new DB connection.
type Config struct {
	Path    string
	Profile Profile
}

// Open creates (or attaches to) the SQLite database at cfg.Path with the
// PRAGMAs appropriate to cfg.Profile, and pings it to fail fast on a bad path.
func Open(cfg Config) (*DB, error) {
	if cfg.Profile == "" {
		cfg.Profile = ProfileLedger
	}

	if !strings.HasPrefix(cfg.Path, "file:") && cfg.Path != ":memory:" {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		cfg.Path = absPath
	}

	connStr := buildConnString(cfg.Path, cfg.Profile)
	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1) // modernc.org/sqlite: one connection, so all reads and writes are serialized
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{conn: conn, path: cfg.Path, profile: cfg.Profile}, nil
}

func buildConnString(path string, profile Profile) string {
	connStr := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	switch profile {
	case ProfileCache:
		connStr += "&_pragma=synchronous(NORMAL)"
	default:
		connStr += "&_pragma=synchronous(FULL)"
	}
	return connStr
}

// Conn returns the underlying *sql.DB for repositories to query against.
func (db *DB) Conn() *sql.DB { return db.conn }

// Close closes the database connection.
func (db *DB) Close() error { return db.conn.Close() }

// Migrate applies the schema. Statements use CREATE ... IF NOT EXISTS so
// Migrate is safe to call on every startup.
func (db *DB) Migrate(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("apply schema: %w", err)
	}
	return tx.Commit()
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func WithTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
			return
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}
