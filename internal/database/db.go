// Package database provides the SQLite connection layer shared by every
// repository in internal/store: profile-tuned PRAGMAs, a bounded
// connection pool sized for a single long-running process, and schema
// migration from an embedded SQL string.
package database

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

// Profile selects the PRAGMA set appropriate to how a table is used.
type Profile string

const (
	// ProfileLedger favors durability for append-only financial records
	// (orders, executions, account snapshots, trade feedback).
	ProfileLedger Profile = "ledger"
	// ProfileCache favors throughput for ephemeral, rebuildable data
	// (subscription slot snapshots, quote caches).
	ProfileCache Profile = "cache"
	// ProfileStandard balances the two for everything else.
	ProfileStandard Profile = "standard"
)

// DB wraps a *sql.DB with the profile it was opened under.
type DB struct {
	conn    *sql.DB
	path    string
	profile Profile
	name    string
}

// Config describes how to open one database.
type Config struct {
	Path    string
	Profile Profile
	Name    string
}

// New opens (creating the containing directory if needed) and pings a
// SQLite database configured for cfg.Profile.
func New(cfg Config) (*DB, error) {
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve database path %s: %w", cfg.Name, err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Name, err)
		}
		cfg.Path = absPath
	}

	conn, err := sql.Open("sqlite", buildConnectionString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Name, err)
	}
	configurePool(conn, cfg.Profile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database %s: %w", cfg.Name, err)
	}

	return &DB{conn: conn, path: cfg.Path, profile: cfg.Profile, name: cfg.Name}, nil
}

func buildConnectionString(path string, profile Profile) string {
	connStr := path + "?_pragma=journal_mode(WAL)"
	switch profile {
	case ProfileLedger:
		connStr += "&_pragma=synchronous(FULL)"
		connStr += "&_pragma=auto_vacuum(NONE)"
	case ProfileCache:
		connStr += "&_pragma=synchronous(OFF)"
		connStr += "&_pragma=temp_store(MEMORY)"
	default:
		connStr += "&_pragma=synchronous(NORMAL)"
		connStr += "&_pragma=temp_store(MEMORY)"
	}
	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=cache_size(-64000)"
	return connStr
}

func configurePool(conn *sql.DB, profile Profile) {
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)
	if profile == ProfileCache {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(2)
	}
}

// Conn returns the underlying *sql.DB for repositories to build queries on.
func (db *DB) Conn() *sql.DB { return db.conn }

// Close closes the connection pool.
func (db *DB) Close() error { return db.conn.Close() }

// Migrate executes schema against the connection. It is safe to call on
// every startup: schema statements use CREATE TABLE IF NOT EXISTS.
func (db *DB) Migrate(schema string) error {
	_, err := db.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("migrate database %s: %w", db.name, err)
	}
	return nil
}
