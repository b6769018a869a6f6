// Package db persists the canonical records in SQLite.
//
// Every entity lives in its own table as a JSON document next to indexed id
// and storage_id columns. Table[T] offers the small key-value style API the
// rest of the manager needs: get, filtered and sorted listing, create, partial
// update and delete.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/klog/v2"
	_ "modernc.org/sqlite"
)

// DefaultPath is the default database location
const DefaultPath = "/var/lib/arraysync/arraysync.db"

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

var (
	// ErrNotFound indicates no record has the requested id
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates a malformed query
	ErrInvalidInput = errors.New("invalid input")
)

// Entity tables
const (
	TableStorages     = "storages"
	TableAccessInfos  = "access_infos"
	TableAlertSources = "alert_sources"
	TablePools        = "storage_pools"
	TableVolumes      = "volumes"
	TableDisks        = "disks"
	TableFilesystems  = "filesystems"
)

var entityTables = []string{
	TableStorages,
	TableAccessInfos,
	TableAlertSources,
	TablePools,
	TableVolumes,
	TableDisks,
	TableFilesystems,
}

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the SQLite database at path and brings the schema up
// to date. MemoryPath gives a private in-memory database.
func Open(path string) (*DB, error) {
	if path == "" {
		path = DefaultPath
	}

	memory := path == MemoryPath
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// DSN pragmas apply to every pooled connection
	dsn := path
	if !memory {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	klog.V(2).Infof("Opened database %s", path)
	return db, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.conn.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// Ping checks the database is reachable
func (d *DB) Ping(ctx context.Context) error {
	return d.conn.PingContext(ctx)
}

// migrate runs the database schema migrations
func (d *DB) migrate() error {
	_, err := d.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	var version int
	err = d.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return err
	}

	migrations := []string{
		migrationV1(),
		migrationV2,
	}

	for i, migration := range migrations {
		v := i + 1
		if v <= version {
			continue
		}

		tx, err := d.conn.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(migration); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration v%d failed: %w", v, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			_ = tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		klog.V(4).Infof("Applied schema migration v%d", v)
	}

	return nil
}

// migrationV1 creates one document table per entity
func migrationV1() string {
	var b strings.Builder
	for _, table := range entityTables {
		fmt.Fprintf(&b, `
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    storage_id TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_storage ON %[1]s(storage_id);
`, table)
	}
	return b.String()
}

// migrationV2 adds the lease table shared by every process on this database
const migrationV2 = `
CREATE TABLE IF NOT EXISTS leases (
    name TEXT PRIMARY KEY,
    holder TEXT NOT NULL,
    expires_at INTEGER NOT NULL
);
`
