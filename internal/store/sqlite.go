package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS collection_cache (
		namespace TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (namespace, owner_id)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ReadList returns the persisted payload for a collection, or nil when
// none is stored.
func (s *SQLiteStore) ReadList(ctx context.Context, namespace, ownerID string) ([]byte, error) {
	query := `
		SELECT payload_json FROM collection_cache
		WHERE namespace = ? AND owner_id = ?`

	var payload string
	err := s.db.QueryRowContext(ctx, query, namespace, ownerID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached collection: %w", err)
	}
	return []byte(payload), nil
}

// WriteList replaces the persisted payload for a collection.
func (s *SQLiteStore) WriteList(ctx context.Context, namespace, ownerID string, payload []byte) error {
	query := `
		INSERT INTO collection_cache (namespace, owner_id, payload_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, owner_id) DO UPDATE SET
			payload_json = excluded.payload_json,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query, namespace, ownerID, string(payload), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("write cached collection: %w", err)
	}
	return nil
}

// DeleteList removes the persisted payload for a collection.
func (s *SQLiteStore) DeleteList(ctx context.Context, namespace, ownerID string) error {
	query := `DELETE FROM collection_cache WHERE namespace = ? AND owner_id = ?`
	if _, err := s.db.ExecContext(ctx, query, namespace, ownerID); err != nil {
		return fmt.Errorf("delete cached collection: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
