package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/mentor-labs/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Backend using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes read-modify-write spans to avoid SQLITE_BUSY
	retry   shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed session store.
func NewSQLite(dbPath string, retry shared.RetryPolicy) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: retry}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Load retrieves the session document.
func (s *SQLiteStore) Load(ctx context.Context, id string) (Document, error) {
	doc, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// load returns nil without error when the row does not exist.
func (s *SQLiteStore) load(ctx context.Context, q queryRower, id string) (Document, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT document FROM sessions WHERE session_id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("scan session row", err)
	}

	doc := Document{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, unavailable("decode session document", err)
	}
	return doc, nil
}

// Update runs fn inside a transaction and upserts the result.
func (s *SQLiteStore) Update(ctx context.Context, id string, fn UpdateFunc) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var fnErr error
	err := shared.Retry(ctx, s.retry, shared.IsSQLiteConflictError, "update session", func() error {
		fnErr = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("Failed to roll back session update", "session_id", id, "error", rbErr)
			}
		}()

		current, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := fn(current.Clone())
		if err != nil {
			fnErr = err
			return nil
		}

		encoded, err := json.Marshal(next)
		if err != nil {
			fnErr = fmt.Errorf("encode session document: %w", err)
			return nil
		}

		now := time.Now().Unix()
		query := `
		INSERT INTO sessions (session_id, document, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at`
		if _, err := tx.ExecContext(ctx, query, id, string(encoded), now, now); err != nil {
			return err
		}
		return tx.Commit()
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		return unavailable("upsert session", err)
	}
	return nil
}

// DeleteExpired removes sessions not updated within ttl.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, unavailable("delete expired sessions", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
