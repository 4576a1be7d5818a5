package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"stageboot/logging"
)

// Store is the SQLite database holding persisted bootstrap state.
//
// DB is the single-connection write pool every migration transaction runs
// on. ReadDB is a query_only pool for services reading committed state, so
// a read issued while a migration holds DB does not wait on it. For an
// in-memory database both fields share one pool.
type Store struct {
	DB     *sql.DB
	ReadDB *sql.DB
	Path   string
	logger logging.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// configureConnection sets WAL mode, foreign keys and a busy timeout.
func configureConnection(db *sql.DB, dbPath string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// In-memory databases report "memory" rather than "wal"
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got: %s, expected: wal)", journalMode)
	}
	return nil
}

// Open opens, or creates, the state store at dbPath.
func Open(dbPath string, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Nop("storage")
	}
	if dbPath == "" {
		return nil, fmt.Errorf("state store path is empty")
	}

	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Single writer: migrations run strictly one at a time, and one
	// connection keeps an in-memory database alive for the store's lifetime.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := configureConnection(db, dbPath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure connection: %w", err)
	}

	s := &Store{DB: db, ReadDB: db, Path: dbPath, logger: logger}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if dbPath != ":memory:" {
		readDB, err := openReadPool(dbPath)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.ReadDB = readDB
	}

	logger.Infow("State store opened", "path", dbPath)
	return s, nil
}

// openReadPool opens the query_only pool. Pragmas go in the DSN so every
// pooled connection gets them.
func openReadPool(dbPath string) (*sql.DB, error) {
	readDB, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=query_only(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(2)
	readDB.SetConnMaxIdleTime(10 * time.Minute)

	var queryOnly int
	if err := readDB.QueryRow("PRAGMA query_only").Scan(&queryOnly); err != nil {
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to verify query_only mode: %w", err)
	}
	if queryOnly != 1 {
		_ = readDB.Close()
		return nil, fmt.Errorf("query_only mode not enabled on read pool (got: %d)", queryOnly)
	}
	return readDB, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stage_migrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		stage TEXT NOT NULL,
		checksum TEXT NOT NULL,
		run_id TEXT NOT NULL DEFAULT '',
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		UNIQUE(name, stage)
	);
	CREATE INDEX IF NOT EXISTS idx_stage_migrations_stage ON stage_migrations(stage);
	`
	_, err := s.DB.Exec(schema)
	return err
}

// WithTransaction runs fn in a transaction, rolling back on error or panic.
// A panic inside fn is returned as an error.
func (s *Store) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			if panicAsErr, ok := p.(error); ok {
				err = fmt.Errorf("transaction panicked: %w", panicAsErr)
			} else {
				err = fmt.Errorf("transaction panicked: %v", p)
			}
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w, rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks the database with a short timeout.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.DB.PingContext(ctx)
}

// Close closes the database. Only the first call has an effect.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		var readErr error
		if s.ReadDB != s.DB {
			readErr = s.ReadDB.Close()
		}
		s.closeErr = errors.Join(s.DB.Close(), readErr)
		s.logger.Infow("State store closed", "path", s.Path)
	})
	return s.closeErr
}
