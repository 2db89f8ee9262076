package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is a SQLite implementation of Repository.
//
// It stores documents and counters in a single-file database. Designed
// for:
//   - Development and testing with zero setup
//   - Single-process engines requiring durable cases
//   - Prototyping before migrating to MySQL
//
// SQLiteRepository enables WAL mode so snapshot reads don't block the
// engine's writes, and performs every write in an implicit transaction,
// which gives the per-document atomicity the engine requires.
//
// Schema:
//   - journey_documents: doc_key -> doc (BLOB), updated_at
//   - journey_counters:  counter_key -> value
type SQLiteRepository struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
	path   string
}

// NewSQLiteRepository opens (or creates) the database file at path and
// migrates the schema. Use ":memory:" for an in-memory database in
// tests.
//
// Example:
//
//	repo, err := store.NewSQLiteRepository("./journeys.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer repo.Close()
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	repo := &SQLiteRepository{db: db, path: path}
	if err := repo.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return repo, nil
}

func (s *SQLiteRepository) createTables(ctx context.Context) error {
	documents := `
		CREATE TABLE IF NOT EXISTS journey_documents (
			doc_key TEXT PRIMARY KEY,
			doc BLOB NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, documents); err != nil {
		return fmt.Errorf("failed to create journey_documents: %w", err)
	}

	counters := `
		CREATE TABLE IF NOT EXISTS journey_counters (
			counter_key TEXT PRIMARY KEY,
			value INTEGER NOT NULL DEFAULT 0
		)
	`
	if _, err := s.db.ExecContext(ctx, counters); err != nil {
		return fmt.Errorf("failed to create journey_counters: %w", err)
	}
	return nil
}

// SaveOrUpdate writes the document with an UPSERT, which SQLite applies
// atomically.
func (s *SQLiteRepository) SaveOrUpdate(ctx context.Context, key string, doc []byte) error {
	if err := s.live(); err != nil {
		return err
	}
	query := `
		INSERT INTO journey_documents (doc_key, doc, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(doc_key) DO UPDATE SET
			doc = excluded.doc,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, key, doc); err != nil {
		return fmt.Errorf("failed to save document %q: %w", key, err)
	}
	return nil
}

// Save inserts a new document, failing if the key exists.
func (s *SQLiteRepository) Save(ctx context.Context, key string, doc []byte) error {
	if err := s.live(); err != nil {
		return err
	}
	query := `INSERT INTO journey_documents (doc_key, doc) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, query, key, doc); err != nil {
		if isConstraintErr(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert document %q: %w", key, err)
	}
	return nil
}

// Update replaces an existing document, failing if the key is absent.
func (s *SQLiteRepository) Update(ctx context.Context, key string, doc []byte) error {
	if err := s.live(); err != nil {
		return err
	}
	query := `
		UPDATE journey_documents
		SET doc = ?, updated_at = CURRENT_TIMESTAMP
		WHERE doc_key = ?
	`
	res, err := s.db.ExecContext(ctx, query, doc, key)
	if err != nil {
		return fmt.Errorf("failed to update document %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result for %q: %w", key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the document and any counter under key.
func (s *SQLiteRepository) Delete(ctx context.Context, key string) error {
	if err := s.live(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM journey_documents WHERE doc_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete document %q: %w", key, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM journey_counters WHERE counter_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete counter %q: %w", key, err)
	}
	return nil
}

// Get returns the document under key.
func (s *SQLiteRepository) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM journey_documents WHERE doc_key = ?`, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %q: %w", key, err)
	}
	return doc, nil
}

// GetAll returns every document whose key begins with docType, ordered
// by key.
func (s *SQLiteRepository) GetAll(ctx context.Context, docType string) ([]KeyDoc, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_key, doc FROM journey_documents
		WHERE doc_key LIKE ? || '%'
		ORDER BY doc_key
	`, docType)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents of type %q: %w", docType, err)
	}
	defer rows.Close()

	var out []KeyDoc
	for rows.Next() {
		var kd KeyDoc
		if err := rows.Scan(&kd.Key, &kd.Doc); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		out = append(out, kd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return out, nil
}

// GetLocked behaves as Get. SQLite serializes writers at the database
// level already, so a per-document lock adds nothing for the
// single-engine deployments this backend targets.
func (s *SQLiteRepository) GetLocked(ctx context.Context, key string) ([]byte, error) {
	return s.Get(ctx, key)
}

// IncrCounter atomically increments the named counter via UPSERT and
// returns the new value.
func (s *SQLiteRepository) IncrCounter(ctx context.Context, key string) (int64, error) {
	if err := s.live(); err != nil {
		return 0, err
	}
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO journey_counters (counter_key, value) VALUES (?, 1)
		ON CONFLICT(counter_key) DO UPDATE SET value = value + 1
		RETURNING value
	`, key).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %q: %w", key, err)
	}
	return value, nil
}

// Close releases the underlying database handle.
func (s *SQLiteRepository) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteRepository) Ping(ctx context.Context) error {
	if err := s.live(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path this repository was opened with.
func (s *SQLiteRepository) Path() string {
	return s.path
}

func (s *SQLiteRepository) live() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("repository is closed")
	}
	return nil
}

func isConstraintErr(err error) bool {
	// modernc.org/sqlite reports UNIQUE violations with this text; there
	// is no exported error type to match on.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
