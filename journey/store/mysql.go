package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLRepository is a MySQL/MariaDB implementation of Repository.
//
// Designed for:
//   - Production engines requiring durable cases
//   - Deployments with operational MySQL tooling (backups, replication)
//   - Audit trails and compliance requirements
//
// MySQLRepository uses connection pooling; every write is a single
// statement, which InnoDB applies atomically.
//
// Schema:
//   - journey_documents: doc_key -> doc (JSON), updated_at
//   - journey_counters:  counter_key -> value
type MySQLRepository struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewMySQLRepository opens a pooled connection for the given DSN and
// migrates the schema.
//
// The DSN format is the go-sql-driver form:
//
//	user:password@tcp(localhost:3306)/journeys?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment:
//
//	repo, err := store.NewMySQLRepository(os.Getenv("MYSQL_DSN"))
func NewMySQLRepository(dsn string) (*MySQLRepository, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	repo := &MySQLRepository{db: db}
	if err := repo.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return repo, nil
}

func (m *MySQLRepository) createTables(ctx context.Context) error {
	documents := `
		CREATE TABLE IF NOT EXISTS journey_documents (
			doc_key VARCHAR(512) NOT NULL PRIMARY KEY,
			doc JSON NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, documents); err != nil {
		return fmt.Errorf("failed to create journey_documents: %w", err)
	}

	counters := `
		CREATE TABLE IF NOT EXISTS journey_counters (
			counter_key VARCHAR(512) NOT NULL PRIMARY KEY,
			value BIGINT NOT NULL DEFAULT 0
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, counters); err != nil {
		return fmt.Errorf("failed to create journey_counters: %w", err)
	}
	return nil
}

// SaveOrUpdate writes the document, creating or replacing it atomically.
func (m *MySQLRepository) SaveOrUpdate(ctx context.Context, key string, doc []byte) error {
	if err := m.live(); err != nil {
		return err
	}
	query := `
		INSERT INTO journey_documents (doc_key, doc)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE doc = VALUES(doc)
	`
	if _, err := m.db.ExecContext(ctx, query, key, doc); err != nil {
		return fmt.Errorf("failed to save document %q: %w", key, err)
	}
	return nil
}

// Save inserts a new document, failing if the key exists.
func (m *MySQLRepository) Save(ctx context.Context, key string, doc []byte) error {
	if err := m.live(); err != nil {
		return err
	}
	query := `INSERT INTO journey_documents (doc_key, doc) VALUES (?, ?)`
	if _, err := m.db.ExecContext(ctx, query, key, doc); err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 { // duplicate entry
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert document %q: %w", key, err)
	}
	return nil
}

// Update replaces an existing document, failing if the key is absent.
func (m *MySQLRepository) Update(ctx context.Context, key string, doc []byte) error {
	if err := m.live(); err != nil {
		return err
	}
	res, err := m.db.ExecContext(ctx,
		`UPDATE journey_documents SET doc = ? WHERE doc_key = ?`, doc, key)
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
func (m *MySQLRepository) Delete(ctx context.Context, key string) error {
	if err := m.live(); err != nil {
		return err
	}
	if _, err := m.db.ExecContext(ctx,
		`DELETE FROM journey_documents WHERE doc_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete document %q: %w", key, err)
	}
	if _, err := m.db.ExecContext(ctx,
		`DELETE FROM journey_counters WHERE counter_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete counter %q: %w", key, err)
	}
	return nil
}

// Get returns the document under key.
func (m *MySQLRepository) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.live(); err != nil {
		return nil, err
	}
	var doc []byte
	err := m.db.QueryRowContext(ctx,
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
func (m *MySQLRepository) GetAll(ctx context.Context, docType string) ([]KeyDoc, error) {
	if err := m.live(); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT doc_key, doc FROM journey_documents
		WHERE doc_key LIKE CONCAT(?, '%')
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

// GetLocked reads the document while holding a MySQL named lock derived
// from the key, giving multi-writer deployments mutual exclusion per
// document. The lock is scoped to the pooled session and released when
// the session is recycled; single-engine hosts should prefer Get.
func (m *MySQLRepository) GetLocked(ctx context.Context, key string) ([]byte, error) {
	if err := m.live(); err != nil {
		return nil, err
	}
	var acquired sql.NullInt64
	if err := m.db.QueryRowContext(ctx,
		`SELECT GET_LOCK(MD5(?), 5)`, key).Scan(&acquired); err != nil {
		return nil, fmt.Errorf("failed to lock document %q: %w", key, err)
	}
	if !acquired.Valid || acquired.Int64 != 1 {
		return nil, fmt.Errorf("failed to lock document %q: lock held elsewhere", key)
	}
	return m.Get(ctx, key)
}

// IncrCounter atomically increments the named counter and returns the
// new value, using the LAST_INSERT_ID upsert idiom so the increment and
// the read are one statement.
func (m *MySQLRepository) IncrCounter(ctx context.Context, key string) (int64, error) {
	if err := m.live(); err != nil {
		return 0, err
	}
	res, err := m.db.ExecContext(ctx, `
		INSERT INTO journey_counters (counter_key, value)
		VALUES (?, LAST_INSERT_ID(1))
		ON DUPLICATE KEY UPDATE value = LAST_INSERT_ID(value + 1)
	`, key)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %q: %w", key, err)
	}
	value, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %q: %w", key, err)
	}
	return value, nil
}

// Close releases the underlying connection pool.
func (m *MySQLRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database is reachable.
func (m *MySQLRepository) Ping(ctx context.Context) error {
	if err := m.live(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// Stats exposes connection pool statistics for monitoring.
func (m *MySQLRepository) Stats() sql.DBStats {
	return m.db.Stats()
}

func (m *MySQLRepository) live() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("repository is closed")
	}
	return nil
}
