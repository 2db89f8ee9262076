// Package store defines the document-oriented repository consumed by the
// journey engine, together with in-memory, SQLite and MySQL
// implementations.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested document key does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned by Save when the key is already present.
var ErrAlreadyExists = errors.New("already exists")

// KeyDoc pairs a document with its key, as returned by GetAll.
type KeyDoc struct {
	Key string
	Doc []byte
}

// Repository is a document-oriented key/value surface. Keys are plain
// strings; documents are opaque byte slices (JSON in practice).
//
// The engine relies on two guarantees:
//   - SaveOrUpdate is atomic at document granularity: a reader sees
//     either the previous document or the new one, never a torn write.
//   - IncrCounter is an atomic read-modify-write.
//
// The engine itself serializes writes per case, so implementations do
// not need multi-writer coordination for correctness of a single engine
// instance; GetLocked is reserved for multi-writer deployments.
//
// Implementations can use:
//   - In-memory maps (testing, see memory.go)
//   - SQLite (single file, zero setup, see sqlite.go)
//   - MySQL/MariaDB (production deployments, see mysql.go)
type Repository interface {
	// SaveOrUpdate writes the document under key, creating or replacing
	// it atomically.
	SaveOrUpdate(ctx context.Context, key string, doc []byte) error

	// Save writes a new document; ErrAlreadyExists if key is present.
	Save(ctx context.Context, key string, doc []byte) error

	// Update replaces an existing document; ErrNotFound if absent.
	Update(ctx context.Context, key string, doc []byte) error

	// Delete removes the document. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Get returns the document under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetAll returns every document whose key begins with the given
	// document-type prefix, ordered by key.
	GetAll(ctx context.Context, docType string) ([]KeyDoc, error)

	// GetLocked returns the document under key while holding a
	// backend-level lock on it. Reserved for multi-writer deployments;
	// single-engine hosts can treat it as Get.
	GetLocked(ctx context.Context, key string) ([]byte, error)

	// IncrCounter atomically increments the named counter and returns
	// the new value. A missing counter starts at zero, so the first
	// call returns 1.
	IncrCounter(ctx context.Context, key string) (int64, error)
}
