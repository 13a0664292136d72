// storage package keeps the history of the contract deployments made by the
// deployer in a prefixed key-value store. The following prefixes are used:
//   - 'd/' for deployments, keyed by '<chainID>/<contract>/<txHash>'
//
// Records are encoded with deterministic CBOR. There is no deduplication:
// every confirmed deployment is a new record.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vocdoni/verifier-deployer/log"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"
)

var (
	// Prefixes for the keys in the database.
	deploymentPrefix = []byte("d/")

	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// Storage wraps the database where the deployment history is kept.
type Storage struct {
	db db.Database
	mu sync.Mutex
}

// New creates a new Storage instance.
func New(db db.Database) *Storage {
	return &Storage{db: db}
}

// Open opens (or creates) the pebble database at dir and returns the
// Storage on top of it.
func Open(dir string) (*Storage, error) {
	database, err := metadb.New(db.TypePebble, dir)
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", dir, err)
	}
	return New(database), nil
}

// Close closes the storage.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		log.Warnw("error closing storage", "error", err)
	}
}
