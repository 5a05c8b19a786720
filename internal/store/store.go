// Package store provides the persistent key-value storage behind the router.
//
// DESIGN: A flat string-to-string map, mirroring the extension storage API:
//   - Get(keys...)  returns only the keys that exist
//   - Set(values)   writes all values atomically (last write wins per key)
//   - Remove(keys...) deletes keys, missing keys are not an error
//
// Backends:
//   - MemoryStore:  process-local, used by tests and the "memory" store type
//   - SQLiteStore:  single-table SQLite database (sqlite.go)
//   - KeyringStore: decorator that keeps secrets in the OS keychain (keyring.go)
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/searchx/searchx/internal/config"
)

// Store defines the interface for settings storage.
type Store interface {
	// Get returns the stored values for keys. Absent keys are omitted.
	Get(ctx context.Context, keys ...string) (map[string]string, error)

	// Set writes every entry in values.
	Set(ctx context.Context, values map[string]string) error

	// Remove deletes keys.
	Remove(ctx context.Context, keys ...string) error

	// Close releases resources.
	Close() error
}

// New builds the store described by cfg.
func New(cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Type {
	case "memory":
		st = NewMemoryStore()
	case "sqlite":
		st, err = OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}

	if cfg.Keyring {
		st = NewKeyringStore(st, cfg.KeyringService)
	}
	return st, nil
}

// MemoryStore is a simple in-memory implementation of Store.
type MemoryStore struct {
	data    map[string]string
	mu      sync.RWMutex
	stopped bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// Get returns the values that exist for keys.
func (s *MemoryStore) Get(_ context.Context, keys ...string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return nil, ErrClosed
	}

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := s.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// Set stores all values under a single lock.
func (s *MemoryStore) Set(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrClosed
	}

	for k, v := range values {
		s.data[k] = v
	}
	return nil
}

// Remove deletes keys.
func (s *MemoryStore) Remove(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrClosed
	}

	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

// Close clears data. Further calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped {
		s.stopped = true
		s.data = nil
	}
	return nil
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
