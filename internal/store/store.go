// Package store provides durable key-value storage with per-key TTL,
// backed by Badger.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Common errors.
var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("store: key not found")
)

// conflictRetries is how many times a read-modify-write is retried when
// a concurrent transaction touched the same key.
const conflictRetries = 3

// Store wraps a Badger database.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (or creates) a Badger database at the given path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Badger's internal logging is noisy, use ours
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}

	logger.Info("store opened", "path", path)

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get reads the value at key and unmarshals it into v.
// Returns ErrNotFound if the key does not exist or has expired.
func (s *Store) Get(key string, v any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("reading key %q: %w", key, err)
		}
		return item.Value(func(data []byte) error {
			if err := json.Unmarshal(data, v); err != nil {
				return fmt.Errorf("decoding key %q: %w", key, err)
			}
			return nil
		})
	})
	return err
}

// Set writes v at key. A ttl of zero means the key never expires.
func (s *Store) Set(key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding key %q: %w", key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry(key, data, ttl))
	})
	if err != nil {
		return fmt.Errorf("writing key %q: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("deleting key %q: %w", key, err)
	}
	return nil
}

// ListKeys returns all live keys with the given prefix, in key order.
// Used by maintenance and status tooling, not by the hot path.
func (s *Store) ListKeys(prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing keys %q: %w", prefix, err)
	}
	return keys, nil
}

// ReadModifyWrite atomically updates a single key. mutate receives the
// current value (the zero value of T when the key is absent) and reports
// whether the result should be written back. The whole cycle runs inside
// one transaction; a conflict with a concurrent writer is retried.
func ReadModifyWrite[T any](s *Store, key string, ttl time.Duration, mutate func(v *T, found bool) (bool, error)) error {
	var lastErr error
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			var v T
			found := true

			item, err := txn.Get([]byte(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				found = false
			} else if err != nil {
				return fmt.Errorf("reading key %q: %w", key, err)
			} else {
				err = item.Value(func(data []byte) error {
					return json.Unmarshal(data, &v)
				})
				if err != nil {
					return fmt.Errorf("decoding key %q: %w", key, err)
				}
			}

			write, err := mutate(&v, found)
			if err != nil || !write {
				return err
			}

			data, err := json.Marshal(&v)
			if err != nil {
				return fmt.Errorf("encoding key %q: %w", key, err)
			}
			return txn.SetEntry(entry(key, data, ttl))
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		lastErr = err
		s.logger.Debug("transaction conflict, retrying", "key", key, "attempt", attempt+1)
	}
	return fmt.Errorf("updating key %q: %w", key, lastErr)
}

func entry(key string, data []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry([]byte(key), data)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}
