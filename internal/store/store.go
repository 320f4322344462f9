package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/leonardcser/ttl-cache/internal/logger"
)

// ErrClosed is returned by operations on a Store whose last reference was closed.
var ErrClosed = errors.New("store: closed")

const compactTxMaxSize = 64 << 20

var bucketName = []byte("entries")

// openDB is replaced in tests to simulate open failures.
var openDB = bolt.Open

var (
	registryMu sync.Mutex
	registry   = make(map[string]*Store)
)

// Store is a persisted key -> Entry mapping for one namespace, kept in a
// single bolt file. Handles are shared per file within the process; see Load.
// It is safe for concurrent use by multiple goroutines.
type Store struct {
	namespace string
	path      string

	mu     sync.RWMutex
	db     *bolt.DB // nil after Destroy until the next write
	closed bool
	err    error // set when the file could not be reopened; sticky until Close

	refs int // guarded by registryMu
}

// Load opens or creates the store for namespace inside directory. Repeated
// loads of the same file return the same handle; each must be paired with Close.
func Load(namespace, directory string) (*Store, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}
	path := FilePath(namespace, directory)

	registryMu.Lock()
	defer registryMu.Unlock()
	if s, ok := registry[path]; ok {
		s.refs++
		return s, nil
	}

	s := &Store{namespace: namespace, path: path}
	if err := s.open(); err != nil {
		return nil, err
	}
	s.refs = 1
	registry[path] = s
	return s, nil
}

// Namespace returns the namespace this store was loaded for.
func (s *Store) Namespace() string { return s.namespace }

// Path returns the bolt file backing the store.
func (s *Store) Path() string { return s.path }

// open must be called with s.mu held (or before s is published).
func (s *Store) open() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("store: create directory: %w", err)
	}
	db, err := openDB(s.path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return fmt.Errorf("store: open %s: %w", s.path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return fmt.Errorf("store: open %s: %w", s.path, err)
	}
	s.db = db
	return nil
}

// usable must be called with s.mu held.
func (s *Store) usable() error {
	if s.closed {
		return ErrClosed
	}
	return s.err
}

func (s *Store) closeDB() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Get returns the entry stored under key.
func (s *Store) Get(key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return Entry{}, false, err
	}
	if s.db == nil {
		return Entry{}, false, nil
	}
	var (
		e     Entry
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return nil
		}
		var err error
		e, err = decodeEntry(v)
		found = err == nil
		return err
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("store: get %q: %w", key, err)
	}
	return e, found, nil
}

// Set creates or replaces the entry under key.
func (s *Store) Set(key string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	if s.db == nil {
		if err := s.open(); err != nil {
			return err
		}
	}
	buf := encodeEntry(e)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), buf)
	})
}

// Remove deletes key and reports whether it was present.
func (s *Store) Remove(key string) (bool, error) {
	return s.RemoveIf(key, nil)
}

// RemoveIf deletes key only when cond accepts its current entry; a nil cond
// always accepts. The check and the delete share one write transaction.
func (s *Store) RemoveIf(key string, cond func(Entry) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return false, err
	}
	if s.db == nil {
		return false, nil
	}
	var removed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		k := []byte(key)
		v := b.Get(k)
		if v == nil {
			return nil
		}
		if cond != nil {
			e, err := decodeEntry(v)
			if err != nil {
				return err
			}
			if !cond(e) {
				return nil
			}
		}
		removed = true
		return b.Delete(k)
	})
	if err != nil {
		return false, fmt.Errorf("store: remove %q: %w", key, err)
	}
	return removed, nil
}

// All returns a materialized copy of every entry. Mutating the store while
// ranging over the result is safe.
func (s *Store) All() (map[string]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	out := make(map[string]Entry)
	if s.db == nil {
		return out, nil
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			e, err := decodeEntry(v)
			if err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			out[string(k)] = e
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan: %w", err)
	}
	return out, nil
}

// Persist flushes the file to stable storage. With compact set, the file is
// rewritten so pages freed by deleted entries are reclaimed.
func (s *Store) Persist(compact bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	if s.db == nil {
		return nil
	}
	if !compact {
		return s.db.Sync()
	}
	return s.compact()
}

func (s *Store) compact() error {
	log := logger.WithComponent("store")
	tmp := s.path + ".compact"
	_ = os.Remove(tmp)

	dst, err := bolt.Open(tmp, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return fmt.Errorf("store: compact: %w", err)
	}
	if err := bolt.Compact(dst, s.db, compactTxMaxSize); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("store: compact: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store: compact: %w", err)
	}
	if err := s.closeDB(); err != nil {
		return fmt.Errorf("store: compact: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		// Reattach to the original file; the compacted copy is discarded.
		_ = os.Remove(tmp)
		if openErr := s.reopen(); openErr != nil {
			return errors.Join(err, openErr)
		}
		return fmt.Errorf("store: compact: %w", err)
	}
	log.Debug().Str("namespace", s.namespace).Str("path", s.path).Msg("compacted store")
	return s.reopen()
}

// reopen attaches the file again after compaction. A failure is kept so later
// operations report it instead of treating the store as empty.
func (s *Store) reopen() error {
	if err := s.open(); err != nil {
		s.err = err
		logger.Errorf("store %s unusable after compaction: %v", s.namespace, err)
		return err
	}
	return nil
}

// Destroy deletes all persisted and in-memory state. The handle stays usable:
// reads see an empty store and the next write recreates the file.
func (s *Store) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.closeDB(); err != nil {
		return fmt.Errorf("store: destroy: %w", err)
	}
	s.err = nil
	log := logger.WithComponent("store")
	log.Debug().Str("namespace", s.namespace).Msg("destroyed store")
	return removeFile(s.path)
}

// Close releases one reference; the file is closed with the last one.
func (s *Store) Close() error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if s.refs == 0 {
		return nil
	}
	s.refs--
	if s.refs > 0 {
		return nil
	}
	delete(registry, s.path)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeDB()
}
