package cache

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/leonardcser/ttl-cache/internal/store"
)

// Cache is a persisted key-value cache with optional per-entry expiry.
// Expired entries are evicted lazily by the read that finds them; there is
// no background sweep.
//
// Values are stored as JSON and must round-trip through encoding/json.
// Caches opened on the same namespace and directory share one store and
// therefore observe each other's writes.
type Cache[V any] struct {
	namespace  string
	directory  string
	defaultTTL time.Duration
	hasDefault bool
	now        func() time.Time
	onEvict    func(key string)
	store      *store.Store
	closed     atomic.Bool
}

// Options configures a Cache.
type Options struct {
	// Namespace selects the store; defaults to "default".
	Namespace string
	// Directory is used only if its parent exists, otherwise
	// <tmp>/cache/<namespace>.
	Directory string
	// TTL is the default time-to-live used by Set: a number of seconds or a
	// time.Duration. Any other value means entries never expire by default.
	TTL any
	// Clock overrides time.Now.
	Clock func() time.Time
	// OnEvict is called for every key removed because it expired.
	OnEvict func(key string)
}

// Configure opens (creating if absent) the store for opts and returns a
// cache bound to it. Store failures are returned as is.
func Configure[V any](opts Options) (*Cache[V], error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = store.DefaultNamespace
	}
	dir := store.ResolveDir(namespace, opts.Directory)

	st, err := store.Load(namespace, dir)
	if err != nil {
		return nil, err
	}
	c := &Cache[V]{
		namespace: namespace,
		directory: dir,
		now:       opts.Clock,
		onEvict:   opts.OnEvict,
		store:     st,
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.defaultTTL, c.hasDefault = NormalizeTTL(opts.TTL)
	return c, nil
}

// Namespace returns the namespace the cache is bound to.
func (c *Cache[V]) Namespace() string { return c.namespace }

// Directory returns the resolved storage directory.
func (c *Cache[V]) Directory() string { return c.directory }

// DefaultTTL returns the default TTL and whether one is configured.
func (c *Cache[V]) DefaultTTL() (time.Duration, bool) { return c.defaultTTL, c.hasDefault }

// Get returns the value under key. Absent and expired keys report false;
// an expired key is removed from the store before Get returns.
func (c *Cache[V]) Get(key string) (V, bool, error) {
	var zero V
	e, ok, err := c.lookup(key, c.now())
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := c.decode(key, e.Value)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Set stores value under key using the default TTL, if any.
func (c *Cache[V]) Set(key string, value V) error {
	return c.put(key, value, c.defaultTTL, c.hasDefault)
}

// Put stores value under key with an explicit TTL (seconds or time.Duration).
// An invalid ttl falls back to the default TTL, then to no expiry.
func (c *Cache[V]) Put(key string, value V, ttl any) error {
	d, ok := NormalizeTTL(ttl)
	if !ok {
		d, ok = c.defaultTTL, c.hasDefault
	}
	return c.put(key, value, d, ok)
}

func (c *Cache[V]) put(key string, value V, ttl time.Duration, expires bool) error {
	if c.closed.Load() {
		return store.ErrClosed
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	e := store.Entry{Value: b}
	if expires {
		e.Expires = c.now().Add(ttl)
	}
	return c.store.Set(key, e)
}

// Delete removes key whether or not it expired, reporting if it was present.
func (c *Cache[V]) Delete(key string) (bool, error) {
	if c.closed.Load() {
		return false, store.ErrClosed
	}
	return c.store.Remove(key)
}

// TTL reports when key expires. Missing and expired keys (the latter are
// evicted as in Get) come back with nil Expires.
func (c *Cache[V]) TTL(key string) (TTLInfo, error) {
	now := c.now()
	e, ok, err := c.lookup(key, now)
	if err != nil {
		return TTLInfo{Key: key}, err
	}
	if !ok {
		return TTLInfo{Key: key}, nil
	}
	return newTTLInfo(key, e.Expires, now), nil
}

// All returns every live entry. Expired entries found along the way are
// evicted before All returns and never appear in the result.
func (c *Cache[V]) All() (map[string]V, error) {
	if c.closed.Load() {
		return nil, store.ErrClosed
	}
	entries, err := c.store.All()
	if err != nil {
		return nil, err
	}
	now := c.now()
	out := make(map[string]V, len(entries))
	for key, e := range entries {
		if e.Expired(now) {
			if err := c.evict(key, now); err != nil {
				return nil, err
			}
			continue
		}
		v, err := c.decode(key, e.Value)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// Save flushes the store; compact also reclaims space freed by deletions.
func (c *Cache[V]) Save(compact bool) error {
	if c.closed.Load() {
		return store.ErrClosed
	}
	return c.store.Persist(compact)
}

// Destroy removes the whole namespace from disk. The cache stays usable and
// starts out empty.
func (c *Cache[V]) Destroy() error {
	if c.closed.Load() {
		return store.ErrClosed
	}
	return c.store.Destroy()
}

// Close releases the cache's reference to its store. Only the first call
// does so; other caches sharing the store are unaffected by repeated calls.
func (c *Cache[V]) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.store.Close()
}

func (c *Cache[V]) lookup(key string, now time.Time) (store.Entry, bool, error) {
	if c.closed.Load() {
		return store.Entry{}, false, store.ErrClosed
	}
	e, found, err := c.store.Get(key)
	if err != nil || !found {
		return store.Entry{}, false, err
	}
	if e.Expired(now) {
		if err := c.evict(key, now); err != nil {
			return store.Entry{}, false, err
		}
		return store.Entry{}, false, nil
	}
	return e, true, nil
}

// evict only removes the key if it is still expired, so a concurrent Set that
// replaced it is kept.
func (c *Cache[V]) evict(key string, now time.Time) error {
	removed, err := c.store.RemoveIf(key, func(cur store.Entry) bool { return cur.Expired(now) })
	if err != nil {
		return err
	}
	if removed && c.onEvict != nil {
		c.onEvict(key)
	}
	return nil
}

func (c *Cache[V]) decode(key string, b []byte) (V, error) {
	var v V
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("cache: decode %q: %w", key, err)
	}
	return v, nil
}
