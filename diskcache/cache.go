// Package diskcache implements a size-bounded, LRU-evicted cache of named
// byte blobs stored as individual files under a root directory.
//
// A Cache is not internally synchronized (spec: callers serialize access);
// see the top-level disca.Node for the facade that does so.
package diskcache

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Options configures a Cache at construction time.
type Options struct {
	// Root is the directory files are stored under. Created if missing.
	Root string
	// FilesToEvict is the eviction batch size. Must be >= 2; evict()
	// removes up to FilesToEvict-1 entries per pass (a value of 1 evicts
	// nothing, matching the Rust original's half-open `1..files_to_evict`
	// range).
	FilesToEvict int
	// Capacity is the total byte budget the LRU tries to stay under.
	Capacity int64
}

// Cache is a bounded LRU disk cache. See package doc for the concurrency
// contract.
type Cache struct {
	root         string
	filesToEvict int
	capacity     int64
	lru          *sizedLRU
	notifier     Notifier
}

// New creates (if missing) the root directory and returns a ready Cache.
func New(opts Options, notifier Notifier) (*Cache, error) {
	if opts.FilesToEvict < 2 {
		return nil, errors.Errorf("diskcache: files_to_evict must be >= 2, got %d", opts.FilesToEvict)
	}
	if opts.Capacity <= 0 {
		return nil, errors.Errorf("diskcache: capacity must be > 0, got %d", opts.Capacity)
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "diskcache: failed to create root %q", opts.Root)
	}
	return &Cache{
		root:         opts.Root,
		filesToEvict: opts.FilesToEvict,
		capacity:     opts.Capacity,
		lru:          newSizedLRU(),
		notifier:     notifier,
	}, nil
}

// Size returns the current total byte size recorded in the LRU index.
func (c *Cache) Size() int64 {
	return c.lru.Size()
}

func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, "/\\") {
		return ErrInvalidKey
	}
	return nil
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.root, key)
}

// Touch marks key as most-recently-used if present. No error on absence.
func (c *Cache) Touch(key string) {
	c.lru.Touch(key)
}

// Get marks key as most-recently-used, then opens the backing file.
// It returns (nil, nil) if the key is absent -- either never inserted, or
// the LRU says present but the file is missing out-of-band. A stale LRU
// entry in that second case is left to linger until it is naturally
// evicted (spec.md §9 Open Question 2: not repaired).
func (c *Cache) Get(key string) (*os.File, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	c.lru.Touch(key)
	f, err := os.Open(c.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "diskcache: reading %q", key)
	}
	return f, nil
}

// Insert admits key with the given bytes. It is idempotent: if key is
// already present the call succeeds without touching disk. Otherwise, if
// admitting data would exceed capacity, evict runs once before the write.
//
// The LRU entry is recorded before the file write happens; a write failure
// therefore leaves the LRU and the disk out of sync on purpose (spec.md §9
// Open Question 3: no rollback). Callers observing an error here must
// assume the key may or may not be retrievable afterwards.
func (c *Cache) Insert(key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if c.lru.Contains(key) {
		return nil
	}

	size := int64(len(data))
	if c.lru.Size()+size > c.capacity {
		c.evict()
	}

	c.lru.Insert(key, size)
	if err := os.WriteFile(c.path(key), data, 0o644); err != nil {
		return errors.Wrapf(err, "diskcache: writing %q", key)
	}
	c.notify(func() { c.notifier.Added(key) })
	return nil
}

// evict removes up to filesToEvict-1 least-recently-used entries. Deletion
// failures are swallowed after reinstating the entry in the LRU at its
// previous size; recency order is not restored (see sizedLRU.Reinstate).
func (c *Cache) evict() {
	type removed struct {
		key  string
		size int64
	}
	batch := make([]removed, 0, c.filesToEvict-1)
	for i := 1; i < c.filesToEvict; i++ {
		key, size, ok := c.lru.RemoveLRU()
		if !ok {
			break
		}
		batch = append(batch, removed{key, size})
	}

	for _, r := range batch {
		if err := os.Remove(c.path(r.key)); err != nil {
			logrus.WithError(err).WithField("key", r.key).Warn("diskcache: evict failed, reinstating entry")
			c.lru.Reinstate(r.key, r.size)
			continue
		}
		c.notify(func() { c.notifier.Removed(r.key) })
	}
}

// notify invokes fn, recovering any panic so a misbehaving Notifier can
// never surface as a cache error or corrupt cache state.
func (c *Cache) notify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("diskcache: notifier panicked, ignoring")
		}
	}()
	fn()
}
