// Package cache keeps memory-mapped snapshots of files keyed by path.
//
// Entries are created on first use and kept until deleted or the cache is
// closed. Every Get re-stats the file; a changed modification time or size
// publishes a fresh snapshot while readers of the previous one keep it alive
// until they close their View.
package cache

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-server/core/index"
)

// Error definitions
var (
	ErrNotFound = errors.New("cache: resource not found")
	ErrMap      = errors.New("cache: mmap failed")
	ErrClosed   = errors.New("cache: closed")
)

// FileSystem is the file access the cache needs.
type FileSystem interface {
	Stat(name string) (fs.FileInfo, error)
	Open(name string) (*os.File, error)
}

// OSFileSystem is the FileSystem backed by the os package.
type OSFileSystem struct{}

func (OSFileSystem) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

// Open opens name read-only without blocking, so a path replaced by a FIFO
// after its stat cannot stall the caller.
func (OSFileSystem) Open(name string) (*os.File, error) {
	return os.OpenFile(name, os.O_RDONLY|unix.O_NONBLOCK, 0)
}

// Resource is a cache entry. The current snapshot is swapped atomically;
// mu serializes refreshes and detaching.
type Resource struct {
	path string
	cur  atomic.Pointer[mapping]
	mu   sync.Mutex
}

// Path returns the entry's key.
func (r *Resource) Path() string { return r.path }

// lease returns the current snapshot with a reference taken, or nil once the
// entry has been detached.
func (r *Resource) lease() *mapping {
	for {
		m := r.cur.Load()
		if m == nil {
			return nil
		}
		if m.acquire() {
			return m
		}
	}
}

// detach drops the entry's own reference. Views still open keep the snapshot.
func (r *Resource) detach() error {
	r.mu.Lock()
	old := r.cur.Swap(nil)
	r.mu.Unlock()
	if old == nil {
		return nil
	}
	return old.release()
}

func compareResource(a, b *Resource) int {
	return strings.Compare(a.path, b.path)
}

// Stats holds cache counters.
type Stats struct {
	Entries    int   `json:"entries"`
	Mappings   int64 `json:"mappings"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Refreshes  int64 `json:"refreshes"`
	RaceLosses int64 `json:"race_losses"`
	Evictions  int64 `json:"evictions"`
}

// Cache maps paths to Resources.
type Cache struct {
	mu     sync.RWMutex
	index  *index.Index[*Resource]
	closed bool

	fs     FileSystem
	logger zerolog.Logger

	mappings   atomic.Int64
	hits       atomic.Int64
	misses     atomic.Int64
	refreshes  atomic.Int64
	raceLosses atomic.Int64
	evictions  atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithFileSystem replaces the os-backed file access.
func WithFileSystem(fsys FileSystem) Option {
	return func(c *Cache) {
		if fsys != nil {
			c.fs = fsys
		}
	}
}

// WithLogger sets the logger used for release failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		index:  index.New(compareResource),
		fs:     OSFileSystem{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a view of the file at path, mapping it on first use and
// refreshing the snapshot when the file changed since it was mapped.
func (c *Cache) Get(path string) (*View, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrClosed
	}
	res, ok := c.index.Find(&Resource{path: path})
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return c.Add(path)
	}

	fi, err := c.fs.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		c.evict(res)
		return nil, ErrNotFound
	}

	m := res.lease()
	if m == nil {
		// Deleted between lookup and lease.
		c.misses.Add(1)
		return c.Add(path)
	}
	if m.current(fi) {
		c.hits.Add(1)
		return newView(res, m), nil
	}
	c.release(m)

	return c.refresh(res, fi)
}

// refresh publishes a new snapshot of res if fi no longer matches the
// current one. Concurrent refreshes of the same entry map the file once.
func (c *Cache) refresh(res *Resource, fi fs.FileInfo) (*View, error) {
	res.mu.Lock()

	cur := res.cur.Load()
	if cur == nil {
		res.mu.Unlock()
		c.misses.Add(1)
		return c.Add(res.path)
	}
	if cur.current(fi) {
		cur.acquire()
		res.mu.Unlock()
		c.hits.Add(1)
		return newView(res, cur), nil
	}

	fresh, err := openMapping(c.fs, res.path, &c.mappings)
	if err != nil {
		res.mu.Unlock()
		if errors.Is(err, ErrNotFound) {
			c.evict(res)
		}
		return nil, err
	}

	fresh.acquire()
	res.cur.Store(fresh)
	res.mu.Unlock()

	c.refreshes.Add(1)
	c.logger.Debug().Str("path", res.path).Time("mod_time", fresh.modTime).Msg("resource refreshed")
	c.release(cur)
	return newView(res, fresh), nil
}

// Add maps path and inserts it. If another goroutine inserted the same path
// first, the fresh mapping is discarded and a view of the existing entry is
// returned instead.
func (c *Cache) Add(path string) (*View, error) {
	fi, err := c.fs.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return nil, ErrNotFound
	}

	m, err := openMapping(c.fs, path, &c.mappings)
	if err != nil {
		return nil, err
	}
	m.acquire()

	res := &Resource{path: path}
	res.cur.Store(m)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.release(m)
		c.release(m)
		return nil, ErrClosed
	}
	if c.index.Insert(res) {
		c.mu.Unlock()
		return newView(res, m), nil
	}

	winner, _ := c.index.Find(res)
	wm := winner.lease()
	c.mu.Unlock()

	c.raceLosses.Add(1)
	c.release(m)
	c.release(m)

	if wm == nil {
		return nil, ErrNotFound
	}
	return newView(winner, wm), nil
}

// Delete removes path from the cache. It reports whether an entry existed.
func (c *Cache) Delete(path string) bool {
	c.mu.Lock()
	res, ok := c.index.Erase(&Resource{path: path})
	c.mu.Unlock()
	if !ok {
		return false
	}

	if err := res.detach(); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("release failed")
	}
	return true
}

// evict removes res if it is still the entry stored for its path.
func (c *Cache) evict(res *Resource) {
	c.mu.Lock()
	stored, ok := c.index.Find(res)
	if ok && stored == res {
		c.index.Erase(res)
	}
	c.mu.Unlock()

	if !ok || stored != res {
		return
	}
	c.evictions.Add(1)
	if err := res.detach(); err != nil {
		c.logger.Warn().Err(err).Str("path", res.path).Msg("release failed")
	}
}

func (c *Cache) release(m *mapping) {
	if err := m.release(); err != nil {
		c.logger.Warn().Err(err).Msg("release failed")
	}
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:    c.Len(),
		Mappings:   c.mappings.Load(),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Refreshes:  c.refreshes.Load(),
		RaceLosses: c.raceLosses.Load(),
		Evictions:  c.evictions.Load(),
	}
}

// Close drops every entry. Open views stay readable until closed; later
// calls to Get and Add fail with ErrClosed.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	entries := make([]*Resource, 0, c.index.Len())
	c.index.Visit(func(res *Resource) bool {
		entries = append(entries, res)
		return true
	})
	c.index.Clear()
	c.mu.Unlock()

	var err error
	for _, res := range entries {
		err = multierr.Append(err, res.detach())
	}
	return err
}
