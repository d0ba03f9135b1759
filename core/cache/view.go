package cache

import (
	"os"
	"sync/atomic"
	"time"
)

// View is a leased, read-only handle on one snapshot of a cached file.
// The bytes stay valid until Close, even if the entry is refreshed or
// deleted in the meantime.
type View struct {
	res    *Resource
	m      *mapping
	closed atomic.Bool
}

func newView(res *Resource, m *mapping) *View {
	return &View{res: res, m: m}
}

// Bytes returns the mapped contents. Empty files yield nil.
func (v *View) Bytes() []byte { return v.m.data }

// Len returns the size of the snapshot in bytes.
func (v *View) Len() int64 { return v.m.size }

// ModTime returns the modification time the snapshot was taken at.
func (v *View) ModTime() time.Time { return v.m.modTime }

// File returns the open descriptor backing the snapshot, for sendfile.
// It must not be closed by the caller.
func (v *View) File() *os.File { return v.m.file }

// Path returns the cache key.
func (v *View) Path() string { return v.res.path }

// Resource returns the cache entry the view was leased from.
func (v *View) Resource() *Resource { return v.res }

// Close returns the lease. Calling Close more than once is a no-op.
func (v *View) Close() error {
	if !v.closed.CompareAndSwap(false, true) {
		return nil
	}
	return v.m.release()
}
