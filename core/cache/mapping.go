package cache

import (
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// mapping is one immutable snapshot of a file: the open descriptor and a
// read-only private mapping of its contents. It is shared by the entry that
// publishes it and by every View that leased it, and torn down when the last
// of them lets go.
type mapping struct {
	file    *os.File
	data    []byte
	size    int64
	modTime time.Time

	refs atomic.Int64
	live *atomic.Int64
}

// openMapping opens and maps path. The returned mapping holds one reference.
func openMapping(fsys FileSystem, path string, live *atomic.Int64) (*mapping, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("%w: %v", ErrNotFound, err), f.Close())
	}
	if !fi.Mode().IsRegular() {
		return nil, multierr.Append(fmt.Errorf("%w: %s is not a regular file", ErrNotFound, path), f.Close())
	}

	m := &mapping{
		file:    f,
		size:    fi.Size(),
		modTime: fi.ModTime(),
		live:    live,
	}

	// A zero-length mmap is rejected by the kernel; empty files are served
	// without one.
	if m.size > 0 {
		m.data, err = unix.Mmap(int(f.Fd()), 0, int(m.size), unix.PROT_READ, unix.MAP_PRIVATE)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("%w: %s: %v", ErrMap, path, err), f.Close())
		}
	}

	m.refs.Store(1)
	if live != nil {
		live.Add(1)
	}
	return m, nil
}

// current reports whether fi still describes the mapped file.
func (m *mapping) current(fi fs.FileInfo) bool {
	return m.modTime.Equal(fi.ModTime()) && m.size == fi.Size()
}

// acquire takes a reference. It fails once the count has dropped to zero.
func (m *mapping) acquire() bool {
	for {
		n := m.refs.Load()
		if n <= 0 {
			return false
		}
		if m.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops a reference and destroys the mapping on the last one.
func (m *mapping) release() error {
	if m.refs.Add(-1) != 0 {
		return nil
	}
	return m.destroy()
}

func (m *mapping) destroy() error {
	var err error
	if m.data != nil {
		err = unix.Munmap(m.data)
		m.data = nil
	}
	err = multierr.Append(err, m.file.Close())
	if m.live != nil {
		m.live.Add(-1)
	}
	return err
}
