// Package arena implements a bump-pointer region allocator.
//
// An Arena hands out byte slices carved from a list of fixed-size blocks.
// Memory is never moved once returned and is only given back in bulk, via
// ReleaseAll or Reset. An Arena is not safe for concurrent use.
package arena

import (
	"errors"
	"unsafe"
)

// Block geometry
const (
	PageSize         = 4096
	DefaultBlockSize = 8 * PageSize
	DefaultAlignment = 2 * int(unsafe.Sizeof(uintptr(0)))
)

// Error definitions
var (
	ErrExhausted    = errors.New("arena: memory limit exhausted")
	ErrBadAlignment = errors.New("arena: alignment must be a power of two")
)

// Arena is a region allocator backed by a growable list of blocks.
//
// Unaligned allocations are carved from the end of the current block and
// aligned allocations from its start, so both kinds share one block until
// the cursors meet.
type Arena struct {
	blockSize int
	limit     int

	blocks [][]byte
	cur    []byte
	pos    int // first free byte from the front
	end    int // one past the last free byte from the back
	remain int

	reserved int
	used     int
}

// Option configures an Arena.
type Option func(*Arena)

// WithBlockSize sets the size of the standard blocks.
func WithBlockSize(size int) Option {
	return func(a *Arena) {
		if size > 0 {
			a.blockSize = size
		}
	}
}

// WithLimit caps the total number of bytes the arena may reserve.
// Once the cap would be exceeded allocations fail with ErrExhausted.
func WithLimit(bytes int) Option {
	return func(a *Arena) {
		if bytes > 0 {
			a.limit = bytes
		}
	}
}

// New creates an empty arena. No memory is reserved until the first allocation.
func New(opts ...Option) *Arena {
	a := &Arena{blockSize: DefaultBlockSize}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BlockSize returns the standard block size.
func (a *Arena) BlockSize() int {
	return a.blockSize
}

// Alloc returns size untouched bytes. A zero size returns nil without error.
//
// Requests of at least one block are served from a dedicated block sized to
// the request, and the current block is considered exhausted afterwards so the
// next small allocation starts a fresh block.
func (a *Arena) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}

	if size >= a.blockSize {
		return a.huge(size, 1)
	}

	if size > a.remain {
		if err := a.grow(); err != nil {
			return nil, err
		}
	}

	a.end -= size
	a.remain -= size
	a.used += size
	return a.cur[a.end : a.end+size : a.end+size], nil
}

// AllocAligned is like Alloc but the first byte of the returned slice sits at
// an address that is a multiple of align. An align of zero selects
// DefaultAlignment. Padding skipped to reach the alignment is not reclaimed.
func (a *Arena) AllocAligned(size, align int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}

	if align == 0 {
		align = DefaultAlignment
	}
	if align < 0 || align&(align-1) != 0 {
		return nil, ErrBadAlignment
	}

	if size >= a.blockSize {
		return a.huge(size, align)
	}

	if b, ok := a.carveAligned(size, align); ok {
		return b, nil
	}

	if err := a.grow(); err != nil {
		return nil, err
	}
	if b, ok := a.carveAligned(size, align); ok {
		return b, nil
	}

	// Alignment larger than what a fresh block can satisfy.
	return a.huge(size, align)
}

// Realloc allocates newSize bytes and copies min(len(old), newSize) bytes from
// old into them. The old memory is not reclaimed.
func (a *Arena) Realloc(old []byte, newSize int) ([]byte, error) {
	b, err := a.Alloc(newSize)
	if err != nil || b == nil {
		return b, err
	}
	copy(b, old)
	return b, nil
}

// ReallocAligned is the aligned variant of Realloc.
func (a *Arena) ReallocAligned(old []byte, newSize, align int) ([]byte, error) {
	b, err := a.AllocAligned(newSize, align)
	if err != nil || b == nil {
		return b, err
	}
	copy(b, old)
	return b, nil
}

// String copies b into the arena and returns it as a string backed by arena
// memory. The string must not outlive the next ReleaseAll or Reset.
func (a *Arena) String(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	dst, err := a.Alloc(len(b))
	if err != nil {
		return "", err
	}
	copy(dst, b)
	return unsafe.String(&dst[0], len(dst)), nil
}

// CopyString is String for a string source.
func (a *Arena) CopyString(s string) (string, error) {
	return a.String(unsafe.Slice(unsafe.StringData(s), len(s)))
}

// CopyBytes returns an arena-backed copy of b.
func (a *Arena) CopyBytes(b []byte) ([]byte, error) {
	dst, err := a.Alloc(len(b))
	if err != nil || dst == nil {
		return dst, err
	}
	copy(dst, b)
	return dst, nil
}

// ReleaseAll drops every block and returns the arena to its empty state.
func (a *Arena) ReleaseAll() {
	clear(a.blocks)
	a.blocks = nil
	a.cur = nil
	a.pos, a.end, a.remain = 0, 0, 0
	a.reserved, a.used = 0, 0
}

// Reset rewinds the arena for reuse. The first standard block is kept and
// zeroed, every other block is dropped.
func (a *Arena) Reset() {
	var keep []byte
	if len(a.blocks) > 0 && len(a.blocks[0]) == a.blockSize {
		keep = a.blocks[0]
	}

	a.ReleaseAll()
	if keep == nil {
		return
	}

	clear(keep)
	a.blocks = append(a.blocks, keep)
	a.install(keep)
	a.reserved = len(keep)
}

// Stats describes the arena's current footprint.
type Stats struct {
	Blocks   int
	Reserved int
	Used     int
}

// Stats returns the number of blocks held, the bytes reserved from the
// runtime and the bytes handed out to callers (padding excluded).
func (a *Arena) Stats() Stats {
	return Stats{
		Blocks:   len(a.blocks),
		Reserved: a.reserved,
		Used:     a.used,
	}
}

func (a *Arena) carveAligned(size, align int) ([]byte, bool) {
	if a.cur == nil {
		return nil, false
	}

	padding := paddingFor(a.cur, a.pos, align)
	if size+padding > a.remain {
		return nil, false
	}

	start := a.pos + padding
	a.pos = start + size
	a.remain -= size + padding
	a.used += size
	return a.cur[start : start+size : start+size], true
}

// huge serves a request from its own block and exhausts the current one.
func (a *Arena) huge(size, align int) ([]byte, error) {
	n := size
	if align > 1 {
		n += align - 1
	}

	block, err := a.reserve(n)
	if err != nil {
		return nil, err
	}

	start := paddingFor(block, 0, align)
	a.cur = nil
	a.pos, a.end, a.remain = 0, 0, 0
	a.used += size
	return block[start : start+size : start+size], nil
}

func (a *Arena) grow() error {
	block, err := a.reserve(a.blockSize)
	if err != nil {
		return err
	}
	a.install(block)
	return nil
}

func (a *Arena) install(block []byte) {
	a.cur = block
	a.pos = 0
	a.end = len(block)
	a.remain = len(block)
}

func (a *Arena) reserve(n int) ([]byte, error) {
	if a.limit > 0 && a.reserved+n > a.limit {
		return nil, ErrExhausted
	}

	block := make([]byte, n)
	a.blocks = append(a.blocks, block)
	a.reserved += n
	return block, nil
}

func paddingFor(block []byte, off, align int) int {
	if align <= 1 || len(block) == 0 {
		return 0
	}
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(block))) + uintptr(off)
	if rem := int(addr % uintptr(align)); rem != 0 {
		return align - rem
	}
	return 0
}
