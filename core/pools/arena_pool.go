package pools

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchktools/fast-server/core/arena"
)

// ArenaPool recycles per-connection arenas. Arenas are reset on Put, so each
// one keeps its first block warm for the next connection.
type ArenaPool struct {
	pool      sync.Pool
	blockSize int

	// Statistics
	gets      atomic.Uint64
	puts      atomic.Uint64
	news      atomic.Uint64
	startTime time.Time
}

// ArenaPoolConfig configures an arena pool
type ArenaPoolConfig struct {
	BlockSize  int // Standard block size of pooled arenas
	WarmupSize int // Number of arenas to pre-allocate
}

// NewArenaPool creates a new arena pool
func NewArenaPool(config ArenaPoolConfig) *ArenaPool {
	if config.BlockSize <= 0 {
		config.BlockSize = arena.DefaultBlockSize
	}

	ap := &ArenaPool{
		blockSize: config.BlockSize,
		startTime: time.Now(),
	}
	ap.pool.New = func() any {
		ap.news.Add(1)
		return arena.New(arena.WithBlockSize(ap.blockSize))
	}

	ap.Warmup(config.WarmupSize)
	return ap
}

// Get acquires an arena from the pool
func (ap *ArenaPool) Get() *arena.Arena {
	ap.gets.Add(1)
	return ap.pool.Get().(*arena.Arena)
}

// Put resets a and returns it to the pool
func (ap *ArenaPool) Put(a *arena.Arena) {
	if a == nil {
		return
	}

	ap.puts.Add(1)
	a.Reset()
	ap.pool.Put(a)
}

// Warmup pre-allocates n arenas, each with its first block reserved
func (ap *ArenaPool) Warmup(n int) {
	for i := 0; i < n; i++ {
		a := arena.New(arena.WithBlockSize(ap.blockSize))
		a.Alloc(1)
		a.Reset()
		ap.pool.Put(a)
	}
}

// Stats returns pool statistics
func (ap *ArenaPool) Stats() ArenaPoolStats {
	gets := ap.gets.Load()
	puts := ap.puts.Load()
	news := ap.news.Load()

	hitRate := 0.0
	if gets > news {
		// Arenas served from the pool vs newly created
		hitRate = float64(gets-news) / float64(gets)
	}

	return ArenaPoolStats{
		Gets:      gets,
		Puts:      puts,
		News:      news,
		HitRate:   hitRate,
		Uptime:    time.Since(ap.startTime),
		ReuseRate: float64(puts) / float64(gets+1), // Avoid division by zero
	}
}

// ArenaPoolStats contains arena pool statistics
type ArenaPoolStats struct {
	Gets      uint64        `json:"gets"`
	Puts      uint64        `json:"puts"`
	News      uint64        `json:"news"`
	HitRate   float64       `json:"hit_rate"`
	Uptime    time.Duration `json:"uptime"`
	ReuseRate float64       `json:"reuse_rate"`
}
