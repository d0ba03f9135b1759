package pools

import (
	"runtime"
	"runtime/debug"
	"time"
)

// GCConfig holds GC tuning parameters
type GCConfig struct {
	// Percent is the GOGC target. 0 leaves the runtime setting alone and
	// -1 disables collection until MemoryLimit is reached.
	Percent int

	// MemoryLimit is the soft memory limit in bytes. 0 = no limit.
	MemoryLimit int64
}

// ApplyGCConfig applies cfg to the runtime and returns the settings it
// replaced, so a caller can restore them.
func ApplyGCConfig(cfg GCConfig) GCConfig {
	var prev GCConfig

	if cfg.Percent != 0 {
		prev.Percent = debug.SetGCPercent(cfg.Percent)
	}

	if cfg.MemoryLimit > 0 {
		prev.MemoryLimit = debug.SetMemoryLimit(cfg.MemoryLimit)
	}
	return prev
}

// GCStats holds garbage collection statistics
type GCStats struct {
	NumGC        uint32        `json:"num_gc"`
	PauseTotal   time.Duration `json:"pause_total"`
	LastPause    time.Duration `json:"last_pause"`
	AvgPause     time.Duration `json:"avg_pause"`
	HeapAlloc    uint64        `json:"heap_alloc"`
	Sys          uint64        `json:"sys"`
	NumGoroutine int           `json:"num_goroutine"`
}

// ReadGCStats returns current GC statistics. Pause figures cover at most the
// last 256 collections.
func ReadGCStats() GCStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := GCStats{
		NumGC:        ms.NumGC,
		HeapAlloc:    ms.HeapAlloc,
		Sys:          ms.Sys,
		NumGoroutine: runtime.NumGoroutine(),
	}
	if ms.NumGC == 0 {
		return stats
	}

	stats.LastPause = time.Duration(ms.PauseNs[(ms.NumGC+255)%256])

	n := min(ms.NumGC, 256)
	var total uint64
	for i := uint32(0); i < n; i++ {
		total += ms.PauseNs[i]
	}
	stats.PauseTotal = time.Duration(total)
	stats.AvgPause = time.Duration(total / uint64(n))
	return stats
}
