package core

import (
	"encoding/json"
	"fmt"

	"github.com/searchktools/fast-server/core/cache"
	"github.com/searchktools/fast-server/core/observability"
	"github.com/searchktools/fast-server/core/pools"
)

// Stats represents engine statistics
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Served   uint64 `json:"served"`
	Dropped  uint64 `json:"dropped"`
	OK       uint64 `json:"ok"`
	NotFound uint64 `json:"not_found"`

	Workers pools.WorkerPoolStats `json:"workers"`
	Arenas  pools.ArenaPoolStats  `json:"arenas"`
	Cache   cache.Stats           `json:"cache"`
	Runtime pools.GCStats         `json:"runtime"`

	Latency map[string]observability.Snapshot `json:"latency"`
}

// Stats returns a snapshot of the engine counters
func (e *Engine) Stats() Stats {
	return Stats{
		Accepted: e.stats.accepted.Load(),
		Served:   e.stats.served.Load(),
		Dropped:  e.stats.dropped.Load(),
		OK:       e.stats.ok.Load(),
		NotFound: e.stats.notFound.Load(),
		Workers:  e.workers.Stats(),
		Arenas:   e.arenas.Stats(),
		Cache:    e.cache.Stats(),
		Runtime:  pools.ReadGCStats(),
		Latency:  e.monitor.Snapshot(),
	}
}

// StatsJSON returns engine statistics as JSON string
func (e *Engine) StatsJSON() string {
	data, _ := json.MarshalIndent(e.Stats(), "", "  ")
	return string(data)
}

// StatsText returns engine statistics as human-readable text
func (e *Engine) StatsText() string {
	s := e.Stats()
	return fmt.Sprintf(`Engine Statistics
=================

Connections:
  Accepted:  %d
  Served:    %d (200: %d, 404: %d)
  Dropped:   %d

Workers:
  Workers:   %d
  Completed: %d
  Pending:   %d
  Panics:    %d

Cache:
  Entries:   %d
  Mappings:  %d
  Hits:      %d
  Misses:    %d
  Refreshes: %d

Arena Pool:
  Gets:      %d
  Hit Rate:  %.2f%%

Runtime:
  GC Cycles: %d
  Avg Pause: %v
  Heap:      %d bytes
`,
		s.Accepted, s.Served, s.OK, s.NotFound, s.Dropped,
		s.Workers.NumWorkers, s.Workers.TasksCompleted, s.Workers.TasksPending, s.Workers.Panics,
		s.Cache.Entries, s.Cache.Mappings, s.Cache.Hits, s.Cache.Misses, s.Cache.Refreshes,
		s.Arenas.Gets, s.Arenas.HitRate*100,
		s.Runtime.NumGC, s.Runtime.AvgPause, s.Runtime.HeapAlloc,
	)
}
