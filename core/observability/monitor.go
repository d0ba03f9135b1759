// Package observability records per-outcome request latency for the engine.
package observability

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Upper bounds of the latency buckets. The last bucket is unbounded.
var BucketBounds = [...]time.Duration{
	100 * time.Microsecond,
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
}

const numBuckets = len(BucketBounds) + 1

// Thresholds used by Bottlenecks.
const (
	SlowAverage   = 100 * time.Millisecond
	HighErrorRate = 0.05
)

// Monitor aggregates request durations by outcome, e.g. "200", "404" or
// "dropped". It is safe for concurrent use.
type Monitor struct {
	enabled  atomic.Bool
	outcomes sync.Map // string -> *outcomeMetrics
}

type outcomeMetrics struct {
	count         atomic.Uint64
	errors        atomic.Uint64
	totalDuration atomic.Uint64
	minDuration   atomic.Uint64
	maxDuration   atomic.Uint64
	buckets       [numBuckets]atomic.Uint64
}

// Snapshot is a point-in-time copy of one outcome's metrics.
type Snapshot struct {
	Count   uint64             `json:"count"`
	Errors  uint64             `json:"errors"`
	Min     time.Duration      `json:"min"`
	Max     time.Duration      `json:"max"`
	Avg     time.Duration      `json:"avg"`
	Buckets [numBuckets]uint64 `json:"buckets"`
}

// Bottleneck represents a performance issue
type Bottleneck struct {
	Type     string `json:"type"`
	Outcome  string `json:"outcome"`
	Severity int    `json:"severity"`
	Details  string `json:"details"`
}

// NewMonitor creates an enabled monitor
func NewMonitor() *Monitor {
	m := &Monitor{}
	m.enabled.Store(true)
	return m
}

// Enable turns recording on
func (m *Monitor) Enable() {
	m.enabled.Store(true)
}

// Disable turns recording off. Recorded data is kept.
func (m *Monitor) Disable() {
	m.enabled.Store(false)
}

// Record adds one request of the given outcome.
func (m *Monitor) Record(outcome string, d time.Duration, isError bool) {
	if !m.enabled.Load() {
		return
	}

	val, ok := m.outcomes.Load(outcome)
	if !ok {
		val, _ = m.outcomes.LoadOrStore(outcome, &outcomeMetrics{})
	}
	om := val.(*outcomeMetrics)

	om.count.Add(1)
	if isError {
		om.errors.Add(1)
	}

	ns := uint64(max(d, 0))
	om.totalDuration.Add(ns)
	om.updateMinMax(ns)
	om.buckets[bucketFor(d)].Add(1)
}

// Start returns a timestamp for Finish, or zero when disabled.
func (m *Monitor) Start() time.Time {
	if !m.enabled.Load() {
		return time.Time{}
	}
	return time.Now()
}

// Finish records the time elapsed since start.
func (m *Monitor) Finish(outcome string, start time.Time, isError bool) {
	if start.IsZero() {
		return
	}
	m.Record(outcome, time.Since(start), isError)
}

func (om *outcomeMetrics) updateMinMax(d uint64) {
	for {
		cur := om.minDuration.Load()
		if cur != 0 && d >= cur {
			break
		}
		if om.minDuration.CompareAndSwap(cur, d) {
			break
		}
	}
	for {
		cur := om.maxDuration.Load()
		if d <= cur {
			break
		}
		if om.maxDuration.CompareAndSwap(cur, d) {
			break
		}
	}
}

func bucketFor(d time.Duration) int {
	for i, bound := range BucketBounds {
		if d < bound {
			return i
		}
	}
	return numBuckets - 1
}

// Snapshot returns a copy of every outcome's metrics.
func (m *Monitor) Snapshot() map[string]Snapshot {
	out := make(map[string]Snapshot)
	m.outcomes.Range(func(key, value any) bool {
		om := value.(*outcomeMetrics)
		s := Snapshot{
			Count:  om.count.Load(),
			Errors: om.errors.Load(),
			Min:    time.Duration(om.minDuration.Load()),
			Max:    time.Duration(om.maxDuration.Load()),
		}
		if s.Count > 0 {
			s.Avg = time.Duration(om.totalDuration.Load() / s.Count)
		}
		for i := range om.buckets {
			s.Buckets[i] = om.buckets[i].Load()
		}
		out[key.(string)] = s
		return true
	})
	return out
}

// Bottlenecks reports outcomes whose average latency or error rate exceeds
// SlowAverage or HighErrorRate, sorted by severity then outcome.
func (m *Monitor) Bottlenecks() []Bottleneck {
	var found []Bottleneck
	for outcome, s := range m.Snapshot() {
		if s.Count == 0 {
			continue
		}
		if s.Avg > SlowAverage {
			found = append(found, Bottleneck{
				Type:     "latency",
				Outcome:  outcome,
				Severity: 8,
				Details:  fmt.Sprintf("high latency (%v avg)", s.Avg),
			})
		}
		if rate := float64(s.Errors) / float64(s.Count); rate > HighErrorRate {
			found = append(found, Bottleneck{
				Type:     "errors",
				Outcome:  outcome,
				Severity: 10,
				Details:  fmt.Sprintf("%.1f%% error rate", rate*100),
			})
		}
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].Severity != found[j].Severity {
			return found[i].Severity > found[j].Severity
		}
		return found[i].Outcome < found[j].Outcome
	})
	return found
}
