package pools

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyGCConfig(t *testing.T) {
	prev := ApplyGCConfig(GCConfig{Percent: 250, MemoryLimit: 1 << 40})
	t.Cleanup(func() { ApplyGCConfig(prev) })

	require.NotZero(t, prev.Percent)
	require.NotZero(t, prev.MemoryLimit)

	back := ApplyGCConfig(prev)
	require.Equal(t, GCConfig{Percent: 250, MemoryLimit: 1 << 40}, back)
}

func TestApplyGCConfig_ZeroIsNoop(t *testing.T) {
	require.Equal(t, GCConfig{}, ApplyGCConfig(GCConfig{}))
}

func TestReadGCStats(t *testing.T) {
	runtime.GC()
	s := ReadGCStats()
	require.NotZero(t, s.NumGC)
	require.NotZero(t, s.Sys)
	require.Positive(t, s.NumGoroutine)
	require.LessOrEqual(t, s.AvgPause, s.PauseTotal)
}
