package pools

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/searchktools/fast-server/core/arena"
)

func TestArenaPool_GetPut(t *testing.T) {
	ap := NewArenaPool(ArenaPoolConfig{BlockSize: 1024})

	a := ap.Get()
	require.NotNil(t, a)
	require.Equal(t, 1024, a.BlockSize())

	_, err := a.Alloc(100)
	require.NoError(t, err)
	_, err = a.Alloc(2000)
	require.NoError(t, err)

	ap.Put(a)
	stats := a.Stats()
	require.Equal(t, 1, stats.Blocks, "put must reset to the first block")
	require.Zero(t, stats.Used)

	ap.Put(nil)
	s := ap.Stats()
	require.EqualValues(t, 1, s.Gets)
	require.EqualValues(t, 1, s.Puts)
	require.EqualValues(t, 1, s.News)
}

func TestArenaPool_DefaultBlockSize(t *testing.T) {
	ap := NewArenaPool(ArenaPoolConfig{WarmupSize: 2})
	a := ap.Get()
	require.Equal(t, arena.DefaultBlockSize, a.BlockSize())
	ap.Put(a)
}

func BenchmarkArenaPool_GetPut(b *testing.B) {
	ap := NewArenaPool(ArenaPoolConfig{WarmupSize: 16})
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			a := ap.Get()
			a.Alloc(64)
			ap.Put(a)
		}
	})
}
