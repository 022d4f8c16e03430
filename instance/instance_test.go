package instance_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dgnorth/slagmalloc/alloctag"
	"github.com/dgnorth/slagmalloc/instance"
	"github.com/dgnorth/slagmalloc/sizeclass"
)

func TestAllocFreeAllSizeClasses(t *testing.T) {
	a := instance.New()
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	for _, size := range []int{1, 8, 16, 17, 100, 1000, 1 << 16, 1 << 20} {
		p, err := a.Alloc(size)
		require.NoError(t, err)
		require.GreaterOrEqual(t, a.GetSize(p), size)
		a.Free(p)
	}
}

func TestAllocAboveMaxClassUsesLargePath(t *testing.T) {
	a := instance.New()
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	n := a.MaxSizeClass() + 1
	p, err := a.Alloc(n)
	require.NoError(t, err)
	// the direct mapping is rounded up to whole sizeclass.SmallCutoff units
	mapSize := (n + alloctag.RegionSize + sizeclass.SmallCutoff - 1) &^ (sizeclass.SmallCutoff - 1)
	require.Equal(t, mapSize-alloctag.RegionSize, a.GetSize(p))
	a.Free(p)
}

func TestReallocGrowsAndCopies(t *testing.T) {
	a := instance.New()
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	p, err := a.Alloc(16)
	require.NoError(t, err)
	b := unsafe.Slice((*byte)(p), 16)
	for i := range b {
		b[i] = byte(i)
	}

	p2, err := a.Realloc(p, 1000, 0)
	require.NoError(t, err)
	b2 := unsafe.Slice((*byte)(p2), 16)
	require.Equal(t, b, b2)
	a.Free(p2)
}

func TestReallocShrinkKeepsPointer(t *testing.T) {
	a := instance.New()
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	p, err := a.Alloc(1000)
	require.NoError(t, err)
	p2, err := a.Realloc(p, 10, 0)
	require.NoError(t, err)
	require.Equal(t, p, p2)
	a.Free(p2)
}

func TestReallocToZeroFrees(t *testing.T) {
	a := instance.New()
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	p, err := a.Alloc(64)
	require.NoError(t, err)
	p2, err := a.Realloc(p, 0, 0)
	require.NoError(t, err)
	require.Nil(t, p2)
}

// TestCloneCrossThreadFree mirrors the general_alloc_basic_clone_many_threads
// scenario: many clones allocate concurrently, then one further clone
// that allocated none of them frees every pointer (invariant I5).
func TestCloneCrossThreadFree(t *testing.T) {
	a := instance.New()
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	const threads = 32
	const perThread = 200

	ptrs := make(chan unsafe.Pointer, threads*perThread)
	var g errgroup.Group
	for i := 0; i < threads; i++ {
		clone := a.Clone()
		g.Go(func() error {
			for j := 0; j < perThread; j++ {
				p, err := clone.Alloc(64)
				if err != nil {
					return err
				}
				ptrs <- p
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(ptrs)

	freer := a.Clone()
	for p := range ptrs {
		freer.Free(p)
	}
}
