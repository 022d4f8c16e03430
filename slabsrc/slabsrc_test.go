package slabsrc_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/dgnorth/slagmalloc/alloctag"
	"github.com/dgnorth/slagmalloc/slabsrc"
)

func TestPageSourceCarveStampsTag(t *testing.T) {
	src := slabsrc.NewSmall(256<<10, alloctag.RegionSize)
	base, err := src.Carve()
	require.NoError(t, err)
	require.Equal(t, alloctag.SmallSlab, alloctag.Of(unsafe.Pointer(uintptr(base)+1)))
	t.Cleanup(func() { _ = src.Release(base, src.PageSize()) })
}

func TestPageSourceCarveReusesGroupSubpages(t *testing.T) {
	src := slabsrc.NewSmall(256<<10, alloctag.RegionSize)
	n := alloctag.RegionSize / (256 << 10)

	var pages []unsafe.Pointer
	for i := 0; i < n; i++ {
		p, err := src.Carve()
		require.NoError(t, err)
		pages = append(pages, p)
	}
	// every sub-page of the group resolves to the same tag byte
	for _, p := range pages {
		require.Equal(t, alloctag.SmallSlab, alloctag.Of(unsafe.Pointer(uintptr(p)+1)))
	}
	t.Cleanup(func() {
		for _, p := range pages {
			_ = src.Release(p, 256<<10)
		}
	})
}

func TestCacheAllocFreeRoundtrip(t *testing.T) {
	src := slabsrc.NewSmall(256<<10, alloctag.RegionSize)
	c := slabsrc.NewCache(64, src)

	p, err := c.AllocOne()
	require.NoError(t, err)
	require.NotNil(t, p)

	*(*byte)(p) = 0x42
	c.FreeOne(p)

	p2, err := c.AllocOne()
	require.NoError(t, err)
	require.Equal(t, p, p2, "freed slot should be reused before bumping further")

	require.NoError(t, c.Close())
}

func TestCacheCrossCloneFree(t *testing.T) {
	src := slabsrc.NewSmall(256<<10, alloctag.RegionSize)
	a := slabsrc.NewCache(32, src)
	b := a.Clone()

	p, err := a.AllocOne()
	require.NoError(t, err)

	// invariant I5: a different clone can free a pointer it never
	// allocated, since the owning page is found by pointer arithmetic.
	b.FreeOne(p)

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
}

func TestFindReportsObjectSize(t *testing.T) {
	src := slabsrc.NewSmall(256<<10, alloctag.RegionSize)
	c := slabsrc.NewCache(48, src)
	p, err := c.AllocOne()
	require.NoError(t, err)

	require.Equal(t, 48, slabsrc.Find(p, src.PageSize()))
	require.NoError(t, c.Close())
}
