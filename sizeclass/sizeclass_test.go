package sizeclass_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/dgnorth/slagmalloc/sizeclass"
)

// fakeCache is a trivial bump allocator over a Go-owned byte slice,
// standing in for a slabsrc.Cache so size-class geometry can be tested
// without touching the OS mmap path.
type fakeCache struct {
	size  int
	backs [][]byte
}

func newFakeCache(size int) sizeclass.Cache { return &fakeCache{size: size} }

func (c *fakeCache) AllocOne() (unsafe.Pointer, error) {
	b := make([]byte, c.size)
	c.backs = append(c.backs, b)
	return unsafe.Pointer(&b[0]), nil
}
func (c *fakeCache) FreeOne(unsafe.Pointer) {}
func (c *fakeCache) Clone() sizeclass.Cache { return newFakeCache(c.size) }
func (c *fakeCache) ObjectSize() int        { return c.size }
func (c *fakeCache) Close() error           { return nil }

func TestInitGeometryMonotonic(t *testing.T) {
	m := sizeclass.Init(16, 32, 16, newFakeCache)
	info := m.Describe()
	require.NotEmpty(t, info)
	for i := 1; i < len(info); i++ {
		require.Greater(t, info[i].Size, info[i-1].Size)
	}
}

func TestInitWordClassWhenMinAlign8(t *testing.T) {
	m := sizeclass.Init(16, 32, 8, newFakeCache)
	info := m.Describe()
	require.Equal(t, 8, info[0].Size)

	c8 := m.Get(1)
	require.Equal(t, 8, c8.ObjectSize())
	c8b := m.Get(8)
	require.Equal(t, 8, c8b.ObjectSize())
}

func TestGetPicksSmallestSufficientClass(t *testing.T) {
	m := sizeclass.Init(16, 32, 16, newFakeCache)
	for _, size := range []int{1, 15, 16, 17, 63, 64, 65, 1000, m.MaxKey()} {
		c := m.Get(size)
		require.GreaterOrEqualf(t, c.ObjectSize(), size, "size %d got class %d", size, c.ObjectSize())
	}
}

func TestMediumClassesArePowersOfTwo(t *testing.T) {
	m := sizeclass.Init(16, 32, 16, newFakeCache)
	c := m.Get(sizeclass.SmallCutoff + 1)
	size := c.ObjectSize()
	require.Equal(t, size&(size-1), 0, "medium class size %d is not a power of two", size)
}

func TestCloneReplaysConstructionOrder(t *testing.T) {
	m := sizeclass.Init(16, 32, 8, newFakeCache)
	clone := m.Clone()

	origInfo := m.Describe()
	cloneInfo := clone.Describe()
	require.Equal(t, origInfo, cloneInfo)

	for _, ci := range origInfo {
		require.Equal(t, m.Get(ci.Size).ObjectSize(), clone.Get(ci.Size).ObjectSize())
	}
}

func TestCloseClearsWordFirst(t *testing.T) {
	m := sizeclass.Init(16, 32, 8, newFakeCache)
	require.NoError(t, m.Close())
}
