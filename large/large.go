// Package large implements the large-object path (spec component 4.B):
// requests larger than the top size class are serviced by direct page
// mapping with an inline header one region below the returned pointer.
package large

import (
	"unsafe"

	"github.com/dgnorth/slagmalloc/alloctag"
	"github.com/dgnorth/slagmalloc/internal/xerr"
	"github.com/dgnorth/slagmalloc/osmmap"
	"github.com/dgnorth/slagmalloc/sizeclass"
)

// Header is the LargeAllocHeader of spec §3: stored one region below the
// returned pointer, at exactly the slot the region's tag byte would
// occupy (hence Tag is its first field).
type Header struct {
	Tag        alloctag.Tag
	_          [7]byte
	Base       unsafe.Pointer
	RegionSize int // actual mapped byte count, rounded up to sizeclass.SmallCutoff
}

func roundUp(n, m int) int { return (n + m - 1) &^ (m - 1) }

// Alloc services a request of n bytes via direct mapping. The mapped
// region is aligned to alloctag.RegionSize so that, per invariant I4, the
// returned pointer sits exactly one region above the base and the tag
// byte at align_down(ptr-1, RegionSize) coincides with the base, i.e.
// with Header.Tag.
func Alloc(n int) (unsafe.Pointer, error) {
	regionSize := n + alloctag.RegionSize
	mapSize := roundUp(regionSize, sizeclass.SmallCutoff)

	raw, err := osmmap.MapAligned(mapSize, alloctag.RegionSize)
	if err != nil {
		xerr.Fatal("large: mmap %d bytes for a %d-byte request: %v", mapSize, n, err)
	}

	base := unsafe.Pointer(&raw[0])
	userPtr := unsafe.Pointer(uintptr(base) + uintptr(alloctag.RegionSize))

	h := (*Header)(base)
	h.Tag = alloctag.DirectMap
	h.Base = base
	h.RegionSize = mapSize

	return userPtr, nil
}

func headerFor(p unsafe.Pointer) *Header {
	return (*Header)(alloctag.RegionBase(unsafe.Pointer(uintptr(p) - 1)))
}

// Free releases a direct mapping back to the OS. A header showing a
// zero RegionSize and nil Base is treated as an idempotent no-op: the
// resolved reading of spec §9's Open Question (see DESIGN.md) is that this
// is defined behavior, reachable when the reclamation worker's FreePtr
// path races a concurrent retirement of the same pointer.
func Free(p unsafe.Pointer) error {
	h := headerFor(p)
	if h.RegionSize == 0 && h.Base == nil {
		return nil
	}

	base, size := h.Base, h.RegionSize
	h.Tag = 0
	h.Base = nil
	h.RegionSize = 0

	if err := osmmap.Unmap(base, size); err != nil {
		return xerr.Wrap(err, "large: munmap %d bytes", size)
	}
	return nil
}

// GetSize reports the usable size of a direct-mapped allocation: the
// region size minus the one reserved header region.
func GetSize(p unsafe.Pointer) int {
	return headerFor(p).RegionSize - alloctag.RegionSize
}
