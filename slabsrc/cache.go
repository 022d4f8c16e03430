// Modifications (c) 2024 The slagmalloc Authors, adapted from
// github.com/cznic/memory's node/free-list bump allocator.

package slabsrc

import (
	"sync"
	"unsafe"

	"github.com/dgnorth/slagmalloc/alloctag"
	"github.com/dgnorth/slagmalloc/sizeclass"
)

// slabHeader sits at the base of every page this package hands out. For
// the first sub-page of a small-source group (and for every large-source
// page, where groupAlign == unit), its tag field IS the region's 2 MiB tag
// byte spec §3/§4.A requires: alloctag.Of(p) resolves to exactly this
// address, so no separate stamping step is needed once the header is
// written here.
//
// brk/cap are only ever touched by the one cache currently bump-
// allocating from this page; freeList/used are touched by whichever
// thread last freed into this page, so mu guards those two plus brk/cap
// for simplicity — see DESIGN.md for why this trades a little fast-path
// contention for a much smaller component.
type slabHeader struct {
	tag      alloctag.Tag
	mu       sync.Mutex
	objSize  int
	cap      int32
	brk      int32
	used     int32
	freeList unsafe.Pointer
}

var headerSize = roundup16(int(unsafe.Sizeof(slabHeader{})))

func roundup16(n int) int { return (n + 15) &^ 15 }

// slabHandle is a cache's live reference to one page it is currently (or
// was) bump-allocating from.
type slabHandle struct {
	header   *slabHeader
	dataBase unsafe.Pointer
}

// Cache is a thread-owned, fixed-size-object arena backed by pages drawn
// from a shared PageSource. It implements sizeclass.Cache.
type Cache struct {
	objSize int
	source  *PageSource
	cur     *slabHandle
	pages   []*slabHandle
}

// NewCache builds a Cache for objects of size objSize, drawing pages from
// source.
func NewCache(objSize int, source *PageSource) *Cache {
	return &Cache{objSize: objSize, source: source}
}

func (c *Cache) ObjectSize() int { return c.objSize }

// AllocOne returns one object-sized slot: a freed slot if this page has
// one, otherwise the next never-used slot, pulling a fresh page from the
// source when the current one is exhausted.
func (c *Cache) AllocOne() (unsafe.Pointer, error) {
	for {
		if c.cur != nil {
			h := c.cur.header
			h.mu.Lock()
			if h.freeList != nil {
				p := h.freeList
				h.freeList = *(*unsafe.Pointer)(p)
				h.used++
				h.mu.Unlock()
				return p, nil
			}
			if h.brk < h.cap {
				p := unsafe.Pointer(uintptr(c.cur.dataBase) + uintptr(h.brk)*uintptr(c.objSize))
				h.brk++
				h.used++
				full := h.brk == h.cap
				h.mu.Unlock()
				if full {
					c.cur = nil
				}
				return p, nil
			}
			h.mu.Unlock()
			c.cur = nil
			continue
		}
		if err := c.newPage(); err != nil {
			return nil, err
		}
	}
}

// FreeOne returns p to its owning page's free list. p may have been
// allocated by a different clone of this cache on a different thread
// (spec invariant I5); the owning page is found by pure pointer
// arithmetic, so no reference to that clone is needed.
func (c *Cache) FreeOne(p unsafe.Pointer) {
	h := headerAt(p, c.source.PageSize())
	h.mu.Lock()
	*(*unsafe.Pointer)(p) = h.freeList
	h.freeList = p
	h.used--
	retire := h.used == 0 && h.brk == h.cap
	h.mu.Unlock()
	if retire {
		// The page is both exhausted (nobody will ever bump-allocate a
		// fresh slot from it again) and fully freed: safe to hand back
		// to the OS. Slab refill/eviction heuristics beyond this are
		// explicitly out of scope (spec §1 Non-goals).
		_ = c.source.Release(unsafe.Pointer(h), c.source.PageSize())
	}
}

func headerAt(p unsafe.Pointer, pageSize int) *slabHeader {
	base := uintptr(p) &^ uintptr(pageSize-1)
	return (*slabHeader)(unsafe.Pointer(base))
}

// Find is the Slab::find(ptr, page_size) collaborator named in spec §6: it
// returns the object size of the slab owning ptr. Exported so instance.go
// can implement layout_of/free's page-size dispatch without reaching into
// Cache internals.
func Find(p unsafe.Pointer, pageSize int) (objectSize int) {
	return headerAt(p, pageSize).objSize
}

func (c *Cache) newPage() error {
	base, err := c.source.Carve()
	if err != nil {
		return err
	}
	h := (*slabHeader)(base)
	h.tag = c.source.Tag()
	h.objSize = c.objSize
	// Power-of-two-sized objects start at a multiple of their own size,
	// so each one is aligned to its size.
	dataOff := headerSize
	if c.objSize&(c.objSize-1) == 0 {
		dataOff = (headerSize + c.objSize - 1) &^ (c.objSize - 1)
	}
	h.cap = int32((c.source.PageSize() - dataOff) / c.objSize)
	h.brk = 0
	h.used = 0
	h.freeList = nil

	sh := &slabHandle{header: h, dataBase: unsafe.Pointer(uintptr(base) + uintptr(dataOff))}
	c.cur = sh
	c.pages = append(c.pages, sh)
	return nil
}

// Clone returns a fresh, empty Cache over the same (reference-counted)
// page source — spec §4.D's "clone = new thread-local front-end over
// shared global pools" applied one level down, to a single size class.
func (c *Cache) Clone() sizeclass.Cache {
	return &Cache{objSize: c.objSize, source: c.source.Clone()}
}

// Close releases every page this cache ever carved back to the OS,
// regardless of outstanding live objects — the teardown path assumes no
// other thread still holds pointers into it (spec §4.D "Destruction").
func (c *Cache) Close() error {
	var first error
	for _, sh := range c.pages {
		if err := c.source.Release(unsafe.Pointer(sh.header), c.source.PageSize()); err != nil && first == nil {
			first = err
		}
	}
	c.pages = nil
	c.cur = nil
	return first
}
