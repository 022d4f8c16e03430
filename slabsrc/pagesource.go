// Modifications (c) 2024 The slagmalloc Authors, adapted from
// github.com/cznic/memory's page/mmap bookkeeping.

// Package slabsrc provides a concrete rendering of the two out-of-scope
// collaborators spec §3/§6 name but does not prescribe the policy of: the
// PageSource (aligned page batches over the OS mmap primitive) and the
// per-size-class slab Cache built on top of it. The spec explicitly
// reserves eviction/refill/coalescing policy to this layer (§1 Non-goals);
// what's fixed here is only what the core depends on: tag stamping at
// region base, thread-safe alloc_one/free_one, Clone, and cross-thread
// free.
package slabsrc

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/dgnorth/slagmalloc/alloctag"
	"github.com/dgnorth/slagmalloc/internal/xerr"
	"github.com/dgnorth/slagmalloc/osmmap"
)

// sharedSource is the state every clone of a PageSource holds a reference
// to: the page geometry, the tag to stamp, and the pool of not-yet-handed-
// out sub-pages left over from the most recent group mmap.
type sharedSource struct {
	mu         sync.Mutex
	unit       int
	groupAlign int
	tag        alloctag.Tag
	pending    []unsafe.Pointer
	refs       int64
}

// PageSource supplies aligned page batches tagged with a fixed
// AllocationTag (spec §3 "PageSource"). Clones share the same backing
// pool by reference.
type PageSource struct {
	shared *sharedSource
}

// NewSmall builds a small-page source: natural page size `unit` (256 KiB
// by convention), allocated in `groupAlign`-aligned groups (2 MiB by
// convention) whose first sub-page is stamped SmallSlab.
func NewSmall(unit, groupAlign int) *PageSource {
	return &PageSource{shared: &sharedSource{
		unit:       unit,
		groupAlign: groupAlign,
		tag:        alloctag.SmallSlab,
		refs:       1,
	}}
}

// NewLarge builds a large-page source: natural page size `unit` (2 MiB by
// convention), one page per group (groupAlign == unit), each page stamped
// LargeSlab at its own base.
func NewLarge(unit int) *PageSource {
	return &PageSource{shared: &sharedSource{
		unit:       unit,
		groupAlign: unit,
		tag:        alloctag.LargeSlab,
		refs:       1,
	}}
}

// PageSize is the natural page size this source hands out.
func (s *PageSource) PageSize() int { return s.shared.unit }

// Tag is the AllocationTag stamped at the base of every region this source
// produces.
func (s *PageSource) Tag() alloctag.Tag { return s.shared.tag }

// Clone shares the backing pool by reference count; each clone is an
// independent handle over the same underlying memory pool (spec §3
// "AllocatorInstance... clones share the underlying page sources").
func (s *PageSource) Clone() *PageSource {
	atomic.AddInt64(&s.shared.refs, 1)
	return &PageSource{shared: s.shared}
}

// Carve hands out one natural-size page, stamped with this source's tag.
// For a small source, groups of groupAlign bytes are mmap'd and split into
// unit-sized sub-pages, cached in `pending` across calls; for a large
// source groupAlign == unit so every call mmaps a fresh page.
func (s *PageSource) Carve() (unsafe.Pointer, error) {
	sh := s.shared
	sh.mu.Lock()
	if n := len(sh.pending); n > 0 {
		p := sh.pending[n-1]
		sh.pending = sh.pending[:n-1]
		sh.mu.Unlock()
		// p is a non-zero sub-page of a group already stamped at its base
		// by the mmap branch below; only the group base's tag byte is
		// ever read by alloctag.Of, and StampAt requires region
		// alignment, which a sub-page offset does not have.
		return p, nil
	}
	sh.mu.Unlock()

	raw, err := osmmap.MapAligned(sh.groupAlign, sh.groupAlign)
	if err != nil {
		xerr.Fatal("slabsrc: carve %d-byte group: %v", sh.groupAlign, err)
	}
	base := unsafe.Pointer(&raw[0])

	n := sh.groupAlign / sh.unit
	if n > 1 {
		sh.mu.Lock()
		for i := n - 1; i >= 1; i-- {
			sh.pending = append(sh.pending, unsafe.Pointer(uintptr(base)+uintptr(i*sh.unit)))
		}
		sh.mu.Unlock()
	}
	alloctag.StampAt(base, sh.tag)
	return base, nil
}

// Release returns a carved page to the OS. A small sub-page release
// unmaps just that unit-sized sub-range of its group's mapping, which
// POSIX mmap/munmap support directly; sibling sub-pages keep their
// mappings intact.
func (s *PageSource) Release(base unsafe.Pointer, size int) error {
	return osmmap.Unmap(base, size)
}
