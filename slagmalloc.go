// Package slagmalloc is a tiered-size-class, thread-caching memory
// allocator in the style of tcmalloc/scalloc: per-goroutine front ends
// draw from shared, reference-counted page pools, with a region-tagged
// pointer scheme (see package alloctag) resolving any pointer back to
// the path that serviced it without a central registry.
//
// Each package-level function acquires a pooled Handle for the duration
// of the call and releases it before returning, so the caller never
// manages one; see package global for the explicit Handle API used by
// callers that want to pin a front end across a batch of calls or
// control its teardown.
package slagmalloc

import (
	"unsafe"

	"github.com/dgnorth/slagmalloc/global"
)

// Malloc returns n bytes of uninitialized memory. If the OS refuses the
// underlying mapping, internal/xerr.Fatal logs and exits the process.
func Malloc(n int) unsafe.Pointer {
	h := global.Acquire()
	p, err := h.Alloc(n)
	h.Release()
	if err != nil {
		return nil
	}
	return p
}

// Free releases a pointer previously returned by Malloc, Calloc, or
// Realloc. Freeing a pointer this allocator never returned is undefined
// behavior, short of the two tolerances documented in DESIGN.md.
func Free(p unsafe.Pointer) {
	h := global.Acquire()
	h.Free(p)
	h.Release()
}

// Calloc returns n*size bytes of zeroed memory.
func Calloc(n, size int) unsafe.Pointer {
	total := n * size
	p := Malloc(total)
	if p == nil {
		return nil
	}
	b := unsafe.Slice((*byte)(p), total)
	for i := range b {
		b[i] = 0
	}
	return p
}

// Realloc resizes an existing allocation, copying the overlapping
// prefix and preserving alignment. A nil p behaves like Malloc(n); an n
// of 0 behaves like Free(p).
func Realloc(p unsafe.Pointer, n int) unsafe.Pointer {
	h := global.Acquire()
	np, err := h.Realloc(p, n, 0)
	h.Release()
	if err != nil {
		return nil
	}
	return np
}

// UsableSize reports the usable size of a live allocation.
func UsableSize(p unsafe.Pointer) int {
	h := global.Acquire()
	n := h.GetSize(p)
	h.Release()
	return n
}

// Handle returns a fresh per-goroutine front end for callers that want
// to batch many calls without a pool round-trip per operation, or that
// want explicit control over teardown via global.Retire.
func Handle() *global.Handle { return global.Acquire() }
