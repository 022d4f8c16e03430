//go:build darwin || dragonfly || freebsd || linux || openbsd || netbsd || solaris

// Modifications (c) 2024 The slagmalloc Authors, adapted from
// github.com/cznic/memory's mmap_unix.go (itself derived from Evan Shaw's
// BSD-licensed mmap-go).

package osmmap

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

func pageSize() int { return unix.Getpagesize() }

// Map asks the OS for size bytes of anonymous, read-write memory. The
// returned slice is always aligned to PageSize.
func Map(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("osmmap: mmap %d bytes: %w", size, err)
	}

	if uintptr(unsafe.Pointer(&b[0]))%uintptr(PageSize) != 0 {
		panic("osmmap: kernel returned a non-page-aligned mapping")
	}

	return b, nil
}

// MapAligned asks for size bytes aligned to align, where align is a
// multiple of PageSize. It over-maps and trims the unaligned ends, the
// standard technique for obtaining alignment stronger than the page size
// from an mmap that only guarantees page alignment.
func MapAligned(size, align int) ([]byte, error) {
	if align <= PageSize {
		return Map(roundUp(size, PageSize))
	}

	raw, err := Map(size + align)
	if err != nil {
		return nil, err
	}

	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := roundUp(int(base), align)
	lead := aligned - int(base)
	if lead > 0 {
		if err := Unmap(unsafe.Pointer(&raw[0]), lead); err != nil {
			return nil, err
		}
	}
	trail := len(raw) - lead - size
	if trail > 0 {
		tailPtr := unsafe.Pointer(uintptr(unsafe.Pointer(&raw[0])) + uintptr(lead+size))
		if err := Unmap(tailPtr, trail); err != nil {
			return nil, err
		}
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(unsafe.Pointer(&raw[0]))+uintptr(lead))), size), nil
}

// Unmap releases a mapping previously returned by Map or MapAligned (or a
// sub-range carved out while building one).
func Unmap(addr unsafe.Pointer, size int) error {
	b := unsafe.Slice((*byte)(addr), size)
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("osmmap: munmap %d bytes: %w", size, err)
	}
	return nil
}
