// Modifications (c) 2024 The slagmalloc Authors, adapted from
// github.com/cznic/memory's mmap_windows.go (itself derived from Evan
// Shaw's BSD-licensed mmap-go).

package osmmap

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"unsafe"
)

func pageSize() int { return os.Getpagesize() }

var (
	handleMapMu sync.Mutex
	handleMap   = map[uintptr]syscall.Handle{}
)

// Map is a two-step process on Windows: CreateFileMapping gets a handle,
// then MapViewOfFile gets an actual pointer into memory.
func Map(size int) ([]byte, error) {
	flProtect := uint32(syscall.PAGE_READWRITE)
	dwDesiredAccess := uint32(syscall.FILE_MAP_WRITE)

	maxSizeHigh := uint32(int64(size) >> 32)
	maxSizeLow := uint32(int64(size) & 0xFFFFFFFF)
	h, errno := syscall.CreateFileMapping(syscall.Handle(^uintptr(0)), nil, flProtect, maxSizeHigh, maxSizeLow, nil)
	if h == 0 {
		return nil, fmt.Errorf("osmmap: CreateFileMapping: %w", os.NewSyscallError("CreateFileMapping", errno))
	}

	addr, errno := syscall.MapViewOfFile(h, dwDesiredAccess, 0, 0, uintptr(size))
	if addr == 0 {
		return nil, fmt.Errorf("osmmap: MapViewOfFile: %w", os.NewSyscallError("MapViewOfFile", errno))
	}

	if addr%uintptr(PageSize) != 0 {
		panic("osmmap: kernel returned a non-page-aligned mapping")
	}

	handleMapMu.Lock()
	handleMap[addr] = h
	handleMapMu.Unlock()

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

// MapAligned asks for size bytes aligned to align by over-mapping and
// trimming, as on Unix. Windows VirtualFree requires the original base
// address for partial frees, so instead we map the oversized region once,
// record the alignment offset, and never individually unmap the
// lead/trail: the whole oversized handle is released together in Unmap.
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

	handleMapMu.Lock()
	h, ok := handleMap[base]
	if ok {
		delete(handleMap, base)
		handleMap[base+uintptr(lead)] = h
	}
	handleMapMu.Unlock()

	return unsafe.Slice((*byte)(unsafe.Pointer(base+uintptr(lead))), size), nil
}

// Unmap releases a mapping previously returned by Map or MapAligned.
func Unmap(addr unsafe.Pointer, size int) error {
	err := syscall.UnmapViewOfFile(uintptr(addr))
	if err != nil {
		return fmt.Errorf("osmmap: UnmapViewOfFile: %w", err)
	}

	handleMapMu.Lock()
	handle, ok := handleMap[uintptr(addr)]
	if !ok {
		handleMapMu.Unlock()
		return errors.New("osmmap: unknown base address")
	}
	delete(handleMap, uintptr(addr))
	handleMapMu.Unlock()

	if e := syscall.CloseHandle(handle); e != nil {
		return fmt.Errorf("osmmap: CloseHandle: %w", e)
	}
	return nil
}
