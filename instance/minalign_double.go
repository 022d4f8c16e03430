//go:build windows || darwin

package instance

// defaultMinAlign is the platform's minimum malloc alignment: 64-bit
// Windows and macOS both guarantee 16-byte-aligned allocations from their
// system allocators, so this allocator matches that rather than the
// 8-byte default used elsewhere.
func defaultMinAlign() int { return 16 }
