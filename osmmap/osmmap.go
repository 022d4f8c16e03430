// Package osmmap wraps the OS anonymous-mapping primitive the allocator
// builds on: a page-aligned map/unmap pair plus a page-size probe. It is
// the out-of-scope "OS interface" collaborator named in spec §6.
package osmmap

// PageSize is the OS's native page size, as reported by the platform probe.
var PageSize = pageSize()

// roundUp rounds n up to the next multiple of m, where m is a power of 2.
func roundUp(n, m int) int { return (n + m - 1) &^ (m - 1) }
