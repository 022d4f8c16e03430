// Modifications (c) 2024 The slagmalloc Authors, adapted from
// github.com/cznic/memory's size-class geometry and free-list technique.

// Package sizeclass implements the dense lookup from a requested byte size
// to its fixed-size sub-allocator cache (spec component 4.C): a Map
// composes an optional word-sized class, an arithmetic "Multiples" series
// (step 16, for small sizes) and a geometric "PowersOfTwo" series (for
// medium sizes), following the scalloc/tcmalloc tiered design.
package sizeclass

import (
	"unsafe"

	"github.com/cznic/mathutil"
)

// SmallCutoff caps the arithmetic (multiples-of-16) series: Init never
// extends it past this size. The series switches to geometric
// (powers-of-two) spacing earlier when its nClasses/2 share of classes
// runs out first (at 192 bytes with the instance defaults).
const SmallCutoff = 64 << 10 // 64 KiB

// Multiple is the step size of the arithmetic small-class series.
const Multiple = 16

// Cache is the contract a per-size-class sub-allocator must satisfy. It is
// the out-of-scope "Sub-allocator cache" collaborator of spec §3/§6:
// opaque here, thread-safe alloc_one/free_one, a cached object size.
type Cache interface {
	AllocOne() (unsafe.Pointer, error)
	FreeOne(p unsafe.Pointer)
	Clone() Cache
	ObjectSize() int
	Close() error
}

// roundUpMultiple rounds n up to the next multiple of Multiple.
func roundUpMultiple(n int) int { return (n + Multiple - 1) &^ (Multiple - 1) }

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << uint(mathutil.BitLen(n-1))
}

func log2(n int) int { return mathutil.BitLen(n - 1) }

// NextPow2 rounds n up to the next power of two (n itself if already one).
// Exported for callers outside this package that must round a requested
// size up before handing it to Get/AllocOne, e.g. instance.AllocAligned's
// "alignment above word size" case (spec §4.D step 5).
func NextPow2(n int) int { return nextPow2(n) }

// entry pairs a class's size with its cache.
type entry struct {
	size  int
	cache Cache
}

// multiples is the arithmetic (multiples-of-16) sub-map.
type multiples struct {
	start   int
	maxSize int
	classes []entry
}

func newMultiples(start, nClasses int, make func(size int) Cache) multiples {
	if nClasses < 1 {
		return multiples{start: roundUpMultiple(start), maxSize: roundUpMultiple(start) - Multiple}
	}
	startingSize := roundUpMultiple(start)
	m := multiples{
		start:   startingSize,
		maxSize: nClasses*Multiple + startingSize - Multiple,
		classes: make2(nClasses),
	}
	cur := startingSize
	for i := range m.classes {
		m.classes[i] = entry{size: cur, cache: make(cur)}
		cur += Multiple
	}
	return m
}

// make2 preallocates a slice of n zero entries; small helper to keep
// newMultiples/newPowersOfTwo symmetric with the teacher's TypedArray.new.
func make2(n int) []entry { return make([]entry, n) }

func (m multiples) maxKey() int { return m.maxSize }

func (m multiples) get(n int) Cache {
	idx := (roundUpMultiple(n) - m.start) / Multiple
	return m.classes[idx].cache
}

func (m multiples) sizeFor(n int) int {
	idx := (roundUpMultiple(n) - m.start) / Multiple
	return m.classes[idx].size
}

func (m multiples) forEach(f func(Cache)) {
	for _, e := range m.classes {
		f(e.cache)
	}
}

// powersOfTwo is the geometric (powers-of-two) sub-map.
type powersOfTwo struct {
	start   int
	maxSize int
	classes []entry
}

func newPowersOfTwo(start, nClasses int, make func(size int) Cache) powersOfTwo {
	startingSize := nextPow2(start)
	p := powersOfTwo{start: startingSize, classes: make2(nClasses)}
	cur := startingSize
	for i := range p.classes {
		p.classes[i] = entry{size: cur, cache: make(cur)}
		cur *= 2
	}
	p.maxSize = cur / 2
	if nClasses == 0 {
		p.maxSize = startingSize - 1
	}
	return p
}

func (p powersOfTwo) maxKey() int { return p.maxSize }

func (p powersOfTwo) get(n int) Cache {
	log := log2(nextPow2(n)) - log2(p.start)
	return p.classes[log].cache
}

func (p powersOfTwo) sizeFor(n int) int {
	log := log2(nextPow2(n)) - log2(p.start)
	return p.classes[log].size
}

func (p powersOfTwo) forEach(f func(Cache)) {
	for _, e := range p.classes {
		f(e.cache)
	}
}

// Map is the TieredSizeClasses of spec §4.C: up to three concatenated
// series (word / multiples / powers-of-two) behind one dense lookup.
type Map struct {
	word      Cache // nil unless minAlign == 8
	small     multiples
	medium    powersOfTwo
	startFrom int
	nClasses  int
}

// Init builds a Map, calling make(size) in increasing-size order for the
// multiples series and then the powers-of-two series. minAlign is the
// platform's minimum malloc alignment (8 or 16, see spec §6); when it is
// 8, a distinguished word-sized (8 byte) class is added ahead of the
// multiples series, preserving the "aligned for free" property. Its
// make(8) call comes last, after both series, so make is not called in
// increasing-size order overall in that case.
func Init(start, nClasses, minAlign int, make func(size int) Cache) *Map {
	nSmall := nClasses / 2
	if cutoffClasses := SmallCutoff/Multiple - start/Multiple; cutoffClasses < nSmall {
		nSmall = cutoffClasses
	}
	nMedium := nClasses - nSmall

	small := newMultiples(start, nSmall, make)
	medium := newPowersOfTwo(small.maxKey()+1, nMedium, make)

	m := &Map{small: small, medium: medium, startFrom: start, nClasses: nClasses}
	if minAlign == 8 {
		m.word = make(8)
	}
	return m
}

// MaxKey is the size of the largest class the map serves.
func (m *Map) MaxKey() int { return m.medium.maxKey() }

// Get returns the cache for the smallest class >= size. All three branches
// are pointer-chase-free index computations.
func (m *Map) Get(size int) Cache {
	switch {
	case m.word != nil && size <= 8:
		return m.word
	case size <= m.small.maxKey():
		return m.small.get(size)
	default:
		return m.medium.get(size)
	}
}

// ClassInfoFor returns the size and power-of-two-ness of the class that
// would service a request for size — the same class Get(size) would
// return the cache for. Used to answer the alignment half of layout_of:
// power-of-two classes (including the word class) are self-aligned to
// their size; multiples-series classes are reported with PowerOfTwo false
// and treated as aligned to Multiple, even one whose size is a power of
// two.
func (m *Map) ClassInfoFor(size int) ClassInfo {
	switch {
	case m.word != nil && size <= 8:
		return ClassInfo{8, true}
	case size <= m.small.maxKey():
		return ClassInfo{m.small.sizeFor(size), false}
	default:
		return ClassInfo{m.medium.sizeFor(size), true}
	}
}

// ForEach visits every cache exactly once, used during teardown and clone.
func (m *Map) ForEach(f func(Cache)) {
	if m.word != nil {
		f(m.word)
	}
	m.small.forEach(f)
	m.medium.forEach(f)
}

// Clone builds a fresh Map of the same shape, cloning each class's cache in
// place of calling the constructor again — the per-clone state a
// PerThreadHandle owns, while page sources stay shared by reference (spec
// §4.D "Clone").
func (m *Map) Clone() *Map {
	// Init calls make() for the small series, then the medium series, then
	// (optionally) the word class; replay cloning in that same order so
	// indices line up.
	order := make([]Cache, 0, m.nClasses+1)
	m.small.forEach(func(c Cache) { order = append(order, c) })
	m.medium.forEach(func(c Cache) { order = append(order, c) })
	if m.word != nil {
		order = append(order, m.word)
	}
	idx := 0
	next := func(int) Cache {
		c := order[idx].Clone()
		idx++
		return c
	}
	return Init(m.startFrom, m.nClasses, minAlignOf(m), next)
}

func minAlignOf(m *Map) int {
	if m.word != nil {
		return 8
	}
	return 16
}

// Close drops every class's cache, returning owned pages to the shared
// page sources (spec §4.D "Destruction"). The word class is cleared first
// because it lives in an optional slot.
func (m *Map) Close() error {
	var first error
	if m.word != nil {
		if err := m.word.Close(); err != nil && first == nil {
			first = err
		}
		m.word = nil
	}
	m.small.forEach(func(c Cache) {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	})
	m.medium.forEach(func(c Cache) {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	})
	return first
}

// ClassInfo describes one configured size class.
type ClassInfo struct {
	Size       int
	PowerOfTwo bool
}

// Describe returns (size, isPowerOfTwo) for every configured class, for
// introspection and tests.
func (m *Map) Describe() []ClassInfo {
	var out []ClassInfo
	if m.word != nil {
		out = append(out, ClassInfo{8, true})
	}
	for _, e := range m.small.classes {
		out = append(out, ClassInfo{e.size, false})
	}
	for _, e := range m.medium.classes {
		out = append(out, ClassInfo{e.size, true})
	}
	return out
}
