// Package instance implements the AllocatorInstance of spec component
// 4.D: the bound-together size-class map and two page sources that
// alloc/free/realloc/layout_of dispatch across, plus the cheap-clone,
// shared-pool-ownership model spec §5 describes.
package instance

import (
	"unsafe"

	"github.com/dgnorth/slagmalloc/alloctag"
	"github.com/dgnorth/slagmalloc/internal/slog"
	"github.com/dgnorth/slagmalloc/large"
	"github.com/dgnorth/slagmalloc/sizeclass"
	"github.com/dgnorth/slagmalloc/slabsrc"
)

// wordSize is the platform machine-word size spec §4.D step 5 compares
// a requested alignment against when deciding whether a request needs to
// be rounded up to a power of two to guarantee it.
const wordSize = 8

// AllocatorInstance binds a size-class map to the two page sources that
// feed it. Clones share both page sources by reference and get their own
// size-class caches (spec §4.D "Clone"); the zero value is not usable,
// construct with New.
type AllocatorInstance struct {
	small   *slabsrc.PageSource
	large   *slabsrc.PageSource
	classes *sizeclass.Map
}

// New builds an AllocatorInstance from defaultOptions with opts applied
// on top.
func New(opts ...Option) *AllocatorInstance {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	small := slabsrc.NewSmall(o.SmallPageSize, o.GroupSize)
	largeSrc := slabsrc.NewLarge(o.LargePageSize)

	make := func(size int) sizeclass.Cache {
		if size >= sizeclass.SmallCutoff {
			return slabsrc.NewCache(size, largeSrc)
		}
		return slabsrc.NewCache(size, small)
	}

	return &AllocatorInstance{
		small:   small,
		large:   largeSrc,
		classes: sizeclass.Init(o.StartSize, o.ClassCount, o.MinAlign, make),
	}
}

// MaxSizeClass is the largest request this instance's size-class map will
// serve; anything bigger goes through the large package's direct-map path.
func (a *AllocatorInstance) MaxSizeClass() int { return a.classes.MaxKey() }

// Alloc services a request for n bytes, routing to the size-class caches
// or to the large direct-map path per spec §4.D's alloc algorithm.
func (a *AllocatorInstance) Alloc(n int) (unsafe.Pointer, error) {
	if n <= 0 {
		n = 1
	}
	if n > a.classes.MaxKey() {
		return large.Alloc(n)
	}
	return a.classes.Get(n).AllocOne()
}

// AllocAligned is Alloc with an alignment requirement above the
// platform minimum. A request that already exceeds align is serviced as
// Alloc(n) would, relying on the size class's own natural alignment; but
// per spec §4.D step 5, once align exceeds the machine word size the
// class's size must itself be a power of two for that alignment to be
// guaranteed (other multiples-series classes are aligned only to
// sizeclass.Multiple), so n is rounded up to the next power of two in
// that case, landing the request in a power-of-two-sized class whose
// objects are aligned to their size.
func (a *AllocatorInstance) AllocAligned(n, align int) (unsafe.Pointer, error) {
	if align > n {
		n = align
	}
	if align > wordSize {
		n = sizeclass.NextPow2(n)
	}
	return a.Alloc(n)
}

// LayoutOf reports the usable size and actual alignment of a live
// allocation, dispatching on the pointer's region tag the way spec §4.A
// intends: no bookkeeping beyond the tag byte is needed to answer "what
// serviced this pointer". Power-of-two classes (including the word
// class) are aligned to their own size; multiples-series classes are
// reported as aligned to sizeclass.Multiple, even one whose size is a
// power of two; direct-mapped pages are aligned to alloctag.RegionSize.
func (a *AllocatorInstance) LayoutOf(p unsafe.Pointer) (size, align int) {
	switch alloctag.Of(p) {
	case alloctag.SmallSlab:
		sz := slabsrc.Find(p, a.small.PageSize())
		return sz, a.classAlign(sz)
	case alloctag.LargeSlab:
		sz := slabsrc.Find(p, a.large.PageSize())
		return sz, a.classAlign(sz)
	case alloctag.DirectMap:
		return large.GetSize(p), alloctag.RegionSize
	default:
		slog.Debugf("instance: LayoutOf on untagged pointer %p", p)
		return 0, 0
	}
}

func (a *AllocatorInstance) classAlign(classSize int) int {
	info := a.classes.ClassInfoFor(classSize)
	if info.PowerOfTwo {
		return info.Size
	}
	return sizeclass.Multiple
}

// GetSize reports the usable size of a live allocation.
func (a *AllocatorInstance) GetSize(p unsafe.Pointer) int {
	size, _ := a.LayoutOf(p)
	return size
}

// Free returns p to whichever path serviced it. Invariant I5: p may have
// been allocated by a different clone of this instance, possibly on a
// different thread — the tag byte and the slab/region header it points
// at are enough to free it correctly regardless of which clone is doing
// the freeing.
func (a *AllocatorInstance) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	switch alloctag.Of(p) {
	case alloctag.SmallSlab:
		sz := slabsrc.Find(p, a.small.PageSize())
		a.classes.Get(sz).FreeOne(p)
	case alloctag.LargeSlab:
		sz := slabsrc.Find(p, a.large.PageSize())
		a.classes.Get(sz).FreeOne(p)
	case alloctag.DirectMap:
		if err := large.Free(p); err != nil {
			slog.Infof("instance: free %p: %v", p, err)
		}
	default:
		// Freeing a pointer this instance never allocated is undefined
		// behavior by contract (spec §7), short of the two documented
		// tolerances handled above the switch in large.Free and in the
		// per-thread handle teardown path.
		slog.Debugf("instance: free on untagged pointer %p ignored", p)
	}
}

// Realloc resizes an existing allocation, preserving spec §4.D's
// realloc algorithm: a request that still fits the object's current
// usable size is returned unchanged, anything else allocates fresh,
// copies the overlap, and frees the original.
func (a *AllocatorInstance) Realloc(p unsafe.Pointer, n, align int) (unsafe.Pointer, error) {
	if p == nil {
		return a.AllocAligned(n, align)
	}
	if n <= 0 {
		a.Free(p)
		return nil, nil
	}

	oldSize, oldAlign := a.LayoutOf(p)
	if n <= oldSize && align <= oldAlign {
		return p, nil
	}

	newP, err := a.AllocAligned(n, align)
	if err != nil {
		return nil, err
	}
	copySize := oldSize
	if n < copySize {
		copySize = n
	}
	if copySize > 0 {
		dst := unsafe.Slice((*byte)(newP), copySize)
		src := unsafe.Slice((*byte)(p), copySize)
		copy(dst, src)
	}
	a.Free(p)
	return newP, nil
}

// Clone returns a new AllocatorInstance sharing this one's page sources
// by reference but owning independent size-class caches — the "cheap,
// thread-local front end over shared global pools" of spec §4.D/§5.
func (a *AllocatorInstance) Clone() *AllocatorInstance {
	return &AllocatorInstance{
		small:   a.small,
		large:   a.large,
		classes: a.classes.Clone(),
	}
}

// Close releases every page this instance's caches own back to the OS.
// Callers must guarantee no other clone still holds live pointers into
// those pages (spec §4.D "Destruction").
func (a *AllocatorInstance) Close() error {
	return a.classes.Close()
}
