// Package global implements spec component 4.E, the Global Front-End: a
// lazily-initialized canonical AllocatorInstance, a pool of per-goroutine
// Handles cloned from it, and a background worker that absorbs the work
// a departing handle can't safely do inline.
//
// Go has no deterministic thread-exit hook to pin a PerThreadHandle to,
// so the TLS-destructor story spec §5 describes is adapted rather than
// ported: Handles are pooled (sync.Pool) instead of thread-local, and
// Retire is the explicit analogue of the destructor firing — callers
// that know a goroutine is done with its handle call it instead of
// relying on teardown ordering they don't control.
package global

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/dgnorth/slagmalloc/instance"
)

// Lifecycle states for the package-level allocator, mirroring the
// GlobalAllocator state machine of spec §5.
const (
	StateUninitialized int32 = iota
	StateLive
	StateDraining
	StateGone
)

var (
	state      atomic.Int32
	initOnce   sync.Once
	canonical  *instance.AllocatorInstance
	reclaimer  *worker
	handlePool sync.Pool
)

// Configure sets the options the canonical instance is built with. It
// must be called before the first Acquire/Malloc/Free call; later calls
// are no-ops once the canonical instance exists.
func Configure(opts ...instance.Option) {
	initOnce.Do(func() { initCanonical(opts...) })
}

func ensureInit() {
	initOnce.Do(func() { initCanonical() })
}

func initCanonical(opts ...instance.Option) {
	canonical = instance.New(opts...)
	reclaimer = newWorker(canonical)
	handlePool.New = func() interface{} { return canonical.Clone() }
	state.Store(StateLive)
}

// State reports the current lifecycle state.
func State() int32 { return state.Load() }

// Handle is a per-goroutine front end over the canonical instance's
// shared page pools (spec §3 "PerThreadHandle"). The zero value is not
// usable; obtain one with Acquire.
type Handle struct {
	inst *instance.AllocatorInstance
}

// Acquire returns a Handle backed by a pooled clone of the canonical
// instance, initializing the canonical instance on first use. Once the
// package has begun draining (Shutdown was called), Acquire hands back
// the canonical instance directly rather than growing the pool further.
func Acquire() *Handle {
	ensureInit()
	if state.Load() != StateLive {
		return &Handle{inst: canonical}
	}
	return &Handle{inst: handlePool.Get().(*instance.AllocatorInstance)}
}

// Alloc services an n-byte request through this handle's clone.
func (h *Handle) Alloc(n int) (unsafe.Pointer, error) { return h.inst.Alloc(n) }

// AllocAligned is Alloc with an alignment requirement.
func (h *Handle) AllocAligned(n, align int) (unsafe.Pointer, error) {
	return h.inst.AllocAligned(n, align)
}

// Free returns p to whichever path serviced it, regardless of which
// handle originally allocated it (spec invariant I5).
func (h *Handle) Free(p unsafe.Pointer) { h.inst.Free(p) }

// Realloc resizes an existing allocation.
func (h *Handle) Realloc(p unsafe.Pointer, n, align int) (unsafe.Pointer, error) {
	return h.inst.Realloc(p, n, align)
}

// GetSize reports the usable size of a live allocation.
func (h *Handle) GetSize(p unsafe.Pointer) int { return h.inst.GetSize(p) }

// Release returns this handle's clone to the pool for reuse by another
// goroutine instead of tearing it down. The Handle must not be used
// again afterward.
func (h *Handle) Release() {
	if h.inst == nil || h.inst == canonical {
		return
	}
	handlePool.Put(h.inst)
	h.inst = nil
}

// Retire is the explicit analogue of a PerThreadHandle's destructor
// firing: instead of pooling the clone for reuse, its pages are handed
// to the background worker to release. Idempotent: a second Retire or a
// Release on an already-retired Handle is a no-op.
func Retire(h *Handle) {
	if h.inst == nil || h.inst == canonical {
		return
	}
	reclaimer.enqueueRetire(h.inst)
	h.inst = nil
}

// FreePtr frees a pointer against the canonical instance via the
// background worker, for callers that hold only a raw pointer and no
// live Handle — e.g. a finalizer running after its owning Handle was
// already retired.
func FreePtr(p unsafe.Pointer) {
	ensureInit()
	reclaimer.enqueueFree(p)
}

// Shutdown transitions Live -> Draining -> Gone: stops accepting pooled
// handles, drains the reclamation worker, and releases the canonical
// instance's own pages. Intended for tests (pairs with goleak) and
// graceful process exit; a second call is a no-op.
func Shutdown() {
	if !state.CompareAndSwap(StateLive, StateDraining) {
		return
	}
	reclaimer.stop()
	_ = canonical.Close()
	state.Store(StateGone)
}
