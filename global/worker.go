package global

import (
	"sync"
	"unsafe"

	"github.com/dgnorth/slagmalloc/instance"
	"github.com/dgnorth/slagmalloc/internal/slog"
)

// job is the Husk of spec §3's ReclamationWorker: a unit of deferred work
// a departing thread couldn't safely perform inline.
type job interface {
	run(canonical *instance.AllocatorInstance)
}

// retireJob returns every page a whole per-thread instance owns, used
// when a caller explicitly retires a handle instead of returning it to
// the pool.
type retireJob struct{ inst *instance.AllocatorInstance }

func (j retireJob) run(*instance.AllocatorInstance) {
	if err := j.inst.Close(); err != nil {
		slog.Infof("global: retire instance: %v", err)
	}
}

// freeJob frees a single stray pointer against the canonical instance,
// used when only a raw pointer survives a handle's teardown.
type freeJob struct{ ptr unsafe.Pointer }

func (j freeJob) run(canonical *instance.AllocatorInstance) {
	canonical.Free(j.ptr)
}

// worker drains deferred jobs on a single background goroutine, so no
// two retirements race each other and a retiring thread never blocks on
// one (spec §5 "ReclamationWorker").
type worker struct {
	jobs chan job
	wg   sync.WaitGroup
}

func newWorker(canonical *instance.AllocatorInstance) *worker {
	w := &worker{jobs: make(chan job, 256)}
	w.wg.Add(1)
	go w.loop(canonical)
	return w
}

func (w *worker) loop(canonical *instance.AllocatorInstance) {
	defer w.wg.Done()
	for j := range w.jobs {
		j.run(canonical)
	}
}

func (w *worker) enqueueRetire(inst *instance.AllocatorInstance) { w.jobs <- retireJob{inst} }
func (w *worker) enqueueFree(p unsafe.Pointer)                   { w.jobs <- freeJob{p} }

// stop drains and joins the worker. Only safe to call once, after no
// further jobs will be enqueued.
func (w *worker) stop() {
	close(w.jobs)
	w.wg.Wait()
}
