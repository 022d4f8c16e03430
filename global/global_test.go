package global_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/dgnorth/slagmalloc/global"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHandleAllocFree(t *testing.T) {
	h := global.Acquire()
	p, err := h.Alloc(128)
	require.NoError(t, err)
	h.Free(p)
	h.Release()
}

func TestManyGoroutinesShareCanonicalPools(t *testing.T) {
	const n = 16
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			h := global.Acquire()
			defer h.Release()
			for j := 0; j < 50; j++ {
				p, err := h.Alloc(32)
				if err != nil {
					return err
				}
				h.Free(p)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestRetireIsIdempotent(t *testing.T) {
	h := global.Acquire()
	global.Retire(h)
	global.Retire(h) // must not double-enqueue against a zeroed handle
}

func TestFreePtrViaWorker(t *testing.T) {
	h := global.Acquire()
	p, err := h.Alloc(16)
	require.NoError(t, err)
	h.Release()

	global.FreePtr(p)
}

// TestShutdownDrains exercises the Live -> Draining -> Gone transition;
// it runs last among the tests that need the worker alive.
func TestShutdownDrains(t *testing.T) {
	h := global.Acquire()
	p, err := h.Alloc(8)
	require.NoError(t, err)
	h.Free(p)
	h.Release()

	global.Shutdown()
	require.Equal(t, global.StateGone, global.State())

	// a second Shutdown is a no-op
	global.Shutdown()

	// Acquire after Gone falls back to the canonical instance directly.
	h2 := global.Acquire()
	p2, err := h2.Alloc(8)
	require.NoError(t, err)
	h2.Free(p2)
}
