package instance

import (
	"github.com/dgnorth/slagmalloc/alloctag"
)

// Options configures the geometry a New AllocatorInstance is built with.
// Zero-value Options is never used directly; New always starts from
// defaultOptions and applies Option funcs on top, the functional-options
// shape used throughout the corpus for optional, order-independent knobs.
type Options struct {
	StartSize     int
	ClassCount    int
	MinAlign      int
	SmallPageSize int
	GroupSize     int
	LargePageSize int
}

func defaultOptions() Options {
	return Options{
		StartSize:     8,
		ClassCount:    25,
		MinAlign:      defaultMinAlign(),
		SmallPageSize: 256 << 10,
		GroupSize:     alloctag.RegionSize,
		LargePageSize: alloctag.RegionSize,
	}
}

// Option mutates an Options in place.
type Option func(*Options)

// WithStartSize sets the start of the arithmetic (multiples-of-16) series.
// Init rounds it up to a multiple of sizeclass.Multiple, so the default of
// 8 gives a first multiples class of 16.
func WithStartSize(n int) Option { return func(o *Options) { o.StartSize = n } }

// WithClassCount sets the total number of small+medium size classes,
// split between the arithmetic and geometric series the way spec
// component 4.C's Init does.
func WithClassCount(n int) Option { return func(o *Options) { o.ClassCount = n } }

// WithMinAlign sets the platform minimum malloc alignment (8 or 16). 8
// adds a distinguished word-sized class ahead of the multiples series.
func WithMinAlign(n int) Option { return func(o *Options) { o.MinAlign = n } }

// WithSmallPageSize sets the natural page size small-class slabs are cut
// from.
func WithSmallPageSize(n int) Option { return func(o *Options) { o.SmallPageSize = n } }

// WithGroupSize sets the mmap granularity small pages are carved from in
// batches. Must stay alloctag.RegionSize for tag lookups to resolve
// correctly; exposed for tests that exercise the carving path directly.
func WithGroupSize(n int) Option { return func(o *Options) { o.GroupSize = n } }

// WithLargePageSize sets the natural page size that slabs of classes of
// sizeclass.SmallCutoff and above (tagged LargeSlab) are cut from.
func WithLargePageSize(n int) Option { return func(o *Options) { o.LargePageSize = n } }
