package slagmalloc

import (
	"github.com/dgnorth/slagmalloc/global"
	"github.com/dgnorth/slagmalloc/instance"
)

// Option configures the process-wide allocator. See instance.Option for
// the available knobs (WithStartSize, WithClassCount, WithMinAlign,
// WithSmallPageSize, WithGroupSize, WithLargePageSize).
type Option = instance.Option

var (
	WithStartSize     = instance.WithStartSize
	WithClassCount    = instance.WithClassCount
	WithMinAlign      = instance.WithMinAlign
	WithSmallPageSize = instance.WithSmallPageSize
	WithGroupSize     = instance.WithGroupSize
	WithLargePageSize = instance.WithLargePageSize
)

// Configure sets the options the process-wide allocator is built with.
// It must be called before the first Malloc/Free/Realloc/Handle call;
// once the allocator has been lazily initialized, further calls are
// no-ops.
func Configure(opts ...Option) { global.Configure(opts...) }
