//go:build !windows && !darwin

package instance

// defaultMinAlign is the platform's minimum malloc alignment: on most
// 64-bit platforms this is the machine word size, 8 bytes, matching the
// original's mem::align_of::<usize>() default.
func defaultMinAlign() int { return 8 }
