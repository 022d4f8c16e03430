// Package xerr holds the allocator's error-handling policy (spec §7): OS
// mapping failures are "Exhausted" and fatal, abort-after-logging errors —
// every allocation site in a C-ABI malloc is unprepared to propagate
// failure up to a caller.
package xerr

import (
	"fmt"
	"os"

	"github.com/dgnorth/slagmalloc/internal/slog"
)

// Wrap adds context to an error without changing its fatality.
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Fatal logs and aborts the process. Used exclusively for OOM: a refused
// OS mapping, per spec §7's "Exhausted" taxonomy entry. It never returns.
func Fatal(format string, args ...interface{}) {
	slog.Fatalf(format, args...)
	os.Exit(2)
}
