package acquire

import "fmt"

// ErrUsage is the sentinel wrapped by calls that are invalid for the
// engine's current state, e.g. AcquireOnce while async is running
// (spec.md §7).
var ErrUsage = fmt.Errorf("peakdrv: usage error")

type usageError struct {
	detail string
}

func (e *usageError) Error() string { return "usage error: " + e.detail }
func (e *usageError) Unwrap() error { return ErrUsage }

func newUsageError(format string, args ...interface{}) error {
	return &usageError{detail: fmt.Sprintf(format, args...)}
}
