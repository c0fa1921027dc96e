package codec

import "fmt"

// ErrFraming is the sentinel all framing failures wrap: wrong sub-frame
// marker, format-code mismatch, count mismatch, unknown format code,
// wrong sub-frame count, or an instrument-error sub-frame (spec.md §7).
var ErrFraming = fmt.Errorf("peakdrv: framing error")

// framingError carries the detail behind an ErrFraming failure while
// still satisfying errors.Is(err, ErrFraming) via Unwrap.
type framingError struct {
	detail string
}

func (e *framingError) Error() string { return "framing error: " + e.detail }
func (e *framingError) Unwrap() error { return ErrFraming }

func newFramingError(format string, args ...interface{}) error {
	return &framingError{detail: fmt.Sprintf(format, args...)}
}

// NewFramingError builds an error satisfying errors.Is(err, ErrFraming),
// exported for the frame package's decoder, which reports sub-frame
// validation failures against the FramingParams this package owns.
func NewFramingError(format string, args ...interface{}) error {
	return newFramingError(format, args...)
}
