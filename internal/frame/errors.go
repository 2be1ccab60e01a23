package frame

import "fmt"

// FramingError reports a frame that violates the framing rules. Decode
// failures of a frame body are reported as encoding errors instead.
type FramingError struct {
	Reason string
	Size   uint32
	Max    uint32
	Err    error
}

// Error implements the error interface
func (e *FramingError) Error() string {
	msg := "framing error: " + e.Reason
	if e.Max > 0 {
		msg += fmt.Sprintf(" (size %d, max %d)", e.Size, e.Max)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying I/O error, if any
func (e *FramingError) Unwrap() error {
	return e.Err
}
