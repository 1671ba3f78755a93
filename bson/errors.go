package bson

import (
	"errors"
	"fmt"
)

// InvalidBSONError reports a structural violation of the wire format as
// defined in spec §4.1: a length mismatch, a missing NUL terminator, invalid
// UTF-8, an unrecognized type tag, or a non-canonical array key sequence.
type InvalidBSONError struct {
	Reason string
}

func (e *InvalidBSONError) Error() string {
	return "invalid BSON: " + e.Reason
}

func newInvalidBSONError(format string, args ...interface{}) error {
	return &InvalidBSONError{Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidBSON reports whether err is (or wraps) an InvalidBSONError.
func IsInvalidBSON(err error) bool {
	var ibe *InvalidBSONError
	return errors.As(err, &ibe)
}
