package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame is returned by every decoder when the input does not have the exact shape of the frame it was asked to parse.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrBadName is returned when a name is empty, longer than MaxNameLen, or contains non-ASCII or whitespace bytes.
	ErrBadName       = fmt.Errorf("name must be 1-%d ASCII bytes and contain no whitespace", MaxNameLen)
	ErrEmptyText     = errors.New("message text must not be empty")
	ErrFrameTooLarge = errors.New("frame does not fit into a single packet")
	ErrBadBit        = errors.New("sequence bit must be a single decimal digit")
)

// malformed wraps ErrMalformedFrame with the detail of what was wrong.
func malformed(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, a...))
}
