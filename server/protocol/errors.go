package protocol

import "errors"

// errors for parsing
var (
	// ErrLineTooLong means the input buffer filled up without a line terminator.
	ErrLineTooLong = errors.New("request line too long")
)
