package codec

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientBytes = errors.New("insufficient bytes")
	ErrBadChecksum       = errors.New("checksum mismatch")
	ErrTrailingBytes     = errors.New("payload has bytes beyond its declared length")
	ErrPayloadTooLarge   = errors.New("payload exceeds maximum size")
	ErrRecordTooLarge    = errors.New("record exceeds maximum size")
)

// InsufficientBytesError reports a slice that was shorter than its declared or
// fixed size. It matches ErrInsufficientBytes with errors.Is.
type InsufficientBytesError struct {
	Required int
	Provided int
}

func (e *InsufficientBytesError) Error() string {
	return fmt.Sprintf("%s: required %d, provided %d", ErrInsufficientBytes, e.Required, e.Provided)
}

func (e *InsufficientBytesError) Unwrap() error {
	return ErrInsufficientBytes
}

func insufficient(required, provided int) error {
	return &InsufficientBytesError{Required: required, Provided: provided}
}
