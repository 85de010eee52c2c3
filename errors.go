package spizero

import (
	"errors"
	"fmt"
)

var (
	ErrNoSegments      = errors.New("transaction has no segments")
	ErrTooManySegments = errors.New("transaction has too many segments")
	ErrClosed          = errors.New("device closed")
)

// LengthMismatchError is returned for a full-duplex segment whose
// transmit and receive buffers differ in length.
type LengthMismatchError struct {
	Segment int
	TxLen   int
	RxLen   int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("segment %d: tx length %d differs from rx length %d",
		e.Segment, e.TxLen, e.RxLen)
}

// AddrWidthError is returned when a register address prefix is requested
// with a width other than 1 or 2 bytes.
type AddrWidthError struct {
	Width int
}

func (e *AddrWidthError) Error() string {
	return fmt.Sprintf("unsupported address width %d, want 1 or 2", e.Width)
}

// TransportError reports a transaction the backend failed to execute.
// The transaction is never partially applied from the caller's view.
type TransportError struct {
	Op       string
	Path     string
	Segments int
	Len      int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %d segment(s), %d byte(s): %v",
		e.Op, e.Path, e.Segments, e.Len, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
