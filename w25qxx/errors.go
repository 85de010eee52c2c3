package w25qxx

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout matches both HandshakeTimeoutError and BusyTimeoutError.
	ErrTimeout = errors.New("timeout")

	// ErrWriteNotEnabled is returned by ProgramPage when no successful
	// WriteEnable precedes it.
	ErrWriteNotEnabled = errors.New("write enable latch not set")

	// ErrInvalidGranularity is returned for an erase size the chip does
	// not have.
	ErrInvalidGranularity = errors.New("invalid erase granularity")
)

// AlignmentError reports an erase address off its granularity, or a program
// request crossing a page boundary. No bus traffic happened.
type AlignmentError struct {
	Op       string
	Address  uint32
	Length   int
	Boundary uint32
}

func (e *AlignmentError) Error() string {
	if e.Length > 0 {
		return fmt.Sprintf("%s at 0x%06X: %d bytes cross a %d byte boundary",
			e.Op, e.Address, e.Length, e.Boundary)
	}
	return fmt.Sprintf("%s at 0x%06X: address not aligned to %d bytes",
		e.Op, e.Address, e.Boundary)
}

// RangeError reports an access beyond the 24-bit address space.
type RangeError struct {
	Op      string
	Address uint32
	Length  int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s at 0x%06X: %d bytes exceed the 24-bit address space",
		e.Op, e.Address, e.Length)
}

// HandshakeTimeoutError reports a write enable latch that did not set.
type HandshakeTimeoutError struct {
	Op      string
	Address uint32
	Timeout time.Duration
	Status  byte
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("%s at 0x%06X: write enable timeout after %s (status 0x%02X)",
		e.Op, e.Address, e.Timeout, e.Status)
}

func (e *HandshakeTimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// BusyTimeoutError reports a BUSY bit that did not clear.
type BusyTimeoutError struct {
	Op      string
	Address uint32
	Timeout time.Duration
	Status  byte
}

func (e *BusyTimeoutError) Error() string {
	return fmt.Sprintf("%s at 0x%06X: wait idle timeout after %s (status 0x%02X)",
		e.Op, e.Address, e.Timeout, e.Status)
}

func (e *BusyTimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
