// Package ioc packs and unpacks Linux style device control request codes.
//
// A code is a single 32-bit value laid out as follows:
//
//	bits 0-7:   command number (nr)
//	bits 8-15:  request type (type)
//	bits 16-29: argument size (size)
//	bits 30-31: direction (dir)
//
// Fields wider than their slot are silently truncated, exactly like the C
// macros do. Validate inputs before encoding.
package ioc

import "fmt"

// Direction tells the driver which way the argument travels.
type Direction uint32

const (
	None      Direction = 0
	Write     Direction = 1
	Read      Direction = 2
	ReadWrite Direction = Write | Read
)

func (d Direction) String() string {
	switch d {
	case None:
		return "none"
	case Write:
		return "write"
	case Read:
		return "read"
	case ReadWrite:
		return "read|write"
	}
	return fmt.Sprintf("dir(%d)", uint32(d))
}

const (
	nrBits   = 8
	typeBits = 8
	sizeBits = 14
	dirBits  = 2

	nrMask   = 1<<nrBits - 1
	typeMask = 1<<typeBits - 1
	sizeMask = 1<<sizeBits - 1
	dirMask  = 1<<dirBits - 1

	nrShift   = 0
	typeShift = nrShift + nrBits
	sizeShift = typeShift + typeBits
	dirShift  = sizeShift + sizeBits
)

// MaxSize is the largest argument size a code can carry.
const MaxSize = sizeMask

// Code is a packed request code.
type Code uint32

// Encode packs the fields into a code.
func Encode(dir Direction, typ, nr, size uint32) Code {
	return Code(uint32(dir&dirMask)<<dirShift |
		(size&sizeMask)<<sizeShift |
		(typ&typeMask)<<typeShift |
		(nr&nrMask)<<nrShift)
}

// IO returns a code for a request without argument.
func IO(typ, nr uint32) Code {
	return Encode(None, typ, nr, 0)
}

// IOR returns a code for a request the driver writes to userspace.
func IOR(typ, nr, size uint32) Code {
	return Encode(Read, typ, nr, size)
}

// IOW returns a code for a request userspace passes to the driver.
func IOW(typ, nr, size uint32) Code {
	return Encode(Write, typ, nr, size)
}

// IOWR returns a code for a request with an argument going both ways.
func IOWR(typ, nr, size uint32) Code {
	return Encode(ReadWrite, typ, nr, size)
}

func (c Code) Dir() Direction {
	return Direction(uint32(c)>>dirShift) & dirMask
}

func (c Code) Type() uint32 {
	return uint32(c) >> typeShift & typeMask
}

func (c Code) Nr() uint32 {
	return uint32(c) >> nrShift & nrMask
}

func (c Code) Size() uint32 {
	return uint32(c) >> sizeShift & sizeMask
}

func (c Code) String() string {
	return fmt.Sprintf("0x%08x(dir=%s type=0x%02x nr=%d size=%d)",
		uint32(c), c.Dir(), c.Type(), c.Nr(), c.Size())
}
