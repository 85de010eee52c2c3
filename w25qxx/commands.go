package w25qxx

// Instruction set, W25Q32/64/128 datasheet "Instruction Set Table 1".
const (
	cmdWriteEnable         = 0x06
	cmdWriteDisable        = 0x04
	cmdReadStatusRegister1 = 0x05
	cmdReadStatusRegister2 = 0x35
	cmdWriteStatusRegister = 0x01
	cmdPageProgram         = 0x02
	cmdQuadPageProgram     = 0x32 // Not exposed.
	cmdBlockErase64K       = 0xd8
	cmdBlockErase32K       = 0x52
	cmdSectorErase         = 0x20
	cmdChipErase           = 0xc7
	cmdReadData            = 0x03

	cmdEraseSuspend        = 0x75 // Not exposed.
	cmdEraseResume         = 0x7a // Not exposed.
	cmdPowerDown           = 0xb9 // Not exposed.
	cmdHighPerformanceMode = 0xa3 // Not exposed.
	cmdModeBitReset        = 0xff // Not exposed.

	cmdManufacturerDeviceID = 0x90
	cmdReadUniqueID         = 0x48
	cmdJEDECID              = 0x9f

	dummy = 0x00
)

// Status register 1 bits.
const (
	StatusBusy        = 0x01
	StatusWriteEnable = 0x02
)

// PageSize is the program granularity. A single program command never
// crosses a page boundary.
const PageSize = 256

// MaxAddress is the last byte reachable with a 3-byte address.
const MaxAddress = 1<<24 - 1

// Granularity is an erase unit size in bytes.
type Granularity uint32

const (
	Sector4K Granularity = 4 * 1024
	Block32K Granularity = 32 * 1024
	Block64K Granularity = 64 * 1024
)

func (g Granularity) String() string {
	switch g {
	case Sector4K:
		return "4K sector"
	case Block32K:
		return "32K block"
	case Block64K:
		return "64K block"
	}
	return "invalid granularity"
}

func (g Granularity) opcode() (byte, bool) {
	switch g {
	case Sector4K:
		return cmdSectorErase, true
	case Block32K:
		return cmdBlockErase32K, true
	case Block64K:
		return cmdBlockErase64K, true
	}
	return 0, false
}

// command returns cmd followed by the 3-byte big-endian address and extra
// payload bytes.
func command(cmd byte, addr uint32, payload []byte) []byte {
	w := make([]byte, 4, 4+len(payload))
	w[0] = cmd
	w[1] = byte((addr >> 16) & 0xff)
	w[2] = byte((addr >> 8) & 0xff)
	w[3] = byte(addr & 0xff)
	return append(w, payload...)
}
