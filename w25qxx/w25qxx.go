package w25qxx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Bus is the transport a Flash needs. *spizero.SPI implements it.
type Bus interface {
	// Write sends p in one transaction.
	Write(p []byte) error

	// WriteThenRead sends p and reads n bytes while the chip stays selected.
	WriteThenRead(p []byte, n int) ([]byte, error)
}

// State is the programming state machine position.
type State int

const (
	// StateIdle means no internal write or erase cycle is pending.
	StateIdle State = iota

	// StateBusy means a page program was issued and nobody waited for it.
	StateBusy

	// StateError means the last operation failed. The next successful
	// operation leaves it.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// JEDECID is the answer to the JEDEC ID instruction.
type JEDECID struct {
	Manufacturer byte
	MemoryType   byte
	Capacity     byte
}

// Size returns the chip size in bytes assuming the usual 2^Capacity
// encoding, or 0 if Capacity is out of that range (no chip answers all
// zeroes or all ones).
func (id JEDECID) Size() int64 {
	if id.Capacity < 0x0a || id.Capacity > 0x1f {
		return 0
	}
	return 1 << id.Capacity
}

func (id JEDECID) String() string {
	return fmt.Sprintf("%02X%02X%02X", id.Manufacturer, id.MemoryType, id.Capacity)
}

// Flash drives a W25Qxx compatible serial NOR flash.
//
// Flash is not safe for concurrent use.
type Flash struct {
	bus    Bus
	config Config

	state   State
	latched bool // write enable latch confirmed and not consumed yet
}

// New creates a driver for the chip on bus.
//
// Example:
//
//	s, err := spizero.OpenSPI("/dev/spidev0.0", spizero.WithSpeed(20_000_000))
//	if err != nil {
//		return err
//	}
//	f := w25qxx.New(s)
//	id, err := f.ManufacturerDeviceID()
func New(bus Bus, opts ...Option) *Flash {
	if bus == nil {
		panic("bus cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Flash{
		bus:    bus,
		config: cfg,
	}
}

// State returns the current state.
func (f *Flash) State() State {
	return f.state
}

// finish moves the state machine after a state-changing operation. A failed
// operation drives the write protect pin low again.
func (f *Flash) finish(op string, err error, next State) error {
	if err != nil {
		f.state = StateError
		f.latched = false

		if wp := f.config.WriteProtect; wp != nil {
			if werr := wp.Out(false); werr != nil {
				err = errors.Join(err, fmt.Errorf("write protect pin: %w", werr))
			}
		}

		f.logError(op+" failed", "error", err)
		return err
	}

	f.state = next
	return nil
}

// finishRead is finish for operations that leave a pending cycle alone.
func (f *Flash) finishRead(op string, err error) error {
	if err != nil {
		return f.finish(op, err, StateError)
	}

	if f.state == StateError {
		f.state = StateIdle
	}
	return nil
}

func busError(op string, addr uint32, err error) error {
	return fmt.Errorf("%s at 0x%06X: %w", op, addr, err)
}

func checkRange(op string, addr uint32, n int) error {
	if n < 0 || uint64(addr)+uint64(n) > MaxAddress+1 {
		return &RangeError{Op: op, Address: addr, Length: n}
	}
	return nil
}

func (f *Flash) readStatus(cmd byte) (byte, error) {
	r, err := f.bus.WriteThenRead([]byte{cmd}, 1)
	if err != nil {
		return 0, err
	}
	return r[0], nil
}

// poll reads status register 1 until done reports true or timeout elapses.
// The register is read at least once.
func (f *Flash) poll(timeout time.Duration, done func(status byte) bool) (byte, bool, error) {
	start := time.Now()

	for {
		status, err := f.readStatus(cmdReadStatusRegister1)
		if err != nil {
			return 0, false, err
		}

		if done(status) {
			return status, true, nil
		}

		if time.Since(start) >= timeout {
			return status, false, nil
		}

		time.Sleep(f.config.PollInterval)
	}
}

func (f *Flash) writeEnable(op string, addr uint32) error {
	if wp := f.config.WriteProtect; wp != nil {
		if err := wp.Out(true); err != nil {
			return fmt.Errorf("%s at 0x%06X: write protect pin: %w", op, addr, err)
		}
	}

	if err := f.bus.Write([]byte{cmdWriteEnable}); err != nil {
		return busError(op, addr, err)
	}

	status, ok, err := f.poll(f.config.WriteEnableTimeout, func(s byte) bool {
		return s&StatusBusy == 0 && s&StatusWriteEnable != 0
	})
	if err != nil {
		return busError(op, addr, err)
	}
	if !ok {
		return &HandshakeTimeoutError{
			Op:      op,
			Address: addr,
			Timeout: f.config.WriteEnableTimeout,
			Status:  status,
		}
	}

	f.latched = true
	return nil
}

func (f *Flash) writeDisable(op string, addr uint32) error {
	f.latched = false

	if err := f.bus.Write([]byte{cmdWriteDisable}); err != nil {
		return busError(op, addr, err)
	}

	if wp := f.config.WriteProtect; wp != nil {
		if err := wp.Out(false); err != nil {
			return fmt.Errorf("%s at 0x%06X: write protect pin: %w", op, addr, err)
		}
	}

	return nil
}

func (f *Flash) waitIdle(op string, addr uint32, timeout time.Duration) error {
	status, ok, err := f.poll(timeout, func(s byte) bool {
		return s&StatusBusy == 0
	})
	if err != nil {
		return busError(op, addr, err)
	}
	if !ok {
		return &BusyTimeoutError{
			Op:      op,
			Address: addr,
			Timeout: timeout,
			Status:  status,
		}
	}
	return nil
}

// WriteEnable sets the write enable latch and waits until the chip reports
// it, for at most the write enable timeout (100ms by default).
func (f *Flash) WriteEnable() error {
	f.logDebug("write enable")
	return f.finish("write enable", f.writeEnable("write enable", 0), StateIdle)
}

// WriteDisable clears the write enable latch.
func (f *Flash) WriteDisable() error {
	f.logDebug("write disable")
	return f.finishRead("write disable", f.writeDisable("write disable", 0))
}

// WaitIdle polls status register 1 until BUSY clears or timeout elapses.
func (f *Flash) WaitIdle(timeout time.Duration) error {
	return f.finish("wait idle", f.waitIdle("wait idle", 0, timeout), StateIdle)
}

// ReadStatus1 returns status register 1.
func (f *Flash) ReadStatus1() (byte, error) {
	s, err := f.readStatus(cmdReadStatusRegister1)
	return s, f.finishRead("read status 1", err)
}

// ReadStatus2 returns status register 2.
func (f *Flash) ReadStatus2() (byte, error) {
	s, err := f.readStatus(cmdReadStatusRegister2)
	return s, f.finishRead("read status 2", err)
}

// WriteStatus writes status registers 1 and 2.
func (f *Flash) WriteStatus(s1, s2 byte) error {
	const op = "write status"
	f.logDebug(op, "s1", s1, "s2", s2)

	err := f.writeEnable(op, 0)
	if err == nil {
		err = f.bus.Write([]byte{cmdWriteStatusRegister, s1, s2})
		if err != nil {
			err = busError(op, 0, err)
		}
	}
	if err == nil {
		err = f.waitIdle(op, 0, f.config.WriteStatusTimeout)
	}
	if err == nil {
		err = f.writeDisable(op, 0)
	}

	return f.finish(op, err, StateIdle)
}

// ProgramPage issues a page program of p at addr followed by write disable.
// A successful WriteEnable must precede it and p must not cross a page
// boundary. ProgramPage does not wait: the chip is busy when it returns.
func (f *Flash) ProgramPage(addr uint32, p []byte) error {
	if len(p) == 0 {
		return nil
	}

	f.logDebug("page program", "addr", addr, "len", len(p))
	return f.finish("page program", f.programPage(addr, p), StateBusy)
}

func (f *Flash) programPage(addr uint32, p []byte) error {
	const op = "page program"

	if err := checkRange(op, addr, len(p)); err != nil {
		return err
	}
	if int(addr%PageSize)+len(p) > PageSize {
		return &AlignmentError{Op: op, Address: addr, Length: len(p), Boundary: PageSize}
	}
	if !f.latched {
		return fmt.Errorf("%s at 0x%06X: %w", op, addr, ErrWriteNotEnabled)
	}

	f.latched = false

	if err := f.bus.Write(command(cmdPageProgram, addr, p)); err != nil {
		return busError(op, addr, err)
	}

	return f.writeDisable(op, addr)
}

// Write programs data starting at addr, one page at a time, waiting for
// each page to complete before the next one. The target range must be
// erased beforehand.
func (f *Flash) Write(addr uint32, data []byte) error {
	f.logDebug("write", "addr", addr, "len", len(data))
	return f.finish("write", f.write(addr, data), StateIdle)
}

func (f *Flash) write(addr uint32, data []byte) error {
	const op = "write"

	if err := checkRange(op, addr, len(data)); err != nil {
		return err
	}

	start := time.Now()

	for pos := 0; pos < len(data); {
		space := PageSize - int(addr%PageSize)
		chunk := min(len(data)-pos, space)

		if err := f.writeEnable(op, addr); err != nil {
			return err
		}

		if err := f.programPage(addr, data[pos:pos+chunk]); err != nil {
			return err
		}
		f.state = StateBusy

		if err := f.waitIdle(op, addr, f.config.PageProgramTimeout); err != nil {
			return err
		}

		pos += chunk
		addr += uint32(chunk)

		f.reportProgress(Progress{
			Op:          op,
			Address:     addr,
			Done:        pos,
			Total:       len(data),
			ElapsedTime: time.Since(start),
		})
	}

	return nil
}

// Erase erases the unit of granularity g at addr, which must be aligned to
// g, and waits for completion.
func (f *Flash) Erase(addr uint32, g Granularity) error {
	f.logDebug("erase", "addr", addr, "granularity", g)
	return f.finish("erase", f.erase(addr, g), StateIdle)
}

// EraseSector erases the 4K sector at addr.
func (f *Flash) EraseSector(addr uint32) error {
	return f.Erase(addr, Sector4K)
}

// EraseBlock32 erases the 32K block at addr.
func (f *Flash) EraseBlock32(addr uint32) error {
	return f.Erase(addr, Block32K)
}

// EraseBlock64 erases the 64K block at addr.
func (f *Flash) EraseBlock64(addr uint32) error {
	return f.Erase(addr, Block64K)
}

func (f *Flash) erase(addr uint32, g Granularity) error {
	op := "erase " + g.String()

	opcode, ok := g.opcode()
	if !ok {
		return fmt.Errorf("erase %d bytes at 0x%06X: %w", uint32(g), addr, ErrInvalidGranularity)
	}
	if addr%uint32(g) != 0 {
		return &AlignmentError{Op: op, Address: addr, Boundary: uint32(g)}
	}
	if err := checkRange(op, addr, int(g)); err != nil {
		return err
	}

	if err := f.writeEnable(op, addr); err != nil {
		return err
	}

	f.latched = false
	if err := f.bus.Write(command(opcode, addr, nil)); err != nil {
		return busError(op, addr, err)
	}
	f.state = StateBusy

	if err := f.waitIdle(op, addr, f.config.eraseTimeout(g)); err != nil {
		return err
	}

	return f.writeDisable(op, addr)
}

// EraseRange erases n bytes from addr using the largest erase unit that
// fits at every step. addr and n must be multiples of 4K.
func (f *Flash) EraseRange(addr uint32, n int) error {
	f.logDebug("erase range", "addr", addr, "len", n)
	return f.finish("erase range", f.eraseRange(addr, n), StateIdle)
}

func (f *Flash) eraseRange(addr uint32, n int) error {
	const op = "erase range"

	if err := checkRange(op, addr, n); err != nil {
		return err
	}
	if addr%uint32(Sector4K) != 0 {
		return &AlignmentError{Op: op, Address: addr, Boundary: uint32(Sector4K)}
	}
	if n%int(Sector4K) != 0 {
		return &AlignmentError{Op: op, Address: addr, Length: n, Boundary: uint32(Sector4K)}
	}

	start := time.Now()

	for done := 0; done < n; {
		g := Sector4K
		for _, c := range []Granularity{Block64K, Block32K} {
			if addr%uint32(c) == 0 && n-done >= int(c) {
				g = c
				break
			}
		}

		if err := f.erase(addr, g); err != nil {
			return err
		}

		done += int(g)
		addr += uint32(g)

		f.reportProgress(Progress{
			Op:          "erase",
			Address:     addr,
			Done:        done,
			Total:       n,
			ElapsedTime: time.Since(start),
		})
	}

	return nil
}

// ChipErase erases the whole chip and waits for completion, for at most the
// chip erase timeout.
func (f *Flash) ChipErase() error {
	const op = "chip erase"
	f.logDebug(op)

	err := f.writeEnable(op, 0)
	if err == nil {
		f.latched = false
		if err = f.bus.Write([]byte{cmdChipErase}); err != nil {
			err = busError(op, 0, err)
		}
	}
	if err == nil {
		f.state = StateBusy
		err = f.waitIdle(op, 0, f.config.ChipEraseTimeout)
	}
	if err == nil {
		err = f.writeDisable(op, 0)
	}

	return f.finish(op, err, StateIdle)
}

// Read reads n bytes from addr in a single transaction.
func (f *Flash) Read(addr uint32, n int) ([]byte, error) {
	const op = "read"

	if err := checkRange(op, addr, n); err != nil {
		return nil, f.finish(op, err, StateError)
	}

	r, err := f.bus.WriteThenRead(command(cmdReadData, addr, nil), n)
	if err != nil {
		return nil, f.finishRead(op, busError(op, addr, err))
	}

	return r, f.finishRead(op, nil)
}

// ReadAt implements io.ReaderAt over the 24-bit address space, splitting
// the read into transactions of at most ReadChunk bytes.
func (f *Flash) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("w25qxx: negative offset")
	}
	if off > MaxAddress {
		return 0, io.EOF
	}

	want := p
	if end := off + int64(len(p)); end > MaxAddress+1 {
		want = p[:MaxAddress+1-off]
	}

	n := 0
	for n < len(want) {
		chunk := min(len(want)-n, f.config.ReadChunk)

		r, err := f.Read(uint32(off)+uint32(n), chunk)
		if err != nil {
			return n, err
		}

		n += copy(want[n:], r)
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// ManufacturerDeviceID returns the manufacturer byte and device byte
// combined big-endian, 0xEF17 for a W25Q128.
func (f *Flash) ManufacturerDeviceID() (uint16, error) {
	const op = "manufacturer/device id"

	r, err := f.bus.WriteThenRead([]byte{cmdManufacturerDeviceID, dummy, dummy, dummy}, 2)
	if err != nil {
		return 0, f.finishRead(op, busError(op, 0, err))
	}

	return uint16(r[0])<<8 | uint16(r[1]), f.finishRead(op, nil)
}

// JEDECID returns the JEDEC manufacturer, memory type and capacity bytes.
func (f *Flash) JEDECID() (JEDECID, error) {
	const op = "jedec id"

	r, err := f.bus.WriteThenRead([]byte{cmdJEDECID}, 3)
	if err != nil {
		return JEDECID{}, f.finishRead(op, busError(op, 0, err))
	}

	return JEDECID{Manufacturer: r[0], MemoryType: r[1], Capacity: r[2]}, f.finishRead(op, nil)
}

// UniqueID returns the factory programmed 64-bit unique ID.
func (f *Flash) UniqueID() (uint64, error) {
	const op = "unique id"

	r, err := f.bus.WriteThenRead([]byte{cmdReadUniqueID, dummy, dummy, dummy, dummy}, 8)
	if err != nil {
		return 0, f.finishRead(op, busError(op, 0, err))
	}

	return binary.BigEndian.Uint64(r), f.finishRead(op, nil)
}

func (f *Flash) reportProgress(p Progress) {
	if f.config.Progress != nil {
		f.config.Progress(p)
	}
}

func (f *Flash) logDebug(msg string, kv ...any) {
	if f.config.Logger != nil {
		f.config.Logger.Debug(msg, kv...)
	}
}

func (f *Flash) logError(msg string, kv ...any) {
	if f.config.Logger != nil {
		f.config.Logger.Error(msg, kv...)
	}
}
