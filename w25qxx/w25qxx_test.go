package w25qxx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

// fakeChip models the parts of a W25Q chip the driver relies on: the write
// enable latch, BUSY after program and erase, and the memory array.
type fakeChip struct {
	mem    map[uint32]byte
	status byte

	// busyPolls is how many status reads report BUSY after a cycle starts.
	busyPolls int
	pending   int

	// stuckBusy keeps BUSY set forever.
	stuckBusy bool
	// noLatch makes WREN have no effect.
	noLatch bool

	writes [][]byte
	err    error

	id  []byte
	uid []byte
}

func newFakeChip() *fakeChip {
	return &fakeChip{mem: make(map[uint32]byte)}
}

func (c *fakeChip) startCycle() {
	c.pending = c.busyPolls
	c.status |= StatusBusy
}

func addr24(p []byte) uint32 {
	return uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3])
}

func (c *fakeChip) Write(p []byte) error {
	if c.err != nil {
		return c.err
	}
	c.writes = append(c.writes, append([]byte(nil), p...))

	switch p[0] {
	case cmdWriteEnable:
		if !c.noLatch {
			c.status |= StatusWriteEnable
		}
	case cmdWriteDisable:
		c.status &^= StatusWriteEnable
	case cmdPageProgram:
		if c.status&StatusWriteEnable == 0 {
			return nil
		}
		a := addr24(p)
		page := a &^ (PageSize - 1)
		for i, b := range p[4:] {
			at := page | (a+uint32(i))%PageSize
			old, ok := c.mem[at]
			if !ok {
				old = 0xff
			}
			c.mem[at] = old & b
		}
		c.status &^= StatusWriteEnable
		c.startCycle()
	case cmdSectorErase, cmdBlockErase32K, cmdBlockErase64K, cmdChipErase, cmdWriteStatusRegister:
		c.status &^= StatusWriteEnable
		c.startCycle()
	}
	return nil
}

func (c *fakeChip) WriteThenRead(p []byte, n int) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.writes = append(c.writes, append([]byte(nil), p...))

	r := make([]byte, n)
	switch p[0] {
	case cmdReadStatusRegister1:
		r[0] = c.status
		if c.status&StatusBusy != 0 && !c.stuckBusy {
			if c.pending == 0 {
				c.status &^= StatusBusy
			} else {
				c.pending--
			}
		}
	case cmdReadStatusRegister2:
		r[0] = 0x02
	case cmdReadData:
		a := addr24(p)
		for i := range r {
			b, ok := c.mem[a+uint32(i)]
			if !ok {
				b = 0xff
			}
			r[i] = b
		}
	case cmdManufacturerDeviceID, cmdJEDECID:
		copy(r, c.id)
	case cmdReadUniqueID:
		copy(r, c.uid)
	}
	return r, nil
}

func (c *fakeChip) count(cmd byte) int {
	n := 0
	for _, w := range c.writes {
		if w[0] == cmd {
			n++
		}
	}
	return n
}

func (c *fakeChip) programs() [][]byte {
	var p [][]byte
	for _, w := range c.writes {
		if w[0] == cmdPageProgram {
			p = append(p, w)
		}
	}
	return p
}

func TestProgramPageFrame(t *testing.T) {
	chip := newFakeChip()
	f := New(chip)

	if err := f.WriteEnable(); err != nil {
		t.Fatal(err)
	}

	data := bytes.Repeat([]byte{0xaa}, 10)
	if err := f.ProgramPage(0x1000, data); err != nil {
		t.Fatal(err)
	}

	want := append([]byte{0x02, 0x00, 0x10, 0x00}, data...)
	p := chip.programs()
	if len(p) != 1 || !bytes.Equal(p[0], want) {
		t.Fatalf("program frames % x, want % x", p, want)
	}

	// Write disable follows the program leg.
	last := chip.writes[len(chip.writes)-1]
	if !bytes.Equal(last, []byte{cmdWriteDisable}) {
		t.Errorf("last frame % x, want 04", last)
	}

	if f.State() != StateBusy {
		t.Errorf("state %s, want busy", f.State())
	}

	if err := f.WaitIdle(time.Second); err != nil {
		t.Fatal(err)
	}
	if f.State() != StateIdle {
		t.Errorf("state %s, want idle", f.State())
	}
}

func TestProgramPageNeedsWriteEnable(t *testing.T) {
	chip := newFakeChip()
	f := New(chip)

	err := f.ProgramPage(0, []byte{1})
	if !errors.Is(err, ErrWriteNotEnabled) {
		t.Fatalf("got %v, want ErrWriteNotEnabled", err)
	}
	if len(chip.writes) != 0 {
		t.Errorf("bus traffic without write enable: % x", chip.writes)
	}
	if f.State() != StateError {
		t.Errorf("state %s, want error", f.State())
	}

	// The latch is consumed by one program.
	if err := f.WriteEnable(); err != nil {
		t.Fatal(err)
	}
	if err := f.ProgramPage(0, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := f.ProgramPage(1, []byte{2}); !errors.Is(err, ErrWriteNotEnabled) {
		t.Errorf("second program: got %v", err)
	}
}

func TestProgramPageCrossesBoundary(t *testing.T) {
	chip := newFakeChip()
	f := New(chip)
	_ = f.WriteEnable()
	chip.writes = nil

	err := f.ProgramPage(0xf0, make([]byte, 32))

	var ae *AlignmentError
	if !errors.As(err, &ae) {
		t.Fatalf("got %v, want AlignmentError", err)
	}
	if ae.Boundary != PageSize || ae.Length != 32 {
		t.Errorf("got %+v", ae)
	}
	if len(chip.writes) != 0 {
		t.Errorf("bus traffic on rejected program")
	}
}

func TestManufacturerDeviceID(t *testing.T) {
	chip := newFakeChip()
	chip.id = []byte{0xef, 0x40}
	f := New(chip)

	id, err := f.ManufacturerDeviceID()
	if err != nil {
		t.Fatal(err)
	}
	if id != 0xef40 {
		t.Errorf("id 0x%04x, want 0xef40", id)
	}

	if !bytes.Equal(chip.writes[0], []byte{0x90, 0, 0, 0}) {
		t.Errorf("sent % x", chip.writes[0])
	}
}

func TestJEDECID(t *testing.T) {
	chip := newFakeChip()
	chip.id = []byte{0xef, 0x40, 0x18}
	f := New(chip)

	id, err := f.JEDECID()
	if err != nil {
		t.Fatal(err)
	}
	if id.Manufacturer != 0xef || id.MemoryType != 0x40 || id.Capacity != 0x18 {
		t.Errorf("got %+v", id)
	}
	if id.Size() != 16*1024*1024 {
		t.Errorf("size %d", id.Size())
	}
	if id.String() != "EF4018" {
		t.Errorf("string %q", id.String())
	}

	if (JEDECID{0xff, 0xff, 0xff}).Size() != 0 {
		t.Errorf("no chip must report size 0")
	}
}

func TestUniqueID(t *testing.T) {
	chip := newFakeChip()
	chip.uid = []byte{1, 2, 3, 4, 5, 6, 7, 8}
	f := New(chip)

	uid, err := f.UniqueID()
	if err != nil {
		t.Fatal(err)
	}
	if uid != 0x0102030405060708 {
		t.Errorf("uid 0x%016x", uid)
	}
	if len(chip.writes[0]) != 5 {
		t.Errorf("unique id needs 4 dummy bytes, sent % x", chip.writes[0])
	}
}

func TestWriteSplitsAtPageBoundary(t *testing.T) {
	chip := newFakeChip()
	f := New(chip)

	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i)
	}

	if err := f.Write(0x00f0, data); err != nil {
		t.Fatal(err)
	}

	p := chip.programs()
	if len(p) != 2 {
		t.Fatalf("got %d programs, want 2", len(p))
	}
	if addr24(p[0]) != 0xf0 || len(p[0])-4 != 16 {
		t.Errorf("first program at 0x%06x len %d", addr24(p[0]), len(p[0])-4)
	}
	if addr24(p[1]) != 0x100 || len(p[1])-4 != 16 {
		t.Errorf("second program at 0x%06x len %d", addr24(p[1]), len(p[1])-4)
	}

	if chip.count(cmdWriteEnable) != 2 {
		t.Errorf("expected a write enable per page, got %d", chip.count(cmdWriteEnable))
	}

	got, err := f.Read(0xf0, 32)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read back % x", got)
	}

	if f.State() != StateIdle {
		t.Errorf("state %s", f.State())
	}
}

func TestWriteNeverCrossesPage(t *testing.T) {
	for _, tc := range []struct {
		addr uint32
		n    int
	}{
		{0, 1},
		{0, 256},
		{0, 257},
		{0xff, 2},
		{0x1234, 1000},
		{0xfffff0, 16},
	} {
		t.Run(fmt.Sprintf("0x%06x+%d", tc.addr, tc.n), func(t *testing.T) {
			chip := newFakeChip()
			f := New(chip)

			if err := f.Write(tc.addr, make([]byte, tc.n)); err != nil {
				t.Fatal(err)
			}

			total := 0
			next := tc.addr
			for _, p := range chip.programs() {
				a, n := addr24(p), len(p)-4
				if a != next {
					t.Errorf("program at 0x%06x, want 0x%06x", a, next)
				}
				if a/PageSize != (a+uint32(n)-1)/PageSize {
					t.Errorf("program at 0x%06x len %d crosses a page", a, n)
				}
				total += n
				next += uint32(n)
			}
			if total != tc.n {
				t.Errorf("programmed %d bytes, want %d", total, tc.n)
			}
		})
	}
}

func TestWriteProgress(t *testing.T) {
	chip := newFakeChip()

	var reports []Progress
	f := New(chip, WithProgressCallback(func(p Progress) {
		reports = append(reports, p)
	}))

	// 128 bytes at 0x080, a full page at 0x100, 16 bytes at 0x200.
	if err := f.Write(0x80, make([]byte, 400)); err != nil {
		t.Fatal(err)
	}

	want := []struct {
		addr uint32
		done int
	}{
		{0x100, 128},
		{0x200, 384},
		{0x210, 400},
	}

	if len(reports) != len(want) {
		t.Fatalf("got %d reports, want %d", len(reports), len(want))
	}
	for i, w := range want {
		r := reports[i]
		if r.Address != w.addr || r.Done != w.done || r.Total != 400 || r.Op != "write" {
			t.Errorf("report %d %+v, want address 0x%x done %d", i, r, w.addr, w.done)
		}
	}
}

func TestWriteOutOfRange(t *testing.T) {
	chip := newFakeChip()
	f := New(chip)

	err := f.Write(MaxAddress, []byte{1, 2})

	var re *RangeError
	if !errors.As(err, &re) {
		t.Fatalf("got %v, want RangeError", err)
	}
	if len(chip.writes) != 0 {
		t.Errorf("bus traffic on rejected write")
	}
}

func TestEraseAlignment(t *testing.T) {
	for _, tc := range []struct {
		addr uint32
		g    Granularity
	}{
		{0x0001, Sector4K},
		{0x1000, Block32K},
		{0x8000, Block64K},
	} {
		chip := newFakeChip()
		f := New(chip)

		err := f.Erase(tc.addr, tc.g)

		var ae *AlignmentError
		if !errors.As(err, &ae) {
			t.Errorf("%s at 0x%x: got %v, want AlignmentError", tc.g, tc.addr, err)
			continue
		}
		if ae.Boundary != uint32(tc.g) {
			t.Errorf("boundary %d, want %d", ae.Boundary, tc.g)
		}
		if len(chip.writes) != 0 {
			t.Errorf("%s at 0x%x: bus traffic on rejected erase", tc.g, tc.addr)
		}
		if f.State() != StateError {
			t.Errorf("state %s, want error", f.State())
		}
	}
}

func TestEraseInvalidGranularity(t *testing.T) {
	chip := newFakeChip()
	f := New(chip)

	if err := f.Erase(0, Granularity(1024)); !errors.Is(err, ErrInvalidGranularity) {
		t.Errorf("got %v", err)
	}
}

func TestEraseSequence(t *testing.T) {
	chip := newFakeChip()
	chip.busyPolls = 3
	f := New(chip)

	if err := f.EraseSector(0x3000); err != nil {
		t.Fatal(err)
	}
	if err := f.EraseBlock32(0x8000); err != nil {
		t.Fatal(err)
	}
	if err := f.EraseBlock64(0x10000); err != nil {
		t.Fatal(err)
	}

	var frames [][]byte
	for _, w := range chip.writes {
		if w[0] == cmdSectorErase || w[0] == cmdBlockErase32K || w[0] == cmdBlockErase64K {
			frames = append(frames, w)
		}
	}

	want := [][]byte{
		{0x20, 0x00, 0x30, 0x00},
		{0x52, 0x00, 0x80, 0x00},
		{0xd8, 0x01, 0x00, 0x00},
	}
	if len(frames) != len(want) {
		t.Fatalf("got %d erase frames", len(frames))
	}
	for i := range want {
		if !bytes.Equal(frames[i], want[i]) {
			t.Errorf("frame %d % x, want % x", i, frames[i], want[i])
		}
	}

	if chip.status&StatusBusy != 0 {
		t.Errorf("erase returned before BUSY cleared")
	}
}

func TestEraseRange(t *testing.T) {
	chip := newFakeChip()
	f := New(chip)

	// 4K at 0x7000, 32K at 0x8000, 64K at 0x10000, 4K at 0x20000.
	if err := f.EraseRange(0x7000, 0x1000+0x8000+0x10000+0x1000); err != nil {
		t.Fatal(err)
	}

	var ops []byte
	for _, w := range chip.writes {
		switch w[0] {
		case cmdSectorErase, cmdBlockErase32K, cmdBlockErase64K:
			ops = append(ops, w[0])
		}
	}

	want := []byte{cmdSectorErase, cmdBlockErase32K, cmdBlockErase64K, cmdSectorErase}
	if !bytes.Equal(ops, want) {
		t.Errorf("erase ops % x, want % x", ops, want)
	}

	if err := f.EraseRange(0x1000, 100); err == nil {
		t.Errorf("unaligned length accepted")
	}
}

func TestChipErase(t *testing.T) {
	chip := newFakeChip()
	f := New(chip)

	if err := f.ChipErase(); err != nil {
		t.Fatal(err)
	}
	if chip.count(cmdChipErase) != 1 {
		t.Errorf("no chip erase sent")
	}
}

func TestWaitIdleTimeout(t *testing.T) {
	chip := newFakeChip()
	chip.status = StatusBusy
	chip.stuckBusy = true
	f := New(chip)

	start := time.Now()
	err := f.WaitIdle(100 * time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}

	var bt *BusyTimeoutError
	if !errors.As(err, &bt) {
		t.Fatalf("got %T, want *BusyTimeoutError", err)
	}
	if bt.Status&StatusBusy == 0 {
		t.Errorf("status 0x%02x", bt.Status)
	}

	if elapsed < 100*time.Millisecond || elapsed > time.Second {
		t.Errorf("timed out after %s", elapsed)
	}
	if f.State() != StateError {
		t.Errorf("state %s, want error", f.State())
	}
}

func TestWriteEnableTimeout(t *testing.T) {
	chip := newFakeChip()
	chip.noLatch = true
	f := New(chip, WithWriteEnableTimeout(20*time.Millisecond))

	err := f.WriteEnable()

	var ht *HandshakeTimeoutError
	if !errors.As(err, &ht) {
		t.Fatalf("got %v, want HandshakeTimeoutError", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("HandshakeTimeoutError must match ErrTimeout")
	}
	if f.State() != StateError {
		t.Errorf("state %s, want error", f.State())
	}

	// A failed handshake halts Write before any program.
	if err := f.Write(0, []byte{1}); err == nil {
		t.Errorf("Write succeeded without latch")
	}
	if len(chip.programs()) != 0 {
		t.Errorf("program sent without latch")
	}
}

func TestErrorStateRecovery(t *testing.T) {
	chip := newFakeChip()
	f := New(chip)

	chip.err = errors.New("usb gone")
	if _, err := f.ReadStatus1(); err == nil {
		t.Fatal("expected error")
	}
	if f.State() != StateError {
		t.Errorf("state %s, want error", f.State())
	}

	chip.err = nil
	if _, err := f.ReadStatus1(); err != nil {
		t.Fatal(err)
	}
	if f.State() != StateIdle {
		t.Errorf("state %s, want idle", f.State())
	}
}

func TestTransportErrorWrapped(t *testing.T) {
	chip := newFakeChip()
	f := New(chip)

	busErr := errors.New("bus failure")
	chip.err = busErr

	_, err := f.Read(0x123456, 4)
	if !errors.Is(err, busErr) {
		t.Fatalf("got %v, want wrapped bus error", err)
	}
	if want := "read at 0x123456: bus failure"; err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestReadAt(t *testing.T) {
	chip := newFakeChip()
	for i := uint32(0); i < 100; i++ {
		chip.mem[0x2000+i] = byte(i)
	}
	f := New(chip, WithReadChunk(16))

	p := make([]byte, 100)
	n, err := f.ReadAt(p, 0x2000)
	if err != nil || n != 100 {
		t.Fatalf("ReadAt = %d, %v", n, err)
	}
	for i, b := range p {
		if b != byte(i) {
			t.Fatalf("byte %d = %02x", i, b)
		}
	}

	if reads := chip.count(cmdReadData); reads != 7 {
		t.Errorf("got %d reads, want 7", reads)
	}

	n, err = f.ReadAt(make([]byte, 8), MaxAddress-3)
	if n != 4 || err != io.EOF {
		t.Errorf("read past end = %d, %v", n, err)
	}
}

func TestWriteProtectPin(t *testing.T) {
	chip := newFakeChip()
	pin := &fakePin{}
	f := New(chip, WithWriteProtect(pin))

	if err := f.Write(0, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	if len(pin.levels) != 2 || !pin.levels[0] || pin.levels[1] {
		t.Errorf("pin levels %v, want [true false]", pin.levels)
	}
}

func TestWriteProtectRestoredOnFailure(t *testing.T) {
	t.Run("handshake timeout", func(t *testing.T) {
		chip := newFakeChip()
		chip.noLatch = true
		pin := &fakePin{}
		f := New(chip, WithWriteProtect(pin), WithWriteEnableTimeout(10*time.Millisecond))

		if err := f.Write(0, []byte{1}); !errors.Is(err, ErrTimeout) {
			t.Fatalf("got %v, want ErrTimeout", err)
		}
		if n := len(pin.levels); n == 0 || pin.levels[n-1] {
			t.Errorf("pin levels %v, want last level false", pin.levels)
		}
	})

	t.Run("busy timeout", func(t *testing.T) {
		chip := newFakeChip()
		chip.stuckBusy = true
		pin := &fakePin{}
		f := New(chip, WithWriteProtect(pin), WithEraseTimeout(Sector4K, 10*time.Millisecond))

		if err := f.EraseSector(0); !errors.Is(err, ErrTimeout) {
			t.Fatalf("got %v, want ErrTimeout", err)
		}
		if n := len(pin.levels); n == 0 || pin.levels[n-1] {
			t.Errorf("pin levels %v, want last level false", pin.levels)
		}
	})

	t.Run("bus error", func(t *testing.T) {
		chip := newFakeChip()
		pin := &fakePin{}
		f := New(chip, WithWriteProtect(pin))
		chip.err = errors.New("usb gone")

		if err := f.ChipErase(); err == nil {
			t.Fatal("expected error")
		}
		if n := len(pin.levels); n == 0 || pin.levels[n-1] {
			t.Errorf("pin levels %v, want last level false", pin.levels)
		}
	})
}

type fakePin struct {
	levels []bool
}

func (p *fakePin) Out(level bool) error {
	p.levels = append(p.levels, level)
	return nil
}

func TestWriteStatus(t *testing.T) {
	chip := newFakeChip()
	f := New(chip)

	if err := f.WriteStatus(0x00, 0x02); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, w := range chip.writes {
		if bytes.Equal(w, []byte{cmdWriteStatusRegister, 0x00, 0x02}) {
			found = true
		}
	}
	if !found {
		t.Errorf("write status frame not sent")
	}

	s2, err := f.ReadStatus2()
	if err != nil || s2 != 0x02 {
		t.Errorf("ReadStatus2 = %02x, %v", s2, err)
	}
}

func TestErrorFormats(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{
			&AlignmentError{Op: "erase 4K sector", Address: 0x1001, Boundary: 4096},
			"erase 4K sector at 0x001001: address not aligned to 4096 bytes",
		},
		{
			&AlignmentError{Op: "page program", Address: 0xf0, Length: 32, Boundary: 256},
			"page program at 0x0000F0: 32 bytes cross a 256 byte boundary",
		},
		{
			&RangeError{Op: "write", Address: 0xffffff, Length: 2},
			"write at 0xFFFFFF: 2 bytes exceed the 24-bit address space",
		},
		{
			&BusyTimeoutError{Op: "wait idle", Timeout: 100 * time.Millisecond, Status: 0x01},
			"wait idle at 0x000000: wait idle timeout after 100ms (status 0x01)",
		},
		{
			&HandshakeTimeoutError{Op: "write", Address: 0x100, Timeout: 100 * time.Millisecond},
			"write at 0x000100: write enable timeout after 100ms (status 0x00)",
		},
	}

	for _, tc := range tests {
		if got := tc.err.Error(); got != tc.want {
			t.Errorf("got %q, want %q", got, tc.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateIdle.String() != "idle" || StateBusy.String() != "busy" || StateError.String() != "error" {
		t.Errorf("unexpected state names")
	}
	if State(9).String() != "state(9)" {
		t.Errorf("got %q", State(9).String())
	}
}
