package ch347

import (
	"errors"
	"fmt"

	"github.com/serfreeman1337/go-spizero"
)

var (
	ErrI2CRead  = errors.New("i2c read failed")
	ErrI2CWrite = errors.New("i2c write failed")
)

type I2CMode uint8

const (
	I2CMode0 I2CMode = iota // Low rate 20KHz.
	I2CMode1                // Standart rate 100KHz.
	I2CMode2                // Fast rate 400KHz.
	I2CMode3                // High rate 750KHz.
)

const (
	// The command package of the I2C interface, starting from the secondary
	// byte, is the I2C command stream.
	cmdI2CStream = 0xaa

	cmdI2CStart = 0x74
	cmdI2CStop  = 0x75

	// Output data, bits 5-0 are the length. Every byte is answered with an
	// ack byte.
	cmdI2CWrite = 0x80

	// Input data, bits 5-0 are the length. A length of 0 reads one byte and
	// sends no ack. Reads must end with it, otherwise the next operation
	// fails.
	cmdI2CRead = 0xc0

	// Max data length with 6 bits.
	maxI2CChunk = 63
)

// SetI2C configures the interface with a specified mode.
//   - I2CMode0 - Low rate 20KHz.
//   - I2CMode1 - Standart rate 100KHz.
//   - I2CMode2 - Fast rate 400KHz.
//   - I2CMode3 - High rate 750KHz.
func (c *IO) SetI2C(mode I2CMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := []byte{0x03, 0x00, cmdI2CStream, 0x60 | byte(mode), 0x00}
	_, err := c.Dev.Write(p)
	return err
}

// I2C performs write and read operations with device on given address.
//
// Example:
//
//	// Read all 4096 bytes from 24C32B chip
//	w := []byte{0x00, 0x00} // "Random read". Write page address first.
//	r := make([]byte, 4096) // Allocate buffer for 4096 bytes to be read.
//	err = c.I2C(0x57, w, r)
//
//	if err != nil {
//		return err
//	}
//
//	// Print result as a string
//	fmt.Println(string(r))
func (c *IO) I2C(addr uint16, w, r []byte) error {
	var t spizero.Transaction
	if len(w) != 0 || len(r) == 0 {
		t = append(t, spizero.Segment{Tx: w})
	}
	if len(r) != 0 {
		t = append(t, spizero.Segment{Rx: r})
	}

	return c.TxAddr(spizero.DevAddr(addr), t)
}

// TxAddr runs t against the device at addr: every segment starts with a
// (repeated) start condition and the transaction ends with a stop.
//
// 10-bit addresses and full-duplex segments return errors.ErrUnsupported.
func (c *IO) TxAddr(addr spizero.DevAddr, t spizero.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if addr.IsTenBit() {
		return fmt.Errorf("ch347: i2c address %s: %w", addr, errors.ErrUnsupported)
	}
	for i, s := range t {
		if len(s.Tx) != 0 && len(s.Rx) != 0 {
			return fmt.Errorf("ch347: segment %d: full duplex i2c: %w", i, errors.ErrUnsupported)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := &i2cStream{dev: c.Dev}
	a := byte(addr.Value() << 1)

	for _, seg := range t {
		var err error
		if len(seg.Rx) != 0 {
			err = s.read(a, seg.Rx)
		} else {
			err = s.write(a, seg.Tx)
		}
		if err != nil {
			return err
		}
	}

	if err := s.add([]byte{cmdI2CStop}); err != nil {
		return err
	}

	return s.flush()
}

// i2cStream packs I2C commands into 0xaa packets. Every command byte that
// produces a response byte registers a handler for it, in order.
type i2cStream struct {
	dev HIDDev

	p      []byte
	expect []func(b byte) error
}

func writeAck(b byte) error {
	if b == 0x00 {
		return ErrI2CWrite
	}
	return nil
}

func readAck(b byte) error {
	if b != 0x01 {
		return ErrI2CRead
	}
	return nil
}

func sink(dst []byte) []func(byte) error {
	fs := make([]func(byte) error, len(dst))
	for i := range dst {
		i := i
		fs[i] = func(b byte) error {
			dst[i] = b
			return nil
		}
	}
	return fs
}

func acks(n int, f func(byte) error) []func(byte) error {
	fs := make([]func(byte) error, n)
	for i := range fs {
		fs[i] = f
	}
	return fs
}

// add appends cmds, sending the pending packet first when the command or its
// response would not fit.
func (s *i2cStream) add(cmds []byte, expect ...func(byte) error) error {
	// 2 length bytes and the 0x00 terminator.
	if len(s.p)+len(cmds)+1 > maxPacketLen-2 || 2+len(s.expect)+len(expect) > maxPacketLen {
		if err := s.flush(); err != nil {
			return err
		}
	}

	if len(s.p) == 0 {
		s.p = append(s.p, 0x00, 0x00, cmdI2CStream)
	}

	s.p = append(s.p, cmds...)
	s.expect = append(s.expect, expect...)
	return nil
}

func (s *i2cStream) flush() error {
	if len(s.p) == 0 {
		return nil
	}

	p := append(s.p, 0x00) // End packet with 0x00.
	packetLen(p)

	expect := s.expect
	s.p, s.expect = s.p[:0], nil

	if _, err := s.dev.Write(p); err != nil {
		return err
	}

	if len(expect) == 0 {
		return nil
	}

	// 2 bytes of length, then one byte per ack or data byte.
	r := make([]byte, 2+len(expect))
	n, err := s.dev.Read(r)
	if err != nil {
		return err
	}
	if n < len(r) {
		return ErrInvalidResponse
	}

	for i, f := range expect {
		if err := f(r[2+i]); err != nil {
			return err
		}
	}

	return nil
}

// write sends a start, then the address byte and data in chunks of at most
// maxI2CChunk bytes. The first chunk carries the address.
func (s *i2cStream) write(addr byte, data []byte) error {
	if err := s.add([]byte{cmdI2CStart}); err != nil {
		return err
	}

	n := min(len(data), maxI2CChunk-1)
	chunk := append([]byte{addr}, data[:n]...)
	data = data[n:]

	for {
		cmd := append([]byte{cmdI2CWrite | byte(len(chunk))}, chunk...)
		if err := s.add(cmd, acks(len(chunk), writeAck)...); err != nil {
			return err
		}

		if len(data) == 0 {
			return nil
		}

		n = min(len(data), maxI2CChunk)
		chunk = data[:n]
		data = data[n:]
	}
}

// read sends a start with the read address, then reads all bytes but the
// last in chunks and ends with a single byte read.
func (s *i2cStream) read(addr byte, dst []byte) error {
	if err := s.add([]byte{cmdI2CStart, cmdI2CWrite | 1, addr | 1}, readAck); err != nil {
		return err
	}

	last := len(dst) - 1
	for pos := 0; pos < last; {
		n := min(last-pos, maxI2CChunk)
		if err := s.add([]byte{cmdI2CRead | byte(n)}, sink(dst[pos:pos+n])...); err != nil {
			return err
		}
		pos += n
	}

	return s.add([]byte{cmdI2CRead}, sink(dst[last:])...)
}
