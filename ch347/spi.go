package ch347

import (
	"errors"
	"fmt"
	"time"

	"github.com/serfreeman1337/go-spizero"
)

var (
	ErrInvalidResponse = errors.New("invalid response")
)

type SPIMode uint8

const (
	SPIMode0 SPIMode = iota
	SPIMode1
	SPIMode2
	SPIMode3
)

type SPIClock uint8

const (
	SPIClock0 SPIClock = iota // 60 MHz
	SPIClock1                 // 30 MHz
	SPIClock2                 // 15 MHz
	SPIClock3                 // 7.5 MHz
	SPIClock4                 // 3.75 Mhz
	SPIClock5                 // 1.875 MHz
	SPIClock6                 // 937.5 KHz
	SPIClock7                 // 468.75 KHz
)

// Hz returns the clock rate.
func (c SPIClock) Hz() uint32 {
	return 60_000_000 >> c
}

// ClockFor returns the fastest clock not above hz, or SPIClock7.
func ClockFor(hz uint32) SPIClock {
	for c := SPIClock0; c < SPIClock7; c++ {
		if c.Hz() <= hz {
			return c
		}
	}
	return SPIClock7
}

type SPIByteOrder uint8

const (
	SPIByteOrderMSB SPIByteOrder = iota
	SPIByteOrderLSB
)

const (
	cmdSPIInit  byte = 0xc0
	cmdSPICS    byte = 0xc1
	cmdSPIWrite byte = 0xc4

	// Max data length of single SPI Write (0xc4) operation.
	maxSPIOpLen = 65535

	// Max packet length of a SPI write, length bytes included.
	maxSPIPacketLen = 509
)

// SetSPI configures the interface with a specified mode, clock, and byte order.
//   - SPIClock0 - 60 MHz.
//   - SPIClock1 - 30 MHz.
//   - SPIClock2 - 15 MHz.
//   - SPIClock3 - 7.5 MHz.
//   - SPIClock4 - 3.75 Mhz.
//   - SPIClock5 - 1.875 MHz.
//   - SPIClock6 - 937.5 KHz.
//   - SPIClock7 - 468.75 KHz.
func (c *IO) SetSPI(mode SPIMode, clock SPIClock, byteOrder SPIByteOrder) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.setSPI(mode, clock, byteOrder)
}

func (c *IO) setSPI(mode SPIMode, clock SPIClock, byteOrder SPIByteOrder) error {
	if mode > SPIMode3 || clock > SPIClock7 {
		return fmt.Errorf("ch347: spi mode %d clock %d: %w", mode, clock, errors.ErrUnsupported)
	}

	p := make([]byte, 0, 31)

	p = append(p, 0x1d, 0x00)

	// byte 0 - CMD
	// bytes 1-8 - ??
	p = append(p, cmdSPIInit, 0x1a, 0x00, 0x00, 0x00, 0x04, 0x01, 0x00, 0x00)

	// bytes 9-12 - SPI Mode, CPOL then CPHA.
	var cpol, cpha byte
	if mode&2 != 0 {
		cpol = 0x02
	}
	if mode&1 != 0 {
		cpha = 0x01
	}
	p = append(p, cpol, 0x00, cpha, 0x00)

	// bytes 13-14 - ???
	p = append(p, 0x00, 0x02)

	// byte 15 - SPI Clock, divider in bits 5-3.
	p = append(p, byte(clock<<3))

	// byte 16 - ???
	p = append(p, 0x00)

	// byte 17 - byte order, LSB first in bit 7.
	p = append(p, byte(byteOrder)<<7)

	// bytes 18-20 - ???
	p = append(p, 0x00, 0x07, 0x00)

	// bytes 21-22 - read write interval.
	p = append(p, 0x00, 0x00)

	// byte 23 - MISO default data.
	p = append(p, 0xff)

	// byte 24 - CS Polarity
	// 0x80 - active high CS0
	// 0x40 - active high CS1
	p = append(p, 0x00)

	// bytes 25-28
	p = append(p, 0x00, 0x00, 0x00, 0x00)

	if _, err := c.Dev.Write(p); err != nil {
		return err
	}

	// 0400 c0 01 00 00
	r := make([]byte, 6)
	if _, err := c.Dev.Read(r); err != nil {
		return err
	}
	if r[2] != cmdSPIInit {
		return ErrInvalidResponse
	}

	c.spiMode, c.spiClock, c.spiOrder = mode, clock, byteOrder
	return nil
}

// SPI writes w under the current CS state.
//
// Reads are not supported: a non-empty r returns errors.ErrUnsupported
// without any USB traffic.
func (c *IO) SPI(w, r []byte) error {
	if len(r) != 0 {
		return errors.ErrUnsupported
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.spiWrite(w)
}

// Tx runs t as one CS0 selection. A segment without KeepCS that is not the
// last one releases and reasserts CS after it.
//
// Read and full-duplex legs, and per-segment clock or word size overrides the
// interface cannot apply, return errors.ErrUnsupported before any USB
// traffic.
func (c *IO) Tx(t spizero.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range t {
		if len(s.Rx) != 0 {
			return fmt.Errorf("ch347: segment %d: spi read: %w", i, errors.ErrUnsupported)
		}
		if s.BitsPerWord != 0 && s.BitsPerWord != 8 {
			return fmt.Errorf("ch347: segment %d: %d bits per word: %w", i, s.BitsPerWord, errors.ErrUnsupported)
		}
		if s.SpeedHz != 0 && ClockFor(s.SpeedHz) != c.spiClock {
			return fmt.Errorf("ch347: segment %d: speed %d Hz: %w", i, s.SpeedHz, errors.ErrUnsupported)
		}
	}

	if err := c.setCS(0, true); err != nil {
		return err
	}

	err := c.tx(t)

	if cerr := c.setCS(0, false); err == nil {
		err = cerr
	}
	return err
}

func (c *IO) tx(t spizero.Transaction) error {
	for i, s := range t {
		if err := c.spiWrite(s.Tx); err != nil {
			return &spizero.TransportError{Op: "spi write", Segments: len(t), Len: t.Len(), Err: err}
		}

		if s.DelayUsecs != 0 {
			time.Sleep(time.Duration(s.DelayUsecs) * time.Microsecond)
		}

		if i < len(t)-1 && !s.KeepCS {
			if err := c.setCS(0, false); err != nil {
				return err
			}
			if err := c.setCS(0, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// spiWrite splits w into 0xc4 operations of at most maxSPIOpLen bytes. The
// first packet of an operation carries the command header, every packet is
// confirmed by the device.
func (c *IO) spiWrite(w []byte) error {
	p := make([]byte, 0, maxSPIPacketLen)

	for len(w) > 0 {
		op := w[:min(len(w), maxSPIOpLen)]
		w = w[len(op):]

		p = append(p[:0], 0x00, 0x00, cmdSPIWrite, byte(len(op)&0xff), byte((len(op)>>8)&0xff))

		for len(op) > 0 {
			n := min(len(op), maxSPIPacketLen-len(p))
			p = append(p, op[:n]...)
			op = op[n:]

			if err := c.spiSend(p); err != nil {
				return err
			}

			p = p[:2]
		}
	}

	return nil
}

func (c *IO) spiSend(p []byte) error {
	packetLen(p)

	if _, err := c.Dev.Write(p); err != nil {
		return err
	}

	// Confirm write: 03 00 c4 01 ..
	r := make([]byte, 5)
	if _, err := c.Dev.Read(r); err != nil {
		return err
	}
	if r[2] != cmdSPIWrite {
		return ErrInvalidResponse
	}

	return nil
}

// SetSpeed selects the fastest clock not above hz and reconfigures the
// interface with the current mode and byte order.
func (c *IO) SetSpeed(hz uint32) error {
	if hz == 0 {
		return fmt.Errorf("ch347: speed 0 Hz: %w", errors.ErrUnsupported)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.setSPI(c.spiMode, ClockFor(hz), c.spiOrder)
}

// Speed returns the configured clock rate.
func (c *IO) Speed() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.spiClock.Hz(), nil
}

// SetMode reconfigures the interface with mode m. Only CPOL and CPHA are
// supported.
func (c *IO) SetMode(m spizero.Mode) error {
	if m&^spizero.Mode3 != 0 {
		return fmt.Errorf("ch347: mode %s: %w", m, errors.ErrUnsupported)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.setSPI(SPIMode(m), c.spiClock, c.spiOrder)
}

// Mode returns the configured mode.
func (c *IO) Mode() (spizero.Mode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return spizero.Mode(c.spiMode), nil
}

// SetCS asserts CS0 pin.
func (c *IO) SetCS(enable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.setCS(0, enable)
}

// SetCS1 asserts CS1 pin.
func (c *IO) SetCS1(enable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.setCS(1, enable)
}

func (c *IO) setCS(cs int, enable bool) error {
	p := []byte{
		0x0d, 0x00, cmdSPICS, 0x0a, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00,
	}

	pos := 5 + 5*cs

	if enable {
		p[pos] = 0x80
	} else {
		p[pos] = 0xc0
	}

	_, err := c.Dev.Write(p)
	return err
}
