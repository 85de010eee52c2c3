package spizero

import (
	"errors"
	"fmt"
	"io"
)

// DevAddr is an I2C target address. The high bit marks a 10-bit address.
type DevAddr uint16

const tenBitFlag DevAddr = 0x8000

// TenBit returns addr as a 10-bit target address.
func TenBit(addr uint16) DevAddr {
	return DevAddr(addr&0x3ff) | tenBitFlag
}

// IsTenBit reports whether a is a 10-bit address.
func (a DevAddr) IsTenBit() bool {
	return a&tenBitFlag != 0
}

// Value returns the address without flags.
func (a DevAddr) Value() uint16 {
	if a.IsTenBit() {
		return uint16(a & 0x3ff)
	}
	return uint16(a & 0x7f)
}

func (a DevAddr) String() string {
	if a.IsTenBit() {
		return fmt.Sprintf("0x%03x(10-bit)", a.Value())
	}
	return fmt.Sprintf("0x%02x", a.Value())
}

// AddrConn is a backend for address-oriented buses. Every segment of t is
// one message to addr: Tx segments are writes, Rx segments are reads.
// Full-duplex segments are not valid on such buses.
type AddrConn interface {
	TxAddr(addr DevAddr, t Transaction) error
	io.Closer
}

// I2C issues I2C messages over a backend.
type I2C struct {
	conn   AddrConn
	config Config
}

// NewI2C creates an I2C transport over conn.
func NewI2C(conn AddrConn, opts ...Option) *I2C {
	if conn == nil {
		panic("conn cannot be nil")
	}

	return &I2C{
		conn:   conn,
		config: newConfig(opts),
	}
}

// TxAddr validates and executes t with target addr as one bus operation.
func (c *I2C) TxAddr(addr DevAddr, t Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}

	for i, s := range t {
		if s.Tx != nil && s.Rx != nil {
			return fmt.Errorf("segment %d: full-duplex transfer on i2c: %w", i, errors.ErrUnsupported)
		}
	}

	c.config.logDebug("i2c transaction", "addr", addr, "segments", len(t), "bytes", t.Len())

	if err := c.conn.TxAddr(addr, t); err != nil {
		c.config.logError("i2c transaction failed", "addr", addr, "segments", len(t), "error", err)
		return err
	}

	return nil
}

// Write sends p to dev.
func (c *I2C) Write(dev DevAddr, p []byte) error {
	return c.TxAddr(dev, WriteTransaction(p))
}

// Read reads n bytes from dev.
func (c *I2C) Read(dev DevAddr, n int) ([]byte, error) {
	r := make([]byte, n)
	if err := c.TxAddr(dev, ReadTransaction(r)); err != nil {
		return nil, err
	}
	return r, nil
}

// AddressWrite writes p at register or memory address reg of dev.
func (c *I2C) AddressWrite(dev DevAddr, reg uint32, p []byte) error {
	prefix, err := AddressPrefix(reg, c.config.AddrWidth)
	if err != nil {
		return err
	}

	w := make([]byte, 0, len(prefix)+len(p))
	w = append(w, prefix...)
	w = append(w, p...)

	return c.TxAddr(dev, WriteTransaction(w))
}

// AddressRead reads n bytes from register or memory address reg of dev with
// a repeated start between the address write and the read.
func (c *I2C) AddressRead(dev DevAddr, reg uint32, n int) ([]byte, error) {
	prefix, err := AddressPrefix(reg, c.config.AddrWidth)
	if err != nil {
		return nil, err
	}

	r := make([]byte, n)
	if err := c.TxAddr(dev, WriteThenReadTransaction(prefix, r)); err != nil {
		return nil, err
	}
	return r, nil
}

// Close releases the backend.
func (c *I2C) Close() error {
	return c.conn.Close()
}
