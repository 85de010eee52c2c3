package spizero

import (
	"errors"
	"fmt"
	"io"
)

// Mode is the SPI clock polarity and phase pair.
type Mode uint8

const (
	CPHA Mode = 0x01 // Sample on the second clock edge.
	CPOL Mode = 0x02 // Clock idles high.
)

const (
	Mode0 Mode = 0
	Mode1 Mode = CPHA
	Mode2 Mode = CPOL
	Mode3 Mode = CPOL | CPHA
)

func (m Mode) String() string {
	return fmt.Sprintf("mode%d", uint8(m&(CPOL|CPHA)))
}

// Conn is a bus backend executing whole transactions.
//
// Tx either completes every segment or returns an error; a failed call
// leaves receive buffers undefined.
type Conn interface {
	Tx(t Transaction) error
	io.Closer
}

// Configurer is implemented by backends whose clock and mode can be changed
// after open.
type Configurer interface {
	SetSpeed(hz uint32) error
	Speed() (uint32, error)
	SetMode(m Mode) error
	Mode() (Mode, error)
}

// SPI issues SPI transfers over a backend.
//
// SPI is not safe for concurrent use; one owner per bus line.
type SPI struct {
	conn   Conn
	config Config
}

// NewSPI creates a SPI transport over conn.
func NewSPI(conn Conn, opts ...Option) *SPI {
	if conn == nil {
		panic("conn cannot be nil")
	}

	return &SPI{
		conn:   conn,
		config: newConfig(opts),
	}
}

// Conn returns the backend.
func (s *SPI) Conn() Conn {
	return s.conn
}

// Tx validates and executes t as one bus operation.
func (s *SPI) Tx(t Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.config.logDebug("spi transaction", "segments", len(t), "bytes", t.Len())

	if err := s.conn.Tx(t); err != nil {
		s.config.logError("spi transaction failed", "segments", len(t), "bytes", t.Len(), "error", err)
		return err
	}

	return nil
}

// Write clocks p out, discarding what comes back.
func (s *SPI) Write(p []byte) error {
	return s.Tx(WriteTransaction(p))
}

// Read clocks n bytes in.
func (s *SPI) Read(n int) ([]byte, error) {
	r := make([]byte, n)
	if err := s.Tx(ReadTransaction(r)); err != nil {
		return nil, err
	}
	return r, nil
}

// WriteAndRead clocks p out and returns the bytes received at the same time.
func (s *SPI) WriteAndRead(p []byte) ([]byte, error) {
	r := make([]byte, len(p))
	if err := s.Tx(DuplexTransaction(p, r)); err != nil {
		return nil, err
	}
	return r, nil
}

// WriteThenRead writes p and then reads n bytes without releasing chip
// select in between.
func (s *SPI) WriteThenRead(p []byte, n int) ([]byte, error) {
	r := make([]byte, n)
	if err := s.Tx(WriteThenReadTransaction(p, r)); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SPI) configurer() (Configurer, error) {
	c, ok := s.conn.(Configurer)
	if !ok {
		return nil, errors.ErrUnsupported
	}
	return c, nil
}

// SetSpeed sets the default clock in Hz.
func (s *SPI) SetSpeed(hz uint32) error {
	c, err := s.configurer()
	if err != nil {
		return err
	}
	return c.SetSpeed(hz)
}

// Speed returns the default clock in Hz.
func (s *SPI) Speed() (uint32, error) {
	c, err := s.configurer()
	if err != nil {
		return 0, err
	}
	return c.Speed()
}

// SetMode sets the clock polarity and phase.
func (s *SPI) SetMode(m Mode) error {
	c, err := s.configurer()
	if err != nil {
		return err
	}
	return c.SetMode(m)
}

// Mode returns the clock polarity and phase.
func (s *SPI) Mode() (Mode, error) {
	c, err := s.configurer()
	if err != nil {
		return 0, err
	}
	return c.Mode()
}

// Close releases the backend.
func (s *SPI) Close() error {
	return s.conn.Close()
}
