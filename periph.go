package spizero

import (
	"errors"
	"fmt"
	"io"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Periph adapts a periph.io SPI port to Conn. Any periph host driver works:
// ftdi, sysfs, bcm283x and so on.
//
// Example:
//
//	if _, err := host.Init(); err != nil {
//		return err
//	}
//	port, err := spireg.Open("")
//	if err != nil {
//		return err
//	}
//	p, err := spizero.NewPeriph(port, 10_000_000, spizero.Mode0, 8)
//	s := spizero.NewSPI(p)
type Periph struct {
	port spi.Port
	conn spi.Conn
	hz   uint32
	mode Mode
	bits int
}

// NewPeriph connects to port with a fixed clock, mode and word width.
// periph ports are configured once, so SetSpeed and SetMode only accept the
// connected values afterwards.
func NewPeriph(port spi.Port, hz uint32, mode Mode, bits int) (*Periph, error) {
	if bits == 0 {
		bits = 8
	}

	c, err := port.Connect(physic.Frequency(hz)*physic.Hertz, spi.Mode(mode&(CPOL|CPHA)), bits)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", port, err)
	}

	return &Periph{
		port: port,
		conn: c,
		hz:   hz,
		mode: mode & (CPOL | CPHA),
		bits: bits,
	}, nil
}

// Tx submits t as one TxPackets call.
func (p *Periph) Tx(t Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}

	packets := make([]spi.Packet, len(t))
	for i, s := range t {
		if s.SpeedHz != 0 && s.SpeedHz != p.hz {
			return fmt.Errorf("segment %d: per-segment clock: %w", i, errors.ErrUnsupported)
		}
		if s.DelayUsecs != 0 {
			return fmt.Errorf("segment %d: inter-segment delay: %w", i, errors.ErrUnsupported)
		}

		packets[i] = spi.Packet{
			W:           s.Tx,
			R:           s.Rx,
			BitsPerWord: s.BitsPerWord,
			KeepCS:      s.KeepCS && i < len(t)-1,
		}
	}

	if err := p.conn.TxPackets(packets); err != nil {
		return &TransportError{
			Op:       "TxPackets",
			Path:     p.port.String(),
			Segments: len(t),
			Len:      t.Len(),
			Err:      err,
		}
	}

	return nil
}

func (p *Periph) SetSpeed(hz uint32) error {
	if hz != p.hz {
		return errors.ErrUnsupported
	}
	return nil
}

func (p *Periph) Speed() (uint32, error) {
	return p.hz, nil
}

func (p *Periph) SetMode(m Mode) error {
	if m&(CPOL|CPHA) != p.mode {
		return errors.ErrUnsupported
	}
	return nil
}

func (p *Periph) Mode() (Mode, error) {
	return p.mode, nil
}

// Close closes the port if it can be closed.
func (p *Periph) Close() error {
	if c, ok := p.port.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
