package ch347

import "fmt"

// Pin represents available pins for GPIO operations.
type Pin uint8

const (
	// CTS0/SCK/TCK
	GPIO0 Pin = iota

	// RTS0/MSIO/TDO
	GPIO1

	// DSR0/SCS0/TMS
	GPIO2

	// SCL
	GPIO3

	// ACT
	GPIO4

	// DTR0/TNOW0/SCS1/TRST
	GPIO5

	// CTS1
	GPIO6

	// RTS1
	GPIO7
)

const cmdGPIO = 0xcc

// WritePin sets given pin operation mode.
//
// Example:
//
//	// Blink ACT led (GPIO4).
//	st := false
//	for {
//		if err := c.WritePin(ch347.GPIO4, true, st); err != nil {
//			return err
//		}
//		st = !st
//		time.Sleep(100 * time.Millisecond)
//	}
func (c *IO) WritePin(pin Pin, output bool, level bool) error {
	if pin > GPIO7 {
		return fmt.Errorf("ch347: no such pin %d", pin)
	}

	// Pins:
	// 00 - 00000000 - ignore ?
	// c0 - 11000000 - enabled / input
	// f0 - 11110000 - enabled / output / off
	// f8 - 11111000 - enabled / output / on
	var set [8]byte
	switch {
	case !output:
		set[pin] = 0xc0
	case level:
		set[pin] = 0xf8
	default:
		set[pin] = 0xf0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.gpio(set)
	if err != nil {
		return err
	}

	// Status:
	// 00 - 00000000 - input, high
	// 40 - 01000000 - input, low
	// 80 - 10000000 - output off
	// c0 - 11000000 - output on
	s := st[pin]
	if output {
		mask := byte(0x80) // Check bit 7 for output.
		if level {
			mask |= 0x40 // Check bit 6 for output level.
		}

		if s&mask != mask {
			return fmt.Errorf("gpio set as output failed, got 0x%02x", s)
		}
	} else if s&0x80 != 0x00 { // Bit 7 is still set (this pin is still output) ?
		return fmt.Errorf("gpio set as input failed, got 0x%02x", s)
	}

	return nil
}

// ReadPin returns given pin level.
//
// For output pin "true" means there is +3.3V on this pin.
//
// For input pin "true" means this pin is shorted to GND.
func (c *IO) ReadPin(pin Pin) (bool, error) {
	if pin > GPIO7 {
		return false, fmt.Errorf("ch347: no such pin %d", pin)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.gpio([8]byte{})
	if err != nil {
		return false, err
	}

	s := st[pin]
	if s&0x80 != 0x00 { // Pin is output.
		return s&0x40 != 0x00, nil
	}
	return s&0x40 == 0x00, nil
}

// gpio sends a GPIO command with per-pin settings and returns the status of
// all pins. A zero setting leaves the pin untouched.
func (c *IO) gpio(set [8]byte) ([8]byte, error) {
	var st [8]byte

	//		CMD	 LEN? 	PINS
	// 0b00  cc	08 00	c8 00 08 08 00 08 08 08
	p := make([]byte, 0, 13)
	p = append(p, 0x0b, 0x00, cmdGPIO, 0x08, 0x00)
	p = append(p, set[:]...)

	if _, err := c.Dev.Write(p); err != nil {
		return st, err
	}

	// Device returns whole gpio status.
	if _, err := c.Dev.Read(p); err != nil {
		return st, err
	}

	if p[0] != 0x0b || p[2] != cmdGPIO {
		return st, fmt.Errorf("invalid response. expected (0x%02x 0x%02x 0x%02x), got (0x%02x 0x%02x 0x%02x)",
			0x0b, 0x00, cmdGPIO,
			p[0], p[1], p[2],
		)
	}

	copy(st[:], p[5:])
	return st, nil
}

// OutputPin drives a single pin as output. It can be passed to
// w25qxx.WithWriteProtect.
type OutputPin struct {
	IO  *IO
	Pin Pin
}

// Out sets the pin level.
func (o OutputPin) Out(level bool) error {
	return o.IO.WritePin(o.Pin, true, level)
}
