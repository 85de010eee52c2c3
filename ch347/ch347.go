// Package ch347 provides access to the SPI+I2C+GPIO interface of the
// High-speed USB converter chip CH347 in HIDAPI mode (Mode 2).
//
// The protocol was built by examining USB packets of the official
// demonstration library.
//
// [IO] implements spizero.Conn and spizero.Configurer for SPI, and
// spizero.AddrConn for I2C, so it can back both spizero.SPI and spizero.I2C.
// SPI transfers are write-only.
//
// [github.com/sstallion/go-hid] can be used as HIDAPI interface.
package ch347

import (
	"io"
	"sync"
)

// IO implements methods to access CH347 SPI+I2C+GPIO.
//
// Pass second hidraw device to Dev. IO serializes its USB traffic and holds
// the lock for a whole transaction.
type IO struct {
	mu  sync.Mutex
	Dev HIDDev

	// Last configuration sent with SetSPI.
	spiMode  SPIMode
	spiClock SPIClock
	spiOrder SPIByteOrder
}

// # Note:
//
// It's advised to handle read timeouts and "Interrupted system call" errors.
// Otherwise, operations might error "invalid response" once an interrupt has occurred
// or block indefinitely.
//
// Example with the Read method override for [github.com/sstallion/go-hid]:
//
//	type HIDWithTimeout struct {
//		*hid.Device
//	}
//
//	// Read overridden with ReadWithTimeout and with "Interrupted system call" error handling.
//	func (d *HIDWithTimeout) Read(p []byte) (n int, err error) {
//		for {
//			n, err = d.Device.ReadWithTimeout(p, 1*time.Second)
//			if err == nil || err.Error() != "Interrupted system call" {
//				return
//			}
//		}
//	}
//
//	func main() {
//		dev, _ := hid.OpenPath("/dev/hidraw6")
//		c = &ch347.IO{Dev: &HIDWithTimeout{dev}}
//	}
type HIDDev interface {
	io.ReadWriter
	SendFeatureReport(p []byte) (int, error)
}

// CH347 receives and sends 512 bytes long packets.
const maxPacketLen = 512

// Close closes Dev if it implements io.Closer.
func (c *IO) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.Dev.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// packetLen stores the payload length in the first 2 bytes of p.
func packetLen(p []byte) {
	n := len(p) - 2
	p[0] = byte(n & 0xff)
	p[1] = byte((n >> 8) & 0xff)
}
