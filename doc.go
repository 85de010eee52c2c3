// Package spizero issues byte-level transactions over SPI and I2C buses.
//
// A [Transaction] is an ordered list of [Segment] legs executed as one
// atomic bus operation: chip select stays asserted between legs unless a leg
// asks otherwise. [SPI] and [I2C] build transactions for the common access
// patterns and hand them to a backend:
//
//   - [Spidev] and [I2CDev] talk to Linux /dev/spidevB.C and /dev/i2c-N
//     character devices with one ioctl per transaction.
//   - [Periph] adapts any periph.io SPI port.
//   - The ch347 subpackage drives the CH347 USB bridge over HIDAPI.
//
// Example:
//
//	s, err := spizero.OpenSPI("/dev/spidev0.0", spizero.WithSpeed(10_000_000))
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	// JEDEC ID
//	id, err := s.WriteThenRead([]byte{0x9f}, 3)
//
// Serial flash chips are handled by the w25qxx subpackage.
package spizero
