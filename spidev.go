package spizero

import (
	"runtime"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/serfreeman1337/go-spizero/ioc"
)

// linux/spi/spidev.h
const spiIOCMagic = 'k'

var (
	spiIOCRdMode        = ioc.IOR(spiIOCMagic, 1, 1)
	spiIOCWrMode        = ioc.IOW(spiIOCMagic, 1, 1)
	spiIOCRdBitsPerWord = ioc.IOR(spiIOCMagic, 3, 1)
	spiIOCWrBitsPerWord = ioc.IOW(spiIOCMagic, 3, 1)
	spiIOCRdMaxSpeedHz  = ioc.IOR(spiIOCMagic, 4, 4)
	spiIOCWrMaxSpeedHz  = ioc.IOW(spiIOCMagic, 4, 4)
)

// spiIOCTransfer mirrors struct spi_ioc_transfer.
type spiIOCTransfer struct {
	txBuf          uint64
	rxBuf          uint64
	length         uint32
	speedHz        uint32
	delayUsecs     uint16
	bitsPerWord    uint8
	csChange       uint8
	txNbits        uint8
	rxNbits        uint8
	wordDelayUsecs uint8
	pad            uint8
}

const spiTransferSize = int(unsafe.Sizeof(spiIOCTransfer{}))

// maxSegments is the largest N whose SPI_IOC_MESSAGE(N) size still fits the
// request code.
const maxSegments = ioc.MaxSize / spiTransferSize

// messageCode returns SPI_IOC_MESSAGE(n).
func messageCode(n int) (ioc.Code, error) {
	if n <= 0 {
		return 0, ErrNoSegments
	}
	if n > maxSegments {
		return 0, ErrTooManySegments
	}
	return ioc.IOW(spiIOCMagic, 0, uint32(n*spiTransferSize)), nil
}

// packTransfers converts t into contiguous kernel descriptors. The buffers of
// t must be kept alive until the ioctl returns.
//
// The kernel keeps chip select asserted between transfers of a message unless
// cs_change is set, and cs_change on the last transfer means "stay selected
// after the message". KeepCS of the last segment has no meaning here.
func packTransfers(t Transaction) []spiIOCTransfer {
	xfers := make([]spiIOCTransfer, len(t))

	for i, s := range t {
		x := &xfers[i]

		if len(s.Tx) > 0 {
			x.txBuf = uint64(uintptr(unsafe.Pointer(&s.Tx[0])))
		}
		if len(s.Rx) > 0 {
			x.rxBuf = uint64(uintptr(unsafe.Pointer(&s.Rx[0])))
		}

		x.length = uint32(s.Len())
		x.speedHz = s.SpeedHz
		x.delayUsecs = s.DelayUsecs
		x.bitsPerWord = s.BitsPerWord

		if i < len(t)-1 && !s.KeepCS {
			x.csChange = 1
		}
	}

	return xfers
}

// Spidev is a Linux spidev character device.
type Spidev struct {
	path   string
	fd     int
	config Config
}

// OpenSpidev opens a /dev/spidevB.C device and applies the speed, mode and
// word width overrides from opts.
func OpenSpidev(path string, opts ...Option) (*Spidev, error) {
	cfg := newConfig(opts)

	fd, err := sysOpen(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open spidev %s", path)
	}

	d := &Spidev{path: path, fd: fd, config: cfg}

	if cfg.ModeSet {
		if err := d.SetMode(cfg.Mode); err != nil {
			d.Close()
			return nil, errors.Wrapf(err, "set mode %s", cfg.Mode)
		}
	}

	if cfg.SpeedHz != 0 {
		if err := d.SetSpeed(cfg.SpeedHz); err != nil {
			d.Close()
			return nil, errors.Wrapf(err, "set speed %d Hz", cfg.SpeedHz)
		}
	}

	if cfg.BitsPerWord != 0 {
		if err := d.SetBitsPerWord(cfg.BitsPerWord); err != nil {
			d.Close()
			return nil, errors.Wrapf(err, "set %d bits per word", cfg.BitsPerWord)
		}
	}

	cfg.logDebug("spidev opened", "path", path)

	return d, nil
}

// OpenSPI opens a spidev device and returns a transport over it.
func OpenSPI(path string, opts ...Option) (*SPI, error) {
	d, err := OpenSpidev(path, opts...)
	if err != nil {
		return nil, err
	}
	return NewSPI(d, opts...), nil
}

// Path returns the device path.
func (d *Spidev) Path() string {
	return d.path
}

// Tx executes t as one SPI_IOC_MESSAGE(N) request.
func (d *Spidev) Tx(t Transaction) error {
	if d.fd < 0 {
		return ErrClosed
	}
	if err := t.Validate(); err != nil {
		return err
	}

	code, err := messageCode(len(t))
	if err != nil {
		return err
	}

	xfers := packTransfers(t)
	err = sysIoctl(d.fd, uintptr(code), unsafe.Pointer(&xfers[0]))
	runtime.KeepAlive(t)

	if err != nil {
		return &TransportError{
			Op:       "SPI_IOC_MESSAGE",
			Path:     d.path,
			Segments: len(t),
			Len:      t.Len(),
			Err:      err,
		}
	}

	return nil
}

func (d *Spidev) ioctl(op string, code ioc.Code, arg unsafe.Pointer) error {
	if d.fd < 0 {
		return ErrClosed
	}

	if err := sysIoctl(d.fd, uintptr(code), arg); err != nil {
		return &TransportError{Op: op, Path: d.path, Err: err}
	}

	return nil
}

// SetSpeed sets the default max clock in Hz.
func (d *Spidev) SetSpeed(hz uint32) error {
	return d.ioctl("SPI_IOC_WR_MAX_SPEED_HZ", spiIOCWrMaxSpeedHz, unsafe.Pointer(&hz))
}

// Speed returns the default max clock in Hz.
func (d *Spidev) Speed() (uint32, error) {
	var hz uint32
	err := d.ioctl("SPI_IOC_RD_MAX_SPEED_HZ", spiIOCRdMaxSpeedHz, unsafe.Pointer(&hz))
	return hz, err
}

// rawMode returns the whole spidev mode byte including the CS_HIGH,
// LSB_FIRST and 3WIRE flags.
func (d *Spidev) rawMode() (uint8, error) {
	var m uint8
	err := d.ioctl("SPI_IOC_RD_MODE", spiIOCRdMode, unsafe.Pointer(&m))
	return m, err
}

// SetMode sets clock polarity and phase, keeping the other mode flags.
func (d *Spidev) SetMode(m Mode) error {
	raw, err := d.rawMode()
	if err != nil {
		return err
	}

	raw = raw&^uint8(CPOL|CPHA) | uint8(m&(CPOL|CPHA))
	return d.ioctl("SPI_IOC_WR_MODE", spiIOCWrMode, unsafe.Pointer(&raw))
}

// Mode returns clock polarity and phase.
func (d *Spidev) Mode() (Mode, error) {
	raw, err := d.rawMode()
	return Mode(raw) & (CPOL | CPHA), err
}

// SetBitsPerWord sets the default word width.
func (d *Spidev) SetBitsPerWord(bits uint8) error {
	return d.ioctl("SPI_IOC_WR_BITS_PER_WORD", spiIOCWrBitsPerWord, unsafe.Pointer(&bits))
}

// BitsPerWord returns the default word width. 0 means 8.
func (d *Spidev) BitsPerWord() (uint8, error) {
	var bits uint8
	err := d.ioctl("SPI_IOC_RD_BITS_PER_WORD", spiIOCRdBitsPerWord, unsafe.Pointer(&bits))
	return bits, err
}

// Close releases the device. Further calls return ErrClosed.
func (d *Spidev) Close() error {
	if d.fd < 0 {
		return ErrClosed
	}

	err := sysClose(d.fd)
	d.fd = -1
	d.config.logDebug("spidev closed", "path", d.path)

	return err
}
