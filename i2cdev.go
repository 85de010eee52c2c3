package spizero

import (
	"runtime"
	"time"
	"unsafe"

	"github.com/pkg/errors"
)

// linux/i2c-dev.h, linux/i2c.h
const (
	i2cRetries = 0x0701
	i2cTimeout = 0x0702
	i2cRdwr    = 0x0707

	i2cMRd  = 0x0001
	i2cMTen = 0x0010
)

// i2cMsg mirrors struct i2c_msg.
type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

// i2cRdwrData mirrors struct i2c_rdwr_ioctl_data.
type i2cRdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

// Upper bound of messages per I2C_RDWR request (I2C_RDWR_IOCTL_MAX_MSGS).
const maxI2CMsgs = 42

// packMsgs converts t into one i2c_msg per segment, each carrying addr.
func packMsgs(addr DevAddr, t Transaction) ([]i2cMsg, error) {
	if len(t) > maxI2CMsgs {
		return nil, ErrTooManySegments
	}

	msgs := make([]i2cMsg, len(t))

	for i, s := range t {
		m := &msgs[i]
		m.addr = addr.Value()

		if addr.IsTenBit() {
			m.flags |= i2cMTen
		}

		buf := s.Tx
		if s.Rx != nil {
			buf = s.Rx
			m.flags |= i2cMRd
		}

		if len(buf) > 0xffff {
			return nil, errors.Errorf("segment %d: %d bytes exceed i2c message size", i, len(buf))
		}

		m.len = uint16(len(buf))
		if len(buf) > 0 {
			m.buf = uintptr(unsafe.Pointer(&buf[0]))
		}
	}

	return msgs, nil
}

// I2CDev is a Linux i2c-dev character device.
type I2CDev struct {
	path   string
	fd     int
	config Config
}

// OpenI2CDev opens a /dev/i2c-N adapter and sets its retry count and
// timeout.
func OpenI2CDev(path string, opts ...Option) (*I2CDev, error) {
	cfg := newConfig(opts)

	fd, err := sysOpen(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open i2c %s", path)
	}

	d := &I2CDev{path: path, fd: fd, config: cfg}

	// Adapter timeout is counted in 10ms jiffies.
	jiffies := int(cfg.I2CTimeout / (10 * time.Millisecond))
	if jiffies == 0 {
		jiffies = 1
	}

	if err := sysIoctlValue(fd, i2cTimeout, jiffies); err != nil {
		d.Close()
		return nil, errors.Wrapf(err, "set i2c timeout on %s", path)
	}

	if err := sysIoctlValue(fd, i2cRetries, cfg.I2CRetries); err != nil {
		d.Close()
		return nil, errors.Wrapf(err, "set i2c retries on %s", path)
	}

	cfg.logDebug("i2c opened", "path", path, "timeout", cfg.I2CTimeout, "retries", cfg.I2CRetries)

	return d, nil
}

// OpenI2C opens an i2c-dev adapter and returns a transport over it.
func OpenI2C(path string, opts ...Option) (*I2C, error) {
	d, err := OpenI2CDev(path, opts...)
	if err != nil {
		return nil, err
	}
	return NewI2C(d, opts...), nil
}

// Path returns the device path.
func (d *I2CDev) Path() string {
	return d.path
}

// TxAddr executes t as one I2C_RDWR request with repeated starts between
// segments.
func (d *I2CDev) TxAddr(addr DevAddr, t Transaction) error {
	if d.fd < 0 {
		return ErrClosed
	}
	if err := t.Validate(); err != nil {
		return err
	}

	msgs, err := packMsgs(addr, t)
	if err != nil {
		return err
	}

	data := i2cRdwrData{
		msgs:  uintptr(unsafe.Pointer(&msgs[0])),
		nmsgs: uint32(len(msgs)),
	}

	err = sysIoctl(d.fd, i2cRdwr, unsafe.Pointer(&data))
	runtime.KeepAlive(msgs)
	runtime.KeepAlive(t)

	if err != nil {
		return &TransportError{
			Op:       "I2C_RDWR " + addr.String(),
			Path:     d.path,
			Segments: len(t),
			Len:      t.Len(),
			Err:      err,
		}
	}

	return nil
}

// Close releases the device. Further calls return ErrClosed.
func (d *I2CDev) Close() error {
	if d.fd < 0 {
		return ErrClosed
	}

	err := sysClose(d.fd)
	d.fd = -1
	d.config.logDebug("i2c closed", "path", d.path)

	return err
}
