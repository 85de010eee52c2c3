package spizero

import "time"

// Logger is an optional logging interface.
//
// Example with log/slog:
//
//	s, err := spizero.OpenSPI(path, spizero.WithLogger(slog.Default()))
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds the transport configuration.
type Config struct {
	// Logger is used for tracing transactions (optional).
	Logger Logger

	// SpeedHz is the max clock applied when a spidev is opened. 0 keeps
	// the kernel setting.
	SpeedHz uint32

	// Mode is applied when a spidev is opened if ModeSet is true.
	Mode    Mode
	ModeSet bool

	// BitsPerWord is applied when a spidev is opened. 0 keeps the kernel
	// setting.
	BitsPerWord uint8

	// AddrWidth is the register address width of I2C address reads and
	// writes, 1 or 2 bytes.
	AddrWidth int

	// I2CRetries is the number of times the i2c-dev adapter retries a
	// message on arbitration loss.
	I2CRetries int

	// I2CTimeout is the i2c-dev adapter timeout, rounded to 10ms.
	I2CTimeout time.Duration
}

func defaultConfig() Config {
	return Config{
		AddrWidth:  1,
		I2CRetries: 2,
		I2CTimeout: 20 * time.Millisecond,
	}
}

func newConfig(opts []Option) Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option is a functional option for configuring transports.
type Option func(*Config)

// WithLogger sets a logger for transport operations.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithSpeed sets the spidev max clock in Hz.
func WithSpeed(hz uint32) Option {
	return func(c *Config) {
		c.SpeedHz = hz
	}
}

// WithMode sets the spidev clock polarity and phase.
func WithMode(m Mode) Option {
	return func(c *Config) {
		c.Mode = m
		c.ModeSet = true
	}
}

// WithBitsPerWord sets the spidev word width.
func WithBitsPerWord(bits uint8) Option {
	return func(c *Config) {
		c.BitsPerWord = bits
	}
}

// WithAddrWidth sets the I2C register address width. Only 1 and 2 are
// accepted, other values are ignored.
func WithAddrWidth(width int) Option {
	return func(c *Config) {
		if width == 1 || width == 2 {
			c.AddrWidth = width
		}
	}
}

// WithI2CRetries sets the i2c-dev retry count.
func WithI2CRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.I2CRetries = retries
		}
	}
}

// WithI2CTimeout sets the i2c-dev adapter timeout.
func WithI2CTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.I2CTimeout = timeout
		}
	}
}

func (c *Config) logDebug(msg string, kv ...any) {
	if c.Logger != nil {
		c.Logger.Debug(msg, kv...)
	}
}

func (c *Config) logError(msg string, kv ...any) {
	if c.Logger != nil {
		c.Logger.Error(msg, kv...)
	}
}
