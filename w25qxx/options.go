package w25qxx

import (
	"time"

	"github.com/serfreeman1337/go-spizero"
)

// Progress reports the advance of a long operation.
type Progress struct {
	// Op is "write" or "erase".
	Op string

	// Address is where the next step starts.
	Address uint32

	Done  int
	Total int

	ElapsedTime time.Duration
}

// ProgressCallback is called after every page programmed or unit erased.
type ProgressCallback func(Progress)

// PinOut drives a GPIO line.
type PinOut interface {
	Out(level bool) error
}

// Config holds the driver configuration.
type Config struct {
	Logger   spizero.Logger
	Progress ProgressCallback

	// WriteProtect drives the chip /WP line: high while the write enable
	// latch may be set, low otherwise (optional).
	WriteProtect PinOut

	// PollInterval is the sleep between two status register reads.
	PollInterval time.Duration

	WriteEnableTimeout  time.Duration
	PageProgramTimeout  time.Duration
	WriteStatusTimeout  time.Duration
	SectorEraseTimeout  time.Duration
	Block32EraseTimeout time.Duration
	Block64EraseTimeout time.Duration
	ChipEraseTimeout    time.Duration

	// ReadChunk caps the length of a single read in ReadAt. The default
	// matches the spidev bufsiz module parameter.
	ReadChunk int
}

// Max figures from "AC Electrical Characteristics" of W25Q128JV.
func defaultConfig() Config {
	return Config{
		PollInterval:        time.Millisecond,
		WriteEnableTimeout:  100 * time.Millisecond,
		PageProgramTimeout:  100 * time.Millisecond,
		WriteStatusTimeout:  100 * time.Millisecond,
		SectorEraseTimeout:  400 * time.Millisecond,
		Block32EraseTimeout: 1600 * time.Millisecond,
		Block64EraseTimeout: 2 * time.Second,
		ChipEraseTimeout:    200 * time.Second,
		ReadChunk:           4096,
	}
}

func (c *Config) eraseTimeout(g Granularity) time.Duration {
	switch g {
	case Block32K:
		return c.Block32EraseTimeout
	case Block64K:
		return c.Block64EraseTimeout
	}
	return c.SectorEraseTimeout
}

// Option is a functional option for configuring the driver.
type Option func(*Config)

// WithLogger sets a logger for driver operations.
func WithLogger(logger spizero.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithProgressCallback sets a callback to track Write and EraseRange.
//
// Example:
//
//	f := w25qxx.New(bus, w25qxx.WithProgressCallback(func(p w25qxx.Progress) {
//		fmt.Printf("%s %d/%d\n", p.Op, p.Done, p.Total)
//	}))
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.Progress = callback
	}
}

// WithWriteProtect sets the pin wired to /WP.
func WithWriteProtect(pin PinOut) Option {
	return func(c *Config) {
		c.WriteProtect = pin
	}
}

// WithPollInterval sets the status polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	}
}

// WithWriteEnableTimeout sets how long WriteEnable waits for the latch.
func WithWriteEnableTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.WriteEnableTimeout = d
		}
	}
}

// WithPageProgramTimeout sets how long Write waits for each page.
func WithPageProgramTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.PageProgramTimeout = d
		}
	}
}

// WithEraseTimeout sets how long an erase of granularity g may take.
func WithEraseTimeout(g Granularity, d time.Duration) Option {
	return func(c *Config) {
		if d <= 0 {
			return
		}

		switch g {
		case Sector4K:
			c.SectorEraseTimeout = d
		case Block32K:
			c.Block32EraseTimeout = d
		case Block64K:
			c.Block64EraseTimeout = d
		}
	}
}

// WithChipEraseTimeout sets how long ChipErase may take.
func WithChipEraseTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ChipEraseTimeout = d
		}
	}
}

// WithReadChunk sets the largest single read issued by ReadAt.
func WithReadChunk(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.ReadChunk = n
		}
	}
}
