// Package sd implements an SD card block device driver speaking the SD
// Physical Layer protocol in SPI mode. No MMC support, as most modern
// embedded projects use a uSD slot which won't fit MMC media anyway.
//
// This code is derived from multiple sources:
// SD Specifications Part 1 Physical Layer Simplified Specification
// Version 4.10 (https://www.sdcard.org/downloads/pls/pdf/part1_410.pdf)
// and the SPI-mode SD drivers that ship with ChaN's FatFs samples.
package sd

import (
	"io"
	"time"

	"github.com/adamgreen/SDCard/circlog"
)

// BlockSize is the fixed transfer unit of the data bus, in bytes.
const BlockSize = 512

// Version identifies which SD physical layer generation the card reported
// during initialization.
type Version uint8

const (
	VersionUnknown Version = iota
	Version1
	Version2
)

// Config carries the driver tunables. The zero value of any field selects
// the default from DefaultConfig.
type Config struct {
	InitClockHz uint32 // Clock rate during initialization.
	RunClockHz  uint32 // Clock rate after initialization.

	SelectBusyTimeoutMillis   uint32 // Busy wait bound in selectCard and before writes.
	ReceiveBlockTimeoutMillis uint32 // Start token wait bound.
	ACMD41TimeoutMillis       uint32 // Bound on the ACMD41 init polling loop.
	R1PollLimit               uint32 // Max exchanges waiting for an R1 response.
	CRCRetryLimit             uint32 // Command retries on CRC error.
	BlockRetryLimit           uint32 // Per-block retries on data errors.

	LogCapacity int // Diagnostic ring capacity in bytes.
	LogLineMax  int // Longest single diagnostic line.

	// NowMillis supplies a monotonic millisecond clock for the busy-wait
	// deadlines. Defaults to time elapsed since construction.
	NowMillis func() uint32
}

// DefaultConfig returns the timings and retry budgets from the SD physical
// layer spec plus the driver's historical retry policy.
func DefaultConfig() Config {
	return Config{
		InitClockHz:               400000,
		RunClockHz:                25000000,
		SelectBusyTimeoutMillis:   500,
		ReceiveBlockTimeoutMillis: 500,
		ACMD41TimeoutMillis:       1000,
		R1PollLimit:               10,
		CRCRetryLimit:             4,
		BlockRetryLimit:           3,
		LogCapacity:               1024,
		LogLineMax:                256,
	}
}

func (cfg *Config) applyDefaults() {
	def := DefaultConfig()
	if cfg.InitClockHz == 0 {
		cfg.InitClockHz = def.InitClockHz
	}
	if cfg.RunClockHz == 0 {
		cfg.RunClockHz = def.RunClockHz
	}
	if cfg.SelectBusyTimeoutMillis == 0 {
		cfg.SelectBusyTimeoutMillis = def.SelectBusyTimeoutMillis
	}
	if cfg.ReceiveBlockTimeoutMillis == 0 {
		cfg.ReceiveBlockTimeoutMillis = def.ReceiveBlockTimeoutMillis
	}
	if cfg.ACMD41TimeoutMillis == 0 {
		cfg.ACMD41TimeoutMillis = def.ACMD41TimeoutMillis
	}
	if cfg.R1PollLimit == 0 {
		cfg.R1PollLimit = def.R1PollLimit
	}
	if cfg.CRCRetryLimit == 0 {
		cfg.CRCRetryLimit = def.CRCRetryLimit
	}
	if cfg.BlockRetryLimit == 0 {
		cfg.BlockRetryLimit = def.BlockRetryLimit
	}
	if cfg.LogCapacity == 0 {
		cfg.LogCapacity = def.LogCapacity
	}
	if cfg.LogLineMax == 0 {
		cfg.LogLineMax = def.LogLineMax
	}
	if cfg.NowMillis == nil {
		start := time.Now()
		cfg.NowMillis = func() uint32 {
			return uint32(time.Since(start).Milliseconds())
		}
	}
}

// Card is the SD protocol engine and block-device facade. It owns its Bus
// and diagnostic log exclusively; all operations assume a single flow of
// execution.
type Card struct {
	bus Bus
	cfg Config
	log *circlog.Log

	status              Status
	version             Version
	blockToAddressShift uint32
	counters            Counters
}

var _ BlockDevice = (*Card)(nil)

// New wraps a Bus in the driver. The card starts uninitialized with chip
// select deasserted; call Init before any I/O.
func New(bus Bus, cfg Config) *Card {
	cfg.applyDefaults()
	c := &Card{
		bus:    bus,
		cfg:    cfg,
		log:    circlog.New(cfg.LogCapacity, cfg.LogLineMax),
		status: StatusNoInit,
	}
	c.bus.SetChipSelect(true)
	return c
}

// Status returns the current status bits.
func (c *Card) Status() Status {
	return c.status
}

// Version reports the SD spec generation detected by Init.
func (c *Card) Version() Version {
	return c.version
}

// HighCapacity reports whether the initialized card is block addressed
// (SDHC/SDXC). Only meaningful after a successful Init.
func (c *Card) HighCapacity() bool {
	return c.blockToAddressShift == 0
}

// DumpLog writes the diagnostic log contents to sink.
func (c *Card) DumpLog(sink io.Writer) error {
	return c.log.Dump(sink)
}

// LogIsEmpty reports whether any diagnostics have been recorded.
func (c *Card) LogIsEmpty() bool {
	return c.log.IsEmpty()
}

// ClearLog discards the recorded diagnostics.
func (c *Card) ClearLog() {
	c.log.Clear()
}

func (c *Card) nowMillis() uint32 {
	return c.cfg.NowMillis()
}
