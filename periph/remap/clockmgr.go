package remap

import (
	"github.com/go-logr/logr"

	"github.com/sarchlab/chipsim/bus"
)

// PXA27x clock manager window.
const (
	ClockManagerBase   = 0x41300000
	ClockManagerLength = 0x10
)

// Clock manager register offsets.
const (
	RegCCCR = 0x00
	RegCKEN = 0x04
	RegOSCC = 0x08
	RegCCSR = 0x0C
)

// CCSR lock bits.
const (
	CCSRCorePLLLock       = 0x20000000
	CCSRPeripheralPLLLock = 0x10000000
)

// DefaultSRAMBase is the PXA27x internal SRAM.
const DefaultSRAMBase = 0x5C000000

// ClockManager is the PXA27x clock manager. The clocks come up locked, and
// the internal SRAM is linked at zero once the address space is assembled.
type ClockManager struct {
	*bus.Registers

	sramBase uint32
	log      logr.Logger

	cccr uint32
	cken uint32
	oscc uint32
	ccsr uint32
}

// NewClockManager creates the clock manager. sramBase is the memory linked at
// zero on connect.
func NewClockManager(ticker bus.Ticker, latency bus.Latency, sramBase uint32, log logr.Logger) *ClockManager {
	c := &ClockManager{
		sramBase: sramBase,
		log:      log,
		ccsr:     CCSRCorePLLLock | CCSRPeripheralPLLLock,
	}

	r := bus.NewRegisters("CLOCKMGR", ClockManagerLength, ticker, latency, bus.WithRegisterLogger(log))
	r.Field(RegCCCR, "CCCR", &c.cccr)
	r.Field(RegCKEN, "CKEN", &c.cken)
	r.Field(RegOSCC, "OSCC", &c.oscc)
	r.Field(RegCCSR, "CCSR", &c.ccsr)
	c.Registers = r

	return c
}

// ClockEnabled reports whether every clock in mask is enabled in CKEN.
func (c *ClockManager) ClockEnabled(mask uint32) bool {
	return c.cken&mask == mask
}

// Connected implements bus.Connector.
func (c *ClockManager) Connected(root *bus.Bus) {
	link(root, c.sramBase, c.log)
}
