// Package rtc models the MM9691LP real-time clock: a 64-bit counter running
// from the RTC oscillator with a compare interrupt and a watchdog block.
package rtc

import (
	"github.com/go-logr/logr"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/intc"
	"github.com/sarchlab/chipsim/periph"
	"github.com/sarchlab/chipsim/timing/clock"
)

// Window geometry.
const (
	Base   = 0x380C0000
	Length = 0x20
)

// Register offsets.
const (
	RegHREGLow  = 0x00
	RegHREGHigh = 0x04
	RegCOMPLow  = 0x08
	RegCOMPHigh = 0x0C
	RegLDHREG   = 0x10
	RegWDCTL    = 0x14
	RegWDDLY    = 0x18
	RegWDRST    = 0x1C
)

// Watchdog constants.
const (
	WDCtlEnable     = 0x01
	WDCtlLock       = 0x02
	WDCtlIntEnable  = 0x04
	WDCtlResetEn    = 0x08
	WDResetKey      = 0x5C
	WDResetDelay    = 512
	WDReadHREGDelay = 12
)

// DefaultCompare is the compare value out of reset.
const DefaultCompare = 0x0000FFFFFFFFFFFF

// RTC is the real-time clock.
type RTC struct {
	*bus.Registers

	clock periph.Clock
	ratio periph.Ratio
	line  intc.Line
	log   logr.Logger

	hregLow  uint32
	hregHigh uint32
	compLow  uint32
	compHigh uint32
	wdctl    uint32
	wddly    uint32
	wdrst    uint32

	compare  uint64
	base     uint64
	disabled bool
	handle   clock.Handle
}

// Option configures an RTC.
type Option func(*RTC)

// WithInterrupt connects the compare interrupt line.
func WithInterrupt(line intc.Line) Option {
	return func(r *RTC) {
		r.line = line
	}
}

// WithFrequencies sets the core and RTC clocks.
func WithFrequencies(core, rtc sim.Freq) Option {
	return func(r *RTC) {
		r.ratio = periph.Ratio{Core: core, Slow: rtc}
	}
}

// WithLogger sets the logger used to trace compare events.
func WithLogger(log logr.Logger) Option {
	return func(r *RTC) {
		r.log = log
	}
}

// New creates the RTC with its counter at zero.
func New(clk periph.Clock, latency bus.Latency, opts ...Option) *RTC {
	r := &RTC{
		clock:   clk,
		ratio:   periph.Ratio{Core: 26 * sim.MHz, Slow: 32768 * sim.Hz},
		log:     logr.Discard(),
		compare: DefaultCompare,
	}

	for _, opt := range opts {
		opt(r)
	}

	regs := bus.NewRegisters("RTC", Length, clk, latency, bus.WithRegisterLogger(r.log))
	regs.Field(RegHREGLow, "HREG_low", &r.hregLow)
	regs.Define(RegHREGHigh, "HREG_high", func() uint32 { return r.hregHigh }, r.writeHREGHigh)
	regs.Define(RegCOMPLow, "COMP_low", func() uint32 { return r.compLow }, r.writeCOMPLow)
	regs.Define(RegCOMPHigh, "COMP_high", func() uint32 { return r.compHigh }, r.writeCOMPHigh)
	regs.Define(RegLDHREG, "LD_HREG", nil, func(uint32) { r.loadHolding() })
	regs.Field(RegWDCTL, "WDCTL", &r.wdctl)
	regs.Field(RegWDDLY, "WDDLY", &r.wddly)
	regs.Field(RegWDRST, "WDRST", &r.wdrst)
	r.Registers = regs

	return r
}

// Counter returns the 64-bit RTC count.
func (r *RTC) Counter() uint64 {
	return r.ratio.SlowTicks(r.clock.Now()) + r.base
}

// Compare returns the compare value.
func (r *RTC) Compare() uint64 {
	return r.compare
}

// writeHREGHigh loads the counter from the holding register pair.
func (r *RTC) writeHREGHigh(v uint32) {
	r.hregHigh = v
	r.base = join(r.hregLow, r.hregHigh) - r.ratio.SlowTicks(r.clock.Now())
	r.evaluate()
}

// writeCOMPLow starts a compare update. The interrupt stays off until the
// high half is written.
func (r *RTC) writeCOMPLow(v uint32) {
	r.compLow = v
	r.disabled = true
	r.evaluate()
}

func (r *RTC) writeCOMPHigh(v uint32) {
	r.compHigh = v
	r.compare = join(r.compLow, r.compHigh)
	r.disabled = false
	r.evaluate()
}

func (r *RTC) loadHolding() {
	c := r.Counter()
	r.hregLow = uint32(c)
	r.hregHigh = uint32(c >> 32)
}

// evaluate drives the compare interrupt and schedules the next check for
// the moment the counter reaches the compare value.
func (r *RTC) evaluate() {
	r.clock.Cancel(r.handle)
	r.handle = 0

	if r.disabled {
		r.line.Lower()
		return
	}

	diff := int64(r.compare - r.Counter())
	if diff <= 0 {
		r.log.V(2).Info("rtc compare", "counter", r.Counter(), "compare", r.compare)
		r.line.Raise()

		return
	}

	r.line.Lower()
	r.handle = r.clock.ScheduleRelative(r.ratio.DelayUntil(r.clock.Now(), uint64(diff)), r.evaluate)
}

func join(low, high uint32) uint64 {
	return uint64(high)<<32 | uint64(low)
}
