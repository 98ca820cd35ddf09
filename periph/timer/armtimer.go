// Package timer models the programmable timers: the two MM9691LP ARM timers,
// the MM9691LP versatile timer unit and the PXA27x OS timer.
package timer

import (
	"fmt"

	"github.com/sarchlab/chipsim/bus"
)

// ARM timer window geometry.
const (
	ARMTimer0Base  = 0x38020000
	ARMTimer1Base  = 0x38020020
	ARMTimerLength = 0x20
)

// ARM timer Control bits.
const (
	ARMPrescale1    = 0x00
	ARMPrescale16   = 0x04
	ARMPrescale256  = 0x08
	ARMModeFree     = 0x00
	ARMModePeriodic = 0x40
	ARMEnable       = 0x80
)

// ARMTimer is one ARM timer. Its Value register is a free-running 16-bit
// down-counter clocked by the core.
type ARMTimer struct {
	*bus.Registers

	ticker bus.Ticker

	load    uint32
	control uint32
	clear   uint32
}

// NewARMTimer creates ARM timer n.
func NewARMTimer(n int, ticker bus.Ticker, latency bus.Latency, opts ...bus.RegistersOption) *ARMTimer {
	t := &ARMTimer{ticker: ticker}

	r := bus.NewRegisters(fmt.Sprintf("ARMTIMER%d", n), ARMTimerLength, ticker, latency, opts...)
	r.Define(0x00, "Load", func() uint32 { return t.load }, func(v uint32) { t.load = v & 0xFFFF })
	r.Define(0x04, "Value", t.Value, nil)
	r.Define(0x08, "Control", func() uint32 { return t.control }, func(v uint32) { t.control = v & 0xFF })
	r.Define(0x0C, "Clear", func() uint32 { return t.clear }, func(v uint32) { t.clear = v & 0xFFFF })
	t.Registers = r

	return t
}

// Value returns the counter: the low 16 bits of minus the current tick.
func (t *ARMTimer) Value() uint32 {
	return uint32(uint16(-t.ticker.Now()))
}
