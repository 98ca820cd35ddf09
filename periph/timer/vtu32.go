package timer

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sarchlab/chipsim/bus"
)

// VTU32 window geometry.
const (
	VTU32Base   = 0x38030000
	VTU32Length = 0x50
)

// VTU32 register offsets.
const (
	VTUModeControl      = 0x00
	VTUIOControl0       = 0x04
	VTUIOControl1       = 0x08
	VTUInterruptControl = 0x0C
	VTUInterruptPending = 0x10
	VTUExternalClock    = 0x4C

	vtuPairBase   = 0x14
	vtuPairStride = 0x1C
	vtuChanBase   = 0x04
	vtuChanStride = 0x0C
)

// Channel register offsets, relative to the channel base.
const (
	VTUCounter   = 0x00
	VTUPeriod    = 0x04
	VTUDutyCycle = 0x08
)

// VTUPrescaler returns the window offset of the prescaler register of
// channel pair p.
func VTUPrescaler(p int) uint32 {
	return vtuPairBase + uint32(p)*vtuPairStride
}

// VTUChannel returns the window offset of register reg of channel c of pair p.
func VTUChannel(p, c int, reg uint32) uint32 {
	return VTUPrescaler(p) + vtuChanBase + uint32(c)*vtuChanStride + reg
}

// Per-timer mode nibble in ModeControl.
const (
	VTURunA     = 0x1
	VTURunB     = 0x2
	VTULowPower = 0x0
	VTUDualPWM  = 0x4
	VTUPWM32    = 0x8
	VTUCapture  = 0xC
	VTUModeMask = 0xC
)

// VTUMode places mode m in the nibble of timer t, 0 to 3.
func VTUMode(t int, m uint32) uint32 {
	return (m & 0xF) << (4 * t)
}

type vtuChannel struct {
	counter uint32
	base    uint64
	period  uint32
	duty    uint32
}

// VTU32 is the versatile timer unit: two channel pairs, four timers. A timer
// in PWM32 mode with its run bit set counts core ticks divided by its
// prescaler.
type VTU32 struct {
	*bus.Registers

	ticker bus.Ticker
	log    logr.Logger

	mode      uint32
	io        [2]uint32
	intCtrl   uint32
	extClock  uint32
	prescaler [2]uint32
	channels  [4]vtuChannel
}

// NewVTU32 creates the unit with every timer stopped.
func NewVTU32(ticker bus.Ticker, latency bus.Latency, log logr.Logger) *VTU32 {
	v := &VTU32{ticker: ticker, log: log}

	r := bus.NewRegisters("VTU32", VTU32Length, ticker, latency, bus.WithRegisterLogger(log))
	r.Define(VTUModeControl, "ModeControl", func() uint32 { return v.mode }, v.SetMode)
	r.Field(VTUIOControl0, "IOControl[0]", &v.io[0])
	r.Field(VTUIOControl1, "IOControl[1]", &v.io[1])
	r.Field(VTUInterruptControl, "InterruptControl", &v.intCtrl)
	r.Define(VTUInterruptPending, "InterruptPending", func() uint32 { return 0 }, nil)
	r.Field(VTUExternalClock, "ExternalClockSelect", &v.extClock)

	for p := 0; p < 2; p++ {
		p := p
		r.Field(VTUPrescaler(p), fmt.Sprintf("ClockPrescaler[%d]", p), &v.prescaler[p])

		for c := 0; c < 2; c++ {
			ch := &v.channels[2*p+c]
			t := 2*p + c

			r.Define(VTUChannel(p, c, VTUCounter), fmt.Sprintf("Counter[%d]", t),
				func() uint32 { return v.Counter(t) },
				func(n uint32) { v.setCounter(t, n) })
			r.Field(VTUChannel(p, c, VTUPeriod), fmt.Sprintf("PeriodCapture[%d]", t), &ch.period)
			r.Field(VTUChannel(p, c, VTUDutyCycle), fmt.Sprintf("DutyCycleCapture[%d]", t), &ch.duty)
		}
	}

	v.Registers = r

	return v
}

// SetMode writes ModeControl. PWM32 timers whose mode nibble changes start
// or stop counting.
func (v *VTU32) SetMode(mode uint32) {
	for t := range v.channels {
		old := v.timerMode(t)
		next := (mode >> (4 * t)) & 0xF

		if old == next || next&VTUModeMask != VTUPWM32 {
			continue
		}

		ch := &v.channels[t]
		if next&VTURunA != 0 {
			ch.base = v.ticker.Now()
		} else {
			ch.counter = v.Counter(t)
		}
	}

	v.mode = mode
	v.log.V(2).Info("vtu32 mode", "mode", mode)
}

// Counter returns the current count of timer t.
func (v *VTU32) Counter(t int) uint32 {
	ch := &v.channels[t]
	div := v.divider(t)
	if div == 0 {
		return ch.counter
	}

	return ch.counter + uint32((v.ticker.Now()-ch.base)/div)
}

func (v *VTU32) setCounter(t int, n uint32) {
	ch := &v.channels[t]
	ch.counter = n
	ch.base = v.ticker.Now()
}

func (v *VTU32) timerMode(t int) uint32 {
	return (v.mode >> (4 * t)) & 0xF
}

// divider returns the tick divider of a running PWM32 timer, or 0 if the
// timer does not count.
func (v *VTU32) divider(t int) uint64 {
	m := v.timerMode(t)
	if m&VTUModeMask != VTUPWM32 || m&VTURunA == 0 {
		return 0
	}

	return uint64((v.prescaler[t/2]>>(8*(t%2)))&0xFF) + 1
}
