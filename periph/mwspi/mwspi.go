// Package mwspi models the MM9691LP MicroWire/SPI controller.
//
// As a master the controller clocks its shift register through the host's
// ShiftBus service. As a slave it is driven by an external master through the
// SynchronousSerialController methods, with chip select on GPIO pin 19.
package mwspi

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/hosting"
	"github.com/sarchlab/chipsim/intc"
	"github.com/sarchlab/chipsim/periph"
	"github.com/sarchlab/chipsim/periph/gpio"
)

// Window geometry.
const (
	Base   = 0x380A0000
	Length = 0x14
)

// Register offsets.
const (
	RegDAT  = 0x00
	RegCTL1 = 0x04
	RegSTAT = 0x08
	RegCTL2 = 0x0C
	RegTEST = 0x10
)

// shiftMask is the width of the shift register. An 8-bit transfer keeps
// whatever the other side drove into the upper byte.
const shiftMask = 0xFFFF

// GPIO pins of the interface.
const (
	PinMS1LE  = 7
	PinMSK    = 16
	PinMDIDO  = 17
	PinMDODI  = 18
	PinMSC0LE = 19
)

// MWnCTL1 bits.
const (
	Ctl1Enable    = 0x0001
	Ctl1Master    = 0x0002
	Ctl1Mod16     = 0x0004
	Ctl1Echo      = 0x0008
	Ctl1EIF       = 0x0010
	Ctl1EIR       = 0x0020
	Ctl1EIW       = 0x0040
	Ctl1Alternate = 0x0080
	Ctl1SCIdle    = 0x0100
)

// SCDV packs the shift clock divider into MWnCTL1.
func SCDV(d uint32) uint32 {
	return (d & 0x7F) << 9
}

// MWnSTAT bits.
const (
	StatTBF = 0x0001
	StatRBF = 0x0002
	StatOVR = 0x0004
	StatUDR = 0x0008
	StatBSY = 0x0010
)

// MWnCTL2 bits.
const (
	Ctl2EDR       = 0x0001
	Ctl2EDW       = 0x0002
	Ctl2LEE0      = 0x0004
	Ctl2LEE1      = 0x0008
	Ctl2LEMD0     = 0x0010
	Ctl2LEMD1     = 0x0020
	Ctl2LEPL0     = 0x0040
	Ctl2LEPL1     = 0x0080
	Ctl2FullDup   = 0x0000
	Ctl2ReadOnly  = 0x0100
	Ctl2WriteOnly = 0x0200
	Ctl2DTMDMask  = 0x0300
	Ctl2FNCLE     = 0x0400
	Ctl2CNTLE     = 0x0800

	ctl2Unsupported = Ctl2EDR | Ctl2EDW | Ctl2LEE0 | Ctl2LEE1 | Ctl2LEMD0 | Ctl2LEMD1 |
		Ctl2LEPL0 | Ctl2LEPL1 | Ctl2FNCLE | Ctl2CNTLE
)

// Pins is the part of the GPIO block the controller drives.
type Pins interface {
	Register(pin int, l gpio.Listener) (unregister func())
	SetPin(pin int)
	ResetPin(pin int)
}

// MWSPI is the controller.
type MWSPI struct {
	*bus.Registers

	clock    periph.Clock
	gate     periph.ClockGate
	gateMask uint32
	line     intc.Line
	pins     Pins
	services *hosting.Registry
	coreFreq sim.Freq
	log      logr.Logger
	stepper  periph.Stepper

	ctl1 uint32
	stat uint32
	ctl2 uint32
	test uint32

	shift    uint32
	shiftTX  bool
	shiftRX  bool
	readBuf  uint32
	writeBuf uint32

	selected   bool
	unselectCS func()
}

// Option configures an MWSPI.
type Option func(*MWSPI)

// WithInterrupt connects the controller interrupt line.
func WithInterrupt(line intc.Line) Option {
	return func(m *MWSPI) {
		m.line = line
	}
}

// WithClockGate makes the controller depend on the peripheral clocks in mask.
func WithClockGate(gate periph.ClockGate, mask uint32) Option {
	return func(m *MWSPI) {
		m.gate = gate
		m.gateMask = mask
	}
}

// WithPins connects the chip select pin.
func WithPins(p Pins) Option {
	return func(m *MWSPI) {
		m.pins = p
	}
}

// WithServices sets the registry the ShiftBus service is looked up in.
func WithServices(r *hosting.Registry) Option {
	return func(m *MWSPI) {
		m.services = r
	}
}

// WithCoreFrequency sets the core clock used to time slave transfers.
func WithCoreFrequency(f sim.Freq) Option {
	return func(m *MWSPI) {
		m.coreFreq = f
	}
}

// WithLogger sets the logger used to trace transfers.
func WithLogger(log logr.Logger) Option {
	return func(m *MWSPI) {
		m.log = log
	}
}

// New creates a disabled controller.
func New(clk periph.Clock, latency bus.Latency, opts ...Option) *MWSPI {
	m := &MWSPI{
		clock:    clk,
		gate:     periph.AlwaysOn{},
		coreFreq: 26 * sim.MHz,
		log:      logr.Discard(),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.Registers = bus.NewRegisters("MWSPI", Length, clk, latency, bus.WithRegisterLogger(m.log))

	r := m.Registers
	r.Define(RegDAT, "MWnDAT", m.gated(m.readDAT), m.writeDAT)
	r.Define(RegCTL1, "MWnCTL1", m.gated(func() uint32 { return m.ctl1 }), m.writeCTL1)
	r.Define(RegSTAT, "MWnSTAT", m.gated(func() uint32 { return m.stat }), m.writeSTAT)
	r.Define(RegCTL2, "MWnCTL2", m.gated(func() uint32 { return m.ctl2 }), m.writeCTL2)
	r.Define(RegTEST, "MWnTEST", func() uint32 { return m.test }, func(v uint32) { m.test = v & 0xFFFF })

	return m
}

// Status returns MWnSTAT.
func (m *MWSPI) Status() uint32 {
	return m.stat
}

// Selected reports whether chip select is asserted (pin low) while the
// controller listens as a slave.
func (m *MWSPI) Selected() bool {
	return m.selected
}

// ClockEnabled reports whether the controller's peripheral clock runs.
func (m *MWSPI) ClockEnabled() bool {
	return m.gate.ClockEnabled(m.gateMask)
}

func (m *MWSPI) enabled() bool {
	return m.ctl1&Ctl1Enable != 0
}

func (m *MWSPI) master() bool {
	return m.ctl1&Ctl1Master != 0
}

func (m *MWSPI) readMode() bool {
	return m.ctl2&Ctl2DTMDMask != Ctl2WriteOnly
}

func (m *MWSPI) writeMode() bool {
	return m.ctl2&Ctl2DTMDMask != Ctl2ReadOnly
}

func (m *MWSPI) bits() int {
	if m.ctl1&Ctl1Mod16 != 0 {
		return 16
	}
	return 8
}

// divider returns the shift clock divider, at least 2.
func (m *MWSPI) divider() int64 {
	d := int64(m.ctl1>>9) & 0x7F
	if d < 2 {
		d = 2
	}
	return d
}

func (m *MWSPI) gated(read bus.ReadFunc) bus.ReadFunc {
	return func() uint32 {
		if !m.ClockEnabled() {
			return 0
		}
		return read()
	}
}

// trace writes a transfer line to the host output sink, if one is registered.
func (m *MWSPI) trace(format string, args ...any) {
	if sink, ok := hosting.Get[hosting.OutputSink](m.services, hosting.ServiceOutputSink); ok {
		sink.OutputLine(format, args...)
	}
}

func (m *MWSPI) writable() bool {
	return m.ClockEnabled() && m.clock.TimingUpdatesEnabled()
}

func (m *MWSPI) readDAT() uint32 {
	v := m.readBuf

	if m.clock.TimingUpdatesEnabled() {
		m.trace("SPI READ: %d %04X", m.clock.Now(), v)
		m.setReadBufferFull(false)
	}

	return v
}

func (m *MWSPI) writeDAT(v uint32) {
	if !m.writable() || !m.enabled() {
		return
	}

	m.trace("SPI WRITE: %d %04X", m.clock.Now(), v&0xFFFF)
	m.writeBuf = v & 0xFFFF
	m.setTransmitBufferFull(true)
}

func (m *MWSPI) writeCTL1(v uint32) {
	if !m.writable() {
		return
	}

	m.ctl1 = v & 0xFFFF

	slave := false
	if !m.enabled() {
		m.stat &^= StatBSY | StatUDR | StatOVR | StatRBF | StatTBF
	} else {
		slave = !m.master()
	}

	m.listenChipSelect(slave)
	m.updateInterrupts()
}

func (m *MWSPI) writeSTAT(v uint32) {
	if !m.writable() {
		return
	}

	m.stat &^= v & (StatOVR | StatUDR)
	m.updateInterrupts()
}

func (m *MWSPI) writeCTL2(v uint32) {
	if !m.ClockEnabled() {
		return
	}

	if v&ctl2Unsupported != 0 {
		bus.RaiseUnsupported(Base+RegCTL2, "MWnCTL2 bits 0x%04X", v&ctl2Unsupported)
	}

	m.ctl2 = v & 0xFFFF
}

func (m *MWSPI) listenChipSelect(on bool) {
	if m.pins == nil {
		return
	}

	switch {
	case on && m.unselectCS == nil:
		m.unselectCS = m.pins.Register(PinMSC0LE, func(_ int, level bool) {
			m.selected = !level
		})
	case !on && m.unselectCS != nil:
		m.unselectCS()
		m.unselectCS = nil
		m.selected = false
	}
}

// StartTransaction asserts chip select.
func (m *MWSPI) StartTransaction() {
	if m.pins != nil {
		m.pins.ResetPin(PinMSC0LE)
	}
}

// EndTransaction releases chip select.
func (m *MWSPI) EndTransaction() {
	if m.pins != nil {
		m.pins.SetPin(PinMSC0LE)
	}
}

// ShiftData is called by an external master clocking bits bits at clockHz,
// or one bit per core tick if clockHz is zero. It returns the slave's outgoing word and schedules the incoming value to
// land in the shift register once the transfer time has passed.
func (m *MWSPI) ShiftData(value uint32, bits int, clockHz float64) uint32 {
	if !m.ClockEnabled() || !m.enabled() || m.master() {
		return 0
	}

	if !m.shiftTX {
		m.stat |= StatUDR
	}

	out := m.shift
	m.shiftTX = false
	m.stat |= StatBSY
	m.setTransmitBufferFull(false)

	delay := int64(bits)
	if clockHz > 0 {
		delay = int64(float64(bits) * float64(m.coreFreq) / clockHz)
	}
	m.clock.ScheduleRelative(delay, func() {
		m.trace("SHIFT END: %d", m.clock.Now())

		if m.stat&StatBSY == 0 {
			return
		}

		m.shift = value & shiftMask
		m.shiftRX = true
		m.stat &^= StatBSY
		m.advance()
	})

	m.advance()

	return out
}

func (m *MWSPI) setTransmitBufferFull(on bool) {
	m.stat = setBit(m.stat, StatTBF, on)
	m.updateInterrupts()
	m.advance()
}

func (m *MWSPI) setReadBufferFull(on bool) {
	m.stat = setBit(m.stat, StatRBF, on)
	m.updateInterrupts()
	m.advance()
}

func (m *MWSPI) advance() {
	if !m.ClockEnabled() || !m.enabled() {
		return
	}

	if m.stat&StatBSY == 0 {
		m.stepper.Run(func() {
			if m.stat&StatBSY != 0 {
				return
			}

			if m.master() {
				m.stepMaster()
			} else {
				m.stepSlave()
			}
		})
	}

	m.updateInterrupts()
}

func (m *MWSPI) stepMaster() {
	if m.shiftRX {
		m.shiftRX = false

		if m.readMode() {
			m.readBuf = m.shift
			m.setReadBufferFull(true)
		}
	}

	if !m.shiftTX && m.stat&StatTBF != 0 {
		if m.readMode() && m.stat&StatRBF != 0 {
			return
		}

		if m.writeMode() {
			m.shift = m.writeBuf
		}

		m.shiftTX = true
		m.setTransmitBufferFull(false)
	}

	if !m.shiftTX || m.stat&StatBSY != 0 {
		return
	}

	m.stat |= StatBSY

	bits := m.bits()
	div := m.divider()

	m.clock.ScheduleRelative(div*int64(bits), func() {
		if !m.ClockEnabled() || !m.enabled() {
			return
		}

		if sb, ok := hosting.Get[hosting.ShiftBus](m.services, hosting.ServiceShiftBus); ok {
			hz := float64(m.coreFreq) / float64(div)
			m.shift = sb.ShiftData(m.shift, bits, hz) & shiftMask
		}

		m.log.V(2).Info("spi shift", "tick", m.clock.Now(), "value", fmt.Sprintf("0x%04X", m.shift))

		m.shiftTX = false
		m.shiftRX = true
		m.stat &^= StatBSY
		m.advance()
	})
}

func (m *MWSPI) stepSlave() {
	if m.shiftRX {
		m.shiftRX = false

		if m.readMode() {
			if m.stat&StatRBF != 0 {
				m.stat |= StatOVR
			} else {
				m.readBuf = m.shift
				m.setReadBufferFull(true)
			}
		}
	}

	// Slave transmits are not double buffered: TBF stays set until the
	// master clocks the word out.
	if !m.shiftTX && m.writeMode() && m.stat&StatTBF != 0 {
		m.shift = m.writeBuf
		m.shiftTX = true
		m.stat |= StatBSY
	}
}

func (m *MWSPI) updateInterrupts() {
	raise := false

	if m.ClockEnabled() && m.enabled() {
		raise = m.ctl1&Ctl1EIW != 0 && m.stat&StatTBF == 0 ||
			m.ctl1&Ctl1EIR != 0 && m.stat&StatRBF != 0 ||
			m.ctl1&Ctl1EIF != 0 && m.stat&StatOVR != 0
	}

	m.line.Drive(raise)
}

func setBit(v, bit uint32, on bool) uint32 {
	if on {
		return v | bit
	}
	return v &^ bit
}
