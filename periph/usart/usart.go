// Package usart models the MM9691LP asynchronous serial ports.
//
// Each port has a one-byte transmit holding buffer in front of a transmit
// shift register and a receive shift register in front of a one-byte receive
// holding buffer. Shifting a character takes a number of core ticks derived
// from the frame format and the baud generator registers. The far end of the
// wire is a Bridge the host reads and writes from its own goroutine.
package usart

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/intc"
	"github.com/sarchlab/chipsim/periph"
)

// Window geometry.
const (
	Base0  = 0x38040000
	Base1  = 0x38050000
	Length = 0x10000
)

// Register offsets.
const (
	RegTBUF  = 0x00
	RegRBUF  = 0x04
	RegICTRL = 0x08
	RegSTAT  = 0x0C
	RegFRS   = 0x10
	RegMDSL1 = 0x14
	RegBAUD  = 0x18
	RegPSR   = 0x1C
	RegOVSR  = 0x20
	RegMDSL2 = 0x24
	RegSPOS  = 0x28
)

// UnICTRL bits.
const (
	ICtrlTBE  = 0x01
	ICtrlRBF  = 0x02
	ICtrlDCTS = 0x04
	ICtrlCTS  = 0x08
	ICtrlEFCI = 0x10
	ICtrlETI  = 0x20
	ICtrlERI  = 0x40
	ICtrlEEI  = 0x80

	ictrlWritable = ICtrlEEI | ICtrlERI | ICtrlETI
)

// UnSTAT bits.
const (
	StatPE   = 0x01
	StatFE   = 0x02
	StatDOE  = 0x04
	StatERR  = 0x08
	StatBKD  = 0x10
	StatRB9  = 0x20
	StatXMIP = 0x40

	statSticky = StatPE | StatFE | StatDOE | StatERR | StatBKD
)

// UnFRS fields.
const (
	FrsChar8   = 0x00
	FrsChar7   = 0x01
	FrsChar9   = 0x02
	FrsStop2   = 0x04
	FrsParity  = 0x40
	frsCharLen = 0x03
)

// Statistics counts characters moved through a port.
type Statistics struct {
	Transmitted uint64
	Received    uint64
	Overruns    uint64
}

// USART is one serial port.
type USART struct {
	*bus.Registers

	port     int
	clock    periph.Clock
	gate     periph.ClockGate
	gateMask uint32
	txLine   intc.Line
	rxLine   intc.Line
	bridge   *Bridge
	log      logr.Logger
	stepper  periph.Stepper

	ictrl uint32
	stat  uint32
	frs   uint32
	mdsl1 uint32
	baud  uint32
	psr   uint32
	ovsr  uint32
	mdsl2 uint32
	spos  uint32

	txBuffer byte
	txShift  byte
	txBusy   bool

	rxBuffer byte
	rxShift  byte
	rxBusy   bool

	stats Statistics
}

// Option configures a USART.
type Option func(*USART)

// WithInterrupts connects the transmit and receive interrupt lines.
func WithInterrupts(tx, rx intc.Line) Option {
	return func(u *USART) {
		u.txLine = tx
		u.rxLine = rx
	}
}

// WithClockGate makes the port depend on the peripheral clocks in mask.
func WithClockGate(gate periph.ClockGate, mask uint32) Option {
	return func(u *USART) {
		u.gate = gate
		u.gateMask = mask
	}
}

// WithLogger sets the logger used to trace characters.
func WithLogger(log logr.Logger) Option {
	return func(u *USART) {
		u.log = log
	}
}

// New creates port number port with an empty transmit buffer.
func New(port int, clk periph.Clock, latency bus.Latency, opts ...Option) *USART {
	u := &USART{
		port:   port,
		clock:  clk,
		gate:   periph.AlwaysOn{},
		bridge: newBridge(port),
		log:    logr.Discard(),
		ictrl:  ICtrlTBE,
	}

	for _, opt := range opts {
		opt(u)
	}

	name := fmt.Sprintf("USART%d", port)
	u.Registers = bus.NewRegisters(name, Length, clk, latency, bus.WithRegisterLogger(u.log))

	r := u.Registers
	r.Define(RegTBUF, "UnTBUF", u.gated(func() uint32 { return uint32(u.txBuffer) }), u.writeTBUF)
	r.Define(RegRBUF, "UnRBUF", u.gated(u.readRBUF), nil)
	r.Define(RegICTRL, "UnICTRL", u.gated(func() uint32 { return u.ictrl }), u.writeICTRL)
	r.Define(RegSTAT, "UnSTAT", u.gated(u.readSTAT), nil)
	byteField(r, RegFRS, "UnFRS", &u.frs)
	byteField(r, RegMDSL1, "UnMDSL1", &u.mdsl1)
	byteField(r, RegBAUD, "UnBAUD", &u.baud)
	byteField(r, RegPSR, "UnPSR", &u.psr)
	byteField(r, RegOVSR, "UnOVSR", &u.ovsr)
	byteField(r, RegMDSL2, "UnMDSL2", &u.mdsl2)
	byteField(r, RegSPOS, "UnSPOS", &u.spos)

	return u
}

func byteField(r *bus.Registers, offset uint32, name string, p *uint32) {
	r.Define(offset, name,
		func() uint32 { return *p },
		func(v uint32) { *p = v & 0xFF })
}

// Port returns the port number.
func (u *USART) Port() int {
	return u.port
}

// Bridge returns the host side of the port.
func (u *USART) Bridge() *Bridge {
	return u.bridge
}

// Stats returns character counters.
func (u *USART) Stats() Statistics {
	return u.stats
}

// Control returns UnICTRL.
func (u *USART) Control() uint32 {
	return u.ictrl
}

// Status returns UnSTAT without clearing it.
func (u *USART) Status() uint32 {
	return u.stat
}

// ClockEnabled reports whether the port's peripheral clock runs.
func (u *USART) ClockEnabled() bool {
	return u.gate.ClockEnabled(u.gateMask)
}

// CharacterCycles returns the ticks needed to shift one frame: start bit,
// data bits, parity and stop bits at the programmed bit time.
func (u *USART) CharacterCycles() int64 {
	bits := int64(1 + u.charBits() + u.parityBits() + u.stopBits())

	oversample := int64(u.ovsr)
	if oversample == 0 {
		oversample = 16
	}

	divisor := int64((u.psr<<8)&0x700+u.baud) + 1
	prescaler := int64((u.psr>>3)&0x1F) + 1

	return bits * oversample * divisor * prescaler / 2
}

func (u *USART) charBits() int {
	switch u.frs & frsCharLen {
	case FrsChar7:
		return 7
	case FrsChar8:
		return 8
	default:
		return 9
	}
}

func (u *USART) parityBits() int {
	if u.frs&FrsParity != 0 {
		return 1
	}
	return 0
}

func (u *USART) stopBits() int {
	if u.frs&FrsStop2 != 0 {
		return 2
	}
	return 1
}

// PollHost schedules a receive step for every byte the host sent since the
// last poll. The simulation thread calls it before evaluating the clock.
func (u *USART) PollHost() {
	for n := u.bridge.takeArrivals(); n > 0; n-- {
		u.clock.ScheduleRelative(u.CharacterCycles(), u.advance)
	}
}

// Disconnected implements bus.Disconnector.
func (u *USART) Disconnected() {
	u.bridge.Close()
}

func (u *USART) gated(read bus.ReadFunc) bus.ReadFunc {
	return func() uint32 {
		if !u.ClockEnabled() {
			return 0
		}
		return read()
	}
}

func (u *USART) writable() bool {
	return u.ClockEnabled() && u.clock.TimingUpdatesEnabled()
}

func (u *USART) writeTBUF(v uint32) {
	if !u.writable() {
		return
	}

	u.txBuffer = byte(v)

	if u.transmitBufferEmpty() {
		u.setTransmitBufferEmpty(false)
	}
}

func (u *USART) readRBUF() uint32 {
	v := uint32(u.rxBuffer)

	if u.readBufferFull() && u.clock.TimingUpdatesEnabled() {
		u.setReadBufferFull(false)
	}

	return v
}

func (u *USART) writeICTRL(v uint32) {
	if !u.writable() {
		return
	}

	u.ictrl = u.ictrl&^ictrlWritable | v&ictrlWritable
	u.advance()
}

// readSTAT returns UnSTAT. Reading acknowledges the error bits.
func (u *USART) readSTAT() uint32 {
	v := u.stat

	if u.stat&statSticky != 0 && u.clock.TimingUpdatesEnabled() {
		u.stat &^= statSticky
		u.updateInterrupts()
	}

	return v
}

func (u *USART) transmitBufferEmpty() bool {
	return u.ictrl&ICtrlTBE != 0
}

func (u *USART) readBufferFull() bool {
	return u.ictrl&ICtrlRBF != 0
}

func (u *USART) setTransmitBufferEmpty(on bool) {
	u.ictrl = setBit(u.ictrl, ICtrlTBE, on)
	u.updateInterrupts()
	u.advance()
}

func (u *USART) setReadBufferFull(on bool) {
	u.ictrl = setBit(u.ictrl, ICtrlRBF, on)
	u.updateInterrupts()
	u.advance()
}

func (u *USART) setTransmitting(on bool) {
	u.stat = setBit(u.stat, StatXMIP, on)
	u.txBusy = on
}

func setBit(v, bit uint32, on bool) uint32 {
	if on {
		return v | bit
	}
	return v &^ bit
}

// advance runs one step of both state machines. A call made while a step is
// running becomes a follow-up pass of that step.
func (u *USART) advance() {
	if !u.ClockEnabled() {
		return
	}

	u.stepper.Run(func() {
		u.stepReceive()
		u.stepTransmit()
		u.updateInterrupts()
	})
}

func (u *USART) stepTransmit() {
	if u.txBusy || u.transmitBufferEmpty() {
		return
	}

	u.txShift = u.txBuffer
	u.setTransmitting(true)
	u.setTransmitBufferEmpty(true)

	u.clock.ScheduleRelative(u.CharacterCycles(), u.finishTransmit)
}

func (u *USART) finishTransmit() {
	u.setTransmitting(false)

	if !u.ClockEnabled() {
		return
	}

	u.stats.Transmitted++
	u.log.V(2).Info("usart transmit", "port", u.port, "byte", fmt.Sprintf("0x%02X", u.txShift))
	u.bridge.deliver(u.txShift)

	u.advance()
}

func (u *USART) stepReceive() {
	if u.rxBusy {
		return
	}

	v, ok := u.bridge.take()
	if !ok {
		return
	}

	u.rxShift = v
	u.rxBusy = true

	u.clock.ScheduleRelative(u.CharacterCycles(), u.finishReceive)
}

func (u *USART) finishReceive() {
	u.rxBuffer = u.rxShift
	u.rxBusy = false

	if !u.ClockEnabled() {
		return
	}

	u.stats.Received++

	if u.readBufferFull() {
		u.stats.Overruns++
		u.stat |= StatDOE | StatERR
		u.log.V(2).Info("usart overrun", "port", u.port)
		u.advance()

		return
	}

	u.log.V(2).Info("usart receive", "port", u.port, "byte", fmt.Sprintf("0x%02X", u.rxBuffer))
	u.setReadBufferFull(true)
}

func (u *USART) updateInterrupts() {
	if !u.ClockEnabled() {
		return
	}

	u.txLine.Drive(u.ictrl&ICtrlETI != 0 && u.transmitBufferEmpty())
	u.rxLine.Drive(u.ictrl&ICtrlERI != 0 && u.readBufferFull() ||
		u.ictrl&ICtrlEEI != 0 && u.stat&StatERR != 0)
}
