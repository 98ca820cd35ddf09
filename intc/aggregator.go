package intc

import (
	"github.com/go-logr/logr"

	"github.com/sarchlab/chipsim/bus"
)

// MM9691LP interrupt source indices.
const (
	IRQProgrammed      = 1
	IRQCommsRx         = 2
	IRQCommsTx         = 3
	IRQARMTimer1       = 4
	IRQARMTimer2       = 5
	IRQVersatileTimer1 = 6
	IRQVersatileTimer2 = 7
	IRQVersatileTimer3 = 8
	IRQVersatileTimer4 = 9
	IRQRealTimeClock   = 10
	IRQUSB             = 11
	IRQUSART0Tx        = 12
	IRQUSART0Rx        = 13
	IRQUSART1Tx        = 14
	IRQUSART1Rx        = 15
	IRQGPIO0           = 16
	IRQEdgeDetected    = 21
	IRQMicroWire       = 22
	IRQWatchdog        = 23
	IRQUSART0Flow      = 24
	IRQUSART1Flow      = 25
	IRQAPC             = 27
	IRQDMA             = 28
	IRQViterbi         = 29
	IRQFilter          = 30
	IRQAHBWriteError   = 31
)

// GPIOGroups is the number of GPIO group interrupt sources, starting at
// IRQGPIO0.
const GPIOGroups = 5

// Aggregator is the single-bank interrupt controller of the MM9691LP. The
// IRQ line is the OR of all enabled raw latches; the FIQ line follows one
// selectable source behind its own enable bit.
type Aggregator struct {
	bank Bank

	soft         uint32
	testSource   uint32
	sourceSelect uint32

	fiqEnable uint32
	fiqSelect uint32

	cpu CPU
	log logr.Logger

	irq bool
	fiq bool
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithAggregatorLogger sets the logger used to trace line changes.
func WithAggregatorLogger(log logr.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.log = log
	}
}

// NewAggregator creates an aggregator notifying cpu, which may be nil.
func NewAggregator(cpu CPU, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		cpu: cpu,
		log: logr.Discard(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// SetCPU replaces the notified CPU and pushes the current lines to it.
func (a *Aggregator) SetCPU(cpu CPU) {
	a.cpu = cpu
	a.Evaluate()
}

// Bank exposes the source latches.
func (a *Aggregator) Bank() *Bank {
	return &a.bank
}

// Line returns the interrupt line of source index.
func (a *Aggregator) Line(index int) Line {
	return Line{Sink: a, Index: index}
}

// NotifyLevel implements Sink.
func (a *Aggregator) NotifyLevel(index int, level bool) {
	if a.bank.Notify(index, level) {
		a.Evaluate()
	}
}

// Set drives source index high.
func (a *Aggregator) Set(index int) {
	a.NotifyLevel(index, true)
}

// Reset drives source index low.
func (a *Aggregator) Reset(index int) {
	a.NotifyLevel(index, false)
}

// Clear acknowledges an edge latch.
func (a *Aggregator) Clear(index int) {
	if a.bank.Clear(index) {
		a.Evaluate()
	}
}

// SetMode changes the sensitivity of source index.
func (a *Aggregator) SetMode(index int, m Mode) {
	if a.bank.SetMode(index, m) {
		a.Evaluate()
	}
}

// EnableSet enables the sources in mask.
func (a *Aggregator) EnableSet(mask uint32) {
	a.bank.SetEnable(a.bank.Enable() | mask)
	a.Evaluate()
}

// EnableClear disables the sources in mask.
func (a *Aggregator) EnableClear(mask uint32) {
	a.bank.SetEnable(a.bank.Enable() &^ mask)
	a.Evaluate()
}

// Enabled returns the enable mask.
func (a *Aggregator) Enabled() uint32 {
	return a.bank.Enable()
}

// RawStatus returns the raw sources, or the test source word while test
// mode is selected.
func (a *Aggregator) RawStatus() uint32 {
	if a.sourceSelect&1 != 0 {
		return a.testSource
	}

	return a.bank.Raw() | a.soft
}

// Status returns the enabled raw sources.
func (a *Aggregator) Status() uint32 {
	return a.bank.Enable() & a.RawStatus()
}

// SetSoft writes the programmed interrupt register. Only the programmed
// interrupt bit is writable.
func (a *Aggregator) SetSoft(v uint32) {
	a.soft = v & (1 << IRQProgrammed)
	a.Evaluate()
}

// SetTestSource writes the test source word.
func (a *Aggregator) SetTestSource(v uint32) {
	a.testSource = v
	a.Evaluate()
}

// SetSourceSelect chooses between real and test sources.
func (a *Aggregator) SetSourceSelect(v uint32) {
	a.sourceSelect = v & 1
	a.Evaluate()
}

// FiqSelect returns the source routed to the FIQ line.
func (a *Aggregator) FiqSelect() uint32 {
	return a.fiqSelect
}

// SetFiqSelect routes source v to the FIQ line.
func (a *Aggregator) SetFiqSelect(v uint32) {
	a.fiqSelect = v & 0x1F
	a.Evaluate()
}

// FiqEnableSet enables the FIQ line if bit 0 of v is set.
func (a *Aggregator) FiqEnableSet(v uint32) {
	a.fiqEnable |= v & 1
	a.Evaluate()
}

// FiqEnableClear disables the FIQ line if bit 0 of v is set.
func (a *Aggregator) FiqEnableClear(v uint32) {
	a.fiqEnable &^= v & 1
	a.Evaluate()
}

// FiqEnabled returns the FIQ enable bit.
func (a *Aggregator) FiqEnabled() uint32 {
	return a.fiqEnable
}

// FiqRawStatus returns the raw latch of the selected FIQ source.
func (a *Aggregator) FiqRawStatus() uint32 {
	return a.bank.Raw() >> a.fiqSelect & 1
}

// FiqStatus returns the enabled FIQ source.
func (a *Aggregator) FiqStatus() uint32 {
	return a.fiqEnable & a.FiqRawStatus()
}

// SetEdgeMode switches every source in mask to mode m.
func (a *Aggregator) SetEdgeMode(mask uint32, m Mode) {
	changed := false

	for i := 0; i < Sources; i++ {
		if mask&(1<<i) != 0 && a.bank.SetMode(i, m) {
			changed = true
		}
	}

	if changed {
		a.Evaluate()
	}
}

// Acknowledge clears the edge latches in mask.
func (a *Aggregator) Acknowledge(mask uint32) {
	changed := false

	for i := 0; i < Sources; i++ {
		if mask&(1<<i) != 0 && a.bank.Clear(i) {
			changed = true
		}
	}

	if changed {
		a.Evaluate()
	}
}

// IRQ reports the last IRQ line value pushed to the CPU.
func (a *Aggregator) IRQ() bool {
	return a.irq
}

// FIQ reports the last FIQ line value pushed to the CPU.
func (a *Aggregator) FIQ() bool {
	return a.fiq
}

// Evaluate recomputes both lines and pushes them to the CPU.
func (a *Aggregator) Evaluate() {
	irq := a.Status() != 0
	fiq := a.FiqStatus() != 0

	if irq != a.irq || fiq != a.fiq {
		a.log.V(3).Info("interrupt lines", "irq", irq, "fiq", fiq,
			"raw", a.RawStatus(), "enable", a.bank.Enable())
	}

	a.irq = irq
	a.fiq = fiq

	if a.cpu != nil {
		a.cpu.SetIrqStatus(irq)
		a.cpu.SetFiqStatus(fiq)
	}
}

// Controller is the register window of the MM9691LP interrupt controller:
// the IRQ block at 0x000, the FIQ block at 0x100 and the edge block at 0x200.
type Controller struct {
	*bus.Registers
	*Aggregator

	intoutEnable uint32
	fiqTest      uint32
	fiqSource    uint32
}

// Controller window geometry.
const (
	ControllerBase   = 0x38000000
	ControllerLength = 0x214
)

// NewController builds the register window over a.
func NewController(
	a *Aggregator,
	ticker bus.Ticker,
	latency bus.Latency,
	opts ...bus.RegistersOption,
) *Controller {
	c := &Controller{
		Registers:  bus.NewRegisters("INTC", ControllerLength, ticker, latency, opts...),
		Aggregator: a,
	}

	enable := func() uint32 { return a.Enabled() }

	r := c.Registers
	r.Define(0x000, "IRQ_STATUS", a.Status, nil)
	r.Define(0x004, "IRQ_RAW_STATUS", a.RawStatus, nil)
	r.Define(0x008, "IRQ_ENABLE_SET", enable, a.EnableSet)
	r.Define(0x00C, "IRQ_ENABLE_CLEAR", enable, a.EnableClear)
	r.Define(0x010, "IRQ_SOFT", func() uint32 { return a.soft }, a.SetSoft)
	r.Define(0x014, "IRQ_TEST_SOURCE", func() uint32 { return a.testSource }, a.SetTestSource)
	r.Define(0x018, "IRQ_SOURCE_SELECT", func() uint32 { return a.sourceSelect }, a.SetSourceSelect)

	r.Define(0x020, "INTOUT_L_ENABLE_SET", func() uint32 { return c.intoutEnable },
		func(v uint32) { c.intoutEnable |= v })
	r.Define(0x024, "INTOUT_L_ENABLE_CLEAR", func() uint32 { return c.intoutEnable },
		func(v uint32) { c.intoutEnable &^= v })

	r.Define(0x100, "FIQ_STATUS", a.FiqStatus, nil)
	r.Define(0x104, "FIQ_RAW_STATUS", a.FiqRawStatus, nil)
	r.Define(0x108, "FIQ_ENABLE_SET", a.FiqEnabled, a.FiqEnableSet)
	r.Define(0x10C, "FIQ_ENABLE_CLEAR", a.FiqEnabled, a.FiqEnableClear)
	r.Field(0x114, "FIQ_TEST_SOURCE", &c.fiqTest)
	r.Field(0x118, "FIQ_SOURCE_SELECT", &c.fiqSource)
	r.Define(0x11C, "FIQ_SELECT", a.FiqSelect, a.SetFiqSelect)

	edges := func() uint32 { return a.bank.EdgeMask() }

	r.Define(0x200, "EDGE_STATUS", func() uint32 { return a.bank.Pending() & a.bank.EdgeMask() }, nil)
	r.Define(0x204, "EDGE_RAW_STATUS", func() uint32 { return a.bank.Raw() & a.bank.EdgeMask() }, nil)
	r.Define(0x208, "EDGE_ENABLE", edges, func(v uint32) { a.SetEdgeMode(v, RisingEdge) })
	r.Define(0x20C, "EDGE_ENABLE_CLEAR", edges, func(v uint32) { a.SetEdgeMode(v, LevelHigh) })
	r.Define(0x210, "EDGE_CLEAR", nil, a.Acknowledge)

	return c
}
