package intc

import (
	"math/bits"

	"github.com/go-logr/logr"

	"github.com/sarchlab/chipsim/bus"
)

// PXA27x interrupt source indices used by the modeled peripherals.
const (
	PXAOSTimer  = 7
	PXAGPIO0    = 8
	PXAGPIO1    = 9
	PXAGPIOx    = 10
	PXAFFUART   = 22
	PXADMA      = 25
	PXAOSTimer0 = 26
	PXARTCTick  = 30
	PXARTCAlarm = 31
)

// Banked register constants.
const (
	BankedBase   = 0x40D00000
	BankedLength = 0xD0

	// ICHPValid marks a valid source ID in ICHP.
	ICHPValid = 0x80000000
	// IPRValid marks a programmed priority slot.
	IPRValid = 0x80000000

	prioritySlots = 40

	// idlePollTicks is the cost of an ICHP read that finds nothing pending.
	// Firmware polls ICHP in its idle loop.
	idlePollTicks = 8000
)

// Banked is the PXA27x interrupt controller: two independent 32-source
// banks with separate masks. ICLR routes a source to FIQ instead of IRQ.
// The CPU sees the OR of both banks on each line.
type Banked struct {
	*bus.Registers

	banks    [2]Bank
	route    [2]uint32
	priority [prioritySlots]uint32
	control  uint32

	ticker bus.Ticker
	cpu    CPU
	log    logr.Logger

	irq bool
	fiq bool
}

// NewBanked creates the controller notifying cpu, which may be nil.
func NewBanked(
	cpu CPU,
	ticker bus.Ticker,
	latency bus.Latency,
	opts ...bus.RegistersOption,
) *Banked {
	b := &Banked{
		Registers: bus.NewRegisters("INTC", BankedLength, ticker, latency, opts...),
		ticker:    ticker,
		cpu:       cpu,
		log:       logr.Discard(),
	}

	r := b.Registers
	for n, base := range []uint32{0x00, 0x9C} {
		n := n
		mask := func() uint32 { return b.banks[n].Enable() }

		r.Define(base+0x00, bankName("ICIP", n), func() uint32 { return b.irqPending(n) }, nil)
		r.Define(base+0x04, bankName("ICMR", n), mask, func(v uint32) { b.setMask(n, v) })
		r.Define(base+0x08, bankName("ICLR", n), func() uint32 { return b.route[n] },
			func(v uint32) { b.setRoute(n, v) })
		r.Define(base+0x0C, bankName("ICFP", n), func() uint32 { return b.fiqPending(n) }, nil)
		r.Define(base+0x10, bankName("ICPR", n), func() uint32 { return b.banks[n].Raw() }, nil)
	}

	r.Field(0x14, "ICCR", &b.control)
	r.Define(0x18, "ICHP", b.highestPriority, nil)
	r.Array(0x1C, 4, 32, "IPR", b.readPriority, b.writePriority)
	r.Array(0xB0, 4, prioritySlots-32, "IPR2",
		func(i int) uint32 { return b.readPriority(32 + i) },
		func(i int, v uint32) { b.writePriority(32+i, v) })

	return b
}

func bankName(name string, bank int) string {
	if bank == 0 {
		return name
	}
	return name + "2"
}

// SetLogger sets the logger used to trace line changes.
func (b *Banked) SetLogger(log logr.Logger) {
	b.log = log
}

// SetCPU replaces the notified CPU and pushes the current lines to it.
func (b *Banked) SetCPU(cpu CPU) {
	b.cpu = cpu
	b.Evaluate()
}

// Line returns the interrupt line of source index, 0 to 63.
func (b *Banked) Line(index int) Line {
	return Line{Sink: b, Index: index}
}

// NotifyLevel implements Sink. Indices 32 and up address the second bank.
func (b *Banked) NotifyLevel(index int, level bool) {
	n, i := split(index)
	if b.banks[n].Notify(i, level) {
		b.Evaluate()
	}
}

// Set drives source index high.
func (b *Banked) Set(index int) {
	b.NotifyLevel(index, true)
}

// Reset drives source index low.
func (b *Banked) Reset(index int) {
	b.NotifyLevel(index, false)
}

// Bank exposes the latches of bank n.
func (b *Banked) Bank(n int) *Bank {
	return &b.banks[n]
}

// IRQ reports the last IRQ line value pushed to the CPU.
func (b *Banked) IRQ() bool {
	return b.irq
}

// FIQ reports the last FIQ line value pushed to the CPU.
func (b *Banked) FIQ() bool {
	return b.fiq
}

// Evaluate recomputes both lines from both banks and pushes them to the CPU.
func (b *Banked) Evaluate() {
	irq := b.irqPending(0) != 0 || b.irqPending(1) != 0
	fiq := b.fiqPending(0) != 0 || b.fiqPending(1) != 0

	if irq != b.irq || fiq != b.fiq {
		b.log.V(3).Info("interrupt lines", "irq", irq, "fiq", fiq)
	}

	b.irq = irq
	b.fiq = fiq

	if b.cpu != nil {
		b.cpu.SetIrqStatus(irq)
		b.cpu.SetFiqStatus(fiq)
	}
}

func split(index int) (bank, bit int) {
	return index / Sources, index % Sources
}

func (b *Banked) irqPending(n int) uint32 {
	return b.banks[n].Pending() &^ b.route[n]
}

func (b *Banked) fiqPending(n int) uint32 {
	return b.banks[n].Pending() & b.route[n]
}

func (b *Banked) setMask(n int, v uint32) {
	b.banks[n].SetEnable(v)
	b.Evaluate()
}

func (b *Banked) setRoute(n int, v uint32) {
	b.route[n] = v
	b.Evaluate()
}

func (b *Banked) readPriority(i int) uint32 {
	return b.priority[i]
}

func (b *Banked) writePriority(i int, v uint32) {
	b.priority[i] = v & (IPRValid | 0x3F)
}

// highestPriority returns the highest-priority pending IRQ source in ICHP
// format and acknowledges it. Programmed priority slots are searched first,
// then sources in index order.
func (b *Banked) highestPriority() uint32 {
	index, ok := b.pickPending()
	if !ok {
		if b.ticker != nil && b.ticker.TimingUpdatesEnabled() {
			b.ticker.Charge(idlePollTicks, idlePollTicks-1)
		}

		return 0
	}

	n, i := split(index)
	b.banks[n].Drop(i)
	b.Evaluate()

	return ICHPValid | uint32(index)<<16
}

func (b *Banked) pickPending() (int, bool) {
	pending := func(index int) bool {
		n, i := split(index)
		return b.irqPending(n)&(1<<i) != 0
	}

	for _, slot := range b.priority {
		if slot&IPRValid == 0 {
			continue
		}

		if index := int(slot & 0x3F); index < 2*Sources && pending(index) {
			return index, true
		}
	}

	for n := range b.banks {
		if p := b.irqPending(n); p != 0 {
			return n*Sources + bits.TrailingZeros32(p), true
		}
	}

	return 0, false
}
