// Package gpio models the MM9691LP general purpose I/O block: 64 pin control
// words and 8 byte-wide group views over them.
package gpio

import (
	"slices"

	"github.com/go-logr/logr"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/intc"
)

// Window geometry.
const (
	Base   = 0x38070000
	Length = 0x200

	Pins   = 64
	Groups = 8

	groupBase   = 0x100
	groupStride = 0x20
)

// Control word bits.
const (
	CWPin      = 0x0001
	CWDoutIEn  = 0x0002
	CWResEn    = 0x0004
	CWPullUp   = 0x0008
	CWResMask  = 0x000C
	CWModeMask = 0x0070
	CWDbEn     = 0x0080
	CWIntrStat = 0x0100
	CWIntrRaw  = 0x0200

	cwConfig = CWDoutIEn | CWResMask | CWModeMask | CWDbEn
)

// Pin modes, in the MODE field of a control word.
const (
	ModeInput      = 0x00
	ModeOutput     = 0x10
	ModeAltA       = 0x20
	ModeAltB       = 0x30
	ModeIntLow     = 0x40
	ModeIntHigh    = 0x50
	ModeIntFalling = 0x60
	ModeIntRising  = 0x70
)

// Group register offsets, relative to the group base.
const (
	RegPinDin8  = 0x00
	RegDataOut8 = 0x04
	RegIntStat8 = 0x08
	RegIntRaw8  = 0x0C
	RegDbClkSel = 0x10
)

// GroupOffset returns the window offset of group register reg of group g.
func GroupOffset(g int, reg uint32) uint32 {
	return groupBase + uint32(g)*groupStride + reg
}

// Listener observes level changes of one pin.
type Listener func(pin int, level bool)

type listener struct {
	id int
	fn Listener
}

type pin struct {
	data   uint32
	level  bool
	listen []listener
}

func (p *pin) mode() uint32 {
	return p.data & CWModeMask
}

func (p *pin) interruptMode() bool {
	return p.mode() >= ModeIntLow
}

func (p *pin) word() uint32 {
	v := p.data & cwConfig

	if p.level {
		v |= CWPin
	}

	if p.interruptMode() && p.data&CWIntrRaw != 0 {
		v |= CWIntrRaw
		if v&CWDoutIEn != 0 {
			v |= CWIntrStat
		}
	}

	return v
}

func (p *pin) interrupt() bool {
	return p.word()&CWIntrStat != 0
}

func (p *pin) rawInterrupt() bool {
	return p.word()&CWIntrRaw != 0
}

// GPIO is the I/O block.
type GPIO struct {
	*bus.Registers

	pins   [Pins]pin
	dbClk  [Groups]uint32
	lines  [intc.GPIOGroups]intc.Line
	nextID int
	log    logr.Logger
}

// Option configures a GPIO.
type Option func(*GPIO)

// WithInterrupts connects the group interrupt lines, pins 0-7 first.
func WithInterrupts(lines ...intc.Line) Option {
	return func(g *GPIO) {
		copy(g.lines[:], lines)
	}
}

// WithLogger sets the logger used to trace pin changes.
func WithLogger(log logr.Logger) Option {
	return func(g *GPIO) {
		g.log = log
	}
}

// New creates the block with every pin an input at low level.
func New(ticker bus.Ticker, latency bus.Latency, opts ...Option) *GPIO {
	g := &GPIO{log: logr.Discard()}

	for _, opt := range opts {
		opt(g)
	}

	g.Registers = bus.NewRegisters("GPIO", Length, ticker, latency, bus.WithRegisterLogger(g.log))

	r := g.Registers
	r.Array(0x000, 4, Pins, "CW",
		func(i int) uint32 { return g.pins[i].word() },
		g.writeControl)

	for n := 0; n < Groups; n++ {
		n := n
		r.Define(GroupOffset(n, RegPinDin8), "PIN_DIN8", func() uint32 { return g.groupLevels(n) }, nil)
		r.Define(GroupOffset(n, RegDataOut8), "DATA_OUT8",
			func() uint32 { return g.groupLevels(n) },
			func(v uint32) { g.writeDataOut(n, v) })
		r.Define(GroupOffset(n, RegIntStat8), "INTR_STAT8",
			func() uint32 { return g.groupBits(n, (*pin).interrupt) }, nil)
		r.Define(GroupOffset(n, RegIntRaw8), "INTR_RAW8",
			func() uint32 { return g.groupBits(n, (*pin).rawInterrupt) },
			func(v uint32) { g.acknowledge(n, v) })
		r.Define(GroupOffset(n, RegDbClkSel), "DBCLK_SEL",
			func() uint32 { return g.dbClk[n] },
			func(v uint32) { g.dbClk[n] = v & 0x0F })
	}

	return g
}

// Control returns the control word of pin i as the CPU reads it.
func (g *GPIO) Control(i int) uint32 {
	return g.pins[i].word()
}

// ReadPin returns the level of pin i.
func (g *GPIO) ReadPin(i int) bool {
	return g.pins[i].level
}

// SetPin drives pin i high from outside the chip.
func (g *GPIO) SetPin(i int) {
	g.drive(i, true)
}

// ResetPin drives pin i low from outside the chip.
func (g *GPIO) ResetPin(i int) {
	g.drive(i, false)
}

// Register adds a listener for level changes of pin i and returns the
// function that removes it. Listeners run in registration order.
func (g *GPIO) Register(i int, l Listener) (unregister func()) {
	p := &g.pins[i]

	id := g.nextID
	g.nextID++
	p.listen = append(p.listen, listener{id: id, fn: l})

	return func() {
		p.listen = slices.DeleteFunc(p.listen, func(e listener) bool { return e.id == id })
	}
}

// drive applies an external level. Output pins ignore it.
func (g *GPIO) drive(i int, level bool) {
	p := &g.pins[i]
	if p.level == level || p.mode() == ModeOutput {
		return
	}

	old := p.level
	p.level = level
	g.changed(i, old)
}

func (g *GPIO) writeControl(i int, v uint32) {
	p := &g.pins[i]
	if p.word() == v {
		return
	}

	old := p.level
	p.data = p.data&^cwConfig | v&cwConfig

	if v&(CWIntrStat|CWIntrRaw) != 0 {
		g.resetInterrupt(i)
	}

	if p.mode() == ModeOutput {
		p.level = v&CWDoutIEn != 0
	}

	g.changed(i, old)
}

// changed latches the interrupt condition of pin i after its level or mode
// moved, tells the listeners of a level change and refreshes the group lines.
func (g *GPIO) changed(i int, old bool) {
	p := &g.pins[i]

	switch p.mode() {
	case ModeIntLow:
		p.data = setBit(p.data, CWIntrRaw, !p.level)
	case ModeIntHigh:
		p.data = setBit(p.data, CWIntrRaw, p.level)
	case ModeIntFalling:
		if old && !p.level {
			p.data |= CWIntrRaw
		}
	case ModeIntRising:
		if !old && p.level {
			p.data |= CWIntrRaw
		}
	default:
		p.data &^= CWIntrRaw
	}

	if old != p.level {
		g.log.V(2).Info("gpio pin", "pin", i, "level", p.level)

		for _, l := range slices.Clone(p.listen) {
			l.fn(i, p.level)
		}
	}

	g.updateInterrupts()
}

// resetInterrupt clears the latch of an edge-mode pin. Level-mode latches
// follow the pin and cannot be cleared.
func (g *GPIO) resetInterrupt(i int) {
	p := &g.pins[i]

	switch p.mode() {
	case ModeIntFalling, ModeIntRising:
		p.data &^= CWIntrRaw
		g.updateInterrupts()
	}
}

func (g *GPIO) writeDataOut(n int, v uint32) {
	for b := 0; b < 8; b++ {
		i := n*8 + b
		w := g.pins[i].word() &^ (CWIntrStat | CWIntrRaw)

		g.writeControl(i, setBit(w, CWDoutIEn, v&(1<<b) != 0))
	}
}

func (g *GPIO) acknowledge(n int, v uint32) {
	for b := 0; b < 8; b++ {
		if v&(1<<b) != 0 {
			g.resetInterrupt(n*8 + b)
		}
	}
}

func (g *GPIO) groupLevels(n int) uint32 {
	return g.groupBits(n, func(p *pin) bool { return p.level })
}

func (g *GPIO) groupBits(n int, test func(*pin) bool) uint32 {
	var v uint32

	for b := 0; b < 8; b++ {
		if test(&g.pins[n*8+b]) {
			v |= 1 << b
		}
	}

	return v
}

func (g *GPIO) updateInterrupts() {
	for n := range g.lines {
		g.lines[n].Drive(g.groupBits(n, (*pin).interrupt) != 0)
	}
}

func setBit(v, bit uint32, on bool) uint32 {
	if on {
		return v | bit
	}
	return v &^ bit
}
