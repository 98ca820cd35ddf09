// Package stub provides behavioral stand-ins for the chipset blocks firmware
// touches but the simulation does not model: accesses succeed, cost the
// peripheral latency, and either keep what was written or read back zero.
package stub

import (
	"github.com/go-logr/logr"

	"github.com/sarchlab/chipsim/bus"
)

// Behavior selects how a stub block answers.
type Behavior int

// Stub behaviors.
const (
	// Storage keeps every written word and reads it back.
	Storage Behavior = iota
	// Zero drops writes and reads back zero.
	Zero
)

// Descriptor places a stub block in the address space.
type Descriptor struct {
	Name   string
	Base   uint32
	Length uint64
	// Alias is a second base the same block answers at, or zero.
	Alias    uint32
	Behavior Behavior
	// Reset holds the values of registers that do not start at zero.
	Reset map[uint32]uint32
	// ReadZero lists offsets that always read zero, whatever was written.
	ReadZero []uint32
}

// MM9691LP lists the stub blocks of the MM9691LP. The AHB blocks answer at
// both their uncached and their cached base.
var MM9691LP = []Descriptor{
	{Name: "BUSWATCHER", Base: 0x30000000, Length: 0xC, Alias: 0xB0000000, ReadZero: []uint32{0x8}},
	{Name: "EBIU", Base: 0x30010000, Length: 0x60, Alias: 0xB0010000},
	{Name: "DMAC", Base: 0x30020000, Length: 0x114, Alias: 0xB0020000},
	{Name: "VITERBI", Base: 0x30030000, Length: 0x8008, Alias: 0xB0030000},
	{Name: "FILTER", Base: 0x30040000, Length: 0x8020, Alias: 0xB0040000},
	{Name: "USB", Base: 0x38060000, Length: 0x100},
	{Name: "SECURITYKEY", Base: 0x38090000, Length: 0x80},
	{Name: "EDMAIF", Base: 0x380D0000, Length: 0x4},
	{Name: "PCU", Base: 0x380E0000, Length: 0x20},
	{Name: "APC", Base: 0x380F0000, Length: 0x20},
}

// PXA27x lists the stub blocks of the PXA27x. None of them keeps state.
var PXA27x = []Descriptor{
	{Name: "DMA", Base: 0x40000000, Length: 0x112C, Behavior: Zero},
	{Name: "FFUART", Base: 0x40100000, Length: 0x30, Behavior: Zero},
	{Name: "BTUART", Base: 0x40200000, Length: 0x30, Behavior: Zero},
	{Name: "I2C", Base: 0x40301680, Length: 0x28, Behavior: Zero},
	{Name: "I2S", Base: 0x40400000, Length: 0x84, Behavior: Zero},
	{Name: "AC97", Base: 0x40500000, Length: 0x600, Behavior: Zero},
	{Name: "USBCLIENT", Base: 0x40600000, Length: 0x460, Behavior: Zero},
	{Name: "STUART", Base: 0x40700000, Length: 0x30, Behavior: Zero},
	{Name: "IR", Base: 0x40800000, Length: 0x20, Behavior: Zero},
	{Name: "RTC", Base: 0x40900000, Length: 0x3C, Behavior: Zero},
	{Name: "PWM", Base: 0x40B00000, Length: 0x20, Behavior: Zero},
	{Name: "GPIO", Base: 0x40E00000, Length: 0x14C, Behavior: Zero},
	{Name: "PMR", Base: 0x40F00000, Length: 0x100, Behavior: Zero},
	{Name: "LCD", Base: 0x44000000, Length: 0x58, Behavior: Zero},
	{Name: "MCU", Base: 0x48000000, Length: 0x68, Behavior: Zero},
	{Name: "USBHOST", Base: 0x4C000000, Length: 0x70, Behavior: Zero},
	{Name: "QCI", Base: 0x50000000, Length: 0x3C, Behavior: Zero},
}

// Block is a stub register window.
type Block struct {
	desc     Descriptor
	ticker   bus.Ticker
	latency  bus.Latency
	words    map[uint32]uint32
	readZero map[uint32]bool
	log      logr.Logger

	reads  uint64
	writes uint64
}

// Option configures a Block.
type Option func(*Block)

// WithLogger sets the logger used to trace accesses.
func WithLogger(log logr.Logger) Option {
	return func(b *Block) {
		b.log = log
	}
}

// New creates the block described by desc.
func New(desc Descriptor, ticker bus.Ticker, latency bus.Latency, opts ...Option) *Block {
	b := &Block{
		desc:     desc,
		ticker:   ticker,
		latency:  latency,
		readZero: make(map[uint32]bool, len(desc.ReadZero)),
		log:      logr.Discard(),
	}

	for _, off := range desc.ReadZero {
		b.readZero[off&^3] = true
	}

	for _, opt := range opts {
		opt(b)
	}

	b.Reset()

	return b
}

// Name returns the block name.
func (b *Block) Name() string {
	return b.desc.Name
}

// Descriptor returns where the block lives.
func (b *Block) Descriptor() Descriptor {
	return b.desc
}

// Accesses returns the number of reads and writes served.
func (b *Block) Accesses() (reads, writes uint64) {
	return b.reads, b.writes
}

// Reset restores the reset values.
func (b *Block) Reset() {
	b.words = make(map[uint32]uint32, len(b.desc.Reset))
	for off, v := range b.desc.Reset {
		b.words[off&^3] = v
	}
}

// RangeLength implements bus.Handler.
func (b *Block) RangeLength() uint64 {
	return b.desc.Length
}

// CanAccess implements bus.Handler.
func (b *Block) CanAccess(_, rel uint32, _ bus.AccessKind) bool {
	return uint64(rel) < b.desc.Length
}

// Read implements bus.Handler.
func (b *Block) Read(_, rel uint32, kind bus.AccessKind) uint32 {
	b.reads++
	b.latency.ChargeLoad(b.ticker, kind)

	if b.desc.Behavior == Zero || b.readZero[rel&^3] {
		return 0
	}

	return bus.Extract(b.words[rel&^3], rel, kind)
}

// Write implements bus.Handler.
func (b *Block) Write(addr, rel, value uint32, kind bus.AccessKind) {
	b.writes++
	b.latency.ChargeStore(b.ticker, kind)

	if b.desc.Behavior == Zero {
		return
	}

	off := rel &^ 3
	b.words[off] = bus.Insert(b.words[off], value, rel, kind)

	b.log.V(2).Info("stub write", "block", b.desc.Name, "address", addr, "value", value)
}

// PhysicalAddress implements bus.Handler.
func (b *Block) PhysicalAddress(addr uint32) uint32 {
	return addr
}

// Attach maps every block of descs onto target at its base and its alias.
func Attach(target *bus.Bus, descs []Descriptor, ticker bus.Ticker, latency bus.Latency, opts ...Option) ([]*Block, error) {
	blocks := make([]*Block, 0, len(descs))

	for _, d := range descs {
		b := New(d, ticker, latency, opts...)

		if err := target.Attach(b, d.Base); err != nil {
			return nil, err
		}

		if d.Alias != 0 {
			if err := target.Attach(b, d.Alias); err != nil {
				return nil, err
			}
		}

		blocks = append(blocks, b)
	}

	return blocks, nil
}
