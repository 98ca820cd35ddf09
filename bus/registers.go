package bus

import (
	"fmt"

	"github.com/go-logr/logr"
)

// ReadFunc produces the current value of a register.
type ReadFunc func() uint32

// WriteFunc consumes a value written to a register.
type WriteFunc func(value uint32)

type register struct {
	name  string
	read  ReadFunc
	write WriteFunc
}

// Registers is a peripheral register window backed by an explicit dispatch
// table. Each 32-bit register is registered at its offset by the peripheral's
// constructor. Offsets with no entry are reserved: reads return zero and
// writes are dropped. A register without a reader is write-only and reads
// back zero; one without a writer is read-only.
type Registers struct {
	name    string
	length  uint64
	latency Latency
	ticker  Ticker
	table   map[uint32]*register
	log     logr.Logger
}

// RegistersOption configures a Registers window.
type RegistersOption func(*Registers)

// WithRegisterLogger sets the logger used to trace register accesses.
func WithRegisterLogger(log logr.Logger) RegistersOption {
	return func(r *Registers) {
		r.log = log
	}
}

// NewRegisters creates an empty window of length bytes.
func NewRegisters(
	name string,
	length uint64,
	ticker Ticker,
	latency Latency,
	opts ...RegistersOption,
) *Registers {
	r := &Registers{
		name:    name,
		length:  length,
		latency: latency,
		ticker:  ticker,
		table:   make(map[uint32]*register),
		log:     logr.Discard(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Define registers a register at offset. read or write may be nil.
// Defining the same offset twice is a programming error.
func (r *Registers) Define(offset uint32, name string, read ReadFunc, write WriteFunc) {
	if offset%4 != 0 {
		panic(fmt.Sprintf("%s: register %s at unaligned offset 0x%X", r.name, name, offset))
	}

	if uint64(offset) >= r.length {
		panic(fmt.Sprintf("%s: register %s at 0x%X outside window", r.name, name, offset))
	}

	if _, dup := r.table[offset]; dup {
		panic(fmt.Sprintf("%s: register %s redefines offset 0x%X", r.name, name, offset))
	}

	r.table[offset] = &register{name: name, read: read, write: write}
}

// Field registers a plain read/write storage register.
func (r *Registers) Field(offset uint32, name string, p *uint32) {
	r.Define(offset, name,
		func() uint32 { return *p },
		func(v uint32) { *p = v })
}

// Array registers count registers stride bytes apart starting at offset,
// named name[i]. The index of the accessed instance is passed to read and
// write, either of which may be nil.
func (r *Registers) Array(
	offset, stride uint32,
	count int,
	name string,
	read func(i int) uint32,
	write func(i int, value uint32),
) {
	for i := 0; i < count; i++ {
		i := i

		var rf ReadFunc
		if read != nil {
			rf = func() uint32 { return read(i) }
		}

		var wf WriteFunc
		if write != nil {
			wf = func(v uint32) { write(i, v) }
		}

		r.Define(offset+uint32(i)*stride, fmt.Sprintf("%s[%d]", name, i), rf, wf)
	}
}

// Name returns the window name.
func (r *Registers) Name() string {
	return r.name
}

// Defined reports whether offset has a register.
func (r *Registers) Defined(offset uint32) bool {
	_, ok := r.table[offset&^3]
	return ok
}

// RangeLength implements Handler.
func (r *Registers) RangeLength() uint64 {
	return r.length
}

// CanAccess implements Handler.
func (r *Registers) CanAccess(_, rel uint32, _ AccessKind) bool {
	return uint64(rel) < r.length
}

// Read implements Handler. The reader's own charges stand; if it charged
// nothing, the window read latency is charged.
func (r *Registers) Read(addr, rel uint32, kind AccessKind) uint32 {
	start := r.now()

	var value uint32
	if reg, ok := r.table[rel&^3]; ok && reg.read != nil {
		value = reg.read()
	}

	if r.now() == start {
		r.latency.ChargeLoad(r.ticker, kind)
	}

	return Extract(value, rel, kind)
}

// Write implements Handler. The writer's own charges stand; if it charged
// nothing, the window write latency is charged.
//
// A narrow store to the low lane of a register writes the zero-extended
// value, which is how the 8 and 16-bit registers are programmed. A narrow
// store to any other lane of a defined register raises an UnsupportedAccess
// fault.
func (r *Registers) Write(addr, rel, value uint32, kind AccessKind) {
	start := r.now()

	if reg, ok := r.table[rel&^3]; ok && reg.write != nil {
		if kind.Size() < 4 {
			if rel&3 != 0 {
				RaiseUnsupportedAccess(addr, kind)
			}
			value = Insert(0, value, rel, kind)
		}

		r.log.V(2).Info("register write",
			"block", r.name, "register", reg.name, "value", fmt.Sprintf("0x%08X", value))
		reg.write(value)
	}

	if r.now() == start {
		r.latency.ChargeStore(r.ticker, kind)
	}
}

// PhysicalAddress implements Handler.
func (r *Registers) PhysicalAddress(addr uint32) uint32 {
	return addr
}

func (r *Registers) now() uint64 {
	if r.ticker == nil {
		return 0
	}
	return r.ticker.Now()
}
