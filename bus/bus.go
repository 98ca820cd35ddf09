// Package bus models the chip address space: handlers mapped over address
// ranges, explicit register dispatch tables for peripherals, and the fault
// model for accesses nothing can serve.
package bus

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"
)

// Errors returned while assembling an address space.
var (
	ErrOverlap    = errors.New("address range overlaps an existing mapping")
	ErrOutOfRange = errors.New("address range exceeds the bus")
	ErrEmptyRange = errors.New("handler has an empty range")
)

// Mapping places a handler at a base address.
type Mapping struct {
	Base    uint32
	Length  uint64
	Handler Handler
}

// Contains reports whether rel falls inside the mapping.
func (m Mapping) Contains(rel uint32) bool {
	return rel >= m.Base && uint64(rel-m.Base) < m.Length
}

// Bus routes accesses to the handler whose range covers the address. A Bus is
// itself a Handler so buses nest. The first mapping covering an address wins.
type Bus struct {
	length   uint64
	mappings []Mapping
	log      logr.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for relink tracing.
func WithLogger(log logr.Logger) Option {
	return func(b *Bus) {
		b.log = log
	}
}

// WithRange limits the bus to length bytes. The default is the full 4 GiB.
func WithRange(length uint64) Option {
	return func(b *Bus) {
		b.length = length
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		length: 1 << 32,
		log:    logr.Discard(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Attach maps h at base. It fails if the range overlaps an existing mapping.
func (b *Bus) Attach(h Handler, base uint32) error {
	length := h.RangeLength()
	if length == 0 {
		return fmt.Errorf("attach at 0x%08X: %w", base, ErrEmptyRange)
	}

	if uint64(base)+length > b.length {
		return fmt.Errorf("attach at 0x%08X (+0x%X): %w", base, length, ErrOutOfRange)
	}

	for _, m := range b.mappings {
		if uint64(base) < uint64(m.Base)+m.Length && uint64(m.Base) < uint64(base)+length {
			return fmt.Errorf("attach at 0x%08X (+0x%X) over 0x%08X (+0x%X): %w",
				base, length, m.Base, m.Length, ErrOverlap)
		}
	}

	b.mappings = append(b.mappings, Mapping{Base: base, Length: length, Handler: h})

	return nil
}

// LinkAt maps h at base, replacing whatever mapping starts there. This is how
// boot remapping swaps the memory seen at address zero.
func (b *Bus) LinkAt(h Handler, base uint32) {
	kept := b.mappings[:0]
	for _, m := range b.mappings {
		if m.Base != base {
			kept = append(kept, m)
		}
	}

	b.mappings = append(kept, Mapping{Base: base, Length: h.RangeLength(), Handler: h})

	b.log.V(1).Info("relinked handler", "base", fmt.Sprintf("0x%08X", base), "length", h.RangeLength())
}

// FindAt returns the handler mapped exactly at addr, searching nested buses.
func (b *Bus) FindAt(addr uint32) Handler {
	for _, m := range b.mappings {
		if m.Base == addr {
			return m.Handler
		}

		if sub, ok := m.Handler.(*Bus); ok && m.Contains(addr) {
			if h := sub.FindAt(addr - m.Base); h != nil {
				return h
			}
		}
	}

	return nil
}

// Resolve returns the mapping that serves rel.
func (b *Bus) Resolve(rel uint32) (Mapping, bool) {
	for _, m := range b.mappings {
		if m.Contains(rel) {
			return m, true
		}
	}

	return Mapping{}, false
}

// Mappings returns a copy of the current mappings.
func (b *Bus) Mappings() []Mapping {
	out := make([]Mapping, len(b.mappings))
	copy(out, b.mappings)
	return out
}

// Handlers returns every distinct handler reachable from the bus, depth
// first, nested buses included.
func (b *Bus) Handlers() []Handler {
	seen := make(map[Handler]bool)
	var out []Handler

	var walk func(*Bus)
	walk = func(bus *Bus) {
		for _, m := range bus.mappings {
			if seen[m.Handler] {
				continue
			}

			seen[m.Handler] = true
			out = append(out, m.Handler)

			if sub, ok := m.Handler.(*Bus); ok {
				walk(sub)
			}
		}
	}
	walk(b)

	return out
}

// Connect notifies every Connector on the bus that assembly is complete.
func (b *Bus) Connect(root *Bus) {
	for _, h := range b.Handlers() {
		if c, ok := h.(Connector); ok {
			c.Connected(root)
		}
	}
}

// Disconnect notifies every Disconnector on the bus.
func (b *Bus) Disconnect() {
	for _, h := range b.Handlers() {
		if d, ok := h.(Disconnector); ok {
			d.Disconnected()
		}
	}
}

// RangeLength implements Handler.
func (b *Bus) RangeLength() uint64 {
	return b.length
}

// CanAccess implements Handler.
func (b *Bus) CanAccess(addr, rel uint32, kind AccessKind) bool {
	m, ok := b.Resolve(rel)
	if !ok {
		return false
	}

	return m.Handler.CanAccess(addr, rel-m.Base, kind)
}

// Read implements Handler. It raises a Fault if nothing serves the address.
func (b *Bus) Read(addr, rel uint32, kind AccessKind) uint32 {
	m := b.route(addr, rel, kind)
	return m.Handler.Read(addr, rel-m.Base, kind)
}

// Write implements Handler. It raises a Fault if nothing serves the address.
func (b *Bus) Write(addr, rel, value uint32, kind AccessKind) {
	m := b.route(addr, rel, kind)
	m.Handler.Write(addr, rel-m.Base, value, kind)
}

// PhysicalAddress implements Handler.
func (b *Bus) PhysicalAddress(addr uint32) uint32 {
	m, ok := b.Resolve(addr)
	if !ok {
		return addr
	}

	return m.Handler.PhysicalAddress(addr)
}

// Load reads from the bus, returning raised faults as errors.
func (b *Bus) Load(addr uint32, kind AccessKind) (uint32, error) {
	return Load(b, addr, kind)
}

// Store writes to the bus, returning raised faults as errors.
func (b *Bus) Store(addr, value uint32, kind AccessKind) error {
	return Store(b, addr, value, kind)
}

func (b *Bus) route(addr, rel uint32, kind AccessKind) Mapping {
	m, ok := b.Resolve(rel)
	if !ok {
		RaiseUnmapped(addr, kind)
	}

	if !m.Handler.CanAccess(addr, rel-m.Base, kind) {
		RaiseUnsupportedAccess(addr, kind)
	}

	return m
}

// Load reads addr from the root handler h, converting a raised Fault into an
// error.
func Load(h Handler, addr uint32, kind AccessKind) (value uint32, err error) {
	err = Guard(func() {
		value = h.Read(addr, addr, kind)
	})

	return value, err
}

// Store writes value to addr through the root handler h, converting a raised
// Fault into an error.
func Store(h Handler, addr, value uint32, kind AccessKind) error {
	return Guard(func() {
		h.Write(addr, addr, value, kind)
	})
}
