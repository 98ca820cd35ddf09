// Package memory provides word-addressed RAM and flash handlers for the
// address-space bus.
package memory

import (
	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/hosting"
)

// DetourOpcode is the ARM permanently-undefined encoding the debugger plants
// at patched locations. A non-fetch read that finds it consults the detour
// hook for the original word.
const DetourOpcode uint32 = 0xE7F000F0

// RAMFill is the pattern RAM holds after reset.
const RAMFill uint32 = 0xDEADBEEF

// noWrite marks a handler that has not been written since reset.
const noWrite = ^uint64(0)

// Handler is a block of memory with a fixed access latency.
type Handler struct {
	words   []uint32
	fill    uint32
	latency bus.Latency
	ticker  bus.Ticker
	detour  hosting.DetourHook

	hazard    bool
	lastWrite uint64
}

// Option configures a Handler.
type Option func(*Handler)

// WithFill sets the reset pattern.
func WithFill(pattern uint32) Option {
	return func(h *Handler) {
		h.fill = pattern
	}
}

// WithDetour installs the hook consulted when a read finds DetourOpcode.
func WithDetour(d hosting.DetourHook) Option {
	return func(h *Handler) {
		h.detour = d
	}
}

// WithReadAfterWriteHazard adds one tick to a load issued on the tick right
// after a store completed.
func WithReadAfterWriteHazard() Option {
	return func(h *Handler) {
		h.hazard = true
	}
}

// New creates a handler of size bytes.
func New(size uint64, ticker bus.Ticker, latency bus.Latency, opts ...Option) *Handler {
	h := &Handler{
		words:   make([]uint32, size/4),
		latency: latency,
		ticker:  ticker,
	}

	for _, opt := range opts {
		opt(h)
	}

	h.Reset()

	return h
}

// NewRAM creates a RAM handler: filled with RAMFill, with the
// read-after-write hazard.
func NewRAM(size uint64, ticker bus.Ticker, latency bus.Latency, opts ...Option) *Handler {
	opts = append([]Option{WithFill(RAMFill), WithReadAfterWriteHazard()}, opts...)
	return New(size, ticker, latency, opts...)
}

// Reset restores the fill pattern.
func (h *Handler) Reset() {
	for i := range h.words {
		h.words[i] = h.fill
	}
	h.lastWrite = noWrite
}

// Peek returns the word at rel without charging time.
func (h *Handler) Peek(rel uint32) uint32 {
	return h.words[rel/4]
}

// Poke stores a word at rel without charging time.
func (h *Handler) Poke(rel, value uint32) {
	h.words[rel/4] = value
}

// RangeLength implements bus.Handler.
func (h *Handler) RangeLength() uint64 {
	return uint64(len(h.words)) * 4
}

// CanAccess implements bus.Handler.
func (h *Handler) CanAccess(_, rel uint32, _ bus.AccessKind) bool {
	return uint64(rel) < h.RangeLength()
}

// Read implements bus.Handler.
func (h *Handler) Read(addr, rel uint32, kind bus.AccessKind) uint32 {
	value := h.words[rel/4]

	if value == DetourOpcode && kind != bus.Fetch && h.detour != nil {
		value = h.detour.Detour(addr, value)
	}

	latency := h.latency.Read
	if h.hazard && h.ticker.Now() == h.lastWrite {
		latency++
	}
	bus.Charge(h.ticker, latency, kind, h.latency.Width)

	return bus.Extract(value, addr, kind)
}

// Write implements bus.Handler.
func (h *Handler) Write(addr, rel, value uint32, kind bus.AccessKind) {
	if h.hazard && h.ticker.TimingUpdatesEnabled() {
		h.lastWrite = h.ticker.Now() + 1
	}
	h.latency.ChargeStore(h.ticker, kind)

	i := rel / 4
	h.words[i] = bus.Insert(h.words[i], value, addr, kind)
}

// PhysicalAddress implements bus.Handler.
func (h *Handler) PhysicalAddress(addr uint32) uint32 {
	return addr
}
