// Package intc aggregates peripheral interrupt sources into the IRQ and FIQ
// lines of the CPU core.
package intc

import "fmt"

// Sources is the number of sources in one bank.
const Sources = 32

// Mode is the sensitivity of an interrupt source.
type Mode int

// Sensitivity modes.
const (
	LevelHigh Mode = iota
	LevelLow
	RisingEdge
	FallingEdge
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case LevelHigh:
		return "level-high"
	case LevelLow:
		return "level-low"
	case RisingEdge:
		return "rising-edge"
	case FallingEdge:
		return "falling-edge"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// IsEdge reports whether the raw latch of a source in this mode is sticky.
func (m Mode) IsEdge() bool {
	return m == RisingEdge || m == FallingEdge
}

// CPU receives the aggregated interrupt lines. Both methods are called after
// every change of a raw latch or an enable bit, whether or not the line
// changed.
type CPU interface {
	SetIrqStatus(asserted bool)
	SetFiqStatus(asserted bool)
}

// Sink accepts the input level of interrupt sources.
type Sink interface {
	NotifyLevel(index int, level bool)
}

// Line is one source of a Sink, handed to the peripheral that drives it.
type Line struct {
	Sink  Sink
	Index int
}

// Drive sets the level of the line. A line without a sink is unconnected.
func (l Line) Drive(level bool) {
	if l.Sink != nil {
		l.Sink.NotifyLevel(l.Index, level)
	}
}

// Raise drives the line high.
func (l Line) Raise() {
	l.Drive(true)
}

// Lower drives the line low.
func (l Line) Lower() {
	l.Drive(false)
}

// Bank latches up to 32 sources. Level-sensitive sources mirror their input;
// edge-sensitive sources latch the qualifying transition until cleared.
type Bank struct {
	modes  [Sources]Mode
	levels uint32
	raw    uint32
	enable uint32
}

// Mode returns the sensitivity of source index.
func (b *Bank) Mode(index int) Mode {
	return b.modes[index]
}

// SetMode changes the sensitivity of source index and reports whether the
// raw latch changed. Switching to a level mode resamples the input.
func (b *Bank) SetMode(index int, m Mode) bool {
	old := b.raw
	b.modes[index] = m

	if !m.IsEdge() {
		b.sample(index)
	}

	return old != b.raw
}

// Notify records the input level of source index and reports whether the
// raw latch changed.
func (b *Bank) Notify(index int, level bool) bool {
	bit := uint32(1) << index
	was := b.levels&bit != 0
	old := b.raw

	if level {
		b.levels |= bit
	} else {
		b.levels &^= bit
	}

	switch b.modes[index] {
	case RisingEdge:
		if !was && level {
			b.raw |= bit
		}
	case FallingEdge:
		if was && !level {
			b.raw |= bit
		}
	default:
		b.sample(index)
	}

	return old != b.raw
}

// Clear acknowledges the latch of an edge-sensitive source and reports
// whether it changed. Level-sensitive sources are unaffected.
func (b *Bank) Clear(index int) bool {
	if !b.modes[index].IsEdge() {
		return false
	}

	bit := uint32(1) << index
	old := b.raw
	b.raw &^= bit

	return old != b.raw
}

// Drop clears the latch of source index whatever its mode.
func (b *Bank) Drop(index int) {
	b.raw &^= uint32(1) << index
}

// EdgeMask returns the sources configured for an edge mode.
func (b *Bank) EdgeMask() uint32 {
	var mask uint32
	for i, m := range b.modes {
		if m.IsEdge() {
			mask |= 1 << i
		}
	}
	return mask
}

// Raw returns the raw latches.
func (b *Bank) Raw() uint32 {
	return b.raw
}

// Levels returns the last input level of every source.
func (b *Bank) Levels() uint32 {
	return b.levels
}

// Enable returns the enable mask.
func (b *Bank) Enable() uint32 {
	return b.enable
}

// SetEnable replaces the enable mask.
func (b *Bank) SetEnable(mask uint32) {
	b.enable = mask
}

// Pending returns the enabled raw latches.
func (b *Bank) Pending() uint32 {
	return b.raw & b.enable
}

func (b *Bank) sample(index int) {
	bit := uint32(1) << index
	high := b.levels&bit != 0

	if b.modes[index] == LevelLow {
		high = !high
	}

	if high {
		b.raw |= bit
	} else {
		b.raw &^= bit
	}
}
