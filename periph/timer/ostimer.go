package timer

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/intc"
	"github.com/sarchlab/chipsim/periph"
	"github.com/sarchlab/chipsim/timing/clock"
)

// OS timer window geometry.
const (
	OSTimerBase   = 0x40A00000
	OSTimerLength = 0xE0
)

// OS timer register offsets.
const (
	OSMR0 = 0x00
	OSCR0 = 0x10
	OSSR  = 0x14
	OWER  = 0x18
	OIER  = 0x1C
	OSNR  = 0x20
	OSCR4 = 0x40
	OSMR4 = 0x80
	OMCR4 = 0xC0
)

// OMCR bits.
const (
	// OMCRSelf makes a channel compare against its own counter instead of
	// the shared one.
	OMCRSelf = 0x80
)

// OSChannels is the number of match channels. Channels 0-3 compare against
// OSCR0, which counts core ticks; channels 4-11 compare against OSCR4-11,
// which count RTC ticks.
const OSChannels = 12

type osMatch struct {
	match   uint32
	handle  clock.Handle
	armed   bool
	matched bool
}

// OSTimer is the PXA27x operating system timer.
type OSTimer struct {
	*bus.Registers

	clock periph.Clock
	sink  intc.Sink
	ratio periph.Ratio
	log   logr.Logger

	base0    uint64
	bases    [8]uint64
	channels [OSChannels]osMatch
	control  [8]uint32

	status uint32
	enable uint32
	ower   uint32
	osnr   uint32
}

// OSTimerOption configures an OSTimer.
type OSTimerOption func(*OSTimer)

// WithOSTimerInterrupts connects the match interrupts to sink: channels 0-3
// on their own sources, the others on the shared source.
func WithOSTimerInterrupts(sink intc.Sink) OSTimerOption {
	return func(t *OSTimer) {
		t.sink = sink
	}
}

// WithFrequencies sets the core and RTC clocks.
func WithFrequencies(core, rtc sim.Freq) OSTimerOption {
	return func(t *OSTimer) {
		t.ratio = periph.Ratio{Core: core, Slow: rtc}
	}
}

// WithOSTimerLogger sets the logger used to trace matches.
func WithOSTimerLogger(log logr.Logger) OSTimerOption {
	return func(t *OSTimer) {
		t.log = log
	}
}

// NewOSTimer creates the timer with all counters at zero and every match
// disabled.
func NewOSTimer(clk periph.Clock, latency bus.Latency, opts ...OSTimerOption) *OSTimer {
	t := &OSTimer{
		clock: clk,
		ratio: periph.Ratio{Core: 13 * sim.MHz, Slow: 32768 * sim.Hz},
		log:   logr.Discard(),
	}

	for _, opt := range opts {
		opt(t)
	}

	r := bus.NewRegisters("OSTIMER", OSTimerLength, clk, latency, bus.WithRegisterLogger(t.log))

	for i := 0; i < OSChannels; i++ {
		i := i
		off := uint32(OSMR0 + 4*i)
		if i >= 4 {
			off = uint32(OSMR4 + 4*(i-4))
		}

		r.Define(off, fmt.Sprintf("OSMR%d", i),
			func() uint32 { return t.channels[i].match },
			func(v uint32) { t.setMatch(i, v) })
	}

	r.Define(OSCR0, "OSCR0", func() uint32 { return t.Counter(0) }, func(v uint32) { t.setCounter(0, v) })
	r.Define(OSSR, "OSSR", func() uint32 { return t.status }, t.acknowledge)
	r.Field(OWER, "OWER", &t.ower)
	r.Define(OIER, "OIER", func() uint32 { return t.enable }, func(v uint32) {
		t.enable = v
		t.Evaluate()
	})
	r.Field(OSNR, "OSNR", &t.osnr)

	for c := 0; c < 8; c++ {
		c := c
		r.Define(OSCR4+uint32(4*c), fmt.Sprintf("OSCR%d", c+4),
			func() uint32 { return t.Counter(c + 4) },
			func(v uint32) { t.setCounter(c+4, v) })
		r.Define(OMCR4+uint32(4*c), fmt.Sprintf("OMCR%d", c+4),
			func() uint32 { return t.control[c] },
			func(v uint32) {
				t.control[c] = v
				t.disarm(c + 4)
				t.Evaluate()
			})
	}

	t.Registers = r

	return t
}

// Status returns OSSR.
func (t *OSTimer) Status() uint32 {
	return t.status
}

// Counter returns counter register n: 0 for OSCR0, 4 to 11 for OSCR4-11.
func (t *OSTimer) Counter(n int) uint32 {
	if n < 4 {
		return uint32(t.clock.Now() - t.base0)
	}

	return uint32(t.rtcNow() - t.bases[n-4])
}

func (t *OSTimer) setCounter(n int, v uint32) {
	if n < 4 {
		t.base0 = t.clock.Now() - uint64(v)
	} else {
		t.bases[n-4] = t.rtcNow() - uint64(v)
	}

	for i := range t.channels {
		t.disarm(i)
	}

	t.Evaluate()
}

// counterOf returns the counter register channel i compares against.
func (t *OSTimer) counterOf(i int) int {
	switch {
	case i < 4:
		return 0
	case t.control[i-4]&OMCRSelf != 0:
		return i
	case i < 8:
		return 4
	default:
		return 8
	}
}

func (t *OSTimer) setMatch(i int, v uint32) {
	ch := &t.channels[i]
	ch.match = v
	ch.matched = false
	t.disarm(i)
	t.Evaluate()
}

// acknowledge clears the OSSR bits set in v.
func (t *OSTimer) acknowledge(v uint32) {
	t.status &^= v

	for i := range t.channels {
		if v&(1<<i) != 0 {
			t.channels[i].matched = false
		}
	}

	t.updateInterrupts()
	t.Evaluate()
}

// Evaluate latches matches of enabled channels and arms a callback for the
// next match of each. Disabled channels lose their callback.
func (t *OSTimer) Evaluate() {
	for i := range t.channels {
		ch := &t.channels[i]

		if t.enable&(1<<i) == 0 {
			t.disarm(i)
			continue
		}

		if ch.armed && !ch.matched {
			continue
		}

		count := t.Counter(t.counterOf(i))
		if ch.matched || ch.match == count {
			t.status |= 1 << i
			ch.matched = false
			t.log.V(2).Info("os timer match", "channel", i, "count", count)
		}

		if !ch.armed {
			t.arm(i, ch.match-count)
		}
	}

	t.updateInterrupts()
}

// arm schedules the callback for the moment the counter of channel i has
// advanced by delta, a full wrap if delta is zero.
func (t *OSTimer) arm(i int, delta uint32) {
	d := uint64(delta)
	if d == 0 {
		d = 1 << 32
	}

	var delay int64
	if t.counterOf(i) == 0 {
		delay = int64(d)
	} else {
		delay = t.ratio.DelayUntil(t.clock.Now(), d)
	}

	ch := &t.channels[i]
	ch.armed = true
	ch.handle = t.clock.ScheduleRelative(delay, func() {
		ch.armed = false
		ch.matched = true
		t.Evaluate()
	})
}

func (t *OSTimer) disarm(i int) {
	ch := &t.channels[i]
	if !ch.armed {
		return
	}

	t.clock.Cancel(ch.handle)
	ch.armed = false
}

func (t *OSTimer) rtcNow() uint64 {
	return t.ratio.SlowTicks(t.clock.Now())
}

func (t *OSTimer) updateInterrupts() {
	if t.sink == nil {
		return
	}

	pending := t.status & t.enable

	for i := 0; i < 4; i++ {
		t.sink.NotifyLevel(intc.PXAOSTimer0+i, pending&(1<<i) != 0)
	}

	t.sink.NotifyLevel(intc.PXAOSTimer, pending&^0xF != 0)
}
