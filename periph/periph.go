// Package periph holds what the chipset peripheral models share: the clock
// capabilities they schedule on, the clock gate they consult and the step
// runner that serializes their state machines.
package periph

import (
	"math"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/timing/clock"
	"github.com/sarchlab/chipsim/timing/latency"
)

// DefaultLatency is the access cost of an on-chip peripheral window.
var DefaultLatency = bus.Latency{Width: 32, Read: 1, Write: 2}

// Clock is the timing service a peripheral schedules its callbacks on.
type Clock interface {
	bus.Ticker
	ScheduleRelative(delay int64, action func()) clock.Handle
	Cancel(h clock.Handle)
}

// ClockGate reports whether the peripheral clocks in mask are running.
type ClockGate interface {
	ClockEnabled(mask uint32) bool
}

// AlwaysOn is a ClockGate with every clock running.
type AlwaysOn struct{}

// ClockEnabled implements ClockGate.
func (AlwaysOn) ClockEnabled(uint32) bool { return true }

// Stepper runs a state machine step function without recursion. A step
// requested while one is running is queued and runs as a follow-up pass once
// the current one returns.
type Stepper struct {
	stepping bool
	again    bool
}

// Run executes step, then repeats it while follow-up passes were requested.
func (s *Stepper) Run(step func()) {
	if s.stepping {
		s.again = true
		return
	}

	s.stepping = true
	defer func() {
		s.stepping = false
		s.again = false
	}()

	for {
		s.again = false
		step()

		if !s.again {
			return
		}
	}
}

// Stepping reports whether a step is running.
func (s *Stepper) Stepping() bool {
	return s.stepping
}

// Ratio relates the core clock to a slower clock that drives a counter.
type Ratio struct {
	Core sim.Freq
	Slow sim.Freq
}

// SlowTicks returns the slow clock ticks elapsed by core tick now.
func (r Ratio) SlowTicks(now uint64) uint64 {
	return latency.ConvertTicks(now, r.Core, r.Slow)
}

// CoreTickAt returns the first core tick at which the slow clock has counted
// slow ticks.
func (r Ratio) CoreTickAt(slow uint64) uint64 {
	if r.Core == r.Slow {
		return slow
	}

	return uint64(math.Ceil(float64(slow) * float64(r.Core) / float64(r.Slow)))
}

// DelayUntil returns the core ticks from now until the slow clock has
// advanced by delta ticks past its count at now.
func (r Ratio) DelayUntil(now, delta uint64) int64 {
	return int64(r.CoreTickAt(r.SlowTicks(now)+delta) - now)
}
