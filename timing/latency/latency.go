// Package latency provides the timing parameters of the chipset profiles:
// region access costs, clock frequencies and the conversions between them.
//
// Profiles are loaded from JSON or YAML and can be saved back, so a board
// variant can be described without recompiling.
package latency

import (
	"math"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/chipsim/bus"
)

// Table provides region timing lookups and clock conversions.
type Table struct {
	config  *Config
	regions map[string]RegionTiming
}

// NewTable creates a table with the default MM9691LP timing values.
func NewTable() *Table {
	return NewTableWithConfig(DefaultMM9691LPConfig())
}

// NewTableWithConfig creates a table over a custom configuration.
func NewTableWithConfig(config *Config) *Table {
	t := &Table{
		config:  config,
		regions: make(map[string]RegionTiming, len(config.Regions)),
	}

	for _, r := range config.Regions {
		t.regions[r.Name] = r
	}

	return t
}

// Config returns the underlying configuration.
func (t *Table) Config() *Config {
	return t.config
}

// Region returns the named region.
func (t *Table) Region(name string) (RegionTiming, bool) {
	r, ok := t.regions[name]
	return r, ok
}

// Latency returns the bus latency of the named region. Unknown regions cost
// one tick per access.
func (t *Table) Latency(name string) bus.Latency {
	r, ok := t.regions[name]
	if !ok {
		return bus.Latency{Width: 32, Read: 1, Write: 1}
	}

	return bus.Latency{Width: r.Width, Read: r.ReadLatency, Write: r.WriteLatency}
}

// CoreFrequency returns the CPU clock.
func (t *Table) CoreFrequency() sim.Freq {
	return t.config.CoreFrequency
}

// RTCFrequency returns the real-time clock input.
func (t *Table) RTCFrequency() sim.Freq {
	return t.config.RTCFrequency
}

// CoreTicks converts a tick count of a clock running at freq into core ticks,
// truncating.
func (t *Table) CoreTicks(ticks uint64, freq sim.Freq) uint64 {
	return ConvertTicks(ticks, freq, t.config.CoreFrequency)
}

// TicksAt converts core ticks into ticks of a clock running at freq,
// truncating.
func (t *Table) TicksAt(coreTicks uint64, freq sim.Freq) uint64 {
	return ConvertTicks(coreTicks, t.config.CoreFrequency, freq)
}

// ConvertTicks rescales ticks counted at from into ticks counted at to.
func ConvertTicks(ticks uint64, from, to sim.Freq) uint64 {
	if from == to {
		return ticks
	}

	return uint64(math.Floor(float64(ticks) * float64(to) / float64(from)))
}
