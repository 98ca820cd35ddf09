package benchmarks

import (
	"github.com/sarchlab/chipsim/intc"
	"github.com/sarchlab/chipsim/loader"
	"github.com/sarchlab/chipsim/periph/remap"
	"github.com/sarchlab/chipsim/periph/rtc"
	"github.com/sarchlab/chipsim/periph/timer"
	"github.com/sarchlab/chipsim/timing/cache"
	"github.com/sarchlab/chipsim/timing/latency"
)

const (
	ramBase   = 0x08000000
	flashBase = 0x10000000

	// wayStride separates addresses that share a cache set.
	wayStride = 1 << (8 + cache.LineWordsLog2 + 2)
)

// GetMicrobenchmarks returns the standard set of access microbenchmarks.
// Each benchmark targets one part of the timing model.
func GetMicrobenchmarks() []Benchmark {
	return []Benchmark{
		ramUncachedSequential(),
		ramCachedSequential(),
		ramCachedRepeat(),
		cacheConflict(),
		flashSequential(),
		writeThrough(),
		peripheralPoll(),
		rtcWake(),
		osTimerMatch(),
	}
}

// GetCoreBenchmarks returns a minimal set for quick validation.
func GetCoreBenchmarks() []Benchmark {
	return []Benchmark{
		ramCachedSequential(),
		flashSequential(),
		rtcWake(),
	}
}

// Load builds a 32-bit load.
func Load(addr uint32) loader.Op {
	return loader.Op{Op: loader.OpLoad, Addr: addr}
}

// Store builds a 32-bit store.
func Store(addr, value uint32) loader.Op {
	return loader.Op{Op: loader.OpStore, Addr: addr, Value: value}
}

// Sequential builds n word loads starting at base.
func Sequential(base uint32, n int) []loader.Op {
	ops := make([]loader.Op, n)
	for i := range ops {
		ops[i] = Load(base + uint32(i)*4)
	}

	return ops
}

func ramUncachedSequential() Benchmark {
	return Benchmark{
		Name:        "ram_uncached_sequential",
		Description: "64 word loads from zero wait-state RAM, uncached alias",
		Ops:         Sequential(ramBase, 64),
	}
}

func ramCachedSequential() Benchmark {
	return Benchmark{
		Name:        "ram_cached_sequential",
		Description: "64 word loads through the cache - one line fill per 4 words",
		Ops:         Sequential(cache.CacheableMask|ramBase, 64),
	}
}

func ramCachedRepeat() Benchmark {
	ops := Sequential(cache.CacheableMask|ramBase, 16)
	ops = append(ops, Sequential(cache.CacheableMask|ramBase, 16)...)

	return Benchmark{
		Name:        "ram_cached_repeat",
		Description: "16 word loads twice - the second pass hits",
		Ops:         ops,
	}
}

func cacheConflict() Benchmark {
	var ops []loader.Op
	for pass := 0; pass < 2; pass++ {
		for way := 0; way <= cache.Ways; way++ {
			ops = append(ops, Load(cache.CacheableMask|ramBase+uint32(way)*wayStride))
		}
	}

	return Benchmark{
		Name:        "cache_conflict",
		Description: "5 lines in one 4-way set, loaded twice - measures evictions",
		Ops:         ops,
	}
}

func flashSequential() Benchmark {
	return Benchmark{
		Name:        "flash_sequential",
		Description: "32 word loads from 16-bit flash - two beats per word",
		Ops:         Sequential(flashBase, 32),
	}
}

func writeThrough() Benchmark {
	ops := make([]loader.Op, 0, 32)
	for i := uint32(0); i < 32; i++ {
		ops = append(ops, Store(cache.CacheableMask|ramBase+i*4, i))
	}

	return Benchmark{
		Name:        "write_through",
		Description: "32 stores through the cache - no allocation on write",
		Ops:         ops,
	}
}

func peripheralPoll() Benchmark {
	ops := make([]loader.Op, 32)
	for i := range ops {
		ops[i] = Load(remap.Base + remap.RegIdentification)
	}

	return Benchmark{
		Name:        "peripheral_poll",
		Description: "32 reads of a peripheral register",
		Ops:         ops,
	}
}

func rtcWake() Benchmark {
	irq := true

	return Benchmark{
		Name:        "rtc_wake",
		Description: "Pause until the RTC compare interrupt 10 RTC ticks out",
		Ops: []loader.Op{
			Store(intc.ControllerBase+0x008, 1<<intc.IRQRealTimeClock),
			Store(rtc.Base+rtc.RegCOMPLow, 10),
			Store(rtc.Base+rtc.RegCOMPHigh, 0),
			Store(remap.Base+remap.RegPause, 0),
			{Op: loader.OpIdle},
			{Op: loader.OpExpect, IRQ: &irq},
		},
	}
}

func osTimerMatch() Benchmark {
	irq := true

	return Benchmark{
		Name:        "ostimer_match",
		Description: "PXA27x OS timer match 0 through the banked controller",
		Profile:     latency.ProfilePXA27x,
		Ops: []loader.Op{
			Store(intc.BankedBase+0x04, 1<<intc.PXAOSTimer0),
			Store(timer.OSTimerBase+timer.OSMR0, 1000),
			Store(timer.OSTimerBase+timer.OIER, 1),
			{Op: loader.OpRun, Ticks: 1000},
			{Op: loader.OpExpect, IRQ: &irq},
		},
	}
}
