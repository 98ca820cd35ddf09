package remap_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/memory"
	"github.com/sarchlab/chipsim/periph"
	"github.com/sarchlab/chipsim/periph/remap"
	"github.com/sarchlab/chipsim/timing/clock"
)

type cacheControl struct {
	enabled, resetting, flushing bool
}

func (c *cacheControl) SetEnabled(on bool)       { c.enabled = on }
func (c *cacheControl) SetResettingTags(on bool) { c.resetting = on }
func (c *cacheControl) SetFlushEnabled(on bool)  { c.flushing = on }

type sleeper struct {
	calls int
}

func (s *sleeper) WaitForInterrupt() { s.calls++ }

var _ = Describe("Remap", func() {
	var (
		clk   *clock.Clock
		root  *bus.Bus
		ram   *memory.Handler
		flash *memory.Handler
		cache *cacheControl
		sleep *sleeper
		r     *remap.Remap
	)

	latency := bus.Latency{Width: 32, Read: 1, Write: 1}

	BeforeEach(func() {
		clk = clock.New()
		root = bus.New()
		ram = memory.NewRAM(0x1000, clk, latency)
		flash = memory.New(0x1000, clk, latency)
		cache = &cacheControl{}
		sleep = &sleeper{}
		r = remap.New(clk, periph.DefaultLatency, remap.WithCache(cache), remap.WithSleeper(sleep))

		Expect(root.Attach(ram, remap.DefaultRAMBase)).To(Succeed())
		Expect(root.Attach(flash, remap.DefaultFlashBase)).To(Succeed())
		Expect(root.Attach(r, remap.Base)).To(Succeed())
		root.Connect(root)
	})

	It("should link flash at zero out of reset", func() {
		Expect(root.FindAt(0)).To(BeIdenticalTo(flash))

		flash.Poke(0, 0xE59FF018)
		Expect(root.Load(0, bus.Uint32)).To(Equal(uint32(0xE59FF018)))
	})

	It("should link RAM at zero on ClearResetMap", func() {
		Expect(root.Store(remap.Base+remap.RegClearResetMap, 1, bus.Uint32)).To(Succeed())
		Expect(root.FindAt(0)).To(BeIdenticalTo(ram))

		Expect(root.Store(0x10, 0x1234, bus.Uint32)).To(Succeed())
		Expect(ram.Peek(0x10)).To(Equal(uint32(0x1234)))
	})

	It("should identify the chip", func() {
		Expect(root.Load(remap.Base+remap.RegIdentification, bus.Uint32)).
			To(Equal(uint32(remap.Identification)))
	})

	It("should drive the cache controls", func() {
		Expect(root.Store(remap.Base+remap.RegCacheEnable, 1, bus.Uint32)).To(Succeed())
		Expect(cache.enabled).To(BeTrue())

		Expect(root.Store(remap.Base+remap.RegCacheTagsReset, 0, bus.Uint32)).To(Succeed())
		Expect(cache.resetting).To(BeTrue())
		Expect(root.Store(remap.Base+remap.RegCacheTagsReset, 1, bus.Uint32)).To(Succeed())
		Expect(cache.resetting).To(BeFalse())

		Expect(root.Store(remap.Base+remap.RegCacheFlushEnable, 1, bus.Uint32)).To(Succeed())
		Expect(cache.flushing).To(BeTrue())
	})

	It("should stop the core on Pause", func() {
		Expect(root.Store(remap.Base+remap.RegPause, 0, bus.Uint32)).To(Succeed())
		Expect(sleep.calls).To(Equal(1))
	})

	It("should clear reset status bits", func() {
		Expect(root.Load(remap.Base+remap.RegResetStatus, bus.Uint32)).To(Equal(uint32(remap.ResetStatusPOR)))
		Expect(root.Store(remap.Base+remap.RegResetStatusClear, remap.ResetStatusPOR, bus.Uint32)).To(Succeed())
		Expect(root.Load(remap.Base+remap.RegResetStatus, bus.Uint32)).To(BeZero())
	})
})

var _ = Describe("ClockManager", func() {
	It("should come up locked and link SRAM at zero", func() {
		clk := clock.New()
		root := bus.New()
		sram := memory.NewRAM(0x1000, clk, bus.Latency{Width: 32, Read: 1, Write: 1})
		c := remap.NewClockManager(clk, periph.DefaultLatency, remap.DefaultSRAMBase, GinkgoLogr)

		Expect(root.Attach(sram, remap.DefaultSRAMBase)).To(Succeed())
		Expect(root.Attach(c, remap.ClockManagerBase)).To(Succeed())
		root.Connect(root)

		Expect(root.FindAt(0)).To(BeIdenticalTo(sram))
		Expect(root.Load(remap.ClockManagerBase+remap.RegCCSR, bus.Uint32)).
			To(Equal(uint32(remap.CCSRCorePLLLock | remap.CCSRPeripheralPLLLock)))

		Expect(root.Store(remap.ClockManagerBase+remap.RegCKEN, 0x3, bus.Uint32)).To(Succeed())
		Expect(c.ClockEnabled(0x1)).To(BeTrue())
		Expect(c.ClockEnabled(0x4)).To(BeFalse())
	})
})
