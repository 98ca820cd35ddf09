package core_test

import (
	"context"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/intc"
	"github.com/sarchlab/chipsim/loader"
	"github.com/sarchlab/chipsim/periph/remap"
	"github.com/sarchlab/chipsim/periph/rtc"
	"github.com/sarchlab/chipsim/timing/core"
	"github.com/sarchlab/chipsim/timing/latency"
)

func ptr[T any](v T) *T { return &v }

func store(addr, v uint32) loader.Op {
	return loader.Op{Op: loader.OpStore, Addr: addr, Value: v}
}

// armRTC enables the RTC interrupt and sets the compare value.
func armRTC(compare uint32) []loader.Op {
	return []loader.Op{
		store(intc.ControllerBase+0x008, 1<<intc.IRQRealTimeClock),
		store(rtc.Base+rtc.RegCOMPLow, compare),
		store(rtc.Base+rtc.RegCOMPHigh, 0),
	}
}

var _ = Describe("Core", func() {
	var (
		ctx context.Context
		c   *core.Core
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		c, err = core.NewCore(latency.DefaultMM9691LPConfig(), core.WithLogger(GinkgoLogr))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		c.Close()
	})

	It("should create a core around a chip", func() {
		Expect(c.Chip).NotTo(BeNil())
		Expect(c.Chip.Profile()).To(Equal(latency.ProfileMM9691LP))
	})

	It("should check loaded values", func() {
		err := c.Run(ctx, []loader.Op{
			{Op: loader.OpLoad, Addr: remap.Base + remap.RegIdentification, Expect: ptr(uint32(remap.Identification))},
		})
		Expect(err).NotTo(HaveOccurred())

		err = c.Run(ctx, []loader.Op{
			{Op: loader.OpLoad, Addr: remap.Base + remap.RegIdentification, Expect: ptr(uint32(0))},
		})
		Expect(err).To(MatchError(core.ErrMismatch))
		Expect(err.Error()).To(ContainSubstring("op 0 (load)"))

		stats := c.Stats()
		Expect(stats.Loads).To(Equal(uint64(2)))
		Expect(stats.Checks).To(Equal(uint64(2)))
	})

	It("should stop at bus faults", func() {
		err := c.Run(ctx, []loader.Op{
			{Op: loader.OpLoad, Addr: 0x20000000},
			{Op: loader.OpLoad, Addr: 0x20000004},
		})
		Expect(err).To(MatchError(bus.ErrUnmapped))
		Expect(c.Stats().Ops).To(Equal(uint64(1)))
	})

	It("should fire callbacks at their deadlines while running", func() {
		ops := append(armRTC(10),
			loader.Op{Op: loader.OpExpect, IRQ: ptr(false)},
			loader.Op{Op: loader.OpRun, Ticks: 8000},
			loader.Op{Op: loader.OpExpect, IRQ: ptr(true), FIQ: ptr(false)},
		)
		Expect(c.Run(ctx, ops)).To(Succeed())

		// Ten RTC ticks at 32768 Hz are 7935 ticks of the 26 MHz core.
		Expect(cmp.Diff([]core.Event{{Tick: 7935, Line: core.IRQ, Asserted: true}}, c.Events())).To(BeEmpty())
		Expect(c.Stats().IRQAssertions).To(Equal(uint64(1)))
		Expect(c.Stats().Ticks).To(Equal(uint64(6 + 8000)))
	})

	It("should see late interrupts after a plain advance", func() {
		ops := append(armRTC(10),
			loader.Op{Op: loader.OpAdvance, Ticks: 9000},
			loader.Op{Op: loader.OpExpect, IRQ: ptr(false)},
			loader.Op{Op: loader.OpEvaluate},
			loader.Op{Op: loader.OpExpect, IRQ: ptr(true)},
		)
		Expect(c.Run(ctx, ops)).To(Succeed())
		Expect(c.Events()[0].Tick).To(Equal(uint64(9006)))
	})

	It("should skip idle time on Pause", func() {
		ops := append(armRTC(10),
			store(remap.Base+remap.RegPause, 0),
			loader.Op{Op: loader.OpIdle},
		)
		Expect(c.Run(ctx, ops)).To(Succeed())

		stats := c.Stats()
		Expect(stats.Ticks).To(Equal(uint64(7935)))
		Expect(stats.IdleTicks).To(BeNumerically(">", 0))
	})

	It("should report interrupt mismatches", func() {
		err := c.Run(ctx, []loader.Op{{Op: loader.OpExpect, FIQ: ptr(true)}})
		Expect(err).To(MatchError(core.ErrMismatch))
		Expect(err.Error()).To(ContainSubstring("fiq is false"))
	})

	It("should refuse traces of another profile", func() {
		err := c.RunTrace(ctx, &loader.Trace{Version: loader.TraceFormatVersion, Profile: latency.ProfilePXA27x})
		Expect(err).To(MatchError(core.ErrMismatch))
	})

	It("should replay a parsed trace", func() {
		t, err := loader.ParseTrace([]byte(`
version: 1.0.0
profile: mm9691lp
ops:
  - {op: store, addr: 0x38000008, value: 0x400}
  - {op: store, addr: 0x38070000, value: 0}
  - {op: store, addr: 0x08000000, value: 0x7F, kind: u8}
  - {op: load, addr: 0x08000000, kind: u8, expect: 0x7F}
`))
		Expect(err).NotTo(HaveOccurred())
		Expect(c.RunTrace(ctx, t)).To(Succeed())

		stats := c.Stats()
		Expect(stats.Stores).To(Equal(uint64(3)))
		Expect(stats.Loads).To(Equal(uint64(1)))
	})

	It("should stop when the context is canceled", func() {
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		err := c.Run(canceled, armRTC(10))
		Expect(err).To(MatchError(context.Canceled))
		Expect(c.Stats().Ops).To(BeZero())
	})
})
