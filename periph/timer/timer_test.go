package timer_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/intc"
	"github.com/sarchlab/chipsim/periph"
	"github.com/sarchlab/chipsim/periph/timer"
	"github.com/sarchlab/chipsim/timing/clock"
)

var _ = Describe("ARMTimer", func() {
	var (
		clk *clock.Clock
		t   *timer.ARMTimer
	)

	BeforeEach(func() {
		clk = clock.New()
		t = timer.NewARMTimer(0, clk, periph.DefaultLatency)
	})

	It("should count down from the core tick", func() {
		clk.Advance(5)
		Expect(t.Read(timer.ARMTimer0Base+4, 4, bus.Uint32)).To(Equal(uint32(0xFFFB)))

		clk.Advance(0x10000)
		Expect(t.Value()).To(Equal(uint32(0xFFFA)))
	})

	It("should keep the register widths", func() {
		t.Write(timer.ARMTimer0Base, 0, 0x12345, bus.Uint32)
		t.Write(timer.ARMTimer0Base+8, 8, 0x1C4, bus.Uint32)

		Expect(t.Read(timer.ARMTimer0Base, 0, bus.Uint32)).To(Equal(uint32(0x2345)))
		Expect(t.Read(timer.ARMTimer0Base+8, 8, bus.Uint32)).To(Equal(uint32(timer.ARMEnable | timer.ARMModePeriodic | timer.ARMPrescale16)))
	})
})

var _ = Describe("VTU32", func() {
	var (
		clk *clock.Clock
		v   *timer.VTU32
	)

	BeforeEach(func() {
		clk = clock.New()
		v = timer.NewVTU32(clk, periph.DefaultLatency, GinkgoLogr)
		v.Write(timer.VTU32Base, timer.VTUPrescaler(0), 0x0103, bus.Uint32)
		clk.Reset()
	})

	It("should count prescaled ticks while a PWM32 timer runs", func() {
		v.SetMode(timer.VTUMode(0, timer.VTUPWM32|timer.VTURunA))
		clk.Advance(40)
		Expect(v.Counter(0)).To(Equal(uint32(10)))
		Expect(v.Counter(1)).To(BeZero())

		v.SetMode(timer.VTUMode(0, timer.VTUPWM32))
		clk.Advance(40)
		Expect(v.Counter(0)).To(Equal(uint32(10)))

		v.SetMode(timer.VTUMode(0, timer.VTUPWM32|timer.VTURunA))
		clk.Advance(8)
		Expect(v.Counter(0)).To(Equal(uint32(12)))
	})

	It("should use each timer's own prescaler byte", func() {
		v.SetMode(timer.VTUMode(1, timer.VTUPWM32|timer.VTURunA))
		clk.Advance(40)
		Expect(v.Counter(1)).To(Equal(uint32(20)))
	})

	It("should not count outside PWM32 mode", func() {
		v.SetMode(timer.VTUMode(0, timer.VTUDualPWM|timer.VTURunA))
		clk.Advance(40)
		Expect(v.Counter(0)).To(BeZero())
	})

	It("should expose counters and captures through the window", func() {
		off := timer.VTUChannel(1, 1, timer.VTUCounter)
		v.Write(timer.VTU32Base+off, off, 500, bus.Uint32)
		Expect(v.Read(timer.VTU32Base+off, off, bus.Uint32)).To(Equal(uint32(500)))
		Expect(v.Counter(3)).To(Equal(uint32(500)))

		off = timer.VTUChannel(0, 1, timer.VTUPeriod)
		v.Write(timer.VTU32Base+off, off, 0xABCD, bus.Uint32)
		Expect(v.Read(timer.VTU32Base+off, off, bus.Uint32)).To(Equal(uint32(0xABCD)))

		v.Write(timer.VTU32Base+timer.VTUInterruptPending, timer.VTUInterruptPending, 0xF, bus.Uint32)
		Expect(v.Read(timer.VTU32Base+timer.VTUInterruptPending, timer.VTUInterruptPending, bus.Uint32)).To(BeZero())
	})
})

var _ = Describe("OSTimer", func() {
	var (
		clk  *clock.Clock
		intr *intc.Banked
		t    *timer.OSTimer
	)

	write := func(off, v uint32) {
		t.Write(timer.OSTimerBase+off, off, v, bus.Uint32)
	}

	read := func(off uint32) uint32 {
		return t.Read(timer.OSTimerBase+off, off, bus.Uint32)
	}

	raised := func(index int) bool {
		return intr.Bank(0).Raw()&(1<<index) != 0
	}

	runUntil := func(until uint64) {
		for {
			d, ok := clk.NextDeadline()
			if !ok || d > until {
				break
			}

			if d > clk.Now() {
				clk.Advance(d - clk.Now())
			}
			clk.Evaluate()
		}

		if clk.Now() < until {
			clk.Advance(until - clk.Now())
		}
	}

	BeforeEach(func() {
		clk = clock.New()
		intr = intc.NewBanked(nil, clk, periph.DefaultLatency)
		t = timer.NewOSTimer(clk, periph.DefaultLatency,
			timer.WithOSTimerInterrupts(intr),
			timer.WithFrequencies(8*sim.Hz, 1*sim.Hz))
	})

	It("should raise a match interrupt when OSCR0 reaches OSMR0", func() {
		write(timer.OSMR0, 100)
		write(timer.OIER, 1)

		runUntil(99)
		Expect(raised(intc.PXAOSTimer0)).To(BeFalse())

		runUntil(100)
		Expect(t.Status()).To(Equal(uint32(1)))
		Expect(raised(intc.PXAOSTimer0)).To(BeTrue())

		write(timer.OSSR, 1)
		Expect(read(timer.OSSR)).To(BeZero())
		Expect(raised(intc.PXAOSTimer0)).To(BeFalse())
	})

	It("should route each of the first four channels to its own source", func() {
		write(timer.OSMR0+8, 50)
		write(timer.OIER, 1<<2)
		runUntil(50)

		Expect(raised(intc.PXAOSTimer0 + 2)).To(BeTrue())
		Expect(raised(intc.PXAOSTimer0)).To(BeFalse())
	})

	It("should cancel the match callback when the channel is disabled", func() {
		write(timer.OSMR0, 100)
		write(timer.OIER, 1)
		Expect(clk.Pending()).To(Equal(1))

		write(timer.OIER, 0)
		Expect(clk.Pending()).To(BeZero())

		runUntil(200)
		Expect(t.Status()).To(BeZero())
	})

	It("should rearm when OSMR is rewritten", func() {
		write(timer.OIER, 1)
		write(timer.OSMR0, 10)
		runUntil(10)
		write(timer.OSSR, 1)

		write(timer.OSMR0, 30)
		Expect(clk.Pending()).To(Equal(1))
		runUntil(30)
		Expect(t.Status()).To(Equal(uint32(1)))
	})

	It("should load OSCR0", func() {
		write(timer.OSCR0, 1000)
		Expect(read(timer.OSCR0)).To(Equal(uint32(1002)))
	})

	It("should count RTC ticks on the upper channels", func() {
		write(timer.OSMR4, 5)
		write(timer.OIER, 1<<4)

		// RTC tick 5 is core tick 40.
		runUntil(39)
		Expect(t.Status()).To(BeZero())

		runUntil(40)
		Expect(t.Status()).To(Equal(uint32(1 << 4)))
		Expect(t.Counter(4)).To(Equal(uint32(5)))
		Expect(raised(intc.PXAOSTimer)).To(BeTrue())
	})

	It("should let a channel compare against its own counter", func() {
		write(timer.OMCR4+4, timer.OMCRSelf)
		write(timer.OSCR4+4, 3)
		write(timer.OSMR4+4, 4)
		write(timer.OIER, 1<<5)

		Expect(t.Counter(5)).To(Equal(uint32(3)))
		runUntil(clk.Now() + 8)
		Expect(t.Status()).To(Equal(uint32(1 << 5)))
	})
})
