package mwspi_test

import (
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/hosting"
	"github.com/sarchlab/chipsim/intc"
	"github.com/sarchlab/chipsim/periph"
	"github.com/sarchlab/chipsim/periph/gpio"
	"github.com/sarchlab/chipsim/periph/mwspi"
	"github.com/sarchlab/chipsim/timing/clock"
)

type shift struct {
	Value uint32
	Bits  int
	Hz    float64
}

type loopback struct {
	seen  []shift
	reply uint32
}

func (l *loopback) ShiftData(value uint32, bits int, hz float64) uint32 {
	l.seen = append(l.seen, shift{value, bits, hz})
	return l.reply
}

type transcript struct {
	lines []string
}

func (t *transcript) OutputLine(format string, args ...any) {
	t.lines = append(t.lines, fmt.Sprintf(format, args...))
}

type gate struct {
	on bool
}

func (g *gate) ClockEnabled(uint32) bool { return g.on }

var _ = Describe("MWSPI", func() {
	var (
		clk  *clock.Clock
		agg  *intc.Aggregator
		pins *gpio.GPIO
		wire *loopback
		m    *mwspi.MWSPI

		services *hosting.Registry
	)

	write := func(off, v uint32) {
		m.Write(mwspi.Base+off, off, v, bus.Uint32)
	}

	read := func(off uint32) uint32 {
		return m.Read(mwspi.Base+off, off, bus.Uint32)
	}

	raised := func() bool {
		return agg.Bank().Raw()&(1<<intc.IRQMicroWire) != 0
	}

	runUntil := func(t uint64) {
		for {
			d, ok := clk.NextDeadline()
			if !ok || d > t {
				break
			}

			if d > clk.Now() {
				clk.Advance(d - clk.Now())
			}
			clk.Evaluate()
		}

		if clk.Now() < t {
			clk.Advance(t - clk.Now())
		}
	}

	BeforeEach(func() {
		clk = clock.New()
		agg = intc.NewAggregator(nil)
		pins = gpio.New(clk, periph.DefaultLatency)
		wire = &loopback{reply: 0x5A}

		services = hosting.NewRegistry()
		services.Register(hosting.ServiceShiftBus, wire)

		m = mwspi.New(clk, periph.DefaultLatency,
			mwspi.WithInterrupt(agg.Line(intc.IRQMicroWire)),
			mwspi.WithPins(pins),
			mwspi.WithServices(services),
			mwspi.WithCoreFrequency(26*sim.MHz))
	})

	Context("as master", func() {
		BeforeEach(func() {
			write(mwspi.RegCTL1, mwspi.Ctl1Enable|mwspi.Ctl1Master|mwspi.Ctl1EIR|mwspi.SCDV(4))
		})

		It("should exchange a word after divider times bits ticks", func() {
			write(mwspi.RegDAT, 0xA5)
			Expect(read(mwspi.RegSTAT) & mwspi.StatBSY).NotTo(BeZero())

			// The transfer was scheduled at tick 2 and lasts 4*8 ticks.
			runUntil(33)
			Expect(wire.seen).To(BeEmpty())

			runUntil(34)
			Expect(cmp.Diff([]shift{{0xA5, 8, 26e6 / 4}}, wire.seen)).To(BeEmpty())
			Expect(m.Status()).To(Equal(uint32(mwspi.StatRBF)))
			Expect(raised()).To(BeTrue())

			Expect(read(mwspi.RegDAT)).To(Equal(uint32(0x5A)))
			Expect(m.Status()).To(BeZero())
			Expect(raised()).To(BeFalse())
		})

		It("should keep all 16 shift register bits on an 8-bit transfer", func() {
			wire.reply = 0x12345
			write(mwspi.RegDAT, 0xA5)
			runUntil(34)

			Expect(read(mwspi.RegDAT)).To(Equal(uint32(0x2345)))
		})

		It("should trace transfers to the output sink", func() {
			out := &transcript{}
			services.Register(hosting.ServiceOutputSink, out)

			write(mwspi.RegDAT, 0xA5)
			runUntil(34)
			read(mwspi.RegDAT)

			Expect(out.lines).To(Equal([]string{"SPI WRITE: 2 00A5", "SPI READ: 34 005A"}))
		})

		It("should use a divider of at least 2", func() {
			write(mwspi.RegCTL1, mwspi.Ctl1Enable|mwspi.Ctl1Master|mwspi.Ctl1Mod16)
			start := clk.Now()
			write(mwspi.RegDAT, 0x1234)

			runUntil(start + 2*16)
			Expect(wire.seen).To(HaveLen(1))
			Expect(wire.seen[0].Bits).To(Equal(16))
		})

		It("should hold the next transfer while the read buffer is full", func() {
			write(mwspi.RegDAT, 0x01)
			runUntil(clk.Now() + 32)

			write(mwspi.RegDAT, 0x02)
			Expect(m.Status() & mwspi.StatBSY).To(BeZero())
			Expect(m.Status() & mwspi.StatTBF).NotTo(BeZero())

			read(mwspi.RegDAT)
			Expect(m.Status() & mwspi.StatBSY).NotTo(BeZero())

			runUntil(clk.Now() + 32)
			Expect(wire.seen).To(HaveLen(2))
			Expect(wire.seen[1].Value).To(Equal(uint32(0x02)))
		})

		It("should not fill the read buffer in write-only mode", func() {
			write(mwspi.RegCTL2, mwspi.Ctl2WriteOnly)
			write(mwspi.RegDAT, 0x01)
			runUntil(clk.Now() + 32)

			Expect(wire.seen).To(HaveLen(1))
			Expect(m.Status()).To(BeZero())
		})

		It("should raise the transmit interrupt while the buffer is empty", func() {
			write(mwspi.RegCTL1, mwspi.Ctl1Enable|mwspi.Ctl1Master|mwspi.Ctl1EIW)
			Expect(raised()).To(BeTrue())
		})
	})

	Context("as slave", func() {
		BeforeEach(func() {
			write(mwspi.RegCTL1, mwspi.Ctl1Enable|mwspi.Ctl1EIF)
		})

		It("should receive words clocked by the external master", func() {
			m.ShiftData(0x33, 8, 13e6)
			Expect(m.Status() & mwspi.StatUDR).NotTo(BeZero())

			runUntil(clk.Now() + 16)
			Expect(m.Status() & mwspi.StatRBF).NotTo(BeZero())
			Expect(read(mwspi.RegDAT)).To(Equal(uint32(0x33)))
		})

		It("should trace the end of an external shift", func() {
			out := &transcript{}
			services.Register(hosting.ServiceOutputSink, out)

			m.ShiftData(0x33, 8, 0)
			runUntil(clk.Now() + 8)

			Expect(out.lines).To(ConsistOf(HavePrefix("SHIFT END: ")))
		})

		It("should flag overruns and clear them on write-one", func() {
			m.ShiftData(0x33, 8, 0)
			runUntil(clk.Now() + 8)
			m.ShiftData(0x44, 8, 0)
			runUntil(clk.Now() + 8)

			Expect(m.Status() & mwspi.StatOVR).NotTo(BeZero())
			Expect(raised()).To(BeTrue())

			write(mwspi.RegSTAT, mwspi.StatOVR|mwspi.StatUDR)
			Expect(m.Status() & (mwspi.StatOVR | mwspi.StatUDR)).To(BeZero())
			Expect(raised()).To(BeFalse())
			Expect(read(mwspi.RegDAT)).To(Equal(uint32(0x33)))
		})

		It("should hand the written word to the master without double buffering", func() {
			write(mwspi.RegDAT, 0x77)
			Expect(m.Status() & mwspi.StatTBF).NotTo(BeZero())

			Expect(m.ShiftData(0x10, 8, 0)).To(Equal(uint32(0x77)))
			Expect(m.Status() & (mwspi.StatTBF | mwspi.StatUDR)).To(BeZero())
		})

		It("should follow chip select on pin 19", func() {
			m.EndTransaction()
			Expect(m.Selected()).To(BeFalse())

			m.StartTransaction()
			Expect(m.Selected()).To(BeTrue())
			Expect(pins.ReadPin(mwspi.PinMSC0LE)).To(BeFalse())

			write(mwspi.RegCTL1, 0)
			Expect(m.Selected()).To(BeFalse())
		})
	})

	It("should fault on unsupported MWnCTL2 modes", func() {
		err := bus.Guard(func() {
			write(mwspi.RegCTL2, mwspi.Ctl2LEE0)
		})

		Expect(errors.Is(err, bus.ErrUnsupportedConfiguration)).To(BeTrue())
	})

	It("should ignore accesses while its clock is gated", func() {
		g := &gate{}
		m = mwspi.New(clk, periph.DefaultLatency, mwspi.WithClockGate(g, 0x400))

		write(mwspi.RegCTL1, mwspi.Ctl1Enable)
		g.on = true
		Expect(read(mwspi.RegCTL1)).To(BeZero())

		write(mwspi.RegCTL1, mwspi.Ctl1Enable)
		g.on = false
		Expect(read(mwspi.RegCTL1)).To(BeZero())
		g.on = true
		Expect(read(mwspi.RegCTL1)).To(Equal(uint32(mwspi.Ctl1Enable)))
	})
})
