package bus_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/timing/clock"
)

var _ = Describe("Registers", func() {
	var (
		c       *clock.Clock
		regs    *bus.Registers
		control uint32
		written []uint32
	)

	BeforeEach(func() {
		c = clock.New()
		control = 0
		written = nil

		regs = bus.NewRegisters("TEST", 0x40, c, bus.Latency{Read: 1, Write: 2})
		regs.Field(0x00, "CONTROL", &control)
		regs.Define(0x04, "STATUS", func() uint32 { return 0xA5 }, nil)
		regs.Define(0x08, "COMMAND", nil, func(v uint32) { written = append(written, v) })
		regs.Define(0x0C, "SLOW", func() uint32 {
			c.Charge(10, 9)
			return 1
		}, nil)
	})

	It("should store and return a plain field", func() {
		regs.Write(0x100, 0x00, 0x1234, bus.Uint32)
		Expect(regs.Read(0x100, 0x00, bus.Uint32)).To(Equal(uint32(0x1234)))
		Expect(control).To(Equal(uint32(0x1234)))
	})

	It("should ignore writes to read-only registers", func() {
		regs.Write(0x104, 0x04, 0xFFFF, bus.Uint32)
		Expect(regs.Read(0x104, 0x04, bus.Uint32)).To(Equal(uint32(0xA5)))
	})

	It("should read write-only registers as zero", func() {
		regs.Write(0x108, 0x08, 7, bus.Uint32)
		Expect(written).To(Equal([]uint32{7}))
		Expect(regs.Read(0x108, 0x08, bus.Uint32)).To(Equal(uint32(0)))
	})

	It("should treat undefined offsets as reserved", func() {
		regs.Write(0x120, 0x20, 7, bus.Uint32)
		Expect(regs.Read(0x120, 0x20, bus.Uint32)).To(Equal(uint32(0)))
		Expect(regs.Defined(0x20)).To(BeFalse())
	})

	It("should charge window latency when the accessor does not", func() {
		regs.Read(0x100, 0x00, bus.Uint32)
		Expect(c.Now()).To(Equal(uint64(1)))

		regs.Write(0x100, 0x00, 0, bus.Uint32)
		Expect(c.Now()).To(Equal(uint64(3)))

		regs.Read(0x10C, 0x0C, bus.Uint32)
		Expect(c.Now()).To(Equal(uint64(13)))
	})

	It("should zero-extend narrow stores to the low lane", func() {
		control = 0xFFFFFFFF

		Expect(bus.Store(regs, 0x00, 0xABCD1234, bus.Uint16)).To(Succeed())
		Expect(control).To(Equal(uint32(0x1234)))

		Expect(bus.Store(regs, 0x08, 0x1FF, bus.Uint8)).To(Succeed())
		Expect(written).To(Equal([]uint32{0xFF}))
	})

	It("should fault on narrow stores to an upper lane", func() {
		err := bus.Store(regs, 0x02, 0x12, bus.Uint16)
		Expect(err).To(MatchError(bus.ErrUnsupportedAccess))
		Expect(control).To(BeZero())

		err = bus.Store(regs, 0x09, 0x12, bus.Uint8)
		Expect(err).To(MatchError(bus.ErrUnsupportedAccess))
		Expect(written).To(BeEmpty())
	})

	It("should drop narrow stores to reserved offsets", func() {
		Expect(bus.Store(regs, 0x22, 0x12, bus.Uint16)).To(Succeed())
	})

	It("should panic on duplicate definitions", func() {
		Expect(func() { regs.Define(0x00, "AGAIN", nil, nil) }).To(Panic())
	})

	It("should dispatch register arrays by instance", func() {
		var cells [4]uint32
		regs.Array(0x20, 4, 4, "CELL",
			func(i int) uint32 { return cells[i] + uint32(i) },
			func(i int, v uint32) { cells[i] = v })

		regs.Write(0x128, 0x28, 0x50, bus.Uint32)
		Expect(cells[2]).To(Equal(uint32(0x50)))
		Expect(regs.Read(0x128, 0x28, bus.Uint32)).To(Equal(uint32(0x52)))
		Expect(regs.Read(0x12C, 0x2C, bus.Uint32)).To(Equal(uint32(3)))
		Expect(regs.Defined(0x2C)).To(BeTrue())
	})
})
