package stub_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/periph"
	"github.com/sarchlab/chipsim/periph/stub"
	"github.com/sarchlab/chipsim/timing/clock"
)

var _ = Describe("Stub", func() {
	var (
		clk  *clock.Clock
		root *bus.Bus
	)

	BeforeEach(func() {
		clk = clock.New()
		root = bus.New()
	})

	It("should keep written words in storage blocks", func() {
		blocks, err := stub.Attach(root, stub.MM9691LP, clk, periph.DefaultLatency)
		Expect(err).NotTo(HaveOccurred())
		Expect(blocks).To(HaveLen(len(stub.MM9691LP)))

		Expect(root.Store(0x30020104, 0xCAFEF00D, bus.Uint32)).To(Succeed())
		Expect(root.Load(0x30020104, bus.Uint32)).To(Equal(uint32(0xCAFEF00D)))
		Expect(root.Load(0x30020106, bus.Uint16)).To(Equal(uint32(0xCAFE)))

		Expect(root.Store(0x30020105, 0x11, bus.Uint8)).To(Succeed())
		Expect(root.Load(0x30020104, bus.Uint32)).To(Equal(uint32(0xCAFE110D)))
	})

	It("should answer at the alias base", func() {
		_, err := stub.Attach(root, stub.MM9691LP, clk, periph.DefaultLatency)
		Expect(err).NotTo(HaveOccurred())

		Expect(root.Store(0x30010008, 0x3000, bus.Uint32)).To(Succeed())
		Expect(root.Load(0xB0010008, bus.Uint32)).To(Equal(uint32(0x3000)))
	})

	It("should read zero from read-zero registers", func() {
		_, err := stub.Attach(root, stub.MM9691LP, clk, periph.DefaultLatency)
		Expect(err).NotTo(HaveOccurred())

		Expect(root.Store(0x30000008, 1, bus.Uint32)).To(Succeed())
		Expect(root.Load(0x30000008, bus.Uint32)).To(BeZero())
	})

	It("should drop writes to zero blocks", func() {
		blocks, err := stub.Attach(root, stub.PXA27x, clk, periph.DefaultLatency)
		Expect(err).NotTo(HaveOccurred())

		Expect(root.Store(0x40100000, 0x41, bus.Uint32)).To(Succeed())
		Expect(root.Load(0x40100000, bus.Uint32)).To(BeZero())

		reads, writes := blocks[1].Accesses()
		Expect(blocks[1].Name()).To(Equal("FFUART"))
		Expect(reads).To(Equal(uint64(1)))
		Expect(writes).To(Equal(uint64(1)))
	})

	It("should start from the reset values and charge the peripheral latency", func() {
		b := stub.New(stub.Descriptor{
			Name:   "TEST",
			Length: 0x10,
			Reset:  map[uint32]uint32{0x4: 0x55},
		}, clk, periph.DefaultLatency)

		Expect(b.Read(4, 4, bus.Uint32)).To(Equal(uint32(0x55)))
		b.Write(8, 8, 1, bus.Uint32)
		Expect(clk.Now()).To(Equal(uint64(3)))

		b.Reset()
		Expect(b.Read(8, 8, bus.Uint32)).To(BeZero())
	})

	It("should reject overlapping descriptors", func() {
		descs := []stub.Descriptor{
			{Name: "A", Base: 0x1000, Length: 0x100},
			{Name: "B", Base: 0x1080, Length: 0x100},
		}

		_, err := stub.Attach(root, descs, clk, periph.DefaultLatency)
		Expect(err).To(MatchError(bus.ErrOverlap))
	})
})
