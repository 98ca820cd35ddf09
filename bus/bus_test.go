package bus_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/timing/clock"
)

// window is a word-addressed scratch handler.
type window struct {
	words   []uint32
	lastRel uint32
	noBytes bool
}

func newWindow(size int) *window {
	return &window{words: make([]uint32, size/4)}
}

func (w *window) RangeLength() uint64 { return uint64(len(w.words) * 4) }

func (w *window) CanAccess(_, rel uint32, kind bus.AccessKind) bool {
	return !(w.noBytes && kind.IsByte())
}

func (w *window) Read(addr, rel uint32, kind bus.AccessKind) uint32 {
	w.lastRel = rel
	return bus.Extract(w.words[rel/4], addr, kind)
}

func (w *window) Write(addr, rel, value uint32, kind bus.AccessKind) {
	w.lastRel = rel
	w.words[rel/4] = bus.Insert(w.words[rel/4], value, addr, kind)
}

func (w *window) PhysicalAddress(addr uint32) uint32 { return addr }

var _ = Describe("Bus", func() {
	var (
		b     *bus.Bus
		low   *window
		high  *window
		other *window
	)

	BeforeEach(func() {
		b = bus.New()
		low = newWindow(0x100)
		high = newWindow(0x100)
		other = newWindow(0x200)

		Expect(b.Attach(low, 0x0000)).To(Succeed())
		Expect(b.Attach(high, 0x1000)).To(Succeed())
	})

	Describe("Attach", func() {
		It("should reject overlapping ranges", func() {
			err := b.Attach(other, 0x0080)
			Expect(errors.Is(err, bus.ErrOverlap)).To(BeTrue())
		})

		It("should reject ranges past the end of the bus", func() {
			small := bus.New(bus.WithRange(0x1000))
			err := small.Attach(other, 0x0F00)
			Expect(errors.Is(err, bus.ErrOutOfRange)).To(BeTrue())
		})
	})

	Describe("Routing", func() {
		It("should pass relative addresses to the handler", func() {
			Expect(b.Store(0x1010, 0xCAFEF00D, bus.Uint32)).To(Succeed())
			Expect(high.lastRel).To(Equal(uint32(0x10)))

			v, err := b.Load(0x1010, bus.Uint32)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(uint32(0xCAFEF00D)))
		})

		It("should return an unmapped fault as an error", func() {
			_, err := b.Load(0x8000, bus.Uint32)
			Expect(errors.Is(err, bus.ErrUnmapped)).To(BeTrue())

			var f *bus.Fault
			Expect(errors.As(err, &f)).To(BeTrue())
			Expect(f.Address).To(Equal(uint32(0x8000)))
		})

		It("should fault on an access kind the handler refuses", func() {
			high.noBytes = true
			err := b.Store(0x1000, 1, bus.Uint8)
			Expect(errors.Is(err, bus.ErrUnsupportedAccess)).To(BeTrue())
		})

		It("should route through nested buses", func() {
			inner := bus.New(bus.WithRange(0x1000))
			Expect(inner.Attach(other, 0x200)).To(Succeed())
			Expect(b.Attach(inner, 0x4000)).To(Succeed())

			Expect(b.Store(0x4204, 7, bus.Uint32)).To(Succeed())
			Expect(other.lastRel).To(Equal(uint32(0x4)))
			Expect(b.FindAt(0x4200)).To(BeIdenticalTo(other))
		})
	})

	Describe("LinkAt", func() {
		It("should replace the mapping at the same base", func() {
			b.LinkAt(other, 0x0000)

			Expect(b.FindAt(0x0000)).To(BeIdenticalTo(other))
			Expect(b.Store(0x0180, 9, bus.Uint32)).To(Succeed())
			Expect(other.words[0x180/4]).To(Equal(uint32(9)))
		})
	})

	Describe("Sub-word access", func() {
		It("should extract and sign-extend lanes", func() {
			Expect(bus.Extract(0x80FF7F01, 0x2, bus.Uint16)).To(Equal(uint32(0x80FF)))
			Expect(bus.Extract(0x80FF7F01, 0x2, bus.Sint16)).To(Equal(uint32(0xFFFF80FF)))
			Expect(bus.Extract(0x80FF7F01, 0x1, bus.Sint8)).To(Equal(uint32(0x7F)))
			Expect(bus.Extract(0x80FF7F01, 0x3, bus.Sint8)).To(Equal(uint32(0xFFFFFF80)))
		})

		It("should insert lanes without touching the rest of the word", func() {
			Expect(bus.Insert(0x11223344, 0xAB, 0x1, bus.Uint8)).To(Equal(uint32(0x1122AB44)))
			Expect(bus.Insert(0x11223344, 0xBEEF, 0x2, bus.Uint16)).To(Equal(uint32(0xBEEF3344)))
			Expect(bus.Insert(0x11223344, 0xBEEF, 0x0, bus.Uint32)).To(Equal(uint32(0xBEEF)))
		})
	})

	Describe("Charge", func() {
		It("should charge one beat per range width", func() {
			c := clock.New()

			bus.Charge(c, 3, bus.Uint32, 16)
			Expect(c.Now()).To(Equal(uint64(6)))
			Expect(c.Stats().WaitStates).To(Equal(uint64(4)))

			bus.Charge(c, 3, bus.Uint8, 16)
			Expect(c.Now()).To(Equal(uint64(9)))
		})

		It("should charge nothing while timing is suspended", func() {
			c := clock.New()
			c.WithSuspendedTiming(func() {
				bus.Charge(c, 3, bus.Uint32, 32)
			})
			Expect(c.Now()).To(Equal(uint64(0)))
		})
	})
})
