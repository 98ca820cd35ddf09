package periph_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/chipsim/periph"
)

var _ = Describe("Stepper", func() {
	var s periph.Stepper

	BeforeEach(func() {
		s = periph.Stepper{}
	})

	It("should run a step once when not re-entered", func() {
		n := 0
		s.Run(func() { n++ })
		Expect(n).To(Equal(1))
		Expect(s.Stepping()).To(BeFalse())
	})

	It("should turn re-entry into a follow-up pass", func() {
		var trace []string
		depth := 0

		var step func()
		step = func() {
			depth++
			trace = append(trace, "enter")
			if len(trace) < 5 {
				s.Run(step)
				s.Run(step)
			}
			trace = append(trace, "exit")
			Expect(depth).To(Equal(1))
			depth--
		}

		s.Run(step)
		Expect(trace).To(Equal([]string{"enter", "exit", "enter", "exit", "enter", "exit"}))
	})

	It("should recover its guard after a panic", func() {
		Expect(func() { s.Run(func() { panic("boom") }) }).To(Panic())
		Expect(s.Stepping()).To(BeFalse())

		ran := false
		s.Run(func() { ran = true })
		Expect(ran).To(BeTrue())
	})

	It("should report every clock running by default", func() {
		Expect(periph.AlwaysOn{}.ClockEnabled(0xFFFF)).To(BeTrue())
	})
})
