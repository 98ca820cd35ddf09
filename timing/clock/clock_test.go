package clock_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/chipsim/timing/clock"
)

var _ = Describe("Clock", func() {
	var c *clock.Clock

	BeforeEach(func() {
		c = clock.New()
	})

	Describe("Charging", func() {
		It("should start at tick zero", func() {
			Expect(c.Now()).To(Equal(uint64(0)))
			Expect(c.TimingUpdatesEnabled()).To(BeTrue())
		})

		It("should add latency and wait states", func() {
			c.Charge(3, 2)
			c.Advance(5)

			Expect(c.Now()).To(Equal(uint64(8)))
			Expect(c.Stats().WaitStates).To(Equal(uint64(2)))
			Expect(c.Stats().IdleTicks).To(Equal(uint64(5)))
		})

		It("should honor a start tick", func() {
			c = clock.New(clock.WithStartTick(100))
			Expect(c.Now()).To(Equal(uint64(100)))
		})
	})

	Describe("Scheduling", func() {
		It("should fire a callback once its deadline is reached", func() {
			fired := 0
			c.ScheduleRelative(10, func() { fired++ })

			c.Advance(9)
			Expect(c.Evaluate()).To(Equal(0))
			Expect(fired).To(Equal(0))

			c.Advance(1)
			Expect(c.Evaluate()).To(Equal(1))
			Expect(fired).To(Equal(1))

			c.Advance(100)
			c.Evaluate()
			Expect(fired).To(Equal(1))
		})

		It("should fire equal deadlines in scheduling order", func() {
			var order []int
			c.ScheduleRelative(5, func() { order = append(order, 1) })
			c.ScheduleRelative(3, func() { order = append(order, 0) })
			c.ScheduleRelative(5, func() { order = append(order, 2) })

			c.Advance(5)
			c.Evaluate()

			Expect(order).To(Equal([]int{0, 1, 2}))
		})

		It("should never run a zero-delay callback inline", func() {
			fired := false
			c.ScheduleRelative(0, func() { fired = true })
			Expect(fired).To(BeFalse())

			c.Evaluate()
			Expect(fired).To(BeTrue())
		})

		It("should defer zero-delay callbacks scheduled during a pass", func() {
			var order []string
			c.ScheduleRelative(0, func() {
				order = append(order, "outer")
				c.ScheduleRelative(0, func() { order = append(order, "inner") })
			})

			Expect(c.Evaluate()).To(Equal(1))
			Expect(order).To(Equal([]string{"outer"}))

			Expect(c.Evaluate()).To(Equal(1))
			Expect(order).To(Equal([]string{"outer", "inner"}))
		})

		It("should panic on a negative delay", func() {
			Expect(func() { c.ScheduleRelative(-1, func() {}) }).To(Panic())
		})

		It("should report the earliest live deadline", func() {
			h := c.ScheduleRelative(4, func() {})
			c.ScheduleRelative(9, func() {})

			next, ok := c.NextDeadline()
			Expect(ok).To(BeTrue())
			Expect(next).To(Equal(uint64(4)))

			c.Cancel(h)
			next, ok = c.NextDeadline()
			Expect(ok).To(BeTrue())
			Expect(next).To(Equal(uint64(9)))
		})
	})

	Describe("Cancellation", func() {
		It("should stop a pending callback", func() {
			fired := false
			h := c.ScheduleRelative(2, func() { fired = true })
			c.Cancel(h)

			c.Advance(10)
			Expect(c.Evaluate()).To(Equal(0))
			Expect(fired).To(BeFalse())
			Expect(c.Pending()).To(Equal(0))
		})

		It("should be idempotent", func() {
			h := c.ScheduleRelative(2, func() {})
			c.Cancel(h)
			c.Cancel(h)
			c.Cancel(clock.Handle(0))

			Expect(c.Pending()).To(Equal(0))
		})

		It("should ignore a handle that already fired", func() {
			fired := 0
			h := c.ScheduleRelative(0, func() { fired++ })
			c.Evaluate()
			c.Cancel(h)

			Expect(fired).To(Equal(1))
		})
	})

	Describe("Suspended timing", func() {
		It("should freeze ticks and callbacks", func() {
			fired := false
			c.ScheduleRelative(0, func() { fired = true })

			c.WithSuspendedTiming(func() {
				Expect(c.TimingUpdatesEnabled()).To(BeFalse())
				c.Charge(10, 9)
				c.Advance(10)
				Expect(c.Evaluate()).To(Equal(0))
			})

			Expect(c.Now()).To(Equal(uint64(0)))
			Expect(fired).To(BeFalse())
			Expect(c.TimingUpdatesEnabled()).To(BeTrue())
		})

		It("should nest", func() {
			c.WithSuspendedTiming(func() {
				c.WithSuspendedTiming(func() {})
				Expect(c.TimingUpdatesEnabled()).To(BeFalse())
			})

			Expect(c.TimingUpdatesEnabled()).To(BeTrue())
		})

		It("should restore state when the body panics", func() {
			c.Charge(4, 0)

			Expect(func() {
				c.WithSuspendedTiming(func() {
					panic("boom")
				})
			}).To(Panic())

			Expect(c.TimingUpdatesEnabled()).To(BeTrue())
			Expect(c.Now()).To(Equal(uint64(4)))
		})
	})

	Describe("Saved timing", func() {
		It("should let the body measure ticks and then rewind them", func() {
			c.Charge(7, 0)

			var measured uint64
			c.WithSavedTiming(func() {
				start := c.Now()
				c.Charge(3, 2)
				measured = c.Now() - start
			})

			Expect(measured).To(Equal(uint64(3)))
			Expect(c.Now()).To(Equal(uint64(7)))
			Expect(c.Stats().WaitStates).To(Equal(uint64(0)))
		})
	})

	Describe("Reset", func() {
		It("should drop pending callbacks and rewind", func() {
			c.ScheduleRelative(3, func() {})
			c.Charge(5, 1)
			c.Reset()

			Expect(c.Now()).To(Equal(uint64(0)))
			Expect(c.Pending()).To(Equal(0))
			Expect(c.Stats()).To(Equal(clock.Statistics{}))
		})
	})
})
