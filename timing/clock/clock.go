// Package clock provides the tick counter and the scheduled callback registry
// that drive every timed chipset model.
//
// A Clock counts core ticks. Bus handlers charge access latency to it, the
// host driver advances it for executed work, and peripherals schedule one-shot
// callbacks relative to it. Timing can be suspended (debugger and setup
// accesses must not perturb the model) or saved and restored (the cache fill
// measures underlying loads and then discards their cost).
package clock

import (
	"container/heap"
	"fmt"

	"github.com/go-logr/logr"
)

// Handle identifies a scheduled callback. The zero Handle is never issued.
type Handle uint64

// Statistics holds counters accumulated while timing updates are enabled.
type Statistics struct {
	// Loads is the number of bus loads charged.
	Loads uint64
	// Stores is the number of bus stores charged.
	Stores uint64
	// WaitStates is the number of ticks spent beyond the first tick of each
	// bus beat.
	WaitStates uint64
	// IdleTicks is the number of ticks added through Advance.
	IdleTicks uint64
	// CallbacksFired is the number of scheduled callbacks that ran.
	CallbacksFired uint64
}

type snapshot struct {
	ticks uint64
	stats Statistics
}

// Clock is the single-threaded timing service. It is not safe for
// concurrent use.
type Clock struct {
	ticks        uint64
	stats        Statistics
	suspendDepth int

	queue      callbackQueue
	live       map[Handle]*callback
	nextHandle Handle
	nextSeq    uint64

	log logr.Logger
}

// Option configures a Clock.
type Option func(*Clock)

// WithLogger sets the logger used for callback tracing.
func WithLogger(log logr.Logger) Option {
	return func(c *Clock) {
		c.log = log
	}
}

// WithStartTick starts the clock at the given tick instead of zero.
func WithStartTick(tick uint64) Option {
	return func(c *Clock) {
		c.ticks = tick
	}
}

// New creates a clock at tick zero with no pending callbacks.
func New(opts ...Option) *Clock {
	c := &Clock{
		live: make(map[Handle]*callback),
		log:  logr.Discard(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Now returns the current tick.
func (c *Clock) Now() uint64 {
	return c.ticks
}

// TimingUpdatesEnabled reports whether ticks currently advance.
func (c *Clock) TimingUpdatesEnabled() bool {
	return c.suspendDepth == 0
}

// Charge adds latency ticks and waitStates wait states. It does nothing while
// timing is suspended.
func (c *Clock) Charge(latency, waitStates uint64) {
	if c.suspendDepth != 0 {
		return
	}

	c.ticks += latency
	c.stats.WaitStates += waitStates
}

// CountAccess records one bus load or store in the statistics.
func (c *Clock) CountAccess(store bool) {
	if c.suspendDepth != 0 {
		return
	}

	if store {
		c.stats.Stores++
	} else {
		c.stats.Loads++
	}
}

// Advance moves the clock forward by ticks of non-bus work. It does nothing
// while timing is suspended.
func (c *Clock) Advance(ticks uint64) {
	if c.suspendDepth != 0 {
		return
	}

	c.ticks += ticks
	c.stats.IdleTicks += ticks
}

// WithSuspendedTiming runs body with tick advancement and callback firing
// frozen. The tick and statistics snapshot taken on entry is restored on every
// exit path, including a panic unwinding through body. Scopes nest.
func (c *Clock) WithSuspendedTiming(body func()) {
	saved := c.snapshot()
	c.suspendDepth++

	defer func() {
		c.suspendDepth--
		c.restore(saved)
	}()

	body()
}

// WithSavedTiming runs body with timing enabled as before and then rewinds the
// tick counter and statistics to their value on entry.
func (c *Clock) WithSavedTiming(body func()) {
	saved := c.snapshot()
	defer c.restore(saved)

	body()
}

// ScheduleRelative registers action to run once the clock reaches Now()+delay.
// A zero delay fires on the next Evaluate pass, never inline. A negative delay
// is a programming error and panics.
func (c *Clock) ScheduleRelative(delay int64, action func()) Handle {
	if delay < 0 {
		panic(fmt.Sprintf("clock: negative callback delay %d", delay))
	}

	if action == nil {
		panic("clock: nil callback action")
	}

	c.nextHandle++
	c.nextSeq++

	cb := &callback{
		deadline: c.ticks + uint64(delay),
		seq:      c.nextSeq,
		handle:   c.nextHandle,
		action:   action,
	}

	heap.Push(&c.queue, cb)
	c.live[cb.handle] = cb

	return cb.handle
}

// Cancel removes a pending callback. Canceling a fired, canceled or zero
// handle does nothing.
func (c *Clock) Cancel(h Handle) {
	cb, ok := c.live[h]
	if !ok {
		return
	}

	delete(c.live, h)
	cb.action = nil
}

// Pending reports the number of callbacks that have not fired or been
// canceled.
func (c *Clock) Pending() int {
	return len(c.live)
}

// NextDeadline returns the deadline of the earliest live callback.
func (c *Clock) NextDeadline() (uint64, bool) {
	c.dropCanceled()

	if len(c.queue) == 0 {
		return 0, false
	}

	return c.queue[0].deadline, true
}

// Evaluate fires every callback whose deadline has been reached, in deadline
// order and FIFO among equal deadlines. Callbacks scheduled while the pass runs
// wait for the next pass. Evaluate returns the number of callbacks fired and
// does nothing while timing is suspended.
func (c *Clock) Evaluate() int {
	if c.suspendDepth != 0 {
		return 0
	}

	limit := c.nextSeq
	fired := 0

	for len(c.queue) > 0 {
		top := c.queue[0]
		if top.action == nil {
			heap.Pop(&c.queue)
			continue
		}

		if top.deadline > c.ticks || top.seq > limit {
			break
		}

		heap.Pop(&c.queue)
		delete(c.live, top.handle)

		action := top.action
		top.action = nil

		c.log.V(3).Info("callback fired", "handle", top.handle, "deadline", top.deadline, "now", c.ticks)

		fired++
		c.stats.CallbacksFired++
		action()
	}

	return fired
}

// Stats returns the accumulated statistics.
func (c *Clock) Stats() Statistics {
	return c.stats
}

// ResetStats clears the statistics without touching the tick counter.
func (c *Clock) ResetStats() {
	c.stats = Statistics{}
}

// Reset returns the clock to tick zero and drops every pending callback.
func (c *Clock) Reset() {
	c.ticks = 0
	c.stats = Statistics{}
	c.suspendDepth = 0
	c.queue = nil
	c.live = make(map[Handle]*callback)
}

func (c *Clock) snapshot() snapshot {
	return snapshot{ticks: c.ticks, stats: c.stats}
}

func (c *Clock) restore(s snapshot) {
	c.ticks = s.ticks
	c.stats = s.stats
}

func (c *Clock) dropCanceled() {
	for len(c.queue) > 0 && c.queue[0].action == nil {
		heap.Pop(&c.queue)
	}
}
