// Package core provides a trace-driven stand-in for the CPU core.
// It replays recorded chipset accesses against a Chip and accounts for the
// interrupts the chip raises while doing so.
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sarchlab/chipsim/chipset"
	"github.com/sarchlab/chipsim/loader"
	"github.com/sarchlab/chipsim/timing/latency"
)

// ErrMismatch reports a trace check that the chip did not satisfy.
var ErrMismatch = errors.New("trace mismatch")

// Line names a CPU interrupt input.
type Line int

// Interrupt inputs.
const (
	IRQ Line = iota
	FIQ
)

func (l Line) String() string {
	if l == FIQ {
		return "fiq"
	}

	return "irq"
}

// Event is a change of an interrupt input.
type Event struct {
	Tick     uint64
	Line     Line
	Asserted bool
}

// Stats holds replay statistics for the core.
type Stats struct {
	// Ops is the number of trace operations executed.
	Ops uint64
	// Loads and Stores count the accesses issued.
	Loads  uint64
	Stores uint64
	// Checks is the number of expectations verified.
	Checks uint64
	// Ticks is the clock at the end of the replay.
	Ticks uint64
	// IdleTicks were skipped while waiting for an interrupt.
	IdleTicks uint64
	// IRQAssertions and FIQAssertions count rising edges of each input.
	IRQAssertions uint64
	FIQAssertions uint64
}

// Core replays access traces against a chipset.
type Core struct {
	// Chip is the chipset the core drives.
	Chip *chipset.Chip

	log      logr.Logger
	chipOpts []chipset.Option
	stats    Stats
	events   []Event
	irq, fiq bool
}

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the logger of the core and of the chip it builds.
func WithLogger(log logr.Logger) Option {
	return func(c *Core) {
		c.log = log
	}
}

// WithChipOptions passes extra options to chipset.New.
func WithChipOptions(opts ...chipset.Option) Option {
	return func(c *Core) {
		c.chipOpts = append(c.chipOpts, opts...)
	}
}

// NewCore builds the chipset config describes and wires its interrupt
// outputs to the core.
func NewCore(config *latency.Config, opts ...Option) (*Core, error) {
	c := &Core{log: logr.Discard()}

	for _, opt := range opts {
		opt(c)
	}

	chipOpts := append([]chipset.Option{
		chipset.WithLogger(c.log),
		chipset.WithCPU(c),
	}, c.chipOpts...)

	chip, err := chipset.New(config, chipOpts...)
	if err != nil {
		return nil, err
	}
	c.Chip = chip

	return c, nil
}

// SetIrqStatus implements intc.CPU.
func (c *Core) SetIrqStatus(asserted bool) {
	c.record(IRQ, &c.irq, asserted)
}

// SetFiqStatus implements intc.CPU.
func (c *Core) SetFiqStatus(asserted bool) {
	c.record(FIQ, &c.fiq, asserted)
}

func (c *Core) record(line Line, state *bool, asserted bool) {
	if *state == asserted {
		return
	}
	*state = asserted

	if asserted {
		if line == IRQ {
			c.stats.IRQAssertions++
		} else {
			c.stats.FIQAssertions++
		}
	}

	var tick uint64
	if c.Chip != nil {
		tick = c.Chip.Clock().Now()
	}

	c.events = append(c.events, Event{Tick: tick, Line: line, Asserted: asserted})
	c.log.V(1).Info("interrupt input changed", "line", line, "asserted", asserted, "tick", tick)
}

// Events returns the interrupt input changes seen so far.
func (c *Core) Events() []Event {
	return c.events
}

// Stats returns performance statistics for the core.
func (c *Core) Stats() Stats {
	s := c.stats
	s.Ticks = c.Chip.Clock().Now()
	s.IdleTicks = c.Chip.Stats().IdleTicks

	return s
}

// RunTrace replays every operation of t. A trace that names a profile only
// runs on a chip of that profile.
func (c *Core) RunTrace(ctx context.Context, t *loader.Trace) error {
	if t.Profile != "" && t.Profile != c.Chip.Profile() {
		return fmt.Errorf("%w: trace recorded on %s, chip is %s", ErrMismatch, t.Profile, c.Chip.Profile())
	}

	return c.Run(ctx, t.Ops)
}

// Run executes ops in order and stops at the first failure.
func (c *Core) Run(ctx context.Context, ops []loader.Op) error {
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.Step(op); err != nil {
			return fmt.Errorf("op %d (%s): %w", i, op.Op, err)
		}
	}

	return nil
}

// Step executes one operation. Loads and stores are followed by an
// evaluation of the callbacks they made due, as an instruction boundary
// would be.
func (c *Core) Step(op loader.Op) error {
	c.stats.Ops++

	switch op.Op {
	case loader.OpLoad:
		return c.load(op)
	case loader.OpStore:
		return c.store(op)
	case loader.OpAdvance:
		c.Chip.Advance(op.Ticks)
		return nil
	case loader.OpRun:
		return c.RunFor(op.Ticks)
	case loader.OpEvaluate:
		_, err := c.Chip.Evaluate()
		return err
	case loader.OpIdle:
		return c.Chip.Idle()
	case loader.OpExpect:
		return c.expect(op)
	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
}

func (c *Core) load(op loader.Op) error {
	kind, err := op.AccessKind()
	if err != nil {
		return err
	}

	c.stats.Loads++

	v, err := c.Chip.Load(op.Addr, kind)
	if err != nil {
		return err
	}

	if op.Expect != nil {
		c.stats.Checks++
		if v != *op.Expect {
			return fmt.Errorf("%w: load 0x%08X returned 0x%08X, want 0x%08X", ErrMismatch, op.Addr, v, *op.Expect)
		}
	}

	_, err = c.Chip.Evaluate()

	return err
}

func (c *Core) store(op loader.Op) error {
	kind, err := op.AccessKind()
	if err != nil {
		return err
	}

	c.stats.Stores++

	if err := c.Chip.Store(op.Addr, op.Value, kind); err != nil {
		return err
	}

	_, err = c.Chip.Evaluate()

	return err
}

func (c *Core) expect(op loader.Op) error {
	c.stats.Checks++

	if op.IRQ != nil && *op.IRQ != c.Chip.IRQ() {
		return fmt.Errorf("%w: irq is %t at tick %d", ErrMismatch, c.Chip.IRQ(), c.Chip.Clock().Now())
	}

	if op.FIQ != nil && *op.FIQ != c.Chip.FIQ() {
		return fmt.Errorf("%w: fiq is %t at tick %d", ErrMismatch, c.Chip.FIQ(), c.Chip.Clock().Now())
	}

	return nil
}

// RunFor moves the clock forward by ticks, firing every callback at its
// own deadline.
func (c *Core) RunFor(ticks uint64) error {
	clk := c.Chip.Clock()
	until := clk.Now() + ticks

	for {
		if _, err := c.Chip.Evaluate(); err != nil {
			return err
		}

		d, ok := clk.NextDeadline()
		if !ok || d > until {
			break
		}

		if now := clk.Now(); d > now {
			c.Chip.Advance(d - now)
		}
	}

	if now := clk.Now(); now < until {
		c.Chip.Advance(until - now)
	}

	_, err := c.Chip.Evaluate()

	return err
}

// Close releases the chip.
func (c *Core) Close() {
	c.Chip.Close()
}
