// Package chipset assembles the peripheral models of a chipset profile into
// one address space driven by one clock.
//
// A Chip is what a CPU core model talks to: it loads and stores through the
// top of the address space (the cache overlay when the profile has one),
// advances the clock for executed work, evaluates due peripheral callbacks
// and watches the IRQ and FIQ lines the interrupt controller drives.
package chipset

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/hosting"
	"github.com/sarchlab/chipsim/intc"
	"github.com/sarchlab/chipsim/memory"
	"github.com/sarchlab/chipsim/periph/usart"
	"github.com/sarchlab/chipsim/timing/cache"
	"github.com/sarchlab/chipsim/timing/clock"
	"github.com/sarchlab/chipsim/timing/latency"
)

// ErrNoPendingEvent is returned by Idle when the core waits for an interrupt
// that nothing is scheduled to raise.
var ErrNoPendingEvent = errors.New("waiting for an interrupt with no pending event")

// Statistics holds the counters of a chip.
type Statistics struct {
	Ticks         uint64
	Clock         clock.Statistics
	Cache         cache.Statistics
	IRQAssertions uint64
	FIQAssertions uint64
	IdleTicks     uint64
	// Pending is the number of callbacks still scheduled.
	Pending int
}

// Chip is an assembled chipset profile.
type Chip struct {
	profile  string
	config   *latency.Config
	table    *latency.Table
	clock    *clock.Clock
	phys     *bus.Bus
	top      bus.Handler
	cache    *cache.Cache
	services *hosting.Registry
	cpu      intc.CPU
	log      logr.Logger

	ram    *memory.Handler
	flash  *memory.Handler
	usarts []*usart.USART
	parts  map[string]bus.Handler

	irq     bool
	fiq     bool
	waiting bool
	closed  bool

	irqAssertions uint64
	fiqAssertions uint64
	idleTicks     uint64
}

// Option configures a Chip.
type Option func(*Chip)

// WithLogger sets the logger handed to every model of the chip.
func WithLogger(log logr.Logger) Option {
	return func(c *Chip) {
		c.log = log
	}
}

// WithCPU forwards IRQ and FIQ changes to cpu.
func WithCPU(cpu intc.CPU) Option {
	return func(c *Chip) {
		c.cpu = cpu
	}
}

// WithServices makes the chip look up host services in r and publish its
// serial ports there. By default the chip gets a registry of its own.
func WithServices(r *hosting.Registry) Option {
	return func(c *Chip) {
		c.services = r
	}
}

// WithClock drives the chip from clk instead of a fresh clock.
func WithClock(clk *clock.Clock) Option {
	return func(c *Chip) {
		c.clock = clk
	}
}

// New validates config and assembles the profile it names.
func New(config *latency.Config, opts ...Option) (*Chip, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chipset config: %w", err)
	}

	c := &Chip{
		profile: config.Profile,
		config:  config,
		table:   latency.NewTableWithConfig(config),
		log:     logr.Discard(),
		parts:   make(map[string]bus.Handler),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.clock == nil {
		c.clock = clock.New(clock.WithLogger(c.log.WithName("clock")))
	}
	if c.services == nil {
		c.services = hosting.NewRegistry()
	}
	if _, ok := c.services.Lookup(hosting.ServiceOutputSink); !ok {
		c.services.Register(hosting.ServiceOutputSink, hosting.NewLogSink(c.log.WithName("trace").V(2)))
	}

	c.phys = bus.New(bus.WithLogger(c.log.WithName("bus")))

	if err := c.attachMemories(); err != nil {
		return nil, err
	}

	if err := c.attachCache(); err != nil {
		return nil, err
	}

	var err error
	switch config.Profile {
	case latency.ProfileMM9691LP, "":
		err = c.buildMM9691LP()
	case latency.ProfilePXA27x:
		err = c.buildPXA27x()
	default:
		err = fmt.Errorf("unknown chipset profile %q", config.Profile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build %s: %w", config.Profile, err)
	}

	c.phys.Connect(c.phys)

	for _, u := range c.usarts {
		c.services.Register(hosting.SerialServiceName(u.Port()), u.Bridge())
	}

	c.log.Info("chipset assembled", "profile", c.profile, "handlers", len(c.phys.Mappings()))

	return c, nil
}

func (c *Chip) attachMemories() error {
	detour, _ := hosting.Get[hosting.DetourHook](c.services, hosting.ServiceDetourHook)

	var memOpts []memory.Option
	if detour != nil {
		memOpts = append(memOpts, memory.WithDetour(detour))
	}

	if r, ok := c.table.Region(latency.RegionRAM); ok {
		c.ram = memory.NewRAM(r.Size, c.clock, c.table.Latency(r.Name), memOpts...)
		if err := c.attach(r.Name, c.ram, r.Base); err != nil {
			return err
		}
	}

	if r, ok := c.table.Region(latency.RegionFlash); ok {
		c.flash = memory.New(r.Size, c.clock, c.table.Latency(r.Name), append(memOpts, memory.WithFill(0xFFFFFFFF))...)
		if err := c.attach(r.Name, c.flash, r.Base); err != nil {
			return err
		}
	}

	return nil
}

func (c *Chip) attachCache() error {
	c.top = c.phys

	if !c.config.Cache.Present {
		return nil
	}

	opts := []cache.Option{
		cache.WithLogger(c.log.WithName("cache")),
		cache.WithStoreLatency(c.table.Latency(latency.RegionRAM)),
	}
	if detour, ok := hosting.Get[hosting.DetourHook](c.services, hosting.ServiceDetourHook); ok {
		opts = append(opts, cache.WithDetour(detour))
	}

	cc, err := cache.New(cache.Config{
		SetsLog2: c.config.Cache.SetsLog2,
		Policy:   c.config.Cache.Policy,
	}, c.phys, c.clock, opts...)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}

	c.cache = cc
	c.top = cc

	return nil
}

// attach maps h at base and records it under name.
func (c *Chip) attach(name string, h bus.Handler, base uint32) error {
	if err := c.phys.Attach(h, base); err != nil {
		return fmt.Errorf("failed to attach %s: %w", name, err)
	}

	if _, dup := c.parts[name]; !dup {
		c.parts[name] = h
	}

	return nil
}

// Profile returns the profile name.
func (c *Chip) Profile() string {
	return c.profile
}

// Config returns the profile configuration.
func (c *Chip) Config() *latency.Config {
	return c.config
}

// Clock returns the chip clock.
func (c *Chip) Clock() *clock.Clock {
	return c.clock
}

// Bus returns the physical address space, below the cache.
func (c *Chip) Bus() *bus.Bus {
	return c.phys
}

// Top returns the handler CPU accesses enter through.
func (c *Chip) Top() bus.Handler {
	return c.top
}

// Cache returns the cache overlay, or nil on profiles without one.
func (c *Chip) Cache() *cache.Cache {
	return c.cache
}

// Services returns the host service registry.
func (c *Chip) Services() *hosting.Registry {
	return c.services
}

// RAM returns the RAM handler.
func (c *Chip) RAM() *memory.Handler {
	return c.ram
}

// Flash returns the flash handler, or nil.
func (c *Chip) Flash() *memory.Handler {
	return c.flash
}

// USART returns serial port n, or nil.
func (c *Chip) USART(n int) *usart.USART {
	for _, u := range c.usarts {
		if u.Port() == n {
			return u
		}
	}

	return nil
}

// Part returns the handler attached under name, e.g. "gpio".
func (c *Chip) Part(name string) (bus.Handler, bool) {
	h, ok := c.parts[name]
	return h, ok
}

// Load reads addr as the CPU core would.
func (c *Chip) Load(addr uint32, kind bus.AccessKind) (uint32, error) {
	c.clock.CountAccess(false)

	v, err := bus.Load(c.top, addr, kind)
	if err != nil {
		return 0, fmt.Errorf("load %s at 0x%08X: %w", kind, addr, err)
	}

	return v, nil
}

// Store writes addr as the CPU core would.
func (c *Chip) Store(addr, value uint32, kind bus.AccessKind) error {
	c.clock.CountAccess(true)

	if err := bus.Store(c.top, addr, value, kind); err != nil {
		return fmt.Errorf("store %s at 0x%08X: %w", kind, addr, err)
	}

	return nil
}

// WriteImage copies data to addr with timing suspended, as a debugger
// download would.
func (c *Chip) WriteImage(addr uint32, data []byte) error {
	var err error

	c.clock.WithSuspendedTiming(func() {
		err = bus.Guard(func() {
			i := 0
			for ; i+4 <= len(data); i += 4 {
				word := uint32(data[i]) | uint32(data[i+1])<<8 | uint32(data[i+2])<<16 | uint32(data[i+3])<<24
				a := addr + uint32(i)
				c.top.Write(a, a, word, bus.Uint32)
			}

			for ; i < len(data); i++ {
				a := addr + uint32(i)
				c.top.Write(a, a, uint32(data[i]), bus.Uint8)
			}
		})
	})

	if err != nil {
		return fmt.Errorf("failed to write image at 0x%08X: %w", addr, err)
	}

	return nil
}

// Advance moves the clock forward by ticks of executed work.
func (c *Chip) Advance(ticks uint64) {
	c.clock.Advance(ticks)
}

// Evaluate hands host serial input to the ports and runs every due callback.
// A fault raised by a callback ends the pass and is returned.
func (c *Chip) Evaluate() (int, error) {
	for _, u := range c.usarts {
		u.PollHost()
	}

	var fired int
	err := bus.Guard(func() {
		fired = c.clock.Evaluate()
	})
	if err != nil {
		return fired, fmt.Errorf("peripheral callback at tick %d: %w", c.clock.Now(), err)
	}

	return fired, nil
}

// WaitForInterrupt implements remap.Sleeper.
func (c *Chip) WaitForInterrupt() {
	c.waiting = true
}

// Waiting reports whether the core sleeps until an interrupt.
func (c *Chip) Waiting() bool {
	return c.waiting
}

// Idle skips the clock from deadline to deadline until an interrupt is
// pending, then wakes the core.
func (c *Chip) Idle() error {
	for !c.irq && !c.fiq {
		if _, err := c.Evaluate(); err != nil {
			return err
		}
		if c.irq || c.fiq {
			break
		}

		d, ok := c.clock.NextDeadline()
		if !ok {
			return ErrNoPendingEvent
		}

		if now := c.clock.Now(); d > now {
			c.idleTicks += d - now
			c.clock.Advance(d - now)
		}
	}

	c.waiting = false

	return nil
}

// SetIrqStatus implements intc.CPU.
func (c *Chip) SetIrqStatus(asserted bool) {
	if asserted && !c.irq {
		c.irqAssertions++
	}
	c.irq = asserted

	if c.cpu != nil {
		c.cpu.SetIrqStatus(asserted)
	}
}

// SetFiqStatus implements intc.CPU.
func (c *Chip) SetFiqStatus(asserted bool) {
	if asserted && !c.fiq {
		c.fiqAssertions++
	}
	c.fiq = asserted

	if c.cpu != nil {
		c.cpu.SetFiqStatus(asserted)
	}
}

// IRQ reports the IRQ line.
func (c *Chip) IRQ() bool {
	return c.irq
}

// FIQ reports the FIQ line.
func (c *Chip) FIQ() bool {
	return c.fiq
}

// Stats returns the chip counters.
func (c *Chip) Stats() Statistics {
	s := Statistics{
		Ticks:         c.clock.Now(),
		Clock:         c.clock.Stats(),
		IRQAssertions: c.irqAssertions,
		FIQAssertions: c.fiqAssertions,
		IdleTicks:     c.idleTicks,
		Pending:       c.clock.Pending(),
	}

	if c.cache != nil {
		s.Cache = c.cache.Stats()
	}

	return s
}

// Close shuts the host bridges down and withdraws them from the registry.
func (c *Chip) Close() {
	if c.closed {
		return
	}
	c.closed = true

	c.phys.Disconnect()

	for _, u := range c.usarts {
		c.services.Unregister(hosting.SerialServiceName(u.Port()))
	}

	c.log.V(1).Info("chipset closed", "profile", c.profile)
}
