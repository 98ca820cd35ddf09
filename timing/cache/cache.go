// Package cache models the chip's unified write-through cache as an overlay
// on the address-space bus.
//
// The cache answers the cacheable alias of every address (bit 31 set) and
// forwards everything else to the bus below it unchanged. It never changes
// the data a program observes; it only changes how long accesses take. Miss
// latency is measured, not configured: the line fill issues real loads
// through the root handler under saved timing and records how long each took.
package cache

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/hosting"
	"github.com/sarchlab/chipsim/memory"
)

// Address aliasing bits.
const (
	// CacheableMask selects the cached view of an address.
	CacheableMask uint32 = 0x80000000
	// FlushMask selects the flush view while flush mode is on.
	FlushMask uint32 = 0x40000000
)

// Fixed geometry.
const (
	// Ways is the associativity.
	Ways = 4
	// LineWordsLog2 is log2 of the words per line.
	LineWordsLog2 = 2
	// LineWords is the number of 32-bit words per line.
	LineWords = 1 << LineWordsLog2

	wordLog2   = 2
	invalidTag = 0xFFFFFFFF
)

// Config holds the cache parameters that vary between profiles.
type Config struct {
	// SetsLog2 is log2 of the set count. 8 gives 16KB, 7 gives 8KB.
	SetsLog2 int
	// Policy is the eviction policy name.
	Policy string
}

// DefaultConfig returns the 16KB pseudo-LRU configuration.
func DefaultConfig() Config {
	return Config{SetsLog2: 8, Policy: PseudoLRUName}
}

// Size returns the data capacity in bytes.
func (c Config) Size() int {
	return Ways * LineWords * 4 << c.SetsLog2
}

// Clock is the timing service the cache observes.
type Clock interface {
	bus.Ticker
	WithSavedTiming(body func())
	WithSuspendedTiming(body func())
}

// Statistics holds cache performance statistics.
type Statistics struct {
	Reads     uint64
	Writes    uint64
	Hits      uint64
	Misses    uint64
	Fills     uint64
	Evictions uint64
	Flushes   uint64
}

// Cache is a set-associative, write-through, read-allocate cache.
type Cache struct {
	config Config
	inner  bus.Handler
	root   bus.Handler
	clock  Clock
	policy Policy
	detour hosting.DetourHook
	store  bus.Latency
	log    logr.Logger

	enabled       bool
	flushEnabled  bool
	resettingTags bool

	setMask     uint32
	waySizeLog2 int
	waySizeMask uint32

	tags  []uint32
	lru   []uint32
	data  []uint32
	ready []uint64

	lastBusActivity uint64

	stats Statistics
}

// Option configures a Cache.
type Option func(*Cache)

// WithRoot sets the handler line fills load through. It defaults to the cache
// itself, which forwards uncached addresses to the inner bus.
func WithRoot(root bus.Handler) Option {
	return func(c *Cache) {
		c.root = root
	}
}

// WithDetour installs the hook consulted when a non-fetch read returns the
// detour opcode.
func WithDetour(d hosting.DetourHook) Option {
	return func(c *Cache) {
		c.detour = d
	}
}

// WithStoreLatency sets the cost of writes absorbed during tag reset.
func WithStoreLatency(l bus.Latency) Option {
	return func(c *Cache) {
		c.store = l
	}
}

// WithLogger sets the logger used for eviction tracing.
func WithLogger(log logr.Logger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

// New creates a disabled cache in front of inner.
func New(config Config, inner bus.Handler, clock Clock, opts ...Option) (*Cache, error) {
	if config.SetsLog2 < 1 || config.SetsLog2 > 12 {
		return nil, fmt.Errorf("cache sets_log2 %d out of range", config.SetsLog2)
	}

	policy, err := NewPolicy(config.Policy)
	if err != nil {
		return nil, err
	}

	sets := 1 << config.SetsLog2

	c := &Cache{
		config:      config,
		inner:       inner,
		clock:       clock,
		policy:      policy,
		store:       bus.Latency{Width: 32, Read: 1, Write: 1},
		log:         logr.Discard(),
		setMask:     uint32(sets - 1),
		waySizeLog2: config.SetsLog2 + LineWordsLog2,
		tags:        make([]uint32, sets*Ways),
		lru:         make([]uint32, sets),
		data:        make([]uint32, sets*Ways*LineWords),
		ready:       make([]uint64, sets*Ways*LineWords),
	}
	c.waySizeMask = 1<<c.waySizeLog2 - 1
	c.root = c

	for _, opt := range opts {
		opt(c)
	}

	c.ResetCache()

	return c, nil
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Policy returns the eviction policy.
func (c *Cache) Policy() Policy {
	return c.policy
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// ResetStats clears cache statistics.
func (c *Cache) ResetStats() {
	c.stats = Statistics{}
}

// Enabled reports whether cacheable accesses go through the cache.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// SetEnabled turns the cache on or off. Contents survive.
func (c *Cache) SetEnabled(on bool) {
	c.enabled = on
}

// FlushEnabled reports whether flush-alias accesses invalidate lines.
func (c *Cache) FlushEnabled() bool {
	return c.flushEnabled
}

// SetFlushEnabled turns flush mode on or off.
func (c *Cache) SetFlushEnabled(on bool) {
	c.flushEnabled = on
}

// ResettingTags reports whether tag-reset mode is active.
func (c *Cache) ResettingTags() bool {
	return c.resettingTags
}

// SetResettingTags enters or leaves tag-reset mode. Entering it invalidates
// every line and clears recency and memo state.
func (c *Cache) SetResettingTags(on bool) {
	if on && !c.resettingTags {
		c.ResetCache()
	}
	c.resettingTags = on
}

// ResetCache invalidates every line.
func (c *Cache) ResetCache() {
	for i := range c.tags {
		c.tags[i] = invalidTag
	}
	for i := range c.lru {
		c.lru[i] = 0
	}
	for i := range c.data {
		c.data[i] = 0
		c.ready[i] = 0
	}
	c.policy.Reset()
}

// Probe reports the way holding addr without touching recency or timing.
func (c *Cache) Probe(addr uint32) (way int, hit bool) {
	wordAddr := (addr | CacheableMask) >> wordLog2
	set, tag := c.decompose(wordAddr)

	for way := 0; way < Ways; way++ {
		if c.tags[int(set)*Ways+way] == tag {
			return way, true
		}
	}

	return 0, false
}

// RangeLength implements bus.Handler.
func (c *Cache) RangeLength() uint64 {
	return 1 << 32
}

// CanAccess implements bus.Handler.
func (c *Cache) CanAccess(addr, _ uint32, kind bus.AccessKind) bool {
	uncached := UncacheableAddress(addr)
	return c.inner.CanAccess(uncached, uncached, kind)
}

// PhysicalAddress implements bus.Handler.
func (c *Cache) PhysicalAddress(addr uint32) uint32 {
	return UncacheableAddress(addr)
}

// Read implements bus.Handler.
func (c *Cache) Read(addr, _ uint32, kind bus.AccessKind) uint32 {
	uncached := UncacheableAddress(addr)

	if c.clock.TimingUpdatesEnabled() && c.enabled && uncached != addr {
		if c.flushEnabled && addr&FlushMask != 0 {
			return 0
		}

		c.stats.Reads++

		latency, value := c.lookup(addr, true)

		if kind != bus.Fetch {
			value = c.applyDetour(addr, uncached, value)
		}

		bus.Charge(c.clock, latency, bus.Uint32, 32)

		return bus.Extract(value, addr, kind)
	}

	value := c.inner.Read(uncached, uncached, kind)

	if kind != bus.Fetch {
		value = c.applyDetour(addr, uncached, value)
	}

	return value
}

// Write implements bus.Handler. Writes always reach the backing store.
func (c *Cache) Write(addr, _ uint32, value uint32, kind bus.AccessKind) {
	uncached := UncacheableAddress(addr)

	if c.clock.TimingUpdatesEnabled() {
		if c.resettingTags && kind.IsByte() {
			c.store.ChargeStore(c.clock, kind)
			return
		}

		if c.enabled && uncached != addr {
			if c.flushEnabled && addr&FlushMask != 0 {
				c.flushAddress(addr)
				return
			}

			c.stats.Writes++

			latency, _ := c.lookup(addr, false)

			c.clock.WithSuspendedTiming(func() {
				c.updateValue(addr, value, kind)
				c.inner.Write(uncached, uncached, value, kind)
			})

			bus.Charge(c.clock, latency, bus.Uint32, 32)

			return
		}
	}

	c.updateValue(CacheableAddress(uncached), value, kind)
	c.inner.Write(uncached, uncached, value, kind)
}

// lookup returns the latency of a cacheable word access and the word. With
// allocate set, a miss claims a way and fills the line starting at the
// requested word; otherwise the miss only measures one word.
func (c *Cache) lookup(addr uint32, allocate bool) (latency uint64, result uint32) {
	addr &^= 3

	wordAddr := addr >> wordLog2
	set, tag := c.decompose(wordAddr)
	base := int(set) * Ways
	now := c.clock.Now()

	for way := 0; way < Ways; way++ {
		if c.tags[base+way] != tag {
			continue
		}

		c.stats.Hits++

		i := c.slot(wordAddr, way)
		c.policy.Update(&c.lru[set], way)

		if c.ready[i] <= now {
			return 1, c.data[i]
		}

		return c.ready[i] - now, c.data[i]
	}

	c.stats.Misses++

	if !allocate {
		c.clock.WithSavedTiming(func() {
			start := c.clock.Now()
			result = c.root.Read(UncacheableAddress(addr), UncacheableAddress(addr), bus.Uint32)
			latency = c.clock.Now() - start
		})

		return latency, result
	}

	way := c.policy.Select(&c.lru[set])

	if old := c.tags[base+way]; old != invalidTag {
		c.stats.Evictions++
		c.log.V(2).Info("evicting line",
			"old", fmt.Sprintf("0x%08X", c.lineAddress(old, set)),
			"new", fmt.Sprintf("0x%08X", c.lineAddress(tag, set)),
			"now", now)
	}

	// The way holds no line until the fill completes, so a fill that
	// faults leaves it invalid.
	c.tags[base+way] = invalidTag

	i := c.slot(wordAddr, way)
	ready := now
	if ready < c.lastBusActivity {
		ready = c.lastBusActivity
	}

	c.clock.WithSavedTiming(func() {
		for word := 0; word < LineWords; word++ {
			start := c.clock.Now()
			v := c.root.Read(UncacheableAddress(addr), UncacheableAddress(addr), bus.Uint32)
			access := c.clock.Now() - start

			if word == 0 {
				latency = access
				result = v
			}

			ready += access

			c.ready[i] = ready
			c.data[i] = v

			addr = wrapAddress(addr, 4, 4*LineWords)
			i = int(wrapAddress(uint32(i), 1, LineWords))
		}
	})

	c.tags[base+way] = tag
	c.stats.Fills++
	c.lastBusActivity = ready

	return latency, result
}

// flushAddress invalidates the line holding addr, if any.
func (c *Cache) flushAddress(addr uint32) {
	wordAddr := (addr &^ FlushMask) >> wordLog2
	set, tag := c.decompose(wordAddr)
	base := int(set) * Ways

	for way := 0; way < Ways; way++ {
		if c.tags[base+way] == tag {
			c.tags[base+way] = invalidTag
			c.stats.Flushes++
			return
		}
	}
}

// updateValue merges a store into the cached copy of its word, if present.
func (c *Cache) updateValue(addr, value uint32, kind bus.AccessKind) {
	wordAddr := addr >> wordLog2
	set, tag := c.decompose(wordAddr)
	base := int(set) * Ways

	for way := 0; way < Ways; way++ {
		if c.tags[base+way] == tag {
			i := c.slot(wordAddr, way)
			c.data[i] = bus.Insert(c.data[i], value, addr, kind)
		}
	}
}

func (c *Cache) applyDetour(addr, uncached, value uint32) uint32 {
	if value != memory.DetourOpcode || c.detour == nil {
		return value
	}

	value = c.detour.Detour(addr, value)
	return c.detour.Detour(uncached, value)
}

func (c *Cache) decompose(wordAddr uint32) (set, tag uint32) {
	set = wordAddr >> LineWordsLog2 & c.setMask
	tag = wordAddr >> c.waySizeLog2
	return set, tag
}

func (c *Cache) slot(wordAddr uint32, way int) int {
	return int(wordAddr&c.waySizeMask) + way<<c.waySizeLog2
}

func (c *Cache) lineAddress(tag, set uint32) uint32 {
	return tag<<(c.waySizeLog2+wordLog2) | set<<(LineWordsLog2+wordLog2)
}

// UncacheableAddress strips the cacheable alias bit.
func UncacheableAddress(addr uint32) uint32 {
	return addr &^ CacheableMask
}

// CacheableAddress sets the cacheable alias bit.
func CacheableAddress(addr uint32) uint32 {
	return addr | CacheableMask
}

// wrapAddress advances addr by inc within its size-aligned block.
func wrapAddress(addr, inc, size uint32) uint32 {
	return addr&^(size-1) | (addr+inc)&(size-1)
}
