// Package remap models the blocks that decide what memory answers at address
// zero: the MM9691LP remap/pause controller, which also holds the cache
// controls, and the PXA27x clock manager.
package remap

import (
	"github.com/go-logr/logr"

	"github.com/sarchlab/chipsim/bus"
)

// Window geometry.
const (
	Base   = 0x38010000
	Length = 0x5C
)

// Register offsets.
const (
	RegPause               = 0x00
	RegIdentification      = 0x10
	RegClearResetMap       = 0x20
	RegResetStatus         = 0x30
	RegResetStatusClear    = 0x34
	RegSystemConfiguration = 0x40
	RegCacheEnable         = 0x50
	RegCacheTagsReset      = 0x54
	RegCacheFlushEnable    = 0x58
)

// Identification is the value of the identification register.
const Identification = 0x4E969101

// ResetStatusPOR marks a power-on reset.
const ResetStatusPOR = 0x00000001

// Default physical bases of the memories linked at zero.
const (
	DefaultRAMBase   = 0x08000000
	DefaultFlashBase = 0x10000000
)

// CacheControl is the part of the cache the remap block drives.
type CacheControl interface {
	SetEnabled(on bool)
	SetResettingTags(on bool)
	SetFlushEnabled(on bool)
}

// Sleeper stops the core until an interrupt is pending.
type Sleeper interface {
	WaitForInterrupt()
}

// Remap is the remap/pause controller.
type Remap struct {
	*bus.Registers

	root    *bus.Bus
	cache   CacheControl
	sleeper Sleeper
	log     logr.Logger

	ramBase   uint32
	flashBase uint32

	resetStatus  uint32
	sysConfig    uint32
	cacheEnable  uint32
	cacheTags    uint32
	cacheFlush   uint32
	pauseCPUOnly uint32
}

// Option configures a Remap.
type Option func(*Remap)

// WithCache connects the cache the control registers drive.
func WithCache(c CacheControl) Option {
	return func(r *Remap) {
		r.cache = c
	}
}

// WithSleeper connects the core a Pause write stops.
func WithSleeper(s Sleeper) Option {
	return func(r *Remap) {
		r.sleeper = s
	}
}

// WithBases overrides the physical bases of RAM and flash.
func WithBases(ram, flash uint32) Option {
	return func(r *Remap) {
		r.ramBase = ram
		r.flashBase = flash
	}
}

// WithLogger sets the logger used to trace remaps.
func WithLogger(log logr.Logger) Option {
	return func(r *Remap) {
		r.log = log
	}
}

// New creates the controller.
func New(ticker bus.Ticker, latency bus.Latency, opts ...Option) *Remap {
	r := &Remap{
		log:         logr.Discard(),
		ramBase:     DefaultRAMBase,
		flashBase:   DefaultFlashBase,
		resetStatus: ResetStatusPOR,
		cacheTags:   1,
	}

	for _, opt := range opts {
		opt(r)
	}

	regs := bus.NewRegisters("REMAP_PAUSE", Length, ticker, latency, bus.WithRegisterLogger(r.log))
	regs.Define(RegPause, "Pause", func() uint32 { return r.pauseCPUOnly }, r.pause)
	regs.Define(RegIdentification, "Identification", func() uint32 { return Identification }, nil)
	regs.Define(RegClearResetMap, "ClearResetMap", nil, func(uint32) { r.ClearResetMap() })
	regs.Field(RegResetStatus, "ResetStatus", &r.resetStatus)
	regs.Define(RegResetStatusClear, "ResetStatusClear", nil, func(v uint32) { r.resetStatus &^= v })
	regs.Field(RegSystemConfiguration, "SystemConfiguration", &r.sysConfig)
	regs.Define(RegCacheEnable, "Cache_Enable", func() uint32 { return r.cacheEnable }, func(v uint32) {
		r.cacheEnable = v
		if r.cache != nil {
			r.cache.SetEnabled(v != 0)
		}
	})
	regs.Define(RegCacheTagsReset, "Cache_Tags_Reset", func() uint32 { return r.cacheTags }, func(v uint32) {
		r.cacheTags = v
		if r.cache != nil {
			r.cache.SetResettingTags(v == 0)
		}
	})
	regs.Define(RegCacheFlushEnable, "Cache_Flush_Enable", func() uint32 { return r.cacheFlush }, func(v uint32) {
		r.cacheFlush = v
		if r.cache != nil {
			r.cache.SetFlushEnabled(v != 0)
		}
	})
	r.Registers = regs

	return r
}

// Connected implements bus.Connector. Out of reset flash answers at zero.
func (r *Remap) Connected(root *bus.Bus) {
	r.root = root
	link(root, r.flashBase, r.log)
}

// ClearResetMap links RAM at address zero.
func (r *Remap) ClearResetMap() {
	if r.root == nil {
		return
	}

	link(r.root, r.ramBase, r.log)
}

func (r *Remap) pause(v uint32) {
	r.pauseCPUOnly = v

	if r.sleeper != nil {
		r.sleeper.WaitForInterrupt()
	}
}

// link maps the handler found at base at address zero as well.
func link(root *bus.Bus, base uint32, log logr.Logger) {
	h := root.FindAt(base)
	if h == nil {
		log.V(1).Info("nothing to link at zero", "base", base)
		return
	}

	root.LinkAt(h, 0)
	log.V(1).Info("linked at zero", "base", base)
}
