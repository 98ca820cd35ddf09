// Package cmu models the MM9691LP clock management unit. Peripheral clocks
// requested through MCLK_EN start running a fixed number of ticks later, when
// the request reaches CLK_EN_REG.
package cmu

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/periph"
)

// Window geometry.
const (
	Base   = 0x380B0000
	Length = 0x18
)

// DefaultEnableDelay is the number of ticks an MCLK_EN write takes to reach
// CLK_EN_REG.
const DefaultEnableDelay = 256

// MCLK_EN and CLK_EN_REG bits.
const (
	EnableDMAC    = 0x0001
	EnableViterbi = 0x0002
	EnableFilter  = 0x0004
	EnableAPC     = 0x0008
	EnableARMTim  = 0x0010
	EnableVTU32   = 0x0020
	EnableUSART0  = 0x0040
	EnableUSART1  = 0x0080
	EnableGPIO    = 0x0200
	EnableUWire   = 0x0400
	EnableUSB     = 0x0800
	EnableAll     = 0xFFFF
)

// CLK_SEL bits.
const (
	ClkSelAPCEnable = 0x0001
	ClkSelMask      = 0xF3FF
)

// PLLNMP packs the PLL divider fields.
func PLLNMP(n, m, p uint32) uint32 {
	return (p&0x03)<<13 | (m&0x1F)<<8 | n&0x7F
}

// CMU is the clock management unit.
type CMU struct {
	*bus.Registers

	clock periph.Clock
	delay int64
	log   logr.Logger

	perfLevel uint32
	clkSel    uint32
	refReg    uint32
	mclkEn    uint32
	clkEnReg  uint32
	pllnmp    uint32
}

// Option configures a CMU.
type Option func(*CMU)

// WithEnableDelay overrides the MCLK_EN to CLK_EN_REG latency.
func WithEnableDelay(ticks int64) Option {
	return func(c *CMU) {
		c.delay = ticks
	}
}

// WithLogger sets the logger used to trace clock changes.
func WithLogger(log logr.Logger) Option {
	return func(c *CMU) {
		c.log = log
	}
}

// New creates a CMU with every peripheral clock stopped.
func New(clk periph.Clock, latency bus.Latency, opts ...Option) *CMU {
	c := &CMU{
		clock: clk,
		delay: DefaultEnableDelay,
		log:   logr.Discard(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Registers = bus.NewRegisters("CMU", Length, clk, latency, bus.WithRegisterLogger(c.log))

	r := c.Registers
	r.Field(0x00, "PERF_LVL", &c.perfLevel)
	r.Define(0x04, "CLK_SEL", func() uint32 { return c.clkSel },
		func(v uint32) { c.clkSel = v & ClkSelMask })
	r.Define(0x08, "REF_REG", func() uint32 { return c.refReg },
		func(v uint32) { c.refReg = v & 0xFF })
	r.Define(0x0C, "MCLK_EN", func() uint32 { return c.mclkEn }, c.requestClocks)
	r.Field(0x10, "CLK_EN_REG", &c.clkEnReg)
	r.Field(0x14, "PLLNMP", &c.pllnmp)

	return c
}

// ClockEnabled implements periph.ClockGate.
func (c *CMU) ClockEnabled(mask uint32) bool {
	return c.clkEnReg&mask == mask
}

// Enabled returns CLK_EN_REG.
func (c *CMU) Enabled() uint32 {
	return c.clkEnReg
}

// Requested returns MCLK_EN.
func (c *CMU) Requested() uint32 {
	return c.mclkEn
}

// Force sets both MCLK_EN and CLK_EN_REG immediately, as boot code running
// before the model would have.
func (c *CMU) Force(v uint32) {
	c.mclkEn = v
	c.clkEnReg = v
}

func (c *CMU) requestClocks(v uint32) {
	c.mclkEn = v

	c.clock.ScheduleRelative(c.delay, func() {
		c.log.V(2).Info("peripheral clocks updated", "clk_en", fmt.Sprintf("0x%04X", v))
		c.clkEnReg = v
	})
}
