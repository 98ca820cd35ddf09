package chipset

import (
	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/hosting"
	"github.com/sarchlab/chipsim/intc"
	"github.com/sarchlab/chipsim/periph/cmu"
	"github.com/sarchlab/chipsim/periph/gpio"
	"github.com/sarchlab/chipsim/periph/mwspi"
	"github.com/sarchlab/chipsim/periph/remap"
	"github.com/sarchlab/chipsim/periph/rtc"
	"github.com/sarchlab/chipsim/periph/stub"
	"github.com/sarchlab/chipsim/periph/timer"
	"github.com/sarchlab/chipsim/periph/usart"
	"github.com/sarchlab/chipsim/timing/latency"
)

// Part names.
const (
	PartINTC      = "intc"
	PartRemap     = "remap"
	PartARMTimer0 = "armtimer0"
	PartARMTimer1 = "armtimer1"
	PartVTU32     = "vtu32"
	PartUSART0    = "usart0"
	PartUSART1    = "usart1"
	PartGPIO      = "gpio"
	PartMWSPI     = "mwspi"
	PartCMU       = "cmu"
	PartRTC       = "rtc"
	PartOSTimer   = "ostimer"
	PartClockMgr  = "clockmgr"
)

func (c *Chip) buildMM9691LP() error {
	lat := c.table.Latency(latency.RegionPeripherals)
	core := c.config.CoreFrequency
	log := c.log

	agg := intc.NewAggregator(c, intc.WithAggregatorLogger(log.WithName("intc")))
	ctrl := intc.NewController(agg, c.clock, lat, bus.WithRegisterLogger(log.WithName("intc")))

	clocks := cmu.New(c.clock, lat,
		cmu.WithEnableDelay(int64(c.config.ClockEnableDelay)),
		cmu.WithLogger(log.WithName("cmu")))

	remapOpts := []remap.Option{
		remap.WithSleeper(c),
		remap.WithLogger(log.WithName("remap")),
	}
	if ram, ok := c.table.Region(latency.RegionRAM); ok {
		flashBase := uint32(remap.DefaultFlashBase)
		if flash, ok := c.table.Region(latency.RegionFlash); ok {
			flashBase = flash.Base
		}
		remapOpts = append(remapOpts, remap.WithBases(ram.Base, flashBase))
	}
	if c.cache != nil {
		remapOpts = append(remapOpts, remap.WithCache(c.cache))
	}

	pins := gpio.New(c.clock, lat,
		gpio.WithInterrupts(groupLines(agg)...),
		gpio.WithLogger(log.WithName("gpio")))

	spi := mwspi.New(c.clock, lat,
		mwspi.WithInterrupt(agg.Line(intc.IRQMicroWire)),
		mwspi.WithClockGate(clocks, cmu.EnableUWire),
		mwspi.WithPins(pins),
		mwspi.WithServices(c.services),
		mwspi.WithCoreFrequency(core),
		mwspi.WithLogger(log.WithName("mwspi")))
	c.services.Register(hosting.ServiceSynchronousSerial, spi)

	for port, lines := range [][2]int{
		{intc.IRQUSART0Tx, intc.IRQUSART0Rx},
		{intc.IRQUSART1Tx, intc.IRQUSART1Rx},
	} {
		mask := uint32(cmu.EnableUSART0)
		if port == 1 {
			mask = cmu.EnableUSART1
		}

		c.usarts = append(c.usarts, usart.New(port, c.clock, lat,
			usart.WithInterrupts(agg.Line(lines[0]), agg.Line(lines[1])),
			usart.WithClockGate(clocks, mask),
			usart.WithLogger(log.WithName("usart").WithValues("port", port))))
	}

	clockRTC := rtc.New(c.clock, lat,
		rtc.WithInterrupt(agg.Line(intc.IRQRealTimeClock)),
		rtc.WithFrequencies(core, c.config.RTCFrequency),
		rtc.WithLogger(log.WithName("rtc")))

	parts := []struct {
		name string
		h    bus.Handler
		base uint32
	}{
		{PartINTC, ctrl, intc.ControllerBase},
		{PartRemap, remap.New(c.clock, lat, remapOpts...), remap.Base},
		{PartARMTimer0, timer.NewARMTimer(0, c.clock, lat), timer.ARMTimer0Base},
		{PartARMTimer1, timer.NewARMTimer(1, c.clock, lat), timer.ARMTimer1Base},
		{PartVTU32, timer.NewVTU32(c.clock, lat, log.WithName("vtu32")), timer.VTU32Base},
		{PartUSART0, c.usarts[0], usart.Base0},
		{PartUSART1, c.usarts[1], usart.Base1},
		{PartGPIO, pins, gpio.Base},
		{PartMWSPI, spi, mwspi.Base},
		{PartCMU, clocks, cmu.Base},
		{PartRTC, clockRTC, rtc.Base},
	}

	for _, p := range parts {
		if err := c.attach(p.name, p.h, p.base); err != nil {
			return err
		}
	}

	return c.attachStubs(stub.MM9691LP)
}

func (c *Chip) attachStubs(descs []stub.Descriptor) error {
	lat := c.table.Latency(latency.RegionPeripherals)

	blocks, err := stub.Attach(c.phys, descs, c.clock, lat, stub.WithLogger(c.log.WithName("stub")))
	if err != nil {
		return err
	}

	for _, b := range blocks {
		c.parts[b.Name()] = b
	}

	return nil
}

func groupLines(agg *intc.Aggregator) []intc.Line {
	lines := make([]intc.Line, intc.GPIOGroups)
	for n := range lines {
		lines[n] = agg.Line(intc.IRQGPIO0 + n)
	}

	return lines
}
