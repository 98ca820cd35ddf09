package chipset

import (
	"github.com/sarchlab/chipsim/bus"
	"github.com/sarchlab/chipsim/intc"
	"github.com/sarchlab/chipsim/periph/remap"
	"github.com/sarchlab/chipsim/periph/stub"
	"github.com/sarchlab/chipsim/periph/timer"
	"github.com/sarchlab/chipsim/timing/latency"
)

func (c *Chip) buildPXA27x() error {
	lat := c.table.Latency(latency.RegionPeripherals)
	log := c.log

	ctrl := intc.NewBanked(c, c.clock, lat, bus.WithRegisterLogger(log.WithName("intc")))
	ctrl.SetLogger(log.WithName("intc"))

	sram := uint32(remap.DefaultSRAMBase)
	if r, ok := c.table.Region(latency.RegionRAM); ok {
		sram = r.Base
	}

	ost := timer.NewOSTimer(c.clock, lat,
		timer.WithOSTimerInterrupts(ctrl),
		timer.WithFrequencies(c.config.CoreFrequency, c.config.RTCFrequency),
		timer.WithOSTimerLogger(log.WithName("ostimer")))

	if err := c.attach(PartINTC, ctrl, intc.BankedBase); err != nil {
		return err
	}
	if err := c.attach(PartOSTimer, ost, timer.OSTimerBase); err != nil {
		return err
	}
	if err := c.attach(PartClockMgr, remap.NewClockManager(c.clock, lat, sram, log.WithName("clockmgr")), remap.ClockManagerBase); err != nil {
		return err
	}

	return c.attachStubs(stub.PXA27x)
}
