package main

import (
	"fmt"
	"io"

	"github.com/sarchlab/chipsim/timing/core"
)

func percent(part, total uint64) float64 {
	if total == 0 {
		return 0
	}

	return 100.0 * float64(part) / float64(total)
}

// printReport writes the timing report of a finished run.
func printReport(w io.Writer, profile string, c *core.Core) {
	stats := c.Stats()
	chip := c.Chip.Stats()

	busTicks := chip.Ticks - chip.Clock.IdleTicks

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Profile: %s\n", profile)
	fmt.Fprintf(w, "Trace ops: %d\n", stats.Ops)
	fmt.Fprintf(w, "Total Ticks: %d\n", chip.Ticks)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Breakdown:\n")
	fmt.Fprintf(w, "  Bus accesses: %8d ticks (%5.1f%%)\n",
		busTicks, percent(busTicks, chip.Ticks))
	fmt.Fprintf(w, "  Wait states:  %8d ticks (%5.1f%%)\n",
		chip.Clock.WaitStates, percent(chip.Clock.WaitStates, chip.Ticks))
	fmt.Fprintf(w, "  Advanced:     %8d ticks (%5.1f%%)\n",
		chip.Clock.IdleTicks, percent(chip.Clock.IdleTicks, chip.Ticks))
	fmt.Fprintf(w, "  Idle (WFI):   %8d ticks (%5.1f%%)\n",
		chip.IdleTicks, percent(chip.IdleTicks, chip.Ticks))
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Bus Events:\n")
	fmt.Fprintf(w, "  Loads:     %d\n", chip.Clock.Loads)
	fmt.Fprintf(w, "  Stores:    %d\n", chip.Clock.Stores)
	fmt.Fprintf(w, "  Callbacks: %d fired, %d pending\n", chip.Clock.CallbacksFired, chip.Pending)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Interrupts:\n")
	fmt.Fprintf(w, "  IRQ assertions: %d\n", chip.IRQAssertions)
	fmt.Fprintf(w, "  FIQ assertions: %d\n", chip.FIQAssertions)

	if cache := c.Chip.Cache(); cache != nil {
		cs := chip.Cache
		accesses := cs.Hits + cs.Misses

		fmt.Fprintf(w, "\n")
		fmt.Fprintf(w, "Cache (%s, enabled: %t):\n", cache.Policy().Name(), cache.Enabled())
		fmt.Fprintf(w, "  Reads:     %d\n", cs.Reads)
		fmt.Fprintf(w, "  Writes:    %d\n", cs.Writes)
		fmt.Fprintf(w, "  Hits:      %d (%5.1f%%)\n", cs.Hits, percent(cs.Hits, accesses))
		fmt.Fprintf(w, "  Misses:    %d\n", cs.Misses)
		fmt.Fprintf(w, "  Fills:     %d\n", cs.Fills)
		fmt.Fprintf(w, "  Evictions: %d\n", cs.Evictions)
		fmt.Fprintf(w, "  Flushes:   %d\n", cs.Flushes)
	}
}
