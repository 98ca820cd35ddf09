// Package main provides a profiling wrapper for chipsim to identify
// performance bottlenecks in the chipset models.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"time"

	"github.com/sarchlab/chipsim/benchmarks"
	"github.com/sarchlab/chipsim/loader"
	"github.com/sarchlab/chipsim/timing/core"
	"github.com/sarchlab/chipsim/timing/latency"
)

var (
	profile    = flag.String("profile", latency.ProfileMM9691LP, "Chipset profile to replay on")
	cpuProfile = flag.String("cpuprofile", "", "write cpu profile to file")
	memProfile = flag.String("memprofile", "", "write memory profile to file")
	duration   = flag.Duration("duration", 30*time.Second, "max duration to run (for profiling)")
	repeat     = flag.Int("repeat", 100, "number of times to replay the trace")
)

func main() {
	flag.Parse()

	var (
		ops []loader.Op
		err error
	)

	if flag.NArg() > 0 {
		var t *loader.Trace
		t, err = loader.LoadTrace(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading trace: %v\n", err)
			os.Exit(1)
		}
		ops = t.Ops
		if t.Profile != "" {
			*profile = t.Profile
		}
		fmt.Printf("Loaded: %s (%d ops)\n", flag.Arg(0), len(ops))
	} else {
		for _, b := range benchmarks.GetMicrobenchmarks() {
			p := b.Profile
			if p == "" {
				p = latency.ProfileMM9691LP
			}
			if p == *profile {
				ops = append(ops, b.Ops...)
			}
		}
		fmt.Printf("Replaying the microbenchmarks (%d ops)\n", len(ops))
	}

	config, err := latency.DefaultConfig(*profile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()

		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	replays, accesses, ticks, err := replay(ctx, config, ops, *repeat)
	elapsed := time.Since(start)

	if errors.Is(err, context.DeadlineExceeded) {
		fmt.Printf("\nTimeout reached after %v - stopping replay\n", *duration)
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating memory profile: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()

		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing memory profile: %v\n", err)
		}
	}

	fmt.Printf("\nProfiling Results:\n")
	fmt.Printf("Replays: %d\n", replays)
	fmt.Printf("Accesses: %d\n", accesses)
	fmt.Printf("Simulated ticks: %d\n", ticks)
	fmt.Printf("Elapsed time: %v\n", elapsed)
	if accesses > 0 {
		fmt.Printf("Accesses/second: %.0f\n", float64(accesses)/elapsed.Seconds())
	}
}

// replay runs ops on a fresh chip n times.
func replay(ctx context.Context, config *latency.Config, ops []loader.Op, n int) (replays int, accesses, ticks uint64, err error) {
	for ; replays < n; replays++ {
		c, err := core.NewCore(config)
		if err != nil {
			return replays, accesses, ticks, err
		}

		err = c.Run(ctx, ops)
		stats := c.Stats()
		c.Close()

		accesses += stats.Loads + stats.Stores
		ticks += stats.Ticks

		if err != nil {
			return replays, accesses, ticks, err
		}
	}

	return replays, accesses, ticks, nil
}
