// Command benchmark runs the chipsim access-timing benchmark harness.
//
// Usage:
//
//	go run ./cmd/benchmark [flags]
//
// Flags:
//
//	-csv       Output results in CSV format (default: human-readable)
//	-json      Output a JSON report
//	-no-cache  Leave the cache disabled
//	-core      Run only the core benchmarks
//
// Example:
//
//	# Output CSV for spreadsheet comparison
//	go run ./cmd/benchmark -csv > results.csv
//
// The results can be compared against cycle counts measured on the boards
// to calibrate the region latencies of the profiles.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/go-logr/logr/funcr"

	"github.com/sarchlab/chipsim/benchmarks"
)

func main() {
	csvOutput := flag.Bool("csv", false, "Output results in CSV format")
	jsonOutput := flag.Bool("json", false, "Output results as a JSON report")
	noCache := flag.Bool("no-cache", false, "Leave the cache disabled")
	coreOnly := flag.Bool("core", false, "Run only the core benchmarks")
	verbose := flag.Int("v", 0, "Log verbosity")
	flag.Parse()

	config := benchmarks.DefaultConfig()
	config.EnableCache = !*noCache
	config.Output = os.Stdout
	config.Verbose = *verbose > 0
	config.Log = funcr.New(func(prefix, args string) {
		fmt.Fprintln(os.Stderr, prefix, args)
	}, funcr.Options{Verbosity: *verbose})

	harness := benchmarks.NewHarness(config)
	if *coreOnly {
		harness.AddBenchmarks(benchmarks.GetCoreBenchmarks())
	} else {
		harness.AddBenchmarks(benchmarks.GetMicrobenchmarks())
	}

	if !*csvOutput && !*jsonOutput {
		fmt.Println("chipsim Access Timing Harness")
		fmt.Println("=============================")
		fmt.Printf("Cache: %v\n", config.EnableCache)
		fmt.Println("")
	}

	results := harness.RunAll(context.Background())

	switch {
	case *jsonOutput:
		if err := harness.PrintJSON(results); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
			os.Exit(1)
		}
	case *csvOutput:
		harness.PrintCSV(results)
	default:
		harness.PrintResults(results)

		summary := benchmarks.Summarize(results)
		fmt.Println("=== Summary ===")
		fmt.Printf("Benchmarks: %d (%d failed)\n", summary.TotalBenchmarks, summary.Failed)
		fmt.Printf("Ticks/Access: %.3f\n", summary.AverageTicksPerAccess)
	}

	if benchmarks.Summarize(results).Failed > 0 {
		os.Exit(1)
	}
}
