// Package benchmarks provides access-timing benchmarks for chipsim
// calibration. Each benchmark is a short access trace replayed on a fresh
// chip; the harness reports where the ticks went.
package benchmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"

	"github.com/sarchlab/chipsim/loader"
	"github.com/sarchlab/chipsim/timing/core"
	"github.com/sarchlab/chipsim/timing/latency"
)

// BenchmarkResult holds the timing results for a single benchmark run.
type BenchmarkResult struct {
	// Name identifies the benchmark
	Name string `json:"name"`

	// Description explains what the benchmark measures
	Description string `json:"description"`

	// Profile is the chipset the benchmark ran on
	Profile string `json:"profile"`

	// SimulatedTicks is the clock at the end of the run
	SimulatedTicks uint64 `json:"simulated_ticks"`

	// Accesses is the number of loads and stores issued
	Accesses uint64 `json:"accesses"`

	// TicksPerAccess is SimulatedTicks over Accesses
	TicksPerAccess float64 `json:"ticks_per_access"`

	// WaitStates is the number of ticks beyond the first of each bus beat
	WaitStates uint64 `json:"wait_states"`

	// IdleTicks were skipped waiting for an interrupt
	IdleTicks uint64 `json:"idle_ticks"`

	// Cache counters (if the profile has a cache)
	CacheHits      uint64 `json:"cache_hits,omitempty"`
	CacheMisses    uint64 `json:"cache_misses,omitempty"`
	CacheEvictions uint64 `json:"cache_evictions,omitempty"`

	// IRQAssertions counts rising edges of the IRQ line
	IRQAssertions uint64 `json:"irq_assertions"`

	// Err is set when the replay failed
	Err string `json:"error,omitempty"`

	// WallTime is the actual time taken to run the simulation
	WallTime time.Duration `json:"wall_time_ns"`
}

// Benchmark defines a single access trace.
type Benchmark struct {
	// Name identifies the benchmark
	Name string

	// Description explains what the benchmark measures
	Description string

	// Profile selects the chipset, MM9691LP when empty
	Profile string

	// Ops is the access trace to replay
	Ops []loader.Op
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// EnableCache turns the cache on before each benchmark
	EnableCache bool

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Log receives the chip logs
	Log logr.Logger

	// Verbose enables detailed output
	Verbose bool
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		EnableCache: true,
		Output:      os.Stdout,
		Log:         logr.Discard(),
	}
}

// Harness runs timing benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Log.GetSink() == nil {
		config.Log = logr.Discard()
	}

	return &Harness{config: config}
}

// AddBenchmark adds a benchmark to the harness.
func (h *Harness) AddBenchmark(b Benchmark) {
	h.benchmarks = append(h.benchmarks, b)
}

// AddBenchmarks adds multiple benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// RunAll executes all benchmarks and returns results. A failed benchmark
// records its error and does not stop the others.
func (h *Harness) RunAll(ctx context.Context) []BenchmarkResult {
	results := make([]BenchmarkResult, 0, len(h.benchmarks))

	for _, bench := range h.benchmarks {
		results = append(results, h.runBenchmark(ctx, bench))
	}

	return results
}

func (h *Harness) runBenchmark(ctx context.Context, bench Benchmark) BenchmarkResult {
	result := BenchmarkResult{
		Name:        bench.Name,
		Description: bench.Description,
		Profile:     bench.Profile,
	}

	config, err := latency.DefaultConfig(bench.Profile)
	if err != nil {
		result.Err = err.Error()
		return result
	}
	result.Profile = config.Profile

	c, err := core.NewCore(config, core.WithLogger(h.config.Log.WithValues("benchmark", bench.Name)))
	if err != nil {
		result.Err = err.Error()
		return result
	}
	defer c.Close()

	if cache := c.Chip.Cache(); cache != nil {
		cache.SetEnabled(h.config.EnableCache)
	}

	start := time.Now()
	err = c.Run(ctx, bench.Ops)
	result.WallTime = time.Since(start)

	if err != nil {
		result.Err = err.Error()
	}

	stats := c.Stats()
	chip := c.Chip.Stats()

	result.SimulatedTicks = stats.Ticks
	result.Accesses = stats.Loads + stats.Stores
	if result.Accesses > 0 {
		result.TicksPerAccess = float64(stats.Ticks) / float64(result.Accesses)
	}
	result.WaitStates = chip.Clock.WaitStates
	result.IdleTicks = stats.IdleTicks
	result.CacheHits = chip.Cache.Hits
	result.CacheMisses = chip.Cache.Misses
	result.CacheEvictions = chip.Cache.Evictions
	result.IRQAssertions = stats.IRQAssertions

	return result
}

// PrintResults outputs benchmark results in a human-readable format.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	w := h.config.Output

	_, _ = fmt.Fprintln(w, "=== chipsim Access Timing Results ===")
	_, _ = fmt.Fprintln(w, "")

	for _, r := range results {
		_, _ = fmt.Fprintf(w, "Benchmark: %s (%s)\n", r.Name, r.Profile)
		_, _ = fmt.Fprintf(w, "  Description: %s\n", r.Description)
		if r.Err != "" {
			_, _ = fmt.Fprintf(w, "  Error: %s\n", r.Err)
		}
		_, _ = fmt.Fprintln(w, "  --- Timing ---")
		_, _ = fmt.Fprintf(w, "  Simulated Ticks:  %d\n", r.SimulatedTicks)
		_, _ = fmt.Fprintf(w, "  Accesses:         %d\n", r.Accesses)
		_, _ = fmt.Fprintf(w, "  Ticks/Access:     %.3f\n", r.TicksPerAccess)
		_, _ = fmt.Fprintf(w, "  Wait States:      %d\n", r.WaitStates)
		if r.IdleTicks > 0 {
			_, _ = fmt.Fprintf(w, "  Idle Ticks:       %d\n", r.IdleTicks)
		}
		if r.IRQAssertions > 0 {
			_, _ = fmt.Fprintf(w, "  IRQ Assertions:   %d\n", r.IRQAssertions)
		}

		if r.CacheHits > 0 || r.CacheMisses > 0 {
			_, _ = fmt.Fprintln(w, "  --- Cache ---")
			_, _ = fmt.Fprintf(w, "  Hits:      %d\n", r.CacheHits)
			_, _ = fmt.Fprintf(w, "  Misses:    %d\n", r.CacheMisses)
			_, _ = fmt.Fprintf(w, "  Evictions: %d\n", r.CacheEvictions)
		}

		if h.config.Verbose {
			_, _ = fmt.Fprintf(w, "  Wall Time: %v\n", r.WallTime)
		}
		_, _ = fmt.Fprintln(w, "")
	}
}

// PrintCSV outputs benchmark results in CSV format for easy comparison.
func (h *Harness) PrintCSV(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output,
		"name,profile,ticks,accesses,ticks_per_access,wait_states,idle_ticks,cache_hits,cache_misses,cache_evictions,irq_assertions")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "%s,%s,%d,%d,%.3f,%d,%d,%d,%d,%d,%d\n",
			r.Name,
			r.Profile,
			r.SimulatedTicks,
			r.Accesses,
			r.TicksPerAccess,
			r.WaitStates,
			r.IdleTicks,
			r.CacheHits,
			r.CacheMisses,
			r.CacheEvictions,
			r.IRQAssertions,
		)
	}
}

// BenchmarkReport is the complete output format for benchmark results.
type BenchmarkReport struct {
	// Metadata about the benchmark run
	Metadata ReportMetadata `json:"metadata"`

	// Results is the list of individual benchmark results
	Results []BenchmarkResult `json:"results"`

	// Summary contains aggregate statistics
	Summary ReportSummary `json:"summary"`
}

// ReportMetadata contains information about the benchmark run.
type ReportMetadata struct {
	// Timestamp when the benchmark was run
	Timestamp string `json:"timestamp"`

	// TraceFormat is the access-trace format version of the benchmarks
	TraceFormat string `json:"trace_format"`

	// CacheEnabled reports whether benchmarks ran with the cache on
	CacheEnabled bool `json:"cache_enabled"`
}

// ReportSummary contains aggregate statistics across all benchmarks.
type ReportSummary struct {
	// TotalBenchmarks is the number of benchmarks run
	TotalBenchmarks int `json:"total_benchmarks"`

	// Failed is the number of benchmarks that stopped with an error
	Failed int `json:"failed"`

	// TotalTicks is the sum of all simulated ticks
	TotalTicks uint64 `json:"total_ticks"`

	// TotalAccesses is the sum of all loads and stores
	TotalAccesses uint64 `json:"total_accesses"`

	// AverageTicksPerAccess is TotalTicks over TotalAccesses
	AverageTicksPerAccess float64 `json:"average_ticks_per_access"`

	// TotalWallTime is the total wall clock time for all benchmarks
	TotalWallTime time.Duration `json:"total_wall_time_ns"`
}

// Summarize aggregates results.
func Summarize(results []BenchmarkResult) ReportSummary {
	s := ReportSummary{TotalBenchmarks: len(results)}

	for _, r := range results {
		if r.Err != "" {
			s.Failed++
		}
		s.TotalTicks += r.SimulatedTicks
		s.TotalAccesses += r.Accesses
		s.TotalWallTime += r.WallTime
	}

	if s.TotalAccesses > 0 {
		s.AverageTicksPerAccess = float64(s.TotalTicks) / float64(s.TotalAccesses)
	}

	return s
}

// PrintJSON outputs benchmark results in JSON format for automated comparison.
func (h *Harness) PrintJSON(results []BenchmarkResult) error {
	report := BenchmarkReport{
		Metadata: ReportMetadata{
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			TraceFormat:  loader.TraceFormatVersion,
			CacheEnabled: h.config.EnableCache,
		},
		Results: results,
		Summary: Summarize(results),
	}

	encoder := json.NewEncoder(h.config.Output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
