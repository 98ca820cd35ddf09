// Package main provides the entry point for chipsim.
// chipsim assembles a chipset profile, optionally downloads a firmware image
// into it, replays an access trace or free-runs the peripherals, and prints
// a timing report.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/sarchlab/chipsim/hosting"
	"github.com/sarchlab/chipsim/loader"
	"github.com/sarchlab/chipsim/timing/core"
	"github.com/sarchlab/chipsim/timing/latency"
)

var (
	profile   = flag.String("profile", latency.ProfileMM9691LP, "Chipset profile name or path to a profile config (JSON or YAML)")
	imagePath = flag.String("image", "", "ELF firmware image to download before running")
	tracePath = flag.String("trace", "", "YAML access trace to replay")
	console   = flag.Int("console", -1, "USART port to connect to the terminal, -1 for none")
	ticks     = flag.Uint64("ticks", 0, "Core ticks to free-run when no trace is given, 0 runs until interrupted")
	verbose   = flag.Int("v", 0, "Log verbosity")
)

// runSlice bounds how far a free run advances between cancellation checks.
const runSlice = 1 << 16

func main() {
	flag.Parse()

	log := funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(os.Stderr, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(os.Stderr, args)
	}, funcr.Options{Verbosity: *verbose})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log logr.Logger) error {
	config, err := resolveProfile(*profile)
	if err != nil {
		return err
	}

	var trace *loader.Trace
	image := *imagePath
	if *tracePath != "" {
		trace, err = loader.LoadTrace(*tracePath)
		if err != nil {
			return err
		}

		if image == "" && trace.Image != "" {
			image = filepath.Join(filepath.Dir(*tracePath), trace.Image)
		}
	}

	c, err := core.NewCore(config, core.WithLogger(log))
	if err != nil {
		return err
	}

	if image != "" {
		prog, err := loader.Load(image)
		if err != nil {
			c.Close()
			return fmt.Errorf("failed to load %s: %w", image, err)
		}

		if err := prog.Download(c.Chip, log.WithName("loader")); err != nil {
			c.Close()
			return err
		}
	}

	var port hosting.SerialPort
	detach := func() {}
	if *console >= 0 {
		var ok bool
		port, ok = hosting.Get[hosting.SerialPort](c.Chip.Services(), hosting.SerialServiceName(*console))
		if !ok {
			c.Close()
			return fmt.Errorf("profile %s has no serial port %d", config.Profile, *console)
		}

		detach, err = openSession(c.Chip.Services(), *console, log)
		if err != nil {
			c.Close()
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The chip is only touched from this goroutine. Closing it ends
		// the console pumps.
		defer c.Close()

		if trace != nil {
			return c.RunTrace(ctx, trace)
		}

		return freeRun(ctx, c, *ticks)
	})

	restore := func() {}
	if port != nil {
		restore = attachConsole(ctx, g, port, log)
	}

	err = g.Wait()
	restore()
	detach()
	printReport(os.Stdout, config.Profile, c)

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func resolveProfile(name string) (*latency.Config, error) {
	if config, err := latency.DefaultConfig(name); err == nil {
		return config, nil
	}

	config, err := latency.LoadConfig(name)
	if err != nil {
		return nil, fmt.Errorf("unknown profile %q: %w", name, err)
	}

	return config, nil
}

func freeRun(ctx context.Context, c *core.Core, total uint64) error {
	for done := uint64(0); total == 0 || done < total; {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := uint64(runSlice)
		if total != 0 && total-done < n {
			n = total - done
		}

		if err := c.RunFor(n); err != nil {
			return err
		}
		done += n
	}

	return nil
}

// openSession records the console as a client of serial port n.
func openSession(r *hosting.Registry, n int, log logr.Logger) (detach func(), err error) {
	id, err := r.Attach(hosting.SerialServiceName(n))
	if err != nil {
		return nil, err
	}

	log.Info("console session opened", "session", id, "port", n)

	return func() {
		r.Detach(id)
		log.V(1).Info("console session closed", "session", id)
	}, nil
}

// attachConsole pumps the terminal into port and port into the terminal.
// The input pump blocks in a read nothing can cancel, so it stays outside
// the group and dies with the process.
func attachConsole(ctx context.Context, g *errgroup.Group, port hosting.SerialPort, log logr.Logger) (restore func()) {
	restore = func() {}
	raw := false

	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			log.Error(err, "failed to set raw mode")
		} else {
			raw = true
			restore = func() { _ = term.Restore(fd, state) }
		}
	}

	g.Go(func() error {
		return pumpOutput(ctx, port, os.Stdout, raw)
	})

	go pumpInput(os.Stdin, port, raw)

	log.Info("console attached", "port", port.PortNumber(), "raw", raw)

	return restore
}

func pumpOutput(ctx context.Context, port hosting.SerialPort, w io.Writer, raw bool) error {
	for {
		b, ok := port.Receive(ctx)
		if !ok {
			return nil
		}

		out := []byte{b}
		if raw && b == '\n' {
			out = []byte{'\r', '\n'}
		}

		if _, err := w.Write(out); err != nil {
			return err
		}
	}
}

func pumpInput(r io.Reader, port hosting.SerialPort, raw bool) {
	buf := make([]byte, 1)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			b := buf[0]
			if raw && b == '\r' {
				b = '\n'
			}
			port.Send(b)
		}
		if err != nil {
			return
		}
	}
}
