package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Masterminds/semver/v3"
	"go.yaml.in/yaml/v3"

	"github.com/sarchlab/chipsim/bus"
)

// TraceFormatVersion is the access-trace format this package reads.
const TraceFormatVersion = "1.0.0"

const traceVersions = ">=1.0.0, <2.0.0"

// OpKind names a trace operation.
type OpKind string

// Trace operations.
const (
	// OpLoad reads addr and optionally checks the value.
	OpLoad OpKind = "load"
	// OpStore writes value to addr.
	OpStore OpKind = "store"
	// OpAdvance moves the clock forward without running callbacks.
	OpAdvance OpKind = "advance"
	// OpRun moves the clock forward, firing callbacks at their deadlines.
	OpRun OpKind = "run"
	// OpEvaluate fires the callbacks that are due.
	OpEvaluate OpKind = "evaluate"
	// OpIdle sleeps until an interrupt is pending.
	OpIdle OpKind = "idle"
	// OpExpect checks the interrupt lines.
	OpExpect OpKind = "expect"
)

// ErrBadTrace reports a malformed trace file.
var ErrBadTrace = errors.New("bad trace")

// Op is one step of an access trace.
type Op struct {
	Op     OpKind  `yaml:"op"`
	Addr   uint32  `yaml:"addr,omitempty"`
	Value  uint32  `yaml:"value,omitempty"`
	Kind   string  `yaml:"kind,omitempty"`
	Ticks  uint64  `yaml:"ticks,omitempty"`
	Expect *uint32 `yaml:"expect,omitempty"`
	IRQ    *bool   `yaml:"irq,omitempty"`
	FIQ    *bool   `yaml:"fiq,omitempty"`
}

// AccessKind returns the access width of a load or store, u32 by default.
func (o Op) AccessKind() (bus.AccessKind, error) {
	if o.Kind == "" {
		return bus.Uint32, nil
	}

	return bus.ParseAccessKind(o.Kind)
}

func (o Op) validate() error {
	switch o.Op {
	case OpLoad, OpStore:
		if _, err := o.AccessKind(); err != nil {
			return err
		}
	case OpAdvance, OpRun, OpEvaluate, OpIdle:
	case OpExpect:
		if o.IRQ == nil && o.FIQ == nil {
			return fmt.Errorf("expect needs irq or fiq")
		}
	default:
		return fmt.Errorf("unknown op %q", o.Op)
	}

	return nil
}

// Trace is a recorded sequence of CPU-side chipset accesses.
type Trace struct {
	Version string `yaml:"version"`
	// Profile names the chipset the trace was recorded against.
	Profile string `yaml:"profile,omitempty"`
	// Image is an ELF file to download before replay, relative to the
	// trace file.
	Image string `yaml:"image,omitempty"`
	Ops   []Op   `yaml:"ops"`
}

// LoadTrace reads a YAML access trace from path.
func LoadTrace(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}

	t, err := ParseTrace(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return t, nil
}

// ParseTrace decodes a YAML access trace. Unknown keys are rejected.
func ParseTrace(data []byte) (*Trace, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	t := &Trace{}
	if err := dec.Decode(t); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty trace", ErrBadTrace)
		}
		return nil, fmt.Errorf("%w: %v", ErrBadTrace, err)
	}

	if err := checkTraceVersion(t.Version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTrace, err)
	}

	for i, op := range t.Ops {
		if err := op.validate(); err != nil {
			return nil, fmt.Errorf("%w: op %d: %v", ErrBadTrace, i, err)
		}
	}

	return t, nil
}

// Encode writes t as YAML.
func (t *Trace) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("failed to encode trace: %w", err)
	}

	return enc.Close()
}

func checkTraceVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid trace version %q: %w", version, err)
	}

	c, err := semver.NewConstraint(traceVersions)
	if err != nil {
		return err
	}

	if !c.Check(v) {
		return fmt.Errorf("trace version %s not supported (want %s)", v, traceVersions)
	}

	return nil
}
