// Package hosting holds the services the host environment offers to the
// chipset models. Every service is optional: a model looks it up by name and
// treats absence as the feature being disabled.
package hosting

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/rs/xid"
)

// Well-known service names.
const (
	ServiceOutputSink = "output-sink"
	ServiceDetourHook = "detour-hook"
	ServiceShiftBus   = "shift-bus"

	// ServiceSynchronousSerial is where the chip publishes its synchronous
	// serial controller for an external master to drive.
	ServiceSynchronousSerial = "synchronous-serial"
)

// SerialServiceName returns the name a USART port registers its host bridge
// under.
func SerialServiceName(port int) string {
	return fmt.Sprintf("serial/%d", port)
}

// OutputSink receives human-readable trace lines.
type OutputSink interface {
	OutputLine(format string, args ...any)
}

// DetourHook supplies the original word for an address the debugger patched.
type DetourHook interface {
	Detour(addr, value uint32) uint32
}

// ShiftBus is the external side of a synchronous serial master. ShiftData
// clocks value out on bits wires and returns the bits clocked in.
type ShiftBus interface {
	ShiftData(value uint32, bits int, clockHz float64) uint32
}

// SerialPort is the host side of an asynchronous serial device. Send queues a
// byte for the device to receive. Receive blocks until the device transmits
// a byte, the timeout elapses, ctx ends or the device shuts down.
type SerialPort interface {
	PortNumber() int
	Send(b byte)
	Receive(ctx context.Context) (byte, bool)
}

// SynchronousSerialController is the device side of a synchronous serial
// slave, driven by an external master.
type SynchronousSerialController interface {
	StartTransaction()
	ShiftData(value uint32, bits int, clockHz float64) uint32
	EndTransaction()
}

// Registry is a thread-safe map of named services.
type Registry struct {
	mu       sync.RWMutex
	services map[string]any
	sessions map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]any),
		sessions: make(map[string]string),
	}
}

// Register publishes svc under name, replacing any previous entry.
func (r *Registry) Register(name string, svc any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.services[name] = svc
}

// Unregister removes the entry for name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.services, name)
}

// Lookup returns the service registered under name.
func (r *Registry) Lookup(name string) (any, bool) {
	if r == nil {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[name]
	return svc, ok
}

// Attach records that a host client opened the service called name and
// returns a session ID for it.
func (r *Registry) Attach(name string) (string, error) {
	if _, ok := r.Lookup(name); !ok {
		return "", fmt.Errorf("attach to %q: service not registered", name)
	}

	id := xid.New().String()

	r.mu.Lock()
	r.sessions[id] = name
	r.mu.Unlock()

	return id, nil
}

// Detach ends a session started with Attach.
func (r *Registry) Detach(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
}

// Sessions returns the open sessions, keyed by ID.
func (r *Registry) Sessions() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.sessions))
	for id, name := range r.sessions {
		out[id] = name
	}
	return out
}

// Get looks up name and asserts it to T.
func Get[T any](r *Registry, name string) (T, bool) {
	var zero T

	svc, ok := r.Lookup(name)
	if !ok {
		return zero, false
	}

	t, ok := svc.(T)
	return t, ok
}

// LogSink is an OutputSink that writes through a logr.Logger.
type LogSink struct {
	log logr.Logger
}

// NewLogSink wraps log as an OutputSink.
func NewLogSink(log logr.Logger) *LogSink {
	return &LogSink{log: log}
}

// OutputLine implements OutputSink.
func (s *LogSink) OutputLine(format string, args ...any) {
	s.log.Info(fmt.Sprintf(format, args...))
}
