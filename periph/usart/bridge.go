package usart

import (
	"context"
	"sync"
	"time"
)

// Bridge is the host side of a USART. It is the only part of the chip model
// that is safe for use from other goroutines: the host sends bytes for the
// device to receive and receives the bytes the device transmitted.
type Bridge struct {
	port int

	mu       sync.Mutex
	toDevice []byte
	arrivals int
	toHost   []byte

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newBridge(port int) *Bridge {
	return &Bridge{
		port:  port,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// PortNumber implements hosting.SerialPort.
func (b *Bridge) PortNumber() int {
	return b.port
}

// Send implements hosting.SerialPort. The device starts shifting the byte in
// once the simulation thread polls the bridge.
func (b *Bridge) Send(v byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.toDevice = append(b.toDevice, v)
	b.arrivals++
}

// Receive implements hosting.SerialPort. It returns the next transmitted
// byte, waiting until one is available, ctx ends or the bridge is closed.
// Bytes already transmitted are still returned after Close.
func (b *Bridge) Receive(ctx context.Context) (byte, bool) {
	for {
		if v, ok := b.popToHost(); ok {
			return v, true
		}

		select {
		case <-b.done:
			return 0, false
		default:
		}

		select {
		case <-b.ready:
		case <-b.done:
		case <-ctx.Done():
			return 0, false
		}
	}
}

// ReceiveTimeout is Receive bounded by timeout.
func (b *Bridge) ReceiveTimeout(timeout time.Duration) (byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return b.Receive(ctx)
}

// Close shuts the bridge down and wakes every waiting receiver.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
}

// Closed reports whether Close was called.
func (b *Bridge) Closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *Bridge) popToHost() (byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.toHost) == 0 {
		return 0, false
	}

	v := b.toHost[0]
	b.toHost = b.toHost[1:]

	return v, true
}

// deliver queues a byte the device finished transmitting.
func (b *Bridge) deliver(v byte) {
	b.mu.Lock()
	b.toHost = append(b.toHost, v)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// take returns the next byte sent by the host.
func (b *Bridge) take() (byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.toDevice) == 0 {
		return 0, false
	}

	v := b.toDevice[0]
	b.toDevice = b.toDevice[1:]

	return v, true
}

// takeArrivals returns and resets the number of bytes sent since the last
// call.
func (b *Bridge) takeArrivals() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.arrivals
	b.arrivals = 0

	return n
}
