package bus

// Handler serves accesses to one contiguous address range. addr is the
// absolute address issued by the CPU core; rel is addr relative to the base
// the handler is mapped at.
type Handler interface {
	// RangeLength returns the size of the range in bytes.
	RangeLength() uint64
	CanAccess(addr, rel uint32, kind AccessKind) bool
	Read(addr, rel uint32, kind AccessKind) uint32
	Write(addr, rel, value uint32, kind AccessKind)
	// PhysicalAddress strips aliasing bits from addr.
	PhysicalAddress(addr uint32) uint32
}

// Connector is implemented by handlers that act once the address space is
// assembled, such as the boot remap linking flash at address zero.
type Connector interface {
	Connected(root *Bus)
}

// Disconnector is implemented by handlers that release host resources when
// the chip shuts down.
type Disconnector interface {
	Disconnected()
}

// Ticker is the part of the timing service a handler charges latency to.
type Ticker interface {
	Now() uint64
	Charge(latency, waitStates uint64)
	TimingUpdatesEnabled() bool
}

// Latency describes the access cost of a handler.
type Latency struct {
	// Width is the data width of the range in bits. Zero means 32.
	Width int
	// Read is the cost in ticks of one read beat.
	Read uint64
	// Write is the cost in ticks of one write beat.
	Write uint64
}

// ChargeLoad charges the read latency for an access of the given kind.
func (l Latency) ChargeLoad(t Ticker, kind AccessKind) {
	Charge(t, l.Read, kind, l.Width)
}

// ChargeStore charges the write latency for an access of the given kind.
func (l Latency) ChargeStore(t Ticker, kind AccessKind) {
	Charge(t, l.Write, kind, l.Width)
}

// Charge adds latency once per rangeWidth-bit beat of the access. A 32-bit
// access to a 16-bit range costs two beats. Each beat counts latency-1 wait
// states. Nothing is charged while timing is suspended.
func Charge(t Ticker, latency uint64, kind AccessKind, rangeWidth int) {
	if t == nil || !t.TimingUpdatesEnabled() {
		return
	}

	if rangeWidth <= 0 {
		rangeWidth = 32
	}

	var wait uint64
	if latency > 0 {
		wait = latency - 1
	}

	for width := kind.Width(); ; width -= rangeWidth {
		t.Charge(latency, wait)

		if rangeWidth >= width {
			break
		}
	}
}
