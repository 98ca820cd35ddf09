package bus

import (
	"errors"
	"fmt"
)

// FaultKind classifies fatal simulation faults.
type FaultKind int

// Fault kinds.
const (
	// Unmapped means no handler covers the address.
	Unmapped FaultKind = iota
	// UnsupportedAccess means the handler refuses the access kind.
	UnsupportedAccess
	// UnsupportedConfiguration means guest code programmed a register
	// combination the model does not implement.
	UnsupportedConfiguration
)

// Sentinel errors matched by errors.Is against a *Fault.
var (
	ErrUnmapped                 = errors.New("unmapped address")
	ErrUnsupportedAccess        = errors.New("unsupported access")
	ErrUnsupportedConfiguration = errors.New("unsupported configuration")
)

// Fault is a fatal condition raised inside a handler. Handlers raise it with
// panic; Load, Store and Guard turn it back into an error.
type Fault struct {
	Kind    FaultKind
	Address uint32
	Access  AccessKind
	Detail  string
}

func (f *Fault) Error() string {
	switch f.Kind {
	case Unmapped:
		return fmt.Sprintf("bus error: %s access to unmapped address 0x%08X", f.Access, f.Address)
	case UnsupportedAccess:
		return fmt.Sprintf("bus error: %s access not supported at 0x%08X", f.Access, f.Address)
	default:
		return fmt.Sprintf("unsupported configuration at 0x%08X: %s", f.Address, f.Detail)
	}
}

// Unwrap maps the fault onto its sentinel error.
func (f *Fault) Unwrap() error {
	switch f.Kind {
	case Unmapped:
		return ErrUnmapped
	case UnsupportedAccess:
		return ErrUnsupportedAccess
	default:
		return ErrUnsupportedConfiguration
	}
}

// RaiseUnmapped aborts the current access with an Unmapped fault.
func RaiseUnmapped(addr uint32, kind AccessKind) {
	panic(&Fault{Kind: Unmapped, Address: addr, Access: kind})
}

// RaiseUnsupportedAccess aborts the current access with an UnsupportedAccess
// fault.
func RaiseUnsupportedAccess(addr uint32, kind AccessKind) {
	panic(&Fault{Kind: UnsupportedAccess, Address: addr, Access: kind})
}

// RaiseUnsupported aborts the current access because a register was
// programmed into a mode the model does not implement.
func RaiseUnsupported(addr uint32, format string, args ...any) {
	panic(&Fault{
		Kind:    UnsupportedConfiguration,
		Address: addr,
		Access:  Uint32,
		Detail:  fmt.Sprintf(format, args...),
	})
}

// Guard runs fn and converts a raised *Fault into an error. Any other panic
// keeps unwinding.
func Guard(fn func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		f, ok := r.(*Fault)
		if !ok {
			panic(r)
		}

		err = f
	}()

	fn()

	return nil
}
