package bus

import "fmt"

// AccessKind describes the width and signedness of a bus access.
type AccessKind int

// Access kinds issued by the CPU core.
const (
	Uint8 AccessKind = iota
	Sint8
	Uint16
	Sint16
	Uint32
	Sint32
	// Fetch is a 32-bit instruction fetch.
	Fetch
)

// Width returns the access width in bits.
func (k AccessKind) Width() int {
	switch k {
	case Uint8, Sint8:
		return 8
	case Uint16, Sint16:
		return 16
	default:
		return 32
	}
}

// Size returns the access width in bytes.
func (k AccessKind) Size() uint32 {
	return uint32(k.Width() / 8)
}

// IsByte reports whether the access is 8 bits wide.
func (k AccessKind) IsByte() bool {
	return k == Uint8 || k == Sint8
}

func (k AccessKind) String() string {
	switch k {
	case Uint8:
		return "u8"
	case Sint8:
		return "s8"
	case Uint16:
		return "u16"
	case Sint16:
		return "s16"
	case Uint32:
		return "u32"
	case Sint32:
		return "s32"
	case Fetch:
		return "fetch"
	default:
		return fmt.Sprintf("AccessKind(%d)", int(k))
	}
}

// ParseAccessKind converts the String form of an access kind back.
func ParseAccessKind(s string) (AccessKind, error) {
	for k := Uint8; k <= Fetch; k++ {
		if k.String() == s {
			return k, nil
		}
	}

	return 0, fmt.Errorf("unknown access kind %q", s)
}

// Extract returns the part of a 32-bit word selected by addr and kind, zero-
// or sign-extended to 32 bits.
func Extract(word, addr uint32, kind AccessKind) uint32 {
	shift := (addr % 4) * 8

	switch kind {
	case Uint8:
		return uint32(uint8(word >> shift))
	case Sint8:
		return uint32(int32(int8(word >> shift)))
	case Uint16:
		return uint32(uint16(word >> shift))
	case Sint16:
		return uint32(int32(int16(word >> shift)))
	default:
		return word
	}
}

// Insert merges value into old at the lane selected by addr and kind.
func Insert(old, value, addr uint32, kind AccessKind) uint32 {
	shift := (addr % 4) * 8

	var mask uint32
	switch kind {
	case Uint8, Sint8:
		mask = 0xFF
	case Uint16, Sint16:
		mask = 0xFFFF
	default:
		return value
	}

	return old&^(mask<<shift) | (value&mask)<<shift
}
