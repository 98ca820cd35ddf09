package cache

import "fmt"

// Policy chooses the way to evict on a miss and tracks recency per set. The
// state word of each set belongs to the policy.
type Policy interface {
	// Name returns the configuration name of the policy.
	Name() string
	// Select picks the victim way of a set and marks it most recent.
	Select(state *uint32) int
	// Update marks way most recent after a hit.
	Update(state *uint32, way int)
	// Reset drops any memoized transitions.
	Reset()
}

// Policy names.
const (
	PseudoLRUName = "pseudo-lru"
	TrueLRUName   = "true-lru"
)

// NewPolicy creates the policy with the given name.
func NewPolicy(name string) (Policy, error) {
	switch name {
	case PseudoLRUName, "":
		return PseudoLRU{}, nil
	case TrueLRUName:
		return NewTrueLRU(), nil
	default:
		return nil, fmt.Errorf("unknown eviction policy %q", name)
	}
}

// PseudoLRU is the 6-bit pairwise-order tree for four ways. Bit 5 orders
// ways 0/1, bit 4 ways 0/2, bit 3 ways 0/3, bit 2 ways 1/2, bit 1 ways 1/3
// and bit 0 ways 2/3.
type PseudoLRU struct{}

// Name implements Policy.
func (PseudoLRU) Name() string { return PseudoLRUName }

// Reset implements Policy.
func (PseudoLRU) Reset() {}

// Select implements Policy.
func (p PseudoLRU) Select(state *uint32) int {
	s := *state

	var way int
	switch {
	case s&0x38 == 0x38:
		way = 0
	case s&0x26 == 0x06:
		way = 1
	case s&0x15 == 0x01:
		way = 2
	case s&0x0B == 0x00:
		way = 3
	default:
		way = 0
	}

	p.Update(state, way)

	return way
}

// Update implements Policy.
func (PseudoLRU) Update(state *uint32, way int) {
	s := *state

	switch way {
	case 0:
		s &^= 0x38
	case 1:
		s = s&^0x26 | 0x20
	case 2:
		s = s&^0x15 | 0x14
	case 3:
		s = s&^0x0B | 0x0B
	}

	*state = s
}

const (
	counterBits = 2
	counterMask = 1<<counterBits - 1
	counterMax  = counterMask
	stateBits   = counterBits * Ways
	stateMask   = 1<<stateBits - 1
	unmemoized  = 0xFFFFFFFF
)

// TrueLRU keeps a 2-bit recency counter per way packed into the state word;
// 3 is most recent. Transitions are computed once per distinct input and
// memoized. Both tables are indexed by the packed state, so their size is
// bounded by the state space: 256 select entries and 1024 update entries.
type TrueLRU struct {
	selectMemo [1 << stateBits]uint32
	updateMemo [1 << (stateBits + 2)]uint32
}

// NewTrueLRU creates a policy with empty memo tables.
func NewTrueLRU() *TrueLRU {
	p := &TrueLRU{}
	p.Reset()
	return p
}

// Name implements Policy.
func (*TrueLRU) Name() string { return TrueLRUName }

// Reset implements Policy.
func (p *TrueLRU) Reset() {
	for i := range p.selectMemo {
		p.selectMemo[i] = unmemoized
	}
	for i := range p.updateMemo {
		p.updateMemo[i] = unmemoized
	}
}

// Select implements Policy. The victim is the way with the smallest counter,
// the lowest index on ties.
func (p *TrueLRU) Select(state *uint32) int {
	s := *state & stateMask

	next := p.selectMemo[s]
	if next == unmemoized {
		minWay := 0
		minCount := uint32(counterMax + 1)

		for way := 0; way < Ways; way++ {
			if c := counter(s, way); c < minCount {
				minCount = c
				minWay = way
			}
		}

		next = promote(s, minWay, minCount) | uint32(minWay)<<stateBits
		p.selectMemo[s] = next
	}

	*state = next & stateMask

	return int(next >> stateBits)
}

// Update implements Policy.
func (p *TrueLRU) Update(state *uint32, way int) {
	s := *state & stateMask
	key := s | uint32(way)<<stateBits

	next := p.updateMemo[key]
	if next == unmemoized {
		next = promote(s, way, counter(s, way))
		p.updateMemo[key] = next
	}

	*state = next
}

// promote makes way most recent. Counters at or above the old count of way
// move down one step; zero counters stay put.
func promote(s uint32, way int, old uint32) uint32 {
	var next uint32

	for i := 0; i < Ways; i++ {
		c := counter(s, i)

		if i == way {
			c = counterMax
		} else if c != 0 && c >= old {
			c--
		}

		next |= (c & counterMask) << (i * counterBits)
	}

	return next
}

func counter(s uint32, way int) uint32 {
	return s >> (way * counterBits) & counterMask
}
