// Package memory models process address spaces and checked address ranges.
//
// A Range can only be built through NewRange or Sub, both of which reject overflow, so a Range
// value in hand is always well formed. Safecopy narrows a granted Range with Sub and never does
// raw offset arithmetic itself.
package memory

import (
	"fmt"
	"math"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// Range is a half-open virtual address interval [start, start+length).
type Range struct {
	start  uint64
	length uint64
}

// NewRange returns the range starting at start spanning length bytes.
func NewRange(start, length uint64) (Range, error) {
	if length > math.MaxUint64-start {
		return Range{}, fmt.Errorf("range 0x%x+%d overflows: %w", start, length, errno.ErrInvalid)
	}
	return Range{start: start, length: length}, nil
}

// Start returns the first address of r.
func (r Range) Start() uint64 { return r.start }

// Len returns the number of bytes covered by r.
func (r Range) Len() uint64 { return r.length }

// End returns the first address past r.
func (r Range) End() uint64 { return r.start + r.length }

// Sub returns the sub-range of r at offset spanning length bytes.
func (r Range) Sub(offset, length uint64) (Range, error) {
	if offset > r.length || length > r.length-offset {
		return Range{}, fmt.Errorf("offset %d length %d outside %d-byte range: %w",
			offset, length, r.length, errno.ErrRange)
	}
	return Range{start: r.start + offset, length: length}, nil
}

// Contains reports whether o lies entirely inside r.
func (r Range) Contains(o Range) bool {
	return o.start >= r.start && o.End() <= r.End()
}

func (r Range) String() string {
	return fmt.Sprintf("[0x%x,0x%x)", r.start, r.End())
}
