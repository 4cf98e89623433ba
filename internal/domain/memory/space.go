package memory

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// DefaultBase is the first virtual address of a process image.
const DefaultBase = 0x1000

// Space is a flat process address space backed by a byte slice.
// It is not synchronized; the kernel lock guards every access.
type Space struct {
	bounds Range
	buf    []byte
}

// NewSpace allocates size bytes mapped at base.
func NewSpace(base, size uint64) (*Space, error) {
	r, err := NewRange(base, size)
	if err != nil {
		return nil, err
	}
	return &Space{bounds: r, buf: make([]byte, size)}, nil
}

// Bounds returns the mapped range.
func (s *Space) Bounds() Range { return s.bounds }

// Slice returns the bytes backing r, which must be mapped.
func (s *Space) Slice(r Range) ([]byte, error) {
	if !s.bounds.Contains(r) {
		return nil, fmt.Errorf("%s not mapped in %s: %w", r, s.bounds, errno.ErrRange)
	}
	off := r.start - s.bounds.start
	return s.buf[off : off+r.length : off+r.length], nil
}

// At is Slice for a (start, length) pair.
func (s *Space) At(start, length uint64) ([]byte, error) {
	r, err := NewRange(start, length)
	if err != nil {
		return nil, err
	}
	return s.Slice(r)
}

// Wipe zeroes the whole space.
func (s *Space) Wipe() {
	clear(s.buf)
}
