package grant

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// ID names a grant relative to its owner's table.
type ID int32

// Invalid is never returned for a live grant.
const Invalid ID = -1

const (
	slotBits = 16
	slotMask = 1<<slotBits - 1

	// Sequence numbers run 1..maxSeq per slot and then wrap, so an id stale by maxSeq
	// reuses of one slot names the current grant again.
	maxSeq = 0x7fff

	// MaxSlots bounds a table's capacity.
	MaxSlots = 1 << slotBits
)

func makeID(slot int, seq uint16) ID {
	return ID(int32(seq)<<slotBits | int32(slot))
}

// Slot returns the table index encoded in id.
func (id ID) Slot() int { return int(id) & slotMask }

// Seq returns the sequence number encoded in id.
func (id ID) Seq() uint16 { return uint16(int32(id) >> slotBits) }

type slot struct {
	grant Grant
	seq   uint16
	inUse bool
}

// Entry is a live grant and its ID.
type Entry struct {
	ID    ID
	Grant Grant
}

// Table is a fixed-capacity grant arena owned by one process.
type Table struct {
	slots []slot
	used  int
}

// NewTable creates a table with room for capacity grants.
func NewTable(capacity int) *Table {
	if capacity <= 0 || capacity > MaxSlots {
		panic(fmt.Sprintf("grant: table capacity %d out of range", capacity))
	}
	slots := make([]slot, capacity)
	for i := range slots {
		slots[i].seq = 1
	}
	return &Table{slots: slots}
}

// Cap returns the table capacity.
func (t *Table) Cap() int { return len(t.slots) }

// Len returns the number of live grants.
func (t *Table) Len() int { return t.used }

// Insert stores g in the lowest free slot.
func (t *Table) Insert(g Grant) (ID, error) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.inUse {
			continue
		}
		s.grant = g
		s.inUse = true
		t.used++
		return makeID(i, s.seq), nil
	}
	return Invalid, fmt.Errorf("%d slots in use: %w", t.used, errno.ErrTableFull)
}

func (t *Table) lookup(id ID) (*slot, error) {
	if id < 0 {
		return nil, fmt.Errorf("grant %d: %w", id, errno.ErrInvalidGrant)
	}
	i := id.Slot()
	if i >= len(t.slots) {
		return nil, fmt.Errorf("grant %d: slot %d out of table: %w", id, i, errno.ErrInvalidGrant)
	}
	s := &t.slots[i]
	if !s.inUse || s.seq != id.Seq() {
		return nil, fmt.Errorf("grant %d: stale or free slot: %w", id, errno.ErrInvalidGrant)
	}
	return s, nil
}

// Get returns a copy of the grant named by id.
func (t *Table) Get(id ID) (Grant, error) {
	s, err := t.lookup(id)
	if err != nil {
		return Grant{}, err
	}
	return s.grant, nil
}

// Remove frees the slot named by id and bumps its sequence.
func (t *Table) Remove(id ID) error {
	s, err := t.lookup(id)
	if err != nil {
		return err
	}
	t.free(s)
	return nil
}

func (t *Table) free(s *slot) {
	s.grant = Grant{}
	s.inUse = false
	if s.seq >= maxSeq {
		s.seq = 1
	} else {
		s.seq++
	}
	t.used--
}

// SetEnabled suspends or resumes a grant without freeing it.
func (t *Table) SetEnabled(id ID, enabled bool) error {
	s, err := t.lookup(id)
	if err != nil {
		return err
	}
	s.grant.Enabled = enabled
	return nil
}

// Entries lists live grants in slot order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, t.used)
	for i := range t.slots {
		s := &t.slots[i]
		if s.inUse {
			out = append(out, Entry{ID: makeID(i, s.seq), Grant: s.grant})
		}
	}
	return out
}

// RemoveIf frees every grant for which match returns true and returns the freed IDs.
func (t *Table) RemoveIf(match func(ID, Grant) bool) []ID {
	var removed []ID
	for i := range t.slots {
		s := &t.slots[i]
		if !s.inUse {
			continue
		}
		id := makeID(i, s.seq)
		if match(id, s.grant) {
			removed = append(removed, id)
			t.free(s)
		}
	}
	return removed
}

// Clear frees every grant and returns how many were live.
func (t *Table) Clear() int {
	n := t.used
	for i := range t.slots {
		if t.slots[i].inUse {
			t.free(&t.slots[i])
		}
	}
	return n
}
