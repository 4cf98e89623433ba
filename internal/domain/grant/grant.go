// Package grant implements per-process capability tables.
//
// A grant authorizes a grantee to read and/or write a bounded range of memory. Direct grants
// cover the owner's own memory, indirect grants re-delegate a grant the owner was given, and
// magic grants let a privileged owner hand out another process's memory.
//
// Tables are fixed-capacity arenas. A grant ID packs the slot index with the slot's sequence
// number, and the sequence is bumped every time a slot is freed, so a stale ID never resolves
// to a reused slot. Tables are not synchronized: the kernel serializes all access.
package grant

import (
	"fmt"
	"strings"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/memory"
)

// Access is a bitmask of permitted directions.
type Access uint8

const (
	Read Access = 1 << iota
	Write

	ReadWrite = Read | Write
)

// Valid reports whether a is a non-empty subset of ReadWrite.
func (a Access) Valid() bool {
	return a != 0 && a&^ReadWrite == 0
}

// Allows reports whether every bit of want is in a.
func (a Access) Allows(want Access) bool {
	return want&^a == 0
}

// Restrict intersects a with mask. Rights never widen.
func (a Access) Restrict(mask Access) Access {
	return a & mask
}

func (a Access) String() string {
	var sb strings.Builder
	if a&Read != 0 {
		sb.WriteByte('r')
	}
	if a&Write != 0 {
		sb.WriteByte('w')
	}
	if sb.Len() == 0 {
		return "-"
	}
	return sb.String()
}

// Kind distinguishes how a grant names its memory.
type Kind uint8

const (
	Direct Kind = iota + 1
	Indirect
	Magic
)

func (k Kind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Indirect:
		return "indirect"
	case Magic:
		return "magic"
	default:
		return "unknown"
	}
}

// Grant is one capability record.
type Grant struct {
	Kind    Kind
	Access  Access
	Enabled bool
	Grantee endpoint.Endpoint

	// Range is the granted memory for Direct and Magic grants.
	Range memory.Range
	// MemOwner owns Range for Magic grants.
	MemOwner endpoint.Endpoint

	// UpOwner and UpID name the grant an Indirect grant re-delegates.
	UpOwner endpoint.Endpoint
	UpID    ID
}

// NewDirect builds a direct grant over the owner's range r.
func NewDirect(grantee endpoint.Endpoint, r memory.Range, access Access) Grant {
	return Grant{Kind: Direct, Access: access, Enabled: true, Grantee: grantee, Range: r}
}

// NewIndirect builds a grant re-delegating (upOwner, upID) to grantee.
func NewIndirect(grantee, upOwner endpoint.Endpoint, upID ID, access Access) Grant {
	return Grant{Kind: Indirect, Access: access, Enabled: true, Grantee: grantee, UpOwner: upOwner, UpID: upID}
}

// NewMagic builds a grant over memOwner's range r.
func NewMagic(grantee, memOwner endpoint.Endpoint, r memory.Range, access Access) Grant {
	return Grant{Kind: Magic, Access: access, Enabled: true, Grantee: grantee, Range: r, MemOwner: memOwner}
}

// GrantedTo reports whether ep may use g.
func (g Grant) GrantedTo(ep endpoint.Endpoint) bool {
	return g.Grantee == ep || g.Grantee == endpoint.Any
}

func (g Grant) String() string {
	switch g.Kind {
	case Indirect:
		return fmt.Sprintf("indirect %s to %s via %s#%d", g.Access, g.Grantee, g.UpOwner, g.UpID)
	case Magic:
		return fmt.Sprintf("magic %s to %s over %s%s", g.Access, g.Grantee, g.MemOwner, g.Range)
	default:
		return fmt.Sprintf("direct %s to %s over %s", g.Access, g.Grantee, g.Range)
	}
}
