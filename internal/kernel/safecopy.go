package kernel

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/grant"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// Safecopy copies length bytes between the memory exposed by grant (owner, gid) at offset and
// the caller's memory at local. mode grant.Read copies from the grant into the caller,
// grant.Write copies from the caller into the grant. Nothing is copied unless every check passes.
func (p *Process) Safecopy(owner endpoint.Endpoint, gid grant.ID, offset, local, length uint64, mode grant.Access) error {
	timer := monitoring.NewTimer(p.k.metrics, "safecopy")
	err := p.k.safecopy(p, owner, gid, offset, local, length, mode)
	timer.Stop(err)
	return err
}

// SafecopyFrom reads from a grant into the caller's memory.
func (p *Process) SafecopyFrom(owner endpoint.Endpoint, gid grant.ID, offset, local, length uint64) error {
	return p.Safecopy(owner, gid, offset, local, length, grant.Read)
}

// SafecopyTo writes the caller's memory into a grant.
func (p *Process) SafecopyTo(owner endpoint.Endpoint, gid grant.ID, offset, local, length uint64) error {
	return p.Safecopy(owner, gid, offset, local, length, grant.Write)
}

func (k *Kernel) safecopy(p *Process, owner endpoint.Endpoint, gid grant.ID, offset, local, length uint64, mode grant.Access) error {
	if err := k.enter(p); err != nil {
		return err
	}
	defer k.mu.Unlock()
	return k.copyLocked(p, owner, gid, offset, local, length, mode)
}

// copyLocked validates and performs one copy. Caller holds mu.
func (k *Kernel) copyLocked(p *Process, owner endpoint.Endpoint, gid grant.ID, offset, local, length uint64, mode grant.Access) error {
	if mode != grant.Read && mode != grant.Write {
		return fmt.Errorf("safecopy mode %s must be exactly one direction: %w", mode, errno.ErrInvalid)
	}
	if owner == endpoint.Self {
		owner = p.ep
	}

	ch, err := k.walk(owner, gid, p.ep, mode)
	if err != nil {
		return err
	}
	remote, err := ch.r.Sub(offset, length)
	if err != nil {
		return err
	}
	src, err := ch.memOwner.space.Slice(remote)
	if err != nil {
		k.panicf("grant %d of %s covers %s outside %s", gid, owner, remote, ch.memOwner.space.Bounds())
	}
	dst, err := p.space.At(local, length)
	if err != nil {
		return err
	}

	if mode == grant.Read {
		copy(dst, src)
		k.metrics.RecordSafecopy("from", length)
	} else {
		copy(src, dst)
		k.metrics.RecordSafecopy("to", length)
	}
	return nil
}

// VEntry describes one segment of a vectored copy. Exactly one of From and To is the caller
// (or endpoint.Self); the other is the owner of Grant. Data moves from From to To.
type VEntry struct {
	From   endpoint.Endpoint
	To     endpoint.Endpoint
	Grant  grant.ID
	Offset uint64
	Addr   uint64
	Bytes  uint64
}

// VSafecopy performs every entry under one kernel lock acquisition. A failed entry copies
// nothing and does not stop the others; the result holds one error (or nil) per entry.
func (p *Process) VSafecopy(entries []VEntry) ([]error, error) {
	timer := monitoring.NewTimer(p.k.metrics, "vsafecopy")
	results, err := p.k.vsafecopy(p, entries)
	timer.Stop(err)
	return results, err
}

func (k *Kernel) vsafecopy(p *Process, entries []VEntry) ([]error, error) {
	if err := k.enter(p); err != nil {
		return nil, err
	}
	defer k.mu.Unlock()

	results := make([]error, len(entries))
	for i, e := range entries {
		results[i] = k.copyEntry(p, e)
	}
	return results, nil
}

// copyEntry runs one vectored segment. Caller holds mu.
func (k *Kernel) copyEntry(p *Process, e VEntry) error {
	fromSelf := e.From == endpoint.Self || e.From == p.ep
	toSelf := e.To == endpoint.Self || e.To == p.ep
	switch {
	case fromSelf && !toSelf:
		return k.copyLocked(p, e.To, e.Grant, e.Offset, e.Addr, e.Bytes, grant.Write)
	case toSelf && !fromSelf:
		return k.copyLocked(p, e.From, e.Grant, e.Offset, e.Addr, e.Bytes, grant.Read)
	default:
		return fmt.Errorf("vector entry %s -> %s must have the caller on exactly one side: %w", e.From, e.To, errno.ErrInvalid)
	}
}

// Succeeded counts the entries of a VSafecopy result that completed.
func Succeeded(results []error) int {
	n := 0
	for _, err := range results {
		if err == nil {
			n++
		}
	}
	return n
}
