package kernel

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/grant"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/memory"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// GrantDirect lets grantee access [start, start+length) of the caller's memory with mode.
// grantee may be endpoint.Any.
func (p *Process) GrantDirect(grantee endpoint.Endpoint, start, length uint64, mode grant.Access) (grant.ID, error) {
	timer := monitoring.NewTimer(p.k.metrics, "grant_direct")
	gid, err := p.k.grantDirect(p, grantee, start, length, mode)
	timer.Stop(err)
	return gid, err
}

// GrantIndirect re-delegates the grant (upOwner, upID), which must be granted to the caller,
// to grantee. The new grant's access is mode narrowed to the upstream grant's access.
func (p *Process) GrantIndirect(grantee, upOwner endpoint.Endpoint, upID grant.ID, mode grant.Access) (grant.ID, error) {
	timer := monitoring.NewTimer(p.k.metrics, "grant_indirect")
	gid, err := p.k.grantIndirect(p, grantee, upOwner, upID, mode)
	timer.Stop(err)
	return gid, err
}

// GrantMagic lets grantee access a range of owner's memory. The caller needs PrivMagicGrant.
func (p *Process) GrantMagic(grantee, owner endpoint.Endpoint, start, length uint64, mode grant.Access) (grant.ID, error) {
	timer := monitoring.NewTimer(p.k.metrics, "grant_magic")
	gid, err := p.k.grantMagic(p, grantee, owner, start, length, mode)
	timer.Stop(err)
	return gid, err
}

// Revoke frees a grant. Safecopies already past validation have finished, because both run
// under the kernel lock; indirect grants derived from it fail from now on.
func (p *Process) Revoke(gid grant.ID) error {
	if err := p.k.enter(p); err != nil {
		return err
	}
	err := p.grants.Remove(gid)
	p.k.mu.Unlock()

	if err != nil {
		return err
	}
	p.k.metrics.RecordRevoked("revoke", 1)
	p.k.logger.Debug("grant revoked", logging.Endpoint("owner", p.ep), logging.Grant("grant", gid))
	p.k.event("revoke", p.ep, nil, map[string]string{"grant": fmt.Sprint(int32(gid))})
	return nil
}

// SetGrantEnabled suspends or resumes one of the caller's grants without freeing its slot.
func (p *Process) SetGrantEnabled(gid grant.ID, enabled bool) error {
	if err := p.k.enter(p); err != nil {
		return err
	}
	defer p.k.mu.Unlock()
	return p.grants.SetEnabled(gid, enabled)
}

// Grants lists the caller's live grants.
func (p *Process) Grants() ([]grant.Entry, error) {
	if err := p.k.enter(p); err != nil {
		return nil, err
	}
	defer p.k.mu.Unlock()
	return p.grants.Entries(), nil
}

// LookupGrant resolves one of the caller's grants. See Kernel.LookupGrant.
func (p *Process) LookupGrant(gid grant.ID) (source, target endpoint.Endpoint, err error) {
	return p.k.LookupGrant(p.ep, gid)
}

// LookupGrant returns the process whose memory the grant (owner, gid) ultimately exposes and
// the grantee allowed to use it. Indirect chains are followed to their root.
func (k *Kernel) LookupGrant(owner endpoint.Endpoint, gid grant.ID) (source, target endpoint.Endpoint, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	op := k.lookup(owner)
	if op == nil {
		return endpoint.None, endpoint.None, fmt.Errorf("grant owner %s: %w", owner, errno.ErrDeadSrcDst)
	}
	g, err := op.grants.Get(gid)
	if err != nil {
		return endpoint.None, endpoint.None, err
	}
	ch, err := k.walk(owner, gid, g.Grantee, 0)
	if err != nil {
		return endpoint.None, endpoint.None, err
	}
	return ch.memOwner.ep, g.Grantee, nil
}

type chainInfo struct {
	first    grant.Grant
	depth    int
	owners   []endpoint.Endpoint
	memOwner *Process
	r        memory.Range
}

func (c chainInfo) includes(ep endpoint.Endpoint) bool {
	for _, o := range c.owners {
		if o == ep {
			return true
		}
	}
	return false
}

// walk resolves the grant (owner, gid) as used by user for mode, following indirect grants to
// the memory they expose. Every link must be live, enabled, granted to the next user down the
// chain and allow mode. Caller holds mu.
func (k *Kernel) walk(owner endpoint.Endpoint, gid grant.ID, user endpoint.Endpoint, mode grant.Access) (chainInfo, error) {
	var ch chainInfo
	seen := make(map[grantRef]struct{})
	for {
		if ch.depth >= k.opts.MaxGrantDepth {
			return ch, fmt.Errorf("grant chain deeper than %d: %w", k.opts.MaxGrantDepth, errno.ErrLoop)
		}
		ref := grantRef{owner, gid}
		if _, ok := seen[ref]; ok {
			return ch, fmt.Errorf("grant chain revisits %d of %s: %w", gid, owner, errno.ErrLoop)
		}
		seen[ref] = struct{}{}

		op := k.lookup(owner)
		if op == nil {
			return ch, fmt.Errorf("grant owner %s: %w", owner, errno.ErrDeadSrcDst)
		}
		g, err := op.grants.Get(gid)
		if err != nil {
			return ch, err
		}
		if !g.Enabled {
			return ch, fmt.Errorf("grant %d of %s disabled: %w", gid, owner, errno.ErrInvalidGrant)
		}
		if !g.GrantedTo(user) {
			return ch, fmt.Errorf("grant %d of %s not granted to %s: %w", gid, owner, user, errno.ErrPerm)
		}
		if !g.Access.Allows(mode) {
			return ch, fmt.Errorf("grant %d of %s allows %s, not %s: %w", gid, owner, g.Access, mode, errno.ErrPerm)
		}

		if ch.depth == 0 {
			ch.first = g
		}
		ch.depth++
		ch.owners = append(ch.owners, owner)

		switch g.Kind {
		case grant.Direct:
			ch.memOwner = op
			ch.r = g.Range
			return ch, nil
		case grant.Magic:
			mo := k.lookup(g.MemOwner)
			if mo == nil {
				return ch, fmt.Errorf("memory owner %s: %w", g.MemOwner, errno.ErrDeadSrcDst)
			}
			ch.memOwner = mo
			ch.owners = append(ch.owners, mo.ep)
			ch.r = g.Range
			return ch, nil
		case grant.Indirect:
			user, owner, gid = owner, g.UpOwner, g.UpID
		default:
			k.panicf("grant %d of %s has kind %s", gid, owner, g.Kind)
		}
	}
}

func (k *Kernel) grantDirect(p *Process, grantee endpoint.Endpoint, start, length uint64, mode grant.Access) (grant.ID, error) {
	if err := k.enter(p); err != nil {
		return grant.Invalid, err
	}
	defer k.mu.Unlock()

	if err := checkAccess(mode); err != nil {
		return grant.Invalid, err
	}
	if err := k.checkGrantee(grantee); err != nil {
		return grant.Invalid, err
	}
	r, err := rangeIn(p.space, start, length)
	if err != nil {
		return grant.Invalid, err
	}
	return k.insert(p, grant.NewDirect(grantee, r, mode))
}

func (k *Kernel) grantIndirect(p *Process, grantee, upOwner endpoint.Endpoint, upID grant.ID, mode grant.Access) (grant.ID, error) {
	if err := k.enter(p); err != nil {
		return grant.Invalid, err
	}
	defer k.mu.Unlock()

	if err := checkAccess(mode); err != nil {
		return grant.Invalid, err
	}
	if err := k.checkGrantee(grantee); err != nil {
		return grant.Invalid, err
	}

	ch, err := k.walk(upOwner, upID, p.ep, 0)
	if err != nil {
		return grant.Invalid, err
	}
	if ch.depth+1 > k.opts.MaxGrantDepth {
		return grant.Invalid, fmt.Errorf("grant chain depth %d exceeds %d: %w", ch.depth+1, k.opts.MaxGrantDepth, errno.ErrLoop)
	}
	if grantee == p.ep || ch.includes(grantee) {
		return grant.Invalid, fmt.Errorf("grantee %s already on the grant chain: %w", grantee, errno.ErrLoop)
	}

	effective := mode.Restrict(ch.first.Access)
	if effective == 0 {
		return grant.Invalid, fmt.Errorf("requested %s, upstream allows %s: %w", mode, ch.first.Access, errno.ErrPerm)
	}
	return k.insert(p, grant.NewIndirect(grantee, upOwner, upID, effective))
}

func (k *Kernel) grantMagic(p *Process, grantee, owner endpoint.Endpoint, start, length uint64, mode grant.Access) (grant.ID, error) {
	if err := k.enter(p); err != nil {
		return grant.Invalid, err
	}
	defer k.mu.Unlock()

	if !p.priv.Has(PrivMagicGrant) {
		return grant.Invalid, fmt.Errorf("%s may not create magic grants: %w", p, errno.ErrCallDenied)
	}
	if err := checkAccess(mode); err != nil {
		return grant.Invalid, err
	}
	if err := k.checkGrantee(grantee); err != nil {
		return grant.Invalid, err
	}
	mo := k.lookup(owner)
	if mo == nil {
		return grant.Invalid, fmt.Errorf("memory owner %s: %w", owner, errno.ErrDeadSrcDst)
	}
	r, err := rangeIn(mo.space, start, length)
	if err != nil {
		return grant.Invalid, err
	}
	return k.insert(p, grant.NewMagic(grantee, mo.ep, r, mode))
}

// insert stores g in p's table. Caller holds mu.
func (k *Kernel) insert(p *Process, g grant.Grant) (grant.ID, error) {
	gid, err := p.grants.Insert(g)
	if err != nil {
		return grant.Invalid, fmt.Errorf("grant table of %s: %w", p, err)
	}
	k.metrics.AddGrants(1)
	k.logger.Debug("grant created",
		logging.Endpoint("owner", p.ep),
		logging.Grant("grant", gid),
		zap.Stringer("detail", g),
	)
	return gid, nil
}

// checkGrantee accepts endpoint.Any or a live process. Caller holds mu.
func (k *Kernel) checkGrantee(grantee endpoint.Endpoint) error {
	if grantee == endpoint.Any {
		return nil
	}
	if !grantee.IsProcess() {
		return fmt.Errorf("grantee %s: %w", grantee, errno.ErrInvalid)
	}
	if k.lookup(grantee) == nil {
		return fmt.Errorf("grantee %s: %w", grantee, errno.ErrDeadSrcDst)
	}
	return nil
}

func checkAccess(mode grant.Access) error {
	if !mode.Valid() {
		return fmt.Errorf("access %s: %w", mode, errno.ErrInvalid)
	}
	return nil
}

// rangeIn builds a range that must lie inside space.
func rangeIn(space *memory.Space, start, length uint64) (memory.Range, error) {
	r, err := memory.NewRange(start, length)
	if err != nil {
		return memory.Range{}, err
	}
	if !space.Bounds().Contains(r) {
		return memory.Range{}, fmt.Errorf("%s outside address space %s: %w", r, space.Bounds(), errno.ErrInvalid)
	}
	return r, nil
}
