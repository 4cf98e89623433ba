package kernel

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/grant"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// Exit terminates the process. See Kernel.Exit.
func (p *Process) Exit() error {
	return p.k.Exit(p.ep)
}

// Exit terminates a process and removes every reference to it before its slot is released:
//   - its own blocked call fails with ErrExited,
//   - partners blocked sending to it or receiving from it fail with ErrDeadSrcDst,
//   - its pending notifications and queued asynchronous messages are dropped,
//   - every grant it owns, every grant naming it as grantee or memory owner, and every indirect
//     grant chaining through any of those is freed.
//
// Exit hooks run after the kernel lock is released.
func (k *Kernel) Exit(ep endpoint.Endpoint) error {
	k.mu.Lock()
	k.clock++
	p := k.lookup(ep)
	if p == nil {
		k.mu.Unlock()
		return fmt.Errorf("process %s: %w", ep, errno.ErrDeadSrcDst)
	}

	p.alive = false
	k.abortOwnCall(p)
	woken := k.wakePartners(p)

	p.callers = nil
	clear(p.notifies)
	p.async = nil
	for _, q := range k.procs {
		if q != nil && q != p {
			delete(q.notifies, ep)
		}
	}
	k.failAsyncTo(ep)

	revoked := k.revokeOnExit(p)
	p.space.Wipe()
	p.sched = SchedInfo{}

	k.procs[ep.Slot()] = nil
	k.live--
	live := k.live
	k.mu.Unlock()

	k.metrics.SetProcessesActive(live)
	k.metrics.IncProcessExits()
	k.metrics.RecordRevoked("exit", revoked)
	k.logger.Info("process exited",
		logging.Endpoint("endpoint", ep),
		zap.String("name", p.name),
		zap.Int("woken", woken),
		zap.Int("grants_revoked", revoked),
	)
	k.event("exit", ep, nil, map[string]string{"name": p.name})

	k.hooksMu.RLock()
	hooks := append([]ExitHook(nil), k.hooks...)
	k.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(ep)
	}
	return nil
}

// abortOwnCall fails a call p itself is blocked in. Caller holds mu.
func (k *Kernel) abortOwnCall(p *Process) {
	switch p.state {
	case StateSending:
		if dst := k.lookup(p.sendTo); dst != nil {
			dst.removeCaller(p)
		}
	case StateReceiving:
	default:
		p.state = StateExited
		return
	}
	k.wake(p, fmt.Errorf("%s: %w", p, errno.ErrExited))
	p.state = StateExited
}

// wakePartners fails every call blocked on p and returns how many there were. Caller holds mu.
func (k *Kernel) wakePartners(p *Process) int {
	n := 0
	for _, q := range p.callers {
		k.wake(q, fmt.Errorf("destination %s exited: %w", p.ep, errno.ErrDeadSrcDst))
		n++
	}
	for _, q := range k.procs {
		if q == nil || q == p || q.state != StateReceiving || q.recvFrom != p.ep {
			continue
		}
		k.wake(q, fmt.Errorf("source %s exited: %w", p.ep, errno.ErrDeadSrcDst))
		n++
	}
	return n
}

func (p *Process) removeCaller(q *Process) {
	for i, c := range p.callers {
		if c == q {
			p.callers = append(p.callers[:i], p.callers[i+1:]...)
			return
		}
	}
}

type grantRef struct {
	owner endpoint.Endpoint
	id    grant.ID
}

// revokeOnExit frees p's grants and every grant depending on p, to a fixed point, so no
// indirect chain survives with a dead link. Caller holds mu.
func (k *Kernel) revokeOnExit(p *Process) int {
	dead := make(map[grantRef]struct{})
	for _, e := range p.grants.Entries() {
		dead[grantRef{p.ep, e.ID}] = struct{}{}
	}
	total := p.grants.Clear()

	for {
		removed := 0
		for _, q := range k.procs {
			if q == nil || q == p {
				continue
			}
			ids := q.grants.RemoveIf(func(_ grant.ID, g grant.Grant) bool {
				switch {
				case g.Grantee == p.ep:
					return true
				case g.Kind == grant.Magic:
					return g.MemOwner == p.ep
				case g.Kind == grant.Indirect:
					if g.UpOwner == p.ep {
						return true
					}
					_, gone := dead[grantRef{g.UpOwner, g.UpID}]
					return gone
				}
				return false
			})
			for _, gid := range ids {
				dead[grantRef{q.ep, gid}] = struct{}{}
			}
			removed += len(ids)
		}
		if removed == 0 {
			return total
		}
		total += removed
	}
}
