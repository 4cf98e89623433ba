package kernel

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// closesCycle reports whether caller blocking on next would complete a wait cycle. It follows
// the chain of processes each blocked sending to, or receiving from a specific, next process.
// Caller holds mu.
func (k *Kernel) closesCycle(caller, next endpoint.Endpoint) bool {
	for hops := 0; hops <= len(k.procs); hops++ {
		if next == caller {
			return true
		}
		q := k.lookup(next)
		if q == nil {
			return false
		}
		switch q.state {
		case StateSending:
			next = q.sendTo
		case StateReceiving:
			if q.recvFrom == endpoint.Any {
				return false
			}
			next = q.recvFrom
		default:
			return false
		}
	}
	k.panicf("wait chain from %s longer than the process table", caller)
	return false
}

func (k *Kernel) deadlock(p *Process, partner endpoint.Endpoint) error {
	k.metrics.IncDeadlocks()
	k.logger.Debug("wait cycle refused",
		logging.Endpoint("caller", p.ep),
		logging.Endpoint("partner", partner),
	)
	return fmt.Errorf("%s waiting on %s: %w", p, partner, errno.ErrDeadlock)
}
