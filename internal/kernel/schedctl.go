package kernel

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// SchedCtl records who schedules target and with which parameters. scheduler is either
// endpoint.Kernel or a live process. The caller needs PrivSchedCtl.
func (p *Process) SchedCtl(target endpoint.Endpoint, info SchedInfo) error {
	timer := monitoring.NewTimer(p.k.metrics, "schedctl")
	err := p.k.schedCtl(p, target, info)
	timer.Stop(err)
	return err
}

func (k *Kernel) schedCtl(p *Process, target endpoint.Endpoint, info SchedInfo) error {
	if err := k.enter(p); err != nil {
		return err
	}
	defer k.mu.Unlock()

	if !p.priv.Has(PrivSchedCtl) {
		return fmt.Errorf("%s may not change scheduling: %w", p, errno.ErrCallDenied)
	}
	if target == endpoint.Self {
		target = p.ep
	}
	t := k.lookup(target)
	if t == nil {
		return fmt.Errorf("schedulee %s: %w", target, errno.ErrDeadSrcDst)
	}
	if info.Scheduler != endpoint.Kernel && k.lookup(info.Scheduler) == nil {
		return fmt.Errorf("scheduler %s: %w", info.Scheduler, errno.ErrDeadSrcDst)
	}
	if info.Priority < 0 || info.Quantum < 0 || info.CPU < 0 {
		return fmt.Errorf("priority %d quantum %d cpu %d: %w", info.Priority, info.Quantum, info.CPU, errno.ErrInvalid)
	}

	t.sched = info
	k.logger.Debug("scheduling changed",
		logging.Endpoint("schedulee", t.ep),
		logging.Endpoint("scheduler", info.Scheduler),
		zap.Int("priority", info.Priority),
		zap.Int("quantum", info.Quantum),
	)
	return nil
}
