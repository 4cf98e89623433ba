package kernel

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/message"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// Notify posts a payload-less signal to dest without blocking. Signals from one source that
// dest has not received yet collapse into a single pending notification.
func (p *Process) Notify(dest endpoint.Endpoint) error {
	timer := monitoring.NewTimer(p.k.metrics, "notify")
	err := p.k.notifyFromProcess(p, dest)
	timer.Stop(err)
	return err
}

func (k *Kernel) notifyFromProcess(p *Process, dest endpoint.Endpoint) error {
	if err := k.enter(p); err != nil {
		return err
	}
	defer k.mu.Unlock()

	dst, err := k.destination(p, dest)
	if err != nil {
		return err
	}
	k.notify(p.ep, dst)
	return nil
}

// NotifyFrom posts a notification on behalf of a kernel service such as endpoint.Clock.
func (k *Kernel) NotifyFrom(src, dest endpoint.Endpoint) error {
	if !src.IsKernel() {
		return fmt.Errorf("notify source %s is not a kernel service: %w", src, errno.ErrBadSrcDst)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.clock++

	dst := k.lookup(dest)
	if dst == nil {
		return fmt.Errorf("destination %s: %w", dest, errno.ErrDeadSrcDst)
	}
	k.notify(src, dst)
	return nil
}

// notify delivers or records a notification. Caller holds mu.
func (k *Kernel) notify(src endpoint.Endpoint, dst *Process) {
	k.metrics.IncNotifications()
	if willing(dst, src, deliverNotify) {
		k.deliver(dst, k.notifyFrame(src))
		return
	}
	dst.notifies[src] = struct{}{}
}

// notifyFrame builds the message a receiver sees for a notification from src. Caller holds mu.
func (k *Kernel) notifyFrame(src endpoint.Endpoint) message.Frame {
	f, err := message.Encode(message.Message{
		Source:  src,
		Type:    message.NotifyMessage,
		Payload: message.Notification{Timestamp: k.clock},
	})
	if err != nil {
		k.panicf("encode notification: %v", err)
	}
	return f
}

// takeNotify removes a pending notification matching src. With endpoint.Any the lowest source
// endpoint goes first, so kernel services precede processes. Caller holds mu.
func (p *Process) takeNotify(src endpoint.Endpoint) (endpoint.Endpoint, bool) {
	if len(p.notifies) == 0 {
		return 0, false
	}
	if src != endpoint.Any {
		if _, ok := p.notifies[src]; !ok {
			return 0, false
		}
		delete(p.notifies, src)
		return src, true
	}

	var (
		first endpoint.Endpoint
		found bool
	)
	for ep := range p.notifies {
		if !found || ep < first {
			first, found = ep, true
		}
	}
	delete(p.notifies, first)
	return first, true
}
