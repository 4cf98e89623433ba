package kernel

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/message"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

type sendMode uint8

const (
	modeSend sendMode = iota
	modeSendNB
	modeSendRec
)

func (m sendMode) String() string {
	switch m {
	case modeSendNB:
		return "sendnb"
	case modeSendRec:
		return "sendrec"
	default:
		return "send"
	}
}

// delivery distinguishes what is being handed to a receiver.
type delivery uint8

const (
	deliverSync delivery = iota
	deliverNotify
	deliverAsync
)

// Send delivers msg to dest, blocking until dest has taken it.
func (p *Process) Send(dest endpoint.Endpoint, msg message.Message) error {
	_, err := p.k.send(p, dest, msg, modeSend)
	return err
}

// SendNB delivers msg only if dest is already waiting for it, otherwise fails with ErrNotReady.
func (p *Process) SendNB(dest endpoint.Endpoint, msg message.Message) error {
	_, err := p.k.send(p, dest, msg, modeSendNB)
	return err
}

// SendRec sends msg to dest and waits for dest's reply as one call. Until the reply arrives the
// caller accepts nothing else: no notifications, no asynchronous messages, no other sender.
func (p *Process) SendRec(dest endpoint.Endpoint, msg message.Message) (message.Message, error) {
	return p.k.send(p, dest, msg, modeSendRec)
}

// Receive waits for a message from src, which may be endpoint.Any. Pending notifications are
// delivered first, then asynchronous messages, then blocked senders in arrival order.
func (p *Process) Receive(src endpoint.Endpoint) (message.Message, error) {
	return p.k.receive(p, src, true)
}

// ReceiveNB returns a pending message from src or fails with ErrNotReady.
func (p *Process) ReceiveNB(src endpoint.Endpoint) (message.Message, error) {
	return p.k.receive(p, src, false)
}

// Echo returns a kernel copy of msg stamped with the caller as source.
func (p *Process) Echo(msg message.Message) (message.Message, error) {
	timer := monitoring.NewTimer(p.k.metrics, "echo")
	reply, err := p.k.echo(p, msg)
	timer.Stop(err)
	return reply, err
}

func (k *Kernel) echo(p *Process, msg message.Message) (message.Message, error) {
	if err := k.enter(p); err != nil {
		return message.Message{}, err
	}
	defer k.mu.Unlock()

	f, err := encodeFrom(p.ep, msg)
	if err != nil {
		return message.Message{}, err
	}
	return message.Decode(f)
}

func (k *Kernel) send(p *Process, dest endpoint.Endpoint, msg message.Message, mode sendMode) (message.Message, error) {
	timer := monitoring.NewTimer(k.metrics, mode.String())
	reply, err := k.doSend(p, dest, msg, mode)
	timer.Stop(err)
	return reply, err
}

func (k *Kernel) doSend(p *Process, dest endpoint.Endpoint, msg message.Message, mode sendMode) (message.Message, error) {
	if err := k.enter(p); err != nil {
		return message.Message{}, err
	}
	defer k.mu.Unlock()

	if p.calling {
		return message.Message{}, fmt.Errorf("%s: %w", p, errno.ErrBusy)
	}
	dst, err := k.destination(p, dest)
	if err != nil {
		return message.Message{}, err
	}
	f, err := encodeFrom(p.ep, msg)
	if err != nil {
		return message.Message{}, err
	}

	if willing(dst, p.ep, deliverSync) {
		// A sendrec into a partner awaiting our reply would be taken as that reply.
		if mode == modeSendRec && dst.replyOnly {
			return message.Message{}, k.deadlock(p, dst.ep)
		}
		k.deliver(dst, f)
		if mode != modeSendRec {
			return message.Message{}, nil
		}
		p.state = StateReceiving
		p.recvFrom = dst.ep
		p.replyOnly = true
		return k.park(p)
	}

	if mode == modeSendNB {
		return message.Message{}, fmt.Errorf("%s not receiving: %w", dst, errno.ErrNotReady)
	}
	if k.closesCycle(p.ep, dst.ep) {
		return message.Message{}, k.deadlock(p, dst.ep)
	}
	if len(dst.callers) >= k.opts.SenderQueue {
		k.logger.Warn("sender queue full",
			logging.Endpoint("caller", p.ep),
			logging.Endpoint("dest", dst.ep),
			zap.Int("queued", len(dst.callers)),
		)
		return message.Message{}, fmt.Errorf("%s has %d queued senders: %w", dst, len(dst.callers), errno.ErrQueueFull)
	}

	p.state = StateSending
	p.sendTo = dst.ep
	p.outbox = f
	p.sendRec = mode == modeSendRec
	dst.callers = append(dst.callers, p)
	return k.park(p)
}

func (k *Kernel) receive(p *Process, src endpoint.Endpoint, block bool) (message.Message, error) {
	op := "receive"
	if !block {
		op = "receivenb"
	}
	timer := monitoring.NewTimer(k.metrics, op)
	msg, err := k.doReceive(p, src, block)
	timer.Stop(err)
	return msg, err
}

func (k *Kernel) doReceive(p *Process, src endpoint.Endpoint, block bool) (message.Message, error) {
	if err := k.enter(p); err != nil {
		return message.Message{}, err
	}
	defer k.mu.Unlock()

	if p.calling {
		return message.Message{}, fmt.Errorf("%s: %w", p, errno.ErrBusy)
	}
	if err := k.checkSource(p, src); err != nil {
		return message.Message{}, err
	}

	if f, ok := k.pending(p, src); ok {
		return message.Decode(f)
	}
	if !block {
		return message.Message{}, fmt.Errorf("nothing pending from %s: %w", src, errno.ErrNotReady)
	}
	if src != endpoint.Any && k.closesCycle(p.ep, src) {
		return message.Message{}, k.deadlock(p, src)
	}

	p.state = StateReceiving
	p.recvFrom = src
	p.replyOnly = false
	return k.park(p)
}

// destination validates a send or notify target. Caller holds mu.
func (k *Kernel) destination(p *Process, dest endpoint.Endpoint) (*Process, error) {
	if dest == p.ep || !dest.IsProcess() {
		return nil, fmt.Errorf("destination %s: %w", dest, errno.ErrBadSrcDst)
	}
	dst := k.lookup(dest)
	if dst == nil {
		return nil, fmt.Errorf("destination %s: %w", dest, errno.ErrDeadSrcDst)
	}
	return dst, nil
}

// checkSource validates a receive source. Kernel endpoints are valid sources of notifications.
func (k *Kernel) checkSource(p *Process, src endpoint.Endpoint) error {
	switch {
	case src == endpoint.Any, src.IsKernel():
		return nil
	case src == p.ep, !src.IsProcess():
		return fmt.Errorf("source %s: %w", src, errno.ErrBadSrcDst)
	case k.lookup(src) == nil:
		return fmt.Errorf("source %s: %w", src, errno.ErrDeadSrcDst)
	}
	return nil
}

// pending takes the highest-priority message waiting for p from src. Caller holds mu.
func (k *Kernel) pending(p *Process, src endpoint.Endpoint) (message.Frame, bool) {
	if from, ok := p.takeNotify(src); ok {
		return k.notifyFrame(from), true
	}
	if f, ok := k.takeAsync(p, src); ok {
		return f, true
	}
	for i, q := range p.callers {
		if src != endpoint.Any && q.ep != src {
			continue
		}
		p.callers = append(p.callers[:i], p.callers[i+1:]...)
		return k.takeSender(q), true
	}
	return message.Frame{}, false
}

// willing reports whether dst would accept a delivery of kind from src right now.
func willing(dst *Process, src endpoint.Endpoint, kind delivery) bool {
	if !dst.alive || dst.state != StateReceiving {
		return false
	}
	if dst.replyOnly {
		return kind == deliverSync && dst.recvFrom == src
	}
	return dst.recvFrom == endpoint.Any || dst.recvFrom == src
}

// deliver hands f to a receiving process and wakes it. Caller holds mu.
func (k *Kernel) deliver(dst *Process, f message.Frame) {
	dst.inbox = f
	dst.received = true
	dst.replyOnly = false
	dst.state = StateRunning
	dst.result = nil
	dst.cond.Signal()
}

// takeSender removes the outgoing message of a blocked sender. A sendrec caller moves straight
// to waiting for the reply without ever becoming runnable in between. Caller holds mu.
func (k *Kernel) takeSender(q *Process) message.Frame {
	if q.state != StateSending {
		k.panicf("queued caller %s is %s, not sending", q, q.state)
	}
	f := q.outbox
	q.outbox = message.Frame{}
	if q.sendRec {
		q.sendRec = false
		q.state = StateReceiving
		q.recvFrom = q.sendTo
		q.replyOnly = true
	} else {
		q.state = StateRunning
		q.result = nil
		q.cond.Signal()
	}
	q.sendTo = endpoint.None
	return f
}

// wake ends a blocked call with err. Caller holds mu.
func (k *Kernel) wake(q *Process, err error) {
	q.state = StateRunning
	q.sendRec = false
	q.replyOnly = false
	q.sendTo = endpoint.None
	q.outbox = message.Frame{}
	q.result = err
	q.cond.Signal()
}

// park blocks p until its call completes. Caller holds mu; Wait releases it while parked.
func (k *Kernel) park(p *Process) (message.Message, error) {
	p.calling = true
	k.metrics.IncBlocked()
	for p.state == StateSending || p.state == StateReceiving {
		p.cond.Wait()
	}
	k.metrics.DecBlocked()
	p.calling = false

	err := p.result
	p.result = nil
	if err != nil {
		p.received = false
		return message.Message{}, err
	}
	if !p.received {
		return message.Message{}, nil
	}
	p.received = false
	f := p.inbox
	p.inbox = message.Frame{}
	return message.Decode(f)
}

// encodeFrom stamps msg with src and encodes it. The notification type is reserved for the kernel.
func encodeFrom(src endpoint.Endpoint, msg message.Message) (message.Frame, error) {
	if msg.Type == message.NotifyMessage {
		return message.Frame{}, fmt.Errorf("message type %#x is reserved for notifications: %w", msg.Type, errno.ErrBadMessage)
	}
	msg.Source = src
	return message.Encode(msg)
}
