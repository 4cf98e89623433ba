package kernel

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/message"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// AsyncFlags control completion reporting of an asynchronous send.
type AsyncFlags uint8

const (
	// AMFNotify makes the kernel notify the sender from endpoint.AsyncM when the entry completes.
	AMFNotify AsyncFlags = 1 << iota
	// AMFNotifyErr makes the kernel notify the sender only when the entry fails.
	AMFNotifyErr
)

// AsyncEntry is one message of an asynchronous send table.
type AsyncEntry struct {
	Dest  endpoint.Endpoint
	Msg   message.Message
	Flags AsyncFlags
}

type asyncSlot struct {
	dest  endpoint.Endpoint
	frame message.Frame
	flags AsyncFlags
	done  bool
	err   error
}

// AsyncTable tracks the entries of one SendA call. Entries are delivered when their destination
// receives, in table order per destination.
type AsyncTable struct {
	k     *Kernel
	owner endpoint.Endpoint
	slots []asyncSlot // Protected by k.mu
}

// SendA registers entries for asynchronous delivery and returns without blocking. Entries whose
// destination is already waiting are delivered at once. The new table replaces the previous
// one; entries of the old table that were still pending are dropped.
func (p *Process) SendA(entries []AsyncEntry) (*AsyncTable, error) {
	timer := monitoring.NewTimer(p.k.metrics, "senda")
	t, err := p.k.sendA(p, entries)
	timer.Stop(err)
	return t, err
}

func (k *Kernel) sendA(p *Process, entries []AsyncEntry) (*AsyncTable, error) {
	if len(entries) > k.opts.AsyncTable {
		return nil, fmt.Errorf("%d async entries, table holds %d: %w", len(entries), k.opts.AsyncTable, errno.ErrQueueFull)
	}
	if err := k.enter(p); err != nil {
		return nil, err
	}
	defer k.mu.Unlock()

	t := &AsyncTable{k: k, owner: p.ep, slots: make([]asyncSlot, len(entries))}
	p.async = t

	for i, e := range entries {
		s := &t.slots[i]
		s.dest = e.Dest
		s.flags = e.Flags

		dst, err := k.destination(p, e.Dest)
		if err == nil {
			s.frame, err = encodeFrom(p.ep, e.Msg)
		}
		if err != nil {
			k.completeAsync(p, s, err)
			continue
		}
		if willing(dst, p.ep, deliverAsync) && !k.asyncQueuedBefore(t, i, dst.ep) {
			k.deliver(dst, s.frame)
			k.completeAsync(p, s, nil)
		}
	}
	return t, nil
}

// asyncQueuedBefore reports whether an earlier pending entry of t targets dest. Caller holds mu.
func (k *Kernel) asyncQueuedBefore(t *AsyncTable, i int, dest endpoint.Endpoint) bool {
	for _, s := range t.slots[:i] {
		if !s.done && s.dest == dest {
			return true
		}
	}
	return false
}

// takeAsync removes the first pending asynchronous message for p from src. Caller holds mu.
func (k *Kernel) takeAsync(p *Process, src endpoint.Endpoint) (message.Frame, bool) {
	for _, q := range k.procs {
		if q == nil || q.async == nil || (src != endpoint.Any && q.ep != src) {
			continue
		}
		for i := range q.async.slots {
			s := &q.async.slots[i]
			if s.done || s.dest != p.ep {
				continue
			}
			f := s.frame
			k.completeAsync(q, s, nil)
			return f, true
		}
	}
	return message.Frame{}, false
}

// completeAsync finishes an entry and notifies its sender if asked to. Caller holds mu.
func (k *Kernel) completeAsync(sender *Process, s *asyncSlot, err error) {
	s.done = true
	s.err = err
	s.frame = message.Frame{}
	if sender.alive && (s.flags&AMFNotify != 0 || (err != nil && s.flags&AMFNotifyErr != 0)) {
		k.notify(endpoint.AsyncM, sender)
	}
}

// failAsyncTo fails every pending entry addressed to a dead process. Caller holds mu.
func (k *Kernel) failAsyncTo(dead endpoint.Endpoint) {
	for _, q := range k.procs {
		if q == nil || q.async == nil {
			continue
		}
		for i := range q.async.slots {
			s := &q.async.slots[i]
			if !s.done && s.dest == dead {
				k.completeAsync(q, s, fmt.Errorf("destination %s exited: %w", dead, errno.ErrDeadSrcDst))
			}
		}
	}
}

// Len returns the number of entries in the table.
func (t *AsyncTable) Len() int { return len(t.slots) }

// Result reports whether entry i has completed and, if so, its outcome.
func (t *AsyncTable) Result(i int) (done bool, err error) {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	if i < 0 || i >= len(t.slots) {
		return false, fmt.Errorf("async entry %d of %d: %w", i, len(t.slots), errno.ErrInvalid)
	}
	s := t.slots[i]
	return s.done, s.err
}

// Pending returns how many entries have not completed yet.
func (t *AsyncTable) Pending() int {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	n := 0
	for _, s := range t.slots {
		if !s.done {
			n++
		}
	}
	return n
}
