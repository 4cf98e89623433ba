package kernel

import (
	"sort"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/id"
)

// GrantView is the diagnostic form of one grant.
type GrantView struct {
	ID       int32             `json:"id"`
	Kind     string            `json:"kind"`
	Access   string            `json:"access"`
	Enabled  bool              `json:"enabled"`
	Grantee  endpoint.Endpoint `json:"grantee"`
	Start    uint64            `json:"start,omitempty"`
	Length   uint64            `json:"length,omitempty"`
	MemOwner endpoint.Endpoint `json:"mem_owner,omitempty"`
	UpOwner  endpoint.Endpoint `json:"up_owner,omitempty"`
	UpID     int32             `json:"up_id,omitempty"`
}

// ProcessView is the diagnostic form of one process.
type ProcessView struct {
	Endpoint      endpoint.Endpoint   `json:"endpoint"`
	Label         string              `json:"label"`
	Name          string              `json:"name"`
	Privileges    Privilege           `json:"privileges"`
	State         string              `json:"state"`
	SendTo        endpoint.Endpoint   `json:"send_to,omitempty"`
	RecvFrom      endpoint.Endpoint   `json:"recv_from,omitempty"`
	ReplyPending  bool                `json:"reply_pending,omitempty"`
	QueuedSenders []endpoint.Endpoint `json:"queued_senders,omitempty"`
	Notifications []endpoint.Endpoint `json:"notifications,omitempty"`
	AsyncPending  int                 `json:"async_pending,omitempty"`
	Grants        []GrantView         `json:"grants,omitempty"`
	Sched         SchedInfo           `json:"sched"`
	MemoryBytes   uint64              `json:"memory_bytes"`
}

// Snapshot is a consistent view of the whole kernel taken under one lock acquisition.
type Snapshot struct {
	Instance  id.InstanceID `json:"instance"`
	Clock     uint64        `json:"clock"`
	MaxProcs  int           `json:"max_procs"`
	Processes []ProcessView `json:"processes"`
}

// Snapshot captures every live process, its wait state, pending deliveries and grants.
func (k *Kernel) Snapshot() Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()

	s := Snapshot{
		Instance: k.instance,
		Clock:    k.clock,
		MaxProcs: len(k.procs),
	}
	for _, p := range k.procs {
		if p != nil {
			s.Processes = append(s.Processes, p.view())
		}
	}
	return s
}

// view builds the diagnostic form of p. Caller holds mu.
func (p *Process) view() ProcessView {
	v := ProcessView{
		Endpoint:     p.ep,
		Label:        p.ep.String(),
		Name:         p.name,
		Privileges:   p.priv,
		State:        p.state.String(),
		ReplyPending: p.replyOnly || p.sendRec,
		Sched:        p.sched,
		MemoryBytes:  p.space.Bounds().Len(),
	}
	switch p.state {
	case StateSending:
		v.SendTo = p.sendTo
	case StateReceiving:
		v.RecvFrom = p.recvFrom
	}
	for _, q := range p.callers {
		v.QueuedSenders = append(v.QueuedSenders, q.ep)
	}
	for ep := range p.notifies {
		v.Notifications = append(v.Notifications, ep)
	}
	sort.Slice(v.Notifications, func(i, j int) bool { return v.Notifications[i] < v.Notifications[j] })
	if p.async != nil {
		for _, s := range p.async.slots {
			if !s.done {
				v.AsyncPending++
			}
		}
	}
	for _, e := range p.grants.Entries() {
		g := e.Grant
		v.Grants = append(v.Grants, GrantView{
			ID:       int32(e.ID),
			Kind:     g.Kind.String(),
			Access:   g.Access.String(),
			Enabled:  g.Enabled,
			Grantee:  g.Grantee,
			Start:    g.Range.Start(),
			Length:   g.Range.Len(),
			MemOwner: g.MemOwner,
			UpOwner:  g.UpOwner,
			UpID:     int32(e.Grant.UpID),
		})
	}
	return v
}
