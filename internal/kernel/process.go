package kernel

import (
	"fmt"
	"sync"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/grant"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/memory"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/message"
)

// State is what a process is doing inside the kernel.
type State uint8

const (
	StateRunning State = iota
	StateSending
	StateReceiving
	StateExited
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSending:
		return "sending"
	case StateReceiving:
		return "receiving"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// SchedInfo is the kernel-side scheduling record of a process.
type SchedInfo struct {
	Scheduler endpoint.Endpoint `json:"scheduler"`
	Priority  int               `json:"priority"`
	Quantum   int               `json:"quantum"`
	CPU       int               `json:"cpu"`
}

// Process is the handle a process uses to call into the kernel. A handle represents one
// thread of control: only one blocking call may be in flight on it at a time.
type Process struct {
	k     *Kernel
	ep    endpoint.Endpoint
	name  string
	priv  Privilege
	space *memory.Space
	cond  *sync.Cond

	// Everything below is protected by k.mu.
	alive  bool
	grants *grant.Table
	sched  SchedInfo

	calling   bool
	state     State
	sendTo    endpoint.Endpoint
	outbox    message.Frame
	sendRec   bool
	recvFrom  endpoint.Endpoint
	replyOnly bool
	inbox     message.Frame
	received  bool
	result    error

	callers  []*Process
	notifies map[endpoint.Endpoint]struct{}
	async    *AsyncTable
}

// Endpoint returns the process endpoint.
func (p *Process) Endpoint() endpoint.Endpoint { return p.ep }

// Name returns the name the process was spawned with.
func (p *Process) Name() string { return p.name }

// Privileges returns the process privileges.
func (p *Process) Privileges() Privilege { return p.priv }

func (p *Process) String() string {
	if p.name == "" {
		return p.ep.String()
	}
	return fmt.Sprintf("%s(%s)", p.name, p.ep)
}

// Alive reports whether the process has not exited.
func (p *Process) Alive() bool {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.alive
}

// State returns the current kernel state of the process.
func (p *Process) State() State {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	if !p.alive {
		return StateExited
	}
	return p.state
}

// Sched returns the kernel-side scheduling record.
func (p *Process) Sched() SchedInfo {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.sched
}

// Bounds returns the process address space range.
func (p *Process) Bounds() memory.Range { return p.space.Bounds() }

// Read copies length bytes of the process's own memory at addr.
func (p *Process) Read(addr, length uint64) ([]byte, error) {
	if err := p.k.enter(p); err != nil {
		return nil, err
	}
	defer p.k.mu.Unlock()

	b, err := p.space.At(addr, length)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Write stores data into the process's own memory at addr.
func (p *Process) Write(addr uint64, data []byte) error {
	if err := p.k.enter(p); err != nil {
		return err
	}
	defer p.k.mu.Unlock()

	b, err := p.space.At(addr, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}
