package kernel

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/grant"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/memory"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/id"
)

// Options sizes the kernel tables.
type Options struct {
	MaxProcs       int
	GrantTableSize int
	MaxGrantDepth  int
	SenderQueue    int
	AsyncTable     int
	MemorySize     uint64
}

// DefaultOptions returns the table sizes used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxProcs:       256,
		GrantTableSize: 256,
		MaxGrantDepth:  5,
		SenderQueue:    64,
		AsyncTable:     64,
		MemorySize:     64 * 1024,
	}
}

// OptionsFromConfig converts the kernel config section.
func OptionsFromConfig(cfg config.KernelConfig) Options {
	return Options{
		MaxProcs:       cfg.MaxProcs,
		GrantTableSize: cfg.GrantTableSize,
		MaxGrantDepth:  cfg.MaxGrantDepth,
		SenderQueue:    cfg.SenderQueue,
		AsyncTable:     cfg.AsyncTable,
		MemorySize:     cfg.MemorySize,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxProcs <= 0 {
		o.MaxProcs = d.MaxProcs
	}
	if o.MaxProcs > endpoint.MaxSlots {
		o.MaxProcs = endpoint.MaxSlots
	}
	if o.GrantTableSize <= 0 {
		o.GrantTableSize = d.GrantTableSize
	}
	if o.MaxGrantDepth <= 0 {
		o.MaxGrantDepth = d.MaxGrantDepth
	}
	if o.SenderQueue <= 0 {
		o.SenderQueue = d.SenderQueue
	}
	if o.AsyncTable <= 0 {
		o.AsyncTable = d.AsyncTable
	}
	if o.MemorySize == 0 {
		o.MemorySize = d.MemorySize
	}
	return o
}

// ExitHook is called after a process has exited and every reference to it is gone.
type ExitHook func(ep endpoint.Endpoint)

// Kernel owns every process, message queue and grant table. One mutex serializes all of it.
type Kernel struct {
	mu       sync.Mutex
	opts     Options
	instance id.InstanceID

	procs []*Process // Protected by mu; indexed by slot, nil when free
	gens  []int      // Protected by mu; last generation handed out per slot
	live  int        // Protected by mu
	clock uint64     // Protected by mu; counts kernel calls

	hooksMu sync.RWMutex
	hooks   []ExitHook

	logger  *logging.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
}

// New creates a kernel with no processes.
func New(opts Options) *Kernel {
	opts = opts.withDefaults()
	return &Kernel{
		opts:     opts,
		instance: id.NewInstanceID(),
		procs:    make([]*Process, opts.MaxProcs),
		gens:     make([]int, opts.MaxProcs),
		logger:   logging.NewNop(),
	}
}

// WithLogger sets the kernel logger
func (k *Kernel) WithLogger(logger *logging.Logger) *Kernel {
	k.logger = logger.Named("kernel")
	return k
}

// WithMetrics adds metrics tracking to the kernel
func (k *Kernel) WithMetrics(metrics *monitoring.Metrics) *Kernel {
	k.metrics = metrics
	return k
}

// WithTracer adds span reporting for process lifecycle and grant events
func (k *Kernel) WithTracer(tracer *tracing.Tracer) *Kernel {
	k.tracer = tracer
	return k
}

// Options returns the effective table sizes.
func (k *Kernel) Options() Options { return k.opts }

// Instance identifies this kernel boot.
func (k *Kernel) Instance() id.InstanceID { return k.instance }

// OnExit registers a hook run after every process exit, outside the kernel lock.
func (k *Kernel) OnExit(hook ExitHook) {
	k.hooksMu.Lock()
	k.hooks = append(k.hooks, hook)
	k.hooksMu.Unlock()
}

// Privilege is a bitmask of kernel calls a process may make beyond the defaults.
type Privilege uint32

const (
	// PrivMagicGrant allows creating grants over another process's memory.
	PrivMagicGrant Privilege = 1 << iota
	// PrivSchedCtl allows changing the kernel-side scheduling of other processes.
	PrivSchedCtl

	PrivNone   Privilege = 0
	PrivSystem           = PrivMagicGrant | PrivSchedCtl
)

// Has reports whether every bit of want is set.
func (p Privilege) Has(want Privilege) bool { return p&want == want }

// ProcSpec describes a process to spawn.
type ProcSpec struct {
	Name       string
	Privileges Privilege
	// MemorySize overrides the kernel default address space size.
	MemorySize uint64
}

// Spawn creates a process in the lowest free slot. The endpoint carries a fresh generation,
// so it differs from every endpoint previously handed out for the slot.
func (k *Kernel) Spawn(ps ProcSpec) (*Process, error) {
	size := ps.MemorySize
	if size == 0 {
		size = k.opts.MemorySize
	}
	space, err := memory.NewSpace(memory.DefaultBase, size)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	slot := -1
	for i, p := range k.procs {
		if p == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		k.mu.Unlock()
		return nil, fmt.Errorf("process table full (%d slots): %w", len(k.procs), errno.ErrTableFull)
	}

	gen := endpoint.NextGeneration(k.gens[slot])
	k.gens[slot] = gen
	p := &Process{
		k:      k,
		ep:     endpoint.Make(gen, slot),
		name:   ps.Name,
		priv:   ps.Privileges,
		space:  space,
		grants: grant.NewTable(k.opts.GrantTableSize),
		alive:  true,
		sched:  SchedInfo{Scheduler: endpoint.Kernel},
	}
	p.cond = sync.NewCond(&k.mu)
	p.notifies = make(map[endpoint.Endpoint]struct{})
	k.procs[slot] = p
	k.live++
	live := k.live
	k.mu.Unlock()

	k.metrics.SetProcessesActive(live)
	k.logger.Info("process spawned",
		logging.Endpoint("endpoint", p.ep),
		zap.String("name", p.name),
		zap.Uint32("privileges", uint32(p.priv)),
	)
	k.event("spawn", p.ep, nil, map[string]string{"name": p.name})
	return p, nil
}

// Process returns the handle of a live process.
func (k *Kernel) Process(ep endpoint.Endpoint) (*Process, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p := k.lookup(ep)
	if p == nil {
		return nil, fmt.Errorf("process %s: %w", ep, errno.ErrDeadSrcDst)
	}
	return p, nil
}

// Lookup finds a live process by name.
func (k *Kernel) Lookup(name string) (*Process, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, p := range k.procs {
		if p != nil && p.name == name {
			return p, true
		}
	}
	return nil, false
}

// Live returns the number of live processes.
func (k *Kernel) Live() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.live
}

// Alive reports whether ep names a live process.
func (k *Kernel) Alive(ep endpoint.Endpoint) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lookup(ep) != nil
}

// lookup resolves a live process. Caller holds mu.
func (k *Kernel) lookup(ep endpoint.Endpoint) *Process {
	if !ep.IsProcess() {
		return nil
	}
	slot := ep.Slot()
	if slot >= len(k.procs) {
		return nil
	}
	p := k.procs[slot]
	if p == nil || p.ep != ep {
		return nil
	}
	return p
}

// enter takes the kernel lock for a call by p and advances the clock.
func (k *Kernel) enter(p *Process) error {
	k.mu.Lock()
	k.clock++
	if !p.alive {
		k.mu.Unlock()
		return fmt.Errorf("%s: %w", p.ep, errno.ErrExited)
	}
	return nil
}

// event reports a kernel event to the tracer.
func (k *Kernel) event(name string, ep endpoint.Endpoint, err error, tags map[string]string) {
	if k.tracer == nil {
		return
	}
	span, _ := k.tracer.StartSpan(context.Background(), name)
	span.SetTag("endpoint", ep.String())
	for key, v := range tags {
		span.SetTag(key, v)
	}
	span.SetError(err)
	span.Finish()
	k.tracer.Submit(span)
}

// panicf reports a broken internal invariant. Caller-facing errors never reach here.
func (k *Kernel) panicf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	k.logger.Error("kernel invariant violated", zap.String("detail", msg))
	panic("kernel: " + msg)
}
