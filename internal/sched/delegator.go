package sched

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/message"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// Options bound scheduling parameters.
type Options struct {
	// MaxHops bounds how often a request may be forwarded between schedulers.
	MaxHops int
	// DefaultQuantum applies when an inherited process has no quantum to take over.
	DefaultQuantum int
	// Queues is the number of priority levels; priorities run from 0 (highest) to Queues-1.
	Queues int
}

// OptionsFromConfig maps the sched configuration section to Options.
func OptionsFromConfig(cfg config.SchedConfig) Options {
	return Options{
		MaxHops:        cfg.MaxHops,
		DefaultQuantum: cfg.DefaultQuantum,
		Queues:         cfg.Queues,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxHops <= 0 {
		o.MaxHops = 4
	}
	if o.DefaultQuantum <= 0 {
		o.DefaultQuantum = 200
	}
	if o.Queues <= 0 {
		o.Queues = 16
	}
	return o
}

// RecordState tells how the current scheduler of a process was chosen.
type RecordState uint8

const (
	Delegated RecordState = iota + 1
	Inherited
)

func (s RecordState) String() string {
	switch s {
	case Delegated:
		return "delegated"
	case Inherited:
		return "inherited"
	default:
		return "unknown"
	}
}

// Record tracks the user-space scheduler responsible for one process.
type Record struct {
	Schedulee   endpoint.Endpoint `json:"schedulee"`
	Scheduler   endpoint.Endpoint `json:"scheduler"`
	Requested   endpoint.Endpoint `json:"requested"`
	Parent      endpoint.Endpoint `json:"parent"`
	MaxPriority int               `json:"max_priority"`
	Priority    int               `json:"priority"`
	Quantum     int               `json:"quantum"`
	CPU         int               `json:"cpu"`
	State       RecordState       `json:"state"`
}

// Delegator hands processes to schedulers on behalf of a process manager. Requests are issued
// from the manager's own process, one at a time.
type Delegator struct {
	k    *kernel.Kernel
	proc *kernel.Process
	opts Options

	callMu sync.Mutex // one outstanding SendRec per process handle

	mu      sync.RWMutex
	records map[endpoint.Endpoint]Record

	breakers *resilience.Set
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
}

// NewDelegator creates a delegator issuing requests from proc. It drops the record of every
// process that exits.
func NewDelegator(k *kernel.Kernel, proc *kernel.Process, opts Options) *Delegator {
	d := &Delegator{
		k:       k,
		proc:    proc,
		opts:    opts.withDefaults(),
		records: make(map[endpoint.Endpoint]Record),
		logger:  logging.NewNop(),
	}
	d.breakers = resilience.NewSet(resilience.Settings{OnStateChange: d.breakerChanged})
	k.OnExit(d.forget)
	return d
}

// WithLogger sets the delegator logger
func (d *Delegator) WithLogger(logger *logging.Logger) *Delegator {
	d.logger = logger.Named("sched")
	return d
}

func (d *Delegator) breakerChanged(name string, from, to resilience.State) {
	d.logger.Info("scheduler breaker changed state",
		zap.String("scheduler", name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}

// WithMetrics adds request metrics
func (d *Delegator) WithMetrics(metrics *monitoring.Metrics) *Delegator {
	d.metrics = metrics
	return d
}

// WithTracer adds a span per request
func (d *Delegator) WithTracer(tracer *tracing.Tracer) *Delegator {
	d.tracer = tracer
	return d
}

// WithBreakers replaces the per-scheduler circuit breakers.
func (d *Delegator) WithBreakers(set *resilience.Set) *Delegator {
	d.breakers = set
	return d
}

// Start asks scheduler to take over schedulee and returns the scheduler that ended up
// responsible, which differs from scheduler when the request was forwarded. endpoint.Kernel
// reverts schedulee to kernel scheduling without sending anything; endpoint.None does nothing.
func (d *Delegator) Start(ctx context.Context, scheduler, schedulee, parent endpoint.Endpoint, maxPriority, quantum, cpu int) (endpoint.Endpoint, error) {
	if quantum <= 0 {
		return endpoint.None, d.done("start", fmt.Errorf("quantum %d: %w", quantum, errno.ErrInvalid))
	}
	req := Request{
		Schedulee:   schedulee,
		Parent:      parent,
		MaxPriority: int32(maxPriority),
		Quantum:     int32(quantum),
		CPU:         int32(cpu),
	}
	return d.delegate(ctx, SchedulingStart, scheduler, req)
}

// Inherit asks scheduler to schedule schedulee the way it schedules parent. The scheduler
// chooses the quantum.
func (d *Delegator) Inherit(ctx context.Context, scheduler, schedulee, parent endpoint.Endpoint, maxPriority int) (endpoint.Endpoint, error) {
	req := Request{
		Schedulee:   schedulee,
		Parent:      parent,
		MaxPriority: int32(maxPriority),
	}
	return d.delegate(ctx, SchedulingInherit, scheduler, req)
}

func (d *Delegator) delegate(ctx context.Context, typ message.Type, scheduler endpoint.Endpoint, req Request) (endpoint.Endpoint, error) {
	kind := TypeName(typ)
	if err := ctx.Err(); err != nil {
		return endpoint.None, err
	}
	if err := d.validate(req); err != nil {
		return endpoint.None, d.done(kind, err)
	}

	switch {
	case scheduler == endpoint.None:
		return endpoint.None, d.done(kind, nil)
	case scheduler == endpoint.Kernel:
		return endpoint.Kernel, d.done(kind, d.revert(req))
	case !scheduler.IsProcess():
		return endpoint.None, d.done(kind, fmt.Errorf("scheduler %s: %w", scheduler, errno.ErrBadSrcDst))
	}

	span, ctx := d.startSpan(ctx, "sched."+kind)
	reply, err := d.call(ctx, scheduler, message.New(typ, req))
	if span != nil {
		span.SetTag("scheduler", scheduler.String())
		span.SetTag("schedulee", req.Schedulee.String())
		if err == nil {
			span.SetTag("final", reply.Scheduler.String())
		}
		span.SetError(err)
		span.Finish()
		d.tracer.Submit(span)
	}
	if err != nil {
		d.logger.Warn("scheduling request failed",
			zap.String("kind", kind),
			logging.Endpoint("scheduler", scheduler),
			logging.Endpoint("schedulee", req.Schedulee),
			logging.Errno(err),
		)
		return endpoint.None, d.done(kind, err)
	}

	state := Delegated
	if typ == SchedulingInherit {
		state = Inherited
	}
	rec := Record{
		Schedulee:   req.Schedulee,
		Scheduler:   reply.Scheduler,
		Requested:   scheduler,
		Parent:      req.Parent,
		MaxPriority: int(req.MaxPriority),
		Priority:    int(reply.Priority),
		Quantum:     int(reply.Quantum),
		CPU:         int(req.CPU),
		State:       state,
	}
	// Exit hooks take mu, so a schedulee seen alive here is forgotten after the store.
	d.mu.Lock()
	alive := d.k.Alive(req.Schedulee)
	if alive {
		d.records[req.Schedulee] = rec
	}
	d.mu.Unlock()
	if !alive {
		return endpoint.None, d.done(kind, fmt.Errorf("schedulee %s exited during %s: %w", req.Schedulee, kind, errno.ErrDeadSrcDst))
	}

	d.logger.Debug("scheduler assigned",
		zap.String("kind", kind),
		logging.Endpoint("schedulee", rec.Schedulee),
		logging.Endpoint("requested", scheduler),
		logging.Endpoint("scheduler", rec.Scheduler),
	)
	return rec.Scheduler, d.done(kind, nil)
}

// Stop tells the recorded scheduler of schedulee to release it and drops the record.
func (d *Delegator) Stop(ctx context.Context, schedulee endpoint.Endpoint) error {
	rec, ok := d.Record(schedulee)
	if !ok {
		return d.done("stop", fmt.Errorf("%s has no user-space scheduler: %w", schedulee, errno.ErrInvalid))
	}
	_, err := d.call(ctx, rec.Scheduler, message.New(SchedulingStop, Request{Schedulee: schedulee}))
	if err == nil || errors.Is(err, errno.ErrDeadSrcDst) {
		d.forget(schedulee)
	}
	return d.done("stop", err)
}

// SetNice asks the recorded scheduler of schedulee to lower its priority by nice levels below
// its maximum.
func (d *Delegator) SetNice(ctx context.Context, schedulee endpoint.Endpoint, nice int) error {
	rec, ok := d.Record(schedulee)
	if !ok {
		return d.done("nice", fmt.Errorf("%s has no user-space scheduler: %w", schedulee, errno.ErrInvalid))
	}
	reply, err := d.call(ctx, rec.Scheduler, message.New(SchedulingSetNice, Request{
		Schedulee: schedulee,
		Nice:      int32(nice),
	}))
	if err != nil {
		return d.done("nice", err)
	}

	d.mu.Lock()
	if cur, ok := d.records[schedulee]; ok {
		cur.Priority = int(reply.Priority)
		d.records[schedulee] = cur
	}
	d.mu.Unlock()
	return d.done("nice", nil)
}

// call issues one request through the breaker of scheduler.
func (d *Delegator) call(ctx context.Context, scheduler endpoint.Endpoint, msg message.Message) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	var reply Reply
	err := d.breakers.Execute(scheduler.String(), func() error {
		d.callMu.Lock()
		m, err := d.proc.SendRec(scheduler, msg)
		d.callMu.Unlock()
		if err != nil {
			return err
		}
		reply, err = parseReply(m)
		return err
	})
	return reply, err
}

// revert hands schedulee back to the kernel scheduler.
func (d *Delegator) revert(req Request) error {
	quantum := int(req.Quantum)
	if quantum == 0 {
		quantum = d.opts.DefaultQuantum
	}
	err := d.proc.SchedCtl(req.Schedulee, kernel.SchedInfo{
		Scheduler: endpoint.Kernel,
		Priority:  int(req.MaxPriority),
		Quantum:   quantum,
		CPU:       int(req.CPU),
	})
	if err == nil {
		d.forget(req.Schedulee)
	}
	return err
}

func (d *Delegator) validate(req Request) error {
	if !d.k.Alive(req.Schedulee) {
		return fmt.Errorf("schedulee %s: %w", req.Schedulee, errno.ErrDeadSrcDst)
	}
	if req.MaxPriority < 0 || int(req.MaxPriority) >= d.opts.Queues {
		return fmt.Errorf("priority %d outside 0..%d: %w", req.MaxPriority, d.opts.Queues-1, errno.ErrInvalid)
	}
	if req.CPU < 0 {
		return fmt.Errorf("cpu %d: %w", req.CPU, errno.ErrInvalid)
	}
	return nil
}

func (d *Delegator) done(kind string, err error) error {
	d.metrics.RecordSchedRequest(kind, err)
	return err
}

func (d *Delegator) startSpan(ctx context.Context, name string) (*tracing.Span, context.Context) {
	if d.tracer == nil {
		return nil, ctx
	}
	return d.tracer.StartSpan(ctx, name)
}

func (d *Delegator) forget(ep endpoint.Endpoint) {
	d.mu.Lock()
	delete(d.records, ep)
	d.mu.Unlock()
}

// Record returns the delegation record of schedulee.
func (d *Delegator) Record(schedulee endpoint.Endpoint) (Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[schedulee]
	return rec, ok
}

// Records lists every delegation record ordered by schedulee.
func (d *Delegator) Records() []Record {
	d.mu.RLock()
	out := make([]Record, 0, len(d.records))
	for _, rec := range d.records {
		out = append(out, rec)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Schedulee < out[j].Schedulee })
	return out
}

// Breakers reports the state of the circuit breaker of every scheduler contacted so far.
func (d *Delegator) Breakers() map[string]resilience.State {
	return d.breakers.States()
}
