package boot

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/message"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/sched"
)

// Options carries what the booted system shares with the rest of the process.
type Options struct {
	Sched   sched.Options
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
	Tracer  *tracing.Tracer
}

// System is a booted set of processes with their schedulers running.
type System struct {
	Kernel     *kernel.Kernel
	Delegator  *sched.Delegator
	Schedulers map[string]*sched.Server

	procs  map[string]*kernel.Process
	order  []string
	group  *errgroup.Group
	logger *logging.Logger
}

// Boot spawns every process of m in order, starts the scheduling servers and hands each
// process to its scheduler. On error everything already started is shut down.
func Boot(ctx context.Context, k *kernel.Kernel, m *Manifest, opts Options) (*System, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &System{
		Kernel:     k,
		Schedulers: make(map[string]*sched.Server),
		procs:      make(map[string]*kernel.Process),
		logger:     logger.Named("boot"),
	}
	for _, ps := range m.Processes {
		priv, _ := ps.PrivilegeMask()
		p, err := k.Spawn(kernel.ProcSpec{Name: ps.Name, Privileges: priv, MemorySize: ps.MemorySize})
		if err != nil {
			s.abort()
			return nil, fmt.Errorf("failed to spawn %q: %w", ps.Name, err)
		}
		s.procs[ps.Name] = p
		s.order = append(s.order, ps.Name)
	}

	for _, ps := range m.Processes {
		if !ps.Serve {
			continue
		}
		srv := sched.NewServer(k, s.procs[ps.Name], opts.Sched).WithLogger(logger).WithMetrics(opts.Metrics)
		if ps.Forward != "" {
			target := s.procs[ps.Forward].Endpoint()
			srv.WithRouter(func(message.Type, sched.Request) endpoint.Endpoint { return target })
		}
		s.Schedulers[ps.Name] = srv
	}

	var gctx context.Context
	s.group, gctx = errgroup.WithContext(ctx)
	for _, srv := range s.Schedulers {
		s.group.Go(func() error { return srv.Serve(gctx) })
	}

	if mgr, ok := s.procs[m.Manager]; ok {
		s.Delegator = sched.NewDelegator(k, mgr, opts.Sched).
			WithLogger(logger).
			WithMetrics(opts.Metrics).
			WithTracer(opts.Tracer)
	}
	for _, ps := range m.Processes {
		if ps.Scheduler == "" {
			continue
		}
		if err := s.delegate(ctx, ps); err != nil {
			s.abort()
			_ = s.group.Wait()
			return nil, err
		}
	}

	s.logger.Info("system booted",
		zap.Int("processes", len(s.procs)),
		zap.Int("schedulers", len(s.Schedulers)),
	)
	return s, nil
}

func (s *System) delegate(ctx context.Context, ps ProcessSpec) error {
	scheduler := endpoint.Kernel
	if ps.Scheduler != KernelScheduler {
		scheduler = s.procs[ps.Scheduler].Endpoint()
	}
	p := s.procs[ps.Name]

	final, err := s.Delegator.Start(ctx, scheduler, p.Endpoint(), endpoint.Kernel, ps.Priority, ps.Quantum, ps.CPU)
	if err != nil {
		return fmt.Errorf("failed to schedule %q: %w", ps.Name, err)
	}
	s.logger.Debug("process scheduled",
		zap.String("name", ps.Name),
		logging.Endpoint("scheduler", final),
	)
	return nil
}

// Process returns a boot process by name.
func (s *System) Process(name string) (*kernel.Process, bool) {
	p, ok := s.procs[name]
	return p, ok
}

// Names lists the boot processes in spawn order.
func (s *System) Names() []string {
	return append([]string(nil), s.order...)
}

// Wait blocks until every scheduling server has stopped.
func (s *System) Wait() error {
	return s.group.Wait()
}

// Shutdown stops the scheduling servers and waits for them.
func (s *System) Shutdown() error {
	for name, srv := range s.Schedulers {
		if err := srv.Shutdown(); err != nil {
			s.logger.Debug("scheduler already gone", zap.String("name", name), zap.Error(err))
		}
	}
	return s.group.Wait()
}

// abort exits processes spawned before a boot failure.
func (s *System) abort() {
	for _, name := range s.order {
		_ = s.procs[name].Exit()
	}
}
