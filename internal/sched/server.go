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
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// Router picks another scheduler to hand a start or inherit request to. Returning
// endpoint.None, or the server's own endpoint, keeps the request.
type Router func(typ message.Type, req Request) endpoint.Endpoint

// Entry is a process managed by a scheduling server.
type Entry struct {
	Endpoint    endpoint.Endpoint `json:"endpoint"`
	Parent      endpoint.Endpoint `json:"parent"`
	MaxPriority int               `json:"max_priority"`
	Priority    int               `json:"priority"`
	Quantum     int               `json:"quantum"`
	CPU         int               `json:"cpu"`
}

// Server is a user-space scheduler running as a kernel process. It accepts start, inherit,
// stop and nice requests, and registers itself with the kernel as the scheduler of every
// process it accepts. The process needs kernel.PrivSchedCtl.
type Server struct {
	k      *kernel.Kernel
	proc   *kernel.Process
	opts   Options
	router Router

	mu      sync.Mutex
	managed map[endpoint.Endpoint]Entry

	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewServer creates a scheduler serving from proc.
func NewServer(k *kernel.Kernel, proc *kernel.Process, opts Options) *Server {
	s := &Server{
		k:       k,
		proc:    proc,
		opts:    opts.withDefaults(),
		managed: make(map[endpoint.Endpoint]Entry),
		logger:  logging.NewNop(),
	}
	k.OnExit(s.forget)
	return s
}

// WithLogger sets the server logger
func (s *Server) WithLogger(logger *logging.Logger) *Server {
	s.logger = logger.Named("scheduler").With(logging.Endpoint("self", s.proc.Endpoint()))
	return s
}

// WithMetrics adds request metrics
func (s *Server) WithMetrics(metrics *monitoring.Metrics) *Server {
	s.metrics = metrics
	return s
}

// WithRouter makes the server forward requests chosen by r.
func (s *Server) WithRouter(r Router) *Server {
	s.router = r
	return s
}

// Endpoint returns the endpoint requests are sent to.
func (s *Server) Endpoint() endpoint.Endpoint { return s.proc.Endpoint() }

// Serve handles requests until the server process exits or ctx is cancelled. Cancellation
// takes effect once the blocked receive returns; Shutdown ends the receive.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("scheduler started")
	for {
		msg, err := s.proc.Receive(endpoint.Any)
		if err != nil {
			if errors.Is(err, errno.ErrExited) {
				s.logger.Info("scheduler stopped")
				return nil
			}
			return fmt.Errorf("scheduler receive: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.handle(msg)
	}
}

// Shutdown exits the server process, which ends Serve.
func (s *Server) Shutdown() error {
	return s.proc.Exit()
}

func (s *Server) handle(msg message.Message) {
	if msg.IsNotify() {
		return
	}
	req, ok := msg.Payload.(Request)
	if !ok {
		s.reply(msg.Source, fmt.Errorf("payload %s: %w", message.KindName(msg.Kind()), errno.ErrBadMessage), Reply{})
		return
	}

	var (
		r   Reply
		err error
	)
	switch msg.Type {
	case SchedulingStart, SchedulingInherit:
		r, err = s.start(msg.Type, req)
	case SchedulingStop:
		err = s.stop(req)
	case SchedulingSetNice:
		r, err = s.nice(req)
	default:
		err = fmt.Errorf("request type %d: %w", msg.Type, errno.ErrBadMessage)
	}
	s.metrics.RecordSchedRequest("serve_"+TypeName(msg.Type), err)
	s.reply(msg.Source, err, r)
}

// reply answers a caller blocked in SendRec. A caller that is not waiting gets nothing.
func (s *Server) reply(to endpoint.Endpoint, err error, r Reply) {
	if serr := s.proc.SendNB(to, statusReply(err, r)); serr != nil {
		s.logger.Warn("reply dropped", logging.Endpoint("caller", to), zap.Error(serr))
	}
}

func (s *Server) start(typ message.Type, req Request) (Reply, error) {
	if next := s.route(typ, req); next != endpoint.None {
		return s.forward(typ, next, req)
	}

	e := Entry{
		Endpoint:    req.Schedulee,
		Parent:      req.Parent,
		MaxPriority: int(req.MaxPriority),
		Priority:    int(req.MaxPriority),
		Quantum:     int(req.Quantum),
		CPU:         int(req.CPU),
	}
	if typ == SchedulingInherit {
		e.Quantum = s.opts.DefaultQuantum
		if parent, ok := s.Managed(req.Parent); ok {
			e.Priority = max(parent.Priority, e.MaxPriority)
			e.Quantum = parent.Quantum
			e.CPU = parent.CPU
		}
	}
	if e.MaxPriority < 0 || e.MaxPriority >= s.opts.Queues || e.Quantum <= 0 {
		return Reply{}, fmt.Errorf("priority %d quantum %d: %w", e.MaxPriority, e.Quantum, errno.ErrInvalid)
	}

	if err := s.apply(e); err != nil {
		return Reply{}, err
	}
	s.logger.Debug("process accepted",
		zap.String("kind", TypeName(typ)),
		logging.Endpoint("schedulee", e.Endpoint),
		zap.Int("priority", e.Priority),
		zap.Int("quantum", e.Quantum),
	)
	return Reply{Scheduler: s.proc.Endpoint(), Priority: int32(e.Priority), Quantum: int32(e.Quantum)}, nil
}

func (s *Server) route(typ message.Type, req Request) endpoint.Endpoint {
	if s.router == nil {
		return endpoint.None
	}
	next := s.router(typ, req)
	if next == s.proc.Endpoint() {
		return endpoint.None
	}
	return next
}

// forward hands the request to next and passes its answer back unchanged.
func (s *Server) forward(typ message.Type, next endpoint.Endpoint, req Request) (Reply, error) {
	if int(req.Hops)+1 > s.opts.MaxHops {
		return Reply{}, fmt.Errorf("request forwarded %d times, limit %d: %w", req.Hops, s.opts.MaxHops, errno.ErrLoop)
	}
	req.Hops++
	s.logger.Debug("forwarding request",
		zap.String("kind", TypeName(typ)),
		logging.Endpoint("schedulee", req.Schedulee),
		logging.Endpoint("to", next),
		zap.Uint8("hops", req.Hops),
	)
	m, err := s.proc.SendRec(next, message.New(typ, req))
	if err != nil {
		return Reply{}, err
	}
	return parseReply(m)
}

func (s *Server) stop(req Request) error {
	if _, ok := s.Managed(req.Schedulee); !ok {
		return fmt.Errorf("%s not scheduled here: %w", req.Schedulee, errno.ErrInvalid)
	}
	s.forget(req.Schedulee)
	return nil
}

func (s *Server) nice(req Request) (Reply, error) {
	e, ok := s.Managed(req.Schedulee)
	if !ok {
		return Reply{}, fmt.Errorf("%s not scheduled here: %w", req.Schedulee, errno.ErrInvalid)
	}
	prio := e.MaxPriority + int(req.Nice)
	if req.Nice < 0 || prio >= s.opts.Queues {
		return Reply{}, fmt.Errorf("nice %d from priority %d: %w", req.Nice, e.MaxPriority, errno.ErrInvalid)
	}
	e.Priority = prio
	if err := s.apply(e); err != nil {
		return Reply{}, err
	}
	return Reply{Scheduler: s.proc.Endpoint(), Priority: int32(e.Priority), Quantum: int32(e.Quantum)}, nil
}

// apply records e with the kernel and in the managed table.
func (s *Server) apply(e Entry) error {
	err := s.proc.SchedCtl(e.Endpoint, kernel.SchedInfo{
		Scheduler: s.proc.Endpoint(),
		Priority:  e.Priority,
		Quantum:   e.Quantum,
		CPU:       e.CPU,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.managed[e.Endpoint] = e
	s.mu.Unlock()
	return nil
}

func (s *Server) forget(ep endpoint.Endpoint) {
	s.mu.Lock()
	delete(s.managed, ep)
	s.mu.Unlock()
}

// Managed returns the entry of a process this server schedules.
func (s *Server) Managed(ep endpoint.Endpoint) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.managed[ep]
	return e, ok
}

// Entries lists every managed process ordered by endpoint.
func (s *Server) Entries() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.managed))
	for _, e := range s.managed {
		out = append(out, e)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}
