package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/message"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

type fixture struct {
	k       *kernel.Kernel
	pm      *kernel.Process
	d       *Delegator
	metrics *monitoring.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	metrics := monitoring.NewMetrics()
	k := kernel.New(kernel.Options{}).WithLogger(logging.NewNop()).WithMetrics(metrics)
	pm, err := k.Spawn(kernel.ProcSpec{Name: "pm", Privileges: kernel.PrivSystem})
	require.NoError(t, err)
	d := NewDelegator(k, pm, Options{}).WithLogger(logging.NewNop()).WithMetrics(metrics)
	return &fixture{k: k, pm: pm, d: d, metrics: metrics}
}

func (f *fixture) spawn(t *testing.T, name string) *kernel.Process {
	t.Helper()
	p, err := f.k.Spawn(kernel.ProcSpec{Name: name})
	require.NoError(t, err)
	return p
}

// server starts a scheduling server and stops it when the test ends.
func (f *fixture) server(t *testing.T, name string, opts Options, router Router) *Server {
	t.Helper()
	proc, err := f.k.Spawn(kernel.ProcSpec{Name: name, Privileges: kernel.PrivSchedCtl})
	require.NoError(t, err)

	s := NewServer(f.k, proc, opts).WithLogger(logging.NewNop()).WithMetrics(f.metrics)
	if router != nil {
		s.WithRouter(router)
	}
	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()

	t.Cleanup(func() {
		_ = s.Shutdown()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Errorf("scheduler %s did not stop", name)
		}
	})
	return s
}

func to(ep endpoint.Endpoint) Router {
	return func(message.Type, Request) endpoint.Endpoint { return ep }
}

func TestStartForwardedNamesFinalScheduler(t *testing.T) {
	f := newFixture(t)
	s2 := f.server(t, "s2", Options{}, nil)
	s1 := f.server(t, "s1", Options{}, to(s2.Endpoint()))
	x := f.spawn(t, "x")

	final, err := f.d.Start(context.Background(), s1.Endpoint(), x.Endpoint(), f.pm.Endpoint(), 3, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, s2.Endpoint(), final)

	rec, ok := f.d.Record(x.Endpoint())
	require.True(t, ok)
	assert.Equal(t, s2.Endpoint(), rec.Scheduler)
	assert.Equal(t, s1.Endpoint(), rec.Requested)
	assert.Equal(t, Delegated, rec.State)
	assert.Equal(t, 3, rec.Priority)
	assert.Equal(t, 100, rec.Quantum)

	assert.Equal(t, s2.Endpoint(), x.Sched().Scheduler)
	_, ok = s2.Managed(x.Endpoint())
	assert.True(t, ok)
	_, ok = s1.Managed(x.Endpoint())
	assert.False(t, ok)
}

func TestStartDirect(t *testing.T) {
	f := newFixture(t)
	s := f.server(t, "sched", Options{}, nil)
	x := f.spawn(t, "x")

	final, err := f.d.Start(context.Background(), s.Endpoint(), x.Endpoint(), f.pm.Endpoint(), 5, 50, 1)
	require.NoError(t, err)
	assert.Equal(t, s.Endpoint(), final)
	assert.Equal(t, kernel.SchedInfo{Scheduler: s.Endpoint(), Priority: 5, Quantum: 50, CPU: 1}, x.Sched())
	assert.Equal(t, []Entry{{Endpoint: x.Endpoint(), Parent: f.pm.Endpoint(), MaxPriority: 5, Priority: 5, Quantum: 50, CPU: 1}}, s.Entries())
}

func TestStartKernelSendsNothing(t *testing.T) {
	f := newFixture(t)
	x := f.spawn(t, "x")

	final, err := f.d.Start(context.Background(), endpoint.Kernel, x.Endpoint(), f.pm.Endpoint(), 2, 80, 0)
	require.NoError(t, err)
	assert.Equal(t, endpoint.Kernel, final)
	assert.Equal(t, kernel.SchedInfo{Scheduler: endpoint.Kernel, Priority: 2, Quantum: 80}, x.Sched())

	_, ok := f.d.Record(x.Endpoint())
	assert.False(t, ok)
	assert.Equal(t, kernel.StateRunning, f.pm.State())
}

func TestStartNoneIsNoop(t *testing.T) {
	f := newFixture(t)
	x := f.spawn(t, "x")
	before := x.Sched()

	final, err := f.d.Start(context.Background(), endpoint.None, x.Endpoint(), f.pm.Endpoint(), 2, 80, 0)
	require.NoError(t, err)
	assert.Equal(t, endpoint.None, final)
	assert.Equal(t, before, x.Sched())
	assert.Empty(t, f.d.Records())
}

func TestInheritTakesParentParameters(t *testing.T) {
	f := newFixture(t)
	s := f.server(t, "sched", Options{}, nil)
	parent := f.spawn(t, "parent")
	child := f.spawn(t, "child")
	orphan := f.spawn(t, "orphan")
	ctx := context.Background()

	_, err := f.d.Start(ctx, s.Endpoint(), parent.Endpoint(), f.pm.Endpoint(), 4, 150, 1)
	require.NoError(t, err)

	final, err := f.d.Inherit(ctx, s.Endpoint(), child.Endpoint(), parent.Endpoint(), 2)
	require.NoError(t, err)
	assert.Equal(t, s.Endpoint(), final)
	assert.Equal(t, kernel.SchedInfo{Scheduler: s.Endpoint(), Priority: 4, Quantum: 150, CPU: 1}, child.Sched())

	rec, ok := f.d.Record(child.Endpoint())
	require.True(t, ok)
	assert.Equal(t, Inherited, rec.State)
	assert.Equal(t, 150, rec.Quantum)

	// A parent the scheduler does not know gives the default quantum.
	_, err = f.d.Inherit(ctx, s.Endpoint(), orphan.Endpoint(), endpoint.Make(9, 9), 6)
	require.NoError(t, err)
	assert.Equal(t, kernel.SchedInfo{Scheduler: s.Endpoint(), Priority: 6, Quantum: 200}, orphan.Sched())
}

func TestForwardingIsBounded(t *testing.T) {
	f := newFixture(t)
	opts := Options{MaxHops: 1}
	s3 := f.server(t, "s3", opts, nil)
	s2 := f.server(t, "s2", opts, to(s3.Endpoint()))
	s1 := f.server(t, "s1", opts, to(s2.Endpoint()))
	x := f.spawn(t, "x")

	_, err := f.d.Start(context.Background(), s1.Endpoint(), x.Endpoint(), f.pm.Endpoint(), 1, 10, 0)
	assert.ErrorIs(t, err, errno.ErrLoop)

	_, ok := f.d.Record(x.Endpoint())
	assert.False(t, ok)
	assert.Equal(t, endpoint.Kernel, x.Sched().Scheduler)
	assert.Empty(t, s3.Entries())
}

// within runs fn and fails the test if it does not return in time.
func within(t *testing.T, fn func() error) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return")
		return nil
	}
}

func TestForwardingCycleFailsAndServersKeepServing(t *testing.T) {
	f := newFixture(t)
	var s2 *Server
	s1 := f.server(t, "s1", Options{}, func(message.Type, Request) endpoint.Endpoint { return s2.Endpoint() })
	s2 = f.server(t, "s2", Options{}, to(s1.Endpoint()))
	x := f.spawn(t, "x")

	for _, s := range []*Server{s1, s2} {
		err := within(t, func() error {
			_, err := f.d.Start(context.Background(), s.Endpoint(), x.Endpoint(), f.pm.Endpoint(), 1, 10, 0)
			return err
		})
		assert.ErrorIs(t, err, errno.ErrDeadlock)
	}
	_, ok := f.d.Record(x.Endpoint())
	assert.False(t, ok)
	assert.Equal(t, endpoint.Kernel, x.Sched().Scheduler)

	// Both servers still answer requests they handle themselves.
	for _, s := range []*Server{s1, s2} {
		err := within(t, func() error {
			m, err := f.pm.SendRec(s.Endpoint(), message.New(SchedulingStop, Request{Schedulee: x.Endpoint()}))
			if err != nil {
				return err
			}
			_, err = parseReply(m)
			return err
		})
		assert.ErrorIs(t, err, errno.ErrInvalid)
	}
}

func TestDeadSchedulerPropagatesError(t *testing.T) {
	f := newFixture(t)
	x := f.spawn(t, "x")
	gone := f.spawn(t, "gone")
	require.NoError(t, gone.Exit())

	_, err := f.d.Start(context.Background(), gone.Endpoint(), x.Endpoint(), f.pm.Endpoint(), 1, 10, 0)
	assert.ErrorIs(t, err, errno.ErrDeadSrcDst)
	assert.Equal(t, kernel.SchedInfo{Scheduler: endpoint.Kernel}, x.Sched())
	assert.Empty(t, f.d.Records())
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	f := newFixture(t)
	f.d.WithBreakers(resilience.NewSet(resilience.Settings{Threshold: 2}))
	x := f.spawn(t, "x")
	gone := f.spawn(t, "gone")
	require.NoError(t, gone.Exit())

	for range 2 {
		_, err := f.d.Start(context.Background(), gone.Endpoint(), x.Endpoint(), f.pm.Endpoint(), 1, 10, 0)
		assert.ErrorIs(t, err, errno.ErrDeadSrcDst)
	}
	_, err := f.d.Start(context.Background(), gone.Endpoint(), x.Endpoint(), f.pm.Endpoint(), 1, 10, 0)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, resilience.StateOpen, f.d.Breakers()[gone.Endpoint().String()])
}

func TestScheduleeExitDropsRecords(t *testing.T) {
	f := newFixture(t)
	s := f.server(t, "sched", Options{}, nil)
	x := f.spawn(t, "x")

	_, err := f.d.Start(context.Background(), s.Endpoint(), x.Endpoint(), f.pm.Endpoint(), 1, 10, 0)
	require.NoError(t, err)
	require.NoError(t, x.Exit())

	_, ok := f.d.Record(x.Endpoint())
	assert.False(t, ok)
	_, ok = s.Managed(x.Endpoint())
	assert.False(t, ok)
}

func TestScheduleeExitDuringDelegationLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	sched := f.spawn(t, "sched")
	x := f.spawn(t, "x")

	type result struct {
		final endpoint.Endpoint
		err   error
	}
	got := make(chan result, 1)
	go func() {
		final, err := f.d.Start(context.Background(), sched.Endpoint(), x.Endpoint(), f.pm.Endpoint(), 1, 10, 0)
		got <- result{final, err}
	}()

	req, err := sched.Receive(endpoint.Any)
	require.NoError(t, err)
	require.NoError(t, x.Exit())
	require.NoError(t, sched.SendNB(req.Source, statusReply(nil, Reply{Scheduler: sched.Endpoint(), Priority: 1, Quantum: 10})))

	select {
	case r := <-got:
		assert.ErrorIs(t, r.err, errno.ErrDeadSrcDst)
		assert.Equal(t, endpoint.None, r.final)
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return")
	}
	assert.Empty(t, f.d.Records())
}

func TestServerAnswersReservedRequestType(t *testing.T) {
	f := newFixture(t)
	s := f.server(t, "sched", Options{}, nil)
	x := f.spawn(t, "x")

	_, err := f.pm.SendRec(s.Endpoint(), message.New(message.NotifyMessage, Request{Schedulee: x.Endpoint()}))
	assert.ErrorIs(t, err, errno.ErrBadMessage)

	err = within(t, func() error {
		_, err := f.d.Start(context.Background(), s.Endpoint(), x.Endpoint(), f.pm.Endpoint(), 1, 10, 0)
		return err
	})
	assert.NoError(t, err)
}

func TestDelegationValidation(t *testing.T) {
	f := newFixture(t)
	s := f.server(t, "sched", Options{}, nil)
	x := f.spawn(t, "x")
	ctx := context.Background()

	_, err := f.d.Start(ctx, s.Endpoint(), endpoint.Make(9, 9), f.pm.Endpoint(), 1, 10, 0)
	assert.ErrorIs(t, err, errno.ErrDeadSrcDst)
	_, err = f.d.Start(ctx, s.Endpoint(), x.Endpoint(), f.pm.Endpoint(), 16, 10, 0)
	assert.ErrorIs(t, err, errno.ErrInvalid)
	_, err = f.d.Start(ctx, s.Endpoint(), x.Endpoint(), f.pm.Endpoint(), 1, 0, 0)
	assert.ErrorIs(t, err, errno.ErrInvalid)
	_, err = f.d.Start(ctx, endpoint.Any, x.Endpoint(), f.pm.Endpoint(), 1, 10, 0)
	assert.ErrorIs(t, err, errno.ErrBadSrcDst)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.d.Start(cancelled, s.Endpoint(), x.Endpoint(), f.pm.Endpoint(), 1, 10, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.Entries())
}

func TestStopAndNice(t *testing.T) {
	f := newFixture(t)
	s := f.server(t, "sched", Options{Queues: 8}, nil)
	x := f.spawn(t, "x")
	ctx := context.Background()

	_, err := f.d.Start(ctx, s.Endpoint(), x.Endpoint(), f.pm.Endpoint(), 3, 100, 0)
	require.NoError(t, err)

	require.NoError(t, f.d.SetNice(ctx, x.Endpoint(), 2))
	assert.Equal(t, 5, x.Sched().Priority)
	rec, _ := f.d.Record(x.Endpoint())
	assert.Equal(t, 5, rec.Priority)

	assert.ErrorIs(t, f.d.SetNice(ctx, x.Endpoint(), 9), errno.ErrInvalid)
	assert.ErrorIs(t, f.d.SetNice(ctx, x.Endpoint(), -1), errno.ErrInvalid)

	require.NoError(t, f.d.Stop(ctx, x.Endpoint()))
	_, ok := f.d.Record(x.Endpoint())
	assert.False(t, ok)
	assert.Empty(t, s.Entries())
	assert.ErrorIs(t, f.d.Stop(ctx, x.Endpoint()), errno.ErrInvalid)
}

func TestServerRejectsUnknownPayload(t *testing.T) {
	f := newFixture(t)
	s := f.server(t, "sched", Options{}, nil)
	caller := f.spawn(t, "caller")

	m, err := caller.SendRec(s.Endpoint(), message.New(SchedulingStart, message.U64{1}))
	require.NoError(t, err)
	_, err = parseReply(m)
	assert.ErrorIs(t, err, errno.ErrBadMessage)

	m, err = caller.SendRec(s.Endpoint(), message.New(0x77, Request{Schedulee: caller.Endpoint()}))
	require.NoError(t, err)
	_, err = parseReply(m)
	assert.ErrorIs(t, err, errno.ErrBadMessage)
}

func TestProtocolCodec(t *testing.T) {
	req := Request{
		Schedulee:   endpoint.Make(2, 3),
		Parent:      endpoint.Kernel,
		MaxPriority: 7,
		Quantum:     -1,
		CPU:         2,
		Nice:        4,
		Hops:        3,
	}
	f, err := message.Encode(message.New(SchedulingInherit, req))
	require.NoError(t, err)
	m, err := message.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, req, m.Payload)

	ok := statusReply(nil, Reply{Scheduler: endpoint.Make(1, 1), Priority: 2, Quantum: 3})
	f, err = message.Encode(ok)
	require.NoError(t, err)
	m, err = message.Decode(f)
	require.NoError(t, err)
	r, err := parseReply(m)
	require.NoError(t, err)
	assert.Equal(t, endpoint.Make(1, 1), r.Scheduler)

	_, err = parseReply(statusReply(errno.ErrLoop, Reply{}))
	assert.ErrorIs(t, err, errno.ErrLoop)
	assert.Equal(t, "inherit", TypeName(SchedulingInherit))
}
