package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/memory"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/message"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

const base = memory.DefaultBase

func newTestKernel(t *testing.T, opts Options) *Kernel {
	t.Helper()
	return New(opts).WithLogger(logging.NewNop()).WithMetrics(monitoring.NewMetrics())
}

func spawn(t *testing.T, k *Kernel, name string, priv Privilege) *Process {
	t.Helper()
	p, err := k.Spawn(ProcSpec{Name: name, Privileges: priv})
	require.NoError(t, err)
	return p
}

// waitState blocks until p reports state.
func waitState(t *testing.T, p *Process, state State) {
	t.Helper()
	require.Eventually(t, func() bool { return p.State() == state }, 2*time.Second, time.Millisecond,
		"%s never reached %s", p, state)
}

type result struct {
	msg message.Message
	err error
}

// async runs fn in a goroutine and returns a channel with its outcome.
func async(fn func() (message.Message, error)) <-chan result {
	ch := make(chan result, 1)
	go func() {
		msg, err := fn()
		ch <- result{msg, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("blocked call did not return")
		return result{}
	}
}

func TestSpawnAssignsSlotsAndGenerations(t *testing.T) {
	k := newTestKernel(t, Options{MaxProcs: 2})

	a := spawn(t, k, "a", PrivNone)
	b := spawn(t, k, "b", PrivNone)
	assert.Equal(t, 0, a.Endpoint().Slot())
	assert.Equal(t, 1, b.Endpoint().Slot())
	assert.Equal(t, 2, k.Live())

	_, err := k.Spawn(ProcSpec{Name: "c"})
	assert.ErrorIs(t, err, errno.ErrTableFull)

	old := a.Endpoint()
	require.NoError(t, a.Exit())
	c := spawn(t, k, "c", PrivNone)
	assert.Equal(t, old.Slot(), c.Endpoint().Slot())
	assert.NotEqual(t, old, c.Endpoint())
	assert.False(t, k.Alive(old))

	_, err = k.Process(old)
	assert.ErrorIs(t, err, errno.ErrDeadSrcDst)
	assert.ErrorIs(t, b.Send(old, message.New(1, nil)), errno.ErrDeadSrcDst)
}

func TestLookupByName(t *testing.T) {
	k := newTestKernel(t, Options{})
	p := spawn(t, k, "vfs", PrivNone)

	got, ok := k.Lookup("vfs")
	require.True(t, ok)
	assert.Same(t, p, got)

	_, ok = k.Lookup("pm")
	assert.False(t, ok)
}

func TestMemoryReadWrite(t *testing.T) {
	k := newTestKernel(t, Options{MemorySize: 128})
	p := spawn(t, k, "p", PrivNone)

	require.NoError(t, p.Write(base+4, []byte("data")))
	got, err := p.Read(base+4, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)

	_, err = p.Read(base+120, 16)
	assert.ErrorIs(t, err, errno.ErrRange)
}

func TestExitRunsHooksAndRejectsCalls(t *testing.T) {
	k := newTestKernel(t, Options{})
	p := spawn(t, k, "p", PrivNone)
	q := spawn(t, k, "q", PrivNone)

	exited := make(chan endpoint.Endpoint, 1)
	k.OnExit(func(ep endpoint.Endpoint) { exited <- ep })

	require.NoError(t, p.Exit())
	assert.Equal(t, p.Endpoint(), <-exited)
	assert.Equal(t, StateExited, p.State())
	assert.ErrorIs(t, p.Exit(), errno.ErrDeadSrcDst)

	assert.ErrorIs(t, p.Send(q.Endpoint(), message.New(1, nil)), errno.ErrExited)
	_, err := p.GrantDirect(q.Endpoint(), base, 1, 1)
	assert.ErrorIs(t, err, errno.ErrExited)
}

func TestSchedCtl(t *testing.T) {
	k := newTestKernel(t, Options{})
	sys := spawn(t, k, "sched", PrivSchedCtl)
	user := spawn(t, k, "user", PrivNone)

	info := SchedInfo{Scheduler: sys.Endpoint(), Priority: 7, Quantum: 200, CPU: 0}
	require.NoError(t, sys.SchedCtl(user.Endpoint(), info))
	assert.Equal(t, info, user.Sched())

	err := user.SchedCtl(sys.Endpoint(), SchedInfo{Scheduler: endpoint.Kernel})
	assert.ErrorIs(t, err, errno.ErrCallDenied)

	err = sys.SchedCtl(user.Endpoint(), SchedInfo{Scheduler: endpoint.Kernel, Priority: -1})
	assert.ErrorIs(t, err, errno.ErrInvalid)

	require.NoError(t, sys.SchedCtl(user.Endpoint(), SchedInfo{Scheduler: endpoint.Kernel, Priority: 3}))
	assert.Equal(t, endpoint.Kernel, user.Sched().Scheduler)
}

func TestSnapshot(t *testing.T) {
	k := newTestKernel(t, Options{})
	srv := spawn(t, k, "srv", PrivNone)
	cli := spawn(t, k, "cli", PrivNone)

	_, err := srv.GrantDirect(cli.Endpoint(), base, 16, 1)
	require.NoError(t, err)
	require.NoError(t, srv.Notify(cli.Endpoint()))

	done := async(func() (message.Message, error) { return cli.SendRec(srv.Endpoint(), message.New(1, nil)) })
	waitState(t, cli, StateSending)

	snap := k.Snapshot()
	assert.Equal(t, k.Instance(), snap.Instance)
	require.Len(t, snap.Processes, 2)

	sv, cv := snap.Processes[0], snap.Processes[1]
	assert.Equal(t, []endpoint.Endpoint{cli.Endpoint()}, sv.QueuedSenders)
	assert.Len(t, sv.Grants, 1)
	assert.Equal(t, "sending", cv.State)
	assert.Equal(t, srv.Endpoint(), cv.SendTo)
	assert.True(t, cv.ReplyPending)
	assert.Equal(t, []endpoint.Endpoint{srv.Endpoint()}, cv.Notifications)

	require.NoError(t, srv.Exit())
	assert.ErrorIs(t, await(t, done).err, errno.ErrDeadSrcDst)
}
