package kernel

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/grant"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

func TestGrantDirectValidation(t *testing.T) {
	k := newTestKernel(t, Options{MemorySize: 256, GrantTableSize: 2})
	p := spawn(t, k, "p", PrivNone)
	q := spawn(t, k, "q", PrivNone)

	_, err := p.GrantDirect(q.Endpoint(), base, 16, 0)
	assert.ErrorIs(t, err, errno.ErrInvalid)
	_, err = p.GrantDirect(q.Endpoint(), base+200, 100, grant.Read)
	assert.ErrorIs(t, err, errno.ErrInvalid)
	_, err = p.GrantDirect(q.Endpoint(), 0, 16, grant.Read)
	assert.ErrorIs(t, err, errno.ErrInvalid)
	_, err = p.GrantDirect(endpoint.Kernel, base, 16, grant.Read)
	assert.ErrorIs(t, err, errno.ErrInvalid)
	_, err = p.GrantDirect(endpoint.Make(5, 5), base, 16, grant.Read)
	assert.ErrorIs(t, err, errno.ErrDeadSrcDst)

	_, err = p.GrantDirect(q.Endpoint(), base, 16, grant.Read)
	require.NoError(t, err)
	_, err = p.GrantDirect(endpoint.Any, base, 16, grant.Read)
	require.NoError(t, err)
	_, err = p.GrantDirect(q.Endpoint(), base, 16, grant.Read)
	assert.ErrorIs(t, err, errno.ErrTableFull)

	entries, err := p.Grants()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLookupGrant(t *testing.T) {
	k := newTestKernel(t, Options{})
	p := spawn(t, k, "p", PrivNone)
	q := spawn(t, k, "q", PrivNone)
	r := spawn(t, k, "r", PrivNone)

	gid, err := p.GrantDirect(q.Endpoint(), base, 64, grant.ReadWrite)
	require.NoError(t, err)
	ind, err := q.GrantIndirect(r.Endpoint(), p.Endpoint(), gid, grant.Read)
	require.NoError(t, err)

	src, dst, err := p.LookupGrant(gid)
	require.NoError(t, err)
	assert.Equal(t, p.Endpoint(), src)
	assert.Equal(t, q.Endpoint(), dst)

	src, dst, err = k.LookupGrant(q.Endpoint(), ind)
	require.NoError(t, err)
	assert.Equal(t, p.Endpoint(), src)
	assert.Equal(t, r.Endpoint(), dst)

	_, _, err = k.LookupGrant(r.Endpoint(), ind)
	assert.ErrorIs(t, err, errno.ErrInvalidGrant)
}

func TestIndirectNeverWidensAccess(t *testing.T) {
	modes := []grant.Access{grant.Read, grant.Write, grant.ReadWrite}
	for _, up := range modes {
		for _, req := range modes {
			k := newTestKernel(t, Options{})
			p := spawn(t, k, "p", PrivNone)
			q := spawn(t, k, "q", PrivNone)
			r := spawn(t, k, "r", PrivNone)

			gid, err := p.GrantDirect(q.Endpoint(), base, 32, up)
			require.NoError(t, err)

			ind, err := q.GrantIndirect(r.Endpoint(), p.Endpoint(), gid, req)
			if up&req == 0 {
				assert.ErrorIs(t, err, errno.ErrPerm, "up %s req %s", up, req)
				continue
			}
			require.NoError(t, err, "up %s req %s", up, req)

			entries, err := q.Grants()
			require.NoError(t, err)
			require.Len(t, entries, 1)
			got := entries[0].Grant.Access
			assert.True(t, up.Allows(got), "up %s req %s got %s", up, req, got)
			assert.True(t, req.Allows(got), "up %s req %s got %s", up, req, got)

			for _, mode := range []grant.Access{grant.Read, grant.Write} {
				err := r.Safecopy(q.Endpoint(), ind, 0, base, 8, mode)
				if got.Allows(mode) {
					assert.NoError(t, err, "up %s req %s mode %s", up, req, mode)
				} else {
					assert.ErrorIs(t, err, errno.ErrPerm, "up %s req %s mode %s", up, req, mode)
				}
			}
		}
	}
}

func TestIndirectRequiresHeldGrant(t *testing.T) {
	k := newTestKernel(t, Options{})
	p := spawn(t, k, "p", PrivNone)
	q := spawn(t, k, "q", PrivNone)
	r := spawn(t, k, "r", PrivNone)

	gid, err := p.GrantDirect(q.Endpoint(), base, 32, grant.Read)
	require.NoError(t, err)

	_, err = r.GrantIndirect(q.Endpoint(), p.Endpoint(), gid, grant.Read)
	assert.ErrorIs(t, err, errno.ErrPerm)
	_, err = q.GrantIndirect(r.Endpoint(), p.Endpoint(), gid+1, grant.Read)
	assert.ErrorIs(t, err, errno.ErrInvalidGrant)
	_, err = q.GrantIndirect(r.Endpoint(), r.Endpoint(), gid, grant.Read)
	assert.ErrorIs(t, err, errno.ErrInvalidGrant)
}

func TestGrantCycleRejected(t *testing.T) {
	k := newTestKernel(t, Options{})
	a := spawn(t, k, "a", PrivNone)
	b := spawn(t, k, "b", PrivNone)
	c := spawn(t, k, "c", PrivNone)

	gA, err := a.GrantDirect(b.Endpoint(), base, 32, grant.ReadWrite)
	require.NoError(t, err)
	gB, err := b.GrantIndirect(c.Endpoint(), a.Endpoint(), gA, grant.ReadWrite)
	require.NoError(t, err)

	_, err = c.GrantIndirect(a.Endpoint(), b.Endpoint(), gB, grant.Read)
	assert.ErrorIs(t, err, errno.ErrLoop)
	_, err = c.GrantIndirect(b.Endpoint(), b.Endpoint(), gB, grant.Read)
	assert.ErrorIs(t, err, errno.ErrLoop)
	_, err = c.GrantIndirect(c.Endpoint(), b.Endpoint(), gB, grant.Read)
	assert.ErrorIs(t, err, errno.ErrLoop)

	entries, err := c.Grants()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGrantChainDepthBound(t *testing.T) {
	k := newTestKernel(t, Options{MaxGrantDepth: 3})
	procs := make([]*Process, 5)
	for i := range procs {
		procs[i] = spawn(t, k, string(rune('a'+i)), PrivNone)
	}

	gid, err := procs[0].GrantDirect(procs[1].Endpoint(), base, 16, grant.Read)
	require.NoError(t, err)
	owner := procs[0].Endpoint()
	for i := 1; i < 3; i++ {
		next, err := procs[i].GrantIndirect(procs[i+1].Endpoint(), owner, gid, grant.Read)
		require.NoError(t, err, "hop %d", i)
		owner, gid = procs[i].Endpoint(), next
	}
	require.NoError(t, procs[3].SafecopyFrom(owner, gid, 0, base, 16))

	_, err = procs[3].GrantIndirect(procs[4].Endpoint(), owner, gid, grant.Read)
	assert.ErrorIs(t, err, errno.ErrLoop)
}

func TestRevokeInvalidatesDependents(t *testing.T) {
	k := newTestKernel(t, Options{})
	p := spawn(t, k, "p", PrivNone)
	q := spawn(t, k, "q", PrivNone)
	r := spawn(t, k, "r", PrivNone)

	gid, err := p.GrantDirect(q.Endpoint(), base, 64, grant.Read)
	require.NoError(t, err)
	ind, err := q.GrantIndirect(r.Endpoint(), p.Endpoint(), gid, grant.Read)
	require.NoError(t, err)
	require.NoError(t, r.SafecopyFrom(q.Endpoint(), ind, 0, base, 8))

	require.NoError(t, p.Revoke(gid))
	assert.ErrorIs(t, p.Revoke(gid), errno.ErrInvalidGrant)

	assert.ErrorIs(t, q.SafecopyFrom(p.Endpoint(), gid, 0, base, 8), errno.ErrInvalidGrant)
	assert.ErrorIs(t, r.SafecopyFrom(q.Endpoint(), ind, 0, base, 8), errno.ErrInvalidGrant)
	_, err = q.GrantIndirect(r.Endpoint(), p.Endpoint(), gid, grant.Read)
	assert.ErrorIs(t, err, errno.ErrInvalidGrant)

	// A new grant reusing the freed slot is not reachable through the stale id.
	again, err := p.GrantDirect(q.Endpoint(), base, 64, grant.Read)
	require.NoError(t, err)
	assert.NotEqual(t, gid, again)
	assert.ErrorIs(t, r.SafecopyFrom(q.Endpoint(), ind, 0, base, 8), errno.ErrInvalidGrant)
}

func TestDisabledGrant(t *testing.T) {
	k := newTestKernel(t, Options{})
	p := spawn(t, k, "p", PrivNone)
	q := spawn(t, k, "q", PrivNone)

	gid, err := p.GrantDirect(q.Endpoint(), base, 16, grant.Read)
	require.NoError(t, err)

	require.NoError(t, p.SetGrantEnabled(gid, false))
	assert.ErrorIs(t, q.SafecopyFrom(p.Endpoint(), gid, 0, base, 16), errno.ErrInvalidGrant)

	require.NoError(t, p.SetGrantEnabled(gid, true))
	assert.NoError(t, q.SafecopyFrom(p.Endpoint(), gid, 0, base, 16))
}

func TestMagicGrant(t *testing.T) {
	k := newTestKernel(t, Options{})
	pm := spawn(t, k, "pm", PrivMagicGrant)
	user := spawn(t, k, "user", PrivNone)
	fs := spawn(t, k, "fs", PrivNone)

	_, err := user.GrantMagic(fs.Endpoint(), pm.Endpoint(), base, 16, grant.Read)
	assert.ErrorIs(t, err, errno.ErrCallDenied)

	data := pattern(16, 0x40)
	require.NoError(t, user.Write(base, data))

	gid, err := pm.GrantMagic(fs.Endpoint(), user.Endpoint(), base, 16, grant.Read)
	require.NoError(t, err)

	src, dst, err := pm.LookupGrant(gid)
	require.NoError(t, err)
	assert.Equal(t, user.Endpoint(), src)
	assert.Equal(t, fs.Endpoint(), dst)

	require.NoError(t, fs.SafecopyFrom(pm.Endpoint(), gid, 0, base+100, 16))
	got, err := fs.Read(base+100, 16)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, user.Exit())
	entries, err := pm.Grants()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExitRevokesEveryDependentGrant(t *testing.T) {
	k := newTestKernel(t, Options{})
	p := spawn(t, k, "p", PrivNone)
	q := spawn(t, k, "q", PrivNone)
	r := spawn(t, k, "r", PrivNone)
	s := spawn(t, k, "s", PrivNone)

	var gids []grant.ID
	for i := range 3 {
		gid, err := p.GrantDirect(q.Endpoint(), base+uint64(i)*64, 64, grant.ReadWrite)
		require.NoError(t, err)
		gids = append(gids, gid)
	}
	ind, err := q.GrantIndirect(r.Endpoint(), p.Endpoint(), gids[0], grant.Read)
	require.NoError(t, err)
	ind2, err := r.GrantIndirect(s.Endpoint(), q.Endpoint(), ind, grant.Read)
	require.NoError(t, err)
	own, err := q.GrantDirect(r.Endpoint(), base, 64, grant.Read)
	require.NoError(t, err)
	toP, err := q.GrantDirect(p.Endpoint(), base, 64, grant.Read)
	require.NoError(t, err)

	require.NoError(t, p.Exit())

	for _, gid := range gids {
		assert.ErrorIs(t, q.SafecopyFrom(p.Endpoint(), gid, 0, base, 8), errno.ErrDeadSrcDst)
	}
	assert.ErrorIs(t, r.SafecopyFrom(q.Endpoint(), ind, 0, base, 8), errno.ErrInvalidGrant)
	assert.ErrorIs(t, s.SafecopyFrom(r.Endpoint(), ind2, 0, base, 8), errno.ErrInvalidGrant)

	qGrants, err := q.Grants()
	require.NoError(t, err)
	require.Len(t, qGrants, 1)
	assert.Equal(t, own, qGrants[0].ID)
	assert.NotEqual(t, toP, qGrants[0].ID)

	rGrants, err := r.Grants()
	require.NoError(t, err)
	assert.Empty(t, rGrants)

	assert.NoError(t, r.SafecopyFrom(q.Endpoint(), own, 0, base, 8))
}

func TestSafecopyScenario(t *testing.T) {
	k := newTestKernel(t, Options{MemorySize: 4096})
	p := spawn(t, k, "p", PrivNone)
	q := spawn(t, k, "q", PrivNone)

	data := pattern(64, 1)
	require.NoError(t, p.Write(base, data))
	gid, err := p.GrantDirect(q.Endpoint(), base, 64, grant.Read)
	require.NoError(t, err)

	require.NoError(t, q.SafecopyFrom(p.Endpoint(), gid, 0, base+1024, 64))
	got, err := q.Read(base+1024, 64)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	before, err := q.Read(base+2048, 64)
	require.NoError(t, err)
	assert.ErrorIs(t, q.SafecopyFrom(p.Endpoint(), gid, 32, base+2048, 64), errno.ErrRange)
	after, err := q.Read(base+2048, 64)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	assert.ErrorIs(t, q.SafecopyTo(p.Endpoint(), gid, 0, base, 8), errno.ErrPerm)
}

func TestSafecopyWrite(t *testing.T) {
	k := newTestKernel(t, Options{})
	p := spawn(t, k, "p", PrivNone)
	q := spawn(t, k, "q", PrivNone)
	r := spawn(t, k, "r", PrivNone)

	gid, err := p.GrantDirect(q.Endpoint(), base+128, 32, grant.Write)
	require.NoError(t, err)

	data := pattern(16, 0x80)
	require.NoError(t, q.Write(base, data))
	require.NoError(t, q.SafecopyTo(p.Endpoint(), gid, 8, base, 16))

	got, err := p.Read(base+136, 16)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	assert.ErrorIs(t, q.SafecopyFrom(p.Endpoint(), gid, 0, base, 8), errno.ErrPerm)
	assert.ErrorIs(t, r.SafecopyTo(p.Endpoint(), gid, 0, base, 8), errno.ErrPerm)
	assert.ErrorIs(t, q.Safecopy(p.Endpoint(), gid, 0, base, 8, grant.ReadWrite), errno.ErrInvalid)
	assert.ErrorIs(t, q.SafecopyTo(p.Endpoint(), gid, 0, 0, 8), errno.ErrRange)
	assert.ErrorIs(t, q.SafecopyTo(r.Endpoint(), gid, 0, base, 8), errno.ErrInvalidGrant)
}

func TestSafecopyAnyGrantee(t *testing.T) {
	k := newTestKernel(t, Options{})
	p := spawn(t, k, "p", PrivNone)
	q := spawn(t, k, "q", PrivNone)

	require.NoError(t, p.Write(base, []byte("shared")))
	gid, err := p.GrantDirect(endpoint.Any, base, 6, grant.Read)
	require.NoError(t, err)

	require.NoError(t, q.SafecopyFrom(p.Endpoint(), gid, 0, base, 6))
	got, err := q.Read(base, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte("shared"), got)

	// The owner may copy through its own grant via Self.
	require.NoError(t, p.SafecopyFrom(endpoint.Self, gid, 0, base+64, 6))
}

func TestVSafecopy(t *testing.T) {
	k := newTestKernel(t, Options{})
	p := spawn(t, k, "p", PrivNone)
	q := spawn(t, k, "q", PrivNone)

	require.NoError(t, p.Write(base, pattern(32, 0)))
	rd, err := p.GrantDirect(q.Endpoint(), base, 32, grant.Read)
	require.NoError(t, err)
	wr, err := p.GrantDirect(q.Endpoint(), base+256, 32, grant.Write)
	require.NoError(t, err)
	require.NoError(t, q.Write(base+512, bytes.Repeat([]byte{0xee}, 16)))

	results, err := q.VSafecopy([]VEntry{
		{From: p.Endpoint(), To: endpoint.Self, Grant: rd, Offset: 0, Addr: base, Bytes: 32},
		{From: p.Endpoint(), To: endpoint.Self, Grant: rd, Offset: 16, Addr: base + 64, Bytes: 32},
		{From: endpoint.Self, To: p.Endpoint(), Grant: wr, Offset: 0, Addr: base + 512, Bytes: 16},
		{From: endpoint.Self, To: endpoint.Self, Grant: wr, Bytes: 1},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.NoError(t, results[0])
	assert.ErrorIs(t, results[1], errno.ErrRange)
	assert.NoError(t, results[2])
	assert.ErrorIs(t, results[3], errno.ErrInvalid)
	assert.Equal(t, 2, Succeeded(results))

	got, err := q.Read(base, 32)
	require.NoError(t, err)
	assert.Equal(t, pattern(32, 0), got)
	written, err := p.Read(base+256, 16)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xee}, 16), written)
}
