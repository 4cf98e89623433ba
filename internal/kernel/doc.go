/*
Package kernel implements the IPC core: the endpoint directory, message transport, grant
tables and the safecopy engine.

# Model

Every process is represented by a *Process handle returned from Spawn. Calls are methods on
the handle of the calling process, so the caller's identity is never taken from arguments.
One kernel-wide mutex serializes all state; a process blocked in Send, Receive or SendRec parks
on a condition variable bound to that mutex and is resumed by its partner's matching call or
by a partner's exit.

# Transport

	srv, _ := k.Spawn(kernel.ProcSpec{Name: "vfs"})
	cli, _ := k.Spawn(kernel.ProcSpec{Name: "shell"})

	go func() {
		req, _ := srv.Receive(endpoint.Any)
		_ = srv.Send(req.Source, message.New(0, message.U64{42}))
	}()
	reply, err := cli.SendRec(srv.Endpoint(), message.New(1, nil))

Receive delivers pending notifications first, then asynchronous messages, then blocked senders
in arrival order. A call that would close a wait cycle fails with errno.ErrDeadlock instead of
blocking.

# Grants and safecopy

	gid, _ := owner.GrantDirect(user.Endpoint(), base, 64, grant.Read)
	err := user.SafecopyFrom(owner.Endpoint(), gid, 0, localAddr, 64)

Indirect grants re-delegate a grant the caller holds and can only narrow its access. Chains are
bounded by Options.MaxGrantDepth and may not revisit a process already on the chain. Exit of a
process frees every grant that depends on it, transitively.
*/
package kernel
