/*
Package sched delegates process scheduling to user-space schedulers.

A Delegator runs on behalf of the process manager. Start and Inherit send a request to a
scheduler and block for its reply; the reply names the scheduler that finally accepted the
process, which may differ from the one addressed when the request was forwarded.

	d := sched.NewDelegator(k, pm, sched.Options{})
	final, err := d.Start(ctx, s1, child, parent, 7, 200, 0)

Passing endpoint.Kernel reverts a process to kernel scheduling without any message. Transport
errors are returned as they are; nothing falls back to the kernel on failure.

A Server is a scheduler process. It answers requests with SendNB so a caller that is not waiting
never blocks it, and it may forward start and inherit requests through a Router. Forwarding is
bounded by Options.MaxHops.
*/
package sched
