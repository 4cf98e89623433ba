/*
Package resilience guards calls to user-space servers with circuit breakers.

The scheduling delegator keeps one Breaker per scheduler endpoint in a Set. A scheduler that
keeps failing with liveness or readiness errors is cut off: further requests fail fast with
ErrCircuitOpen, which wraps errno.ErrNotReady, instead of queueing behind a dead server.
Validation and permission errors are the caller's fault and count as successes.

	Closed --[Threshold failures]--> Open --[Cooldown]--> Half-Open --[Trials successes]--> Closed
	                                  ^                       |
	                                  +-------[failure]-------+
*/
package resilience
