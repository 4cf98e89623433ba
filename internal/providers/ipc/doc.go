// Package ipc exposes kernel IPC to the admin API as service tools.
//
// Every tool runs as the calling process named in the service.Caller and uses only the
// nonblocking forms of the kernel calls, so an HTTP request never parks a process.
//
// Example Usage:
//
//	// vfs offers 64 bytes of its memory to tty
//	ipc.grant(grantee: tty, start: 4096, length: 64, access: "r")
//
//	// tty copies them to its own address 8192
//	ipc.safecopy(owner: vfs, id: 0, local: 8192, length: 64)
//
//	// wake a server waiting in receive
//	ipc.notify(dest: rs)
package ipc
