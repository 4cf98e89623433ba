// Package logging wraps uber/zap for the kernel and the admin server.
//
// Production builds write JSON lines; development builds write colored console output.
// Each subsystem takes a named child (kernel, sched, boot, http). Endpoint, Grant and Errno
// build the fields that appear on most IPC log lines, so entries can be filtered by process,
// grant id or kernel error name.
//
//	klog := logger.Named("kernel")
//	klog.Debug("grant created", logging.Endpoint("owner", ep), logging.Grant("grant", gid))
//	klog.Warn("safecopy failed", logging.Errno(err))
package logging
