// Package main runs the ipcore kernel with its boot processes and the admin API.
//
// Startup order: configuration is read from the environment (IPCORE_*, KERNEL_*, SCHED_*,
// BOOT_*, LOG_*, RATE_LIMIT_*), flags override it, the kernel is created, the boot manifest
// (or the built-in image) is spawned, every boot process is handed to its scheduler and the
// admin HTTP server starts.
//
//	# built-in boot image, admin API on 127.0.0.1:8700
//	./server
//
//	# TOML or YAML boot image, console logs at debug level
//	./server -manifest boot.toml -dev
//
// SIGINT or SIGTERM stops the admin server, exits the scheduler processes and flushes logs.
package main
