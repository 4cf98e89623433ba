/*
Package monitoring provides Prometheus metrics for the kernel and its admin API.

# Overview

Metrics are registered on a private registry owned by each Metrics value, so
several kernels (and tests) can coexist in one process. A nil *Metrics records
nothing, which lets the kernel run without instrumentation.

# Features

- Kernel call counts and latency, labelled by operation and errno class
- Blocked-process, live-process and live-grant gauges
- Safecopy byte counters and grant revocation counters
- Scheduling delegation request outcomes
- Admin HTTP and event feed metrics

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))

	timer := monitoring.NewTimer(metrics, "sendrec")
	err := k.SendRec(ctx, caller, dest, &msg)
	timer.Stop(err)

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
*/
package monitoring
