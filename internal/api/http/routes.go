package http

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the admin API on router. toolLimits run ahead of tool execution only.
func RegisterRoutes(router gin.IRouter, h *Handlers, ma *MetricsAggregator, toolLimits ...gin.HandlerFunc) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)

	// Kernel state
	api := router.Group("/api")
	api.GET("/snapshot", h.Snapshot)
	api.GET("/processes", h.ListProcesses)
	api.GET("/processes/:ep", h.GetProcess)
	api.DELETE("/processes/:ep", h.ExitProcess)
	api.POST("/processes/:ep/nice", h.SetNice)

	// Scheduling delegation
	api.GET("/sched/records", h.SchedRecords)
	api.GET("/sched/breakers", h.Breakers)
	api.GET("/sched/servers", h.Schedulers)

	// Tools
	router.GET("/services", h.ListServices)
	router.POST("/services/discover", h.DiscoverServices)
	router.POST("/services/execute", append(toolLimits, h.ExecuteService)...)

	router.GET("/debug/snapshot", h.DebugSnapshot)

	// Metrics endpoints
	router.GET("/metrics", ma.Prometheus())
	router.GET("/metrics/json", ma.GetAggregatedMetrics)
}
