package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/boot"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/service"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// Handlers serves the admin API over a booted system.
type Handlers struct {
	kernel   *kernel.Kernel
	system   *boot.System
	registry *service.Registry
	tracer   *tracing.Tracer
	logger   *logging.Logger
	started  time.Time
}

// NewHandlers creates the admin handlers.
func NewHandlers(sys *boot.System, registry *service.Registry, tracer *tracing.Tracer, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		kernel:   sys.Kernel,
		system:   sys,
		registry: registry,
		tracer:   tracer,
		logger:   logger.Named("api"),
		started:  time.Now(),
	}
}

// Root describes the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":  "ipcore",
		"instance": h.kernel.Instance(),
		"boot":     h.system.Names(),
	})
}

// Health reports liveness with process counts
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"processes":      h.kernel.Live(),
		"max_processes":  h.kernel.Options().MaxProcs,
		"uptime_seconds": time.Since(h.started).Seconds(),
	})
}

// ListProcesses returns every live process
func (h *Handlers) ListProcesses(c *gin.Context) {
	snap := h.kernel.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"processes": snap.Processes,
		"stats": gin.H{
			"total": len(snap.Processes),
			"max":   snap.MaxProcs,
		},
	})
}

// GetProcess returns one process by endpoint or boot name
func (h *Handlers) GetProcess(c *gin.Context) {
	ep, ok := h.endpointParam(c)
	if !ok {
		return
	}
	for _, p := range h.kernel.Snapshot().Processes {
		if p.Endpoint == ep {
			c.JSON(http.StatusOK, p)
			return
		}
	}
	respondError(c, errno.ErrDeadSrcDst)
}

// ExitProcess terminates a process
func (h *Handlers) ExitProcess(c *gin.Context) {
	ep, ok := h.endpointParam(c)
	if !ok {
		return
	}
	if err := h.kernel.Exit(ep); err != nil {
		respondError(c, err)
		return
	}
	h.logger.Info("process exited by admin", logging.Endpoint("endpoint", ep))
	c.JSON(http.StatusOK, gin.H{"success": true, "endpoint": ep})
}

// SetNice changes the priority of a delegated process through its scheduler
func (h *Handlers) SetNice(c *gin.Context) {
	ep, ok := h.endpointParam(c)
	if !ok {
		return
	}
	var req struct {
		Nice *int `json:"nice" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}
	if h.system.Delegator == nil {
		respondError(c, errno.ErrCallDenied)
		return
	}
	if err := h.system.Delegator.SetNice(c.Request.Context(), ep, *req.Nice); err != nil {
		respondError(c, err)
		return
	}
	rec, _ := h.system.Delegator.Record(ep)
	c.JSON(http.StatusOK, gin.H{"success": true, "record": rec})
}

// Snapshot returns the full kernel state
func (h *Handlers) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.kernel.Snapshot())
}

// DebugSnapshot streams the kernel state as a gzip-compressed JSON download.
func (h *Handlers) DebugSnapshot(c *gin.Context) {
	c.Header("Content-Type", "application/json")
	c.Header("Content-Encoding", "gzip")
	c.Header("Content-Disposition", "attachment; filename=snapshot.json.gz")
	c.Status(http.StatusOK)

	zw := gzip.NewWriter(c.Writer)
	defer zw.Close()
	if err := encodeJSON(zw, h.kernel.Snapshot()); err != nil {
		h.logger.Warn("failed to write snapshot", zap.Error(err))
	}
}

// SchedRecords lists delegation records held by the process manager
func (h *Handlers) SchedRecords(c *gin.Context) {
	if h.system.Delegator == nil {
		c.JSON(http.StatusOK, gin.H{"records": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": h.system.Delegator.Records()})
}

// Breakers reports the circuit state per scheduler
func (h *Handlers) Breakers(c *gin.Context) {
	states := make(map[string]string)
	if h.system.Delegator != nil {
		for name, s := range h.system.Delegator.Breakers() {
			states[name] = s.String()
		}
	}
	c.JSON(http.StatusOK, gin.H{"breakers": states})
}

// Schedulers lists each scheduling server with the processes it manages
func (h *Handlers) Schedulers(c *gin.Context) {
	out := make([]gin.H, 0, len(h.system.Schedulers))
	for _, name := range h.system.Names() {
		srv, ok := h.system.Schedulers[name]
		if !ok {
			continue
		}
		out = append(out, gin.H{
			"name":     name,
			"endpoint": srv.Endpoint(),
			"entries":  srv.Entries(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"schedulers": out})
}

// ListServices returns all registered tool providers
func (h *Handlers) ListServices(c *gin.Context) {
	var category *service.Category
	if q := c.Query("category"); q != "" {
		cat := service.Category(q)
		category = &cat
	}
	c.JSON(http.StatusOK, gin.H{
		"services": h.registry.List(category),
		"stats":    h.registry.Stats(),
	})
}

// DiscoverServices ranks services against a free-text query
func (h *Handlers) DiscoverServices(c *gin.Context) {
	var req struct {
		Query string `json:"query" binding:"required"`
		Limit int    `json:"limit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}
	if req.Limit <= 0 {
		req.Limit = 5
	}
	c.JSON(http.StatusOK, gin.H{"services": h.registry.Discover(req.Query, req.Limit)})
}

// ExecuteService runs a tool as the named process
func (h *Handlers) ExecuteService(c *gin.Context) {
	var req struct {
		ToolID string         `json:"tool_id" binding:"required"`
		Params map[string]any `json:"params"`
		Caller string         `json:"caller" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	ep, err := h.resolve(req.Caller)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	var span *tracing.Span
	if h.tracer != nil {
		span, ctx = h.tracer.StartSpan(ctx, "service "+req.ToolID)
		span.SetTag("caller", ep.String())
	}
	result, err := h.registry.Execute(ctx, req.ToolID, req.Params, &service.Caller{Endpoint: ep, Name: req.Caller})
	if span != nil {
		span.SetError(err)
		span.Finish()
		h.tracer.Submit(span)
	}

	if err != nil {
		h.logger.Debug("tool failed", zap.String("tool", req.ToolID), zap.Error(err))
		c.JSON(statusFor(err), result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// endpointParam parses the :ep path parameter, writing the error response itself.
func (h *Handlers) endpointParam(c *gin.Context) (endpoint.Endpoint, bool) {
	ep, err := h.resolve(c.Param("ep"))
	if err != nil {
		respondError(c, err)
		return endpoint.None, false
	}
	return ep, true
}

// resolve accepts a numeric endpoint or the name of a live process.
func (h *Handlers) resolve(s string) (endpoint.Endpoint, error) {
	if n, err := strconv.ParseInt(s, 10, 32); err == nil {
		return endpoint.Endpoint(n), nil
	}
	if p, ok := h.kernel.Lookup(s); ok {
		return p.Endpoint(), nil
	}
	return endpoint.None, errno.ErrBadSrcDst
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"success": false,
		"error":   err.Error(),
		"errno":   errno.Code(err),
	})
}

// statusFor maps a kernel error class to an HTTP status.
func statusFor(err error) int {
	var e *errno.Errno
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Class {
	case errno.ClassAddressing:
		return http.StatusNotFound
	case errno.ClassPermission:
		return http.StatusForbidden
	case errno.ClassValidation:
		return http.StatusBadRequest
	case errno.ClassCapacity:
		return http.StatusInsufficientStorage
	case errno.ClassConcurrency:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
