package tracing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/id"
)

// Span represents a single operation in a trace
type Span struct {
	TraceID   id.TraceID        `json:"trace_id"`
	SpanID    id.SpanID         `json:"span_id"`
	ParentID  id.SpanID         `json:"parent_id,omitempty"`
	Name      string            `json:"name"`
	Service   string            `json:"service"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time"`
	Duration  time.Duration     `json:"duration"`
	Tags      map[string]string `json:"tags,omitempty"`
	Error     string            `json:"error,omitempty"`
	Status    int32             `json:"status"`
}

// Tracer collects finished spans, logs them and fans them out to subscribers.
type Tracer struct {
	service string
	logger  *zap.Logger
	spans   chan *Span
	done    chan struct{}
	closeMu sync.Once

	mu     sync.RWMutex
	subs   map[int]chan *Span
	nextID int
}

// New creates a new tracer instance
func New(service string, logger *zap.Logger) *Tracer {
	t := &Tracer{
		service: service,
		logger:  logger,
		spans:   make(chan *Span, 1000),
		done:    make(chan struct{}),
		subs:    make(map[int]chan *Span),
	}

	go t.collectSpans()

	return t
}

// StartSpan creates a new span
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = id.NewTraceID()
	}

	span := &Span{
		TraceID:   traceID,
		SpanID:    id.NewSpanID(),
		ParentID:  GetSpanID(ctx),
		Name:      name,
		Service:   t.service,
		StartTime: time.Now(),
		Tags:      make(map[string]string),
	}

	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, spanIDKey, span.SpanID)

	return span, newCtx
}

// Finish marks the span as complete
func (s *Span) Finish() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// SetTag adds a tag to the span
func (s *Span) SetTag(key, value string) {
	s.Tags[key] = value
}

// SetError records an error in the span along with its status code.
func (s *Span) SetError(err error) {
	if err == nil {
		return
	}
	s.Error = err.Error()
	s.Status = errno.Code(err)
}

// Subscribe registers a subscriber for finished spans. The returned cancel function
// unregisters it and closes the channel. Slow subscribers miss spans rather than block.
func (t *Tracer) Subscribe(buffer int) (<-chan *Span, func()) {
	ch := make(chan *Span, buffer)

	t.mu.Lock()
	subID := t.nextID
	t.nextID++
	t.subs[subID] = ch
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			if _, ok := t.subs[subID]; ok {
				delete(t.subs, subID)
				close(ch)
			}
			t.mu.Unlock()
		})
	}
	return ch, cancel
}

// collectSpans processes completed spans
func (t *Tracer) collectSpans() {
	for {
		select {
		case span := <-t.spans:
			t.processSpan(span)
		case <-t.done:
			return
		}
	}
}

// processSpan logs a span and hands it to subscribers
func (t *Tracer) processSpan(span *Span) {
	fields := []zap.Field{
		zap.String("trace_id", span.TraceID.String()),
		zap.String("span_id", span.SpanID.String()),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
		zap.String("service", span.Service),
	}

	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", span.ParentID.String()))
	}
	for k, v := range span.Tags {
		fields = append(fields, zap.String(k, v))
	}

	if span.Error != "" {
		fields = append(fields, zap.String("error", span.Error), zap.Int32("status", span.Status))
		t.logger.Debug("span completed with error", fields...)
	} else {
		t.logger.Debug("span completed", fields...)
	}

	t.mu.RLock()
	for _, ch := range t.subs {
		select {
		case ch <- span:
		default:
		}
	}
	t.mu.RUnlock()
}

// Submit sends a span to the collector
func (t *Tracer) Submit(span *Span) {
	if t == nil {
		return
	}
	select {
	case t.spans <- span:
	default:
		t.logger.Warn("span buffer full, dropping span",
			zap.String("trace_id", span.TraceID.String()),
			zap.String("span_id", span.SpanID.String()),
		)
	}
}

// Close stops the collector and closes every subscriber channel.
func (t *Tracer) Close() {
	t.closeMu.Do(func() {
		close(t.done)
		t.mu.Lock()
		for subID, ch := range t.subs {
			delete(t.subs, subID)
			close(ch)
		}
		t.mu.Unlock()
	})
}

// ExtractTraceContext extracts trace context from headers
func ExtractTraceContext(headers map[string]string) (id.TraceID, id.SpanID) {
	return id.TraceID(headers["X-Trace-ID"]), id.SpanID(headers["X-Span-ID"])
}

// InjectTraceContext injects trace context into headers
func InjectTraceContext(ctx context.Context, headers map[string]string) {
	if traceID := GetTraceID(ctx); traceID != "" {
		headers["X-Trace-ID"] = traceID.String()
	}
	if spanID := GetSpanID(ctx); spanID != "" {
		headers["X-Span-ID"] = spanID.String()
	}
}

// Context keys for trace propagation
type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// GetTraceID retrieves the trace ID from context
func GetTraceID(ctx context.Context) id.TraceID {
	if traceID, ok := ctx.Value(traceIDKey).(id.TraceID); ok {
		return traceID
	}
	return ""
}

// GetSpanID retrieves the span ID from context
func GetSpanID(ctx context.Context) id.SpanID {
	if spanID, ok := ctx.Value(spanIDKey).(id.SpanID); ok {
		return spanID
	}
	return ""
}

