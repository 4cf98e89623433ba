package ws

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/kernel"
)

const (
	spanBuffer = 256
	writeWait  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // admin API binds to localhost by default
	},
}

// Message is a client request.
type Message struct {
	Type   string `json:"type"`
	Prefix string `json:"prefix,omitempty"`
}

// Handler manages WebSocket connections
type Handler struct {
	kernel  *kernel.Kernel
	tracer  *tracing.Tracer
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(k *kernel.Kernel, tracer *tracing.Tracer, metrics *monitoring.Metrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		kernel:  k,
		tracer:  tracer,
		metrics: metrics,
		logger:  logger.Named("ws"),
	}
}

// conn serializes writes; gorilla connections allow one concurrent writer.
type conn struct {
	ws      *websocket.Conn
	metrics *monitoring.Metrics

	mu     sync.Mutex
	prefix string
}

func (c *conn) send(msgType string, data map[string]any) error {
	data["type"] = msgType
	data["timestamp"] = time.Now().Unix()
	b, err := sonic.Marshal(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return err
	}
	c.metrics.RecordWSMessage("out", msgType)
	return nil
}

func (c *conn) sendError(msg string) error {
	return c.send("error", map[string]any{"message": msg})
}

func (c *conn) setPrefix(p string) {
	c.mu.Lock()
	c.prefix = p
	c.mu.Unlock()
}

func (c *conn) wants(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.HasPrefix(name, c.prefix)
}

// HandleConnection upgrades the request and streams spans until the client goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	cn := &conn{ws: ws, metrics: h.metrics}
	spans, cancel := h.tracer.Subscribe(spanBuffer)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.forward(cn, spans)
	}()

	if err := cn.send("system", map[string]any{
		"message":  "Connected to ipcore event stream",
		"instance": h.kernel.Instance(),
	}); err != nil {
		return
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			h.logger.Debug("WebSocket closed", zap.Error(err))
			break
		}
		var msg Message
		if err := sonic.Unmarshal(data, &msg); err != nil {
			_ = cn.sendError("malformed message")
			continue
		}
		h.metrics.RecordWSMessage("in", msg.Type)

		switch msg.Type {
		case "ping":
			err = cn.send("pong", map[string]any{})
		case "filter":
			cn.setPrefix(msg.Prefix)
			err = cn.send("filter", map[string]any{"prefix": msg.Prefix})
		case "snapshot":
			err = cn.send("snapshot", map[string]any{"snapshot": h.kernel.Snapshot()})
		default:
			err = cn.sendError("unknown message type")
		}
		if err != nil {
			break
		}
	}

	cancel()
	<-done
}

// forward relays spans until the subscription is cancelled.
func (h *Handler) forward(cn *conn, spans <-chan *tracing.Span) {
	for span := range spans {
		if !cn.wants(span.Name) {
			continue
		}
		if err := cn.send("span", map[string]any{"span": span}); err != nil {
			h.logger.Debug("span not delivered", zap.Error(err))
			return
		}
	}
}
