// Package ws streams kernel activity to admin clients over WebSocket.
//
// Every finished trace span (process spawn and exit, notifications, grant revocation,
// scheduling delegation, admin tool calls) is pushed to connected clients as it happens.
//
// Message Types (Client → Server):
//   - ping: Keep-alive ping
//   - filter: Only forward spans whose name starts with "prefix"
//   - snapshot: Request the current kernel snapshot
//
// Message Types (Server → Client):
//   - system: Connection established
//   - span: One finished span
//   - snapshot: Kernel snapshot
//   - pong, error
//
// Example Usage:
//
//	handler := ws.NewHandler(k, tracer, metrics, logger)
//	router.GET("/events", handler.HandleConnection)
package ws
