// Package ws streams progress updates and machine events to UI clients
// over WebSocket.
//
// A client connects to /sessions/:session/feed and sends requests; every
// request is answered asynchronously on the same connection.
//
// Message Types (Client → Server):
//   - watch: poll a progress object and stream its updates
//   - cancel: cancel a progress object on the server
//   - events: stream machine state changes, thawed into the session
//   - ping: keep-alive ping
//
// Message Types (Server → Client):
//   - connected: the feed is ready
//   - progress: one progress update; the last one has a terminal state
//   - subscribed: the event stream is live
//   - event: a machine state change
//   - pong: reply to ping
//   - error: a request failed
//
// Example Usage:
//
//	handler := ws.NewHandler(sessions, ws.WithEvents(bus))
//	router.GET("/sessions/:session/feed", handler.HandleConnection)
package ws
