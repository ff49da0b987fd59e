// Package connection implements the realtime Connection Manager.
//
// The Connection Manager:
//   - Keeps one logical push channel open to the server over a single WebSocket
//   - Tracks status (connecting, connected, disconnected, error) and notifies observers
//   - Reconnects with capped exponential backoff within an attempt budget
//   - Sends an application-level ping every heartbeat interval while connected
//   - Buffers outbound messages in a bounded FIFO while the socket is unavailable
//   - Routes inbound messages to type-scoped subscribers
package connection
