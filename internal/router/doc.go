// Package router implements type-scoped publish/subscribe for inbound
// realtime messages.
//
// Subscribers register a Handler under a message type. Each delivery is
// isolated: an error or panic from one handler is logged and counted but
// never stops the remaining handlers or the connection.
package router
