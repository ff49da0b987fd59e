// Package model defines the wire types exchanged over the realtime channel.
//
// Every frame is a single JSON object:
//
//	{"type": "project_updated", "data": {...}, "timestamp": "2024-01-15T12:00:00.000Z"}
//
// Conventions:
//   - type is the dispatch key; unknown types are ignored by the router
//   - data is opaque at the transport layer and decoded by the subscriber
//   - timestamps are ISO-8601 strings in UTC with millisecond precision
//   - IDs: uuid.UUID for projects and agent sessions
package model
