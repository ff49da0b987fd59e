// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Realtime connection status and transitions
//   - Reconnect attempts and backoff delay
//   - Outbound send/queue/eviction counts and queue depth
//   - Inbound message rates by type, parse errors and handler failures
//   - Journal flushes and insert errors
//
// Every method is safe to call on a nil *Metrics so components can run
// without instrumentation.
package metrics
