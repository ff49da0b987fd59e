// Package queue provides the bounded FIFO used to hold outbound messages
// while the realtime connection is unavailable.
package queue
