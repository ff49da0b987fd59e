// Package journal records received realtime messages in PostgreSQL.
//
// The journal subscribes to selected message types and appends each message
// to the realtime_messages table in batches. Rows are append-only; a frame
// redelivered after a reconnect maps to the same row id and is skipped with
// ON CONFLICT DO NOTHING.
package journal
