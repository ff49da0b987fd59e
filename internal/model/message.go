package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TimestampLayout is the ISO-8601 layout used for Message.Timestamp.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrMissingType is returned when an inbound frame has no "type" field.
var ErrMissingType = errors.New("message type is required")

// Message is one frame on the realtime channel.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// NewMessage builds a message stamped with the current time.
func NewMessage(msgType string, data any) (Message, error) {
	return NewMessageAt(msgType, data, time.Now())
}

// NewMessageAt builds a message stamped with the given time.
func NewMessageAt(msgType string, data any, at time.Time) (Message, error) {
	if msgType == "" {
		return Message{}, ErrMissingType
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", msgType, err)
	}

	return Message{
		Type:      msgType,
		Data:      raw,
		Timestamp: FormatTimestamp(at),
	}, nil
}

// ParseMessage decodes a single inbound frame.
func ParseMessage(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Type == "" {
		return Message{}, ErrMissingType
	}
	return msg, nil
}

// Encode returns the wire form of the message.
func (m Message) Encode() ([]byte, error) {
	if m.Data == nil {
		m.Data = json.RawMessage("null")
	}
	return json.Marshal(m)
}

// Time parses Timestamp. Senders are not validated at the transport layer,
// so callers that need the time must handle the error.
func (m Message) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, m.Timestamp)
}

// Decode unmarshals the message payload into T.
// A missing or null payload yields the zero value of T.
func Decode[T any](m Message) (T, error) {
	var v T
	if len(m.Data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(m.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return v, nil
}

// FormatTimestamp renders t in TimestampLayout (UTC).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
