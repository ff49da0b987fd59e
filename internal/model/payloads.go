package model

import (
	"time"

	"github.com/google/uuid"
)

// Message types known to the application. The transport treats every
// other type the same way; these exist so subscribers agree on names.
const (
	TypePing            = "ping"
	TypePong            = "pong"
	TypeProjectUpdated  = "project_updated"
	TypeTypingIndicator = "typing_indicator"
	TypeAgentResponse   = "agent_response"
)

// Ping is the heartbeat payload.
type Ping struct {
	Timestamp string `json:"timestamp"`
}

// NewPing builds a heartbeat message for the given instant.
func NewPing(at time.Time) Message {
	msg, _ := NewMessageAt(TypePing, Ping{Timestamp: FormatTimestamp(at)}, at)
	return msg
}

// ProjectUpdated announces a change to a regulatory project.
type ProjectUpdated struct {
	ProjectID uuid.UUID         `json:"project_id"`
	Status    string            `json:"status,omitempty"`
	Changes   map[string]string `json:"changes,omitempty"`
	UpdatedBy string            `json:"updated_by,omitempty"`
	UpdatedAt string            `json:"updated_at,omitempty"`
}

// TypingIndicator reports that a collaborator is typing in a project thread.
type TypingIndicator struct {
	ProjectID uuid.UUID `json:"project_id"`
	UserID    string    `json:"user_id"`
	IsTyping  bool      `json:"is_typing"`
}

// AgentResponse is one chunk of a streamed agent reply.
type AgentResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	Seq       int       `json:"seq"`
	Content   string    `json:"content"`
	Done      bool      `json:"done"`
}
