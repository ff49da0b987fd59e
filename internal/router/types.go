package router

import (
	"github.com/rickgao/regpilot-realtime/internal/model"
)

// Handler receives messages of a subscribed type.
type Handler interface {
	HandleMessage(msg model.Message) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(msg model.Message) error

func (f HandlerFunc) HandleMessage(msg model.Message) error {
	return f(msg)
}

// Typed adapts a payload-aware function into a Handler. The payload is
// decoded into T before fn is called; decode failures are returned as
// handler errors.
func Typed[T any](fn func(payload T, msg model.Message) error) Handler {
	return HandlerFunc(func(msg model.Message) error {
		payload, err := model.Decode[T](msg)
		if err != nil {
			return err
		}
		return fn(payload, msg)
	})
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesDispatched int64 // Messages with at least one handler
	Undelivered        int64 // Messages whose type had no handler
	HandlerCalls       int64
	HandlerErrors      int64 // Returned errors and recovered panics
	Types              int   // Types with at least one handler
}

// subscription is one registered handler. The pointer is its identity.
type subscription struct {
	handler Handler
	removed bool
}
