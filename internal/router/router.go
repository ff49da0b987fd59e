package router

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rickgao/regpilot-realtime/internal/metrics"
	"github.com/rickgao/regpilot-realtime/internal/model"
)

// Router dispatches messages to the handlers registered for their type.
type Router struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	handlers map[string][]*subscription

	// Stats
	statsMu       sync.Mutex
	dispatched    int64
	undelivered   int64
	handlerCalls  int64
	handlerErrors int64
}

// New creates an empty Router. m may be nil.
func New(logger *slog.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		logger:   logger,
		metrics:  m,
		handlers: make(map[string][]*subscription),
	}
}

// Subscribe registers h for msgType and returns a function that removes
// exactly this registration. The returned function is idempotent.
func (r *Router) Subscribe(msgType string, h Handler) (unsubscribe func()) {
	sub := &subscription{handler: h}

	r.mu.Lock()
	r.handlers[msgType] = append(r.handlers[msgType], sub)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(msgType, sub) })
	}
}

// SubscribeFunc is Subscribe for a plain function.
func (r *Router) SubscribeFunc(msgType string, fn func(model.Message) error) (unsubscribe func()) {
	return r.Subscribe(msgType, HandlerFunc(fn))
}

// remove deletes sub, dropping the type entry when it was the last handler.
func (r *Router) remove(msgType string, sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub.removed = true

	subs := r.handlers[msgType]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}

	if len(subs) == 0 {
		delete(r.handlers, msgType)
		return
	}
	r.handlers[msgType] = subs
}

// Dispatch delivers msg to every handler currently registered for its type.
// Messages of unknown type are dropped silently.
func (r *Router) Dispatch(msg model.Message) {
	r.mu.RLock()
	subs := r.handlers[msg.Type]
	targets := make([]*subscription, len(subs))
	copy(targets, subs)
	r.mu.RUnlock()

	if len(targets) == 0 {
		r.statsMu.Lock()
		r.undelivered++
		r.statsMu.Unlock()
		return
	}

	r.statsMu.Lock()
	r.dispatched++
	r.statsMu.Unlock()

	for _, sub := range targets {
		if r.isRemoved(sub) {
			continue
		}
		r.invoke(sub.handler, msg)
	}
}

func (r *Router) isRemoved(sub *subscription) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sub.removed
}

// invoke runs one handler, converting a panic into a logged error.
func (r *Router) invoke(h Handler, msg model.Message) {
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("handler panic: %v", p)
			}
		}()
		return h.HandleMessage(msg)
	}()

	r.statsMu.Lock()
	r.handlerCalls++
	if err != nil {
		r.handlerErrors++
	}
	r.statsMu.Unlock()

	if err != nil {
		r.logger.Error("message handler failed",
			"type", msg.Type,
			"error", err,
		)
		r.metrics.HandlerError("message")
	}
}

// Reset removes every subscription.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, subs := range r.handlers {
		for _, s := range subs {
			s.removed = true
		}
	}
	r.handlers = make(map[string][]*subscription)
}

// Types returns the message types that currently have handlers, sorted.
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// HandlerCount returns the number of handlers registered for msgType.
func (r *Router) HandlerCount(msgType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[msgType])
}

// Stats returns current statistics.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	types := len(r.handlers)
	r.mu.RUnlock()

	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	return RouterStats{
		MessagesDispatched: r.dispatched,
		Undelivered:        r.undelivered,
		HandlerCalls:       r.handlerCalls,
		HandlerErrors:      r.handlerErrors,
		Types:              types,
	}
}
