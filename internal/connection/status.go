package connection

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/regpilot-realtime/internal/metrics"
)

// StatusHandler observes status transitions. err is non-nil only for
// StatusError.
type StatusHandler func(status Status, err error)

type statusSubscription struct {
	fn StatusHandler
}

// StatusNotifier fans status transitions out to subscribers. A failing
// subscriber is logged and does not affect the others.
type StatusNotifier struct {
	mu     sync.RWMutex
	subs   []*statusSubscription
	logger *slog.Logger

	metrics *metrics.Metrics
}

// NewStatusNotifier creates an empty notifier.
func NewStatusNotifier(logger *slog.Logger, m *metrics.Metrics) *StatusNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusNotifier{
		logger:  logger,
		metrics: m,
	}
}

// Subscribe adds a handler and returns a function that removes it.
func (n *StatusNotifier) Subscribe(fn StatusHandler) (unsubscribe func()) {
	sub := &statusSubscription{fn: fn}

	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(sub) })
	}
}

func (n *StatusNotifier) remove(sub *statusSubscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			return
		}
	}
}

// Notify calls every subscriber in registration order.
func (n *StatusNotifier) Notify(status Status, err error) {
	n.mu.RLock()
	subs := make([]*statusSubscription, len(n.subs))
	copy(subs, n.subs)
	n.mu.RUnlock()

	for _, sub := range subs {
		n.invoke(sub.fn, status, err)
	}
}

func (n *StatusNotifier) invoke(fn StatusHandler, status Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("status handler failed",
				"status", status.String(),
				"error", fmt.Errorf("panic: %v", r),
			)
			n.metrics.HandlerError("status")
		}
	}()
	fn(status, err)
}

// Reset removes all subscribers.
func (n *StatusNotifier) Reset() {
	n.mu.Lock()
	n.subs = nil
	n.mu.Unlock()
}

// Len returns the number of subscribers.
func (n *StatusNotifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}
