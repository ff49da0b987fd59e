package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"
)

// fakeScheduler is a manually advanced Scheduler.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
	delays []time.Duration
}

type fakeTimer struct {
	s       *fakeScheduler
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{}
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &fakeTimer{s: s, at: s.now + d, fn: f}
	s.timers = append(s.timers, t)
	s.delays = append(s.delays, d)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward and runs every timer that came due, in
// deadline order, on the calling goroutine.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && t.at <= s.now {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.fn()
	}
}

// Delays returns every delay ever scheduled, in order.
func (s *fakeScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

// Active returns the number of timers that are neither stopped nor fired.
func (s *fakeScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeClient is an in-memory Client.
type fakeClient struct {
	cfg ClientConfig

	gate       chan struct{}
	ignoreCtx  bool
	connectErr error

	// sendGate, when set, stalls Send until it is closed or the client is.
	sendGate chan struct{}
	done     chan struct{}

	messages chan TimestampedMessage
	errors   chan error

	mu        sync.Mutex
	sendErr   error
	sent      [][]byte
	attempts  int
	connected bool
	closed    bool
	returned  bool
}

func (c *fakeClient) Connect(ctx context.Context) error {
	if c.gate != nil {
		if c.ignoreCtx {
			<-c.gate
		} else {
			select {
			case <-c.gate:
			case <-ctx.Done():
				c.setReturned()
				return ctx.Err()
			}
		}
	}
	defer c.setReturned()

	if c.connectErr != nil {
		return c.connectErr
	}
	c.mu.Lock()
	c.connected = !c.closed
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) setReturned() {
	c.mu.Lock()
	c.returned = true
	c.mu.Unlock()
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
	}
	c.closed = true
	c.connected = false
	return nil
}

func (c *fakeClient) Send(data []byte) error {
	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()

	if c.sendGate != nil {
		select {
		case <-c.sendGate:
		case <-c.done:
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeClient) Messages() <-chan TimestampedMessage { return c.messages }
func (c *fakeClient) Errors() <-chan error                { return c.errors }

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// push delivers an inbound frame.
func (c *fakeClient) push(frame string) {
	c.messages <- TimestampedMessage{Data: []byte(frame), ReceivedAt: time.Now()}
}

// fail ends the connection with err as if the read loop failed.
func (c *fakeClient) fail(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.errors <- err
}

func (c *fakeClient) setSendErr(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) sendAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *fakeClient) hasReturned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.returned
}

// sentTypes returns the "type" of every frame written, in order.
func (c *fakeClient) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	types := make([]string, 0, len(c.sent))
	for _, frame := range c.sent {
		var env struct {
			Type string `json:"type"`
		}
		json.Unmarshal(frame, &env)
		types = append(types, env.Type)
	}
	return types
}

func (c *fakeClient) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// fakeDialer hands out a new fakeClient per socket attempt.
type fakeDialer struct {
	mu         sync.Mutex
	clients    []*fakeClient
	connectErr error
	sendErr    error
	sendGate   chan struct{}
	gate       chan struct{}
	ignoreCtx  bool
}

func (d *fakeDialer) New(cfg ClientConfig, _ *slog.Logger) Client {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := &fakeClient{
		cfg:        cfg,
		gate:       d.gate,
		ignoreCtx:  d.ignoreCtx,
		connectErr: d.connectErr,
		sendErr:    d.sendErr,
		sendGate:   d.sendGate,
		done:       make(chan struct{}),
		messages:   make(chan TimestampedMessage, 16),
		errors:     make(chan error, 1),
	}
	d.clients = append(d.clients, c)
	return c
}

func (d *fakeDialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

func (d *fakeDialer) Client(i int) *fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[i]
}

func (d *fakeDialer) setConnectErr(err error) {
	d.mu.Lock()
	d.connectErr = err
	d.mu.Unlock()
}

// statusRecorder collects status notifications.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
	errs     []error
}

func (r *statusRecorder) handle(s Status, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
	r.errs = append(r.errs, err)
}

func (r *statusRecorder) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

func (r *statusRecorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *statusRecorder) Count(s Status) int {
	n := 0
	for _, got := range r.Statuses() {
		if got == s {
			n++
		}
	}
	return n
}

func (r *statusRecorder) Last() Status {
	statuses := r.Statuses()
	if len(statuses) == 0 {
		return Status(-1)
	}
	return statuses[len(statuses)-1]
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", desc)
}
