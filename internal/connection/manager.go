package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/regpilot-realtime/internal/metrics"
	"github.com/rickgao/regpilot-realtime/internal/model"
	"github.com/rickgao/regpilot-realtime/internal/queue"
	"github.com/rickgao/regpilot-realtime/internal/router"
)

// Manager keeps one realtime connection alive and routes its traffic.
//
// All methods are non-blocking and safe for concurrent use, including from
// inside message and status handlers. Transport failures are reported
// through status transitions, never returned.
type Manager interface {
	// Connect opens the socket unless already connected or connecting.
	Connect()

	// Disconnect cancels pending timers and closes the socket with a
	// normal-closure code. Queued messages are kept.
	Disconnect()

	// Destroy disconnects and makes the manager permanently inert.
	Destroy()

	// Reconnect disconnects, resets the retry budget and connects again
	// shortly after.
	Reconnect()

	// SendMessage sends msg now if connected. Otherwise, or if the write
	// fails, msg is queued and false is returned.
	SendMessage(msg model.Message) bool

	// Status returns the current connection status.
	Status() Status

	// Subscribe registers a handler for one message type.
	Subscribe(msgType string, h router.Handler) (unsubscribe func())

	// OnStatusChange registers a status observer.
	OnStatusChange(fn StatusHandler) (unsubscribe func())

	// Pending returns a snapshot of the outbound queue, oldest first.
	Pending() []model.Message

	// Stats returns current connection statistics.
	Stats() ManagerStats
}

// ClientFactory builds the transport for one socket attempt.
type ClientFactory func(cfg ClientConfig, logger *slog.Logger) Client

// Option configures a Manager.
type Option func(*manager)

// WithScheduler replaces the timer source.
func WithScheduler(s Scheduler) Option {
	return func(m *manager) {
		m.scheduler = s
	}
}

// WithClientFactory replaces the WebSocket transport.
func WithClientFactory(f ClientFactory) Option {
	return func(m *manager) {
		m.newClient = f
	}
}

// WithMetrics records connection metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *manager) {
		m.metrics = mt
	}
}

// WithClock sets the time source used for heartbeat timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *manager) {
		m.now = now
	}
}

// manager implements the Manager interface.
type manager struct {
	cfg       Config
	logger    *slog.Logger
	scheduler Scheduler
	newClient ClientFactory
	metrics   *metrics.Metrics
	now       func() time.Time

	router   *router.Router
	notifier *StatusNotifier
	queue    *queue.Bounded[model.Message]

	mu        sync.Mutex
	status    Status
	attempts  int
	destroyed bool

	// gen identifies the current socket. It changes whenever the socket is
	// replaced or abandoned; events carrying an older gen are ignored.
	gen        uint64
	client     Client
	cancelConn context.CancelFunc

	reconnectTimer Timer
	reconnectSeq   uint64
	heartbeatTimer Timer
	heartbeatSeq   uint64

	sent   int64
	queued int64

	// writeMu serializes socket writes. It is taken before mu, never while
	// holding it, and no callbacks are delivered while it is held.
	writeMu sync.Mutex

	// Callbacks waiting to run outside mu, in order.
	outbox     []func()
	delivering bool
}

// NewManager creates a Connection Manager in the disconnected state.
func NewManager(cfg Config, logger *slog.Logger, opts ...Option) (Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &manager{
		cfg:       cfg,
		logger:    logger,
		scheduler: SystemScheduler{},
		newClient: NewClient,
		now:       time.Now,
		status:    StatusDisconnected,
		queue:     queue.NewBounded[model.Message](cfg.MessageQueueSize),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.router = router.New(m.logger, m.metrics)
	m.notifier = NewStatusNotifier(m.logger, m.metrics)
	m.metrics.StatusChanged(m.status.String())

	return m, nil
}

// Connect opens the socket.
func (m *manager) Connect() {
	m.mu.Lock()
	m.connectLocked()
	m.unlock()
}

func (m *manager) connectLocked() {
	if m.destroyed {
		m.logger.Debug("connect ignored, manager destroyed")
		return
	}
	if m.status == StatusConnected || m.status == StatusConnecting {
		return
	}

	m.cancelReconnectLocked()

	m.gen++
	gen := m.gen
	logger := m.logger.With("conn_id", uuid.NewString())
	client := m.newClient(m.cfg.clientConfig(), logger)
	ctx, cancel := context.WithCancel(context.Background())

	m.client = client
	m.cancelConn = cancel
	m.setStatusLocked(StatusConnecting, nil)

	logger.Info("connecting", "url", m.cfg.URL, "attempt", m.attempts)

	go m.dial(ctx, gen, client, logger)
}

// dial runs the handshake off the caller's goroutine.
func (m *manager) dial(ctx context.Context, gen uint64, client Client, logger *slog.Logger) {
	if err := client.Connect(ctx); err != nil {
		m.handleDialError(gen, err, logger)
		return
	}
	m.handleOpen(ctx, gen, client, logger)
}

func (m *manager) handleOpen(ctx context.Context, gen uint64, client Client, logger *slog.Logger) {
	// Holding writeMu across the flush keeps new sends behind the backlog.
	m.writeMu.Lock()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.writeMu.Unlock()
		logger.Debug("closing superseded connection")
		client.Close()
		return
	}

	m.attempts = 0
	m.setStatusLocked(StatusConnected, nil)
	m.startHeartbeatLocked()
	pending := m.queue.Len()
	go m.readLoop(ctx, gen, client, logger)
	m.mu.Unlock()

	logger.Info("connected", "pending", pending)

	m.flushQueue(gen, logger)
	m.writeMu.Unlock()

	// Deliver the connected notification.
	m.mu.Lock()
	m.unlock()
}

func (m *manager) handleDialError(gen uint64, err error, logger *slog.Logger) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	m.client = nil
	m.cancelConnLocked()

	logger.Warn("connection failed", "error", err)
	m.setStatusLocked(StatusError, err)
	m.scheduleReconnectLocked()
	m.unlock()
}

// readLoop forwards frames from one socket until it fails or is abandoned.
func (m *manager) readLoop(ctx context.Context, gen uint64, client Client, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			m.handleFrame(gen, msg.Data, logger)

		case err := <-client.Errors():
			// Frames read before the failure are still delivered.
			m.drain(gen, client, logger)
			m.handleClose(gen, err, logger)
			return
		}
	}
}

func (m *manager) drain(gen uint64, client Client, logger *slog.Logger) {
	for {
		select {
		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			m.handleFrame(gen, msg.Data, logger)
		default:
			return
		}
	}
}

func (m *manager) handleFrame(gen uint64, data []byte, logger *slog.Logger) {
	msg, err := model.ParseMessage(data)
	if err != nil {
		logger.Warn("dropping malformed message", "error", err, "bytes", len(data))
		m.metrics.ParseError()
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.metrics.MessageReceived(msg.Type)
	m.outbox = append(m.outbox, func() { m.router.Dispatch(msg) })
	m.unlock()
}

func (m *manager) handleClose(gen uint64, err error, logger *slog.Logger) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	m.gen++
	m.stopHeartbeatLocked()
	client := m.client
	m.client = nil
	m.cancelConnLocked()

	code := CloseCode(err)
	if code == websocket.CloseNormalClosure {
		logger.Info("connection closed", "code", code)
		m.setStatusLocked(StatusDisconnected, nil)
	} else {
		logger.Warn("connection lost", "code", code, "error", err)
		m.setStatusLocked(StatusError, err)
		m.setStatusLocked(StatusDisconnected, nil)
		m.scheduleReconnectLocked()
	}
	m.unlock()

	if client != nil {
		client.Close()
	}
}

// Disconnect closes the socket.
func (m *manager) Disconnect() {
	m.mu.Lock()
	client := m.disconnectLocked()
	m.unlock()

	if client != nil {
		client.Close()
	}
}

// disconnectLocked abandons the current socket and returns it for the caller
// to close once mu is released.
func (m *manager) disconnectLocked() Client {
	m.cancelReconnectLocked()
	m.stopHeartbeatLocked()

	m.gen++
	m.cancelConnLocked()
	client := m.client
	m.client = nil

	m.setStatusLocked(StatusDisconnected, nil)
	return client
}

// Destroy disconnects and releases all subscribers.
func (m *manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}

	client := m.disconnectLocked()
	m.destroyed = true

	// Queued behind the final disconnected notification.
	m.outbox = append(m.outbox, func() {
		m.router.Reset()
		m.notifier.Reset()
	})
	m.unlock()

	if client != nil {
		client.Close()
	}
	m.logger.Info("connection manager destroyed")
}

// Reconnect forces a fresh connection with a reset retry budget.
func (m *manager) Reconnect() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}

	client := m.disconnectLocked()
	m.attempts = 0
	m.scheduleConnectLocked(reconnectKickDelay)
	m.unlock()

	if client != nil {
		client.Close()
	}
}

// SendMessage sends or queues msg. The socket write happens outside mu.
func (m *manager) SendMessage(msg model.Message) bool {
	// A message that cannot be encoded can never be sent, so it is not queued.
	frame, err := msg.Encode()
	if err != nil {
		m.logger.Error("dropping unencodable message", "type", msg.Type, "error", err)
		return false
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		m.logger.Debug("send ignored, manager destroyed", "type", msg.Type)
		return false
	}
	if m.status != StatusConnected || m.client == nil {
		m.enqueueLocked(msg)
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	return m.write(msg, frame)
}

// write sends frame on the current socket, or queues msg if the socket is
// gone or the write fails.
func (m *manager) write(msg model.Message, frame []byte) bool {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return false
	}
	if m.status != StatusConnected || m.client == nil {
		m.enqueueLocked(msg)
		m.mu.Unlock()
		return false
	}
	client := m.client
	m.mu.Unlock()

	err := client.Send(frame)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.logger.Warn("send failed, queueing message", "type", msg.Type, "error", err)
		m.enqueueLocked(msg)
		return false
	}
	m.sentLocked(msg.Type)
	return true
}

func (m *manager) sentLocked(msgType string) {
	m.sent++
	m.metrics.MessageSent(msgType)
}

func (m *manager) enqueueLocked(msg model.Message) {
	dropped, evicted := m.queue.Push(msg)
	m.queued++
	if evicted {
		m.logger.Warn("outbound queue full, dropped oldest message",
			"type", dropped.Type,
			"capacity", m.queue.Cap(),
		)
	}
	m.metrics.MessageQueued(msg.Type, evicted)
	m.metrics.QueueDepth(m.queue.Len())
}

// flushQueue sends queued messages oldest first while socket gen is current.
// It stops at the first failure and puts that message back at the head.
// The caller holds writeMu.
func (m *manager) flushQueue(gen uint64, logger *slog.Logger) {
	flushed := 0
	for {
		m.mu.Lock()
		if gen != m.gen || m.status != StatusConnected || m.client == nil {
			m.mu.Unlock()
			break
		}
		msg, ok := m.queue.Pop()
		if !ok {
			m.mu.Unlock()
			break
		}
		client := m.client
		m.mu.Unlock()

		frame, err := msg.Encode()
		if err == nil {
			err = client.Send(frame)
		}

		m.mu.Lock()
		if err != nil {
			if !m.queue.PushFront(msg) {
				logger.Warn("outbound queue full, dropped oldest message", "type", msg.Type)
			}
			remaining := m.queue.Len()
			m.metrics.QueueDepth(remaining)
			m.mu.Unlock()

			logger.Warn("queue flush interrupted",
				"type", msg.Type,
				"remaining", remaining,
				"error", err,
			)
			break
		}
		m.sentLocked(msg.Type)
		m.metrics.QueueDepth(m.queue.Len())
		m.mu.Unlock()
		flushed++
	}

	if flushed > 0 {
		logger.Debug("flushed queued messages", "count", flushed)
	}
}

func (m *manager) startHeartbeatLocked() {
	m.stopHeartbeatLocked()
	seq := m.heartbeatSeq
	m.heartbeatTimer = m.scheduler.AfterFunc(m.cfg.HeartbeatInterval, func() {
		m.heartbeat(seq)
	})
}

func (m *manager) stopHeartbeatLocked() {
	m.heartbeatSeq++
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
}

func (m *manager) heartbeat(seq uint64) {
	m.mu.Lock()
	if seq != m.heartbeatSeq || m.status != StatusConnected {
		m.mu.Unlock()
		return
	}
	m.startHeartbeatLocked()
	m.mu.Unlock()

	m.SendMessage(model.NewPing(m.now()))
}

// scheduleReconnectLocked arms the next retry, or settles in disconnected
// once the attempt budget is spent.
func (m *manager) scheduleReconnectLocked() {
	if m.destroyed {
		return
	}

	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.logger.Warn("reconnect attempts exhausted",
			"attempts", m.attempts,
			"max", m.cfg.MaxReconnectAttempts,
		)
		if m.status != StatusDisconnected {
			m.setStatusLocked(StatusDisconnected, nil)
		}
		return
	}

	m.attempts++
	delay := BackoffDelay(m.cfg.ReconnectInterval, m.attempts)

	m.logger.Info("scheduling reconnect",
		"attempt", m.attempts,
		"max", m.cfg.MaxReconnectAttempts,
		"delay", delay,
	)
	m.metrics.ReconnectScheduled(delay)
	m.scheduleConnectLocked(delay)
}

func (m *manager) scheduleConnectLocked(delay time.Duration) {
	m.cancelReconnectLocked()
	seq := m.reconnectSeq
	m.reconnectTimer = m.scheduler.AfterFunc(delay, func() {
		m.reconnectFired(seq)
	})
}

func (m *manager) cancelReconnectLocked() {
	m.reconnectSeq++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *manager) reconnectFired(seq uint64) {
	m.mu.Lock()
	defer m.unlock()

	if seq != m.reconnectSeq {
		return
	}
	m.reconnectTimer = nil
	m.connectLocked()
}

func (m *manager) cancelConnLocked() {
	if m.cancelConn != nil {
		m.cancelConn()
		m.cancelConn = nil
	}
}

// setStatusLocked records a transition and queues its notification.
func (m *manager) setStatusLocked(status Status, err error) {
	m.status = status
	m.metrics.StatusChanged(status.String())
	m.outbox = append(m.outbox, func() { m.notifier.Notify(status, err) })
}

// unlock releases mu after running queued callbacks. Only one goroutine
// delivers at a time; callbacks queued by others while it runs are picked
// up by the same loop, so delivery order matches transition order.
func (m *manager) unlock() {
	if m.delivering {
		m.mu.Unlock()
		return
	}

	m.delivering = true
	for len(m.outbox) > 0 {
		batch := m.outbox
		m.outbox = nil
		m.mu.Unlock()

		for _, fn := range batch {
			fn()
		}

		m.mu.Lock()
	}
	m.delivering = false
	m.mu.Unlock()
}

// Status returns the current status.
func (m *manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers a message handler.
func (m *manager) Subscribe(msgType string, h router.Handler) func() {
	m.mu.Lock()
	destroyed := m.destroyed
	m.mu.Unlock()

	if destroyed {
		return func() {}
	}
	return m.router.Subscribe(msgType, h)
}

// OnStatusChange registers a status observer.
func (m *manager) OnStatusChange(fn StatusHandler) func() {
	m.mu.Lock()
	destroyed := m.destroyed
	m.mu.Unlock()

	if destroyed {
		return func() {}
	}
	return m.notifier.Subscribe(fn)
}

// Pending returns the queued outbound messages.
func (m *manager) Pending() []model.Message {
	return m.queue.Items()
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queue.Stats()
	return ManagerStats{
		Status:         m.status,
		Attempts:       m.attempts,
		QueueDepth:     qs.Count,
		QueueEvicted:   qs.TotalEvicted,
		MessagesSent:   m.sent,
		MessagesQueued: m.queued,
	}
}
