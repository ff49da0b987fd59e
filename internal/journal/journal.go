package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/regpilot-realtime/internal/metrics"
	"github.com/rickgao/regpilot-realtime/internal/model"
	"github.com/rickgao/regpilot-realtime/internal/queue"
	"github.com/rickgao/regpilot-realtime/internal/router"
)

// rowNamespace seeds the name-based row ids.
var rowNamespace = uuid.MustParse("5b0f3c1e-8a64-4c55-9d0e-2f7f6a1c9b42")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS realtime_messages (
		id          UUID PRIMARY KEY,
		type        TEXT NOT NULL,
		data        JSONB,
		sent_at     TIMESTAMPTZ,
		received_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS realtime_messages_type_received_at_idx
		ON realtime_messages (type, received_at)`,
}

const insertSQL = `
	INSERT INTO realtime_messages (id, type, data, sent_at, received_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO NOTHING
`

// DB is the subset of *pgxpool.Pool the journal uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Subscriber registers message handlers. The connection manager satisfies it.
type Subscriber interface {
	Subscribe(msgType string, h router.Handler) (unsubscribe func())
}

// Config holds journal settings.
type Config struct {
	Types         []string      // Message types to record
	BatchSize     int           // Rows per INSERT batch
	FlushInterval time.Duration // Max time a row waits before flush
	BufferSize    int           // Rows held before the oldest is dropped
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Types:         []string{model.TypeProjectUpdated, model.TypeAgentResponse},
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1000,
	}
}

// Stats contains journal counters.
type Stats struct {
	Received  int64
	Inserts   int64
	Conflicts int64
	Dropped   int64 // Rows evicted because the buffer was full
	Flushes   int64
	Errors    int64
}

type row struct {
	ID         uuid.UUID
	Type       string
	Data       []byte
	SentAt     *time.Time
	ReceivedAt time.Time
}

// Journal batches received messages into realtime_messages.
type Journal struct {
	cfg     Config
	db      DB
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	pending *queue.Bounded[row]
	flushCh chan struct{}

	// Lifecycle. ctx carries inserts and is not cancelled by Stop, so a
	// batch in flight when Stop is called still completes.
	ctx      context.Context
	done     <-chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	flushMu sync.Mutex // Serializes flushes

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Journal. Call Start to begin flushing.
func New(cfg Config, db DB, logger *slog.Logger, m *metrics.Metrics) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		cfg:     cfg,
		db:      db,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		pending: queue.NewBounded[row](cfg.BufferSize),
		flushCh: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// EnsureSchema creates the journal table and index if missing.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := j.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure journal schema: %w", err)
		}
	}
	return nil
}

// Attach subscribes the journal to every configured type and returns a
// function that removes all of those subscriptions.
func (j *Journal) Attach(s Subscriber) (detach func()) {
	unsubs := make([]func(), 0, len(j.cfg.Types))
	for _, typ := range j.cfg.Types {
		unsubs = append(unsubs, s.Subscribe(typ, j))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// HandleMessage buffers msg for the next flush. It never blocks on the
// database.
func (j *Journal) HandleMessage(msg model.Message) error {
	_, evicted := j.pending.Push(j.transform(msg))

	j.statsMu.Lock()
	j.stats.Received++
	if evicted {
		j.stats.Dropped++
	}
	j.statsMu.Unlock()

	if evicted {
		j.logger.Warn("journal buffer full, dropped oldest row", "capacity", j.pending.Cap())
	}

	if j.pending.Len() >= j.cfg.BatchSize {
		select {
		case j.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// transform converts a message to a row.
func (j *Journal) transform(msg model.Message) row {
	r := row{
		ID:         rowID(msg),
		Type:       msg.Type,
		ReceivedAt: j.now().UTC(),
	}
	if len(msg.Data) > 0 {
		r.Data = []byte(msg.Data)
	}
	if ts, err := msg.Time(); err == nil {
		r.SentAt = &ts
	}
	return r
}

// rowID derives a stable id from the frame contents.
func rowID(msg model.Message) uuid.UUID {
	key := make([]byte, 0, len(msg.Type)+len(msg.Timestamp)+len(msg.Data)+2)
	key = append(key, msg.Type...)
	key = append(key, 0)
	key = append(key, msg.Timestamp...)
	key = append(key, 0)
	key = append(key, msg.Data...)
	return uuid.NewSHA1(rowNamespace, key)
}

// Start begins the flush loop. The loop ends when ctx is cancelled or Stop
// is called.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx = context.WithoutCancel(ctx)
	j.done = ctx.Done()

	j.wg.Add(1)
	go j.flushLoop()

	j.logger.Info("journal started",
		"types", j.cfg.Types,
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop halts the flush loop and writes what remains.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping journal")

	j.stopOnce.Do(func() { close(j.stop) })

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		j.logger.Warn("journal stop timed out")
	}

	// Final flush
	j.flush(ctx)

	j.logger.Info("journal stopped", "pending", j.pending.Len())
	return nil
}

// Stats returns current counters.
func (j *Journal) Stats() Stats {
	j.statsMu.Lock()
	defer j.statsMu.Unlock()
	return j.stats
}

// Pending returns the number of buffered rows.
func (j *Journal) Pending() int {
	return j.pending.Len()
}

func (j *Journal) flushLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-j.done:
			return
		case <-ticker.C:
			j.flush(j.ctx)
		case <-j.flushCh:
			j.flush(j.ctx)
		}
	}
}

// flush writes buffered rows in batches of BatchSize. A failed batch is
// logged and dropped.
func (j *Journal) flush(ctx context.Context) {
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	for {
		rows := j.take(j.cfg.BatchSize)
		if len(rows) == 0 {
			return
		}

		start := time.Now()
		conflicts, err := j.batchInsert(ctx, rows)
		if err != nil {
			j.logger.Error("journal insert failed", "error", err, "count", len(rows))
			j.statsMu.Lock()
			j.stats.Errors++
			j.statsMu.Unlock()
			j.metrics.JournalFailed()
			return
		}

		j.statsMu.Lock()
		j.stats.Inserts += int64(len(rows) - conflicts)
		j.stats.Conflicts += int64(conflicts)
		j.stats.Flushes++
		j.statsMu.Unlock()
		j.metrics.JournalFlushed(len(rows) - conflicts)

		j.logger.Debug("flushed journal rows",
			"count", len(rows),
			"conflicts", conflicts,
			"duration", time.Since(start),
		)
	}
}

func (j *Journal) take(n int) []row {
	if n < 1 {
		n = 1
	}
	rows := make([]row, 0, n)
	for len(rows) < n {
		r, ok := j.pending.Pop()
		if !ok {
			break
		}
		rows = append(rows, r)
	}
	return rows
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (j *Journal) batchInsert(ctx context.Context, rows []row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSQL, r.ID, r.Type, r.Data, r.SentAt, r.ReceivedAt)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
