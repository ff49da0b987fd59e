package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/regpilot-realtime/internal/model"
	"github.com/rickgao/regpilot-realtime/internal/router"
)

// fakeDB records executed statements and batches.
type fakeDB struct {
	mu       sync.Mutex
	execs    []string
	batches  [][]*pgx.QueuedQuery
	seen     map[any]bool
	execErr  error
	batchErr error

	// batchGate, when set, holds SendBatch until it is closed. entered
	// receives a value each time a batch starts waiting.
	batchGate chan struct{}
	entered   chan struct{}
}

func newFakeDB() *fakeDB {
	return &fakeDB{seen: make(map[any]bool)}
}

func (db *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.execs = append(db.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), db.execErr
}

func (db *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	if db.batchGate != nil {
		select {
		case db.entered <- struct{}{}:
		default:
		}
		<-db.batchGate
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	// A cancelled context fails the batch, as pgx does.
	if err := ctx.Err(); err != nil {
		return &fakeBatchResults{err: err}
	}

	db.batches = append(db.batches, b.QueuedQueries)

	res := &fakeBatchResults{err: db.batchErr}
	for _, q := range b.QueuedQueries {
		id := q.Arguments[0]
		if db.seen[id] {
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 0"))
			continue
		}
		db.seen[id] = true
		res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 1"))
	}
	return res
}

func (db *fakeDB) rows() []*pgx.QueuedQuery {
	db.mu.Lock()
	defer db.mu.Unlock()
	var all []*pgx.QueuedQuery
	for _, b := range db.batches {
		all = append(all, b...)
	}
	return all
}

func (db *fakeDB) batchCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.batches)
}

type fakeBatchResults struct {
	tags []pgconn.CommandTag
	next int
	err  error
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	tag := r.tags[r.next]
	r.next++
	return tag, nil
}

func (r *fakeBatchResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeBatchResults) QueryRow() pgx.Row         { return nil }
func (r *fakeBatchResults) Close() error              { return nil }

func testMessage(t *testing.T, msgType string, data any) model.Message {
	t.Helper()
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	msg, err := model.NewMessageAt(msgType, data, at)
	if err != nil {
		t.Fatalf("NewMessageAt failed: %v", err)
	}
	return msg
}

func TestJournal_EnsureSchema(t *testing.T) {
	db := newFakeDB()
	j := New(DefaultConfig(), db, nil, nil)

	if err := j.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if got := len(db.execs); got != len(schema) {
		t.Errorf("executed %d statements, want %d", got, len(schema))
	}
}

func TestJournal_EnsureSchemaError(t *testing.T) {
	db := newFakeDB()
	db.execErr = errors.New("permission denied")
	j := New(DefaultConfig(), db, nil, nil)

	if err := j.EnsureSchema(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestJournal_Transform(t *testing.T) {
	j := New(DefaultConfig(), nil, nil, nil)
	receivedAt := time.Date(2026, 5, 1, 9, 30, 1, 0, time.UTC)
	j.now = func() time.Time { return receivedAt }

	msg := testMessage(t, model.TypeProjectUpdated, model.ProjectUpdated{
		ProjectID: uuid.MustParse("7d9f1c2a-0b4e-4f7a-9c1d-3e5b6a7c8d90"),
		Status:    "submitted",
	})

	r := j.transform(msg)

	if r.Type != model.TypeProjectUpdated {
		t.Errorf("Type = %q", r.Type)
	}
	if string(r.Data) != string(msg.Data) {
		t.Errorf("Data = %s, want %s", r.Data, msg.Data)
	}
	if r.SentAt == nil || !r.SentAt.Equal(time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("SentAt = %v", r.SentAt)
	}
	if !r.ReceivedAt.Equal(receivedAt) {
		t.Errorf("ReceivedAt = %v, want %v", r.ReceivedAt, receivedAt)
	}
	if r.ID != rowID(msg) {
		t.Error("row id is not derived from the message")
	}
}

func TestJournal_TransformBadTimestamp(t *testing.T) {
	j := New(DefaultConfig(), nil, nil, nil)

	r := j.transform(model.Message{Type: "x", Timestamp: "yesterday"})

	if r.SentAt != nil {
		t.Errorf("SentAt = %v, want nil", r.SentAt)
	}
	if r.Data != nil {
		t.Errorf("Data = %s, want nil", r.Data)
	}
}

func TestRowID(t *testing.T) {
	a := testMessage(t, "agent_response", map[string]int{"seq": 1})
	b := testMessage(t, "agent_response", map[string]int{"seq": 2})

	if rowID(a) != rowID(a) {
		t.Error("row id is not stable")
	}
	if rowID(a) == rowID(b) {
		t.Error("different payloads share a row id")
	}
}

func TestJournal_FlushOnStop(t *testing.T) {
	db := newFakeDB()
	cfg := DefaultConfig()
	cfg.FlushInterval = time.Hour
	j := New(cfg, db, nil, nil)

	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	j.HandleMessage(testMessage(t, "project_updated", map[string]int{"n": 1}))
	j.HandleMessage(testMessage(t, "project_updated", map[string]int{"n": 2}))

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := j.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := len(db.rows()); got != 2 {
		t.Errorf("inserted %d rows, want 2", got)
	}
	stats := j.Stats()
	if stats.Received != 2 || stats.Inserts != 2 || stats.Flushes != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestJournal_StopLetsInFlightBatchFinish(t *testing.T) {
	db := newFakeDB()
	db.batchGate = make(chan struct{})
	db.entered = make(chan struct{}, 1)

	cfg := DefaultConfig()
	cfg.BatchSize = 1
	cfg.FlushInterval = time.Hour
	j := New(cfg, db, nil, nil)

	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	j.HandleMessage(testMessage(t, "project_updated", nil))

	select {
	case <-db.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for batch to start")
	}

	stopped := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		j.Stop(ctx)
		close(stopped)
	}()

	time.Sleep(20 * time.Millisecond)
	close(db.batchGate)

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}

	stats := j.Stats()
	if stats.Inserts != 1 || stats.Errors != 0 {
		t.Errorf("stats = %+v, want 1 insert and no errors", stats)
	}
	if got := len(db.rows()); got != 1 {
		t.Errorf("inserted %d rows, want 1", got)
	}
}

func TestJournal_StopsWithParentContext(t *testing.T) {
	db := newFakeDB()
	cfg := DefaultConfig()
	cfg.FlushInterval = time.Hour
	j := New(cfg, db, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx)
	cancel()

	j.HandleMessage(testMessage(t, "project_updated", nil))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	j.Stop(stopCtx)

	// The final flush still runs after the parent is cancelled.
	if got := len(db.rows()); got != 1 {
		t.Errorf("inserted %d rows, want 1", got)
	}
}

func TestJournal_FlushWhenBatchFull(t *testing.T) {
	db := newFakeDB()
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.FlushInterval = time.Hour
	j := New(cfg, db, nil, nil)

	j.Start(context.Background())
	defer j.Stop(context.Background())

	for i := 0; i < 4; i++ {
		j.HandleMessage(testMessage(t, "agent_response", map[string]int{"seq": i}))
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(db.rows()) < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := len(db.rows()); got != 4 {
		t.Fatalf("inserted %d rows, want 4", got)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for i, b := range db.batches {
		if len(b) > 2 {
			t.Errorf("batch %d has %d rows, want <= 2", i, len(b))
		}
	}
}

func TestJournal_FlushOnInterval(t *testing.T) {
	db := newFakeDB()
	cfg := DefaultConfig()
	cfg.FlushInterval = 20 * time.Millisecond
	j := New(cfg, db, nil, nil)

	j.Start(context.Background())
	defer j.Stop(context.Background())

	j.HandleMessage(testMessage(t, "project_updated", nil))

	deadline := time.Now().Add(2 * time.Second)
	for db.batchCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if db.batchCount() == 0 {
		t.Fatal("expected an interval flush")
	}
}

func TestJournal_DuplicateFrameConflicts(t *testing.T) {
	db := newFakeDB()
	j := New(DefaultConfig(), db, nil, nil)

	msg := testMessage(t, "project_updated", map[string]string{"status": "approved"})
	j.HandleMessage(msg)
	j.flush(context.Background())
	j.HandleMessage(msg)
	j.flush(context.Background())

	stats := j.Stats()
	if stats.Inserts != 1 || stats.Conflicts != 1 {
		t.Errorf("stats = %+v, want 1 insert and 1 conflict", stats)
	}
}

func TestJournal_InsertError(t *testing.T) {
	db := newFakeDB()
	db.batchErr = errors.New("connection reset")
	j := New(DefaultConfig(), db, nil, nil)

	j.HandleMessage(testMessage(t, "project_updated", nil))
	j.flush(context.Background())

	stats := j.Stats()
	if stats.Errors != 1 || stats.Inserts != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if j.Pending() != 0 {
		t.Errorf("pending = %d, want 0 after a failed batch", j.Pending())
	}
}

func TestJournal_BufferDropsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 2
	cfg.BatchSize = 10
	j := New(cfg, newFakeDB(), nil, nil)

	for i := 0; i < 3; i++ {
		j.HandleMessage(testMessage(t, "agent_response", map[string]int{"seq": i}))
	}

	if j.Pending() != 2 {
		t.Errorf("pending = %d, want 2", j.Pending())
	}
	if got := j.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestJournal_Attach(t *testing.T) {
	r := router.New(nil, nil)
	cfg := DefaultConfig()
	cfg.Types = []string{"project_updated", "typing_indicator"}
	j := New(cfg, newFakeDB(), nil, nil)

	detach := j.Attach(r)

	r.Dispatch(testMessage(t, "project_updated", nil))
	r.Dispatch(testMessage(t, "typing_indicator", nil))
	r.Dispatch(testMessage(t, "agent_response", nil))

	if j.Pending() != 2 {
		t.Errorf("pending = %d, want 2", j.Pending())
	}

	detach()
	if got := len(r.Types()); got != 0 {
		t.Errorf("router still has %d types after detach", got)
	}
}
