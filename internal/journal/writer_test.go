package journal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/wsdemo/internal/buffer"
	"github.com/rickgao/wsdemo/internal/sink"
)

// fakeDB records queued batches. Rows whose id is in conflicts report
// zero rows affected.
// When hold is set, SendBatch signals inFlight and waits for hold to be
// closed, then fails with the context's error if it was cancelled.
type fakeDB struct {
	mu        sync.Mutex
	batches   [][]*pgx.QueuedQuery
	execs     []string
	conflicts map[string]bool
	err       error

	hold     chan struct{}
	inFlight chan struct{}
}

func (db *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	if db.hold != nil {
		db.inFlight <- struct{}{}
		<-db.hold
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.batches = append(db.batches, b.QueuedQueries)

	res := &fakeResults{err: db.err}
	if ctx.Err() != nil {
		res.err = ctx.Err()
	}
	for _, q := range b.QueuedQueries {
		res.affected = append(res.affected, !db.conflicts[q.Arguments[0].(string)])
	}
	return res
}

func (db *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.execs = append(db.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), db.err
}

func (db *fakeDB) queued() []*pgx.QueuedQuery {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*pgx.QueuedQuery
	for _, b := range db.batches {
		out = append(out, b...)
	}
	return out
}

func (db *fakeDB) batchCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.batches)
}

type fakeResults struct {
	affected []bool
	err      error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	ok := r.affected[0]
	r.affected = r.affected[1:]
	if ok {
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 0"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func testEntry(msg string) Entry {
	return Entry{
		ID:      uuid.New(),
		Session: uuid.New(),
		Level:   sink.LevelInfo,
		Message: msg,
		At:      time.Now(),
	}
}

func TestWriter_Transform(t *testing.T) {
	w := NewWriter(DefaultConfig(), buffer.New[Entry](10), nil, nil)

	at := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	e := Entry{
		ID:      uuid.MustParse("0b7a2f3e-1111-4a7b-9c55-2f0d2b7c9a01"),
		Session: uuid.MustParse("5d1c7f4a-2222-4b8e-8f11-6a3e9c0d4b02"),
		Level:   sink.LevelError,
		Kind:    "error",
		Message: "error event",
		Detail:  []any{map[string]any{"err": "connection refused"}},
		At:      at,
	}

	r := w.transform(e)

	assert.Equal(t, "0b7a2f3e-1111-4a7b-9c55-2f0d2b7c9a01", r.ID)
	assert.Equal(t, "5d1c7f4a-2222-4b8e-8f11-6a3e9c0d4b02", r.SessionID)
	assert.Equal(t, "error", r.Level)
	assert.Equal(t, "error", r.Kind)
	assert.Equal(t, "error event", r.Message)
	assert.JSONEq(t, `[{"err":"connection refused"}]`, string(r.Detail))
	assert.Equal(t, at.UnixMicro(), r.RecordedAt)
}

func TestWriter_Transform_NoDetail(t *testing.T) {
	w := NewWriter(DefaultConfig(), buffer.New[Entry](10), nil, nil)

	r := w.transform(testEntry("Opened!"))

	assert.Equal(t, "[]", string(r.Detail))
}

func TestWriter_Lifecycle(t *testing.T) {
	cfg := Config{BatchSize: 10, FlushInterval: 100 * time.Millisecond}
	w := NewWriter(cfg, buffer.New[Entry](10), &fakeDB{}, nil)

	require.NoError(t, w.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, w.Stop(ctx))
	assert.Equal(t, Stats{}, w.Stats())
}

func TestWriter_FlushesFullBatch(t *testing.T) {
	db := &fakeDB{}
	input := buffer.New[Entry](10)
	w := NewWriter(Config{BatchSize: 3, FlushInterval: time.Hour}, input, db, nil)
	require.NoError(t, w.Start(context.Background()))

	for i := 0; i < 3; i++ {
		input.Send(testEntry("m"))
	}

	require.Eventually(t, func() bool { return w.Stats().Flushes == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(3), w.Stats().Inserts)
	assert.Len(t, db.queued(), 3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
}

func TestWriter_FlushesOnInterval(t *testing.T) {
	db := &fakeDB{}
	input := buffer.New[Entry](10)
	w := NewWriter(Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, input, db, nil)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	input.Send(testEntry("one"))

	require.Eventually(t, func() bool { return w.Stats().Inserts == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestWriter_StopFlushesRemaining(t *testing.T) {
	db := &fakeDB{}
	input := buffer.New[Entry](10)
	w := NewWriter(Config{BatchSize: 100, FlushInterval: time.Hour}, input, db, nil)
	require.NoError(t, w.Start(context.Background()))

	for i := 0; i < 5; i++ {
		input.Send(testEntry("m"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))

	assert.Equal(t, int64(5), w.Stats().Inserts)
	assert.Equal(t, 0, input.Len())
	assert.Equal(t, 1, db.batchCount())
}

func TestWriter_StopLetsInFlightFlushFinish(t *testing.T) {
	db := &fakeDB{hold: make(chan struct{}), inFlight: make(chan struct{}, 1)}
	input := buffer.New[Entry](10)
	w := NewWriter(Config{BatchSize: 2, FlushInterval: time.Hour}, input, db, nil)
	require.NoError(t, w.Start(context.Background()))

	input.Send(testEntry("open"))
	input.Send(testEntry("close"))

	select {
	case <-db.inFlight:
	case <-time.After(2 * time.Second):
		t.Fatal("flush did not start")
	}

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		stopped <- w.Stop(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	close(db.hold)

	require.NoError(t, <-stopped)
	assert.Equal(t, Stats{Inserts: 2, Flushes: 1}, w.Stats())
}

func TestWriter_Conflicts(t *testing.T) {
	dup := testEntry("dup")
	db := &fakeDB{conflicts: map[string]bool{dup.ID.String(): true}}
	input := buffer.New[Entry](10)
	w := NewWriter(Config{BatchSize: 100, FlushInterval: time.Hour}, input, db, nil)
	require.NoError(t, w.Start(context.Background()))

	input.Send(testEntry("new"))
	input.Send(dup)

	require.NoError(t, w.Stop(context.Background()))
	assert.Equal(t, Stats{Inserts: 1, Conflicts: 1, Flushes: 1}, w.Stats())
}

func TestWriter_InsertError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection reset")}
	input := buffer.New[Entry](10)
	w := NewWriter(Config{BatchSize: 100, FlushInterval: time.Hour}, input, db, nil)
	require.NoError(t, w.Start(context.Background()))

	input.Send(testEntry("lost"))

	require.NoError(t, w.Stop(context.Background()))
	assert.Equal(t, Stats{Errors: 1}, w.Stats())
}

func TestWriter_QueuedArguments(t *testing.T) {
	db := &fakeDB{}
	input := buffer.New[Entry](10)
	w := NewWriter(Config{BatchSize: 100, FlushInterval: time.Hour}, input, db, nil)
	require.NoError(t, w.Start(context.Background()))

	e := testEntry("Opened!")
	input.Send(e)
	require.NoError(t, w.Stop(context.Background()))

	q := db.queued()
	require.Len(t, q, 1)
	assert.Contains(t, q[0].SQL, "ON CONFLICT (id) DO NOTHING")
	require.Len(t, q[0].Arguments, 7)
	assert.Equal(t, e.ID.String(), q[0].Arguments[0])
	assert.Equal(t, e.Session.String(), q[0].Arguments[1])
	assert.Equal(t, "info", q[0].Arguments[2])
	assert.Equal(t, "Opened!", q[0].Arguments[4])

	var detail []any
	require.NoError(t, json.Unmarshal(q[0].Arguments[5].([]byte), &detail))
	assert.Empty(t, detail)
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, EnsureSchema(context.Background(), db))
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0], "CREATE TABLE IF NOT EXISTS connection_events")

	db.err = errors.New("permission denied")
	assert.ErrorContains(t, EnsureSchema(context.Background(), db), "permission denied")
}
