package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/wsdemo/internal/buffer"
)

const insertEntry = `
	INSERT INTO connection_events (id, session_id, level, kind, message, detail, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO NOTHING
`

// Writer consumes entries from a buffer and writes them in batches.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	input *buffer.Growable[Entry]
	db    DB

	// Batching
	batch       []row
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle. ctx stops the loops; flushCtx bounds their inserts.
	ctx      context.Context
	flushCtx context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	stats Stats
}

// NewWriter creates a writer reading from input.
func NewWriter(cfg Config, input *buffer.Growable[Entry], db DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger.With("component", "journal_writer"),
		batch:  make([]row, 0, cfg.BatchSize),
	}
}

// Start begins consuming entries and writing to the database. Inserts made
// by the running writer use ctx; Stop uses its own context for the final
// flush.
func (w *Writer) Start(ctx context.Context) error {
	w.flushCtx = ctx
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop halts the loops, then writes whatever is still queued using ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
		return ctx.Err()
	}

	for _, e := range w.input.DrainTo(0) {
		w.add(w.transform(e))
	}
	w.flush(ctx)

	w.logger.Info("journal writer stopped")
	return nil
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		e, ok := w.input.TryReceive()
		if !ok {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		if w.add(w.transform(e)) {
			w.flush(w.flushCtx)
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.flushCtx)
		}
	}
}

// add appends r and reports whether the batch is full.
func (w *Writer) add(r row) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, r)
	return len(w.batch) >= w.cfg.BatchSize
}

func (w *Writer) transform(e Entry) row {
	detail, err := json.Marshal(e.Detail)
	if err != nil || e.Detail == nil {
		detail = []byte("[]")
	}
	return row{
		ID:         e.ID.String(),
		SessionID:  e.Session.String(),
		Level:      string(e.Level),
		Kind:       e.Kind,
		Message:    e.Message,
		Detail:     detail,
		RecordedAt: e.At.UnixMicro(),
	}
}

func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed journal entries",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

func (w *Writer) batchInsert(ctx context.Context, rows []row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertEntry, r.ID, r.SessionID, r.Level, r.Kind, r.Message, r.Detail, r.RecordedAt)
	}

	results := w.db.SendBatch(ctx, batch)
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
