package journal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/wsdemo/internal/sink"
)

// Entry is one recorded sink call.
type Entry struct {
	ID      uuid.UUID
	Session uuid.UUID
	Level   sink.Level
	Kind    string // event kind, empty for plain messages
	Message string
	Detail  []any // remaining arguments, flattened for JSON
	At      time.Time
}

// row is an Entry in table form.
type row struct {
	ID         string
	SessionID  string
	Level      string
	Kind       string
	Message    string
	Detail     []byte
	RecordedAt int64 // unix microseconds
}

// DB is the subset of *pgxpool.Pool the journal uses.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config holds writer batching settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
	}
}

// Stats tracks writer activity.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}
