package journal

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS connection_events (
	id          UUID PRIMARY KEY,
	session_id  UUID NOT NULL,
	level       TEXT NOT NULL,
	kind        TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	detail      JSONB NOT NULL DEFAULT '[]',
	recorded_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS connection_events_session_idx
	ON connection_events (session_id, recorded_at);
`

// EnsureSchema creates the connection_events table if it is missing.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create connection_events: %w", err)
	}
	return nil
}
