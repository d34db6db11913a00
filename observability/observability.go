// Package observability records domain-level business events (tenant
// created, page published, worker deployed) to SQLite for audit and
// debugging. Writes are best-effort: a failing observability store never
// blocks the pipeline.
package observability

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/edgegeo/aicache/idgen"
)

// Schema creates the business event log table.
const Schema = `
CREATE TABLE IF NOT EXISTS business_events (
	event_id    TEXT PRIMARY KEY,
	event_type  TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL DEFAULT '',
	tenant_id   TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL DEFAULT '',
	details     TEXT NOT NULL DEFAULT '',
	success     INTEGER NOT NULL DEFAULT 1,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_business_events_tenant ON business_events(tenant_id, created_at);
`

// Event represents a domain-level event to record.
type Event struct {
	EventType  string
	EntityType string
	EntityID   string
	TenantID   string
	Action     string
	Details    string // optional JSON
	Success    bool
}

// EventLogger writes business events and manages retention cleanup.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// Option configures an EventLogger.
type Option func(*EventLogger)

// WithIDGenerator sets a custom ID generator for event IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the given database.
func NewEventLogger(db *sql.DB, opts ...Option) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Init creates the event table.
func (l *EventLogger) Init() error {
	_, err := l.db.Exec(Schema)
	return err
}

// Log records a business event. Errors are logged via slog but do not
// propagate.
func (l *EventLogger) Log(ctx context.Context, event Event) {
	success := 0
	if event.Success {
		success = 1
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO business_events (
			event_id, event_type, entity_type, entity_id,
			tenant_id, action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.newID(), event.EventType, event.EntityType, event.EntityID,
		event.TenantID, event.Action, event.Details, success, time.Now().UnixMilli(),
	)
	if err != nil {
		slog.Warn("observability: log event", "event_type", event.EventType, "error", err)
	}
}

// Cleanup deletes events older than retention. Returns rows removed.
func (l *EventLogger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := l.db.ExecContext(ctx, `DELETE FROM business_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
