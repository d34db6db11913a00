package observability

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/edgegeo/aicache/dbopen"
)

func TestLogAndCleanup(t *testing.T) {
	db := dbopen.OpenMemory(t)
	l := NewEventLogger(db)
	if err := l.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	ctx := context.Background()

	l.Log(ctx, Event{
		EventType:  "page_published",
		EntityType: "page",
		EntityID:   "pg_1",
		TenantID:   "cli_1",
		Action:     "publish",
		Success:    true,
	})

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM business_events`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	// Retention of zero removes everything already written.
	removed, err := l.Cleanup(ctx, -time.Second)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}
