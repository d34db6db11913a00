// Package progress maintains per-client pipeline snapshots: how many
// pages have cleared each content stage, stage completion rates, and a
// blended completion score across the whole pipeline.
package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/edgegeo/aicache/dbopen"
	"github.com/edgegeo/aicache/idgen"
	"github.com/edgegeo/aicache/registry"
)

// ErrClientNotFound is returned when a snapshot is requested for an
// unknown client.
var ErrClientNotFound = errors.New("progress: client not found")

// Schema creates the snapshot table. One row per client, refreshed by
// Calculate.
const Schema = `
CREATE TABLE IF NOT EXISTS page_analytics (
	id                     TEXT PRIMARY KEY,
	client_id              TEXT NOT NULL UNIQUE REFERENCES clients(id) ON DELETE CASCADE,
	total_urls             INTEGER NOT NULL DEFAULT 0,
	urls_fetched           INTEGER NOT NULL DEFAULT 0,
	urls_cleaned           INTEGER NOT NULL DEFAULT 0,
	urls_rewritten         INTEGER NOT NULL DEFAULT 0,
	urls_published         INTEGER NOT NULL DEFAULT 0,
	fetch_rate             REAL NOT NULL DEFAULT 0,
	clean_rate             REAL NOT NULL DEFAULT 0,
	rewrite_rate           REAL NOT NULL DEFAULT 0,
	publish_rate           REAL NOT NULL DEFAULT 0,
	updated_last_30_days   INTEGER NOT NULL DEFAULT 0,
	calculated_at          INTEGER NOT NULL
);
`

// Snapshot is one client's pipeline progress at a point in time.
// Rates are percentages of total; all four are 0.0 when the catalog is
// empty.
type Snapshot struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`

	TotalURLs     int `json:"total_urls"`
	URLsFetched   int `json:"urls_fetched"`
	URLsCleaned   int `json:"urls_cleaned"`
	URLsRewritten int `json:"urls_rewritten"`
	URLsPublished int `json:"urls_published"`

	FetchRate   float64 `json:"fetch_rate"`
	CleanRate   float64 `json:"clean_rate"`
	RewriteRate float64 `json:"rewrite_rate"`
	PublishRate float64 `json:"publish_rate"`

	UpdatedLast30Days int   `json:"updated_last_30_days"`
	CalculatedAt      int64 `json:"calculated_at"`
}

// Tracker computes and stores snapshots.
type Tracker struct {
	db      *sql.DB
	clients *registry.Store
	newID   idgen.Generator
	logger  *slog.Logger
}

// New creates a Tracker. The catalog's pages table must live in the same
// database.
func New(db *sql.DB, clients *registry.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{db: db, clients: clients, newID: idgen.Default, logger: logger}
}

// Init creates the snapshot table.
func (t *Tracker) Init() error {
	_, err := t.db.Exec(Schema)
	return err
}

// Calculate refreshes a client's snapshot from the pages table and
// returns it. Calculating twice in a row without catalog changes yields
// identical numbers; there is exactly one row per client.
func (t *Tracker) Calculate(ctx context.Context, clientID string) (*Snapshot, error) {
	client, err := t.clients.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, ErrClientNotFound
	}

	s := &Snapshot{ClientID: clientID, CalculatedAt: time.Now().UnixMilli()}
	cutoff := time.Now().AddDate(0, 0, -30).UnixMilli()

	// Count and upsert in one transaction so two concurrent Calculate
	// runs cannot interleave a stale count with a fresh write.
	err = dbopen.RunTx(ctx, t.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*),
				COALESCE(SUM(CASE WHEN raw_content != '' THEN 1 ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN cleaned_content != '' THEN 1 ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN generated_html != '' THEN 1 ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN kv_key != '' THEN 1 ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN updated_at >= ? THEN 1 ELSE 0 END), 0)
			FROM pages WHERE client_id = ?`, cutoff, clientID).
			Scan(&s.TotalURLs, &s.URLsFetched, &s.URLsCleaned, &s.URLsRewritten,
				&s.URLsPublished, &s.UpdatedLast30Days)
		if err != nil {
			return fmt.Errorf("progress: count stages: %w", err)
		}

		s.FetchRate = rate(s.URLsFetched, s.TotalURLs)
		s.CleanRate = rate(s.URLsCleaned, s.TotalURLs)
		s.RewriteRate = rate(s.URLsRewritten, s.TotalURLs)
		s.PublishRate = rate(s.URLsPublished, s.TotalURLs)

		s.ID = t.newID()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO page_analytics (id, client_id, total_urls, urls_fetched,
				urls_cleaned, urls_rewritten, urls_published,
				fetch_rate, clean_rate, rewrite_rate, publish_rate,
				updated_last_30_days, calculated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(client_id) DO UPDATE SET
				total_urls=excluded.total_urls,
				urls_fetched=excluded.urls_fetched,
				urls_cleaned=excluded.urls_cleaned,
				urls_rewritten=excluded.urls_rewritten,
				urls_published=excluded.urls_published,
				fetch_rate=excluded.fetch_rate,
				clean_rate=excluded.clean_rate,
				rewrite_rate=excluded.rewrite_rate,
				publish_rate=excluded.publish_rate,
				updated_last_30_days=excluded.updated_last_30_days,
				calculated_at=excluded.calculated_at`,
			s.ID, s.ClientID, s.TotalURLs, s.URLsFetched,
			s.URLsCleaned, s.URLsRewritten, s.URLsPublished,
			s.FetchRate, s.CleanRate, s.RewriteRate, s.PublishRate,
			s.UpdatedLast30Days, s.CalculatedAt)
		if err != nil {
			return fmt.Errorf("progress: store snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The upsert may have kept the original row's ID.
	stored, err := t.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// CalculateAll refreshes snapshots for every client. A failing client is
// logged and skipped.
func (t *Tracker) CalculateAll(ctx context.Context) ([]*Snapshot, error) {
	clients, err := t.clients.List(ctx, false)
	if err != nil {
		return nil, err
	}

	var snapshots []*Snapshot
	for _, c := range clients {
		s, err := t.Calculate(ctx, c.ID)
		if err != nil {
			t.logger.Warn("snapshot calculation failed", "client_id", c.ID, "error", err)
			continue
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, nil
}

// Get returns a client's stored snapshot. Returns nil, nil when the
// client has never been calculated.
func (t *Tracker) Get(ctx context.Context, clientID string) (*Snapshot, error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT id, client_id, total_urls, urls_fetched, urls_cleaned,
			urls_rewritten, urls_published,
			fetch_rate, clean_rate, rewrite_rate, publish_rate,
			updated_last_30_days, calculated_at
		FROM page_analytics WHERE client_id = ?`, clientID)

	var s Snapshot
	err := row.Scan(&s.ID, &s.ClientID, &s.TotalURLs, &s.URLsFetched, &s.URLsCleaned,
		&s.URLsRewritten, &s.URLsPublished,
		&s.FetchRate, &s.CleanRate, &s.RewriteRate, &s.PublishRate,
		&s.UpdatedLast30Days, &s.CalculatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("progress: scan snapshot: %w", err)
	}
	return &s, nil
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return round2(float64(n) / float64(total) * 100)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
