package traffic

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/edgegeo/aicache/idgen"
)

// Store is the data access layer for visits and conversions.
type Store struct {
	db    *sql.DB
	newID idgen.Generator
}

// NewStore creates a Store from an already-opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, newID: idgen.Default}
}

// Init creates the visits and conversions tables.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// InsertVisit records one visit. ID and timestamp are defaulted.
func (s *Store) InsertVisit(ctx context.Context, v *Visit) error {
	if v.ID == "" {
		v.ID = s.newID()
	}
	if v.VisitedAt == 0 {
		v.VisitedAt = time.Now().UnixMilli()
	}
	if v.VisitorType == "" {
		v.VisitorType = VisitorDirect
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO visits (id, client_id, page_id, url, visitor_type,
			user_agent, ip_hash, referrer, bot_name, ai_source, visited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ClientID, v.PageID, v.URL, v.VisitorType,
		v.UserAgent, v.IPHash, v.Referrer, v.BotName, v.AISource, v.VisitedAt)
	if err != nil {
		return fmt.Errorf("traffic: insert visit: %w", err)
	}
	return nil
}

// InsertConversion records one order. When the order_id was already
// tracked the stored conversion is returned with duplicate=true and
// nothing is written.
func (s *Store) InsertConversion(ctx context.Context, c *Conversion) (stored *Conversion, duplicate bool, err error) {
	if c.ID == "" {
		c.ID = s.newID()
	}
	if c.ConvertedAt == 0 {
		c.ConvertedAt = time.Now().UnixMilli()
	}
	if c.EventType == "" {
		c.EventType = "checkout_completed"
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversions (id, client_id, page_id, order_id, event_type,
			conversion_value, landing_url, referrer_domain, referrer_full_url,
			ai_source, converted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ClientID, c.PageID, c.OrderID, c.EventType,
		c.ConversionValue, c.LandingURL, c.ReferrerDomain, c.ReferrerFullURL,
		c.AISource, c.ConvertedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			existing, gerr := s.GetConversionByOrder(ctx, c.OrderID)
			if gerr != nil {
				return nil, false, gerr
			}
			if existing != nil {
				return existing, true, nil
			}
		}
		return nil, false, fmt.Errorf("traffic: insert conversion: %w", err)
	}
	return c, false, nil
}

// GetConversionByOrder retrieves a conversion by its order ID. Returns
// nil, nil when absent.
func (s *Store) GetConversionByOrder(ctx context.Context, orderID string) (*Conversion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, page_id, order_id, event_type, conversion_value,
			landing_url, referrer_domain, referrer_full_url, ai_source, converted_at
		FROM conversions WHERE order_id = ?`, orderID)

	var c Conversion
	err := row.Scan(&c.ID, &c.ClientID, &c.PageID, &c.OrderID, &c.EventType,
		&c.ConversionValue, &c.LandingURL, &c.ReferrerDomain, &c.ReferrerFullURL,
		&c.AISource, &c.ConvertedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("traffic: scan conversion: %w", err)
	}
	return &c, nil
}

// VisitSummary aggregates a client's visits since the cutoff (UnixMilli;
// 0 means all time).
func (s *Store) VisitSummary(ctx context.Context, clientID string, since int64) (*Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN visitor_type = 'ai_bot' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN visitor_type = 'ai_referral' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN visitor_type = 'direct' THEN 1 ELSE 0 END), 0)
		FROM visits WHERE client_id = ? AND visited_at >= ?`, clientID, since).
		Scan(&sum.TotalVisits, &sum.BotCrawls, &sum.AIReferrals, &sum.DirectVisits)
	if err != nil {
		return nil, fmt.Errorf("traffic: visit summary: %w", err)
	}
	if sum.TotalVisits > 0 {
		sum.BotCrawlPercent = round2(float64(sum.BotCrawls) / float64(sum.TotalVisits) * 100)
		sum.AIReferralPercent = round2(float64(sum.AIReferrals) / float64(sum.TotalVisits) * 100)
	}
	return &sum, nil
}

// TopBots returns crawl counts per bot, busiest first.
func (s *Store) TopBots(ctx context.Context, clientID string, since int64, limit int) ([]NameCount, error) {
	return s.breakdown(ctx, `
		SELECT bot_name, COUNT(*) AS n FROM visits
		WHERE client_id = ? AND visited_at >= ? AND visitor_type = 'ai_bot' AND bot_name != ''
		GROUP BY bot_name ORDER BY n DESC LIMIT ?`, clientID, since, limit)
}

// TopAISources returns referral counts per AI assistant, busiest first.
func (s *Store) TopAISources(ctx context.Context, clientID string, since int64, limit int) ([]NameCount, error) {
	return s.breakdown(ctx, `
		SELECT ai_source, COUNT(*) AS n FROM visits
		WHERE client_id = ? AND visited_at >= ? AND ai_source != ''
		GROUP BY ai_source ORDER BY n DESC LIMIT ?`, clientID, since, limit)
}

// TopPages returns visit counts per URL, busiest first.
func (s *Store) TopPages(ctx context.Context, clientID string, since int64, limit int) ([]NameCount, error) {
	return s.breakdown(ctx, `
		SELECT url, COUNT(*) AS n FROM visits
		WHERE client_id = ? AND visited_at >= ?
		GROUP BY url ORDER BY n DESC LIMIT ?`, clientID, since, limit)
}

func (s *Store) breakdown(ctx context.Context, query, clientID string, since int64, limit int) ([]NameCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, query, clientID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("traffic: breakdown: %w", err)
	}
	defer rows.Close()

	var out []NameCount
	for rows.Next() {
		var nc NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, err
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}

// DailyVisits returns the per-day visit series since the cutoff, oldest
// day first. Timestamps are stored as Unix milliseconds, so the bucket
// is derived from visited_at/1000.
func (s *Store) DailyVisits(ctx context.Context, clientID string, since int64) ([]DayCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date(visited_at/1000, 'unixepoch') AS day,
		       COUNT(*),
		       SUM(CASE WHEN visitor_type = 'ai_bot' THEN 1 ELSE 0 END)
		FROM visits
		WHERE client_id = ? AND visited_at >= ?
		GROUP BY day ORDER BY day ASC`, clientID, since)
	if err != nil {
		return nil, fmt.Errorf("traffic: daily visits: %w", err)
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Visits, &dc.BotCrawls); err != nil {
			return nil, err
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

// ConversionTotals aggregates a client's conversions since the cutoff.
func (s *Store) ConversionTotals(ctx context.Context, clientID string, since int64) (*ConversionSummary, error) {
	var cs ConversionSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(conversion_value), 0),
			COALESCE(SUM(CASE WHEN ai_source != '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN ai_source != '' THEN conversion_value ELSE 0 END), 0)
		FROM conversions WHERE client_id = ? AND converted_at >= ?`, clientID, since).
		Scan(&cs.TotalConversions, &cs.TotalRevenue, &cs.AIConversions, &cs.AIRevenue)
	if err != nil {
		return nil, fmt.Errorf("traffic: conversion totals: %w", err)
	}
	return &cs, nil
}

// RevenueByAISource returns conversions and revenue per AI assistant,
// highest revenue first.
func (s *Store) RevenueByAISource(ctx context.Context, clientID string, since int64) ([]SourceRevenue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ai_source, COUNT(*), COALESCE(SUM(conversion_value), 0) AS rev
		FROM conversions
		WHERE client_id = ? AND converted_at >= ? AND ai_source != ''
		GROUP BY ai_source ORDER BY rev DESC`, clientID, since)
	if err != nil {
		return nil, fmt.Errorf("traffic: revenue by source: %w", err)
	}
	defer rows.Close()

	var out []SourceRevenue
	for rows.Next() {
		var sr SourceRevenue
		if err := rows.Scan(&sr.AISource, &sr.Conversions, &sr.Revenue); err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// TopConvertingPages returns conversion counts per landing URL.
func (s *Store) TopConvertingPages(ctx context.Context, clientID string, since int64, limit int) ([]NameCount, error) {
	return s.breakdown(ctx, `
		SELECT landing_url, COUNT(*) AS n FROM conversions
		WHERE client_id = ? AND converted_at >= ? AND landing_url != ''
		GROUP BY landing_url ORDER BY n DESC LIMIT ?`, clientID, since, limit)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
