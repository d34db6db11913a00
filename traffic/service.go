package traffic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/edgegeo/aicache/catalog"
	"github.com/edgegeo/aicache/netguard"
	"github.com/edgegeo/aicache/registry"
)

var (
	ErrClientUnknown  = errors.New("traffic: client unknown")
	ErrMissingOrderID = errors.New("traffic: order_id is required")
	ErrMissingURL     = errors.New("traffic: url is required")
)

// VisitReport is what the edge worker posts for each detected hit.
// Either ClientID or Domain must identify the tenant.
type VisitReport struct {
	ClientID    string `json:"client_id"`
	Domain      string `json:"domain"`
	URL         string `json:"url"`
	UserAgent   string `json:"user_agent"`
	Referrer    string `json:"referrer"`
	IP          string `json:"ip"`
	VisitorType string `json:"visitor_type"`
	Source      string `json:"source"`
}

// PixelEvent is what the tracking pixel posts from a tenant's storefront.
// page_view events become visits; checkout_completed events become
// conversions and require an order ID.
type PixelEvent struct {
	ClientID        string  `json:"client_id"`
	Domain          string  `json:"domain"`
	EventType       string  `json:"event_type"`
	URL             string  `json:"url"`
	UserAgent       string  `json:"user_agent"`
	Referrer        string  `json:"referrer"`
	IP              string  `json:"ip"`
	OrderID         string  `json:"order_id"`
	ConversionValue float64 `json:"conversion_value"`
	LandingURL      string  `json:"landing_url"`
}

// AnalyticsReport is the combined traffic and revenue view for one client.
type AnalyticsReport struct {
	ClientID    string            `json:"client_id"`
	WindowDays  int               `json:"window_days"`
	Visits      Summary           `json:"visits"`
	TopBots     []NameCount       `json:"top_bots"`
	TopSources  []NameCount       `json:"top_ai_sources"`
	TopPages    []NameCount       `json:"top_pages"`
	Daily       []DayCount        `json:"daily_visits"`
	Conversions ConversionSummary `json:"conversions"`
	Revenue     []SourceRevenue   `json:"revenue_by_source"`
}

// Service ingests worker reports and pixel events and serves the
// analytics views built from them.
type Service struct {
	store   *Store
	clients *registry.Store
	pages   *catalog.Store
	logger  *slog.Logger
}

func NewService(store *Store, clients *registry.Store, pages *catalog.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, clients: clients, pages: pages, logger: logger}
}

// Store exposes the underlying store for direct queries.
func (svc *Service) Store() *Store { return svc.store }

// resolveClient finds the tenant by ID first, then by domain.
func (svc *Service) resolveClient(ctx context.Context, clientID, domain string) (*registry.Client, error) {
	if clientID != "" {
		c, err := svc.clients.Get(ctx, clientID)
		if err != nil {
			return nil, err
		}
		if c != nil {
			return c, nil
		}
	}
	if domain != "" {
		c, err := svc.clients.GetByDomain(ctx, domain)
		if err != nil {
			return nil, err
		}
		if c != nil {
			return c, nil
		}
	}
	return nil, ErrClientUnknown
}

// RecordWorkerVisit stores a visit reported by the edge worker. The raw
// IP is hashed before persistence; the worker's own classification is
// trusted but bot name and AI source are re-derived server side.
func (svc *Service) RecordWorkerVisit(ctx context.Context, report *VisitReport) (*Visit, error) {
	if report.URL == "" {
		return nil, ErrMissingURL
	}
	client, err := svc.resolveClient(ctx, report.ClientID, report.Domain)
	if err != nil {
		return nil, err
	}

	visitorType, botName, aiSource := Classify(report.UserAgent, report.Referrer, report.VisitorType)
	if aiSource == "" && report.Source != "" {
		aiSource = report.Source
	}

	visit := &Visit{
		ClientID:    client.ID,
		URL:         report.URL,
		VisitorType: visitorType,
		UserAgent:   report.UserAgent,
		IPHash:      netguard.HashIP(report.IP),
		Referrer:    report.Referrer,
		BotName:     botName,
		AISource:    aiSource,
	}
	if page, err := svc.pages.GetByURL(ctx, client.ID, report.URL); err == nil && page != nil {
		visit.PageID = page.ID
	}

	if err := svc.store.InsertVisit(ctx, visit); err != nil {
		return nil, err
	}
	svc.logger.Debug("visit recorded",
		"client_id", client.ID, "visitor_type", visitorType, "bot", botName)
	return visit, nil
}

// PixelResult reports what a pixel event turned into.
type PixelResult struct {
	Recorded  bool   `json:"recorded"`
	Duplicate bool   `json:"duplicate,omitempty"`
	VisitID   string `json:"visit_id,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
}

// TrackPixel ingests a storefront pixel event. page_view becomes a
// visit with AI-referral attribution; checkout_completed becomes a
// conversion keyed by order_id. Replayed orders report duplicate=true
// and are not double counted.
func (svc *Service) TrackPixel(ctx context.Context, ev *PixelEvent) (*PixelResult, error) {
	client, err := svc.resolveClient(ctx, ev.ClientID, ev.Domain)
	if err != nil {
		return nil, err
	}

	switch ev.EventType {
	case "checkout_completed":
		if ev.OrderID == "" {
			return nil, ErrMissingOrderID
		}
		conv := &Conversion{
			ClientID:        client.ID,
			OrderID:         ev.OrderID,
			EventType:       ev.EventType,
			ConversionValue: ev.ConversionValue,
			LandingURL:      ev.LandingURL,
			ReferrerDomain:  ReferrerDomain(ev.Referrer),
			ReferrerFullURL: ev.Referrer,
			AISource:        DetectAISource(ev.Referrer),
		}
		if conv.LandingURL == "" {
			conv.LandingURL = ev.URL
		}
		stored, duplicate, err := svc.store.InsertConversion(ctx, conv)
		if err != nil {
			return nil, err
		}
		if duplicate {
			svc.logger.Debug("duplicate order ignored", "client_id", client.ID, "order_id", ev.OrderID)
		}
		return &PixelResult{Recorded: true, Duplicate: duplicate, OrderID: stored.OrderID}, nil

	default:
		if ev.URL == "" {
			return nil, ErrMissingURL
		}
		visitorType, botName, aiSource := Classify(ev.UserAgent, ev.Referrer, "")
		visit := &Visit{
			ClientID:    client.ID,
			URL:         ev.URL,
			VisitorType: visitorType,
			UserAgent:   ev.UserAgent,
			IPHash:      netguard.HashIP(ev.IP),
			Referrer:    ev.Referrer,
			BotName:     botName,
			AISource:    aiSource,
		}
		if err := svc.store.InsertVisit(ctx, visit); err != nil {
			return nil, err
		}
		return &PixelResult{Recorded: true, VisitID: visit.ID}, nil
	}
}

// Report assembles the full analytics view for one client over the last
// windowDays days (0 defaults to 30).
func (svc *Service) Report(ctx context.Context, clientID string, windowDays int) (*AnalyticsReport, error) {
	client, err := svc.resolveClient(ctx, clientID, "")
	if err != nil {
		return nil, err
	}
	if windowDays <= 0 {
		windowDays = 30
	}
	since := time.Now().AddDate(0, 0, -windowDays).UnixMilli()

	report := &AnalyticsReport{ClientID: client.ID, WindowDays: windowDays}

	visits, err := svc.store.VisitSummary(ctx, client.ID, since)
	if err != nil {
		return nil, fmt.Errorf("traffic: report: %w", err)
	}
	report.Visits = *visits

	if report.TopBots, err = svc.store.TopBots(ctx, client.ID, since, 10); err != nil {
		return nil, err
	}
	if report.TopSources, err = svc.store.TopAISources(ctx, client.ID, since, 10); err != nil {
		return nil, err
	}
	if report.TopPages, err = svc.store.TopPages(ctx, client.ID, since, 10); err != nil {
		return nil, err
	}
	if report.Daily, err = svc.store.DailyVisits(ctx, client.ID, since); err != nil {
		return nil, err
	}

	conv, err := svc.store.ConversionTotals(ctx, client.ID, since)
	if err != nil {
		return nil, err
	}
	report.Conversions = *conv

	if report.Revenue, err = svc.store.RevenueByAISource(ctx, client.ID, since); err != nil {
		return nil, err
	}
	return report, nil
}
