package traffic

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/edgegeo/aicache/catalog"
	"github.com/edgegeo/aicache/dbopen"
	"github.com/edgegeo/aicache/registry"

	_ "modernc.org/sqlite"
)

func testService(t *testing.T) (*Service, string) {
	t.Helper()
	db := dbopen.OpenMemory(t,
		dbopen.WithSchema(registry.Schema),
		dbopen.WithSchema(catalog.Schema),
		dbopen.WithSchema(Schema))

	clients := registry.NewStore(db)
	client := &registry.Client{Name: "Acme", Domain: "acme.example", Active: true}
	if err := clients.Create(context.Background(), client); err != nil {
		t.Fatalf("create client: %v", err)
	}

	svc := NewService(NewStore(db), clients, catalog.NewStore(db), slog.Default())
	return svc, client.ID
}

func TestDetectBot(t *testing.T) {
	cases := []struct {
		ua   string
		want string
	}{
		{"Mozilla/5.0 (compatible; GPTBot/1.0; +https://openai.com/gptbot)", "GPTBot"},
		{"mozilla/5.0 perplexitybot/1.0", "PerplexityBot"},
		{"ClaudeBot/1.0", "ClaudeBot"},
		{"Mozilla/5.0 (Windows NT 10.0) Chrome/120.0", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := DetectBot(tc.ua); got != tc.want {
			t.Errorf("DetectBot(%q) = %q, want %q", tc.ua, got, tc.want)
		}
	}
}

func TestDetectAISource(t *testing.T) {
	cases := []struct {
		referrer string
		want     string
	}{
		{"https://chat.openai.com/c/abc123", "ChatGPT"},
		{"https://chatgpt.com/", "ChatGPT"},
		{"https://www.perplexity.ai/search?q=widgets", "Perplexity"},
		{"https://claude.ai/chat/xyz", "Claude"},
		{"https://gemini.google.com/app", "Gemini"},
		// bing.com/chat must win over the Google catch-all.
		{"https://bing.com/chat?q=test", "Bing"},
		{"https://google.com/search?q=widgets", "Google"},
		{"https://example.com/blog", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := DetectAISource(tc.referrer); got != tc.want {
			t.Errorf("DetectAISource(%q) = %q, want %q", tc.referrer, got, tc.want)
		}
	}
}

func TestClassify(t *testing.T) {
	// Bot UA wins regardless of referrer.
	vt, bot, _ := Classify("GPTBot/1.0", "https://chat.openai.com/", "")
	if vt != VisitorAIBot || bot != "GPTBot" {
		t.Fatalf("got %q/%q", vt, bot)
	}

	// AI referrer without a bot UA is ai_referral.
	vt, _, src := Classify("Mozilla/5.0 Chrome/120.0", "https://www.perplexity.ai/", "")
	if vt != VisitorAIReferral || src != "Perplexity" {
		t.Fatalf("got %q/%q", vt, src)
	}

	// Worker-reported type is trusted even when detection sees nothing.
	vt, _, _ = Classify("curl/8.0", "", VisitorAIBot)
	if vt != VisitorAIBot {
		t.Fatalf("got %q", vt)
	}

	vt, _, _ = Classify("Mozilla/5.0 Chrome/120.0", "https://example.com", "")
	if vt != VisitorDirect {
		t.Fatalf("got %q", vt)
	}
}

func TestRecordWorkerVisit(t *testing.T) {
	svc, clientID := testService(t)
	ctx := context.Background()

	visit, err := svc.RecordWorkerVisit(ctx, &VisitReport{
		ClientID:    clientID,
		URL:         "https://acme.example/shop/item",
		UserAgent:   "GPTBot/1.0",
		IP:          "203.0.113.7",
		VisitorType: VisitorAIBot,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if visit.VisitorType != VisitorAIBot || visit.BotName != "GPTBot" {
		t.Fatalf("got %+v", visit)
	}
	if visit.IPHash == "" || visit.IPHash == "203.0.113.7" {
		t.Fatalf("raw IP leaked or hash missing: %q", visit.IPHash)
	}

	// Domain resolution works when the worker omits the client ID.
	if _, err := svc.RecordWorkerVisit(ctx, &VisitReport{
		Domain:    "acme.example",
		URL:       "https://acme.example/",
		UserAgent: "Mozilla/5.0 Chrome/120.0",
	}); err != nil {
		t.Fatalf("record by domain: %v", err)
	}

	if _, err := svc.RecordWorkerVisit(ctx, &VisitReport{
		ClientID: "nope", URL: "https://acme.example/",
	}); err != ErrClientUnknown {
		t.Fatalf("expected ErrClientUnknown, got %v", err)
	}
}

func TestVisitLinksKnownPage(t *testing.T) {
	svc, clientID := testService(t)
	ctx := context.Background()

	page, _, err := svc.pages.Insert(ctx, clientID, "https://acme.example/shop/item")
	if err != nil {
		t.Fatalf("insert page: %v", err)
	}

	visit, err := svc.RecordWorkerVisit(ctx, &VisitReport{
		ClientID:  clientID,
		URL:       "https://acme.example/shop/item",
		UserAgent: "ClaudeBot/1.0",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if visit.PageID != page.ID {
		t.Fatalf("page_id = %q, want %q", visit.PageID, page.ID)
	}
}

func TestTrackPixelConversionDuplicate(t *testing.T) {
	svc, clientID := testService(t)
	ctx := context.Background()

	ev := &PixelEvent{
		ClientID:        clientID,
		EventType:       "checkout_completed",
		OrderID:         "order-1001",
		ConversionValue: 49.90,
		LandingURL:      "https://acme.example/shop/item",
		Referrer:        "https://chat.openai.com/c/abc",
	}
	res, err := svc.TrackPixel(ctx, ev)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if !res.Recorded || res.Duplicate {
		t.Fatalf("got %+v", res)
	}

	// Replayed webhook: success with a duplicate marker, no second row.
	res, err = svc.TrackPixel(ctx, ev)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !res.Duplicate {
		t.Fatal("expected duplicate marker")
	}

	totals, err := svc.store.ConversionTotals(ctx, clientID, 0)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.TotalConversions != 1 {
		t.Fatalf("conversions = %d, want 1", totals.TotalConversions)
	}
	if totals.AIConversions != 1 || totals.AIRevenue != 49.90 {
		t.Fatalf("ai attribution: %+v", totals)
	}

	if _, err := svc.TrackPixel(ctx, &PixelEvent{
		ClientID: clientID, EventType: "checkout_completed",
	}); err != ErrMissingOrderID {
		t.Fatalf("expected ErrMissingOrderID, got %v", err)
	}
}

func TestTrackPixelPageView(t *testing.T) {
	svc, clientID := testService(t)
	ctx := context.Background()

	res, err := svc.TrackPixel(ctx, &PixelEvent{
		ClientID:  clientID,
		EventType: "page_view",
		URL:       "https://acme.example/blog/post",
		UserAgent: "Mozilla/5.0 Chrome/120.0",
		Referrer:  "https://www.perplexity.ai/search",
	})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if !res.Recorded || res.VisitID == "" {
		t.Fatalf("got %+v", res)
	}

	sum, err := svc.store.VisitSummary(ctx, clientID, 0)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.AIReferrals != 1 {
		t.Fatalf("ai_referrals = %d, want 1", sum.AIReferrals)
	}
}

func TestSummaryAndBreakdowns(t *testing.T) {
	svc, clientID := testService(t)
	ctx := context.Background()

	seed := []struct {
		ua, referrer, url string
	}{
		{"GPTBot/1.0", "", "https://acme.example/a"},
		{"GPTBot/1.0", "", "https://acme.example/a"},
		{"ClaudeBot/1.0", "", "https://acme.example/b"},
		{"Mozilla/5.0", "https://chat.openai.com/", "https://acme.example/a"},
		{"Mozilla/5.0", "", "https://acme.example/c"},
	}
	for _, s := range seed {
		if _, err := svc.RecordWorkerVisit(ctx, &VisitReport{
			ClientID: clientID, URL: s.url, UserAgent: s.ua, Referrer: s.referrer,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	sum, err := svc.store.VisitSummary(ctx, clientID, 0)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalVisits != 5 || sum.BotCrawls != 3 || sum.AIReferrals != 1 || sum.DirectVisits != 1 {
		t.Fatalf("summary: %+v", sum)
	}
	if sum.BotCrawlPercent != 60.0 || sum.AIReferralPercent != 20.0 {
		t.Fatalf("percentages: %+v", sum)
	}

	bots, err := svc.store.TopBots(ctx, clientID, 0, 10)
	if err != nil {
		t.Fatalf("top bots: %v", err)
	}
	if len(bots) != 2 || bots[0].Name != "GPTBot" || bots[0].Count != 2 {
		t.Fatalf("bots: %+v", bots)
	}

	pages, err := svc.store.TopPages(ctx, clientID, 0, 10)
	if err != nil {
		t.Fatalf("top pages: %v", err)
	}
	if len(pages) != 3 || pages[0].Name != "https://acme.example/a" || pages[0].Count != 3 {
		t.Fatalf("pages: %+v", pages)
	}
}

func TestDailyVisits(t *testing.T) {
	svc, clientID := testService(t)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	day2 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC).UnixMilli()
	seed := []Visit{
		{ClientID: clientID, URL: "https://acme.example/a", VisitorType: VisitorAIBot, VisitedAt: day1},
		{ClientID: clientID, URL: "https://acme.example/a", VisitorType: VisitorDirect, VisitedAt: day1},
		{ClientID: clientID, URL: "https://acme.example/b", VisitorType: VisitorAIBot, VisitedAt: day2},
	}
	for i := range seed {
		if err := svc.store.InsertVisit(ctx, &seed[i]); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	days, err := svc.store.DailyVisits(ctx, clientID, 0)
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("days: %+v", days)
	}
	if days[0].Day != "2026-03-01" || days[0].Visits != 2 || days[0].BotCrawls != 1 {
		t.Fatalf("day 1: %+v", days[0])
	}
	if days[1].Day != "2026-03-02" || days[1].Visits != 1 || days[1].BotCrawls != 1 {
		t.Fatalf("day 2: %+v", days[1])
	}
}

func TestEmptySummaryHasZeroRates(t *testing.T) {
	svc, clientID := testService(t)

	sum, err := svc.store.VisitSummary(context.Background(), clientID, 0)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalVisits != 0 || sum.BotCrawlPercent != 0.0 || sum.AIReferralPercent != 0.0 {
		t.Fatalf("got %+v", sum)
	}
}

func TestRevenueBySource(t *testing.T) {
	svc, clientID := testService(t)
	ctx := context.Background()

	orders := []struct {
		id       string
		value    float64
		referrer string
	}{
		{"o-1", 100, "https://chat.openai.com/"},
		{"o-2", 50, "https://chat.openai.com/"},
		{"o-3", 80, "https://www.perplexity.ai/"},
		{"o-4", 40, "https://example.com/"},
	}
	for _, o := range orders {
		if _, err := svc.TrackPixel(ctx, &PixelEvent{
			ClientID:        clientID,
			EventType:       "checkout_completed",
			OrderID:         o.id,
			ConversionValue: o.value,
			Referrer:        o.referrer,
			LandingURL:      "https://acme.example/shop",
		}); err != nil {
			t.Fatalf("track %s: %v", o.id, err)
		}
	}

	rev, err := svc.store.RevenueByAISource(ctx, clientID, 0)
	if err != nil {
		t.Fatalf("revenue: %v", err)
	}
	if len(rev) != 2 {
		t.Fatalf("sources: %+v", rev)
	}
	if rev[0].AISource != "ChatGPT" || rev[0].Revenue != 150 || rev[0].Conversions != 2 {
		t.Fatalf("top source: %+v", rev[0])
	}

	totals, err := svc.store.ConversionTotals(ctx, clientID, 0)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.TotalConversions != 4 || totals.TotalRevenue != 270 {
		t.Fatalf("totals: %+v", totals)
	}
	if totals.AIConversions != 3 || totals.AIRevenue != 230 {
		t.Fatalf("ai totals: %+v", totals)
	}
}

func TestReport(t *testing.T) {
	svc, clientID := testService(t)
	ctx := context.Background()

	if _, err := svc.RecordWorkerVisit(ctx, &VisitReport{
		ClientID: clientID, URL: "https://acme.example/a", UserAgent: "GPTBot/1.0",
	}); err != nil {
		t.Fatalf("seed visit: %v", err)
	}
	if _, err := svc.TrackPixel(ctx, &PixelEvent{
		ClientID: clientID, EventType: "checkout_completed", OrderID: "o-9",
		ConversionValue: 10, Referrer: "https://claude.ai/chat/1",
	}); err != nil {
		t.Fatalf("seed conversion: %v", err)
	}

	report, err := svc.Report(ctx, clientID, 0)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.WindowDays != 30 {
		t.Fatalf("window = %d", report.WindowDays)
	}
	if report.Visits.TotalVisits != 1 || report.Conversions.TotalConversions != 1 {
		t.Fatalf("report: %+v", report)
	}
	if len(report.Revenue) != 1 || report.Revenue[0].AISource != "Claude" {
		t.Fatalf("revenue: %+v", report.Revenue)
	}
}
