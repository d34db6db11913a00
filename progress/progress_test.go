package progress

import (
	"context"
	"testing"

	"github.com/edgegeo/aicache/catalog"
	"github.com/edgegeo/aicache/dbopen"
	"github.com/edgegeo/aicache/registry"

	_ "modernc.org/sqlite"
)

type fixture struct {
	tracker  *Tracker
	pages    *catalog.Store
	clients  *registry.Store
	clientID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbopen.OpenMemory(t,
		dbopen.WithSchema(registry.Schema),
		dbopen.WithSchema(catalog.Schema),
		dbopen.WithSchema(Schema))

	clients := registry.NewStore(db)
	c := &registry.Client{Name: "P", Domain: "p.example", Active: true}
	if err := clients.Create(context.Background(), c); err != nil {
		t.Fatalf("create client: %v", err)
	}
	return &fixture{
		tracker:  New(db, clients, nil),
		pages:    catalog.NewStore(db),
		clients:  clients,
		clientID: c.ID,
	}
}

func (f *fixture) seedPages(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	// 4 pages: 3 fetched, 2 rewritten, 1 published.
	for i, state := range []int{3, 2, 1, 0} {
		p, _, err := f.pages.Insert(ctx, f.clientID, "https://p.example/"+string(rune('a'+i)))
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if state >= 1 {
			f.pages.ApplyFetchSuccess(ctx, p.ID, "# md", "h", "run-1")
		}
		if state >= 2 {
			f.pages.ApplyRewrite(ctx, p.ID, "clean", "<html/>")
		}
		if state >= 3 {
			f.pages.ApplyPublish(ctx, p.ID, "https/p.example/"+string(rune('a'+i)))
		}
	}
}

func TestCalculateRates(t *testing.T) {
	f := newFixture(t)
	f.seedPages(t)

	s, err := f.tracker.Calculate(context.Background(), f.clientID)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if s.TotalURLs != 4 || s.URLsFetched != 3 || s.URLsRewritten != 2 || s.URLsPublished != 1 {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.FetchRate != 75.0 || s.RewriteRate != 50.0 || s.PublishRate != 25.0 {
		t.Fatalf("rates = %v %v %v", s.FetchRate, s.RewriteRate, s.PublishRate)
	}
	if s.UpdatedLast30Days != 4 {
		t.Fatalf("recent = %d", s.UpdatedLast30Days)
	}
}

func TestCalculateEmptyCatalog(t *testing.T) {
	// WHAT: a client with zero pages.
	// WHY: rates must be 0.0, not NaN or a division error.
	f := newFixture(t)

	s, err := f.tracker.Calculate(context.Background(), f.clientID)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if s.TotalURLs != 0 {
		t.Fatalf("total = %d", s.TotalURLs)
	}
	for _, r := range []float64{s.FetchRate, s.CleanRate, s.RewriteRate, s.PublishRate} {
		if r != 0.0 {
			t.Fatalf("rate = %v, want 0.0", r)
		}
	}
}

func TestCalculateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedPages(t)
	ctx := context.Background()

	s1, err := f.tracker.Calculate(ctx, f.clientID)
	if err != nil {
		t.Fatalf("calculate 1: %v", err)
	}
	s2, err := f.tracker.Calculate(ctx, f.clientID)
	if err != nil {
		t.Fatalf("calculate 2: %v", err)
	}
	if s1.ID != s2.ID {
		t.Fatalf("recalculation created a new row: %s vs %s", s1.ID, s2.ID)
	}
	if s1.TotalURLs != s2.TotalURLs || s1.FetchRate != s2.FetchRate {
		t.Fatalf("numbers drifted: %+v vs %+v", s1, s2)
	}
}

func TestCalculateUnknownClient(t *testing.T) {
	f := newFixture(t)
	if _, err := f.tracker.Calculate(context.Background(), "nope"); err != ErrClientNotFound {
		t.Fatalf("want ErrClientNotFound, got %v", err)
	}
}

func TestStageStatus(t *testing.T) {
	cases := []struct {
		complete, total int
		want            string
	}{
		{0, 0, StatusNoData},
		{0, 5, StatusNotStarted},
		{3, 5, StatusInProgress},
		{5, 5, StatusComplete},
	}
	for _, c := range cases {
		if got := StageStatus(c.complete, c.total); got != c.want {
			t.Errorf("StageStatus(%d, %d) = %q, want %q", c.complete, c.total, got, c.want)
		}
	}
}

func TestStatusBlendedScore(t *testing.T) {
	f := newFixture(t)
	f.seedPages(t)
	ctx := context.Background()

	ps, err := f.tracker.Status(ctx, f.clientID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	// import 20 + fetch 3/4*20 + rewrite 2/4*20 + publish 1/4*20 + worker 0
	want := 20.0 + 15.0 + 10.0 + 5.0
	if ps.CompletionPercentage != want {
		t.Fatalf("completion = %v, want %v", ps.CompletionPercentage, want)
	}
	if ps.Stages.Fetched.Status != StatusInProgress {
		t.Fatalf("fetched status = %q", ps.Stages.Fetched.Status)
	}

	// Deploying the worker adds its full 20-point share.
	if err := f.clients.SetWorkerDeployment(ctx, f.clientID, "geo-bot-detector-x", ""); err != nil {
		t.Fatalf("set deployment: %v", err)
	}
	ps, err = f.tracker.Status(ctx, f.clientID)
	if err != nil {
		t.Fatalf("status 2: %v", err)
	}
	if ps.CompletionPercentage != want+20.0 {
		t.Fatalf("completion = %v, want %v", ps.CompletionPercentage, want+20.0)
	}
	if ps.Stages.WorkerDeployed.Status != StatusComplete {
		t.Fatalf("worker status = %q", ps.Stages.WorkerDeployed.Status)
	}
}

func TestStatusEmptyCatalogIsZero(t *testing.T) {
	f := newFixture(t)
	ps, err := f.tracker.Status(context.Background(), f.clientID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if ps.CompletionPercentage != 0.0 {
		t.Fatalf("completion = %v, want 0", ps.CompletionPercentage)
	}
	if ps.Stages.URLsImported.Status != StatusNoData {
		t.Fatalf("import status = %q", ps.Stages.URLsImported.Status)
	}
}

func TestCalculateAllSkipsNothingOnHealthyClients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c2 := &registry.Client{Name: "Q", Domain: "q.example", Active: true}
	if err := f.clients.Create(ctx, c2); err != nil {
		t.Fatalf("create: %v", err)
	}

	snapshots, err := f.tracker.CalculateAll(ctx)
	if err != nil {
		t.Fatalf("calculate all: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snapshots))
	}
}
