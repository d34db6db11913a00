package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/edgegeo/aicache/cachekey"
	"github.com/edgegeo/aicache/catalog"
	"github.com/edgegeo/aicache/dbopen"
	"github.com/edgegeo/aicache/edgekv"
	"github.com/edgegeo/aicache/edgeworker"
	"github.com/edgegeo/aicache/llmrewrite"
	"github.com/edgegeo/aicache/registry"
	"github.com/edgegeo/aicache/vault"

	_ "modernc.org/sqlite"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	content map[string]string
	fail    map[string]int // url -> remaining failures
}

func (f *fakeFetcher) FetchMarkdown(_ context.Context, url string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if n := f.fail[url]; n > 0 {
		f.fail[url] = n - 1
		return "", "", errors.New("upstream unavailable")
	}
	if md, ok := f.content[url]; ok {
		return md, "run-fake", nil
	}
	return "", "", errors.New("not found")
}

type fakeRewriter struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (r *fakeRewriter) Rewrite(_ context.Context, apiKey, raw, url string, _ llmrewrite.PageMeta) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail {
		return "", "", errors.New("model error")
	}
	if apiKey == "" {
		return "", "", errors.New("missing api key")
	}
	return "clean: " + raw, "<html><body>" + raw + "</body></html>", nil
}

type fakeKV struct {
	mu     sync.Mutex
	store  map[string]string
	reject map[string]bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{store: make(map[string]string), reject: make(map[string]bool)}
}

func (k *fakeKV) Put(_ context.Context, key, value string, _ int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.reject[key] {
		return errors.New("kv rejected")
	}
	k.store[key] = value
	return nil
}

func (k *fakeKV) PutBulk(_ context.Context, pairs []edgekv.Pair, _ int) (*edgekv.BulkResult, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	res := &edgekv.BulkResult{}
	for _, p := range pairs {
		if k.reject[p.Key] {
			res.UnsuccessfulKeys = append(res.UnsuccessfulKeys, p.Key)
			continue
		}
		k.store[p.Key] = p.Value
		res.SuccessfulCount++
	}
	return res, nil
}

func (k *fakeKV) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.store, key)
	return nil
}

type fakeWorker struct {
	deployed  map[string]string // script name -> kv namespace
	routes    map[string]string // route id -> pattern
	failRoute bool
	nextRoute int
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{deployed: make(map[string]string), routes: make(map[string]string)}
}

func (w *fakeWorker) Deploy(_ context.Context, name, script, ns string) error {
	if !strings.Contains(script, "GEO_PAGES") {
		return errors.New("script missing kv binding reference")
	}
	w.deployed[name] = ns
	return nil
}

func (w *fakeWorker) DeleteScript(_ context.Context, name string) error {
	delete(w.deployed, name)
	return nil
}

func (w *fakeWorker) AddRoute(_ context.Context, pattern, script string) (string, error) {
	if w.failRoute {
		return "", errors.New("route quota exceeded")
	}
	w.nextRoute++
	id := fmt.Sprintf("route-%d", w.nextRoute)
	w.routes[id] = pattern
	return id, nil
}

func (w *fakeWorker) DeleteRoute(_ context.Context, id string) error {
	delete(w.routes, id)
	return nil
}

type fixture struct {
	pipeline *Pipeline
	clients  *registry.Registry
	pages    *catalog.Store
	clientID string
	fetcher  *fakeFetcher
	rewriter *fakeRewriter
	kv       *fakeKV
	worker   *fakeWorker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbopen.OpenMemory(t,
		dbopen.WithSchema(registry.Schema),
		dbopen.WithSchema(catalog.Schema))

	sealer, err := vault.NewChaChaFromString(strings.Repeat("k", 32))
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	clients := registry.New(registry.NewStore(db), sealer, "global-llm-key", slog.Default())

	c := &registry.Client{
		Name: "Acme", Domain: "acme.example", Active: true,
		EdgeAccountID: "acc", EdgeKVNamespaceID: "ns", EdgeZoneID: "zone",
	}
	if err := clients.CreateClient(context.Background(), c, "edge-token", ""); err != nil {
		t.Fatalf("create client: %v", err)
	}

	f := &fixture{
		clients:  clients,
		pages:    catalog.NewStore(db),
		clientID: c.ID,
		fetcher:  &fakeFetcher{content: map[string]string{}, fail: map[string]int{}},
		rewriter: &fakeRewriter{},
		kv:       newFakeKV(),
		worker:   newFakeWorker(),
	}
	f.pipeline = New(clients, f.pages, f.fetcher, f.rewriter, Config{
		FetchBackoff:  1, // effectively no backoff in tests
		MaxConcurrent: 2,
		APIEndpoint:   "https://api.acme.example",
		MasterKey:     "master",
	}, slog.Default())
	f.pipeline.newKV = func(edgekv.Config) (EdgeKV, error) { return f.kv, nil }
	f.pipeline.newWorker = func(edgeworker.Config) (WorkerAPI, error) { return f.worker, nil }
	return f
}

func (f *fixture) addPage(t *testing.T, url string) *catalog.Page {
	t.Helper()
	p, _, err := f.pages.Insert(context.Background(), f.clientID, url)
	if err != nil {
		t.Fatalf("insert page: %v", err)
	}
	return p
}

func TestFetchStoresContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPage(t, "https://acme.example/a")
	f.fetcher.content[p.URL] = "# A"

	out, err := f.pipeline.Fetch(ctx, p.ID, false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if out.Skipped {
		t.Fatal("first fetch must not be skipped")
	}
	if out.FetchSource != "run-fake" {
		t.Fatalf("outcome source = %q", out.FetchSource)
	}
	got, _ := f.pages.Get(ctx, p.ID)
	if got.RawContent != "# A" || got.ContentHash == "" {
		t.Fatalf("page = %+v", got)
	}
	if got.FetchSource != "run-fake" {
		t.Fatalf("recorded source = %q", got.FetchSource)
	}
}

func TestFetchUnchangedContentSkips(t *testing.T) {
	// WHAT: refetching a page whose content did not change.
	// WHY: the rewrite and publish outputs must survive; only the
	// attempt counter moves.
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPage(t, "https://acme.example/a")
	f.fetcher.content[p.URL] = "# A"

	if _, err := f.pipeline.Fetch(ctx, p.ID, false); err != nil {
		t.Fatalf("fetch 1: %v", err)
	}
	if err := f.pages.ApplyRewrite(ctx, p.ID, "clean", "<html>A</html>"); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	out, err := f.pipeline.Fetch(ctx, p.ID, true)
	if err != nil {
		t.Fatalf("fetch 2: %v", err)
	}
	if !out.Skipped {
		t.Fatal("expected skip on unchanged content")
	}
	got, _ := f.pages.Get(ctx, p.ID)
	if got.GeneratedHTML != "<html>A</html>" {
		t.Fatal("skip destroyed rewrite output")
	}
	if got.FetchAttempts != 2 {
		t.Fatalf("attempts = %d, want 2", got.FetchAttempts)
	}
}

func TestFetchAlreadyFetchedSkipsWithoutCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPage(t, "https://acme.example/a")
	f.fetcher.content[p.URL] = "# A"

	if _, err := f.pipeline.Fetch(ctx, p.ID, false); err != nil {
		t.Fatalf("fetch 1: %v", err)
	}
	out, err := f.pipeline.Fetch(ctx, p.ID, false)
	if err != nil {
		t.Fatalf("fetch 2: %v", err)
	}
	if !out.Skipped {
		t.Fatal("expected skip")
	}
	if f.fetcher.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no refetch without force)", f.fetcher.calls)
	}
	got, _ := f.pages.Get(ctx, p.ID)
	if got.FetchAttempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.FetchAttempts)
	}
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPage(t, "https://acme.example/flaky")
	f.fetcher.content[p.URL] = "# Flaky"
	f.fetcher.fail[p.URL] = 2 // two transient failures, third attempt wins

	out, err := f.pipeline.Fetch(ctx, p.ID, false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if out.Skipped {
		t.Fatal("unexpected skip")
	}
	if f.fetcher.calls != 3 {
		t.Fatalf("calls = %d, want 3", f.fetcher.calls)
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPage(t, "https://acme.example/down")
	f.fetcher.fail[p.URL] = 10

	_, err := f.pipeline.Fetch(ctx, p.ID, false)
	if err == nil {
		t.Fatal("expected error")
	}
	if f.fetcher.calls != 3 {
		t.Fatalf("calls = %d, want 3 (bounded retry)", f.fetcher.calls)
	}
	got, _ := f.pages.Get(ctx, p.ID)
	if got.FetchError == "" || got.FetchAttempts != 1 {
		t.Fatalf("failure not recorded: %+v", got)
	}
}

func TestRewriteRequiresFetch(t *testing.T) {
	f := newFixture(t)
	p := f.addPage(t, "https://acme.example/a")

	_, err := f.pipeline.Rewrite(context.Background(), p.ID)
	if !errors.Is(err, ErrNotFetched) {
		t.Fatalf("want ErrNotFetched, got %v", err)
	}
	if !IsPrecondition(err) {
		t.Fatal("ErrNotFetched must classify as precondition")
	}
	if f.rewriter.calls != 0 {
		t.Fatal("model called despite precondition failure")
	}
}

func TestRewriteStoresBothOutputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPage(t, "https://acme.example/a")
	f.fetcher.content[p.URL] = "# A"
	if _, err := f.pipeline.Fetch(ctx, p.ID, false); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if _, err := f.pipeline.Rewrite(ctx, p.ID); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	got, _ := f.pages.Get(ctx, p.ID)
	if got.CleanedContent == "" || got.GeneratedHTML == "" {
		t.Fatalf("rewrite outputs incomplete: %+v", got)
	}
}

func TestPublishRequiresRewrite(t *testing.T) {
	f := newFixture(t)
	p := f.addPage(t, "https://acme.example/a")

	_, err := f.pipeline.Publish(context.Background(), p.ID, cachekey.StrategyPath, false)
	if !errors.Is(err, ErrNotRewritten) {
		t.Fatalf("want ErrNotRewritten, got %v", err)
	}
	if len(f.kv.store) != 0 {
		t.Fatal("kv written despite precondition failure")
	}
}

func TestPublishWritesPathKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPage(t, "https://acme.example/shop/item/")
	f.fetcher.content[p.URL] = "# Item"
	f.pipeline.Fetch(ctx, p.ID, false)
	f.pipeline.Rewrite(ctx, p.ID)

	if _, err := f.pipeline.Publish(ctx, p.ID, cachekey.StrategyPath, false); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, ok := f.kv.store["https/acme.example/shop/item"]; !ok {
		t.Fatalf("kv keys = %v", f.kv.store)
	}
	got, _ := f.pages.Get(ctx, p.ID)
	if got.KVKey != "https/acme.example/shop/item" || got.Version != 2 {
		t.Fatalf("page = %+v", got)
	}
}

func TestVersionMonotonicOverPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPage(t, "https://acme.example/v")
	f.fetcher.content[p.URL] = "# V"
	f.pipeline.Fetch(ctx, p.ID, false)
	f.pipeline.Rewrite(ctx, p.ID)

	for i := 0; i < 3; i++ {
		if _, err := f.pipeline.Publish(ctx, p.ID, cachekey.StrategyPath, true); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	got, _ := f.pages.Get(ctx, p.ID)
	if got.Version != 4 {
		t.Fatalf("version = %d, want 4", got.Version)
	}
}

func TestPublishAlreadyLiveSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPage(t, "https://acme.example/live")
	f.fetcher.content[p.URL] = "# Live"
	f.pipeline.Fetch(ctx, p.ID, false)
	f.pipeline.Rewrite(ctx, p.ID)

	if _, err := f.pipeline.Publish(ctx, p.ID, cachekey.StrategyPath, false); err != nil {
		t.Fatalf("publish: %v", err)
	}
	out, err := f.pipeline.Publish(ctx, p.ID, cachekey.StrategyPath, false)
	if err != nil {
		t.Fatalf("repeat publish: %v", err)
	}
	if !out.Skipped {
		t.Fatalf("repeat publish not skipped: %+v", out)
	}
	got, _ := f.pages.Get(ctx, p.ID)
	if got.Version != 2 {
		t.Fatalf("skip bumped version: %d", got.Version)
	}
}

func TestPublishFailureDoesNotBumpVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPage(t, "https://acme.example/bad")
	f.fetcher.content[p.URL] = "# Bad"
	f.pipeline.Fetch(ctx, p.ID, false)
	f.pipeline.Rewrite(ctx, p.ID)
	f.kv.reject["https/acme.example/bad"] = true

	if _, err := f.pipeline.Publish(ctx, p.ID, cachekey.StrategyPath, false); err == nil {
		t.Fatal("expected publish failure")
	}
	got, _ := f.pages.Get(ctx, p.ID)
	if got.Version != 1 || got.Published() {
		t.Fatalf("failed publish mutated page: %+v", got)
	}
}

func TestPublishBatchPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ids []string
	for _, path := range []string{"a", "b", "c"} {
		p := f.addPage(t, "https://acme.example/"+path)
		f.fetcher.content[p.URL] = "# " + path
		f.pipeline.Fetch(ctx, p.ID, false)
		f.pipeline.Rewrite(ctx, p.ID)
		ids = append(ids, p.ID)
	}
	f.kv.reject["https/acme.example/b"] = true

	res, err := f.pipeline.PublishBatch(ctx, f.clientID, cachekey.StrategyPath, 0)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if res.Succeeded != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}

	// Only the accepted pages got a version bump.
	for i, id := range ids {
		got, _ := f.pages.Get(ctx, id)
		wantVersion := 2
		if i == 1 {
			wantVersion = 1
		}
		if got.Version != wantVersion {
			t.Errorf("page %d version = %d, want %d", i, got.Version, wantVersion)
		}
	}
}

func TestInactiveClientBlocksStages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPage(t, "https://acme.example/a")
	f.clients.Store().SetActive(ctx, f.clientID, false)

	if _, err := f.pipeline.Fetch(ctx, p.ID, false); !errors.Is(err, ErrClientInactive) {
		t.Fatalf("fetch: want ErrClientInactive, got %v", err)
	}
	if _, err := f.pipeline.FetchBatch(ctx, f.clientID, 0); !errors.Is(err, ErrClientInactive) {
		t.Fatalf("batch: want ErrClientInactive, got %v", err)
	}
}

func TestFetchBatchIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	good := f.addPage(t, "https://acme.example/good")
	f.addPage(t, "https://acme.example/broken")
	f.fetcher.content[good.URL] = "# Good"
	f.fetcher.fail["https://acme.example/broken"] = 10

	res, err := f.pipeline.FetchBatch(ctx, f.clientID, 0)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if res.Succeeded != 1 || res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestDeployWorkerWithRoute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.pipeline.DeployWorker(ctx, f.clientID, DeployOptions{AutoRoute: true})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !res.Deployed || !res.RouteCreated {
		t.Fatalf("result = %+v", res)
	}
	if res.RoutePattern != "*acme.example/*" {
		t.Fatalf("pattern = %q", res.RoutePattern)
	}

	client, _ := f.clients.Store().Get(ctx, f.clientID)
	if !client.WorkerDeployed() || client.WorkerScriptName != res.ScriptName {
		t.Fatalf("client = %+v", client)
	}
}

func TestDeployWorkerPartialRouteFailure(t *testing.T) {
	// WHAT: script deploys, route creation fails.
	// WHY: the script stays live; the operator retries the route. No
	// rollback.
	f := newFixture(t)
	f.worker.failRoute = true
	ctx := context.Background()

	res, err := f.pipeline.DeployWorker(ctx, f.clientID, DeployOptions{AutoRoute: true})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !res.Deployed || res.RouteCreated || res.RouteError == "" {
		t.Fatalf("result = %+v", res)
	}

	client, _ := f.clients.Store().Get(ctx, f.clientID)
	if !client.WorkerDeployed() {
		t.Fatal("partial success must still record the deployment")
	}
	if client.WorkerRouteID != "" {
		t.Fatalf("route id = %q, want empty", client.WorkerRouteID)
	}
}

func TestRemoveWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.pipeline.DeployWorker(ctx, f.clientID, DeployOptions{AutoRoute: true}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if err := f.pipeline.RemoveWorker(ctx, f.clientID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	client, _ := f.clients.Store().Get(ctx, f.clientID)
	if client.WorkerDeployed() {
		t.Fatal("deployment record not cleared")
	}
	if len(f.worker.deployed) != 0 || len(f.worker.routes) != 0 {
		t.Fatalf("platform state left behind: %+v %+v", f.worker.deployed, f.worker.routes)
	}

	if err := f.pipeline.RemoveWorker(ctx, f.clientID); !errors.Is(err, ErrNotDeployed) {
		t.Fatalf("second remove: want ErrNotDeployed, got %v", err)
	}
}
