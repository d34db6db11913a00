// Package pipeline drives pages through the content stages: fetch raw
// markdown, rewrite it into publishable HTML, publish to the edge KV,
// and deploy the per-client edge worker.
//
// Each stage checks its own precondition and persists its outcome in a
// single statement, so concurrent stage calls on the same page settle on
// whichever commit lands last rather than interleaving half-states.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edgegeo/aicache/cachekey"
	"github.com/edgegeo/aicache/catalog"
	"github.com/edgegeo/aicache/edgekv"
	"github.com/edgegeo/aicache/edgeworker"
	"github.com/edgegeo/aicache/llmrewrite"
	"github.com/edgegeo/aicache/registry"
)

// Fetcher retrieves page content as markdown. source identifies what
// produced it (an actor run id, a browser backend). ragfetch.Client and
// browserfetch.Fetcher both satisfy it.
type Fetcher interface {
	FetchMarkdown(ctx context.Context, pageURL string) (markdown, source string, err error)
}

// Rewriter turns raw markdown into cleaned markdown plus generated HTML.
type Rewriter interface {
	Rewrite(ctx context.Context, apiKey, rawMarkdown, pageURL string, meta llmrewrite.PageMeta) (cleaned, html string, err error)
}

// EdgeKV is the slice of the KV client the publish stage needs.
type EdgeKV interface {
	Put(ctx context.Context, key, value string, ttlSeconds int) error
	PutBulk(ctx context.Context, pairs []edgekv.Pair, ttlSeconds int) (*edgekv.BulkResult, error)
	Delete(ctx context.Context, key string) error
}

// WorkerAPI is the slice of the worker client the deploy stage needs.
type WorkerAPI interface {
	Deploy(ctx context.Context, scriptName, script, kvNamespaceID string) error
	DeleteScript(ctx context.Context, scriptName string) error
	AddRoute(ctx context.Context, pattern, scriptName string) (string, error)
	DeleteRoute(ctx context.Context, routeID string) error
}

// Config configures the pipeline.
type Config struct {
	// FetchRetries is the number of fetch attempts per call. Default: 3.
	FetchRetries int
	// FetchBackoff is the fixed wait between attempts. Default: 2s.
	FetchBackoff time.Duration
	// MaxConcurrent bounds parallel pages in batch operations. Default: 5.
	MaxConcurrent int
	// KVTTL is the expiration applied to published values, in seconds.
	// 0 means no expiration.
	KVTTL int
	// APIEndpoint is the public base URL of this service, baked into
	// deployed worker scripts for visit reporting.
	APIEndpoint string
	// MasterKey is the API key baked into deployed worker scripts.
	MasterKey string
	// EdgeBaseURL overrides the edge platform API base (tests).
	EdgeBaseURL string
}

func (c *Config) defaults() {
	if c.FetchRetries <= 0 {
		c.FetchRetries = 3
	}
	if c.FetchBackoff <= 0 {
		c.FetchBackoff = 2 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
}

// Pipeline orchestrates the content stages for all tenants.
type Pipeline struct {
	clients  *registry.Registry
	pages    *catalog.Store
	fetcher  Fetcher
	rewriter Rewriter
	config   Config
	logger   *slog.Logger

	// Factories so tests can substitute the edge platform.
	newKV     func(cfg edgekv.Config) (EdgeKV, error)
	newWorker func(cfg edgeworker.Config) (WorkerAPI, error)
}

// New creates a Pipeline.
func New(clients *registry.Registry, pages *catalog.Store, fetcher Fetcher, rewriter Rewriter, cfg Config, logger *slog.Logger) *Pipeline {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		clients:  clients,
		pages:    pages,
		fetcher:  fetcher,
		rewriter: rewriter,
		config:   cfg,
		logger:   logger,
		newKV: func(c edgekv.Config) (EdgeKV, error) {
			return edgekv.New(c)
		},
		newWorker: func(c edgeworker.Config) (WorkerAPI, error) {
			return edgeworker.New(c)
		},
	}
}

// Outcome reports what one stage call did to one page.
type Outcome struct {
	PageID      string `json:"page_id"`
	URL         string `json:"url"`
	Skipped     bool   `json:"skipped,omitempty"`
	Reason      string `json:"reason,omitempty"`
	FetchSource string `json:"fetch_source,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Fetch retrieves a page's content. A page that already has content is
// skipped without an external call unless force is set. Transient
// failures are retried up to FetchRetries times with a fixed backoff.
// When a forced fetch returns content identical to what is stored, the
// page is touched but not rewritten, so downstream stages keep their
// outputs.
func (p *Pipeline) Fetch(ctx context.Context, pageID string, force bool) (*Outcome, error) {
	page, _, err := p.activePage(ctx, pageID)
	if err != nil {
		return nil, err
	}

	if page.Fetched() && !force {
		return &Outcome{PageID: page.ID, URL: page.URL, Skipped: true, Reason: "already fetched"}, nil
	}

	markdown, source, err := p.fetchWithRetry(ctx, page.URL)
	if err != nil {
		if serr := p.pages.ApplyFetchFailure(ctx, page.ID, err.Error()); serr != nil {
			p.logger.Error("record fetch failure", "page_id", page.ID, "error", serr)
		}
		return nil, fmt.Errorf("pipeline: fetch %s: %w", page.URL, err)
	}

	hash := cachekey.ContentFingerprint(markdown)
	if page.Fetched() && page.ContentHash == hash {
		if err := p.pages.TouchFetch(ctx, page.ID); err != nil {
			return nil, err
		}
		return &Outcome{PageID: page.ID, URL: page.URL, Skipped: true, Reason: "content unchanged", FetchSource: source}, nil
	}

	if err := p.pages.ApplyFetchSuccess(ctx, page.ID, markdown, hash, source); err != nil {
		return nil, err
	}
	p.logger.Info("page fetched",
		"page_id", page.ID, "url", page.URL, "source", source, "bytes", len(markdown))
	return &Outcome{PageID: page.ID, URL: page.URL, FetchSource: source}, nil
}

func (p *Pipeline) fetchWithRetry(ctx context.Context, pageURL string) (markdown, source string, err error) {
	var lastErr error
	for attempt := 1; attempt <= p.config.FetchRetries; attempt++ {
		markdown, source, err := p.fetcher.FetchMarkdown(ctx, pageURL)
		if err == nil {
			return markdown, source, nil
		}
		lastErr = err
		if attempt < p.config.FetchRetries {
			p.logger.Warn("fetch attempt failed",
				"url", pageURL, "attempt", attempt, "error", err)
			select {
			case <-time.After(p.config.FetchBackoff):
			case <-ctx.Done():
				return "", "", ctx.Err()
			}
		}
	}
	return "", "", fmt.Errorf("after %d attempts: %w", p.config.FetchRetries, lastErr)
}

// BatchResult summarizes a batch stage run.
type BatchResult struct {
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Outcomes  []Outcome `json:"outcomes"`
}

// FetchBatch fetches a client's unfetched pages, at most MaxConcurrent
// in flight. A failing page is recorded and does not stop the batch.
func (p *Pipeline) FetchBatch(ctx context.Context, clientID string, limit int) (*BatchResult, error) {
	if _, err := p.activeClient(ctx, clientID); err != nil {
		return nil, err
	}
	candidates, err := p.pages.FetchCandidates(ctx, clientID, limit)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, len(candidates))
	sem := make(chan struct{}, p.config.MaxConcurrent)
	var wg sync.WaitGroup

	for i, page := range candidates {
		wg.Add(1)
		go func(i int, page *catalog.Page) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			out, err := p.Fetch(ctx, page.ID, false)
			if err != nil {
				outcomes[i] = Outcome{PageID: page.ID, URL: page.URL, Error: err.Error()}
				return
			}
			outcomes[i] = *out
		}(i, page)
	}
	wg.Wait()

	return summarize(outcomes), nil
}

// Rewrite runs the two-step LLM rewrite on a fetched page. Both outputs
// are stored together.
func (p *Pipeline) Rewrite(ctx context.Context, pageID string) (*Outcome, error) {
	page, client, err := p.activePage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if !page.Fetched() {
		return nil, fmt.Errorf("%w: %s", ErrNotFetched, page.URL)
	}

	apiKey, err := p.clients.LLMKey(client)
	if err != nil {
		return nil, err
	}

	cleaned, html, err := p.rewriter.Rewrite(ctx, apiKey, page.RawContent, page.URL, llmrewrite.PageMeta{})
	if err != nil {
		return nil, fmt.Errorf("pipeline: rewrite %s: %w", page.URL, err)
	}

	if err := p.pages.ApplyRewrite(ctx, page.ID, cleaned, html); err != nil {
		return nil, err
	}
	p.logger.Info("page rewritten", "page_id", page.ID, "url", page.URL, "html_bytes", len(html))
	return &Outcome{PageID: page.ID, URL: page.URL}, nil
}

// RewriteBatch rewrites a client's fetched-but-unrewritten pages. Model
// calls are sequential; the rate limits sit upstream, not here.
func (p *Pipeline) RewriteBatch(ctx context.Context, clientID string, limit int) (*BatchResult, error) {
	if _, err := p.activeClient(ctx, clientID); err != nil {
		return nil, err
	}
	candidates, err := p.pages.RewriteCandidates(ctx, clientID, limit)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(candidates))
	for _, page := range candidates {
		if ctx.Err() != nil {
			break
		}
		out, err := p.Rewrite(ctx, page.ID)
		if err != nil {
			outcomes = append(outcomes, Outcome{PageID: page.ID, URL: page.URL, Error: err.Error()})
			continue
		}
		outcomes = append(outcomes, *out)
	}
	return summarize(outcomes), nil
}

func (p *Pipeline) activeClient(ctx context.Context, clientID string) (*registry.Client, error) {
	client, err := p.clients.Store().Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, ErrClientNotFound
	}
	if !client.Active {
		return nil, ErrClientInactive
	}
	return client, nil
}

func (p *Pipeline) activePage(ctx context.Context, pageID string) (*catalog.Page, *registry.Client, error) {
	page, err := p.pages.Get(ctx, pageID)
	if err != nil {
		return nil, nil, err
	}
	if page == nil {
		return nil, nil, ErrPageNotFound
	}
	client, err := p.activeClient(ctx, page.ClientID)
	if err != nil {
		return nil, nil, err
	}
	return page, client, nil
}

func summarize(outcomes []Outcome) *BatchResult {
	res := &BatchResult{Total: len(outcomes), Outcomes: outcomes}
	for _, o := range outcomes {
		switch {
		case o.Error != "":
			res.Failed++
		case o.Skipped:
			res.Skipped++
		default:
			res.Succeeded++
		}
	}
	return res
}
