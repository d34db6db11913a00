package pipeline

import (
	"context"
	"fmt"

	"github.com/edgegeo/aicache/cachekey"
	"github.com/edgegeo/aicache/catalog"
	"github.com/edgegeo/aicache/edgekv"
	"github.com/edgegeo/aicache/registry"
)

func (p *Pipeline) kvFor(client *registry.Client) (EdgeKV, error) {
	token, err := p.clients.EdgeToken(client)
	if err != nil {
		return nil, err
	}
	return p.newKV(edgekv.Config{
		BaseURL:     p.config.EdgeBaseURL,
		AccountID:   client.EdgeAccountID,
		NamespaceID: client.EdgeKVNamespaceID,
		APIToken:    token,
	})
}

// Publish writes a rewritten page into the client's edge KV namespace.
// A page that is already live is skipped unless force is set; a forced
// re-publish overwrites the KV value and bumps the version. The version
// is bumped only after the KV write succeeds.
func (p *Pipeline) Publish(ctx context.Context, pageID string, strategy cachekey.Strategy, force bool) (*Outcome, error) {
	page, client, err := p.activePage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if !page.Rewritten() {
		return nil, fmt.Errorf("%w: %s", ErrNotRewritten, page.URL)
	}
	if page.Published() && !force {
		return &Outcome{PageID: page.ID, URL: page.URL, Skipped: true, Reason: "already published"}, nil
	}

	kv, err := p.kvFor(client)
	if err != nil {
		return nil, err
	}

	key, err := cachekey.EdgeKey(page.URL, strategy)
	if err != nil {
		return nil, fmt.Errorf("pipeline: key for %s: %w", page.URL, err)
	}

	if err := kv.Put(ctx, key, SanitizeHTML(page.GeneratedHTML), p.config.KVTTL); err != nil {
		return nil, fmt.Errorf("pipeline: publish %s: %w", page.URL, err)
	}

	if err := p.pages.ApplyPublish(ctx, page.ID, key); err != nil {
		return nil, err
	}
	p.logger.Info("page published", "page_id", page.ID, "kv_key", key)
	return &Outcome{PageID: page.ID, URL: page.URL}, nil
}

// PublishBatch publishes a client's rewritten pages with one bulk KV
// write. Keys the platform rejects are reported per page; only pages
// whose keys landed get their version bumped.
func (p *Pipeline) PublishBatch(ctx context.Context, clientID string, strategy cachekey.Strategy, limit int) (*BatchResult, error) {
	client, err := p.activeClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	candidates, err := p.pages.PublishCandidates(ctx, clientID, limit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &BatchResult{}, nil
	}
	if len(candidates) > edgekv.MaxBulkPairs {
		candidates = candidates[:edgekv.MaxBulkPairs]
	}

	kv, err := p.kvFor(client)
	if err != nil {
		return nil, err
	}

	pairs := make([]edgekv.Pair, 0, len(candidates))
	keyed := make(map[string]*catalog.Page, len(candidates))
	var outcomes []Outcome
	for _, page := range candidates {
		key, err := cachekey.EdgeKey(page.URL, strategy)
		if err != nil {
			outcomes = append(outcomes, Outcome{PageID: page.ID, URL: page.URL, Error: err.Error()})
			continue
		}
		pairs = append(pairs, edgekv.Pair{Key: key, Value: SanitizeHTML(page.GeneratedHTML)})
		keyed[key] = page
	}

	res, err := kv.PutBulk(ctx, pairs, p.config.KVTTL)
	if err != nil {
		return nil, fmt.Errorf("pipeline: bulk publish: %w", err)
	}

	rejected := make(map[string]bool, len(res.UnsuccessfulKeys))
	for _, k := range res.UnsuccessfulKeys {
		rejected[k] = true
	}

	for _, pair := range pairs {
		page := keyed[pair.Key]
		if rejected[pair.Key] {
			outcomes = append(outcomes, Outcome{PageID: page.ID, URL: page.URL, Error: "kv rejected key"})
			continue
		}
		if err := p.pages.ApplyPublish(ctx, page.ID, pair.Key); err != nil {
			outcomes = append(outcomes, Outcome{PageID: page.ID, URL: page.URL, Error: err.Error()})
			continue
		}
		outcomes = append(outcomes, Outcome{PageID: page.ID, URL: page.URL})
	}

	p.logger.Info("batch published",
		"client_id", clientID, "pairs", len(pairs), "rejected", len(res.UnsuccessfulKeys))
	return summarize(outcomes), nil
}

// Unpublish removes a page from the edge KV and clears its publication
// record. The version is untouched.
func (p *Pipeline) Unpublish(ctx context.Context, pageID string) (*Outcome, error) {
	page, client, err := p.activePage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if !page.Published() {
		return &Outcome{PageID: page.ID, URL: page.URL, Skipped: true, Reason: "not published"}, nil
	}

	kv, err := p.kvFor(client)
	if err != nil {
		return nil, err
	}
	if err := kv.Delete(ctx, page.KVKey); err != nil {
		return nil, fmt.Errorf("pipeline: unpublish %s: %w", page.URL, err)
	}
	if err := p.pages.ClearPublish(ctx, page.ID); err != nil {
		return nil, err
	}
	p.logger.Info("page unpublished", "page_id", page.ID, "kv_key", page.KVKey)
	return &Outcome{PageID: page.ID, URL: page.URL}, nil
}
