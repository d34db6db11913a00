// Package sitemap imports a site's URL inventory into the page catalog.
//
// Handles plain urlset files, nested sitemap index files, and gzipped
// variants. Index recursion is capped so a malicious or broken sitemap
// cannot pull the importer into a loop.
package sitemap

import (
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/edgegeo/aicache/catalog"
	"github.com/edgegeo/aicache/netguard"
)

// Config configures the importer.
type Config struct {
	Timeout   time.Duration // HTTP timeout. Default: 30s.
	MaxBytes  int64         // Max sitemap document size. Default: 10MB.
	UserAgent string
	MaxDepth  int // Max sitemap-index nesting. Default: 3.
	MaxURLs   int // Cap on total URLs per import. Default: 10000.
	// URLValidator validates sitemap URLs before fetch (SSRF prevention).
	// Default: netguard.ValidateURL.
	URLValidator func(string) error
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = netguard.MaxResponseBody
	}
	if c.UserAgent == "" {
		c.UserAgent = "aicache-sitemap/1.0"
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 3
	}
	if c.MaxURLs <= 0 {
		c.MaxURLs = 10000
	}
	if c.URLValidator == nil {
		c.URLValidator = netguard.ValidateURL
	}
}

// Importer fetches sitemaps and records their URLs in the catalog.
type Importer struct {
	pages  *catalog.Store
	client *http.Client
	config Config
	logger *slog.Logger
}

// New creates an Importer.
func New(pages *catalog.Store, cfg Config, logger *slog.Logger) *Importer {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	validate := cfg.URLValidator
	return &Importer{
		pages: pages,
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		config: cfg,
		logger: logger,
	}
}

// Result summarizes one import run.
type Result struct {
	SitemapURL string `json:"sitemap_url"`
	TotalFound int    `json:"total_found"`
	Imported   int    `json:"imported"`
	Duplicates int    `json:"duplicates"`
	Truncated  bool   `json:"truncated,omitempty"`
}

// Import fetches the sitemap at sitemapURL and inserts every page URL it
// lists into the client's catalog. URLs the client already has are counted
// as duplicates and left untouched.
func (im *Importer) Import(ctx context.Context, clientID, sitemapURL string) (*Result, error) {
	urls, found, truncated, err := im.Collect(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	res := &Result{SitemapURL: sitemapURL, TotalFound: found, Truncated: truncated}
	for _, u := range urls {
		_, created, err := im.pages.Insert(ctx, clientID, u)
		if err != nil {
			return nil, fmt.Errorf("sitemap: import %s: %w", u, err)
		}
		if created {
			res.Imported++
		} else {
			res.Duplicates++
		}
	}
	im.logger.Info("sitemap imported",
		"client_id", clientID, "sitemap", sitemapURL,
		"found", res.TotalFound, "imported", res.Imported, "duplicates", res.Duplicates)
	return res, nil
}

// crawl accumulates state across one sitemap tree walk. found counts
// every distinct URL seen, including those past the cap; urls holds at
// most MaxURLs of them.
type crawl struct {
	seen      map[string]struct{}
	urls      []string
	found     int
	truncated bool
}

// Collect fetches and parses a sitemap (recursing through index files)
// and returns the page URLs it lists, deduplicated in document order.
// found counts distinct URLs encountered; when it exceeds the configured
// cap only the first MaxURLs are returned and truncated is set.
func (im *Importer) Collect(ctx context.Context, sitemapURL string) (urls []string, found int, truncated bool, err error) {
	c := &crawl{seen: make(map[string]struct{})}
	if err := im.collect(ctx, sitemapURL, 0, c); err != nil {
		return nil, 0, false, err
	}
	return c.urls, c.found, c.truncated, nil
}

// urlset / sitemapindex share one shape; which child elements are present
// tells them apart. Namespaces vary across generators, so fields match on
// local names only.
type document struct {
	XMLName  xml.Name
	URLs     []entry `xml:"url"`
	Sitemaps []entry `xml:"sitemap"`
}

type entry struct {
	Loc string `xml:"loc"`
}

func (im *Importer) collect(ctx context.Context, sitemapURL string, depth int, c *crawl) error {
	if depth > im.config.MaxDepth {
		return fmt.Errorf("sitemap: index nesting exceeds %d at %s", im.config.MaxDepth, sitemapURL)
	}

	body, err := im.fetch(ctx, sitemapURL)
	if err != nil {
		return err
	}

	var doc document
	if err := xml.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("sitemap: parse %s: %w", sitemapURL, err)
	}

	for _, sm := range doc.Sitemaps {
		loc := strings.TrimSpace(sm.Loc)
		if loc == "" {
			continue
		}
		if len(c.urls) >= im.config.MaxURLs {
			// Unvisited children are assumed to hold more URLs.
			c.truncated = true
			return nil
		}
		if err := im.collect(ctx, loc, depth+1, c); err != nil {
			// One broken child sitemap should not sink the whole import;
			// URLs already accumulated from earlier children are kept.
			im.logger.Warn("child sitemap skipped", "sitemap", loc, "error", err)
		}
	}

	for _, u := range doc.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" {
			continue
		}
		if _, dup := c.seen[loc]; dup {
			continue
		}
		c.seen[loc] = struct{}{}
		c.found++
		if len(c.urls) >= im.config.MaxURLs {
			c.truncated = true
			continue
		}
		c.urls = append(c.urls, loc)
	}
	return nil
}

func (im *Importer) fetch(ctx context.Context, url string) ([]byte, error) {
	if err := im.config.URLValidator(url); err != nil {
		return nil, fmt.Errorf("sitemap: url blocked: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("sitemap: new request: %w", err)
	}
	req.Header.Set("User-Agent", im.config.UserAgent)
	req.Header.Set("Accept", "application/xml, text/xml, application/gzip")

	resp, err := im.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sitemap: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap: fetch %s: status %d", url, resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if isGzip(resp, url) {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("sitemap: gunzip %s: %w", url, err)
		}
		defer gz.Close()
		reader = gz
	}

	body, err := netguard.LimitedReadAll(reader, im.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("sitemap: read %s: %w", url, err)
	}
	return body, nil
}

func isGzip(resp *http.Response, url string) bool {
	ct := resp.Header.Get("Content-Type")
	return strings.Contains(ct, "gzip") || strings.HasSuffix(url, ".gz")
}
