// Package llmstxt renders llms.txt documents (https://llmstxt.org/) from
// a client's generated pages: an H1 site name, a blockquote description,
// and a Pages section linking every page with extracted metadata.
package llmstxt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/edgegeo/aicache/catalog"
	"github.com/edgegeo/aicache/registry"
)

var ErrClientNotFound = errors.New("llmstxt: client not found")

const maxDescriptionLen = 300

// Document is one rendered llms.txt plus its provenance.
type Document struct {
	Content     string `json:"llms_txt"`
	PageCount   int    `json:"page_count"`
	GeneratedAt int64  `json:"generated_at"`
}

// PageMeta is the title and description pulled out of a page's HTML.
type PageMeta struct {
	URL         string
	Title       string
	Description string
}

// Generator renders llms.txt per client with a TTL cache so bot traffic
// hitting the endpoint does not re-parse every page on every request.
type Generator struct {
	clients *registry.Store
	pages   *catalog.Store
	ttl     time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	doc Document
	at  time.Time
}

func New(clients *registry.Store, pages *catalog.Store, ttl time.Duration, logger *slog.Logger) *Generator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		clients: clients,
		pages:   pages,
		ttl:     ttl,
		logger:  logger,
		cache:   make(map[string]cached),
	}
}

// Generate returns the llms.txt document for a client, serving from
// cache while fresh.
func (g *Generator) Generate(ctx context.Context, clientID string) (*Document, error) {
	g.mu.Lock()
	if c, ok := g.cache[clientID]; ok && time.Since(c.at) < g.ttl {
		g.mu.Unlock()
		doc := c.doc
		return &doc, nil
	}
	g.mu.Unlock()

	client, err := g.clients.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, ErrClientNotFound
	}

	pages, err := g.pages.PublishCandidates(ctx, clientID, 0)
	if err != nil {
		return nil, fmt.Errorf("llmstxt: list pages: %w", err)
	}
	sortPages(pages)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", client.Name)
	fmt.Fprintf(&b, "> %s\n\n", siteDescription(client.Domain, len(pages)))
	b.WriteString("## Pages\n\n")

	for _, p := range pages {
		meta := ExtractMeta(p.URL, p.GeneratedHTML)
		fmt.Fprintf(&b, "- %s: %s\n", meta.Title, meta.URL)
		if meta.Description != "" {
			b.WriteString("  " + meta.Description + "\n")
		}
		b.WriteString("\n")
	}

	doc := Document{
		Content:     strings.TrimRight(b.String(), "\n") + "\n",
		PageCount:   len(pages),
		GeneratedAt: time.Now().UnixMilli(),
	}

	g.mu.Lock()
	g.cache[clientID] = cached{doc: doc, at: time.Now()}
	g.mu.Unlock()

	g.logger.Debug("llms.txt generated", "client_id", clientID, "pages", len(pages))
	return &doc, nil
}

// Invalidate drops a client's cached document, forcing the next request
// to regenerate. Called after a publish changes page content.
func (g *Generator) Invalidate(clientID string) {
	g.mu.Lock()
	delete(g.cache, clientID)
	g.mu.Unlock()
}

func siteDescription(domain string, pageCount int) string {
	plural := "s"
	if pageCount == 1 {
		plural = ""
	}
	return fmt.Sprintf("AI-optimized content from %s with %d page%s", domain, pageCount, plural)
}

// sortPages puts the homepage first, then the rest alphabetically by URL.
func sortPages(pages []*catalog.Page) {
	isHome := func(raw string) bool {
		u, err := url.Parse(raw)
		if err != nil {
			return false
		}
		return strings.Trim(u.Path, "/") == ""
	}
	sort.SliceStable(pages, func(i, j int) bool {
		hi, hj := isHome(pages[i].URL), isHome(pages[j].URL)
		if hi != hj {
			return hi
		}
		return pages[i].URL < pages[j].URL
	})
}

// ExtractMeta parses a page's HTML for its title and description. The
// description is taken from meta tags in priority order (description,
// og:description, twitter:description). A missing title falls back to a
// readable form of the URL path.
func ExtractMeta(pageURL, htmlContent string) PageMeta {
	meta := PageMeta{URL: pageURL}
	if htmlContent != "" {
		if doc, err := html.Parse(strings.NewReader(htmlContent)); err == nil {
			meta.Title = findTitle(doc)
			meta.Description = findDescription(doc)
		}
	}
	if meta.Title == "" {
		meta.Title = urlToTitle(pageURL)
	}
	if len(meta.Description) > maxDescriptionLen {
		meta.Description = meta.Description[:maxDescriptionLen-3] + "..."
	}
	return meta
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// descriptionPriority orders the meta tags a description can come from.
var descriptionPriority = []string{"description", "og:description", "twitter:description"}

func findDescription(doc *html.Node) string {
	found := map[string]string{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Meta {
			var key, content string
			for _, a := range n.Attr {
				switch a.Key {
				case "name", "property":
					key = strings.ToLower(a.Val)
				case "content":
					content = a.Val
				}
			}
			if key != "" && content != "" {
				if _, ok := found[key]; !ok {
					found[key] = content
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, key := range descriptionPriority {
		if v, ok := found[key]; ok {
			return v
		}
	}
	return ""
}

// urlToTitle turns "/products/blue-shirt" into "Products - Blue Shirt".
func urlToTitle(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "Untitled"
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return "Homepage"
	}

	parts := strings.Split(path, "/")
	titled := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.NewReplacer("-", " ", "_", " ").Replace(part)
		words := strings.Fields(part)
		for i, w := range words {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
		titled = append(titled, strings.Join(words, " "))
	}
	return strings.Join(titled, " - ")
}
