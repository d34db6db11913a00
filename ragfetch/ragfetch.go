// Package ragfetch retrieves page content as markdown through a hosted
// scraping actor. It is the default fetch backend; browserfetch is the
// local alternative.
package ragfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/edgegeo/aicache/netguard"
)

// ErrEmptyResult is returned when the actor run succeeds but yields no
// usable markdown for the URL.
var ErrEmptyResult = errors.New("ragfetch: actor returned no content")

// Config configures the client.
type Config struct {
	// Token authenticates against the actor platform. Required.
	Token string
	// BaseURL of the platform API. Default: https://api.apify.com.
	BaseURL string
	// Actor is the actor identifier. Default: apify~rag-web-browser.
	Actor string
	// Timeout covers the whole synchronous run. Default: 120s.
	Timeout time.Duration
	// URLValidator validates target URLs before they are sent to the
	// actor. Default: netguard.ValidateURL.
	URLValidator func(string) error
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.apify.com"
	}
	if c.Actor == "" {
		c.Actor = "apify~rag-web-browser"
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.URLValidator == nil {
		c.URLValidator = netguard.ValidateURL
	}
}

// Client calls the actor's synchronous run endpoint.
type Client struct {
	config Config
	http   *http.Client
}

// New creates a Client. Returns an error when the token is missing so a
// misconfigured deployment fails at startup, not on the first fetch.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	if cfg.Token == "" {
		return nil, errors.New("ragfetch: token is required")
	}
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type runInput struct {
	Query         string   `json:"query"`
	MaxResults    int      `json:"maxResults"`
	OutputFormats []string `json:"outputFormats"`
}

type runItem struct {
	Markdown string `json:"markdown"`
}

// FetchMarkdown runs the actor against pageURL and returns the page body
// as markdown plus the run identifier that produced it. The platform
// reports the run in a response header; when absent, the actor name is
// the source. A successful run with an empty body is ErrEmptyResult.
func (c *Client) FetchMarkdown(ctx context.Context, pageURL string) (string, string, error) {
	if err := c.config.URLValidator(pageURL); err != nil {
		return "", "", fmt.Errorf("ragfetch: url blocked: %w", err)
	}

	input := runInput{Query: pageURL, MaxResults: 1, OutputFormats: []string{"markdown"}}
	body, err := json.Marshal(input)
	if err != nil {
		return "", "", fmt.Errorf("ragfetch: encode input: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/acts/%s/run-sync-get-dataset-items?token=%s",
		c.config.BaseURL, c.config.Actor, url.QueryEscape(c.config.Token))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("ragfetch: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("ragfetch: run actor: %w", err)
	}
	defer resp.Body.Close()

	raw, err := netguard.LimitedReadAll(resp.Body, netguard.MaxResponseBody)
	if err != nil {
		return "", "", fmt.Errorf("ragfetch: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("ragfetch: actor run failed: status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	source := c.config.Actor
	if runID := resp.Header.Get("X-Apify-Run-Id"); runID != "" {
		source = runID
	}

	var items []runItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return "", "", fmt.Errorf("ragfetch: decode items: %w", err)
	}
	for _, it := range items {
		if md := strings.TrimSpace(it.Markdown); md != "" {
			return md, source, nil
		}
	}
	return "", "", ErrEmptyResult
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
