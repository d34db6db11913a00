// Package llmrewrite turns scraped markdown into publishable HTML through
// a generative language model.
//
// The rewrite is a two-step conversation: first the raw markdown is
// stripped down to its substance, then the cleaned markdown is expanded
// into a full semantic HTML document with structured data. The two
// outputs belong together; callers persist both or neither.
package llmrewrite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/edgegeo/aicache/netguard"
)

// ErrEmptyResponse is returned when the model replies with no text.
var ErrEmptyResponse = errors.New("llmrewrite: model returned empty response")

// ErrEmptyInput is returned when there is no markdown to rewrite.
var ErrEmptyInput = errors.New("llmrewrite: markdown input is empty")

// Config configures the rewriter.
type Config struct {
	// BaseURL of the generative language API.
	// Default: https://generativelanguage.googleapis.com.
	BaseURL string
	// Model identifier. Default: gemini-2.0-flash-exp.
	Model string
	// Timeout per model call. Default: 60s.
	Timeout time.Duration
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if c.Model == "" {
		c.Model = "gemini-2.0-flash-exp"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
}

// Rewriter calls the generateContent endpoint. The API key is supplied
// per call so one Rewriter serves every tenant.
type Rewriter struct {
	config Config
	http   *http.Client
}

// New creates a Rewriter.
func New(cfg Config) *Rewriter {
	cfg.defaults()
	return &Rewriter{config: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// PageMeta is optional context woven into the HTML generation prompt.
type PageMeta struct {
	Title       string
	Description string
}

// CleanMarkdown strips navigation, boilerplate and noise from raw scraped
// markdown, keeping the substantive content.
func (r *Rewriter) CleanMarkdown(ctx context.Context, apiKey, rawMarkdown string) (string, error) {
	if strings.TrimSpace(rawMarkdown) == "" {
		return "", ErrEmptyInput
	}
	out, err := r.generate(ctx, apiKey, cleaningPrompt(rawMarkdown))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// GenerateHTML produces a complete semantic HTML document from cleaned
// markdown. Code fences the model wraps around its answer are stripped.
func (r *Rewriter) GenerateHTML(ctx context.Context, apiKey, markdown, pageURL string, meta PageMeta) (string, error) {
	if strings.TrimSpace(markdown) == "" {
		return "", ErrEmptyInput
	}
	out, err := r.generate(ctx, apiKey, htmlPrompt(markdown, pageURL, meta))
	if err != nil {
		return "", err
	}
	return StripCodeFence(out), nil
}

// Rewrite runs both steps and returns cleaned markdown plus generated HTML.
func (r *Rewriter) Rewrite(ctx context.Context, apiKey, rawMarkdown, pageURL string, meta PageMeta) (cleaned, html string, err error) {
	cleaned, err = r.CleanMarkdown(ctx, apiKey, rawMarkdown)
	if err != nil {
		return "", "", fmt.Errorf("llmrewrite: clean markdown: %w", err)
	}
	html, err = r.GenerateHTML(ctx, apiKey, cleaned, pageURL, meta)
	if err != nil {
		return "", "", fmt.Errorf("llmrewrite: generate html: %w", err)
	}
	return cleaned, html, nil
}

// StripCodeFence removes a wrapping markdown code block from model output.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```html") {
		s = s[len("```html"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r *Rewriter) generate(ctx context.Context, apiKey, prompt string) (string, error) {
	if apiKey == "" {
		return "", errors.New("llmrewrite: api key is required")
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("llmrewrite: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", r.config.BaseURL, r.config.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llmrewrite: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llmrewrite: call model: %w", err)
	}
	defer resp.Body.Close()

	raw, err := netguard.LimitedReadAll(resp.Body, netguard.MaxResponseBody)
	if err != nil {
		return "", fmt.Errorf("llmrewrite: read response: %w", err)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("llmrewrite: decode response (status %d): %w", resp.StatusCode, err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("llmrewrite: api error %d: %s", out.Error.Code, out.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llmrewrite: status %d", resp.StatusCode)
	}

	var sb strings.Builder
	for _, cand := range out.Candidates {
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func cleaningPrompt(rawMarkdown string) string {
	return `Clean and optimize the following markdown content for LLM consumption.

Requirements:
1. Remove navigation menus, footers, and boilerplate text
2. Keep only the main content (product info, descriptions, features)
3. Preserve important structure (headings, lists, pricing)
4. Remove redundant whitespace and formatting
5. Keep prices, specifications, and key details
6. Maintain a clear, concise structure

Return ONLY the cleaned markdown without any explanation or wrapper.

Raw Markdown:
---
` + rawMarkdown + `
---`
}

func htmlPrompt(markdown, pageURL string, meta PageMeta) string {
	title := meta.Title
	if title == "" {
		title = "Page"
	}
	return fmt.Sprintf(`Generate SEO-optimized, semantic HTML from the following markdown content.

URL: %s
Title: %s
Description: %s

Requirements:
1. Create valid HTML5 with proper semantic tags
2. Include comprehensive meta tags (description, viewport, robots)
3. Add Schema.org structured data (use itemscope, itemtype, itemprop)
4. Use semantic HTML: <article>, <section>, <header>, <h1-h6>
5. Make it optimized for AI search engines (GEO - Generative Engine Optimization)
6. Include pricing schema if product information is present
7. Add proper microdata for better search visibility
8. Keep it clean and readable

Return ONLY the complete HTML document without markdown code blocks or explanations.

Markdown Content:
---
%s
---`, pageURL, title, meta.Description, markdown)
}
