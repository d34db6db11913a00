// Package browserfetch retrieves page content through a local headless
// Chrome, as an alternative to the hosted actor backend. Pages are
// rendered with stealth applied, serialized to HTML, and converted to
// markdown.
package browserfetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/edgegeo/aicache/netguard"
)

// ErrEmptyPage is returned when the rendered document has no content.
var ErrEmptyPage = errors.New("browserfetch: rendered page is empty")

// Config configures the fetcher.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string
	// NavTimeout bounds navigation plus load per page. Default: 30s.
	NavTimeout time.Duration
	// URLValidator validates URLs before navigation (SSRF prevention).
	// Default: netguard.ValidateURL.
	URLValidator func(string) error

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.URLValidator == nil {
		c.URLValidator = netguard.ValidateURL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Fetcher renders pages in headless Chrome and converts them to markdown.
// The browser is launched lazily on first use and shared across calls.
type Fetcher struct {
	config Config
	md     *converter.Converter

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// New creates a Fetcher. Chrome is not started until the first fetch.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{
		config: cfg,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Source identifies this backend in fetch records.
const Source = "browser"

// FetchMarkdown renders pageURL and returns its content as markdown.
func (f *Fetcher) FetchMarkdown(ctx context.Context, pageURL string) (string, string, error) {
	if err := f.config.URLValidator(pageURL); err != nil {
		return "", "", fmt.Errorf("browserfetch: url blocked: %w", err)
	}

	html, err := f.renderHTML(ctx, pageURL)
	if err != nil {
		return "", "", err
	}

	md, err := f.md.ConvertString(html)
	if err != nil {
		return "", "", fmt.Errorf("browserfetch: convert %s: %w", pageURL, err)
	}
	md = strings.TrimSpace(md)
	if md == "" {
		return "", "", ErrEmptyPage
	}
	return md, Source, nil
}

func (f *Fetcher) renderHTML(ctx context.Context, pageURL string) (string, error) {
	b, err := f.activeBrowser()
	if err != nil {
		return "", err
	}

	page, err := stealth.Page(b)
	if err != nil {
		return "", fmt.Errorf("browserfetch: create tab: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, f.config.NavTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		return "", fmt.Errorf("browserfetch: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		f.config.Logger.Warn("wait load timeout", "url", pageURL, "error", err)
	}

	res, err := page.Context(navCtx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browserfetch: serialize %s: %w", pageURL, err)
	}
	return res.Value.Str(), nil
}

func (f *Fetcher) activeBrowser() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		return f.browser, nil
	}

	var wsURL string
	if f.config.RemoteURL != "" {
		wsURL = f.config.RemoteURL
	} else {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browserfetch: launch chrome: %w", err)
		}
		f.lnch = l
		wsURL = u
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if f.lnch != nil {
			f.lnch.Cleanup()
			f.lnch = nil
		}
		return nil, fmt.Errorf("browserfetch: connect chrome: %w", err)
	}
	f.browser = b
	f.config.Logger.Info("browser started", "remote", f.config.RemoteURL != "")
	return b, nil
}

// Close shuts down the browser. Safe to call without a prior fetch.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.browser = nil
	if f.lnch != nil {
		f.lnch.Cleanup()
		f.lnch = nil
	}
	return err
}
