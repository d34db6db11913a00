// Package edgeworker deploys the bot-detection worker script to the edge
// platform and manages the routes that put it in front of a client's
// domain.
package edgeworker

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/edgegeo/aicache/netguard"
)

//go:embed worker.js
var workerTemplate string

// KVBindingName is the variable the script expects its namespace under.
const KVBindingName = "GEO_PAGES"

// workerNamePrefix plus the first 8 hex chars of the client ID gives the
// script name. Stable per client so redeploys overwrite in place.
const workerNamePrefix = "geo-bot-detector-"

// WorkerName derives the script name for a client.
func WorkerName(clientID string) string {
	short := strings.ReplaceAll(clientID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return workerNamePrefix + short
}

// TemplateVars are substituted into the embedded worker script.
type TemplateVars struct {
	KVNamespaceID string
	APIEndpoint   string
	APIKey        string
	ZoneName      string
	ClientID      string
}

// RenderScript fills the worker template with deployment-specific values.
func RenderScript(vars TemplateVars) string {
	r := strings.NewReplacer(
		"{{KV_NAMESPACE_ID}}", vars.KVNamespaceID,
		"{{API_ENDPOINT}}", vars.APIEndpoint,
		"{{API_KEY}}", vars.APIKey,
		"{{ZONE_NAME}}", vars.ZoneName,
		"{{CLIENT_ID}}", vars.ClientID,
	)
	return r.Replace(workerTemplate)
}

// Config configures an account-scoped client. ZoneID is only needed for
// route management.
type Config struct {
	// BaseURL of the platform API. Default: https://api.cloudflare.com/client/v4.
	BaseURL   string
	AccountID string
	ZoneID    string
	APIToken  string
	// Timeout per request. Default: 60s.
	Timeout time.Duration
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.cloudflare.com/client/v4"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
}

// ErrNoZone is returned by route operations when the client was built
// without a zone ID.
var ErrNoZone = errors.New("edgeworker: zone id not configured")

// Client manages worker scripts and routes for one account.
type Client struct {
	config Config
	http   *http.Client
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	if cfg.AccountID == "" || cfg.APIToken == "" {
		return nil, errors.New("edgeworker: account id and api token are required")
	}
	return &Client{config: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Deploy uploads a worker script as an ES module with the KV namespace
// bound as GEO_PAGES. Re-deploying under the same name overwrites.
func (c *Client) Deploy(ctx context.Context, scriptName, script, kvNamespaceID string) error {
	metadata := map[string]any{
		"main_module": "worker.js",
		"bindings": []map[string]any{
			{
				"type":         "kv_namespace",
				"name":         KVBindingName,
				"namespace_id": kvNamespaceID,
			},
		},
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("edgeworker: encode metadata: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Disposition", `form-data; name="metadata"`)
	metaHeader.Set("Content-Type", "application/json")
	metaPart, err := mw.CreatePart(metaHeader)
	if err != nil {
		return fmt.Errorf("edgeworker: metadata part: %w", err)
	}
	metaPart.Write(metaJSON)

	scriptHeader := textproto.MIMEHeader{}
	scriptHeader.Set("Content-Disposition", `form-data; name="worker.js"; filename="worker.js"`)
	scriptHeader.Set("Content-Type", "application/javascript+module")
	scriptPart, err := mw.CreatePart(scriptHeader)
	if err != nil {
		return fmt.Errorf("edgeworker: script part: %w", err)
	}
	scriptPart.Write([]byte(script))

	if err := mw.Close(); err != nil {
		return fmt.Errorf("edgeworker: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.scriptURL(scriptName), &body)
	if err != nil {
		return fmt.Errorf("edgeworker: new request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("edgeworker: deploy %s: %w", scriptName, err)
	}
	return nil
}

// DeleteScript removes a worker script.
func (c *Client) DeleteScript(ctx context.Context, scriptName string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.scriptURL(scriptName), nil)
	if err != nil {
		return fmt.Errorf("edgeworker: new request: %w", err)
	}
	if _, err := c.do(req); err != nil {
		return fmt.Errorf("edgeworker: delete %s: %w", scriptName, err)
	}
	return nil
}

// ScriptExists reports whether a script with the given name is deployed.
func (c *Client) ScriptExists(ctx context.Context, scriptName string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.scriptURL(scriptName), nil)
	if err != nil {
		return false, fmt.Errorf("edgeworker: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("edgeworker: get %s: %w", scriptName, err)
	}
	defer resp.Body.Close()
	netguard.LimitedReadAll(resp.Body, netguard.MaxResponseBody)

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("edgeworker: get %s: status %d", scriptName, resp.StatusCode)
	}
}

// AddRoute points a URL pattern at a deployed script and returns the
// route ID.
func (c *Client) AddRoute(ctx context.Context, pattern, scriptName string) (string, error) {
	if c.config.ZoneID == "" {
		return "", ErrNoZone
	}
	body, err := json.Marshal(map[string]string{
		"pattern": pattern,
		"script":  scriptName,
	})
	if err != nil {
		return "", fmt.Errorf("edgeworker: encode route: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.routesURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("edgeworker: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	result, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("edgeworker: add route %s: %w", pattern, err)
	}

	var route struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(result, &route); err != nil {
		return "", fmt.Errorf("edgeworker: decode route: %w", err)
	}
	return route.ID, nil
}

// DeleteRoute removes a route by ID.
func (c *Client) DeleteRoute(ctx context.Context, routeID string) error {
	if c.config.ZoneID == "" {
		return ErrNoZone
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.routesURL()+"/"+routeID, nil)
	if err != nil {
		return fmt.Errorf("edgeworker: new request: %w", err)
	}
	if _, err := c.do(req); err != nil {
		return fmt.Errorf("edgeworker: delete route %s: %w", routeID, err)
	}
	return nil
}

// DefaultRoutePattern covers the apex domain and every subdomain path.
func DefaultRoutePattern(domain string) string {
	return "*" + domain + "/*"
}

func (c *Client) scriptURL(name string) string {
	return fmt.Sprintf("%s/accounts/%s/workers/scripts/%s", c.config.BaseURL, c.config.AccountID, name)
}

func (c *Client) routesURL() string {
	return fmt.Sprintf("%s/zones/%s/workers/routes", c.config.BaseURL, c.config.ZoneID)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := netguard.LimitedReadAll(resp.Body, netguard.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env struct {
		Success bool `json:"success"`
		Errors  []struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("status %d: decode: %w", resp.StatusCode, err)
	}
	if !env.Success {
		if len(env.Errors) > 0 {
			return nil, fmt.Errorf("status %d: %d: %s", resp.StatusCode, env.Errors[0].Code, env.Errors[0].Message)
		}
		return nil, fmt.Errorf("status %d: unknown error", resp.StatusCode)
	}
	return env.Result, nil
}
