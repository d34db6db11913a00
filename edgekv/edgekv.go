// Package edgekv writes published page content into an edge key-value
// namespace. One Client is scoped to a single account/namespace pair,
// so each tenant gets its own Client built from its sealed credentials.
package edgekv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/edgegeo/aicache/netguard"
)

// MaxBulkPairs is the platform limit on pairs per bulk write.
const MaxBulkPairs = 10000

// MinTTL is the platform floor on expiration TTLs, in seconds. Smaller
// requested TTLs are raised, never rejected.
const MinTTL = 60

// ErrTooManyPairs is returned when a bulk write exceeds MaxBulkPairs.
var ErrTooManyPairs = fmt.Errorf("edgekv: bulk write exceeds %d pairs", MaxBulkPairs)

// Config configures a namespace-scoped client.
type Config struct {
	// BaseURL of the platform API. Default: https://api.cloudflare.com/client/v4.
	BaseURL     string
	AccountID   string
	NamespaceID string
	APIToken    string
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

// Client talks to one KV namespace.
type Client struct {
	config Config
	http   *http.Client
}

// New creates a Client. Account, namespace and token are all required.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	if cfg.AccountID == "" || cfg.NamespaceID == "" || cfg.APIToken == "" {
		return nil, errors.New("edgekv: account id, namespace id and api token are required")
	}
	return &Client{config: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Pair is one key-value entry for a bulk write.
type Pair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// BulkResult reports a bulk write per key: every input key ends up either
// in the successful count or in UnsuccessfulKeys.
type BulkResult struct {
	SuccessfulCount  int      `json:"successful_count"`
	UnsuccessfulKeys []string `json:"unsuccessful_keys"`
}

// KeyInfo is one entry from a key listing.
type KeyInfo struct {
	Name       string `json:"name"`
	Expiration int64  `json:"expiration,omitempty"`
}

// KeyPage is one page of a key listing.
type KeyPage struct {
	Keys   []KeyInfo `json:"keys"`
	Cursor string    `json:"cursor,omitempty"`
}

// apiEnvelope is the platform's uniform response wrapper.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Errors  []apiError      `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Put writes one key. A ttlSeconds of 0 means no expiration; positive
// values below MinTTL are raised to it.
func (c *Client) Put(ctx context.Context, key, value string, ttlSeconds int) error {
	endpoint := c.valueURL(key)
	if ttlSeconds > 0 {
		endpoint += "?expiration_ttl=" + strconv.Itoa(clampTTL(ttlSeconds))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader([]byte(value)))
	if err != nil {
		return fmt.Errorf("edgekv: new request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("edgekv: put %s: %w", key, err)
	}
	return nil
}

// PutBulk writes up to MaxBulkPairs keys in one request and reports the
// outcome per key. The platform applies pairs independently; a partial
// failure is not an error here, the caller reads UnsuccessfulKeys.
func (c *Client) PutBulk(ctx context.Context, pairs []Pair, ttlSeconds int) (*BulkResult, error) {
	if len(pairs) == 0 {
		return &BulkResult{}, nil
	}
	if len(pairs) > MaxBulkPairs {
		return nil, ErrTooManyPairs
	}

	type bulkItem struct {
		Key           string `json:"key"`
		Value         string `json:"value"`
		ExpirationTTL int    `json:"expiration_ttl,omitempty"`
	}
	items := make([]bulkItem, len(pairs))
	for i, p := range pairs {
		items[i] = bulkItem{Key: p.Key, Value: p.Value}
		if ttlSeconds > 0 {
			items[i].ExpirationTTL = clampTTL(ttlSeconds)
		}
	}

	body, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("edgekv: encode bulk: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL()+"/bulk", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("edgekv: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	result, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("edgekv: bulk put: %w", err)
	}

	var out struct {
		SuccessfulKeyCount int      `json:"successful_key_count"`
		UnsuccessfulKeys   []string `json:"unsuccessful_keys"`
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &out); err != nil {
			return nil, fmt.Errorf("edgekv: decode bulk result: %w", err)
		}
	}
	// Older API versions omit the counts; treat that as all successful.
	if out.SuccessfulKeyCount == 0 && len(out.UnsuccessfulKeys) == 0 {
		out.SuccessfulKeyCount = len(pairs)
	}
	return &BulkResult{
		SuccessfulCount:  out.SuccessfulKeyCount,
		UnsuccessfulKeys: out.UnsuccessfulKeys,
	}, nil
}

// Delete removes one key. Deleting an absent key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.valueURL(key), nil)
	if err != nil {
		return fmt.Errorf("edgekv: new request: %w", err)
	}
	if _, err := c.do(req); err != nil {
		return fmt.Errorf("edgekv: delete %s: %w", key, err)
	}
	return nil
}

// ListKeys returns one page of keys, optionally filtered by prefix.
// Limit is capped at 1000 by the platform.
func (c *Client) ListKeys(ctx context.Context, prefix, cursor string, limit int) (*KeyPage, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if prefix != "" {
		q.Set("prefix", prefix)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/keys?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("edgekv: new request: %w", err)
	}

	raw, err := c.doEnvelope(req)
	if err != nil {
		return nil, fmt.Errorf("edgekv: list keys: %w", err)
	}

	var keys []KeyInfo
	if err := json.Unmarshal(raw.Result, &keys); err != nil {
		return nil, fmt.Errorf("edgekv: decode keys: %w", err)
	}
	page := &KeyPage{Keys: keys}

	var info struct {
		ResultInfo struct {
			Cursor string `json:"cursor"`
		} `json:"result_info"`
	}
	if err := json.Unmarshal(raw.body, &info); err == nil {
		page.Cursor = info.ResultInfo.Cursor
	}
	return page, nil
}

func (c *Client) baseURL() string {
	return fmt.Sprintf("%s/accounts/%s/storage/kv/namespaces/%s",
		c.config.BaseURL, c.config.AccountID, c.config.NamespaceID)
}

func (c *Client) valueURL(key string) string {
	return c.baseURL() + "/values/" + url.PathEscape(key)
}

type envelope struct {
	apiEnvelope
	body []byte
}

func (c *Client) doEnvelope(req *http.Request) (*envelope, error) {
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

	var env envelope
	env.body = body
	if err := json.Unmarshal(body, &env.apiEnvelope); err != nil {
		return nil, fmt.Errorf("status %d: decode: %w", resp.StatusCode, err)
	}
	if !env.Success {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, firstError(env.Errors))
	}
	return &env, nil
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	env, err := c.doEnvelope(req)
	if err != nil {
		return nil, err
	}
	return env.Result, nil
}

func firstError(errs []apiError) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	return fmt.Sprintf("%d: %s", errs[0].Code, errs[0].Message)
}

func clampTTL(ttl int) int {
	if ttl < MinTTL {
		return MinTTL
	}
	return ttl
}
