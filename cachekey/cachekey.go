// Package cachekey derives the deterministic keys under which bot-facing
// HTML is stored in the edge key-value namespace, and the content
// fingerprints used for change detection.
//
// Everything here is a pure function: same input, same output, no I/O.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Strategy selects how an edge key is derived from a URL.
type Strategy string

const (
	// StrategyPath produces a human-inspectable "scheme/host/path" key.
	StrategyPath Strategy = "path"
	// StrategyHash produces the SHA-256 fingerprint of the normalized URL.
	StrategyHash Strategy = "hash"
)

// ErrUnknownStrategy is returned by EdgeKey for unrecognised strategies.
var ErrUnknownStrategy = errors.New("cachekey: unknown key strategy")

// ParseStrategy validates a strategy string, defaulting empty to StrategyPath.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategyPath, nil
	case StrategyPath, StrategyHash:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// URLFingerprint returns the SHA-256 hex digest of the normalized URL
// (lower-cased, surrounding whitespace trimmed).
func URLFingerprint(rawURL string) string {
	normalized := strings.ToLower(strings.TrimSpace(rawURL))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ContentFingerprint returns the SHA-256 hex digest of content, or "" when
// content is empty. A page's content fingerprint is null exactly when its
// fetched content is null.
func ContentFingerprint(content string) string {
	if content == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// EdgeKey derives the edge-store key for a URL under the given strategy.
//
// Path strategy: "https://example.com/shop/item/" -> "https/example.com/shop/item"
// (no "://", no trailing slash). Hash strategy: URLFingerprint(url).
func EdgeKey(rawURL string, strategy Strategy) (string, error) {
	switch strategy {
	case StrategyHash:
		return URLFingerprint(rawURL), nil
	case StrategyPath, "":
		u, err := url.Parse(strings.TrimSpace(rawURL))
		if err != nil {
			return "", fmt.Errorf("cachekey: parse url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return "", fmt.Errorf("cachekey: url %q has no scheme or host", rawURL)
		}
		key := u.Scheme + "/" + u.Host
		if path := strings.Trim(u.Path, "/"); path != "" {
			key += "/" + path
		}
		return key, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}
