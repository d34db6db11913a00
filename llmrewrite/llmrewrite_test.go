package llmrewrite

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func modelServer(t *testing.T, reply func(prompt string) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		prompt := req.Contents[0].Parts[0].Text
		resp := map[string]any{
			"candidates": []any{
				map[string]any{"content": map[string]any{
					"parts": []any{map[string]any{"text": reply(prompt)}},
				}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestRewriteTwoSteps(t *testing.T) {
	// WHAT: the full clean-then-generate conversation.
	// WHY: HTML must be generated from the cleaned markdown, not the raw
	// scrape, or the boilerplate removal is wasted.
	var prompts []string
	srv := modelServer(t, func(prompt string) string {
		prompts = append(prompts, prompt)
		if len(prompts) == 1 {
			return "# Cleaned"
		}
		return "```html\n<!DOCTYPE html><html><body>ok</body></html>\n```"
	})
	defer srv.Close()

	r := New(Config{BaseURL: srv.URL})
	cleaned, html, err := r.Rewrite(context.Background(), "key", "# Raw\nnav nav nav", "https://t.example/p", PageMeta{Title: "P"})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if cleaned != "# Cleaned" {
		t.Fatalf("cleaned = %q", cleaned)
	}
	if html != "<!DOCTYPE html><html><body>ok</body></html>" {
		t.Fatalf("html = %q", html)
	}
	if len(prompts) != 2 {
		t.Fatalf("calls = %d, want 2", len(prompts))
	}
}

func TestEmptyInputRejected(t *testing.T) {
	r := New(Config{BaseURL: "http://unused.invalid"})
	if _, err := r.CleanMarkdown(context.Background(), "key", "   "); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("want ErrEmptyInput, got %v", err)
	}
}

func TestEmptyModelResponse(t *testing.T) {
	srv := modelServer(t, func(string) string { return "  " })
	defer srv.Close()

	r := New(Config{BaseURL: srv.URL})
	_, err := r.CleanMarkdown(context.Background(), "key", "# Raw")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("want ErrEmptyResponse, got %v", err)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 429, "message": "quota exceeded"},
		})
	}))
	defer srv.Close()

	r := New(Config{BaseURL: srv.URL})
	_, err := r.CleanMarkdown(context.Background(), "key", "# Raw")
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("want api error, got %v", err)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"```html\n<html></html>\n```", "<html></html>"},
		{"```\n<html></html>\n```", "<html></html>"},
		{"<html></html>", "<html></html>"},
		{"  ```html\n<p>x</p>```  ", "<p>x</p>"},
	}
	for _, c := range cases {
		if got := StripCodeFence(c.in); got != c.want {
			t.Errorf("StripCodeFence(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
