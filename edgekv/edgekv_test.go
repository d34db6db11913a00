package edgekv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:     srv.URL,
		AccountID:   "acc",
		NamespaceID: "ns",
		APIToken:    "tok",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func ok(w http.ResponseWriter, result any) {
	json.NewEncoder(w).Encode(map[string]any{"success": true, "errors": []any{}, "result": result})
}

func TestPutClampsTTL(t *testing.T) {
	var gotTTL string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("auth = %q", auth)
		}
		gotTTL = r.URL.Query().Get("expiration_ttl")
		ok(w, nil)
	})

	if err := c.Put(context.Background(), "https/t.example/p", "<html/>", 5); err != nil {
		t.Fatalf("put: %v", err)
	}
	if gotTTL != "60" {
		t.Fatalf("ttl = %q, want clamped 60", gotTTL)
	}
}

func TestPutBulkReportsPerKey(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bulk") {
			t.Errorf("path = %s", r.URL.Path)
		}
		ok(w, map[string]any{
			"successful_key_count": 2,
			"unsuccessful_keys":    []string{"https/t.example/bad"},
		})
	})

	res, err := c.PutBulk(context.Background(), []Pair{
		{Key: "https/t.example/a", Value: "1"},
		{Key: "https/t.example/b", Value: "2"},
		{Key: "https/t.example/bad", Value: "3"},
	}, 0)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.SuccessfulCount != 2 {
		t.Fatalf("successful = %d", res.SuccessfulCount)
	}
	if len(res.UnsuccessfulKeys) != 1 || res.UnsuccessfulKeys[0] != "https/t.example/bad" {
		t.Fatalf("unsuccessful = %v", res.UnsuccessfulKeys)
	}
}

func TestPutBulkRejectsOversize(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("request should not reach the server")
		ok(w, nil)
	})

	pairs := make([]Pair, MaxBulkPairs+1)
	for i := range pairs {
		pairs[i] = Pair{Key: fmt.Sprintf("k%d", i), Value: "v"}
	}
	_, err := c.PutBulk(context.Background(), pairs, 0)
	if !errors.Is(err, ErrTooManyPairs) {
		t.Fatalf("want ErrTooManyPairs, got %v", err)
	}
}

func TestAPIFailureSurfacesMessage(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"errors":  []any{map[string]any{"code": 10000, "message": "Authentication error"}},
		})
	})

	err := c.Put(context.Background(), "k", "v", 0)
	if err == nil || !strings.Contains(err.Error(), "Authentication error") {
		t.Fatalf("want auth error, got %v", err)
	}
}

func TestListKeys(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("prefix"); got != "https/" {
			t.Errorf("prefix = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result":  []any{map[string]any{"name": "https/t.example/a"}},
			"result_info": map[string]any{
				"cursor": "next-page",
			},
		})
	})

	page, err := c.ListKeys(context.Background(), "https/", "", 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Keys) != 1 || page.Keys[0].Name != "https/t.example/a" {
		t.Fatalf("keys = %+v", page.Keys)
	}
	if page.Cursor != "next-page" {
		t.Fatalf("cursor = %q", page.Cursor)
	}
}
