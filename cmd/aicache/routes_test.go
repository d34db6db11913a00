package main

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
)

func TestErrorBodyShape(t *testing.T) {
	rec := httptest.NewRecorder()
	writeMessage(rec, 404, "client not found")

	if rec.Code != 404 {
		t.Fatalf("status: %d", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Kind != "not_found" {
		t.Fatalf("kind: %q", body.Kind)
	}
	if body.Message != "client not found" {
		t.Fatalf("message: %q", body.Message)
	}
}

func TestErrorKindByStatus(t *testing.T) {
	cases := []struct {
		code int
		kind string
	}{
		{400, "invalid_request"},
		{401, "unauthorized"},
		{404, "not_found"},
		{409, "conflict"},
		{502, "upstream_error"},
	}
	for _, c := range cases {
		if got := errorKind(c.code); got != c.kind {
			t.Fatalf("code %d: got %q, want %q", c.code, got, c.kind)
		}
	}
}

func TestWriteErrorWrapsMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, 400, errors.New("bad payload"))

	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Kind != "invalid_request" || body.Message != "bad payload" {
		t.Fatalf("body: %+v", body)
	}
}
