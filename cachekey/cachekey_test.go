package cachekey

import (
	"errors"
	"testing"
)

func TestURLFingerprintDeterministic(t *testing.T) {
	for _, u := range []string{
		"https://example.com/",
		"https://example.com/shop/item-1",
		"  HTTPS://Example.COM/Page  ",
	} {
		a := URLFingerprint(u)
		b := URLFingerprint(u)
		if a != b {
			t.Errorf("%q: fingerprints differ across calls", u)
		}
		if len(a) != 64 {
			t.Errorf("%q: len = %d, want 64", u, len(a))
		}
	}
}

func TestURLFingerprintNormalization(t *testing.T) {
	// Case and surrounding whitespace are normalized away.
	if URLFingerprint("HTTPS://EXAMPLE.COM/page") != URLFingerprint("https://example.com/page") {
		t.Error("case should not change the fingerprint")
	}
	if URLFingerprint("  https://example.com ") != URLFingerprint("https://example.com") {
		t.Error("whitespace should not change the fingerprint")
	}
	// Distinct normalized URLs must differ.
	if URLFingerprint("https://example.com/a") == URLFingerprint("https://example.com/b") {
		t.Error("distinct URLs must not collide")
	}
}

func TestContentFingerprint(t *testing.T) {
	if ContentFingerprint("") != "" {
		t.Error("empty content must yield empty fingerprint")
	}
	a := ContentFingerprint("<html>a</html>")
	if len(a) != 64 {
		t.Errorf("len = %d, want 64", len(a))
	}
	if a == ContentFingerprint("<html>b</html>") {
		t.Error("distinct content must not collide")
	}
}

func TestEdgeKeyPathStrategy(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://example.com/page", "https/example.com/page"},
		{"https://example.com/shop/item/", "https/example.com/shop/item"},
		{"http://test.com", "http/test.com"},
		{"https://example.com/", "https/example.com"},
		{"https://example.com/a/b/c", "https/example.com/a/b/c"},
	}
	for _, c := range cases {
		got, err := EdgeKey(c.url, StrategyPath)
		if err != nil {
			t.Errorf("%s: %v", c.url, err)
			continue
		}
		if got != c.want {
			t.Errorf("%s: got %q, want %q", c.url, got, c.want)
		}
	}
}

func TestEdgeKeyHashStrategy(t *testing.T) {
	got, err := EdgeKey("https://example.com/page", StrategyHash)
	if err != nil {
		t.Fatal(err)
	}
	if got != URLFingerprint("https://example.com/page") {
		t.Error("hash strategy must equal the URL fingerprint")
	}
}

func TestEdgeKeyRejectsBadInput(t *testing.T) {
	if _, err := EdgeKey("not a url", StrategyPath); err == nil {
		t.Error("expected error for URL without scheme")
	}
	if _, err := EdgeKey("https://example.com", Strategy("banana")); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("err = %v, want ErrUnknownStrategy", err)
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy(""); err != nil || s != StrategyPath {
		t.Errorf("empty: %v %v", s, err)
	}
	if s, err := ParseStrategy("hash"); err != nil || s != StrategyHash {
		t.Errorf("hash: %v %v", s, err)
	}
	if _, err := ParseStrategy("nope"); err == nil {
		t.Error("expected error")
	}
}
