package pipeline

import (
	"strings"
	"testing"
)

func TestSanitizeStripsScripts(t *testing.T) {
	in := `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>P</title></head>` +
		`<body><article itemscope itemtype="https://schema.org/Product">` +
		`<h1 itemprop="name">Widget</h1>` +
		`<script>alert(1)</script>` +
		`<p onclick="steal()">Buy <strong>now</strong></p>` +
		`</article></body></html>`

	out := SanitizeHTML(in)
	if strings.Contains(out, "<script") || strings.Contains(out, "alert") {
		t.Fatalf("script survived: %s", out)
	}
	if strings.Contains(out, "onclick") {
		t.Fatalf("event handler survived: %s", out)
	}
	for _, keep := range []string{"<article", "itemprop=\"name\"", "<strong>now</strong>", "itemtype"} {
		if !strings.Contains(out, keep) {
			t.Errorf("sanitizer stripped %q: %s", keep, out)
		}
	}
	if !strings.HasPrefix(out, "<!DOCTYPE html>") {
		t.Errorf("doctype lost: %s", out)
	}
}

func TestSanitizeWithoutDoctype(t *testing.T) {
	out := SanitizeHTML(`<p>plain</p>`)
	if out != "<p>plain</p>" {
		t.Fatalf("out = %q", out)
	}
}
