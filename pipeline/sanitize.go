package pipeline

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// htmlPolicy sanitizes model-generated HTML before it is published.
// The model writes full documents with Schema.org microdata, so the
// policy keeps document structure and microdata attributes while
// stripping scripts, event handlers, and embedded frames.
var htmlPolicy = buildHTMLPolicy()

func buildHTMLPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements(
		"html", "head", "body", "title", "meta", "link",
		"article", "section", "header", "footer", "main", "nav",
		"aside", "figure", "figcaption", "time",
	)
	p.AllowAttrs("itemscope", "itemtype", "itemprop", "content", "datetime").Globally()
	p.AllowAttrs("name", "content", "charset", "property", "http-equiv").OnElements("meta")
	p.AllowAttrs("rel", "href").OnElements("link")
	p.AllowAttrs("lang").OnElements("html")
	p.AllowAttrs("class", "id").Globally()
	return p
}

// SanitizeHTML strips active content from generated HTML. bluemonday
// drops doctype tokens, so a leading <!DOCTYPE ...> declaration is
// restored on the sanitized output.
func SanitizeHTML(html string) string {
	doctype := leadingDoctype(html)
	out := htmlPolicy.Sanitize(html)
	if doctype != "" {
		return doctype + "\n" + strings.TrimLeft(out, "\n")
	}
	return out
}

func leadingDoctype(html string) string {
	trimmed := strings.TrimLeft(html, " \t\r\n")
	if !strings.HasPrefix(strings.ToLower(trimmed), "<!doctype") {
		return ""
	}
	end := strings.IndexByte(trimmed, '>')
	if end < 0 {
		return ""
	}
	return trimmed[:end+1]
}
