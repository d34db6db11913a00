package catalog

// Page is one cataloged URL of a client and everything the pipeline has
// produced for it so far. A page moves through four stages, each recorded
// in its own columns: fetched raw content, rewritten content, edge-KV
// publication, and (client-wide) worker deployment.
type Page struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	URL      string `json:"url"`

	// URLHash is the stable identity of the URL within the client,
	// derived from the lowercased trimmed URL. The (client_id, url_hash)
	// pair is unique.
	URLHash string `json:"url_hash"`

	// Fetch stage. ContentHash is set exactly when RawContent is.
	RawContent    string `json:"raw_content,omitempty"`
	ContentHash   string `json:"content_hash,omitempty"`
	FetchedAt     int64  `json:"fetched_at,omitempty"`
	FetchAttempts int    `json:"fetch_attempts"`
	FetchError    string `json:"fetch_error,omitempty"`
	// FetchSource identifies which backend (and, for the remote scraping
	// actor, which run) produced the current content.
	FetchSource string `json:"fetch_source,omitempty"`

	// Rewrite stage. Both fields are set in the same transaction; a page
	// never has generated HTML without its cleaned source.
	CleanedContent string `json:"cleaned_content,omitempty"`
	GeneratedHTML  string `json:"generated_html,omitempty"`
	RewrittenAt    int64  `json:"rewritten_at,omitempty"`

	// Publish stage. Version starts at 1 and is bumped once per
	// successful publish, never on failures or unpublish.
	KVKey        string `json:"kv_key,omitempty"`
	KVUploadedAt int64  `json:"kv_uploaded_at,omitempty"`
	Version      int    `json:"version"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Fetched reports whether the page has raw content.
func (p *Page) Fetched() bool { return p.FetchedAt != 0 && p.RawContent != "" }

// Rewritten reports whether the page has generated HTML.
func (p *Page) Rewritten() bool { return p.GeneratedHTML != "" }

// Published reports whether the page is currently live in the edge KV.
func (p *Page) Published() bool { return p.KVUploadedAt != 0 }

// StageCounts summarizes how far a client's pages have progressed.
type StageCounts struct {
	Total     int `json:"total_pages"`
	Fetched   int `json:"fetched"`
	Rewritten int `json:"rewritten"`
	Published int `json:"published"`
}
