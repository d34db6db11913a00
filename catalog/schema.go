package catalog

// Schema creates the pages table. url_hash dedupes imports per client;
// the partial indexes back the stage-candidate queries.
const Schema = `
CREATE TABLE IF NOT EXISTS pages (
	id              TEXT PRIMARY KEY,
	client_id       TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	url             TEXT NOT NULL,
	url_hash        TEXT NOT NULL,
	raw_content     TEXT NOT NULL DEFAULT '',
	content_hash    TEXT NOT NULL DEFAULT '',
	fetched_at      INTEGER NOT NULL DEFAULT 0,
	fetch_attempts  INTEGER NOT NULL DEFAULT 0,
	fetch_error     TEXT NOT NULL DEFAULT '',
	fetch_source    TEXT NOT NULL DEFAULT '',
	cleaned_content TEXT NOT NULL DEFAULT '',
	generated_html  TEXT NOT NULL DEFAULT '',
	rewritten_at    INTEGER NOT NULL DEFAULT 0,
	kv_key          TEXT NOT NULL DEFAULT '',
	kv_uploaded_at  INTEGER NOT NULL DEFAULT 0,
	version         INTEGER NOT NULL DEFAULT 1,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	UNIQUE(client_id, url_hash)
);
CREATE INDEX IF NOT EXISTS idx_pages_client ON pages(client_id);
CREATE INDEX IF NOT EXISTS idx_pages_client_fetched ON pages(client_id, fetched_at);
CREATE INDEX IF NOT EXISTS idx_pages_client_published ON pages(client_id, kv_uploaded_at);
`
