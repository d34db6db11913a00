package traffic

// Schema creates the visits and conversions tables. Visits keep a hashed
// IP only. order_id is globally unique so a replayed checkout webhook
// cannot double-count revenue.
const Schema = `
CREATE TABLE IF NOT EXISTS visits (
	id            TEXT PRIMARY KEY,
	client_id     TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	page_id       TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL,
	visitor_type  TEXT NOT NULL DEFAULT 'direct',
	user_agent    TEXT NOT NULL DEFAULT '',
	ip_hash       TEXT NOT NULL DEFAULT '',
	referrer      TEXT NOT NULL DEFAULT '',
	bot_name      TEXT NOT NULL DEFAULT '',
	ai_source     TEXT NOT NULL DEFAULT '',
	visited_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_visits_client_time ON visits(client_id, visited_at);
CREATE INDEX IF NOT EXISTS idx_visits_client_type ON visits(client_id, visitor_type);

CREATE TABLE IF NOT EXISTS conversions (
	id                TEXT PRIMARY KEY,
	client_id         TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	page_id           TEXT NOT NULL DEFAULT '',
	order_id          TEXT NOT NULL UNIQUE,
	event_type        TEXT NOT NULL DEFAULT 'checkout_completed',
	conversion_value  REAL NOT NULL DEFAULT 0,
	landing_url       TEXT NOT NULL DEFAULT '',
	referrer_domain   TEXT NOT NULL DEFAULT '',
	referrer_full_url TEXT NOT NULL DEFAULT '',
	ai_source         TEXT NOT NULL DEFAULT '',
	converted_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversions_client_time ON conversions(client_id, converted_at);
CREATE INDEX IF NOT EXISTS idx_conversions_ai_source ON conversions(client_id, ai_source);
`
