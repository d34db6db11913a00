package registry

// Schema creates the clients table. Pages, visits, and orders reference
// clients(id) with ON DELETE CASCADE, so hard-deleting a client removes
// everything the tenant owns.
const Schema = `
CREATE TABLE IF NOT EXISTS clients (
	id                    TEXT PRIMARY KEY,
	name                  TEXT NOT NULL UNIQUE,
	domain                TEXT NOT NULL UNIQUE,
	is_active             INTEGER NOT NULL DEFAULT 1,
	edge_account_id       TEXT NOT NULL DEFAULT '',
	edge_kv_namespace_id  TEXT NOT NULL DEFAULT '',
	edge_zone_id          TEXT NOT NULL DEFAULT '',
	edge_api_token        BLOB,
	llm_api_key           BLOB,
	worker_script_name    TEXT NOT NULL DEFAULT '',
	worker_deployed_at    INTEGER NOT NULL DEFAULT 0,
	worker_route_id       TEXT NOT NULL DEFAULT '',
	created_at            INTEGER NOT NULL,
	updated_at            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_clients_domain ON clients(domain);
`
