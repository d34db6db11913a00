package registry

// Client is a registered tenant: one site/domain with its own edge-platform
// credentials and its set of cataloged pages.
//
// Credential fields hold ciphertext only. Decryption happens through an
// explicit vault.Sealer at the call sites that need plaintext, never as a
// side effect of reading the struct.
type Client struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Active bool   `json:"is_active"`

	// Edge platform configuration. Account and namespace identifiers are
	// not secrets; the API token is.
	EdgeAccountID     string `json:"edge_account_id,omitempty"`
	EdgeKVNamespaceID string `json:"edge_kv_namespace_id,omitempty"`
	EdgeZoneID        string `json:"edge_zone_id,omitempty"`
	EdgeAPIToken      []byte `json:"-"`

	// Optional per-tenant LLM API key (sealed).
	LLMAPIKey []byte `json:"-"`

	// Worker deployment state. Zero WorkerDeployedAt means not deployed.
	WorkerScriptName string `json:"worker_script_name,omitempty"`
	WorkerDeployedAt int64  `json:"worker_deployed_at,omitempty"`
	WorkerRouteID    string `json:"worker_route_id,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// WorkerDeployed reports whether an edge worker is recorded as deployed.
func (c *Client) WorkerDeployed() bool {
	return c.WorkerDeployedAt != 0
}

// View is the default JSON shape for a client: secrets replaced by
// presence flags.
type View struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Domain            string `json:"domain"`
	Active            bool   `json:"is_active"`
	EdgeAccountID     string `json:"edge_account_id,omitempty"`
	EdgeKVNamespaceID string `json:"edge_kv_namespace_id,omitempty"`
	EdgeZoneID        string `json:"edge_zone_id,omitempty"`
	HasEdgeToken      bool   `json:"has_edge_token"`
	HasLLMKey         bool   `json:"has_llm_key"`
	WorkerScriptName  string `json:"worker_script_name,omitempty"`
	WorkerDeployedAt  int64  `json:"worker_deployed_at,omitempty"`
	WorkerRouteID     string `json:"worker_route_id,omitempty"`
	CreatedAt         int64  `json:"created_at"`
	UpdatedAt         int64  `json:"updated_at"`
}

// SecretView is View plus unsealed credential plaintext. It is produced
// only by Registry.RevealSecrets, never by a default read.
type SecretView struct {
	View
	EdgeAPIToken string `json:"edge_api_token,omitempty"`
	LLMAPIKey    string `json:"llm_api_key,omitempty"`
}

// AsView converts a Client to its secret-free JSON shape.
func (c *Client) AsView() View {
	return View{
		ID:                c.ID,
		Name:              c.Name,
		Domain:            c.Domain,
		Active:            c.Active,
		EdgeAccountID:     c.EdgeAccountID,
		EdgeKVNamespaceID: c.EdgeKVNamespaceID,
		EdgeZoneID:        c.EdgeZoneID,
		HasEdgeToken:      len(c.EdgeAPIToken) > 0,
		HasLLMKey:         len(c.LLMAPIKey) > 0,
		WorkerScriptName:  c.WorkerScriptName,
		WorkerDeployedAt:  c.WorkerDeployedAt,
		WorkerRouteID:     c.WorkerRouteID,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}
