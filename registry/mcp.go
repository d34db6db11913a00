package registry

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/edgegeo/aicache/kit"
)

// RegisterMCP registers tenant registry tools on an MCP server.
func (r *Registry) RegisterMCP(srv *mcp.Server) {
	r.registerListClientsTool(srv)
	r.registerGetClientTool(srv)
	r.registerCreateClientTool(srv)
	r.registerSetActiveTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- list_clients ---

type listClientsRequest struct {
	ActiveOnly bool `json:"active_only,omitempty"`
}

func (r *Registry) registerListClientsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "registry_list_clients",
		Description: "List registered clients with their domain, active flag and worker deployment state. Secrets are never returned.",
		InputSchema: inputSchema(map[string]any{
			"active_only": map[string]any{"type": "boolean", "description": "Only return active clients"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*listClientsRequest)
		clients, err := r.store.List(ctx, rr.ActiveOnly)
		if err != nil {
			return nil, err
		}
		views := make([]View, 0, len(clients))
		for _, c := range clients {
			views = append(views, c.AsView())
		}
		return views, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr listClientsRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- get_client ---

type getClientRequest struct {
	ID     string `json:"id,omitempty"`
	Domain string `json:"domain,omitempty"`
}

func (r *Registry) registerGetClientTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "registry_get_client",
		Description: "Get one client by ID or by domain.",
		InputSchema: inputSchema(map[string]any{
			"id":     map[string]any{"type": "string", "description": "Client ID"},
			"domain": map[string]any{"type": "string", "description": "Client domain (e.g. example.com)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*getClientRequest)
		var c *Client
		var err error
		switch {
		case rr.ID != "":
			c, err = r.store.Get(ctx, rr.ID)
		case rr.Domain != "":
			c, err = r.store.GetByDomain(ctx, rr.Domain)
		default:
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, ErrNotFound
		}
		return c.AsView(), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr getClientRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- create_client ---

type createClientRequest struct {
	Name              string `json:"name"`
	Domain            string `json:"domain"`
	EdgeAccountID     string `json:"edge_account_id,omitempty"`
	EdgeKVNamespaceID string `json:"edge_kv_namespace_id,omitempty"`
	EdgeZoneID        string `json:"edge_zone_id,omitempty"`
	EdgeAPIToken      string `json:"edge_api_token,omitempty"`
	LLMAPIKey         string `json:"llm_api_key,omitempty"`
}

func (r *Registry) registerCreateClientTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "registry_create_client",
		Description: "Register a new client. Credentials are sealed at rest and never echoed back.",
		InputSchema: inputSchema(map[string]any{
			"name":                 map[string]any{"type": "string", "description": "Display name (unique)"},
			"domain":               map[string]any{"type": "string", "description": "Site domain (unique)"},
			"edge_account_id":      map[string]any{"type": "string"},
			"edge_kv_namespace_id": map[string]any{"type": "string"},
			"edge_zone_id":         map[string]any{"type": "string"},
			"edge_api_token":       map[string]any{"type": "string"},
			"llm_api_key":          map[string]any{"type": "string"},
		}, []string{"name", "domain"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*createClientRequest)
		c := &Client{
			Name:              rr.Name,
			Domain:            rr.Domain,
			Active:            true,
			EdgeAccountID:     rr.EdgeAccountID,
			EdgeKVNamespaceID: rr.EdgeKVNamespaceID,
			EdgeZoneID:        rr.EdgeZoneID,
		}
		if err := r.CreateClient(ctx, c, rr.EdgeAPIToken, rr.LLMAPIKey); err != nil {
			return nil, err
		}
		return c.AsView(), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr createClientRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- set_active ---

type setActiveRequest struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
}

func (r *Registry) registerSetActiveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "registry_set_active",
		Description: "Activate or deactivate a client. Inactive clients are skipped by batch operations.",
		InputSchema: inputSchema(map[string]any{
			"id":     map[string]any{"type": "string", "description": "Client ID"},
			"active": map[string]any{"type": "boolean"},
		}, []string{"id", "active"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*setActiveRequest)
		if err := r.store.SetActive(ctx, rr.ID, rr.Active); err != nil {
			return nil, err
		}
		return map[string]any{"id": rr.ID, "active": rr.Active}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr setActiveRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
