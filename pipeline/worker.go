package pipeline

import (
	"context"
	"fmt"

	"github.com/edgegeo/aicache/edgeworker"
	"github.com/edgegeo/aicache/registry"
)

// DeployOptions tune a worker deployment.
type DeployOptions struct {
	// APIEndpoint overrides the analytics endpoint baked into the
	// script. Empty uses the pipeline's configured endpoint.
	APIEndpoint string `json:"api_endpoint,omitempty"`
	// RoutePattern overrides the route. Empty with AutoRoute derives
	// "*<domain>/*".
	RoutePattern string `json:"route_pattern,omitempty"`
	// AutoRoute creates a route after the script deploys.
	AutoRoute bool `json:"auto_create_route"`
}

// DeployResult reports a worker deployment. A deployed script with a
// failed route is a partial success: the script stays up and the route
// error is reported for the operator to retry.
type DeployResult struct {
	ScriptName   string `json:"script_name"`
	Deployed     bool   `json:"deployed"`
	RouteCreated bool   `json:"route_created"`
	RoutePattern string `json:"route_pattern,omitempty"`
	RouteID      string `json:"route_id,omitempty"`
	RouteError   string `json:"route_error,omitempty"`
}

func (p *Pipeline) workerFor(client *registry.Client) (WorkerAPI, error) {
	token, err := p.clients.EdgeToken(client)
	if err != nil {
		return nil, err
	}
	return p.newWorker(edgeworker.Config{
		BaseURL:   p.config.EdgeBaseURL,
		AccountID: client.EdgeAccountID,
		ZoneID:    client.EdgeZoneID,
		APIToken:  token,
	})
}

// DeployWorker renders the bot-detection script for a client and uploads
// it. Redeploying overwrites the existing script in place.
func (p *Pipeline) DeployWorker(ctx context.Context, clientID string, opts DeployOptions) (*DeployResult, error) {
	client, err := p.activeClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if opts.AutoRoute && client.EdgeZoneID == "" {
		return nil, fmt.Errorf("%w: zone id required for route creation", edgeworker.ErrNoZone)
	}

	w, err := p.workerFor(client)
	if err != nil {
		return nil, err
	}

	endpoint := opts.APIEndpoint
	if endpoint == "" {
		endpoint = p.config.APIEndpoint
	}

	scriptName := edgeworker.WorkerName(client.ID)
	script := edgeworker.RenderScript(edgeworker.TemplateVars{
		KVNamespaceID: client.EdgeKVNamespaceID,
		APIEndpoint:   endpoint,
		APIKey:        p.config.MasterKey,
		ZoneName:      client.Domain,
		ClientID:      client.ID,
	})

	if err := w.Deploy(ctx, scriptName, script, client.EdgeKVNamespaceID); err != nil {
		return nil, fmt.Errorf("pipeline: deploy worker: %w", err)
	}

	result := &DeployResult{ScriptName: scriptName, Deployed: true}

	if opts.AutoRoute {
		pattern := opts.RoutePattern
		if pattern == "" {
			pattern = edgeworker.DefaultRoutePattern(client.Domain)
		}
		result.RoutePattern = pattern

		routeID, err := w.AddRoute(ctx, pattern, scriptName)
		if err != nil {
			// Script is live; the route can be retried. Record the
			// deployment and surface the route failure.
			result.RouteError = err.Error()
			p.logger.Warn("route creation failed",
				"client_id", client.ID, "pattern", pattern, "error", err)
		} else {
			result.RouteCreated = true
			result.RouteID = routeID
		}
	}

	if err := p.clients.Store().SetWorkerDeployment(ctx, client.ID, scriptName, result.RouteID); err != nil {
		return nil, err
	}
	p.logger.Info("worker deployed",
		"client_id", client.ID, "script", scriptName, "route_created", result.RouteCreated)
	return result, nil
}

// RemoveWorker deletes a client's worker script and route.
func (p *Pipeline) RemoveWorker(ctx context.Context, clientID string) error {
	client, err := p.activeClient(ctx, clientID)
	if err != nil {
		return err
	}
	if !client.WorkerDeployed() {
		return ErrNotDeployed
	}

	w, err := p.workerFor(client)
	if err != nil {
		return err
	}

	if client.WorkerRouteID != "" {
		if err := w.DeleteRoute(ctx, client.WorkerRouteID); err != nil {
			p.logger.Warn("route deletion failed",
				"client_id", client.ID, "route_id", client.WorkerRouteID, "error", err)
		}
	}
	if err := w.DeleteScript(ctx, client.WorkerScriptName); err != nil {
		return fmt.Errorf("pipeline: remove worker: %w", err)
	}
	return p.clients.Store().ClearWorkerDeployment(ctx, client.ID)
}
