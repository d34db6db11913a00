package progress

import (
	"context"
	"fmt"
)

// Stage status strings, in pipeline order of strength.
const (
	StatusNoData     = "no_data"
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
)

// StageStatus classifies one stage's progress.
func StageStatus(complete, total int) string {
	switch {
	case total == 0:
		return StatusNoData
	case complete == 0:
		return StatusNotStarted
	case complete < total:
		return StatusInProgress
	default:
		return StatusComplete
	}
}

// Stage is one pipeline stage in a status report.
type Stage struct {
	Complete int    `json:"complete"`
	Total    int    `json:"total"`
	Status   string `json:"status"`
}

// PipelineStatus is the operator-facing view of one client's pipeline.
type PipelineStatus struct {
	ClientID   string `json:"client_id"`
	ClientName string `json:"client_name"`
	Domain     string `json:"domain"`

	Stages struct {
		URLsImported  Stage `json:"urls_imported"`
		Fetched       Stage `json:"markdown_scraped"`
		Rewritten     Stage `json:"html_generated"`
		Published     Stage `json:"kv_uploaded"`
		WorkerDeployed struct {
			Deployed   bool   `json:"deployed"`
			ScriptName string `json:"script_name,omitempty"`
			Status     string `json:"status"`
		} `json:"worker_deployed"`
	} `json:"stages"`

	// CompletionPercentage blends the five stages, 20 points each:
	// import scores its full share when any pages exist, fetch, rewrite
	// and publish score proportionally, worker deployment scores its
	// full share when deployed.
	CompletionPercentage float64 `json:"completion_percentage"`
}

// Status builds the pipeline status for a client, refreshing the
// snapshot first.
func (t *Tracker) Status(ctx context.Context, clientID string) (*PipelineStatus, error) {
	client, err := t.clients.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, ErrClientNotFound
	}

	s, err := t.Calculate(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("progress: refresh snapshot: %w", err)
	}

	ps := &PipelineStatus{ClientID: client.ID, ClientName: client.Name, Domain: client.Domain}

	ps.Stages.URLsImported = Stage{Complete: s.TotalURLs, Total: s.TotalURLs,
		Status: StageStatus(s.TotalURLs, s.TotalURLs)}
	ps.Stages.Fetched = Stage{Complete: s.URLsFetched, Total: s.TotalURLs,
		Status: StageStatus(s.URLsFetched, s.TotalURLs)}
	ps.Stages.Rewritten = Stage{Complete: s.URLsRewritten, Total: s.TotalURLs,
		Status: StageStatus(s.URLsRewritten, s.TotalURLs)}
	ps.Stages.Published = Stage{Complete: s.URLsPublished, Total: s.TotalURLs,
		Status: StageStatus(s.URLsPublished, s.TotalURLs)}

	ps.Stages.WorkerDeployed.Deployed = client.WorkerDeployed()
	ps.Stages.WorkerDeployed.ScriptName = client.WorkerScriptName
	if client.WorkerDeployed() {
		ps.Stages.WorkerDeployed.Status = StatusComplete
	} else {
		ps.Stages.WorkerDeployed.Status = StatusNotStarted
	}

	if s.TotalURLs > 0 {
		pct := 20.0
		pct += float64(s.URLsFetched) / float64(s.TotalURLs) * 20.0
		pct += float64(s.URLsRewritten) / float64(s.TotalURLs) * 20.0
		pct += float64(s.URLsPublished) / float64(s.TotalURLs) * 20.0
		if client.WorkerDeployed() {
			pct += 20.0
		}
		ps.CompletionPercentage = round2(pct)
	}
	return ps, nil
}
