package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/edgegeo/aicache/cachekey"
	"github.com/edgegeo/aicache/catalog"
	"github.com/edgegeo/aicache/edgekv"
	"github.com/edgegeo/aicache/edgeworker"
	"github.com/edgegeo/aicache/llmstxt"
	"github.com/edgegeo/aicache/netguard"
	"github.com/edgegeo/aicache/observability"
	"github.com/edgegeo/aicache/pipeline"
	"github.com/edgegeo/aicache/progress"
	"github.com/edgegeo/aicache/registry"
	"github.com/edgegeo/aicache/shield"
	"github.com/edgegeo/aicache/sitemap"
	"github.com/edgegeo/aicache/traffic"
)

type services struct {
	clients   *registry.Registry
	pages     *catalog.Store
	importer  *sitemap.Importer
	pipeline  *pipeline.Pipeline
	tracker   *progress.Tracker
	traffic   *traffic.Service
	llms      *llmstxt.Generator
	events    *observability.EventLogger
	masterKey string
}

func newRouter(s *services) http.Handler {
	r := chi.NewRouter()
	r.Use(shield.TraceID)
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
	r.Use(shield.MaxJSONBody(netguard.MaxResponseBody))
	// The pixel and llms.txt are hit by storefront browsers and AI
	// crawlers; everything else needs the master key.
	r.Use(shield.APIKey(s.masterKey, "/health", "/llms.txt", "/api/v1/pixel/track"))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Get("/llms.txt", s.handleLLMSTxt)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/clients", func(r chi.Router) {
			r.Post("/", s.createClient)
			r.Get("/", s.listClients)
			r.Get("/{clientID}", s.getClient)
			r.Put("/{clientID}", s.updateClient)
			r.Delete("/{clientID}", s.deleteClient)
		})

		r.Route("/sitemap", func(r chi.Router) {
			r.Post("/import", s.importSitemap)
			r.Get("/client/{clientID}/pages", s.listPages)
		})

		r.Route("/apify", func(r chi.Router) {
			r.Post("/scrape-url", s.scrapeURL)
			r.Post("/scrape-client/{clientID}", s.scrapeClient)
			r.Get("/status/{pageID}", s.fetchStatus)
		})

		r.Route("/gemini", func(r chi.Router) {
			r.Post("/process-page/{pageID}", s.processPage)
			r.Post("/process-client/{clientID}", s.processClient)
			r.Get("/status/{pageID}", s.rewriteStatus)
		})

		r.Route("/cloudflare/kv", func(r chi.Router) {
			r.Post("/upload/{pageID}", s.uploadPage)
			r.Post("/upload-client/{clientID}", s.uploadClient)
			r.Delete("/delete/{pageID}", s.deletePageKV)
			r.Get("/status/{clientID}", s.kvStatus)
			r.Get("/keys/{clientID}", s.kvKeys)
		})

		r.Route("/cloudflare/worker", func(r chi.Router) {
			r.Post("/create/{clientID}", s.createWorker)
			r.Put("/update/{clientID}", s.updateWorker)
			r.Get("/status/{clientID}", s.workerStatus)
			r.Delete("/delete/{clientID}", s.deleteWorker)
		})

		r.Route("/pages_analytics", func(r chi.Router) {
			r.Get("/client/{clientID}", s.getAnalytics)
			r.Post("/calculate/{clientID}", s.calculateAnalytics)
			r.Post("/calculate-all", s.calculateAllAnalytics)
		})

		r.Get("/status/pipeline/{clientID}", s.pipelineStatus)

		r.Route("/visits", func(r chi.Router) {
			r.Post("/record", s.recordVisit)
			r.Get("/analytics/{clientID}", s.visitAnalytics)
		})

		r.Post("/pixel/track", s.trackPixel)

		r.Route("/llms-txt", func(r chi.Router) {
			r.Get("/generate/{clientID}", s.generateLLMSTxt)
			r.Post("/invalidate-cache/{clientID}", s.invalidateLLMSTxt)
		})
	})

	return r
}

// statusFor maps service errors to HTTP codes: lookups to 404, stage
// and input preconditions to 409/400, conflicts to 409, everything
// else to 502 (upstream) or 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, pipeline.ErrPageNotFound),
		errors.Is(err, pipeline.ErrClientNotFound),
		errors.Is(err, progress.ErrClientNotFound),
		errors.Is(err, traffic.ErrClientUnknown),
		errors.Is(err, llmstxt.ErrClientNotFound):
		return 404
	case errors.Is(err, registry.ErrConflict):
		return 409
	case errors.Is(err, registry.ErrNoEdgeCredentials),
		errors.Is(err, registry.ErrNoLLMKey),
		errors.Is(err, edgeworker.ErrNoZone):
		return 400
	case pipeline.IsPrecondition(err):
		return 409
	default:
		return 502
	}
}

func (s *services) fail(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

// ---- clients ----

type clientRequest struct {
	Name              string `json:"name"`
	Domain            string `json:"domain"`
	Active            *bool  `json:"is_active"`
	EdgeAccountID     string `json:"edge_account_id"`
	EdgeKVNamespaceID string `json:"edge_kv_namespace_id"`
	EdgeZoneID        string `json:"edge_zone_id"`
	EdgeAPIToken      string `json:"edge_api_token"`
	LLMAPIKey         string `json:"llm_api_key"`
}

func (s *services) createClient(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if req.Name == "" || req.Domain == "" {
		writeMessage(w, 400, "name and domain are required")
		return
	}
	c := &registry.Client{
		Name:              req.Name,
		Domain:            req.Domain,
		Active:            true,
		EdgeAccountID:     req.EdgeAccountID,
		EdgeKVNamespaceID: req.EdgeKVNamespaceID,
		EdgeZoneID:        req.EdgeZoneID,
	}
	if req.Active != nil {
		c.Active = *req.Active
	}
	if err := s.clients.CreateClient(r.Context(), c, req.EdgeAPIToken, req.LLMAPIKey); err != nil {
		s.fail(w, err)
		return
	}
	s.events.Log(r.Context(), observability.Event{
		EventType: "client_created", EntityType: "client", EntityID: c.ID,
		TenantID: c.ID, Action: "create", Success: true,
	})
	writeJSON(w, 201, c.AsView())
}

func (s *services) listClients(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	list, err := s.clients.Store().List(r.Context(), activeOnly)
	if err != nil {
		s.fail(w, err)
		return
	}
	views := make([]registry.View, len(list))
	for i, c := range list {
		views[i] = c.AsView()
	}
	writeJSON(w, 200, views)
}

func (s *services) getClient(w http.ResponseWriter, r *http.Request) {
	c, err := s.clients.Store().Get(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if c == nil {
		writeMessage(w, 404, "client not found")
		return
	}
	if r.URL.Query().Get("include_secrets") == "true" {
		sv, err := s.clients.RevealSecrets(c)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, 200, sv)
		return
	}
	writeJSON(w, 200, c.AsView())
}

func (s *services) updateClient(w http.ResponseWriter, r *http.Request) {
	c, err := s.clients.Store().Get(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if c == nil {
		writeMessage(w, 404, "client not found")
		return
	}
	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if req.Name != "" {
		c.Name = req.Name
	}
	if req.Domain != "" {
		c.Domain = req.Domain
	}
	if req.Active != nil {
		c.Active = *req.Active
	}
	if req.EdgeAccountID != "" {
		c.EdgeAccountID = req.EdgeAccountID
	}
	if req.EdgeKVNamespaceID != "" {
		c.EdgeKVNamespaceID = req.EdgeKVNamespaceID
	}
	if req.EdgeZoneID != "" {
		c.EdgeZoneID = req.EdgeZoneID
	}
	if err := s.clients.UpdateClient(r.Context(), c, req.EdgeAPIToken, req.LLMAPIKey); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, 200, c.AsView())
}

func (s *services) deleteClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	if err := s.clients.Store().Delete(r.Context(), clientID); err != nil {
		s.fail(w, err)
		return
	}
	s.events.Log(r.Context(), observability.Event{
		EventType: "client_deleted", EntityType: "client", EntityID: clientID,
		TenantID: clientID, Action: "delete", Success: true,
	})
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

// ---- sitemap ----

func (s *services) importSitemap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID   string `json:"client_id"`
		SitemapURL string `json:"sitemap_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if req.ClientID == "" || req.SitemapURL == "" {
		writeMessage(w, 400, "client_id and sitemap_url are required")
		return
	}
	c, err := s.clients.Store().Get(r.Context(), req.ClientID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if c == nil {
		writeMessage(w, 404, "client not found")
		return
	}
	res, err := s.importer.Import(r.Context(), c.ID, req.SitemapURL)
	if err != nil {
		writeError(w, 502, err)
		return
	}
	s.events.Log(r.Context(), observability.Event{
		EventType: "sitemap_imported", EntityType: "sitemap", EntityID: req.SitemapURL,
		TenantID: c.ID, Action: "import", Success: true,
	})
	writeJSON(w, 200, res)
}

func (s *services) listPages(w http.ResponseWriter, r *http.Request) {
	pages, err := s.pages.ListByClient(r.Context(), chi.URLParam(r, "clientID"), queryInt(r, "limit", 0))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, 200, pages)
}

// ---- fetch (scrape) ----

func (s *services) scrapeURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PageID          string `json:"page_id"`
		URL             string `json:"url"`
		ClientID        string `json:"client_id"`
		Force           bool   `json:"force_rescrape"`
		CreateIfMissing *bool  `json:"create_if_missing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}

	pageID := req.PageID
	if pageID == "" {
		if req.URL == "" || req.ClientID == "" {
			writeMessage(w, 400, "page_id or url with client_id is required")
			return
		}
		page, err := s.pages.GetByURL(r.Context(), req.ClientID, req.URL)
		if err != nil {
			s.fail(w, err)
			return
		}
		if page == nil {
			if req.CreateIfMissing != nil && !*req.CreateIfMissing {
				writeMessage(w, 404, "page not found")
				return
			}
			page, _, err = s.pages.Insert(r.Context(), req.ClientID, req.URL)
			if err != nil {
				s.fail(w, err)
				return
			}
		}
		pageID = page.ID
	}

	out, err := s.pipeline.Fetch(r.Context(), pageID, req.Force)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, 200, out)
}

func (s *services) scrapeClient(w http.ResponseWriter, r *http.Request) {
	res, err := s.pipeline.FetchBatch(r.Context(), chi.URLParam(r, "clientID"), queryInt(r, "limit", 0))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, 200, res)
}

func (s *services) fetchStatus(w http.ResponseWriter, r *http.Request) {
	page, err := s.pages.Get(r.Context(), chi.URLParam(r, "pageID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if page == nil {
		writeMessage(w, 404, "page not found")
		return
	}
	writeJSON(w, 200, map[string]any{
		"page_id":        page.ID,
		"url":            page.URL,
		"fetched":        page.Fetched(),
		"fetched_at":     page.FetchedAt,
		"fetch_attempts": page.FetchAttempts,
		"fetch_error":    page.FetchError,
		"content_bytes":  len(page.RawContent),
	})
}

// ---- rewrite ----

func (s *services) processPage(w http.ResponseWriter, r *http.Request) {
	out, err := s.pipeline.Rewrite(r.Context(), chi.URLParam(r, "pageID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, 200, out)
}

func (s *services) processClient(w http.ResponseWriter, r *http.Request) {
	res, err := s.pipeline.RewriteBatch(r.Context(), chi.URLParam(r, "clientID"), queryInt(r, "limit", 0))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, 200, res)
}

func (s *services) rewriteStatus(w http.ResponseWriter, r *http.Request) {
	page, err := s.pages.Get(r.Context(), chi.URLParam(r, "pageID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if page == nil {
		writeMessage(w, 404, "page not found")
		return
	}
	writeJSON(w, 200, map[string]any{
		"page_id":      page.ID,
		"url":          page.URL,
		"rewritten":    page.Rewritten(),
		"rewritten_at": page.RewrittenAt,
		"html_bytes":   len(page.GeneratedHTML),
	})
}

// ---- publish (edge KV) ----

func parseStrategy(raw string) (cachekey.Strategy, error) {
	if raw == "" {
		return cachekey.StrategyPath, nil
	}
	return cachekey.ParseStrategy(raw)
}

func (s *services) uploadPage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Strategy string `json:"key_strategy"`
		Force    bool   `json:"force"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
	}
	strategy, err := parseStrategy(req.Strategy)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	out, err := s.pipeline.Publish(r.Context(), chi.URLParam(r, "pageID"), strategy, req.Force)
	if err != nil {
		s.fail(w, err)
		return
	}
	if page, perr := s.pages.Get(r.Context(), out.PageID); perr == nil && page != nil {
		s.llms.Invalidate(page.ClientID)
	}
	writeJSON(w, 200, out)
}

func (s *services) uploadClient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Strategy string `json:"key_strategy"`
		Limit    int    `json:"limit"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
	}
	strategy, err := parseStrategy(req.Strategy)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	clientID := chi.URLParam(r, "clientID")
	res, err := s.pipeline.PublishBatch(r.Context(), clientID, strategy, req.Limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.llms.Invalidate(clientID)
	s.events.Log(r.Context(), observability.Event{
		EventType: "pages_published", EntityType: "client", EntityID: clientID,
		TenantID: clientID, Action: "publish_batch", Success: res.Failed == 0,
	})
	writeJSON(w, 200, res)
}

func (s *services) deletePageKV(w http.ResponseWriter, r *http.Request) {
	out, err := s.pipeline.Unpublish(r.Context(), chi.URLParam(r, "pageID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, 200, out)
}

// kvClient builds a per-tenant edge KV client for passthrough queries.
func (s *services) kvClient(r *http.Request, clientID string) (*edgekv.Client, *registry.Client, error) {
	c, err := s.clients.Store().Get(r.Context(), clientID)
	if err != nil {
		return nil, nil, err
	}
	if c == nil {
		return nil, nil, registry.ErrNotFound
	}
	token, err := s.clients.EdgeToken(c)
	if err != nil {
		return nil, nil, err
	}
	kv, err := edgekv.New(edgekv.Config{
		AccountID:   c.EdgeAccountID,
		NamespaceID: c.EdgeKVNamespaceID,
		APIToken:    token,
	})
	return kv, c, err
}

func (s *services) kvStatus(w http.ResponseWriter, r *http.Request) {
	kv, c, err := s.kvClient(r, chi.URLParam(r, "clientID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	counts, err := s.pages.Counts(r.Context(), c.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	reachable := true
	if _, err := kv.ListKeys(r.Context(), "", "", 1); err != nil {
		reachable = false
	}
	writeJSON(w, 200, map[string]any{
		"client_id":       c.ID,
		"namespace_id":    c.EdgeKVNamespaceID,
		"reachable":       reachable,
		"published_pages": counts.Published,
	})
}

func (s *services) kvKeys(w http.ResponseWriter, r *http.Request) {
	kv, _, err := s.kvClient(r, chi.URLParam(r, "clientID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	page, err := kv.ListKeys(r.Context(),
		r.URL.Query().Get("prefix"), r.URL.Query().Get("cursor"), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, 502, err)
		return
	}
	writeJSON(w, 200, page)
}

// ---- worker ----

func (s *services) deployWorker(w http.ResponseWriter, r *http.Request, update bool) {
	var opts pipeline.DeployOptions
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeError(w, 400, err)
			return
		}
	}
	clientID := chi.URLParam(r, "clientID")
	res, err := s.pipeline.DeployWorker(r.Context(), clientID, opts)
	if err != nil {
		s.fail(w, err)
		return
	}
	action := "create"
	if update {
		action = "update"
	}
	s.events.Log(r.Context(), observability.Event{
		EventType: "worker_deployed", EntityType: "worker", EntityID: res.ScriptName,
		TenantID: clientID, Action: action, Success: res.RouteError == "",
	})
	writeJSON(w, 200, res)
}

func (s *services) createWorker(w http.ResponseWriter, r *http.Request) {
	s.deployWorker(w, r, false)
}

func (s *services) updateWorker(w http.ResponseWriter, r *http.Request) {
	s.deployWorker(w, r, true)
}

func (s *services) workerStatus(w http.ResponseWriter, r *http.Request) {
	c, err := s.clients.Store().Get(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if c == nil {
		writeMessage(w, 404, "client not found")
		return
	}
	status := map[string]any{
		"client_id":   c.ID,
		"deployed":    c.WorkerDeployed(),
		"script_name": c.WorkerScriptName,
		"deployed_at": c.WorkerDeployedAt,
		"route_id":    c.WorkerRouteID,
	}
	// Confirm against the platform when credentials allow it.
	if c.WorkerDeployed() {
		if token, err := s.clients.EdgeToken(c); err == nil {
			worker, werr := edgeworker.New(edgeworker.Config{
				AccountID: c.EdgeAccountID,
				ZoneID:    c.EdgeZoneID,
				APIToken:  token,
			})
			if werr == nil {
				if exists, eerr := worker.ScriptExists(r.Context(), c.WorkerScriptName); eerr == nil {
					status["script_live"] = exists
				}
			}
		}
	}
	writeJSON(w, 200, status)
}

func (s *services) deleteWorker(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	if err := s.pipeline.RemoveWorker(r.Context(), clientID); err != nil {
		s.fail(w, err)
		return
	}
	s.events.Log(r.Context(), observability.Event{
		EventType: "worker_removed", EntityType: "worker", EntityID: clientID,
		TenantID: clientID, Action: "delete", Success: true,
	})
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

// ---- analytics ----

func (s *services) getAnalytics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.tracker.Get(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if snap == nil {
		writeMessage(w, 404, "no analytics calculated yet")
		return
	}
	writeJSON(w, 200, snap)
}

func (s *services) calculateAnalytics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.tracker.Calculate(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, 200, snap)
}

func (s *services) calculateAllAnalytics(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.tracker.CalculateAll(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"calculated": len(snaps), "snapshots": snaps})
}

func (s *services) pipelineStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.tracker.Status(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, 200, status)
}

// ---- traffic ----

func (s *services) recordVisit(w http.ResponseWriter, r *http.Request) {
	var report traffic.VisitReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, 400, err)
		return
	}
	if report.IP == "" {
		report.IP = clientIP(r)
	}
	visit, err := s.traffic.RecordWorkerVisit(r.Context(), &report)
	if err != nil {
		if errors.Is(err, traffic.ErrMissingURL) {
			writeError(w, 400, err)
			return
		}
		s.fail(w, err)
		return
	}
	writeJSON(w, 201, visit)
}

func (s *services) visitAnalytics(w http.ResponseWriter, r *http.Request) {
	report, err := s.traffic.Report(r.Context(), chi.URLParam(r, "clientID"), queryInt(r, "days", 30))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, 200, report)
}

func (s *services) trackPixel(w http.ResponseWriter, r *http.Request) {
	var ev traffic.PixelEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, 400, err)
		return
	}
	if ev.IP == "" {
		ev.IP = clientIP(r)
	}
	if ev.UserAgent == "" {
		ev.UserAgent = r.UserAgent()
	}
	if ev.Referrer == "" {
		ev.Referrer = r.Referer()
	}
	res, err := s.traffic.TrackPixel(r.Context(), &ev)
	if err != nil {
		if errors.Is(err, traffic.ErrMissingOrderID) || errors.Is(err, traffic.ErrMissingURL) {
			writeError(w, 400, err)
			return
		}
		s.fail(w, err)
		return
	}
	writeJSON(w, 201, res)
}

// ---- llms.txt ----

func (s *services) handleLLMSTxt(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		if domain := r.URL.Query().Get("domain"); domain != "" {
			c, err := s.clients.Store().GetByDomain(r.Context(), domain)
			if err == nil && c != nil {
				clientID = c.ID
			}
		}
	}
	if clientID == "" {
		writeMessage(w, 400, "client_id or domain is required")
		return
	}
	doc, err := s.llms.Generate(r.Context(), clientID)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(200)
	w.Write([]byte(doc.Content))
}

func (s *services) generateLLMSTxt(w http.ResponseWriter, r *http.Request) {
	doc, err := s.llms.Generate(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, 200, doc)
}

func (s *services) invalidateLLMSTxt(w http.ResponseWriter, r *http.Request) {
	s.llms.Invalidate(chi.URLParam(r, "clientID"))
	writeJSON(w, 200, map[string]string{"status": "invalidated"})
}

// ---- helpers ----

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the uniform error shape: a machine-classifiable kind
// plus a human-readable message.
type errorBody struct {
	Kind    string `json:"error"`
	Message string `json:"message"`
}

func errorKind(code int) string {
	switch code {
	case 400:
		return "invalid_request"
	case 401:
		return "unauthorized"
	case 404:
		return "not_found"
	case 409:
		return "conflict"
	default:
		return "upstream_error"
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeMessage(w, code, err.Error())
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Kind: errorKind(code), Message: msg})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
