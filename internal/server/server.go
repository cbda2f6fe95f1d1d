// Package server exposes the JSON/HTTP API surface of the visual-regression
// and browser-automation engine: snapshot/test-run/comparison lifecycle,
// page/browser-config/credential/session CRUD, and the ad-hoc session
// operations (ai, perform, extract, screenshot, state) used by controllers
// embedding the engine directly against a live browser session.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/brainzlab/vision/internal/actioncache"
	"github.com/brainzlab/vision/internal/aiexecutor"
	"github.com/brainzlab/vision/internal/baseline"
	"github.com/brainzlab/vision/internal/blobstore"
	"github.com/brainzlab/vision/internal/browsercap"
	"github.com/brainzlab/vision/internal/comparison"
	"github.com/brainzlab/vision/internal/config"
	"github.com/brainzlab/vision/internal/credential"
	"github.com/brainzlab/vision/internal/domain"
	"github.com/brainzlab/vision/internal/llmcap"
	"github.com/brainzlab/vision/internal/metrics"
	"github.com/brainzlab/vision/internal/store"
	"github.com/brainzlab/vision/internal/testrun"
	"github.com/brainzlab/vision/pkg/logger"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var serverStartTime = time.Now()

// Server wires every subsystem behind the HTTP API surface of §6.
type Server struct {
	cfg         *config.Config
	store       *store.Store
	capability  browsercap.Capability
	blobs       *blobstore.Client
	llms        *llmcap.Factory
	actionCache *actioncache.Cache
	credentials *credential.Service
	comparisons *comparison.Engine
	baselines   *baseline.Service
	testruns    *testrun.Service
	executor    *aiexecutor.Executor
	metrics     *metrics.Collector
	hub         *Hub
	limiter     *rate.Limiter
	log         *logger.Logger
}

// New assembles a Server from its already-constructed dependencies.
func New(
	cfg *config.Config,
	st *store.Store,
	cap browsercap.Capability,
	blobs *blobstore.Client,
	llms *llmcap.Factory,
	ac *actioncache.Cache,
	creds *credential.Service,
	comparisons *comparison.Engine,
	baselines *baseline.Service,
	testruns *testrun.Service,
	executor *aiexecutor.Executor,
	mcol *metrics.Collector,
	log *logger.Logger,
) *Server {
	return &Server{
		cfg:         cfg,
		store:       st,
		capability:  cap,
		blobs:       blobs,
		llms:        llms,
		actionCache: ac,
		credentials: creds,
		comparisons: comparisons,
		baselines:   baselines,
		testruns:    testruns,
		executor:    executor,
		metrics:     mcol,
		hub:         NewHub(),
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		log:         log,
	}
}

// Hub fans test-run and AI-task progress events out to WebSocket subscribers.
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]chan []byte
}

// NewHub creates an empty broadcast hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]chan []byte)}
}

// Register starts forwarding broadcasts to conn until Unregister is called.
func (h *Hub) Register(conn *websocket.Conn) {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.conns[conn] = ch
	h.mu.Unlock()
	go func() {
		for msg := range ch {
			_ = conn.WriteMessage(websocket.TextMessage, msg)
		}
	}()
}

// Unregister stops forwarding broadcasts to conn.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.conns[conn]; ok {
		close(ch)
		delete(h.conns, conn)
	}
}

// Broadcast sends a typed event to every connected subscriber.
func (h *Hub) Broadcast(eventType string, data interface{}) {
	payload, err := json.Marshal(map[string]interface{}{"type": eventType, "data": data})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.conns {
		select {
		case ch <- payload:
		default:
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range []string{"http://127.0.0.1", "http://localhost", "https://127.0.0.1", "https://localhost"} {
			if strings.HasPrefix(origin, allowed) {
				return true
			}
		}
		return false
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func rateLimitMiddleware(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// Routes builds the full mux for the API surface of §6.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.metrics.MetricsHandler().ServeHTTP)
	mux.HandleFunc("/metrics/json", s.metrics.JSONHandler())
	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("/snapshots", rateLimitMiddleware(s.limiter, s.handleSnapshots))
	mux.HandleFunc("/snapshots/", rateLimitMiddleware(s.limiter, s.handleSnapshotByID))

	mux.HandleFunc("/test_runs", rateLimitMiddleware(s.limiter, s.handleTestRuns))
	mux.HandleFunc("/test_runs/", rateLimitMiddleware(s.limiter, s.handleTestRunByID))

	mux.HandleFunc("/comparisons/", rateLimitMiddleware(s.limiter, s.handleComparisonAction))

	mux.HandleFunc("/pages", rateLimitMiddleware(s.limiter, s.handlePages))
	mux.HandleFunc("/pages/", rateLimitMiddleware(s.limiter, s.handlePageByID))

	mux.HandleFunc("/browser_configs", rateLimitMiddleware(s.limiter, s.handleBrowserConfigs))

	mux.HandleFunc("/credentials", rateLimitMiddleware(s.limiter, s.handleCredentials))
	mux.HandleFunc("/credentials/", rateLimitMiddleware(s.limiter, s.handleCredentialByID))

	mux.HandleFunc("/sessions", rateLimitMiddleware(s.limiter, s.handleSessions))
	mux.HandleFunc("/sessions/", rateLimitMiddleware(s.limiter, s.handleSessionSubroute))

	mux.HandleFunc("/ai_tasks", rateLimitMiddleware(s.limiter, s.handleAITasks))
	mux.HandleFunc("/ai_tasks/", rateLimitMiddleware(s.limiter, s.handleAITaskByID))

	return mux
}

// --- shared helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := domain.KindOf(err); ok {
		switch kind {
		case domain.KindValidation:
			status = http.StatusBadRequest
		case domain.KindNotFound:
			status = http.StatusNotFound
		case domain.KindUnauthorized:
			status = http.StatusUnauthorized
		case domain.KindForbidden:
			status = http.StatusForbidden
		case domain.KindConflict:
			status = http.StatusConflict
		case domain.KindRateLimited:
			status = http.StatusTooManyRequests
		case domain.KindUpstreamUnavailable, domain.KindPoolTimeout:
			status = http.StatusBadGateway
		case domain.KindBrowserError, domain.KindImageError, domain.KindInternal:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}

// pathTail returns the path segment after prefix, with any trailing
// "/subresource" split off: pathTail("/snapshots/abc/compare", "/snapshots/")
// returns ("abc", "compare").
func pathTail(path, prefix string) (id string, sub string) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	id = parts[0]
	if len(parts) > 1 {
		sub = parts[1]
	}
	return id, sub
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return domain.NewValidationError("request body required", nil)
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.NewValidationError("invalid JSON body", err)
	}
	return nil
}

// --- health / websocket ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"uptime":    time.Since(serverStartTime).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.Register(conn)
	defer s.hub.Unregister(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// --- snapshots ---

type createSnapshotRequest struct {
	PageID          string `json:"page_id"`
	BrowserConfigID string `json:"browser_config_id"`
	Branch          string `json:"branch"`
	Commit          string `json:"commit"`
	Environment     string `json:"environment"`
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createSnapshotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.PageID == "" || req.BrowserConfigID == "" {
		writeError(w, domain.NewValidationError("page_id and browser_config_id are required", nil))
		return
	}
	page, err := s.store.GetPage(req.PageID)
	if err != nil {
		writeError(w, err)
		return
	}
	cfg, err := s.store.GetBrowserConfig(req.BrowserConfigID)
	if err != nil {
		writeError(w, err)
		return
	}
	proj, err := s.store.GetProject(page.ProjectID)
	if err != nil {
		writeError(w, err)
		return
	}

	snap, err := s.testruns.CaptureSnapshot(r.Context(), page, cfg, proj, req.Branch, req.Commit, req.Environment)
	if err != nil {
		s.hub.Broadcast("snapshot.failed", snap)
		writeJSON(w, http.StatusAccepted, snap)
		return
	}
	s.hub.Broadcast("snapshot.captured", snap)
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleSnapshotByID(w http.ResponseWriter, r *http.Request) {
	id, sub := pathTail(r.URL.Path, "/snapshots/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	snap, err := s.store.GetSnapshot(id)
	if err != nil {
		writeError(w, err)
		return
	}
	switch {
	case sub == "" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, snap)
	case sub == "compare" && r.Method == http.MethodPost:
		s.compareSnapshot(w, r, snap)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) compareSnapshot(w http.ResponseWriter, r *http.Request, snap *domain.Snapshot) {
	page, err := s.store.GetPage(snap.PageID)
	if err != nil {
		writeError(w, err)
		return
	}
	proj, err := s.store.GetProject(page.ProjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	bl, err := s.baselines.Current(page.ID, snap.BrowserConfigID, snap.Branch)
	if err != nil {
		writeError(w, err)
		return
	}
	cmp, err := s.comparisons.Run(r.Context(), bl, snap, proj.DiffThreshold)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

// --- test runs ---

type createTestRunRequest struct {
	ProjectID   string `json:"project_id"`
	Branch      string `json:"branch"`
	Commit      string `json:"commit"`
	Environment string `json:"environment"`
}

func (s *Server) handleTestRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createTestRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	proj, err := s.store.GetProject(req.ProjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	pages := s.store.ListPages(req.ProjectID)
	configs := s.store.ListBrowserConfigs(req.ProjectID)
	run := &domain.TestRun{
		ProjectID:   req.ProjectID,
		Branch:      req.Branch,
		Commit:      req.Commit,
		Environment: req.Environment,
	}
	started, err := s.testruns.Start(r.Context(), run, pages, configs, proj)
	if err != nil {
		writeError(w, err)
		return
	}
	s.hub.Broadcast("test_run.started", started)
	writeJSON(w, http.StatusAccepted, started)
}

func (s *Server) handleTestRunByID(w http.ResponseWriter, r *http.Request) {
	id, _ := pathTail(r.URL.Path, "/test_runs/")
	if id == "" || r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	run, err := s.store.GetTestRun(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"test_run":    run,
		"comparisons": s.store.ListComparisonsByTestRun(id),
	})
}

// --- comparisons ---

type reviewRequest struct {
	UpdateBaseline bool   `json:"update_baseline"`
	UserEmail      string `json:"user_email"`
	Notes          string `json:"notes"`
}

func (s *Server) handleComparisonAction(w http.ResponseWriter, r *http.Request) {
	id, sub := pathTail(r.URL.Path, "/comparisons/")
	if id == "" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var cmp *domain.Comparison
	var err error
	switch sub {
	case "approve":
		cmp, err = s.comparisons.Approve(r.Context(), id, req.UserEmail, req.Notes, req.UpdateBaseline)
	case "reject":
		cmp, err = s.comparisons.Reject(id, req.UserEmail, req.Notes)
	case "update_baseline":
		cmp, err = s.comparisons.Approve(r.Context(), id, req.UserEmail, req.Notes, true)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.hub.Broadcast("comparison."+sub, cmp)
	writeJSON(w, http.StatusOK, cmp)
}

// --- pages ---

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projectID := r.URL.Query().Get("project_id")
		writeJSON(w, http.StatusOK, s.store.ListPages(projectID))
	case http.MethodPost:
		var page domain.Page
		if err := decodeJSON(r, &page); err != nil {
			writeError(w, err)
			return
		}
		created, err := s.store.CreatePage(&page)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePageByID(w http.ResponseWriter, r *http.Request) {
	id, _ := pathTail(r.URL.Path, "/pages/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		page, err := s.store.GetPage(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case http.MethodPut, http.MethodPatch:
		page, err := s.store.GetPage(id)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := decodeJSON(r, page); err != nil {
			writeError(w, err)
			return
		}
		if err := s.store.UpdatePage(page); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- browser configs ---

func (s *Server) handleBrowserConfigs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.store.ListBrowserConfigs(r.URL.Query().Get("project_id")))
	case http.MethodPost:
		var bc domain.BrowserConfig
		if err := decodeJSON(r, &bc); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, s.store.CreateBrowserConfig(&bc))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- credentials ---

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.store.ListCredentials(r.URL.Query().Get("project_id")))
	case http.MethodPost:
		var c domain.Credential
		if err := decodeJSON(r, &c); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, s.store.CreateCredential(&c))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCredentialByID(w http.ResponseWriter, r *http.Request) {
	id, sub := pathTail(r.URL.Path, "/credentials/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch {
	case sub == "" && r.Method == http.MethodGet:
		cred, err := s.store.GetCredential(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cred)
	case sub == "" && r.Method == http.MethodDelete:
		if err := s.store.RevokeCredential(id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

// --- sessions ---

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.store.ListBrowserSessions(r.URL.Query().Get("project_id")))
	case http.MethodPost:
		var req struct {
			ProjectID string          `json:"project_id"`
			Viewport  domain.Viewport `json:"viewport"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		sessionID, err := s.capability.CreateSession(r.Context(), browsercap.SessionProfile{Viewport: req.Viewport})
		if err != nil {
			writeError(w, err)
			return
		}
		bs := s.store.CreateBrowserSession(&domain.BrowserSession{
			ID:        sessionID,
			ProjectID: req.ProjectID,
			Status:    domain.SessionActive,
		})
		writeJSON(w, http.StatusCreated, bs)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionSubroute(w http.ResponseWriter, r *http.Request) {
	id, sub := pathTail(r.URL.Path, "/sessions/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch {
	case sub == "" && r.Method == http.MethodGet:
		bs, err := s.store.GetBrowserSession(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bs)
	case sub == "" && r.Method == http.MethodDelete:
		if err := s.capability.CloseSession(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		_ = s.store.DeleteBrowserSession(id)
		w.WriteHeader(http.StatusNoContent)
	case sub == "ai" && r.Method == http.MethodPost:
		s.handleSessionAI(w, r, id)
	case sub == "perform" && r.Method == http.MethodPost:
		s.handleSessionPerform(w, r, id)
	case sub == "extract" && r.Method == http.MethodPost:
		s.handleSessionExtract(w, r, id)
	case sub == "screenshot" && r.Method == http.MethodGet:
		s.handleSessionScreenshot(w, r, id)
	case sub == "state" && r.Method == http.MethodGet:
		s.handleSessionState(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

type aiStepRequest struct {
	Instruction string `json:"instruction"`
}

type aiStepResponse struct {
	Success   bool   `json:"success"`
	Action    string `json:"action"`
	Reasoning string `json:"reasoning"`
}

// handleSessionAI performs a single observe-decide-act cycle against an
// already-open session, for callers driving the loop themselves rather than
// delegating it to a full AITask. Only a "click" decision is carried out in
// the browser; any other action type is returned without being performed.
func (s *Server) handleSessionAI(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req aiStepRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Instruction == "" {
		writeError(w, domain.NewValidationError("instruction is required", nil))
		return
	}

	llm, err := s.llms.New(r.Context(), s.cfg.DefaultModel, "")
	if err != nil {
		writeError(w, err)
		return
	}
	screenshot, err := s.capability.Screenshot(r.Context(), sessionID, false)
	if err != nil {
		writeError(w, err)
		return
	}
	snapshot, err := s.capability.ExtractElementsWithRefs(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	currentURL, _ := s.capability.CurrentURL(r.Context(), sessionID)

	prompt := fmt.Sprintf(
		"Instruction: %s\nCurrent URL: %s\nElements: %d visible.\nRespond with JSON: {\"action\":{\"type\":\"click|type|scroll|wait\",\"ref\":\"...\",\"value\":\"...\"},\"reasoning\":\"...\"}",
		req.Instruction, currentURL, len(snapshot.Elements),
	)
	result, err := llm.AnalyzeImage(r.Context(), screenshot, "image/png", prompt)
	if err != nil {
		writeError(w, err)
		return
	}

	var decoded struct {
		Action struct {
			Type  string `json:"type"`
			Ref   string `json:"ref"`
			Value string `json:"value"`
		} `json:"action"`
		Reasoning string `json:"reasoning"`
	}
	success := true
	if err := json.Unmarshal([]byte(result.Text), &decoded); err != nil {
		success = false
	} else if decoded.Action.Type == "click" {
		if el, ok := findRef(snapshot.Elements, decoded.Action.Ref); ok {
			if err := s.capability.PerformAction(r.Context(), sessionID, browsercap.ActionClickAt, "", "", browsercap.ActionOptions{HasXY: true, X: el.CenterX, Y: el.CenterY}); err != nil {
				success = false
			}
		} else {
			success = false
		}
	}

	writeJSON(w, http.StatusOK, aiStepResponse{
		Success:   success,
		Action:    decoded.Action.Type,
		Reasoning: decoded.Reasoning,
	})
}

func findRef(elements []browsercap.ElementRef, ref string) (browsercap.ElementRef, bool) {
	for _, el := range elements {
		if el.Ref == ref {
			return el, true
		}
	}
	return browsercap.ElementRef{}, false
}

type performRequest struct {
	Action   string                   `json:"action"`
	Selector string                   `json:"selector"`
	Value    string                   `json:"value"`
	Options  browsercap.ActionOptions `json:"options"`
}

func (s *Server) handleSessionPerform(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req performRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	if s.log != nil {
		ctx = s.log.WithSessionID(ctx, sessionID)
	}
	err := s.capability.PerformAction(ctx, sessionID, browsercap.Action(req.Action), req.Selector, req.Value, req.Options)
	if err != nil {
		if s.log != nil {
			s.log.WarnContext(ctx, "session action failed", zap.String("action", req.Action), zap.Error(err))
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type extractRequest struct {
	Instruction string          `json:"instruction"`
	Schema      json.RawMessage `json:"schema"`
	UseVision   bool            `json:"use_vision"`
}

func (s *Server) handleSessionExtract(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req extractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	llm, err := s.llms.New(r.Context(), s.cfg.DefaultModel, "")
	if err != nil {
		writeError(w, err)
		return
	}

	var result map[string]interface{}
	if req.UseVision {
		screenshot, err := s.capability.Screenshot(r.Context(), sessionID, false)
		if err != nil {
			writeError(w, err)
			return
		}
		res, err := llm.AnalyzeImage(r.Context(), screenshot, "image/png", req.Instruction)
		if err != nil {
			writeError(w, err)
			return
		}
		result = map[string]interface{}{"text": res.Text}
	} else {
		content, err := s.capability.PageContent(r.Context(), sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		messages := []llmcap.Message{
			{Role: "system", Content: req.Instruction},
			{Role: "user", Content: content},
		}
		result, err = llm.ExtractStructured(r.Context(), messages, req.Schema)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSessionScreenshot(w http.ResponseWriter, r *http.Request, sessionID string) {
	format := r.URL.Query().Get("format")
	fullPage := r.URL.Query().Get("full_page") == "true"
	data, err := s.capability.Screenshot(r.Context(), sessionID, fullPage)
	if err != nil {
		writeError(w, err)
		return
	}
	if format == "binary" {
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"image_base64": base64.StdEncoding.EncodeToString(data)})
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request, sessionID string) {
	currentURL, err := s.capability.CurrentURL(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	title, _ := s.capability.CurrentTitle(r.Context(), sessionID)
	alive := s.capability.SessionAlive(r.Context(), sessionID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"url":   currentURL,
		"title": title,
		"alive": alive,
	})
}

// runTask executes an AI task end-to-end in the background (Run owns session
// creation and teardown), broadcasting completion to WebSocket subscribers.
func (s *Server) runTask(ctx context.Context, task *domain.AITask, projectAPIKey, projectToken string) {
	if err := s.executor.Run(ctx, task, projectAPIKey, projectToken); err != nil {
		s.log.Error("ai_task_failed", zap.String("task_id", task.ID), zap.Error(err))
	}
	s.hub.Broadcast("ai_task.completed", task)
}

func (s *Server) handleAITasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var task domain.AITask
		if err := decodeJSON(r, &task); err != nil {
			writeError(w, err)
			return
		}
		if task.Instruction == "" {
			writeError(w, domain.NewValidationError("instruction is required", nil))
			return
		}
		if task.Model == "" {
			task.Model = s.cfg.DefaultModel
		}
		task.Status = domain.TaskPending
		created := s.store.CreateAITask(&task)
		go s.runTask(context.Background(), created, "", "")
		writeJSON(w, http.StatusAccepted, created)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAITaskByID(w http.ResponseWriter, r *http.Request) {
	id, sub := pathTail(r.URL.Path, "/ai_tasks/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch {
	case sub == "" && r.Method == http.MethodGet:
		task, err := s.store.GetAITask(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"task":  task,
			"steps": s.store.ListTaskSteps(id),
		})
	case sub == "stop" && r.Method == http.MethodPost:
		if err := s.store.RequestStop(id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		http.NotFound(w, r)
	}
}
