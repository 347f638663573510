// Package server exposes the analysis engine over HTTP: starting runs,
// polling progress, reading per-file line details and aggregate summaries.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/erro"
	"github.com/maxbolgarin/logze/v2"
	"github.com/maxbolgarin/servex/v2"

	"github.com/coursetrack/survival/internal/model"
	"github.com/coursetrack/survival/internal/model/interfaces"
	"github.com/coursetrack/survival/internal/survival"
)

const timeFormat = time.RFC3339

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server handles analysis API requests
type Server struct {
	orchestrator *survival.Orchestrator
	aggregator   *survival.Aggregator
	store        interfaces.AnalysisStore

	config Config
	log    logze.Logger
	server *servex.Server
}

// New creates a new analysis API server
func New(cfg Config, orchestrator *survival.Orchestrator, aggregator *survival.Aggregator, store interfaces.AnalysisStore) (*Server, error) {
	if err := cfg.PrepareAndValidate(); err != nil {
		return nil, erro.Wrap(err, "validate config")
	}

	log := logze.With("module", "server")

	server, err := servex.NewServer(
		servex.WithReadTimeout(cfg.Timeout),
		servex.WithIdleTimeout(cfg.Timeout*2),
		servex.WithLogger(log),
		servex.WithHealthEndpoint(),
		servex.WithDefaultMetrics(),
		servex.WithCertificate(cfg.Certificate),
	)
	if err != nil {
		return nil, erro.Wrap(err, "failed to create server")
	}

	h := &Server{
		orchestrator: orchestrator,
		aggregator:   aggregator,
		store:        store,
		config:       cfg,
		log:          log,
		server:       server,
	}

	server.HandleFunc("/api/v1/analysis/start", h.handleStart)
	server.HandleFunc("/api/v1/analysis/run", h.handleGetRun)
	server.HandleFunc("/api/v1/analysis/runs", h.handleListRuns)
	server.HandleFunc("/api/v1/analysis/files", h.handleListFiles)
	server.HandleFunc("/api/v1/analysis/lines", h.handleListLines)
	server.HandleFunc("/api/v1/analysis/summary", h.handleSummary)

	return h, nil
}

// Start starts the API server
func (h *Server) Start(ctx context.Context) error {
	if h.config.EnableHTTPS {
		return h.server.StartHTTPS(h.config.Address)
	}
	return h.server.StartHTTP(h.config.Address)
}

// Stop stops the API server
func (h *Server) Stop(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// handleStart starts a new analysis run for a project
func (h *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := servex.NewContext(w, r)

	if r.Method != http.MethodPost {
		ctx.Response(http.StatusMethodNotAllowed)
		return
	}

	projectID := r.URL.Query().Get("project_id")
	userID := r.URL.Query().Get("user_id")
	if projectID == "" || userID == "" {
		ctx.BadRequest(errm.New("project_id and user_id are required"), "missing parameters")
		return
	}

	run, err := h.orchestrator.StartRun(r.Context(), projectID, userID)
	if err != nil {
		if errm.Is(err, model.ErrAnalysisAlreadyRunning) {
			h.respond(w, http.StatusConflict, errorBody{Error: err.Error()})
			return
		}
		ctx.InternalServerError(err, "failed to start analysis run")
		return
	}

	h.respond(w, http.StatusAccepted, toRunView(*run))
}

// handleGetRun returns the status/progress snapshot of one run
func (h *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	ctx := servex.NewContext(w, r)

	runID, err := queryInt64(r, "id")
	if err != nil {
		ctx.BadRequest(err, "invalid run id")
		return
	}

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		if errm.Is(err, model.ErrRunNotFound) {
			h.respond(w, http.StatusNotFound, errorBody{Error: err.Error()})
			return
		}
		ctx.InternalServerError(err, "failed to get run")
		return
	}

	h.respond(w, http.StatusOK, toRunView(*run))
}

// handleListRuns returns the project's run history
func (h *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := servex.NewContext(w, r)

	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		ctx.BadRequest(errm.New("project_id is required"), "missing parameters")
		return
	}

	runs, err := h.store.ListRuns(r.Context(), projectID)
	if err != nil {
		ctx.InternalServerError(err, "failed to list runs")
		return
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, toRunView(run))
	}
	h.respond(w, http.StatusOK, views)
}

// handleListFiles returns the per-file results of one run
func (h *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	ctx := servex.NewContext(w, r)

	runID, err := queryInt64(r, "run_id")
	if err != nil {
		ctx.BadRequest(err, "invalid run id")
		return
	}

	files, err := h.store.ListFiles(r.Context(), runID)
	if err != nil {
		ctx.InternalServerError(err, "failed to list files")
		return
	}

	views := make([]fileView, 0, len(files))
	for _, file := range files {
		views = append(views, toFileView(file))
	}
	h.respond(w, http.StatusOK, views)
}

// handleListLines returns one file's lines in display order
func (h *Server) handleListLines(w http.ResponseWriter, r *http.Request) {
	ctx := servex.NewContext(w, r)

	fileID, err := queryInt64(r, "file_id")
	if err != nil {
		ctx.BadRequest(err, "invalid file id")
		return
	}

	lines, err := h.store.ListLines(r.Context(), fileID)
	if err != nil {
		ctx.InternalServerError(err, "failed to list lines")
		return
	}

	views := make([]lineView, 0, len(lines))
	for _, line := range lines {
		views = append(views, toLineView(line))
	}
	h.respond(w, http.StatusOK, views)
}

// handleSummary returns by-author or by-sprint aggregates of one run
func (h *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := servex.NewContext(w, r)

	runID, err := queryInt64(r, "run_id")
	if err != nil {
		ctx.BadRequest(err, "invalid run id")
		return
	}

	groupBy := survival.GroupBy(r.URL.Query().Get("group_by"))
	if groupBy == "" {
		groupBy = survival.GroupByAuthor
	}
	filter := survival.SummaryFilter{
		SprintID: r.URL.Query().Get("sprint_id"),
		AuthorID: r.URL.Query().Get("author_id"),
	}

	summary, err := h.aggregator.Summarize(r.Context(), runID, groupBy, filter)
	if err != nil {
		ctx.InternalServerError(err, "failed to compute summary")
		return
	}

	h.respond(w, http.StatusOK, summary)
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Server) respond(w http.ResponseWriter, code int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		h.log.Err(err, "failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(data); err != nil {
		h.log.Err(err, "failed to write response")
	}
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, errm.Errorf("%s is required", name)
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errm.Wrap(err, "invalid "+name)
	}
	return value, nil
}
