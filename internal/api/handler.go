// Package api is the HTTP surface of deploytrigger: the build system reports
// job completions and polls the queue here, and operators request, cancel and
// inspect rollouts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/djlord-it/deploytrigger/internal/domain"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Engine is the part of the trigger engine the API drives.
type Engine interface {
	OnJobCompletion(ctx context.Context, report domain.JobReport) error
	RequestChange(ctx context.Context, id domain.ApplicationID, change domain.Change) error
	CancelChange(ctx context.Context, id domain.ApplicationID) error
}

type Store interface {
	Create(ctx context.Context, app domain.Application) error
	Require(ctx context.Context, id domain.ApplicationID) (domain.Application, error)
	ListAll(ctx context.Context) ([]domain.Application, error)
}

// Queue is the job queue as seen by the build system and operators.
type Queue interface {
	Jobs(ctx context.Context, id domain.ApplicationID) ([]domain.JobType, error)
	Take(ctx context.Context, n int) ([]domain.QueuedJob, error)
}

// HealthChecker provides backend health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	engine Engine
	store  Store
	queue  Queue
	system domain.System
	logger *slog.Logger
	checks map[string]HealthChecker
	router chi.Router
}

func NewHandler(engine Engine, store Store, queue Queue, system domain.System, logger *slog.Logger) *Handler {
	h := &Handler{
		engine: engine,
		store:  store,
		queue:  queue,
		system: system,
		logger: logger.With("component", "api"),
		checks: make(map[string]HealthChecker),
	}
	h.routes()
	return h
}

// WithHealthChecker adds a backend to the verbose /health response.
func (h *Handler) WithHealthChecker(name string, c HealthChecker) *Handler {
	h.checks[name] = c
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs/report", h.reportJob)
		r.Post("/queue/take", h.takeJobs)

		r.Route("/applications", func(r chi.Router) {
			r.Get("/", h.listApplications)
			r.Post("/", h.createApplication)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getApplication)
				r.Get("/queue", h.getQueue)
				r.Post("/change", h.requestChange)
				r.Delete("/change", h.cancelChange)
			})
		})
	})

	h.router = r
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	// Check if verbose mode requested via ?verbose=true
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	for name, c := range h.checks {
		if err := c.PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[name] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// decode reads a JSON body into v, writing the error response itself when it fails.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (h *Handler) reportJob(w http.ResponseWriter, r *http.Request) {
	var req JobReportRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validateJobReport(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report := req.toDomain()
	if err := h.engine.OnJobCompletion(r.Context(), report); err != nil {
		h.writeEngineError(w, "report job", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) takeJobs(w http.ResponseWriter, r *http.Request) {
	pg, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, err := h.queue.Take(r.Context(), pg.limit)
	if err != nil {
		h.writeEngineError(w, "take jobs", err)
		return
	}

	resp := QueuedJobsResponse{Jobs: make([]QueuedJobResponse, len(jobs))}
	for i, j := range jobs {
		resp.Jobs[i] = QueuedJobResponse{ApplicationID: string(j.ApplicationID), JobType: string(j.JobType)}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listApplications(w http.ResponseWriter, r *http.Request) {
	pg, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	apps, err := h.store.ListAll(r.Context())
	if err != nil {
		h.writeEngineError(w, "list applications", err)
		return
	}

	lo, hi := pg.bounds(len(apps))
	apps = apps[lo:hi]

	resp := ListApplicationsResponse{Applications: make([]ApplicationResponse, len(apps))}
	for i, app := range apps {
		resp.Applications[i] = applicationResponse(app)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createApplication(w http.ResponseWriter, r *http.Request) {
	var req CreateApplicationRequest
	if !decode(w, r, &req) {
		return
	}
	spec, err := validateCreateApplication(req, h.system)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	app := domain.NewApplication(domain.ApplicationID(req.ID), spec)
	if err := h.store.Create(r.Context(), app); err != nil {
		h.writeEngineError(w, "create application", err)
		return
	}
	writeJSON(w, http.StatusCreated, applicationResponse(app))
}

func (h *Handler) getApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}
	app, err := h.store.Require(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "get application", err)
		return
	}
	writeJSON(w, http.StatusOK, applicationResponse(app))
}

func (h *Handler) getQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}
	jobs, err := h.queue.Jobs(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "get queue", err)
		return
	}

	resp := ApplicationQueueResponse{ApplicationID: string(id), Jobs: make([]string, len(jobs))}
	for i, jt := range jobs {
		resp.Jobs[i] = string(jt)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) requestChange(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}
	var req ChangeRequest
	if !decode(w, r, &req) {
		return
	}
	change, err := parseChange(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.RequestChange(r.Context(), id, change); err != nil {
		h.writeEngineError(w, "request change", err)
		return
	}
	writeJSON(w, http.StatusAccepted, changeResponse(change))
}

func (h *Handler) cancelChange(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}
	if err := h.engine.CancelChange(r.Context(), id); err != nil {
		h.writeEngineError(w, "cancel change", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func applicationID(w http.ResponseWriter, r *http.Request) (domain.ApplicationID, bool) {
	raw := chi.URLParam(r, "id")
	if err := validateApplicationID(raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid application id")
		return "", false
	}
	return domain.ApplicationID(raw), true
}

// writeEngineError maps domain errors to status codes. Anything else is an
// infrastructure failure, logged here and reported without detail.
func (h *Handler) writeEngineError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "application not found")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "application already exists")
	case errors.Is(err, domain.ErrChangeInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidChange), errors.Is(err, domain.ErrUnknownJobType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn(op+" timed out", "error", err)
		writeError(w, http.StatusServiceUnavailable, "timed out")
	default:
		h.logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("json encode error", "component", "api", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// page is the limit/offset window of a list or take request.
type page struct {
	limit, offset int
}

// parsePage reads ?limit= and ?offset=. A missing or zero limit means
// DefaultLimit.
func parsePage(r *http.Request) (page, error) {
	q := r.URL.Query()
	p := page{limit: DefaultLimit}

	limit, err := queryCount(q.Get("limit"), "limit")
	if err != nil {
		return page{}, err
	}
	if limit > MaxLimit {
		return page{}, fmt.Errorf("limit exceeds maximum of %d", MaxLimit)
	}
	if limit > 0 {
		p.limit = limit
	}

	if p.offset, err = queryCount(q.Get("offset"), "offset"); err != nil {
		return page{}, err
	}
	return p, nil
}

// bounds clamps the window to a list of n items.
func (p page) bounds(n int) (lo, hi int) {
	lo = min(p.offset, n)
	hi = min(lo+p.limit, n)
	return lo, hi
}

func queryCount(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
