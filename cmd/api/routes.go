package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/engine/fabricate"
	"github.com/ekkoscope/sherlock/engine/ingest"
	"github.com/ekkoscope/sherlock/pkg/fn"
	"github.com/ekkoscope/sherlock/pkg/metrics"
	"github.com/ekkoscope/sherlock/pkg/mid"
)

const maxBodyBytes = 1 << 20

// Engine is what the HTTP surface calls. *sherlock.Engine implements it.
type Engine interface {
	Capability() domain.Capability
	Ingest(ctx context.Context, req domain.IngestRequest) fn.Result[domain.ContentScan]
	IngestBatch(ctx context.Context, urls []string, ct domain.ContentType, businessID int64, userID *int64) fn.Result[domain.BatchResult]
	Analyze(ctx context.Context, businessID int64, competitorID *int64) fn.Result[domain.GapAnalysisResult]
	GenerateMissions(ctx context.Context, businessID int64, gap *domain.GapAnalysisResult) fn.Result[[]domain.Mission]
	ListMissions(ctx context.Context, businessID int64, status domain.MissionStatus) fn.Result[[]domain.Mission]
	CompleteMission(ctx context.Context, missionID int64) fn.Result[domain.Mission]
	Consult(ctx context.Context, query string, businessID int64, topK int) fn.Result[domain.Consultation]
	Fabricate(ctx context.Context, missionID int64, kind fabricate.Kind) fn.Result[domain.Fabrication]
	Clear(ctx context.Context, businessID int64) fn.Result[domain.ClearReport]
	Rescan(ctx context.Context, businessID int64, clientURL string, competitorURLs []string) fn.Result[domain.AnalysisRun]
	FullAnalysis(ctx context.Context, businessID int64, clientURL string, competitorURLs []string) fn.Result[domain.AnalysisRun]
	AddCompetitor(ctx context.Context, businessID int64, url, name string, isPrimary bool) fn.Result[domain.Competitor]
	ListCompetitors(ctx context.Context, businessID int64) fn.Result[[]domain.Competitor]
}

// envelope is every response body.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func newRouter(eng Engine, logger *slog.Logger, reg *metrics.Registry, corsOrigin string) http.Handler {
	h := &handlers{eng: eng, log: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(mid.Recover(logger))
	r.Use(mid.Logger(logger))
	r.Use(mid.CORS(corsOrigin))
	r.Use(mid.OTel("sherlock-api"))
	r.Use(mid.Metrics(reg))

	r.Get("/api/health", h.health)
	r.Method(http.MethodGet, "/metrics", reg.Handler())

	r.Route("/api/businesses/{businessID}", func(r chi.Router) {
		r.Post("/ingest", h.ingest)
		r.Post("/ingest/batch", h.ingestBatch)
		r.Get("/competitors", h.listCompetitors)
		r.Post("/competitors", h.addCompetitor)
		r.Get("/gap", h.gap)
		r.Get("/missions", h.listMissions)
		r.Post("/missions", h.generateMissions)
		r.Post("/consult", h.consult)
		r.Post("/analysis", h.fullAnalysis)
		r.Post("/rescan", h.rescan)
		r.Delete("/knowledge", h.clear)
	})
	r.Route("/api/missions/{missionID}", func(r chi.Router) {
		r.Post("/fabricate", h.fabricate)
		r.Post("/complete", h.complete)
	})
	return r
}

type handlers struct {
	eng Engine
	log *slog.Logger
}

// --- Requests ---

type ingestRequest struct {
	URL         string             `json:"url"`
	ContentType domain.ContentType `json:"content_type"`
	UserID      *int64             `json:"user_id,omitempty"`
}

type batchRequest struct {
	URLs        []string           `json:"urls"`
	ContentType domain.ContentType `json:"content_type"`
	UserID      *int64             `json:"user_id,omitempty"`
}

type competitorRequest struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	IsPrimary bool   `json:"is_primary"`
}

type consultRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type analysisRequest struct {
	ClientURL      string   `json:"client_url"`
	CompetitorURLs []string `json:"competitor_urls"`
}

type fabricateRequest struct {
	Kind fabricate.Kind `json:"kind"`
}

// --- Handlers ---

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	c := h.eng.Capability()
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{
		"status":          "ok",
		"knowledge_store": c.Enabled(),
		"reason":          c.Reason(),
	}})
}

func (h *handlers) ingest(w http.ResponseWriter, r *http.Request) {
	bid, ok := h.pathID(w, r, "businessID")
	if !ok {
		return
	}
	var req ingestRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	res := h.eng.Ingest(r.Context(), domain.IngestRequest{
		URL: req.URL, ContentType: req.ContentType, BusinessID: bid, UserID: req.UserID,
	})
	if res.IsErr() {
		h.fail(w, res.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: ingest.ToResult(req.URL, res)})
}

func (h *handlers) ingestBatch(w http.ResponseWriter, r *http.Request) {
	bid, ok := h.pathID(w, r, "businessID")
	if !ok {
		return
	}
	var req batchRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	respond(h, w, h.eng.IngestBatch(r.Context(), req.URLs, req.ContentType, bid, req.UserID))
}

func (h *handlers) listCompetitors(w http.ResponseWriter, r *http.Request) {
	bid, ok := h.pathID(w, r, "businessID")
	if !ok {
		return
	}
	respond(h, w, h.eng.ListCompetitors(r.Context(), bid))
}

func (h *handlers) addCompetitor(w http.ResponseWriter, r *http.Request) {
	bid, ok := h.pathID(w, r, "businessID")
	if !ok {
		return
	}
	var req competitorRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	respond(h, w, h.eng.AddCompetitor(r.Context(), bid, req.URL, req.Name, req.IsPrimary))
}

func (h *handlers) gap(w http.ResponseWriter, r *http.Request) {
	bid, ok := h.pathID(w, r, "businessID")
	if !ok {
		return
	}
	var competitorID *int64
	if raw := r.URL.Query().Get("competitor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.fail(w, domain.NewValidationError("competitor_id", raw, domain.ErrInvalidInput))
			return
		}
		competitorID = &id
	}
	respond(h, w, h.eng.Analyze(r.Context(), bid, competitorID))
}

func (h *handlers) listMissions(w http.ResponseWriter, r *http.Request) {
	bid, ok := h.pathID(w, r, "businessID")
	if !ok {
		return
	}
	status := domain.MissionStatus(r.URL.Query().Get("status"))
	respond(h, w, h.eng.ListMissions(r.Context(), bid, status))
}

func (h *handlers) generateMissions(w http.ResponseWriter, r *http.Request) {
	bid, ok := h.pathID(w, r, "businessID")
	if !ok {
		return
	}
	respond(h, w, h.eng.GenerateMissions(r.Context(), bid, nil))
}

func (h *handlers) consult(w http.ResponseWriter, r *http.Request) {
	bid, ok := h.pathID(w, r, "businessID")
	if !ok {
		return
	}
	var req consultRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	respond(h, w, h.eng.Consult(r.Context(), req.Query, bid, req.TopK))
}

func (h *handlers) fullAnalysis(w http.ResponseWriter, r *http.Request) {
	bid, ok := h.pathID(w, r, "businessID")
	if !ok {
		return
	}
	var req analysisRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	respond(h, w, h.eng.FullAnalysis(r.Context(), bid, req.ClientURL, req.CompetitorURLs))
}

func (h *handlers) rescan(w http.ResponseWriter, r *http.Request) {
	bid, ok := h.pathID(w, r, "businessID")
	if !ok {
		return
	}
	var req analysisRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	respond(h, w, h.eng.Rescan(r.Context(), bid, req.ClientURL, req.CompetitorURLs))
}

func (h *handlers) clear(w http.ResponseWriter, r *http.Request) {
	bid, ok := h.pathID(w, r, "businessID")
	if !ok {
		return
	}
	respond(h, w, h.eng.Clear(r.Context(), bid))
}

func (h *handlers) fabricate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "missionID")
	if !ok {
		return
	}
	var req fabricateRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	respond(h, w, h.eng.Fabricate(r.Context(), id, req.Kind))
}

func (h *handlers) complete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "missionID")
	if !ok {
		return
	}
	respond(h, w, h.eng.CompleteMission(r.Context(), id))
}

// --- Helpers ---

func respond[T any](h *handlers, w http.ResponseWriter, res fn.Result[T]) {
	v, err := res.Unwrap()
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: v})
}

func (h *handlers) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.fail(w, domain.NewValidationError(param, raw, domain.ErrInvalidInput))
		return 0, false
	}
	return id, true
}

// decode reads a JSON body into v. With optional set an empty body is
// accepted and leaves v untouched.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, envelope{Error: "invalid request body"})
	return false
}

func (h *handlers) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed", "err", err)
	}
	writeJSON(w, code, envelope{Error: domain.Reason(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrMissionNotFound),
		errors.Is(err, domain.ErrBusinessNotFound),
		errors.Is(err, domain.ErrCompetitorNotFound),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoClientData):
		return http.StatusConflict
	case errors.Is(err, domain.ErrFetch),
		errors.Is(err, domain.ErrInsufficientContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrEmbedding),
		errors.Is(err, domain.ErrVectorWrite),
		errors.Is(err, domain.ErrGeneration),
		errors.Is(err, domain.ErrDimensionMismatch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
