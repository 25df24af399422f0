package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/engine/fabricate"
	"github.com/ekkoscope/sherlock/pkg/fn"
	"github.com/ekkoscope/sherlock/pkg/metrics"
)

// fakeEngine records the arguments it was called with.
type fakeEngine struct {
	capability domain.Capability
	err        error

	gotBusiness   int64
	gotMission    int64
	gotCompetitor *int64
	gotKind       fabricate.Kind
	gotURLs       []string
	gotQuery      string
	gotStatus     domain.MissionStatus
}

func newFake() *fakeEngine { return &fakeEngine{capability: domain.Available()} }

func result[T any](f *fakeEngine, v T) fn.Result[T] {
	if f.err != nil {
		return fn.Err[T](f.err)
	}
	return fn.Ok(v)
}

func (f *fakeEngine) Capability() domain.Capability { return f.capability }

func (f *fakeEngine) Ingest(_ context.Context, req domain.IngestRequest) fn.Result[domain.ContentScan] {
	f.gotBusiness = req.BusinessID
	return result(f, domain.ContentScan{ID: 9, URL: req.URL, VectorID: "vec-1", Topics: []domain.Topic{{Name: "hvac repair"}}})
}

func (f *fakeEngine) IngestBatch(_ context.Context, urls []string, _ domain.ContentType, bid int64, _ *int64) fn.Result[domain.BatchResult] {
	f.gotBusiness, f.gotURLs = bid, urls
	return result(f, domain.BatchResult{Attempted: len(urls), Succeeded: len(urls)})
}

func (f *fakeEngine) Analyze(_ context.Context, bid int64, competitorID *int64) fn.Result[domain.GapAnalysisResult] {
	f.gotBusiness, f.gotCompetitor = bid, competitorID
	return result(f, domain.GapAnalysisResult{BusinessID: bid, GapScore: 67})
}

func (f *fakeEngine) GenerateMissions(_ context.Context, bid int64, _ *domain.GapAnalysisResult) fn.Result[[]domain.Mission] {
	f.gotBusiness = bid
	return result(f, []domain.Mission{{ID: 1, BusinessID: bid}})
}

func (f *fakeEngine) ListMissions(_ context.Context, bid int64, status domain.MissionStatus) fn.Result[[]domain.Mission] {
	f.gotBusiness, f.gotStatus = bid, status
	return result(f, []domain.Mission{})
}

func (f *fakeEngine) CompleteMission(_ context.Context, id int64) fn.Result[domain.Mission] {
	f.gotMission = id
	return result(f, domain.Mission{ID: id, Status: domain.MissionCompleted})
}

func (f *fakeEngine) Consult(_ context.Context, q string, bid int64, _ int) fn.Result[domain.Consultation] {
	f.gotBusiness, f.gotQuery = bid, q
	return result(f, domain.Consultation{Answer: "do three things", Grounded: true})
}

func (f *fakeEngine) Fabricate(_ context.Context, id int64, kind fabricate.Kind) fn.Result[domain.Fabrication] {
	f.gotMission, f.gotKind = id, kind
	return result(f, domain.Fabrication{MissionID: id})
}

func (f *fakeEngine) Clear(_ context.Context, bid int64) fn.Result[domain.ClearReport] {
	f.gotBusiness = bid
	return result(f, domain.ClearReport{VectorsDeleted: 2})
}

func (f *fakeEngine) Rescan(_ context.Context, bid int64, client string, urls []string) fn.Result[domain.AnalysisRun] {
	f.gotBusiness, f.gotURLs = bid, append([]string{client}, urls...)
	return result(f, domain.AnalysisRun{BusinessID: bid})
}

func (f *fakeEngine) FullAnalysis(_ context.Context, bid int64, client string, urls []string) fn.Result[domain.AnalysisRun] {
	f.gotBusiness, f.gotURLs = bid, append([]string{client}, urls...)
	return result(f, domain.AnalysisRun{BusinessID: bid})
}

func (f *fakeEngine) AddCompetitor(_ context.Context, bid int64, url, name string, _ bool) fn.Result[domain.Competitor] {
	f.gotBusiness = bid
	return result(f, domain.Competitor{ID: 4, BusinessID: bid, URL: url, Name: name})
}

func (f *fakeEngine) ListCompetitors(_ context.Context, bid int64) fn.Result[[]domain.Competitor] {
	f.gotBusiness = bid
	return result(f, []domain.Competitor{})
}

func serve(t *testing.T, eng Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	router := newRouter(eng, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.New(), "*")
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, rd))

	var resp map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return rec, resp
}

func TestHealthEndpoint(t *testing.T) {
	f := newFake()
	f.capability = domain.Unavailable("vector store address not configured")
	rec, resp := serve(t, f, http.MethodGet, "/api/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := resp["data"].(map[string]any)
	if data["status"] != "ok" || data["knowledge_store"] != false {
		t.Fatalf("health = %v", data)
	}
	if data["reason"] != "vector store address not configured" {
		t.Errorf("reason = %v", data["reason"])
	}
}

func TestRoutes(t *testing.T) {
	tests := []struct {
		method string
		path   string
		body   string
		check  func(t *testing.T, f *fakeEngine)
	}{
		{http.MethodPost, "/api/businesses/7/ingest", `{"url":"https://a.com","content_type":"client_site"}`,
			func(t *testing.T, f *fakeEngine) { wantBusiness(t, f, 7) }},
		{http.MethodPost, "/api/businesses/7/ingest/batch", `{"urls":["https://a.com","https://b.com"],"content_type":"competitor_site"}`,
			func(t *testing.T, f *fakeEngine) {
				if len(f.gotURLs) != 2 {
					t.Errorf("urls = %v", f.gotURLs)
				}
			}},
		{http.MethodGet, "/api/businesses/7/competitors", "",
			func(t *testing.T, f *fakeEngine) { wantBusiness(t, f, 7) }},
		{http.MethodPost, "/api/businesses/7/competitors", `{"url":"https://rival.com","name":"Rival"}`,
			func(t *testing.T, f *fakeEngine) { wantBusiness(t, f, 7) }},
		{http.MethodGet, "/api/businesses/7/gap?competitor_id=3", "",
			func(t *testing.T, f *fakeEngine) {
				if f.gotCompetitor == nil || *f.gotCompetitor != 3 {
					t.Errorf("competitor = %v", f.gotCompetitor)
				}
			}},
		{http.MethodGet, "/api/businesses/7/gap", "",
			func(t *testing.T, f *fakeEngine) {
				if f.gotCompetitor != nil {
					t.Errorf("competitor = %v, want nil", *f.gotCompetitor)
				}
			}},
		{http.MethodGet, "/api/businesses/7/missions?status=pending", "",
			func(t *testing.T, f *fakeEngine) {
				if f.gotStatus != domain.MissionPending {
					t.Errorf("status = %q", f.gotStatus)
				}
			}},
		{http.MethodPost, "/api/businesses/7/missions", "",
			func(t *testing.T, f *fakeEngine) { wantBusiness(t, f, 7) }},
		{http.MethodPost, "/api/businesses/7/consult", `{"query":"how do we beat rival?"}`,
			func(t *testing.T, f *fakeEngine) {
				if f.gotQuery != "how do we beat rival?" {
					t.Errorf("query = %q", f.gotQuery)
				}
			}},
		{http.MethodPost, "/api/businesses/7/analysis", `{"client_url":"https://me.com","competitor_urls":["https://rival.com"]}`,
			func(t *testing.T, f *fakeEngine) {
				if len(f.gotURLs) != 2 || f.gotURLs[0] != "https://me.com" {
					t.Errorf("urls = %v", f.gotURLs)
				}
			}},
		{http.MethodPost, "/api/businesses/7/rescan", `{"client_url":"https://me.com"}`,
			func(t *testing.T, f *fakeEngine) { wantBusiness(t, f, 7) }},
		{http.MethodDelete, "/api/businesses/7/knowledge", "",
			func(t *testing.T, f *fakeEngine) { wantBusiness(t, f, 7) }},
		{http.MethodPost, "/api/missions/12/fabricate", `{"kind":"faq"}`,
			func(t *testing.T, f *fakeEngine) {
				if f.gotMission != 12 || f.gotKind != fabricate.KindFAQ {
					t.Errorf("mission = %d kind = %q", f.gotMission, f.gotKind)
				}
			}},
		{http.MethodPost, "/api/missions/12/fabricate", "",
			func(t *testing.T, f *fakeEngine) {
				if f.gotMission != 12 || f.gotKind != "" {
					t.Errorf("mission = %d kind = %q", f.gotMission, f.gotKind)
				}
			}},
		{http.MethodPost, "/api/missions/12/complete", "",
			func(t *testing.T, f *fakeEngine) {
				if f.gotMission != 12 {
					t.Errorf("mission = %d", f.gotMission)
				}
			}},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			f := newFake()
			rec, resp := serve(t, f, tt.method, tt.path, tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %v", rec.Code, resp)
			}
			if resp["success"] != true {
				t.Fatalf("success = %v", resp["success"])
			}
			tt.check(t, f)
		})
	}
}

func wantBusiness(t *testing.T, f *fakeEngine, want int64) {
	t.Helper()
	if f.gotBusiness != want {
		t.Errorf("business = %d, want %d", f.gotBusiness, want)
	}
}

func TestIngestResponseShape(t *testing.T) {
	rec, resp := serve(t, newFake(), http.MethodPost, "/api/businesses/7/ingest",
		`{"url":"https://a.com","content_type":"client_site"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := resp["data"].(map[string]any)
	if data["success"] != true || data["scan_id"] != float64(9) || data["vector_id"] != "vec-1" {
		t.Errorf("data = %v", data)
	}
}

func TestErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		reason string
	}{
		{domain.Fail("ingest.fetch", domain.ErrFetch, errors.New("404")), http.StatusUnprocessableEntity, "fetch failed"},
		{domain.Fail("ingest.fetch", domain.ErrInsufficientContent, nil), http.StatusUnprocessableEntity, "insufficient content"},
		{domain.Fail("ingest", domain.ErrStoreUnavailable, nil), http.StatusServiceUnavailable, "knowledge store unavailable"},
		{domain.Fail("missions.list", domain.ErrPersistence, errors.New("conn reset")), http.StatusInternalServerError, "persistence failed"},
		{domain.Fail("ingest.embed", domain.ErrEmbedding, errors.New("timeout")), http.StatusBadGateway, "embedding failed"},
		{domain.Fail("ingest.validate", domain.ErrInvalidInput, nil), http.StatusBadRequest, "invalid input"},
		{domain.Fail("gap", domain.ErrNoClientData, nil), http.StatusConflict, domain.ErrNoClientData.Error()},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			f := newFake()
			f.err = tt.err
			rec, resp := serve(t, f, http.MethodPost, "/api/businesses/7/ingest",
				`{"url":"https://a.com","content_type":"client_site"}`)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if resp["success"] != false || resp["error"] != tt.reason {
				t.Errorf("body = %v", resp)
			}
		})
	}
}

func TestMissionNotFound(t *testing.T) {
	f := newFake()
	f.err = domain.Fail("fabricate", domain.ErrMissionNotFound, nil)
	rec, resp := serve(t, f, http.MethodPost, "/api/missions/99/fabricate", "")
	if rec.Code != http.StatusNotFound || resp["error"] != "mission not found" {
		t.Errorf("status = %d, body = %v", rec.Code, resp)
	}
}

func TestBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"invalid json", http.MethodPost, "/api/businesses/7/consult", "not json"},
		{"missing body", http.MethodPost, "/api/businesses/7/ingest", ""},
		{"bad business id", http.MethodGet, "/api/businesses/abc/competitors", ""},
		{"zero business id", http.MethodDelete, "/api/businesses/0/knowledge", ""},
		{"bad competitor id", http.MethodGet, "/api/businesses/7/gap?competitor_id=x", ""},
		{"bad mission id", http.MethodPost, "/api/missions/-1/complete", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFake()
			rec, resp := serve(t, f, tt.method, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if resp["success"] != false {
				t.Errorf("body = %v", resp)
			}
			if f.gotBusiness != 0 || f.gotMission != 0 {
				t.Error("engine called for a bad request")
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := metrics.New()
	router := newRouter(newFake(), slog.New(slog.NewTextHandler(io.Discard, nil)), reg, "*")

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `route="/api/health"`) {
		t.Errorf("metrics missing health route:\n%s", rec.Body.String())
	}
}
