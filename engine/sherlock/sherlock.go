// Package sherlock is the engine facade. It serializes every mutating entry
// point per business, gates on the Knowledge Store capability and records
// operation metrics.
package sherlock

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/engine/fabricate"
	"github.com/ekkoscope/sherlock/engine/ingest"
	"github.com/ekkoscope/sherlock/pkg/fn"
	"github.com/ekkoscope/sherlock/pkg/metrics"
)

// GapAnalyzer runs gap analyses.
type GapAnalyzer interface {
	Analyze(ctx context.Context, businessID int64, competitorID *int64) fn.Result[domain.GapAnalysisResult]
}

// MissionService creates, lists and completes missions.
type MissionService interface {
	Generate(ctx context.Context, businessID int64, gap *domain.GapAnalysisResult) fn.Result[[]domain.Mission]
	List(ctx context.Context, businessID int64, status domain.MissionStatus) fn.Result[[]domain.Mission]
	Complete(ctx context.Context, missionID int64) fn.Result[domain.Mission]
}

// Consultant answers strategic questions.
type Consultant interface {
	Consult(ctx context.Context, query string, businessID int64, topK int) fn.Result[domain.Consultation]
}

// Fabricator generates mission artifacts.
type Fabricator interface {
	Fabricate(ctx context.Context, missionID int64, kind fabricate.Kind) fn.Result[domain.Fabrication]
}

// Resetter clears and re-runs a business's analysis.
type Resetter interface {
	Clear(ctx context.Context, businessID int64) fn.Result[domain.ClearReport]
	Rescan(ctx context.Context, businessID int64, clientURL string, competitorURLs []string) fn.Result[domain.AnalysisRun]
	FullAnalysis(ctx context.Context, businessID int64, clientURL string, competitorURLs []string) fn.Result[domain.AnalysisRun]
}

// Store is the relational access the facade needs directly.
type Store interface {
	GetMission(ctx context.Context, id int64) (domain.Mission, error)
	UpsertCompetitor(ctx context.Context, c domain.Competitor) (domain.Competitor, error)
	ListCompetitors(ctx context.Context, businessID int64) ([]domain.Competitor, error)
}

// Components are the engine's collaborators.
type Components struct {
	Ingester   ingest.Ingester
	Gap        GapAnalyzer
	Missions   MissionService
	Strategist Consultant
	Fabricator Fabricator
	Reset      Resetter
	Store      Store

	Capability domain.Capability
	Metrics    *metrics.Registry
	Workers    int
	Logger     *slog.Logger
}

// Engine is the public entry point. Safe for concurrent use.
type Engine struct {
	c       Components
	log     *slog.Logger
	met     *metrics.Registry
	locks   *keyedMutex
	closers []func(context.Context) error
}

// New creates an Engine over c.
func New(c Components) *Engine {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.New()
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return &Engine{c: c, log: c.Logger, met: c.Metrics, locks: newKeyedMutex()}
}

// Capability reports whether the Knowledge Store is usable.
func (e *Engine) Capability() domain.Capability { return e.c.Capability }

// Metrics is the registry the engine records into.
func (e *Engine) Metrics() *metrics.Registry { return e.met }

// Ingester exposes per-business serialized single-URL ingestion, for the
// queue consumer.
func (e *Engine) Ingester() ingest.Ingester { return ingesterFunc(e.Ingest) }

type ingesterFunc func(ctx context.Context, req domain.IngestRequest) fn.Result[domain.ContentScan]

func (f ingesterFunc) Ingest(ctx context.Context, req domain.IngestRequest) fn.Result[domain.ContentScan] {
	return f(ctx, req)
}

// Close releases every connection opened by Open.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Ingest runs one URL through the ingestion pipeline.
func (e *Engine) Ingest(ctx context.Context, req domain.IngestRequest) fn.Result[domain.ContentScan] {
	const op = "ingest"
	start := time.Now()
	if err := e.c.Capability.Check(op); err != nil {
		return track(e, op, start, fn.Err[domain.ContentScan](err))
	}
	defer e.locks.Lock(req.BusinessID)()

	r := e.c.Ingester.Ingest(ctx, req)
	e.countIngest(req.ContentType, r.IsOk())
	return track(e, op, start, r)
}

// IngestBatch ingests urls for one business. Individual failures are
// reported per URL and never abort the batch.
func (e *Engine) IngestBatch(ctx context.Context, urls []string, ct domain.ContentType, businessID int64, userID *int64) fn.Result[domain.BatchResult] {
	const op = "ingest_batch"
	start := time.Now()
	if err := e.c.Capability.Check(op); err != nil {
		return track(e, op, start, fn.Err[domain.BatchResult](err))
	}
	if err := e.validateBatch(ct, businessID); err != nil {
		return track(e, op, start, fn.Err[domain.BatchResult](domain.Fail(op, domain.ErrInvalidInput, err)))
	}
	defer e.locks.Lock(businessID)()

	res := ingest.Batch(ctx, e.c.Ingester, urls, ct, businessID, userID, domain.SourceIngest, e.c.Workers)
	for _, r := range res.Results {
		e.countIngest(ct, r.Success)
	}
	e.log.Info("batch ingested", "business_id", businessID, "content_type", ct,
		"attempted", res.Attempted, "succeeded", res.Succeeded)
	return track(e, op, start, fn.Ok(res))
}

func (e *Engine) validateBatch(ct domain.ContentType, businessID int64) error {
	if err := domain.ValidateID("business_id", businessID); err != nil {
		return err
	}
	return domain.ValidateContentType(ct)
}

// Analyze runs a gap analysis, optionally restricted to one competitor.
func (e *Engine) Analyze(ctx context.Context, businessID int64, competitorID *int64) fn.Result[domain.GapAnalysisResult] {
	const op = "analyze"
	start := time.Now()
	if err := e.c.Capability.Check(op); err != nil {
		return track(e, op, start, fn.Err[domain.GapAnalysisResult](err))
	}
	defer e.locks.Lock(businessID)()
	return track(e, op, start, e.c.Gap.Analyze(ctx, businessID, competitorID))
}

// GenerateMissions persists missions for gap, or for a fresh analysis when
// gap is nil.
func (e *Engine) GenerateMissions(ctx context.Context, businessID int64, gap *domain.GapAnalysisResult) fn.Result[[]domain.Mission] {
	const op = "generate_missions"
	start := time.Now()
	if err := e.c.Capability.Check(op); err != nil {
		return track(e, op, start, fn.Err[[]domain.Mission](err))
	}
	defer e.locks.Lock(businessID)()
	return track(e, op, start, e.c.Missions.Generate(ctx, businessID, gap))
}

// ListMissions returns the business's missions, optionally by status. Reads
// are not serialized.
func (e *Engine) ListMissions(ctx context.Context, businessID int64, status domain.MissionStatus) fn.Result[[]domain.Mission] {
	const op = "list_missions"
	start := time.Now()
	if err := e.c.Capability.Check(op); err != nil {
		return track(e, op, start, fn.Err[[]domain.Mission](err))
	}
	return track(e, op, start, e.c.Missions.List(ctx, businessID, status))
}

// CompleteMission marks a mission completed.
func (e *Engine) CompleteMission(ctx context.Context, missionID int64) fn.Result[domain.Mission] {
	const op = "complete_mission"
	start := time.Now()
	if err := e.c.Capability.Check(op); err != nil {
		return track(e, op, start, fn.Err[domain.Mission](err))
	}
	bid, err := e.missionBusiness(ctx, op, missionID)
	if err != nil {
		return track(e, op, start, fn.Err[domain.Mission](err))
	}
	defer e.locks.Lock(bid)()
	return track(e, op, start, e.c.Missions.Complete(ctx, missionID))
}

// Consult answers a strategic question from the business's evidence.
func (e *Engine) Consult(ctx context.Context, query string, businessID int64, topK int) fn.Result[domain.Consultation] {
	const op = "consult"
	start := time.Now()
	if err := e.c.Capability.Check(op); err != nil {
		return track(e, op, start, fn.Err[domain.Consultation](err))
	}
	defer e.locks.Lock(businessID)()

	r := e.c.Strategist.Consult(ctx, query, businessID, topK)
	if c, err := r.Unwrap(); err == nil {
		grounded := "false"
		if c.Grounded {
			grounded = "true"
		}
		e.met.Counter("sherlock_consultations_total", "Strategist consultations", "grounded", grounded).Inc()
	}
	return track(e, op, start, r)
}

// Fabricate generates an artifact for a mission. kind "" derives it from
// the mission type.
func (e *Engine) Fabricate(ctx context.Context, missionID int64, kind fabricate.Kind) fn.Result[domain.Fabrication] {
	const op = "fabricate"
	start := time.Now()
	if err := e.c.Capability.Check(op); err != nil {
		return track(e, op, start, fn.Err[domain.Fabrication](err))
	}
	bid, err := e.missionBusiness(ctx, op, missionID)
	if err != nil {
		return track(e, op, start, fn.Err[domain.Fabrication](err))
	}
	defer e.locks.Lock(bid)()
	return track(e, op, start, e.c.Fabricator.Fabricate(ctx, missionID, kind))
}

// Clear removes every trace of the business from the engine.
func (e *Engine) Clear(ctx context.Context, businessID int64) fn.Result[domain.ClearReport] {
	const op = "clear"
	start := time.Now()
	if err := e.c.Capability.Check(op); err != nil {
		return track(e, op, start, fn.Err[domain.ClearReport](err))
	}
	defer e.locks.Lock(businessID)()
	return track(e, op, start, e.c.Reset.Clear(ctx, businessID))
}

// Rescan clears the business and re-runs the full analysis.
func (e *Engine) Rescan(ctx context.Context, businessID int64, clientURL string, competitorURLs []string) fn.Result[domain.AnalysisRun] {
	const op = "rescan"
	start := time.Now()
	if err := e.c.Capability.Check(op); err != nil {
		return track(e, op, start, fn.Err[domain.AnalysisRun](err))
	}
	defer e.locks.Lock(businessID)()
	return track(e, op, start, e.c.Reset.Rescan(ctx, businessID, clientURL, competitorURLs))
}

// FullAnalysis ingests the client and competitors, analyzes and generates
// missions.
func (e *Engine) FullAnalysis(ctx context.Context, businessID int64, clientURL string, competitorURLs []string) fn.Result[domain.AnalysisRun] {
	const op = "full_analysis"
	start := time.Now()
	if err := e.c.Capability.Check(op); err != nil {
		return track(e, op, start, fn.Err[domain.AnalysisRun](err))
	}
	defer e.locks.Lock(businessID)()
	return track(e, op, start, e.c.Reset.FullAnalysis(ctx, businessID, clientURL, competitorURLs))
}

// AddCompetitor tracks a competitor by hand. Adding the same URL twice
// returns the existing row. An empty name defaults to the URL host.
func (e *Engine) AddCompetitor(ctx context.Context, businessID int64, url, name string, isPrimary bool) fn.Result[domain.Competitor] {
	const op = "add_competitor"
	start := time.Now()
	if err := e.c.Capability.Check(op); err != nil {
		return track(e, op, start, fn.Err[domain.Competitor](err))
	}
	url = strings.TrimSpace(url)
	if err := domain.ValidateID("business_id", businessID); err != nil {
		return track(e, op, start, fn.Err[domain.Competitor](domain.Fail(op, domain.ErrInvalidInput, err)))
	}
	if err := domain.ValidateURL(url); err != nil {
		return track(e, op, start, fn.Err[domain.Competitor](domain.Fail(op, domain.ErrInvalidInput, err)))
	}
	defer e.locks.Lock(businessID)()

	c, err := e.c.Store.UpsertCompetitor(ctx, domain.Competitor{
		BusinessID:       businessID,
		URL:              url,
		Name:             strings.TrimSpace(name),
		DiscoveredSource: domain.SourceManual,
		IsPrimary:        isPrimary,
	})
	if err != nil {
		return track(e, op, start, fn.Err[domain.Competitor](domain.Fail(op, domain.StoreKind(err, domain.ErrBusinessNotFound), err)))
	}
	e.log.Info("competitor added", "business_id", businessID, "competitor_id", c.ID, "url", c.URL)
	return track(e, op, start, fn.Ok(c))
}

// ListCompetitors returns the business's tracked competitors.
func (e *Engine) ListCompetitors(ctx context.Context, businessID int64) fn.Result[[]domain.Competitor] {
	const op = "list_competitors"
	start := time.Now()
	if err := e.c.Capability.Check(op); err != nil {
		return track(e, op, start, fn.Err[[]domain.Competitor](err))
	}
	if err := domain.ValidateID("business_id", businessID); err != nil {
		return track(e, op, start, fn.Err[[]domain.Competitor](domain.Fail(op, domain.ErrInvalidInput, err)))
	}
	cs, err := e.c.Store.ListCompetitors(ctx, businessID)
	if err != nil {
		return track(e, op, start, fn.Err[[]domain.Competitor](domain.Fail(op, domain.ErrPersistence, err)))
	}
	if cs == nil {
		cs = []domain.Competitor{}
	}
	return track(e, op, start, fn.Ok(cs))
}

// missionBusiness resolves the business owning a mission so the call can be
// serialized with the rest of that business's work.
func (e *Engine) missionBusiness(ctx context.Context, op string, missionID int64) (int64, error) {
	if err := domain.ValidateID("mission_id", missionID); err != nil {
		return 0, domain.Fail(op, domain.ErrInvalidInput, err)
	}
	m, err := e.c.Store.GetMission(ctx, missionID)
	if err != nil {
		return 0, domain.Fail(op, domain.StoreKind(err, domain.ErrMissionNotFound), err)
	}
	return m.BusinessID, nil
}

func (e *Engine) countIngest(ct domain.ContentType, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	e.met.Counter("sherlock_ingest_total", "Single-URL ingestions", "content_type", string(ct), "outcome", outcome).Inc()
}

// track records the outcome and latency of one facade call.
func track[T any](e *Engine, op string, start time.Time, r fn.Result[T]) fn.Result[T] {
	e.met.Histogram("sherlock_engine_operation_duration_seconds", "Engine operation latency",
		metrics.DefaultBuckets, "op", op).Since(start)
	if err := r.Error(); err != nil {
		e.met.Counter("sherlock_engine_errors_total", "Failed engine operations", "op", op, "reason", domain.Reason(err)).Inc()
		return r
	}
	e.met.Counter("sherlock_engine_operations_total", "Successful engine operations", "op", op).Inc()
	return r
}
