// Package reset clears a business's engine data and re-runs the analysis
// pipeline end to end.
package reset

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/engine/ingest"
	"github.com/ekkoscope/sherlock/pkg/fn"
)

// DefaultMaxCompetitors caps competitor ingestion per run.
const DefaultMaxCompetitors = 5

// NoComparisonNote marks a run without any competitor topics to compare.
const NoComparisonNote = "no competitor content available; no comparison possible"

// Store is the relational side of a reset.
type Store interface {
	RunInTx(ctx context.Context, f func(ctx context.Context) error) error
	ScanVectorIDs(ctx context.Context, businessID int64) ([]string, error)
	ListCompetitors(ctx context.Context, businessID int64) ([]domain.Competitor, error)
	UpsertCompetitor(ctx context.Context, c domain.Competitor) (domain.Competitor, error)
	DeleteMissions(ctx context.Context, businessID int64) (int64, error)
	DeleteCompetitors(ctx context.Context, businessID int64) (int64, error)
	DeleteScans(ctx context.Context, businessID int64) (int64, error)
}

// VectorDeleter removes vectors by id from one namespace.
type VectorDeleter interface {
	Delete(ctx context.Context, namespace string, ids []string) error
}

// GraphClearer removes a business from the topic graph.
type GraphClearer interface {
	ClearBusiness(ctx context.Context, businessID int64) (int64, error)
}

// Analyzer runs a gap analysis.
type Analyzer interface {
	Analyze(ctx context.Context, businessID int64, competitorID *int64) fn.Result[domain.GapAnalysisResult]
}

// MissionGenerator persists missions for a gap analysis.
type MissionGenerator interface {
	Generate(ctx context.Context, businessID int64, gap *domain.GapAnalysisResult) fn.Result[[]domain.Mission]
}

// Deps holds the orchestrator's collaborators. Graph is optional.
type Deps struct {
	Store    Store
	Vectors  VectorDeleter
	Graph    GraphClearer
	Ingester ingest.Ingester
	Analyzer Analyzer
	Missions MissionGenerator

	Capability     domain.Capability
	MaxCompetitors int
	Workers        int
	Logger         *slog.Logger
}

// Orchestrator runs clear, rescan and full analysis.
type Orchestrator struct {
	deps Deps
	log  *slog.Logger
}

// New creates an Orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxCompetitors <= 0 {
		deps.MaxCompetitors = DefaultMaxCompetitors
	}
	if deps.Workers <= 0 {
		deps.Workers = 1
	}
	return &Orchestrator{deps: deps, log: deps.Logger}
}

// Clear deletes the business's vectors from every namespace, then its
// missions, competitors and scans, then its topic graph.
func (o *Orchestrator) Clear(ctx context.Context, businessID int64) fn.Result[domain.ClearReport] {
	const op = "reset.clear"
	if err := o.deps.Capability.Check(op); err != nil {
		return fn.Err[domain.ClearReport](err)
	}
	if err := domain.ValidateID("business_id", businessID); err != nil {
		return fn.Err[domain.ClearReport](domain.Fail(op, domain.ErrInvalidInput, err))
	}
	rep, err := o.clear(ctx, businessID)
	if err != nil {
		return fn.Err[domain.ClearReport](domain.Fail(op, domain.StoreKind(err, domain.ErrVectorWrite), err))
	}
	return fn.Ok(rep)
}

func (o *Orchestrator) clear(ctx context.Context, businessID int64) (domain.ClearReport, error) {
	var rep domain.ClearReport

	ids, err := o.deps.Store.ScanVectorIDs(ctx, businessID)
	if err != nil {
		return rep, fmt.Errorf("list vector ids: %w", err)
	}
	if len(ids) > 0 {
		// a vector lives in one namespace, but misrouted writes are tolerated
		for _, ns := range domain.AllNamespaces {
			if err := o.deps.Vectors.Delete(ctx, ns, ids); err != nil {
				return rep, fmt.Errorf("delete vectors in %s: %w: %w", ns, domain.ErrVectorWrite, err)
			}
		}
	}
	rep.VectorsDeleted = len(ids)

	err = o.deps.Store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if rep.MissionsDeleted, err = o.deps.Store.DeleteMissions(ctx, businessID); err != nil {
			return err
		}
		if rep.CompetitorsDeleted, err = o.deps.Store.DeleteCompetitors(ctx, businessID); err != nil {
			return err
		}
		rep.ScansDeleted, err = o.deps.Store.DeleteScans(ctx, businessID)
		return err
	})
	if err != nil {
		return domain.ClearReport{VectorsDeleted: rep.VectorsDeleted}, err
	}

	if o.deps.Graph != nil {
		if _, err := o.deps.Graph.ClearBusiness(ctx, businessID); err != nil {
			o.log.Warn("reset: graph clear failed", "business_id", businessID, "err", err)
		}
	}

	o.log.Info("business cleared", "business_id", businessID,
		"vectors", rep.VectorsDeleted, "scans", rep.ScansDeleted,
		"missions", rep.MissionsDeleted, "competitors", rep.CompetitorsDeleted)
	return rep, nil
}

// Rescan clears the business and re-runs the full analysis. Without explicit
// competitorURLs the business's tracked competitors are rescanned and keep
// their names and primary flags.
func (o *Orchestrator) Rescan(ctx context.Context, businessID int64, clientURL string, competitorURLs []string) fn.Result[domain.AnalysisRun] {
	const op = "reset.rescan"
	if err := o.precheck(op, businessID, clientURL); err != nil {
		return fn.Err[domain.AnalysisRun](err)
	}

	var keep []domain.Competitor
	if len(competitorURLs) == 0 {
		tracked, err := o.deps.Store.ListCompetitors(ctx, businessID)
		if err != nil {
			return fn.Err[domain.AnalysisRun](domain.Fail(op, domain.ErrPersistence, err))
		}
		keep = fn.Take(tracked, o.deps.MaxCompetitors)
		competitorURLs = fn.Map(keep, func(c domain.Competitor) string { return c.URL })
	}

	if _, err := o.clear(ctx, businessID); err != nil {
		return fn.Err[domain.AnalysisRun](domain.Fail(op, domain.StoreKind(err, domain.ErrVectorWrite), err))
	}
	for _, c := range keep {
		c.ID, c.LastScannedAt = 0, nil
		if _, err := o.deps.Store.UpsertCompetitor(ctx, c); err != nil {
			o.log.Warn("reset: competitor not restored", "business_id", businessID, "url", c.URL, "err", err)
		}
	}

	return o.run(ctx, op, businessID, clientURL, competitorURLs)
}

// FullAnalysis ingests the client and up to the competitor cap, analyzes the
// gap and generates missions, without clearing first.
func (o *Orchestrator) FullAnalysis(ctx context.Context, businessID int64, clientURL string, competitorURLs []string) fn.Result[domain.AnalysisRun] {
	const op = "reset.full_analysis"
	if err := o.precheck(op, businessID, clientURL); err != nil {
		return fn.Err[domain.AnalysisRun](err)
	}
	return o.run(ctx, op, businessID, clientURL, competitorURLs)
}

func (o *Orchestrator) precheck(op string, businessID int64, clientURL string) error {
	if err := o.deps.Capability.Check(op); err != nil {
		return err
	}
	if err := domain.ValidateID("business_id", businessID); err != nil {
		return domain.Fail(op, domain.ErrInvalidInput, err)
	}
	if err := domain.ValidateURL(clientURL); err != nil {
		return domain.Fail(op, domain.ErrInvalidInput, err)
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, op string, businessID int64, clientURL string, competitorURLs []string) fn.Result[domain.AnalysisRun] {
	out := domain.AnalysisRun{BusinessID: businessID, Missions: []domain.Mission{}}

	client := o.deps.Ingester.Ingest(ctx, domain.IngestRequest{
		URL:         strings.TrimSpace(clientURL),
		ContentType: domain.ContentClientSite,
		BusinessID:  businessID,
	})
	if client.IsErr() {
		o.log.Warn("analysis: client ingestion failed", "business_id", businessID, "url", clientURL, "err", client.Error())
		return fn.Err[domain.AnalysisRun](client.Error())
	}
	out.ClientIngested = true

	trimmed := fn.Filter(fn.Map(competitorURLs, strings.TrimSpace), func(u string) bool { return u != "" })
	urls := fn.Take(fn.UniqueBy(trimmed, func(u string) string { return u }), o.deps.MaxCompetitors)
	batch := ingest.Batch(ctx, o.deps.Ingester, urls, domain.ContentCompetitorSite, businessID, nil, domain.SourceAnalysis, o.deps.Workers)
	out.CompetitorsAttempted = batch.Attempted
	out.CompetitorsScanned = batch.Succeeded

	gap := o.deps.Analyzer.Analyze(ctx, businessID, nil)
	res, err := gap.Unwrap()
	if err != nil {
		return fn.Err[domain.AnalysisRun](err)
	}
	out.Gap = &res

	if res.CoverageComparison.CompetitorTopics == 0 {
		out.Note = NoComparisonNote
	} else {
		missions, err := o.deps.Missions.Generate(ctx, businessID, &res).Unwrap()
		if err != nil {
			return fn.Err[domain.AnalysisRun](err)
		}
		out.Missions = missions
	}

	o.log.Info("analysis complete", "op", op, "business_id", businessID,
		"competitors", out.CompetitorsScanned, "gap_score", res.GapScore, "missions", len(out.Missions))
	return fn.Ok(out)
}
