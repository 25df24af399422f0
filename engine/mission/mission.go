// Package mission turns a gap analysis into persisted, prioritized missions.
package mission

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/pkg/fn"
)

const (
	maxMissingMissions = 10
	maxWeakMissions    = 5
)

// Store persists missions. CreateMission must return the row with its
// generated id already bound.
type Store interface {
	RunInTx(ctx context.Context, f func(ctx context.Context) error) error
	CreateMission(ctx context.Context, m domain.Mission) (domain.Mission, error)
	ListMissions(ctx context.Context, businessID int64, status domain.MissionStatus) ([]domain.Mission, error)
	SetMissionStatus(ctx context.Context, id int64, status domain.MissionStatus, at time.Time) (domain.Mission, error)
}

// Analyzer supplies a fresh gap analysis when the caller has none.
type Analyzer interface {
	Analyze(ctx context.Context, businessID int64, competitorID *int64) fn.Result[domain.GapAnalysisResult]
}

// Generator builds and persists missions.
type Generator struct {
	store      Store
	analyzer   Analyzer
	capability domain.Capability
	log        *slog.Logger
	now        func() time.Time
}

// New creates a Generator.
func New(store Store, analyzer Analyzer, c domain.Capability, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{store: store, analyzer: analyzer, capability: c, log: log, now: time.Now}
}

// Generate persists one mission per top missing topic and per top weak
// topic, in that order. Every mission carries the analysis id of gap. When
// gap is nil a fresh analysis is run.
func (g *Generator) Generate(ctx context.Context, businessID int64, gap *domain.GapAnalysisResult) fn.Result[[]domain.Mission] {
	const op = "mission.generate"
	if err := g.capability.Check(op); err != nil {
		return fn.Err[[]domain.Mission](err)
	}
	if gap == nil {
		r := g.analyzer.Analyze(ctx, businessID, nil)
		if r.IsErr() {
			return fn.Err[[]domain.Mission](r.Error())
		}
		res, _ := r.Unwrap()
		gap = &res
	}

	planned := Plan(businessID, *gap)
	out := make([]domain.Mission, 0, len(planned))
	err := g.store.RunInTx(ctx, func(ctx context.Context) error {
		for _, m := range planned {
			saved, err := g.store.CreateMission(ctx, m)
			if err != nil {
				return err
			}
			out = append(out, saved)
		}
		return nil
	})
	if err != nil {
		return fn.Err[[]domain.Mission](domain.Fail(op, domain.StoreKind(err, domain.ErrMissionNotFound, domain.ErrBusinessNotFound), err))
	}

	g.log.Info("missions generated", "business_id", businessID, "analysis_id", gap.AnalysisID, "count", len(out))
	return fn.Ok(out)
}

// List returns missions ordered high priority first, newest first.
func (g *Generator) List(ctx context.Context, businessID int64, status domain.MissionStatus) fn.Result[[]domain.Mission] {
	const op = "mission.list"
	if err := g.capability.Check(op); err != nil {
		return fn.Err[[]domain.Mission](err)
	}
	if status != "" {
		if err := domain.ValidateMissionStatus(status); err != nil {
			return fn.Err[[]domain.Mission](domain.Fail(op, domain.ErrInvalidInput, err))
		}
	}
	ms, err := g.store.ListMissions(ctx, businessID, status)
	if err != nil {
		return fn.Err[[]domain.Mission](domain.Fail(op, domain.ErrPersistence, err))
	}
	return fn.Ok(ms)
}

// Complete marks a mission completed.
func (g *Generator) Complete(ctx context.Context, missionID int64) fn.Result[domain.Mission] {
	const op = "mission.complete"
	if err := g.capability.Check(op); err != nil {
		return fn.Err[domain.Mission](err)
	}
	m, err := g.store.SetMissionStatus(ctx, missionID, domain.MissionCompleted, g.now().UTC())
	if err != nil {
		return fn.Err[domain.Mission](domain.Fail(op, domain.StoreKind(err, domain.ErrMissionNotFound, domain.ErrBusinessNotFound), err))
	}
	return fn.Ok(m)
}

// Plan derives the missions for gap without persisting them.
func Plan(businessID int64, gap domain.GapAnalysisResult) []domain.Mission {
	var out []domain.Mission
	for i, mt := range fn.Take(gap.MissingTopics, maxMissingMissions) {
		typ, action := typeAndAction(mt.Category, mt.Topic)
		out = append(out, domain.Mission{
			BusinessID:         businessID,
			GapAnalysisID:      gap.AnalysisID,
			MissionType:        typ,
			Priority:           orMedium(mt.Priority),
			Status:             domain.MissionPending,
			Title:              fmt.Sprintf("Cover '%s' to close semantic gap", mt.Topic),
			Description:        fmt.Sprintf("Competitors are ranking for '%s' queries. You are semantically invisible on this topic.", mt.Topic),
			MissingTopic:       mt.Topic,
			TopicContext:       nonNil(mt.ExamplePhrases),
			CompetitorCoverage: nonNil(mt.FoundAt),
			RecommendedAction:  action,
			EstimatedImpact:    Impact(i),
			TargetURLSlug:      "/" + Slug(mt.Topic),
		})
	}
	for _, wt := range fn.Take(gap.WeakTopics, maxWeakMissions) {
		out = append(out, domain.Mission{
			BusinessID:         businessID,
			GapAnalysisID:      gap.AnalysisID,
			MissionType:        domain.MissionContentExpansion,
			Priority:           domain.PriorityMedium,
			Status:             domain.MissionPending,
			Title:              fmt.Sprintf("Strengthen '%s' coverage", wt.Topic),
			Description:        fmt.Sprintf("Competitors mention '%s' %d more times. Expand your content depth.", wt.Topic, wt.Gap),
			MissingTopic:       wt.Topic,
			TopicContext:       []string{},
			CompetitorCoverage: []string{},
			RecommendedAction:  fmt.Sprintf("Add more detailed content about '%s' - FAQs, case studies, or blog posts", wt.Topic),
			EstimatedImpact:    "+3%",
			TargetURLSlug:      "/" + Slug(wt.Topic),
		})
	}
	return out
}

// Impact is the estimated_impact label of the i-th missing-topic mission.
func Impact(i int) string { return fmt.Sprintf("+%d%% AI visibility", 5+i) }

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug makes a URL path segment from a topic name.
func Slug(topic string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(topic), "-"), "-")
}

func typeAndAction(category, topic string) (domain.MissionType, string) {
	switch category {
	case "services":
		return domain.MissionCreatePage, fmt.Sprintf("Create a dedicated service page for '%s' with detailed pricing and FAQs", topic)
	case "problems":
		return domain.MissionContentExpansion, fmt.Sprintf("Develop content addressing '%s' - explain solutions and your expertise", topic)
	case "credentials":
		return domain.MissionTrustBuilding, fmt.Sprintf("Highlight your '%s' credentials with case studies and certifications", topic)
	default:
		return domain.MissionContentCreation, fmt.Sprintf("Create comprehensive content about '%s' to match competitor coverage", topic)
	}
}

func orMedium(p domain.Priority) domain.Priority {
	if p == "" {
		return domain.PriorityMedium
	}
	return p
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
