// Package gap compares the topics a business covers with the topics its
// competitors cover.
package gap

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/pkg/fn"
)

const (
	maxMissing = 15
	maxWeak    = 10
	maxFoundAt = 3
)

// ScanSource is the read side of the relational store the analyzer needs.
type ScanSource interface {
	CompletedScans(ctx context.Context, businessID int64, ct domain.ContentType) ([]domain.ContentScan, error)
	GetCompetitor(ctx context.Context, id int64) (domain.Competitor, error)
}

// Analyzer computes GapAnalysisResults from persisted scans.
type Analyzer struct {
	scans      ScanSource
	matcher    Matcher
	capability domain.Capability
	log        *slog.Logger
	now        func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithMatcher swaps the topic comparator.
func WithMatcher(m Matcher) Option { return func(a *Analyzer) { a.matcher = m } }

// WithClock overrides time.Now for analysis ids.
func WithClock(now func() time.Time) Option { return func(a *Analyzer) { a.now = now } }

// New creates an Analyzer.
func New(scans ScanSource, c domain.Capability, log *slog.Logger, opts ...Option) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	a := &Analyzer{scans: scans, matcher: Exact, capability: c, log: log, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze compares the business's completed client scans with its competitor
// scans, optionally only those of one competitor.
func (a *Analyzer) Analyze(ctx context.Context, businessID int64, competitorID *int64) fn.Result[domain.GapAnalysisResult] {
	const op = "gap.analyze"
	if err := a.capability.Check(op); err != nil {
		return fn.Err[domain.GapAnalysisResult](err)
	}
	if err := domain.ValidateID("business_id", businessID); err != nil {
		return fn.Err[domain.GapAnalysisResult](domain.Fail(op, domain.ErrInvalidInput, err))
	}

	client, err := a.scans.CompletedScans(ctx, businessID, domain.ContentClientSite)
	if err != nil {
		return fn.Err[domain.GapAnalysisResult](domain.Fail(op, domain.ErrPersistence, err))
	}
	if len(client) == 0 {
		return fn.Err[domain.GapAnalysisResult](domain.Fail(op, domain.ErrNoClientData, nil))
	}

	competitor, err := a.scans.CompletedScans(ctx, businessID, domain.ContentCompetitorSite)
	if err != nil {
		return fn.Err[domain.GapAnalysisResult](domain.Fail(op, domain.ErrPersistence, err))
	}
	if competitorID != nil {
		c, err := a.scans.GetCompetitor(ctx, *competitorID)
		if err != nil {
			return fn.Err[domain.GapAnalysisResult](domain.Fail(op, domain.StoreKind(err, domain.ErrCompetitorNotFound), err))
		}
		if c.BusinessID != businessID {
			return fn.Err[domain.GapAnalysisResult](domain.Fail(op, domain.ErrCompetitorNotFound, nil))
		}
		competitor = fn.Filter(competitor, func(s domain.ContentScan) bool { return s.URL == c.URL })
	}

	res := Compute(client, competitor, a.matcher)
	res.BusinessID = businessID
	res.AnalysisID = AnalysisID(businessID, a.now())

	a.log.Info("gap analysis complete", "business_id", businessID, "analysis_id", res.AnalysisID,
		"missing_topics", len(res.MissingTopics), "weak_topics", len(res.WeakTopics), "gap_score", res.GapScore)
	return fn.Ok(res)
}

// AnalysisID correlates one gap run and the missions generated from it.
func AnalysisID(businessID int64, at time.Time) string {
	return fmt.Sprintf("gap_%d_%s", businessID, at.UTC().Format("20060102150405"))
}

type competitorTopic struct {
	key      string
	count    int
	category string
	depth    int
	phrases  []string
	sources  []string
}

// Compute is the deterministic core of Analyze.
func Compute(client, competitor []domain.ContentScan, m Matcher) domain.GapAnalysisResult {
	if m == nil {
		m = Exact
	}

	clientCounts := map[string]int{}
	for _, s := range client {
		for _, t := range s.Topics {
			if k := m.Key(t.Name); k != "" {
				clientCounts[k]++
			}
		}
	}

	// first-seen order keeps ties stable across runs
	var order []*competitorTopic
	byKey := map[string]*competitorTopic{}
	for _, s := range competitor {
		for _, t := range s.Topics {
			k := m.Key(t.Name)
			if k == "" {
				continue
			}
			ct, ok := byKey[k]
			if !ok {
				ct = &competitorTopic{key: k, category: t.Category, depth: t.Depth, phrases: t.ExamplePhrases}
				byKey[k] = ct
				order = append(order, ct)
			}
			ct.count++
			ct.sources = append(ct.sources, s.URL)
		}
	}

	title := cases.Title(language.Und)
	missing := []domain.MissingTopic{}
	weak := []domain.WeakTopic{}
	overlap := 0
	for _, ct := range order {
		have, covered := clientCounts[ct.key]
		if !covered {
			missing = append(missing, domain.MissingTopic{
				Topic:              title.String(ct.key),
				CompetitorCoverage: ct.count,
				Category:           orDefault(ct.category, "unknown"),
				Depth:              ct.depth,
				ExamplePhrases:     nonNil(ct.phrases),
				FoundAt:            fn.Take(ct.sources, maxFoundAt),
				Priority:           priority(ct.count, ct.depth),
			})
			continue
		}
		overlap++
		if have < ct.count {
			weak = append(weak, domain.WeakTopic{
				Topic:              title.String(ct.key),
				YourCoverage:       have,
				CompetitorCoverage: ct.count,
				Gap:                ct.count - have,
			})
		}
	}

	sort.SliceStable(missing, func(i, j int) bool {
		if missing[i].CompetitorCoverage != missing[j].CompetitorCoverage {
			return missing[i].CompetitorCoverage > missing[j].CompetitorCoverage
		}
		return missing[i].Depth > missing[j].Depth
	})
	sort.SliceStable(weak, func(i, j int) bool { return weak[i].Gap > weak[j].Gap })

	return domain.GapAnalysisResult{
		MissingTopics: fn.Take(missing, maxMissing),
		WeakTopics:    fn.Take(weak, maxWeak),
		CoverageComparison: domain.CoverageComparison{
			YourTopics:          len(clientCounts),
			CompetitorTopics:    len(order),
			Overlap:             overlap,
			UniqueToCompetitors: len(order) - overlap,
		},
		GapScore: Score(overlap, len(order)),
	}
}

// Score is 100 - round(100 * overlap / max(competitorTopics, 1)), clamped
// to [0, 100].
func Score(overlap, competitorTopics int) int {
	denom := competitorTopics
	if denom < 1 {
		denom = 1
	}
	s := 100 - int(math.Round(100*float64(overlap)/float64(denom)))
	switch {
	case s < 0:
		return 0
	case s > 100:
		return 100
	}
	return s
}

func priority(count, depth int) domain.Priority {
	if count >= 2 || depth >= 7 {
		return domain.PriorityHigh
	}
	return domain.PriorityMedium
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
