package gap

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ekkoscope/sherlock/engine/domain"
)

func scan(url string, ct domain.ContentType, topics ...domain.Topic) domain.ContentScan {
	return domain.ContentScan{URL: url, ContentType: ct, Topics: topics, Status: domain.ScanCompleted}
}

func topic(name, category string, depth int) domain.Topic {
	return domain.Topic{Name: name, Category: category, Depth: depth}
}

// client: warranty x1, pricing x1
// competitors: warranty x1, financing x2, emergency service x3
func scenario() (client, competitor []domain.ContentScan) {
	client = []domain.ContentScan{
		scan("https://acme.example", domain.ContentClientSite, topic("Warranty", "credentials", 5), topic("Pricing", "pricing", 4)),
	}
	competitor = []domain.ContentScan{
		scan("https://a.example", domain.ContentCompetitorSite, topic("warranty", "credentials", 3), topic("Financing", "pricing", 4), topic("Emergency Service", "services", 6)),
		scan("https://b.example", domain.ContentCompetitorSite, topic("financing", "pricing", 5), topic("emergency service", "services", 9)),
		scan("https://c.example", domain.ContentCompetitorSite, topic("EMERGENCY SERVICE", "services", 2)),
	}
	return client, competitor
}

func TestComputeScenario(t *testing.T) {
	client, competitor := scenario()
	res := Compute(client, competitor, Exact)

	if len(res.MissingTopics) != 2 {
		t.Fatalf("missing = %+v", res.MissingTopics)
	}
	first, second := res.MissingTopics[0], res.MissingTopics[1]
	if first.Topic != "Emergency Service" || first.CompetitorCoverage != 3 || first.Priority != domain.PriorityHigh {
		t.Errorf("first = %+v", first)
	}
	if second.Topic != "Financing" || second.CompetitorCoverage != 2 || second.Priority != domain.PriorityHigh {
		t.Errorf("second = %+v", second)
	}
	if first.Depth != 6 || first.Category != "services" {
		t.Errorf("first-seen attributes not kept: %+v", first)
	}
	if strings.Join(first.FoundAt, ",") != "https://a.example,https://b.example,https://c.example" {
		t.Errorf("found_at = %v", first.FoundAt)
	}
	if len(res.WeakTopics) != 0 {
		t.Errorf("weak = %+v", res.WeakTopics)
	}
	want := domain.CoverageComparison{YourTopics: 2, CompetitorTopics: 3, Overlap: 1, UniqueToCompetitors: 2}
	if res.CoverageComparison != want {
		t.Errorf("coverage = %+v", res.CoverageComparison)
	}
	if res.GapScore != 67 {
		t.Errorf("gap score = %d, want 67", res.GapScore)
	}
}

func TestComputeWeakTopics(t *testing.T) {
	client := []domain.ContentScan{scan("u", domain.ContentClientSite, topic("Drains", "services", 5), topic("Heaters", "services", 5))}
	competitor := []domain.ContentScan{
		scan("x", domain.ContentCompetitorSite, topic("drains", "", 5), topic("heaters", "", 5)),
		scan("y", domain.ContentCompetitorSite, topic("drains", "", 5), topic("heaters", "", 5)),
		scan("z", domain.ContentCompetitorSite, topic("drains", "", 5)),
	}
	res := Compute(client, competitor, nil)
	if len(res.MissingTopics) != 0 {
		t.Fatalf("missing = %+v", res.MissingTopics)
	}
	want := []domain.WeakTopic{
		{Topic: "Drains", YourCoverage: 1, CompetitorCoverage: 3, Gap: 2},
		{Topic: "Heaters", YourCoverage: 1, CompetitorCoverage: 2, Gap: 1},
	}
	if !reflect.DeepEqual(res.WeakTopics, want) {
		t.Errorf("weak = %+v", res.WeakTopics)
	}
	if res.GapScore != 0 {
		t.Errorf("superset client should score 0, got %d", res.GapScore)
	}
}

func TestComputeProperties(t *testing.T) {
	client, competitor := scenario()
	a := Compute(client, competitor, Exact)
	b := Compute(client, competitor, Exact)
	if !reflect.DeepEqual(a, b) {
		t.Error("analysis is not deterministic")
	}

	clientKeys := map[string]bool{}
	for _, s := range client {
		for _, tp := range s.Topics {
			clientKeys[strings.ToLower(tp.Name)] = true
		}
	}
	for _, m := range a.MissingTopics {
		if clientKeys[strings.ToLower(m.Topic)] {
			t.Errorf("missing topic %q is covered by the client", m.Topic)
		}
	}
	for _, w := range a.WeakTopics {
		if w.Gap <= 0 || w.YourCoverage >= w.CompetitorCoverage {
			t.Errorf("bad weak topic %+v", w)
		}
	}

	disjoint := Compute(
		[]domain.ContentScan{scan("u", domain.ContentClientSite, topic("Roofing", "", 5))},
		competitor, Exact)
	if disjoint.GapScore != 100 {
		t.Errorf("disjoint sets should score 100, got %d", disjoint.GapScore)
	}
}

func TestComputeTruncatesAndPrioritises(t *testing.T) {
	var topics []domain.Topic
	for i := 0; i < 20; i++ {
		topics = append(topics, topic(string(rune('a'+i))+" topic", "services", i%10+1))
	}
	res := Compute(
		[]domain.ContentScan{scan("u", domain.ContentClientSite, topic("other", "", 5))},
		[]domain.ContentScan{scan("x", domain.ContentCompetitorSite, topics...)}, Exact)
	if len(res.MissingTopics) != maxMissing {
		t.Fatalf("missing = %d", len(res.MissingTopics))
	}
	for i := 1; i < len(res.MissingTopics); i++ {
		if res.MissingTopics[i-1].Depth < res.MissingTopics[i].Depth {
			t.Fatalf("not sorted by depth at %d", i)
		}
	}
	for _, m := range res.MissingTopics {
		wantHigh := m.Depth >= 7
		if (m.Priority == domain.PriorityHigh) != wantHigh {
			t.Errorf("%+v priority", m)
		}
	}
	if res.MissingTopics[0].Category != "services" || res.MissingTopics[0].ExamplePhrases == nil {
		t.Errorf("first = %+v", res.MissingTopics[0])
	}
}

func TestCustomMatcher(t *testing.T) {
	synonyms := MatcherFunc(func(name string) string {
		n := strings.ToLower(name)
		if n == "hvac repair" {
			return "air conditioning repair"
		}
		return n
	})
	res := Compute(
		[]domain.ContentScan{scan("u", domain.ContentClientSite, topic("HVAC Repair", "", 5))},
		[]domain.ContentScan{scan("x", domain.ContentCompetitorSite, topic("Air Conditioning Repair", "", 5))},
		synonyms)
	if len(res.MissingTopics) != 0 || res.GapScore != 0 {
		t.Errorf("matcher not applied: %+v", res)
	}
}

func TestScore(t *testing.T) {
	tests := []struct{ overlap, total, want int }{
		{0, 0, 100},
		{0, 5, 100},
		{5, 5, 0},
		{1, 3, 67},
		{2, 3, 33},
		{1, 2, 50},
	}
	for _, tt := range tests {
		if got := Score(tt.overlap, tt.total); got != tt.want {
			t.Errorf("Score(%d, %d) = %d, want %d", tt.overlap, tt.total, got, tt.want)
		}
	}
}

type fakeScans struct {
	byType      map[domain.ContentType][]domain.ContentScan
	competitors map[int64]domain.Competitor
	err         error
}

func (f *fakeScans) CompletedScans(_ context.Context, _ int64, ct domain.ContentType) ([]domain.ContentScan, error) {
	return f.byType[ct], f.err
}

func (f *fakeScans) GetCompetitor(_ context.Context, id int64) (domain.Competitor, error) {
	c, ok := f.competitors[id]
	if !ok {
		return domain.Competitor{}, domain.ErrCompetitorNotFound
	}
	return c, nil
}

func TestAnalyze(t *testing.T) {
	client, competitor := scenario()
	src := &fakeScans{
		byType: map[domain.ContentType][]domain.ContentScan{
			domain.ContentClientSite:     client,
			domain.ContentCompetitorSite: competitor,
		},
		competitors: map[int64]domain.Competitor{
			3: {ID: 3, BusinessID: 7, URL: "https://c.example"},
			4: {ID: 4, BusinessID: 8, URL: "https://a.example"},
		},
	}
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	a := New(src, domain.Available(), nil, WithClock(func() time.Time { return at }))

	res, err := a.Analyze(context.Background(), 7, nil).Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if res.AnalysisID != "gap_7_20260203040506" || res.BusinessID != 7 || res.GapScore != 67 {
		t.Errorf("result = %+v", res)
	}

	one := int64(3)
	res, err = a.Analyze(context.Background(), 7, &one).Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.MissingTopics) != 1 || res.MissingTopics[0].Topic != "Emergency Service" || res.MissingTopics[0].CompetitorCoverage != 1 {
		t.Errorf("single competitor = %+v", res.MissingTopics)
	}

	other := int64(4)
	if err := a.Analyze(context.Background(), 7, &other).Error(); !errors.Is(err, domain.ErrCompetitorNotFound) {
		t.Errorf("foreign competitor err = %v", err)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	empty := &fakeScans{byType: map[domain.ContentType][]domain.ContentScan{}}
	err := New(empty, domain.Available(), nil).Analyze(context.Background(), 1, nil).Error()
	if !errors.Is(err, domain.ErrNoClientData) {
		t.Errorf("no client data err = %v", err)
	}
	if domain.Reason(err) != "no client content: ingest client content first" {
		t.Errorf("reason = %q", domain.Reason(err))
	}

	err = New(empty, domain.Unavailable("off"), nil).Analyze(context.Background(), 1, nil).Error()
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("disabled err = %v", err)
	}

	broken := &fakeScans{err: errors.New("db down")}
	err = New(broken, domain.Available(), nil).Analyze(context.Background(), 1, nil).Error()
	if !errors.Is(err, domain.ErrPersistence) || errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("store failure err = %v", err)
	}
}
