package sherlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/engine/fabricate"
	"github.com/ekkoscope/sherlock/pkg/config"
	"github.com/ekkoscope/sherlock/pkg/fn"
	"github.com/ekkoscope/sherlock/pkg/metrics"
)

// --- fakes ---

type fakeIngester struct {
	mu      sync.Mutex
	active  map[int64]int
	maxSeen map[int64]int
	hold    time.Duration
	entered chan int64
	release chan struct{}
	fail    bool
}

func newFakeIngester() *fakeIngester {
	return &fakeIngester{active: map[int64]int{}, maxSeen: map[int64]int{}}
}

func (f *fakeIngester) Ingest(_ context.Context, req domain.IngestRequest) fn.Result[domain.ContentScan] {
	f.mu.Lock()
	f.active[req.BusinessID]++
	if f.active[req.BusinessID] > f.maxSeen[req.BusinessID] {
		f.maxSeen[req.BusinessID] = f.active[req.BusinessID]
	}
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- req.BusinessID
	}
	if f.release != nil {
		<-f.release
	}
	time.Sleep(f.hold)

	f.mu.Lock()
	f.active[req.BusinessID]--
	f.mu.Unlock()

	if f.fail {
		return fn.Err[domain.ContentScan](domain.Fail("ingest.fetch", domain.ErrFetch, errors.New("404")))
	}
	return fn.Ok(domain.ContentScan{ID: 1, BusinessID: req.BusinessID, URL: req.URL, ContentType: req.ContentType})
}

type fakeStore struct {
	mu          sync.Mutex
	missions    map[int64]domain.Mission
	competitors []domain.Competitor
	upsertErr   error
}

func (s *fakeStore) GetMission(_ context.Context, id int64) (domain.Mission, error) {
	m, ok := s.missions[id]
	if !ok {
		return domain.Mission{}, fmt.Errorf("mission %d: %w", id, domain.ErrMissionNotFound)
	}
	return m, nil
}

func (s *fakeStore) UpsertCompetitor(_ context.Context, c domain.Competitor) (domain.Competitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return domain.Competitor{}, s.upsertErr
	}
	for _, have := range s.competitors {
		if have.BusinessID == c.BusinessID && have.URL == c.URL {
			return have, nil
		}
	}
	if c.Name == "" {
		c.Name = domain.HostName(c.URL)
	}
	c.ID = int64(len(s.competitors) + 1)
	s.competitors = append(s.competitors, c)
	return c, nil
}

func (s *fakeStore) ListCompetitors(_ context.Context, businessID int64) ([]domain.Competitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn.Filter(s.competitors, func(c domain.Competitor) bool { return c.BusinessID == businessID }), nil
}

type fakeFabricator struct{ calls atomic.Int32 }

func (f *fakeFabricator) Fabricate(_ context.Context, id int64, _ fabricate.Kind) fn.Result[domain.Fabrication] {
	f.calls.Add(1)
	return fn.Ok(domain.Fabrication{MissionID: id})
}

type fakeMissions struct{ completed []int64 }

func (f *fakeMissions) Generate(context.Context, int64, *domain.GapAnalysisResult) fn.Result[[]domain.Mission] {
	return fn.Ok([]domain.Mission{})
}

func (f *fakeMissions) List(context.Context, int64, domain.MissionStatus) fn.Result[[]domain.Mission] {
	return fn.Ok([]domain.Mission{})
}

func (f *fakeMissions) Complete(_ context.Context, id int64) fn.Result[domain.Mission] {
	f.completed = append(f.completed, id)
	return fn.Ok(domain.Mission{ID: id, Status: domain.MissionCompleted})
}

type fakeConsultant struct{ grounded bool }

func (f fakeConsultant) Consult(context.Context, string, int64, int) fn.Result[domain.Consultation] {
	return fn.Ok(domain.Consultation{Grounded: f.grounded})
}

type harness struct {
	eng      *Engine
	ing      *fakeIngester
	store    *fakeStore
	fab      *fakeFabricator
	missions *fakeMissions
	reg      *metrics.Registry
}

func newHarness(c domain.Capability) *harness {
	h := &harness{
		ing: newFakeIngester(),
		store: &fakeStore{missions: map[int64]domain.Mission{
			11: {ID: 11, BusinessID: 3, Status: domain.MissionPending},
		}},
		fab:      &fakeFabricator{},
		missions: &fakeMissions{},
		reg:      metrics.New(),
	}
	h.eng = New(Components{
		Ingester:   h.ing,
		Missions:   h.missions,
		Strategist: fakeConsultant{grounded: true},
		Fabricator: h.fab,
		Store:      h.store,
		Capability: c,
		Metrics:    h.reg,
		Workers:    4,
	})
	return h
}

// --- tests ---

func TestIngestSerializesPerBusiness(t *testing.T) {
	h := newHarness(domain.Available())
	h.ing.hold = 5 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.eng.Ingest(context.Background(), domain.IngestRequest{
				URL: fmt.Sprintf("https://a.com/%d", i), ContentType: domain.ContentClientSite, BusinessID: 1,
			})
		}(i)
	}
	wg.Wait()

	if got := h.ing.maxSeen[1]; got != 1 {
		t.Errorf("max concurrent ingestions for one business = %d, want 1", got)
	}
	if n := h.eng.locks.size(); n != 0 {
		t.Errorf("lock table not drained: %d entries", n)
	}
}

func TestDifferentBusinessesRunConcurrently(t *testing.T) {
	h := newHarness(domain.Available())
	h.ing.entered = make(chan int64, 2)
	h.ing.release = make(chan struct{})

	var wg sync.WaitGroup
	for _, bid := range []int64{1, 2} {
		wg.Add(1)
		go func(bid int64) {
			defer wg.Done()
			h.eng.Ingest(context.Background(), domain.IngestRequest{
				URL: "https://a.com", ContentType: domain.ContentClientSite, BusinessID: bid,
			})
		}(bid)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-h.ing.entered:
		case <-time.After(2 * time.Second):
			t.Fatal("second business blocked behind the first")
		}
	}
	close(h.ing.release)
	wg.Wait()
}

func TestBatchRunsInsideOneLock(t *testing.T) {
	h := newHarness(domain.Available())
	h.ing.hold = 2 * time.Millisecond

	res, err := h.eng.IngestBatch(context.Background(),
		[]string{"https://a.com", "https://b.com", "https://c.com"}, domain.ContentCompetitorSite, 5, nil).Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempted != 3 || res.Succeeded != 3 {
		t.Errorf("batch = %+v", res)
	}
	ok := h.reg.Counter("sherlock_ingest_total", "", "content_type", "competitor_site", "outcome", "ok").Value()
	if ok != 3 {
		t.Errorf("ingest ok counter = %d, want 3", ok)
	}
}

func TestBatchRejectsBadInput(t *testing.T) {
	h := newHarness(domain.Available())
	for name, tc := range map[string]struct {
		ct  domain.ContentType
		bid int64
	}{
		"content type": {"blog", 5},
		"business":     {domain.ContentClientSite, 0},
	} {
		t.Run(name, func(t *testing.T) {
			r := h.eng.IngestBatch(context.Background(), []string{"https://a.com"}, tc.ct, tc.bid, nil)
			if !errors.Is(r.Error(), domain.ErrInvalidInput) {
				t.Fatalf("error = %v", r.Error())
			}
		})
	}
	if len(h.ing.maxSeen) != 0 {
		t.Error("ingester called for invalid batch")
	}
}

func TestDisabledEngineRefusesEverything(t *testing.T) {
	h := newHarness(domain.Unavailable("vector store address not configured"))
	ctx := context.Background()

	errs := map[string]error{
		"ingest":          h.eng.Ingest(ctx, domain.IngestRequest{URL: "https://a.com", ContentType: domain.ContentClientSite, BusinessID: 1}).Error(),
		"batch":           h.eng.IngestBatch(ctx, []string{"https://a.com"}, domain.ContentClientSite, 1, nil).Error(),
		"analyze":         h.eng.Analyze(ctx, 1, nil).Error(),
		"generate":        h.eng.GenerateMissions(ctx, 1, nil).Error(),
		"list missions":   h.eng.ListMissions(ctx, 1, "").Error(),
		"complete":        h.eng.CompleteMission(ctx, 11).Error(),
		"consult":         h.eng.Consult(ctx, "why?", 1, 5).Error(),
		"fabricate":       h.eng.Fabricate(ctx, 11, "").Error(),
		"clear":           h.eng.Clear(ctx, 1).Error(),
		"rescan":          h.eng.Rescan(ctx, 1, "https://a.com", nil).Error(),
		"full analysis":   h.eng.FullAnalysis(ctx, 1, "https://a.com", nil).Error(),
		"add competitor":  h.eng.AddCompetitor(ctx, 1, "https://rival.com", "", false).Error(),
		"list competitor": h.eng.ListCompetitors(ctx, 1).Error(),
	}
	for name, err := range errs {
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			t.Errorf("%s: error = %v, want store unavailable", name, err)
		}
	}
	if len(h.ing.maxSeen) != 0 || h.fab.calls.Load() != 0 || len(h.missions.completed) != 0 {
		t.Error("collaborator called while disabled")
	}
	if got := h.reg.Counter("sherlock_engine_errors_total", "", "op", "ingest", "reason", "knowledge store unavailable").Value(); got != 1 {
		t.Errorf("error counter = %d", got)
	}
}

func TestMissionOpsResolveBusiness(t *testing.T) {
	h := newHarness(domain.Available())
	ctx := context.Background()

	if _, err := h.eng.Fabricate(ctx, 11, fabricate.KindFAQ).Unwrap(); err != nil {
		t.Fatal(err)
	}
	if _, err := h.eng.CompleteMission(ctx, 11).Unwrap(); err != nil {
		t.Fatal(err)
	}

	if err := h.eng.Fabricate(ctx, 99, "").Error(); !errors.Is(err, domain.ErrMissionNotFound) {
		t.Errorf("unknown mission: %v", err)
	}
	if err := h.eng.CompleteMission(ctx, 0).Error(); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("zero id: %v", err)
	}
	if h.fab.calls.Load() != 1 || len(h.missions.completed) != 1 {
		t.Errorf("fabricate calls = %d, completes = %v", h.fab.calls.Load(), h.missions.completed)
	}
}

func TestAddCompetitor(t *testing.T) {
	h := newHarness(domain.Available())
	ctx := context.Background()

	c, err := h.eng.AddCompetitor(ctx, 3, "  https://www.rival.com/ ", "", true).Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "rival.com" || c.DiscoveredSource != domain.SourceManual || !c.IsPrimary {
		t.Errorf("competitor = %+v", c)
	}

	again, err := h.eng.AddCompetitor(ctx, 3, "https://www.rival.com/", "Rival", false).Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != c.ID {
		t.Errorf("second add created id %d, want %d", again.ID, c.ID)
	}

	list, err := h.eng.ListCompetitors(ctx, 3).Unwrap()
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v, %v", list, err)
	}
	empty, err := h.eng.ListCompetitors(ctx, 4).Unwrap()
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("empty list = %#v, %v", empty, err)
	}

	if err := h.eng.AddCompetitor(ctx, 3, "ftp://rival.com", "", false).Error(); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("bad url: %v", err)
	}
	h.store.upsertErr = fmt.Errorf("competitor 3: %w", domain.ErrBusinessNotFound)
	if err := h.eng.AddCompetitor(ctx, 3, "https://other.com", "", false).Error(); !errors.Is(err, domain.ErrBusinessNotFound) {
		t.Errorf("unknown business: %v", err)
	}
}

func TestConsultCountsGrounded(t *testing.T) {
	h := newHarness(domain.Available())
	if _, err := h.eng.Consult(context.Background(), "how do we win?", 3, 5).Unwrap(); err != nil {
		t.Fatal(err)
	}
	if got := h.reg.Counter("sherlock_consultations_total", "", "grounded", "true").Value(); got != 1 {
		t.Errorf("grounded consultations = %d", got)
	}
	if got := h.reg.Counter("sherlock_engine_operations_total", "", "op", "consult").Value(); got != 1 {
		t.Errorf("consult operations = %d", got)
	}
}

func TestEngineIngesterIsSerialized(t *testing.T) {
	h := newHarness(domain.Available())
	h.ing.fail = true
	r := h.eng.Ingester().Ingest(context.Background(), domain.IngestRequest{
		URL: "https://a.com", ContentType: domain.ContentClientSite, BusinessID: 2,
	})
	if !errors.Is(r.Error(), domain.ErrFetch) {
		t.Fatalf("error = %v", r.Error())
	}
	if got := h.reg.Counter("sherlock_ingest_total", "", "content_type", "client_site", "outcome", "error").Value(); got != 1 {
		t.Errorf("failed ingest counter = %d", got)
	}
}

func TestCapabilityFromConfig(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			Qdrant:    config.QdrantConfig{Host: "qdrant", Port: 6334},
			Embedding: config.EmbeddingConfig{Provider: "openai", APIKey: "sk-test", Dimensions: 1536},
		}
	}
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   bool
	}{
		{"configured", func(*config.Config) {}, true},
		{"no host", func(c *config.Config) { c.Qdrant.Host = "" }, false},
		{"no key", func(c *config.Config) { c.Embedding.APIKey = "" }, false},
		{"ollama needs no key", func(c *config.Config) { c.Embedding.Provider = "ollama"; c.Embedding.APIKey = "" }, true},
		{"no dimensions", func(c *config.Config) { c.Embedding.Dimensions = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			c := CapabilityFromConfig(cfg)
			if c.Enabled() != tt.want {
				t.Errorf("enabled = %v (%s), want %v", c.Enabled(), c.Reason(), tt.want)
			}
			if !c.Enabled() && c.Reason() == "" {
				t.Error("unavailable capability without reason")
			}
		})
	}
}
