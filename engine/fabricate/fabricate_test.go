package fabricate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ekkoscope/sherlock/engine/domain"
)

type fakeStore struct {
	missions  map[int64]domain.Mission
	business  domain.Business
	bizErr    error
	statusErr error
	updates   []domain.MissionStatus
}

func (s *fakeStore) GetMission(_ context.Context, id int64) (domain.Mission, error) {
	m, ok := s.missions[id]
	if !ok {
		return domain.Mission{}, fmt.Errorf("mission %d: %w", id, domain.ErrMissionNotFound)
	}
	return m, nil
}

func (s *fakeStore) GetBusiness(context.Context, int64) (domain.Business, error) {
	return s.business, s.bizErr
}

func (s *fakeStore) SetMissionStatus(_ context.Context, id int64, st domain.MissionStatus, _ time.Time) (domain.Mission, error) {
	if s.statusErr != nil {
		return domain.Mission{}, s.statusErr
	}
	s.updates = append(s.updates, st)
	m := s.missions[id]
	m.Status = st
	s.missions[id] = m
	return m, nil
}

type recorder struct {
	prompts []string
	reply   string
	err     error
}

func (r *recorder) Complete(_ context.Context, prompt string, _ float64, _ int) (string, error) {
	r.prompts = append(r.prompts, prompt)
	return r.reply, r.err
}

func newStore(mt domain.MissionType, status domain.MissionStatus) *fakeStore {
	return &fakeStore{
		missions: map[int64]domain.Mission{
			7: {
				ID: 7, BusinessID: 3, MissionType: mt, Status: status,
				MissingTopic:       "Emergency Service",
				TopicContext:       []string{"24/7 emergency repair", "same-day service"},
				CompetitorCoverage: []string{"https://rival.com"},
				TargetURLSlug:      "/emergency-service",
			},
		},
		business: domain.Business{
			ID: 3, Name: "Cool Air HVAC", PrimaryDomain: "coolair.com", BusinessType: "HVAC contractor",
			Phone: "555-0100", Regions: []string{"Austin", "Round Rock"},
		},
	}
}

func TestFabricateBranches(t *testing.T) {
	tests := []struct {
		mt       domain.MissionType
		kind     Kind
		reply    string
		filename string
		ctype    string
		marker   string
	}{
		{domain.MissionTrustBuilding, "", "```json\n{\"@type\":\"HVACBusiness\"}\n```", "schema-emergency-service.json", "application/ld+json", "JSON-LD"},
		{domain.MissionCreatePage, "", "```html\n<!DOCTYPE html><h1>x</h1>\n```", "emergency-service.html", "text/html", "landing page"},
		{domain.MissionContentExpansion, "", "<html></html>", "emergency-service.html", "text/html", "FAQ section"},
		{domain.MissionContentCreation, KindFAQ, "[{\"question\":\"q\",\"answer\":\"a\"}]", "faq-emergency-service.json", "application/json", "JSON array"},
		{domain.MissionType("review_response"), "", "## Heading", "emergency-service.md", "text/markdown", "Markdown"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mt)+"/"+string(tt.kind), func(t *testing.T) {
			store := newStore(tt.mt, domain.MissionPending)
			chat := &recorder{reply: tt.reply}
			f := New(store, chat, domain.Available(), nil)

			got, err := f.Fabricate(context.Background(), 7, tt.kind).Unwrap()
			if err != nil {
				t.Fatal(err)
			}
			if len(chat.prompts) != 1 {
				t.Fatalf("model calls = %d, want 1", len(chat.prompts))
			}
			if !strings.Contains(chat.prompts[0], tt.marker) {
				t.Errorf("prompt missing %q", tt.marker)
			}
			for _, want := range []string{"Cool Air HVAC", "Emergency Service", "24/7 emergency repair", "Austin, Round Rock"} {
				if !strings.Contains(chat.prompts[0], want) {
					t.Errorf("prompt missing %q", want)
				}
			}
			if got.MissionID != 7 || len(got.Files) != 1 {
				t.Fatalf("fabrication = %+v", got)
			}
			file := got.Files[0]
			if file.Filename != tt.filename || file.Type != tt.ctype {
				t.Errorf("file = %s (%s)", file.Filename, file.Type)
			}
			if strings.Contains(file.Content, "```") {
				t.Errorf("fences not stripped: %q", file.Content)
			}
			if len(store.updates) != 1 || store.updates[0] != domain.MissionInProgress {
				t.Errorf("status updates = %v", store.updates)
			}
		})
	}
}

func TestFabricateKeepsCompletedMission(t *testing.T) {
	store := newStore(domain.MissionCreatePage, domain.MissionCompleted)
	f := New(store, &recorder{reply: "<html></html>"}, domain.Available(), nil)
	if _, err := f.Fabricate(context.Background(), 7, "").Unwrap(); err != nil {
		t.Fatal(err)
	}
	if len(store.updates) != 0 {
		t.Errorf("completed mission should not move back, got %v", store.updates)
	}
}

func TestFabricateStatusFailureIsNotFatal(t *testing.T) {
	store := newStore(domain.MissionCreatePage, domain.MissionPending)
	store.statusErr = errors.New("conn reset")
	f := New(store, &recorder{reply: "<html></html>"}, domain.Available(), nil)
	if _, err := f.Fabricate(context.Background(), 7, "").Unwrap(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFabricateFailures(t *testing.T) {
	tests := []struct {
		name    string
		id      int64
		kind    Kind
		cap     domain.Capability
		bizErr  error
		chatErr error
		want    error
		calls   int
	}{
		{"disabled", 7, "", domain.Unavailable("no key"), nil, nil, domain.ErrStoreUnavailable, 0},
		{"bad id", 0, "", domain.Available(), nil, nil, domain.ErrInvalidInput, 0},
		{"bad kind", 7, "video", domain.Available(), nil, nil, domain.ErrInvalidInput, 0},
		{"unknown mission", 99, "", domain.Available(), nil, nil, domain.ErrMissionNotFound, 0},
		{"unknown business", 7, "", domain.Available(), fmt.Errorf("business 3: %w", domain.ErrBusinessNotFound), nil, domain.ErrBusinessNotFound, 0},
		{"store down", 7, "", domain.Available(), errors.New("dial tcp: refused"), nil, domain.ErrPersistence, 0},
		{"model", 7, "", domain.Available(), nil, errors.New("overloaded"), domain.ErrGeneration, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(domain.MissionCreatePage, domain.MissionPending)
			store.bizErr = tt.bizErr
			chat := &recorder{err: tt.chatErr}
			f := New(store, chat, tt.cap, nil)

			res := f.Fabricate(context.Background(), tt.id, tt.kind)
			if !errors.Is(res.Error(), tt.want) {
				t.Fatalf("error = %v, want %v", res.Error(), tt.want)
			}
			if len(chat.prompts) != tt.calls {
				t.Errorf("model calls = %d, want %d", len(chat.prompts), tt.calls)
			}
			if len(store.updates) != 0 {
				t.Errorf("status changed on failure: %v", store.updates)
			}
		})
	}
}

func TestKindFor(t *testing.T) {
	tests := map[domain.MissionType]Kind{
		domain.MissionTrustBuilding:    KindSchema,
		"local_schema":                 KindSchema,
		domain.MissionCreatePage:       KindLanding,
		domain.MissionContentCreation:  KindLanding,
		domain.MissionContentExpansion: KindLanding,
		"faq_builder":                  KindFAQ,
		"review_response":              KindContent,
	}
	for mt, want := range tests {
		if got := KindFor(mt); got != want {
			t.Errorf("KindFor(%q) = %q, want %q", mt, got, want)
		}
	}
}
