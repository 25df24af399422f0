package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/ekkoscope/sherlock/engine/domain"
)

func newMock(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return New(mock), mock
}

func expectationsMet(t *testing.T, mock pgxmock.PgxPoolIface) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateScan(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO content_scans").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), now))

	got, err := s.CreateScan(context.Background(), domain.ContentScan{
		BusinessID:  1,
		URL:         "https://acme.example",
		ContentType: domain.ContentClientSite,
		RawHTML:     strings.Repeat("x", MaxStoredHTML+10),
		VectorID:    "v-1",
		Status:      domain.ScanCompleted,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 7 || !got.CreatedAt.Equal(now) {
		t.Errorf("scan = %+v", got)
	}
	if got.Topics == nil {
		t.Error("topics should default to an empty list")
	}
	expectationsMet(t, mock)
}

func TestCreateScanUnknownBusiness(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("INSERT INTO content_scans").
		WillReturnError(&pgconn.PgError{Code: "23503"})

	_, err := s.CreateScan(context.Background(), domain.ContentScan{BusinessID: 99, ContentType: domain.ContentClientSite})
	if !errors.Is(err, domain.ErrBusinessNotFound) {
		t.Fatalf("err = %v", err)
	}
	expectationsMet(t, mock)
}

func TestListScansDecodesTopics(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	rows := pgxmock.NewRows(scanColumns).
		AddRow(int64(1), int64(5), nil, "https://a.example", "competitor_site", "text",
			strPtr("v-1"), []byte(`[{"topic":"Financing","category":"pricing","depth":6,"example_phrases":["0% APR"]}]`),
			"completed", now, &now).
		AddRow(int64(2), int64(5), nil, "https://b.example", "competitor_site", "text",
			nil, []byte(`[]`), "completed", now, nil)

	mock.ExpectQuery("SELECT (.+) FROM content_scans WHERE").
		WithArgs(int64(5), "competitor_site", "completed").
		WillReturnRows(rows)

	got, err := s.CompletedScans(context.Background(), 5, domain.ContentCompetitorSite)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d scans", len(got))
	}
	if got[0].VectorID != "v-1" || len(got[0].Topics) != 1 || got[0].Topics[0].Name != "Financing" {
		t.Errorf("first scan = %+v", got[0])
	}
	if got[1].VectorID != "" || got[1].Topics == nil {
		t.Errorf("second scan = %+v", got[1])
	}
	expectationsMet(t, mock)
}

func TestScanVectorIDs(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("SELECT vector_id FROM content_scans").
		WillReturnRows(pgxmock.NewRows([]string{"vector_id"}).AddRow("a").AddRow("b"))

	ids, err := s.ScanVectorIDs(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(ids, ",") != "a,b" {
		t.Errorf("ids = %v", ids)
	}
	expectationsMet(t, mock)
}

func TestUpsertCompetitor(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO competitors (.+) ON CONFLICT \\(business_id, url\\) DO UPDATE").
		WillReturnRows(pgxmock.NewRows(competitorColumns).
			AddRow(int64(4), int64(1), "rival.example", "https://rival.example", "manual", false, "active", nil, now))

	c, err := s.UpsertCompetitor(context.Background(), domain.Competitor{
		BusinessID:       1,
		Name:             "rival.example",
		URL:              "https://rival.example",
		DiscoveredSource: domain.SourceManual,
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != 4 || c.Status != "active" || c.LastScannedAt != nil {
		t.Errorf("competitor = %+v", c)
	}
	expectationsMet(t, mock)
}

func TestGetCompetitorNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("SELECT (.+) FROM competitors").WillReturnError(pgx.ErrNoRows)

	_, err := s.GetCompetitor(context.Background(), 12)
	if !errors.Is(err, domain.ErrCompetitorNotFound) {
		t.Fatalf("err = %v", err)
	}
	expectationsMet(t, mock)
}

func TestCreateMissionBindsID(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO missions").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(31), now))

	m, err := s.CreateMission(context.Background(), domain.Mission{
		BusinessID:    1,
		GapAnalysisID: "gap_1_20260101000000",
		MissionType:   domain.MissionCreatePage,
		Priority:      domain.PriorityHigh,
		Title:         "Create page",
		MissingTopic:  "Financing",
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != 31 || m.Status != domain.MissionPending {
		t.Errorf("mission = %+v", m)
	}
	if m.TopicContext == nil || m.CompetitorCoverage == nil {
		t.Error("list fields should default to empty")
	}
	expectationsMet(t, mock)
}

func TestListMissionsOrdering(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM missions WHERE (.+) ORDER BY CASE priority WHEN 'high' THEN 0 ELSE 1 END, created_at DESC, id ASC").
		WithArgs(int64(1), "pending").
		WillReturnRows(pgxmock.NewRows(missionColumns).
			AddRow(int64(1), int64(1), "gap_1", "create_page", "high", "pending", "T", "D", "Financing",
				[]byte(`["0% APR"]`), []byte(`["https://rival.example"]`), "act", "+5% AI visibility", "/financing", now, nil))

	got, err := s.ListMissions(context.Background(), 1, domain.MissionPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].TopicContext[0] != "0% APR" || got[0].CompetitorCoverage[0] != "https://rival.example" {
		t.Errorf("missions = %+v", got)
	}
	expectationsMet(t, mock)
}

func TestSetMissionStatusNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("UPDATE missions SET status").WillReturnError(pgx.ErrNoRows)

	_, err := s.SetMissionStatus(context.Background(), 404, domain.MissionCompleted, time.Now())
	if !errors.Is(err, domain.ErrMissionNotFound) {
		t.Fatalf("err = %v", err)
	}
	expectationsMet(t, mock)
}

func TestGetBusiness(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM businesses").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "primary_domain", "business_type", "description",
			"phone", "regions", "categories", "created_at"}).
			AddRow(int64(1), "Acme Plumbing", "acme.example", "plumber", "Family run", "555-0100",
				[]byte(`["Springfield"]`), []byte(`["plumbing"]`), now))

	b, err := s.GetBusiness(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if b.Name != "Acme Plumbing" || len(b.Regions) != 1 || b.Categories[0] != "plumbing" {
		t.Errorf("business = %+v", b)
	}
	expectationsMet(t, mock)
}

func TestRunInTxCommitsAndRollsBack(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM missions").WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("DELETE FROM competitors").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	var missions, competitors int64
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if missions, err = s.DeleteMissions(ctx, 1); err != nil {
			return err
		}
		competitors, err = s.DeleteCompetitors(ctx, 1)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if missions != 2 || competitors != 1 {
		t.Errorf("deleted missions=%d competitors=%d", missions, competitors)
	}

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	if err := s.RunInTx(ctx, func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	expectationsMet(t, mock)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, domain.ErrMissionNotFound},
		{"unique", &pgconn.PgError{Code: "23505"}, ErrConflict},
		{"foreign key", &pgconn.PgError{Code: "23503"}, domain.ErrBusinessNotFound},
		{"check", &pgconn.PgError{Code: "23514"}, domain.ErrInvalidInput},
		{"context", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapError(tt.err, "mission", 1, domain.ErrMissionNotFound); !errors.Is(got, tt.want) {
				t.Errorf("mapError = %v, want %v", got, tt.want)
			}
		})
	}
	if mapError(nil, "x", 1, domain.ErrNotFound) != nil {
		t.Error("nil should stay nil")
	}
}

func TestTruncateRespectsRunes(t *testing.T) {
	if got := truncate("aé", 2); got != "a" {
		t.Errorf("got %q", got)
	}
}

func strPtr(s string) *string { return &s }
