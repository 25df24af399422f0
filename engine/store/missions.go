package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/ekkoscope/sherlock/engine/domain"
)

var missionColumns = []string{
	"id", "business_id", "gap_analysis_id", "mission_type", "priority", "status",
	"title", "description", "missing_topic", "topic_context", "competitor_coverage",
	"recommended_action", "estimated_impact", "target_url_slug", "created_at", "completed_at",
}

// CreateMission inserts m and binds the generated id and created_at
// immediately.
func (s *Store) CreateMission(ctx context.Context, m domain.Mission) (domain.Mission, error) {
	if m.Status == "" {
		m.Status = domain.MissionPending
	}
	if m.TopicContext == nil {
		m.TopicContext = []string{}
	}
	if m.CompetitorCoverage == nil {
		m.CompetitorCoverage = []string{}
	}
	topicCtx, err := json.Marshal(m.TopicContext)
	if err != nil {
		return domain.Mission{}, fmt.Errorf("store: marshal topic_context: %w", err)
	}
	coverage, err := json.Marshal(m.CompetitorCoverage)
	if err != nil {
		return domain.Mission{}, fmt.Errorf("store: marshal competitor_coverage: %w", err)
	}

	b := psql.Insert("missions").
		Columns("business_id", "gap_analysis_id", "mission_type", "priority", "status", "title",
			"description", "missing_topic", "topic_context", "competitor_coverage",
			"recommended_action", "estimated_impact", "target_url_slug").
		Values(m.BusinessID, m.GapAnalysisID, string(m.MissionType), string(m.Priority), string(m.Status), m.Title,
			m.Description, m.MissingTopic, topicCtx, coverage,
			m.RecommendedAction, m.EstimatedImpact, m.TargetURLSlug).
		Suffix("RETURNING id, created_at")

	row, err := s.queryRow(ctx, b)
	if err != nil {
		return domain.Mission{}, err
	}
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return domain.Mission{}, mapError(err, "mission", m.BusinessID, domain.ErrMissionNotFound)
	}
	return m, nil
}

// GetMission loads one mission.
func (s *Store) GetMission(ctx context.Context, id int64) (domain.Mission, error) {
	row, err := s.queryRow(ctx, psql.Select(missionColumns...).From("missions").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Mission{}, err
	}
	m, err := scanMission(row)
	if err != nil {
		return domain.Mission{}, mapError(err, "mission", id, domain.ErrMissionNotFound)
	}
	return m, nil
}

// ListMissions returns a business's missions: high priority first, then
// newest first. status filters when non-empty.
func (s *Store) ListMissions(ctx context.Context, businessID int64, status domain.MissionStatus) ([]domain.Mission, error) {
	where := sq.Eq{"business_id": businessID}
	if status != "" {
		where["status"] = string(status)
	}
	b := psql.Select(missionColumns...).From("missions").Where(where).
		OrderBy("CASE priority WHEN 'high' THEN 0 ELSE 1 END", "created_at DESC", "id ASC")

	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("store: list missions: %w", err)
	}
	defer rows.Close()

	out := []domain.Mission{}
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list missions: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetMissionStatus updates status, stamping completed_at when completing.
func (s *Store) SetMissionStatus(ctx context.Context, id int64, status domain.MissionStatus, at time.Time) (domain.Mission, error) {
	b := psql.Update("missions").Set("status", string(status)).Where(sq.Eq{"id": id})
	if status == domain.MissionCompleted {
		b = b.Set("completed_at", at)
	}
	b = b.Suffix("RETURNING " + strings.Join(missionColumns, ", "))

	row, err := s.queryRow(ctx, b)
	if err != nil {
		return domain.Mission{}, err
	}
	m, err := scanMission(row)
	if err != nil {
		return domain.Mission{}, mapError(err, "mission", id, domain.ErrMissionNotFound)
	}
	return m, nil
}

// DeleteMissions removes every mission of a business.
func (s *Store) DeleteMissions(ctx context.Context, businessID int64) (int64, error) {
	n, err := s.exec(ctx, psql.Delete("missions").Where(sq.Eq{"business_id": businessID}))
	if err != nil {
		return 0, fmt.Errorf("store: delete missions: %w", err)
	}
	return n, nil
}

func scanMission(row pgx.Row) (domain.Mission, error) {
	var (
		m                             domain.Mission
		missionType, priority, status string
		topicCtx, coverage            []byte
	)
	if err := row.Scan(&m.ID, &m.BusinessID, &m.GapAnalysisID, &missionType, &priority, &status,
		&m.Title, &m.Description, &m.MissingTopic, &topicCtx, &coverage,
		&m.RecommendedAction, &m.EstimatedImpact, &m.TargetURLSlug, &m.CreatedAt, &m.CompletedAt); err != nil {
		return domain.Mission{}, err
	}
	m.MissionType = domain.MissionType(missionType)
	m.Priority = domain.Priority(priority)
	m.Status = domain.MissionStatus(status)
	m.TopicContext = decodeStrings(topicCtx)
	m.CompetitorCoverage = decodeStrings(coverage)
	return m, nil
}

func decodeStrings(b []byte) []string {
	out := []string{}
	if len(b) == 0 {
		return out
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return []string{}
	}
	return out
}
