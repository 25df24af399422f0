package store

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/ekkoscope/sherlock/engine/domain"
)

var competitorColumns = []string{
	"id", "business_id", "name", "url", "discovered_source", "is_primary",
	"status", "last_scanned_at", "created_at",
}

// UpsertCompetitor creates the competitor or refreshes the existing row for
// the same (business_id, url). An empty name defaults to the URL host on
// insert and never overwrites an existing name. is_primary only ever turns on.
func (s *Store) UpsertCompetitor(ctx context.Context, c domain.Competitor) (domain.Competitor, error) {
	if c.Status == "" {
		c.Status = "active"
	}
	name := c.Name
	if name == "" {
		name = domain.HostName(c.URL)
	}
	b := psql.Insert("competitors").
		Columns("business_id", "name", "url", "discovered_source", "is_primary", "status", "last_scanned_at").
		Values(c.BusinessID, name, c.URL, c.DiscoveredSource, c.IsPrimary, c.Status, c.LastScannedAt).
		Suffix(`ON CONFLICT (business_id, url) DO UPDATE SET
			name = COALESCE(NULLIF(?::text, ''), competitors.name),
			is_primary = competitors.is_primary OR EXCLUDED.is_primary,
			status = EXCLUDED.status,
			last_scanned_at = COALESCE(EXCLUDED.last_scanned_at, competitors.last_scanned_at)
		RETURNING `+strings.Join(competitorColumns, ", "), c.Name)

	row, err := s.queryRow(ctx, b)
	if err != nil {
		return domain.Competitor{}, err
	}
	out, err := scanCompetitor(row)
	if err != nil {
		return domain.Competitor{}, mapError(err, "competitor", c.BusinessID, domain.ErrCompetitorNotFound)
	}
	return out, nil
}

// GetCompetitor loads one competitor.
func (s *Store) GetCompetitor(ctx context.Context, id int64) (domain.Competitor, error) {
	row, err := s.queryRow(ctx, psql.Select(competitorColumns...).From("competitors").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Competitor{}, err
	}
	c, err := scanCompetitor(row)
	if err != nil {
		return domain.Competitor{}, mapError(err, "competitor", id, domain.ErrCompetitorNotFound)
	}
	return c, nil
}

// ListCompetitors returns a business's competitors, primary ones first.
func (s *Store) ListCompetitors(ctx context.Context, businessID int64) ([]domain.Competitor, error) {
	b := psql.Select(competitorColumns...).From("competitors").
		Where(sq.Eq{"business_id": businessID}).
		OrderBy("is_primary DESC", "id ASC")

	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("store: list competitors: %w", err)
	}
	defer rows.Close()

	out := []domain.Competitor{}
	for rows.Next() {
		c, err := scanCompetitor(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list competitors: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCompetitors removes every competitor of a business.
func (s *Store) DeleteCompetitors(ctx context.Context, businessID int64) (int64, error) {
	n, err := s.exec(ctx, psql.Delete("competitors").Where(sq.Eq{"business_id": businessID}))
	if err != nil {
		return 0, fmt.Errorf("store: delete competitors: %w", err)
	}
	return n, nil
}

func scanCompetitor(row pgx.Row) (domain.Competitor, error) {
	var c domain.Competitor
	err := row.Scan(&c.ID, &c.BusinessID, &c.Name, &c.URL, &c.DiscoveredSource, &c.IsPrimary,
		&c.Status, &c.LastScannedAt, &c.CreatedAt)
	return c, err
}
