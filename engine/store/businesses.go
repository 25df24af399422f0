package store

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/ekkoscope/sherlock/engine/domain"
)

// GetBusiness loads a business profile.
func (s *Store) GetBusiness(ctx context.Context, id int64) (domain.Business, error) {
	b := psql.Select("id", "name", "primary_domain", "business_type", "description", "phone",
		"regions", "categories", "created_at").
		From("businesses").Where(sq.Eq{"id": id})

	row, err := s.queryRow(ctx, b)
	if err != nil {
		return domain.Business{}, err
	}
	var (
		biz                 domain.Business
		regions, categories []byte
	)
	if err := row.Scan(&biz.ID, &biz.Name, &biz.PrimaryDomain, &biz.BusinessType, &biz.Description,
		&biz.Phone, &regions, &categories, &biz.CreatedAt); err != nil {
		return domain.Business{}, mapError(err, "business", id, domain.ErrBusinessNotFound)
	}
	biz.Regions = decodeStrings(regions)
	biz.Categories = decodeStrings(categories)
	return biz, nil
}
