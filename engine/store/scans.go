package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/ekkoscope/sherlock/engine/domain"
)

// MaxStoredHTML bounds the raw_html column.
const MaxStoredHTML = 50_000

var scanColumns = []string{
	"id", "business_id", "user_id", "url", "content_type", "extracted_text",
	"vector_id", "topics", "status", "created_at", "processed_at",
}

// ScanFilter selects scans for one business. Empty fields are ignored.
type ScanFilter struct {
	BusinessID  int64
	ContentType domain.ContentType
	Status      domain.ScanStatus
	URL         string
}

// CreateScan inserts scan and returns it with id and created_at set.
func (s *Store) CreateScan(ctx context.Context, scan domain.ContentScan) (domain.ContentScan, error) {
	topics := scan.Topics
	if topics == nil {
		topics = []domain.Topic{}
	}
	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return domain.ContentScan{}, fmt.Errorf("store: marshal topics: %w", err)
	}
	var vectorID *string
	if scan.VectorID != "" {
		vectorID = &scan.VectorID
	}

	b := psql.Insert("content_scans").
		Columns("business_id", "user_id", "url", "content_type", "extracted_text",
			"raw_html", "vector_id", "topics", "status", "processed_at").
		Values(scan.BusinessID, scan.UserID, scan.URL, string(scan.ContentType), scan.ExtractedText,
			truncate(scan.RawHTML, MaxStoredHTML), vectorID, topicsJSON, string(scan.Status), scan.ProcessedAt).
		Suffix("RETURNING id, created_at")

	row, err := s.queryRow(ctx, b)
	if err != nil {
		return domain.ContentScan{}, err
	}
	if err := row.Scan(&scan.ID, &scan.CreatedAt); err != nil {
		return domain.ContentScan{}, mapError(err, "content_scan", scan.BusinessID, domain.ErrNotFound)
	}
	scan.Topics = topics
	return scan, nil
}

// ListScans returns matching scans, oldest first.
func (s *Store) ListScans(ctx context.Context, f ScanFilter) ([]domain.ContentScan, error) {
	where := sq.Eq{"business_id": f.BusinessID}
	if f.ContentType != "" {
		where["content_type"] = string(f.ContentType)
	}
	if f.Status != "" {
		where["status"] = string(f.Status)
	}
	if f.URL != "" {
		where["url"] = f.URL
	}
	b := psql.Select(scanColumns...).From("content_scans").Where(where).OrderBy("id ASC")

	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("store: list scans: %w", err)
	}
	defer rows.Close()

	out := []domain.ContentScan{}
	for rows.Next() {
		sc, err := scanContentScan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list scans: %w", err)
	}
	return out, nil
}

// CompletedScans is ListScans restricted to completed scans of one type.
func (s *Store) CompletedScans(ctx context.Context, businessID int64, ct domain.ContentType) ([]domain.ContentScan, error) {
	return s.ListScans(ctx, ScanFilter{BusinessID: businessID, ContentType: ct, Status: domain.ScanCompleted})
}

// ScanVectorIDs returns every non-null vector id recorded for a business.
func (s *Store) ScanVectorIDs(ctx context.Context, businessID int64) ([]string, error) {
	b := psql.Select("vector_id").From("content_scans").
		Where(sq.Eq{"business_id": businessID}).
		Where(sq.NotEq{"vector_id": nil}).
		OrderBy("id ASC")

	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("store: scan vector ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan vector ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteScans removes every scan of a business.
func (s *Store) DeleteScans(ctx context.Context, businessID int64) (int64, error) {
	n, err := s.exec(ctx, psql.Delete("content_scans").Where(sq.Eq{"business_id": businessID}))
	if err != nil {
		return 0, fmt.Errorf("store: delete scans: %w", err)
	}
	return n, nil
}

func scanContentScan(row pgx.Row) (domain.ContentScan, error) {
	var (
		sc          domain.ContentScan
		contentType string
		status      string
		vectorID    *string
		topics      []byte
		processedAt *time.Time
	)
	if err := row.Scan(&sc.ID, &sc.BusinessID, &sc.UserID, &sc.URL, &contentType, &sc.ExtractedText,
		&vectorID, &topics, &status, &sc.CreatedAt, &processedAt); err != nil {
		return domain.ContentScan{}, fmt.Errorf("store: scan content_scan: %w", err)
	}
	sc.ContentType = domain.ContentType(contentType)
	sc.Status = domain.ScanStatus(status)
	sc.ProcessedAt = processedAt
	if vectorID != nil {
		sc.VectorID = *vectorID
	}
	sc.Topics = []domain.Topic{}
	if len(topics) > 0 {
		if err := json.Unmarshal(topics, &sc.Topics); err != nil {
			return domain.ContentScan{}, fmt.Errorf("store: decode topics of scan %d: %w", sc.ID, err)
		}
	}
	return sc, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
