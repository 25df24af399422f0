package ingest

import (
	"context"
	"time"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/engine/fetch"
	"github.com/ekkoscope/sherlock/engine/semantic"
	"github.com/ekkoscope/sherlock/engine/topics"
)

// Fetcher retrieves one page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetch.Page, error)
}

// TopicExtractor turns page text into topics. A non-nil error is logged and
// the returned (possibly empty) list is used anyway.
type TopicExtractor interface {
	Extract(ctx context.Context, in topics.Input) ([]domain.Topic, error)
}

// VectorWriter is the write side of the Knowledge Store.
type VectorWriter interface {
	Upsert(ctx context.Context, namespace string, records []semantic.VectorRecord) error
	Delete(ctx context.Context, namespace string, ids []string) error
}

// ScanStore persists completed scans and the competitor rows they imply.
type ScanStore interface {
	RunInTx(ctx context.Context, f func(ctx context.Context) error) error
	CreateScan(ctx context.Context, scan domain.ContentScan) (domain.ContentScan, error)
	UpsertCompetitor(ctx context.Context, c domain.Competitor) (domain.Competitor, error)
}

// Projector mirrors a completed scan somewhere else (the topic graph).
type Projector interface {
	ProjectScan(ctx context.Context, scan domain.ContentScan) error
}

// ScanCompleted is published after a scan is persisted.
type ScanCompleted struct {
	ScanID      int64              `json:"scan_id"`
	BusinessID  int64              `json:"business_id"`
	URL         string             `json:"url"`
	ContentType domain.ContentType `json:"content_type"`
	VectorID    string             `json:"vector_id"`
	Topics      []string           `json:"topics"`
	ProcessedAt time.Time          `json:"processed_at"`
}

// job carries one URL through the pipeline stages.
type job struct {
	req      domain.IngestRequest
	page     fetch.Page
	topics   []domain.Topic
	vector   []float32
	vectorID string
}
