package ingest

import (
	"context"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/pkg/fn"
)

// Ingester runs one ingestion. *Pipeline implements it; the engine facade
// wraps it with per-business serialization.
type Ingester interface {
	Ingest(ctx context.Context, req domain.IngestRequest) fn.Result[domain.ContentScan]
}

// ToResult converts a pipeline outcome into the caller-facing shape.
func ToResult(url string, r fn.Result[domain.ContentScan]) domain.IngestResult {
	scan, err := r.Unwrap()
	if err != nil {
		return domain.IngestResult{Success: false, URL: url, Error: domain.Reason(err)}
	}
	return domain.IngestResult{
		Success:  true,
		URL:      scan.URL,
		ScanID:   scan.ID,
		VectorID: scan.VectorID,
		Topics:   scan.Topics,
	}
}

// Batch ingests every URL independently with up to workers in flight. One
// URL failing never aborts the others; results keep input order.
func Batch(ctx context.Context, ing Ingester, urls []string, ct domain.ContentType, businessID int64, userID *int64, source string, workers int) domain.BatchResult {
	if workers <= 0 {
		workers = 1
	}
	results := fn.ParMapResult(urls, workers, func(u string) fn.Result[domain.IngestResult] {
		r := ing.Ingest(ctx, domain.IngestRequest{
			URL:         u,
			ContentType: ct,
			BusinessID:  businessID,
			UserID:      userID,
			Source:      source,
		})
		return fn.Ok(ToResult(u, r))
	})

	out := domain.BatchResult{Attempted: len(urls), Results: make([]domain.IngestResult, len(results))}
	for i, r := range results {
		res, _ := r.Unwrap()
		out.Results[i] = res
		if res.Success {
			out.Succeeded++
		}
	}
	return out
}
