// Package ingest is the ingestion pipeline: fetch a page, extract its topics,
// embed a summary, write the vector and persist the completed scan.
package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/engine/semantic"
	"github.com/ekkoscope/sherlock/engine/topics"
	"github.com/ekkoscope/sherlock/pkg/fn"
	"github.com/ekkoscope/sherlock/pkg/llm"
	"github.com/ekkoscope/sherlock/pkg/natsutil"
)

// DefaultMinTextLength rejects near-empty pages.
const DefaultMinTextLength = 100

// Deps holds the pipeline's collaborators. Graph and Events are optional.
type Deps struct {
	Fetcher  Fetcher
	Topics   TopicExtractor
	Embedder llm.Embedder
	Vectors  VectorWriter
	Store    ScanStore
	Graph    Projector

	Events           natsutil.Publisher
	CompletedSubject string

	Capability    domain.Capability
	MinTextLength int
	Logger        *slog.Logger
	Now           func() time.Time
}

// Pipeline runs single-URL ingestions.
type Pipeline struct {
	deps Deps
	log  *slog.Logger
	run  fn.Stage[domain.IngestRequest, domain.ContentScan]
}

// NewPipeline wires the stages.
func NewPipeline(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MinTextLength <= 0 {
		deps.MinTextLength = DefaultMinTextLength
	}
	p := &Pipeline{deps: deps, log: deps.Logger}

	var (
		validate fn.Stage[domain.IngestRequest, *job] = p.validate
		fetchS   fn.Stage[*job, *job]                 = p.fetch
		extract  fn.Stage[*job, *job]                 = p.extract
		embed    fn.Stage[*job, *job]                 = p.embed
		upsert   fn.Stage[*job, *job]                 = p.upsert
		persist  fn.Stage[*job, domain.ContentScan]   = p.persist
	)
	fetched := fn.Then(fn.TracedStage("ingest.validate", validate), fn.TracedStage("ingest.fetch", logged("fetch", p.log, fetchS)))
	extracted := fn.Then(fetched, fn.TracedStage("ingest.topics", logged("topics", p.log, extract)))
	embedded := fn.Then(extracted, fn.TracedStage("ingest.embed", logged("embed", p.log, embed)))
	stored := fn.Then(embedded, fn.TracedStage("ingest.vector", logged("vector", p.log, upsert)))
	p.run = fn.Then(stored, fn.TracedStage("ingest.persist", logged("persist", p.log, persist)))
	return p
}

// Ingest runs one request through every stage. Failures are EngineErrors
// whose kind names the failed step.
func (p *Pipeline) Ingest(ctx context.Context, req domain.IngestRequest) fn.Result[domain.ContentScan] {
	if err := p.deps.Capability.Check("ingest"); err != nil {
		return fn.Err[domain.ContentScan](err)
	}
	r := p.run(ctx, req)
	if r.IsErr() {
		p.log.Warn("ingest failed", "url", req.URL, "business_id", req.BusinessID,
			"content_type", req.ContentType, "error", r.Error())
		return r
	}
	scan, _ := r.Unwrap()
	p.publish(ctx, scan)
	return r
}

func (p *Pipeline) validate(_ context.Context, req domain.IngestRequest) fn.Result[*job] {
	req.URL = strings.TrimSpace(req.URL)
	if err := domain.ValidateIngestRequest(req); err != nil {
		return fn.Err[*job](domain.Fail("ingest.validate", domain.ErrInvalidInput, err))
	}
	return fn.Ok(&job{req: req})
}

func (p *Pipeline) fetch(ctx context.Context, j *job) fn.Result[*job] {
	page, err := p.deps.Fetcher.Fetch(ctx, j.req.URL)
	if err != nil {
		return fn.Err[*job](domain.Fail("ingest.fetch", domain.ErrFetch, err))
	}
	if utf8.RuneCountInString(strings.TrimSpace(page.Text)) < p.deps.MinTextLength {
		return fn.Err[*job](domain.Fail("ingest.fetch", domain.ErrInsufficientContent, nil))
	}
	j.page = page
	return fn.Ok(j)
}

// extract never fails: topic extraction problems degrade to an empty list.
func (p *Pipeline) extract(ctx context.Context, j *job) fn.Result[*job] {
	input := j.page.Markdown
	if input == "" {
		input = j.page.Text
	}
	found, err := p.deps.Topics.Extract(ctx, topics.Input{
		Title:       j.page.Title,
		ContentType: j.req.ContentType,
		Text:        input,
	})
	if err != nil {
		p.log.Warn("topic extraction degraded", "url", j.req.URL, "error", err)
	}
	if found == nil {
		found = []domain.Topic{}
	}
	j.topics = found
	return fn.Ok(j)
}

func (p *Pipeline) embed(ctx context.Context, j *job) fn.Result[*job] {
	vec, err := p.deps.Embedder.Embed(ctx, Summary(j.page, j.topics))
	if err != nil {
		return fn.Err[*job](domain.Fail("ingest.embed", domain.ErrEmbedding, err))
	}
	if len(vec) == 0 {
		return fn.Err[*job](domain.Fail("ingest.embed", domain.ErrEmbedding, nil))
	}
	j.vector = vec
	return fn.Ok(j)
}

func (p *Pipeline) upsert(ctx context.Context, j *job) fn.Result[*job] {
	j.vectorID = uuid.NewString()
	rec := semantic.VectorRecord{
		ID:        j.vectorID,
		Embedding: j.vector,
		Metadata: semantic.Metadata{
			Type:       string(j.req.ContentType),
			URL:        j.req.URL,
			BusinessID: formatID(j.req.BusinessID),
			Title:      j.page.Title,
			Topics:     domain.TopicNames(j.topics),
			WordCount:  j.page.WordCount,
			Timestamp:  p.deps.Now().UTC(),
		},
	}
	ns := domain.NamespaceFor(j.req.ContentType)
	if err := p.deps.Vectors.Upsert(ctx, ns, []semantic.VectorRecord{rec}); err != nil {
		return fn.Err[*job](domain.Fail("ingest.vector", domain.ErrVectorWrite, err))
	}
	return fn.Ok(j)
}

func (p *Pipeline) persist(ctx context.Context, j *job) fn.Result[domain.ContentScan] {
	now := p.deps.Now().UTC()
	scan := domain.ContentScan{
		BusinessID:    j.req.BusinessID,
		UserID:        j.req.UserID,
		URL:           j.req.URL,
		ContentType:   j.req.ContentType,
		ExtractedText: j.page.Text,
		RawHTML:       j.page.RawHTML,
		VectorID:      j.vectorID,
		Topics:        j.topics,
		Status:        domain.ScanCompleted,
		ProcessedAt:   &now,
	}

	err := p.deps.Store.RunInTx(ctx, func(ctx context.Context) error {
		saved, err := p.deps.Store.CreateScan(ctx, scan)
		if err != nil {
			return err
		}
		scan = saved
		if j.req.ContentType != domain.ContentCompetitorSite {
			return nil
		}
		source := j.req.Source
		if source == "" {
			source = domain.SourceIngest
		}
		_, err = p.deps.Store.UpsertCompetitor(ctx, domain.Competitor{
			BusinessID:       j.req.BusinessID,
			URL:              j.req.URL,
			DiscoveredSource: source,
			Status:           "active",
			LastScannedAt:    &now,
		})
		return err
	})
	if err != nil {
		// the scan never completed, so its vector must not outlive it
		ns := domain.NamespaceFor(j.req.ContentType)
		if delErr := p.deps.Vectors.Delete(ctx, ns, []string{j.vectorID}); delErr != nil {
			p.log.Error("orphan vector cleanup failed", "vector_id", j.vectorID, "error", delErr)
		}
		return fn.Err[domain.ContentScan](domain.Fail("ingest.persist", domain.StoreKind(err, domain.ErrBusinessNotFound), err))
	}

	if p.deps.Graph != nil {
		if err := p.deps.Graph.ProjectScan(ctx, scan); err != nil {
			p.log.Warn("topic graph projection failed", "scan_id", scan.ID, "error", err)
		}
	}
	return fn.Ok(scan)
}

func (p *Pipeline) publish(ctx context.Context, scan domain.ContentScan) {
	if p.deps.Events == nil || p.deps.CompletedSubject == "" {
		return
	}
	ev := ScanCompleted{
		ScanID:      scan.ID,
		BusinessID:  scan.BusinessID,
		URL:         scan.URL,
		ContentType: scan.ContentType,
		VectorID:    scan.VectorID,
		Topics:      domain.TopicNames(scan.Topics),
	}
	if scan.ProcessedAt != nil {
		ev.ProcessedAt = *scan.ProcessedAt
	}
	if err := natsutil.Publish(ctx, p.deps.Events, p.deps.CompletedSubject, ev); err != nil {
		p.log.Warn("scan completed event not published", "scan_id", scan.ID, "error", err)
	}
}

// logged wraps a stage with stage.enter / stage.exit records. Entry is a tap
// ahead of the stage; exit carries the duration and outcome.
func logged[In, Out any](name string, log *slog.Logger, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	enter := fn.TapStage(func(ctx context.Context, _ In) {
		log.DebugContext(ctx, "stage.enter", "stage", name)
	})
	return fn.Then(enter, func(ctx context.Context, in In) fn.Result[Out] {
		start := time.Now()
		r := stage(ctx, in)
		log.DebugContext(ctx, "stage.exit", "stage", name, "duration", time.Since(start), "ok", r.IsOk())
		return r
	})
}
