// Package strategist answers free-text strategy questions for a business.
// It embeds the question, retrieves evidence from the business and
// competitor namespaces, optionally enriches with the topic graph, and asks
// the language model for an answer grounded only in that evidence.
package strategist

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/engine/graph"
	"github.com/ekkoscope/sherlock/engine/semantic"
	"github.com/ekkoscope/sherlock/pkg/fn"
	"github.com/ekkoscope/sherlock/pkg/llm"
)

// LowDataAnswer is returned without a model call when no evidence survives
// filtering.
const LowDataAnswer = "Not enough data yet to answer with evidence. Ingest your site and a few competitor sites first, then ask again."

// Searcher abstracts the knowledge store query.
type Searcher interface {
	Query(ctx context.Context, namespace string, vector []float32, filter map[string]string, topK int) ([]semantic.Match, error)
}

// GraphEnricher optionally enriches a question with topic-coverage context.
type GraphEnricher interface {
	RelatedTopics(ctx context.Context, businessID int64, keywords []string, limit int) ([]graph.Coverage, error)
}

// Options configures the consultation behaviour.
type Options struct {
	TopK          int
	MinScore      float32
	Temperature   float64
	MaxTokens     int
	UseGraph      bool
	GraphLimit    int
	SearchTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:          5,
		MinScore:      0.3,
		Temperature:   0.4,
		MaxTokens:     1500,
		UseGraph:      true,
		GraphLimit:    15,
		SearchTimeout: 5 * time.Second,
	}
}

var namespaces = []string{domain.NamespaceBusiness, domain.NamespaceCompetitor}

// Service is the Strategist.
type Service struct {
	embed      llm.Embedder
	chat       llm.Completer
	search     Searcher
	graph      GraphEnricher
	capability domain.Capability
	opts       Options
	logger     *slog.Logger
}

// New creates a Service. graphEnricher may be nil.
func New(embed llm.Embedder, chat llm.Completer, search Searcher, graphEnricher GraphEnricher, c domain.Capability, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 5 * time.Second
	}
	return &Service{
		embed:      embed,
		chat:       chat,
		search:     search,
		graph:      graphEnricher,
		capability: c,
		opts:       opts,
		logger:     logger,
	}
}

// Consult answers query for businessID from at most topK pieces of evidence.
// topK <= 0 uses the configured default.
func (s *Service) Consult(ctx context.Context, query string, businessID int64, topK int) fn.Result[domain.Consultation] {
	const op = "strategist.consult"
	if err := s.capability.Check(op); err != nil {
		return fn.Err[domain.Consultation](err)
	}
	if err := domain.ValidateID("business_id", businessID); err != nil {
		return fn.Err[domain.Consultation](domain.Fail(op, domain.ErrInvalidInput, err))
	}
	if err := domain.ValidateQuery(query); err != nil {
		return fn.Err[domain.Consultation](domain.Fail(op, domain.ErrInvalidInput, err))
	}
	if topK <= 0 {
		topK = s.opts.TopK
	}
	query = strings.TrimSpace(query)
	s.logger.Info("strategist consult start", "business_id", businessID, "query_len", len(query))

	// 1. Embed the query.
	vec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return fn.Err[domain.Consultation](domain.Fail(op, domain.ErrEmbedding, err))
	}

	// 2. Retrieve from both namespaces.
	evidence, err := s.retrieve(ctx, vec, businessID, topK)
	if err != nil {
		return fn.Err[domain.Consultation](domain.Fail(op, domain.ErrStoreUnavailable, err))
	}
	s.logger.Info("strategist retrieval done", "business_id", businessID, "evidence", len(evidence))

	// 3. Nothing relevant: answer without the model.
	if len(evidence) == 0 {
		return fn.Ok(domain.Consultation{
			Answer:   LowDataAnswer,
			Evidence: []domain.Evidence{},
			Sources:  []string{},
		})
	}

	// 4. Optional graph context.
	var graphContext string
	if s.opts.UseGraph && s.graph != nil {
		graphContext = s.enrichWithGraph(ctx, query, businessID)
	}

	// 5. Synthesize.
	answer, err := s.chat.Complete(ctx, BuildPrompt(query, evidence, graphContext), s.opts.Temperature, s.opts.MaxTokens)
	if err != nil {
		s.logger.Warn("strategist: synthesis failed", "business_id", businessID, "err", err)
		return fn.Err[domain.Consultation](domain.Fail(op, domain.ErrGeneration, err))
	}

	return fn.Ok(domain.Consultation{
		Answer:   strings.TrimSpace(answer),
		Evidence: evidence,
		Sources:  Sources(evidence),
		Grounded: true,
	})
}

// retrieve queries every namespace, drops weak matches, merges and ranks.
func (s *Service) retrieve(ctx context.Context, vec []float32, businessID int64, topK int) ([]domain.Evidence, error) {
	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	filter := map[string]string{"business_id": strconv.FormatInt(businessID, 10)}
	var out []domain.Evidence
	for _, ns := range namespaces {
		matches, err := s.search.Query(searchCtx, ns, vec, filter, topK)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", ns, err)
		}
		for _, m := range matches {
			if m.Score < s.opts.MinScore {
				continue
			}
			out = append(out, toEvidence(ns, m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return fn.Take(out, topK), nil
}

func toEvidence(ns string, m semantic.Match) domain.Evidence {
	topics := m.Metadata.Topics
	if topics == nil {
		topics = []string{}
	}
	return domain.Evidence{
		VectorID:    m.ID,
		Namespace:   ns,
		URL:         m.Metadata.URL,
		Title:       m.Metadata.Title,
		ContentType: m.Metadata.Type,
		Topics:      topics,
		Score:       m.Score,
	}
}

// enrichWithGraph attempts to get graph context; failures are logged and skipped.
func (s *Service) enrichWithGraph(ctx context.Context, query string, businessID int64) string {
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return ""
	}

	coverage, err := s.graph.RelatedTopics(ctx, businessID, keywords, s.opts.GraphLimit)
	if err != nil {
		s.logger.Warn("strategist: graph enrichment failed, continuing without", "err", err)
		return ""
	}
	if len(coverage) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Related topic coverage from the knowledge graph:\n")
	for _, c := range coverage {
		fmt.Fprintf(&b, "- %s (%s) covers %q [%s, depth %d]\n", c.URL, c.ContentType, c.Topic, c.Category, c.Depth)
	}
	return b.String()
}

// BuildPrompt renders the grounded synthesis prompt.
func BuildPrompt(query string, evidence []domain.Evidence, graphContext string) string {
	var b strings.Builder
	b.WriteString("You are a competitive content strategist. Answer the question using ONLY the evidence below.\n")
	b.WriteString("If the evidence does not support a claim, do not make it.\n\n")
	b.WriteString("EVIDENCE:\n")
	for i, e := range evidence {
		fmt.Fprintf(&b, "[%d] Source: %s\n    Title: %s\n    Type: %s\n    Topics: %s\n    Relevance: %.3f\n",
			i+1, e.URL, e.Title, e.ContentType, strings.Join(e.Topics, ", "), e.Score)
	}
	if graphContext != "" {
		b.WriteString("\n")
		b.WriteString(graphContext)
	}
	fmt.Fprintf(&b, "\nQUESTION: %s\n\n", query)
	b.WriteString("Respond with:\n")
	b.WriteString("1. A direct answer to the question.\n")
	b.WriteString("2. Exactly three concrete counter-moves the business should make.\n")
	b.WriteString("3. Citations of the sources you used, by their [number] and URL.\n")
	return b.String()
}

// Sources renders a human-readable citation per evidence item.
func Sources(evidence []domain.Evidence) []string {
	out := make([]string, len(evidence))
	for i, e := range evidence {
		label := e.Title
		if label == "" {
			label = e.URL
		}
		out[i] = fmt.Sprintf("[%d] %s (%s, relevance %.2f)", i+1, label, e.URL, e.Score)
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true, "shall": true, "to": true,
	"of": true, "in": true, "for": true, "on": true, "with": true,
	"at": true, "by": true, "from": true, "as": true, "into": true,
	"what": true, "where": true, "when": true, "how": true, "which": true,
	"who": true, "why": true, "this": true, "that": true, "these": true,
	"those": true, "i": true, "me": true, "my": true, "it": true,
	"its": true, "and": true, "but": true, "or": true, "not": true,
	"we": true, "our": true, "us": true, "you": true, "your": true,
	"they": true, "them": true, "their": true, "competitors": true,
}

// extractKeywords does simple keyword extraction from a question.
func extractKeywords(question string) []string {
	words := strings.Fields(strings.ToLower(question))
	seen := make(map[string]bool, len(words))
	var keywords []string
	for _, w := range words {
		w = strings.Trim(w, "?.,!;:'\"()")
		if len(w) > 2 && !stopWords[w] && !seen[w] {
			seen[w] = true
			keywords = append(keywords, w)
		}
	}
	return keywords
}
