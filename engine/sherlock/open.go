package sherlock

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/engine/fabricate"
	"github.com/ekkoscope/sherlock/engine/fetch"
	"github.com/ekkoscope/sherlock/engine/gap"
	"github.com/ekkoscope/sherlock/engine/graph"
	"github.com/ekkoscope/sherlock/engine/ingest"
	"github.com/ekkoscope/sherlock/engine/mission"
	"github.com/ekkoscope/sherlock/engine/reset"
	"github.com/ekkoscope/sherlock/engine/semantic"
	"github.com/ekkoscope/sherlock/engine/store"
	"github.com/ekkoscope/sherlock/engine/strategist"
	"github.com/ekkoscope/sherlock/engine/topics"
	"github.com/ekkoscope/sherlock/pkg/claude"
	"github.com/ekkoscope/sherlock/pkg/config"
	"github.com/ekkoscope/sherlock/pkg/llm"
	"github.com/ekkoscope/sherlock/pkg/logging"
	"github.com/ekkoscope/sherlock/pkg/metrics"
	"github.com/ekkoscope/sherlock/pkg/natsutil"
	"github.com/ekkoscope/sherlock/pkg/ollama"
	"github.com/ekkoscope/sherlock/pkg/openai"
	"github.com/ekkoscope/sherlock/pkg/repo"
	"github.com/ekkoscope/sherlock/pkg/resilience"
)

const (
	connectTimeout     = 10 * time.Second
	defaultOllamaChat  = "llama3.1"
	defaultOllamaEmbed = "nomic-embed-text"
	providerOllama     = "ollama"
	providerAnthropic  = "anthropic"
)

// OpenOptions are the process-level collaborators Open does not build.
type OpenOptions struct {
	Logger  *slog.Logger
	Metrics *metrics.Registry
	// Events receives scan-completed messages. Optional.
	Events natsutil.Publisher
}

// knowledgeStore is what the engine uses of the vector store.
type knowledgeStore interface {
	ingest.VectorWriter
	strategist.Searcher
}

// Open connects every backend named in cfg and wires the engine. Postgres
// is required. A missing or unreachable Knowledge Store yields an engine
// whose operations all report the store unavailable; a missing or
// unreachable graph only disables graph features.
func Open(ctx context.Context, cfg *config.Config, opts OpenOptions) (*Engine, error) {
	log := logging.OrDefault(opts.Logger)
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.New()
	}
	var closers []func(context.Context) error
	abort := func(err error) (*Engine, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i](ctx)
		}
		return nil, err
	}

	// --- Postgres ---
	pool, err := store.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("sherlock: postgres: %w", err)
	}
	closers = append(closers, func(context.Context) error { pool.Close(); return nil })
	if cfg.Database.Migrate {
		if err := store.Migrate(ctx, pool); err != nil {
			return abort(fmt.Errorf("sherlock: migrate: %w", err))
		}
	}
	db := store.New(pool)

	// --- Model providers ---
	completer := guardedCompleter(cfg.LLM, log, reg)
	embedder := guardedEmbedder(cfg.LLM, cfg.Embedding, log, reg)

	// --- Knowledge Store ---
	var vectors knowledgeStore
	capability := CapabilityFromConfig(cfg)
	if capability.Enabled() {
		vs, err := openVectorStore(ctx, cfg)
		if err != nil {
			capability = domain.Unavailable(err.Error())
		} else {
			vectors = vs
			closers = append(closers, func(context.Context) error { return vs.Close() })
		}
	}
	if !capability.Enabled() {
		log.Warn("knowledge store disabled", "reason", capability.Reason())
	}

	// --- Topic graph ---
	var (
		projector ingest.Projector
		enricher  strategist.GraphEnricher
		clearer   reset.GraphClearer
	)
	if gs, closeGraph := openGraph(ctx, cfg.Neo4j, log); gs != nil {
		projector, enricher, clearer = gs, gs, gs
		closers = append(closers, closeGraph)
	}

	// --- Components ---
	pipeline := ingest.NewPipeline(ingest.Deps{
		Fetcher: fetch.New(fetch.Config{
			Timeout:      cfg.Fetch.Timeout,
			UserAgent:    cfg.Fetch.UserAgent,
			PerHostRate:  cfg.Fetch.PerHostRate,
			MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		}),
		Topics:           topics.New(completer, log),
		Embedder:         embedder,
		Vectors:          vectors,
		Store:            db,
		Graph:            projector,
		Events:           opts.Events,
		CompletedSubject: cfg.NATS.CompletedSubject,
		Capability:       capability,
		MinTextLength:    cfg.Engine.MinTextLength,
		Logger:           log,
	})
	analyzer := gap.New(db, capability, log)
	missions := mission.New(db, analyzer, capability, log)

	sopts := strategist.DefaultOptions()
	if cfg.Engine.StrategistTopK > 0 {
		sopts.TopK = cfg.Engine.StrategistTopK
	}
	sopts.MinScore = float32(cfg.Engine.StrategistMinScore)
	strat := strategist.New(embedder, completer, vectors, enricher, capability, sopts, log)

	orchestrator := reset.New(reset.Deps{
		Store:          db,
		Vectors:        vectors,
		Graph:          clearer,
		Ingester:       pipeline,
		Analyzer:       analyzer,
		Missions:       missions,
		Capability:     capability,
		MaxCompetitors: cfg.Engine.MaxCompetitors,
		Workers:        cfg.Engine.IngestWorkers,
		Logger:         log,
	})

	e := New(Components{
		Ingester:   pipeline,
		Gap:        analyzer,
		Missions:   missions,
		Strategist: strat,
		Fabricator: fabricate.New(db, completer, capability, log),
		Reset:      orchestrator,
		Store:      db,
		Capability: capability,
		Metrics:    reg,
		Workers:    cfg.Engine.IngestWorkers,
		Logger:     log,
	})
	e.closers = closers

	enabled := 0.0
	if capability.Enabled() {
		enabled = 1
	}
	reg.Gauge("sherlock_knowledge_store_enabled", "1 when the Knowledge Store is usable").Set(enabled)
	log.Info("engine ready", "knowledge_store", capability.Enabled(), "graph", clearer != nil,
		"llm", cfg.LLM.Provider, "embedding", cfg.Embedding.Provider)
	return e, nil
}

// CapabilityFromConfig decides from configuration alone whether the
// Knowledge Store can be used.
func CapabilityFromConfig(cfg *config.Config) domain.Capability {
	if reason := cfg.KnowledgeStoreReason(); reason != "" {
		return domain.Unavailable(reason)
	}
	if cfg.Embedding.Dimensions <= 0 {
		return domain.Unavailable("embedding dimensions not configured")
	}
	return domain.Available()
}

func openVectorStore(ctx context.Context, cfg *config.Config) (*semantic.VectorStore, error) {
	vs, err := semantic.New(semantic.Options{
		Addr:       net.JoinHostPort(cfg.Qdrant.Host, strconv.Itoa(cfg.Qdrant.Port)),
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		Prefix:     cfg.Qdrant.CollectionPrefix,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := vs.EnsureNamespaces(ctx); err != nil {
		_ = vs.Close()
		return nil, err
	}
	return vs, nil
}

func openGraph(ctx context.Context, cfg config.Neo4jConfig, log *slog.Logger) (*graph.GraphStore, func(context.Context) error) {
	if cfg.URI == "" {
		return nil, nil
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		log.Warn("topic graph disabled", "err", err)
		return nil, nil
	}
	vctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		log.Warn("topic graph disabled", "uri", cfg.URI, "err", err)
		_ = driver.Close(ctx)
		return nil, nil
	}
	return graph.New(repo.DriverSessions(driver, cfg.Database)), driver.Close
}

func guardedCompleter(cfg config.LLMConfig, log *slog.Logger, reg *metrics.Registry) llm.Completer {
	var next llm.Completer
	if strings.EqualFold(cfg.Provider, providerOllama) {
		model := cfg.Model
		if model == "" {
			model = defaultOllamaChat
		}
		next = ollama.NewChatClient(cfg.OllamaURL, model)
	} else {
		if cfg.APIKey == "" {
			log.Warn("language model key not configured; topic extraction and generation will fail", "provider", providerAnthropic)
		}
		next = claude.New(claude.Config{APIKey: cfg.APIKey, Model: cfg.Model, MaxRetries: -1})
	}
	return llm.GuardCompleter(next, breaker("llm", cfg, log, reg), limiter(cfg))
}

func guardedEmbedder(lc config.LLMConfig, cfg config.EmbeddingConfig, log *slog.Logger, reg *metrics.Registry) llm.Embedder {
	var next llm.Embedder
	if strings.EqualFold(cfg.Provider, providerOllama) {
		model := cfg.Model
		if model == "" {
			model = defaultOllamaEmbed
		}
		base := cfg.BaseURL
		if base == "" {
			base = lc.OllamaURL
		}
		next = ollama.NewEmbedClient(base, model)
	} else {
		next = openai.NewEmbedClient(openai.Config{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Model: cfg.Model})
	}
	return llm.GuardEmbedder(next, breaker("embedding", lc, log, reg), limiter(lc))
}

func breaker(name string, cfg config.LLMConfig, log *slog.Logger, reg *metrics.Registry) *resilience.Breaker {
	state := reg.Gauge("sherlock_breaker_state", "Circuit breaker state (0 closed, 1 open, 2 half-open)", "provider", name)
	return resilience.NewBreaker(resilience.BreakerOpts{
		Name:          name,
		FailThreshold: cfg.BreakerFails,
		Timeout:       cfg.BreakerTimeout,
		HalfOpenMax:   1,
		OnStateChange: func(name string, from, to resilience.State) {
			state.Set(float64(to))
			log.Warn("circuit breaker state change", "provider", name, "from", from.String(), "to", to.String())
		},
	})
}

func limiter(cfg config.LLMConfig) *resilience.Limiter {
	return resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.RatePerSecond, Burst: cfg.Burst})
}
