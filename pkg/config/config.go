// Package config loads service configuration from YAML, .env and the
// environment.
package config

import "time"

// Config is the root configuration shared by cmd/api and cmd/ingest.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Neo4j     Neo4jConfig     `yaml:"neo4j"`
	NATS      NATSConfig      `yaml:"nats"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Engine    EngineConfig    `yaml:"engine"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	MetricsAddr     string        `yaml:"metrics_addr"     env:"METRICS_ADDR"            env-default:":9090"`
	CORSOrigin      string        `yaml:"cors_origin"      env:"CORS_ORIGIN"             env-default:"*"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"300s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"15s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"               env:"DATABASE_DSN"               env-required:"true"`
	MaxConns        int32         `yaml:"max_conns"         env:"DATABASE_MAX_CONNS"         env-default:"10"`
	MinConns        int32         `yaml:"min_conns"         env:"DATABASE_MIN_CONNS"         env-default:"2"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"DATABASE_MAX_CONN_LIFETIME" env-default:"1h"`
	Migrate         bool          `yaml:"migrate"           env:"DATABASE_MIGRATE"           env-default:"true"`
}

// QdrantConfig holds Knowledge Store settings. An empty Host disables the
// store.
type QdrantConfig struct {
	Host             string `yaml:"host"              env:"QDRANT_HOST"`
	Port             int    `yaml:"port"              env:"QDRANT_PORT"              env-default:"6334"`
	APIKey           string `yaml:"api_key"           env:"QDRANT_API_KEY"`
	UseTLS           bool   `yaml:"use_tls"           env:"QDRANT_USE_TLS"           env-default:"false"`
	CollectionPrefix string `yaml:"collection_prefix" env:"QDRANT_COLLECTION_PREFIX" env-default:"sherlock"`
}

// Neo4jConfig holds topic graph settings. An empty URI disables the graph.
type Neo4jConfig struct {
	URI      string `yaml:"uri"      env:"NEO4J_URI"`
	User     string `yaml:"user"     env:"NEO4J_USER"     env-default:"neo4j"`
	Password string `yaml:"password" env:"NEO4J_PASSWORD"`
	Database string `yaml:"database" env:"NEO4J_DATABASE"`
}

// NATSConfig holds messaging settings.
type NATSConfig struct {
	URL              string `yaml:"url"               env:"NATS_URL"               env-default:"nats://localhost:4222"`
	IngestSubject    string `yaml:"ingest_subject"    env:"NATS_INGEST_SUBJECT"    env-default:"sherlock.ingest"`
	DLQSubject       string `yaml:"dlq_subject"       env:"NATS_DLQ_SUBJECT"       env-default:"sherlock.ingest.dlq"`
	CompletedSubject string `yaml:"completed_subject" env:"NATS_COMPLETED_SUBJECT" env-default:"sherlock.scan.completed"`
	Queue            string `yaml:"queue"             env:"NATS_QUEUE"             env-default:"sherlock-ingest"`
}

// LLMConfig selects and tunes the Language Model Service.
type LLMConfig struct {
	Provider       string        `yaml:"provider"        env:"LLM_PROVIDER"        env-default:"anthropic"`
	Model          string        `yaml:"model"           env:"LLM_MODEL"`
	APIKey         string        `yaml:"api_key"         env:"ANTHROPIC_API_KEY"`
	OllamaURL      string        `yaml:"ollama_url"      env:"OLLAMA_URL"          env-default:"http://localhost:11434"`
	RatePerSecond  float64       `yaml:"rate_per_second" env:"LLM_RATE_PER_SECOND" env-default:"2"`
	Burst          int           `yaml:"burst"           env:"LLM_BURST"           env-default:"2"`
	BreakerFails   int           `yaml:"breaker_fails"   env:"LLM_BREAKER_FAILS"   env-default:"5"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout" env:"LLM_BREAKER_TIMEOUT" env-default:"30s"`
}

// EmbeddingConfig selects the Embedding Service. Dimensions must match the
// Knowledge Store index.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"   env:"EMBEDDING_PROVIDER"   env-default:"openai"`
	Model      string `yaml:"model"      env:"EMBEDDING_MODEL"`
	APIKey     string `yaml:"api_key"    env:"OPENAI_API_KEY"`
	BaseURL    string `yaml:"base_url"   env:"EMBEDDING_BASE_URL"`
	Dimensions int    `yaml:"dimensions" env:"EMBEDDING_DIMENSIONS" env-default:"1536"`
}

// FetchConfig tunes the Content Fetcher.
type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"        env:"FETCH_TIMEOUT"        env-default:"10s"`
	UserAgent    string        `yaml:"user_agent"     env:"FETCH_USER_AGENT"     env-default:"Mozilla/5.0 (compatible; EkkoScope/1.0; Sherlock Semantic Analyzer)"`
	PerHostRate  float64       `yaml:"per_host_rate"  env:"FETCH_PER_HOST_RATE"  env-default:"1"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" env:"FETCH_MAX_BODY_BYTES" env-default:"2097152"`
}

// EngineConfig holds gap engine knobs.
type EngineConfig struct {
	MinTextLength      int     `yaml:"min_text_length"      env:"MIN_TEXT_LENGTH"      env-default:"100"`
	MaxCompetitors     int     `yaml:"max_competitors"      env:"MAX_COMPETITORS"      env-default:"5"`
	StrategistMinScore float64 `yaml:"strategist_min_score" env:"STRATEGIST_MIN_SCORE" env-default:"0.3"`
	StrategistTopK     int     `yaml:"strategist_top_k"     env:"STRATEGIST_TOP_K"     env-default:"5"`
	IngestWorkers      int     `yaml:"ingest_workers"       env:"INGEST_WORKERS"       env-default:"1"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Addr is the HTTP listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + itoa(s.Port)
}
