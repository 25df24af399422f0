package config

import (
	"fmt"
	"strings"
)

var (
	llmProviders       = map[string]bool{"anthropic": true, "ollama": true}
	embeddingProviders = map[string]bool{"openai": true, "ollama": true}
)

// Validate checks cross-field rules. Load calls it automatically.
func (c *Config) Validate() error {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Embedding.Provider = strings.ToLower(strings.TrimSpace(c.Embedding.Provider))

	if !llmProviders[c.LLM.Provider] {
		return fmt.Errorf("llm.provider %q is not one of anthropic, ollama", c.LLM.Provider)
	}
	if !embeddingProviders[c.Embedding.Provider] {
		return fmt.Errorf("embedding.provider %q is not one of openai, ollama", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be > 0 (got %d)", c.Embedding.Dimensions)
	}
	if c.Engine.MinTextLength < 0 {
		return fmt.Errorf("engine.min_text_length must be >= 0 (got %d)", c.Engine.MinTextLength)
	}
	if c.Engine.MaxCompetitors <= 0 {
		return fmt.Errorf("engine.max_competitors must be > 0 (got %d)", c.Engine.MaxCompetitors)
	}
	if c.Engine.StrategistMinScore < 0 || c.Engine.StrategistMinScore > 1 {
		return fmt.Errorf("engine.strategist_min_score must be within [0,1] (got %v)", c.Engine.StrategistMinScore)
	}
	if c.Engine.StrategistTopK <= 0 {
		return fmt.Errorf("engine.strategist_top_k must be > 0 (got %d)", c.Engine.StrategistTopK)
	}
	if c.Engine.IngestWorkers <= 0 {
		c.Engine.IngestWorkers = 1
	}
	return nil
}

// KnowledgeStoreReason explains why the Knowledge Store cannot be used, or
// returns "" when it is configured.
func (c *Config) KnowledgeStoreReason() string {
	switch {
	case c.Qdrant.Host == "":
		return "vector store address not configured"
	case c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" && c.Embedding.BaseURL == "":
		return "embedding credentials not configured"
	}
	return ""
}
