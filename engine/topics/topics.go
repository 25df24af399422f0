// Package topics turns page content into structured topics with one
// language-model call.
package topics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/pkg/llm"
)

const (
	maxInput     = 6000
	temperature  = 0.3
	maxTokens    = 2000
	defaultDepth = 5
)

const promptTemplate = `Analyze this content and extract the main semantic topics it covers.

Context: %s

Content:
%s

Extract 10-20 distinct topics. For each topic give:
- "topic": a short name (2-5 words)
- "category": one of services, problems, solutions, credentials, pricing, location, other
- "depth": how thoroughly the content covers it, 1-10
- "example_phrases": 2-3 exact phrases from the content about this topic

Respond with ONLY a JSON array, for example:
[{"topic": "Emergency Repair", "category": "services", "depth": 8, "example_phrases": ["24/7 emergency service", "same-day repair"]}]`

// Input is the page material handed to the extractor.
type Input struct {
	Title       string
	ContentType domain.ContentType
	Text        string
}

// Extractor calls the language model and parses its answer.
type Extractor struct {
	llm    llm.Completer
	logger *slog.Logger
}

// New creates an Extractor.
func New(c llm.Completer, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{llm: c, logger: logger}
}

// Extract returns the topics found in in. On any failure it returns an empty
// list together with an error wrapping domain.ErrTopicExtraction; callers are
// expected to carry on with the empty list.
func (e *Extractor) Extract(ctx context.Context, in Input) ([]domain.Topic, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return []domain.Topic{}, nil
	}
	prompt := BuildPrompt(in)

	raw, err := e.llm.Complete(ctx, prompt, temperature, maxTokens)
	if err != nil {
		e.logger.Warn("topic extraction call failed", "error", err)
		return []domain.Topic{}, domain.Fail("topics.extract", domain.ErrTopicExtraction, err)
	}
	topics, err := Parse(raw)
	if err != nil {
		e.logger.Warn("topic extraction output unusable", "error", err)
		return []domain.Topic{}, domain.Fail("topics.extract", domain.ErrTopicExtraction, err)
	}
	return topics, nil
}

// BuildPrompt renders the extraction prompt.
func BuildPrompt(in Input) string {
	site := fmt.Sprintf("Website: %s | Type: %s", in.Title, in.ContentType)
	return fmt.Sprintf(promptTemplate, site, headRunes(in.Text, maxInput))
}

type rawTopic struct {
	Topic          string   `json:"topic"`
	Category       string   `json:"category"`
	Depth          any      `json:"depth"`
	ExamplePhrases []string `json:"example_phrases"`
}

// depth reads the model's depth, which arrives as 7, 7.5 or "7". Anything
// else falls back to the default.
func (r rawTopic) depth() int {
	switch v := r.Depth.(type) {
	case float64:
		return clamp(int(math.Round(v)), 1, 10)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return clamp(int(math.Round(f)), 1, 10)
		}
	}
	return defaultDepth
}

// Parse reads a model response into topics. Code fences and prose around the
// array are tolerated.
func Parse(raw string) ([]domain.Topic, error) {
	body, ok := llm.ExtractJSONArray(llm.StripFences(raw))
	if !ok {
		return nil, fmt.Errorf("topics: no json array in response")
	}
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(body), &elems); err != nil {
		return nil, fmt.Errorf("topics: decode: %w", err)
	}

	out := make([]domain.Topic, 0, len(elems))
	for _, el := range elems {
		var it rawTopic
		if err := json.Unmarshal(el, &it); err != nil {
			continue
		}
		name := strings.TrimSpace(it.Topic)
		if name == "" {
			continue
		}
		t := domain.Topic{
			Name:           name,
			Category:       strings.ToLower(strings.TrimSpace(it.Category)),
			Depth:          it.depth(),
			ExamplePhrases: it.ExamplePhrases,
		}
		if t.Category == "" {
			t.Category = "unknown"
		}
		if t.ExamplePhrases == nil {
			t.ExamplePhrases = []string{}
		}
		out = append(out, t)
	}
	return out, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func headRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
