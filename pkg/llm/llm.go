// Package llm defines the language-model and embedding contracts the engine
// consumes, plus guarded wrappers and output clean-up shared by all callers.
package llm

import (
	"context"
	"regexp"
	"strings"

	"github.com/ekkoscope/sherlock/pkg/resilience"
)

// Completer is the Language Model Service: one prompt in, text out.
type Completer interface {
	Complete(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error)
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	return f(ctx, prompt, temperature, maxTokens)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

type guardedCompleter struct {
	next    Completer
	breaker *resilience.Breaker
	limiter *resilience.Limiter
}

// GuardCompleter paces calls through limiter and fails fast through breaker.
// Either guard may be nil.
func GuardCompleter(next Completer, breaker *resilience.Breaker, limiter *resilience.Limiter) Completer {
	return &guardedCompleter{next: next, breaker: breaker, limiter: limiter}
}

func (g *guardedCompleter) Complete(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	if g.breaker == nil {
		return g.next.Complete(ctx, prompt, temperature, maxTokens)
	}
	var out string
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.next.Complete(ctx, prompt, temperature, maxTokens)
		return err
	})
	return out, err
}

type guardedEmbedder struct {
	next    Embedder
	breaker *resilience.Breaker
	limiter *resilience.Limiter
}

// GuardEmbedder is GuardCompleter for embedding calls.
func GuardEmbedder(next Embedder, breaker *resilience.Breaker, limiter *resilience.Limiter) Embedder {
	return &guardedEmbedder{next: next, breaker: breaker, limiter: limiter}
}

func (g *guardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if g.breaker == nil {
		return g.next.Embed(ctx, text)
	}
	var out []float32
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.next.Embed(ctx, text)
		return err
	})
	return out, err
}

var (
	fenceOpen  = regexp.MustCompile("^```[A-Za-z0-9_-]*[ \t]*\n?")
	fenceClose = regexp.MustCompile("\n?```[ \t]*$")
)

// StripFences removes a single markdown code fence wrapping s.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = fenceOpen.ReplaceAllString(s, "")
	s = fenceClose.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ExtractJSONArray returns the text between the first '[' and the last ']'.
func ExtractJSONArray(s string) (string, bool) {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
