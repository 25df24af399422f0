// Package natsutil provides typed NATS publish/subscribe helpers
// with OpenTelemetry trace propagation and dead-letter forwarding.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publisher is the subset of *nats.Conn used for publishing.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc Publisher, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("natsutil: marshal %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return nc.PublishMsg(msg)
}

// DeadLetter is what lands on the dead-letter subject when a message cannot
// be decoded or its handler fails.
type DeadLetter struct {
	Subject  string          `json:"subject"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Raw      string          `json:"raw,omitempty"`
	Error    string          `json:"error"`
	FailedAt time.Time       `json:"failed_at"`
}

// Handler processes one decoded message.
type Handler[T any] func(ctx context.Context, v T) error

type subConfig struct {
	queue      string
	deadLetter string
	timeout    time.Duration
	onError    func(subject string, err error)
}

// SubOption tunes a subscription.
type SubOption func(*subConfig)

// WithQueue joins the named queue group so replicas share the load.
func WithQueue(queue string) SubOption { return func(c *subConfig) { c.queue = queue } }

// WithDeadLetter forwards undecodable messages and handler failures to subject.
func WithDeadLetter(subject string) SubOption {
	return func(c *subConfig) { c.deadLetter = subject }
}

// WithTimeout bounds each handler invocation.
func WithTimeout(d time.Duration) SubOption { return func(c *subConfig) { c.timeout = d } }

// WithErrorHook is called for every decode or handler failure.
func WithErrorHook(f func(subject string, err error)) SubOption {
	return func(c *subConfig) { c.onError = f }
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Trace context is extracted from NATS message headers and passed to the handler.
// Without a dead-letter subject, failed messages are dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler Handler[T], opts ...SubOption) (*nats.Subscription, error) {
	cfg := subConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	cb := func(msg *nats.Msg) {
		deliver(nc, &cfg, msg, handler)
	}
	if cfg.queue != "" {
		return nc.QueueSubscribe(subject, cfg.queue, cb)
	}
	return nc.Subscribe(subject, cb)
}

func deliver[T any](nc Publisher, cfg *subConfig, msg *nats.Msg, handler Handler[T]) {
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))

	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		fail(ctx, nc, cfg, msg, fmt.Errorf("decode: %w", err))
		return
	}

	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}
	if err := handler(ctx, v); err != nil {
		fail(ctx, nc, cfg, msg, err)
	}
}

func fail(ctx context.Context, nc Publisher, cfg *subConfig, msg *nats.Msg, err error) {
	if cfg.onError != nil {
		cfg.onError(msg.Subject, err)
	}
	if cfg.deadLetter == "" {
		return
	}
	dl := DeadLetter{Subject: msg.Subject, Error: err.Error(), FailedAt: time.Now().UTC()}
	if json.Valid(msg.Data) {
		dl.Payload = json.RawMessage(msg.Data)
	} else {
		dl.Raw = string(msg.Data)
	}
	if perr := Publish(context.WithoutCancel(ctx), nc, cfg.deadLetter, dl); perr != nil && cfg.onError != nil {
		cfg.onError(cfg.deadLetter, perr)
	}
}
