// Command ingest consumes ingestion requests from NATS and runs them through
// the engine. Failed requests are forwarded to the dead-letter subject.
//
// With -enqueue it instead publishes one request and exits:
//
//	ingest -enqueue -business 7 -type competitor_site -url https://rival.com
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/engine/ingest"
	"github.com/ekkoscope/sherlock/engine/sherlock"
	"github.com/ekkoscope/sherlock/pkg/config"
	"github.com/ekkoscope/sherlock/pkg/logging"
	"github.com/ekkoscope/sherlock/pkg/metrics"
	"github.com/ekkoscope/sherlock/pkg/natsutil"
)

func main() {
	var (
		timeout  = flag.Duration("timeout", 2*time.Minute, "per-message processing timeout")
		enqueue  = flag.Bool("enqueue", false, "publish one request instead of consuming")
		url      = flag.String("url", "", "URL to enqueue")
		business = flag.Int64("business", 0, "business id to enqueue for")
		ctype    = flag.String("type", string(domain.ContentClientSite), "content type to enqueue")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("sherlock-ingest"), nats.MaxReconnects(-1))
	if err != nil {
		log.Error("nats connect failed", "url", cfg.NATS.URL, "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	if *enqueue {
		req := domain.IngestRequest{URL: *url, ContentType: domain.ContentType(*ctype), BusinessID: *business}
		if err := publish(ctx, nc, cfg.NATS.IngestSubject, req); err != nil {
			log.Error("enqueue failed", "error", err)
			os.Exit(1)
		}
		log.Info("request enqueued", "subject", cfg.NATS.IngestSubject, "url", req.URL, "business_id", req.BusinessID)
		return
	}

	if err := consume(ctx, cfg, nc, *timeout, log); err != nil {
		log.Error("ingest worker exited with error", "error", err)
		os.Exit(1)
	}
}

// publish validates req before it reaches the queue, so malformed requests
// fail at the caller instead of in the dead-letter subject.
func publish(ctx context.Context, nc *nats.Conn, subject string, req domain.IngestRequest) error {
	if err := domain.ValidateIngestRequest(req); err != nil {
		return err
	}
	if err := natsutil.Publish(ctx, nc, subject, req); err != nil {
		return err
	}
	return nc.FlushWithContext(ctx)
}

func consume(ctx context.Context, cfg *config.Config, nc *nats.Conn, timeout time.Duration, log *slog.Logger) error {
	reg := metrics.New()
	go func() {
		if err := reg.Serve(ctx, cfg.Server.MetricsAddr); err != nil {
			log.Error("metrics server failed", "addr", cfg.Server.MetricsAddr, "error", err)
		}
	}()

	eng, err := sherlock.Open(ctx, cfg, sherlock.OpenOptions{Logger: log, Metrics: reg, Events: nc})
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer eng.Close(context.Background())
	if !eng.Capability().Enabled() {
		log.Warn("knowledge store unavailable; every request will be dead-lettered", "reason", eng.Capability().Reason())
	}

	sub, err := ingest.StartConsumer(nc, eng.Ingester(), ingest.ConsumerConfig{
		Subject:    cfg.NATS.IngestSubject,
		DLQSubject: cfg.NATS.DLQSubject,
		Queue:      cfg.NATS.Queue,
		Timeout:    timeout,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.NATS.IngestSubject, err)
	}
	log.Info("ingest worker started", "subject", cfg.NATS.IngestSubject, "queue", cfg.NATS.Queue,
		"dlq", cfg.NATS.DLQSubject, "metrics", cfg.Server.MetricsAddr)

	<-ctx.Done()
	log.Info("shutting down")
	if err := sub.Drain(); err != nil {
		log.Warn("drain subscription", "error", err)
	}
	if err := nc.Drain(); err != nil {
		return err
	}
	for deadline := time.Now().Add(cfg.Server.ShutdownTimeout); !nc.IsClosed() && time.Now().Before(deadline); {
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}
