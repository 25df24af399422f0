package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/pkg/natsutil"
)

// ConsumerConfig names the subjects the ingest worker uses.
type ConsumerConfig struct {
	Subject    string
	DLQSubject string
	Queue      string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Handler runs one queued request. A failed ingestion is returned as an error
// so the subscription forwards it to the dead-letter subject; nothing is
// retried automatically.
func Handler(ing Ingester, log *slog.Logger) natsutil.Handler[domain.IngestRequest] {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, req domain.IngestRequest) error {
		scan, err := ing.Ingest(ctx, req).Unwrap()
		if err != nil {
			return fmt.Errorf("ingest %s: %s: %w", req.URL, domain.Reason(err), err)
		}
		log.Info("ingest: success", "scan_id", scan.ID, "url", scan.URL, "business_id", scan.BusinessID,
			"topics", len(scan.Topics))
		return nil
	}
}

// StartConsumer subscribes the ingester to cfg.Subject.
func StartConsumer(nc *nats.Conn, ing Ingester, cfg ConsumerConfig) (*nats.Subscription, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	opts := []natsutil.SubOption{
		natsutil.WithErrorHook(func(subject string, err error) {
			log.Error("ingest: message failed", "subject", subject, "error", err)
		}),
	}
	if cfg.Queue != "" {
		opts = append(opts, natsutil.WithQueue(cfg.Queue))
	}
	if cfg.DLQSubject != "" {
		opts = append(opts, natsutil.WithDeadLetter(cfg.DLQSubject))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, natsutil.WithTimeout(cfg.Timeout))
	}
	return natsutil.Subscribe(nc, cfg.Subject, Handler(ing, log), opts...)
}
