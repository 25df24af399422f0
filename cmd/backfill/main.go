// Command backfill rebuilds a business's topic graph from its completed scans
// in Postgres. Use it after enabling Neo4j on an existing deployment or when
// the graph has drifted from the relational store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/engine/graph"
	"github.com/ekkoscope/sherlock/engine/store"
	"github.com/ekkoscope/sherlock/pkg/config"
	"github.com/ekkoscope/sherlock/pkg/logging"
	"github.com/ekkoscope/sherlock/pkg/repo"
)

// ScanLister reads persisted scans.
type ScanLister interface {
	ListScans(ctx context.Context, f store.ScanFilter) ([]domain.ContentScan, error)
}

// Graph is the write side of the topic graph.
type Graph interface {
	ClearBusiness(ctx context.Context, businessID int64) (int64, error)
	ProjectScan(ctx context.Context, scan domain.ContentScan) error
}

// Report counts what a backfill did.
type Report struct {
	Scans     int
	Projected int
	Failed    int
}

func main() {
	var (
		business = flag.Int64("business", 0, "business id to rebuild (required)")
		keep     = flag.Bool("keep", false, "project on top of the existing graph instead of clearing it first")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log)
	if *business <= 0 {
		log.Error("-business is required")
		os.Exit(2)
	}
	if cfg.Neo4j.URI == "" {
		log.Error("NEO4J_URI is not configured")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URI, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
	if err != nil {
		log.Error("neo4j connect failed", "error", err)
		os.Exit(1)
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Error("neo4j verify failed", "error", err)
		os.Exit(1)
	}

	gs := graph.New(repo.DriverSessions(driver, cfg.Neo4j.Database))
	rep, err := backfill(ctx, store.New(pool), gs, *business, !*keep, log)
	if err != nil {
		log.Error("backfill failed", "business_id", *business, "error", err)
		os.Exit(1)
	}
	fmt.Printf("business %d: %d scans, %d projected, %d failed\n", *business, rep.Scans, rep.Projected, rep.Failed)
}

// backfill projects every completed scan of businessID into g. A scan that
// fails to project is logged and counted; the rest continue.
func backfill(ctx context.Context, scans ScanLister, g Graph, businessID int64, wipe bool, log *slog.Logger) (Report, error) {
	var rep Report
	list, err := scans.ListScans(ctx, store.ScanFilter{BusinessID: businessID, Status: domain.ScanCompleted})
	if err != nil {
		return rep, fmt.Errorf("list scans: %w", err)
	}
	rep.Scans = len(list)

	if wipe {
		n, err := g.ClearBusiness(ctx, businessID)
		if err != nil {
			return rep, fmt.Errorf("clear graph: %w", err)
		}
		log.Info("graph cleared", "business_id", businessID, "sites", n)
	}

	for _, scan := range list {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := g.ProjectScan(ctx, scan); err != nil {
			rep.Failed++
			log.Warn("project scan failed", "scan_id", scan.ID, "url", scan.URL, "error", err)
			continue
		}
		rep.Projected++
	}
	log.Info("backfill complete", "business_id", businessID, "scans", rep.Scans,
		"projected", rep.Projected, "failed", rep.Failed)
	return rep, nil
}
