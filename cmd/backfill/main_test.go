package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ekkoscope/sherlock/engine/domain"
	"github.com/ekkoscope/sherlock/engine/store"
)

type fakeScans struct {
	scans []domain.ContentScan
	got   store.ScanFilter
	err   error
}

func (f *fakeScans) ListScans(_ context.Context, filter store.ScanFilter) ([]domain.ContentScan, error) {
	f.got = filter
	return f.scans, f.err
}

type fakeGraph struct {
	cleared   []int64
	projected []int64
	failOn    int64
	clearErr  error
}

func (g *fakeGraph) ClearBusiness(_ context.Context, id int64) (int64, error) {
	if g.clearErr != nil {
		return 0, g.clearErr
	}
	g.cleared = append(g.cleared, id)
	return 2, nil
}

func (g *fakeGraph) ProjectScan(_ context.Context, scan domain.ContentScan) error {
	if scan.ID == g.failOn {
		return errors.New("neo4j: connection reset")
	}
	g.projected = append(g.projected, scan.ID)
	return nil
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestBackfillProjectsCompletedScans(t *testing.T) {
	scans := &fakeScans{scans: []domain.ContentScan{{ID: 1}, {ID: 2}, {ID: 3}}}
	g := &fakeGraph{failOn: 2}

	rep, err := backfill(context.Background(), scans, g, 7, true, quiet)
	if err != nil {
		t.Fatal(err)
	}
	if scans.got.BusinessID != 7 || scans.got.Status != domain.ScanCompleted {
		t.Errorf("filter = %+v", scans.got)
	}
	if len(g.cleared) != 1 || g.cleared[0] != 7 {
		t.Errorf("cleared = %v", g.cleared)
	}
	if rep != (Report{Scans: 3, Projected: 2, Failed: 1}) {
		t.Errorf("report = %+v", rep)
	}
	if len(g.projected) != 2 || g.projected[0] != 1 || g.projected[1] != 3 {
		t.Errorf("projected = %v", g.projected)
	}
}

func TestBackfillKeepSkipsClear(t *testing.T) {
	g := &fakeGraph{}
	if _, err := backfill(context.Background(), &fakeScans{scans: []domain.ContentScan{{ID: 1}}}, g, 7, false, quiet); err != nil {
		t.Fatal(err)
	}
	if len(g.cleared) != 0 {
		t.Errorf("graph cleared with keep set: %v", g.cleared)
	}
}

func TestBackfillErrors(t *testing.T) {
	if _, err := backfill(context.Background(), &fakeScans{err: errors.New("pg down")}, &fakeGraph{}, 7, true, quiet); err == nil {
		t.Error("expected list error")
	}
	g := &fakeGraph{clearErr: errors.New("neo4j down")}
	rep, err := backfill(context.Background(), &fakeScans{scans: []domain.ContentScan{{ID: 1}}}, g, 7, true, quiet)
	if err == nil {
		t.Error("expected clear error")
	}
	if len(g.projected) != 0 || rep.Projected != 0 {
		t.Error("projected after failed clear")
	}
}
