package rollup

import (
	"context"
	"testing"
	"time"

	"github.com/lastwatch/uptime-core/pkg/config"
	"github.com/lastwatch/uptime-core/pkg/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.NewDB(&config.Config{Database: config.DatabaseConfig{Path: ":memory:"}})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRun_AggregatesPreviousDayAndPrunes(t *testing.T) {
	db := testDB(t)
	monitorRepo := db.MonitorRepository()
	checkRepo := db.CheckResultRepository()

	m := &store.Monitor{Name: "api", Type: "http", Target: "https://api.example", IntervalSec: 60, TimeoutMS: 1000, HTTPMethod: "GET", IsActive: true}
	if err := monitorRepo.Create(m); err != nil {
		t.Fatalf("failed to create monitor: %v", err)
	}

	now := time.Date(2026, 7, 31, 2, 0, 0, 0, time.UTC)
	yesterday := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	// Up for the first half of the day, down for the second.
	if err := checkRepo.Insert(&store.CheckResult{MonitorID: m.ID, CheckedAt: yesterday.Unix(), Status: "up"}); err != nil {
		t.Fatalf("failed to insert check: %v", err)
	}
	midday := yesterday.Add(12 * time.Hour).Unix()
	if err := checkRepo.Insert(&store.CheckResult{MonitorID: m.ID, CheckedAt: midday, Status: "down"}); err != nil {
		t.Fatalf("failed to insert check: %v", err)
	}

	job := New(db, 90)
	summary, err := job.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("rollup run failed: %v", err)
	}
	if summary.Skipped {
		t.Fatal("expected rollup to run, not be skipped")
	}
	if summary.MonitorsRolled != 1 {
		t.Errorf("expected one monitor rolled up, got %d", summary.MonitorsRolled)
	}

	rollups, err := db.RollupRepository().ListRange(m.ID, yesterday.Unix(), yesterday.Unix())
	if err != nil {
		t.Fatalf("failed to list rollups: %v", err)
	}
	if len(rollups) != 1 {
		t.Fatalf("expected one rollup row, got %d", len(rollups))
	}
	roll := rollups[0]
	if roll.UptimeSec != 12*3600 {
		t.Errorf("expected 12h uptime, got %d", roll.UptimeSec)
	}
	if roll.DowntimeSec != 12*3600 {
		t.Errorf("expected 12h downtime, got %d", roll.DowntimeSec)
	}
	if roll.TotalSec != 24*3600 {
		t.Errorf("expected 24h total, got %d", roll.TotalSec)
	}
}

func TestRun_PrunesOldCheckResultsAndResolvedOutages(t *testing.T) {
	db := testDB(t)
	monitorRepo := db.MonitorRepository()
	checkRepo := db.CheckResultRepository()
	outageRepo := db.OutageRepository()

	m := &store.Monitor{Name: "legacy", Type: "http", Target: "https://legacy.example", IntervalSec: 60, TimeoutMS: 1000, HTTPMethod: "GET", IsActive: true}
	if err := monitorRepo.Create(m); err != nil {
		t.Fatalf("failed to create monitor: %v", err)
	}

	now := time.Date(2026, 7, 31, 2, 0, 0, 0, time.UTC)
	old := now.Add(-100 * 24 * time.Hour)
	if err := checkRepo.Insert(&store.CheckResult{MonitorID: m.ID, CheckedAt: old.Unix(), Status: "up"}); err != nil {
		t.Fatalf("failed to insert old check: %v", err)
	}

	oldOutage := &store.Outage{MonitorID: m.ID, StartedAt: now.Add(-400 * 24 * time.Hour).Unix()}
	if err := outageRepo.Start(oldOutage); err != nil {
		t.Fatalf("failed to create old outage: %v", err)
	}
	endedAt := now.Add(-399 * 24 * time.Hour).Unix()
	if err := outageRepo.End(oldOutage.ID, endedAt); err != nil {
		t.Fatalf("failed to end old outage: %v", err)
	}

	job := New(db, 90)
	summary, err := job.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("rollup run failed: %v", err)
	}
	if summary.ChecksPruned == 0 {
		t.Error("expected old check results to be pruned")
	}
	if summary.OutagesPruned == 0 {
		t.Error("expected the old resolved outage to be pruned")
	}
}

func TestRun_SkipsWhenLeaseHeld(t *testing.T) {
	db := testDB(t)
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	ok, err := db.LeaseRepository().TryAcquire(leaseName, now.Unix(), now.Unix()+leaseSeconds)
	if err != nil || !ok {
		t.Fatalf("failed to pre-acquire lease: ok=%v err=%v", ok, err)
	}

	job := New(db, 90)
	summary, err := job.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !summary.Skipped {
		t.Error("expected run to be skipped while the lease is held")
	}
}
