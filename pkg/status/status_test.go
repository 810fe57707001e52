package status

import (
	"context"
	"testing"
	"time"

	"github.com/lastwatch/uptime-core/pkg/config"
	"github.com/lastwatch/uptime-core/pkg/maintenance"
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

func TestCompose_StaleCheckIsReportedAsUnknown(t *testing.T) {
	db := testDB(t)
	m := &store.Monitor{Name: "api", Type: "http", Target: "https://api.example", IntervalSec: 60, TimeoutMS: 1000, HTTPMethod: "GET", IsActive: true}
	if err := db.MonitorRepository().Create(m); err != nil {
		t.Fatalf("failed to create monitor: %v", err)
	}

	now := time.Unix(1_700_000_000, 0)
	staleAt := now.Add(-10 * time.Minute).Unix()
	if err := db.MonitorStateRepository().Upsert(&store.MonitorState{MonitorID: m.ID, Status: "up", LastCheckedAt: &staleAt, ConsecutiveSuccesses: 5}); err != nil {
		t.Fatalf("failed to seed state: %v", err)
	}

	maint := maintenance.New(db.MaintenanceRepository())
	c := New(db, maint)

	resp, err := c.Compose(now)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if len(resp.Monitors) != 1 {
		t.Fatalf("expected one monitor, got %d", len(resp.Monitors))
	}
	ms := resp.Monitors[0]
	if ms.EffectiveStatus != "unknown" || !ms.IsStale {
		t.Errorf("expected stale status up to be reported unknown, got status=%s stale=%v", ms.EffectiveStatus, ms.IsStale)
	}
}

func TestCompose_ActiveMaintenanceOverridesStatus(t *testing.T) {
	db := testDB(t)
	m := &store.Monitor{Name: "under-maint", Type: "http", Target: "https://api.example", IntervalSec: 60, TimeoutMS: 1000, HTTPMethod: "GET", IsActive: true}
	if err := db.MonitorRepository().Create(m); err != nil {
		t.Fatalf("failed to create monitor: %v", err)
	}

	now := time.Unix(1_700_000_000, 0)
	checkedAt := now.Unix()
	if err := db.MonitorStateRepository().Upsert(&store.MonitorState{MonitorID: m.ID, Status: "down", LastCheckedAt: &checkedAt, ConsecutiveFailures: 3}); err != nil {
		t.Fatalf("failed to seed state: %v", err)
	}
	window := &store.MaintenanceWindow{Title: "planned", StartsAt: now.Add(-time.Hour).Unix(), EndsAt: now.Add(time.Hour).Unix()}
	if err := db.MaintenanceRepository().Create(window, []int64{m.ID}); err != nil {
		t.Fatalf("failed to create maintenance window: %v", err)
	}

	maint := maintenance.New(db.MaintenanceRepository())
	c := New(db, maint)

	resp, err := c.Compose(now)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if resp.Monitors[0].EffectiveStatus != "maintenance" {
		t.Errorf("expected maintenance to override down, got %s", resp.Monitors[0].EffectiveStatus)
	}
	if resp.Banner.Source != "maintenance" || resp.Banner.Status != "maintenance" {
		t.Errorf("expected maintenance banner, got %+v", resp.Banner)
	}
	if len(resp.MaintenanceActive) != 1 {
		t.Errorf("expected one active maintenance window, got %d", len(resp.MaintenanceActive))
	}
}

func TestCompose_OpenIncidentDrivesBanner(t *testing.T) {
	db := testDB(t)
	m := &store.Monitor{Name: "api", Type: "http", Target: "https://api.example", IntervalSec: 60, TimeoutMS: 1000, HTTPMethod: "GET", IsActive: true}
	if err := db.MonitorRepository().Create(m); err != nil {
		t.Fatalf("failed to create monitor: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	checkedAt := now.Unix()
	if err := db.MonitorStateRepository().Upsert(&store.MonitorState{MonitorID: m.ID, Status: "up", LastCheckedAt: &checkedAt, ConsecutiveSuccesses: 5}); err != nil {
		t.Fatalf("failed to seed state: %v", err)
	}

	inc := &store.Incident{Title: "elevated error rates", Status: "investigating", Impact: "major", StartedAt: now.Unix()}
	if err := db.IncidentRepository().Create(inc, []int64{m.ID}); err != nil {
		t.Fatalf("failed to create incident: %v", err)
	}

	maint := maintenance.New(db.MaintenanceRepository())
	c := New(db, maint)

	resp, err := c.Compose(now)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if resp.Banner.Source != "incident" || resp.Banner.Status != "major_outage" {
		t.Errorf("expected major_outage incident banner, got %+v", resp.Banner)
	}
	if len(resp.Incidents) != 1 || len(resp.Incidents[0].MonitorIDs) != 1 {
		t.Fatalf("expected one incident linked to one monitor, got %+v", resp.Incidents)
	}
}

func TestCompose_Uptime30dComputesPercentage(t *testing.T) {
	db := testDB(t)
	m := &store.Monitor{Name: "api", Type: "http", Target: "https://api.example", IntervalSec: 60, TimeoutMS: 1000, HTTPMethod: "GET", IsActive: true}
	if err := db.MonitorRepository().Create(m); err != nil {
		t.Fatalf("failed to create monitor: %v", err)
	}
	now := time.Date(2026, 7, 31, 2, 0, 0, 0, time.UTC)
	checkedAt := now.Unix()
	if err := db.MonitorStateRepository().Upsert(&store.MonitorState{MonitorID: m.ID, Status: "up", LastCheckedAt: &checkedAt, ConsecutiveSuccesses: 5}); err != nil {
		t.Fatalf("failed to seed state: %v", err)
	}

	dayStart := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC).Unix()
	if err := db.RollupRepository().Upsert(&store.MonitorDailyRollup{MonitorID: m.ID, DayStartAt: dayStart, TotalSec: 86400, UptimeSec: 86400 - 3600, DowntimeSec: 3600}); err != nil {
		t.Fatalf("failed to seed rollup: %v", err)
	}

	maint := maintenance.New(db.MaintenanceRepository())
	c := New(db, maint)

	resp, err := c.Compose(now)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	uptime := resp.Monitors[0].Uptime30d
	if uptime.UptimePct == nil {
		t.Fatal("expected an uptime percentage to be computed")
	}
	want := float64(86400-3600) / float64(86400) * 100
	if *uptime.UptimePct != want {
		t.Errorf("expected uptime pct %v, got %v", want, *uptime.UptimePct)
	}
}

func TestRefresh_CachesSnapshot(t *testing.T) {
	db := testDB(t)
	maint := maintenance.New(db.MaintenanceRepository())
	c := New(db, maint)

	now := time.Unix(1_700_000_000, 0)
	if err := c.Refresh(context.Background(), now); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	cached, err := c.Cached()
	if err != nil {
		t.Fatalf("failed to read cached snapshot: %v", err)
	}
	if cached.GeneratedAt != now.Unix() {
		t.Errorf("expected cached generated_at %d, got %d", now.Unix(), cached.GeneratedAt)
	}
}
