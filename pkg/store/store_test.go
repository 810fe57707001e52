package store

import (
	"testing"
	"time"

	"github.com/lastwatch/uptime-core/pkg/config"
)

func createTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Path:    ":memory:",
			WALMode: false,
		},
	}

	db, err := NewDB(cfg)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB(t *testing.T) {
	db := createTestDB(t)
	if err := db.HealthCheck(); err != nil {
		t.Errorf("health check failed: %v", err)
	}
}

func TestInitSchema(t *testing.T) {
	db := createTestDB(t)

	tables := []string{
		"monitors", "monitor_states", "check_results", "outages",
		"monitor_daily_rollups", "maintenance_windows", "incidents",
		"notification_channels", "notification_deliveries", "leases",
		"settings", "snapshots",
	}
	for _, table := range tables {
		var count int
		if err := db.Get(&count, "SELECT COUNT(*) FROM "+table); err != nil {
			t.Errorf("failed to query %s table: %v", table, err)
		}
	}
}

func TestMonitorRepository_CreateAndGet(t *testing.T) {
	db := createTestDB(t)
	repo := db.MonitorRepository()

	m := &Monitor{
		Name:            "homepage",
		Type:            "http",
		Target:          "https://example.com",
		IntervalSec:     60,
		TimeoutMS:       5000,
		HTTPMethod:      "GET",
		HTTPHeaders:     []string{"Accept: application/json"},
		ExpectedStatus:  []int{200, 204},
		IsActive:        true,
	}

	if err := repo.Create(m); err != nil {
		t.Fatalf("failed to create monitor: %v", err)
	}
	if m.ID == 0 {
		t.Fatal("expected monitor id to be set")
	}

	got, err := repo.GetByID(m.ID)
	if err != nil {
		t.Fatalf("failed to get monitor: %v", err)
	}
	if got.Name != m.Name || got.Target != m.Target {
		t.Errorf("unexpected monitor fields: %+v", got)
	}
	if len(got.ExpectedStatus) != 2 || got.ExpectedStatus[0] != 200 {
		t.Errorf("expected_status not round-tripped: %+v", got.ExpectedStatus)
	}
	if len(got.HTTPHeaders) != 1 {
		t.Errorf("http_headers not round-tripped: %+v", got.HTTPHeaders)
	}
}

func TestMonitorRepository_GetByID_NotFound(t *testing.T) {
	db := createTestDB(t)
	repo := db.MonitorRepository()

	if _, err := repo.GetByID(999); err == nil {
		t.Fatal("expected not-found error for missing monitor")
	}
}

func TestMonitorRepository_ListActive(t *testing.T) {
	db := createTestDB(t)
	repo := db.MonitorRepository()

	active := &Monitor{Name: "active-one", Type: "http", Target: "https://a.example", IntervalSec: 60, TimeoutMS: 1000, HTTPMethod: "GET", IsActive: true}
	inactive := &Monitor{Name: "inactive-one", Type: "http", Target: "https://b.example", IntervalSec: 60, TimeoutMS: 1000, HTTPMethod: "GET", IsActive: false}
	if err := repo.Create(active); err != nil {
		t.Fatalf("failed to create active monitor: %v", err)
	}
	if err := repo.Create(inactive); err != nil {
		t.Fatalf("failed to create inactive monitor: %v", err)
	}

	monitors, err := repo.ListActive()
	if err != nil {
		t.Fatalf("failed to list active monitors: %v", err)
	}
	for _, m := range monitors {
		if m.ID == inactive.ID {
			t.Error("inactive monitor should not appear in ListActive")
		}
	}
}

func TestOutageRepository_AtMostOneOpenPerMonitor(t *testing.T) {
	db := createTestDB(t)
	monitorRepo := db.MonitorRepository()
	outageRepo := db.OutageRepository()

	m := &Monitor{Name: "flaky", Type: "http", Target: "https://flaky.example", IntervalSec: 60, TimeoutMS: 1000, HTTPMethod: "GET", IsActive: true}
	if err := monitorRepo.Create(m); err != nil {
		t.Fatalf("failed to create monitor: %v", err)
	}

	now := time.Now().Unix()
	first := &Outage{MonitorID: m.ID, StartedAt: now}
	if err := outageRepo.Start(first); err != nil {
		t.Fatalf("failed to start first outage: %v", err)
	}

	second := &Outage{MonitorID: m.ID, StartedAt: now + 1}
	if err := outageRepo.Start(second); err == nil {
		t.Fatal("expected conflict starting a second open outage for the same monitor")
	}

	if err := outageRepo.End(first.ID, now+30); err != nil {
		t.Fatalf("failed to end outage: %v", err)
	}

	third := &Outage{MonitorID: m.ID, StartedAt: now + 31}
	if err := outageRepo.Start(third); err != nil {
		t.Fatalf("expected a new outage to be startable once prior one ended: %v", err)
	}
}

func TestLeaseRepository_TryAcquire(t *testing.T) {
	db := createTestDB(t)
	repo := db.LeaseRepository()

	now := time.Now().Unix()
	ok, err := repo.TryAcquire("scheduler-tick", now, now+55)
	if err != nil {
		t.Fatalf("failed to acquire lease: %v", err)
	}
	if !ok {
		t.Fatal("expected first acquisition to succeed")
	}

	ok, err = repo.TryAcquire("scheduler-tick", now+1, now+60)
	if err != nil {
		t.Fatalf("failed to attempt second acquire: %v", err)
	}
	if ok {
		t.Fatal("expected second acquisition to fail while lease is still held")
	}

	ok, err = repo.TryAcquire("scheduler-tick", now+100, now+155)
	if err != nil {
		t.Fatalf("failed to attempt acquire after expiry: %v", err)
	}
	if !ok {
		t.Fatal("expected acquisition to succeed once prior lease expired")
	}
}

func TestDeliveryRepository_Idempotency(t *testing.T) {
	db := createTestDB(t)
	channelRepo := db.ChannelRepository()
	deliveryRepo := db.DeliveryRepository()

	ch := &NotificationChannel{
		Name:     "ops-webhook",
		Type:     "webhook",
		Config:   ChannelConfig{URL: "https://hooks.example/ops", Method: "POST"},
		IsActive: true,
	}
	if err := channelRepo.Create(ch); err != nil {
		t.Fatalf("failed to create channel: %v", err)
	}

	delivered, err := deliveryRepo.AlreadyDelivered(ch.ID, "monitor:1:down:1700000000")
	if err != nil {
		t.Fatalf("failed to check idempotency before delivery: %v", err)
	}
	if delivered {
		t.Fatal("expected no prior delivery")
	}

	httpStatus := 200
	if err := deliveryRepo.Record(&NotificationDelivery{
		ChannelID:  ch.ID,
		EventKey:   "monitor:1:down:1700000000",
		Status:     "delivered",
		HTTPStatus: &httpStatus,
	}); err != nil {
		t.Fatalf("failed to record delivery: %v", err)
	}

	delivered, err = deliveryRepo.AlreadyDelivered(ch.ID, "monitor:1:down:1700000000")
	if err != nil {
		t.Fatalf("failed to check idempotency after delivery: %v", err)
	}
	if !delivered {
		t.Fatal("expected delivery to be recorded as delivered")
	}
}

func TestDeliveryRepository_RetrySuccessOverwritesRecordedFailure(t *testing.T) {
	db := createTestDB(t)
	channelRepo := db.ChannelRepository()
	deliveryRepo := db.DeliveryRepository()

	ch := &NotificationChannel{
		Name:     "ops-webhook",
		Type:     "webhook",
		Config:   ChannelConfig{URL: "https://hooks.example/ops", Method: "POST"},
		IsActive: true,
	}
	if err := channelRepo.Create(ch); err != nil {
		t.Fatalf("failed to create channel: %v", err)
	}

	eventKey := "monitor:1:down:1700000000"
	failStatus := 503
	failMsg := "connection refused"
	if err := deliveryRepo.Record(&NotificationDelivery{
		ChannelID:  ch.ID,
		EventKey:   eventKey,
		Status:     "failed",
		HTTPStatus: &failStatus,
		Error:      &failMsg,
	}); err != nil {
		t.Fatalf("failed to record first-attempt failure: %v", err)
	}

	delivered, err := deliveryRepo.AlreadyDelivered(ch.ID, eventKey)
	if err != nil {
		t.Fatalf("failed to check idempotency after failure: %v", err)
	}
	if delivered {
		t.Fatal("a recorded failure must not count as delivered")
	}

	// A retry of the same event succeeds; its Record call must overwrite
	// the stale failed row rather than erroring on the unique constraint.
	okStatus := 200
	if err := deliveryRepo.Record(&NotificationDelivery{
		ChannelID:  ch.ID,
		EventKey:   eventKey,
		Status:     "delivered",
		HTTPStatus: &okStatus,
	}); err != nil {
		t.Fatalf("failed to record retry success: %v", err)
	}

	delivered, err = deliveryRepo.AlreadyDelivered(ch.ID, eventKey)
	if err != nil {
		t.Fatalf("failed to check idempotency after retry: %v", err)
	}
	if !delivered {
		t.Fatal("expected the successful retry to overwrite the failed row and count as delivered")
	}
}

func TestSettingsRepository_SeedIfAbsent(t *testing.T) {
	db := createTestDB(t)
	repo := db.SettingsRepository()

	if err := repo.SeedIfAbsent("site_title", "Status"); err != nil {
		t.Fatalf("failed to seed setting: %v", err)
	}
	if err := repo.SeedIfAbsent("site_title", "Overwritten"); err != nil {
		t.Fatalf("failed to seed-if-absent over existing key: %v", err)
	}

	value, err := repo.Get("site_title")
	if err != nil {
		t.Fatalf("failed to get setting: %v", err)
	}
	if value != "Status" {
		t.Errorf("expected seed to not overwrite existing value, got %q", value)
	}
}

func TestSnapshotRepository_PutAndGet(t *testing.T) {
	db := createTestDB(t)
	repo := db.SnapshotRepository()

	if err := repo.Put(`{"status":"all_operational"}`, 1700000000); err != nil {
		t.Fatalf("failed to put snapshot: %v", err)
	}

	snap, err := repo.Get()
	if err != nil {
		t.Fatalf("failed to get snapshot: %v", err)
	}
	if snap.Value != `{"status":"all_operational"}` {
		t.Errorf("unexpected snapshot value: %s", snap.Value)
	}

	if err := repo.Put(`{"status":"degraded"}`, 1700000060); err != nil {
		t.Fatalf("failed to overwrite snapshot: %v", err)
	}
	snap, err = repo.Get()
	if err != nil {
		t.Fatalf("failed to get overwritten snapshot: %v", err)
	}
	if snap.Value != `{"status":"degraded"}` {
		t.Errorf("expected snapshot to be overwritten, got %s", snap.Value)
	}
}

func TestPersistTick_OpensAndClosesOutage(t *testing.T) {
	db := createTestDB(t)
	monitorRepo := db.MonitorRepository()
	outageRepo := db.OutageRepository()

	m := &Monitor{Name: "payments", Type: "http", Target: "https://pay.example", IntervalSec: 60, TimeoutMS: 1000, HTTPMethod: "GET", IsActive: true}
	if err := monitorRepo.Create(m); err != nil {
		t.Fatalf("failed to create monitor: %v", err)
	}

	downErr := "timeout: deadline exceeded"
	checkedAt := time.Now().Unix()
	check := &CheckResult{MonitorID: m.ID, CheckedAt: checkedAt, Status: "down", Error: &downErr, Attempt: 2}
	state := &MonitorState{MonitorID: m.ID, Status: "down", LastCheckedAt: &checkedAt, ConsecutiveFailures: 2, ConsecutiveSuccesses: 0, LastError: &downErr}

	if err := db.PersistTick(check, state, OutageActionOpen, &downErr); err != nil {
		t.Fatalf("failed to persist opening tick: %v", err)
	}
	if check.ID == 0 {
		t.Error("expected check result id to be set")
	}

	open, err := outageRepo.Open(m.ID)
	if err != nil {
		t.Fatalf("failed to fetch open outage: %v", err)
	}
	if open == nil {
		t.Fatal("expected an open outage after OutageActionOpen")
	}

	closedAt := checkedAt + 60
	check2 := &CheckResult{MonitorID: m.ID, CheckedAt: closedAt, Status: "up", Attempt: 1}
	state2 := &MonitorState{MonitorID: m.ID, Status: "up", LastCheckedAt: &closedAt, ConsecutiveFailures: 0, ConsecutiveSuccesses: 1}
	if err := db.PersistTick(check2, state2, OutageActionClose, nil); err != nil {
		t.Fatalf("failed to persist closing tick: %v", err)
	}

	open, err = outageRepo.Open(m.ID)
	if err != nil {
		t.Fatalf("failed to re-check open outage: %v", err)
	}
	if open != nil {
		t.Error("expected no open outage after OutageActionClose")
	}
}

func TestMonitorStateRepository_SeedsUnknown(t *testing.T) {
	db := createTestDB(t)
	monitorRepo := db.MonitorRepository()
	stateRepo := db.MonitorStateRepository()

	m := &Monitor{Name: "new-monitor", Type: "http", Target: "https://new.example", IntervalSec: 60, TimeoutMS: 1000, HTTPMethod: "GET", IsActive: true}
	if err := monitorRepo.Create(m); err != nil {
		t.Fatalf("failed to create monitor: %v", err)
	}

	state, err := stateRepo.Get(m.ID)
	if err != nil {
		t.Fatalf("failed to get seeded state: %v", err)
	}
	if state.Status != "unknown" {
		t.Errorf("expected seeded status unknown, got %s", state.Status)
	}

	state.Status = "up"
	now := time.Now().Unix()
	state.LastCheckedAt = &now
	if err := stateRepo.Upsert(state); err != nil {
		t.Fatalf("failed to upsert state: %v", err)
	}

	updated, err := stateRepo.Get(m.ID)
	if err != nil {
		t.Fatalf("failed to re-get state: %v", err)
	}
	if updated.Status != "up" {
		t.Errorf("expected updated status up, got %s", updated.Status)
	}
}
