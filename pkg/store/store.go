package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/lastwatch/uptime-core/pkg/config"
)

// Sentinel error kinds per the store's error taxonomy. Repository methods
// wrap these with fmt.Errorf("...: %w", err) so callers can still
// errors.Is against the kind.
var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
	ErrParse    = errors.New("store: malformed json column")
)

// DB wraps a sqlx connection to the relational store backing the probing
// and state-propagation core.
type DB struct {
	*sqlx.DB
}

// NewDB opens (and, for file-based paths, creates) the store and
// initializes its schema.
func NewDB(cfg *config.Config) (*DB, error) {
	dbPath := cfg.Database.Path

	if dbPath == ":memory:" {
		conn, err := sqlx.Connect("sqlite", ":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to connect to in-memory database: %w", err)
		}
		db := &DB{DB: conn}
		if err := db.InitSchema(); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		return db, nil
	}

	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	connStr := dbPath
	if cfg.Database.WALMode {
		connStr += "?_journal_mode=WAL&_sync=NORMAL&_cache_size=1000&_foreign_keys=ON"
	}

	conn, err := sqlx.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{DB: conn}
	if err := db.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// InitSchema creates every table the core reads and writes, idempotently.
func (db *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS monitors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'http',
		target TEXT NOT NULL,
		interval_sec INTEGER NOT NULL DEFAULT 60,
		timeout_ms INTEGER NOT NULL DEFAULT 5000,
		http_method TEXT NOT NULL DEFAULT 'GET',
		http_headers TEXT,
		http_body TEXT,
		expected_status TEXT,
		response_keyword TEXT,
		response_forbidden_keyword TEXT,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS monitor_states (
		monitor_id INTEGER PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'unknown',
		last_checked_at INTEGER,
		last_changed_at INTEGER,
		last_latency_ms INTEGER,
		last_error TEXT,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		consecutive_successes INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS check_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		monitor_id INTEGER NOT NULL,
		checked_at INTEGER NOT NULL,
		status TEXT NOT NULL,
		latency_ms INTEGER,
		http_status INTEGER,
		error TEXT,
		location TEXT,
		attempt INTEGER NOT NULL DEFAULT 1,
		FOREIGN KEY (monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS outages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		monitor_id INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		initial_error TEXT,
		last_error TEXT,
		FOREIGN KEY (monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS monitor_daily_rollups (
		monitor_id INTEGER NOT NULL,
		day_start_at INTEGER NOT NULL,
		total_sec INTEGER NOT NULL DEFAULT 0,
		downtime_sec INTEGER NOT NULL DEFAULT 0,
		unknown_sec INTEGER NOT NULL DEFAULT 0,
		uptime_sec INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (monitor_id, day_start_at)
	);

	CREATE TABLE IF NOT EXISTS maintenance_windows (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		message TEXT,
		starts_at INTEGER NOT NULL,
		ends_at INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS maintenance_window_monitors (
		maintenance_window_id TEXT NOT NULL,
		monitor_id INTEGER NOT NULL,
		PRIMARY KEY (maintenance_window_id, monitor_id),
		FOREIGN KEY (maintenance_window_id) REFERENCES maintenance_windows(id) ON DELETE CASCADE,
		FOREIGN KEY (monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'investigating',
		impact TEXT NOT NULL DEFAULT 'none',
		message TEXT,
		started_at INTEGER NOT NULL,
		resolved_at INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS incident_monitors (
		incident_id TEXT NOT NULL,
		monitor_id INTEGER NOT NULL,
		PRIMARY KEY (incident_id, monitor_id),
		FOREIGN KEY (incident_id) REFERENCES incidents(id) ON DELETE CASCADE,
		FOREIGN KEY (monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS incident_updates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (incident_id) REFERENCES incidents(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS notification_channels (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'webhook',
		config TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS notification_deliveries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id TEXT NOT NULL,
		event_key TEXT NOT NULL,
		status TEXT NOT NULL,
		http_status INTEGER,
		error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (channel_id, event_key)
	);

	CREATE TABLE IF NOT EXISTS leases (
		name TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		generated_at INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_outages_open_per_monitor ON outages(monitor_id) WHERE ended_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_outages_monitor_started ON outages(monitor_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_check_results_monitor_checked ON check_results(monitor_id, checked_at);
	CREATE INDEX IF NOT EXISTS idx_maintenance_windows_range ON maintenance_windows(starts_at, ends_at);
	CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
	CREATE INDEX IF NOT EXISTS idx_incident_updates_incident ON incident_updates(incident_id, created_at);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// HealthCheck verifies the store is reachable.
func (db *DB) HealthCheck() error {
	var result int
	if err := db.Get(&result, "SELECT 1"); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// MonitorRepository returns a repository for the monitors table.
func (db *DB) MonitorRepository() *MonitorRepository { return &MonitorRepository{db: db} }

// MonitorStateRepository returns a repository for the monitor_states table.
func (db *DB) MonitorStateRepository() *MonitorStateRepository {
	return &MonitorStateRepository{db: db}
}

// CheckResultRepository returns a repository for the check_results table.
func (db *DB) CheckResultRepository() *CheckResultRepository {
	return &CheckResultRepository{db: db}
}

// OutageRepository returns a repository for the outages table.
func (db *DB) OutageRepository() *OutageRepository { return &OutageRepository{db: db} }

// RollupRepository returns a repository for the monitor_daily_rollups table.
func (db *DB) RollupRepository() *RollupRepository { return &RollupRepository{db: db} }

// MaintenanceRepository returns a repository for maintenance windows.
func (db *DB) MaintenanceRepository() *MaintenanceRepository {
	return &MaintenanceRepository{db: db}
}

// IncidentRepository returns a repository for incidents.
func (db *DB) IncidentRepository() *IncidentRepository { return &IncidentRepository{db: db} }

// ChannelRepository returns a repository for notification channels.
func (db *DB) ChannelRepository() *ChannelRepository { return &ChannelRepository{db: db} }

// DeliveryRepository returns a repository for notification deliveries.
func (db *DB) DeliveryRepository() *DeliveryRepository { return &DeliveryRepository{db: db} }

// LeaseRepository returns a repository for leases.
func (db *DB) LeaseRepository() *LeaseRepository { return &LeaseRepository{db: db} }

// SettingsRepository returns a repository for the settings singleton.
func (db *DB) SettingsRepository() *SettingsRepository { return &SettingsRepository{db: db} }

// SnapshotRepository returns a repository for the cached public snapshot.
func (db *DB) SnapshotRepository() *SnapshotRepository { return &SnapshotRepository{db: db} }

// SeedSettings writes the configured defaults into the settings table the
// first time a key is absent; it never clobbers a value an admin already
// changed.
func (db *DB) SeedSettings(cfg *config.Config) error {
	repo := db.SettingsRepository()
	defaults := map[string]string{
		"site_title":                      cfg.Settings.SiteTitle,
		"site_timezone":                   cfg.Settings.SiteTimezone,
		"retention_check_results_days":    fmt.Sprintf("%d", cfg.Settings.RetentionCheckResultsDays),
		"state_failures_to_down_from_up":  fmt.Sprintf("%d", cfg.Settings.FailuresToDownFromUp),
		"state_successes_to_up_from_down": fmt.Sprintf("%d", cfg.Settings.SuccessesToUpFromDown),
		"uptime_rating_level":             fmt.Sprintf("%d", cfg.Settings.UptimeRatingLevel),
	}
	for key, value := range defaults {
		if err := repo.SeedIfAbsent(key, value); err != nil {
			return err
		}
	}
	return nil
}
