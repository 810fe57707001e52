package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MonitorRepository provides database operations for monitors.
type MonitorRepository struct {
	db *DB
}

// Create inserts a new monitor, marshaling its JSON-valued columns first.
func (r *MonitorRepository) Create(m *Monitor) error {
	headersJSON, err := m.MarshalHTTPHeaders()
	if err != nil {
		return fmt.Errorf("failed to marshal http_headers: %w", err)
	}
	statusJSON, err := m.MarshalExpectedStatus()
	if err != nil {
		return fmt.Errorf("failed to marshal expected_status: %w", err)
	}

	query := `
		INSERT INTO monitors (name, type, target, interval_sec, timeout_ms, http_method,
			http_headers, http_body, expected_status, response_keyword,
			response_forbidden_keyword, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query, m.Name, m.Type, m.Target, m.IntervalSec, m.TimeoutMS,
		m.HTTPMethod, headersJSON, m.HTTPBody, statusJSON, m.ResponseKeyword,
		m.ResponseForbiddenKeyword, m.IsActive)
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get monitor id: %w", err)
	}
	m.ID = id
	return nil
}

// GetByID fetches a monitor by id, unmarshaling its JSON-valued columns.
func (r *MonitorRepository) GetByID(id int64) (*Monitor, error) {
	row := r.db.QueryRow(`
		SELECT id, name, type, target, interval_sec, timeout_ms, http_method,
			http_headers, http_body, expected_status, response_keyword,
			response_forbidden_keyword, is_active, created_at, updated_at
		FROM monitors WHERE id = ?`, id)
	return scanMonitor(row)
}

// ListActive returns every monitor with is_active = 1, ordered by id for
// deterministic tick iteration.
func (r *MonitorRepository) ListActive() ([]*Monitor, error) {
	rows, err := r.db.Query(`
		SELECT id, name, type, target, interval_sec, timeout_ms, http_method,
			http_headers, http_body, expected_status, response_keyword,
			response_forbidden_keyword, is_active, created_at, updated_at
		FROM monitors WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active monitors: %w", err)
	}
	defer rows.Close()

	var monitors []*Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, m)
	}
	return monitors, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMonitor(row scannable) (*Monitor, error) {
	var m Monitor
	var headersJSON, statusJSON string
	err := row.Scan(&m.ID, &m.Name, &m.Type, &m.Target, &m.IntervalSec, &m.TimeoutMS,
		&m.HTTPMethod, &headersJSON, &m.HTTPBody, &statusJSON, &m.ResponseKeyword,
		&m.ResponseForbiddenKeyword, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("monitor: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan monitor: %w", err)
	}
	if err := m.UnmarshalHTTPHeaders(headersJSON); err != nil {
		return nil, fmt.Errorf("monitor %d http_headers: %w", m.ID, ErrParse)
	}
	if err := m.UnmarshalExpectedStatus(statusJSON); err != nil {
		return nil, fmt.Errorf("monitor %d expected_status: %w", m.ID, ErrParse)
	}
	return &m, nil
}

// MonitorStateRepository provides database operations for monitor_states.
type MonitorStateRepository struct {
	db *DB
}

// Get returns the live state row for a monitor, creating an "unknown"
// default row the first time a monitor is probed.
func (r *MonitorStateRepository) Get(monitorID int64) (*MonitorState, error) {
	var s MonitorState
	err := r.db.Get(&s, "SELECT * FROM monitor_states WHERE monitor_id = ?", monitorID)
	if errors.Is(err, sql.ErrNoRows) {
		s = MonitorState{MonitorID: monitorID, Status: "unknown"}
		if _, err := r.db.Exec(
			"INSERT INTO monitor_states (monitor_id, status) VALUES (?, ?)",
			monitorID, "unknown"); err != nil {
			return nil, fmt.Errorf("failed to seed monitor state: %w", err)
		}
		return &s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor state: %w", err)
	}
	return &s, nil
}

// Upsert writes the full state row back after a tick decision.
func (r *MonitorStateRepository) Upsert(s *MonitorState) error {
	query := `
		INSERT INTO monitor_states (monitor_id, status, last_checked_at, last_changed_at,
			last_latency_ms, last_error, consecutive_failures, consecutive_successes)
		VALUES (:monitor_id, :status, :last_checked_at, :last_changed_at,
			:last_latency_ms, :last_error, :consecutive_failures, :consecutive_successes)
		ON CONFLICT (monitor_id) DO UPDATE SET
			status = excluded.status,
			last_checked_at = excluded.last_checked_at,
			last_changed_at = excluded.last_changed_at,
			last_latency_ms = excluded.last_latency_ms,
			last_error = excluded.last_error,
			consecutive_failures = excluded.consecutive_failures,
			consecutive_successes = excluded.consecutive_successes
	`
	if _, err := r.db.NamedExec(query, s); err != nil {
		return fmt.Errorf("failed to upsert monitor state: %w", err)
	}
	return nil
}

// CheckResultRepository provides database operations for check_results.
type CheckResultRepository struct {
	db *DB
}

// Insert records one probe attempt.
func (r *CheckResultRepository) Insert(c *CheckResult) error {
	query := `
		INSERT INTO check_results (monitor_id, checked_at, status, latency_ms,
			http_status, error, location, attempt)
		VALUES (:monitor_id, :checked_at, :status, :latency_ms, :http_status,
			:error, :location, :attempt)
	`
	result, err := r.db.NamedExec(query, c)
	if err != nil {
		return fmt.Errorf("failed to insert check result: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get check result id: %w", err)
	}
	c.ID = id
	return nil
}

// ListInWindow returns every check result for a monitor within [fromUnix, toUnix).
func (r *CheckResultRepository) ListInWindow(monitorID int64, fromUnix, toUnix int64) ([]*CheckResult, error) {
	var results []*CheckResult
	query := `
		SELECT * FROM check_results
		WHERE monitor_id = ? AND checked_at >= ? AND checked_at < ?
		ORDER BY checked_at
	`
	if err := r.db.Select(&results, query, monitorID, fromUnix, toUnix); err != nil {
		return nil, fmt.Errorf("failed to list check results: %w", err)
	}
	return results, nil
}

// Recent returns the last limit check results for a monitor, newest first,
// the shape the public status composer's heartbeat strip needs.
func (r *CheckResultRepository) Recent(monitorID int64, limit int) ([]*CheckResult, error) {
	var results []*CheckResult
	query := `
		SELECT * FROM check_results
		WHERE monitor_id = ?
		ORDER BY checked_at DESC
		LIMIT ?
	`
	if err := r.db.Select(&results, query, monitorID, limit); err != nil {
		return nil, fmt.Errorf("failed to list recent check results: %w", err)
	}
	return results, nil
}

// DeleteOlderThan purges check results older than the retention cutoff,
// returning the number of rows removed.
func (r *CheckResultRepository) DeleteOlderThan(cutoffUnix int64) (int64, error) {
	result, err := r.db.Exec("DELETE FROM check_results WHERE checked_at < ?", cutoffUnix)
	if err != nil {
		return 0, fmt.Errorf("failed to prune check results: %w", err)
	}
	return result.RowsAffected()
}

// OutageRepository provides database operations for outages.
type OutageRepository struct {
	db *DB
}

// Open returns the currently open outage for a monitor, if any.
func (r *OutageRepository) Open(monitorID int64) (*Outage, error) {
	var o Outage
	err := r.db.Get(&o, "SELECT * FROM outages WHERE monitor_id = ? AND ended_at IS NULL", monitorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open outage: %w", err)
	}
	return &o, nil
}

// Start opens a new outage. The partial unique index on outages(monitor_id)
// WHERE ended_at IS NULL rejects a second concurrent open outage for the
// same monitor with a conflict error.
func (r *OutageRepository) Start(o *Outage) error {
	result, err := r.db.Exec(
		"INSERT INTO outages (monitor_id, started_at, initial_error, last_error) VALUES (?, ?, ?, ?)",
		o.MonitorID, o.StartedAt, o.InitialError, o.LastError)
	if err != nil {
		return fmt.Errorf("outage: %w", ErrConflict)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get outage id: %w", err)
	}
	o.ID = id
	return nil
}

// UpdateLastError updates the running last-seen error on an open outage.
func (r *OutageRepository) UpdateLastError(outageID int64, lastError string) error {
	if _, err := r.db.Exec("UPDATE outages SET last_error = ? WHERE id = ?", lastError, outageID); err != nil {
		return fmt.Errorf("failed to update outage error: %w", err)
	}
	return nil
}

// End closes an open outage at endedAtUnix.
func (r *OutageRepository) End(outageID int64, endedAtUnix int64) error {
	if _, err := r.db.Exec("UPDATE outages SET ended_at = ? WHERE id = ?", endedAtUnix, outageID); err != nil {
		return fmt.Errorf("failed to end outage: %w", err)
	}
	return nil
}

// ListInWindow returns outages overlapping [fromUnix, toUnix) for a monitor.
func (r *OutageRepository) ListInWindow(monitorID int64, fromUnix, toUnix int64) ([]*Outage, error) {
	var outages []*Outage
	query := `
		SELECT * FROM outages
		WHERE monitor_id = ? AND started_at < ? AND (ended_at IS NULL OR ended_at > ?)
		ORDER BY started_at
	`
	if err := r.db.Select(&outages, query, monitorID, toUnix, fromUnix); err != nil {
		return nil, fmt.Errorf("failed to list outages: %w", err)
	}
	return outages, nil
}

// RollupRepository provides database operations for monitor_daily_rollups.
type RollupRepository struct {
	db *DB
}

// Upsert writes one day's aggregate bucket for a monitor.
func (r *RollupRepository) Upsert(roll *MonitorDailyRollup) error {
	query := `
		INSERT INTO monitor_daily_rollups (monitor_id, day_start_at, total_sec,
			downtime_sec, unknown_sec, uptime_sec)
		VALUES (:monitor_id, :day_start_at, :total_sec, :downtime_sec, :unknown_sec, :uptime_sec)
		ON CONFLICT (monitor_id, day_start_at) DO UPDATE SET
			total_sec = excluded.total_sec,
			downtime_sec = excluded.downtime_sec,
			unknown_sec = excluded.unknown_sec,
			uptime_sec = excluded.uptime_sec
	`
	if _, err := r.db.NamedExec(query, roll); err != nil {
		return fmt.Errorf("failed to upsert daily rollup: %w", err)
	}
	return nil
}

// ListRange returns the daily rollups for a monitor between two day-start
// unix timestamps, inclusive.
func (r *RollupRepository) ListRange(monitorID int64, fromDayStart, toDayStart int64) ([]*MonitorDailyRollup, error) {
	var rollups []*MonitorDailyRollup
	query := `
		SELECT * FROM monitor_daily_rollups
		WHERE monitor_id = ? AND day_start_at >= ? AND day_start_at <= ?
		ORDER BY day_start_at
	`
	if err := r.db.Select(&rollups, query, monitorID, fromDayStart, toDayStart); err != nil {
		return nil, fmt.Errorf("failed to list daily rollups: %w", err)
	}
	return rollups, nil
}

// MaintenanceRepository provides database operations for maintenance windows.
type MaintenanceRepository struct {
	db *DB
}

// Create inserts a maintenance window and its monitor links in one transaction.
func (r *MaintenanceRepository) Create(w *MaintenanceWindow, monitorIDs []int64) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin maintenance window tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO maintenance_windows (id, title, message, starts_at, ends_at) VALUES (?, ?, ?, ?, ?)",
		w.ID, w.Title, w.Message, w.StartsAt, w.EndsAt); err != nil {
		return fmt.Errorf("failed to create maintenance window: %w", err)
	}
	for _, monitorID := range monitorIDs {
		if _, err := tx.Exec(
			"INSERT INTO maintenance_window_monitors (maintenance_window_id, monitor_id) VALUES (?, ?)",
			w.ID, monitorID); err != nil {
			return fmt.Errorf("failed to link maintenance window monitor: %w", err)
		}
	}
	return tx.Commit()
}

// ActiveForMonitor returns maintenance windows covering monitorID whose
// [starts_at, ends_at) range contains atUnix.
func (r *MaintenanceRepository) ActiveForMonitor(monitorID int64, atUnix int64) ([]*MaintenanceWindow, error) {
	var windows []*MaintenanceWindow
	query := `
		SELECT w.* FROM maintenance_windows w
		JOIN maintenance_window_monitors link ON link.maintenance_window_id = w.id
		WHERE link.monitor_id = ? AND w.starts_at <= ? AND w.ends_at > ?
	`
	if err := r.db.Select(&windows, query, monitorID, atUnix, atUnix); err != nil {
		return nil, fmt.Errorf("failed to query active maintenance windows: %w", err)
	}
	return windows, nil
}

// StartingBetween returns windows whose starts_at falls in [fromUnix, toUnix),
// used to emit maintenance-start events once per tick.
func (r *MaintenanceRepository) StartingBetween(fromUnix, toUnix int64) ([]*MaintenanceWindow, error) {
	var windows []*MaintenanceWindow
	if err := r.db.Select(&windows,
		"SELECT * FROM maintenance_windows WHERE starts_at >= ? AND starts_at < ?", fromUnix, toUnix); err != nil {
		return nil, fmt.Errorf("failed to query starting maintenance windows: %w", err)
	}
	return windows, nil
}

// EndingBetween returns windows whose ends_at falls in [fromUnix, toUnix).
func (r *MaintenanceRepository) EndingBetween(fromUnix, toUnix int64) ([]*MaintenanceWindow, error) {
	var windows []*MaintenanceWindow
	if err := r.db.Select(&windows,
		"SELECT * FROM maintenance_windows WHERE ends_at >= ? AND ends_at < ?", fromUnix, toUnix); err != nil {
		return nil, fmt.Errorf("failed to query ending maintenance windows: %w", err)
	}
	return windows, nil
}

// ActiveAt returns every maintenance window whose range contains atUnix,
// regardless of which monitors it covers.
func (r *MaintenanceRepository) ActiveAt(atUnix int64) ([]*MaintenanceWindow, error) {
	var windows []*MaintenanceWindow
	if err := r.db.Select(&windows,
		"SELECT * FROM maintenance_windows WHERE starts_at <= ? AND ends_at > ? ORDER BY starts_at", atUnix, atUnix); err != nil {
		return nil, fmt.Errorf("failed to query active maintenance windows: %w", err)
	}
	return windows, nil
}

// UpcomingAfter returns windows starting after afterUnix, ascending,
// truncated to limit — the preview list the status composer attaches.
func (r *MaintenanceRepository) UpcomingAfter(afterUnix int64, limit int) ([]*MaintenanceWindow, error) {
	var windows []*MaintenanceWindow
	if err := r.db.Select(&windows,
		"SELECT * FROM maintenance_windows WHERE starts_at > ? ORDER BY starts_at ASC LIMIT ?", afterUnix, limit); err != nil {
		return nil, fmt.Errorf("failed to query upcoming maintenance windows: %w", err)
	}
	return windows, nil
}

// MonitorsFor returns the monitor ids linked to a maintenance window.
func (r *MaintenanceRepository) MonitorsFor(windowID string) ([]int64, error) {
	var ids []int64
	if err := r.db.Select(&ids,
		"SELECT monitor_id FROM maintenance_window_monitors WHERE maintenance_window_id = ?", windowID); err != nil {
		return nil, fmt.Errorf("failed to list maintenance window monitors: %w", err)
	}
	return ids, nil
}

// IncidentRepository provides database operations for incidents.
type IncidentRepository struct {
	db *DB
}

// Create inserts an incident, its monitor links, and its opening update.
func (r *IncidentRepository) Create(inc *Incident, monitorIDs []int64) error {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin incident tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO incidents (id, title, status, impact, message, started_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.Title, inc.Status, inc.Impact, inc.Message, inc.StartedAt, inc.ResolvedAt); err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	for _, monitorID := range monitorIDs {
		if _, err := tx.Exec(
			"INSERT INTO incident_monitors (incident_id, monitor_id) VALUES (?, ?)",
			inc.ID, monitorID); err != nil {
			return fmt.Errorf("failed to link incident monitor: %w", err)
		}
	}
	if _, err := tx.Exec(
		"INSERT INTO incident_updates (incident_id, status, message, created_at) VALUES (?, ?, ?, ?)",
		inc.ID, inc.Status, inc.Message, inc.StartedAt); err != nil {
		return fmt.Errorf("failed to record incident update: %w", err)
	}
	return tx.Commit()
}

// AppendUpdate records a new status entry on an incident's timeline,
// resolving it if newStatus is "resolved".
func (r *IncidentRepository) AppendUpdate(incidentID, newStatus string, message *string, atUnix int64) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin incident update tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO incident_updates (incident_id, status, message, created_at) VALUES (?, ?, ?, ?)",
		incidentID, newStatus, message, atUnix); err != nil {
		return fmt.Errorf("failed to insert incident update: %w", err)
	}

	if newStatus == "resolved" {
		if _, err := tx.Exec("UPDATE incidents SET status = ?, resolved_at = ? WHERE id = ?",
			newStatus, atUnix, incidentID); err != nil {
			return fmt.Errorf("failed to resolve incident: %w", err)
		}
	} else {
		if _, err := tx.Exec("UPDATE incidents SET status = ? WHERE id = ?", newStatus, incidentID); err != nil {
			return fmt.Errorf("failed to update incident status: %w", err)
		}
	}
	return tx.Commit()
}

// ListOpen returns every incident that has not been resolved.
func (r *IncidentRepository) ListOpen() ([]*Incident, error) {
	var incidents []*Incident
	if err := r.db.Select(&incidents, "SELECT * FROM incidents WHERE status != 'resolved' ORDER BY started_at DESC"); err != nil {
		return nil, fmt.Errorf("failed to list open incidents: %w", err)
	}
	return incidents, nil
}

// Updates returns the timeline for an incident, oldest first.
func (r *IncidentRepository) Updates(incidentID string) ([]*IncidentUpdate, error) {
	var updates []*IncidentUpdate
	if err := r.db.Select(&updates,
		"SELECT * FROM incident_updates WHERE incident_id = ? ORDER BY created_at", incidentID); err != nil {
		return nil, fmt.Errorf("failed to list incident updates: %w", err)
	}
	return updates, nil
}

// MonitorsFor returns the monitor ids an incident affects.
func (r *IncidentRepository) MonitorsFor(incidentID string) ([]int64, error) {
	var ids []int64
	if err := r.db.Select(&ids,
		"SELECT monitor_id FROM incident_monitors WHERE incident_id = ?", incidentID); err != nil {
		return nil, fmt.Errorf("failed to list incident monitors: %w", err)
	}
	return ids, nil
}

// ChannelRepository provides database operations for notification channels.
type ChannelRepository struct {
	db *DB
}

// Create inserts a notification channel, marshaling its config column.
func (r *ChannelRepository) Create(c *NotificationChannel) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	configJSON, err := c.MarshalConfig()
	if err != nil {
		return fmt.Errorf("failed to marshal channel config: %w", err)
	}
	if _, err := r.db.Exec(
		"INSERT INTO notification_channels (id, name, type, config, is_active) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.Name, c.Type, configJSON, c.IsActive); err != nil {
		return fmt.Errorf("failed to create notification channel: %w", err)
	}
	return nil
}

// ListActive returns every enabled notification channel.
func (r *ChannelRepository) ListActive() ([]*NotificationChannel, error) {
	rows, err := r.db.Query("SELECT id, name, type, config, is_active, created_at FROM notification_channels WHERE is_active = 1")
	if err != nil {
		return nil, fmt.Errorf("failed to list active channels: %w", err)
	}
	defer rows.Close()

	var channels []*NotificationChannel
	for rows.Next() {
		var c NotificationChannel
		var configJSON string
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &configJSON, &c.IsActive, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification channel: %w", err)
		}
		if err := c.UnmarshalConfig(configJSON); err != nil {
			return nil, fmt.Errorf("channel %s config: %w", c.ID, ErrParse)
		}
		channels = append(channels, &c)
	}
	return channels, rows.Err()
}

// DeliveryRepository provides database operations for notification deliveries.
type DeliveryRepository struct {
	db *DB
}

// AlreadyDelivered reports whether (channelID, eventKey) has already been
// recorded, the idempotency check the dispatcher runs before sending.
func (r *DeliveryRepository) AlreadyDelivered(channelID, eventKey string) (bool, error) {
	var count int
	err := r.db.Get(&count,
		"SELECT COUNT(*) FROM notification_deliveries WHERE channel_id = ? AND event_key = ? AND status = 'delivered'",
		channelID, eventKey)
	if err != nil {
		return false, fmt.Errorf("failed to check delivery idempotency: %w", err)
	}
	return count > 0, nil
}

// Record stores the outcome of a delivery attempt. A retry of an event
// already recorded as "failed" for this (channel_id, event_key) pair
// overwrites that row rather than colliding with it, so the final
// outcome — not the first one — always wins.
func (r *DeliveryRepository) Record(d *NotificationDelivery) error {
	_, err := r.db.Exec(
		`INSERT INTO notification_deliveries (channel_id, event_key, status, http_status, error)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (channel_id, event_key) DO UPDATE SET
			status = excluded.status,
			http_status = excluded.http_status,
			error = excluded.error`,
		d.ChannelID, d.EventKey, d.Status, d.HTTPStatus, d.Error)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// LeaseRepository provides database operations for the leases table.
type LeaseRepository struct {
	db *DB
}

// TryAcquire attempts to take ownership of name until expiresAtUnix,
// succeeding only if no lease row exists or the existing one has expired.
func (r *LeaseRepository) TryAcquire(name string, nowUnix, expiresAtUnix int64) (bool, error) {
	result, err := r.db.Exec(`
		INSERT INTO leases (name, expires_at) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET expires_at = excluded.expires_at
		WHERE leases.expires_at < ?`,
		name, expiresAtUnix, nowUnix)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read lease acquisition result: %w", err)
	}
	return rows > 0, nil
}

// SettingsRepository provides database operations for the settings table.
type SettingsRepository struct {
	db *DB
}

// Get returns the value for key.
func (r *SettingsRepository) Get(key string) (string, error) {
	var value string
	err := r.db.Get(&value, "SELECT value FROM settings WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// Set writes a setting value, overwriting any existing one.
func (r *SettingsRepository) Set(key, value string) error {
	if _, err := r.db.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value",
		key, value); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// SeedIfAbsent writes value only if key does not already exist.
func (r *SettingsRepository) SeedIfAbsent(key, value string) error {
	if _, err := r.db.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING",
		key, value); err != nil {
		return fmt.Errorf("failed to seed setting %s: %w", key, err)
	}
	return nil
}

// SnapshotRepository provides database operations for the cached public snapshot.
type SnapshotRepository struct {
	db *DB
}

const publicSnapshotKey = "public_status"

// Get returns the most recently stored public snapshot payload.
func (r *SnapshotRepository) Get() (*PublicSnapshot, error) {
	var s PublicSnapshot
	err := r.db.Get(&s, "SELECT * FROM snapshots WHERE key = ?", publicSnapshotKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &s, nil
}

// Put overwrites the cached public snapshot row.
func (r *SnapshotRepository) Put(value string, generatedAtUnix int64) error {
	_, err := r.db.Exec(`
		INSERT INTO snapshots (key, value, generated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, generated_at = excluded.generated_at`,
		publicSnapshotKey, value, generatedAtUnix)
	if err != nil {
		return fmt.Errorf("failed to put snapshot: %w", err)
	}
	return nil
}
