package store

import (
	"encoding/json"
	"time"
)

// Monitor is an admin-configured probe target.
type Monitor struct {
	ID                       int64     `db:"id" json:"id"`
	Name                     string    `db:"name" json:"name"`
	Type                     string    `db:"type" json:"type"` // http, tcp
	Target                   string    `db:"target" json:"target"`
	IntervalSec              int       `db:"interval_sec" json:"interval_sec"`
	TimeoutMS                int       `db:"timeout_ms" json:"timeout_ms"`
	HTTPMethod               string    `db:"http_method" json:"http_method"`
	HTTPHeaders              []string  `db:"-" json:"http_headers"`
	HTTPBody                 *string   `db:"http_body" json:"http_body"`
	ExpectedStatus           []int     `db:"-" json:"expected_status"`
	ResponseKeyword          *string   `db:"response_keyword" json:"response_keyword"`
	ResponseForbiddenKeyword *string   `db:"response_forbidden_keyword" json:"response_forbidden_keyword"`
	IsActive                 bool      `db:"is_active" json:"is_active"`
	CreatedAt                time.Time `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time `db:"updated_at" json:"updated_at"`
}

// MarshalHTTPHeaders converts the header list to its stored JSON form.
func (m *Monitor) MarshalHTTPHeaders() (string, error) {
	if m.HTTPHeaders == nil {
		return "[]", nil
	}
	data, err := json.Marshal(m.HTTPHeaders)
	return string(data), err
}

// UnmarshalHTTPHeaders decodes the stored JSON header list.
func (m *Monitor) UnmarshalHTTPHeaders(data string) error {
	if data == "" {
		m.HTTPHeaders = []string{}
		return nil
	}
	return json.Unmarshal([]byte(data), &m.HTTPHeaders)
}

// MarshalExpectedStatus converts the accepted-status set to its stored JSON form.
func (m *Monitor) MarshalExpectedStatus() (string, error) {
	if m.ExpectedStatus == nil {
		return "[]", nil
	}
	data, err := json.Marshal(m.ExpectedStatus)
	return string(data), err
}

// UnmarshalExpectedStatus decodes the stored JSON accepted-status set.
func (m *Monitor) UnmarshalExpectedStatus(data string) error {
	if data == "" {
		m.ExpectedStatus = []int{}
		return nil
	}
	return json.Unmarshal([]byte(data), &m.ExpectedStatus)
}

// MonitorState is the current live status row for a monitor, updated
// in-place on every tick.
type MonitorState struct {
	MonitorID            int64      `db:"monitor_id" json:"monitor_id"`
	Status               string     `db:"status" json:"status"` // up, down, unknown, paused
	LastCheckedAt        *int64     `db:"last_checked_at" json:"last_checked_at"`
	LastChangedAt        *int64     `db:"last_changed_at" json:"last_changed_at"`
	LastLatencyMS        *int64     `db:"last_latency_ms" json:"last_latency_ms"`
	LastError            *string    `db:"last_error" json:"last_error"`
	ConsecutiveFailures  int        `db:"consecutive_failures" json:"consecutive_failures"`
	ConsecutiveSuccesses int        `db:"consecutive_successes" json:"consecutive_successes"`
}

// CheckResult is one recorded probe attempt.
type CheckResult struct {
	ID         int64   `db:"id" json:"id"`
	MonitorID  int64   `db:"monitor_id" json:"monitor_id"`
	CheckedAt  int64   `db:"checked_at" json:"checked_at"`
	Status     string  `db:"status" json:"status"` // up, down, unknown
	LatencyMS  *int64  `db:"latency_ms" json:"latency_ms"`
	HTTPStatus *int    `db:"http_status" json:"http_status"`
	Error      *string `db:"error" json:"error"`
	Location   *string `db:"location" json:"location"`
	Attempt    int     `db:"attempt" json:"attempt"`
}

// Outage is a single down interval for a monitor. At most one row with
// EndedAt == nil may exist per monitor_id (enforced by a partial unique
// index in the schema).
type Outage struct {
	ID           int64   `db:"id" json:"id"`
	MonitorID    int64   `db:"monitor_id" json:"monitor_id"`
	StartedAt    int64   `db:"started_at" json:"started_at"`
	EndedAt      *int64  `db:"ended_at" json:"ended_at"`
	InitialError *string `db:"initial_error" json:"initial_error"`
	LastError    *string `db:"last_error" json:"last_error"`
}

// MonitorDailyRollup is the aggregated per-day uptime bucket for a monitor.
type MonitorDailyRollup struct {
	MonitorID  int64 `db:"monitor_id" json:"monitor_id"`
	DayStartAt int64 `db:"day_start_at" json:"day_start_at"`
	TotalSec   int64 `db:"total_sec" json:"total_sec"`
	DowntimeSec int64 `db:"downtime_sec" json:"downtime_sec"`
	UnknownSec int64 `db:"unknown_sec" json:"unknown_sec"`
	UptimeSec  int64 `db:"uptime_sec" json:"uptime_sec"`
}

// MaintenanceWindow covers its linked monitors over [StartsAt, EndsAt):
// their monitor.up/monitor.down webhook events are suppressed and the status
// page shows them as "maintenance". State transitions still happen.
type MaintenanceWindow struct {
	ID        string    `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	Message   *string   `db:"message" json:"message"`
	StartsAt  int64     `db:"starts_at" json:"starts_at"`
	EndsAt    int64     `db:"ends_at" json:"ends_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MaintenanceWindowMonitor links a maintenance window to a monitor it covers.
type MaintenanceWindowMonitor struct {
	MaintenanceWindowID string `db:"maintenance_window_id" json:"maintenance_window_id"`
	MonitorID            int64  `db:"monitor_id" json:"monitor_id"`
}

// Incident is an admin-authored status-page incident.
type Incident struct {
	ID         string    `db:"id" json:"id"`
	Title      string    `db:"title" json:"title"`
	Status     string    `db:"status" json:"status"` // investigating, identified, monitoring, resolved
	Impact     string    `db:"impact" json:"impact"` // none, minor, major, critical
	Message    *string   `db:"message" json:"message"`
	StartedAt  int64     `db:"started_at" json:"started_at"`
	ResolvedAt *int64    `db:"resolved_at" json:"resolved_at"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// IncidentMonitor links an incident to an affected monitor.
type IncidentMonitor struct {
	IncidentID string `db:"incident_id" json:"incident_id"`
	MonitorID  int64  `db:"monitor_id" json:"monitor_id"`
}

// IncidentUpdate is a timestamped status entry appended to an incident's timeline.
type IncidentUpdate struct {
	ID         int64  `db:"id" json:"id"`
	IncidentID string `db:"incident_id" json:"incident_id"`
	Status     string `db:"status" json:"status"`
	Message    *string `db:"message" json:"message"`
	CreatedAt  int64  `db:"created_at" json:"created_at"`
}

// NotificationChannel is an outbound webhook destination.
type NotificationChannel struct {
	ID            string `db:"id" json:"id"`
	Name          string `db:"name" json:"name"`
	Type          string `db:"type" json:"type"` // webhook
	Config        ChannelConfig `db:"-" json:"config"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// ChannelConfig is the decoded form of NotificationChannel.config.
type ChannelConfig struct {
	URL                string            `json:"url"`
	Method             string            `json:"method"`
	Headers            map[string]string `json:"headers"`
	MessageTemplate    string            `json:"message_template"`
	PayloadTemplate    string            `json:"payload_template"`
	PayloadType        string            `json:"payload_type"` // json (default), param, x-www-form-urlencoded
	SigningSecretRef   string            `json:"signing_secret_ref"`
	Events             []string          `json:"events"`
	TimeoutMS          int               `json:"timeout_ms"`
}

// MarshalConfig converts Config to its stored JSON form.
func (n *NotificationChannel) MarshalConfig() (string, error) {
	data, err := json.Marshal(n.Config)
	return string(data), err
}

// UnmarshalConfig decodes the stored JSON channel configuration.
func (n *NotificationChannel) UnmarshalConfig(data string) error {
	if data == "" {
		n.Config = ChannelConfig{}
		return nil
	}
	return json.Unmarshal([]byte(data), &n.Config)
}

// NotificationDelivery records one webhook delivery attempt outcome,
// keyed for idempotency by (ChannelID, EventKey).
type NotificationDelivery struct {
	ID         int64     `db:"id" json:"id"`
	ChannelID  string    `db:"channel_id" json:"channel_id"`
	EventKey   string    `db:"event_key" json:"event_key"`
	Status     string    `db:"status" json:"status"` // delivered, failed
	HTTPStatus *int      `db:"http_status" json:"http_status"`
	Error      *string   `db:"error" json:"error"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Lease is a named, time-bounded at-most-one-writer lock row.
type Lease struct {
	Name      string `db:"name" json:"name"`
	ExpiresAt int64  `db:"expires_at" json:"expires_at"`
}

// Setting is one key/value row in the process-wide settings table.
type Setting struct {
	Key   string `db:"key" json:"key"`
	Value string `db:"value" json:"value"`
}

// PublicSnapshot is the cached, pre-rendered public status payload.
type PublicSnapshot struct {
	Key         string `db:"key" json:"key"`
	Value       string `db:"value" json:"value"`
	GeneratedAt int64  `db:"generated_at" json:"generated_at"`
}
