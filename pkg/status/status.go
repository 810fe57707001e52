// Package status composes the public status page payload: per-monitor
// effective status, heartbeats, 30-day uptime, the overall banner, active
// incidents, and maintenance windows, then caches it wholesale.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lastwatch/uptime-core/pkg/maintenance"
	"github.com/lastwatch/uptime-core/pkg/store"
)

const (
	heartbeatCount        = 60
	rollupWindowDays      = 30
	staleFactor           = 3
	upcomingWindowPreview = 5
)

// Heartbeat is one bar on the monitor's recent-history strip.
type Heartbeat struct {
	CheckedAt int64   `json:"checked_at"`
	Status    string  `json:"status"`
	LatencyMS *int64  `json:"latency_ms"`
	Error     *string `json:"error"`
}

// Uptime30d summarizes the last 30 daily rollups.
type Uptime30d struct {
	TotalSec    int64    `json:"total_sec"`
	DowntimeSec int64    `json:"downtime_sec"`
	UnknownSec  int64    `json:"unknown_sec"`
	UptimeSec   int64    `json:"uptime_sec"`
	UptimePct   *float64 `json:"uptime_pct"`
}

// MonitorStatus is one monitor's entry in the composed response.
type MonitorStatus struct {
	MonitorID         int64       `json:"monitor_id"`
	Name              string      `json:"name"`
	Type              string      `json:"type"`
	EffectiveStatus   string      `json:"effective_status"`
	IsStale           bool        `json:"is_stale"`
	Heartbeats        []Heartbeat `json:"heartbeats"`
	Uptime30d         Uptime30d   `json:"uptime_30d"`
	UptimeRatingLevel int         `json:"uptime_rating_level"`
}

// Banner is the top-of-page overall status.
type Banner struct {
	Source string `json:"source"` // incident, maintenance, monitors
	Status string `json:"status"` // operational, partial_outage, major_outage, maintenance, unknown
}

// IncidentView is an active incident with its timeline and linked monitors.
type IncidentView struct {
	ID         string                `json:"id"`
	Title      string                `json:"title"`
	Status     string                `json:"status"`
	Impact     string                `json:"impact"`
	Updates    []*store.IncidentUpdate `json:"updates"`
	MonitorIDs []int64               `json:"monitor_ids"`
}

// MaintenanceView is a window with its linked monitors.
type MaintenanceView struct {
	Window     *store.MaintenanceWindow `json:"window"`
	MonitorIDs []int64                  `json:"monitor_ids"`
}

// Response is the full public status payload.
type Response struct {
	Monitors            []MonitorStatus   `json:"monitors"`
	StatusCounts        map[string]int    `json:"status_counts"`
	Banner              Banner            `json:"banner"`
	Incidents           []IncidentView    `json:"incidents"`
	MaintenanceActive   []MaintenanceView `json:"maintenance_active"`
	MaintenanceUpcoming []MaintenanceView `json:"maintenance_upcoming"`
	GeneratedAt         int64             `json:"generated_at"`
}

// Composer builds and caches the public status snapshot.
type Composer struct {
	monitors  *store.MonitorRepository
	states    *store.MonitorStateRepository
	checks    *store.CheckResultRepository
	rollups   *store.RollupRepository
	incidents *store.IncidentRepository
	maintRepo *store.MaintenanceRepository
	settings  *store.SettingsRepository
	snapshots *store.SnapshotRepository
	maint     *maintenance.Lookup
}

// New builds a Composer backed by the store.
func New(db *store.DB, maint *maintenance.Lookup) *Composer {
	return &Composer{
		monitors:  db.MonitorRepository(),
		states:    db.MonitorStateRepository(),
		checks:    db.CheckResultRepository(),
		rollups:   db.RollupRepository(),
		incidents: db.IncidentRepository(),
		maintRepo: db.MaintenanceRepository(),
		settings:  db.SettingsRepository(),
		snapshots: db.SnapshotRepository(),
		maint:     maint,
	}
}

// Compose builds the full status response as of now. Reads are
// independent and the result is a best-effort point-in-time view.
func (c *Composer) Compose(now time.Time) (*Response, error) {
	monitors, err := c.monitors.ListActive()
	if err != nil {
		return nil, fmt.Errorf("failed to list monitors: %w", err)
	}

	ratingLevel := c.intSetting("uptime_rating_level", 3)

	statuses := make([]MonitorStatus, 0, len(monitors))
	counts := map[string]int{}
	for _, m := range monitors {
		ms, err := c.composeMonitor(m, now, ratingLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to compose monitor %d: %w", m.ID, err)
		}
		statuses = append(statuses, ms)
		counts[ms.EffectiveStatus]++
	}

	openIncidents, err := c.incidents.ListOpen()
	if err != nil {
		return nil, fmt.Errorf("failed to list open incidents: %w", err)
	}
	incidentViews := make([]IncidentView, 0, len(openIncidents))
	for _, inc := range openIncidents {
		updates, err := c.incidents.Updates(inc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list updates for incident %s: %w", inc.ID, err)
		}
		monitorIDs, err := c.incidents.MonitorsFor(inc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list monitors for incident %s: %w", inc.ID, err)
		}
		incidentViews = append(incidentViews, IncidentView{
			ID: inc.ID, Title: inc.Title, Status: inc.Status, Impact: inc.Impact,
			Updates: updates, MonitorIDs: monitorIDs,
		})
	}

	activeWindows, err := c.maintRepo.ActiveAt(now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list active maintenance windows: %w", err)
	}
	activeViews, err := c.withMonitorLinks(activeWindows)
	if err != nil {
		return nil, err
	}

	upcomingWindows, err := c.maintRepo.UpcomingAfter(now.Unix(), upcomingWindowPreview)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming maintenance windows: %w", err)
	}
	upcomingViews, err := c.withMonitorLinks(upcomingWindows)
	if err != nil {
		return nil, err
	}

	banner := computeBanner(openIncidents, activeWindows, statuses)

	return &Response{
		Monitors:            statuses,
		StatusCounts:        counts,
		Banner:              banner,
		Incidents:           incidentViews,
		MaintenanceActive:   activeViews,
		MaintenanceUpcoming: upcomingViews,
		GeneratedAt:         now.Unix(),
	}, nil
}

// Refresh recomposes the snapshot and overwrites the cached row. It
// implements pkg/scheduler's SnapshotRefresher interface.
func (c *Composer) Refresh(_ context.Context, now time.Time) error {
	resp, err := c.Compose(now)
	if err != nil {
		return fmt.Errorf("failed to compose status snapshot: %w", err)
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal status snapshot: %w", err)
	}
	if err := c.snapshots.Put(string(data), now.Unix()); err != nil {
		return fmt.Errorf("failed to cache status snapshot: %w", err)
	}
	return nil
}

// Cached returns the last cached snapshot payload, decoded, without
// recomposing from the store.
func (c *Composer) Cached() (*Response, error) {
	snap, err := c.snapshots.Get()
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal([]byte(snap.Value), &resp); err != nil {
		return nil, fmt.Errorf("failed to decode cached snapshot: %w", err)
	}
	return &resp, nil
}

func (c *Composer) composeMonitor(m *store.Monitor, now time.Time, ratingLevel int) (MonitorStatus, error) {
	state, err := c.states.Get(m.ID)
	if err != nil {
		return MonitorStatus{}, err
	}

	effective, stale := effectiveStatus(state, m, now, c.maint)

	recent, err := c.checks.Recent(m.ID, heartbeatCount)
	if err != nil {
		return MonitorStatus{}, err
	}
	heartbeats := make([]Heartbeat, 0, len(recent))
	for _, r := range recent {
		heartbeats = append(heartbeats, Heartbeat{CheckedAt: r.CheckedAt, Status: r.Status, LatencyMS: r.LatencyMS, Error: r.Error})
	}

	uptime, err := c.uptime30d(m.ID, now)
	if err != nil {
		return MonitorStatus{}, err
	}

	return MonitorStatus{
		MonitorID:         m.ID,
		Name:              m.Name,
		Type:              m.Type,
		EffectiveStatus:   effective,
		IsStale:           stale,
		Heartbeats:        heartbeats,
		Uptime30d:         uptime,
		UptimeRatingLevel: ratingLevel,
	}, nil
}

// effectiveStatus applies the maintenance overlay and staleness mapping
// to a monitor's raw state.
func effectiveStatus(state *store.MonitorState, m *store.Monitor, now time.Time, maint *maintenance.Lookup) (string, bool) {
	if state.Status != "paused" {
		if suppressed, err := maint.Suppressed(m.ID, now); err == nil && suppressed {
			return "maintenance", false
		}
	}

	stale := false
	if (state.Status == "up" || state.Status == "down") && state.LastCheckedAt != nil {
		if now.Unix()-*state.LastCheckedAt > int64(staleFactor*m.IntervalSec) {
			stale = true
		}
	}
	if stale {
		return "unknown", true
	}
	return state.Status, false
}

func (c *Composer) uptime30d(monitorID int64, now time.Time) (Uptime30d, error) {
	nowUTC := now.UTC()
	todayStart := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), 0, 0, 0, 0, time.UTC)
	from := todayStart.AddDate(0, 0, -rollupWindowDays).Unix()
	to := todayStart.AddDate(0, 0, -1).Unix()

	rollups, err := c.rollups.ListRange(monitorID, from, to)
	if err != nil {
		return Uptime30d{}, err
	}

	var u Uptime30d
	for _, r := range rollups {
		u.TotalSec += r.TotalSec
		u.DowntimeSec += r.DowntimeSec
		u.UnknownSec += r.UnknownSec
		u.UptimeSec += r.UptimeSec
	}
	denominator := u.TotalSec - u.UnknownSec
	if denominator <= 0 {
		denominator = 1
	}
	if len(rollups) > 0 {
		pct := float64(u.UptimeSec) / float64(denominator) * 100
		u.UptimePct = &pct
	}
	return u, nil
}

func (c *Composer) withMonitorLinks(windows []*store.MaintenanceWindow) ([]MaintenanceView, error) {
	views := make([]MaintenanceView, 0, len(windows))
	for _, w := range windows {
		ids, err := c.maintRepo.MonitorsFor(w.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list monitors for window %s: %w", w.ID, err)
		}
		views = append(views, MaintenanceView{Window: w, MonitorIDs: ids})
	}
	return views, nil
}

func computeBanner(openIncidents []*store.Incident, activeWindows []*store.MaintenanceWindow, statuses []MonitorStatus) Banner {
	if len(openIncidents) > 0 {
		worst := "none"
		rank := map[string]int{"none": 0, "minor": 1, "major": 2, "critical": 3}
		for _, inc := range openIncidents {
			if rank[inc.Impact] > rank[worst] {
				worst = inc.Impact
			}
		}
		switch worst {
		case "critical", "major":
			return Banner{Source: "incident", Status: "major_outage"}
		case "minor":
			return Banner{Source: "incident", Status: "partial_outage"}
		default:
			return Banner{Source: "incident", Status: "operational"}
		}
	}

	if len(activeWindows) > 0 {
		return Banner{Source: "maintenance", Status: "maintenance"}
	}

	total := len(statuses)
	down := 0
	allUnknown := total > 0
	for _, s := range statuses {
		if s.EffectiveStatus == "down" {
			down++
		}
		if s.EffectiveStatus != "unknown" {
			allUnknown = false
		}
	}
	denom := total
	if denom < 1 {
		denom = 1
	}
	ratio := float64(down) / float64(denom)

	switch {
	case ratio >= 0.5:
		return Banner{Source: "monitors", Status: "major_outage"}
	case down > 0:
		return Banner{Source: "monitors", Status: "partial_outage"}
	case allUnknown:
		return Banner{Source: "monitors", Status: "unknown"}
	default:
		return Banner{Source: "monitors", Status: "operational"}
	}
}

func (c *Composer) intSetting(key string, fallback int) int {
	value, err := c.settings.Get(key)
	if err != nil {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
