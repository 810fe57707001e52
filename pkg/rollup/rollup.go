// Package rollup aggregates a day's check results into a single
// MonitorDailyRollup bucket per monitor and prunes data past its
// retention window.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lastwatch/uptime-core/pkg/lease"
	"github.com/lastwatch/uptime-core/pkg/store"
)

const leaseName = "rollup:daily"
const leaseSeconds = 600

// Job runs the daily rollup-and-retention cycle under its own lease.
type Job struct {
	db                        *store.DB
	monitors                  *store.MonitorRepository
	checks                    *store.CheckResultRepository
	rollups                   *store.RollupRepository
	outages                   *store.OutageRepository
	leases                    *store.LeaseRepository
	settings                  *store.SettingsRepository
	retentionCheckResultsDays int
}

// New builds a Job wired to the store.
func New(db *store.DB, defaultRetentionDays int) *Job {
	return &Job{
		db:                        db,
		monitors:                  db.MonitorRepository(),
		checks:                    db.CheckResultRepository(),
		rollups:                   db.RollupRepository(),
		outages:                   db.OutageRepository(),
		leases:                    db.LeaseRepository(),
		settings:                  db.SettingsRepository(),
		retentionCheckResultsDays: defaultRetentionDays,
	}
}

// Summary reports what one Run call did.
type Summary struct {
	Skipped        bool
	MonitorsRolled int
	ChecksPruned   int64
	OutagesPruned  int64
}

// Run aggregates the previous UTC day's check results for every monitor,
// prunes check results and resolved outages past retention, and does so
// under the rollup:daily lease.
func (j *Job) Run(ctx context.Context, now time.Time) (Summary, error) {
	if err := lease.Acquire(j.leases, leaseName, now, leaseSeconds); err != nil {
		if errors.Is(err, lease.ErrNotAcquired) {
			return Summary{Skipped: true}, nil
		}
		return Summary{}, fmt.Errorf("failed to acquire rollup lease: %w", err)
	}

	dayStart, dayEnd := previousUTCDay(now)

	monitors, err := j.monitors.ListActive()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list monitors for rollup: %w", err)
	}

	summary := Summary{}
	for _, m := range monitors {
		roll, err := aggregateDay(j.checks, m.ID, dayStart, dayEnd)
		if err != nil {
			return summary, fmt.Errorf("failed to aggregate monitor %d: %w", m.ID, err)
		}
		if err := j.rollups.Upsert(roll); err != nil {
			return summary, fmt.Errorf("failed to upsert rollup for monitor %d: %w", m.ID, err)
		}
		summary.MonitorsRolled++
	}

	retentionDays := j.retentionCheckResultsDays
	if stored, err := j.settings.Get("retention_check_results_days"); err == nil {
		if n, convErr := parseIntOrDefault(stored, retentionDays); convErr == nil {
			retentionDays = n
		}
	}
	checkCutoff := now.Unix() - int64(retentionDays)*86400
	pruned, err := j.checks.DeleteOlderThan(checkCutoff)
	if err != nil {
		return summary, fmt.Errorf("failed to prune check results: %w", err)
	}
	summary.ChecksPruned = pruned

	outageCutoff := now.Add(-365 * 24 * time.Hour).Unix()
	outagesPruned, err := j.pruneResolvedOutages(outageCutoff)
	if err != nil {
		return summary, fmt.Errorf("failed to prune resolved outages: %w", err)
	}
	summary.OutagesPruned = outagesPruned

	return summary, nil
}

// aggregateDay buckets the seconds between consecutive check results into
// downtime/unknown/uptime, clamped to [dayStart, dayEnd), per the status
// of the earlier result in each adjacent pair.
func aggregateDay(checks *store.CheckResultRepository, monitorID int64, dayStart, dayEnd int64) (*store.MonitorDailyRollup, error) {
	results, err := checks.ListInWindow(monitorID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	roll := &store.MonitorDailyRollup{MonitorID: monitorID, DayStartAt: dayStart}
	for i := 0; i < len(results); i++ {
		spanStart := results[i].CheckedAt
		spanEnd := dayEnd
		if i+1 < len(results) {
			spanEnd = results[i+1].CheckedAt
		}
		if spanStart < dayStart {
			spanStart = dayStart
		}
		if spanEnd > dayEnd {
			spanEnd = dayEnd
		}
		if spanEnd <= spanStart {
			continue
		}
		duration := spanEnd - spanStart
		switch results[i].Status {
		case "down":
			roll.DowntimeSec += duration
		case "unknown", "maintenance":
			roll.UnknownSec += duration
		case "up":
			roll.UptimeSec += duration
		}
	}
	roll.TotalSec = roll.DowntimeSec + roll.UnknownSec + roll.UptimeSec
	return roll, nil
}

func (j *Job) pruneResolvedOutages(cutoffUnix int64) (int64, error) {
	result, err := j.db.Exec("DELETE FROM outages WHERE ended_at IS NOT NULL AND ended_at < ?", cutoffUnix)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// previousUTCDay returns the [start, end) unix range of the UTC day
// preceding now's calendar day.
func previousUTCDay(now time.Time) (int64, int64) {
	nowUTC := now.UTC()
	todayStart := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), 0, 0, 0, 0, time.UTC)
	yesterdayStart := todayStart.AddDate(0, 0, -1)
	return yesterdayStart.Unix(), todayStart.Unix()
}

func parseIntOrDefault(s string, fallback int) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return fallback, err
	}
	return n, nil
}
