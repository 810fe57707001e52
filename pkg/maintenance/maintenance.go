// Package maintenance answers the suppression and range-emission queries
// the scheduler needs each tick: which monitors are currently under an
// active maintenance window, and which windows are starting or ending in
// the tick's time slice.
package maintenance

import (
	"fmt"
	"time"

	"github.com/lastwatch/uptime-core/pkg/store"
)

// Lookup wraps the maintenance repository with the two query shapes the
// scheduler and status composer need.
type Lookup struct {
	repo *store.MaintenanceRepository
}

// New builds a Lookup backed by the store's maintenance repository.
func New(repo *store.MaintenanceRepository) *Lookup {
	return &Lookup{repo: repo}
}

// Suppressed reports whether monitorID falls under an active maintenance
// window at t.
func (l *Lookup) Suppressed(monitorID int64, t time.Time) (bool, error) {
	windows, err := l.repo.ActiveForMonitor(monitorID, t.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to check maintenance suppression: %w", err)
	}
	return len(windows) > 0, nil
}

// ActiveWindows returns every maintenance window covering monitorID at t,
// used by the status composer's effective-status overlay.
func (l *Lookup) ActiveWindows(monitorID int64, t time.Time) ([]*store.MaintenanceWindow, error) {
	windows, err := l.repo.ActiveForMonitor(monitorID, t.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list active maintenance windows: %w", err)
	}
	return windows, nil
}

// Starting returns windows whose starts_at falls within [from, to), the
// set the scheduler emits maintenance.started events for in this tick.
func (l *Lookup) Starting(from, to time.Time) ([]*store.MaintenanceWindow, error) {
	windows, err := l.repo.StartingBetween(from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list starting maintenance windows: %w", err)
	}
	return windows, nil
}

// Ending returns windows whose ends_at falls within [from, to), the set
// the scheduler emits maintenance.ended events for in this tick.
func (l *Lookup) Ending(from, to time.Time) ([]*store.MaintenanceWindow, error) {
	windows, err := l.repo.EndingBetween(from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list ending maintenance windows: %w", err)
	}
	return windows, nil
}

// MonitorsFor returns the monitor ids a window covers.
func (l *Lookup) MonitorsFor(windowID string) ([]int64, error) {
	ids, err := l.repo.MonitorsFor(windowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list maintenance window monitors: %w", err)
	}
	return ids, nil
}
