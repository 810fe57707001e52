// Package scheduler orchestrates one tick of the probing and
// state-propagation core: lease acquisition, due-monitor selection,
// bounded-concurrency probing, state transition, atomic persistence, and
// webhook enqueueing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lastwatch/uptime-core/pkg/dispatch"
	"github.com/lastwatch/uptime-core/pkg/lease"
	"github.com/lastwatch/uptime-core/pkg/maintenance"
	"github.com/lastwatch/uptime-core/pkg/probe"
	"github.com/lastwatch/uptime-core/pkg/stateengine"
	"github.com/lastwatch/uptime-core/pkg/store"
)

const tickLeaseName = "scheduler:tick"

// SnapshotRefresher recomposes and caches the public status payload. The
// scheduler calls it best-effort after every tick's writes have committed.
type SnapshotRefresher interface {
	Refresh(ctx context.Context, now time.Time) error
}

// Scheduler runs one minute-cadence tick over every due monitor.
type Scheduler struct {
	db               *store.DB
	monitors         *store.MonitorRepository
	states           *store.MonitorStateRepository
	leases           *store.LeaseRepository
	settings         *store.SettingsRepository
	maint            *maintenance.Lookup
	dispatcher       *dispatch.Dispatcher
	snapshot         SnapshotRefresher
	concurrency      int
	tickLeaseSeconds int64
}

// New builds a Scheduler wired to the store, maintenance lookups, webhook
// dispatcher, and (optional) snapshot refresher.
func New(db *store.DB, maint *maintenance.Lookup, dispatcher *dispatch.Dispatcher, snapshot SnapshotRefresher, concurrency int, tickLeaseSeconds int64) *Scheduler {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Scheduler{
		db:               db,
		monitors:         db.MonitorRepository(),
		states:           db.MonitorStateRepository(),
		leases:           db.LeaseRepository(),
		settings:         db.SettingsRepository(),
		maint:            maint,
		dispatcher:       dispatcher,
		snapshot:         snapshot,
		concurrency:      concurrency,
		tickLeaseSeconds: tickLeaseSeconds,
	}
}

// Summary reports what one Tick call did, for logging and tests.
type Summary struct {
	Skipped bool
	Probed  int
	Failed  int
}

// Tick acquires the scheduler lease and, if successful, probes every due
// monitor, persists each atomically, enqueues webhook events, emits
// maintenance boundary events, and refreshes the public snapshot.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (Summary, error) {
	if err := lease.Acquire(s.leases, tickLeaseName, now, s.tickLeaseSeconds); err != nil {
		if errors.Is(err, lease.ErrNotAcquired) {
			return Summary{Skipped: true}, nil
		}
		return Summary{}, fmt.Errorf("failed to acquire tick lease: %w", err)
	}

	thresholds, err := s.loadThresholds()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load state thresholds: %w", err)
	}

	monitors, err := s.monitors.ListActive()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list active monitors: %w", err)
	}

	checkedAt := now.Unix()
	var due []*store.Monitor
	for _, m := range monitors {
		state, err := s.states.Get(m.ID)
		if err != nil {
			log.Printf("scheduler: failed to load state for monitor %d: %v", m.ID, err)
			continue
		}
		if isDue(m, state, checkedAt) {
			due = append(due, m)
		}
	}

	summary := Summary{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := semaphore.NewWeighted(int64(s.concurrency))

	for _, m := range due {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(m *store.Monitor) {
			defer wg.Done()
			defer sem.Release(1)

			if err := s.processMonitor(ctx, m, thresholds, checkedAt); err != nil {
				log.Printf("scheduler: monitor %d: %v", m.ID, err)
				mu.Lock()
				summary.Failed++
				mu.Unlock()
				return
			}
			mu.Lock()
			summary.Probed++
			mu.Unlock()
		}(m)
	}
	wg.Wait()

	s.emitMaintenanceBoundaryEvents(ctx, now)

	if s.snapshot != nil {
		if err := s.snapshot.Refresh(ctx, now); err != nil {
			log.Printf("scheduler: snapshot refresh failed: %v", err)
		}
	}

	return summary, nil
}

func isDue(m *store.Monitor, state *store.MonitorState, checkedAt int64) bool {
	if state.Status == "paused" {
		return false
	}
	if state.LastCheckedAt == nil {
		return true
	}
	return *state.LastCheckedAt <= checkedAt-int64(m.IntervalSec)
}

func (s *Scheduler) processMonitor(ctx context.Context, m *store.Monitor, th stateengine.Thresholds, checkedAt int64) error {
	state, err := s.states.Get(m.ID)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	outcome := runProbe(ctx, m)

	prev := &stateengine.Prev{
		Status:               state.Status,
		ConsecutiveFailures:  state.ConsecutiveFailures,
		ConsecutiveSuccesses: state.ConsecutiveSuccesses,
		LastChangedAt:        state.LastChangedAt,
		LastError:            state.LastError,
	}
	prevStatus := state.Status
	result := stateengine.Transition(prev, outcome, checkedAt, th)

	check := &store.CheckResult{
		MonitorID: m.ID,
		CheckedAt: checkedAt,
		Status:    outcome.Status,
		Attempt:   outcome.Attempts,
	}
	if outcome.LatencyMS > 0 {
		latency := outcome.LatencyMS
		check.LatencyMS = &latency
	}
	if outcome.HTTPStatus != 0 {
		httpStatus := outcome.HTTPStatus
		check.HTTPStatus = &httpStatus
	}
	if outcome.Error != "" {
		errCopy := outcome.Error
		check.Error = &errCopy
	}

	newState := &store.MonitorState{
		MonitorID:            m.ID,
		Status:                result.Status,
		LastCheckedAt:         &checkedAt,
		LastChangedAt:         result.LastChangedAt,
		ConsecutiveFailures:   result.ConsecutiveFailures,
		ConsecutiveSuccesses:  result.ConsecutiveSuccesses,
		LastError:             result.LastError,
	}
	if outcome.LatencyMS > 0 {
		latency := outcome.LatencyMS
		newState.LastLatencyMS = &latency
	}

	action := toStoreAction(result.OutageAction)
	if err := s.db.PersistTick(check, newState, action, result.LastError); err != nil {
		return fmt.Errorf("failed to persist tick batch: %w", err)
	}

	suppressed, err := s.maint.Suppressed(m.ID, time.Unix(checkedAt, 0))
	if err != nil {
		log.Printf("scheduler: failed to check maintenance suppression for monitor %d: %v", m.ID, err)
	}
	if !suppressed && s.dispatcher != nil {
		s.enqueueTransitionEvent(ctx, m, prevStatus, result, checkedAt)
	}

	return nil
}

func runProbe(ctx context.Context, m *store.Monitor) probe.CheckOutcome {
	switch m.Type {
	case "http":
		var body string
		if m.HTTPBody != nil {
			body = *m.HTTPBody
		}
		var keyword, forbidden string
		if m.ResponseKeyword != nil {
			keyword = *m.ResponseKeyword
		}
		if m.ResponseForbiddenKeyword != nil {
			forbidden = *m.ResponseForbiddenKeyword
		}
		return probe.ExecuteHTTP(ctx, probe.HTTPSpec{
			URL:                      m.Target,
			Method:                   m.HTTPMethod,
			Headers:                  m.HTTPHeaders,
			Body:                     body,
			TimeoutMS:                m.TimeoutMS,
			ExpectedStatus:           m.ExpectedStatus,
			ResponseKeyword:          keyword,
			ResponseForbiddenKeyword: forbidden,
		})
	case "tcp":
		return probe.ExecuteTCP(ctx, probe.TCPSpec{Target: m.Target, TimeoutMS: m.TimeoutMS})
	default:
		return probe.CheckOutcome{Status: probe.StatusUnknown, Error: fmt.Sprintf("%s: unknown monitor type %q", probe.KindInvalidConfig, m.Type)}
	}
}

func toStoreAction(a stateengine.OutageAction) store.OutageAction {
	switch a {
	case stateengine.OutageOpen:
		return store.OutageActionOpen
	case stateengine.OutageClose:
		return store.OutageActionClose
	case stateengine.OutageUpdate:
		return store.OutageActionUpdate
	default:
		return store.OutageActionNone
	}
}

func (s *Scheduler) enqueueTransitionEvent(ctx context.Context, m *store.Monitor, prevStatus string, result stateengine.Result, checkedAt int64) {
	var ev dispatch.Event
	switch {
	case stateengine.EmitsDownEvent(prevStatus, result):
		errMsg := ""
		if result.LastError != nil {
			errMsg = *result.LastError
		}
		ev = dispatch.Event{Type: dispatch.EventMonitorDown, MonitorID: m.ID, MonitorName: m.Name, Status: "down", Error: errMsg, Timestamp: checkedAt}
	case stateengine.EmitsUpEvent(prevStatus, result):
		ev = dispatch.Event{Type: dispatch.EventMonitorUp, MonitorID: m.ID, MonitorName: m.Name, Status: "up", Timestamp: checkedAt}
	default:
		return
	}
	go func() {
		if err := s.dispatcher.Dispatch(ctx, ev); err != nil {
			log.Printf("scheduler: dispatch failed for monitor %d: %v", m.ID, err)
		}
	}()
}

func (s *Scheduler) emitMaintenanceBoundaryEvents(ctx context.Context, now time.Time) {
	if s.dispatcher == nil {
		return
	}
	// 10-minute lookback: safety margin against a tick that runs late
	// or gets skipped, per spec's [now-600, now] window.
	from := now.Add(-600 * time.Second)
	// Starting/Ending take a half-open range; one second past now keeps a
	// boundary that falls exactly on now inside the window.
	to := now.Add(time.Second)

	starting, err := s.maint.Starting(from, to)
	if err != nil {
		log.Printf("scheduler: failed to list starting maintenance windows: %v", err)
	}
	for _, w := range starting {
		ev := dispatch.Event{Type: dispatch.EventMaintenanceStarted, WindowID: w.ID, Timestamp: w.StartsAt}
		if err := s.dispatcher.Dispatch(ctx, ev); err != nil {
			log.Printf("scheduler: failed to dispatch maintenance.started for %s: %v", w.ID, err)
		}
	}

	ending, err := s.maint.Ending(from, to)
	if err != nil {
		log.Printf("scheduler: failed to list ending maintenance windows: %v", err)
	}
	for _, w := range ending {
		ev := dispatch.Event{Type: dispatch.EventMaintenanceEnded, WindowID: w.ID, Timestamp: w.EndsAt}
		if err := s.dispatcher.Dispatch(ctx, ev); err != nil {
			log.Printf("scheduler: failed to dispatch maintenance.ended for %s: %v", w.ID, err)
		}
	}
}

func (s *Scheduler) loadThresholds() (stateengine.Thresholds, error) {
	failures, err := s.getIntSetting("state_failures_to_down_from_up", 1)
	if err != nil {
		return stateengine.Thresholds{}, err
	}
	successes, err := s.getIntSetting("state_successes_to_up_from_down", 1)
	if err != nil {
		return stateengine.Thresholds{}, err
	}
	return stateengine.Thresholds{FailuresToDownFromUp: failures, SuccessesToUpFromDown: successes}, nil
}

func (s *Scheduler) getIntSetting(key string, fallback int) (int, error) {
	value, err := s.settings.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback, nil
	}
	return n, nil
}
