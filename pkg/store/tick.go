package store

import "fmt"

// OutageAction describes what a tick's persistence batch must do to the
// monitor's outage row, derived by the state transition upstream of this
// package.
type OutageAction string

const (
	OutageActionNone   OutageAction = "none"
	OutageActionOpen   OutageAction = "open"
	OutageActionClose  OutageAction = "close"
	OutageActionUpdate OutageAction = "update"
)

// PersistTick writes one monitor's probe result, live state, and outage
// action as a single atomic batch: a CheckResult insert, a MonitorState
// upsert, and the outage action, all in one transaction.
func (db *DB) PersistTick(check *CheckResult, state *MonitorState, action OutageAction, outageError *string) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin tick tx: %w", err)
	}
	defer tx.Rollback()

	checkQuery := `
		INSERT INTO check_results (monitor_id, checked_at, status, latency_ms,
			http_status, error, location, attempt)
		VALUES (:monitor_id, :checked_at, :status, :latency_ms, :http_status,
			:error, :location, :attempt)
	`
	result, err := tx.NamedExec(checkQuery, check)
	if err != nil {
		return fmt.Errorf("failed to insert check result: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		check.ID = id
	}

	stateQuery := `
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
	if _, err := tx.NamedExec(stateQuery, state); err != nil {
		return fmt.Errorf("failed to upsert monitor state: %w", err)
	}

	switch action {
	case OutageActionOpen:
		if _, err := tx.Exec(
			"INSERT INTO outages (monitor_id, started_at, initial_error, last_error) VALUES (?, ?, ?, ?)",
			check.MonitorID, check.CheckedAt, outageError, outageError); err != nil {
			return fmt.Errorf("outage: %w", ErrConflict)
		}
	case OutageActionClose:
		if _, err := tx.Exec(
			"UPDATE outages SET ended_at = ? WHERE monitor_id = ? AND ended_at IS NULL",
			check.CheckedAt, check.MonitorID); err != nil {
			return fmt.Errorf("failed to close outage: %w", err)
		}
	case OutageActionUpdate:
		if _, err := tx.Exec(
			"UPDATE outages SET last_error = ? WHERE monitor_id = ? AND ended_at IS NULL",
			outageError, check.MonitorID); err != nil {
			return fmt.Errorf("failed to update outage error: %w", err)
		}
	case OutageActionNone:
	}

	return tx.Commit()
}
