package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"testdeck/internal/model"
)

// ----- Test runs -----

// CreateRun inserts a run in queued status.
func (db *DB) CreateRun(scriptID, ownerID, environment, browser string) (*model.TestRun, error) {
	id := newUUID()
	_, err := db.exec(
		"INSERT INTO test_runs (id, script_id, owner_id, environment, browser, status, dispatched, created_at) VALUES (?, ?, ?, ?, ?, ?, 0, ?)",
		id, scriptID, ownerID, environment, browser, model.RunQueued, time.Now().Unix(),
	)
	if err != nil {
		return nil, err
	}
	return db.GetRun(id)
}

const runColumns = "id, script_id, owner_id, environment, browser, status, started_at, completed_at, results, created_at"

// GetRun retrieves a run by ID.
func (db *DB) GetRun(id string) (*model.TestRun, error) {
	return db.scanRun(db.queryRow("SELECT "+runColumns+" FROM test_runs WHERE id = ?", id))
}

// GetRunForOwner retrieves a run if it belongs to the given owner.
func (db *DB) GetRunForOwner(id, ownerID string) (*model.TestRun, error) {
	return db.scanRun(db.queryRow(
		"SELECT "+runColumns+" FROM test_runs WHERE id = ? AND owner_id = ?",
		id, ownerID,
	))
}

func (db *DB) scanRun(row *sql.Row) (*model.TestRun, error) {
	var r model.TestRun
	var startedNull, completedNull sql.NullInt64
	var resultsNull sql.NullString
	var createdAt int64
	err := row.Scan(&r.ID, &r.ScriptID, &r.OwnerID, &r.Environment, &r.Browser, &r.Status,
		&startedNull, &completedNull, &resultsNull, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if startedNull.Valid {
		r.StartedAt = time.Unix(startedNull.Int64, 0)
	}
	if completedNull.Valid {
		r.CompletedAt = time.Unix(completedNull.Int64, 0)
	}
	if resultsNull.Valid {
		r.Results = json.RawMessage(resultsNull.String)
	}
	r.CreatedAt = time.Unix(createdAt, 0)
	return &r, nil
}

// ClaimRunForDispatch atomically claims the oldest queued, undispatched run
// and marks it dispatched. Returns nil, nil when there is no work.
func (db *DB) ClaimRunForDispatch() (*model.TestRun, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = db.txQueryRow(tx,
		"SELECT id FROM test_runs WHERE status = ? AND dispatched = 0 ORDER BY created_at, id LIMIT 1",
		model.RunQueued,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying queue: %w", err)
	}

	res, err := db.txExec(tx,
		"UPDATE test_runs SET dispatched = 1 WHERE id = ? AND dispatched = 0",
		id,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return db.GetRun(id)
}

// ListActiveRuns lists dispatched runs that have not reached a terminal
// state, oldest first.
func (db *DB) ListActiveRuns() ([]*model.TestRun, error) {
	rows, err := db.query(
		"SELECT "+runColumns+" FROM test_runs WHERE dispatched = 1 AND status IN (?, ?) ORDER BY created_at, id",
		model.RunQueued, model.RunRunning,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.TestRun
	for rows.Next() {
		var r model.TestRun
		var startedNull, completedNull sql.NullInt64
		var resultsNull sql.NullString
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.ScriptID, &r.OwnerID, &r.Environment, &r.Browser, &r.Status,
			&startedNull, &completedNull, &resultsNull, &createdAt); err != nil {
			return nil, err
		}
		if startedNull.Valid {
			r.StartedAt = time.Unix(startedNull.Int64, 0)
		}
		if completedNull.Valid {
			r.CompletedAt = time.Unix(completedNull.Int64, 0)
		}
		if resultsNull.Valid {
			r.Results = json.RawMessage(resultsNull.String)
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// MarkRunRunning transitions queued → running (CAS on prior status).
// Losing the race is not an error: the run may already be running, or a
// cancel may have won.
func (db *DB) MarkRunRunning(id string) error {
	_, err := db.exec(
		"UPDATE test_runs SET status = ?, started_at = ? WHERE id = ? AND status = ?",
		model.RunRunning, time.Now().Unix(), id, model.RunQueued,
	)
	return err
}

// CompleteRun transitions a run to a terminal pass/fail status, records the
// result payload, and appends any insights — all in one transaction. A run
// already terminal (e.g. cancelled) is left untouched and ErrInvalidState
// is returned.
func (db *DB) CompleteRun(id, status string, results json.RawMessage, insights []*model.AIInsight) error {
	if status != model.RunPassed && status != model.RunFailed {
		return fmt.Errorf("completing run: %q is not a terminal pass/fail status", status)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var resultsArg interface{}
	if results != nil {
		resultsArg = string(results)
	}

	res, err := db.txExec(tx,
		"UPDATE test_runs SET status = ?, completed_at = ?, results = ? WHERE id = ? AND status IN (?, ?)",
		status, time.Now().Unix(), resultsArg, id, model.RunQueued, model.RunRunning,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var current string
		if err := db.txQueryRow(tx, "SELECT status FROM test_runs WHERE id = ?", id).Scan(&current); err == sql.ErrNoRows {
			return ErrNotFound
		}
		return ErrInvalidState
	}

	now := time.Now().Unix()
	for _, ins := range insights {
		var detailsArg interface{}
		if ins.Details != nil {
			detailsArg = string(ins.Details)
		}
		_, err = db.txExec(tx,
			"INSERT INTO ai_insights (id, script_id, run_id, type, severity, summary, details, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			newUUID(), ins.ScriptID, id, ins.Type, ins.Severity, ins.Summary, detailsArg, now,
		)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing completion: %w", err)
	}
	return nil
}

// CancelRun transitions queued|running → cancelled (CAS on prior status).
// Returns ErrInvalidState when the run is already terminal; the stored
// status is left unchanged.
func (db *DB) CancelRun(id string) error {
	res, err := db.exec(
		"UPDATE test_runs SET status = ?, completed_at = ? WHERE id = ? AND status IN (?, ?)",
		model.RunCancelled, time.Now().Unix(), id, model.RunQueued, model.RunRunning,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var current string
		if err := db.queryRow("SELECT status FROM test_runs WHERE id = ?", id).Scan(&current); err == sql.ErrNoRows {
			return ErrNotFound
		}
		return ErrInvalidState
	}
	return nil
}

// ReapStaleRuns fails dispatched runs that have been non-terminal for longer
// than deadline. Returns how many runs were reaped.
func (db *DB) ReapStaleRuns(deadline time.Duration) (int64, error) {
	cutoff := time.Now().Add(-deadline).Unix()
	res, err := db.exec(
		`UPDATE test_runs SET status = ?, completed_at = ?, results = ?
		 WHERE status IN (?, ?) AND created_at < ?`,
		model.RunFailed, time.Now().Unix(), `{"error":"run deadline exceeded"}`,
		model.RunQueued, model.RunRunning, cutoff,
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ----- Insights -----

// InsertInsight appends an insight for a script.
func (db *DB) InsertInsight(scriptID, runID, insightType, severity, summary string, details json.RawMessage) (*model.AIInsight, error) {
	id := newUUID()
	var detailsArg interface{}
	if details != nil {
		detailsArg = string(details)
	}
	var runArg interface{}
	if runID != "" {
		runArg = runID
	}
	_, err := db.exec(
		"INSERT INTO ai_insights (id, script_id, run_id, type, severity, summary, details, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		id, scriptID, runArg, insightType, severity, summary, detailsArg, time.Now().Unix(),
	)
	if err != nil {
		return nil, err
	}
	return db.GetInsight(id)
}

// GetInsight retrieves an insight by ID.
func (db *DB) GetInsight(id string) (*model.AIInsight, error) {
	var ins model.AIInsight
	var runNull, detailsNull sql.NullString
	var createdAt int64
	err := db.queryRow(
		"SELECT id, script_id, run_id, type, severity, summary, details, created_at FROM ai_insights WHERE id = ?",
		id,
	).Scan(&ins.ID, &ins.ScriptID, &runNull, &ins.Type, &ins.Severity, &ins.Summary, &detailsNull, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if runNull.Valid {
		ins.RunID = runNull.String
	}
	if detailsNull.Valid {
		ins.Details = json.RawMessage(detailsNull.String)
	}
	ins.CreatedAt = time.Unix(createdAt, 0)
	return &ins, nil
}

// ListInsightsByScript lists all insights for a script in insertion order.
func (db *DB) ListInsightsByScript(scriptID string) ([]*model.AIInsight, error) {
	rows, err := db.query(
		"SELECT id, script_id, run_id, type, severity, summary, details, created_at FROM ai_insights WHERE script_id = ? ORDER BY seq",
		scriptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var insights []*model.AIInsight
	for rows.Next() {
		var ins model.AIInsight
		var runNull, detailsNull sql.NullString
		var createdAt int64
		if err := rows.Scan(&ins.ID, &ins.ScriptID, &runNull, &ins.Type, &ins.Severity, &ins.Summary, &detailsNull, &createdAt); err != nil {
			return nil, err
		}
		if runNull.Valid {
			ins.RunID = runNull.String
		}
		if detailsNull.Valid {
			ins.Details = json.RawMessage(detailsNull.String)
		}
		ins.CreatedAt = time.Unix(createdAt, 0)
		insights = append(insights, &ins)
	}
	return insights, rows.Err()
}
