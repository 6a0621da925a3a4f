package db

import (
	"database/sql"
	"fmt"
	"time"

	"testdeck/internal/model"
)

// ----- Scripts -----

// CreateScript creates a new script.
func (db *DB) CreateScript(ownerID, projectID, title, content string) (*model.Script, error) {
	id := newUUID()
	now := time.Now().Unix()
	_, err := db.exec(
		"INSERT INTO scripts (id, owner_id, project_id, title, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, ownerID, projectID, title, content, now, now,
	)
	if err != nil {
		return nil, err
	}
	return db.GetScriptByID(id)
}

// GetScriptByID retrieves a script by ID.
func (db *DB) GetScriptByID(id string) (*model.Script, error) {
	return db.scanScript(db.queryRow(
		"SELECT id, owner_id, project_id, title, content, created_at, updated_at FROM scripts WHERE id = ?",
		id,
	))
}

// GetScriptForOwner retrieves a script if it belongs to the given owner.
// A script owned by someone else is reported as ErrNotFound, so the API
// never reveals whether a foreign script exists.
func (db *DB) GetScriptForOwner(id, ownerID string) (*model.Script, error) {
	return db.scanScript(db.queryRow(
		"SELECT id, owner_id, project_id, title, content, created_at, updated_at FROM scripts WHERE id = ? AND owner_id = ?",
		id, ownerID,
	))
}

func (db *DB) scanScript(row *sql.Row) (*model.Script, error) {
	var s model.Script
	var createdAt, updatedAt int64
	err := row.Scan(&s.ID, &s.OwnerID, &s.ProjectID, &s.Title, &s.Content, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(createdAt, 0)
	s.UpdatedAt = time.Unix(updatedAt, 0)
	return &s, nil
}

// ListScriptsByOwner lists all scripts owned by a user, newest first.
func (db *DB) ListScriptsByOwner(ownerID string) ([]*model.Script, error) {
	rows, err := db.query(
		"SELECT id, owner_id, project_id, title, content, created_at, updated_at FROM scripts WHERE owner_id = ? ORDER BY created_at DESC, id",
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scripts []*model.Script
	for rows.Next() {
		var s model.Script
		var createdAt, updatedAt int64
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.ProjectID, &s.Title, &s.Content, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		s.CreatedAt = time.Unix(createdAt, 0)
		s.UpdatedAt = time.Unix(updatedAt, 0)
		scripts = append(scripts, &s)
	}
	return scripts, rows.Err()
}

// ----- Revisions -----

// ListRevisions lists a script's revisions ordered by version.
func (db *DB) ListRevisions(scriptID string) ([]*model.ScriptRevision, error) {
	rows, err := db.query(
		"SELECT id, script_id, version, diff, applied_by, created_at FROM script_revisions WHERE script_id = ? ORDER BY version",
		scriptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revs []*model.ScriptRevision
	for rows.Next() {
		var rev model.ScriptRevision
		var createdAt int64
		if err := rows.Scan(&rev.ID, &rev.ScriptID, &rev.Version, &rev.Diff, &rev.AppliedBy, &createdAt); err != nil {
			return nil, err
		}
		rev.CreatedAt = time.Unix(createdAt, 0)
		revs = append(revs, &rev)
	}
	return revs, rows.Err()
}

// LatestRevisionVersion returns the highest revision version for a script,
// or 0 if none exist.
func (db *DB) LatestRevisionVersion(scriptID string) (int64, error) {
	var version int64
	err := db.queryRow(
		"SELECT COALESCE(MAX(version), 0) FROM script_revisions WHERE script_id = ?",
		scriptID,
	).Scan(&version)
	return version, err
}

// ----- Change-sets -----

// CreateChangeSet records an AI-proposed diff in proposed status.
func (db *DB) CreateChangeSet(scriptID, diff, aiModel string, confidence float64) (*model.ScriptChangeSet, error) {
	id := newUUID()
	_, err := db.exec(
		"INSERT INTO script_changesets (id, script_id, diff, ai_model, confidence, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, scriptID, diff, aiModel, confidence, model.ChangeSetProposed, time.Now().Unix(),
	)
	if err != nil {
		return nil, err
	}
	return db.GetChangeSet(scriptID, id)
}

// GetChangeSet retrieves a change-set scoped to its script.
func (db *DB) GetChangeSet(scriptID, id string) (*model.ScriptChangeSet, error) {
	var cs model.ScriptChangeSet
	var createdAt int64
	err := db.queryRow(
		"SELECT id, script_id, diff, ai_model, confidence, status, created_at FROM script_changesets WHERE id = ? AND script_id = ?",
		id, scriptID,
	).Scan(&cs.ID, &cs.ScriptID, &cs.Diff, &cs.AIModel, &cs.Confidence, &cs.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cs.CreatedAt = time.Unix(createdAt, 0)
	return &cs, nil
}

// ListChangeSets lists a script's change-sets, newest first.
func (db *DB) ListChangeSets(scriptID string) ([]*model.ScriptChangeSet, error) {
	rows, err := db.query(
		"SELECT id, script_id, diff, ai_model, confidence, status, created_at FROM script_changesets WHERE script_id = ? ORDER BY created_at DESC, id",
		scriptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []*model.ScriptChangeSet
	for rows.Next() {
		var cs model.ScriptChangeSet
		var createdAt int64
		if err := rows.Scan(&cs.ID, &cs.ScriptID, &cs.Diff, &cs.AIModel, &cs.Confidence, &cs.Status, &createdAt); err != nil {
			return nil, err
		}
		cs.CreatedAt = time.Unix(createdAt, 0)
		sets = append(sets, &cs)
	}
	return sets, rows.Err()
}

// AcceptChangeSet accepts a proposed change-set in a single transaction:
// the status flip (compare-and-set on prior status), the new revision, and
// the script content update commit together or not at all. The apply
// callback computes the new content from the current content and the stored
// diff; its error aborts the transaction.
//
// Returns ErrNotFound if the change-set does not exist for the script, and
// ErrInvalidState if it is no longer proposed (a second accept fails rather
// than silently succeeding).
func (db *DB) AcceptChangeSet(scriptID, changesetID, actor string, apply func(content, diff string) (string, error)) (*model.ScriptRevision, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var status, diff string
	err = db.txQueryRow(tx,
		"SELECT status, diff FROM script_changesets WHERE id = ? AND script_id = ?",
		changesetID, scriptID,
	).Scan(&status, &diff)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if status != model.ChangeSetProposed {
		return nil, ErrInvalidState
	}

	var content string
	err = db.txQueryRow(tx, "SELECT content FROM scripts WHERE id = ?", scriptID).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	newContent, err := apply(content, diff)
	if err != nil {
		return nil, err
	}

	// CAS on prior status; a concurrent accept/reject loses here.
	res, err := db.txExec(tx,
		"UPDATE script_changesets SET status = ? WHERE id = ? AND status = ?",
		model.ChangeSetAccepted, changesetID, model.ChangeSetProposed,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrInvalidState
	}

	var version int64
	err = db.txQueryRow(tx,
		"SELECT COALESCE(MAX(version), 0) + 1 FROM script_revisions WHERE script_id = ?",
		scriptID,
	).Scan(&version)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	rev := &model.ScriptRevision{
		ID:        newUUID(),
		ScriptID:  scriptID,
		Version:   version,
		Diff:      diff,
		AppliedBy: actor,
		CreatedAt: time.Unix(now, 0),
	}
	_, err = db.txExec(tx,
		"INSERT INTO script_revisions (id, script_id, version, diff, applied_by, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		rev.ID, rev.ScriptID, rev.Version, rev.Diff, rev.AppliedBy, now,
	)
	if err != nil {
		return nil, err
	}

	_, err = db.txExec(tx,
		"UPDATE scripts SET content = ?, updated_at = ? WHERE id = ?",
		newContent, now, scriptID,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing accept: %w", err)
	}
	return rev, nil
}

// RejectChangeSet flips a proposed change-set to rejected. No other side
// effects. Same error contract as AcceptChangeSet.
func (db *DB) RejectChangeSet(scriptID, changesetID string) error {
	var status string
	err := db.queryRow(
		"SELECT status FROM script_changesets WHERE id = ? AND script_id = ?",
		changesetID, scriptID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != model.ChangeSetProposed {
		return ErrInvalidState
	}

	res, err := db.exec(
		"UPDATE script_changesets SET status = ? WHERE id = ? AND status = ?",
		model.ChangeSetRejected, changesetID, model.ChangeSetProposed,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidState
	}
	return nil
}
