// Package changeset implements the moderated script mutation workflow:
// an AI-proposed diff is recorded as a change-set, reviewed by a human, and
// on acceptance materialized as a new immutable script revision.
package changeset

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"testdeck/internal/ai"
	"testdeck/internal/apperr"
	"testdeck/internal/db"
	"testdeck/internal/model"
	"testdeck/internal/patch"
)

// Provider is the slice of the AI client the engine needs.
type Provider interface {
	Enhance(ctx context.Context, content, prompt string) (*ai.Enhancement, error)
}

// Engine proposes, accepts, and rejects script change-sets.
type Engine struct {
	db  *db.DB
	ai  Provider
	log *zap.Logger
}

// NewEngine creates a change-set engine.
func NewEngine(database *db.DB, provider Provider, log *zap.Logger) *Engine {
	return &Engine{db: database, ai: provider, log: log}
}

// Propose asks the AI provider for an enhancement of the script and records
// it as a change-set in proposed status. Multiple proposed change-sets may
// coexist per script; a new proposal never supersedes a pending one.
func (e *Engine) Propose(ctx context.Context, scriptID, actorID, prompt string) (*model.ScriptChangeSet, error) {
	script, err := e.db.GetScriptForOwner(scriptID, actorID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound("script")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "loading script", err)
	}

	enh, err := e.ai.Enhance(ctx, script.Content, prompt)
	if err != nil {
		e.log.Warn("ai provider call failed",
			zap.String("script_id", scriptID),
			zap.Error(err))
		return nil, apperr.Upstream("ai provider call failed", err)
	}

	cs, err := e.db.CreateChangeSet(script.ID, enh.Diff, enh.Model, enh.Confidence)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "recording change-set", err)
	}

	e.log.Info("change-set proposed",
		zap.String("script_id", script.ID),
		zap.String("changeset_id", cs.ID),
		zap.String("model", cs.AIModel),
		zap.Float64("confidence", cs.Confidence))
	return cs, nil
}

// Accept applies a proposed change-set: atomically flips it to accepted,
// writes the next revision (version = previous max + 1), and updates the
// script content. A change-set that is already accepted or rejected fails
// with invalid_state — a second accept never silently succeeds.
func (e *Engine) Accept(ctx context.Context, scriptID, changesetID, actorID string) (*model.ScriptRevision, error) {
	if _, err := e.db.GetScriptForOwner(scriptID, actorID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound("script")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "loading script", err)
	}

	rev, err := e.db.AcceptChangeSet(scriptID, changesetID, actorID, patch.Apply)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			return nil, apperr.NotFound("changeset")
		case errors.Is(err, db.ErrInvalidState):
			return nil, apperr.InvalidState("changeset is not in proposed state")
		case errors.Is(err, patch.ErrNoApply):
			// The script moved on since the proposal; the change-set stays
			// proposed and the caller decides what to do with it.
			return nil, apperr.InvalidState("proposed diff no longer applies to current content")
		default:
			return nil, apperr.Wrap(apperr.CodeInternal, "accepting change-set", err)
		}
	}

	e.log.Info("change-set accepted",
		zap.String("script_id", scriptID),
		zap.String("changeset_id", changesetID),
		zap.Int64("version", rev.Version),
		zap.String("actor", actorID))
	return rev, nil
}

// Reject flips a proposed change-set to rejected. No other side effects.
func (e *Engine) Reject(ctx context.Context, scriptID, changesetID, actorID string) error {
	if _, err := e.db.GetScriptForOwner(scriptID, actorID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return apperr.NotFound("script")
		}
		return apperr.Wrap(apperr.CodeInternal, "loading script", err)
	}

	if err := e.db.RejectChangeSet(scriptID, changesetID); err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			return apperr.NotFound("changeset")
		case errors.Is(err, db.ErrInvalidState):
			return apperr.InvalidState("changeset is not in proposed state")
		default:
			return apperr.Wrap(apperr.CodeInternal, "rejecting change-set", err)
		}
	}

	e.log.Info("change-set rejected",
		zap.String("script_id", scriptID),
		zap.String("changeset_id", changesetID),
		zap.String("actor", actorID))
	return nil
}
