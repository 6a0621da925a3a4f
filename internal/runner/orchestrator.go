package runner

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"testdeck/internal/apperr"
	"testdeck/internal/db"
	"testdeck/internal/model"
)

// Executor is the slice of the executor client the orchestrator needs.
type Executor interface {
	Start(ctx context.Context, runID, content, environment, browser string) error
	Status(ctx context.Context, runID string) (*ExecStatus, error)
	Cancel(ctx context.Context, runID string) error
}

// Orchestrator owns the test-run lifecycle. State transitions go through
// the store's conditional updates so two concurrent callers can never both
// win the same transition.
type Orchestrator struct {
	db   *db.DB
	exec Executor
	log  *zap.Logger
}

// NewOrchestrator creates a run orchestrator.
func NewOrchestrator(database *db.DB, exec Executor, log *zap.Logger) *Orchestrator {
	return &Orchestrator{db: database, exec: exec, log: log}
}

// Start creates a run in queued status. The background poller picks it up
// and hands it to the executor; Start itself returns immediately.
func (o *Orchestrator) Start(ctx context.Context, scriptID, actorID, environment, browser string) (*model.TestRun, error) {
	script, err := o.db.GetScriptForOwner(scriptID, actorID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound("script")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "loading script", err)
	}

	run, err := o.db.CreateRun(script.ID, actorID, environment, browser)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "creating run", err)
	}

	o.log.Info("run queued",
		zap.String("run_id", run.ID),
		zap.String("script_id", script.ID),
		zap.String("environment", environment),
		zap.String("browser", browser))
	return run, nil
}

// Status returns a snapshot of the run. Never blocks on the executor.
func (o *Orchestrator) Status(ctx context.Context, runID, actorID string) (*model.TestRun, error) {
	run, err := o.db.GetRunForOwner(runID, actorID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound("run")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "loading run", err)
	}
	return run, nil
}

// Cancel records cancellation intent and notifies the executor best-effort.
// A run already in a terminal state fails with invalid_state and keeps its
// status.
func (o *Orchestrator) Cancel(ctx context.Context, runID, actorID string) (*model.TestRun, error) {
	if _, err := o.db.GetRunForOwner(runID, actorID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound("run")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "loading run", err)
	}

	if err := o.db.CancelRun(runID); err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			return nil, apperr.NotFound("run")
		case errors.Is(err, db.ErrInvalidState):
			return nil, apperr.InvalidState("run is already in a terminal state")
		default:
			return nil, apperr.Wrap(apperr.CodeInternal, "cancelling run", err)
		}
	}

	// Advisory notify; the recorded status is authoritative either way.
	if err := o.exec.Cancel(ctx, runID); err != nil {
		o.log.Warn("executor cancel failed", zap.String("run_id", runID), zap.Error(err))
	}

	run, err := o.db.GetRun(runID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "loading run", err)
	}

	o.log.Info("run cancelled", zap.String("run_id", runID), zap.String("actor", actorID))
	return run, nil
}

// dispatchOne claims the next queued run and hands it to the executor.
// Returns false when there was no work.
func (o *Orchestrator) dispatchOne(ctx context.Context) bool {
	run, err := o.db.ClaimRunForDispatch()
	if err != nil {
		o.log.Error("claiming run for dispatch", zap.Error(err))
		return false
	}
	if run == nil {
		return false
	}

	script, err := o.db.GetScriptByID(run.ScriptID)
	if err != nil {
		o.log.Error("loading script for dispatch", zap.String("run_id", run.ID), zap.Error(err))
		o.failRun(run, "script missing at dispatch time")
		return true
	}

	if err := o.exec.Start(ctx, run.ID, script.Content, run.Environment, run.Browser); err != nil {
		o.log.Warn("executor dispatch failed", zap.String("run_id", run.ID), zap.Error(err))
		o.failRun(run, err.Error())
		return true
	}

	o.log.Info("run dispatched", zap.String("run_id", run.ID))
	return true
}

func (o *Orchestrator) failRun(run *model.TestRun, reason string) {
	results, _ := json.Marshal(map[string]string{"error": reason})
	if err := o.db.CompleteRun(run.ID, model.RunFailed, results, nil); err != nil && !errors.Is(err, db.ErrInvalidState) {
		o.log.Error("failing run", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// pollActive asks the executor about every dispatched, non-terminal run and
// applies progress. Status can only move forward: the conditional updates
// in the store drop stale answers.
func (o *Orchestrator) pollActive(ctx context.Context) {
	runs, err := o.db.ListActiveRuns()
	if err != nil {
		o.log.Error("listing active runs", zap.Error(err))
		return
	}

	for _, run := range runs {
		st, err := o.exec.Status(ctx, run.ID)
		if err != nil {
			o.log.Warn("executor status failed", zap.String("run_id", run.ID), zap.Error(err))
			continue
		}

		switch st.Status {
		case model.RunRunning:
			if err := o.db.MarkRunRunning(run.ID); err != nil {
				o.log.Error("marking run running", zap.String("run_id", run.ID), zap.Error(err))
			}
		case model.RunPassed, model.RunFailed:
			insights := make([]*model.AIInsight, 0, len(st.Findings))
			for _, f := range st.Findings {
				insights = append(insights, &model.AIInsight{
					ScriptID: run.ScriptID,
					RunID:    run.ID,
					Type:     f.Type,
					Severity: f.Severity,
					Summary:  f.Summary,
					Details:  f.Details,
				})
			}
			err := o.db.CompleteRun(run.ID, st.Status, st.Results, insights)
			if errors.Is(err, db.ErrInvalidState) {
				// Cancelled while we were polling; the cancel wins.
				continue
			}
			if err != nil {
				o.log.Error("completing run", zap.String("run_id", run.ID), zap.Error(err))
				continue
			}
			o.log.Info("run completed",
				zap.String("run_id", run.ID),
				zap.String("status", st.Status),
				zap.Int("findings", len(st.Findings)))
		}
	}
}
