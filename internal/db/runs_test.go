package db

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"testdeck/internal/model"
)

func TestCreateRunStartsQueued(t *testing.T) {
	database := openTestDB(t)
	user, script := createTestScript(t, database)

	run, err := database.CreateRun(script.ID, user.ID, "staging", "chromium")
	require.NoError(t, err)
	require.Equal(t, model.RunQueued, run.Status)
	require.True(t, run.StartedAt.IsZero())
	require.True(t, run.CompletedAt.IsZero())
	require.Nil(t, run.Results)
}

func TestRunOwnershipScoping(t *testing.T) {
	database := openTestDB(t)
	user, script := createTestScript(t, database)

	run, err := database.CreateRun(script.ID, user.ID, "staging", "chromium")
	require.NoError(t, err)

	other, err := database.CreateUser("intruder@example.com", "X", "h")
	require.NoError(t, err)

	_, err = database.GetRunForOwner(run.ID, other.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClaimRunForDispatch(t *testing.T) {
	database := openTestDB(t)
	user, script := createTestScript(t, database)

	first, err := database.CreateRun(script.ID, user.ID, "staging", "chromium")
	require.NoError(t, err)
	_, err = database.CreateRun(script.ID, user.ID, "staging", "firefox")
	require.NoError(t, err)

	// Oldest first, each run claimed exactly once.
	claimed, err := database.ClaimRunForDispatch()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, first.ID, claimed.ID)

	second, err := database.ClaimRunForDispatch()
	require.NoError(t, err)
	require.NotNil(t, second)
	require.NotEqual(t, first.ID, second.ID)

	none, err := database.ClaimRunForDispatch()
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestMarkRunRunning(t *testing.T) {
	database := openTestDB(t)
	user, script := createTestScript(t, database)

	run, err := database.CreateRun(script.ID, user.ID, "staging", "chromium")
	require.NoError(t, err)

	require.NoError(t, database.MarkRunRunning(run.ID))

	got, err := database.GetRun(run.ID)
	require.NoError(t, err)
	require.Equal(t, model.RunRunning, got.Status)
	require.False(t, got.StartedAt.IsZero())

	// Marking an already-running run is a no-op, not an error.
	require.NoError(t, database.MarkRunRunning(run.ID))
}

func TestCompleteRunWithInsights(t *testing.T) {
	database := openTestDB(t)
	user, script := createTestScript(t, database)

	run, err := database.CreateRun(script.ID, user.ID, "staging", "chromium")
	require.NoError(t, err)
	require.NoError(t, database.MarkRunRunning(run.ID))

	results := json.RawMessage(`{"steps":5,"failed":1}`)
	insights := []*model.AIInsight{
		{ScriptID: script.ID, RunID: run.ID, Type: "flaky_selector", Severity: model.SeverityWarning, Summary: "selector #submit is unstable"},
		{ScriptID: script.ID, RunID: run.ID, Type: "slow_step", Severity: model.SeverityInfo, Summary: "step 3 took 12s"},
	}
	require.NoError(t, database.CompleteRun(run.ID, model.RunFailed, results, insights))

	got, err := database.GetRun(run.ID)
	require.NoError(t, err)
	require.Equal(t, model.RunFailed, got.Status)
	require.False(t, got.CompletedAt.IsZero())
	require.JSONEq(t, string(results), string(got.Results))

	// Insights land in insertion order and carry the run ID.
	list, err := database.ListInsightsByScript(script.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "flaky_selector", list[0].Type)
	require.Equal(t, "slow_step", list[1].Type)
	require.Equal(t, run.ID, list[0].RunID)
}

func TestCompleteRunRejectsNonTerminalStatus(t *testing.T) {
	database := openTestDB(t)
	user, script := createTestScript(t, database)

	run, err := database.CreateRun(script.ID, user.ID, "staging", "chromium")
	require.NoError(t, err)

	require.Error(t, database.CompleteRun(run.ID, model.RunCancelled, nil, nil))
	require.Error(t, database.CompleteRun(run.ID, "exploded", nil, nil))
}

func TestCancelRun(t *testing.T) {
	database := openTestDB(t)
	user, script := createTestScript(t, database)

	run, err := database.CreateRun(script.ID, user.ID, "staging", "chromium")
	require.NoError(t, err)

	require.NoError(t, database.CancelRun(run.ID))

	got, err := database.GetRun(run.ID)
	require.NoError(t, err)
	require.Equal(t, model.RunCancelled, got.Status)
	require.False(t, got.CompletedAt.IsZero())

	// Cancelling a terminal run fails and changes nothing.
	require.ErrorIs(t, database.CancelRun(run.ID), ErrInvalidState)
	got, err = database.GetRun(run.ID)
	require.NoError(t, err)
	require.Equal(t, model.RunCancelled, got.Status)
}

func TestCancelWinsOverLateCompletion(t *testing.T) {
	database := openTestDB(t)
	user, script := createTestScript(t, database)

	run, err := database.CreateRun(script.ID, user.ID, "staging", "chromium")
	require.NoError(t, err)
	require.NoError(t, database.MarkRunRunning(run.ID))
	require.NoError(t, database.CancelRun(run.ID))

	// A poll result arriving after the cancel must not overwrite it.
	err = database.CompleteRun(run.ID, model.RunPassed, nil, nil)
	require.ErrorIs(t, err, ErrInvalidState)

	got, err := database.GetRun(run.ID)
	require.NoError(t, err)
	require.Equal(t, model.RunCancelled, got.Status)
}

func TestCancelUnknownRun(t *testing.T) {
	database := openTestDB(t)
	require.ErrorIs(t, database.CancelRun("missing"), ErrNotFound)
}

func TestReapStaleRuns(t *testing.T) {
	database := openTestDB(t)
	user, script := createTestScript(t, database)

	run, err := database.CreateRun(script.ID, user.ID, "staging", "chromium")
	require.NoError(t, err)

	// Nothing is older than a generous deadline.
	n, err := database.ReapStaleRuns(time.Hour)
	require.NoError(t, err)
	require.Zero(t, n)

	// Backdate the run past the deadline.
	_, err = database.exec("UPDATE test_runs SET created_at = ? WHERE id = ?",
		time.Now().Add(-2*time.Hour).Unix(), run.ID)
	require.NoError(t, err)

	n, err = database.ReapStaleRuns(time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := database.GetRun(run.ID)
	require.NoError(t, err)
	require.Equal(t, model.RunFailed, got.Status)
	require.Contains(t, string(got.Results), "deadline exceeded")
}

func TestInsertInsightWithoutRun(t *testing.T) {
	database := openTestDB(t)
	_, script := createTestScript(t, database)

	ins, err := database.InsertInsight(script.ID, "", "coverage_gap", model.SeverityInfo, "no assertion on final state", nil)
	require.NoError(t, err)
	require.Empty(t, ins.RunID)

	list, err := database.ListInsightsByScript(script.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
