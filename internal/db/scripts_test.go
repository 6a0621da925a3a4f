package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"testdeck/internal/model"
)

func createTestScript(t *testing.T, database *DB) (*model.User, *model.Script) {
	t.Helper()
	user, err := database.CreateUser("owner@example.com", "Owner", "h")
	require.NoError(t, err)
	script, err := database.CreateScript(user.ID, "", "Login flow", "step1")
	require.NoError(t, err)
	return user, script
}

// appendApply fakes patch application by appending the diff to the content.
func appendApply(content, diff string) (string, error) {
	return content + "\n" + diff, nil
}

func TestScriptOwnershipScoping(t *testing.T) {
	database := openTestDB(t)
	_, script := createTestScript(t, database)

	other, err := database.CreateUser("other@example.com", "Other", "h")
	require.NoError(t, err)

	// A foreign script looks like it does not exist.
	_, err = database.GetScriptForOwner(script.ID, other.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAcceptChangeSet(t *testing.T) {
	database := openTestDB(t)
	user, script := createTestScript(t, database)

	cs, err := database.CreateChangeSet(script.ID, "step2", "model-x", 0.9)
	require.NoError(t, err)
	require.Equal(t, model.ChangeSetProposed, cs.Status)

	rev, err := database.AcceptChangeSet(script.ID, cs.ID, user.ID, appendApply)
	require.NoError(t, err)
	require.Equal(t, int64(1), rev.Version)
	require.Equal(t, "step2", rev.Diff)
	require.Equal(t, user.ID, rev.AppliedBy)

	// Content updated atomically with the status flip.
	got, err := database.GetScriptByID(script.ID)
	require.NoError(t, err)
	require.Equal(t, "step1\nstep2", got.Content)

	updated, err := database.GetChangeSet(script.ID, cs.ID)
	require.NoError(t, err)
	require.Equal(t, model.ChangeSetAccepted, updated.Status)
}

func TestAcceptChangeSetTwiceFails(t *testing.T) {
	database := openTestDB(t)
	user, script := createTestScript(t, database)

	cs, err := database.CreateChangeSet(script.ID, "step2", "model-x", 0.9)
	require.NoError(t, err)

	_, err = database.AcceptChangeSet(script.ID, cs.ID, user.ID, appendApply)
	require.NoError(t, err)

	// A second accept must fail, not silently succeed.
	_, err = database.AcceptChangeSet(script.ID, cs.ID, user.ID, appendApply)
	require.ErrorIs(t, err, ErrInvalidState)

	// And no extra revision may have appeared.
	revs, err := database.ListRevisions(script.ID)
	require.NoError(t, err)
	require.Len(t, revs, 1)
}

func TestAcceptChangeSetApplyFailureLeavesEverythingUntouched(t *testing.T) {
	database := openTestDB(t)
	user, script := createTestScript(t, database)

	cs, err := database.CreateChangeSet(script.ID, "step2", "model-x", 0.9)
	require.NoError(t, err)

	applyErr := errors.New("patch does not fit")
	_, err = database.AcceptChangeSet(script.ID, cs.ID, user.ID, func(content, diff string) (string, error) {
		return "", applyErr
	})
	require.ErrorIs(t, err, applyErr)

	// Change-set stays proposed, script content unchanged, no revision.
	got, err := database.GetChangeSet(script.ID, cs.ID)
	require.NoError(t, err)
	require.Equal(t, model.ChangeSetProposed, got.Status)

	s, err := database.GetScriptByID(script.ID)
	require.NoError(t, err)
	require.Equal(t, "step1", s.Content)

	revs, err := database.ListRevisions(script.ID)
	require.NoError(t, err)
	require.Empty(t, revs)
}

func TestRejectChangeSet(t *testing.T) {
	database := openTestDB(t)
	_, script := createTestScript(t, database)

	cs, err := database.CreateChangeSet(script.ID, "step2", "model-x", 0.5)
	require.NoError(t, err)

	require.NoError(t, database.RejectChangeSet(script.ID, cs.ID))

	got, err := database.GetChangeSet(script.ID, cs.ID)
	require.NoError(t, err)
	require.Equal(t, model.ChangeSetRejected, got.Status)

	// Rejecting again, or accepting after reject, must fail.
	require.ErrorIs(t, database.RejectChangeSet(script.ID, cs.ID), ErrInvalidState)
	_, err = database.AcceptChangeSet(script.ID, cs.ID, "u", appendApply)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRejectAfterAcceptFails(t *testing.T) {
	database := openTestDB(t)
	user, script := createTestScript(t, database)

	cs, err := database.CreateChangeSet(script.ID, "step2", "model-x", 0.9)
	require.NoError(t, err)

	_, err = database.AcceptChangeSet(script.ID, cs.ID, user.ID, appendApply)
	require.NoError(t, err)

	require.ErrorIs(t, database.RejectChangeSet(script.ID, cs.ID), ErrInvalidState)
}

func TestChangeSetUnknownID(t *testing.T) {
	database := openTestDB(t)
	_, script := createTestScript(t, database)

	_, err := database.AcceptChangeSet(script.ID, "missing", "u", appendApply)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, database.RejectChangeSet(script.ID, "missing"), ErrNotFound)
}

func TestRevisionVersionsMonotonic(t *testing.T) {
	database := openTestDB(t)
	user, script := createTestScript(t, database)

	for i := 1; i <= 3; i++ {
		cs, err := database.CreateChangeSet(script.ID, "more", "model-x", 0.9)
		require.NoError(t, err)
		rev, err := database.AcceptChangeSet(script.ID, cs.ID, user.ID, appendApply)
		require.NoError(t, err)
		require.Equal(t, int64(i), rev.Version)
	}

	revs, err := database.ListRevisions(script.ID)
	require.NoError(t, err)
	require.Len(t, revs, 3)
	for i, rev := range revs {
		require.Equal(t, int64(i+1), rev.Version)
	}
}

func TestMultipleProposedChangeSetsCoexist(t *testing.T) {
	database := openTestDB(t)
	user, script := createTestScript(t, database)

	a, err := database.CreateChangeSet(script.ID, "option a", "model-x", 0.8)
	require.NoError(t, err)
	b, err := database.CreateChangeSet(script.ID, "option b", "model-x", 0.7)
	require.NoError(t, err)

	// Accepting one leaves the other proposed and still actionable.
	_, err = database.AcceptChangeSet(script.ID, a.ID, user.ID, appendApply)
	require.NoError(t, err)

	gotB, err := database.GetChangeSet(script.ID, b.ID)
	require.NoError(t, err)
	require.Equal(t, model.ChangeSetProposed, gotB.Status)

	require.NoError(t, database.RejectChangeSet(script.ID, b.ID))
}
