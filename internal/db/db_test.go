package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestCreateAndGetUser(t *testing.T) {
	database := openTestDB(t)

	user, err := database.CreateUser("alice@example.com", "Alice", "hash123")
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)
	require.Equal(t, "alice@example.com", user.Email)

	got, err := database.GetUserByID(user.ID)
	require.NoError(t, err)
	require.Equal(t, user.Email, got.Email)
	require.Equal(t, "hash123", got.PasswordHash)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	database := openTestDB(t)

	_, err := database.CreateUser("bob@example.com", "Bob", "h")
	require.NoError(t, err)

	_, err = database.CreateUser("bob@example.com", "Bob Again", "h2")
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGetUserByEmailCaseInsensitive(t *testing.T) {
	database := openTestDB(t)

	user, err := database.CreateUser("Carol@Example.com", "Carol", "h")
	require.NoError(t, err)

	got, err := database.GetUserByEmail("carol@example.com")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)
}

func TestGetUserNotFound(t *testing.T) {
	database := openTestDB(t)

	_, err := database.GetUserByID("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSessionLifecycle(t *testing.T) {
	database := openTestDB(t)

	user, err := database.CreateUser("dave@example.com", "Dave", "h")
	require.NoError(t, err)

	sess, err := database.CreateSession(user.ID, "refresh-hash", "ua", "1.2.3.4", time.Now().Add(time.Hour))
	require.NoError(t, err)

	got, err := database.GetSessionByRefreshHash("refresh-hash")
	require.NoError(t, err)
	require.Equal(t, sess.ID, got.ID)
	require.Equal(t, user.ID, got.UserID)

	require.NoError(t, database.DeleteSession(sess.ID))
	_, err = database.GetSession(sess.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCleanupExpiredSessions(t *testing.T) {
	database := openTestDB(t)

	user, err := database.CreateUser("eve@example.com", "Eve", "h")
	require.NoError(t, err)

	expired, err := database.CreateSession(user.ID, "old", "ua", "ip", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	fresh, err := database.CreateSession(user.ID, "new", "ua", "ip", time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, database.CleanupExpiredSessions())

	_, err = database.GetSession(expired.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = database.GetSession(fresh.ID)
	require.NoError(t, err)
}

func TestAPITokenLifecycle(t *testing.T) {
	database := openTestDB(t)

	user, err := database.CreateUser("frank@example.com", "Frank", "h")
	require.NoError(t, err)

	token, err := database.CreateAPIToken(user.ID, "ci", "token-hash", []string{"script:read", "run:read"})
	require.NoError(t, err)
	require.Equal(t, []string{"script:read", "run:read"}, token.Scopes)

	got, err := database.GetAPITokenByHash("token-hash")
	require.NoError(t, err)
	require.Equal(t, token.ID, got.ID)

	list, err := database.ListUserAPITokens(user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	// Deleting with the wrong owner must not succeed.
	require.ErrorIs(t, database.DeleteAPIToken(token.ID, "someone-else"), ErrNotFound)

	require.NoError(t, database.DeleteAPIToken(token.ID, user.ID))
	_, err = database.GetAPIToken(token.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
