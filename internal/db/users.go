package db

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"testdeck/internal/model"
)

// ----- Users -----

// CreateUser creates a new user with a bcrypt password hash.
func (db *DB) CreateUser(email, name, passwordHash string) (*model.User, error) {
	id := newUUID()
	_, err := db.exec(
		"INSERT INTO users (id, email, name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)",
		id, email, name, passwordHash, time.Now().Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}
	return db.GetUserByID(id)
}

// GetUserByID retrieves a user by ID.
func (db *DB) GetUserByID(id string) (*model.User, error) {
	return db.scanUser(db.queryRow(
		"SELECT id, email, name, COALESCE(password_hash, ''), created_at, last_login_at FROM users WHERE id = ?",
		id,
	))
}

// GetUserByEmail retrieves a user by email (case-insensitive).
func (db *DB) GetUserByEmail(email string) (*model.User, error) {
	// Use LOWER() for PostgreSQL, COLLATE NOCASE for SQLite
	var query string
	if db.driver == DriverPostgres {
		query = "SELECT id, email, name, COALESCE(password_hash, ''), created_at, last_login_at FROM users WHERE LOWER(email) = LOWER(?)"
	} else {
		query = "SELECT id, email, name, COALESCE(password_hash, ''), created_at, last_login_at FROM users WHERE email = ? COLLATE NOCASE"
	}
	return db.scanUser(db.queryRow(query, email))
}

func (db *DB) scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	var createdAt int64
	var lastLoginNull sql.NullInt64
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &createdAt, &lastLoginNull)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = time.Unix(createdAt, 0)
	if lastLoginNull.Valid {
		u.LastLoginAt = time.Unix(lastLoginNull.Int64, 0)
	}
	return &u, nil
}

// UpdateLastLogin updates the user's last login time.
func (db *DB) UpdateLastLogin(userID string) error {
	_, err := db.exec("UPDATE users SET last_login_at = ? WHERE id = ?", time.Now().Unix(), userID)
	return err
}

// isUniqueViolation reports whether err is a unique-constraint failure on
// either driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value") // postgres
}

// ----- Sessions -----

// CreateSession creates a new session.
func (db *DB) CreateSession(userID, refreshHash, userAgent, ip string, expiresAt time.Time) (*model.Session, error) {
	id := newUUID()
	_, err := db.exec(
		"INSERT INTO sessions (id, user_id, refresh_hash, user_agent, ip, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, userID, refreshHash, userAgent, ip, time.Now().Unix(), expiresAt.Unix(),
	)
	if err != nil {
		return nil, err
	}
	return db.GetSession(id)
}

// GetSession retrieves a session by ID.
func (db *DB) GetSession(id string) (*model.Session, error) {
	return db.scanSession(db.queryRow(
		"SELECT id, user_id, refresh_hash, user_agent, ip, created_at, expires_at FROM sessions WHERE id = ?",
		id,
	))
}

// GetSessionByRefreshHash retrieves a session by refresh token hash.
func (db *DB) GetSessionByRefreshHash(hash string) (*model.Session, error) {
	return db.scanSession(db.queryRow(
		"SELECT id, user_id, refresh_hash, user_agent, ip, created_at, expires_at FROM sessions WHERE refresh_hash = ?",
		hash,
	))
}

func (db *DB) scanSession(row *sql.Row) (*model.Session, error) {
	var s model.Session
	var createdAt, expiresAt int64
	err := row.Scan(&s.ID, &s.UserID, &s.RefreshHash, &s.UserAgent, &s.IP, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(createdAt, 0)
	s.ExpiresAt = time.Unix(expiresAt, 0)
	return &s, nil
}

// DeleteSession deletes a session.
func (db *DB) DeleteSession(id string) error {
	_, err := db.exec("DELETE FROM sessions WHERE id = ?", id)
	return err
}

// DeleteUserSessions deletes all sessions for a user.
func (db *DB) DeleteUserSessions(userID string) error {
	_, err := db.exec("DELETE FROM sessions WHERE user_id = ?", userID)
	return err
}

// CleanupExpiredSessions removes sessions past their expiry.
func (db *DB) CleanupExpiredSessions() error {
	_, err := db.exec("DELETE FROM sessions WHERE expires_at < ?", time.Now().Unix())
	return err
}

// ----- API Tokens -----

// CreateAPIToken creates a new API token.
func (db *DB) CreateAPIToken(userID, name, hash string, scopes []string) (*model.APIToken, error) {
	id := newUUID()
	scopesJSON, _ := json.Marshal(scopes)
	_, err := db.exec(
		"INSERT INTO api_tokens (id, user_id, name, hash, scopes, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, userID, name, hash, string(scopesJSON), time.Now().Unix(),
	)
	if err != nil {
		return nil, err
	}
	return db.GetAPIToken(id)
}

// GetAPIToken retrieves an API token by ID.
func (db *DB) GetAPIToken(id string) (*model.APIToken, error) {
	return db.scanAPIToken(db.queryRow(
		"SELECT id, user_id, name, hash, scopes, created_at, last_used_at FROM api_tokens WHERE id = ?",
		id,
	))
}

// GetAPITokenByHash retrieves an API token by hash.
func (db *DB) GetAPITokenByHash(hash string) (*model.APIToken, error) {
	return db.scanAPIToken(db.queryRow(
		"SELECT id, user_id, name, hash, scopes, created_at, last_used_at FROM api_tokens WHERE hash = ?",
		hash,
	))
}

func (db *DB) scanAPIToken(row *sql.Row) (*model.APIToken, error) {
	var t model.APIToken
	var createdAt int64
	var lastUsedNull sql.NullInt64
	var scopesJSON string
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Hash, &scopesJSON, &createdAt, &lastUsedNull)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.CreatedAt = time.Unix(createdAt, 0)
	if lastUsedNull.Valid {
		t.LastUsedAt = time.Unix(lastUsedNull.Int64, 0)
	}
	json.Unmarshal([]byte(scopesJSON), &t.Scopes)
	return &t, nil
}

// ListUserAPITokens lists all API tokens for a user.
func (db *DB) ListUserAPITokens(userID string) ([]*model.APIToken, error) {
	rows, err := db.query(
		"SELECT id, user_id, name, hash, scopes, created_at, last_used_at FROM api_tokens WHERE user_id = ? ORDER BY created_at DESC",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*model.APIToken
	for rows.Next() {
		var t model.APIToken
		var createdAt int64
		var lastUsedNull sql.NullInt64
		var scopesJSON string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Hash, &scopesJSON, &createdAt, &lastUsedNull); err != nil {
			return nil, err
		}
		t.CreatedAt = time.Unix(createdAt, 0)
		if lastUsedNull.Valid {
			t.LastUsedAt = time.Unix(lastUsedNull.Int64, 0)
		}
		json.Unmarshal([]byte(scopesJSON), &t.Scopes)
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

// DeleteAPIToken deletes an API token owned by the given user.
func (db *DB) DeleteAPIToken(id, userID string) error {
	res, err := db.exec("DELETE FROM api_tokens WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAPITokenLastUsed updates the last used time for a token.
func (db *DB) UpdateAPITokenLastUsed(id string) error {
	_, err := db.exec("UPDATE api_tokens SET last_used_at = ? WHERE id = ?", time.Now().Unix(), id)
	return err
}
