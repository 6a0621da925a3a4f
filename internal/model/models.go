// Package model provides data models for the testdeck control plane.
package model

import (
	"encoding/json"
	"time"
)

// User represents a registered user.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	LastLoginAt  time.Time `json:"last_login_at,omitempty"`
}

// Session represents a user session backing a refresh token.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	RefreshHash string    `json:"-"`
	UserAgent   string    `json:"user_agent,omitempty"`
	IP          string    `json:"ip,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// APIToken represents a personal access token.
type APIToken struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Hash       string    `json:"-"`
	Scopes     []string  `json:"scopes"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// ScopesJSON returns scopes as a JSON string.
func (t *APIToken) ScopesJSON() string {
	b, _ := json.Marshal(t.Scopes)
	return string(b)
}

// Script represents a test script. Content changes only through accepted
// change-sets (and the initial create).
type Script struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	ProjectID string    `json:"project_id,omitempty"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScriptRevision is one immutable step in a script's history. Versions are
// strictly increasing per script, starting at 1, and never reused.
type ScriptRevision struct {
	ID        string    `json:"id"`
	ScriptID  string    `json:"script_id"`
	Version   int64     `json:"version"`
	Diff      string    `json:"diff"`
	AppliedBy string    `json:"applied_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Change-set statuses. Accepted and rejected are terminal.
const (
	ChangeSetProposed = "proposed"
	ChangeSetAccepted = "accepted"
	ChangeSetRejected = "rejected"
)

// ScriptChangeSet is an AI-proposed diff against a script awaiting review.
type ScriptChangeSet struct {
	ID         string    `json:"id"`
	ScriptID   string    `json:"script_id"`
	Diff       string    `json:"proposed_diff"`
	AIModel    string    `json:"ai_model"`
	Confidence float64   `json:"confidence"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Terminal reports whether the change-set can no longer transition.
func (c *ScriptChangeSet) Terminal() bool {
	return c.Status == ChangeSetAccepted || c.Status == ChangeSetRejected
}

// Test-run statuses. Passed, failed and cancelled are terminal.
const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunPassed    = "passed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// RunStatusRank orders run statuses so a poller can check that progression
// never regresses.
var RunStatusRank = map[string]int{
	RunQueued:    0,
	RunRunning:   1,
	RunPassed:    2,
	RunFailed:    2,
	RunCancelled: 2,
}

// RunTerminal reports whether a run status is terminal.
func RunTerminal(status string) bool {
	return status == RunPassed || status == RunFailed || status == RunCancelled
}

// TestRun represents one execution of a script in an environment/browser.
type TestRun struct {
	ID          string          `json:"id"`
	ScriptID    string          `json:"script_id"`
	OwnerID     string          `json:"owner_id"`
	Environment string          `json:"environment"`
	Browser     string          `json:"browser"`
	Status      string          `json:"status"`
	StartedAt   time.Time       `json:"started_at,omitempty"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
	Results     json.RawMessage `json:"results,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Insight severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AIInsight is a post-run AI finding attached to a script. Append-only.
type AIInsight struct {
	ID        string          `json:"id"`
	ScriptID  string          `json:"script_id"`
	RunID     string          `json:"run_id,omitempty"`
	Type      string          `json:"type"`
	Severity  string          `json:"severity"`
	Summary   string          `json:"summary"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Common scopes
const (
	ScopeScriptRead  = "script:read"
	ScopeScriptWrite = "script:write"
	ScopeRunRead     = "run:read"
	ScopeRunWrite    = "run:write"
)

// DefaultScopes are granted to interactive (JWT) sessions.
var DefaultScopes = []string{ScopeScriptRead, ScopeScriptWrite, ScopeRunRead, ScopeRunWrite}

// HasScope checks if scopes include the required scope.
func HasScope(scopes []string, required string) bool {
	for _, s := range scopes {
		if s == required {
			return true
		}
	}
	return false
}
