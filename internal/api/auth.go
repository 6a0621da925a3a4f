package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"testdeck/internal/apperr"
	"testdeck/internal/auth"
	"testdeck/internal/db"
	"testdeck/internal/model"
)

// ----- Register -----

type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeValidationError(w, "valid email required")
		return
	}
	if len(req.Password) < 8 {
		writeValidationError(w, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	user, err := h.db.CreateUser(req.Email, req.Name, hash)
	if err != nil {
		if err == db.ErrAlreadyExists {
			writeError(w, http.StatusConflict, apperr.CodeInvalidState, "email already registered", nil)
			return
		}
		writeDomainError(w, err)
		return
	}

	h.log.Info("user registered", zap.String("user_id", user.ID), zap.String("email", user.Email))
	h.issueTokens(w, r, user, http.StatusCreated)
}

// ----- Login -----

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeValidationError(w, "email and password required")
		return
	}

	user, err := h.db.GetUserByEmail(req.Email)
	if err != nil || !auth.CheckPassword(req.Password, user.PasswordHash) {
		// Same answer for unknown email and wrong password.
		writeUnauthorized(w, "invalid credentials")
		return
	}

	h.db.UpdateLastLogin(user.ID)
	h.issueTokens(w, r, user, http.StatusOK)
}

// issueTokens generates an access JWT plus a refresh token session and
// writes the token response.
func (h *Handler) issueTokens(w http.ResponseWriter, r *http.Request, user *model.User, status int) {
	accessToken, err := h.tokens.GenerateAccessToken(user.ID, user.Email, model.DefaultScopes)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	refreshToken, refreshHash, err := auth.GenerateRefreshToken()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	_, err = h.db.CreateSession(
		user.ID,
		refreshHash,
		r.UserAgent(),
		r.RemoteAddr,
		time.Now().Add(h.tokens.RefreshTTL()),
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, status, TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.tokens.AccessTTL().Seconds()),
		RefreshToken: refreshToken,
	})
}

// ----- Refresh -----

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid request body")
		return
	}
	if req.RefreshToken == "" {
		writeValidationError(w, "refresh_token required")
		return
	}

	session, err := h.db.GetSessionByRefreshHash(auth.HashToken(req.RefreshToken))
	if err != nil {
		writeUnauthorized(w, "invalid refresh token")
		return
	}
	if time.Now().After(session.ExpiresAt) {
		h.db.DeleteSession(session.ID)
		writeUnauthorized(w, "refresh token expired")
		return
	}

	user, err := h.db.GetUserByID(session.UserID)
	if err != nil {
		writeUnauthorized(w, "user not found")
		return
	}

	// Rotate: the old session dies with the old refresh token.
	h.db.DeleteSession(session.ID)
	h.issueTokens(w, r, user, http.StatusOK)
}

// ----- Logout -----

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	if err := h.db.DeleteUserSessions(user.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ----- Me -----

type MeResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	writeJSON(w, http.StatusOK, MeResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	})
}

// ----- API tokens -----

type CreateTokenRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type CreateTokenResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Token     string   `json:"token"`
	Scopes    []string `json:"scopes"`
	CreatedAt string   `json:"created_at"`
}

func (h *Handler) CreateToken(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	var req CreateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid request body")
		return
	}
	if req.Name == "" {
		writeValidationError(w, "name required")
		return
	}
	if len(req.Scopes) == 0 {
		req.Scopes = model.DefaultScopes
	}

	token, hash, err := auth.GeneratePAT()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	apiToken, err := h.db.CreateAPIToken(user.ID, req.Name, hash, req.Scopes)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateTokenResponse{
		ID:        apiToken.ID,
		Name:      apiToken.Name,
		Token:     token, // shown once, only the hash is stored
		Scopes:    apiToken.Scopes,
		CreatedAt: apiToken.CreatedAt.Format(time.RFC3339),
	})
}

type TokenInfo struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Scopes     []string `json:"scopes"`
	CreatedAt  string   `json:"created_at"`
	LastUsedAt string   `json:"last_used_at,omitempty"`
}

func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	tokens, err := h.db.ListUserAPITokens(user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	infos := make([]TokenInfo, 0, len(tokens))
	for _, t := range tokens {
		info := TokenInfo{
			ID:        t.ID,
			Name:      t.Name,
			Scopes:    t.Scopes,
			CreatedAt: t.CreatedAt.Format(time.RFC3339),
		}
		if !t.LastUsedAt.IsZero() {
			info.LastUsedAt = t.LastUsedAt.Format(time.RFC3339)
		}
		infos = append(infos, info)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"tokens": infos})
}

func (h *Handler) DeleteToken(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	if err := h.db.DeleteAPIToken(r.PathValue("id"), user.ID); err != nil {
		if err == db.ErrNotFound {
			writeDomainError(w, apperr.NotFound("token"))
			return
		}
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
