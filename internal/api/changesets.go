package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"testdeck/internal/apperr"
	"testdeck/internal/db"
	"testdeck/internal/model"
)

type EnhanceRequest struct {
	Prompt string `json:"prompt"`
}

// Enhance asks the AI provider for an improvement to the script and records
// the result as a proposed change-set. Nothing is applied until a human
// accepts it.
func (h *Handler) Enhance(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	var req EnhanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeValidationError(w, "prompt required")
		return
	}

	cs, err := h.engine.Propose(r.Context(), r.PathValue("id"), user.ID, req.Prompt)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, cs)
}

func (h *Handler) ListChangeSets(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	script, err := h.db.GetScriptForOwner(r.PathValue("id"), user.ID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeDomainError(w, apperr.NotFound("script"))
			return
		}
		writeDomainError(w, err)
		return
	}

	sets, err := h.db.ListChangeSets(script.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if sets == nil {
		sets = []*model.ScriptChangeSet{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"changesets": sets})
}

type AcceptChangeSetResponse struct {
	RevisionID string `json:"revision_id"`
	Version    int64  `json:"version"`
	Status     string `json:"status"`
}

func (h *Handler) AcceptChangeSet(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	rev, err := h.engine.Accept(r.Context(), r.PathValue("id"), r.PathValue("cid"), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AcceptChangeSetResponse{
		RevisionID: rev.ID,
		Version:    rev.Version,
		Status:     model.ChangeSetAccepted,
	})
}

func (h *Handler) RejectChangeSet(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	if err := h.engine.Reject(r.Context(), r.PathValue("id"), r.PathValue("cid"), user.ID); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": model.ChangeSetRejected})
}
