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

// maxScriptContent caps script bodies at 1 MiB.
const maxScriptContent = 1 << 20

type CreateScriptRequest struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	ProjectID string `json:"project_id"`
}

func (h *Handler) CreateScript(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	var req CreateScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid request body")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeValidationError(w, "title required")
		return
	}
	if req.Content == "" {
		writeValidationError(w, "content required")
		return
	}
	if len(req.Content) > maxScriptContent {
		writeValidationError(w, "content too large")
		return
	}

	script, err := h.db.CreateScript(user.ID, req.ProjectID, req.Title, req.Content)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, script)
}

func (h *Handler) ListScripts(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	scripts, err := h.db.ListScriptsByOwner(user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if scripts == nil {
		scripts = []*model.Script{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"scripts": scripts})
}

func (h *Handler) GetScript(w http.ResponseWriter, r *http.Request) {
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

	writeJSON(w, http.StatusOK, script)
}

func (h *Handler) ListRevisions(w http.ResponseWriter, r *http.Request) {
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

	revs, err := h.db.ListRevisions(script.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if revs == nil {
		revs = []*model.ScriptRevision{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"revisions": revs})
}
