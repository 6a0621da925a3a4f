package api

import (
	"errors"
	"net/http"

	"testdeck/internal/apperr"
	"testdeck/internal/db"
	"testdeck/internal/model"
)

// ListInsights returns every AI finding recorded for a script, oldest first.
func (h *Handler) ListInsights(w http.ResponseWriter, r *http.Request) {
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

	insights, err := h.db.ListInsightsByScript(script.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if insights == nil {
		insights = []*model.AIInsight{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"insights": insights})
}
