package api

import (
	"encoding/json"
	"net/http"
)

type CreateRunRequest struct {
	ScriptID    string `json:"script_id"`
	Environment string `json:"environment"`
	Browser     string `json:"browser"`
}

func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid request body")
		return
	}
	if req.ScriptID == "" {
		writeValidationError(w, "script_id required")
		return
	}
	if req.Environment == "" {
		writeValidationError(w, "environment required")
		return
	}
	if req.Browser == "" {
		writeValidationError(w, "browser required")
		return
	}

	run, err := h.runs.Start(r.Context(), req.ScriptID, user.ID, req.Environment, req.Browser)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, run)
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	run, err := h.runs.Status(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	run, err := h.runs.Cancel(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}
