package api

import (
	"encoding/json"
	"net/http"

	"testdeck/internal/apperr"
)

// ----- Helpers -----

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorBody is the envelope every error response carries.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse wraps ErrorBody under the "error" key.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// writeError writes the error envelope with an explicit code and status.
func writeError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// writeDomainError translates a domain error into the envelope. Non-domain
// errors become an opaque internal error; storage details never leak.
func writeDomainError(w http.ResponseWriter, err error) {
	e := apperr.From(err)
	msg := e.Message
	if e.Code == apperr.CodeInternal {
		msg = "internal error"
	}
	writeError(w, apperr.HTTPStatus(e.Code), e.Code, msg, e.Details)
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnprocessableEntity, apperr.CodeValidation, message, nil)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, apperr.CodeUnauthorized, message, nil)
}
