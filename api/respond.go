package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tcriess/adda/types"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		s.logger.Warn("could not write response", "error", err)
	}
}

// errorResponse maps the error taxonomy onto HTTP status codes. A cancelled request maps to status 0, nothing is
// written for it.
func errorResponse(err error) (int, errorBody) {
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorBody{Error: "validation", Message: verr.Error(), Field: verr.Field}
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest, errorBody{Error: "validation", Message: err.Error()}
	case errors.Is(err, types.ErrBanned):
		return http.StatusForbidden, errorBody{Error: "banned", Message: err.Error()}
	case errors.Is(err, types.ErrForbidden):
		return http.StatusForbidden, errorBody{Error: "forbidden", Message: err.Error()}
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()}
	case errors.Is(err, types.ErrConflict):
		return http.StatusConflict, errorBody{Error: conflictCode(err), Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return 0, errorBody{}
	}
	return http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	switch status {
	case 0:
		return
	case http.StatusInternalServerError:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, body)
}

func conflictCode(err error) string {
	switch {
	case errors.Is(err, types.ErrHangoutFull):
		return "hangout_full"
	case errors.Is(err, types.ErrDuplicateRequest):
		return "duplicate_request"
	case errors.Is(err, types.ErrRequestRejected):
		return "request_rejected"
	case errors.Is(err, types.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, types.ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, types.ErrHangoutExpired):
		return "hangout_expired"
	case errors.Is(err, types.ErrEmailTaken):
		return "email_taken"
	}
	return "conflict"
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err != nil {
		return types.NewValidationError("body", err.Error())
	}
	return nil
}
