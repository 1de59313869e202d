package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	appI18n "github.com/brightpath/assessor/internal/i18n"
	"github.com/brightpath/assessor/internal/model"
)

type errorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Pending *answerRequest `json:"pending,omitempty"`
}

var validationMessages = map[string]string{
	"bad_request":       "ErrBadRequest",
	"missing_learner":   "ErrMissingLearner",
	"invalid_option":    "ErrInvalidOption",
	"question_not_open": "ErrQuestionNotOpen",
	"session_completed": "ErrSessionCompleted",
	"event_reused":      "ErrEventReused",
	"invalid_json":      "ErrInvalidImport",
	"invalid_question":  "ErrInvalidImport",
}

// classify maps an error to an HTTP status, a machine code and a message id.
func classify(err error) (int, string, string) {
	var (
		ve *model.ValidationError
		we *model.WriteError
		re *model.ReadError
	)
	switch {
	case errors.As(err, &ve):
		msg, ok := validationMessages[ve.Code]
		if !ok {
			msg = "ErrBadRequest"
		}
		return http.StatusUnprocessableEntity, ve.Code, msg
	case errors.Is(err, model.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found", "ErrSessionNotFound"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "no_question", "ErrNoQuestion"
	case errors.Is(err, model.ErrAlreadyResolved):
		return http.StatusConflict, "already_resolved", "ErrAlreadyResolved"
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict, "conflict", "ErrConflict"
	case errors.As(err, &we):
		return http.StatusServiceUnavailable, "store_write", "ErrStoreWrite"
	case errors.As(err, &re):
		return http.StatusServiceUnavailable, "store_read", "ErrStoreRead"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "timeout", "ErrStoreRead"
	}
	return http.StatusInternalServerError, "internal", "ErrInternal"
}

// writeError renders err as a localized JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorWith(w, r, err, nil)
}

// writeAnswerError is writeError for answer submissions. When the answer
// could not be stored the submitted selection is echoed back so the client
// can replay it under the same event id.
func writeAnswerError(w http.ResponseWriter, r *http.Request, err error, req answerRequest) {
	if status, _, _ := classify(err); status == http.StatusServiceUnavailable {
		writeErrorWith(w, r, err, &req)
		return
	}
	writeErrorWith(w, r, err, nil)
}

func writeErrorWith(w http.ResponseWriter, r *http.Request, err error, pending *answerRequest) {
	status, code, msgID := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorResponse{Error: appI18n.T(r.Context(), msgID), Code: code, Pending: pending})
}
