package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brightpath/assessor/internal/assessment"
	appI18n "github.com/brightpath/assessor/internal/i18n"
	"github.com/brightpath/assessor/internal/model"
	"github.com/brightpath/assessor/internal/report"
)

type sessionResponse struct {
	Session   model.AssessmentState `json:"session"`
	Status    model.SessionStatus   `json:"status"`
	Question  *model.QuestionView   `json:"question,omitempty"`
	Deadline  *time.Time            `json:"deadline,omitempty"`
	Remaining int                   `json:"questions_remaining"`
	Notice    string                `json:"notice,omitempty"`
	// Warning is set when the next question could not be loaded; GET
	// /question retries.
	Warning string `json:"warning,omitempty"`
}

type answerResponse struct {
	sessionResponse
	Answer    model.AnswerEvent `json:"answer"`
	IsCorrect bool              `json:"is_correct"`
	Duplicate bool              `json:"duplicate"`
}

type startRequest struct {
	LearnerID string `json:"learner_id"`
}

type answerRequest struct {
	EventID          string `json:"event_id"`
	QuestionID       int64  `json:"question_id"`
	SelectedIndex    *int   `json:"selected_index"`
	TimeTakenSeconds int    `json:"time_taken_seconds"`
	Ordinal          *int   `json:"ordinal,omitempty"`
}

type timeoutRequest struct {
	QuestionID int64 `json:"question_id"`
}

func (h *Handler) renderSession(r *http.Request, v *assessment.View) sessionResponse {
	resp := sessionResponse{
		Session:   v.State,
		Status:    v.Status(),
		Deadline:  v.Deadline,
		Remaining: max(h.assessments.Quota()-v.State.TotalQuestions, 0),
	}
	if v.Question != nil {
		qv := v.Question.View()
		resp.Question = &qv
	}
	if v.FetchErr != nil {
		_, _, msgID := classify(v.FetchErr)
		resp.Warning = appI18n.T(r.Context(), msgID)
	}
	if resp.Status == model.StatusInProgress {
		resp.Notice = appI18n.Tp(r.Context(), "QuestionsRemaining", resp.Remaining)
	}
	return resp
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	learnerID := strings.TrimSpace(req.LearnerID)
	if learnerID == "" {
		learnerID = model.LearnerIDFromContext(r.Context())
	}

	view, err := h.assessments.Start(r.Context(), learnerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", h.path("/assessments/"+view.State.ID))
	writeJSON(w, http.StatusCreated, h.renderSession(r, view))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.assessments.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.renderSession(r, view))
}

func (h *Handler) handleQuestion(w http.ResponseWriter, r *http.Request) {
	view, err := h.assessments.NextQuestion(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.renderSession(r, view))
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.SelectedIndex == nil {
		writeError(w, r, model.NewValidationError("invalid_option", "selected_index is required"))
		return
	}

	// The id is fixed here so a failed submission can be replayed under it.
	req.EventID = strings.TrimSpace(req.EventID)
	if req.EventID == "" {
		req.EventID = uuid.NewString()
	}

	out, err := h.assessments.Answer(r.Context(), chi.URLParam(r, "sessionID"), assessment.AnswerRequest{
		EventID:          req.EventID,
		QuestionID:       req.QuestionID,
		SelectedIndex:    *req.SelectedIndex,
		TimeTakenSeconds: req.TimeTakenSeconds,
		Ordinal:          req.Ordinal,
	})
	if err != nil {
		writeAnswerError(w, r, err, req)
		return
	}
	writeJSON(w, http.StatusOK, h.renderOutcome(r, out))
}

func (h *Handler) handleTimeout(w http.ResponseWriter, r *http.Request) {
	var req timeoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.assessments.Timeout(r.Context(), chi.URLParam(r, "sessionID"), req.QuestionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.renderOutcome(r, out))
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	view, err := h.assessments.Abandon(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := h.renderSession(r, view)
	resp.Notice = appI18n.T(r.Context(), "AssessmentAbandoned")
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) renderOutcome(r *http.Request, out *assessment.Outcome) answerResponse {
	resp := answerResponse{
		sessionResponse: h.renderSession(r, &out.View),
		Answer:          out.Answer,
		IsCorrect:       out.IsCorrect,
		Duplicate:       out.Duplicate,
	}
	ctx := r.Context()
	switch {
	case resp.Status == model.StatusCompleted:
		resp.Notice = appI18n.Td(ctx, "AssessmentCompleted", map[string]any{
			"Correct": out.State.CorrectAnswers,
			"Total":   out.State.TotalQuestions,
		})
	case out.Answer.TimedOut:
		resp.Notice = appI18n.T(ctx, "QuestionTimedOut")
	case out.IsCorrect:
		resp.Notice = appI18n.Td(ctx, "AnswerCorrect", map[string]any{"Level": out.State.CurrentLevel})
	default:
		resp.Notice = appI18n.Td(ctx, "AnswerIncorrect", map[string]any{"Level": out.State.CurrentLevel})
	}
	return resp
}

type historyEntry struct {
	Session model.AssessmentState `json:"session"`
	Status  model.SessionStatus   `json:"status"`
	Score   int                   `json:"overall_score"`
}

func (h *Handler) handleLearnerHistory(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context(), chi.URLParam(r, "learnerID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]historyEntry, 0, len(sessions))
	for _, st := range sessions {
		out = append(out, historyEntry{Session: st, Status: st.Status(), Score: report.Build(st, nil).OverallScore})
	}
	writeJSON(w, http.StatusOK, out)
}
