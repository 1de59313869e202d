package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brightpath/assessor/internal/handler/views"
	"github.com/brightpath/assessor/internal/model"
	"github.com/brightpath/assessor/internal/report"
)

func (h *Handler) buildReport(r *http.Request) (model.Report, error) {
	sessionID := chi.URLParam(r, "sessionID")
	view, err := h.assessments.Get(r.Context(), sessionID)
	if err != nil {
		return model.Report{}, err
	}
	responses, err := h.store.ListResponses(r.Context(), sessionID)
	if err != nil {
		return model.Report{}, err
	}
	return report.Build(view.State, responses), nil
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.buildReport(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) handleReportPage(w http.ResponseWriter, r *http.Request) {
	rep, err := h.buildReport(r)
	if err != nil {
		status, _, _ := classify(err)
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.ReportPage(rep).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}
