package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/brightpath/assessor/internal/chat"
	appI18n "github.com/brightpath/assessor/internal/i18n"
)

// Chat bodies may carry an image as a data URL.
const maxChatBody = 20 << 20

type chatResponse struct {
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := jsonBody(w, r, maxChatBody, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, chatResponse{Error: err.Error()})
		return
	}
	req.Language = appI18n.LanguageName(appI18n.Lang(r.Context()))

	ctx, cancel := context.WithTimeout(r.Context(), h.config.ChatTimeout)
	defer cancel()

	reply, err := h.bot.Reply(ctx, req)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, chat.ErrNotConfigured) {
			msg = appI18n.T(r.Context(), "ErrChatUnavailable")
		}
		slog.Error("chat failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, chatResponse{Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: reply})
}
