package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/brightpath/assessor/internal/i18n"
	"github.com/brightpath/assessor/internal/model"
)

// LearnerHeader carries the learner id asserted by the upstream auth provider.
const LearnerHeader = "X-Learner-ID"

// learnerMiddleware stores the caller's learner id in the request context.
func learnerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(LearnerHeader)); id != "" {
			r = r.WithContext(model.ContextWithLearnerID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin checks the bearer token against the configured bcrypt hash.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.config.AdminTokenHash) == 0 {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: appI18n.T(r.Context(), "ErrUnauthorized"), Code: "admin_disabled"})
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: appI18n.T(r.Context(), "ErrUnauthorized"), Code: "unauthorized"})
			return
		}
		if err := bcrypt.CompareHashAndPassword(h.config.AdminTokenHash, []byte(token)); err != nil {
			slog.Warn("admin token rejected", "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: appI18n.T(r.Context(), "ErrUnauthorized"), Code: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
