package handler

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	appI18n "github.com/brightpath/assessor/internal/i18n"
	"github.com/brightpath/assessor/internal/model"
)

const maxUpload = 10 << 20

type importResponse struct {
	Source    string `json:"source"`
	Imported  int    `json:"imported"`
	Unchanged bool   `json:"unchanged"`
	Changed   bool   `json:"changed"`
	Message   string `json:"message"`
}

// handleUploadQuestions imports a question bank file, sent either as the
// multipart field questions_file or as a raw JSON body named by ?name=.
func (h *Handler) handleUploadQuestions(w http.ResponseWriter, r *http.Request) {
	name, data, err := readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.store.ImportQuestions(r.Context(), name, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Changed {
		slog.Warn("question file changed since last import, skipped", "source", name)
	}
	slog.Info("uploaded questions via admin", "source", name, "count", res.Imported)

	writeJSON(w, http.StatusOK, importResponse{
		Source:    name,
		Imported:  res.Imported,
		Unchanged: res.Unchanged,
		Changed:   res.Changed,
		Message:   appI18n.Tp(r.Context(), "QuestionsImported", res.Imported),
	})
}

func readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			return "", nil, model.NewValidationError("bad_request", "parse upload: %v", err)
		}
		file, header, err := r.FormFile("questions_file")
		if err != nil {
			return "", nil, model.NewValidationError("bad_request", "no file uploaded")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return "", nil, model.NewValidationError("bad_request", "read upload: %v", err)
		}
		return header.Filename, data, nil
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		return "", nil, model.NewValidationError("bad_request", "name query parameter is required")
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpload))
	if err != nil {
		return "", nil, model.NewValidationError("bad_request", "read body: %v", err)
	}
	return name, data, nil
}

// handleListQuestions lists the bank with answer keys, optionally filtered
// by ?difficulty= and ?skill=.
func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	difficulty := model.Difficulty(r.URL.Query().Get("difficulty"))
	skill := model.Skill(r.URL.Query().Get("skill"))
	if difficulty != "" && !difficulty.Valid() {
		writeError(w, r, model.NewValidationError("bad_request", "unknown difficulty %q", difficulty))
		return
	}
	if skill != "" && !skill.Valid() {
		writeError(w, r, model.NewValidationError("bad_request", "unknown skill %q", skill))
		return
	}
	questions, err := h.store.ListQuestionsFiltered(r.Context(), difficulty, skill)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if questions == nil {
		questions = []model.Question{}
	}
	writeJSON(w, http.StatusOK, questions)
}
