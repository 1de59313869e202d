package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brightpath/assessor/internal/model"
)

// ImportResult reports what ImportQuestions did with a file.
type ImportResult struct {
	Imported  int
	Unchanged bool // identical content was imported before
	Changed   bool // different content was imported under the same name; skipped
}

// ImportQuestions loads a JSON array of questions in one transaction. Files
// are tracked by name and content hash so re-running an import is a no-op.
func (s *Store) ImportQuestions(ctx context.Context, name string, data []byte) (ImportResult, error) {
	var res ImportResult

	hash := sha256sum(data)
	storedHash, err := s.GetImportedFileHash(ctx, name)
	if err != nil {
		return res, fmt.Errorf("check import status for %s: %w", name, err)
	}
	if storedHash == hash {
		res.Unchanged = true
		return res, nil
	}
	if storedHash != "" {
		res.Changed = true
		return res, nil
	}

	var questions []model.QuestionImport
	if err := json.Unmarshal(data, &questions); err != nil {
		return res, model.NewValidationError("invalid_json", "parse %s: %v", name, err)
	}
	for i, qi := range questions {
		if err := ValidateImport(qi); err != nil {
			return res, model.NewValidationError("invalid_question", "%s: question %d: %v", name, i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, &model.WriteError{Op: "import questions", Err: err}
	}
	defer tx.Rollback()

	for _, qi := range questions {
		_, err := s.insertQuestion(ctx, tx, model.Question{
			Text:          strings.TrimSpace(qi.Text),
			Options:       qi.Options,
			CorrectAnswer: qi.CorrectAnswer,
			Difficulty:    qi.Difficulty,
			Skill:         qi.Skill,
			Subject:       qi.Subject,
		})
		if err != nil {
			return ImportResult{}, fmt.Errorf("insert question from %s: %w", name, err)
		}
		res.Imported++
	}
	if err := setMetadata(ctx, tx, importHashPrefix+name, hash); err != nil {
		return ImportResult{}, fmt.Errorf("record import for %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return ImportResult{}, &model.WriteError{Op: "import questions", Err: err}
	}
	slog.Info("imported questions", "source", name, "count", res.Imported)
	return res, nil
}

// ValidateImport checks one imported question.
func ValidateImport(qi model.QuestionImport) error {
	switch {
	case strings.TrimSpace(qi.Text) == "":
		return fmt.Errorf("empty text")
	case len(qi.Options) != model.OptionCount:
		return fmt.Errorf("want %d options, got %d", model.OptionCount, len(qi.Options))
	case qi.CorrectAnswer < 0 || qi.CorrectAnswer >= len(qi.Options):
		return fmt.Errorf("correct_answer %d out of range", qi.CorrectAnswer)
	case !qi.Difficulty.Valid():
		return fmt.Errorf("unknown difficulty %q", qi.Difficulty)
	case !qi.Skill.Valid():
		return fmt.Errorf("unknown skill %q", qi.Skill)
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
